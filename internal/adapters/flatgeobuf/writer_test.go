package flatgeobuf

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"math"
	"testing"

	"github.com/flatgeobuf/flatgeobuf/src/go/flattypes"
	flatbuffers "github.com/google/flatbuffers/go"
	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"
	orbfgb "github.com/tingold/orb-flatgeobuf"
)

// Minimal FlatGeobuf writer used to build fixtures. It lays features out in
// the order given, which keeps expected hit order simple; referenceFGB covers
// the layout produced by an independent writer.

type testFeature struct {
	geom orb.Geometry
	name string
	id   int32
}

var testColumns = []Column{
	{Name: "name", Type: ColumnString},
	{Name: "id", Type: ColumnInt},
}

// gridFeatures returns n*n unit squares, shrunk so neighbours do not touch.
func gridFeatures(n int) []testFeature {
	out := make([]testFeature, 0, n*n)
	for y := 0; y < n; y++ {
		for x := 0; x < n; x++ {
			fx, fy := float64(x), float64(y)
			ring := orb.Ring{
				{fx + 0.1, fy + 0.1}, {fx + 0.9, fy + 0.1}, {fx + 0.9, fy + 0.9},
				{fx + 0.1, fy + 0.9}, {fx + 0.1, fy + 0.1},
			}
			out = append(out, testFeature{
				geom: orb.Polygon{ring},
				name: fmt.Sprintf("cell-%d-%d", x, y),
				id:   int32(y*n + x),
			})
		}
	}
	return out
}

func buildFGB(t testing.TB, gt GeometryType, features []testFeature, nodeSize uint16) []byte {
	t.Helper()

	encoded := make([][]byte, len(features))
	bounds := make([]orb.Bound, len(features))
	var env orb.Bound
	for i, f := range features {
		encoded[i] = encodeFeature(f)
		bounds[i] = f.geom.Bound()
		if i == 0 {
			env = bounds[i]
		} else {
			env = env.Union(bounds[i])
		}
	}

	var out bytes.Buffer
	out.Write(magic[:])
	out.Write(encodeHeader(gt, uint64(len(features)), nodeSize, env))
	if nodeSize > 0 && len(features) > 0 {
		sizes := make([]int, len(encoded))
		for i, e := range encoded {
			sizes[i] = len(e)
		}
		out.Write(encodeIndex(bounds, sizes, nodeSize))
	}
	for _, e := range encoded {
		out.Write(e)
	}
	return out.Bytes()
}

func encodeHeader(gt GeometryType, count uint64, nodeSize uint16, env orb.Bound) []byte {
	b := flatbuffers.NewBuilder(512)

	name := b.CreateString("hexes")
	cols := make([]flatbuffers.UOffsetT, len(testColumns))
	for i, c := range testColumns {
		n := b.CreateString(c.Name)
		flattypes.ColumnStart(b)
		flattypes.ColumnAddName(b, n)
		flattypes.ColumnAddType(b, c.Type)
		cols[i] = flattypes.ColumnEnd(b)
	}
	flattypes.HeaderStartColumnsVector(b, len(cols))
	for i := len(cols) - 1; i >= 0; i-- {
		b.PrependUOffsetT(cols[i])
	}
	colVec := b.EndVector(len(cols))

	envelope := []float64{env.Min[0], env.Min[1], env.Max[0], env.Max[1]}
	flattypes.HeaderStartEnvelopeVector(b, len(envelope))
	for i := len(envelope) - 1; i >= 0; i-- {
		b.PrependFloat64(envelope[i])
	}
	envVec := b.EndVector(len(envelope))

	flattypes.HeaderStart(b)
	flattypes.HeaderAddName(b, name)
	flattypes.HeaderAddEnvelope(b, envVec)
	flattypes.HeaderAddGeometryType(b, gt)
	flattypes.HeaderAddColumns(b, colVec)
	flattypes.HeaderAddFeaturesCount(b, count)
	flattypes.HeaderAddIndexNodeSize(b, nodeSize)
	b.FinishSizePrefixed(flattypes.HeaderEnd(b))
	return b.FinishedBytes()
}

func encodeFeature(f testFeature) []byte {
	b := flatbuffers.NewBuilder(256)
	geom := encodeGeometry(b, f.geom)

	var props []byte
	props = binary.LittleEndian.AppendUint16(props, 0)
	props = binary.LittleEndian.AppendUint32(props, uint32(len(f.name)))
	props = append(props, f.name...)
	props = binary.LittleEndian.AppendUint16(props, 1)
	props = binary.LittleEndian.AppendUint32(props, uint32(f.id))
	propVec := b.CreateByteVector(props)

	flattypes.FeatureStart(b)
	flattypes.FeatureAddGeometry(b, geom)
	flattypes.FeatureAddProperties(b, propVec)
	b.FinishSizePrefixed(flattypes.FeatureEnd(b))
	return b.FinishedBytes()
}

func encodeGeometry(b *flatbuffers.Builder, g orb.Geometry) flatbuffers.UOffsetT {
	var xy []float64
	var ends []uint32
	switch g := g.(type) {
	case orb.Point:
		xy = []float64{g[0], g[1]}
	case orb.Polygon:
		for _, r := range g {
			for _, p := range r {
				xy = append(xy, p[0], p[1])
			}
			ends = append(ends, uint32(len(xy)/2))
		}
	}

	var endsVec flatbuffers.UOffsetT
	if len(ends) > 1 {
		flattypes.GeometryStartEndsVector(b, len(ends))
		for i := len(ends) - 1; i >= 0; i-- {
			b.PrependUint32(ends[i])
		}
		endsVec = b.EndVector(len(ends))
	}
	flattypes.GeometryStartXyVector(b, len(xy))
	for i := len(xy) - 1; i >= 0; i-- {
		b.PrependFloat64(xy[i])
	}
	xyVec := b.EndVector(len(xy))

	flattypes.GeometryStart(b)
	if endsVec != 0 {
		flattypes.GeometryAddEnds(b, endsVec)
	}
	flattypes.GeometryAddXy(b, xyVec)
	return flattypes.GeometryEnd(b)
}

// encodeIndex packs the R-tree bottom-up in feature order.
func encodeIndex(bounds []orb.Bound, sizes []int, nodeSize uint16) []byte {
	levels := levelBounds(uint64(len(bounds)), nodeSize)
	nodes := make([]node, levels[0][1])

	var off uint64
	for i, b := range bounds {
		nodes[levels[0][0]+uint64(i)] = node{bound: b, offset: off}
		off += uint64(sizes[i])
	}

	ns := uint64(nodeSize)
	for l := 1; l < len(levels); l++ {
		child := levels[l-1]
		for j := levels[l][0]; j < levels[l][1]; j++ {
			first := child[0] + (j-levels[l][0])*ns
			last := min(first+ns, child[1])
			bnd := nodes[first].bound
			for k := first + 1; k < last; k++ {
				bnd = bnd.Union(nodes[k].bound)
			}
			nodes[j] = node{bound: bnd, offset: first}
		}
	}

	buf := make([]byte, 0, len(nodes)*nodeItemLen)
	for _, n := range nodes {
		for _, v := range []float64{n.bound.Min[0], n.bound.Min[1], n.bound.Max[0], n.bound.Max[1]} {
			buf = binary.LittleEndian.AppendUint64(buf, math.Float64bits(v))
		}
		buf = binary.LittleEndian.AppendUint64(buf, n.offset)
	}
	return buf
}

// referenceFGB encodes features with orb-flatgeobuf. Its indexed output is
// only consistent for a single feature, since it Hilbert-sorts the index
// entries but keeps features in input order, and it writes string values
// without a length prefix, so callers stick to numeric properties.
func referenceFGB(t testing.TB, features []*geojson.Feature, index bool) []byte {
	t.Helper()

	fc := geojson.NewFeatureCollection()
	for _, f := range features {
		fc.Append(f)
	}

	var buf bytes.Buffer
	opts := &orbfgb.Options{Name: "reference", IncludeIndex: index, CRS: orbfgb.WGS84()}
	if err := orbfgb.WriteFeatures(&buf, fc, opts); err != nil {
		t.Fatalf("write reference fixture: %v", err)
	}
	return buf.Bytes()
}
