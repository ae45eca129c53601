package flatgeobuf

import (
	"fmt"

	"github.com/flatgeobuf/flatgeobuf/src/go/flattypes"
	"github.com/paulmach/orb"
)

// decodeGeometry converts a Geometry table to an orb geometry. gt is the
// header geometry type; Unknown defers to the type stored per geometry.
// Z and M ordinates are dropped.
func decodeGeometry(g *flattypes.Geometry, gt GeometryType) (orb.Geometry, error) {
	if gt == GeometryUnknown {
		gt = g.Type()
	}

	switch gt {
	case GeometryPoint:
		pts := points(g)
		if len(pts) == 0 {
			return nil, nil
		}
		return pts[0], nil

	case GeometryMultiPoint:
		return orb.MultiPoint(points(g)), nil

	case GeometryLineString:
		return orb.LineString(points(g)), nil

	case GeometryMultiLineString:
		parts := split(points(g), ends(g))
		mls := make(orb.MultiLineString, len(parts))
		for i, p := range parts {
			mls[i] = orb.LineString(p)
		}
		return mls, nil

	case GeometryPolygon:
		return polygon(g), nil

	case GeometryMultiPolygon:
		n := g.PartsLength()
		if n == 0 {
			// Writers may flatten a single-part multipolygon.
			return orb.MultiPolygon{polygon(g)}, nil
		}
		mp := make(orb.MultiPolygon, 0, n)
		var part flattypes.Geometry
		for i := 0; i < n; i++ {
			if g.Parts(&part, i) {
				mp = append(mp, polygon(&part))
			}
		}
		return mp, nil

	case GeometryCollection:
		n := g.PartsLength()
		col := make(orb.Collection, 0, n)
		for i := 0; i < n; i++ {
			var part flattypes.Geometry
			if !g.Parts(&part, i) {
				continue
			}
			child, err := decodeGeometry(&part, GeometryUnknown)
			if err != nil {
				return nil, err
			}
			if child != nil {
				col = append(col, child)
			}
		}
		return col, nil

	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedGeometry, gt)
	}
}

func polygon(g *flattypes.Geometry) orb.Polygon {
	rings := split(points(g), ends(g))
	poly := make(orb.Polygon, len(rings))
	for i, r := range rings {
		poly[i] = orb.Ring(r)
	}
	return poly
}

func points(g *flattypes.Geometry) []orb.Point {
	pts := make([]orb.Point, g.XyLength()/2)
	for i := range pts {
		pts[i] = orb.Point{g.Xy(2 * i), g.Xy(2*i + 1)}
	}
	return pts
}

func ends(g *flattypes.Geometry) []uint32 {
	n := g.EndsLength()
	if n == 0 {
		return nil
	}
	out := make([]uint32, n)
	for i := range out {
		out[i] = g.Ends(i)
	}
	return out
}

// split cuts pts at the given end indices (counted in points). Without ends
// the whole sequence is one part.
func split(pts []orb.Point, ends []uint32) [][]orb.Point {
	if len(ends) == 0 {
		if len(pts) == 0 {
			return nil
		}
		return [][]orb.Point{pts}
	}

	parts := make([][]orb.Point, 0, len(ends))
	start := 0
	for _, e := range ends {
		end := int(e)
		if end > len(pts) {
			end = len(pts)
		}
		if end < start {
			continue
		}
		parts = append(parts, pts[start:end])
		start = end
	}
	return parts
}
