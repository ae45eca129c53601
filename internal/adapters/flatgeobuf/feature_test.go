package flatgeobuf

import (
	"bytes"
	"encoding/binary"
	"encoding/json"
	"errors"
	"log/slog"
	"math"
	"testing"

	"github.com/flatgeobuf/flatgeobuf/src/go/flattypes"
	flatbuffers "github.com/google/flatbuffers/go"
	"github.com/paulmach/orb"
)

func TestLevelBounds(t *testing.T) {
	tests := []struct {
		items    uint64
		nodeSize uint16
		want     [][2]uint64
	}{
		{0, 16, nil},
		{1, 16, [][2]uint64{{1, 2}, {0, 1}}},
		{2, 2, [][2]uint64{{1, 3}, {0, 1}}},
		{3, 16, [][2]uint64{{1, 4}, {0, 1}}},
		{100, 16, [][2]uint64{{8, 108}, {1, 8}, {0, 1}}},
		{10, 2, [][2]uint64{{11, 21}, {6, 11}, {3, 6}, {1, 3}, {0, 1}}},
	}
	for _, tt := range tests {
		got := levelBounds(tt.items, tt.nodeSize)
		if len(got) != len(tt.want) {
			t.Errorf("levelBounds(%d, %d): expected %v, got %v", tt.items, tt.nodeSize, tt.want, got)
			continue
		}
		for i := range got {
			if got[i] != tt.want[i] {
				t.Errorf("levelBounds(%d, %d): expected %v, got %v", tt.items, tt.nodeSize, tt.want, got)
				break
			}
		}
	}
}

func TestGroupNodes(t *testing.T) {
	got := groupNodes([]uint64{40, 8, 24}, 16, 100, 0)
	if len(got) != 1 || got[0] != (nodeRange{8, 56}) {
		t.Errorf("expected adjacent groups to merge, got %v", got)
	}

	got = groupNodes([]uint64{8, 90}, 16, 100, 0)
	if len(got) != 2 || got[1] != (nodeRange{90, 100}) {
		t.Errorf("expected clipped second range, got %v", got)
	}

	got = groupNodes([]uint64{8, 60}, 16, 100, 40)
	if len(got) != 1 || got[0] != (nodeRange{8, 76}) {
		t.Errorf("expected gap merge, got %v", got)
	}
}

func TestDecodeProperties(t *testing.T) {
	columns := []Column{
		{Name: "b", Type: ColumnBool},
		{Name: "s", Type: ColumnShort},
		{Name: "l", Type: ColumnLong},
		{Name: "d", Type: ColumnDouble},
		{Name: "str", Type: ColumnString},
		{Name: "json", Type: ColumnJSON},
		{Name: "bin", Type: ColumnBinary},
	}

	var b []byte
	b = binary.LittleEndian.AppendUint16(b, 0)
	b = append(b, 1)
	b = binary.LittleEndian.AppendUint16(b, 1)
	b = binary.LittleEndian.AppendUint16(b, uint16(0xfffe))
	b = binary.LittleEndian.AppendUint16(b, 2)
	b = binary.LittleEndian.AppendUint64(b, 1<<40)
	b = binary.LittleEndian.AppendUint16(b, 3)
	b = binary.LittleEndian.AppendUint64(b, math.Float64bits(2.5))
	b = binary.LittleEndian.AppendUint16(b, 4)
	b = binary.LittleEndian.AppendUint32(b, 5)
	b = append(b, "hello"...)
	b = binary.LittleEndian.AppendUint16(b, 5)
	b = binary.LittleEndian.AppendUint32(b, 7)
	b = append(b, `{"a":1}`...)
	b = binary.LittleEndian.AppendUint16(b, 6)
	b = binary.LittleEndian.AppendUint32(b, 2)
	b = append(b, 0xde, 0xad)

	props, err := decodeProperties(b, columns)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if props["b"] != true {
		t.Errorf("b: got %v", props["b"])
	}
	if props["s"] != int16(-2) {
		t.Errorf("s: got %v", props["s"])
	}
	if props["l"] != int64(1<<40) {
		t.Errorf("l: got %v", props["l"])
	}
	if props["d"] != 2.5 {
		t.Errorf("d: got %v", props["d"])
	}
	if props["str"] != "hello" {
		t.Errorf("str: got %v", props["str"])
	}
	if m, ok := props["json"].(map[string]interface{}); !ok || m["a"] != 1.0 {
		t.Errorf("json: got %v", props["json"])
	}
	if bin, ok := props["bin"].([]byte); !ok || len(bin) != 2 || bin[0] != 0xde {
		t.Errorf("bin: got %v", props["bin"])
	}
}

func TestDecodeProperties_Errors(t *testing.T) {
	columns := []Column{{Name: "i", Type: ColumnInt}}

	truncated := binary.LittleEndian.AppendUint16(nil, 0)
	truncated = append(truncated, 1, 2)
	if _, err := decodeProperties(truncated, columns); !errors.Is(err, ErrInvalidData) {
		t.Errorf("truncated: expected ErrInvalidData, got %v", err)
	}

	badIndex := binary.LittleEndian.AppendUint16(nil, 3)
	if _, err := decodeProperties(badIndex, columns); !errors.Is(err, ErrInvalidData) {
		t.Errorf("bad index: expected ErrInvalidData, got %v", err)
	}
}

func TestDecodeFeature_Corrupt(t *testing.T) {
	h := &Header{GeometryType: GeometryPolygon, Columns: testColumns}
	buf := []byte{0xff, 0xff, 0xff, 0x00, 0x01, 0x02, 0x03, 0x04}
	if _, err := decodeFeature(buf, h); !errors.Is(err, ErrInvalidData) {
		t.Fatalf("expected ErrInvalidData, got %v", err)
	}
}

func TestDecodeGeometry_PolygonWithHole(t *testing.T) {
	poly := orb.Polygon{
		{{0, 0}, {10, 0}, {10, 10}, {0, 10}, {0, 0}},
		{{2, 2}, {4, 2}, {4, 4}, {2, 4}, {2, 2}},
	}
	b := flatbuffers.NewBuilder(256)
	b.Finish(encodeGeometry(b, poly))

	g := flattypes.GetRootAsGeometry(b.FinishedBytes(), 0)
	geom, err := decodeGeometry(g, GeometryPolygon)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	got, ok := geom.(orb.Polygon)
	if !ok {
		t.Fatalf("expected polygon, got %T", geom)
	}
	if len(got) != 2 || len(got[0]) != 5 || len(got[1]) != 5 {
		t.Fatalf("unexpected rings: %v", got)
	}
	if got[1][1] != (orb.Point{4, 2}) {
		t.Errorf("expected hole vertex (4, 2), got %v", got[1][1])
	}
}

func TestDecodeGeometry_Unsupported(t *testing.T) {
	b := flatbuffers.NewBuilder(64)
	b.Finish(encodeGeometry(b, orb.Point{1, 2}))
	g := flattypes.GetRootAsGeometry(b.FinishedBytes(), 0)
	if _, err := decodeGeometry(g, GeometryType(42)); !errors.Is(err, ErrUnsupportedGeometry) {
		t.Fatalf("expected ErrUnsupportedGeometry, got %v", err)
	}
}

func TestCheckMagic(t *testing.T) {
	ok := append([]byte(nil), magic[:]...)
	ok[7] = 1
	if err := checkMagic(ok); err != nil {
		t.Errorf("patch version should be accepted: %v", err)
	}

	v2 := append([]byte(nil), magic[:]...)
	v2[3] = 2
	if err := checkMagic(v2); !errors.Is(err, ErrBadMagic) {
		t.Errorf("expected ErrBadMagic for v2, got %v", err)
	}

	if err := checkMagic([]byte("fgb")); !errors.Is(err, ErrBadMagic) {
		t.Errorf("expected ErrBadMagic for short buffer, got %v", err)
	}
}

func TestHeader_IndexSize(t *testing.T) {
	tests := []struct {
		count    uint64
		nodeSize uint16
		want     int64
	}{
		{0, 16, 0},
		{1, 0, 0},
		{1, 16, 2 * nodeItemLen},
		{16, 16, 17 * nodeItemLen},
		{17, 16, 20 * nodeItemLen},
	}
	for _, tt := range tests {
		h := &Header{FeaturesCount: tt.count, IndexNodeSize: tt.nodeSize}
		if got := h.IndexSize(); got != tt.want {
			t.Errorf("IndexSize(%d, %d): expected %d, got %d", tt.count, tt.nodeSize, tt.want, got)
		}
	}
}

func TestHeader_LogValue(t *testing.T) {
	tests := []struct {
		h       *Header
		indexed bool
	}{
		{&Header{Name: "hex", GeometryType: GeometryPolygon, FeaturesCount: 4, IndexNodeSize: 16}, true},
		{&Header{Name: "hex", GeometryType: GeometryPolygon, FeaturesCount: 4}, false},
	}
	for _, tt := range tests {
		var buf bytes.Buffer
		slog.New(slog.NewJSONHandler(&buf, nil)).Info("dataset opened", "header", tt.h)

		var line struct {
			Header struct {
				Name     string `json:"name"`
				Geometry string `json:"geometry"`
				Features uint64 `json:"features"`
				Indexed  bool   `json:"indexed"`
			} `json:"header"`
		}
		if err := json.Unmarshal(buf.Bytes(), &line); err != nil {
			t.Fatalf("unmarshal %s: %v", buf.Bytes(), err)
		}
		got := line.Header
		if got.Name != "hex" || got.Geometry != "Polygon" || got.Features != 4 || got.Indexed != tt.indexed {
			t.Errorf("unexpected header attrs %s", buf.Bytes())
		}
	}
}
