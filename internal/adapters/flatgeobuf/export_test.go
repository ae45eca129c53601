package flatgeobuf

import (
	"bytes"
	"context"
	"errors"
	"testing"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"

	"github.com/samirrijal/fgbview/internal/core/domain"
)

func TestExport_ReadBack(t *testing.T) {
	fc := geojson.NewFeatureCollection()
	for _, f := range gridFeatures(3) {
		feature := geojson.NewFeature(f.geom)
		feature.Properties["name"] = f.name
		fc.Append(feature)
	}
	fc.Append(geojson.NewFeature(orb.Point{1.5, 1.5}))
	fc.Append(geojson.NewFeature(nil))

	var buf bytes.Buffer
	if err := Export(&buf, fc, "export"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	r := fileReader(t, buf.Bytes())
	h, err := r.Header(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if h.Name != "export" || h.HasIndex() {
		t.Errorf("expected an unindexed file named export, got %+v", h)
	}
	if h.GeometryType != GeometryUnknown {
		t.Errorf("expected mixed geometry type, got %s", h.GeometryType)
	}

	it, err := r.Stream(context.Background(), domain.QueryBox{MinX: 1, MinY: 1, MaxX: 2, MaxY: 2})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	got := collect(t, it)
	if len(got) != 2 {
		t.Fatalf("expected the middle cell and the point, got %d features", len(got))
	}
	if _, ok := got[0].Geometry.(orb.Polygon); !ok {
		t.Errorf("expected polygon first, got %T", got[0].Geometry)
	}
	if p, ok := got[1].Geometry.(orb.Point); !ok || p != (orb.Point{1.5, 1.5}) {
		t.Errorf("expected point (1.5, 1.5), got %v", got[1].Geometry)
	}
	if len(got[0].Properties) != 0 {
		t.Errorf("expected no properties, got %v", got[0].Properties)
	}
}

func TestExport_Empty(t *testing.T) {
	fc := geojson.NewFeatureCollection()
	fc.Append(geojson.NewFeature(nil))
	if err := Export(&bytes.Buffer{}, fc, "empty"); !errors.Is(err, ErrNothingToExport) {
		t.Fatalf("expected ErrNothingToExport, got %v", err)
	}
}
