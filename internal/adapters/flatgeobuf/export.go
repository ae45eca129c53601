package flatgeobuf

import (
	"errors"
	"fmt"
	"io"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"
	orbfgb "github.com/tingold/orb-flatgeobuf"
)

// ErrNothingToExport is returned by Export when no feature has a geometry.
var ErrNothingToExport = errors.New("flatgeobuf: no geometries to export")

// Export writes the geometries of fc to w as a FlatGeobuf file named name.
// The file has no index because the writer does not keep its index entries
// in feature order. Properties are left out because the writer stores
// strings without their length prefix.
func Export(w io.Writer, fc *geojson.FeatureCollection, name string) error {
	geoms := make([]orb.Geometry, 0, len(fc.Features))
	for _, f := range fc.Features {
		if f.Geometry != nil {
			geoms = append(geoms, f.Geometry)
		}
	}
	if len(geoms) == 0 {
		return ErrNothingToExport
	}

	opts := &orbfgb.Options{
		Name:         name,
		IncludeIndex: false,
		CRS:          orbfgb.WGS84(),
	}
	if err := orbfgb.Write(w, geoms, opts); err != nil {
		return fmt.Errorf("export %d geometries: %w", len(geoms), err)
	}
	return nil
}
