package domain

import (
	"math"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geo"
	"github.com/paulmach/orb/geojson"
)

// ShrinkFactor scales the smaller half-extent of the viewport so the query
// box stays inside the visible area regardless of aspect ratio.
const ShrinkFactor = 0.8

// LngLat represents a geographic coordinate (WGS 84).
type LngLat struct {
	Lng float64 `json:"lng"`
	Lat float64 `json:"lat"`
}

// Bounds represents the visible corners of the map.
type Bounds struct {
	SW LngLat `json:"sw"`
	NE LngLat `json:"ne"`
}

// Viewport is a snapshot of the rendering surface camera.
type Viewport struct {
	Center LngLat  `json:"center"`
	Bounds Bounds  `json:"bounds"`
	Zoom   float64 `json:"zoom"`
}

// QueryBox is the axis-aligned region handed to a spatial range query.
type QueryBox struct {
	MinX float64 `json:"min_x"`
	MinY float64 `json:"min_y"`
	MaxX float64 `json:"max_x"`
	MaxY float64 `json:"max_y"`
}

// DeriveQueryBox computes the query region for a viewport snapshot using
// ShrinkFactor.
func DeriveQueryBox(v Viewport) QueryBox {
	return DeriveQueryBoxWithFactor(v, ShrinkFactor)
}

// DeriveQueryBoxWithFactor returns a square box centered on the viewport
// center whose half-size is factor times the smaller of the east-west and
// north-south distances from the center to the north-east corner.
// A degenerate viewport yields a zero-area box.
func DeriveQueryBoxWithFactor(v Viewport, factor float64) QueryBox {
	dx := v.Bounds.NE.Lng - v.Center.Lng
	dy := v.Bounds.NE.Lat - v.Center.Lat

	size := math.Min(dx, dy) * factor
	if size < 0 || math.IsNaN(size) {
		size = 0
	}

	return QueryBox{
		MinX: v.Center.Lng - size,
		MinY: v.Center.Lat - size,
		MaxX: v.Center.Lng + size,
		MaxY: v.Center.Lat + size,
	}
}

// IsEmpty reports whether the box has zero area. An empty box is a valid
// query that matches nothing.
func (b QueryBox) IsEmpty() bool {
	return b.MaxX <= b.MinX || b.MaxY <= b.MinY
}

// Bound converts the box to an orb.Bound.
func (b QueryBox) Bound() orb.Bound {
	return orb.Bound{
		Min: orb.Point{b.MinX, b.MinY},
		Max: orb.Point{b.MaxX, b.MaxY},
	}
}

// Intersects reports whether the box overlaps the given bound, edges included.
func (b QueryBox) Intersects(o orb.Bound) bool {
	return b.MinX <= o.Max[0] && o.Min[0] <= b.MaxX &&
		b.MinY <= o.Max[1] && o.Min[1] <= b.MaxY
}

// GroundSize returns the box's east-west extent along its middle latitude
// and its north-south extent, in meters.
func (b QueryBox) GroundSize() (width, height float64) {
	midLat := (b.MinY + b.MaxY) / 2
	width = geo.Distance(orb.Point{b.MinX, midLat}, orb.Point{b.MaxX, midLat})
	height = geo.Distance(orb.Point{b.MinX, b.MinY}, orb.Point{b.MinX, b.MaxY})
	return width, height
}

// Ring returns the closed outline SW, SE, NE, NW, SW.
func (b QueryBox) Ring() orb.Ring {
	return orb.Ring{
		{b.MinX, b.MinY},
		{b.MaxX, b.MinY},
		{b.MaxX, b.MaxY},
		{b.MinX, b.MaxY},
		{b.MinX, b.MinY},
	}
}

// Outline wraps the ring in a single-feature collection for the outline overlay.
func (b QueryBox) Outline() *geojson.FeatureCollection {
	fc := geojson.NewFeatureCollection()
	fc.Append(geojson.NewFeature(orb.Polygon{b.Ring()}))
	return fc
}

// ParseQueryBox builds a box from minX, minY, maxX, maxY, swapping inverted
// edges so the min <= max invariant holds.
func ParseQueryBox(minX, minY, maxX, maxY float64) QueryBox {
	if minX > maxX {
		minX, maxX = maxX, minX
	}
	if minY > maxY {
		minY, maxY = maxY, minY
	}
	return QueryBox{MinX: minX, MinY: minY, MaxX: maxX, MaxY: maxY}
}
