// Package render turns typed analysis layers into drawable map primitives.
package render

import (
	"github.com/paulmach/orb"
)

// Style is the stroke and fill treatment of a shape.
type Style struct {
	Stroke        string    `yaml:"stroke" json:"stroke,omitempty"`
	StrokeWidth   float64   `yaml:"weight" json:"weight,omitempty"`
	StrokeOpacity float64   `yaml:"opacity" json:"opacity,omitempty"`
	Dash          []float64 `yaml:"dash" json:"dash,omitempty"`
	Fill          string    `yaml:"fill" json:"fill,omitempty"`
	FillOpacity   float64   `yaml:"fill_opacity" json:"fill_opacity,omitempty"`
}

// Drawable is one primitive on the map. Coordinates are orb points, which are
// [lng, lat].
type Drawable interface {
	Bound() orb.Bound
	drawable()
}

// WeightedPoint is a heat sample.
type WeightedPoint struct {
	orb.Point
	Weight float64
}

// HeatSurface is a density surface over weighted points.
type HeatSurface struct {
	Points []WeightedPoint
	Preset HeatPreset
}

func (h *HeatSurface) Bound() orb.Bound {
	mp := make(orb.MultiPoint, len(h.Points))
	for i, p := range h.Points {
		mp[i] = p.Point
	}
	return mp.Bound()
}

// Polygon is a filled closed ring.
type Polygon struct {
	Ring  orb.Ring
	Style Style
	Popup string
}

func (p *Polygon) Bound() orb.Bound { return p.Ring.Bound() }

// Circle has a radius in meters.
type Circle struct {
	Center       orb.Point
	RadiusMeters float64
	Style        Style
	Popup        string
}

func (c *Circle) Bound() orb.Bound { return c.Center.Bound() }

// Marker is an icon pinned to a point.
type Marker struct {
	At      orb.Point
	Icon    string
	Popup   string
	ZOffset int
}

func (m *Marker) Bound() orb.Bound { return m.At.Bound() }

// Polyline is an open path.
type Polyline struct {
	Line  orb.LineString
	Style Style
}

func (p *Polyline) Bound() orb.Bound { return p.Line.Bound() }

func (*HeatSurface) drawable() {}
func (*Polygon) drawable()     {}
func (*Circle) drawable()      {}
func (*Marker) drawable()      {}
func (*Polyline) drawable()    {}

// LatLng converts a latitude/longitude pair to an orb point.
func LatLng(lat, lng float64) orb.Point { return orb.Point{lng, lat} }
