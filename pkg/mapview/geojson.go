package mapview

import (
	geojson "github.com/paulmach/go.geojson"
	"github.com/paulmach/orb"

	"github.com/sudorandom/taxi-stream/pkg/render"
)

// ExportGeoJSON converts a frame into a feature collection. Heat surfaces
// become one point feature per sample carrying its weight.
func ExportGeoJSON(f Frame) *geojson.FeatureCollection {
	fc := geojson.NewFeatureCollection()
	for _, item := range f.Items {
		for _, feat := range features(item.Drawable) {
			feat.SetProperty("group", item.Group)
			fc.AddFeature(feat)
		}
	}
	return fc
}

func coord(p orb.Point) []float64 { return []float64{p.Lon(), p.Lat()} }

func features(d render.Drawable) []*geojson.Feature {
	switch d := d.(type) {
	case *render.HeatSurface:
		out := make([]*geojson.Feature, 0, len(d.Points))
		for _, p := range d.Points {
			f := geojson.NewPointFeature(coord(p.Point))
			f.SetProperty("kind", "heat")
			f.SetProperty("weight", p.Weight)
			out = append(out, f)
		}
		return out
	case *render.Polygon:
		ring := make([][]float64, len(d.Ring))
		for i, p := range d.Ring {
			ring[i] = coord(p)
		}
		f := geojson.NewPolygonFeature([][][]float64{ring})
		f.SetProperty("kind", "polygon")
		setStyle(f, d.Style)
		setPopup(f, d.Popup)
		return []*geojson.Feature{f}
	case *render.Circle:
		f := geojson.NewPointFeature(coord(d.Center))
		f.SetProperty("kind", "circle")
		f.SetProperty("radius_m", d.RadiusMeters)
		setStyle(f, d.Style)
		setPopup(f, d.Popup)
		return []*geojson.Feature{f}
	case *render.Marker:
		f := geojson.NewPointFeature(coord(d.At))
		f.SetProperty("kind", "marker")
		f.SetProperty("icon", d.Icon)
		setPopup(f, d.Popup)
		return []*geojson.Feature{f}
	case *render.Polyline:
		line := make([][]float64, len(d.Line))
		for i, p := range d.Line {
			line[i] = coord(p)
		}
		f := geojson.NewLineStringFeature(line)
		f.SetProperty("kind", "polyline")
		setStyle(f, d.Style)
		return []*geojson.Feature{f}
	}
	return nil
}

func setStyle(f *geojson.Feature, s render.Style) {
	if s.Stroke != "" {
		f.SetProperty("stroke", s.Stroke)
	}
	if s.StrokeWidth > 0 {
		f.SetProperty("stroke-width", s.StrokeWidth)
	}
	if s.StrokeOpacity > 0 {
		f.SetProperty("stroke-opacity", s.StrokeOpacity)
	}
	if len(s.Dash) > 0 {
		f.SetProperty("dash", s.Dash)
	}
	if s.Fill != "" {
		f.SetProperty("fill", s.Fill)
		f.SetProperty("fill-opacity", s.FillOpacity)
	}
}

func setPopup(f *geojson.Feature, popup string) {
	if popup != "" {
		f.SetProperty("popup", popup)
	}
}
