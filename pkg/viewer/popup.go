package viewer

import (
	"image/color"
	"math"

	"github.com/paulmach/orb/geo"
	"github.com/paulmach/orb/planar"

	"github.com/sudorandom/taxi-stream/pkg/mapview"
	"github.com/sudorandom/taxi-stream/pkg/render"
)

const (
	markerRadius = 7.0
	hitSlop      = 3.0
)

type markerStyle struct {
	fill   color.RGBA
	radius float64
	square bool
}

var markerStyles = map[string]markerStyle{
	render.IconTaxiFree:     {fill: render.MustColor("#22c55e"), radius: markerRadius, square: true},
	render.IconTaxiBusy:     {fill: render.MustColor("#ef4444"), radius: markerRadius, square: true},
	render.IconOrderPending: {fill: render.MustColor("#eab308"), radius: 5},
	render.IconOrderPickup:  {fill: render.MustColor("#3b82f6"), radius: 5},
	render.IconOrderDropoff: {fill: render.MustColor("#8b5cf6"), radius: 5},
	render.IconViolation:    {fill: render.MustColor("#dc2626"), radius: 6},
	"chart":                 {fill: render.MustColor("#f97316"), radius: 6},
	"pin":                   {fill: render.MustColor("#a855f7"), radius: 6},
	"mountain":              {fill: render.MustColor("#78716c"), radius: 6},
}

func styleFor(icon string) markerStyle {
	if s, ok := markerStyles[icon]; ok {
		return s
	}
	return markerStyle{fill: render.MustColor("#6b7280"), radius: 6}
}

// hitTest returns the popup of the topmost item under the screen position.
// Items without a popup are transparent to the pointer.
func hitTest(f mapview.Frame, x, y float64) string {
	at := f.View.Unproject(x, y)
	for i := len(f.Items) - 1; i >= 0; i-- {
		switch d := f.Items[i].Drawable.(type) {
		case *render.Marker:
			mx, my := f.View.Project(d.At)
			if d.Popup != "" && math.Hypot(mx-x, my-y) <= styleFor(d.Icon).radius+hitSlop {
				return d.Popup
			}
		case *render.Circle:
			if d.Popup != "" && geo.Distance(d.Center, at) <= d.RadiusMeters {
				return d.Popup
			}
		case *render.Polygon:
			if d.Popup != "" && planar.RingContains(d.Ring, at) {
				return d.Popup
			}
		}
	}
	return ""
}
