// Package mapview owns the map viewport and the drawables mounted on it.
package mapview

import (
	"math"

	"github.com/paulmach/orb"
)

const (
	TileSize = 256

	// FitPadding and FitMaxZoom bound the auto-fit to a dataset.
	FitPadding = 20
	FitMaxZoom = 15

	maxLat = 85.05112878
)

// DefaultCenter and DefaultZoom frame Astana before any data arrives.
var (
	DefaultCenter = orb.Point{71.4173, 51.0914}
	DefaultZoom   = 12.0
)

// Viewport is a Web Mercator view of a fixed pixel size.
type Viewport struct {
	Center        orb.Point
	Zoom          float64
	Width, Height int
}

// worldPixel projects p to global pixel coordinates at zoom.
func worldPixel(p orb.Point, zoom float64) (x, y float64) {
	scale := TileSize * math.Exp2(zoom)
	lat := math.Max(-maxLat, math.Min(maxLat, p.Lat()))
	sin := math.Sin(lat * math.Pi / 180)
	x = (p.Lon() + 180) / 360 * scale
	y = (0.5 - math.Log((1+sin)/(1-sin))/(4*math.Pi)) * scale
	return x, y
}

func unproject(x, y, zoom float64) orb.Point {
	scale := TileSize * math.Exp2(zoom)
	lng := x/scale*360 - 180
	n := math.Pi - 2*math.Pi*y/scale
	lat := 180 / math.Pi * math.Atan(math.Sinh(n))
	return orb.Point{lng, lat}
}

// Project returns the screen position of p.
func (v Viewport) Project(p orb.Point) (x, y float64) {
	cx, cy := worldPixel(v.Center, v.Zoom)
	px, py := worldPixel(p, v.Zoom)
	return px - cx + float64(v.Width)/2, py - cy + float64(v.Height)/2
}

// Unproject returns the coordinate under a screen position.
func (v Viewport) Unproject(x, y float64) orb.Point {
	cx, cy := worldPixel(v.Center, v.Zoom)
	return unproject(x+cx-float64(v.Width)/2, y+cy-float64(v.Height)/2, v.Zoom)
}

// MetersPerPixel at the viewport center.
func (v Viewport) MetersPerPixel() float64 {
	return 156543.03392 * math.Cos(v.Center.Lat()*math.Pi/180) / math.Exp2(v.Zoom)
}

// Fit returns a viewport showing b with padding pixels on each side. The zoom
// is snapped down to a whole level and capped at maxZoom.
func (v Viewport) Fit(b orb.Bound, padding int, maxZoom float64) Viewport {
	x0, y0 := worldPixel(orb.Point{b.Min.Lon(), b.Max.Lat()}, 0)
	x1, y1 := worldPixel(orb.Point{b.Max.Lon(), b.Min.Lat()}, 0)
	spanX, spanY := x1-x0, y1-y0
	availX := float64(v.Width - 2*padding)
	availY := float64(v.Height - 2*padding)

	zoom := maxZoom
	if spanX > 0 && availX > 0 {
		zoom = math.Min(zoom, math.Log2(availX/spanX))
	}
	if spanY > 0 && availY > 0 {
		zoom = math.Min(zoom, math.Log2(availY/spanY))
	}
	zoom = math.Max(0, math.Floor(zoom))

	out := v
	out.Zoom = zoom
	out.Center = unproject((x0+x1)/2, (y0+y1)/2, 0)
	return out
}

// Tile is a basemap tile placed on screen.
type Tile struct {
	Z, X, Y int
	// Screen position of the tile's top left corner.
	ScreenX, ScreenY float64
}

// Tiles lists the tiles covering the viewport at the nearest whole zoom.
func (v Viewport) Tiles(maxZoom int) []Tile {
	z := int(math.Round(v.Zoom))
	if z > maxZoom {
		z = maxZoom
	}
	if z < 0 {
		z = 0
	}
	// Tiles are drawn at their native size, so project at z rather than the
	// fractional zoom.
	view := v
	view.Zoom = float64(z)
	cx, cy := worldPixel(view.Center, view.Zoom)
	left := cx - float64(v.Width)/2
	top := cy - float64(v.Height)/2
	n := 1 << z

	var out []Tile
	for ty := int(math.Floor(top / TileSize)); float64(ty*TileSize) < top+float64(v.Height); ty++ {
		if ty < 0 || ty >= n {
			continue
		}
		for tx := int(math.Floor(left / TileSize)); float64(tx*TileSize) < left+float64(v.Width); tx++ {
			wx := ((tx % n) + n) % n
			out = append(out, Tile{
				Z: z, X: wx, Y: ty,
				ScreenX: float64(tx*TileSize) - left,
				ScreenY: float64(ty*TileSize) - top,
			})
		}
	}
	return out
}
