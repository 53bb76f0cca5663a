package viewer

import (
	"image"
	"image/color"
	"math"
	"sort"

	"github.com/paulmach/orb"

	"github.com/sudorandom/taxi-stream/pkg/mapview"
	"github.com/sudorandom/taxi-stream/pkg/render"
)

type point struct{ x, y float64 }

func projectRing(v mapview.Viewport, ring orb.Ring) []point {
	out := make([]point, len(ring))
	for i, p := range ring {
		x, y := v.Project(p)
		out[i] = point{x, y}
	}
	return out
}

// blend composites c at alpha a over the premultiplied pixel at off.
func blend(img *image.RGBA, off int, c color.RGBA, a float64) {
	inv := 1 - a
	img.Pix[off] = uint8(float64(c.R)*a + float64(img.Pix[off])*inv)
	img.Pix[off+1] = uint8(float64(c.G)*a + float64(img.Pix[off+1])*inv)
	img.Pix[off+2] = uint8(float64(c.B)*a + float64(img.Pix[off+2])*inv)
	img.Pix[off+3] = uint8(255*a + float64(img.Pix[off+3])*inv)
}

// fillPolygon scanline fills ring, blending c at alpha a.
func fillPolygon(img *image.RGBA, ring []point, c color.RGBA, a float64) {
	if len(ring) < 3 || a <= 0 {
		return
	}
	b := img.Bounds()
	minY, maxY := math.Inf(1), math.Inf(-1)
	for _, p := range ring {
		minY = math.Min(minY, p.y)
		maxY = math.Max(maxY, p.y)
	}
	for y := int(minY); y <= int(maxY); y++ {
		if y < b.Min.Y || y >= b.Max.Y {
			continue
		}
		var nodes []int
		fy := float64(y)
		for i := range ring {
			j := (i + 1) % len(ring)
			if (ring[i].y < fy && ring[j].y >= fy) || (ring[j].y < fy && ring[i].y >= fy) {
				nodeX := ring[i].x + (fy-ring[i].y)/(ring[j].y-ring[i].y)*(ring[j].x-ring[i].x)
				nodes = append(nodes, int(nodeX))
			}
		}
		sort.Ints(nodes)
		for i := 0; i < len(nodes)-1; i += 2 {
			xs, xe := nodes[i], nodes[i+1]
			if xs < b.Min.X {
				xs = b.Min.X
			}
			if xe > b.Max.X {
				xe = b.Max.X
			}
			for x := xs; x < xe; x++ {
				blend(img, img.PixOffset(x, y), c, a)
			}
		}
	}
}

// dasher walks a dash pattern in pixels. An empty pattern is solid.
type dasher struct {
	pattern []float64
	idx     int
	left    float64
}

func newDasher(pattern []float64) *dasher {
	d := &dasher{}
	for _, p := range pattern {
		if p > 0 {
			d.pattern = append(d.pattern, p)
		}
	}
	if len(d.pattern) > 0 {
		d.left = d.pattern[0]
	}
	return d
}

// on reports whether the pen is down, then advances by step pixels.
func (d *dasher) on(step float64) bool {
	if len(d.pattern) == 0 {
		return true
	}
	down := d.idx%2 == 0
	d.left -= step
	for d.left <= 0 {
		d.idx = (d.idx + 1) % len(d.pattern)
		d.left += d.pattern[d.idx]
	}
	return down
}

// strokeRing draws the closed outline of ring width pixels wide.
func strokeRing(img *image.RGBA, ring []point, c color.RGBA, a, width float64, dash []float64) {
	if len(ring) < 2 || a <= 0 {
		return
	}
	w := int(math.Max(1, math.Round(width)))
	d := newDasher(dash)
	for i := range ring {
		j := (i + 1) % len(ring)
		drawLine(img, int(ring[i].x), int(ring[i].y), int(ring[j].x), int(ring[j].y), w, d, c, a)
	}
}

// drawLine is Bresenham with a square pen of w pixels.
func drawLine(img *image.RGBA, x1, y1, x2, y2, w int, d *dasher, c color.RGBA, a float64) {
	b := img.Bounds()
	dx, dy := math.Abs(float64(x2-x1)), math.Abs(float64(y2-y1))
	sx, sy := -1, -1
	if x1 < x2 {
		sx = 1
	}
	if y1 < y2 {
		sy = 1
	}
	err := dx - dy
	half := w / 2
	for {
		if d.on(1) {
			for py := y1 - half; py < y1-half+w; py++ {
				for px := x1 - half; px < x1-half+w; px++ {
					if px >= b.Min.X && px < b.Max.X && py >= b.Min.Y && py < b.Max.Y {
						blend(img, img.PixOffset(px, py), c, a)
					}
				}
			}
		}
		if x1 == x2 && y1 == y2 {
			break
		}
		e2 := 2 * err
		if e2 > -dy {
			err -= dy
			x1 += sx
		}
		if e2 < dx {
			err += dx
			y1 += sy
		}
	}
}

// rasterize paints a run of polygons into img, which is cleared first.
func rasterize(img *image.RGBA, v mapview.Viewport, polys []*render.Polygon) {
	clear(img.Pix)
	for _, p := range polys {
		ring := projectRing(v, p.Ring)
		if fill, err := render.ParseColor(p.Style.Fill); err == nil {
			fillPolygon(img, ring, fill, p.Style.FillOpacity*float64(fill.A)/255)
		}
		if stroke, err := render.ParseColor(p.Style.Stroke); err == nil && p.Style.StrokeWidth > 0 {
			strokeRing(img, ring, stroke, p.Style.StrokeOpacity*float64(stroke.A)/255, p.Style.StrokeWidth, p.Style.Dash)
		}
	}
}

type gradStop struct {
	stop float64
	c    color.NRGBA
}

func parseGradient(stops []render.GradientStop) []gradStop {
	out := make([]gradStop, 0, len(stops))
	for _, s := range stops {
		c, err := render.ParseColor(s.Color)
		if err != nil {
			continue
		}
		out = append(out, gradStop{stop: s.Stop, c: color.NRGBA{c.R, c.G, c.B, c.A}})
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].stop < out[j].stop })
	return out
}

// gradientAt interpolates the gradient at t in [0, 1].
func gradientAt(g []gradStop, t float64) color.NRGBA {
	if len(g) == 0 {
		return color.NRGBA{255, 0, 0, 255}
	}
	if t <= g[0].stop {
		return g[0].c
	}
	for i := 1; i < len(g); i++ {
		if t <= g[i].stop {
			a, b := g[i-1], g[i]
			f := (t - a.stop) / (b.stop - a.stop)
			lerp := func(x, y uint8) uint8 { return uint8(math.Round(float64(x) + (float64(y)-float64(x))*f)) }
			return color.NRGBA{lerp(a.c.R, b.c.R), lerp(a.c.G, b.c.G), lerp(a.c.B, b.c.B), lerp(a.c.A, b.c.A)}
		}
	}
	return g[len(g)-1].c
}

// heatValue normalises a weight against the preset max, clamped to [0, 1].
func heatValue(w float64, p render.HeatPreset) float64 {
	limit := p.Max
	if limit <= 0 {
		limit = 1
	}
	v := w / limit
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

// dashSegments splits a screen segment into pen-down pieces.
func dashSegments(a, b point, d *dasher) [][2]point {
	length := math.Hypot(b.x-a.x, b.y-a.y)
	if length == 0 {
		return nil
	}
	if len(d.pattern) == 0 {
		return [][2]point{{a, b}}
	}
	at := func(t float64) point {
		return point{a.x + (b.x-a.x)*t/length, a.y + (b.y-a.y)*t/length}
	}
	var out [][2]point
	pos := 0.0
	for pos < length {
		step := math.Min(d.left, length-pos)
		if d.idx%2 == 0 {
			out = append(out, [2]point{at(pos), at(pos + step)})
		}
		pos += step
		d.left -= step
		if d.left <= 0 {
			d.idx = (d.idx + 1) % len(d.pattern)
			d.left = d.pattern[d.idx]
		}
	}
	return out
}
