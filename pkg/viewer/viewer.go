// Package viewer is the ebiten front end. It paints surface snapshots over
// basemap tiles and maps keys to the layer controls.
package viewer

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"image/color"
	"log"
	"math"
	"net/http"
	"strings"
	"sync/atomic"

	"github.com/hajimehoshi/ebiten/v2"
	"github.com/hajimehoshi/ebiten/v2/inpututil"
	"github.com/hajimehoshi/ebiten/v2/text/v2"
	"github.com/hajimehoshi/ebiten/v2/vector"
	"golang.org/x/image/font/gofont/gomono"
	"golang.org/x/image/font/gofont/goregular"

	"github.com/sudorandom/taxi-stream/pkg/analysis"
	"github.com/sudorandom/taxi-stream/pkg/layers"
	"github.com/sudorandom/taxi-stream/pkg/mapview"
	"github.com/sudorandom/taxi-stream/pkg/render"
	"github.com/sudorandom/taxi-stream/pkg/simulation"
)

var Logf = log.Printf

var (
	colorBackground = color.RGBA{16, 18, 24, 255}
	colorPanel      = color.RGBA{0, 0, 0, 160}
	colorPanelEdge  = color.RGBA{36, 42, 53, 255}
	colorConnected  = render.MustColor("#22c55e")
	colorOffline    = render.MustColor("#ef4444")
)

const panStep = 80.0

type Options struct {
	Width, Height int
	TileCacheDir  string
	HTTPClient    *http.Client
}

// polyPass caches one contiguous run of polygons rasterized on the CPU.
type polyPass struct {
	view  mapview.Viewport
	polys []*render.Polygon
	rgba  *image.RGBA
	img   *ebiten.Image
}

type Game struct {
	Width, Height int

	ctx     context.Context
	surface *mapview.Surface
	loader  *mapview.Loader
	layers  *layers.Controller
	sim     *simulation.View

	tiles      *tileCache
	heatImage  *ebiten.Image
	passes     []*polyPass
	fontSource *text.GoTextFaceSource
	monoSource *text.GoTextFaceSource
	reloading  atomic.Bool
	showDemand bool
}

// NewGame wires the viewer to its surface. sim may be nil when the dispatch
// view is disabled.
func NewGame(ctx context.Context, loader *mapview.Loader, sim *simulation.View, opts Options) *Game {
	s, _ := text.NewGoTextFaceSource(bytes.NewReader(goregular.TTF))
	m, _ := text.NewGoTextFaceSource(bytes.NewReader(gomono.TTF))
	g := &Game{
		Width:      opts.Width,
		Height:     opts.Height,
		ctx:        ctx,
		surface:    loader.Surface,
		loader:     loader,
		layers:     loader.Layers,
		sim:        sim,
		tiles:      newTileCache(opts.HTTPClient, opts.TileCacheDir),
		fontSource: s,
		monoSource: m,
		showDemand: true,
	}
	g.initHeatTexture()
	return g
}

// initHeatTexture builds the soft radial blob every heat sample is stamped
// with.
func (g *Game) initHeatTexture() {
	size := 64
	g.heatImage = ebiten.NewImage(size, size)
	pixels := make([]byte, size*size*4)
	center := float64(size) / 2
	for y := 0; y < size; y++ {
		for x := 0; x < size; x++ {
			dist := math.Hypot(float64(x)-center, float64(y)-center) / center
			if dist >= 1 {
				continue
			}
			val := (1 - dist) * (1 - dist)
			off := (y*size + x) * 4
			a := uint8(val * 255)
			pixels[off], pixels[off+1], pixels[off+2], pixels[off+3] = a, a, a, a
		}
	}
	g.heatImage.WritePixels(pixels)
}

func (g *Game) Layout(w, h int) (int, int) { return g.Width, g.Height }

func (g *Game) Update() error {
	for i, id := range analysis.AllLayers {
		if inpututil.IsKeyJustPressed(ebiten.KeyDigit1 + ebiten.Key(i)) {
			g.layers.Toggle(id)
		}
	}
	switch {
	case inpututil.IsKeyJustPressed(ebiten.KeyA):
		g.layers.EnableAll()
	case inpututil.IsKeyJustPressed(ebiten.KeyC):
		g.layers.ClearAll()
	case inpututil.IsKeyJustPressed(ebiten.KeyZ):
		g.layers.SetActive(g.layers.Recommended(g.surface.Viewport().Zoom))
	case inpututil.IsKeyJustPressed(ebiten.KeyR):
		g.reload()
	case inpututil.IsKeyJustPressed(ebiten.KeyD) && g.sim != nil:
		g.showDemand = !g.showDemand
		g.sim.SetShowDemand(g.showDemand)
	}

	view := g.surface.Viewport()
	dx, dy, dz := 0.0, 0.0, 0.0
	if ebiten.IsKeyPressed(ebiten.KeyArrowLeft) {
		dx -= panStep / 8
	}
	if ebiten.IsKeyPressed(ebiten.KeyArrowRight) {
		dx += panStep / 8
	}
	if ebiten.IsKeyPressed(ebiten.KeyArrowUp) {
		dy -= panStep / 8
	}
	if ebiten.IsKeyPressed(ebiten.KeyArrowDown) {
		dy += panStep / 8
	}
	if inpututil.IsKeyJustPressed(ebiten.KeyEqual) || inpututil.IsKeyJustPressed(ebiten.KeyKPAdd) {
		dz++
	}
	if inpututil.IsKeyJustPressed(ebiten.KeyMinus) || inpututil.IsKeyJustPressed(ebiten.KeyKPSubtract) {
		dz--
	}
	if _, wy := ebiten.Wheel(); wy != 0 {
		dz += math.Copysign(1, wy)
	}
	if dx != 0 || dy != 0 || dz != 0 {
		center := view.Unproject(float64(view.Width)/2+dx, float64(view.Height)/2+dy)
		maxZoom := float64(mapview.OpenStreetMap.MaxZoom())
		if b := g.surface.Basemap(); b != nil {
			maxZoom = float64(b.MaxZoom())
		}
		zoom := math.Max(1, math.Min(maxZoom, view.Zoom+dz))
		g.surface.SetView(center, zoom)
	}
	return nil
}

// reload re-runs the analysis load without blocking the frame loop.
func (g *Game) reload() {
	if !g.reloading.CompareAndSwap(false, true) {
		return
	}
	go func() {
		defer g.reloading.Store(false)
		if err := g.loader.Retry(g.ctx); err != nil {
			Logf("[viewer] Reload failed: %v", err)
		}
	}()
}

func (g *Game) Draw(screen *ebiten.Image) {
	screen.Fill(colorBackground)
	f := g.surface.Snapshot()
	g.drawTiles(screen, f)

	switch f.Status {
	case mapview.StatusLoading:
		g.drawNotice(screen, "Loading analysis data...", "")
	case mapview.StatusError:
		g.drawNotice(screen, "Failed to load analysis data: "+f.Err, "Press R to retry")
	default:
		g.drawItems(screen, f)
		cx, cy := ebiten.CursorPosition()
		if popup := hitTest(f, float64(cx), float64(cy)); popup != "" {
			g.drawPopup(screen, popup, float64(cx), float64(cy))
		}
	}

	g.drawLegend(screen)
	g.drawBadges(screen)
	g.drawAttribution(screen, f.Attribution)
}

func (g *Game) drawTiles(screen *ebiten.Image, f mapview.Frame) {
	if f.Basemap == nil {
		return
	}
	op := &ebiten.DrawImageOptions{}
	for _, t := range f.View.Tiles(f.Basemap.MaxZoom()) {
		img := g.tiles.get(g.ctx, f.Basemap.TileURL(t.Z, t.X, t.Y))
		if img == nil {
			continue
		}
		op.GeoM.Reset()
		op.GeoM.Translate(t.ScreenX, t.ScreenY)
		screen.DrawImage(img, op)
	}
}

func (g *Game) drawItems(screen *ebiten.Image, f mapview.Frame) {
	pass := 0
	var run []*render.Polygon
	flush := func() {
		if len(run) == 0 {
			return
		}
		screen.DrawImage(g.polygons(pass, f.View, run), nil)
		pass++
		run = nil
	}
	for _, it := range f.Items {
		if p, ok := it.Drawable.(*render.Polygon); ok {
			run = append(run, p)
			continue
		}
		flush()
		switch d := it.Drawable.(type) {
		case *render.HeatSurface:
			g.drawHeat(screen, f.View, d)
		case *render.Circle:
			g.drawCircle(screen, f.View, d)
		case *render.Polyline:
			g.drawPolyline(screen, f.View, d)
		case *render.Marker:
			g.drawMarker(screen, f.View, d)
		}
	}
	flush()
}

// polygons returns the rasterized image for the i-th polygon run, redrawing
// it only when the run or the view changed.
func (g *Game) polygons(i int, v mapview.Viewport, polys []*render.Polygon) *ebiten.Image {
	for len(g.passes) <= i {
		g.passes = append(g.passes, &polyPass{})
	}
	p := g.passes[i]
	if p.img != nil && p.view == v && samePolygons(p.polys, polys) {
		return p.img
	}
	if p.rgba == nil || p.rgba.Bounds().Dx() != g.Width || p.rgba.Bounds().Dy() != g.Height {
		p.rgba = image.NewRGBA(image.Rect(0, 0, g.Width, g.Height))
		if p.img != nil {
			p.img.Deallocate()
		}
		p.img = ebiten.NewImage(g.Width, g.Height)
	}
	rasterize(p.rgba, v, polys)
	p.img.WritePixels(p.rgba.Pix)
	p.view = v
	p.polys = append(p.polys[:0], polys...)
	return p.img
}

func samePolygons(a, b []*render.Polygon) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func (g *Game) drawHeat(screen *ebiten.Image, v mapview.Viewport, h *render.HeatSurface) {
	grad := parseGradient(h.Preset.Gradient)
	size := float64(g.heatImage.Bounds().Dx())
	radius := math.Max(2, h.Preset.Radius+h.Preset.Blur)
	scale := radius * 2 / size
	op := &ebiten.DrawImageOptions{}
	for _, p := range h.Points {
		x, y := v.Project(p.Point)
		if x < -radius || y < -radius || x > float64(g.Width)+radius || y > float64(g.Height)+radius {
			continue
		}
		t := heatValue(p.Weight, h.Preset)
		c := gradientAt(grad, t)
		alpha := float64(c.A) / 255 * math.Max(0.15, t) * 0.8
		if alpha <= 0 {
			continue
		}
		op.GeoM.Reset()
		op.GeoM.Translate(-size/2, -size/2)
		op.GeoM.Scale(scale, scale)
		op.GeoM.Translate(x, y)
		r, gg, b := float64(c.R)/255, float64(c.G)/255, float64(c.B)/255
		op.ColorScale.Reset()
		op.ColorScale.Scale(float32(r*alpha), float32(gg*alpha), float32(b*alpha), float32(alpha))
		screen.DrawImage(g.heatImage, op)
	}
}

func nrgba(s string, opacity float64) (color.NRGBA, bool) {
	c, err := render.ParseColor(s)
	if err != nil || c.A == 0 || opacity <= 0 {
		return color.NRGBA{}, false
	}
	return color.NRGBA{c.R, c.G, c.B, uint8(math.Min(1, opacity) * 255)}, true
}

func (g *Game) drawCircle(screen *ebiten.Image, v mapview.Viewport, c *render.Circle) {
	x, y := v.Project(c.Center)
	r := float32(math.Max(1, c.RadiusMeters/v.MetersPerPixel()))
	if fill, ok := nrgba(c.Style.Fill, c.Style.FillOpacity); ok {
		vector.DrawFilledCircle(screen, float32(x), float32(y), r, fill, true)
	}
	if stroke, ok := nrgba(c.Style.Stroke, c.Style.StrokeOpacity); ok && c.Style.StrokeWidth > 0 {
		vector.StrokeCircle(screen, float32(x), float32(y), r, float32(c.Style.StrokeWidth), stroke, true)
	}
}

func (g *Game) drawPolyline(screen *ebiten.Image, v mapview.Viewport, p *render.Polyline) {
	stroke, ok := nrgba(p.Style.Stroke, p.Style.StrokeOpacity)
	if !ok || len(p.Line) < 2 {
		return
	}
	width := float32(math.Max(1, p.Style.StrokeWidth))
	d := newDasher(p.Style.Dash)
	prevX, prevY := v.Project(p.Line[0])
	for _, pt := range p.Line[1:] {
		x, y := v.Project(pt)
		for _, seg := range dashSegments(point{prevX, prevY}, point{x, y}, d) {
			vector.StrokeLine(screen, float32(seg[0].x), float32(seg[0].y), float32(seg[1].x), float32(seg[1].y), width, stroke, true)
		}
		prevX, prevY = x, y
	}
}

func (g *Game) drawMarker(screen *ebiten.Image, v mapview.Viewport, m *render.Marker) {
	x, y := v.Project(m.At)
	s := styleFor(m.Icon)
	r := float32(s.radius)
	if s.square {
		vector.DrawFilledRect(screen, float32(x)-r, float32(y)-r, 2*r, 2*r, s.fill, false)
		vector.StrokeRect(screen, float32(x)-r, float32(y)-r, 2*r, 2*r, 1.5, color.White, false)
		return
	}
	vector.DrawFilledCircle(screen, float32(x), float32(y), r, s.fill, true)
	vector.StrokeCircle(screen, float32(x), float32(y), r, 1.5, color.White, true)
}

func (g *Game) face(size float64) *text.GoTextFace {
	return &text.GoTextFace{Source: g.fontSource, Size: size}
}

func (g *Game) drawText(screen *ebiten.Image, s string, face *text.GoTextFace, x, y float64, clr color.Color) {
	op := &text.DrawOptions{}
	op.GeoM.Translate(x, y)
	op.ColorScale.ScaleWithColor(clr)
	text.Draw(screen, s, face, op)
}

// panel draws the shared translucent box with the accent bar on its left.
func panel(screen *ebiten.Image, x, y, w, h float64, accent color.Color) {
	vector.DrawFilledRect(screen, float32(x), float32(y), float32(w), float32(h), colorPanel, false)
	vector.StrokeRect(screen, float32(x), float32(y), float32(w), float32(h), 1, colorPanelEdge, false)
	vector.DrawFilledRect(screen, float32(x), float32(y), 4, float32(h), accent, false)
}

func (g *Game) drawNotice(screen *ebiten.Image, msg, hint string) {
	if g.fontSource == nil {
		return
	}
	face := g.face(22)
	w, h := text.Measure(msg, face, 0)
	x, y := (float64(g.Width)-w)/2, (float64(g.Height)-h)/2
	panel(screen, x-20, y-15, w+40, h+30+boolf(hint != "", 30), colorPanelEdge)
	g.drawText(screen, msg, face, x, y, color.White)
	if hint != "" {
		hf := g.face(16)
		hw, _ := text.Measure(hint, hf, 0)
		g.drawText(screen, hint, hf, (float64(g.Width)-hw)/2, y+h+12, color.RGBA{200, 200, 200, 255})
	}
}

func boolf(b bool, v float64) float64 {
	if b {
		return v
	}
	return 0
}

func (g *Game) drawPopup(screen *ebiten.Image, popup string, x, y float64) {
	if g.monoSource == nil {
		return
	}
	face := &text.GoTextFace{Source: g.monoSource, Size: 13}
	lines := strings.Split(popup, "\n")
	lineH, maxW := 17.0, 0.0
	for _, l := range lines {
		w, _ := text.Measure(l, face, 0)
		maxW = math.Max(maxW, w)
	}
	boxW, boxH := maxW+24, float64(len(lines))*lineH+16
	bx, by := x+14, y+14
	if bx+boxW > float64(g.Width) {
		bx = x - boxW - 14
	}
	if by+boxH > float64(g.Height) {
		by = y - boxH - 14
	}
	panel(screen, bx, by, boxW, boxH, colorConnected)
	for i, l := range lines {
		g.drawText(screen, l, face, bx+12, by+8+float64(i)*lineH, color.White)
	}
}

// drawLegend lists every layer with its hotkey, count and state.
func (g *Game) drawLegend(screen *ebiten.Image) {
	if g.fontSource == nil {
		return
	}
	face := g.face(14)
	st := g.layers.Stats()
	x, y, lineH := 20.0, 20.0, 20.0
	rows := len(analysis.AllLayers) + 2
	panel(screen, x-10, y-10, 330, float64(rows)*lineH+20, colorConnected)
	byID := make(map[analysis.LayerID]layers.LayerStats, len(st.Layers))
	for _, ls := range st.Layers {
		byID[ls.ID] = ls
	}
	for i, id := range analysis.AllLayers {
		ls := byID[id]
		mark, clr := "[ ]", color.Color(color.RGBA{150, 150, 150, 255})
		if ls.Active {
			mark, clr = "[x]", color.White
		}
		if !ls.HasData {
			clr = color.RGBA{90, 90, 90, 255}
		}
		g.drawText(screen, fmt.Sprintf("%d %s %-13s %6d", i+1, mark, id, ls.Count), face, x, y+float64(i)*lineH, clr)
	}
	summary := fmt.Sprintf("%d/%d active, %d points, ~%d KB", st.ActiveLayers, st.TotalLayers, st.ActiveDataPoints, st.MemoryEstimateKB)
	g.drawText(screen, summary, face, x, y+float64(len(analysis.AllLayers))*lineH+4, color.RGBA{200, 200, 200, 255})
	g.drawText(screen, "A all  C clear  Z recommended  R reload  D demand", face, x, y+float64(len(analysis.AllLayers)+1)*lineH+4, color.RGBA{150, 150, 150, 255})
}

// drawBadges shows the dispatch connection and algorithm badges.
func (g *Game) drawBadges(screen *ebiten.Image) {
	if g.sim == nil || g.fontSource == nil {
		return
	}
	st := g.sim.Status()
	face := g.face(14)

	label, dot := "Disconnected", colorOffline
	if st.Connected {
		label, dot = "Connected", colorConnected
	}
	w, _ := text.Measure(label, face, 0)
	x, y := float64(g.Width)-w-50, 20.0
	panel(screen, x-10, y-8, w+40, 32, dot)
	vector.DrawFilledCircle(screen, float32(x+6), float32(y+8), 5, dot, true)
	g.drawText(screen, label, face, x+18, y, color.White)

	badge, err := render.ParseColor(st.BadgeColor)
	if err != nil {
		badge = colorPanelEdge
	}
	bw, _ := text.Measure(st.Badge, face, 0)
	bx, by := float64(g.Width)-bw-40, y+36
	vector.DrawFilledRect(screen, float32(bx-10), float32(by-6), float32(bw+30), 28, badge, false)
	g.drawText(screen, st.Badge, face, bx+5, by, color.White)

	counts := fmt.Sprintf("%d taxis  %d orders  %d animating", st.Taxis, st.Orders, st.Animating)
	cw, _ := text.Measure(counts, face, 0)
	g.drawText(screen, counts, face, float64(g.Width)-cw-20, by+32, color.RGBA{200, 200, 200, 255})
}

func (g *Game) drawAttribution(screen *ebiten.Image, attribution string) {
	if attribution == "" || g.fontSource == nil {
		return
	}
	face := g.face(11)
	w, h := text.Measure(attribution, face, 0)
	x, y := float64(g.Width)-w-8, float64(g.Height)-h-6
	vector.DrawFilledRect(screen, float32(x-4), float32(y-2), float32(w+8), float32(h+4), color.RGBA{255, 255, 255, 180}, false)
	g.drawText(screen, attribution, face, x, y, color.RGBA{40, 40, 40, 255})
}
