package viewer

import (
	"image"
	"image/color"
	"testing"

	"github.com/paulmach/orb"
	"github.com/stretchr/testify/assert"

	"github.com/sudorandom/taxi-stream/pkg/mapview"
	"github.com/sudorandom/taxi-stream/pkg/render"
)

func TestGradientAt(t *testing.T) {
	g := parseGradient([]render.GradientStop{
		{Stop: 1, Color: "red"},
		{Stop: 0, Color: "blue"},
		{Stop: 0.5, Color: "bogus"},
	})
	tests := []struct {
		t    float64
		want color.NRGBA
	}{
		{-1, color.NRGBA{0, 0, 255, 255}},
		{0, color.NRGBA{0, 0, 255, 255}},
		{0.5, color.NRGBA{128, 0, 128, 255}},
		{1, color.NRGBA{255, 0, 0, 255}},
		{2, color.NRGBA{255, 0, 0, 255}},
	}
	for _, tt := range tests {
		if got := gradientAt(g, tt.t); got != tt.want {
			t.Errorf("gradientAt(%v) = %v, want %v", tt.t, got, tt.want)
		}
	}
}

func TestGradientTransparentStop(t *testing.T) {
	g := parseGradient(render.DefaultPresets().Heatmap["speed_zones"].Gradient)
	assert.Equal(t, uint8(0), gradientAt(g, 0).A)
	assert.Equal(t, color.NRGBA{255, 0, 0, 255}, gradientAt(g, 1))
}

func TestHeatValue(t *testing.T) {
	p := render.HeatPreset{Max: 0.4}
	tests := []struct {
		w, want float64
	}{
		{0.2, 0.5},
		{0.4, 1},
		{3, 1},
		{-1, 0},
	}
	for _, tt := range tests {
		if got := heatValue(tt.w, p); got != tt.want {
			t.Errorf("heatValue(%v) = %v, want %v", tt.w, got, tt.want)
		}
	}
	if got := heatValue(0.5, render.HeatPreset{}); got != 0.5 {
		t.Errorf("zero max: got %v, want 0.5", got)
	}
}

func TestFillPolygon(t *testing.T) {
	img := image.NewRGBA(image.Rect(0, 0, 20, 20))
	square := []point{{5, 5}, {15, 5}, {15, 15}, {5, 15}}
	fillPolygon(img, square, color.RGBA{255, 0, 0, 255}, 1)

	inside := img.RGBAAt(10, 10)
	if inside != (color.RGBA{255, 0, 0, 255}) {
		t.Errorf("inside pixel = %v, want opaque red", inside)
	}
	if outside := img.RGBAAt(2, 2); outside.A != 0 {
		t.Errorf("outside pixel = %v, want transparent", outside)
	}
}

func TestFillPolygonBlends(t *testing.T) {
	img := image.NewRGBA(image.Rect(0, 0, 10, 10))
	square := []point{{0, 0}, {10, 0}, {10, 10}, {0, 10}}
	fillPolygon(img, square, color.RGBA{200, 100, 0, 255}, 0.5)
	got := img.RGBAAt(5, 5)
	assert.Equal(t, color.RGBA{100, 50, 0, 127}, got)
}

func TestFillPolygonClipsToImage(t *testing.T) {
	img := image.NewRGBA(image.Rect(0, 0, 10, 10))
	huge := []point{{-100, -100}, {100, -100}, {100, 100}, {-100, 100}}
	assert.NotPanics(t, func() { fillPolygon(img, huge, color.RGBA{0, 0, 255, 255}, 1) })
	assert.Equal(t, uint8(255), img.RGBAAt(9, 9).A)
}

func TestDashSegments(t *testing.T) {
	d := newDasher([]float64{5, 5})
	segs := dashSegments(point{0, 0}, point{20, 0}, d)
	want := [][2]point{
		{{0, 0}, {5, 0}},
		{{10, 0}, {15, 0}},
	}
	assert.Equal(t, want, segs)

	// The pattern carries over into the next segment.
	next := dashSegments(point{20, 0}, point{27, 0}, d)
	assert.Equal(t, [][2]point{{{20, 0}, {25, 0}}}, next)
}

func TestDashSegmentsSolid(t *testing.T) {
	segs := dashSegments(point{0, 0}, point{3, 4}, newDasher(nil))
	assert.Equal(t, [][2]point{{{0, 0}, {3, 4}}}, segs)
	assert.Empty(t, dashSegments(point{1, 1}, point{1, 1}, newDasher(nil)))
}

func TestStrokeRingDashed(t *testing.T) {
	img := image.NewRGBA(image.Rect(0, 0, 40, 40))
	ring := []point{{0, 10}, {39, 10}, {39, 30}}
	strokeRing(img, ring, color.RGBA{255, 0, 0, 255}, 1, 1, []float64{10, 5})
	assert.Equal(t, uint8(255), img.RGBAAt(0, 10).A)
	assert.Equal(t, uint8(0), img.RGBAAt(12, 10).A)
	assert.Equal(t, uint8(255), img.RGBAAt(16, 10).A)
}

func TestHitTest(t *testing.T) {
	view := mapview.Viewport{Center: orb.Point{71.4, 51.1}, Zoom: 14, Width: 800, Height: 600}
	center := view.Unproject(400, 300)
	square := orb.Ring{
		view.Unproject(300, 200), view.Unproject(500, 200),
		view.Unproject(500, 400), view.Unproject(300, 400),
		view.Unproject(300, 200),
	}
	f := mapview.Frame{
		Status: mapview.StatusReady,
		View:   view,
		Items: []mapview.Placed{
			{Drawable: &render.Polygon{Ring: square, Popup: "hex"}},
			{Drawable: &render.Circle{Center: view.Unproject(600, 300), RadiusMeters: 200, Popup: "jam"}},
			{Drawable: &render.Marker{At: center, Icon: render.IconViolation, Popup: "speeding"}},
			{Drawable: &render.Marker{At: view.Unproject(350, 250), Icon: render.IconTaxiFree}},
		},
	}
	tests := []struct {
		x, y float64
		want string
	}{
		{400, 300, "speeding"},
		{404, 303, "speeding"},
		{350, 250, "hex"},
		{600, 300, "jam"},
		{50, 50, ""},
	}
	for _, tt := range tests {
		if got := hitTest(f, tt.x, tt.y); got != tt.want {
			t.Errorf("hitTest(%v, %v) = %q, want %q", tt.x, tt.y, got, tt.want)
		}
	}
}
