package mapview

import (
	"math"
	"testing"

	"github.com/paulmach/orb"
)

func near(a, b, eps float64) bool { return math.Abs(a-b) <= eps }

func TestProjectRoundTrip(t *testing.T) {
	v := Viewport{Center: DefaultCenter, Zoom: DefaultZoom, Width: 800, Height: 600}

	x, y := v.Project(v.Center)
	if !near(x, 400, 1e-6) || !near(y, 300, 1e-6) {
		t.Errorf("center projected to (%v, %v), want (400, 300)", x, y)
	}

	tests := []orb.Point{
		{71.30, 51.05},
		{71.60, 51.25},
		{71.4173, 51.0914},
	}
	for _, p := range tests {
		x, y := v.Project(p)
		got := v.Unproject(x, y)
		if !near(got.Lon(), p.Lon(), 1e-9) || !near(got.Lat(), p.Lat(), 1e-9) {
			t.Errorf("Unproject(Project(%v)) = %v", p, got)
		}
	}
}

func TestFit(t *testing.T) {
	v := Viewport{Center: DefaultCenter, Zoom: DefaultZoom, Width: 800, Height: 600}
	b := orb.Bound{Min: orb.Point{71.30, 51.05}, Max: orb.Point{71.60, 51.25}}

	got := v.Fit(b, FitPadding, FitMaxZoom)
	if got.Zoom != 11 {
		t.Errorf("got zoom %v, want 11", got.Zoom)
	}
	for _, corner := range []orb.Point{b.Min, b.Max} {
		x, y := got.Project(corner)
		if x < FitPadding || x > 800-FitPadding || y < FitPadding || y > 600-FitPadding {
			t.Errorf("corner %v at (%v, %v) is outside the padded view", corner, x, y)
		}
	}
}

func TestFitCapsZoom(t *testing.T) {
	v := Viewport{Width: 800, Height: 600}
	tiny := orb.Bound{Min: orb.Point{71.4, 51.1}, Max: orb.Point{71.4001, 51.1001}}
	if got := v.Fit(tiny, FitPadding, FitMaxZoom); got.Zoom != FitMaxZoom {
		t.Errorf("got zoom %v, want %v", got.Zoom, FitMaxZoom)
	}
	point := orb.Bound{Min: orb.Point{71.4, 51.1}, Max: orb.Point{71.4, 51.1}}
	if got := v.Fit(point, FitPadding, FitMaxZoom); got.Zoom != FitMaxZoom {
		t.Errorf("single point: got zoom %v, want %v", got.Zoom, FitMaxZoom)
	}
}

func TestTilesCoverViewport(t *testing.T) {
	v := Viewport{Center: DefaultCenter, Zoom: 12, Width: 512, Height: 512}
	tiles := v.Tiles(18)
	if len(tiles) < 4 || len(tiles) > 9 {
		t.Fatalf("got %d tiles, want 4..9", len(tiles))
	}
	for _, tile := range tiles {
		if tile.Z != 12 {
			t.Errorf("tile zoom %d, want 12", tile.Z)
		}
		if tile.ScreenX <= -TileSize || tile.ScreenX >= 512 || tile.ScreenY <= -TileSize || tile.ScreenY >= 512 {
			t.Errorf("tile %+v does not intersect the view", tile)
		}
	}

	if got := v.Tiles(10); got[0].Z != 10 {
		t.Errorf("got zoom %d, want capped 10", got[0].Z)
	}
}

func TestXYZTileURL(t *testing.T) {
	got := OpenStreetMap.TileURL(12, 2860, 1340)
	want := "https://a.tile.openstreetmap.org/12/2860/1340.png"
	if got != want {
		t.Errorf("got %q, want %q", got, want)
	}
}
