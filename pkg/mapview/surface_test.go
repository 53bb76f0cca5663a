package mapview

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/paulmach/orb"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sudorandom/taxi-stream/pkg/analysis"
	"github.com/sudorandom/taxi-stream/pkg/layers"
	"github.com/sudorandom/taxi-stream/pkg/render"
)

var fixturePath = filepath.Join("..", "analysis", "testdata", "analysis.json")

func mute(t *testing.T) {
	t.Helper()
	prev := [...]func(string, ...any){Logf, analysis.Logf, layers.Logf, render.Logf}
	quiet := func(string, ...any) {}
	Logf, analysis.Logf, layers.Logf, render.Logf = quiet, quiet, quiet, quiet
	t.Cleanup(func() {
		Logf, analysis.Logf, layers.Logf, render.Logf = prev[0], prev[1], prev[2], prev[3]
	})
}

func fixture(t *testing.T) *analysis.Dataset {
	t.Helper()
	data, err := os.ReadFile(fixturePath)
	require.NoError(t, err)
	ds, err := analysis.Decode(data)
	require.NoError(t, err)
	return ds
}

func groups(f Frame) map[string]int {
	out := make(map[string]int)
	for _, item := range f.Items {
		out[item.Group]++
	}
	return out
}

func TestShowFitsAndMounts(t *testing.T) {
	mute(t)
	ds := fixture(t)
	s := NewSurface(800, 600, nil)

	s.Show(ds, []analysis.LayerID{analysis.Routes})

	f := s.Snapshot()
	assert.Equal(t, StatusReady, f.Status)
	assert.Equal(t, 11.0, f.View.Zoom)
	assert.InDelta(t, 71.45, f.View.Center.Lon(), 1e-6)
	require.Len(t, f.Items, 1)
	assert.Equal(t, "routes", f.Items[0].Group)
	heat, ok := f.Items[0].Drawable.(*render.HeatSurface)
	require.True(t, ok)
	assert.Len(t, heat.Points, 3)
	assert.Equal(t, "© OpenStreetMap contributors", f.Attribution)
}

func TestShowSameDatasetKeepsView(t *testing.T) {
	mute(t)
	ds := fixture(t)
	s := NewSurface(800, 600, nil)
	s.Show(ds, nil)

	s.SetView(orb.Point{71.0, 51.0}, 14)
	s.Show(ds, nil)
	assert.Equal(t, 14.0, s.Viewport().Zoom)
}

func TestSyncIsIdempotent(t *testing.T) {
	mute(t)
	ds := fixture(t)
	s := NewSurface(800, 600, nil)
	active := []analysis.LayerID{analysis.Routes, analysis.Demand}

	s.Show(ds, active)
	before := len(s.Snapshot().Items)
	for i := 0; i < 5; i++ {
		s.Sync(active)
	}

	assert.Equal(t, before, len(s.Snapshot().Items))
	assert.Equal(t, 1, s.Builds(analysis.Routes))
	assert.Equal(t, 1, s.Builds(analysis.Demand))
	assert.Len(t, s.Mounted(analysis.Demand), 2)
}

func TestSyncTearsDownInactive(t *testing.T) {
	mute(t)
	ds := fixture(t)
	s := NewSurface(800, 600, nil)
	s.Show(ds, []analysis.LayerID{analysis.Routes, analysis.Violations})
	assert.Len(t, s.Mounted(analysis.Violations), 2)

	s.Sync([]analysis.LayerID{analysis.Routes})
	assert.Empty(t, s.Mounted(analysis.Violations))
	assert.Equal(t, 2, s.Builds(analysis.Violations))
	assert.Equal(t, map[string]int{"routes": 1}, groups(s.Snapshot()))
}

func TestNewDatasetReplacesDrawables(t *testing.T) {
	mute(t)
	s := NewSurface(800, 600, nil)
	active := []analysis.LayerID{analysis.Demand}
	s.Show(fixture(t), active)
	s.Show(fixture(t), active)

	assert.Len(t, s.Mounted(analysis.Demand), 2)
	assert.Equal(t, 2, s.Builds(analysis.Demand))
}

func TestDrawOrder(t *testing.T) {
	mute(t)
	s := NewSurface(800, 600, nil)
	s.Show(fixture(t), analysis.AllLayers)
	s.AddMarker(GroupAnimations, render.Marker{At: orb.Point{71.4, 51.1}, Icon: "busy", ZOffset: 1000})
	s.AddMarker(GroupTaxis, render.Marker{At: orb.Point{71.4, 51.1}, Icon: "free"})

	var order []string
	for _, item := range s.Snapshot().Items {
		if len(order) == 0 || order[len(order)-1] != item.Group {
			order = append(order, item.Group)
		}
	}
	want := []string{"speed_zones", "routes", "demand", "availability", "traffic_jams", "violations", "anomalies", GroupTaxis, GroupAnimations}
	assert.Equal(t, want, order)
}

func TestLoadingHidesMap(t *testing.T) {
	mute(t)
	s := NewSurface(800, 600, nil)
	s.Show(fixture(t), analysis.AllLayers)
	s.AddMarker(GroupTaxis, render.Marker{Icon: "free"})

	s.SetLoading()
	f := s.Snapshot()
	assert.Equal(t, StatusLoading, f.Status)
	assert.Empty(t, f.Items)

	s.SetError(errors.New("boom"))
	f = s.Snapshot()
	assert.Equal(t, StatusError, f.Status)
	assert.Equal(t, "boom", f.Err)
	assert.Empty(t, f.Items)
}

func TestOverlayHandles(t *testing.T) {
	s := NewSurface(800, 600, nil)

	h := s.AddMarker(GroupAnimations, render.Marker{At: orb.Point{1, 1}, Icon: "busy", ZOffset: 1000})
	low := s.AddMarker(GroupAnimations, render.Marker{At: orb.Point{2, 2}, Icon: "free"})
	line := s.AddPolyline(GroupAnimations, render.Polyline{Line: orb.LineString{{1, 1}, {2, 2}}})
	assert.Equal(t, 3, s.OverlayCount(GroupAnimations))

	assert.True(t, s.MoveMarker(h, orb.Point{3, 3}))
	assert.True(t, s.SetMarkerIcon(h, "free"))
	assert.False(t, s.MoveMarker(line, orb.Point{0, 0}))
	d, ok := s.Overlay(h)
	require.True(t, ok)
	assert.Equal(t, &render.Marker{At: orb.Point{3, 3}, Icon: "free", ZOffset: 1000}, d)

	f := s.Snapshot()
	require.Len(t, f.Items, 3)
	last, _ := s.Overlay(h)
	assert.Same(t, last, f.Items[2].Drawable)
	first, _ := s.Overlay(low)
	assert.Same(t, first, f.Items[0].Drawable)

	assert.True(t, s.Remove(h))
	assert.False(t, s.Remove(h))
	assert.False(t, s.MoveMarker(h, orb.Point{0, 0}))
	assert.Equal(t, 2, s.OverlayCount(""))
}

func TestReplaceGroup(t *testing.T) {
	s := NewSurface(800, 600, nil)
	s.AddMarker(GroupTaxis, render.Marker{Icon: "free"})
	s.AddMarker(GroupOrders, render.Marker{Icon: "pending"})

	s.ReplaceGroup(GroupTaxis, []render.Drawable{&render.Marker{Icon: "busy"}, &render.Marker{Icon: "busy"}})
	assert.Equal(t, 2, s.OverlayCount(GroupTaxis))
	assert.Equal(t, 1, s.OverlayCount(GroupOrders))

	s.ReplaceGroup(GroupTaxis, nil)
	assert.Equal(t, 0, s.OverlayCount(GroupTaxis))
}

func TestExportGeoJSON(t *testing.T) {
	mute(t)
	s := NewSurface(800, 600, nil)
	s.Show(fixture(t), []analysis.LayerID{analysis.Routes, analysis.Demand, analysis.Violations})
	s.AddPolyline(GroupAnimations, render.Polyline{Line: orb.LineString{{71.40, 51.10}, {71.41, 51.11}}})

	fc := ExportGeoJSON(s.Snapshot())
	// 3 heat points, 2 hexagons, 1 circle + 1 marker, 1 polyline
	require.Len(t, fc.Features, 8)

	kinds := make(map[string]int)
	for _, f := range fc.Features {
		kinds[f.Properties["kind"].(string)]++
	}
	assert.Equal(t, map[string]int{"heat": 3, "polygon": 2, "circle": 1, "marker": 1, "polyline": 1}, kinds)

	poly := fc.Features[3]
	require.True(t, poly.Geometry.IsPolygon())
	ring := poly.Geometry.Polygon[0]
	assert.Equal(t, ring[0], ring[len(ring)-1])
	// GeoJSON is lng, lat
	assert.Greater(t, ring[0][0], ring[0][1])

	raw, err := json.Marshal(fc)
	require.NoError(t, err)
	assert.Contains(t, string(raw), `"FeatureCollection"`)
}

func TestLoaderShowsErrorThenRecovers(t *testing.T) {
	mute(t)
	dir := t.TempDir()
	path := filepath.Join(dir, "analysis.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"metadata": {}}`), 0o644))

	store := analysis.NewStore(&analysis.FileSource{Path: path})
	l := &Loader{Store: store, Layers: layers.NewController(store), Surface: NewSurface(800, 600, nil)}

	err := l.Load(context.Background())
	var verr *analysis.ValidationError
	require.ErrorAs(t, err, &verr)
	status, msg := l.Surface.Status()
	assert.Equal(t, StatusError, status)
	assert.Contains(t, msg, "invalid analysis payload")

	data, err := os.ReadFile(fixturePath)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(path, data, 0o644))

	require.NoError(t, l.Retry(context.Background()))
	status, _ = l.Surface.Status()
	assert.Equal(t, StatusReady, status)
	assert.Len(t, l.Surface.Mounted(analysis.Routes), 1)
}

func TestLoaderWatchFollowsController(t *testing.T) {
	mute(t)
	store := analysis.NewStore(&analysis.FileSource{Path: fixturePath})
	ctrl := layers.NewController(store)
	l := &Loader{Store: store, Layers: ctrl, Surface: NewSurface(800, 600, nil)}
	require.NoError(t, l.Load(context.Background()))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := l.Watch(ctx)

	ctrl.Toggle(analysis.Anomalies)
	assert.Eventually(t, func() bool {
		return len(l.Surface.Mounted(analysis.Anomalies)) == 2
	}, time.Second, 5*time.Millisecond)

	ctrl.Reset()
	assert.Eventually(t, func() bool {
		return len(l.Surface.Mounted(analysis.Routes)) == 0
	}, time.Second, 5*time.Millisecond)

	cancel()
	<-done
}

func TestLoaderWatchSettlesOnLatestState(t *testing.T) {
	mute(t)
	store := analysis.NewStore(&analysis.FileSource{Path: fixturePath})
	ctrl := layers.NewController(store)
	s := NewSurface(800, 600, nil)
	l := &Loader{Store: store, Layers: ctrl, Surface: s}
	require.NoError(t, l.Load(context.Background()))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := l.Watch(ctx)

	// A slow frame holds the surface while more changes arrive than the
	// subscription can buffer; only the last one turns anomalies off.
	s.mu.Lock()
	for range 20 {
		ctrl.SetActive([]analysis.LayerID{analysis.Routes, analysis.Anomalies})
	}
	ctrl.Toggle(analysis.Anomalies)
	s.mu.Unlock()

	require.False(t, ctrl.IsActive(analysis.Anomalies))
	assert.Eventually(t, func() bool {
		return len(s.Mounted(analysis.Anomalies)) == 0 && len(s.Mounted(analysis.Routes)) > 0
	}, time.Second, 5*time.Millisecond)

	cancel()
	<-done
}
