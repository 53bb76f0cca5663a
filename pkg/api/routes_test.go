package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sudorandom/taxi-stream/pkg/analysis"
	"github.com/sudorandom/taxi-stream/pkg/layers"
	"github.com/sudorandom/taxi-stream/pkg/mapview"
	"github.com/sudorandom/taxi-stream/pkg/render"
	"github.com/sudorandom/taxi-stream/pkg/simulation"
)

func mute(t *testing.T) {
	t.Helper()
	prev := [...]func(string, ...any){analysis.Logf, layers.Logf, mapview.Logf, render.Logf}
	quiet := func(string, ...any) {}
	analysis.Logf, layers.Logf, mapview.Logf, render.Logf = quiet, quiet, quiet, quiet
	t.Cleanup(func() {
		analysis.Logf, layers.Logf, mapview.Logf, render.Logf = prev[0], prev[1], prev[2], prev[3]
	})
}

type env struct {
	mux    *http.ServeMux
	loader *mapview.Loader
	path   string
}

func newEnv(t *testing.T, load bool) *env {
	t.Helper()
	mute(t)
	data, err := os.ReadFile(filepath.Join("..", "analysis", "testdata", "analysis.json"))
	require.NoError(t, err)
	path := filepath.Join(t.TempDir(), "analysis.json")
	require.NoError(t, os.WriteFile(path, data, 0o644))

	store := analysis.NewStore(&analysis.FileSource{Path: path})
	loader := &mapview.Loader{
		Store:   store,
		Layers:  layers.NewController(store),
		Surface: mapview.NewSurface(800, 600, nil),
	}
	if load {
		require.NoError(t, loader.Load(context.Background()))
	}
	sim := simulation.NewView(loader.Surface, nil, nil, simulation.Config{UseProximity: true})
	return &env{mux: NewServeMux(NewAPIHandler(loader, sim)), loader: loader, path: path}
}

func (e *env) do(t *testing.T, method, target, body string) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()
	var r *http.Request
	if body != "" {
		r = httptest.NewRequest(method, target, strings.NewReader(body))
		r.Header.Set("Content-Type", "application/json")
	} else {
		r = httptest.NewRequest(method, target, nil)
	}
	w := httptest.NewRecorder()
	e.mux.ServeHTTP(w, r)
	var out map[string]any
	_ = json.Unmarshal(w.Body.Bytes(), &out)
	return w, out
}

func TestHealth(t *testing.T) {
	e := newEnv(t, true)
	w, body := e.do(t, http.MethodGet, "/health", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "ok", body["status"])
	assert.Equal(t, "ready", body["dataset"])
}

func TestGetLayers(t *testing.T) {
	e := newEnv(t, true)
	w, body := e.do(t, http.MethodGet, "/api/v1/layers", "")
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	assert.Equal(t, []any{"routes"}, body["active"])
	ls := body["layers"].([]any)
	require.Len(t, ls, len(analysis.AllLayers))
	first := ls[0].(map[string]any)
	assert.Equal(t, "routes", first["id"])
	assert.Equal(t, float64(3), first["count"])
	assert.Equal(t, true, first["active"])
	assert.Equal(t, "High-density taxi movement patterns", first["description"])

	stats := body["stats"].(map[string]any)
	assert.Equal(t, float64(7), stats["total_layers"])
	md := body["metadata"].(map[string]any)
	assert.Equal(t, float64(1262687), md["total_records"])
}

func TestToggle(t *testing.T) {
	e := newEnv(t, true)

	w, body := e.do(t, http.MethodPost, "/api/v1/layers/demand/toggle", "")
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, true, body["on"])
	assert.Equal(t, []any{"routes", "demand"}, body["active"])

	w, _ = e.do(t, http.MethodPost, "/api/v1/layers/bogus/toggle", "")
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestSetActiveEnableAllClear(t *testing.T) {
	e := newEnv(t, true)

	w, body := e.do(t, http.MethodPut, "/api/v1/layers/active", `{"layers": ["anomalies", "nope", "routes"]}`)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, []any{"routes", "anomalies"}, body["active"])

	_, body = e.do(t, http.MethodPost, "/api/v1/layers/enable-all", "")
	assert.Len(t, body["active"], len(analysis.AllLayers))

	_, body = e.do(t, http.MethodPost, "/api/v1/layers/clear", "")
	assert.Equal(t, []any{}, body["active"])
}

func TestRecommended(t *testing.T) {
	e := newEnv(t, true)
	_, body := e.do(t, http.MethodGet, "/api/v1/layers/recommended?zoom=15", "")
	assert.Equal(t, []any{"routes", "demand", "availability", "violations", "traffic_jams"}, body["layers"])

	_, body = e.do(t, http.MethodGet, "/api/v1/layers/recommended", "")
	assert.Equal(t, float64(12), body["zoom"])
	assert.Equal(t, []any{"routes"}, body["layers"])
}

func TestGeoJSON(t *testing.T) {
	e := newEnv(t, false)
	w, _ := e.do(t, http.MethodGet, "/api/v1/map.geojson", "")
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)

	require.NoError(t, e.loader.Load(context.Background()))
	w, body := e.do(t, http.MethodGet, "/api/v1/map.geojson", "")
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, "application/geo+json", w.Header().Get("Content-Type"))
	assert.Equal(t, "FeatureCollection", body["type"])
	assert.Len(t, body["features"], 3)
}

func TestReload(t *testing.T) {
	e := newEnv(t, true)
	require.NoError(t, os.WriteFile(e.path, []byte(`{
		"metadata": {"total_records": -1, "unique_drivers": 1, "analysis_timestamp": "now",
			"bounds": {"lat_min": 51, "lat_max": 52, "lng_min": 71, "lng_max": 72, "center_lat": 51.5, "center_lng": 71.5}},
		"layers": {}}`), 0o644))

	w, _ := e.do(t, http.MethodPost, "/api/v1/dataset/reload", "")
	assert.Equal(t, http.StatusUnprocessableEntity, w.Code)
	assert.Contains(t, w.Body.String(), "total_records")

	_, health := e.do(t, http.MethodGet, "/health", "")
	assert.Equal(t, "error", health["dataset"])

	require.NoError(t, os.Remove(e.path))
	w, _ = e.do(t, http.MethodPost, "/api/v1/dataset/reload", "")
	assert.Equal(t, http.StatusBadGateway, w.Code)
}

func TestDispatchStatus(t *testing.T) {
	e := newEnv(t, false)
	w, body := e.do(t, http.MethodGet, "/api/v1/dispatch", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "Distance-Based", body["badge"])
	assert.Equal(t, false, body["connected"])
}
