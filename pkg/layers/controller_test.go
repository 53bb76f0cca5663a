package layers

import (
	"math/rand"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"

	"github.com/sudorandom/taxi-stream/pkg/analysis"
)

func mute(t *testing.T) {
	t.Helper()
	prev := Logf
	Logf = func(string, ...any) {}
	t.Cleanup(func() { Logf = prev })
}

// dataset builds a dataset where each id in withData has one record and each
// id in empty is present but empty.
func dataset(withData []analysis.LayerID, empty ...analysis.LayerID) *analysis.Dataset {
	var ls []analysis.Layer
	build := func(id analysis.LayerID, n int) analysis.Layer {
		switch analysis.KindOf(id) {
		case analysis.KindHeatmap:
			return &analysis.HeatmapLayer{Layer: id, Type: "heatmap", Points: make([]analysis.HeatPoint, n)}
		case analysis.KindHexGrid:
			return &analysis.HexGridLayer{Layer: id, Type: "hexagonal_grid", Hexagons: make([]analysis.Hexagon, n)}
		}
		switch id {
		case analysis.Violations:
			return &analysis.ViolationsLayer{Records: make([]analysis.Violation, n)}
		case analysis.Anomalies:
			return &analysis.AnomaliesLayer{Records: make([]analysis.Anomaly, n)}
		default:
			return &analysis.TrafficJamsLayer{Records: make([]analysis.TrafficJam, n)}
		}
	}
	for _, id := range withData {
		ls = append(ls, build(id, 1))
	}
	for _, id := range empty {
		ls = append(ls, build(id, 0))
	}
	return analysis.NewDataset(analysis.Metadata{}, ls...)
}

func ids(s ...analysis.LayerID) []analysis.LayerID { return s }

func TestDefaultActive(t *testing.T) {
	c := NewController(nil)
	if diff := cmp.Diff(ids(analysis.Routes), c.Active()); diff != "" {
		t.Errorf("default active mismatch (-want +got):\n%s", diff)
	}
	c.SetDataset(dataset(ids(analysis.Routes, analysis.Demand)))
	if !c.IsActive(analysis.Routes) {
		t.Error("routes dropped although it has data")
	}
}

func TestToggle(t *testing.T) {
	mute(t)
	c := NewController(nil)
	c.SetDataset(dataset(ids(analysis.Routes, analysis.Demand), analysis.Violations))

	if on := c.Toggle(analysis.Demand); !on {
		t.Error("Toggle(demand) = false, want true")
	}
	if on := c.Toggle(analysis.Routes); on {
		t.Error("Toggle(routes) = true, want false")
	}
	if diff := cmp.Diff(ids(analysis.Demand), c.Active()); diff != "" {
		t.Errorf("active mismatch (-want +got):\n%s", diff)
	}

	// Absent, empty and unknown ids leave the set untouched.
	for _, id := range ids(analysis.Anomalies, analysis.Violations, "buildings") {
		before := c.Active()
		c.Toggle(id)
		if diff := cmp.Diff(before, c.Active()); diff != "" {
			t.Errorf("Toggle(%q) changed set (-before +after):\n%s", id, diff)
		}
	}
}

func TestToggleSequencesStaySubset(t *testing.T) {
	mute(t)
	rng := rand.New(rand.NewSource(42))
	valid := ids(analysis.Routes, analysis.TrafficJams, analysis.Availability)
	c := NewController(nil)
	c.SetDataset(dataset(valid, analysis.SpeedZones))

	candidates := append(append([]analysis.LayerID{}, analysis.AllLayers...), "unknown")
	allowed := map[analysis.LayerID]bool{}
	for _, id := range valid {
		allowed[id] = true
	}
	for i := 0; i < 500; i++ {
		c.Toggle(candidates[rng.Intn(len(candidates))])
		for _, id := range c.Active() {
			if !allowed[id] {
				t.Fatalf("step %d: %q active without data", i, id)
			}
		}
	}
}

func TestSetActiveFilters(t *testing.T) {
	mute(t)
	c := NewController(nil)
	c.SetDataset(dataset(ids(analysis.Routes, analysis.Violations, analysis.Anomalies)))

	c.SetActive(ids(analysis.Anomalies, analysis.Demand, "nope", analysis.Violations))
	assert.Equal(t, ids(analysis.Violations, analysis.Anomalies), c.Active())
}

func TestEnableAllClearAllRoundTrip(t *testing.T) {
	mute(t)
	c := NewController(nil)
	withData := ids(analysis.Routes, analysis.Demand, analysis.SpeedZones)
	c.SetDataset(dataset(withData, analysis.Anomalies))

	c.EnableAll()
	assert.Equal(t, withData, c.Active())

	c.SetActive(ids(analysis.Demand))
	c.ClearAll()
	assert.Empty(t, c.Active())
}

func TestSetDatasetDropsStaleLayers(t *testing.T) {
	mute(t)
	c := NewController(nil)
	c.SetDataset(dataset(ids(analysis.Routes, analysis.Demand, analysis.Violations)))
	c.EnableAll()

	c.SetDataset(dataset(ids(analysis.Routes), analysis.Demand))
	assert.Equal(t, ids(analysis.Routes), c.Active())
}

func TestEnableWithLimit(t *testing.T) {
	mute(t)
	c := NewController(nil)
	c.SetDataset(dataset(analysis.AllLayers))

	c.EnableWithLimit(ids(analysis.Anomalies, "bogus", analysis.Demand, analysis.Routes, analysis.Violations), 0)
	assert.Equal(t, ids(analysis.Routes, analysis.Demand, analysis.Anomalies), c.Active())

	c.EnableWithLimit(analysis.AllLayers, 1)
	assert.Equal(t, ids(analysis.Routes), c.Active())
}

func TestRecommended(t *testing.T) {
	c := NewController(nil)
	c.SetDataset(dataset(ids(analysis.Routes, analysis.Demand, analysis.Violations, analysis.Anomalies)))

	tests := []struct {
		zoom float64
		want []analysis.LayerID
	}{
		{10, ids(analysis.Routes)},
		{12, ids(analysis.Routes)},
		{13, ids(analysis.Routes, analysis.Demand)},
		{15, ids(analysis.Routes, analysis.Demand, analysis.Violations)},
		{17, ids(analysis.Routes, analysis.Demand, analysis.Violations, analysis.Anomalies)},
	}
	for _, tt := range tests {
		if diff := cmp.Diff(tt.want, c.Recommended(tt.zoom)); diff != "" {
			t.Errorf("Recommended(%v) mismatch (-want +got):\n%s", tt.zoom, diff)
		}
	}
}

func TestStats(t *testing.T) {
	c := NewController(nil)
	ds := analysis.NewDataset(analysis.Metadata{},
		&analysis.HeatmapLayer{Layer: analysis.Routes, Points: make([]analysis.HeatPoint, 40)},
		&analysis.ViolationsLayer{Records: make([]analysis.Violation, 15)},
		&analysis.AnomaliesLayer{},
	)
	c.SetDataset(ds)

	s := c.Stats()
	assert.Equal(t, 2, s.TotalLayers)
	assert.Equal(t, 1, s.ActiveLayers)
	assert.Equal(t, 55, s.TotalDataPoints)
	assert.Equal(t, 40, s.ActiveDataPoints)
	assert.Equal(t, 4, s.MemoryEstimateKB)
	assert.Len(t, s.Layers, 2)
}

type fakeStore struct{ cleared int }

func (f *fakeStore) Clear() { f.cleared++ }

func TestReset(t *testing.T) {
	mute(t)
	store := &fakeStore{}
	c := NewController(store)
	c.SetDataset(dataset(ids(analysis.Routes, analysis.Demand)))
	c.SetActive(ids(analysis.Demand))

	c.Reset()
	assert.Equal(t, 1, store.cleared)
	assert.Nil(t, c.Dataset())
	assert.Equal(t, ids(analysis.Routes), c.Active())
	assert.Nil(t, c.Available())
}

func TestSubscribe(t *testing.T) {
	mute(t)
	c := NewController(nil)
	ch := c.Subscribe()
	defer c.Unsubscribe(ch)

	c.SetDataset(dataset(ids(analysis.Routes, analysis.Demand)))
	c.Toggle(analysis.Demand)

	first := <-ch
	assert.Equal(t, ReasonDataset, first.Reason)
	second := <-ch
	assert.Equal(t, ReasonToggle, second.Reason)
	assert.Equal(t, analysis.Demand, second.Layer)
	assert.Equal(t, ids(analysis.Routes, analysis.Demand), second.Active)
}
