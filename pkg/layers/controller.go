// Package layers tracks which analysis layers are switched on.
package layers

import (
	"log"
	"math"
	"sync"

	"github.com/sudorandom/taxi-stream/pkg/analysis"
)

// Logf receives warnings about rejected layer ids.
var Logf = log.Printf

// DefaultActive is the layer set before the user changes anything.
var DefaultActive = []analysis.LayerID{analysis.Routes}

// DefaultMaxConcurrent caps EnableWithLimit when limit is not positive.
const DefaultMaxConcurrent = 3

// Clearer is implemented by *analysis.Store.
type Clearer interface {
	Clear()
}

// Controller owns the active layer set. The set is always a subset of the
// layers with data in the current dataset.
type Controller struct {
	mu     sync.RWMutex
	ds     *analysis.Dataset
	active map[analysis.LayerID]bool
	store  Clearer

	bus *bus
}

// NewController starts with DefaultActive. store may be nil; when set, Reset
// clears it too.
func NewController(store Clearer) *Controller {
	c := &Controller{store: store, bus: newBus()}
	c.active = defaultSet()
	return c
}

func defaultSet() map[analysis.LayerID]bool {
	m := make(map[analysis.LayerID]bool, len(DefaultActive))
	for _, id := range DefaultActive {
		m[id] = true
	}
	return m
}

// validLocked reports whether id has data in the current dataset.
func (c *Controller) validLocked(id analysis.LayerID) bool {
	return c.ds != nil && c.ds.HasData(id)
}

// SetDataset installs a newly loaded dataset and drops active layers that no
// longer have data.
func (c *Controller) SetDataset(ds *analysis.Dataset) {
	c.mu.Lock()
	c.ds = ds
	for id := range c.active {
		if !c.validLocked(id) {
			Logf("[layers] Dropping active layer %q: no data in new dataset", id)
			delete(c.active, id)
		}
	}
	snap := c.activeLocked()
	c.mu.Unlock()
	c.bus.publish(Change{Reason: ReasonDataset, Active: snap})
}

// Dataset returns the dataset the controller validates against.
func (c *Controller) Dataset() *analysis.Dataset {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.ds
}

// Toggle flips id and reports whether it is now active. Ids without data are
// ignored with a warning.
func (c *Controller) Toggle(id analysis.LayerID) bool {
	c.mu.Lock()
	if !c.validLocked(id) {
		on := c.active[id]
		c.mu.Unlock()
		Logf("[layers] Layer %q does not exist", id)
		return on
	}
	if c.active[id] {
		delete(c.active, id)
	} else {
		c.active[id] = true
	}
	on := c.active[id]
	snap := c.activeLocked()
	c.mu.Unlock()
	c.bus.publish(Change{Reason: ReasonToggle, Layer: id, Active: snap})
	return on
}

// SetActive replaces the active set with the valid members of ids.
func (c *Controller) SetActive(ids []analysis.LayerID) {
	c.mu.Lock()
	next := make(map[analysis.LayerID]bool, len(ids))
	for _, id := range ids {
		if !c.validLocked(id) {
			Logf("[layers] Ignoring invalid layer %q", id)
			continue
		}
		next[id] = true
	}
	c.active = next
	snap := c.activeLocked()
	c.mu.Unlock()
	c.bus.publish(Change{Reason: ReasonSet, Active: snap})
}

// EnableAll activates every layer with data.
func (c *Controller) EnableAll() {
	c.SetActive(c.Available())
}

// ClearAll deactivates everything.
func (c *Controller) ClearAll() {
	c.SetActive(nil)
}

// EnableWithLimit activates the first limit valid ids from ids.
func (c *Controller) EnableWithLimit(ids []analysis.LayerID, limit int) {
	if limit <= 0 {
		limit = DefaultMaxConcurrent
	}
	c.mu.RLock()
	var keep []analysis.LayerID
	for _, id := range ids {
		if len(keep) == limit {
			break
		}
		if c.validLocked(id) {
			keep = append(keep, id)
		}
	}
	c.mu.RUnlock()
	c.SetActive(keep)
}

// Reset forgets the dataset, restores the default set and clears the store.
func (c *Controller) Reset() {
	c.mu.Lock()
	c.ds = nil
	c.active = defaultSet()
	snap := c.activeLocked()
	store := c.store
	c.mu.Unlock()
	if store != nil {
		store.Clear()
	}
	c.bus.publish(Change{Reason: ReasonReset, Active: snap})
}

// Active returns the active layers in canonical order.
func (c *Controller) Active() []analysis.LayerID {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.activeLocked()
}

func (c *Controller) activeLocked() []analysis.LayerID {
	out := make([]analysis.LayerID, 0, len(c.active))
	for _, id := range analysis.AllLayers {
		if c.active[id] {
			out = append(out, id)
		}
	}
	return out
}

func (c *Controller) IsActive(id analysis.LayerID) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.active[id]
}

// Available lists the layers that have data.
func (c *Controller) Available() []analysis.LayerID {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.ds == nil {
		return nil
	}
	return c.ds.NonEmpty()
}

// Recommended suggests layers for a zoom level, restricted to those with
// data. Denser layers are only suggested once the map is zoomed in.
func (c *Controller) Recommended(zoom float64) []analysis.LayerID {
	rec := []analysis.LayerID{analysis.Routes}
	if zoom > 12 {
		rec = append(rec, analysis.Demand, analysis.Availability)
	}
	if zoom > 14 {
		rec = append(rec, analysis.Violations, analysis.TrafficJams)
	}
	if zoom > 16 {
		rec = append(rec, analysis.Anomalies)
	}

	c.mu.RLock()
	defer c.mu.RUnlock()
	out := rec[:0]
	for _, id := range rec {
		if c.validLocked(id) {
			out = append(out, id)
		}
	}
	return out
}

type LayerStats struct {
	ID      analysis.LayerID `json:"id"`
	Count   int              `json:"count"`
	Active  bool             `json:"active"`
	HasData bool             `json:"has_data"`
}

type Stats struct {
	Layers           []LayerStats `json:"layers"`
	TotalLayers      int          `json:"total_layers"`
	ActiveLayers     int          `json:"active_layers"`
	TotalDataPoints  int          `json:"total_data_points"`
	ActiveDataPoints int          `json:"active_data_points"`
	// MemoryEstimateKB is a rough 0.1 KB per active record.
	MemoryEstimateKB int `json:"memory_estimate_kb"`
}

// Stats reports counts for layers with data.
func (c *Controller) Stats() Stats {
	c.mu.RLock()
	defer c.mu.RUnlock()
	var s Stats
	if c.ds == nil {
		return s
	}
	for _, id := range c.ds.NonEmpty() {
		n := c.ds.Count(id)
		ls := LayerStats{ID: id, Count: n, Active: c.active[id], HasData: true}
		s.Layers = append(s.Layers, ls)
		s.TotalLayers++
		s.TotalDataPoints += n
		if ls.Active {
			s.ActiveLayers++
			s.ActiveDataPoints += n
		}
	}
	s.MemoryEstimateKB = int(math.Round(float64(s.ActiveDataPoints) * 0.1))
	return s
}

// Subscribe returns a channel of changes. Slow subscribers miss events.
func (c *Controller) Subscribe() chan Change { return c.bus.subscribe() }

// Unsubscribe removes and closes ch.
func (c *Controller) Unsubscribe(ch chan Change) { c.bus.unsubscribe(ch) }
