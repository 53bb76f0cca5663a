// Package animation moves taxi markers along assignment routes, one
// independent state machine per order.
package animation

import (
	"log"
	"sort"
	"sync"
	"time"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geo"

	"github.com/sudorandom/taxi-stream/pkg/clock"
	"github.com/sudorandom/taxi-stream/pkg/dispatch"
	"github.com/sudorandom/taxi-stream/pkg/mapview"
	"github.com/sudorandom/taxi-stream/pkg/render"
)

// Logf receives lifecycle warnings.
var Logf = log.Printf

const (
	DefaultStepDelay  = 200 * time.Millisecond
	DefaultGraceDelay = 800 * time.Millisecond
	// DefaultSpeed is used when pacing by distance, in meters per second.
	DefaultSpeed = 15.0

	// MarkerZOffset keeps moving taxis above every other marker.
	MarkerZOffset = 1000

	minPacedDelay = 10 * time.Millisecond
)

type State int

const (
	Absent State = iota
	ToPickup
	ToDropoff
	CompletedPendingCleanup
)

func (s State) String() string {
	switch s {
	case ToPickup:
		return "animating-to-pickup"
	case ToDropoff:
		return "animating-to-dropoff"
	case CompletedPendingCleanup:
		return "completed-pending-cleanup"
	}
	return "absent"
}

// Canvas is the part of the map surface the engine draws on.
type Canvas interface {
	AddMarker(group string, m render.Marker) mapview.Handle
	MoveMarker(h mapview.Handle, at orb.Point) bool
	SetMarkerIcon(h mapview.Handle, icon string) bool
	AddPolyline(group string, p render.Polyline) mapview.Handle
	Remove(h mapview.Handle) bool
}

// Acker tells the server an animation finished. *dispatch.Client implements
// it.
type Acker interface {
	CompleteAssignment(orderID string) error
}

type Config struct {
	StepDelay  time.Duration
	GraceDelay time.Duration
	// PaceByDistance times each step by the distance to the next waypoint at
	// Speed instead of using the fixed StepDelay.
	PaceByDistance bool
	Speed          float64
}

func (c Config) withDefaults() Config {
	if c.StepDelay <= 0 {
		c.StepDelay = DefaultStepDelay
	}
	if c.GraceDelay <= 0 {
		c.GraceDelay = DefaultGraceDelay
	}
	if c.Speed <= 0 {
		c.Speed = DefaultSpeed
	}
	return c
}

// RouteColors returns the pickup and dropoff leg colors for an algorithm tag.
func RouteColors(algorithm string) (pickup, dropoff string) {
	const dropoffColor = "#22c55e"
	switch algorithm {
	case dispatch.AlgorithmProximity:
		return "#3b82f6", dropoffColor
	case dispatch.AlgorithmDemand:
		return "#f59e0b", dropoffColor
	case dispatch.AlgorithmHybrid:
		return "#10b981", dropoffColor
	}
	return "blue", dropoffColor
}

func legStyle(state State, algorithm string) render.Style {
	pickup, dropoff := RouteColors(algorithm)
	s := render.Style{StrokeWidth: 3, StrokeOpacity: 0.8}
	if state == ToPickup {
		s.Stroke = pickup
		s.Dash = []float64{5, 5}
	} else {
		s.Stroke = dropoff
	}
	return s
}

type handle struct {
	orderID   string
	taxiID    string
	algorithm string
	pickup    orb.LineString
	dropoff   orb.LineString

	state  State
	leg    orb.LineString
	step   int
	marker mapview.Handle
	line   mapview.Handle
	timer  clock.Timer
	dead   bool
}

// Engine runs every in-flight assignment animation. It is safe for use from
// multiple goroutines; timer callbacks take the same lock.
type Engine struct {
	// OnComplete runs once per order after its dropoff leg finishes, before
	// the server is acknowledged.
	OnComplete func(orderID string)

	mu        sync.Mutex
	clock     clock.Clock
	canvas    Canvas
	acker     Acker
	cfg       Config
	handles   map[string]*handle
	completed map[string]bool
	closed    bool
}

// NewEngine returns an engine drawing on canvas. acker may be nil.
func NewEngine(c clock.Clock, canvas Canvas, acker Acker, cfg Config) *Engine {
	if c == nil {
		c = clock.Real{}
	}
	return &Engine{
		clock:     c,
		canvas:    canvas,
		acker:     acker,
		cfg:       cfg.withDefaults(),
		handles:   make(map[string]*handle),
		completed: make(map[string]bool),
	}
}

// Sync starts an animation for each assignment that is not already running
// or completed. It returns the number started.
func (e *Engine) Sync(assignments []dispatch.Assignment) int {
	n := 0
	for _, a := range assignments {
		if e.Start(a) {
			n++
		}
	}
	return n
}

// Start begins animating a. It does nothing, returning false, when the order
// already has a handle, was completed by this engine, or lacks either route.
func (e *Engine) Start(a dispatch.Assignment) bool {
	e.mu.Lock()
	if e.closed || e.completed[a.OrderID] || e.handles[a.OrderID] != nil {
		e.mu.Unlock()
		return false
	}
	if a.ToPickupRoute == nil || a.ToPickupRoute.Path == nil || a.ToDropoffRoute == nil || a.ToDropoffRoute.Path == nil {
		e.mu.Unlock()
		Logf("[animation] Assignment for order %q has no route, not animating", a.OrderID)
		return false
	}

	h := &handle{
		orderID:   a.OrderID,
		taxiID:    a.TaxiID,
		algorithm: a.AlgorithmUsed,
		pickup:    a.ToPickupRoute.Line(),
		dropoff:   a.ToDropoffRoute.Line(),
	}
	e.handles[h.orderID] = h
	if start, ok := firstPoint(h.pickup, h.dropoff); ok {
		h.marker = e.canvas.AddMarker(mapview.GroupAnimations, render.Marker{
			At:      start,
			Icon:    render.IconTaxiBusy,
			Popup:   "Taxi " + h.taxiID,
			ZOffset: MarkerZOffset,
		})
	}
	done := e.startLegLocked(h, ToPickup)
	e.mu.Unlock()

	if done {
		e.notify(h.orderID)
	}
	return true
}

func firstPoint(legs ...orb.LineString) (orb.Point, bool) {
	for _, l := range legs {
		if len(l) > 0 {
			return l[0], true
		}
	}
	return orb.Point{}, false
}

// startLegLocked draws the leg and takes its first step. It reports whether
// the animation completed without needing a timer.
func (e *Engine) startLegLocked(h *handle, state State) bool {
	h.state = state
	h.step = 0
	if state == ToPickup {
		h.leg = h.pickup
	} else {
		h.leg = h.dropoff
	}
	if len(h.leg) == 0 {
		return e.finishLegLocked(h)
	}
	h.line = e.canvas.AddPolyline(mapview.GroupAnimations, render.Polyline{
		Line:  h.leg,
		Style: legStyle(state, h.algorithm),
	})
	return e.stepLocked(h)
}

func (e *Engine) stepLocked(h *handle) bool {
	if h.step >= len(h.leg) {
		return e.finishLegLocked(h)
	}
	if h.marker != 0 {
		e.canvas.MoveMarker(h.marker, h.leg[h.step])
	}
	h.step++
	h.timer = e.clock.AfterFunc(e.delay(h), func() { e.tick(h) })
	return false
}

// delay is the wait after reaching leg[step-1].
func (e *Engine) delay(h *handle) time.Duration {
	if !e.cfg.PaceByDistance || h.step >= len(h.leg) {
		return e.cfg.StepDelay
	}
	meters := geo.Distance(h.leg[h.step-1], h.leg[h.step])
	d := time.Duration(meters / e.cfg.Speed * float64(time.Second))
	if d < minPacedDelay {
		d = minPacedDelay
	}
	return d
}

func (e *Engine) finishLegLocked(h *handle) bool {
	if h.line != 0 {
		e.canvas.Remove(h.line)
		h.line = 0
	}
	if h.state == ToPickup {
		return e.startLegLocked(h, ToDropoff)
	}

	h.state = CompletedPendingCleanup
	e.completed[h.orderID] = true
	if h.marker != 0 {
		e.canvas.SetMarkerIcon(h.marker, render.IconTaxiFree)
	}
	h.timer = e.clock.AfterFunc(e.cfg.GraceDelay, func() { e.cleanup(h) })
	return true
}

func (e *Engine) tick(h *handle) {
	e.mu.Lock()
	if h.dead {
		e.mu.Unlock()
		return
	}
	h.timer = nil
	done := e.stepLocked(h)
	e.mu.Unlock()

	if done {
		e.notify(h.orderID)
	}
}

func (e *Engine) notify(orderID string) {
	if e.OnComplete != nil {
		e.OnComplete(orderID)
	}
	if e.acker == nil {
		return
	}
	if err := e.acker.CompleteAssignment(orderID); err != nil {
		Logf("[animation] Failed to acknowledge order %q: %v", orderID, err)
	}
}

func (e *Engine) cleanup(h *handle) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if h.dead {
		return
	}
	e.teardownLocked(h)
}

func (e *Engine) teardownLocked(h *handle) {
	h.dead = true
	if h.timer != nil {
		h.timer.Stop()
		h.timer = nil
	}
	if h.line != 0 {
		e.canvas.Remove(h.line)
		h.line = 0
	}
	if h.marker != 0 {
		e.canvas.Remove(h.marker)
		h.marker = 0
	}
	h.state = Absent
	if e.handles[h.orderID] == h {
		delete(e.handles, h.orderID)
	}
}

// Cancel tears down one order's animation. Other orders are unaffected. A
// cancelled order that never completed may be started again.
func (e *Engine) Cancel(orderID string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	h, ok := e.handles[orderID]
	if !ok {
		return false
	}
	e.teardownLocked(h)
	return true
}

// Close stops every timer and removes every drawable. The engine starts
// nothing afterwards.
func (e *Engine) Close() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.closed = true
	for _, h := range e.handles {
		e.teardownLocked(h)
	}
}

// State reports where an order's animation is.
func (e *Engine) State(orderID string) State {
	e.mu.Lock()
	defer e.mu.Unlock()
	if h, ok := e.handles[orderID]; ok {
		return h.state
	}
	return Absent
}

// Completed reports whether this engine finished animating the order.
func (e *Engine) Completed(orderID string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.completed[orderID]
}

// Active lists the orders that currently hold a handle, sorted.
func (e *Engine) Active() []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]string, 0, len(e.handles))
	for id := range e.handles {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

// Animating reports whether a taxi is being moved by a running animation.
func (e *Engine) Animating(taxiID string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	for _, h := range e.handles {
		if h.taxiID == taxiID {
			return true
		}
	}
	return false
}
