// Package simulation is the live dispatch view: the socket client, the
// animation engine and the static taxi and order scene on one surface.
package simulation

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/sudorandom/taxi-stream/pkg/animation"
	"github.com/sudorandom/taxi-stream/pkg/clock"
	"github.com/sudorandom/taxi-stream/pkg/dispatch"
	"github.com/sudorandom/taxi-stream/pkg/mapview"
	"github.com/sudorandom/taxi-stream/pkg/render"
)

// Logf receives view lifecycle messages.
var Logf = log.Printf

// DefaultHideDelay is how long a completed order's pins stay up.
const DefaultHideDelay = time.Second

var ErrUnmounted = errors.New("simulation: view already unmounted")

type Config struct {
	Animation animation.Config
	HideDelay time.Duration
	// ShowDemand draws the demand_update hexagons.
	ShowDemand bool
	// UseProximity and UseSupplyDemand only select the algorithm badge.
	UseProximity    bool
	UseSupplyDemand bool
}

// Status is what the connectivity and algorithm badges show.
type Status struct {
	Connected  bool   `json:"connected"`
	Badge      string `json:"badge"`
	BadgeColor string `json:"badge_color"`
	Taxis      int    `json:"taxis"`
	Orders     int    `json:"orders"`
	Animating  int    `json:"animating"`
	Hexagons   int    `json:"hexagons"`
}

// View owns one client and one engine for its mounted lifetime.
type View struct {
	cfg     Config
	clock   clock.Clock
	surface *mapview.Surface
	client  *dispatch.Client
	engine  *animation.Engine

	mu         sync.Mutex
	state      dispatch.WorldState
	demand     []dispatch.DemandHexagon
	hidden     map[string]bool
	hideTimers map[string]clock.Timer
	connected  bool
	mounted    bool
	unmounted  bool
	cancel     context.CancelFunc
	done       chan struct{}
}

// NewView wires client and engine to surface. client may be nil, in which
// case state is fed through HandleState and nothing is acknowledged.
func NewView(surface *mapview.Surface, client *dispatch.Client, c clock.Clock, cfg Config) *View {
	if c == nil {
		c = clock.Real{}
	}
	if cfg.HideDelay <= 0 {
		cfg.HideDelay = DefaultHideDelay
	}
	v := &View{
		cfg:        cfg,
		clock:      c,
		surface:    surface,
		client:     client,
		hidden:     make(map[string]bool),
		hideTimers: make(map[string]clock.Timer),
	}
	var acker animation.Acker
	if client != nil {
		acker = client
	}
	v.engine = animation.NewEngine(c, surface, acker, cfg.Animation)
	v.engine.OnComplete = v.completed
	return v
}

// Engine exposes the animation engine for inspection.
func (v *View) Engine() *animation.Engine { return v.engine }

// Mount starts the socket client. The connection lives until Unmount.
func (v *View) Mount(ctx context.Context) error {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.unmounted {
		return ErrUnmounted
	}
	if v.mounted {
		return nil
	}
	v.mounted = true
	if v.client == nil {
		return nil
	}

	v.client.OnState = v.HandleState
	v.client.OnDemand = v.HandleDemand
	v.client.OnConnection = v.setConnected

	ctx, v.cancel = context.WithCancel(ctx)
	v.done = make(chan struct{})
	go func() {
		defer close(v.done)
		if err := v.client.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			Logf("[simulation] Dispatch client stopped: %v", err)
		}
	}()
	return nil
}

// Unmount closes the connection, cancels every animation timer and removes
// everything the view drew.
func (v *View) Unmount() {
	v.mu.Lock()
	if v.unmounted {
		v.mu.Unlock()
		return
	}
	v.unmounted = true
	cancel, done := v.cancel, v.done
	for id, t := range v.hideTimers {
		t.Stop()
		delete(v.hideTimers, id)
	}
	v.mu.Unlock()

	if cancel != nil {
		cancel()
		<-done
	}
	v.engine.Close()
	for _, g := range []string{mapview.GroupTaxis, mapview.GroupOrders, mapview.GroupDemand} {
		v.surface.ReplaceGroup(g, nil)
	}
}

func (v *View) setConnected(up bool) {
	v.mu.Lock()
	v.connected = up
	v.mu.Unlock()
}

// HandleState replaces the world state, starts animations for new
// assignments and redraws the static scene.
func (v *View) HandleState(ws dispatch.WorldState) {
	v.mu.Lock()
	if v.unmounted {
		v.mu.Unlock()
		return
	}
	v.state = ws
	v.mu.Unlock()

	v.engine.Sync(ws.Assignments)
	v.redraw()
}

// HandleDemand replaces the demand overlay.
func (v *View) HandleDemand(hexagons []dispatch.DemandHexagon) {
	v.mu.Lock()
	if v.unmounted {
		v.mu.Unlock()
		return
	}
	v.demand = hexagons
	v.mu.Unlock()
	v.redrawDemand()
}

// SetShowDemand switches the demand overlay.
func (v *View) SetShowDemand(show bool) {
	v.mu.Lock()
	v.cfg.ShowDemand = show
	v.mu.Unlock()
	v.redrawDemand()
}

func (v *View) completed(orderID string) {
	v.mu.Lock()
	if !v.unmounted {
		v.hideTimers[orderID] = v.clock.AfterFunc(v.cfg.HideDelay, func() { v.hide(orderID) })
	}
	v.mu.Unlock()
	v.redraw()
}

func (v *View) hide(orderID string) {
	v.mu.Lock()
	if v.unmounted {
		v.mu.Unlock()
		return
	}
	v.hidden[orderID] = true
	delete(v.hideTimers, orderID)
	v.mu.Unlock()
	v.redraw()
}

// Hidden reports whether a completed order's pins were taken down.
func (v *View) Hidden(orderID string) bool {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.hidden[orderID]
}

// animatingTaxis are taxis with an assignment this client has not finished.
func (v *View) animatingTaxis(ws dispatch.WorldState) map[string]bool {
	out := make(map[string]bool)
	for _, a := range ws.Assignments {
		if !v.engine.Completed(a.OrderID) {
			out[a.TaxiID] = true
		}
	}
	return out
}

func (v *View) redraw() {
	v.mu.Lock()
	if v.unmounted {
		v.mu.Unlock()
		return
	}
	ws := v.state
	hidden := make(map[string]bool, len(v.hidden))
	for id := range v.hidden {
		hidden[id] = true
	}
	v.mu.Unlock()

	busy := v.animatingTaxis(ws)
	var taxis []render.Drawable
	for _, t := range ws.Taxis {
		if busy[t.ID] {
			continue
		}
		icon := render.IconTaxiBusy
		if t.Status == dispatch.TaxiFree {
			icon = render.IconTaxiFree
		}
		taxis = append(taxis, &render.Marker{At: t.Location.Point(), Icon: icon, Popup: "Taxi " + t.ID})
	}

	var orders []render.Drawable
	for _, o := range ws.Orders {
		switch o.Status {
		case dispatch.OrderPending:
			if o.Pickup != nil {
				orders = append(orders, &render.Marker{At: o.Pickup.Point(), Icon: render.IconOrderPending, Popup: "Order " + o.ID})
			}
		case dispatch.OrderAssigned, dispatch.OrderCompleted:
			if hidden[o.ID] || o.Pickup == nil || o.Dropoff == nil {
				continue
			}
			orders = append(orders,
				&render.Marker{At: o.Pickup.Point(), Icon: render.IconOrderPickup, Popup: "Pickup " + o.ID},
				&render.Marker{At: o.Dropoff.Point(), Icon: render.IconOrderDropoff, Popup: "Dropoff " + o.ID},
			)
		}
	}

	v.surface.ReplaceGroup(mapview.GroupTaxis, taxis)
	v.surface.ReplaceGroup(mapview.GroupOrders, orders)
}

func (v *View) redrawDemand() {
	v.mu.Lock()
	if v.unmounted {
		v.mu.Unlock()
		return
	}
	show, hexes := v.cfg.ShowDemand, v.demand
	v.mu.Unlock()

	var out []render.Drawable
	if show {
		for _, h := range hexes {
			if p := demandPolygon(h); p != nil {
				out = append(out, p)
			}
		}
	}
	v.surface.ReplaceGroup(mapview.GroupDemand, out)
}

func demandPolygon(h dispatch.DemandHexagon) *render.Polygon {
	if len(h.Boundary) < 3 {
		Logf("[simulation] Skipping demand hexagon %q with %d vertices", h.HexID, len(h.Boundary))
		return nil
	}
	poly := &render.Polygon{
		Style: render.Style{Stroke: h.Color, StrokeWidth: 1, StrokeOpacity: 0.8, Fill: h.Color, FillOpacity: 0.6},
	}
	for _, p := range h.Boundary {
		poly.Ring = append(poly.Ring, render.LatLng(p[0], p[1]))
	}
	if !poly.Ring.Closed() {
		poly.Ring = append(poly.Ring, poly.Ring[0])
	}
	short := h.HexID
	if len(short) > 8 {
		short = short[:8] + "..."
	}
	poly.Popup = fmt.Sprintf("Demand Level: %s\nOrders: %d\nTaxis: %d\nRatio: %s\nH3: %s",
		h.DemandLevel, h.OrdersCount, h.TaxisCount, h.Ratio(), short)
	return poly
}

// Status summarises the view for the badges.
func (v *View) Status() Status {
	v.mu.Lock()
	s := Status{
		Connected: v.connected,
		Taxis:     len(v.state.Taxis),
		Orders:    len(v.state.Orders),
		Hexagons:  len(v.demand),
	}
	s.Badge, s.BadgeColor = dispatch.AlgorithmBadge(v.cfg.UseProximity, v.cfg.UseSupplyDemand)
	v.mu.Unlock()
	s.Animating = len(v.engine.Active())
	return s
}
