package mapview

import (
	"sort"
	"sync"

	"github.com/paulmach/orb"

	"github.com/sudorandom/taxi-stream/pkg/analysis"
	"github.com/sudorandom/taxi-stream/pkg/render"
)

type Status int

const (
	StatusReady Status = iota
	StatusLoading
	StatusError
)

func (s Status) String() string {
	switch s {
	case StatusLoading:
		return "loading"
	case StatusError:
		return "error"
	}
	return "ready"
}

// Overlay groups used by the dispatch simulation. They draw above the
// analysis layers in this order.
const (
	GroupDemand     = "demand"
	GroupTaxis      = "taxis"
	GroupOrders     = "orders"
	GroupAnimations = "animations"
)

var overlayOrder = []string{GroupDemand, GroupTaxis, GroupOrders, GroupAnimations}

// layerOrder puts density surfaces under polygons under points.
var layerOrder = []analysis.LayerID{
	analysis.SpeedZones, analysis.Routes,
	analysis.Demand, analysis.Availability,
	analysis.TrafficJams, analysis.Violations, analysis.Anomalies,
}

// Handle identifies an overlay primitive.
type Handle uint64

type layerGroup struct {
	data      analysis.Layer
	active    bool
	drawables []render.Drawable
	builds    int
}

type overlay struct {
	group    string
	seq      uint64
	drawable render.Drawable
}

// Surface is the single map view. Analysis layers are mounted per layer id
// from a dataset and active set; overlays are added and removed individually
// by the simulation.
type Surface struct {
	mu      sync.RWMutex
	presets *render.Presets
	basemap Basemap

	view   Viewport
	status Status
	err    string

	ds       *analysis.Dataset
	groups   map[analysis.LayerID]*layerGroup
	overlays map[Handle]*overlay
	nextID   Handle
}

func NewSurface(width, height int, presets *render.Presets) *Surface {
	if presets == nil {
		presets = render.DefaultPresets()
	}
	return &Surface{
		presets:  presets,
		basemap:  OpenStreetMap,
		view:     Viewport{Center: DefaultCenter, Zoom: DefaultZoom, Width: width, Height: height},
		groups:   make(map[analysis.LayerID]*layerGroup),
		overlays: make(map[Handle]*overlay),
	}
}

func (s *Surface) SetBasemap(b Basemap) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.basemap = b
}

// Presets returns the renderer styling the surface mounts layers with.
func (s *Surface) Presets() *render.Presets { return s.presets }

func (s *Surface) Basemap() Basemap {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.basemap
}

func (s *Surface) Viewport() Viewport {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.view
}

// SetView moves the camera.
func (s *Surface) SetView(center orb.Point, zoom float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.view.Center = center
	s.view.Zoom = zoom
}

// Resize changes the pixel size of the viewport.
func (s *Surface) Resize(width, height int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.view.Width, s.view.Height = width, height
}

func (s *Surface) SetLoading() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.status, s.err = StatusLoading, ""
}

func (s *Surface) SetError(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.status, s.err = StatusError, err.Error()
}

func (s *Surface) Status() (Status, string) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.status, s.err
}

// Show mounts a dataset. A dataset different from the current one refits the
// viewport to its bounds. The surface becomes ready.
func (s *Surface) Show(ds *analysis.Dataset, active []analysis.LayerID) {
	s.mu.Lock()
	if ds != nil && ds != s.ds {
		b := ds.Metadata.Bounds
		s.view = s.view.Fit(orb.Bound{
			Min: orb.Point{b.LngMin, b.LatMin},
			Max: orb.Point{b.LngMax, b.LatMax},
		}, FitPadding, FitMaxZoom)
	}
	s.ds = ds
	s.status, s.err = StatusReady, ""
	s.syncLocked(active)
	s.mu.Unlock()
}

// Sync mounts or unmounts each layer renderer to match the active set. A
// layer whose data and active flag are unchanged is left alone; otherwise its
// previous drawables are dropped before the new ones are built.
func (s *Surface) Sync(active []analysis.LayerID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.syncLocked(active)
}

func (s *Surface) syncLocked(active []analysis.LayerID) {
	on := make(map[analysis.LayerID]bool, len(active))
	for _, id := range active {
		on[id] = true
	}
	for _, id := range analysis.AllLayers {
		data, _ := s.ds.Layer(id)
		isActive := on[id] && data != nil
		g, ok := s.groups[id]
		if !ok {
			g = &layerGroup{}
			s.groups[id] = g
		}
		if g.data == data && g.active == isActive && g.builds > 0 {
			continue
		}
		g.drawables = nil
		res := render.Layer(data, isActive, s.presets)
		g.drawables = res.Drawables
		g.data = data
		g.active = isActive
		g.builds++
	}
}

// Mounted returns the drawables currently mounted for a layer.
func (s *Surface) Mounted(id analysis.LayerID) []render.Drawable {
	s.mu.RLock()
	defer s.mu.RUnlock()
	g, ok := s.groups[id]
	if !ok {
		return nil
	}
	return append([]render.Drawable(nil), g.drawables...)
}

// Builds reports how many times a layer's drawables were rebuilt.
func (s *Surface) Builds(id analysis.LayerID) int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if g, ok := s.groups[id]; ok {
		return g.builds
	}
	return 0
}

// Clear unmounts the dataset and every analysis layer.
func (s *Surface) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ds = nil
	s.groups = make(map[analysis.LayerID]*layerGroup)
}

func (s *Surface) add(group string, d render.Drawable) Handle {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextID++
	s.overlays[s.nextID] = &overlay{group: group, seq: uint64(s.nextID), drawable: d}
	return s.nextID
}

// AddMarker places a marker in an overlay group.
func (s *Surface) AddMarker(group string, m render.Marker) Handle {
	return s.add(group, &m)
}

// AddPolyline places a path in an overlay group.
func (s *Surface) AddPolyline(group string, p render.Polyline) Handle {
	return s.add(group, &p)
}

// AddPolygon places a polygon in an overlay group.
func (s *Surface) AddPolygon(group string, p render.Polygon) Handle {
	return s.add(group, &p)
}

// MoveMarker repositions a marker. It reports false for unknown handles.
func (s *Surface) MoveMarker(h Handle, at orb.Point) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	o, ok := s.overlays[h]
	if !ok {
		return false
	}
	m, ok := o.drawable.(*render.Marker)
	if !ok {
		return false
	}
	next := *m
	next.At = at
	o.drawable = &next
	return true
}

// SetMarkerIcon swaps a marker's icon.
func (s *Surface) SetMarkerIcon(h Handle, icon string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	o, ok := s.overlays[h]
	if !ok {
		return false
	}
	m, ok := o.drawable.(*render.Marker)
	if !ok {
		return false
	}
	next := *m
	next.Icon = icon
	o.drawable = &next
	return true
}

// Remove deletes an overlay primitive. Removing twice is harmless.
func (s *Surface) Remove(h Handle) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.overlays[h]; !ok {
		return false
	}
	delete(s.overlays, h)
	return true
}

// ReplaceGroup swaps every primitive of a group for ds.
func (s *Surface) ReplaceGroup(group string, ds []render.Drawable) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for h, o := range s.overlays {
		if o.group == group {
			delete(s.overlays, h)
		}
	}
	for _, d := range ds {
		s.nextID++
		s.overlays[s.nextID] = &overlay{group: group, seq: uint64(s.nextID), drawable: d}
	}
}

// Overlay returns the drawable behind a handle.
func (s *Surface) Overlay(h Handle) (render.Drawable, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	o, ok := s.overlays[h]
	if !ok {
		return nil, false
	}
	return o.drawable, true
}

// OverlayCount counts the primitives of a group, or of every group when
// group is empty.
func (s *Surface) OverlayCount(group string) int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	n := 0
	for _, o := range s.overlays {
		if group == "" || o.group == group {
			n++
		}
	}
	return n
}

// Placed is a drawable with the layer or group it belongs to.
type Placed struct {
	Group    string
	Drawable render.Drawable
}

// Frame is everything needed to paint the surface once.
type Frame struct {
	Status      Status
	Err         string
	View        Viewport
	Basemap     Basemap
	Attribution string
	Items       []Placed
}

// Snapshot returns the current frame. While loading or failed, no layer or
// overlay is included.
func (s *Surface) Snapshot() Frame {
	s.mu.RLock()
	defer s.mu.RUnlock()
	f := Frame{Status: s.status, Err: s.err, View: s.view, Basemap: s.basemap}
	if s.basemap != nil {
		f.Attribution = s.basemap.Attribution()
	}
	if s.status != StatusReady {
		return f
	}
	for _, id := range layerOrder {
		if g, ok := s.groups[id]; ok {
			for _, d := range g.drawables {
				f.Items = append(f.Items, Placed{Group: string(id), Drawable: d})
			}
		}
	}
	for _, group := range overlayOrder {
		var items []*overlay
		for _, o := range s.overlays {
			if o.group == group {
				items = append(items, o)
			}
		}
		sort.Slice(items, func(i, j int) bool {
			zi, zj := zOffset(items[i].drawable), zOffset(items[j].drawable)
			if zi != zj {
				return zi < zj
			}
			return items[i].seq < items[j].seq
		})
		for _, o := range items {
			f.Items = append(f.Items, Placed{Group: group, Drawable: o.drawable})
		}
	}
	return f
}

func zOffset(d render.Drawable) int {
	if m, ok := d.(*render.Marker); ok {
		return m.ZOffset
	}
	return 0
}
