// Package analysis loads, validates and caches the fleet analytics payload
// that backs the map layers.
package analysis

import "sort"

// LayerID names one of the fixed analysis layers.
type LayerID string

const (
	Routes       LayerID = "routes"
	TrafficJams  LayerID = "traffic_jams"
	Demand       LayerID = "demand"
	Availability LayerID = "availability"
	Violations   LayerID = "violations"
	SpeedZones   LayerID = "speed_zones"
	Anomalies    LayerID = "anomalies"
)

// AllLayers lists every layer in canonical order.
var AllLayers = []LayerID{Routes, TrafficJams, Demand, Availability, Violations, SpeedZones, Anomalies}

var layerDescriptions = map[LayerID]string{
	Routes:       "High-density taxi movement patterns",
	Demand:       "Passenger demand zones with H3 hexagons",
	Availability: "Available driver locations with anomaly detection",
	Violations:   "Speed limit violations (>60 km/h)",
	Anomalies:    "Anomaly detection (speed, geographic, altitude)",
	TrafficJams:  "Congestion areas (top 30)",
	SpeedZones:   "Speed pattern visualization",
}

// ParseLayerID reports whether s names a known layer.
func ParseLayerID(s string) (LayerID, bool) {
	id := LayerID(s)
	_, ok := layerDescriptions[id]
	return id, ok
}

// Description returns the human readable summary of the layer.
func (id LayerID) Description() string { return layerDescriptions[id] }

func (id LayerID) order() int {
	for i, l := range AllLayers {
		if l == id {
			return i
		}
	}
	return len(AllLayers)
}

// SortLayers orders ids canonically in place.
func SortLayers(ids []LayerID) {
	sort.SliceStable(ids, func(i, j int) bool { return ids[i].order() < ids[j].order() })
}

// Kind is the shape family of a layer.
type Kind int

const (
	KindHeatmap Kind = iota
	KindHexGrid
	KindPoints
)

func (k Kind) String() string {
	switch k {
	case KindHeatmap:
		return "heatmap"
	case KindHexGrid:
		return "hexagonal_grid"
	case KindPoints:
		return "points"
	}
	return "unknown"
}

// KindOf returns the shape family a layer id decodes to.
func KindOf(id LayerID) Kind {
	switch id {
	case Routes, SpeedZones:
		return KindHeatmap
	case Demand, Availability:
		return KindHexGrid
	default:
		return KindPoints
	}
}

type Bounds struct {
	LatMin    float64 `json:"lat_min"`
	LatMax    float64 `json:"lat_max"`
	LngMin    float64 `json:"lng_min"`
	LngMax    float64 `json:"lng_max"`
	CenterLat float64 `json:"center_lat"`
	CenterLng float64 `json:"center_lng"`
}

type Metadata struct {
	TotalRecords      int64  `json:"total_records"`
	UniqueDrivers     int64  `json:"unique_drivers"`
	Bounds            Bounds `json:"bounds"`
	AnalysisTimestamp string `json:"analysis_timestamp"`
}

// Layer is one decoded layer. The concrete type is fixed by the layer id:
// *HeatmapLayer, *HexGridLayer, *ViolationsLayer, *AnomaliesLayer or
// *TrafficJamsLayer.
type Layer interface {
	ID() LayerID
	Len() int
	isLayer()
}

// HeatPoint is a weighted sample.
type HeatPoint struct {
	Lat, Lng, Intensity float64
	err                 error
}

// Err reports a decode problem found outside the validation sample.
func (p HeatPoint) Err() error { return p.err }

type HeatmapLayer struct {
	Layer        LayerID     `json:"-"`
	Type         string      `json:"type"`
	Points       []HeatPoint `json:"-"`
	SampleSize   int64       `json:"sample_size,omitempty"`
	TotalRecords int64       `json:"total_records,omitempty"`
}

func (l *HeatmapLayer) ID() LayerID { return l.Layer }
func (l *HeatmapLayer) Len() int    { return len(l.Points) }
func (*HeatmapLayer) isLayer()      {}

// Hexagon is one H3 cell. Demand cells carry DemandLevel, availability cells
// carry AvailabilityLevel and IsAnomaly.
type Hexagon struct {
	HexID             string       `json:"hex_id"`
	Boundary          [][2]float64 `json:"boundary"`
	Center            [2]float64   `json:"center"`
	Color             string       `json:"color"`
	Records           int64        `json:"records"`
	Drivers           int64        `json:"drivers"`
	DemandLevel       string       `json:"demand_level,omitempty"`
	AvailabilityLevel string       `json:"availability_level,omitempty"`
	IsAnomaly         bool         `json:"is_anomaly,omitempty"`
	err               error
}

func (h Hexagon) Err() error { return h.err }

type HexGridLayer struct {
	Layer            LayerID   `json:"-"`
	Type             string    `json:"type"`
	Hexagons         []Hexagon `json:"hexagons"`
	H3Resolution     int       `json:"h3_resolution,omitempty"`
	AnomalyThreshold float64   `json:"anomaly_threshold,omitempty"`
}

func (l *HexGridLayer) ID() LayerID { return l.Layer }
func (l *HexGridLayer) Len() int    { return len(l.Hexagons) }
func (*HexGridLayer) isLayer()      {}

// SpeedLimit is the legal limit violations are measured against, in km/h.
const SpeedLimit = 60

type Violation struct {
	Lat      float64 `json:"lat"`
	Lng      float64 `json:"lng"`
	Speed    float64 `json:"speed"`
	Excess   float64 `json:"excess"`
	DriverID string  `json:"driver_id"`
	err      error
}

func (v Violation) Err() error { return v.err }

type ViolationsLayer struct {
	Records []Violation
}

func (*ViolationsLayer) ID() LayerID { return Violations }
func (l *ViolationsLayer) Len() int  { return len(l.Records) }
func (*ViolationsLayer) isLayer()    {}

// Anomaly sub-types.
const (
	AnomalySpeed      = "speed"
	AnomalyGeographic = "geographic"
	AnomalyAltitude   = "altitude"
)

type Anomaly struct {
	Lat         float64 `json:"lat"`
	Lng         float64 `json:"lng"`
	Type        string  `json:"type"`
	Description string  `json:"description"`
	DriverID    string  `json:"driver_id"`
	err         error
}

func (a Anomaly) Err() error { return a.err }

type AnomaliesLayer struct {
	Records []Anomaly
}

func (*AnomaliesLayer) ID() LayerID { return Anomalies }
func (l *AnomaliesLayer) Len() int  { return len(l.Records) }
func (*AnomaliesLayer) isLayer()    {}

type TrafficJam struct {
	Lat      float64 `json:"lat"`
	Lng      float64 `json:"lng"`
	Severity string  `json:"severity"`
	Color    string  `json:"color"`
	Radius   float64 `json:"radius"`
	Drivers  int64   `json:"drivers"`
	AvgSpeed float64 `json:"avg_speed"`
	Records  int64   `json:"records"`
	err      error
}

func (j TrafficJam) Err() error { return j.err }

type TrafficJamsLayer struct {
	Records []TrafficJam
}

func (*TrafficJamsLayer) ID() LayerID { return TrafficJams }
func (l *TrafficJamsLayer) Len() int  { return len(l.Records) }
func (*TrafficJamsLayer) isLayer()    {}

// Dataset is an immutable, validated analytics payload.
type Dataset struct {
	Metadata Metadata
	layers   map[LayerID]Layer
}

// NewDataset assembles a dataset from already decoded layers.
func NewDataset(md Metadata, layers ...Layer) *Dataset {
	d := &Dataset{Metadata: md, layers: make(map[LayerID]Layer, len(layers))}
	for _, l := range layers {
		d.layers[l.ID()] = l
	}
	return d
}

// Layer returns the layer for id if the payload carried it.
func (d *Dataset) Layer(id LayerID) (Layer, bool) {
	if d == nil {
		return nil, false
	}
	l, ok := d.layers[id]
	return l, ok
}

// Count returns the record count of a layer, zero when absent.
func (d *Dataset) Count(id LayerID) int {
	l, ok := d.Layer(id)
	if !ok {
		return 0
	}
	return l.Len()
}

// NonEmpty lists the layers that have at least one record, canonically
// ordered.
func (d *Dataset) NonEmpty() []LayerID {
	var out []LayerID
	for _, id := range AllLayers {
		if d.Count(id) > 0 {
			out = append(out, id)
		}
	}
	return out
}

// HasData reports whether id is present with at least one record.
func (d *Dataset) HasData(id LayerID) bool { return d.Count(id) > 0 }

func (d *Dataset) Heatmap(id LayerID) (*HeatmapLayer, bool) {
	l, _ := d.Layer(id)
	h, ok := l.(*HeatmapLayer)
	return h, ok
}

func (d *Dataset) HexGrid(id LayerID) (*HexGridLayer, bool) {
	l, _ := d.Layer(id)
	h, ok := l.(*HexGridLayer)
	return h, ok
}

func (d *Dataset) Violations() (*ViolationsLayer, bool) {
	l, _ := d.Layer(Violations)
	v, ok := l.(*ViolationsLayer)
	return v, ok
}

func (d *Dataset) Anomalies() (*AnomaliesLayer, bool) {
	l, _ := d.Layer(Anomalies)
	a, ok := l.(*AnomaliesLayer)
	return a, ok
}

func (d *Dataset) TrafficJams() (*TrafficJamsLayer, bool) {
	l, _ := d.Layer(TrafficJams)
	j, ok := l.(*TrafficJamsLayer)
	return j, ok
}

// LayerInfo summarises one layer of a dataset.
type LayerInfo struct {
	ID          LayerID `json:"id"`
	Count       int     `json:"count"`
	Description string  `json:"description"`
	Present     bool    `json:"present"`
}

// LayerMetadata derives per-layer counts and descriptions from d without any
// I/O.
func LayerMetadata(d *Dataset) []LayerInfo {
	out := make([]LayerInfo, 0, len(AllLayers))
	for _, id := range AllLayers {
		_, present := d.Layer(id)
		out = append(out, LayerInfo{
			ID:          id,
			Count:       d.Count(id),
			Description: id.Description(),
			Present:     present,
		})
	}
	return out
}
