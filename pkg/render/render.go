package render

import (
	"fmt"
	"log"
	"math"
	"strings"

	"github.com/paulmach/orb"

	"github.com/sudorandom/taxi-stream/pkg/analysis"
)

// Logf receives per-record render errors.
var Logf = log.Printf

// RecordError is a single malformed record that was skipped.
type RecordError struct {
	Layer analysis.LayerID
	Index int
	Err   error
}

func (e *RecordError) Error() string {
	return fmt.Sprintf("render %s[%d]: %v", e.Layer, e.Index, e.Err)
}

func (e *RecordError) Unwrap() error { return e.Err }

// Result is the drawable set for one layer plus the records that were skipped.
type Result struct {
	Drawables []Drawable
	Skipped   []*RecordError
}

func (r *Result) skip(id analysis.LayerID, i int, err error) {
	re := &RecordError{Layer: id, Index: i, Err: err}
	Logf("[render] Skipping record: %v", re)
	r.Skipped = append(r.Skipped, re)
}

// Layer renders any analysis layer. Inactive or nil layers draw nothing.
func Layer(l analysis.Layer, active bool, p *Presets) Result {
	if l == nil {
		return Result{}
	}
	switch l := l.(type) {
	case *analysis.HeatmapLayer:
		return Heatmap(l, active, p.HeatFor(l.Layer))
	case *analysis.HexGridLayer:
		return HexGrid(l, active, p)
	case *analysis.ViolationsLayer:
		return Violations(l, active, p)
	case *analysis.AnomaliesLayer:
		return Anomalies(l, active, p)
	case *analysis.TrafficJamsLayer:
		return TrafficJams(l, active, p)
	}
	return Result{}
}

func checkLatLng(lat, lng float64) error {
	if math.IsNaN(lat) || math.IsNaN(lng) || math.IsInf(lat, 0) || math.IsInf(lng, 0) {
		return fmt.Errorf("non-finite coordinate (%v, %v)", lat, lng)
	}
	if lat < -90 || lat > 90 || lng < -180 || lng > 180 {
		return fmt.Errorf("coordinate out of range (%v, %v)", lat, lng)
	}
	return nil
}

// Heatmap renders weighted points as one density surface styled by preset.
func Heatmap(l *analysis.HeatmapLayer, active bool, preset HeatPreset) Result {
	var res Result
	if !active || l == nil {
		return res
	}
	surface := &HeatSurface{Preset: preset, Points: make([]WeightedPoint, 0, len(l.Points))}
	for i, p := range l.Points {
		if err := p.Err(); err != nil {
			res.skip(l.Layer, i, err)
			continue
		}
		if err := checkLatLng(p.Lat, p.Lng); err != nil {
			res.skip(l.Layer, i, err)
			continue
		}
		surface.Points = append(surface.Points, WeightedPoint{Point: LatLng(p.Lat, p.Lng), Weight: p.Intensity})
	}
	if len(surface.Points) > 0 {
		res.Drawables = append(res.Drawables, surface)
	}
	return res
}

// HexGrid renders each hexagon as a polygon filled with its own color.
// Availability anomalies get the anomaly border.
func HexGrid(l *analysis.HexGridLayer, active bool, p *Presets) Result {
	var res Result
	if !active || l == nil {
		return res
	}
	base := p.Hexagon[string(l.Layer)]
	border := p.Hexagon["anomaly_border"]
	for i, h := range l.Hexagons {
		poly, err := hexagonPolygon(l.Layer, h, base, border)
		if err != nil {
			res.skip(l.Layer, i, err)
			continue
		}
		res.Drawables = append(res.Drawables, poly)
	}
	return res
}

func hexagonPolygon(id analysis.LayerID, h analysis.Hexagon, base, border Style) (*Polygon, error) {
	if err := h.Err(); err != nil {
		return nil, err
	}
	if len(h.Boundary) < 3 {
		return nil, fmt.Errorf("hexagon %s has %d vertices", h.HexID, len(h.Boundary))
	}
	if _, err := ParseColor(h.Color); err != nil {
		return nil, err
	}
	ring := make(orb.Ring, 0, len(h.Boundary)+1)
	for _, v := range h.Boundary {
		if err := checkLatLng(v[0], v[1]); err != nil {
			return nil, err
		}
		ring = append(ring, LatLng(v[0], v[1]))
	}
	if !ring.Closed() {
		ring = append(ring, ring[0])
	}

	style := base
	style.Stroke = h.Color
	style.Fill = h.Color
	anomaly := id == analysis.Availability && h.IsAnomaly
	if anomaly {
		style.Stroke = border.Stroke
		style.StrokeWidth = border.StrokeWidth
		style.StrokeOpacity = border.StrokeOpacity
		style.Dash = border.Dash
	}
	return &Polygon{Ring: ring, Style: style, Popup: hexagonPopup(id, h, anomaly)}, nil
}

func hexagonPopup(id analysis.LayerID, h analysis.Hexagon, anomaly bool) string {
	var b strings.Builder
	if id == analysis.Availability {
		b.WriteString("Driver Availability Hexagon\n")
		if anomaly {
			b.WriteString("ANOMALY DETECTED!\n")
		}
		fmt.Fprintf(&b, "Availability Level: %s\n", h.AvailabilityLevel)
		fmt.Fprintf(&b, "Available Drivers: %d\n", h.Drivers)
		fmt.Fprintf(&b, "Records: %d\n", h.Records)
		if anomaly {
			b.WriteString("Excessive driver concentration!\n")
		}
	} else {
		b.WriteString("Demand Hexagon\n")
		fmt.Fprintf(&b, "Demand Level: %s\n", h.DemandLevel)
		fmt.Fprintf(&b, "Drivers: %d\n", h.Drivers)
		fmt.Fprintf(&b, "Records: %d\n", h.Records)
	}
	fmt.Fprintf(&b, "H3 ID: %s", h.HexID)
	return b.String()
}

// Violations draws a danger zone circle and a marker per violation.
func Violations(l *analysis.ViolationsLayer, active bool, p *Presets) Result {
	var res Result
	if !active || l == nil {
		return res
	}
	for i, v := range l.Records {
		if err := v.Err(); err != nil {
			res.skip(analysis.Violations, i, err)
			continue
		}
		if err := checkLatLng(v.Lat, v.Lng); err != nil {
			res.skip(analysis.Violations, i, err)
			continue
		}
		at := LatLng(v.Lat, v.Lng)
		popup := fmt.Sprintf("SPEED VIOLATION\nSpeed: %.1f km/h\nLegal Limit: %d km/h\nExcess: %.1f km/h\nDriver: %s",
			v.Speed, analysis.SpeedLimit, v.Excess, v.DriverID)
		res.Drawables = append(res.Drawables,
			&Circle{Center: at, RadiusMeters: p.Violation.DangerRadiusMeters, Style: p.Violation.Zone},
			&Marker{At: at, Icon: IconViolation, Popup: popup},
		)
	}
	return res
}

// Anomalies draws one marker per anomaly with an icon chosen by sub-type.
func Anomalies(l *analysis.AnomaliesLayer, active bool, p *Presets) Result {
	var res Result
	if !active || l == nil {
		return res
	}
	for i, a := range l.Records {
		if err := a.Err(); err != nil {
			res.skip(analysis.Anomalies, i, err)
			continue
		}
		if err := checkLatLng(a.Lat, a.Lng); err != nil {
			res.skip(analysis.Anomalies, i, err)
			continue
		}
		popup := fmt.Sprintf("%s Anomaly\n%s\nDriver: %s", strings.ToUpper(a.Type), a.Description, a.DriverID)
		res.Drawables = append(res.Drawables, &Marker{At: LatLng(a.Lat, a.Lng), Icon: p.AnomalyIcon(a.Type), Popup: popup})
	}
	return res
}

// TrafficJams draws a circle per jam in the jam's color and radius.
func TrafficJams(l *analysis.TrafficJamsLayer, active bool, p *Presets) Result {
	var res Result
	if !active || l == nil {
		return res
	}
	for i, j := range l.Records {
		if err := j.Err(); err != nil {
			res.skip(analysis.TrafficJams, i, err)
			continue
		}
		if err := checkLatLng(j.Lat, j.Lng); err != nil {
			res.skip(analysis.TrafficJams, i, err)
			continue
		}
		if _, err := ParseColor(j.Color); err != nil {
			res.skip(analysis.TrafficJams, i, err)
			continue
		}
		if j.Radius <= 0 {
			res.skip(analysis.TrafficJams, i, fmt.Errorf("non-positive radius %v", j.Radius))
			continue
		}
		style := p.TrafficJam
		style.Stroke = j.Color
		style.Fill = j.Color
		popup := fmt.Sprintf("Traffic Jam\nSeverity: %s\nDrivers: %d\nAvg Speed: %.1f km/h\nRecords: %d",
			strings.ToUpper(j.Severity), j.Drivers, j.AvgSpeed, j.Records)
		res.Drawables = append(res.Drawables, &Circle{Center: LatLng(j.Lat, j.Lng), RadiusMeters: j.Radius, Style: style, Popup: popup})
	}
	return res
}
