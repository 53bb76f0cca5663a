package analysis

import (
	"bytes"
	"encoding/json"
	"fmt"
	"log"
	"strconv"
)

// Logf receives the package's warnings. Tests may replace it.
var Logf = log.Printf

// Only the first records of each array are shape checked on load. Anything
// past the sample that fails to decode is kept with its error and skipped at
// render time.
const (
	HeatSampleSize   = 10
	RecordSampleSize = 5
)

var trafficSeverities = map[string]bool{
	"low": true, "medium": true, "high": true, "severe": true,
	"minor": true, "moderate": true, "major": true,
}

var anomalyTypes = map[string]bool{
	AnomalySpeed: true, AnomalyGeographic: true, AnomalyAltitude: true,
}

// ValidationError describes a structurally invalid payload.
type ValidationError struct {
	Field  string
	Index  int
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid analysis payload: %s: %s", e.Field, e.Reason)
}

func invalid(field, format string, args ...any) *ValidationError {
	return &ValidationError{Field: field, Index: -1, Reason: fmt.Sprintf(format, args...)}
}

// Decode parses and validates a raw payload.
func Decode(data []byte) (*Dataset, error) {
	var root map[string]json.RawMessage
	if err := json.Unmarshal(data, &root); err != nil {
		return nil, &ValidationError{Field: "payload", Index: -1, Reason: err.Error()}
	}
	mdRaw, layersRaw := root["metadata"], root["layers"]
	if isNull(mdRaw) || isNull(layersRaw) {
		return nil, invalid("payload", "missing required fields: metadata or layers")
	}

	md, err := decodeMetadata(mdRaw)
	if err != nil {
		return nil, err
	}

	var rawLayers map[string]json.RawMessage
	if err := json.Unmarshal(layersRaw, &rawLayers); err != nil {
		return nil, invalid("layers", "must be an object")
	}

	ds := &Dataset{Metadata: md, layers: make(map[LayerID]Layer)}
	for _, id := range AllLayers {
		raw, ok := rawLayers[string(id)]
		if !ok || isNull(raw) {
			Logf("[analysis] Layer %q missing from payload", id)
			continue
		}
		l, err := decodeLayer(id, raw)
		if err != nil {
			return nil, err
		}
		ds.layers[id] = l
	}
	return ds, nil
}

func decodeMetadata(raw json.RawMessage) (Metadata, error) {
	var md Metadata
	var m record
	if err := json.Unmarshal(raw, &m); err != nil {
		return md, invalid("metadata", "must be an object")
	}
	for _, f := range []string{"total_records", "unique_drivers", "bounds", "analysis_timestamp"} {
		if isNull(m[f]) {
			return md, invalid("metadata."+f, "missing required metadata field")
		}
	}

	var b record
	if err := json.Unmarshal(m["bounds"], &b); err != nil {
		return md, invalid("metadata.bounds", "must be an object")
	}
	fields := []struct {
		key string
		dst *float64
	}{
		{"lat_min", &md.Bounds.LatMin},
		{"lat_max", &md.Bounds.LatMax},
		{"lng_min", &md.Bounds.LngMin},
		{"lng_max", &md.Bounds.LngMax},
		{"center_lat", &md.Bounds.CenterLat},
		{"center_lng", &md.Bounds.CenterLng},
	}
	for _, f := range fields {
		v, err := b.num(f.key)
		if err != nil {
			return md, invalid("metadata.bounds."+f.key, "must be a number")
		}
		*f.dst = v
	}
	if md.Bounds.LatMin > md.Bounds.LatMax {
		return md, invalid("metadata.bounds.lat_min", "greater than lat_max")
	}
	if md.Bounds.LngMin > md.Bounds.LngMax {
		return md, invalid("metadata.bounds.lng_min", "greater than lng_max")
	}

	for _, f := range []struct {
		key string
		dst *int64
	}{
		{"total_records", &md.TotalRecords},
		{"unique_drivers", &md.UniqueDrivers},
	} {
		v, err := m.num(f.key)
		if err != nil || v < 0 {
			return md, invalid("metadata."+f.key, "must be a non-negative number")
		}
		*f.dst = int64(v)
	}

	ts, err := m.str("analysis_timestamp")
	if err != nil {
		return md, invalid("metadata.analysis_timestamp", "must be a string")
	}
	md.AnalysisTimestamp = ts
	return md, nil
}

func decodeLayer(id LayerID, raw json.RawMessage) (Layer, error) {
	path := "layers." + string(id)
	switch id {
	case Routes:
		return decodeHeatmap(id, "heatmap", path, raw)
	case SpeedZones:
		return decodeHeatmap(id, "speed_heatmap", path, raw)
	case Demand, Availability:
		return decodeHexGrid(id, path, raw)
	case Violations:
		recs, err := decodeArray(path, raw, RecordSampleSize, decodeViolation, func(v *Violation, err error) { v.err = err })
		if err != nil {
			return nil, err
		}
		return &ViolationsLayer{Records: recs}, nil
	case Anomalies:
		recs, err := decodeArray(path, raw, RecordSampleSize, decodeAnomaly, func(a *Anomaly, err error) { a.err = err })
		if err != nil {
			return nil, err
		}
		return &AnomaliesLayer{Records: recs}, nil
	case TrafficJams:
		recs, err := decodeArray(path, raw, RecordSampleSize, decodeTrafficJam, func(j *TrafficJam, err error) { j.err = err })
		if err != nil {
			return nil, err
		}
		return &TrafficJamsLayer{Records: recs}, nil
	}
	return nil, invalid(path, "unknown layer")
}

func decodeHeatmap(id LayerID, tag, path string, raw json.RawMessage) (*HeatmapLayer, error) {
	var m record
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil, invalid(path, "must be an object")
	}
	typ, _ := m.str("type")
	if typ != tag {
		return nil, invalid(path+".type", "must be %q, got %q", tag, typ)
	}
	l := &HeatmapLayer{Layer: id, Type: typ}
	if v, ok, _ := m.optNum("sample_size"); ok {
		l.SampleSize = int64(v)
	}
	if v, ok, _ := m.optNum("total_records"); ok {
		l.TotalRecords = int64(v)
	}
	pts, err := decodeArray(path+".points", m["points"], HeatSampleSize, decodeHeatPoint, func(p *HeatPoint, err error) { p.err = err })
	if err != nil {
		return nil, err
	}
	l.Points = pts
	return l, nil
}

func decodeHexGrid(id LayerID, path string, raw json.RawMessage) (*HexGridLayer, error) {
	var m record
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil, invalid(path, "must be an object")
	}
	typ, _ := m.str("type")
	if typ != "hexagonal_grid" {
		return nil, invalid(path+".type", "must be %q, got %q", "hexagonal_grid", typ)
	}
	l := &HexGridLayer{Layer: id, Type: typ}
	if v, ok, _ := m.optNum("h3_resolution"); ok {
		l.H3Resolution = int(v)
	}
	if v, ok, _ := m.optNum("anomaly_threshold"); ok {
		l.AnomalyThreshold = v
	}
	hexes, err := decodeArray(path+".hexagons", m["hexagons"], RecordSampleSize, decodeHexagon, func(h *Hexagon, err error) { h.err = err })
	if err != nil {
		return nil, err
	}
	seen := make(map[string]int, len(hexes))
	for i, h := range hexes {
		if h.err != nil {
			continue
		}
		if j, dup := seen[h.HexID]; dup {
			return nil, &ValidationError{
				Field:  fmt.Sprintf("%s.hexagons[%d].hex_id", path, i),
				Index:  i,
				Reason: fmt.Sprintf("duplicate of hexagons[%d]", j),
			}
		}
		seen[h.HexID] = i
	}
	l.Hexagons = hexes
	return l, nil
}

// decodeArray decodes every element of an array. Elements inside the sample
// are decoded strictly and fail the load; later ones keep their error.
func decodeArray[T any](path string, raw json.RawMessage, sample int, decode func(json.RawMessage, bool) (T, error), setErr func(*T, error)) ([]T, error) {
	var elems []json.RawMessage
	if isNull(raw) || json.Unmarshal(raw, &elems) != nil {
		return nil, invalid(path, "must be an array")
	}
	out := make([]T, len(elems))
	for i, e := range elems {
		strict := i < sample
		v, err := decode(e, strict)
		if err != nil {
			if strict {
				return nil, &ValidationError{Field: fmt.Sprintf("%s[%d]%s", path, i, fieldSuffix(err)), Index: i, Reason: reason(err)}
			}
			setErr(&v, fmt.Errorf("%s[%d]%s: %s", path, i, fieldSuffix(err), reason(err)))
		}
		out[i] = v
	}
	return out, nil
}

func decodeHeatPoint(raw json.RawMessage, _ bool) (HeatPoint, error) {
	var vals []json.RawMessage
	if err := json.Unmarshal(raw, &vals); err != nil || len(vals) < 3 {
		return HeatPoint{}, &fieldError{Reason: "must be a [lat, lng, intensity] triple"}
	}
	var p HeatPoint
	for i, dst := range []*float64{&p.Lat, &p.Lng, &p.Intensity} {
		v, ok := number(vals[i])
		if !ok {
			return HeatPoint{}, &fieldError{Key: "[" + strconv.Itoa(i) + "]", Reason: "must be a number"}
		}
		*dst = v
	}
	return p, nil
}

func decodeHexagon(raw json.RawMessage, _ bool) (Hexagon, error) {
	var h Hexagon
	var m record
	if err := json.Unmarshal(raw, &m); err != nil {
		return h, &fieldError{Reason: "must be an object"}
	}
	var err error
	if h.HexID, err = m.str("hex_id"); err != nil {
		return h, err
	}
	if h.Color, err = m.str("color"); err != nil {
		return h, err
	}
	records, err := m.num("records")
	if err != nil {
		return h, err
	}
	if records < 0 {
		return h, &fieldError{Key: "records", Reason: "must be non-negative"}
	}
	h.Records = int64(records)

	var boundary [][]json.RawMessage
	if isNull(m["boundary"]) || json.Unmarshal(m["boundary"], &boundary) != nil {
		return h, &fieldError{Key: "boundary", Reason: "must be an array of [lat, lng] pairs"}
	}
	if len(boundary) < 3 {
		return h, &fieldError{Key: "boundary", Reason: fmt.Sprintf("needs at least 3 vertices, got %d", len(boundary))}
	}
	h.Boundary = make([][2]float64, len(boundary))
	for i, v := range boundary {
		if len(v) < 2 {
			return h, &fieldError{Key: fmt.Sprintf("boundary[%d]", i), Reason: "must be a [lat, lng] pair"}
		}
		lat, ok1 := number(v[0])
		lng, ok2 := number(v[1])
		if !ok1 || !ok2 {
			return h, &fieldError{Key: fmt.Sprintf("boundary[%d]", i), Reason: "must be numeric"}
		}
		h.Boundary[i] = [2]float64{lat, lng}
	}

	if c, ok := m["center"]; ok && !isNull(c) {
		var center []float64
		if json.Unmarshal(c, &center) == nil && len(center) >= 2 {
			h.Center = [2]float64{center[0], center[1]}
		}
	}
	if v, ok, err := m.optNum("drivers"); err != nil {
		return h, err
	} else if ok {
		h.Drivers = int64(v)
	}
	if h.DemandLevel, err = m.optStr("demand_level"); err != nil {
		return h, err
	}
	if h.AvailabilityLevel, err = m.optStr("availability_level"); err != nil {
		return h, err
	}
	if h.IsAnomaly, err = m.optBool("is_anomaly"); err != nil {
		return h, err
	}
	return h, nil
}

func decodeViolation(raw json.RawMessage, _ bool) (Violation, error) {
	var v Violation
	var m record
	if err := json.Unmarshal(raw, &m); err != nil {
		return v, &fieldError{Reason: "must be an object"}
	}
	var err error
	if v.Lat, v.Lng, err = m.latLng(); err != nil {
		return v, err
	}
	if v.Speed, err = m.num("speed"); err != nil {
		return v, err
	}
	if v.Excess, err = m.num("excess"); err != nil {
		return v, err
	}
	if v.DriverID, err = m.id("driver_id"); err != nil {
		return v, err
	}
	return v, nil
}

func decodeAnomaly(raw json.RawMessage, strict bool) (Anomaly, error) {
	var a Anomaly
	var m record
	if err := json.Unmarshal(raw, &m); err != nil {
		return a, &fieldError{Reason: "must be an object"}
	}
	var err error
	if a.Lat, a.Lng, err = m.latLng(); err != nil {
		return a, err
	}
	if a.Type, err = m.str("type"); err != nil {
		return a, err
	}
	if strict && !anomalyTypes[a.Type] {
		return a, &fieldError{Key: "type", Reason: fmt.Sprintf("unknown anomaly type %q", a.Type)}
	}
	if a.Description, err = m.str("description"); err != nil {
		return a, err
	}
	if a.DriverID, err = m.id("driver_id"); err != nil {
		return a, err
	}
	return a, nil
}

func decodeTrafficJam(raw json.RawMessage, strict bool) (TrafficJam, error) {
	var j TrafficJam
	var m record
	if err := json.Unmarshal(raw, &m); err != nil {
		return j, &fieldError{Reason: "must be an object"}
	}
	var err error
	if j.Lat, j.Lng, err = m.latLng(); err != nil {
		return j, err
	}
	if j.Severity, err = m.str("severity"); err != nil {
		return j, err
	}
	if strict && !trafficSeverities[j.Severity] {
		return j, &fieldError{Key: "severity", Reason: fmt.Sprintf("unknown severity %q", j.Severity)}
	}
	if j.Color, err = m.str("color"); err != nil {
		return j, err
	}
	if j.Radius, err = m.num("radius"); err != nil {
		return j, err
	}
	if v, ok, err := m.optNum("drivers"); err != nil {
		return j, err
	} else if ok {
		j.Drivers = int64(v)
	}
	if v, ok, err := m.optNum("avg_speed"); err != nil {
		return j, err
	} else if ok {
		j.AvgSpeed = v
	}
	if v, ok, err := m.optNum("records"); err != nil {
		return j, err
	} else if ok {
		j.Records = int64(v)
	}
	return j, nil
}

type fieldError struct {
	Key    string
	Reason string
}

func (e *fieldError) Error() string {
	if e.Key == "" {
		return e.Reason
	}
	return e.Key + ": " + e.Reason
}

func fieldSuffix(err error) string {
	fe, ok := err.(*fieldError)
	if !ok || fe.Key == "" {
		return ""
	}
	if fe.Key[0] == '[' {
		return fe.Key
	}
	return "." + fe.Key
}

func reason(err error) string {
	if fe, ok := err.(*fieldError); ok {
		return fe.Reason
	}
	return err.Error()
}

type record map[string]json.RawMessage

func (r record) num(key string) (float64, error) {
	raw, ok := r[key]
	if !ok || isNull(raw) {
		return 0, &fieldError{Key: key, Reason: "missing required field"}
	}
	v, ok := number(raw)
	if !ok {
		return 0, &fieldError{Key: key, Reason: "must be a number"}
	}
	return v, nil
}

func (r record) optNum(key string) (float64, bool, error) {
	raw, ok := r[key]
	if !ok || isNull(raw) {
		return 0, false, nil
	}
	v, ok := number(raw)
	if !ok {
		return 0, false, &fieldError{Key: key, Reason: "must be a number"}
	}
	return v, true, nil
}

func (r record) str(key string) (string, error) {
	raw, ok := r[key]
	if !ok || isNull(raw) {
		return "", &fieldError{Key: key, Reason: "missing required field"}
	}
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return "", &fieldError{Key: key, Reason: "must be a string"}
	}
	return s, nil
}

func (r record) optStr(key string) (string, error) {
	if isNull(r[key]) {
		return "", nil
	}
	return r.str(key)
}

func (r record) optBool(key string) (bool, error) {
	raw := r[key]
	if isNull(raw) {
		return false, nil
	}
	var b bool
	if err := json.Unmarshal(raw, &b); err != nil {
		return false, &fieldError{Key: key, Reason: "must be a boolean"}
	}
	return b, nil
}

// id accepts a string or a number.
func (r record) id(key string) (string, error) {
	raw, ok := r[key]
	if !ok || isNull(raw) {
		return "", &fieldError{Key: key, Reason: "missing required field"}
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s, nil
	}
	var n json.Number
	if err := json.Unmarshal(raw, &n); err == nil {
		return n.String(), nil
	}
	return "", &fieldError{Key: key, Reason: "must be a string or number"}
}

func (r record) latLng() (float64, float64, error) {
	lat, err := r.num("lat")
	if err != nil {
		return 0, 0, err
	}
	lng, err := r.num("lng")
	if err != nil {
		return 0, 0, err
	}
	return lat, lng, nil
}

func number(raw json.RawMessage) (float64, bool) {
	var v any
	if err := json.Unmarshal(raw, &v); err != nil {
		return 0, false
	}
	f, ok := v.(float64)
	return f, ok
}

func isNull(raw json.RawMessage) bool {
	return len(raw) == 0 || bytes.Equal(bytes.TrimSpace(raw), []byte("null"))
}
