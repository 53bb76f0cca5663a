// Package dispatch speaks the live dispatch socket protocol.
package dispatch

import (
	"fmt"

	"github.com/paulmach/orb"
)

// Message type discriminators.
const (
	TypeStateUpdate        = "state_update"
	TypeDemandUpdate       = "demand_update"
	TypeCompleteAssignment = "complete_assignment"
)

type LatLng struct {
	Lat float64 `json:"lat"`
	Lng float64 `json:"lng"`
}

// Point returns the location as an orb point ([lng, lat]).
func (p LatLng) Point() orb.Point { return orb.Point{p.Lng, p.Lat} }

type TaxiStatus string

const (
	TaxiFree TaxiStatus = "free"
	TaxiBusy TaxiStatus = "busy"
)

type Taxi struct {
	ID       string     `json:"id"`
	Location LatLng     `json:"location"`
	Status   TaxiStatus `json:"status"`
}

type OrderStatus string

const (
	OrderPending   OrderStatus = "pending"
	OrderAssigned  OrderStatus = "assigned"
	OrderCompleted OrderStatus = "completed"
)

// Order locations may be missing while the server is still filling them in.
type Order struct {
	ID      string      `json:"id"`
	Pickup  *LatLng     `json:"pickup"`
	Dropoff *LatLng     `json:"dropoff"`
	Status  OrderStatus `json:"status"`
}

// Route is an ordered list of [lat, lng] waypoints.
type Route struct {
	Path [][2]float64 `json:"path"`
}

// Line converts the waypoints to an orb line string.
func (r *Route) Line() orb.LineString {
	if r == nil {
		return nil
	}
	out := make(orb.LineString, len(r.Path))
	for i, p := range r.Path {
		out[i] = orb.Point{p[1], p[0]}
	}
	return out
}

// Algorithm tags carried by assignments.
const (
	AlgorithmProximity = "proximity"
	AlgorithmDemand    = "demand"
	AlgorithmHybrid    = "hybrid"
)

type Assignment struct {
	OrderID        string `json:"order_id"`
	TaxiID         string `json:"taxi_id"`
	AlgorithmUsed  string `json:"algorithm_used"`
	ToPickupRoute  *Route `json:"to_pickup_route"`
	ToDropoffRoute *Route `json:"to_dropoff_route"`
}

// DemandHexagon is one cell of the live demand overlay.
type DemandHexagon struct {
	HexID       string       `json:"hex_id"`
	Boundary    [][2]float64 `json:"boundary"`
	Color       string       `json:"color"`
	DemandLevel string       `json:"demand_level"`
	OrdersCount int          `json:"orders_count"`
	TaxisCount  int          `json:"taxis_count"`
	DemandRatio float64      `json:"demand_ratio"`
}

// Ratio formats the demand ratio; -1 means there are orders but no taxis.
func (h DemandHexagon) Ratio() string {
	if h.DemandRatio == -1 {
		return "∞"
	}
	return fmt.Sprintf("%.2f", h.DemandRatio)
}

// WorldState is the full simulation snapshot. Each state_update replaces it.
type WorldState struct {
	Taxis       []Taxi       `json:"taxis"`
	Orders      []Order      `json:"orders"`
	Assignments []Assignment `json:"assignments"`
}

// envelope is every inbound message shape folded together.
type envelope struct {
	Type        string          `json:"type"`
	Taxis       []Taxi          `json:"taxis"`
	Orders      []Order         `json:"orders"`
	Assignments []Assignment    `json:"assignments"`
	Hexagons    []DemandHexagon `json:"hexagons"`
}

// CompleteAssignment tells the server that the client finished animating an
// order.
type CompleteAssignment struct {
	Type    string `json:"type"`
	OrderID string `json:"order_id"`
}

func NewCompleteAssignment(orderID string) CompleteAssignment {
	return CompleteAssignment{Type: TypeCompleteAssignment, OrderID: orderID}
}

// AlgorithmBadge labels the server's assignment strategy for the status badge.
func AlgorithmBadge(proximity, supplyDemand bool) (label, color string) {
	switch {
	case proximity && supplyDemand:
		return "Distance + Demand", "#10b981"
	case proximity:
		return "Distance-Based", "#3b82f6"
	case supplyDemand:
		return "Demand-Based", "#f59e0b"
	}
	return "None Selected", "#ef4444"
}
