package render

// Marker icon names understood by the viewer.
const (
	IconTaxiFree     = "taxi_free"
	IconTaxiBusy     = "taxi_busy"
	IconOrderPending = "order_pending"
	IconOrderPickup  = "order_pickup"
	IconOrderDropoff = "order_dropoff"
	IconViolation    = "violation"
)
