// Package sources lists the well-known endpoints the binaries default to.
package sources

const (
	// AnalysisPayloadURL serves the combined analysis document for the map
	// layers.
	AnalysisPayloadURL = "http://localhost:8000/api/analysis"
	AnalysisFile       = "analysis_results.json"

	DispatchSocketURL = "ws://localhost:8000/ws"

	OSMTileTemplate = "https://{s}.tile.openstreetmap.org/{z}/{x}/{y}.png"
)
