package mapview

import (
	"strconv"
	"strings"
)

// Basemap provides background tiles. It is drawn under every layer.
type Basemap interface {
	TileURL(z, x, y int) string
	Attribution() string
	MaxZoom() int
}

// XYZ is a slippy map tile server with {s}, {z}, {x} and {y} placeholders.
type XYZ struct {
	Template     string
	Subdomains   []string
	Attrib       string
	MaxZoomLevel int
}

// OpenStreetMap is the default basemap.
var OpenStreetMap = &XYZ{
	Template:     "https://{s}.tile.openstreetmap.org/{z}/{x}/{y}.png",
	Subdomains:   []string{"a", "b", "c"},
	Attrib:       "© OpenStreetMap contributors",
	MaxZoomLevel: 18,
}

func (b *XYZ) TileURL(z, x, y int) string {
	sub := ""
	if len(b.Subdomains) > 0 {
		sub = b.Subdomains[(x+y)%len(b.Subdomains)]
	}
	return strings.NewReplacer(
		"{s}", sub,
		"{z}", strconv.Itoa(z),
		"{x}", strconv.Itoa(x),
		"{y}", strconv.Itoa(y),
	).Replace(b.Template)
}

func (b *XYZ) Attribution() string { return b.Attrib }
func (b *XYZ) MaxZoom() int        { return b.MaxZoomLevel }
