package render

import (
	_ "embed"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/sudorandom/taxi-stream/pkg/analysis"
)

//go:embed presets.yaml
var defaultPresetsYAML []byte

type GradientStop struct {
	Stop  float64 `yaml:"stop" json:"stop"`
	Color string  `yaml:"color" json:"color"`
}

// HeatPreset configures a density surface.
type HeatPreset struct {
	Radius   float64        `yaml:"radius" json:"radius"`
	Blur     float64        `yaml:"blur" json:"blur"`
	MaxZoom  int            `yaml:"max_zoom" json:"max_zoom"`
	Max      float64        `yaml:"max" json:"max"`
	Gradient []GradientStop `yaml:"gradient" json:"gradient"`
}

type ViolationPreset struct {
	DangerRadiusMeters float64 `yaml:"danger_radius_m"`
	Zone               Style   `yaml:"zone"`
}

// Presets holds every renderer's styling.
type Presets struct {
	Heatmap      map[string]HeatPreset `yaml:"heatmap"`
	Hexagon      map[string]Style      `yaml:"hexagon"`
	Violation    ViolationPreset       `yaml:"violation"`
	TrafficJam   Style                 `yaml:"traffic_jam"`
	AnomalyIcons map[string]string     `yaml:"anomaly_icons"`
}

// DefaultPresets parses the embedded presets.
func DefaultPresets() *Presets {
	p, err := ParsePresets(defaultPresetsYAML)
	if err != nil {
		panic(fmt.Sprintf("embedded presets: %v", err))
	}
	return p
}

func ParsePresets(data []byte) (*Presets, error) {
	var p Presets
	if err := yaml.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("parse presets: %w", err)
	}
	for name, hp := range p.Heatmap {
		for _, s := range hp.Gradient {
			if _, err := ParseColor(s.Color); err != nil {
				return nil, fmt.Errorf("heatmap preset %q: %w", name, err)
			}
		}
	}
	return &p, nil
}

// LoadPresets layers the named entries of a YAML file over the defaults.
func LoadPresets(path string) (*Presets, error) {
	p := DefaultPresets()
	if path == "" {
		return p, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	over, err := ParsePresets(data)
	if err != nil {
		return nil, err
	}
	for k, v := range over.Heatmap {
		p.Heatmap[k] = v
	}
	for k, v := range over.Hexagon {
		p.Hexagon[k] = v
	}
	for k, v := range over.AnomalyIcons {
		p.AnomalyIcons[k] = v
	}
	if over.Violation.DangerRadiusMeters > 0 {
		p.Violation = over.Violation
	}
	if over.TrafficJam.StrokeWidth > 0 || over.TrafficJam.FillOpacity > 0 {
		p.TrafficJam = over.TrafficJam
	}
	return p, nil
}

// HeatFor returns the preset named after the layer, falling back to default.
func (p *Presets) HeatFor(id analysis.LayerID) HeatPreset {
	if hp, ok := p.Heatmap[string(id)]; ok {
		return hp
	}
	return p.Heatmap["default"]
}

// AnomalyIcon maps an anomaly sub-type to its icon name.
func (p *Presets) AnomalyIcon(kind string) string {
	if icon, ok := p.AnomalyIcons[kind]; ok {
		return icon
	}
	return p.AnomalyIcons["unknown"]
}
