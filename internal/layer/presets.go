package layer

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/joeblew999/greenedumap/internal/feature"
)

// Preset is a named set of layers for one page.
type Preset struct {
	Page   string       `json:"page" yaml:"page" doc:"Page the layer set belongs to"`
	Layers []Descriptor `json:"layers" yaml:"layers"`
}

// DefaultPresets returns the built-in layer sets of the public map and the
// relief dashboard.
func DefaultPresets() []Preset {
	return []Preset{
		{
			Page: "environment",
			Layers: []Descriptor{
				{ID: "aqi-heat", Name: "AQI", Kind: KindHeatmap, Category: feature.CategoryWard, MetricKey: "aqi", Visible: true, Opacity: 0.6},
				{ID: "wards", Name: "Phường", Kind: KindCircle, Category: feature.CategoryWard, MetricKey: "aqi", Visible: true, Interactive: true, Radius: 9, Opacity: 0.9},
				{ID: "schools", Name: "Trường học", Kind: KindSymbol, Category: feature.CategorySchool, Visible: false, Interactive: true, Icon: "school", Color: "#6366F1"},
				{ID: "solar", Name: "Năng lượng", Kind: KindSymbol, Category: feature.CategorySolar, Visible: false, Interactive: true, Icon: "solar", Color: "#F59E0B"},
			},
		},
		{
			Page: "relief",
			Layers: []Descriptor{
				{ID: "requests-circle", Name: "Yêu cầu cứu trợ", Kind: KindCircle, Category: feature.CategoryRequest, Visible: true, Interactive: true, Radius: 9, Opacity: 0.9},
				{ID: "centers-circle", Name: "Trung tâm cứu trợ", Kind: KindCircle, Category: feature.CategoryCenter, Visible: true, Interactive: true, Radius: 11, Opacity: 0.85, Color: "#10B981"},
				{ID: "distributions-circle", Name: "Phân phối", Kind: KindCircle, Category: feature.CategoryDistribution, Visible: true, Interactive: true, Radius: 8, Opacity: 0.9, Color: "#3B82F6"},
			},
		},
	}
}

// LoadPresets reads layer presets from a YAML file.
func LoadPresets(path string) ([]Preset, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading presets: %w", err)
	}

	var presets []Preset
	if err := yaml.Unmarshal(data, &presets); err != nil {
		return nil, fmt.Errorf("parsing presets: %w", err)
	}
	for _, p := range presets {
		for _, d := range p.Layers {
			if err := validate(d); err != nil {
				return nil, fmt.Errorf("preset %q: %w", p.Page, err)
			}
		}
	}
	return presets, nil
}

// MarshalPresets renders presets as YAML.
func MarshalPresets(presets []Preset) ([]byte, error) {
	return yaml.Marshal(presets)
}

// Find returns the preset for a page.
func Find(presets []Preset, page string) (Preset, bool) {
	for _, p := range presets {
		if p.Page == page {
			return p, true
		}
	}
	return Preset{}, false
}

// Apply registers every layer of the preset.
func (p Preset) Apply(r *Registry) {
	for _, d := range p.Layers {
		r.Register(d)
	}
}

func validate(d Descriptor) error {
	if d.ID == "" {
		return fmt.Errorf("layer without id")
	}
	switch d.Kind {
	case KindHeatmap, KindCircle, KindSymbol:
	default:
		return fmt.Errorf("layer %q: unknown kind %q", d.ID, d.Kind)
	}
	if d.Category != "" && !d.Category.Valid() {
		return fmt.Errorf("layer %q: unknown category %q", d.ID, d.Category)
	}
	if d.Kind == KindHeatmap && d.MetricKey == "" {
		return fmt.Errorf("layer %q: heatmap needs a metricKey", d.ID)
	}
	return nil
}
