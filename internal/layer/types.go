// Package layer keeps the set of visual map layers and their toggle state,
// independent of any rendering engine. The session controller pulls
// snapshots from the Registry and reconciles them against the engine.
package layer

import (
	"slices"

	"github.com/joeblew999/greenedumap/internal/feature"
	"github.com/joeblew999/greenedumap/internal/legend"
)

// Kind is the visual treatment of a layer.
type Kind string

const (
	KindHeatmap Kind = "heatmap"
	KindCircle  Kind = "circle"
	KindSymbol  Kind = "symbol"
)

// Descriptor describes one visual layer.
// Huma reads the tags for OpenAPI and validation; yaml tags drive presets.
type Descriptor struct {
	ID          string           `json:"id" yaml:"id" required:"true" minLength:"1" doc:"Unique layer identifier" example:"aqi-heat"`
	Name        string           `json:"name,omitempty" yaml:"name,omitempty" doc:"Display name" example:"AQI"`
	Kind        Kind             `json:"kind" yaml:"kind" enum:"heatmap,circle,symbol" doc:"Visual treatment" example:"heatmap"`
	Category    feature.Category `json:"category,omitempty" yaml:"category,omitempty" doc:"Feature category feeding the layer; empty means all" example:"ward"`
	MetricKey   string           `json:"metricKey,omitempty" yaml:"metricKey,omitempty" doc:"Metric driving color/weight" example:"aqi"`
	Visible     bool             `json:"visible" yaml:"visible" doc:"Whether the layer is shown"`
	Interactive bool             `json:"interactive" yaml:"interactive" doc:"Whether hover/click events are routed"`
	ColorScale  []legend.Stop    `json:"colorScale,omitempty" yaml:"colorScale,omitempty" doc:"Ordered (threshold, color) stops"`
	Color       string           `json:"color,omitempty" yaml:"color,omitempty" doc:"Flat color when no metric applies (CSS)" example:"#10B981"`
	Radius      float64          `json:"radius,omitempty" yaml:"radius,omitempty" minimum:"0" doc:"Circle radius in pixels"`
	Opacity     float64          `json:"opacity,omitempty" yaml:"opacity,omitempty" minimum:"0" maximum:"1" doc:"Layer opacity (0-1)"`
	Icon        string           `json:"icon,omitempty" yaml:"icon,omitempty" doc:"Registered image name for symbol layers"`
}

// MetricDriven reports whether the layer colors features by a metric.
func (d Descriptor) MetricDriven() bool {
	switch d.Kind {
	case KindHeatmap:
		return true
	case KindCircle:
		return d.MetricKey != ""
	}
	return false
}

// Equal reports whether two descriptors would render identically.
func (d Descriptor) Equal(o Descriptor) bool {
	return d.ID == o.ID &&
		d.Name == o.Name &&
		d.Kind == o.Kind &&
		d.Category == o.Category &&
		d.MetricKey == o.MetricKey &&
		d.Visible == o.Visible &&
		d.Interactive == o.Interactive &&
		d.Color == o.Color &&
		d.Radius == o.Radius &&
		d.Opacity == o.Opacity &&
		d.Icon == o.Icon &&
		slices.Equal(d.ColorScale, o.ColorScale)
}

// SourceEqual reports whether two descriptors draw from the same data.
func (d Descriptor) SourceEqual(o Descriptor) bool {
	return d.Category == o.Category
}

func (d Descriptor) clone() Descriptor {
	d.ColorScale = slices.Clone(d.ColorScale)
	return d
}
