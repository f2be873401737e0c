// Package legend derives color scales and legend buckets for map metrics.
//
// Metrics with an established convention (AQI, PM2.5) use fixed bands so a
// legend means the same thing whatever subset of data is on screen; other
// metrics get an evenly spaced scale over the observed value range.
package legend

import (
	"fmt"
	"math"
	"strings"

	"github.com/joeblew999/greenedumap/internal/feature"
)

// Stop is one step of a color scale: values > Threshold (and up to the next
// stop's threshold, inclusive) are drawn with Color. Bands are closed at the
// top, so AQI 50 is Good and 50.5 is Moderate.
type Stop struct {
	Threshold float64 `json:"threshold" doc:"Lower bound of the band (exclusive)"`
	Color     string  `json:"color" doc:"CSS color"`
	Label     string  `json:"label,omitempty" doc:"Legend label"`
	Key       string  `json:"key,omitempty" doc:"Stable band identifier"`
}

// Band keys for the AQI scale.
const (
	BandGood               = "good"
	BandModerate           = "moderate"
	BandUnhealthySensitive = "unhealthy_sensitive"
	BandUnhealthy          = "unhealthy"
	BandVeryUnhealthy      = "very_unhealthy"
	BandHazardous          = "hazardous"
)

var aqiBands = []Stop{
	{Threshold: 0, Color: "#22C55E", Label: "Tốt (0-50)", Key: BandGood},
	{Threshold: 50, Color: "#EAB308", Label: "Trung bình (51-100)", Key: BandModerate},
	{Threshold: 100, Color: "#F97316", Label: "Không tốt cho nhóm nhạy cảm (101-150)", Key: BandUnhealthySensitive},
	{Threshold: 150, Color: "#EF4444", Label: "Không tốt (151-200)", Key: BandUnhealthy},
	{Threshold: 200, Color: "#A855F7", Label: "Rất không tốt (201-300)", Key: BandVeryUnhealthy},
	{Threshold: 300, Color: "#7F1D1D", Label: "Nguy hại (>300)", Key: BandHazardous},
}

// US EPA PM2.5 breakpoints in µg/m³, same colors as the AQI bands.
var pm25Bands = []Stop{
	{Threshold: 0, Color: "#22C55E", Label: "0-12 µg/m³", Key: BandGood},
	{Threshold: 12, Color: "#EAB308", Label: "12.1-35.4 µg/m³", Key: BandModerate},
	{Threshold: 35.4, Color: "#F97316", Label: "35.5-55.4 µg/m³", Key: BandUnhealthySensitive},
	{Threshold: 55.4, Color: "#EF4444", Label: "55.5-150.4 µg/m³", Key: BandUnhealthy},
	{Threshold: 150.4, Color: "#A855F7", Label: "150.5-250.4 µg/m³", Key: BandVeryUnhealthy},
	{Threshold: 250.4, Color: "#7F1D1D", Label: ">250.4 µg/m³", Key: BandHazardous},
}

var fixedScales = map[string][]Stop{
	"aqi":  aqiBands,
	"pm25": pm25Bands,
}

// ramp is the palette of the evenly spaced fallback scale, low to high.
var ramp = []string{"#DCFCE7", "#86EFAC", "#FACC15", "#FB923C", "#DC2626"}

// HasConvention reports whether metricKey uses fixed domain bands.
func HasConvention(metricKey string) bool {
	_, ok := fixedScales[strings.ToLower(metricKey)]
	return ok
}

// ColorScaleFor returns the color scale for a metric. Metrics with a domain
// convention ignore values entirely.
func ColorScaleFor(metricKey string, values []float64) []Stop {
	if fixed, ok := fixedScales[strings.ToLower(metricKey)]; ok {
		out := make([]Stop, len(fixed))
		copy(out, fixed)
		return out
	}
	return evenScale(values)
}

func evenScale(values []float64) []Stop {
	lo, hi := math.Inf(1), math.Inf(-1)
	for _, v := range values {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			continue
		}
		lo = math.Min(lo, v)
		hi = math.Max(hi, v)
	}
	if math.IsInf(lo, 1) {
		return nil
	}
	if lo == hi {
		return []Stop{{Threshold: lo, Color: ramp[len(ramp)-1], Label: formatValue(lo), Key: "b0"}}
	}

	n := len(ramp)
	step := (hi - lo) / float64(n)
	out := make([]Stop, n)
	for i := 0; i < n; i++ {
		from := lo + step*float64(i)
		to := from + step
		out[i] = Stop{
			Threshold: from,
			Color:     ramp[i],
			Label:     formatValue(from) + "-" + formatValue(to),
			Key:       fmt.Sprintf("b%d", i),
		}
	}
	return out
}

func formatValue(v float64) string {
	if v == math.Trunc(v) {
		return fmt.Sprintf("%.0f", v)
	}
	return fmt.Sprintf("%.1f", v)
}

// BandFor returns the stop whose band contains value: the last stop whose
// threshold is < value. Values at or below the first threshold fall in the
// first band. ok is false for an empty scale.
func BandFor(scale []Stop, value float64) (Stop, bool) {
	if len(scale) == 0 {
		return Stop{}, false
	}
	band := scale[0]
	for _, s := range scale[1:] {
		if value <= s.Threshold {
			break
		}
		band = s
	}
	return band, true
}

// AQILevel returns the English level name used by alert payloads.
func AQILevel(aqi float64) string {
	band, _ := BandFor(aqiBands, aqi)
	switch band.Key {
	case BandGood:
		return "Good"
	case BandModerate:
		return "Moderate"
	case BandUnhealthySensitive:
		return "Unhealthy for Sensitive Groups"
	case BandUnhealthy:
		return "Unhealthy"
	case BandVeryUnhealthy:
		return "Very Unhealthy"
	}
	return "Hazardous"
}

// CategoryColor is the default marker color of a category.
func CategoryColor(c feature.Category) string {
	switch c {
	case feature.CategoryRequest:
		return "#EF4444"
	case feature.CategoryCenter:
		return "#10B981"
	case feature.CategoryDistribution:
		return "#3B82F6"
	case feature.CategorySchool:
		return "#6366F1"
	case feature.CategorySolar:
		return "#F59E0B"
	}
	return "#22C55E"
}

var priorityColors = map[string]string{
	"cao":        "#EF4444",
	"high":       "#EF4444",
	"trung_binh": "#F97316",
	"medium":     "#F97316",
	"thap":       "#FACC15",
	"low":        "#FACC15",
}

// PriorityColor maps a relief request priority to its marker color; unknown
// or missing priorities are drawn as high.
func PriorityColor(priority string) string {
	if c, ok := priorityColors[priority]; ok {
		return c
	}
	return priorityColors["cao"]
}

// FeatureColor picks the marker color of one feature: relief requests by
// priority, everything else by category.
func FeatureColor(f feature.GeoFeature) string {
	if f.Category == feature.CategoryRequest {
		return PriorityColor(f.Attr("priority"))
	}
	return CategoryColor(f.Category)
}
