package browser

import (
	"math"

	"github.com/joeblew999/greenedumap/internal/layer"
	"github.com/joeblew999/greenedumap/internal/legend"
	"github.com/joeblew999/greenedumap/internal/mapsession"
)

// StyleLayer translates a layer spec into a Mapbox GL / MapLibre style
// layer object.
func StyleLayer(spec mapsession.LayerSpec) map[string]any {
	visibility := "none"
	if spec.Visible {
		visibility = "visible"
	}
	opacity := spec.Opacity
	if opacity == 0 {
		opacity = 0.9
	}

	out := map[string]any{
		"id":     spec.ID,
		"source": spec.Source,
		"layout": map[string]any{"visibility": visibility},
	}
	if spec.Category != "" {
		out["filter"] = []any{"==", []any{"get", "category"}, string(spec.Category)}
	}

	switch spec.Kind {
	case layer.KindHeatmap:
		out["type"] = "heatmap"
		out["paint"] = heatmapPaint(spec, opacity)
	case layer.KindCircle:
		radius := spec.Radius
		if radius == 0 {
			radius = 8
		}
		out["type"] = "circle"
		out["paint"] = map[string]any{
			"circle-radius":       radius,
			"circle-color":        colorExpr(spec),
			"circle-opacity":      opacity,
			"circle-stroke-width": 2,
			"circle-stroke-color": "#ffffff",
		}
	case layer.KindSymbol:
		layout := out["layout"].(map[string]any)
		out["type"] = "symbol"
		if spec.Icon != "" {
			layout["icon-image"] = spec.Icon
			layout["icon-size"] = 0.6
			layout["icon-allow-overlap"] = true
		}
		layout["text-field"] = []any{"get", "name"}
		layout["text-size"] = 11
		layout["text-offset"] = []float64{0, 1.4}
		layout["text-optional"] = true
		out["paint"] = map[string]any{
			"icon-opacity": opacity,
			"text-color":   colorExpr(spec),
		}
	}
	return out
}

// colorExpr picks a metric step expression, a flat color or the per-feature
// "color" property, in that order.
func colorExpr(spec mapsession.LayerSpec) any {
	if spec.MetricKey != "" && len(spec.ColorScale) > 0 {
		return stepExpr(spec.MetricKey, spec.ColorScale)
	}
	if spec.Color != "" {
		return spec.Color
	}
	return []any{"coalesce", []any{"get", "color"}, legend.CategoryColor(spec.Category)}
}

// stepExpr builds ["step", ["get", key], c0, t1, c1, ...]. A Mapbox step
// includes its input value and a legend band excludes its threshold, hence
// Nextafter.
func stepExpr(key string, scale []legend.Stop) []any {
	expr := []any{"step", []any{"get", key}, scale[0].Color}
	for _, s := range scale[1:] {
		expr = append(expr, math.Nextafter(s.Threshold, math.Inf(1)), s.Color)
	}
	return expr
}

func heatmapPaint(spec mapsession.LayerSpec, opacity float64) map[string]any {
	paint := map[string]any{
		"heatmap-radius":    []any{"interpolate", []any{"linear"}, []any{"zoom"}, 0, 8, 14, 40},
		"heatmap-intensity": []any{"interpolate", []any{"linear"}, []any{"zoom"}, 0, 1, 14, 3},
		"heatmap-opacity":   opacity,
	}
	if n := len(spec.ColorScale); n > 0 && spec.MetricKey != "" {
		lo := spec.ColorScale[0].Threshold
		hi := spec.ColorScale[n-1].Threshold
		if hi <= lo {
			hi = lo + 1
		}
		paint["heatmap-weight"] = []any{"interpolate", []any{"linear"}, []any{"get", spec.MetricKey}, lo, 0, hi, 1}

		density := []any{"interpolate", []any{"linear"}, []any{"heatmap-density"}, 0, "rgba(0,0,0,0)"}
		for i, s := range spec.ColorScale {
			density = append(density, float64(i+1)/float64(n), s.Color)
		}
		paint["heatmap-color"] = density
	}
	return paint
}
