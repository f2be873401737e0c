// Package templates renders the HTML fragments pushed to the dashboard over
// Datastar SSE: feature popups and the detail panel.
package templates

import (
	"bytes"
	"embed"
	"fmt"
	"html/template"
	"sync"

	"github.com/joeblew999/greenedumap/internal/feature"
	"github.com/joeblew999/greenedumap/internal/legend"
)

//go:embed fragments/*.html
var fragments embed.FS

var priorityLabels = map[string]string{
	"cao":        "Cao",
	"trung_binh": "Trung bình",
	"thap":       "Thấp",
	"high":       "Cao",
	"medium":     "Trung bình",
	"low":        "Thấp",
}

var requestStatusLabels = map[string]string{
	"cho_xu_ly":  "Chờ xử lý",
	"dang_xu_ly": "Đang xử lý",
	"hoan_thanh": "Hoàn thành",
	"huy_bo":     "Đã hủy bỏ",
}

var distributionStatusLabels = map[string]string{
	"dang_chuan_bi":   "Đang chuẩn bị",
	"dang_van_chuyen": "Đang vận chuyển",
	"dang_giao":       "Đang giao",
	"hoan_thanh":      "Hoàn thành",
	"huy_bo":          "Đã hủy bỏ",
}

func translate(labels map[string]string) func(string) string {
	return func(s string) string {
		if l, ok := labels[s]; ok {
			return l
		}
		return s
	}
}

// funcMap provides common template functions.
var funcMap = template.FuncMap{
	// dict creates a map from key-value pairs, useful for passing multiple values to nested templates
	"dict": func(values ...any) map[string]any {
		if len(values)%2 != 0 {
			return nil
		}
		m := make(map[string]any, len(values)/2)
		for i := 0; i < len(values); i += 2 {
			key, ok := values[i].(string)
			if !ok {
				continue
			}
			m[key] = values[i+1]
		}
		return m
	},
	"priority":           translate(priorityLabels),
	"requestStatus":      translate(requestStatusLabels),
	"distributionStatus": translate(distributionStatusLabels),
	"aqiLevel":           legend.AQILevel,
	"color":              legend.FeatureColor,
	"num": func(v float64) string {
		return fmt.Sprintf("%g", v)
	},
}

// Renderer manages HTML fragment templates.
type Renderer struct {
	templates *template.Template
	mu        sync.RWMutex
}

// New parses the embedded fragments.
func New() (*Renderer, error) {
	tmpl, err := template.New("").Funcs(funcMap).ParseFS(fragments, "fragments/*.html")
	if err != nil {
		return nil, err
	}
	return &Renderer{templates: tmpl}, nil
}

// Render renders a named template to a string.
func (r *Renderer) Render(name string, data any) (string, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var buf bytes.Buffer
	if err := r.templates.ExecuteTemplate(&buf, name, data); err != nil {
		return "", err
	}
	return buf.String(), nil
}

// featureView is what popup and detail templates see.
type featureView struct {
	feature.GeoFeature
	Label  string
	Entity string
}

// M returns the metric stored under key, or nil. Zero values render as
// absent.
func (v featureView) M(key string) any {
	if x, ok := v.Metrics[key]; ok {
		return x
	}
	return nil
}

func view(f feature.GeoFeature) featureView {
	return featureView{GeoFeature: f, Label: f.Category.Label(), Entity: f.Category.DatabaseTag()}
}

// Popup renders the hover/click popup of a feature.
func (r *Renderer) Popup(f feature.GeoFeature) (string, error) {
	return r.Render("popup-"+string(f.Category), view(f))
}

// Detail renders the detail panel. A nil feature renders the closed panel.
func (r *Renderer) Detail(f *feature.GeoFeature) (string, error) {
	if f == nil {
		return r.Render("detail-empty", nil)
	}
	return r.Render("detail", view(*f))
}
