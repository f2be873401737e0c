package feature

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/joeblew999/greenedumap/internal/metrics"
)

// mapping describes where a category keeps its identifying fields.
type mapping struct {
	name  []string // first non-empty wins
	lat   []string
	lon   []string
	attrs []string // string fields copied into Attributes
}

var defaultMapping = mapping{
	name: []string{"name", "title"},
	lat:  []string{"latitude", "lat"},
	lon:  []string{"longitude", "lng", "lon"},
}

var mappings = map[Category]mapping{
	CategoryWard: {
		name:  []string{"ward_name", "name"},
		lat:   defaultMapping.lat,
		lon:   defaultMapping.lon,
		attrs: []string{"district", "city", "data_source"},
	},
	CategorySchool: {
		name:  []string{"school_name", "name"},
		lat:   defaultMapping.lat,
		lon:   defaultMapping.lon,
		attrs: []string{"ward_name", "district"},
	},
	CategorySolar: {
		name:  []string{"name", "installation_name", "title"},
		lat:   defaultMapping.lat,
		lon:   defaultMapping.lon,
		attrs: []string{"ward_name", "district", "owner", "status"},
	},
	CategoryRequest: {
		name:  []string{"title", "name"},
		lat:   defaultMapping.lat,
		lon:   defaultMapping.lon,
		attrs: []string{"priority", "status", "address", "description", "province"},
	},
	CategoryCenter: {
		name:  []string{"name", "title"},
		lat:   defaultMapping.lat,
		lon:   defaultMapping.lon,
		attrs: []string{"address", "description", "province", "status"},
	},
	CategoryDistribution: {
		name:  []string{"title", "resource_name", "name"},
		lat:   defaultMapping.lat,
		lon:   defaultMapping.lon,
		attrs: []string{"resource_name", "status", "address"},
	},
}

// skipMetric lists numeric fields that are identifiers, not measurements.
var skipMetric = map[string]bool{
	"id":        true,
	"school_id": true,
	"user_id":   true,
	"center_id": true,
}

// Batch is the result of one normalization pass.
type Batch struct {
	Category Category
	Features []GeoFeature
	Excluded int
	// Mapped[i] reports whether input record i became a feature.
	Mapped []bool
}

// Normalize converts raw records of one category into features. Records
// without finite, in-range coordinates are dropped and counted; no error is
// ever returned for an individual record.
func Normalize(records []Record, category Category) Batch {
	m, ok := mappings[category]
	if !ok {
		m = defaultMapping
	}

	b := Batch{
		Category: category,
		Features: make([]GeoFeature, 0, len(records)),
		Mapped:   make([]bool, len(records)),
	}
	for i, rec := range records {
		f, ok := normalizeOne(rec, category, m, i)
		b.Mapped[i] = ok
		if !ok {
			b.Excluded++
			continue
		}
		b.Features = append(b.Features, f)
	}

	if b.Excluded > 0 {
		metrics.AdapterExcludedTotal.WithLabelValues(string(category)).Add(float64(b.Excluded))
	}
	metrics.AdapterFeaturesTotal.WithLabelValues(string(category)).Add(float64(len(b.Features)))
	return b
}

func normalizeOne(rec Record, category Category, m mapping, index int) (GeoFeature, bool) {
	if rec == nil {
		return GeoFeature{}, false
	}
	lat, ok := firstNumber(rec, m.lat)
	if !ok {
		return GeoFeature{}, false
	}
	lon, ok := firstNumber(rec, m.lon)
	if !ok {
		return GeoFeature{}, false
	}
	if !ValidCoordinates(lat, lon) {
		return GeoFeature{}, false
	}

	id := RecordID(rec, category, index)
	f := GeoFeature{
		ID:         id,
		Name:       firstString(rec, m.name),
		Category:   category,
		Latitude:   lat,
		Longitude:  lon,
		Metrics:    make(map[string]float64),
		Attributes: make(map[string]string),
		Raw:        rec,
	}
	if f.Name == "" {
		f.Name = id
	}

	coord := make(map[string]bool, len(m.lat)+len(m.lon))
	for _, k := range m.lat {
		coord[k] = true
	}
	for _, k := range m.lon {
		coord[k] = true
	}
	for k, v := range rec {
		if coord[k] || skipMetric[k] {
			continue
		}
		if _, isString := v.(string); isString {
			continue
		}
		if n, ok := number(v); ok {
			f.Metrics[k] = n
		}
	}
	for _, k := range m.attrs {
		if s, ok := rec[k].(string); ok && s != "" {
			f.Attributes[k] = s
		}
	}
	return f, true
}

// RecordID returns the id of a raw record, or "category-index" when it has
// none.
func RecordID(rec Record, category Category, index int) string {
	if id, ok := FormatID(rec["id"]); ok {
		return id
	}
	return fmt.Sprintf("%s-%d", category, index)
}

// RecordName returns the display name of a raw record, whether or not it
// can be mapped.
func RecordName(rec Record, category Category) string {
	m, ok := mappings[category]
	if !ok {
		m = defaultMapping
	}
	return firstString(rec, m.name)
}

func firstNumber(rec Record, keys []string) (float64, bool) {
	for _, k := range keys {
		if v, present := rec[k]; present {
			return number(v)
		}
	}
	return 0, false
}

func firstString(rec Record, keys []string) string {
	for _, k := range keys {
		if s, ok := rec[k].(string); ok && strings.TrimSpace(s) != "" {
			return s
		}
	}
	return ""
}

// number accepts JSON numbers, Go numeric types and numeric strings.
func number(v any) (float64, bool) {
	var f float64
	switch n := v.(type) {
	case float64:
		f = n
	case float32:
		f = float64(n)
	case int:
		f = float64(n)
	case int32:
		f = float64(n)
	case int64:
		f = float64(n)
	case json.Number:
		x, err := n.Float64()
		if err != nil {
			return 0, false
		}
		f = x
	case string:
		x, err := strconv.ParseFloat(strings.TrimSpace(n), 64)
		if err != nil {
			return 0, false
		}
		f = x
	default:
		return 0, false
	}
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, false
	}
	return f, true
}

// Values collects the metric values carried by features, in order.
func Values(features []GeoFeature, metricKey string) []float64 {
	var out []float64
	for _, f := range features {
		if v, ok := f.Metrics[metricKey]; ok {
			out = append(out, v)
		}
	}
	return out
}

// Index maps feature keys to features. Later duplicates win.
func Index(features []GeoFeature) map[string]GeoFeature {
	idx := make(map[string]GeoFeature, len(features))
	for _, f := range features {
		idx[f.Key()] = f
	}
	return idx
}
