// Package feature normalizes heterogeneous domain records into point
// features that the map layers can render.
package feature

import "strconv"

// Category identifies the domain a feature was built from.
type Category string

const (
	CategoryWard         Category = "ward"
	CategorySchool       Category = "school"
	CategorySolar        Category = "solar"
	CategoryRequest      Category = "request"
	CategoryCenter       Category = "center"
	CategoryDistribution Category = "distribution"
)

// Categories lists every known category in display order.
var Categories = []Category{
	CategoryWard,
	CategorySchool,
	CategorySolar,
	CategoryRequest,
	CategoryCenter,
	CategoryDistribution,
}

// Valid reports whether c is a known category.
func (c Category) Valid() bool {
	for _, k := range Categories {
		if k == c {
			return true
		}
	}
	return false
}

// Label returns the Vietnamese display label used by the dashboard.
func (c Category) Label() string {
	switch c {
	case CategoryWard:
		return "Phường/xã"
	case CategorySchool:
		return "Trường học"
	case CategorySolar:
		return "Năng lượng xanh"
	case CategoryRequest:
		return "Yêu cầu cứu trợ"
	case CategoryCenter:
		return "Trung tâm cứu trợ"
	case CategoryDistribution:
		return "Phân phối nguồn lực"
	}
	return string(c)
}

// DatabaseTag returns the backing table name shown in the relief legend.
func (c Category) DatabaseTag() string {
	switch c {
	case CategoryWard:
		return "air_quality"
	case CategorySchool:
		return "schools"
	case CategorySolar:
		return "green_energy"
	case CategoryRequest:
		return "yeu_cau_cuu_tros"
	case CategoryCenter:
		return "trung_tam_cuu_tros"
	case CategoryDistribution:
		return "phan_phois"
	}
	return string(c)
}

// Record is one decoded domain record as delivered by a source.
type Record map[string]any

// GeoFeature is a normalized, point-located domain record.
// It is never mutated after Normalize builds it.
type GeoFeature struct {
	ID         string             `json:"id"`
	Name       string             `json:"name"`
	Category   Category           `json:"category"`
	Latitude   float64            `json:"latitude"`
	Longitude  float64            `json:"longitude"`
	Metrics    map[string]float64 `json:"metrics"`
	Attributes map[string]string  `json:"attributes,omitempty"`
	Raw        Record             `json:"-"`
}

// Key identifies a feature across categories; ids are only unique within
// one category.
func (f GeoFeature) Key() string {
	return string(f.Category) + ":" + f.ID
}

// Metric returns the value stored under key.
func (f GeoFeature) Metric(key string) (float64, bool) {
	v, ok := f.Metrics[key]
	return v, ok
}

// Attr returns a string attribute or "".
func (f GeoFeature) Attr(key string) string {
	return f.Attributes[key]
}

// ValidCoordinates reports whether lat/lon are inside WGS84 bounds.
func ValidCoordinates(lat, lon float64) bool {
	return lat >= -90 && lat <= 90 && lon >= -180 && lon <= 180
}

// FormatID renders a record id (string or number) as a feature id.
func FormatID(v any) (string, bool) {
	switch id := v.(type) {
	case string:
		return id, id != ""
	case int:
		return strconv.Itoa(id), true
	case int64:
		return strconv.FormatInt(id, 10), true
	case float64:
		return strconv.FormatFloat(id, 'f', -1, 64), true
	case interface{ String() string }:
		s := id.String()
		return s, s != ""
	}
	return "", false
}
