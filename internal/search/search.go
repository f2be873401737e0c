// Package search resolves free-text queries against the loaded features.
package search

import (
	"strings"
	"time"
	"unicode"

	"golang.org/x/text/cases"
	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"

	"github.com/joeblew999/greenedumap/internal/feature"
)

// Navigation defaults for a search hit.
const (
	NavigateZoom     = 14
	NavigateDuration = 1500 * time.Millisecond
)

// secondary lists attribute fields searched after the name.
var secondary = map[feature.Category][]string{
	feature.CategoryWard:         {"district", "city"},
	feature.CategorySchool:       {"ward_name", "district"},
	feature.CategorySolar:        {"ward_name", "district"},
	feature.CategoryRequest:      {"address"},
	feature.CategoryCenter:       {"address"},
	feature.CategoryDistribution: {"resource_name", "address"},
}

var folder = cases.Fold()

// Fold normalizes s for comparison: case folded, diacritics stripped and
// the Vietnamese đ mapped to d.
func Fold(s string) string {
	t := transform.Chain(
		norm.NFD,
		runes.Remove(runes.In(unicode.Mn)),
		runes.Map(func(r rune) rune {
			switch r {
			case 'đ', 'Đ':
				return 'd'
			}
			return r
		}),
		norm.NFC,
	)
	out, _, err := transform.String(t, folder.String(s))
	if err != nil {
		return folder.String(s)
	}
	return out
}

// Search returns the first feature, in corpus order, whose name or
// secondary fields contain query. A blank query returns nil.
func Search(query string, corpus []feature.GeoFeature) *feature.GeoFeature {
	q := strings.TrimSpace(query)
	if q == "" {
		return nil
	}
	exact := folder.String(q)
	loose := Fold(q)

	for i := range corpus {
		f := &corpus[i]
		for _, field := range fields(f) {
			if field == "" {
				continue
			}
			if strings.Contains(folder.String(field), exact) || strings.Contains(Fold(field), loose) {
				return f
			}
		}
	}
	return nil
}

func fields(f *feature.GeoFeature) []string {
	out := []string{f.Name}
	for _, k := range secondary[f.Category] {
		out = append(out, f.Attributes[k])
	}
	return out
}

// Flyer is the camera command surface Navigate needs.
type Flyer interface {
	FlyTo(lon, lat, zoom float64, duration time.Duration) error
}

// Navigate searches and, on a hit, flies the camera to it. A miss issues no
// camera command.
func Navigate(query string, corpus []feature.GeoFeature, cam Flyer) (*feature.GeoFeature, error) {
	f := Search(query, corpus)
	if f == nil {
		return nil, nil
	}
	if err := cam.FlyTo(f.Longitude, f.Latitude, NavigateZoom, NavigateDuration); err != nil {
		return f, err
	}
	return f, nil
}
