package feature

import (
	"encoding/json"
	"math"
	"strings"
	"testing"
)

func TestNormalizeCoordinateInvariant(t *testing.T) {
	records := []Record{
		{"id": 1, "ward_name": "Phường Bến Nghé", "latitude": 10.7769, "longitude": 106.7009, "aqi": 85.0},
		{"id": 2, "ward_name": "no coords", "aqi": 90.0},
		{"id": 3, "ward_name": "null lat", "latitude": nil, "longitude": 106.7},
		{"id": 4, "ward_name": "lat too big", "latitude": 91.0, "longitude": 106.7},
		{"id": 5, "ward_name": "lon too small", "latitude": 10.0, "longitude": -180.5},
		{"id": 6, "ward_name": "nan", "latitude": math.NaN(), "longitude": 1.0},
		{"id": 7, "ward_name": "inf", "latitude": 1.0, "longitude": math.Inf(1)},
		{"id": 8, "ward_name": "text", "latitude": "north", "longitude": 1.0},
		{"id": 9, "ward_name": "numeric string", "latitude": "10.5", "longitude": " 106.5 "},
		{"id": 10, "ward_name": "edge", "latitude": -90.0, "longitude": 180.0},
		nil,
	}

	b := Normalize(records, CategoryWard)

	if got, want := b.Excluded, len(records)-len(b.Features); got != want {
		t.Fatalf("Excluded=%d, want len(input)-len(output)=%d", got, want)
	}
	if len(b.Features) != 3 {
		t.Fatalf("kept %d features, want 3", len(b.Features))
	}
	for _, f := range b.Features {
		if f.Latitude < -90 || f.Latitude > 90 || f.Longitude < -180 || f.Longitude > 180 {
			t.Errorf("feature %s out of range: %v,%v", f.ID, f.Latitude, f.Longitude)
		}
	}
}

func TestNormalizeWardFields(t *testing.T) {
	var rec Record
	raw := `{"id": 10, "ward_name": "Phường Bến Thành", "district": "Quận 1", "city": "Ho Chi Minh City",
		"latitude": 10.7722, "longitude": 106.6981, "aqi": 105, "pm25": 42, "pm10": 65, "note": "x"}`
	dec := json.NewDecoder(strings.NewReader(raw))
	dec.UseNumber()
	if err := dec.Decode(&rec); err != nil {
		t.Fatal(err)
	}

	b := Normalize([]Record{rec}, CategoryWard)
	if len(b.Features) != 1 {
		t.Fatalf("got %d features", len(b.Features))
	}
	f := b.Features[0]
	if f.ID != "10" {
		t.Errorf("ID=%q, want 10", f.ID)
	}
	if f.Key() != "ward:10" {
		t.Errorf("Key=%q", f.Key())
	}
	if f.Name != "Phường Bến Thành" {
		t.Errorf("Name=%q", f.Name)
	}
	if v, _ := f.Metric("aqi"); v != 105 {
		t.Errorf("aqi=%v", v)
	}
	if _, ok := f.Metric("latitude"); ok {
		t.Error("coordinates must not be copied into metrics")
	}
	if _, ok := f.Metric("id"); ok {
		t.Error("id must not be a metric")
	}
	if f.Attr("district") != "Quận 1" {
		t.Errorf("district=%q", f.Attr("district"))
	}
	if f.Raw["note"] != "x" {
		t.Error("unknown fields must be preserved in Raw")
	}
}

func TestNormalizeCategoryAliases(t *testing.T) {
	tests := []struct {
		name     string
		category Category
		rec      Record
		wantName string
	}{
		{"school lat/lng", CategorySchool, Record{"id": 1, "school_name": "THPT Lê Quý Đôn", "lat": 10.78, "lng": 106.69}, "THPT Lê Quý Đôn"},
		{"request title", CategoryRequest, Record{"id": "r-1", "title": "Cần nước sạch", "latitude": 16.4, "longitude": 107.5, "priority": "cao"}, "Cần nước sạch"},
		{"missing id and name", CategoryCenter, Record{"latitude": 16.0, "longitude": 108.0}, "center-0"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b := Normalize([]Record{tt.rec}, tt.category)
			if len(b.Features) != 1 {
				t.Fatalf("got %d features, excluded %d", len(b.Features), b.Excluded)
			}
			if b.Features[0].Name != tt.wantName {
				t.Errorf("Name=%q, want %q", b.Features[0].Name, tt.wantName)
			}
		})
	}
}

func TestFeatureCollectionProperties(t *testing.T) {
	b := Normalize([]Record{
		{"id": 1, "ward_name": "A", "latitude": 10.0, "longitude": 106.0, "aqi": 50.0, "district": "Quận 1"},
	}, CategoryWard)

	fc := b.FeatureCollection()
	if len(fc.Features) != 1 {
		t.Fatalf("got %d features", len(fc.Features))
	}
	props := fc.Features[0].Properties
	if props["key"] != "ward:1" || props["aqi"] != 50.0 || props["district"] != "Quận 1" {
		t.Errorf("unexpected properties %v", props)
	}
}

func TestBoundAndCentroid(t *testing.T) {
	fs := []GeoFeature{
		{Latitude: 10, Longitude: 106},
		{Latitude: 12, Longitude: 108},
	}
	b, ok := Bound(fs)
	if !ok || b.Min[0] != 106 || b.Max[1] != 12 {
		t.Errorf("Bound=%v ok=%v", b, ok)
	}
	c, ok := Centroid(fs)
	if !ok || c[0] != 107 || c[1] != 11 {
		t.Errorf("Centroid=%v", c)
	}
	if _, ok := Bound(nil); ok {
		t.Error("Bound(nil) must report !ok")
	}
}
