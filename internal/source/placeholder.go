package source

import (
	"context"
	"maps"
	"strings"

	"github.com/joeblew999/greenedumap/internal/feature"
)

// Placeholder serves built-in datasets. It is the fallback when no backend
// is reachable and the data source for demos and tests.
type Placeholder struct {
	data map[feature.Category][]feature.Record
}

// NewPlaceholder serves the given datasets.
func NewPlaceholder(data map[feature.Category][]feature.Record) *Placeholder {
	return &Placeholder{data: data}
}

// DefaultPlaceholder serves the Ho Chi Minh City sample data.
func DefaultPlaceholder() *Placeholder {
	return NewPlaceholder(map[feature.Category][]feature.Record{
		feature.CategoryWard:         HCMCWards(),
		feature.CategorySchool:       sampleSchools(),
		feature.CategorySolar:        sampleSolar(),
		feature.CategoryRequest:      sampleRequests(),
		feature.CategoryCenter:       sampleCenters(),
		feature.CategoryDistribution: sampleDistributions(),
	})
}

func (p *Placeholder) Name() string { return "placeholder" }

func (p *Placeholder) Fetch(_ context.Context, c feature.Category, q Query) ([]feature.Record, error) {
	q = q.Normalized()
	var matched []feature.Record
	for _, r := range p.data[c] {
		if matches(r, q.Filters) {
			matched = append(matched, maps.Clone(r))
		}
	}
	if q.Skip >= len(matched) {
		return []feature.Record{}, nil
	}
	end := min(q.Skip+q.Limit, len(matched))
	return matched[q.Skip:end], nil
}

func matches(r feature.Record, filters map[string]string) bool {
	for k, want := range filters {
		field := k
		if k == "ward" {
			field = "ward_name"
		}
		got, ok := r[field].(string)
		if !ok {
			// records without the field are not filtered on it
			continue
		}
		if !strings.EqualFold(got, want) {
			return false
		}
	}
	return true
}

type ward struct {
	name, district  string
	lat, lon        float64
	aqi, pm25, pm10 float64
}

// hcmcWards is the ward-level air quality sample for TP.HCM.
var hcmcWards = []ward{
	{"Phường Bến Nghé", "Quận 1", 10.7769, 106.7009, 85, 35, 55},
	{"Phường Đa Kao", "Quận 1", 10.7889, 106.6992, 92, 38, 60},
	{"Phường Cầu Kho", "Quận 1", 10.7589, 106.6733, 78, 32, 50},
	{"Phường Cô Giang", "Quận 1", 10.7633, 106.6917, 88, 36, 58},
	{"Phường Nguyễn Thái Bình", "Quận 1", 10.7711, 106.7056, 95, 40, 62},
	{"Phường Phạm Ngũ Lão", "Quận 1", 10.7689, 106.6944, 82, 34, 53},
	{"Phường Cầu Ông Lãnh", "Quận 1", 10.7611, 106.6889, 90, 37, 59},
	{"Phường Tân Định", "Quận 1", 10.7911, 106.6917, 87, 35, 56},
	{"Phường Đa Kao", "Quận 1", 10.7889, 106.6992, 93, 39, 61},
	{"Phường Bến Thành", "Quận 1", 10.7722, 106.6981, 105, 42, 65},
	{"Phường An Phú Đông", "Quận 12", 10.8633, 106.6333, 72, 30, 48},
	{"Phường Đông Hưng Thuận", "Quận 12", 10.8589, 106.6417, 75, 31, 49},
	{"Phường Hiệp Thành", "Quận 12", 10.8667, 106.6389, 80, 33, 52},
	{"Phường Tân Chánh Hiệp", "Quận 12", 10.8611, 106.6361, 78, 32, 51},
	{"Phường Thạnh Lộc", "Quận 12", 10.8556, 106.6444, 85, 35, 55},
	{"Phường Thạnh Xuân", "Quận 12", 10.8689, 106.6400, 88, 36, 57},
	{"Phường Thới An", "Quận 12", 10.8600, 106.6356, 82, 34, 53},
	{"Phường Trung Mỹ Tây", "Quận 12", 10.8578, 106.6394, 90, 37, 59},
	{"Phường Bình Hưng Hòa", "Quận Bình Tân", 10.7589, 106.6000, 115, 45, 70},
	{"Phường Bình Hưng Hòa A", "Quận Bình Tân", 10.7611, 106.6022, 120, 47, 72},
	{"Phường Bình Hưng Hòa B", "Quận Bình Tân", 10.7567, 106.5989, 118, 46, 71},
	{"Phường Bình Trị Đông", "Quận Bình Tân", 10.7633, 106.6056, 125, 49, 75},
	{"Phường Bình Trị Đông A", "Quận Bình Tân", 10.7600, 106.6033, 130, 51, 78},
	{"Phường Bình Trị Đông B", "Quận Bình Tân", 10.7578, 106.6011, 128, 50, 76},
	{"Phường Tân Tạo", "Quận Bình Tân", 10.7556, 106.5978, 135, 53, 80},
	{"Phường Tân Tạo A", "Quận Bình Tân", 10.7522, 106.5956, 140, 55, 83},
	{"Phường An Lạc", "Quận Bình Tân", 10.7500, 106.5933, 145, 57, 85},
	{"Phường An Lạc A", "Quận Bình Tân", 10.7478, 106.5911, 150, 59, 88},
}

// HCMCWards returns the 28 ward air quality records, ids 1..28.
func HCMCWards() []feature.Record {
	out := make([]feature.Record, len(hcmcWards))
	for i, w := range hcmcWards {
		out[i] = feature.Record{
			"id":          i + 1,
			"ward_name":   w.name,
			"district":    w.district,
			"city":        "Ho Chi Minh City",
			"latitude":    w.lat,
			"longitude":   w.lon,
			"aqi":         w.aqi,
			"pm25":        w.pm25,
			"pm10":        w.pm10,
			"data_source": "placeholder",
		}
	}
	return out
}

func sampleSchools() []feature.Record {
	return []feature.Record{
		{"id": 1, "school_name": "Trường THPT Lê Quý Đôn", "ward_name": "Phường Võ Thị Sáu", "lat": 10.7808, "lng": 106.6906, "green_programs_count": 4, "avg_score": 8.6, "energy_saving_kw": 42.5},
		{"id": 2, "school_name": "Trường THPT Nguyễn Thị Minh Khai", "ward_name": "Phường Võ Thị Sáu", "lat": 10.7831, "lng": 106.6875, "green_programs_count": 3, "avg_score": 8.4, "energy_saving_kw": 35},
		{"id": 3, "school_name": "Trường THCS Trần Văn Ơn", "ward_name": "Phường Bến Nghé", "lat": 10.7797, "lng": 106.6975, "green_programs_count": 2, "avg_score": 7.9, "energy_saving_kw": 18.2},
		{"id": 4, "school_name": "Trường Tiểu học Bình Trị Đông", "ward_name": "Phường Bình Trị Đông", "lat": 10.7641, "lng": 106.6079, "green_programs_count": 5, "avg_score": 8.1, "energy_saving_kw": 27.4},
		{"id": 5, "school_name": "Trường THPT Trường Chinh", "ward_name": "Phường Trung Mỹ Tây", "lat": 10.8572, "lng": 106.6187, "green_programs_count": 1, "avg_score": 7.5, "energy_saving_kw": 12},
	}
}

func sampleSolar() []feature.Record {
	return []feature.Record{
		{"id": 1, "name": "Mái nhà năng lượng mặt trời Q1", "ward_name": "Phường Bến Nghé", "district": "Quận 1", "latitude": 10.7752, "longitude": 106.7031, "capacity_kw": 120, "status": "active"},
		{"id": 2, "name": "Trạm điện mặt trời Tân Tạo", "ward_name": "Phường Tân Tạo", "district": "Quận Bình Tân", "latitude": 10.7549, "longitude": 106.5962, "capacity_kw": 450, "status": "active"},
		{"id": 3, "name": "Solar Hiệp Thành", "ward_name": "Phường Hiệp Thành", "district": "Quận 12", "latitude": 10.8671, "longitude": 106.6402, "capacity_kw": 80, "status": "planned"},
	}
}

func sampleRequests() []feature.Record {
	return []feature.Record{
		{"id": 1, "title": "Cần nước sạch khẩn cấp", "priority": "cao", "status": "cho_xu_ly", "address": "Xã Bình Khánh, Cần Giờ", "province": "Ho Chi Minh City", "person_count": 120, "latitude": 10.6450, "longitude": 106.7880},
		{"id": 2, "title": "Hỗ trợ lương thực", "priority": "trung_binh", "status": "dang_xu_ly", "address": "Phường Tân Tạo A, Bình Tân", "province": "Ho Chi Minh City", "person_count": 45, "latitude": 10.7510, "longitude": 106.5940},
		{"id": 3, "title": "Thuốc men cho người cao tuổi", "priority": "thap", "status": "cho_xu_ly", "address": "Phường Thạnh Lộc, Quận 12", "province": "Ho Chi Minh City", "person_count": 12, "latitude": 10.8560, "longitude": 106.6790},
	}
}

func sampleCenters() []feature.Record {
	return []feature.Record{
		{"id": 1, "name": "Trung tâm cứu trợ Quận 1", "address": "Phường Bến Nghé, Quận 1", "province": "Ho Chi Minh City", "capacity": 500, "latitude": 10.7760, "longitude": 106.7000},
		{"id": 2, "name": "Trung tâm cứu trợ Bình Tân", "address": "Phường Bình Trị Đông, Bình Tân", "province": "Ho Chi Minh City", "capacity": 300, "latitude": 10.7640, "longitude": 106.6060},
	}
}

func sampleDistributions() []feature.Record {
	return []feature.Record{
		{"id": 1, "title": "Phân phối nước uống", "resource_name": "Nước uống", "status": "dang_van_chuyen", "center_id": 1, "quantity": 2000, "latitude": 10.6900, "longitude": 106.7500},
		{"id": 2, "title": "Phân phối gạo", "resource_name": "Gạo", "status": "da_giao", "center_id": 2, "quantity": 800, "latitude": 10.7520, "longitude": 106.5950},
	}
}
