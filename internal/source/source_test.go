package source

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/joeblew999/greenedumap/internal/feature"
)

func TestHTTPSourceArrayAndEnvelope(t *testing.T) {
	var gotQuery string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotQuery = r.URL.RawQuery
		switch r.URL.Path {
		case "/api/air-quality/":
			w.Write([]byte(`{"total": 2, "items": [{"id": 1, "ward_name": "Phường Bến Nghé", "latitude": 10.7769, "longitude": 106.7009, "aqi": 85}, {"id": 2, "ward_name": "Phường X", "latitude": null, "longitude": 106.7}]}`))
		case "/api/schools":
			w.Write([]byte(`[{"id": 7, "school_name": "Trường A", "lat": 10.78, "lng": 106.69}]`))
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	src := NewHTTP(srv.URL + "/")
	records, err := src.Fetch(context.Background(), feature.CategoryWard, Query{Skip: 10, Limit: 5, Filters: map[string]string{"city": "Ho Chi Minh City", "color": "red"}})
	if err != nil {
		t.Fatal(err)
	}
	if len(records) != 2 {
		t.Fatalf("got %d records", len(records))
	}
	if gotQuery != "city=Ho+Chi+Minh+City&limit=5&skip=10" {
		t.Errorf("query=%q", gotQuery)
	}

	b := feature.Normalize(records, feature.CategoryWard)
	if len(b.Features) != 1 || b.Excluded != 1 || b.Features[0].ID != "1" {
		t.Errorf("batch=%+v", b)
	}

	schools, err := src.Fetch(context.Background(), feature.CategorySchool, Query{})
	if err != nil || len(schools) != 1 {
		t.Fatalf("schools=%v err=%v", schools, err)
	}
	if gotQuery != "limit=100&skip=0" {
		t.Errorf("default paging query=%q", gotQuery)
	}
}

func TestHTTPSourceErrors(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusInternalServerError)
	}))
	defer srv.Close()

	src := NewHTTP(srv.URL)
	if _, err := src.Fetch(context.Background(), feature.CategoryWard, Query{}); err == nil {
		t.Error("expected status error")
	}
	src.Paths = map[feature.Category]string{}
	if _, err := src.Fetch(context.Background(), feature.CategoryWard, Query{}); !errors.Is(err, ErrUnsupported) {
		t.Errorf("err=%v", err)
	}
}

func TestPlaceholder(t *testing.T) {
	p := DefaultPlaceholder()
	wards, _ := p.Fetch(context.Background(), feature.CategoryWard, Query{})
	if len(wards) != 28 {
		t.Fatalf("got %d wards", len(wards))
	}
	b := feature.Normalize(wards, feature.CategoryWard)
	if b.Excluded != 0 {
		t.Errorf("placeholder wards must all be mappable, excluded %d", b.Excluded)
	}

	page, _ := p.Fetch(context.Background(), feature.CategoryWard, Query{Skip: 25, Limit: 10})
	if len(page) != 3 || page[2]["ward_name"] != "Phường An Lạc A" {
		t.Errorf("last page=%v", page)
	}
	empty, _ := p.Fetch(context.Background(), feature.CategoryWard, Query{Skip: 40})
	if len(empty) != 0 {
		t.Error("skip past end should be empty")
	}

	high, _ := p.Fetch(context.Background(), feature.CategoryRequest, Query{Filters: map[string]string{"priority": "cao"}})
	if len(high) != 1 {
		t.Errorf("priority filter returned %d", len(high))
	}

	page[0]["ward_name"] = "changed"
	again, _ := p.Fetch(context.Background(), feature.CategoryWard, Query{Skip: 25, Limit: 1})
	if again[0]["ward_name"] == "changed" {
		t.Error("placeholder records must be copies")
	}
}

type failing struct{}

func (failing) Name() string { return "failing" }
func (failing) Fetch(context.Context, feature.Category, Query) ([]feature.Record, error) {
	return nil, errors.New("connection refused")
}

func TestFallback(t *testing.T) {
	f := NewFallback(failing{}, DefaultPlaceholder(), nil)
	records, err := f.Fetch(context.Background(), feature.CategoryCenter, Query{})
	if err != nil || len(records) != 2 {
		t.Fatalf("records=%d err=%v", len(records), err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := f.Fetch(ctx, feature.CategoryCenter, Query{}); !errors.Is(err, context.Canceled) {
		t.Errorf("cancelled fetch err=%v", err)
	}
}

type memKV struct {
	mu   sync.Mutex
	data map[string][]byte
	sets int
}

func (m *memKV) Get(_ context.Context, key string) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	b, ok := m.data[key]
	if !ok {
		return nil, ErrCacheMiss
	}
	return b, nil
}

func (m *memKV) Set(_ context.Context, key string, value []byte, _ time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data[key] = value
	m.sets++
	return nil
}

type counting struct {
	Source
	calls int
}

func (c *counting) Fetch(ctx context.Context, cat feature.Category, q Query) ([]feature.Record, error) {
	c.calls++
	return c.Source.Fetch(ctx, cat, q)
}

func TestCache(t *testing.T) {
	inner := &counting{Source: DefaultPlaceholder()}
	kv := &memKV{data: map[string][]byte{}}
	c := NewCache(inner, kv, time.Minute, nil)

	q := Query{Filters: map[string]string{"city": "Ho Chi Minh City"}}
	first, err := c.Fetch(context.Background(), feature.CategoryWard, q)
	if err != nil {
		t.Fatal(err)
	}
	second, err := c.Fetch(context.Background(), feature.CategoryWard, q)
	if err != nil {
		t.Fatal(err)
	}
	if inner.calls != 1 || kv.sets != 1 {
		t.Fatalf("inner calls=%d sets=%d", inner.calls, kv.sets)
	}
	if len(first) != len(second) {
		t.Fatal("cached result differs")
	}

	b := feature.Normalize(second, feature.CategoryWard)
	if len(b.Features) != 28 || b.Features[27].Metrics["aqi"] != 150 {
		t.Errorf("cached records do not normalize: %d features", len(b.Features))
	}
}

type flaky struct {
	mu   sync.Mutex
	down bool
}

func (f *flaky) Name() string { return "backend" }

func (f *flaky) Fetch(_ context.Context, c feature.Category, _ Query) ([]feature.Record, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.down {
		return nil, errors.New("connection refused")
	}
	return []feature.Record{{"id": 7, "name": "Kho Thủ Đức", "latitude": 10.85, "longitude": 106.77}}, nil
}

func TestChainDoesNotCacheFallbackData(t *testing.T) {
	backend := &flaky{down: true}
	kv := &memKV{data: map[string][]byte{}}
	src := Chain(backend, DefaultPlaceholder(), kv, time.Hour, nil)
	ctx := context.Background()

	during, err := src.Fetch(ctx, feature.CategoryCenter, Query{})
	if err != nil || len(during) != 2 {
		t.Fatalf("outage fetch: records=%d err=%v", len(during), err)
	}
	if kv.sets != 0 {
		t.Fatalf("placeholder data cached during outage (sets=%d)", kv.sets)
	}

	backend.mu.Lock()
	backend.down = false
	backend.mu.Unlock()
	after, err := src.Fetch(ctx, feature.CategoryCenter, Query{})
	if err != nil {
		t.Fatal(err)
	}
	if len(after) != 1 || after[0]["name"] != "Kho Thủ Đức" {
		t.Fatalf("recovered backend not consulted: %v", after)
	}
	if kv.sets != 1 {
		t.Errorf("backend records not cached (sets=%d)", kv.sets)
	}

	backend.mu.Lock()
	backend.down = true
	backend.mu.Unlock()
	cached, err := src.Fetch(ctx, feature.CategoryCenter, Query{})
	if err != nil || len(cached) != 1 {
		t.Errorf("cached backend records not served: %v err=%v", cached, err)
	}
}

func TestQueryKey(t *testing.T) {
	a := Query{Filters: map[string]string{"status": "open", "city": "HCM"}}.Key()
	b := Query{Limit: 100, Filters: map[string]string{"city": "HCM", "status": "open", "x": "ignored"}}.Key()
	if a != b {
		t.Errorf("%q != %q", a, b)
	}
}

func TestRouter(t *testing.T) {
	r := NewRouter(nil).Route(feature.CategoryWard, DefaultPlaceholder())
	if _, err := r.Fetch(context.Background(), feature.CategoryWard, Query{}); err != nil {
		t.Error(err)
	}
	if _, err := r.Fetch(context.Background(), feature.CategorySchool, Query{}); !errors.Is(err, ErrUnsupported) {
		t.Errorf("err=%v", err)
	}
}
