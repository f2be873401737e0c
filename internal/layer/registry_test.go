package layer

import (
	"os"
	"path/filepath"
	"reflect"
	"testing"

	"github.com/joeblew999/greenedumap/internal/feature"
)

func heat() Descriptor {
	return Descriptor{ID: "aqi-heat", Kind: KindHeatmap, Category: feature.CategoryWard, MetricKey: "aqi", Visible: true}
}

func TestRegisterIdempotent(t *testing.T) {
	r := NewRegistry()
	calls := 0
	r.Subscribe(func() { calls++ })

	r.Register(heat())
	first := r.Snapshot()
	r.Register(heat())
	second := r.Snapshot()

	if len(second) != 1 {
		t.Fatalf("got %d entries, want 1", len(second))
	}
	if !reflect.DeepEqual(first, second) {
		t.Fatalf("snapshot changed:\n%v\n%v", first, second)
	}
	if calls != 1 {
		t.Errorf("listeners called %d times, want 1", calls)
	}
	if len(second[0].ColorScale) == 0 {
		t.Error("metric-driven layer should get a color scale")
	}
}

func TestRegisterPreservesVisibility(t *testing.T) {
	r := NewRegistry()
	r.Register(heat())
	r.SetVisible("aqi-heat", false)

	updated := heat()
	updated.Opacity = 0.4
	r.Register(updated)

	d, _ := r.Get("aqi-heat")
	if d.Visible {
		t.Error("re-register must keep the toggled-off visibility")
	}
	if d.Opacity != 0.4 {
		t.Error("re-register must replace configuration")
	}

	r.Register(updated, WithVisibility(true))
	if d, _ := r.Get("aqi-heat"); !d.Visible {
		t.Error("WithVisibility must override")
	}
}

func TestUnknownIDsAreNoops(t *testing.T) {
	r := NewRegistry()
	calls := 0
	r.Subscribe(func() { calls++ })

	r.SetVisible("missing", true)
	r.Unregister("missing")
	if calls != 0 || len(r.Snapshot()) != 0 {
		t.Fatal("unknown ids must not change state")
	}
}

func TestSnapshotOrderAndUnregister(t *testing.T) {
	r := NewRegistry()
	for _, id := range []string{"a", "b", "c"} {
		r.Register(Descriptor{ID: id, Kind: KindSymbol})
	}
	r.Unregister("b")
	r.Register(Descriptor{ID: "b", Kind: KindSymbol})

	var ids []string
	for _, d := range r.Snapshot() {
		ids = append(ids, d.ID)
	}
	if !reflect.DeepEqual(ids, []string{"a", "c", "b"}) {
		t.Errorf("order=%v", ids)
	}
}

func TestSnapshotIsACopy(t *testing.T) {
	r := NewRegistry()
	r.Register(heat())
	s := r.Snapshot()
	s[0].Visible = false
	s[0].ColorScale[0].Color = "black"

	d, _ := r.Get("aqi-heat")
	if !d.Visible || d.ColorScale[0].Color == "black" {
		t.Fatal("snapshot mutation leaked into registry")
	}
}

func TestSetActiveMetric(t *testing.T) {
	values := map[string][]float64{
		"aqi":  {65, 150},
		"pm25": {30, 59},
		"pm10": {48, 88},
	}
	r := NewRegistry(WithValues(func(k string) []float64 { return values[k] }))
	r.Register(heat())
	r.Register(Descriptor{ID: "schools", Kind: KindSymbol, Category: feature.CategorySchool})

	if !r.SetActiveMetric("pm10") {
		t.Fatal("switch to pm10 should change the heatmap")
	}
	d, _ := r.Get("aqi-heat")
	if d.MetricKey != "pm10" || d.ColorScale[0].Threshold != 48 {
		t.Errorf("heatmap after switch: %+v", d)
	}
	if s, _ := r.Get("schools"); s.MetricKey != "" {
		t.Error("symbol layers are not metric-driven")
	}

	if r.SetActiveMetric("no2") {
		t.Error("key absent from data must be a no-op")
	}
	if d, _ := r.Get("aqi-heat"); d.MetricKey != "pm10" {
		t.Error("no-op switch must keep the previous metric")
	}
}

func TestLoadPresets(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "layers.yaml")
	data := []byte(`
- page: environment
  layers:
    - id: aqi-heat
      kind: heatmap
      category: ward
      metricKey: aqi
      visible: true
    - id: schools
      kind: symbol
      category: school
      interactive: true
`)
	if err := os.WriteFile(path, data, 0644); err != nil {
		t.Fatal(err)
	}

	presets, err := LoadPresets(path)
	if err != nil {
		t.Fatal(err)
	}
	p, ok := Find(presets, "environment")
	if !ok || len(p.Layers) != 2 || !p.Layers[1].Interactive {
		t.Fatalf("unexpected presets %+v", presets)
	}

	r := NewRegistry()
	p.Apply(r)
	if len(r.Snapshot()) != 2 {
		t.Error("Apply should register all layers")
	}

	bad := filepath.Join(dir, "bad.yaml")
	os.WriteFile(bad, []byte("- page: x\n  layers:\n    - id: h\n      kind: heatmap\n"), 0644)
	if _, err := LoadPresets(bad); err == nil {
		t.Error("heatmap without metricKey must be rejected")
	}
}

func TestDefaultPresetsRoundTrip(t *testing.T) {
	out, err := MarshalPresets(DefaultPresets())
	if err != nil {
		t.Fatal(err)
	}
	path := filepath.Join(t.TempDir(), "p.yaml")
	if err := os.WriteFile(path, out, 0644); err != nil {
		t.Fatal(err)
	}
	got, err := LoadPresets(path)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != len(DefaultPresets()) {
		t.Errorf("got %d presets", len(got))
	}
}
