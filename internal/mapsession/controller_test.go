package mapsession

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"

	"github.com/joeblew999/greenedumap/internal/feature"
	"github.com/joeblew999/greenedumap/internal/layer"
	"github.com/joeblew999/greenedumap/internal/search"
	"github.com/joeblew999/greenedumap/internal/selection"
)

// fakeEngine records every call made by the controller.
type fakeEngine struct {
	mu       sync.Mutex
	ops      []string
	onLoad   func()
	handlers map[string]Handler
	sources  map[string]*geojson.FeatureCollection
	removed  bool
}

func newFakeEngine() *fakeEngine {
	return &fakeEngine{
		handlers: make(map[string]Handler),
		sources:  make(map[string]*geojson.FeatureCollection),
	}
}

func (f *fakeEngine) record(format string, args ...any) {
	f.mu.Lock()
	f.ops = append(f.ops, fmt.Sprintf(format, args...))
	f.mu.Unlock()
}

func (f *fakeEngine) take() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	ops := f.ops
	f.ops = nil
	return ops
}

func (f *fakeEngine) AddSource(id string, data *geojson.FeatureCollection) error {
	f.record("addSource %s %d", id, len(data.Features))
	f.sources[id] = data
	return nil
}

func (f *fakeEngine) SetSourceData(id string, data *geojson.FeatureCollection) error {
	f.record("setSourceData %s %d", id, len(data.Features))
	f.sources[id] = data
	return nil
}

func (f *fakeEngine) RemoveSource(id string) error {
	f.record("removeSource %s", id)
	delete(f.sources, id)
	return nil
}

func (f *fakeEngine) AddLayer(spec LayerSpec) error {
	f.record("addLayer %s %s", spec.ID, spec.Source)
	return nil
}

func (f *fakeEngine) UpdateLayer(spec LayerSpec) error {
	f.record("updateLayer %s visible=%v", spec.ID, spec.Visible)
	return nil
}

func (f *fakeEngine) RemoveLayer(id string) error {
	f.record("removeLayer %s", id)
	return nil
}

func (f *fakeEngine) On(event selection.EventType, layerID string, h Handler) func() {
	key := string(event) + "/" + layerID
	f.mu.Lock()
	f.handlers[key] = h
	f.mu.Unlock()
	return func() {
		f.mu.Lock()
		delete(f.handlers, key)
		f.mu.Unlock()
	}
}

func (f *fakeEngine) handler(event selection.EventType, layerID string) Handler {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.handlers[string(event)+"/"+layerID]
}

func (f *fakeEngine) OnLoad(fn func()) { f.onLoad = fn }

func (f *fakeEngine) FlyTo(m CameraMove) error {
	f.record("flyTo %.4f,%.4f z%.0f", m.Center.Lon(), m.Center.Lat(), m.Zoom)
	return nil
}

func (f *fakeEngine) FitBounds(b orb.Bound, _ FitOptions) error {
	f.record("fitBounds")
	return nil
}

func (f *fakeEngine) AddImage(name, _ string) error {
	f.record("addImage %s", name)
	return nil
}

func (f *fakeEngine) Remove() error {
	f.record("remove")
	f.removed = true
	return nil
}

var wards = []feature.GeoFeature{
	{ID: "1", Name: "Phường Bến Nghé", Category: feature.CategoryWard, Latitude: 10.7769, Longitude: 106.7009, Metrics: map[string]float64{"aqi": 72}},
	{ID: "2", Name: "Phường Bến Thành", Category: feature.CategoryWard, Latitude: 10.7722, Longitude: 106.6980, Metrics: map[string]float64{"aqi": 85}},
}

type harness struct {
	engine    *fakeEngine
	factory   int
	registry  *layer.Registry
	store     *selection.Store
	ctrl      *Controller
	factoryFn Factory
}

func newHarness(t *testing.T, token string) *harness {
	t.Helper()
	h := &harness{engine: newFakeEngine(), registry: layer.NewRegistry(), store: selection.NewStore()}
	h.factoryFn = func(ctx context.Context, opts Options) (Engine, error) {
		h.factory++
		return h.engine, nil
	}
	h.registry.Register(layer.Descriptor{ID: "aqi-heat", Kind: layer.KindHeatmap, Category: feature.CategoryWard, MetricKey: "aqi", Visible: true})
	h.registry.Register(layer.Descriptor{ID: "wards", Kind: layer.KindCircle, Category: feature.CategoryWard, Visible: true, Interactive: true})
	h.ctrl = New(Config{AccessToken: token}, func(ctx context.Context, o Options) (Engine, error) { return h.factoryFn(ctx, o) },
		h.registry, WithSink(func(e selection.Event) { h.store.Dispatch(e) }))
	h.ctrl.OnDispose(func() { h.store.Reset() })
	return h
}

func (h *harness) ready(t *testing.T) {
	t.Helper()
	if err := h.ctrl.SetFeatures(wards); err != nil {
		t.Fatal(err)
	}
	if err := h.ctrl.Mount(context.Background(), "map", DefaultCamera); err != nil {
		t.Fatalf("mount: %v", err)
	}
	if h.ctrl.State() != Initializing {
		t.Fatalf("state=%v, want initializing", h.ctrl.State())
	}
	h.engine.onLoad()
	if h.ctrl.State() != Ready {
		t.Fatalf("state=%v, want ready", h.ctrl.State())
	}
}

func TestMountWithoutCredential(t *testing.T) {
	for _, token := range []string{"", "   ", "your_mapbox_token"} {
		h := newHarness(t, token)
		err := h.ctrl.Mount(context.Background(), "map", DefaultCamera)
		if !errors.Is(err, ErrNoCredential) {
			t.Errorf("token %q: err=%v, want ErrNoCredential", token, err)
		}
		if h.ctrl.State() != Unmounted {
			t.Errorf("token %q: state=%v, want unmounted", token, h.ctrl.State())
		}
		if h.factory != 0 {
			t.Errorf("token %q: factory called %d times", token, h.factory)
		}
	}
}

func TestMountFactoryError(t *testing.T) {
	h := newHarness(t, "pk.test")
	h.factoryFn = func(context.Context, Options) (Engine, error) { return nil, errors.New("webgl unavailable") }
	if err := h.ctrl.Mount(context.Background(), "map", DefaultCamera); err == nil {
		t.Fatal("expected error")
	}
	if h.ctrl.State() != Unmounted {
		t.Errorf("state=%v", h.ctrl.State())
	}
}

func TestInitialReconcile(t *testing.T) {
	h := newHarness(t, "pk.test")
	h.ctrl.cfg.Images = map[string]string{"school": "/static/school.png"}
	h.ready(t)

	got := h.engine.take()
	want := []string{
		"addImage school",
		"addSource features-ward 2",
		"addLayer aqi-heat features-ward",
		"addLayer wards features-ward",
	}
	if fmt.Sprint(got) != fmt.Sprint(want) {
		t.Fatalf("ops=%v\nwant %v", got, want)
	}
	if h.engine.handler(selection.Click, "wards") == nil {
		t.Error("interactive layer should have a click handler")
	}
	if h.engine.handler(selection.Click, "aqi-heat") != nil {
		t.Error("non-interactive layer must not get handlers")
	}
	if err := h.ctrl.Mount(context.Background(), "map", DefaultCamera); !errors.Is(err, ErrMounted) {
		t.Errorf("second mount err=%v", err)
	}
}

func TestReconcileIsIdempotent(t *testing.T) {
	h := newHarness(t, "pk.test")
	h.ready(t)
	h.engine.take()

	h.ctrl.Reconcile()
	h.ctrl.Reconcile()
	h.registry.Register(layer.Descriptor{ID: "wards", Kind: layer.KindCircle, Category: feature.CategoryWard, Visible: true, Interactive: true})
	if ops := h.engine.take(); len(ops) != 0 {
		t.Fatalf("unchanged snapshot produced ops: %v", ops)
	}

	h.registry.SetVisible("wards", false)
	if ops := h.engine.take(); fmt.Sprint(ops) != "[updateLayer wards visible=false]" {
		t.Fatalf("toggle ops=%v", ops)
	}

	h.registry.Register(layer.Descriptor{ID: "schools", Kind: layer.KindSymbol, Category: feature.CategorySchool})
	if ops := h.engine.take(); fmt.Sprint(ops) != "[addSource features-school 0 addLayer schools features-school]" {
		t.Fatalf("add ops=%v", ops)
	}

	h.registry.Unregister("schools")
	if ops := h.engine.take(); fmt.Sprint(ops) != "[removeLayer schools removeSource features-school]" {
		t.Fatalf("remove ops=%v", ops)
	}

	h.ctrl.SetFeatures(wards[:1])
	if ops := h.engine.take(); fmt.Sprint(ops) != "[setSourceData features-ward 1]" {
		t.Fatalf("data ops=%v", ops)
	}
}

func TestPointerEvents(t *testing.T) {
	h := newHarness(t, "pk.test")
	h.ready(t)

	h.engine.handler(selection.Hover, "wards")(PointerEvent{FeatureKey: "ward:2"})
	if st := h.store.State(); st.Hovered == nil || st.Hovered.ID != "2" || st.PanelOpen {
		t.Fatalf("after hover: %+v", st)
	}
	h.engine.handler(selection.Click, "wards")(PointerEvent{FeatureKey: "ward:1"})
	if st := h.store.State(); st.Selected == nil || st.Selected.ID != "1" || !st.PanelOpen {
		t.Fatalf("after click: %+v", st)
	}

	before := h.store.State()
	h.engine.handler(selection.Click, "wards")(PointerEvent{FeatureKey: "ward:99"})
	if h.store.State() != before {
		t.Error("stale id must not emit an event")
	}

	h.engine.handler(selection.Leave, "wards")(PointerEvent{})
	if st := h.store.State(); st.Hovered != nil || st.Selected == nil {
		t.Errorf("after leave: %+v", st)
	}
}

func TestPostDisposalSilence(t *testing.T) {
	h := newHarness(t, "pk.test")
	h.ready(t)
	click := h.engine.handler(selection.Click, "wards")
	h.engine.take()

	h.ctrl.Unmount()
	if h.ctrl.State() != Disposed || !h.engine.removed {
		t.Fatal("unmount should dispose and release the engine")
	}
	if h.engine.handler(selection.Click, "wards") != nil {
		t.Error("handlers should be detached")
	}
	h.engine.take()

	click(PointerEvent{FeatureKey: "ward:1"})
	if h.store.State() != (selection.State{}) {
		t.Errorf("late callback mutated selection: %+v", h.store.State())
	}
	h.registry.SetVisible("wards", false)
	if err := h.ctrl.SetFeatures(wards); !errors.Is(err, ErrDisposed) {
		t.Errorf("SetFeatures after dispose err=%v", err)
	}
	if err := h.ctrl.FlyTo(106.7, 10.77, 12, time.Second); !errors.Is(err, ErrDisposed) {
		t.Errorf("FlyTo after dispose err=%v", err)
	}
	if ops := h.engine.take(); len(ops) != 0 {
		t.Errorf("engine touched after dispose: %v", ops)
	}
	h.ctrl.Unmount()
}

func TestLateLoadAfterUnmount(t *testing.T) {
	h := newHarness(t, "pk.test")
	if err := h.ctrl.Mount(context.Background(), "map", DefaultCamera); err != nil {
		t.Fatal(err)
	}
	h.ctrl.Unmount()
	h.engine.take()

	h.engine.onLoad()
	if h.ctrl.State() != Disposed {
		t.Errorf("state=%v", h.ctrl.State())
	}
	if ops := h.engine.take(); len(ops) != 0 {
		t.Errorf("late load reconciled: %v", ops)
	}
}

func TestCameraCommands(t *testing.T) {
	h := newHarness(t, "pk.test")
	if err := h.ctrl.FlyTo(106.7, 10.77, 12, time.Second); !errors.Is(err, ErrNotReady) {
		t.Errorf("err=%v, want ErrNotReady", err)
	}
	h.ready(t)
	h.engine.take()

	if _, err := search.Navigate("", h.ctrl.Features(), h.ctrl); err != nil {
		t.Fatal(err)
	}
	if ops := h.engine.take(); len(ops) != 0 {
		t.Fatalf("empty search moved the camera: %v", ops)
	}

	if _, err := search.Navigate("bến thành", h.ctrl.Features(), h.ctrl); err != nil {
		t.Fatal(err)
	}
	if ops := h.engine.take(); fmt.Sprint(ops) != "[flyTo 106.6980,10.7722 z14]" {
		t.Errorf("ops=%v", ops)
	}

	if err := h.ctrl.FlyTo(200, 10, 5, 0); !errors.Is(err, ErrInvalidCoordinates) {
		t.Errorf("err=%v", err)
	}
	if err := h.ctrl.FitFeatures(FitOptions{Padding: 80, MaxZoom: 12}); err != nil {
		t.Fatal(err)
	}
	if ops := h.engine.take(); fmt.Sprint(ops) != "[fitBounds]" {
		t.Errorf("ops=%v", ops)
	}
}

func TestInitialCamera(t *testing.T) {
	if got := InitialCamera(nil, DefaultCamera); got != DefaultCamera {
		t.Errorf("empty: %+v", got)
	}
	one := InitialCamera(wards[:1], DefaultCamera)
	if one.Zoom != 10 || one.Center != wards[0].Point() || one.Pitch != 35 {
		t.Errorf("one: %+v", one)
	}
	many := InitialCamera(wards, DefaultCamera)
	if many.Zoom != 7 || many.Center[1] != (wards[0].Latitude+wards[1].Latitude)/2 {
		t.Errorf("many: %+v", many)
	}
}
