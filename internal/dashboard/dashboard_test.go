package dashboard

import (
	"context"
	"errors"
	"slices"
	"testing"
	"time"

	"github.com/joeblew999/greenedumap/internal/db"
	"github.com/joeblew999/greenedumap/internal/events"
	"github.com/joeblew999/greenedumap/internal/feature"
	"github.com/joeblew999/greenedumap/internal/layer"
	"github.com/joeblew999/greenedumap/internal/legend"
	"github.com/joeblew999/greenedumap/internal/mapengine/browser"
	"github.com/joeblew999/greenedumap/internal/mapsession"
	"github.com/joeblew999/greenedumap/internal/selection"
	"github.com/joeblew999/greenedumap/internal/source"
)

func wardsWithGap() *source.Placeholder {
	wards := append(source.HCMCWards(), feature.Record{
		"id": 29, "ward_name": "Phường Chưa Định Vị", "latitude": nil, "longitude": nil, "aqi": 160,
	})
	return source.NewPlaceholder(map[feature.Category][]feature.Record{feature.CategoryWard: wards})
}

func pendingOps(e *browser.Engine) []string {
	var out []string
	for _, c := range e.Pending() {
		out = append(out, c.Op+" "+c.ID)
	}
	return out
}

func TestEndToEndWards(t *testing.T) {
	ctx := context.Background()
	store, err := db.Open(db.Config{}, nil)
	if err != nil {
		t.Fatal(err)
	}
	defer store.Close()

	bus := events.NewBus()
	sub := bus.Subscribe()
	hub := browser.NewHub(nil)
	m := &Manager{
		Presets: layer.DefaultPresets(),
		Map:     mapsession.Config{AccessToken: "pk.test"},
		Query:   source.Query{Limit: 100},
		Source:  wardsWithGap(),
		Factory: hub.Factory(),
		Store:   store,
		Bus:     bus,
	}

	d, summary, mounted, err := m.Open(ctx, "environment")
	if err != nil {
		t.Fatal(err)
	}
	if !mounted {
		t.Fatal("expected a mounted map")
	}
	if summary[0].Category != feature.CategoryWard || summary[0].Features != 28 || summary[0].Excluded != 1 {
		t.Fatalf("ward summary=%+v", summary[0])
	}
	if len(d.Features()) != 28 || d.Excluded(feature.CategoryWard) != 1 {
		t.Fatalf("features=%d excluded=%d", len(d.Features()), d.Excluded(feature.CategoryWard))
	}
	for _, f := range d.Features() {
		if !feature.ValidCoordinates(f.Latitude, f.Longitude) {
			t.Errorf("feature %s out of range", f.Key())
		}
	}

	counts, err := store.Counts(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(counts) != 1 || counts[0].Total != 29 || counts[0].Mapped != 28 {
		t.Errorf("store counts=%+v", counts)
	}

	scale := d.Legend("aqi")
	if band, _ := legend.BandFor(scale, 150); band.Key != legend.BandUnhealthySensitive {
		t.Errorf("150 in band %q", band.Key)
	}
	if band, _ := legend.BandFor(scale, 151); band.Key != legend.BandUnhealthy {
		t.Errorf("151 in band %q", band.Key)
	}

	e, ok := hub.Get(d.ID())
	if !ok {
		t.Fatal("no engine for session")
	}
	e.Loaded()
	if d.Controller().State() != mapsession.Ready {
		t.Fatalf("state=%v", d.Controller().State())
	}
	pending := pendingOps(e)
	for _, want := range []string{"addSource features-ward", "addLayer aqi-heat", "addLayer wards", "addLayer schools", "on wards"} {
		if !slices.Contains(pending, want) {
			t.Errorf("missing %q in %v", want, pending)
		}
	}

	if !e.Deliver(selection.Click, "wards", mapsession.PointerEvent{FeatureKey: "ward:28"}) {
		t.Fatal("click not delivered")
	}
	st := d.Selection().State()
	if st.Selected == nil || st.Selected.Name != "Phường An Lạc A" || !st.PanelOpen {
		t.Fatalf("selection=%+v", st)
	}

	f, err := d.Search("an lạc a")
	if err != nil || f == nil || f.ID != "28" {
		t.Fatalf("search=%v err=%v", f, err)
	}
	if !slices.Contains(pendingOps(e), "flyTo ") {
		t.Errorf("search should fly: %v", pendingOps(e))
	}
	before := len(e.Pending())
	if f, _ := d.Search("   "); f != nil || len(e.Pending()) != before {
		t.Error("blank search must not move the camera")
	}

	if !d.SetActiveMetric("pm25") {
		t.Error("pm25 switch should change layers")
	}
	if w, _ := d.Registry().Get("wards"); w.MetricKey != "pm25" {
		t.Errorf("wards metric=%q", w.MetricKey)
	}
	if d.SetActiveMetric("no2") {
		t.Error("metric without data should be a no-op")
	}

	var sawSelection bool
	for len(sub) > 0 {
		ev := <-sub
		if ev.Session != d.ID() {
			t.Errorf("event from session %q", ev.Session)
		}
		if ev.Kind == events.KindSelection && ev.Key == "ward:28" {
			sawSelection = true
		}
	}
	if !sawSelection {
		t.Error("selection was not published")
	}

	if err := m.Close(d.ID()); err != nil {
		t.Fatal(err)
	}
	if m.Len() != 0 || hub.Len() != 0 {
		t.Errorf("sessions=%d engines=%d", m.Len(), hub.Len())
	}
	if st := d.Selection().State(); st.Selected != nil || st.PanelOpen {
		t.Errorf("selection not reset: %+v", st)
	}
	if e.Deliver(selection.Click, "wards", mapsession.PointerEvent{FeatureKey: "ward:28"}) {
		t.Error("events delivered after close")
	}
	if _, err := d.Load(ctx); !errors.Is(err, context.Canceled) {
		t.Errorf("load after unmount err=%v", err)
	}
	if _, err := m.Get(d.ID()); !errors.Is(err, ErrUnknownSession) {
		t.Errorf("get after close err=%v", err)
	}
}

func TestOpenWithoutCredential(t *testing.T) {
	hub := browser.NewHub(nil)
	m := &Manager{
		Presets: layer.DefaultPresets(),
		Map:     mapsession.Config{AccessToken: "your_mapbox_token"},
		Source:  source.DefaultPlaceholder(),
		Factory: hub.Factory(),
	}
	d, _, mounted, err := m.Open(context.Background(), "relief")
	if err != nil {
		t.Fatal(err)
	}
	if mounted || hub.Len() != 0 || d.Controller().State() != mapsession.Unmounted {
		t.Fatalf("mounted=%v engines=%d state=%v", mounted, hub.Len(), d.Controller().State())
	}
	if got := d.Categories(); !slices.Equal(got, []feature.Category{feature.CategoryRequest, feature.CategoryCenter, feature.CategoryDistribution}) {
		t.Errorf("categories=%v", got)
	}

	f, err := d.Search("bình tân")
	if err != nil || f == nil || f.Category != feature.CategoryRequest {
		t.Errorf("search without map=%v err=%v", f, err)
	}

	if _, _, _, err := m.Open(context.Background(), "nope"); !errors.Is(err, ErrUnknownPage) {
		t.Errorf("err=%v", err)
	}
	m.CloseAll()
	if m.Len() != 0 {
		t.Error("CloseAll left sessions")
	}
}

func TestSharedPage(t *testing.T) {
	calls := 0
	src := &countingSource{Source: source.DefaultPlaceholder(), calls: &calls}
	m := &Manager{Presets: layer.DefaultPresets(), Source: src}

	a, err := m.Page(context.Background(), "relief")
	if err != nil {
		t.Fatal(err)
	}
	b, _ := m.Page(context.Background(), "relief")
	if a != b || calls != 3 {
		t.Fatalf("same=%v fetches=%d", a == b, calls)
	}
	if a.Controller().State() != mapsession.Unmounted || len(a.Features()) != 7 {
		t.Errorf("state=%v features=%d", a.Controller().State(), len(a.Features()))
	}

	if _, err := m.Reload(context.Background(), "relief"); err != nil || calls != 6 {
		t.Errorf("reload err=%v fetches=%d", err, calls)
	}
	if _, err := m.Page(context.Background(), "missing"); !errors.Is(err, ErrUnknownPage) {
		t.Errorf("err=%v", err)
	}
	m.CloseAll()
	if _, err := a.Load(context.Background()); !errors.Is(err, context.Canceled) {
		t.Errorf("shared page should be unmounted, err=%v", err)
	}
}

type countingSource struct {
	source.Source
	calls *int
}

func (c *countingSource) Fetch(ctx context.Context, cat feature.Category, q source.Query) ([]feature.Record, error) {
	*c.calls++
	return c.Source.Fetch(ctx, cat, q)
}

func TestIdleSessionsAreClosed(t *testing.T) {
	hub := browser.NewHub(nil)
	m := &Manager{
		Presets:     layer.DefaultPresets(),
		Map:         mapsession.Config{AccessToken: "pk.test"},
		Source:      source.DefaultPlaceholder(),
		Factory:     hub.Factory(),
		IdleTimeout: time.Minute,
	}
	ctx := context.Background()
	lost, _, _, err := m.Open(ctx, "relief")
	if err != nil {
		t.Fatal(err)
	}
	watched, _, _, err := m.Open(ctx, "relief")
	if err != nil {
		t.Fatal(err)
	}
	release, err := m.Attach(watched.ID())
	if err != nil {
		t.Fatal(err)
	}

	if ids := m.Sweep(time.Now()); len(ids) != 0 {
		t.Fatalf("fresh sessions swept: %v", ids)
	}
	later := time.Now().Add(2 * time.Minute)
	if ids := m.Sweep(later); !slices.Equal(ids, []string{lost.ID()}) {
		t.Fatalf("swept %v, want only %s", ids, lost.ID())
	}
	if lost.Controller().State() != mapsession.Disposed || hub.Len() != 1 {
		t.Errorf("lost session state=%v engines=%d", lost.Controller().State(), hub.Len())
	}

	release()
	release()
	if ids := m.Sweep(time.Now()); len(ids) != 0 {
		t.Fatalf("session swept right after its stream ended: %v", ids)
	}
	if ids := m.Sweep(time.Now().Add(2 * time.Minute)); len(ids) != 1 || m.Len() != 0 || hub.Len() != 0 {
		t.Errorf("swept %v, sessions=%d engines=%d", ids, m.Len(), hub.Len())
	}
	if _, err := m.Attach(lost.ID()); !errors.Is(err, ErrUnknownSession) {
		t.Errorf("attach to swept session err=%v", err)
	}
}
