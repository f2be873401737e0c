// Package dashboard composes one map page: a data source feeding the
// adapter, a layer registry, a map session controller, selection state and
// search.
package dashboard

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"

	"github.com/joeblew999/greenedumap/internal/db"
	"github.com/joeblew999/greenedumap/internal/events"
	"github.com/joeblew999/greenedumap/internal/feature"
	"github.com/joeblew999/greenedumap/internal/layer"
	"github.com/joeblew999/greenedumap/internal/legend"
	"github.com/joeblew999/greenedumap/internal/mapsession"
	"github.com/joeblew999/greenedumap/internal/search"
	"github.com/joeblew999/greenedumap/internal/selection"
	"github.com/joeblew999/greenedumap/internal/source"
)

// Config describes one page.
type Config struct {
	Preset layer.Preset
	Map    mapsession.Config
	Query  source.Query
}

// CategorySummary reports one category of a load.
type CategorySummary struct {
	Category feature.Category `json:"category"`
	Features int              `json:"features"`
	Excluded int              `json:"excluded"`
	Error    string           `json:"error,omitempty"`
}

// Dashboard is one live page.
type Dashboard struct {
	id     string
	cfg    Config
	src    source.Source
	store  *db.Store
	pub    events.Publisher
	log    *slog.Logger
	ctx    context.Context
	cancel context.CancelFunc

	registry   *layer.Registry
	controller *mapsession.Controller
	selection  *selection.Store

	mu       sync.RWMutex
	byCat    map[feature.Category][]feature.GeoFeature
	features []feature.GeoFeature
	excluded map[feature.Category]int
}

// Option configures a Dashboard.
type Option func(*Dashboard)

// WithStore keeps a tabular copy of every load in s.
func WithStore(s *db.Store) Option {
	return func(d *Dashboard) { d.store = s }
}

// WithPublisher publishes selection and interaction events to p.
func WithPublisher(p events.Publisher) Option {
	return func(d *Dashboard) { d.pub = p }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(d *Dashboard) { d.log = l }
}

// New wires a dashboard. Nothing is fetched or mounted yet.
func New(id string, cfg Config, src source.Source, factory mapsession.Factory, opts ...Option) *Dashboard {
	d := &Dashboard{
		id:       id,
		cfg:      cfg,
		src:      src,
		log:      slog.Default(),
		byCat:    make(map[feature.Category][]feature.GeoFeature),
		excluded: make(map[feature.Category]int),
	}
	for _, o := range opts {
		o(d)
	}
	d.log = d.log.With("session", id, "page", cfg.Preset.Page)
	d.ctx, d.cancel = context.WithCancel(context.Background())

	d.registry = layer.NewRegistry(layer.WithValues(d.Values), layer.WithLogger(d.log))
	d.selection = selection.NewStore()
	d.controller = mapsession.New(cfg.Map, factory, d.registry,
		mapsession.WithLogger(d.log),
		mapsession.WithSink(d.onInteraction),
	)
	d.controller.OnDispose(func() { d.selection.Reset() })
	d.selection.Subscribe(d.onSelection)

	cfg.Preset.Apply(d.registry)
	return d
}

func (d *Dashboard) ID() string { return d.id }
func (d *Dashboard) Page() string { return d.cfg.Preset.Page }
func (d *Dashboard) Registry() *layer.Registry { return d.registry }
func (d *Dashboard) Controller() *mapsession.Controller { return d.controller }
func (d *Dashboard) Selection() *selection.Store { return d.selection }

// Categories returns the categories the page's layers draw, in preset order.
func (d *Dashboard) Categories() []feature.Category {
	var out []feature.Category
	for _, l := range d.cfg.Preset.Layers {
		if l.Category != "" && !slices.Contains(out, l.Category) {
			out = append(out, l.Category)
		}
	}
	if len(out) == 0 {
		return slices.Clone(feature.Categories)
	}
	return out
}

// Load fetches every category of the page and replaces the feature set.
// A failing category is reported in its summary and keeps its previous
// features. Load after Unmount returns context.Canceled.
func (d *Dashboard) Load(ctx context.Context) ([]CategorySummary, error) {
	if err := d.ctx.Err(); err != nil {
		return nil, err
	}
	ctx, stop := context.WithCancel(ctx)
	defer stop()
	defer context.AfterFunc(d.ctx, stop)()

	var out []CategorySummary
	for _, c := range d.Categories() {
		sum, err := d.loadCategory(ctx, c)
		if ctx.Err() != nil {
			return out, ctx.Err()
		}
		if err != nil {
			d.log.Warn("category load failed", "category", c, "error", err)
			sum.Error = err.Error()
		}
		out = append(out, sum)
	}

	if d.ctx.Err() != nil {
		return out, d.ctx.Err()
	}
	all := d.Features()
	if err := d.controller.SetFeatures(all); err != nil && !errors.Is(err, mapsession.ErrDisposed) {
		return out, err
	}
	d.registry.RefreshScales()
	d.publish(events.Event{Kind: events.KindFeatures, Action: "loaded", Data: map[string]any{"features": len(all)}})
	return out, nil
}

func (d *Dashboard) loadCategory(ctx context.Context, c feature.Category) (CategorySummary, error) {
	sum := CategorySummary{Category: c}
	records, err := d.src.Fetch(ctx, c, d.cfg.Query)
	if err != nil {
		return sum, fmt.Errorf("fetching %s: %w", c, err)
	}
	b := feature.Normalize(records, c)
	sum.Features, sum.Excluded = len(b.Features), b.Excluded
	if b.Excluded > 0 {
		d.log.Info("records without coordinates excluded", "category", c, "excluded", b.Excluded)
	}

	if d.store != nil {
		if err := d.store.ReplaceCategory(ctx, c, records, b); err != nil {
			d.log.Warn("record store update failed", "category", c, "error", err)
		}
	}
	d.SetCategory(c, b)
	return sum, nil
}

// SetCategory replaces the features of one category without touching the
// map; Load pushes the combined set afterwards.
func (d *Dashboard) SetCategory(c feature.Category, b feature.Batch) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.ctx.Err() != nil {
		return
	}
	d.byCat[c] = b.Features
	d.excluded[c] = b.Excluded
	d.features = d.features[:0:0]
	for _, cat := range feature.Categories {
		d.features = append(d.features, d.byCat[cat]...)
	}
}

// Features returns the loaded features in category order.
func (d *Dashboard) Features() []feature.GeoFeature {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.features
}

// Excluded returns how many records of c had no usable coordinates.
func (d *Dashboard) Excluded(c feature.Category) int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.excluded[c]
}

// Values is the registry's value provider.
func (d *Dashboard) Values(metricKey string) []float64 {
	return feature.Values(d.Features(), metricKey)
}

// Legend returns the color scale of a metric over the loaded features.
func (d *Dashboard) Legend(metricKey string) []legend.Stop {
	return legend.ColorScaleFor(metricKey, d.Values(metricKey))
}

// Mount creates the map. The opening camera frames the loaded features.
// Without a map credential it returns mapsession.ErrNoCredential and the
// page keeps working without a map.
func (d *Dashboard) Mount(ctx context.Context) error {
	cam := mapsession.InitialCamera(d.Features(), mapsession.DefaultCamera)
	err := d.controller.Mount(ctx, d.id, cam)
	if err == nil {
		d.publish(events.Event{Kind: events.KindSession, Action: "mounted"})
	}
	return err
}

// Search flies to the first feature matching query. A blank query or a
// miss moves nothing. Without a ready map the match is still returned.
func (d *Dashboard) Search(query string) (*feature.GeoFeature, error) {
	f, err := search.Navigate(query, d.Features(), d.controller)
	if errors.Is(err, mapsession.ErrNotReady) {
		err = nil
	}
	return f, err
}

// SetVisible toggles a layer.
func (d *Dashboard) SetVisible(id string, visible bool) {
	d.registry.SetVisible(id, visible)
	d.publish(events.Event{Kind: events.KindLayers, Action: "visibility", Key: id, Data: map[string]any{"visible": visible}})
}

// SetActiveMetric switches the metric of metric-driven layers.
func (d *Dashboard) SetActiveMetric(metricKey string) bool {
	changed := d.registry.SetActiveMetric(metricKey)
	if changed {
		d.publish(events.Event{Kind: events.KindLayers, Action: "metric", Key: metricKey})
	}
	return changed
}

// ClosePanel closes the detail panel.
func (d *Dashboard) ClosePanel() selection.State {
	return d.selection.Close()
}

// Unmount cancels in-flight loads and disposes the map.
func (d *Dashboard) Unmount() {
	d.cancel()
	d.controller.Unmount()
	d.publish(events.Event{Kind: events.KindSession, Action: "unmounted"})
}

// Done is closed once the dashboard was unmounted.
func (d *Dashboard) Done() <-chan struct{} {
	return d.ctx.Done()
}

func (d *Dashboard) onInteraction(e selection.Event) {
	d.selection.Dispatch(e)
	ev := events.Event{Kind: events.KindInteraction, Action: string(e.Type)}
	if e.Feature != nil {
		ev.Key = e.Feature.Key()
	}
	d.publish(ev)
}

func (d *Dashboard) onSelection(s selection.State) {
	ev := events.Event{Kind: events.KindSelection, Data: map[string]any{"panelOpen": s.PanelOpen}}
	if s.Selected != nil {
		ev.Key = s.Selected.Key()
		ev.Action = "selected"
	} else {
		ev.Action = "cleared"
	}
	if s.Hovered != nil {
		ev.Data["hovered"] = s.Hovered.Key()
	}
	d.publish(ev)
}

func (d *Dashboard) publish(e events.Event) {
	if d.pub == nil {
		return
	}
	e.Session = d.id
	d.pub.Publish(e)
}
