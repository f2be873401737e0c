// Package mapsession owns the lifecycle of one map instance and keeps it in
// step with the layer registry.
//
// A Controller moves through Unmounted → Initializing → Ready → Disposed.
// The map engine is injected through a Factory; nothing in this package
// knows which SDK draws the map.
package mapsession

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"

	"github.com/joeblew999/greenedumap/internal/feature"
	"github.com/joeblew999/greenedumap/internal/layer"
	"github.com/joeblew999/greenedumap/internal/legend"
	"github.com/joeblew999/greenedumap/internal/metrics"
	"github.com/joeblew999/greenedumap/internal/selection"
)

// State of a map session.
type State int

const (
	Unmounted State = iota
	Initializing
	Ready
	Disposed
)

func (s State) String() string {
	switch s {
	case Unmounted:
		return "unmounted"
	case Initializing:
		return "initializing"
	case Ready:
		return "ready"
	case Disposed:
		return "disposed"
	}
	return fmt.Sprintf("state(%d)", int(s))
}

var (
	ErrNoCredential        = errors.New("no valid map access credential configured")
	ErrDisposed            = errors.New("map session disposed")
	ErrNotReady            = errors.New("map session not ready")
	ErrMounted             = errors.New("map session already mounted")
	ErrInvalidCoordinates  = errors.New("invalid coordinates")
	placeholderCredentials = []string{"your_mapbox_token", "your_mapbox_access_token", "changeme"}
)

// HasCredential reports whether token looks like a usable access token.
// Empty values and well-known placeholders are rejected.
func HasCredential(token string) bool {
	t := strings.TrimSpace(token)
	if t == "" {
		return false
	}
	return !slices.Contains(placeholderCredentials, strings.ToLower(t))
}

// Config is the explicit configuration of a map session.
type Config struct {
	AccessToken string
	Style       string
	// Images are registered with the engine (name → URL) before any layer.
	Images map[string]string
}

// Controller binds a layer registry and a feature set to one engine.
type Controller struct {
	// emitMu serializes event delivery against Unmount so no event reaches
	// the sink once Unmount returned.
	emitMu sync.Mutex

	mu       sync.Mutex
	cfg      Config
	factory  Factory
	registry *layer.Registry
	log      *slog.Logger
	sink     func(selection.Event)

	state    State
	engine   Engine
	features []feature.GeoFeature
	index    map[string]feature.GeoFeature
	version  int

	layers       map[string]layer.Descriptor
	handlers     map[string][]func()
	sources      map[string]int
	unsubscribe  func()
	disposeHooks []func()
}

// Option configures a Controller.
type Option func(*Controller)

// WithLogger sets the controller logger.
func WithLogger(l *slog.Logger) Option {
	return func(c *Controller) { c.log = l }
}

// WithSink sets the receiver of resolved interaction events. The sink must
// not call Unmount.
func WithSink(fn func(selection.Event)) Option {
	return func(c *Controller) { c.sink = fn }
}

// New returns an unmounted controller.
func New(cfg Config, factory Factory, registry *layer.Registry, opts ...Option) *Controller {
	if cfg.Style == "" {
		cfg.Style = DefaultStyle
	}
	c := &Controller{
		cfg:      cfg,
		factory:  factory,
		registry: registry,
		log:      slog.Default(),
		index:    make(map[string]feature.GeoFeature),
		layers:   make(map[string]layer.Descriptor),
		handlers: make(map[string][]func()),
		sources:  make(map[string]int),
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// State returns the current lifecycle state.
func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// OnDispose registers fn to run once the session is disposed.
func (c *Controller) OnDispose(fn func()) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.disposeHooks = append(c.disposeHooks, fn)
}

// Mount creates the map in container. Without a credential it returns
// ErrNoCredential and stays Unmounted; the factory is not called.
func (c *Controller) Mount(ctx context.Context, container string, cam Camera) error {
	c.mu.Lock()
	switch c.state {
	case Disposed:
		c.mu.Unlock()
		return ErrDisposed
	case Initializing, Ready:
		c.mu.Unlock()
		return ErrMounted
	}
	if !HasCredential(c.cfg.AccessToken) {
		c.mu.Unlock()
		c.log.Warn("map access token not configured, using placeholder map")
		return ErrNoCredential
	}
	c.state = Initializing
	c.mu.Unlock()

	e, err := c.factory(ctx, Options{
		Container:   container,
		Camera:      cam,
		AccessToken: c.cfg.AccessToken,
		Style:       c.cfg.Style,
	})

	c.mu.Lock()
	if err != nil {
		if c.state == Initializing {
			c.state = Unmounted
		}
		c.mu.Unlock()
		c.log.Error("map creation failed", "container", container, "error", err)
		return fmt.Errorf("creating map: %w", err)
	}
	if c.state != Initializing {
		c.mu.Unlock()
		c.op("remove", e.Remove())
		return ErrDisposed
	}
	c.engine = e
	c.mu.Unlock()

	metrics.SessionsActive.Inc()
	e.OnLoad(func() { c.handleLoad(e) })
	c.log.Debug("map mounted", "container", container)
	return nil
}

func (c *Controller) handleLoad(e Engine) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state != Initializing || c.engine != e {
		c.log.Debug("late load callback ignored", "state", c.state)
		return
	}
	c.state = Ready

	names := make([]string, 0, len(c.cfg.Images))
	for name := range c.cfg.Images {
		names = append(names, name)
	}
	slices.Sort(names)
	for _, name := range names {
		c.op("add_image", e.AddImage(name, c.cfg.Images[name]))
	}

	c.reconcileLocked()
	c.unsubscribe = c.registry.Subscribe(c.onRegistryChange)
	c.log.Info("map ready", "layers", len(c.layers), "features", len(c.features))
}

func (c *Controller) onRegistryChange() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state == Ready {
		c.reconcileLocked()
	}
}

// Reconcile re-applies the registry snapshot. Safe to call repeatedly.
func (c *Controller) Reconcile() {
	c.onRegistryChange()
}

// SetFeatures replaces the current feature set. Features are kept for
// reconciliation once the map is ready. After disposal it returns
// ErrDisposed and changes nothing.
func (c *Controller) SetFeatures(features []feature.GeoFeature) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state == Disposed {
		return ErrDisposed
	}
	c.features = features
	c.index = feature.Index(features)
	c.version++
	if c.state == Ready {
		c.reconcileLocked()
	}
	return nil
}

// Features returns the current feature set. Callers must not modify it.
func (c *Controller) Features() []feature.GeoFeature {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.features
}

// Resolve looks a feature up by its key.
func (c *Controller) Resolve(key string) (feature.GeoFeature, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	f, ok := c.index[key]
	return f, ok
}

func sourceID(c feature.Category) string {
	if c == "" {
		return "features-all"
	}
	return "features-" + string(c)
}

// reconcileLocked diffs the registry snapshot against what the engine has.
// Unchanged layers are not touched.
func (c *Controller) reconcileLocked() {
	e := c.engine
	snap := c.registry.Snapshot()

	desired := make(map[string]bool, len(snap))
	wantSources := make(map[string]bool)
	for _, d := range snap {
		desired[d.ID] = true
		wantSources[sourceID(d.Category)] = true
	}

	for id := range c.layers {
		if !desired[id] {
			c.detachLocked(id)
			c.op("remove_layer", e.RemoveLayer(id))
			delete(c.layers, id)
		}
	}

	for _, d := range snap {
		sid := sourceID(d.Category)
		v, ok := c.sources[sid]
		switch {
		case !ok:
			if c.op("add_source", e.AddSource(sid, c.collectionLocked(d.Category))) {
				c.sources[sid] = c.version
			}
		case v != c.version:
			if c.op("set_source_data", e.SetSourceData(sid, c.collectionLocked(d.Category))) {
				c.sources[sid] = c.version
			}
		}
	}

	for _, d := range snap {
		spec := LayerSpec{Descriptor: d, Source: sourceID(d.Category)}
		have, ok := c.layers[d.ID]
		switch {
		case !ok:
			if !c.op("add_layer", e.AddLayer(spec)) {
				continue
			}
			if d.Interactive {
				c.attachLocked(d.ID)
			}
		case have.Equal(d):
			continue
		case have.Kind != d.Kind || !have.SourceEqual(d):
			// engines cannot change a layer's type or source in place
			c.detachLocked(d.ID)
			c.op("remove_layer", e.RemoveLayer(d.ID))
			delete(c.layers, d.ID)
			if !c.op("add_layer", e.AddLayer(spec)) {
				continue
			}
			if d.Interactive {
				c.attachLocked(d.ID)
			}
		default:
			if !c.op("update_layer", e.UpdateLayer(spec)) {
				continue
			}
			if have.Interactive != d.Interactive {
				c.detachLocked(d.ID)
				if d.Interactive {
					c.attachLocked(d.ID)
				}
			}
		}
		c.layers[d.ID] = d
	}

	for sid := range c.sources {
		if !wantSources[sid] {
			c.op("remove_source", e.RemoveSource(sid))
			delete(c.sources, sid)
		}
	}
}

func (c *Controller) collectionLocked(cat feature.Category) *geojson.FeatureCollection {
	fs := feature.Filter(c.features, cat)
	fc := feature.FeatureCollection(fs)
	for i, f := range fs {
		fc.Features[i].Properties["color"] = legend.FeatureColor(f)
	}
	return fc
}

var pointerEvents = []selection.EventType{selection.Hover, selection.Click, selection.Leave}

func (c *Controller) attachLocked(layerID string) {
	e := c.engine
	for _, t := range pointerEvents {
		off := e.On(t, layerID, c.pointerHandler(e, t))
		c.handlers[layerID] = append(c.handlers[layerID], off)
	}
}

func (c *Controller) detachLocked(layerID string) {
	for _, off := range c.handlers[layerID] {
		if off != nil {
			off()
		}
	}
	delete(c.handlers, layerID)
}

func (c *Controller) pointerHandler(e Engine, t selection.EventType) Handler {
	return func(pe PointerEvent) { c.handlePointer(e, t, pe) }
}

// handlePointer resolves an engine payload and emits an event. Stale ids
// and callbacks after disposal emit nothing.
func (c *Controller) handlePointer(e Engine, t selection.EventType, pe PointerEvent) {
	c.emitMu.Lock()
	defer c.emitMu.Unlock()

	c.mu.Lock()
	if c.state != Ready || c.engine != e {
		c.mu.Unlock()
		metrics.InteractionEventsTotal.WithLabelValues(string(t), "late").Inc()
		return
	}
	ev := selection.Event{Type: t, Point: pe.Point}
	if t != selection.Leave {
		f, ok := c.index[pe.FeatureKey]
		if !ok {
			c.mu.Unlock()
			metrics.InteractionEventsTotal.WithLabelValues(string(t), "unresolved").Inc()
			c.log.Debug("pointer event for unknown feature", "type", t, "key", pe.FeatureKey)
			return
		}
		ev.Feature = &f
	}
	sink := c.sink
	c.mu.Unlock()

	metrics.InteractionEventsTotal.WithLabelValues(string(t), "emitted").Inc()
	if sink != nil {
		sink(ev)
	}
}

// FlyTo animates the camera. Concurrent calls supersede each other; the
// engine keeps only the latest target.
func (c *Controller) FlyTo(lon, lat, zoom float64, duration time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.readyLocked(); err != nil {
		return err
	}
	if !feature.ValidCoordinates(lat, lon) {
		return ErrInvalidCoordinates
	}
	if !c.op("fly_to", c.engine.FlyTo(CameraMove{Center: orb.Point{lon, lat}, Zoom: zoom, Duration: duration})) {
		return fmt.Errorf("fly to %v,%v failed", lon, lat)
	}
	return nil
}

// FitBounds frames b.
func (c *Controller) FitBounds(b orb.Bound, opts FitOptions) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.readyLocked(); err != nil {
		return err
	}
	if !feature.ValidCoordinates(b.Min.Lat(), b.Min.Lon()) || !feature.ValidCoordinates(b.Max.Lat(), b.Max.Lon()) {
		return ErrInvalidCoordinates
	}
	if !c.op("fit_bounds", c.engine.FitBounds(b, opts)) {
		return fmt.Errorf("fit bounds %v failed", b)
	}
	return nil
}

// FitFeatures frames the current feature set; it does nothing when there
// are no features.
func (c *Controller) FitFeatures(opts FitOptions) error {
	c.mu.Lock()
	b, ok := feature.Bound(c.features)
	c.mu.Unlock()
	if !ok {
		return nil
	}
	return c.FitBounds(b, opts)
}

func (c *Controller) readyLocked() error {
	switch c.state {
	case Ready:
		return nil
	case Disposed:
		return ErrDisposed
	}
	return ErrNotReady
}

// Unmount disposes the session: layers, sources and handlers are removed,
// the engine is released and dispose hooks run. It is safe to call more
// than once.
func (c *Controller) Unmount() {
	c.emitMu.Lock()
	defer c.emitMu.Unlock()

	c.mu.Lock()
	if c.state == Disposed {
		c.mu.Unlock()
		return
	}
	prev := c.state
	c.state = Disposed
	e := c.engine
	if e != nil && prev == Ready {
		for id := range c.layers {
			c.detachLocked(id)
			c.op("remove_layer", e.RemoveLayer(id))
		}
		for sid := range c.sources {
			c.op("remove_source", e.RemoveSource(sid))
		}
	}
	c.engine = nil
	c.layers = make(map[string]layer.Descriptor)
	c.sources = make(map[string]int)
	c.handlers = make(map[string][]func())
	unsub := c.unsubscribe
	c.unsubscribe = nil
	hooks := c.disposeHooks
	c.disposeHooks = nil
	c.mu.Unlock()

	if unsub != nil {
		unsub()
	}
	if e != nil {
		c.op("remove", e.Remove())
		metrics.SessionsActive.Dec()
	}
	for _, h := range hooks {
		h()
	}
	c.log.Debug("map disposed", "from", prev)
}

// op counts an engine operation and logs its failure.
func (c *Controller) op(name string, err error) bool {
	metrics.EngineOpsTotal.WithLabelValues(name).Inc()
	if err != nil {
		c.log.Warn("engine operation failed", "op", name, "error", err)
		return false
	}
	return true
}
