package layer

import (
	"log/slog"
	"sync"

	"github.com/joeblew999/greenedumap/internal/legend"
)

// ValuesFunc returns the current values of a metric across loaded features.
type ValuesFunc func(metricKey string) []float64

// Registry holds layer descriptors in registration order.
// Unknown ids are never an error: toggles may race with async registration.
type Registry struct {
	mu        sync.RWMutex
	order     []string
	layers    map[string]Descriptor
	values    ValuesFunc
	scales    *legend.Memo
	listeners map[int]func()
	nextID    int
	log       *slog.Logger
}

// Option configures a Registry.
type Option func(*Registry)

// WithValues sets the provider used to recompute color scales.
func WithValues(fn ValuesFunc) Option {
	return func(r *Registry) { r.values = fn }
}

// WithLogger sets the registry logger.
func WithLogger(l *slog.Logger) Option {
	return func(r *Registry) { r.log = l }
}

// NewRegistry creates an empty registry.
func NewRegistry(opts ...Option) *Registry {
	r := &Registry{
		layers:    make(map[string]Descriptor),
		scales:    legend.NewMemo(64),
		listeners: make(map[int]func()),
		log:       slog.Default(),
	}
	for _, o := range opts {
		o(r)
	}
	return r
}

// SetValues replaces the value provider.
func (r *Registry) SetValues(fn ValuesFunc) {
	r.mu.Lock()
	r.values = fn
	r.mu.Unlock()
}

// RegisterOption tweaks a single Register call.
type RegisterOption func(*registerOpts)

type registerOpts struct {
	visible *bool
}

// WithVisibility makes Register apply v even when the id already exists.
func WithVisibility(v bool) RegisterOption {
	return func(o *registerOpts) { o.visible = &v }
}

// Register adds or replaces a descriptor. Re-registering an id keeps its
// current visibility unless WithVisibility overrides it. Metric-driven layers
// without a color scale get one from the legend package.
func (r *Registry) Register(d Descriptor, opts ...RegisterOption) {
	if d.ID == "" {
		return
	}
	var o registerOpts
	for _, fn := range opts {
		fn(&o)
	}

	r.mu.Lock()
	d = d.clone()
	if d.MetricDriven() && len(d.ColorScale) == 0 && d.MetricKey != "" {
		d.ColorScale = r.scaleLocked(d.MetricKey)
	}

	prev, exists := r.layers[d.ID]
	if exists {
		d.Visible = prev.Visible
	}
	if o.visible != nil {
		d.Visible = *o.visible
	}
	if exists && prev.Equal(d) {
		r.mu.Unlock()
		return
	}
	if !exists {
		r.order = append(r.order, d.ID)
	}
	r.layers[d.ID] = d
	r.mu.Unlock()

	r.notify()
}

// Unregister removes a descriptor; unknown ids are ignored.
func (r *Registry) Unregister(id string) {
	r.mu.Lock()
	if _, ok := r.layers[id]; !ok {
		r.mu.Unlock()
		return
	}
	delete(r.layers, id)
	for i, v := range r.order {
		if v == id {
			r.order = append(r.order[:i], r.order[i+1:]...)
			break
		}
	}
	r.mu.Unlock()

	r.notify()
}

// SetVisible toggles a layer; unknown ids are ignored.
func (r *Registry) SetVisible(id string, visible bool) {
	r.mu.Lock()
	d, ok := r.layers[id]
	if !ok || d.Visible == visible {
		r.mu.Unlock()
		if !ok {
			r.log.Debug("toggle of unknown layer ignored", "layer", id)
		}
		return
	}
	d.Visible = visible
	r.layers[id] = d
	r.mu.Unlock()

	r.notify()
}

// SetActiveMetric binds every metric-driven layer to metricKey and
// recomputes its color scale. It is a no-op when no loaded feature carries
// the key. It reports whether anything changed.
func (r *Registry) SetActiveMetric(metricKey string) bool {
	r.mu.Lock()
	if metricKey == "" || len(r.valuesLocked(metricKey)) == 0 {
		r.mu.Unlock()
		r.log.Debug("metric switch ignored: no data carries key", "metric", metricKey)
		return false
	}

	scale := r.scaleLocked(metricKey)
	changed := false
	for _, id := range r.order {
		d := r.layers[id]
		if !d.MetricDriven() {
			continue
		}
		next := d.clone()
		next.MetricKey = metricKey
		next.ColorScale = scale
		if next.Equal(d) {
			continue
		}
		r.layers[id] = next
		changed = true
	}
	r.mu.Unlock()

	if changed {
		r.notify()
	}
	return changed
}

// RefreshScales recomputes evenly spaced scales after the feature set
// changed; fixed-band scales are unaffected.
func (r *Registry) RefreshScales() {
	r.mu.Lock()
	changed := false
	for _, id := range r.order {
		d := r.layers[id]
		if !d.MetricDriven() || d.MetricKey == "" || legend.HasConvention(d.MetricKey) {
			continue
		}
		next := d.clone()
		next.ColorScale = r.scaleLocked(d.MetricKey)
		if next.Equal(d) {
			continue
		}
		r.layers[id] = next
		changed = true
	}
	r.mu.Unlock()

	if changed {
		r.notify()
	}
}

// Get returns a descriptor by id.
func (r *Registry) Get(id string) (Descriptor, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	d, ok := r.layers[id]
	return d.clone(), ok
}

// Snapshot returns all descriptors in registration order.
func (r *Registry) Snapshot() []Descriptor {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]Descriptor, 0, len(r.order))
	for _, id := range r.order {
		out = append(out, r.layers[id].clone())
	}
	return out
}

// Subscribe registers a change listener. Listeners run synchronously after
// a mutation that changed the snapshot, outside the registry lock.
func (r *Registry) Subscribe(fn func()) (unsubscribe func()) {
	r.mu.Lock()
	id := r.nextID
	r.nextID++
	r.listeners[id] = fn
	r.mu.Unlock()

	return func() {
		r.mu.Lock()
		delete(r.listeners, id)
		r.mu.Unlock()
	}
}

func (r *Registry) notify() {
	r.mu.RLock()
	fns := make([]func(), 0, len(r.listeners))
	for _, fn := range r.listeners {
		fns = append(fns, fn)
	}
	r.mu.RUnlock()

	for _, fn := range fns {
		fn()
	}
}

func (r *Registry) valuesLocked(metricKey string) []float64 {
	if r.values == nil {
		return nil
	}
	return r.values(metricKey)
}

func (r *Registry) scaleLocked(metricKey string) []legend.Stop {
	return r.scales.ColorScaleFor(metricKey, r.valuesLocked(metricKey))
}
