// Package browser implements mapsession.Engine for a Mapbox GL / MapLibre
// map running in a web page.
//
// Engine calls become commands streamed to the page over Datastar SSE as
// "map-command" custom events. The engine keeps a compacted log of the
// commands that make up the current map, and every new stream starts by
// replaying it, so a reconnecting page or a second tab rebuilds the same
// map. The page reports its load event and pointer events back over HTTP,
// which the API layer hands to Loaded and Deliver.
package browser

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"

	"github.com/joeblew999/greenedumap/internal/mapsession"
	"github.com/joeblew999/greenedumap/internal/selection"
)

var (
	ErrClosed = errors.New("map engine closed")
	ErrExists = errors.New("map container already in use")
)

// Command ops understood by the page script.
const (
	OpCreate        = "create"
	OpAddSource     = "addSource"
	OpSetSourceData = "setSourceData"
	OpRemoveSource  = "removeSource"
	OpAddLayer      = "addLayer"
	OpUpdateLayer   = "updateLayer"
	OpRemoveLayer   = "removeLayer"
	OpListen        = "on"
	OpUnlisten      = "off"
	OpFlyTo         = "flyTo"
	OpFitBounds     = "fitBounds"
	OpAddImage      = "addImage"
	OpRemove        = "remove"
)

// Command is one instruction for the page.
type Command struct {
	Seq  int64  `json:"seq"`
	Op   string `json:"op"`
	ID   string `json:"id,omitempty"`
	Data any    `json:"data,omitempty"`
}

var _ mapsession.Engine = (*Engine)(nil)

// Engine is one map instance in one page.
type Engine struct {
	id  string
	hub *Hub
	log *slog.Logger

	mu       sync.Mutex
	state    []Command
	subs     map[int]*Subscription
	nextSub  int
	seq      int64
	closed   bool
	loaded   bool
	onLoad   func()
	handlers map[string]map[int]mapsession.Handler
	nextH    int
}

func newEngine(id string, hub *Hub, log *slog.Logger) *Engine {
	return &Engine{
		id:       id,
		hub:      hub,
		log:      log,
		subs:     make(map[int]*Subscription),
		handlers: make(map[string]map[int]mapsession.Handler),
	}
}

// ID returns the container id the engine was created for.
func (e *Engine) ID() string { return e.id }

func (e *Engine) enqueue(op, id string, data any) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.enqueueLocked(op, id, data)
}

func (e *Engine) enqueueLocked(op, id string, data any) error {
	if e.closed {
		return ErrClosed
	}
	e.seq++
	cmd := Command{Seq: e.seq, Op: op, ID: id, Data: data}
	e.state = compact(e.state, cmd)
	for _, sub := range e.subs {
		sub.push(cmd)
	}
	return nil
}

func isCamera(op string) bool { return op == OpFlyTo || op == OpFitBounds }

func listenEvent(c Command) string {
	if m, ok := c.Data.(map[string]string); ok {
		return m["event"]
	}
	return ""
}

// compact folds cmd into the replay log: data updates rewrite the command
// that created the source or layer, removals drop it, and only the latest
// camera move is kept.
func compact(state []Command, cmd Command) []Command {
	find := func(op, id, event string) int {
		for i, c := range state {
			if c.Op == op && c.ID == id && (event == "" || listenEvent(c) == event) {
				return i
			}
		}
		return -1
	}
	drop := func(i int) []Command {
		if i < 0 {
			return state
		}
		return append(state[:i:i], state[i+1:]...)
	}

	switch cmd.Op {
	case OpSetSourceData:
		if i := find(OpAddSource, cmd.ID, ""); i >= 0 {
			state[i].Data = cmd.Data
		}
		return state
	case OpRemoveSource:
		return drop(find(OpAddSource, cmd.ID, ""))
	case OpUpdateLayer:
		if i := find(OpAddLayer, cmd.ID, ""); i >= 0 {
			state[i].Data = cmd.Data
		}
		return state
	case OpRemoveLayer:
		return drop(find(OpAddLayer, cmd.ID, ""))
	case OpUnlisten:
		return drop(find(OpListen, cmd.ID, listenEvent(cmd)))
	case OpAddImage:
		if find(OpAddImage, cmd.ID, "") >= 0 {
			return state
		}
	case OpFlyTo, OpFitBounds:
		for i, c := range state {
			if isCamera(c.Op) {
				state = drop(i)
				break
			}
		}
	}
	return append(state, cmd)
}

// Subscription is one stream of commands: the replay log at the time of
// Subscribe followed by every later command.
type Subscription struct {
	e     *Engine
	id    int
	queue []Command
	wake  chan struct{}
}

// Subscribe attaches a new stream to the engine.
func (e *Engine) Subscribe() *Subscription {
	e.mu.Lock()
	defer e.mu.Unlock()
	sub := &Subscription{e: e, id: e.nextSub, wake: make(chan struct{}, 1)}
	e.nextSub++
	sub.queue = append([]Command(nil), e.state...)
	sub.signal()
	if !e.closed {
		e.subs[sub.id] = sub
	}
	return sub
}

// push is called with e.mu held.
func (s *Subscription) push(cmd Command) {
	// camera moves supersede each other while still queued
	if n := len(s.queue); n > 0 && isCamera(cmd.Op) && isCamera(s.queue[n-1].Op) {
		s.queue[n-1] = cmd
	} else {
		s.queue = append(s.queue, cmd)
	}
	s.signal()
}

func (s *Subscription) signal() {
	select {
	case s.wake <- struct{}{}:
	default:
	}
}

// Ready fires when Next has commands to return.
func (s *Subscription) Ready() <-chan struct{} { return s.wake }

// Next takes the queued commands. closed reports that the engine was
// removed and cmds holds its last commands.
func (s *Subscription) Next() (cmds []Command, closed bool) {
	s.e.mu.Lock()
	defer s.e.mu.Unlock()
	cmds, s.queue = s.queue, nil
	return cmds, s.e.closed
}

// Close detaches the stream.
func (s *Subscription) Close() {
	s.e.mu.Lock()
	delete(s.e.subs, s.id)
	s.e.mu.Unlock()
}

func (e *Engine) AddSource(id string, data *geojson.FeatureCollection) error {
	return e.enqueue(OpAddSource, id, data)
}

func (e *Engine) SetSourceData(id string, data *geojson.FeatureCollection) error {
	return e.enqueue(OpSetSourceData, id, data)
}

func (e *Engine) RemoveSource(id string) error {
	return e.enqueue(OpRemoveSource, id, nil)
}

func (e *Engine) AddLayer(spec mapsession.LayerSpec) error {
	return e.enqueue(OpAddLayer, spec.ID, StyleLayer(spec))
}

func (e *Engine) UpdateLayer(spec mapsession.LayerSpec) error {
	return e.enqueue(OpUpdateLayer, spec.ID, StyleLayer(spec))
}

func (e *Engine) RemoveLayer(id string) error {
	return e.enqueue(OpRemoveLayer, id, nil)
}

func handlerKey(event selection.EventType, layerID string) string {
	return string(event) + "/" + layerID
}

// On registers h and asks the page to forward event for layerID.
func (e *Engine) On(event selection.EventType, layerID string, h mapsession.Handler) func() {
	key := handlerKey(event, layerID)

	e.mu.Lock()
	hs, ok := e.handlers[key]
	if !ok {
		hs = make(map[int]mapsession.Handler)
		e.handlers[key] = hs
		e.enqueueLocked(OpListen, layerID, map[string]string{"event": string(event)})
	}
	id := e.nextH
	e.nextH++
	hs[id] = h
	e.mu.Unlock()

	return func() {
		e.mu.Lock()
		defer e.mu.Unlock()
		hs, ok := e.handlers[key]
		if !ok {
			return
		}
		delete(hs, id)
		if len(hs) == 0 {
			delete(e.handlers, key)
			e.enqueueLocked(OpUnlisten, layerID, map[string]string{"event": string(event)})
		}
	}
}

// OnLoad registers the load callback. If the page already reported load,
// fn runs on its own goroutine.
func (e *Engine) OnLoad(fn func()) {
	e.mu.Lock()
	e.onLoad = fn
	loaded := e.loaded && !e.closed
	e.mu.Unlock()
	if loaded {
		go fn()
	}
}

func (e *Engine) FlyTo(m mapsession.CameraMove) error {
	return e.enqueue(OpFlyTo, "", map[string]any{
		"center":   m.Center,
		"zoom":     m.Zoom,
		"duration": m.Duration.Milliseconds(),
	})
}

func (e *Engine) FitBounds(b orb.Bound, opts mapsession.FitOptions) error {
	return e.enqueue(OpFitBounds, "", map[string]any{
		"bounds":   [2]orb.Point{b.Min, b.Max},
		"padding":  opts.Padding,
		"maxZoom":  opts.MaxZoom,
		"duration": opts.Duration.Milliseconds(),
	})
}

func (e *Engine) AddImage(name, url string) error {
	return e.enqueue(OpAddImage, name, map[string]string{"url": url})
}

// Remove sends the final command and detaches the engine from its hub.
// Streams end once they delivered it.
func (e *Engine) Remove() error {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return nil
	}
	e.enqueueLocked(OpRemove, "", nil)
	e.closed = true
	e.handlers = make(map[string]map[int]mapsession.Handler)
	e.subs = make(map[int]*Subscription)
	e.mu.Unlock()

	e.hub.remove(e.id)
	return nil
}

// Loaded is called when the page reports the map load event. Repeated
// reports are ignored.
func (e *Engine) Loaded() {
	e.mu.Lock()
	if e.loaded || e.closed {
		e.mu.Unlock()
		return
	}
	e.loaded = true
	fn := e.onLoad
	e.mu.Unlock()

	e.log.Debug("page reported map load")

	if fn != nil {
		fn()
	}
}

// Deliver hands a pointer event from the page to the registered handlers.
// It reports whether any handler was registered.
func (e *Engine) Deliver(event selection.EventType, layerID string, pe mapsession.PointerEvent) bool {
	e.mu.Lock()
	hs := e.handlers[handlerKey(event, layerID)]
	fns := make([]mapsession.Handler, 0, len(hs))
	for _, h := range hs {
		fns = append(fns, h)
	}
	e.mu.Unlock()

	for _, h := range fns {
		h(pe)
	}
	return len(fns) > 0
}

// Stream replays the current map to send, then every later command, until
// ctx is done or the engine was removed and its last command delivered.
func (e *Engine) Stream(ctx context.Context, send func(Command)) error {
	sub := e.Subscribe()
	defer sub.Close()
	for {
		cmds, closed := sub.Next()
		for _, cmd := range cmds {
			send(cmd)
		}
		if closed {
			return nil
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-sub.Ready():
		}
	}
}

// Pending returns the replay log: what a newly attached page receives.
func (e *Engine) Pending() []Command {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]Command, len(e.state))
	copy(out, e.state)
	return out
}

// Streams returns the number of attached streams.
func (e *Engine) Streams() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.subs)
}

// Hub keeps the engines of all live pages, keyed by container id.
type Hub struct {
	mu      sync.RWMutex
	engines map[string]*Engine
	log     *slog.Logger
}

// NewHub returns an empty hub.
func NewHub(log *slog.Logger) *Hub {
	if log == nil {
		log = slog.Default()
	}
	return &Hub{engines: make(map[string]*Engine), log: log}
}

// Factory returns a mapsession.Factory creating engines in this hub.
func (h *Hub) Factory() mapsession.Factory {
	return func(ctx context.Context, opts mapsession.Options) (mapsession.Engine, error) {
		return h.create(opts)
	}
}

func (h *Hub) create(opts mapsession.Options) (*Engine, error) {
	if opts.Container == "" {
		return nil, fmt.Errorf("browser engine: empty container id")
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.engines[opts.Container]; ok {
		return nil, fmt.Errorf("browser engine %q: %w", opts.Container, ErrExists)
	}
	e := newEngine(opts.Container, h, h.log.With("container", opts.Container))
	e.enqueue(OpCreate, opts.Container, map[string]any{
		"center":      opts.Camera.Center,
		"zoom":        opts.Camera.Zoom,
		"pitch":       opts.Camera.Pitch,
		"bearing":     opts.Camera.Bearing,
		"style":       opts.Style,
		"accessToken": opts.AccessToken,
	})
	h.engines[opts.Container] = e
	return e, nil
}

// Get returns the engine of a container.
func (h *Hub) Get(id string) (*Engine, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	e, ok := h.engines[id]
	return e, ok
}

// Len returns the number of live engines.
func (h *Hub) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.engines)
}

func (h *Hub) remove(id string) {
	h.mu.Lock()
	delete(h.engines, id)
	h.mu.Unlock()
}
