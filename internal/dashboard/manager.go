package dashboard

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/joeblew999/greenedumap/internal/db"
	"github.com/joeblew999/greenedumap/internal/events"
	"github.com/joeblew999/greenedumap/internal/layer"
	"github.com/joeblew999/greenedumap/internal/mapsession"
	"github.com/joeblew999/greenedumap/internal/source"
)

var (
	ErrUnknownPage    = errors.New("unknown page")
	ErrUnknownSession = errors.New("unknown session")
)

// Manager keeps the live dashboards, one per browser page.
type Manager struct {
	Presets []layer.Preset
	Map     mapsession.Config
	Query   source.Query
	Source  source.Source
	Factory mapsession.Factory
	Store   *db.Store
	Bus     events.Publisher
	Log     *slog.Logger

	// IdleTimeout closes sessions with no attached stream that were not
	// used for this long. Zero keeps sessions until Close.
	IdleTimeout time.Duration

	mu       sync.RWMutex
	sessions map[string]*session

	pageMu sync.Mutex
	pages  map[string]*Dashboard
}

// Open creates a dashboard for page, loads its data and mounts the map.
// A missing map credential is not an error: the session is returned
// without a map and mounted reports false.
func (m *Manager) Open(ctx context.Context, page string) (d *Dashboard, summary []CategorySummary, mounted bool, err error) {
	preset, ok := layer.Find(m.Presets, page)
	if !ok {
		return nil, nil, false, fmt.Errorf("%w: %q", ErrUnknownPage, page)
	}
	id := uuid.NewString()
	d = New(id, Config{Preset: preset, Map: m.Map, Query: m.Query}, m.Source, m.Factory,
		WithStore(m.Store), WithPublisher(m.Bus), WithLogger(m.logger()))

	summary, err = d.Load(ctx)
	if err != nil {
		d.Unmount()
		return nil, nil, false, err
	}

	switch err := d.Mount(ctx); {
	case err == nil:
		mounted = true
	case errors.Is(err, mapsession.ErrNoCredential):
	default:
		d.Unmount()
		return nil, nil, false, err
	}

	m.mu.Lock()
	if m.sessions == nil {
		m.sessions = make(map[string]*session)
	}
	m.sessions[id] = &session{d: d, last: time.Now()}
	m.mu.Unlock()
	return d, summary, mounted, nil
}

// Page returns the shared dashboard of page behind the plain REST
// endpoints. It is loaded on first use and never mounted.
func (m *Manager) Page(ctx context.Context, page string) (*Dashboard, error) {
	m.pageMu.Lock()
	defer m.pageMu.Unlock()
	if d, ok := m.pages[page]; ok {
		return d, nil
	}
	preset, ok := layer.Find(m.Presets, page)
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownPage, page)
	}
	d := New("page-"+page, Config{Preset: preset, Map: m.Map, Query: m.Query}, m.Source, m.Factory,
		WithStore(m.Store), WithLogger(m.logger()))
	if _, err := d.Load(ctx); err != nil {
		d.Unmount()
		return nil, err
	}
	if m.pages == nil {
		m.pages = make(map[string]*Dashboard)
	}
	m.pages[page] = d
	return d, nil
}

// Reload refetches the shared dashboard of page.
func (m *Manager) Reload(ctx context.Context, page string) ([]CategorySummary, error) {
	d, err := m.Page(ctx, page)
	if err != nil {
		return nil, err
	}
	return d.Load(ctx)
}

func (m *Manager) logger() *slog.Logger {
	if m.Log == nil {
		return slog.Default()
	}
	return m.Log
}

type session struct {
	d       *Dashboard
	last    time.Time
	streams int
}

// Get returns a live dashboard and marks it as used.
func (m *Manager) Get(id string) (*Dashboard, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[id]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownSession, id)
	}
	s.last = time.Now()
	return s.d, nil
}

// Attach records a stream of session id. The session is not idle until
// release was called.
func (m *Manager) Attach(id string) (release func(), err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[id]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownSession, id)
	}
	s.streams++
	var once sync.Once
	return func() {
		once.Do(func() {
			m.mu.Lock()
			s.streams--
			s.last = time.Now()
			m.mu.Unlock()
		})
	}, nil
}

// Close unmounts and forgets a dashboard.
func (m *Manager) Close(id string) error {
	m.mu.Lock()
	s, ok := m.sessions[id]
	delete(m.sessions, id)
	m.mu.Unlock()
	if !ok {
		return fmt.Errorf("%w: %q", ErrUnknownSession, id)
	}
	s.d.Unmount()
	return nil
}

// Sweep closes the sessions idle at now and returns their ids.
func (m *Manager) Sweep(now time.Time) []string {
	if m.IdleTimeout <= 0 {
		return nil
	}
	var idle []*session
	m.mu.Lock()
	for id, s := range m.sessions {
		if s.streams == 0 && now.Sub(s.last) > m.IdleTimeout {
			idle = append(idle, s)
			delete(m.sessions, id)
		}
	}
	m.mu.Unlock()

	ids := make([]string, 0, len(idle))
	for _, s := range idle {
		s.d.Unmount()
		ids = append(ids, s.d.ID())
	}
	return ids
}

// Run sweeps idle sessions every interval until ctx is done.
func (m *Manager) Run(ctx context.Context, interval time.Duration) {
	if m.IdleTimeout <= 0 || interval <= 0 {
		return
	}
	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-t.C:
			if ids := m.Sweep(now); len(ids) > 0 {
				m.logger().Info("idle sessions closed", "count", len(ids))
			}
		}
	}
}

// CloseAll unmounts every dashboard, shared pages included.
func (m *Manager) CloseAll() {
	m.mu.Lock()
	sessions := m.sessions
	m.sessions = nil
	m.mu.Unlock()
	for _, s := range sessions {
		s.d.Unmount()
	}

	m.pageMu.Lock()
	pages := m.pages
	m.pages = nil
	m.pageMu.Unlock()
	for _, d := range pages {
		d.Unmount()
	}
}

// Len returns the number of live dashboards.
func (m *Manager) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.sessions)
}
