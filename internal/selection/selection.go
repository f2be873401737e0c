// Package selection tracks the hovered and selected feature of one page.
package selection

import (
	"sync"

	"github.com/joeblew999/greenedumap/internal/feature"
)

// EventType is the kind of pointer interaction.
type EventType string

const (
	Hover EventType = "hover"
	Click EventType = "click"
	Leave EventType = "leave"
)

// Valid reports whether t is a known event type.
func (t EventType) Valid() bool {
	switch t {
	case Hover, Click, Leave:
		return true
	}
	return false
}

// Point is a screen position in pixels.
type Point struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// Event is one pointer interaction with a map feature.
type Event struct {
	Type    EventType           `json:"type"`
	Feature *feature.GeoFeature `json:"feature,omitempty"`
	Point   Point               `json:"point"`
}

// State is the selection of one page.
type State struct {
	Hovered   *feature.GeoFeature `json:"hovered,omitempty"`
	Selected  *feature.GeoFeature `json:"selected,omitempty"`
	PanelOpen bool                `json:"panelOpen"`
}

// Reduce applies an event to a state. It has no side effects.
func Reduce(s State, e Event) State {
	switch e.Type {
	case Hover:
		if e.Feature != nil {
			s.Hovered = e.Feature
		}
	case Click:
		if e.Feature != nil {
			s.Selected = e.Feature
			s.PanelOpen = true
		}
	case Leave:
		s.Hovered = nil
	}
	return s
}

// Close clears the selection and closes the panel; hover is untouched.
func Close(s State) State {
	s.Selected = nil
	s.PanelOpen = false
	return s
}

// Store is a concurrency-safe holder of a State.
type Store struct {
	mu        sync.Mutex
	state     State
	listeners map[int]func(State)
	nextID    int
}

// NewStore returns an empty store.
func NewStore() *Store {
	return &Store{listeners: make(map[int]func(State))}
}

// Dispatch reduces e into the store.
func (s *Store) Dispatch(e Event) State {
	return s.update(func(st State) State { return Reduce(st, e) })
}

// Close closes the detail panel.
func (s *Store) Close() State {
	return s.update(Close)
}

// Reset clears everything; used when the map session unmounts.
func (s *Store) Reset() State {
	return s.update(func(State) State { return State{} })
}

// State returns the current state.
func (s *Store) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Subscribe registers fn to receive every changed state.
func (s *Store) Subscribe(fn func(State)) (unsubscribe func()) {
	s.mu.Lock()
	id := s.nextID
	s.nextID++
	s.listeners[id] = fn
	s.mu.Unlock()

	return func() {
		s.mu.Lock()
		delete(s.listeners, id)
		s.mu.Unlock()
	}
}

func (s *Store) update(fn func(State) State) State {
	s.mu.Lock()
	prev := s.state
	next := fn(prev)
	s.state = next
	var fns []func(State)
	if next != prev {
		for _, l := range s.listeners {
			fns = append(fns, l)
		}
	}
	s.mu.Unlock()

	for _, l := range fns {
		l(next)
	}
	return next
}
