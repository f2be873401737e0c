// Package events fans dashboard events out to in-process subscribers (SSE
// streams) and, optionally, to NATS.
package events

import (
	"sync"
	"time"
)

// Kinds of events published on the bus.
const (
	KindSelection   = "selection"
	KindInteraction = "interaction"
	KindLayers      = "layers"
	KindFeatures    = "features"
	KindSession     = "session"
)

// Event is one dashboard change.
type Event struct {
	Kind    string         `json:"kind"`
	Session string         `json:"session,omitempty"`
	Action  string         `json:"action,omitempty"` // e.g. "hover", "click", "mounted"
	Key     string         `json:"key,omitempty"`    // feature or layer key
	Data    map[string]any `json:"data,omitempty"`
	Time    time.Time      `json:"time"`
}

// Publisher accepts events.
type Publisher interface {
	Publish(Event)
}

// Bus is a simple fan-out pub/sub. Slow subscribers miss events rather than
// block publishers.
type Bus struct {
	mu   sync.RWMutex
	subs map[chan Event]struct{}
	sink []Publisher
}

// NewBus creates a bus. Every published event is also forwarded to sinks.
func NewBus(sinks ...Publisher) *Bus {
	return &Bus{subs: make(map[chan Event]struct{}), sink: sinks}
}

// Publish sends an event to all subscribers (non-blocking).
func (b *Bus) Publish(e Event) {
	if e.Time.IsZero() {
		e.Time = time.Now().UTC()
	}
	b.mu.RLock()
	for ch := range b.subs {
		select {
		case ch <- e:
		default:
			// subscriber too slow, skip
		}
	}
	sinks := b.sink
	b.mu.RUnlock()

	for _, s := range sinks {
		s.Publish(e)
	}
}

// Subscribe returns a buffered channel that receives events.
func (b *Bus) Subscribe() chan Event {
	ch := make(chan Event, 16)
	b.mu.Lock()
	b.subs[ch] = struct{}{}
	b.mu.Unlock()
	return ch
}

// Unsubscribe removes a subscriber and closes its channel.
func (b *Bus) Unsubscribe(ch chan Event) {
	b.mu.Lock()
	_, ok := b.subs[ch]
	delete(b.subs, ch)
	b.mu.Unlock()
	if ok {
		close(ch)
	}
}

// Subscribers returns the number of live subscriptions.
func (b *Bus) Subscribers() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}
