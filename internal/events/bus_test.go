package events

import (
	"encoding/json"
	"sync"
	"testing"
)

type recordConn struct {
	mu       sync.Mutex
	subjects []string
	payloads [][]byte
}

func (c *recordConn) Publish(subject string, data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.subjects = append(c.subjects, subject)
	c.payloads = append(c.payloads, data)
	return nil
}

func TestBusFanOut(t *testing.T) {
	conn := &recordConn{}
	b := NewBus(NewNATSPublisher(conn, "", nil))

	a, c := b.Subscribe(), b.Subscribe()
	b.Publish(Event{Kind: KindSelection, Session: "s1", Action: "click", Key: "ward:1"})

	for _, ch := range []chan Event{a, c} {
		ev := <-ch
		if ev.Key != "ward:1" || ev.Time.IsZero() {
			t.Errorf("event=%+v", ev)
		}
	}

	if len(conn.subjects) != 1 || conn.subjects[0] != "greenmap.events.selection" {
		t.Fatalf("subjects=%v", conn.subjects)
	}
	var decoded Event
	if err := json.Unmarshal(conn.payloads[0], &decoded); err != nil || decoded.Session != "s1" {
		t.Errorf("payload=%s err=%v", conn.payloads[0], err)
	}

	b.Unsubscribe(a)
	b.Unsubscribe(a)
	if b.Subscribers() != 1 {
		t.Errorf("subscribers=%d", b.Subscribers())
	}
	if _, open := <-a; open {
		t.Error("unsubscribed channel should be closed")
	}
}

func TestBusSlowSubscriberDoesNotBlock(t *testing.T) {
	b := NewBus()
	ch := b.Subscribe()
	for i := 0; i < 40; i++ {
		b.Publish(Event{Kind: KindInteraction})
	}
	if len(ch) != cap(ch) {
		t.Errorf("buffered %d of %d", len(ch), cap(ch))
	}
}
