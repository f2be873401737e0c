package events

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/nats-io/nats.go"
)

// DefaultSubjectPrefix prefixes every subject, followed by the event kind.
const DefaultSubjectPrefix = "greenmap.events"

// NATSConfig configures the NATS publisher.
type NATSConfig struct {
	URL            string
	SubjectPrefix  string
	MaxReconnects  int
	ReconnectWait  time.Duration
	ConnectTimeout time.Duration
}

// Conn is the part of *nats.Conn the publisher uses.
type Conn interface {
	Publish(subject string, data []byte) error
}

// NATSPublisher publishes events as JSON on "<prefix>.<kind>".
type NATSPublisher struct {
	conn   Conn
	prefix string
	log    *slog.Logger
}

// NewNATSPublisher wraps an existing connection.
func NewNATSPublisher(conn Conn, prefix string, log *slog.Logger) *NATSPublisher {
	if prefix == "" {
		prefix = DefaultSubjectPrefix
	}
	if log == nil {
		log = slog.Default()
	}
	return &NATSPublisher{conn: conn, prefix: prefix, log: log}
}

// Subject returns the subject an event is published on.
func (p *NATSPublisher) Subject(e Event) string {
	return p.prefix + "." + e.Kind
}

// Publish never blocks on the network; nats.go buffers outgoing messages.
func (p *NATSPublisher) Publish(e Event) {
	data, err := json.Marshal(e)
	if err != nil {
		p.log.Warn("event encode failed", "kind", e.Kind, "error", err)
		return
	}
	if err := p.conn.Publish(p.Subject(e), data); err != nil {
		p.log.Warn("nats publish failed", "subject", p.Subject(e), "error", err)
	}
}

// ConnectNATS dials the server in cfg.
func ConnectNATS(cfg NATSConfig, log *slog.Logger) (*nats.Conn, error) {
	if log == nil {
		log = slog.Default()
	}
	options := []nats.Option{
		nats.Name("greenmap"),
		nats.MaxReconnects(cfg.MaxReconnects),
		nats.ReconnectWait(cfg.ReconnectWait),
		nats.Timeout(cfg.ConnectTimeout),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			log.Warn("nats disconnected", "error", err)
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			log.Info("nats reconnected", "url", nc.ConnectedUrl())
		}),
		nats.ClosedHandler(func(*nats.Conn) {
			log.Info("nats connection closed")
		}),
	}

	nc, err := nats.Connect(cfg.URL, options...)
	if err != nil {
		return nil, fmt.Errorf("unable to connect to NATS: %w", err)
	}
	return nc, nil
}
