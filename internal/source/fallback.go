package source

import (
	"context"
	"log/slog"
	"time"

	"github.com/joeblew999/greenedumap/internal/feature"
)

// Fallback serves from secondary whenever primary fails. There is no retry.
type Fallback struct {
	primary   Source
	secondary Source
	log       *slog.Logger
}

// NewFallback wraps primary with a secondary source.
func NewFallback(primary, secondary Source, log *slog.Logger) *Fallback {
	if log == nil {
		log = slog.Default()
	}
	return &Fallback{primary: primary, secondary: secondary, log: log}
}

func (f *Fallback) Name() string { return f.primary.Name() }

func (f *Fallback) Fetch(ctx context.Context, c feature.Category, q Query) ([]feature.Record, error) {
	start := time.Now()
	records, err := f.primary.Fetch(ctx, c, q)
	if err == nil {
		return records, nil
	}
	if ctx.Err() != nil {
		return nil, ctx.Err()
	}

	f.log.Warn("source failed, using fallback data",
		"source", f.primary.Name(), "fallback", f.secondary.Name(), "category", c, "error", err)
	observe(f.primary.Name(), start, "fallback")
	return f.secondary.Fetch(ctx, c, q)
}

// Chain assembles the serving order of a domain source. A non-nil kv caches
// primary only, so records served by fallback during an outage answer that
// call and are never stored. fallback may be nil.
func Chain(primary, fallback Source, kv KV, ttl time.Duration, log *slog.Logger) Source {
	src := primary
	if kv != nil {
		src = NewCache(src, kv, ttl, log)
	}
	if fallback != nil {
		src = NewFallback(src, fallback, log)
	}
	return src
}
