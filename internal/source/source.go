// Package source fetches raw domain records for the map: HTTP JSON
// endpoints, Postgres tables, built-in placeholder datasets, plus a Redis
// cache and a fallback wrapper around them.
package source

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"slices"
	"strings"
	"time"

	"github.com/joeblew999/greenedumap/internal/feature"
	"github.com/joeblew999/greenedumap/internal/metrics"
)

// ErrUnsupported is returned for a category a source does not serve.
var ErrUnsupported = errors.New("category not supported by source")

// DefaultLimit is the page size used when a query does not set one.
const DefaultLimit = 100

// FilterKeys are the filters forwarded to backends.
var FilterKeys = []string{"city", "province", "status", "priority", "ward"}

// Query selects a page of records.
type Query struct {
	Skip    int
	Limit   int
	Filters map[string]string
}

// Normalized returns q with defaults applied and unknown or empty filters
// removed.
func (q Query) Normalized() Query {
	if q.Skip < 0 {
		q.Skip = 0
	}
	if q.Limit <= 0 {
		q.Limit = DefaultLimit
	}
	filters := make(map[string]string)
	for _, k := range FilterKeys {
		if v := strings.TrimSpace(q.Filters[k]); v != "" {
			filters[k] = v
		}
	}
	q.Filters = filters
	return q
}

// Key is a stable string form of the query, used for cache keys.
func (q Query) Key() string {
	q = q.Normalized()
	var b strings.Builder
	fmt.Fprintf(&b, "skip=%d&limit=%d", q.Skip, q.Limit)
	for _, k := range slices.Sorted(maps.Keys(q.Filters)) {
		fmt.Fprintf(&b, "&%s=%s", k, q.Filters[k])
	}
	return b.String()
}

// Source fetches raw records of one category.
type Source interface {
	Name() string
	Fetch(ctx context.Context, category feature.Category, q Query) ([]feature.Record, error)
}

// observe records the outcome and duration of a fetch.
func observe(name string, start time.Time, outcome string) {
	metrics.SourceFetchTotal.WithLabelValues(name, outcome).Inc()
	metrics.SourceFetchDurationMs.WithLabelValues(name).Observe(float64(time.Since(start).Milliseconds()))
}

// Router sends each category to its own source, with an optional default.
type Router struct {
	routes map[feature.Category]Source
	def    Source
}

// NewRouter returns a router using def for unrouted categories.
func NewRouter(def Source) *Router {
	return &Router{routes: make(map[feature.Category]Source), def: def}
}

// Route sets the source of a category.
func (r *Router) Route(c feature.Category, s Source) *Router {
	r.routes[c] = s
	return r
}

func (r *Router) Name() string { return "router" }

func (r *Router) Fetch(ctx context.Context, c feature.Category, q Query) ([]feature.Record, error) {
	if s, ok := r.routes[c]; ok {
		return s.Fetch(ctx, c, q)
	}
	if r.def == nil {
		return nil, fmt.Errorf("%s: %w", c, ErrUnsupported)
	}
	return r.def.Fetch(ctx, c, q)
}
