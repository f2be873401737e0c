// Package metrics holds the Prometheus collectors of the map service.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	AdapterFeaturesTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "greenmap_adapter_features_total",
		Help: "Records normalized into map features",
	}, []string{"category"})
	AdapterExcludedTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "greenmap_adapter_excluded_records_total",
		Help: "Records dropped by the adapter for missing or invalid coordinates",
	}, []string{"category"})
	SourceFetchTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "greenmap_source_fetch_total",
		Help: "Domain source fetches by outcome (ok, error, fallback, cache_hit)",
	}, []string{"source", "outcome"})
	SourceFetchDurationMs = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "greenmap_source_fetch_duration_ms",
		Help:    "Domain source fetch duration in milliseconds",
		Buckets: []float64{5, 10, 20, 50, 100, 200, 500, 1000, 5000},
	}, []string{"source"})
	EngineOpsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "greenmap_engine_ops_total",
		Help: "Map engine operations issued by reconciliation",
	}, []string{"op"})
	SessionsActive = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "greenmap_sessions_active",
		Help: "Map sessions currently mounted",
	})
	InteractionEventsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "greenmap_interaction_events_total",
		Help: "Interaction events by type and outcome (emitted, unresolved, late)",
	}, []string{"type", "outcome"})
)

func init() {
	prometheus.MustRegister(AdapterFeaturesTotal)
	prometheus.MustRegister(AdapterExcludedTotal)
	prometheus.MustRegister(SourceFetchTotal)
	prometheus.MustRegister(SourceFetchDurationMs)
	prometheus.MustRegister(EngineOpsTotal)
	prometheus.MustRegister(SessionsActive)
	prometheus.MustRegister(InteractionEventsTotal)
}

// Handler exposes the registered collectors for scraping at /metrics.
func Handler() http.Handler { return promhttp.Handler() }
