// Package metrics defines the Prometheus metric collectors used across the
// retrieval engine and exposes an HTTP handler for scraping.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus collectors for the engine.
type Metrics struct {
	HTTPRequestsTotal    *prometheus.CounterVec
	HTTPRequestDuration  *prometheus.HistogramVec
	HTTPRequestsInFlight prometheus.Gauge
	SearchQueriesTotal   *prometheus.CounterVec
	SearchLatency        *prometheus.HistogramVec
	SearchResultsCount   prometheus.Histogram
	ThresholdTier        *prometheus.CounterVec
	CacheHitsTotal       *prometheus.CounterVec
	CacheMissesTotal     prometheus.Counter
	CacheEvictionsTotal  prometheus.Counter
	CacheEntries         prometheus.Gauge
	DocsIndexedTotal     prometheus.Counter
	DocsRemovedTotal     prometheus.Counter
	EmbeddingFailures    *prometheus.CounterVec
	DegradedQueriesTotal prometheus.Counter
}

// New creates and registers all Prometheus metrics.
func New() *Metrics {
	m := &Metrics{
		HTTPRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "http_requests_total",
				Help: "Total number of HTTP requests by method, path, and status.",
			},
			[]string{"method", "path", "status"},
		),
		HTTPRequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "http_request_duration_seconds",
				Help:    "HTTP request latency in seconds.",
				Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5},
			},
			[]string{"method", "path"},
		),
		HTTPRequestsInFlight: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "http_requests_in_flight",
				Help: "Number of HTTP requests currently being processed.",
			},
		),
		SearchQueriesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "search_queries_total",
				Help: "Total search queries by outcome (found, exhausted, cached, error).",
			},
			[]string{"outcome"},
		),
		SearchLatency: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "search_latency_seconds",
				Help:    "Search query latency in seconds.",
				Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1},
			},
			[]string{"cache_status"},
		),
		SearchResultsCount: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "search_results_count",
				Help:    "Number of results returned per search query.",
				Buckets: []float64{0, 1, 5, 10, 25, 50, 100},
			},
		),
		ThresholdTier: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "search_threshold_tier_total",
				Help: "Which similarity threshold tier satisfied the query.",
			},
			[]string{"tier"},
		),
		CacheHitsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "semantic_cache_hits_total",
				Help: "Total semantic cache hits by tier (memory, remote).",
			},
			[]string{"tier"},
		),
		CacheMissesTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "semantic_cache_misses_total",
				Help: "Total semantic cache misses.",
			},
		),
		CacheEvictionsTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "semantic_cache_evictions_total",
				Help: "Total entries evicted from the semantic cache.",
			},
		),
		CacheEntries: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "semantic_cache_entries",
				Help: "Current number of entries in the semantic cache.",
			},
		),
		DocsIndexedTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "docs_indexed_total",
				Help: "Total documents indexed.",
			},
		),
		DocsRemovedTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "docs_removed_total",
				Help: "Total documents removed from the index.",
			},
		),
		EmbeddingFailures: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "embedding_failures_total",
				Help: "Embedding provider failures by reason (timeout, unavailable, dimension).",
			},
			[]string{"reason"},
		),
		DegradedQueriesTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "degraded_queries_total",
				Help: "Queries answered keyword-only because no embedding was available.",
			},
		),
	}

	prometheus.MustRegister(
		m.HTTPRequestsTotal,
		m.HTTPRequestDuration,
		m.HTTPRequestsInFlight,
		m.SearchQueriesTotal,
		m.SearchLatency,
		m.SearchResultsCount,
		m.ThresholdTier,
		m.CacheHitsTotal,
		m.CacheMissesTotal,
		m.CacheEvictionsTotal,
		m.CacheEntries,
		m.DocsIndexedTotal,
		m.DocsRemovedTotal,
		m.EmbeddingFailures,
		m.DegradedQueriesTotal,
	)

	return m
}

// Handler returns the Prometheus scrape HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}
