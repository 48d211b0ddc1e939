// Package observability provides Prometheus metrics for monitoring.
package observability

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics for the edge service.
type Metrics struct {
	registry *prometheus.Registry

	// Cache gateway metrics
	CacheRequests  *prometheus.CounterVec // route, status (hit|stale|miss|bypass)
	CacheRefreshes *prometheus.CounterVec // outcome (success|failure|dropped)
	CacheEntries   prometheus.Gauge
	CacheEvictions prometheus.Counter

	// Rate limiter metrics
	RateLimitDecisions *prometheus.CounterVec // outcome (allowed|denied)

	// Safety scorer metrics
	SafetyCheckFailures *prometheus.CounterVec // check name
	SafetyEvaluations   prometheus.Counter

	// Aggregator metrics
	AggregateDuration prometheus.Histogram
	ArchiveBatches    *prometheus.CounterVec // outcome (success|failure|dropped)

	// Upstream proxy metrics
	ProxyResponses *prometheus.CounterVec // result (ok or policy code)

	// Engine feed metrics
	EngineFeedReconnects prometheus.Counter
	EngineFeedMessages   *prometheus.CounterVec // outcome (stored|invalid|error)

	// HTTP metrics
	RequestDuration *prometheus.HistogramVec // route, status
}

// NewMetrics creates a Metrics instance backed by its own registry, so
// tests and multiple instances never collide on global registration.
func NewMetrics(namespace string) *Metrics {
	if namespace == "" {
		namespace = "arb_edge"
	}

	registry := prometheus.NewRegistry()
	factory := promauto.With(registry)

	return &Metrics{
		registry: registry,

		CacheRequests: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cache_requests_total",
			Help:      "Cache-gated requests by route and cache status",
		}, []string{"route", "status"}),
		CacheRefreshes: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cache_refreshes_total",
			Help:      "Background refresh outcomes",
		}, []string{"outcome"}),
		CacheEntries: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "cache_entries",
			Help:      "Current number of cached responses",
		}),
		CacheEvictions: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cache_evictions_total",
			Help:      "Cache entries evicted by the size bound",
		}),

		RateLimitDecisions: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rate_limit_decisions_total",
			Help:      "Rate limiter decisions by outcome",
		}, []string{"outcome"}),

		SafetyCheckFailures: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "safety_check_failures_total",
			Help:      "Safety sub-check provider failures by check",
		}, []string{"check"}),
		SafetyEvaluations: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "safety_evaluations_total",
			Help:      "Addresses fully evaluated by the safety scorer",
		}),

		AggregateDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "aggregate_duration_seconds",
			Help:      "Opportunity aggregation duration",
			Buckets:   prometheus.DefBuckets,
		}),
		ArchiveBatches: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "archive_batches_total",
			Help:      "Opportunity history archive batch outcomes",
		}, []string{"outcome"}),

		ProxyResponses: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "proxy_responses_total",
			Help:      "Upstream proxy responses by result",
		}, []string{"result"}),

		EngineFeedReconnects: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "engine_feed_reconnects_total",
			Help:      "Engine WebSocket feed reconnect attempts",
		}),
		EngineFeedMessages: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "engine_feed_messages_total",
			Help:      "Engine WebSocket feed messages by outcome",
		}, []string{"outcome"}),

		RequestDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request duration by route and status",
			Buckets:   prometheus.DefBuckets,
		}, []string{"route", "status"}),
	}
}

// Handler returns the /metrics HTTP handler for this registry.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
