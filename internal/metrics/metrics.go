// Package metrics exposes the Prometheus collectors a running indexer
// process reports (spec SPEC_FULL ambient stack): flush latency,
// events-per-flush, computation cache hit/miss, and webhook delivery
// outcomes.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Collectors bundles the indexer's Prometheus instruments behind a private
// registry, mirroring the teacher's health-logger pattern of one registry
// per process rather than the global default.
type Collectors struct {
	registry *prometheus.Registry

	FlushLatency    prometheus.Histogram
	EventsPerFlush  prometheus.Histogram
	CacheHits       prometheus.Counter
	CacheMisses     prometheus.Counter
	WebhookDelivered prometheus.Counter
	WebhookFailed    prometheus.Counter
	ComputationsDestroyed prometheus.Counter
	ComputationsTruncated prometheus.Counter
}

// New registers and returns the indexer's collector set.
func New() *Collectors {
	reg := prometheus.NewRegistry()
	c := &Collectors{
		registry: reg,
		FlushLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "wasmindexer_flush_duration_seconds",
			Help:    "Duration of one ingestion flush.",
			Buckets: prometheus.DefBuckets,
		}),
		EventsPerFlush: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "wasmindexer_flush_events",
			Help:    "Number of deduplicated events processed per flush.",
			Buckets: prometheus.ExponentialBuckets(10, 2, 12),
		}),
		CacheHits: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "wasmindexer_cache_hits_total",
			Help: "Computation cache queries served from an existing row.",
		}),
		CacheMisses: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "wasmindexer_cache_misses_total",
			Help: "Computation cache queries that required formula evaluation.",
		}),
		WebhookDelivered: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "wasmindexer_webhook_delivered_total",
			Help: "Webhook deliveries that succeeded.",
		}),
		WebhookFailed: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "wasmindexer_webhook_failed_total",
			Help: "Webhook delivery attempts that failed.",
		}),
		ComputationsDestroyed: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "wasmindexer_computations_destroyed_total",
			Help: "Computation rows destroyed by invalidation.",
		}),
		ComputationsTruncated: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "wasmindexer_computations_truncated_total",
			Help: "Computation rows truncated by invalidation.",
		}),
	}
	reg.MustRegister(
		c.FlushLatency, c.EventsPerFlush, c.CacheHits, c.CacheMisses,
		c.WebhookDelivered, c.WebhookFailed, c.ComputationsDestroyed, c.ComputationsTruncated,
	)
	return c
}

// Handler returns the /metrics HTTP handler bound to this process's
// registry.
func (c *Collectors) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{})
}
