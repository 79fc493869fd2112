// Package metrics provides Prometheus metrics export for the memory
// pipeline.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// PrometheusExporter exports pipeline metrics in Prometheus format.
type PrometheusExporter struct {
	registry *prometheus.Registry

	// Embedding queue metrics
	queueDepth     prometheus.Gauge
	failedItems    prometheus.Gauge
	breakerOpen    prometheus.Gauge
	itemsProcessed *prometheus.CounterVec
	embedLatency   prometheus.Histogram
	apiErrors      prometheus.Counter

	// Cache metrics
	cacheHits   *prometheus.CounterVec
	cacheMisses *prometheus.CounterVec

	// Graph refresh metrics
	refreshes      *prometheus.CounterVec
	refreshLatency *prometheus.HistogramVec
}

// Config configures the Prometheus exporter.
type Config struct {
	// Registry to use (if nil, creates a new one)
	Registry *prometheus.Registry

	// Buckets for latency histograms (in seconds)
	LatencyBuckets []float64
}

// DefaultConfig returns default Prometheus configuration.
func DefaultConfig() Config {
	return Config{
		LatencyBuckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 2, 5, 10, 30, 60},
	}
}

// NewPrometheusExporter creates a new Prometheus metrics exporter.
func NewPrometheusExporter(cfg Config) *PrometheusExporter {
	if len(cfg.LatencyBuckets) == 0 {
		cfg.LatencyBuckets = DefaultConfig().LatencyBuckets
	}

	registry := cfg.Registry
	if registry == nil {
		registry = prometheus.NewRegistry()
	}

	e := &PrometheusExporter{registry: registry}

	e.queueDepth = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "mindgraph",
		Subsystem: "queue",
		Name:      "depth",
		Help:      "Number of memories waiting for an embedding",
	})

	e.failedItems = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "mindgraph",
		Subsystem: "queue",
		Name:      "failed_items",
		Help:      "Number of memories in the failed set awaiting manual re-embed",
	})

	e.breakerOpen = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "mindgraph",
		Subsystem: "queue",
		Name:      "breaker_open",
		Help:      "1 while the embedding circuit breaker cooldown is active",
	})

	e.itemsProcessed = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "mindgraph",
			Subsystem: "queue",
			Name:      "items_processed_total",
			Help:      "Queue items processed, by outcome",
		},
		[]string{"outcome"},
	)

	e.embedLatency = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: "mindgraph",
		Subsystem: "queue",
		Name:      "embed_latency_seconds",
		Help:      "Embedding call latency in seconds",
		Buckets:   cfg.LatencyBuckets,
	})

	e.apiErrors = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "mindgraph",
		Subsystem: "queue",
		Name:      "api_errors_total",
		Help:      "Transient embedding provider errors",
	})

	e.cacheHits = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "mindgraph",
			Subsystem: "cache",
			Name:      "hits_total",
			Help:      "Graph cache hits",
		},
		[]string{"kind"},
	)

	e.cacheMisses = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "mindgraph",
			Subsystem: "cache",
			Name:      "misses_total",
			Help:      "Graph cache misses",
		},
		[]string{"kind"},
	)

	e.refreshes = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "mindgraph",
			Subsystem: "graph",
			Name:      "refreshes_total",
			Help:      "Graph refreshes, by mode and status",
		},
		[]string{"mode", "status"},
	)

	e.refreshLatency = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "mindgraph",
			Subsystem: "graph",
			Name:      "refresh_latency_seconds",
			Help:      "Graph refresh latency in seconds",
			Buckets:   cfg.LatencyBuckets,
		},
		[]string{"mode"},
	)

	registry.MustRegister(
		e.queueDepth,
		e.failedItems,
		e.breakerOpen,
		e.itemsProcessed,
		e.embedLatency,
		e.apiErrors,
		e.cacheHits,
		e.cacheMisses,
		e.refreshes,
		e.refreshLatency,
	)

	return e
}

// SetQueueDepth sets the current queue depth.
func (e *PrometheusExporter) SetQueueDepth(n int) {
	e.queueDepth.Set(float64(n))
}

// SetFailedItems sets the current failed set size.
func (e *PrometheusExporter) SetFailedItems(n int) {
	e.failedItems.Set(float64(n))
}

// SetBreakerOpen records whether the queue circuit breaker is open.
func (e *PrometheusExporter) SetBreakerOpen(open bool) {
	if open {
		e.breakerOpen.Set(1)
	} else {
		e.breakerOpen.Set(0)
	}
}

// RecordItemProcessed records a processed queue item by outcome.
func (e *PrometheusExporter) RecordItemProcessed(outcome string) {
	e.itemsProcessed.WithLabelValues(outcome).Inc()
}

// RecordEmbedLatency records one embedding call.
func (e *PrometheusExporter) RecordEmbedLatency(latency time.Duration) {
	e.embedLatency.Observe(latency.Seconds())
}

// RecordAPIError records a transient provider error.
func (e *PrometheusExporter) RecordAPIError() {
	e.apiErrors.Inc()
}

// RecordCacheHit records a cache hit.
func (e *PrometheusExporter) RecordCacheHit(kind string) {
	e.cacheHits.WithLabelValues(kind).Inc()
}

// RecordCacheMiss records a cache miss.
func (e *PrometheusExporter) RecordCacheMiss(kind string) {
	e.cacheMisses.WithLabelValues(kind).Inc()
}

// RecordRefresh records a graph refresh outcome.
func (e *PrometheusExporter) RecordRefresh(mode string, latency time.Duration, success bool) {
	status := "success"
	if !success {
		status = "error"
	}
	e.refreshes.WithLabelValues(mode, status).Inc()
	e.refreshLatency.WithLabelValues(mode).Observe(latency.Seconds())
}

// Handler returns the HTTP handler for the metrics endpoint.
func (e *PrometheusExporter) Handler() http.Handler {
	return promhttp.HandlerFor(e.registry, promhttp.HandlerOpts{})
}

// GetRegistry returns the Prometheus registry.
func (e *PrometheusExporter) GetRegistry() *prometheus.Registry {
	return e.registry
}
