// Package metrics provides Prometheus metrics export for the companion.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// PrometheusExporter exports companion metrics in Prometheus format.
type PrometheusExporter struct {
	registry *prometheus.Registry

	// Index worker metrics
	indexSweeps   *prometheus.CounterVec
	indexBlocks   prometheus.Counter
	indexDuration prometheus.Histogram

	// Retrieval metrics
	retrievalRequests *prometheus.CounterVec
	retrievalLatency  *prometheus.HistogramVec

	// Proxy metrics
	proxyRequests *prometheus.CounterVec
	proxyLatency  *prometheus.HistogramVec
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

	e := &PrometheusExporter{
		registry: registry,
	}

	// Index worker metrics
	e.indexSweeps = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "companion",
			Subsystem: "index",
			Name:      "sweeps_total",
			Help:      "Total number of index sweeps",
		},
		[]string{"status"},
	)

	e.indexBlocks = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "companion",
			Subsystem: "index",
			Name:      "blocks_total",
			Help:      "Total number of blocks embedded and upserted",
		},
	)

	e.indexDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "companion",
			Subsystem: "index",
			Name:      "sweep_duration_seconds",
			Help:      "Index sweep duration in seconds",
			Buckets:   cfg.LatencyBuckets,
		},
	)

	// Retrieval metrics
	e.retrievalRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "companion",
			Subsystem: "rag",
			Name:      "requests_total",
			Help:      "Total number of retrieval requests",
		},
		[]string{"operation", "status"},
	)

	e.retrievalLatency = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "companion",
			Subsystem: "rag",
			Name:      "latency_seconds",
			Help:      "Retrieval request latency in seconds",
			Buckets:   cfg.LatencyBuckets,
		},
		[]string{"operation"},
	)

	// Proxy metrics
	e.proxyRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "companion",
			Subsystem: "proxy",
			Name:      "requests_total",
			Help:      "Total number of proxied upstream requests",
		},
		[]string{"route", "mode", "status"},
	)

	e.proxyLatency = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "companion",
			Subsystem: "proxy",
			Name:      "latency_seconds",
			Help:      "Proxied upstream request latency in seconds",
			Buckets:   cfg.LatencyBuckets,
		},
		[]string{"route", "mode"},
	)

	// Register all metrics
	registry.MustRegister(
		e.indexSweeps,
		e.indexBlocks,
		e.indexDuration,
		e.retrievalRequests,
		e.retrievalLatency,
		e.proxyRequests,
		e.proxyLatency,
	)

	return e
}

// RecordSweep records one index sweep and the number of blocks it wrote.
func (e *PrometheusExporter) RecordSweep(latency time.Duration, blocks int, success bool) {
	status := "success"
	if !success {
		status = "error"
	}

	e.indexSweeps.WithLabelValues(status).Inc()
	e.indexDuration.Observe(latency.Seconds())
	if blocks > 0 {
		e.indexBlocks.Add(float64(blocks))
	}
}

// RecordRetrieval records a retrieval request metric.
func (e *PrometheusExporter) RecordRetrieval(operation string, latency time.Duration, success bool) {
	status := "success"
	if !success {
		status = "error"
	}

	e.retrievalRequests.WithLabelValues(operation, status).Inc()
	e.retrievalLatency.WithLabelValues(operation).Observe(latency.Seconds())
}

// RecordProxyRequest records one forwarded upstream request.
func (e *PrometheusExporter) RecordProxyRequest(route, mode string, status int, latency time.Duration) {
	e.proxyRequests.WithLabelValues(route, mode, strconv.Itoa(status)).Inc()
	e.proxyLatency.WithLabelValues(route, mode).Observe(latency.Seconds())
}

// GetHandler returns the HTTP handler for Prometheus metrics.
func (e *PrometheusExporter) GetHandler() http.Handler {
	return promhttp.HandlerFor(e.registry, promhttp.HandlerOpts{})
}

// ServeHTTP implements http.Handler for the metrics endpoint.
func (e *PrometheusExporter) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	e.GetHandler().ServeHTTP(w, r)
}

// GetRegistry returns the Prometheus registry.
func (e *PrometheusExporter) GetRegistry() *prometheus.Registry {
	return e.registry
}
