// Package metrics provides Prometheus metrics export for the memory services.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const (
	namespace = "mnemo"
	subsystem = "memory"
)

// Recorder is the metrics surface the memory services depend on.
type Recorder interface {
	RecordCacheLookup(source string, latency time.Duration)
	RecordCacheStore(success bool)
	RecordDegradation(component, operation, kind string)
	RecordIndexed(indexed, skipped int)
	RecordRetrieval(sources int, latency time.Duration)
	RecordPrune(target string, count int64)
	RecordEmbedding(model string, latency time.Duration, success bool)
	SetFrontCacheSize(n int)
	SetIndexerQueueDepth(n int)
}

// PrometheusExporter exports memory metrics in Prometheus format.
type PrometheusExporter struct {
	registry *prometheus.Registry

	// Cache metrics
	cacheLookups       *prometheus.CounterVec
	cacheLookupLatency *prometheus.HistogramVec
	cacheStores        *prometheus.CounterVec
	frontSize          prometheus.Gauge

	// Knowledge metrics
	chunks           *prometheus.CounterVec
	retrievalLatency prometheus.Histogram
	retrievalSources prometheus.Histogram
	queueDepth       prometheus.Gauge

	// Embedding metrics
	embedLatency *prometheus.HistogramVec
	embedCalls   *prometheus.CounterVec

	degradations *prometheus.CounterVec
	pruned       *prometheus.CounterVec
}

// Config configures the Prometheus exporter.
type Config struct {
	// Registry to use (if nil, creates a new one)
	Registry *prometheus.Registry

	// Buckets for latency histograms (in seconds)
	LatencyBuckets []float64

	// IncludeRuntime registers the Go and process collectors.
	IncludeRuntime bool
}

// DefaultConfig returns default Prometheus configuration.
func DefaultConfig() Config {
	return Config{
		LatencyBuckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.25, 0.5, 1, 2, 5},
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

	e.cacheLookups = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "cache_lookups_total",
			Help:      "Semantic cache lookups by outcome source (front, durable, miss)",
		},
		[]string{"source"},
	)

	e.cacheLookupLatency = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "cache_lookup_latency_seconds",
			Help:      "Semantic cache lookup latency in seconds",
			Buckets:   cfg.LatencyBuckets,
		},
		[]string{"source"},
	)

	e.cacheStores = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "cache_stores_total",
			Help:      "Semantic cache store attempts",
		},
		[]string{"status"},
	)

	e.frontSize = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "front_cache_entries",
			Help:      "Entries currently held by the front cache",
		},
	)

	e.chunks = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "chunks_total",
			Help:      "Knowledge chunks processed by indexing, by result",
		},
		[]string{"result"},
	)

	e.retrievalLatency = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "retrieval_latency_seconds",
			Help:      "Knowledge retrieval latency in seconds",
			Buckets:   cfg.LatencyBuckets,
		},
	)

	e.retrievalSources = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "retrieval_sources",
			Help:      "Number of sources returned per retrieval",
			Buckets:   []float64{0, 1, 2, 3, 5, 8, 13},
		},
	)

	e.queueDepth = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "indexer_queue_depth",
			Help:      "Pending background index requests",
		},
	)

	e.embedLatency = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "embedding_latency_seconds",
			Help:      "Embedding provider latency in seconds",
			Buckets:   cfg.LatencyBuckets,
		},
		[]string{"model"},
	)

	e.embedCalls = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "embedding_calls_total",
			Help:      "Embedding provider calls",
		},
		[]string{"model", "status"},
	)

	e.degradations = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "degradations_total",
			Help:      "Memory operations that degraded to a miss or empty result",
		},
		[]string{"component", "operation", "kind"},
	)

	e.pruned = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "pruned_records_total",
			Help:      "Records removed by maintenance",
		},
		[]string{"target"},
	)

	registry.MustRegister(
		e.cacheLookups,
		e.cacheLookupLatency,
		e.cacheStores,
		e.frontSize,
		e.chunks,
		e.retrievalLatency,
		e.retrievalSources,
		e.queueDepth,
		e.embedLatency,
		e.embedCalls,
		e.degradations,
		e.pruned,
	)
	if cfg.IncludeRuntime {
		registry.MustRegister(
			collectors.NewGoCollector(),
			collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		)
	}

	return e
}

// RecordCacheLookup records a lookup outcome. source is "front", "durable" or "miss".
func (e *PrometheusExporter) RecordCacheLookup(source string, latency time.Duration) {
	e.cacheLookups.WithLabelValues(source).Inc()
	e.cacheLookupLatency.WithLabelValues(source).Observe(latency.Seconds())
}

// RecordCacheStore records a cache store attempt.
func (e *PrometheusExporter) RecordCacheStore(success bool) {
	e.cacheStores.WithLabelValues(status(success)).Inc()
}

// RecordDegradation counts one degraded memory operation.
func (e *PrometheusExporter) RecordDegradation(component, operation, kind string) {
	e.degradations.WithLabelValues(component, operation, kind).Inc()
}

// RecordIndexed records the outcome of one index request.
func (e *PrometheusExporter) RecordIndexed(indexed, skipped int) {
	e.chunks.WithLabelValues("indexed").Add(float64(indexed))
	e.chunks.WithLabelValues("skipped").Add(float64(skipped))
}

// RecordRetrieval records a retrieval.
func (e *PrometheusExporter) RecordRetrieval(sources int, latency time.Duration) {
	e.retrievalLatency.Observe(latency.Seconds())
	e.retrievalSources.Observe(float64(sources))
}

// RecordPrune records maintenance deletions. target is "cache" or "knowledge".
func (e *PrometheusExporter) RecordPrune(target string, count int64) {
	e.pruned.WithLabelValues(target).Add(float64(count))
}

// RecordEmbedding records a provider call.
func (e *PrometheusExporter) RecordEmbedding(model string, latency time.Duration, success bool) {
	e.embedCalls.WithLabelValues(model, status(success)).Inc()
	e.embedLatency.WithLabelValues(model).Observe(latency.Seconds())
}

// SetFrontCacheSize sets the front cache gauge.
func (e *PrometheusExporter) SetFrontCacheSize(n int) {
	e.frontSize.Set(float64(n))
}

// SetIndexerQueueDepth sets the indexer queue gauge.
func (e *PrometheusExporter) SetIndexerQueueDepth(n int) {
	e.queueDepth.Set(float64(n))
}

// Handler returns an HTTP handler for the metrics endpoint.
func (e *PrometheusExporter) Handler() http.Handler {
	return promhttp.HandlerFor(e.registry, promhttp.HandlerOpts{})
}

// GetRegistry returns the Prometheus registry.
func (e *PrometheusExporter) GetRegistry() *prometheus.Registry {
	return e.registry
}

func status(success bool) string {
	if success {
		return "success"
	}
	return "error"
}

// Nop discards all metrics. Used when no exporter is configured.
type Nop struct{}

func (Nop) RecordCacheLookup(string, time.Duration) {}
func (Nop) RecordCacheStore(bool) {}
func (Nop) RecordDegradation(string, string, string) {}
func (Nop) RecordIndexed(int, int) {}
func (Nop) RecordRetrieval(int, time.Duration) {}
func (Nop) RecordPrune(string, int64) {}
func (Nop) RecordEmbedding(string, time.Duration, bool) {}
func (Nop) SetFrontCacheSize(int) {}
func (Nop) SetIndexerQueueDepth(int) {}

var (
	_ Recorder = (*PrometheusExporter)(nil)
	_ Recorder = Nop{}
)
