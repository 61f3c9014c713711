// Package metrics defines the Prometheus collectors for the service and
// exposes an HTTP handler for scraping.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/joecupano/airgap-lab-ai/pkg/resilience"
)

// Metrics holds all Prometheus collectors for the service.
type Metrics struct {
	HTTPRequestsTotal    *prometheus.CounterVec
	HTTPRequestDuration  *prometheus.HistogramVec
	HTTPRequestsInFlight prometheus.Gauge
	RateLimitedTotal     prometheus.Counter

	QueriesTotal *prometheus.CounterVec
	QueryLatency *prometheus.HistogramVec
	ResultsCount prometheus.Histogram
	CacheHits    prometheus.Counter
	CacheMisses  prometheus.Counter
	LLMLatency   prometheus.Histogram
	LLMErrors    prometheus.Counter
	BreakerState *prometheus.GaugeVec

	IngestRunsTotal *prometheus.CounterVec
	IngestDuration  prometheus.Histogram
	IndexedChunks   prometheus.Gauge
	IndexedFiles    prometheus.Gauge
	VocabularyTerms prometheus.Gauge
}

// New creates the collectors and registers them with reg. A nil reg means
// the default registry.
func New(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
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
				Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5, 15, 60, 240},
			},
			[]string{"method", "path"},
		),
		HTTPRequestsInFlight: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "http_requests_in_flight",
				Help: "Number of HTTP requests currently being processed.",
			},
		),
		RateLimitedTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "http_rate_limited_total",
				Help: "Requests rejected by the per-client rate limiter.",
			},
		),
		QueriesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "retrieval_queries_total",
				Help: "Retrieval queries by endpoint and outcome (hit, zero_result, error).",
			},
			[]string{"endpoint", "outcome"},
		),
		QueryLatency: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "retrieval_query_latency_seconds",
				Help:    "Retrieval latency in seconds.",
				Buckets: []float64{0.0005, 0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 1},
			},
			[]string{"cache_status"},
		),
		ResultsCount: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "retrieval_results_count",
				Help:    "Number of passages returned per query.",
				Buckets: []float64{0, 1, 2, 4, 6, 8, 12},
			},
		),
		CacheHits: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "cache_hits_total",
				Help: "Total number of query cache hits.",
			},
		),
		CacheMisses: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "cache_misses_total",
				Help: "Total number of query cache misses.",
			},
		),
		LLMLatency: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "llm_generate_duration_seconds",
				Help:    "Answer generation latency in seconds.",
				Buckets: []float64{0.5, 1, 2.5, 5, 10, 30, 60, 120, 240},
			},
		),
		LLMErrors: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "llm_generate_errors_total",
				Help: "Failed answer generations.",
			},
		),
		BreakerState: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "circuit_breaker_state",
				Help: "Circuit breaker state (0=closed, 1=open, 2=half-open).",
			},
			[]string{"name"},
		),
		IngestRunsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ingest_runs_total",
				Help: "Ingest runs by status (ok, empty, error).",
			},
			[]string{"status"},
		),
		IngestDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "ingest_duration_seconds",
				Help:    "Wall time of successful ingest runs.",
				Buckets: prometheus.ExponentialBuckets(0.05, 2, 14),
			},
		),
		IndexedChunks: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "index_chunks",
				Help: "Chunks in the current index build.",
			},
		),
		IndexedFiles: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "index_files",
				Help: "Files that contributed to the current index build.",
			},
		),
		VocabularyTerms: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "index_vocabulary_terms",
				Help: "Vocabulary size of the current index build.",
			},
		),
	}

	reg.MustRegister(
		m.HTTPRequestsTotal,
		m.HTTPRequestDuration,
		m.HTTPRequestsInFlight,
		m.RateLimitedTotal,
		m.QueriesTotal,
		m.QueryLatency,
		m.ResultsCount,
		m.CacheHits,
		m.CacheMisses,
		m.LLMLatency,
		m.LLMErrors,
		m.BreakerState,
		m.IngestRunsTotal,
		m.IngestDuration,
		m.IndexedChunks,
		m.IndexedFiles,
		m.VocabularyTerms,
	)

	return m
}

// ObserveBreaker is a resilience.CircuitBreakerConfig.OnStateChange hook.
func (m *Metrics) ObserveBreaker(name string, to resilience.State) {
	m.BreakerState.WithLabelValues(name).Set(float64(to))
}

// ObserveIndex sets the index gauges after a build is published or loaded.
func (m *Metrics) ObserveIndex(chunks, files, terms int) {
	m.IndexedChunks.Set(float64(chunks))
	m.IndexedFiles.Set(float64(files))
	m.VocabularyTerms.Set(float64(terms))
}

// Handler returns the Prometheus scrape HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}
