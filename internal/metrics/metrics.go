package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the Prometheus collectors for the resolve pipeline.
// A nil *Metrics is valid and records nothing.
type Metrics struct {
	indexerRequestsTotal   *prometheus.CounterVec
	indexerRequestDuration *prometheus.HistogramVec

	cacheLookupsTotal *prometheus.CounterVec

	summaryRequestsTotal   *prometheus.CounterVec
	summaryRequestDuration prometheus.Histogram

	submissionsTotal *prometheus.CounterVec

	httpRequestsTotal   *prometheus.CounterVec
	httpRequestDuration *prometheus.HistogramVec

	gatherer prometheus.Gatherer
}

// New registers all collectors on a fresh registry.
func New() *Metrics {
	return NewWithRegistry(prometheus.NewRegistry())
}

// NewWithRegistry registers all collectors on registry.
func NewWithRegistry(registry *prometheus.Registry) *Metrics {
	factory := promauto.With(registry)

	return &Metrics{
		indexerRequestsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "solsum_indexer_requests_total",
				Help: "Indexing service requests by operation and outcome",
			},
			[]string{"operation", "outcome"},
		),
		indexerRequestDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "solsum_indexer_request_duration_seconds",
				Help:    "Duration of indexing service requests in seconds",
				Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1.0, 2.5, 5.0, 10.0},
			},
			[]string{"operation"},
		),
		cacheLookupsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "solsum_cache_lookups_total",
				Help: "Cache lookups by scope and result (hit/miss)",
			},
			[]string{"scope", "result"},
		),
		summaryRequestsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "solsum_summary_requests_total",
				Help: "Summary generations by outcome",
			},
			[]string{"outcome"},
		),
		summaryRequestDuration: factory.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "solsum_summary_request_duration_seconds",
				Help:    "Duration of summarization calls in seconds",
				Buckets: []float64{0.25, 0.5, 1.0, 2.5, 5.0, 10.0, 30.0},
			},
		),
		submissionsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "solsum_submissions_total",
				Help: "Identifier submissions by final outcome",
			},
			[]string{"outcome"},
		),
		httpRequestsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "solsum_http_requests_total",
				Help: "HTTP API requests by route, method and status class",
			},
			[]string{"route", "method", "status"},
		),
		httpRequestDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "solsum_http_request_duration_seconds",
				Help:    "Duration of HTTP API requests in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"route", "method"},
		),
		gatherer: registry,
	}
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.gatherer, promhttp.HandlerOpts{})
}

// RecordIndexerRequest records one indexing service call.
func (m *Metrics) RecordIndexerRequest(operation, outcome string, duration float64) {
	if m == nil {
		return
	}
	m.indexerRequestsTotal.WithLabelValues(operation, outcome).Inc()
	m.indexerRequestDuration.WithLabelValues(operation).Observe(duration)
}

// RecordCacheLookup records a cache hit or miss for a key class.
func (m *Metrics) RecordCacheLookup(scope string, hit bool) {
	if m == nil {
		return
	}
	result := "miss"
	if hit {
		result = "hit"
	}
	m.cacheLookupsTotal.WithLabelValues(scope, result).Inc()
}

// RecordSummary records a summarization outcome. duration is zero when no call was made.
func (m *Metrics) RecordSummary(outcome string, duration float64) {
	if m == nil {
		return
	}
	m.summaryRequestsTotal.WithLabelValues(outcome).Inc()
	if duration > 0 {
		m.summaryRequestDuration.Observe(duration)
	}
}

func (m *Metrics) RecordSubmission(outcome string) {
	if m == nil {
		return
	}
	m.submissionsTotal.WithLabelValues(outcome).Inc()
}

func (m *Metrics) RecordHTTPRequest(route, method string, statusCode int, duration float64) {
	if m == nil {
		return
	}
	m.httpRequestsTotal.WithLabelValues(route, method, statusClass(statusCode)).Inc()
	m.httpRequestDuration.WithLabelValues(route, method).Observe(duration)
}

func statusClass(code int) string {
	switch {
	case code >= 200 && code < 300:
		return "2xx"
	case code >= 300 && code < 400:
		return "3xx"
	case code >= 400 && code < 500:
		return "4xx"
	case code >= 500 && code < 600:
		return "5xx"
	default:
		return "unknown"
	}
}
