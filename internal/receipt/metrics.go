package receipt

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the service's Prometheus instruments on a private registry.
type Metrics struct {
	registry *prometheus.Registry

	requestsTotal    *prometheus.CounterVec
	requestDuration  *prometheus.HistogramVec
	requestsInFlight prometheus.Gauge
	pipelineFailures *prometheus.CounterVec
}

// NewMetrics creates and registers the service metrics
func NewMetrics(service string) *Metrics {
	registry := prometheus.NewRegistry()
	labels := prometheus.Labels{"service": service}

	requestsTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace:   "receipt_ocr",
			Subsystem:   "http",
			Name:        "requests_total",
			Help:        "Total HTTP requests processed.",
			ConstLabels: labels,
		},
		[]string{"method", "path", "status"},
	)
	requestDuration := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace:   "receipt_ocr",
			Subsystem:   "http",
			Name:        "request_duration_seconds",
			Help:        "HTTP request duration in seconds.",
			Buckets:     prometheus.DefBuckets,
			ConstLabels: labels,
		},
		[]string{"method", "path"},
	)
	requestsInFlight := prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace:   "receipt_ocr",
			Subsystem:   "http",
			Name:        "requests_in_flight",
			Help:        "HTTP requests currently being served.",
			ConstLabels: labels,
		},
	)
	pipelineFailures := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace:   "receipt_ocr",
			Subsystem:   "pipeline",
			Name:        "failures_total",
			Help:        "Pipeline failures by error code.",
			ConstLabels: labels,
		},
		[]string{"code"},
	)

	registry.MustRegister(requestsTotal, requestDuration, requestsInFlight, pipelineFailures)

	return &Metrics{
		registry:         registry,
		requestsTotal:    requestsTotal,
		requestDuration:  requestDuration,
		requestsInFlight: requestsInFlight,
		pipelineFailures: pipelineFailures,
	}
}

// Handler serves the registry in Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// ObserveRequest records one completed HTTP request.
func (m *Metrics) ObserveRequest(method, path string, status int, seconds float64) {
	m.requestsTotal.WithLabelValues(method, path, statusLabel(status)).Inc()
	m.requestDuration.WithLabelValues(method, path).Observe(seconds)
}

// ObserveFailure records one pipeline failure by error code.
func (m *Metrics) ObserveFailure(code ErrorCode) {
	m.pipelineFailures.WithLabelValues(string(code)).Inc()
}

func statusLabel(status int) string {
	switch {
	case status >= 500:
		return "5xx"
	case status >= 400:
		return "4xx"
	case status >= 300:
		return "3xx"
	default:
		return "2xx"
	}
}
