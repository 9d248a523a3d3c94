package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Outcome labels for predictions_total.
const (
	OutcomeSuccess      = "success"
	OutcomeMissingInput = "missing_input"
	OutcomeDecodeError  = "decode_error"
	OutcomeInferenceErr = "inference_error"
)

// Metrics holds the service collectors on a private registry.
type Metrics struct {
	registry        *prometheus.Registry
	requestCount    *prometheus.CounterVec
	requestDuration *prometheus.HistogramVec
	inference       prometheus.Histogram
	predictions     *prometheus.CounterVec
}

func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		requestCount: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "http_requests_total",
				Help: "Total number of HTTP requests",
			}, []string{"path", "method", "status"},
		),
		requestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "http_request_duration_seconds",
				Help:    "Duration of HTTP requests in seconds",
				Buckets: prometheus.DefBuckets,
			}, []string{"path"},
		),
		inference: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "inference_duration_seconds",
				Help:    "Duration of one forward pass including the wait for a free session",
				Buckets: prometheus.ExponentialBuckets(0.005, 2, 12),
			},
		),
		predictions: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "predictions_total",
				Help: "Classification requests by outcome",
			}, []string{"outcome"},
		),
	}

	m.registry.MustRegister(
		m.requestCount,
		m.requestDuration,
		m.inference,
		m.predictions,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

func (m *Metrics) ObserveRequest(path, method string, status int, d time.Duration) {
	m.requestCount.WithLabelValues(path, method, strconv.Itoa(status)).Inc()
	m.requestDuration.WithLabelValues(path).Observe(d.Seconds())
}

func (m *Metrics) ObserveInference(d time.Duration) {
	m.inference.Observe(d.Seconds())
}

func (m *Metrics) CountPrediction(outcome string) {
	m.predictions.WithLabelValues(outcome).Inc()
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}
