package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "ollama_gate"

// Request outcomes recorded under the status label.
const (
	StatusOK           = "ok"
	StatusUnauthorized = "unauthorized"
	StatusInvalid      = "invalid"
	StatusError        = "error"
)

// Metrics aggregates the proxy collectors on a private registry.
type Metrics struct {
	registry *prometheus.Registry

	requests *prometheus.CounterVec
	lines    *prometheus.CounterVec
	duration *prometheus.HistogramVec
}

// New constructs the collector set and registers it.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "requests_total",
			Help:      "Proxy requests by route and outcome.",
		}, []string{"route", "status"}),
		lines: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "relay_lines_total",
			Help:      "Backend lines forwarded to callers by route.",
		}, []string{"route"}),
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "request_duration_seconds",
			Help:      "Proxy request duration by route.",
			Buckets:   []float64{0.1, 0.25, 0.5, 1, 2, 5, 10, 30, 60, 120},
		}, []string{"route"}),
	}

	m.registry.MustRegister(m.requests, m.lines, m.duration)
	return m
}

// Handler exposes the registry in prometheus text format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// RecordRequest counts one finished request and observes its duration.
func (m *Metrics) RecordRequest(route, status string, elapsed time.Duration) {
	m.requests.WithLabelValues(route, status).Inc()
	m.duration.WithLabelValues(route).Observe(elapsed.Seconds())
}

// RecordLines adds forwarded backend lines for a route.
func (m *Metrics) RecordLines(route string, count int) {
	if count <= 0 {
		return
	}
	m.lines.WithLabelValues(route).Add(float64(count))
}
