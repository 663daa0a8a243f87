// Package metrics implements the MetricsRecorder collaborator using
// github.com/prometheus/client_golang, directly grounded on the teacher's
// internal/observability/prometheus_official.go (promauto-registered
// CounterVec/HistogramVec/Gauge family wrapped in a small typed struct).
package metrics

import (
	"net/http"
	"net/http/httptest"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Recorder is the MetricsRecorder capability interface from spec.md §6/§9.
type Recorder interface {
	ObserveRequest(route, method, status string)
	ObserveLatency(route string, seconds float64)
	ObserveUpstreamError(errorType string)
	SetActiveConnections(n float64)
	SetRateLimiterBuckets(n float64)
}

// Renderer produces the GET /metrics response body. Kept separate from
// Recorder so fakes used to test the Router's other paths don't also need to
// implement Prometheus text exposition.
type Renderer interface {
	Render() (body []byte, contentType string)
}

// histogramBuckets are the exact buckets required by spec.md §6.
var histogramBuckets = []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0, 2.5, 5.0, 10.0}

// Prometheus is the production Recorder plus the HTTP handler for
// GET /metrics.
type Prometheus struct {
	registry *prometheus.Registry

	requestsTotal      *prometheus.CounterVec
	upstreamErrorsTotal *prometheus.CounterVec
	requestLatency     *prometheus.HistogramVec
	activeConnections  prometheus.Gauge
	rateLimiterBuckets prometheus.Gauge

	handler http.Handler
}

// New builds a Prometheus recorder with its own registry, so repeated
// process-wide construction (e.g. in tests) never panics on duplicate
// registration the way the default global registry would.
func New() *Prometheus {
	reg := prometheus.NewRegistry()

	p := &Prometheus{
		registry: reg,
		requestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "requests_total",
			Help: "Total number of requests by route, method, and status",
		}, []string{"route", "method", "status"}),
		upstreamErrorsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "upstream_errors_total",
			Help: "Total upstream errors by error type",
		}, []string{"error_type"}),
		requestLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "request_latency_seconds",
			Help:    "Request latency in seconds by route",
			Buckets: histogramBuckets,
		}, []string{"route"}),
		activeConnections: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "active_connections",
			Help: "Current number of active inbound connections",
		}),
		rateLimiterBuckets: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "rate_limiter_buckets",
			Help: "Current number of active rate-limiter token buckets",
		}),
	}

	reg.MustRegister(
		p.requestsTotal,
		p.upstreamErrorsTotal,
		p.requestLatency,
		p.activeConnections,
		p.rateLimiterBuckets,
	)
	p.handler = promhttp.HandlerFor(reg, promhttp.HandlerOpts{})

	return p
}

// ObserveRequest implements Recorder.
func (p *Prometheus) ObserveRequest(route, method, status string) {
	p.requestsTotal.WithLabelValues(route, method, status).Inc()
}

// ObserveLatency implements Recorder.
func (p *Prometheus) ObserveLatency(route string, seconds float64) {
	p.requestLatency.WithLabelValues(route).Observe(seconds)
}

// ObserveUpstreamError implements Recorder.
func (p *Prometheus) ObserveUpstreamError(errorType string) {
	if errorType == "" {
		return
	}
	p.upstreamErrorsTotal.WithLabelValues(errorType).Inc()
}

// SetActiveConnections implements Recorder.
func (p *Prometheus) SetActiveConnections(n float64) { p.activeConnections.Set(n) }

// SetRateLimiterBuckets implements Recorder.
func (p *Prometheus) SetRateLimiterBuckets(n float64) { p.rateLimiterBuckets.Set(n) }

// Render produces the text exposition body for GET /metrics (content type
// "text/plain; version=0.0.4", per spec.md §6). The Router is a hand-rolled
// raw-socket pipeline rather than an http.Handler chain, so Render drives
// promhttp's handler against a synthetic request/recorder pair instead of
// reimplementing Prometheus's exposition formatting.
func (p *Prometheus) Render() (body []byte, contentType string) {
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	p.handler.ServeHTTP(rec, req)

	ct := rec.Header().Get("Content-Type")
	if ct == "" {
		ct = "text/plain; version=0.0.4"
	}
	return rec.Body.Bytes(), ct
}
