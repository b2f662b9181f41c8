// Package metrics exposes Prometheus instrumentation for pipeline outcomes.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the pipeline's Prometheus collectors.
type Metrics struct {
	registry *prometheus.Registry

	requestsTotal   *prometheus.CounterVec
	blockedTotal    *prometheus.CounterVec
	rateLimited     *prometheus.CounterVec
	requestDuration *prometheus.HistogramVec
}

// New creates and registers the pipeline collectors on a fresh registry.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		requestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "promptgate_requests_total",
			Help: "Pipeline requests by modality and outcome code.",
		}, []string{"modality", "outcome"}),
		blockedTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "promptgate_blocked_prompts_total",
			Help: "Prompts blocked by injection heuristics, by first matched rule.",
		}, []string{"modality", "rule"}),
		rateLimited: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "promptgate_rate_limited_total",
			Help: "Requests denied by the rate limiter, by modality and actor kind.",
		}, []string{"modality", "actor_kind"}),
		requestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "promptgate_request_duration_seconds",
			Help:    "Pipeline request duration by modality.",
			Buckets: prometheus.DefBuckets,
		}, []string{"modality"}),
	}

	m.registry.MustRegister(m.requestsTotal, m.blockedTotal, m.rateLimited, m.requestDuration)
	return m
}

// ObserveRequest records a completed pipeline invocation. outcome is "ok"
// for success or the sanitized error code.
func (m *Metrics) ObserveRequest(modality, outcome string, seconds float64) {
	m.requestsTotal.WithLabelValues(modality, outcome).Inc()
	m.requestDuration.WithLabelValues(modality).Observe(seconds)
}

// ObserveBlocked records a prompt rejected by the sanitizer.
func (m *Metrics) ObserveBlocked(modality, rule string) {
	m.blockedTotal.WithLabelValues(modality, rule).Inc()
}

// ObserveRateLimited records a limiter denial.
func (m *Metrics) ObserveRateLimited(modality, actorKind string) {
	m.rateLimited.WithLabelValues(modality, actorKind).Inc()
}

// Handler serves the /metrics endpoint for this registry.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
