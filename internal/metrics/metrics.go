// Package metrics holds the gateway's Prometheus instrumentation. The
// counters are ambient observability: nothing in the request path depends
// on them, and a nil *Metrics disables collection entirely.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics bundles the gateway's collectors behind one registry so tests
// can construct isolated instances instead of fighting over the global
// default registerer.
type Metrics struct {
	registry *prometheus.Registry

	Requests            *prometheus.CounterVec
	UpstreamRetries     *prometheus.CounterVec
	CooldownActivations *prometheus.CounterVec
	StreamDuration      *prometheus.HistogramVec
}

// New constructs and registers all collectors.
func New() *Metrics {
	m := &Metrics{registry: prometheus.NewRegistry()}

	m.Requests = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "antigravity_gateway_requests_total",
		Help: "Requests served, by public dialect and final HTTP status.",
	}, []string{"dialect", "status"})

	m.UpstreamRetries = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "antigravity_gateway_upstream_retries_total",
		Help: "Upstream retries, by reason (rate_limit, empty_stream, transport).",
	}, []string{"reason"})

	m.CooldownActivations = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "antigravity_gateway_cooldown_activations_total",
		Help: "Cooldowns applied to pool accounts, by account and model.",
	}, []string{"account", "model"})

	m.StreamDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "antigravity_gateway_stream_duration_seconds",
		Help:    "Wall time of streamed responses, by dialect.",
		Buckets: prometheus.ExponentialBuckets(0.25, 2, 10),
	}, []string{"dialect"})

	m.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.Requests,
		m.UpstreamRetries,
		m.CooldownActivations,
		m.StreamDuration,
	)
	return m
}

// Handler serves the exposition endpoint.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// CountRequest is nil-safe; handlers call it unconditionally.
func (m *Metrics) CountRequest(dialect, status string) {
	if m == nil {
		return
	}
	m.Requests.WithLabelValues(dialect, status).Inc()
}

// CountRetry is nil-safe.
func (m *Metrics) CountRetry(reason string) {
	if m == nil {
		return
	}
	m.UpstreamRetries.WithLabelValues(reason).Inc()
}

// CountCooldown is nil-safe.
func (m *Metrics) CountCooldown(account, model string) {
	if m == nil {
		return
	}
	m.CooldownActivations.WithLabelValues(account, model).Inc()
}
