// Package metrics holds the gateway's Prometheus collectors. Each Metrics
// owns its registry so tests and multiple servers never collide.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type Metrics struct {
	registry *prometheus.Registry

	RequestsTotal   *prometheus.CounterVec
	RequestDuration *prometheus.HistogramVec

	UpstreamErrorsTotal *prometheus.CounterVec
	SessionTokensTotal  prometheus.Counter
	RateLimitHits       prometheus.Counter
}

func New(namespace string) *Metrics {
	if namespace == "" {
		namespace = "vai_agents"
	}

	registry := prometheus.NewRegistry()

	requestsTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "requests_total",
			Help:      "Total number of gateway requests",
		},
		[]string{"route", "method", "status"},
	)

	requestDuration := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "request_duration_seconds",
			Help:      "Request duration in seconds",
			Buckets:   []float64{0.05, 0.1, 0.5, 1, 2, 5, 10, 30, 60},
		},
		[]string{"route"},
	)

	upstreamErrors := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "upstream_errors_total",
			Help:      "Upstream calls that failed or answered non-2xx",
		},
		[]string{"route", "kind"},
	)

	sessionTokens := prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "session_tokens_minted_total",
			Help:      "Ephemeral realtime session keys minted",
		},
	)

	rateLimitHits := prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rate_limit_hits_total",
			Help:      "Requests rejected by the per-principal limiter",
		},
	)

	registry.MustRegister(
		requestsTotal,
		requestDuration,
		upstreamErrors,
		sessionTokens,
		rateLimitHits,
	)

	return &Metrics{
		registry:            registry,
		RequestsTotal:       requestsTotal,
		RequestDuration:     requestDuration,
		UpstreamErrorsTotal: upstreamErrors,
		SessionTokensTotal:  sessionTokens,
		RateLimitHits:       rateLimitHits,
	}
}

// Handler serves the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

func (m *Metrics) RecordRequest(route, method string, status int, duration time.Duration) {
	if m == nil {
		return
	}
	m.RequestsTotal.WithLabelValues(route, method, strconv.Itoa(status)).Inc()
	m.RequestDuration.WithLabelValues(route).Observe(duration.Seconds())
}

// RecordUpstreamError: kind is "transport" or "status".
func (m *Metrics) RecordUpstreamError(route, kind string) {
	if m == nil {
		return
	}
	m.UpstreamErrorsTotal.WithLabelValues(route, kind).Inc()
}

func (m *Metrics) RecordSessionToken() {
	if m == nil {
		return
	}
	m.SessionTokensTotal.Inc()
}

func (m *Metrics) RecordRateLimitHit() {
	if m == nil {
		return
	}
	m.RateLimitHits.Inc()
}
