// Package metrics holds the Prometheus collectors of the auth server.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "replyrocket_auth"

// Outcome labels for login and refresh attempts.
const (
	OutcomeSuccess     = "success"
	OutcomeRejected    = "rejected"
	OutcomeDenied      = "denied"
	OutcomeRateLimited = "rate_limited"
	OutcomeError       = "error"
)

type Metrics struct {
	RequestCount    *prometheus.CounterVec
	RequestDuration *prometheus.HistogramVec
	Logins          *prometheus.CounterVec
	Refreshes       *prometheus.CounterVec
	Revocations     *prometheus.CounterVec
	Purged          prometheus.Counter
}

// New creates the collectors and registers them with reg.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		RequestCount: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "http_requests_total",
				Help:      "Total number of HTTP requests.",
			},
			[]string{"method", "path", "status"},
		),
		RequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "http_request_duration_seconds",
				Help:      "Duration of HTTP requests in seconds.",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"method", "path", "status"},
		),
		Logins: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "logins_total",
				Help:      "Login attempts by outcome.",
			},
			[]string{"outcome"},
		),
		Refreshes: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "refreshes_total",
				Help:      "Refresh token redemptions by outcome.",
			},
			[]string{"outcome"},
		),
		Revocations: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "refresh_tokens_revoked_total",
				Help:      "Refresh tokens revoked by reason.",
			},
			[]string{"reason"},
		),
		Purged: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "refresh_tokens_purged_total",
				Help:      "Expired refresh tokens flipped by the purge job.",
			},
		),
	}
	reg.MustRegister(m.RequestCount, m.RequestDuration, m.Logins, m.Refreshes, m.Revocations, m.Purged)
	return m
}

// ObserveRequest records one handled HTTP request.
func (m *Metrics) ObserveRequest(method, path string, status int, latency time.Duration) {
	code := strconv.Itoa(status)
	m.RequestCount.WithLabelValues(method, path, code).Inc()
	m.RequestDuration.WithLabelValues(method, path, code).Observe(latency.Seconds())
}

func Handler(g prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(g, promhttp.HandlerOpts{})
}
