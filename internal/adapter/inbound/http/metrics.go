package http

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics for aipolicy.
// Pass to components that need to record metrics.
type Metrics struct {
	RequestsTotal     *prometheus.CounterVec
	RequestDuration   *prometheus.HistogramVec
	RPCCalls          *prometheus.CounterVec
	PolicyDecisions   *prometheus.CounterVec
	NotificationDrops *prometheus.CounterVec
	RateLimitedTotal  prometheus.Counter
	RateLimitKeys     prometheus.Gauge
	AuthFailuresTotal prometheus.Counter
}

// NewMetrics creates and registers all metrics with the given registry.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	return &Metrics{
		RequestsTotal: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "aipolicy",
				Name:      "requests_total",
				Help:      "Total number of HTTP requests processed",
			},
			[]string{"method", "status"}, // status: ok, unauthorized, rate_limited, client_error, error
		),
		RequestDuration: promauto.With(reg).NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: "aipolicy",
				Name:      "request_duration_seconds",
				Help:      "Request duration in seconds",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"method"},
		),
		RPCCalls: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "aipolicy",
				Name:      "rpc_calls_total",
				Help:      "JSON-RPC calls by method and outcome",
			},
			[]string{"method", "outcome"},
		),
		PolicyDecisions: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "aipolicy",
				Name:      "policy_decisions_total",
				Help:      "Engine operations by outcome (ok or rejection code)",
			},
			[]string{"op", "outcome"},
		),
		NotificationDrops: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "aipolicy",
				Name:      "notification_drops_total",
				Help:      "Notifications dropped due to backpressure",
			},
			[]string{"kind"},
		),
		RateLimitedTotal: promauto.With(reg).NewCounter(
			prometheus.CounterOpts{
				Namespace: "aipolicy",
				Name:      "rate_limited_total",
				Help:      "Requests refused by the rate limiter",
			},
		),
		RateLimitKeys: promauto.With(reg).NewGauge(
			prometheus.GaugeOpts{
				Namespace: "aipolicy",
				Name:      "rate_limit_keys",
				Help:      "Number of active rate limit keys",
			},
		),
		AuthFailuresTotal: promauto.With(reg).NewCounter(
			prometheus.CounterOpts{
				Namespace: "aipolicy",
				Name:      "auth_failures_total",
				Help:      "Requests rejected for invalid credentials",
			},
		),
	}
}
