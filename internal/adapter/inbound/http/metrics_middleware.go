package http

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
)

// MetricsMiddleware counts and times every request except the /metrics and
// /health probes, which would otherwise dominate the series.
func MetricsMiddleware(metrics *Metrics) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			switch r.URL.Path {
			case "/metrics", "/health":
				next.ServeHTTP(w, r)
				return
			}

			timer := prometheus.NewTimer(metrics.RequestDuration.WithLabelValues(r.Method))
			rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
			next.ServeHTTP(rec, r)
			timer.ObserveDuration()

			metrics.RequestsTotal.WithLabelValues(r.Method, statusToLabel(rec.status)).Inc()
		})
	}
}

// statusRecorder remembers the status code written through it.
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

// statusToLabel buckets a status code for the requests_total status label.
// Auth and rate-limit rejections get their own buckets.
func statusToLabel(code int) string {
	switch {
	case code < http.StatusBadRequest:
		return "ok"
	case code == http.StatusUnauthorized:
		return "unauthorized"
	case code == http.StatusTooManyRequests:
		return "rate_limited"
	case code < http.StatusInternalServerError:
		return "client_error"
	default:
		return "error"
	}
}
