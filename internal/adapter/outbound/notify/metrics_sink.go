package notify

import (
	"context"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/Sentinel-Gate/aipolicy/internal/domain/notify"
)

// MetricsSink counts notifications by kind.
type MetricsSink struct {
	total *prometheus.CounterVec
}

// NewMetricsSink registers aipolicy_notifications_total with reg and
// pre-creates a series for every kind.
func NewMetricsSink(reg prometheus.Registerer) *MetricsSink {
	total := promauto.With(reg).NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "aipolicy",
			Name:      "notifications_total",
			Help:      "Notifications emitted by the policy engine",
		},
		[]string{"kind"},
	)
	for _, k := range notify.Kinds() {
		total.WithLabelValues(string(k))
	}
	return &MetricsSink{total: total}
}

// Emit increments the counter for n.Kind.
func (s *MetricsSink) Emit(_ context.Context, n notify.Notification) error {
	s.total.WithLabelValues(string(n.Kind)).Inc()
	return nil
}

var _ notify.Sink = (*MetricsSink)(nil)
