package http

import (
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestMetricsRecording(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMetrics(reg)

	m.RequestsTotal.WithLabelValues("POST", "ok").Inc()
	if got := testutil.ToFloat64(m.RequestsTotal.WithLabelValues("POST", "ok")); got != 1 {
		t.Errorf("RequestsTotal = %v, want 1", got)
	}

	m.PolicyDecisions.WithLabelValues("grantRoleWithAI", "insufficient_confidence").Add(2)
	if got := testutil.ToFloat64(m.PolicyDecisions.WithLabelValues("grantRoleWithAI", "insufficient_confidence")); got != 2 {
		t.Errorf("PolicyDecisions = %v, want 2", got)
	}

	m.RateLimitKeys.Set(5)
	if got := testutil.ToFloat64(m.RateLimitKeys); got != 5 {
		t.Errorf("RateLimitKeys = %v, want 5", got)
	}

	m.RequestDuration.WithLabelValues("POST").Observe(0.1)
	gathered, err := reg.Gather()
	if err != nil {
		t.Fatalf("Failed to gather metrics: %v", err)
	}
	found := false
	for _, mf := range gathered {
		if strings.Contains(mf.GetName(), "request_duration") {
			found = true
			break
		}
	}
	if !found {
		t.Error("request_duration histogram not found in gathered metrics")
	}
}

func TestNewMetrics_DuplicateRegistrationPanics(t *testing.T) {
	reg := prometheus.NewRegistry()
	NewMetrics(reg)

	defer func() {
		if recover() == nil {
			t.Error("expected panic on duplicate registration")
		}
	}()
	NewMetrics(reg)
}
