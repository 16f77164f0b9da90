package http

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"runtime"
	"time"

	"github.com/Sentinel-Gate/aipolicy/internal/adapter/outbound/memory"
	"github.com/Sentinel-Gate/aipolicy/internal/service"
)

// HealthResponse is the JSON response from the /health endpoint.
type HealthResponse struct {
	Status  string            `json:"status"`            // "healthy" or "unhealthy"
	Checks  map[string]string `json:"checks"`            // Component check results
	Version string            `json:"version,omitempty"` // Optional version info
}

// TrailVerifier checks the integrity of the audit hash chain.
type TrailVerifier interface {
	VerifyTrail(ctx context.Context) error
}

// CommitReporter reports failed state snapshot saves. The engine passed as
// the TrailVerifier usually implements it too.
type CommitReporter interface {
	CommitStatus() (failures int64, last error)
}

// HealthChecker verifies component health.
type HealthChecker struct {
	trail         TrailVerifier
	rateLimiter   *memory.RateLimiter
	notifications *service.NotificationService
	version       string
}

// NewHealthChecker creates a HealthChecker with optional components.
// Pass nil for components that aren't available.
func NewHealthChecker(
	trail TrailVerifier,
	rateLimiter *memory.RateLimiter,
	notifications *service.NotificationService,
	version string,
) *HealthChecker {
	return &HealthChecker{
		trail:         trail,
		rateLimiter:   rateLimiter,
		notifications: notifications,
		version:       version,
	}
}

// Check performs health checks on all components.
func (h *HealthChecker) Check(ctx context.Context) HealthResponse {
	checks := make(map[string]string)
	healthy := true

	if h.trail != nil {
		if err := h.trail.VerifyTrail(ctx); err != nil {
			checks["audit_trail"] = "broken: " + err.Error()
			healthy = false
		} else {
			checks["audit_trail"] = "ok"
		}
	} else {
		checks["audit_trail"] = "not configured"
	}

	if cr, ok := h.trail.(CommitReporter); ok {
		if n, err := cr.CommitStatus(); err != nil {
			checks["state_sync"] = fmt.Sprintf("failing: %d failed saves (last: %v)", n, err)
			healthy = false
		} else {
			checks["state_sync"] = "ok"
		}
	}

	if h.rateLimiter != nil {
		checks["rate_limiter"] = fmt.Sprintf("ok: %d keys", h.rateLimiter.Size())
	} else {
		checks["rate_limiter"] = "not configured"
	}

	if h.notifications != nil {
		depth := h.notifications.ChannelDepth()
		capacity := h.notifications.ChannelCapacity()
		percentFull := 0
		if capacity > 0 {
			percentFull = depth * 100 / capacity
		}

		// >90% full means subscribers are not keeping up
		if percentFull > 90 {
			checks["notifications"] = fmt.Sprintf("degraded: %d/%d (%d%%)", depth, capacity, percentFull)
			healthy = false
		} else {
			checks["notifications"] = fmt.Sprintf("ok: %d/%d (%d%%)", depth, capacity, percentFull)
		}

		if drops := h.notifications.DroppedNotifications(); drops > 0 {
			checks["notification_drops"] = fmt.Sprintf("%d dropped", drops)
		}
	} else {
		checks["notifications"] = "not configured"
	}

	checks["goroutines"] = fmt.Sprintf("%d", runtime.NumGoroutine())

	status := "healthy"
	if !healthy {
		status = "unhealthy"
	}

	return HealthResponse{
		Status:  status,
		Checks:  checks,
		Version: h.version,
	}
}

// Handler returns an HTTP handler for the health endpoint.
func (h *HealthChecker) Handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
		defer cancel()
		health := h.Check(ctx)

		w.Header().Set("Content-Type", "application/json")
		if health.Status != "healthy" {
			w.WriteHeader(http.StatusServiceUnavailable)
		} else {
			w.WriteHeader(http.StatusOK)
		}

		_ = json.NewEncoder(w).Encode(health)
	})
}
