// Package notify defines the notifications emitted by the policy engine and
// the Sink port that delivers them.
package notify

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/Sentinel-Gate/aipolicy/internal/domain/auth"
	"github.com/Sentinel-Gate/aipolicy/internal/domain/policy"
	"github.com/Sentinel-Gate/aipolicy/internal/domain/role"
)

// Kind names a notification. The values are part of the wire contract.
type Kind string

const (
	KindActionExecuted   Kind = "action_executed"
	KindRoleGrantedAI    Kind = "role_granted_ai"
	KindActionExecutedAI Kind = "action_executed_ai"
	KindSecurityAlert    Kind = "security_alert"
	KindAuditSubmitted   Kind = "audit_submitted"
	KindAIModelUpdated   Kind = "ai_model_updated"
)

// Kinds lists every notification kind.
func Kinds() []Kind {
	return []Kind{
		KindActionExecuted, KindRoleGrantedAI, KindActionExecutedAI,
		KindSecurityAlert, KindAuditSubmitted, KindAIModelUpdated,
	}
}

// Notification is a structured event. Only the fields relevant to Kind are set.
type Notification struct {
	ID         string    `json:"id"`
	Kind       Kind      `json:"kind"`
	OccurredAt time.Time `json:"occurred_at"`

	Caller   auth.Identity `json:"caller,omitempty"`
	User     auth.Identity `json:"user,omitempty"`
	Role     role.Tag      `json:"role,omitempty"`
	Action   string        `json:"action,omitempty"`
	Contract string        `json:"contract,omitempty"`

	Confidence          policy.Score `json:"confidence,omitempty"`
	VulnerabilityScore  policy.Score `json:"vulnerability_score,omitempty"`
	ModelVersion        string       `json:"model_version,omitempty"`
	ConfidenceThreshold policy.Score `json:"confidence_threshold,omitempty"`
	RiskThreshold       policy.Score `json:"risk_threshold,omitempty"`
}

func newNotification(kind Kind, now time.Time) Notification {
	return Notification{ID: uuid.NewString(), Kind: kind, OccurredAt: now.UTC()}
}

// ActionExecuted is emitted by the plain role-gated action.
func ActionExecuted(caller auth.Identity, required role.Tag, action string, now time.Time) Notification {
	n := newNotification(KindActionExecuted, now)
	n.Caller, n.Role, n.Action = caller, required, action
	return n
}

// RoleGrantedAI is emitted when a role is granted on an AI decision.
func RoleGrantedAI(user auth.Identity, tag role.Tag, confidence policy.Score, now time.Time) Notification {
	n := newNotification(KindRoleGrantedAI, now)
	n.User, n.Role, n.Confidence = user, tag, confidence
	return n
}

// ActionExecutedAI is emitted when an AI-validated action passes.
func ActionExecutedAI(user auth.Identity, action string, confidence policy.Score, now time.Time) Notification {
	n := newNotification(KindActionExecutedAI, now)
	n.User, n.Action, n.Confidence = user, action, confidence
	return n
}

// SecurityAlert is emitted for audits above the alert threshold.
func SecurityAlert(contract string, score policy.Score, now time.Time) Notification {
	n := newNotification(KindSecurityAlert, now)
	n.Contract, n.VulnerabilityScore = contract, score
	return n
}

// AuditSubmitted is emitted for every accepted security audit.
func AuditSubmitted(contract string, score policy.Score, now time.Time) Notification {
	n := newNotification(KindAuditSubmitted, now)
	n.Contract, n.VulnerabilityScore = contract, score
	return n
}

// AIModelUpdated is emitted after the model version and thresholds change.
func AIModelUpdated(version string, confidence, risk policy.Score, now time.Time) Notification {
	n := newNotification(KindAIModelUpdated, now)
	n.ModelVersion, n.ConfidenceThreshold, n.RiskThreshold = version, confidence, risk
	return n
}

// Fields flattens the notification for filters and structured logs. Every
// key is always present so filter expressions never hit a missing field.
func (n Notification) Fields() map[string]any {
	return map[string]any{
		"id":                   n.ID,
		"kind":                 string(n.Kind),
		"caller":               string(n.Caller),
		"user":                 string(n.User),
		"role":                 string(n.Role),
		"action":               n.Action,
		"contract":             n.Contract,
		"confidence":           int64(n.Confidence),
		"score":                int64(n.VulnerabilityScore),
		"model_version":        n.ModelVersion,
		"confidence_threshold": int64(n.ConfidenceThreshold),
		"risk_threshold":       int64(n.RiskThreshold),
	}
}

// Sink receives notifications. Emit is fire-and-forget from the engine's
// point of view: an error is reported to the caller for logging only.
type Sink interface {
	Emit(ctx context.Context, n Notification) error
}

// SinkFunc adapts a function to Sink.
type SinkFunc func(ctx context.Context, n Notification) error

// Emit calls f.
func (f SinkFunc) Emit(ctx context.Context, n Notification) error {
	return f(ctx, n)
}

// Discard drops every notification.
var Discard Sink = SinkFunc(func(context.Context, Notification) error { return nil })
