// Package audit contains the append-only audit trail: AI decisions, security
// audits, and the hash chain that makes the trail tamper-evident.
package audit

import (
	"time"

	"github.com/google/uuid"

	"github.com/Sentinel-Gate/aipolicy/internal/domain/auth"
	"github.com/Sentinel-Gate/aipolicy/internal/domain/policy"
)

// AlertThreshold is the vulnerability score above which a submitted audit
// raises a security alert. It is fixed and independent of the adjustable
// policy thresholds.
const AlertThreshold policy.Score = 7000

// Kind classifies an audit trail entry.
type Kind string

const (
	// KindGlobalDecision is an AI decision accepted for a gated action.
	KindGlobalDecision Kind = "global_decision"
	// KindUserDecision is an AI decision accepted for a subject's role grant.
	KindUserDecision Kind = "user_decision"
	// KindSecurityAudit is a submitted security audit.
	KindSecurityAudit Kind = "security_audit"
)

// SecurityAudit is an auditor's vulnerability assessment of a contract or
// other target. Appended once, never mutated or deleted.
type SecurityAudit struct {
	ContractHash       string        `json:"contract_hash"`
	VulnerabilityScore policy.Score  `json:"vulnerability_score"`
	Analysis           string        `json:"analysis"`
	Recommendations    string        `json:"recommendations"`
	Auditor            auth.Identity `json:"auditor"`
	Timestamp          time.Time     `json:"timestamp"`
}

// IsAlert reports whether the audit crosses AlertThreshold.
func (a SecurityAudit) IsAlert() bool {
	return a.VulnerabilityScore > AlertThreshold
}

// Entry is one sealed record of the audit trail. Decision is set for the two
// decision kinds and Audit for security audits.
type Entry struct {
	Seq        uint64             `json:"seq"`
	ID         string             `json:"id"`
	Kind       Kind               `json:"kind"`
	Subject    auth.Identity      `json:"subject,omitempty"`
	Decision   *policy.AIDecision `json:"decision,omitempty"`
	Audit      *SecurityAudit     `json:"audit,omitempty"`
	RecordedAt time.Time          `json:"recorded_at"`
	PrevHash   string             `json:"prev_hash"`
	Hash       string             `json:"hash,omitempty"`
}

// NewDecisionEntry creates an unsealed entry for an accepted AI decision.
// subject is empty for global decisions.
func NewDecisionEntry(kind Kind, subject auth.Identity, d policy.AIDecision, now time.Time) Entry {
	return Entry{
		ID:         uuid.NewString(),
		Kind:       kind,
		Subject:    subject,
		Decision:   &d,
		RecordedAt: now.UTC(),
	}
}

// NewAuditEntry creates an unsealed entry for a security audit.
func NewAuditEntry(a SecurityAudit, now time.Time) Entry {
	return Entry{
		ID:         uuid.NewString(),
		Kind:       KindSecurityAudit,
		Subject:    a.Auditor,
		Audit:      &a,
		RecordedAt: now.UTC(),
	}
}

// Stats counts the entries of each kind.
type Stats struct {
	GlobalDecisions int `json:"global_decisions"`
	UserDecisions   int `json:"user_decisions"`
	SecurityAudits  int `json:"security_audits"`
}

// Count bumps the counter for kind.
func (s *Stats) Count(kind Kind) {
	switch kind {
	case KindGlobalDecision:
		s.GlobalDecisions++
	case KindUserDecision:
		s.UserDecisions++
	case KindSecurityAudit:
		s.SecurityAudits++
	}
}

// Page selects a window of an ordered result. A zero Limit means no limit.
type Page struct {
	Offset int
	Limit  int
}

// Bounds returns the half-open slice range of the page over n items.
func (p Page) Bounds(n int) (start, end int) {
	start = p.Offset
	if start < 0 {
		start = 0
	}
	if start > n {
		start = n
	}
	end = n
	if p.Limit > 0 && start+p.Limit < n {
		end = start + p.Limit
	}
	return start, end
}
