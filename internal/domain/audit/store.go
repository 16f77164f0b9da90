package audit

import (
	"context"
	"errors"

	"github.com/Sentinel-Gate/aipolicy/internal/domain/auth"
	"github.com/Sentinel-Gate/aipolicy/internal/domain/policy"
)

// ErrClosed is returned by appends after Close.
var ErrClosed = errors.New("audit log closed")

// AuditLog is the append-only trail. Appends seal the entry into the hash
// chain and return it; a failed append leaves the trail unchanged.
type AuditLog interface {
	// AppendDecision records a decision on the global trail.
	AppendDecision(ctx context.Context, d policy.AIDecision) (Entry, error)
	// AppendUserDecision records a decision in user's history.
	AppendUserDecision(ctx context.Context, user auth.Identity, d policy.AIDecision) (Entry, error)
	// AppendSecurityAudit records a security audit.
	AppendSecurityAudit(ctx context.Context, a SecurityAudit) (Entry, error)

	// UserHistory returns user's decisions in append order.
	UserHistory(ctx context.Context, user auth.Identity) ([]policy.AIDecision, error)
	// SecurityAuditsFor returns the audits whose contract hash equals
	// contractHash byte for byte, in append order.
	SecurityAuditsFor(ctx context.Context, contractHash string, page Page) ([]SecurityAudit, error)
	// Stats counts entries per kind.
	Stats(ctx context.Context) (Stats, error)
	// Verify recomputes the hash chain over every entry.
	Verify(ctx context.Context) error

	Close() error
}
