package memory

import (
	"context"
	"sync"
	"time"

	"github.com/cespare/xxhash/v2"

	"github.com/Sentinel-Gate/aipolicy/internal/domain/audit"
	"github.com/Sentinel-Gate/aipolicy/internal/domain/auth"
	"github.com/Sentinel-Gate/aipolicy/internal/domain/policy"
)

// AuditLog implements audit.AuditLog as an in-process slice of sealed
// entries. Security audits are indexed by the xxhash of their contract hash;
// bucket hits are confirmed by byte equality. Thread-safe for concurrent access.
type AuditLog struct {
	entries    []audit.Entry
	chain      *audit.Chain
	byUser     map[auth.Identity][]int
	byContract map[uint64][]int
	stats      audit.Stats
	closed     bool
	now        func() time.Time
	mu         sync.RWMutex
}

// NewAuditLog creates an empty audit log.
func NewAuditLog() *AuditLog {
	return &AuditLog{
		chain:      audit.NewChain(),
		byUser:     make(map[auth.Identity][]int),
		byContract: make(map[uint64][]int),
		now:        time.Now,
	}
}

// AppendDecision records d on the global trail.
func (l *AuditLog) AppendDecision(_ context.Context, d policy.AIDecision) (audit.Entry, error) {
	return l.append(audit.NewDecisionEntry(audit.KindGlobalDecision, auth.Anonymous, d, l.now()))
}

// AppendUserDecision records d in user's history.
func (l *AuditLog) AppendUserDecision(_ context.Context, user auth.Identity, d policy.AIDecision) (audit.Entry, error) {
	return l.append(audit.NewDecisionEntry(audit.KindUserDecision, user, d, l.now()))
}

// AppendSecurityAudit records a.
func (l *AuditLog) AppendSecurityAudit(_ context.Context, a audit.SecurityAudit) (audit.Entry, error) {
	return l.append(audit.NewAuditEntry(a, l.now()))
}

func (l *AuditLog) append(e audit.Entry) (audit.Entry, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.closed {
		return audit.Entry{}, audit.ErrClosed
	}
	sealed, err := l.chain.Seal(e)
	if err != nil {
		return audit.Entry{}, err
	}
	l.chain.Advance(sealed)

	idx := len(l.entries)
	l.entries = append(l.entries, sealed)
	l.stats.Count(sealed.Kind)
	switch sealed.Kind {
	case audit.KindUserDecision:
		l.byUser[sealed.Subject] = append(l.byUser[sealed.Subject], idx)
	case audit.KindSecurityAudit:
		key := xxhash.Sum64String(sealed.Audit.ContractHash)
		l.byContract[key] = append(l.byContract[key], idx)
	}
	return sealed, nil
}

// UserHistory returns user's decisions in append order.
func (l *AuditLog) UserHistory(_ context.Context, user auth.Identity) ([]policy.AIDecision, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	idxs := l.byUser[user]
	out := make([]policy.AIDecision, 0, len(idxs))
	for _, i := range idxs {
		out = append(out, *l.entries[i].Decision)
	}
	return out, nil
}

// SecurityAuditsFor returns the matching audits in append order.
func (l *AuditLog) SecurityAuditsFor(_ context.Context, contractHash string, page audit.Page) ([]audit.SecurityAudit, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	matches := make([]audit.SecurityAudit, 0)
	for _, i := range l.byContract[xxhash.Sum64String(contractHash)] {
		if a := l.entries[i].Audit; a.ContractHash == contractHash {
			matches = append(matches, *a)
		}
	}
	start, end := page.Bounds(len(matches))
	return matches[start:end], nil
}

// Stats counts entries per kind.
func (l *AuditLog) Stats(_ context.Context) (audit.Stats, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.stats, nil
}

// Entries returns a copy of every sealed entry in sequence order.
func (l *AuditLog) Entries() []audit.Entry {
	l.mu.RLock()
	defer l.mu.RUnlock()
	out := make([]audit.Entry, len(l.entries))
	copy(out, l.entries)
	return out
}

// Verify recomputes the hash chain.
func (l *AuditLog) Verify(_ context.Context) error {
	return audit.VerifyChain(l.Entries())
}

// Close rejects further appends. Reads keep working.
func (l *AuditLog) Close() error {
	l.mu.Lock()
	l.closed = true
	l.mu.Unlock()
	return nil
}

var _ audit.AuditLog = (*AuditLog)(nil)
