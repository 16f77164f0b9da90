// Package sqlite provides a durable audit.AuditLog on modernc.org/sqlite.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	_ "modernc.org/sqlite"

	"github.com/Sentinel-Gate/aipolicy/internal/domain/audit"
	"github.com/Sentinel-Gate/aipolicy/internal/domain/auth"
	"github.com/Sentinel-Gate/aipolicy/internal/domain/policy"
)

var schema = []string{`
CREATE TABLE IF NOT EXISTS audit_entries (
	seq           INTEGER PRIMARY KEY,
	id            TEXT NOT NULL UNIQUE,
	kind          TEXT NOT NULL,
	subject       TEXT NOT NULL DEFAULT '',
	contract_hash TEXT NOT NULL DEFAULT '',
	payload       TEXT NOT NULL,
	prev_hash     TEXT NOT NULL,
	hash          TEXT NOT NULL,
	recorded_at   TEXT NOT NULL
)`,
	`CREATE INDEX IF NOT EXISTS idx_audit_entries_subject ON audit_entries (kind, subject)`,
	`CREATE INDEX IF NOT EXISTS idx_audit_entries_contract ON audit_entries (kind, contract_hash)`,
}

// AuditLog stores sealed entries one row each. The full entry is kept as a
// JSON payload; the other columns exist for lookups.
type AuditLog struct {
	db     *sql.DB
	logger *slog.Logger
	chain  *audit.Chain
	now    func() time.Time
	mu     sync.Mutex
}

// Open opens (creating if needed) the database at path and resumes the hash
// chain from its last row.
func Open(ctx context.Context, path string, logger *slog.Logger) (*AuditLog, error) {
	if logger == nil {
		logger = slog.Default()
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite %s: %w", path, err)
	}
	// A single connection serializes writers and keeps :memory: databases shared.
	db.SetMaxOpenConns(1)

	l := &AuditLog{db: db, logger: logger, now: time.Now}
	if err := l.migrate(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	if err := l.resume(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return l, nil
}

func (l *AuditLog) migrate(ctx context.Context) error {
	for _, pragma := range []string{"PRAGMA journal_mode=WAL", "PRAGMA busy_timeout=5000"} {
		if _, err := l.db.ExecContext(ctx, pragma); err != nil {
			return fmt.Errorf("%s: %w", pragma, err)
		}
	}
	for _, stmt := range schema {
		if _, err := l.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("migrate audit schema: %w", err)
		}
	}
	return nil
}

func (l *AuditLog) resume(ctx context.Context) error {
	var (
		seq  uint64
		hash string
	)
	err := l.db.QueryRowContext(ctx,
		`SELECT seq, hash FROM audit_entries ORDER BY seq DESC LIMIT 1`).Scan(&seq, &hash)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		l.chain = audit.NewChain()
	case err != nil:
		return fmt.Errorf("read chain head: %w", err)
	default:
		l.chain = audit.ResumeChain(seq, hash)
		l.logger.Debug("resumed audit chain", "seq", seq)
	}
	return nil
}

// AppendDecision records d on the global trail.
func (l *AuditLog) AppendDecision(ctx context.Context, d policy.AIDecision) (audit.Entry, error) {
	return l.append(ctx, audit.NewDecisionEntry(audit.KindGlobalDecision, auth.Anonymous, d, l.now()))
}

// AppendUserDecision records d in user's history.
func (l *AuditLog) AppendUserDecision(ctx context.Context, user auth.Identity, d policy.AIDecision) (audit.Entry, error) {
	return l.append(ctx, audit.NewDecisionEntry(audit.KindUserDecision, user, d, l.now()))
}

// AppendSecurityAudit records a.
func (l *AuditLog) AppendSecurityAudit(ctx context.Context, a audit.SecurityAudit) (audit.Entry, error) {
	return l.append(ctx, audit.NewAuditEntry(a, l.now()))
}

func (l *AuditLog) append(ctx context.Context, e audit.Entry) (audit.Entry, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.chain == nil {
		return audit.Entry{}, audit.ErrClosed
	}
	sealed, err := l.chain.Seal(e)
	if err != nil {
		return audit.Entry{}, err
	}
	payload, err := json.Marshal(sealed)
	if err != nil {
		return audit.Entry{}, fmt.Errorf("marshal entry: %w", err)
	}
	contract := ""
	if sealed.Audit != nil {
		contract = sealed.Audit.ContractHash
	}

	_, err = l.db.ExecContext(ctx, `INSERT INTO audit_entries
		(seq, id, kind, subject, contract_hash, payload, prev_hash, hash, recorded_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		int64(sealed.Seq), sealed.ID, string(sealed.Kind), string(sealed.Subject), contract,
		string(payload), sealed.PrevHash, sealed.Hash, sealed.RecordedAt.Format(time.RFC3339Nano))
	if err != nil {
		return audit.Entry{}, fmt.Errorf("insert audit entry: %w", err)
	}
	l.chain.Advance(sealed)
	return sealed, nil
}

// UserHistory returns user's decisions in append order.
func (l *AuditLog) UserHistory(ctx context.Context, user auth.Identity) ([]policy.AIDecision, error) {
	entries, err := l.query(ctx, `SELECT payload FROM audit_entries
		WHERE kind = ? AND subject = ? ORDER BY seq`, string(audit.KindUserDecision), string(user))
	if err != nil {
		return nil, err
	}
	out := make([]policy.AIDecision, 0, len(entries))
	for _, e := range entries {
		if e.Decision == nil {
			return nil, fmt.Errorf("audit entry %d: missing decision", e.Seq)
		}
		out = append(out, *e.Decision)
	}
	return out, nil
}

// SecurityAuditsFor returns matching audits in append order. SQLite's
// default BINARY collation makes the comparison byte-exact.
func (l *AuditLog) SecurityAuditsFor(ctx context.Context, contractHash string, page audit.Page) ([]audit.SecurityAudit, error) {
	limit := int64(-1)
	if page.Limit > 0 {
		limit = int64(page.Limit)
	}
	offset := int64(0)
	if page.Offset > 0 {
		offset = int64(page.Offset)
	}
	entries, err := l.query(ctx, `SELECT payload FROM audit_entries
		WHERE kind = ? AND contract_hash = ? ORDER BY seq LIMIT ? OFFSET ?`,
		string(audit.KindSecurityAudit), contractHash, limit, offset)
	if err != nil {
		return nil, err
	}
	out := make([]audit.SecurityAudit, 0, len(entries))
	for _, e := range entries {
		if e.Audit == nil {
			return nil, fmt.Errorf("audit entry %d: missing security audit", e.Seq)
		}
		out = append(out, *e.Audit)
	}
	return out, nil
}

// Stats counts entries per kind.
func (l *AuditLog) Stats(ctx context.Context) (audit.Stats, error) {
	rows, err := l.db.QueryContext(ctx, `SELECT kind, COUNT(*) FROM audit_entries GROUP BY kind`)
	if err != nil {
		return audit.Stats{}, fmt.Errorf("count audit entries: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var stats audit.Stats
	for rows.Next() {
		var (
			kind string
			n    int
		)
		if err := rows.Scan(&kind, &n); err != nil {
			return audit.Stats{}, err
		}
		switch audit.Kind(kind) {
		case audit.KindGlobalDecision:
			stats.GlobalDecisions = n
		case audit.KindUserDecision:
			stats.UserDecisions = n
		case audit.KindSecurityAudit:
			stats.SecurityAudits = n
		}
	}
	return stats, rows.Err()
}

// Entries returns every entry in sequence order.
func (l *AuditLog) Entries(ctx context.Context) ([]audit.Entry, error) {
	return l.query(ctx, `SELECT payload FROM audit_entries ORDER BY seq`)
}

// Verify recomputes the hash chain over every stored entry.
func (l *AuditLog) Verify(ctx context.Context) error {
	entries, err := l.Entries(ctx)
	if err != nil {
		return err
	}
	return audit.VerifyChain(entries)
}

// Close closes the database. Later appends fail with audit.ErrClosed.
func (l *AuditLog) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.chain == nil {
		return nil
	}
	l.chain = nil
	return l.db.Close()
}

func (l *AuditLog) query(ctx context.Context, query string, args ...any) ([]audit.Entry, error) {
	rows, err := l.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query audit entries: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var entries []audit.Entry
	for rows.Next() {
		var payload string
		if err := rows.Scan(&payload); err != nil {
			return nil, err
		}
		var e audit.Entry
		if err := json.Unmarshal([]byte(payload), &e); err != nil {
			return nil, fmt.Errorf("decode audit entry: %w", err)
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

var _ audit.AuditLog = (*AuditLog)(nil)
