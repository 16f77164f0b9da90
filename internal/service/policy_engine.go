package service

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/Sentinel-Gate/aipolicy/internal/domain/audit"
	"github.com/Sentinel-Gate/aipolicy/internal/domain/auth"
	"github.com/Sentinel-Gate/aipolicy/internal/domain/notify"
	"github.com/Sentinel-Gate/aipolicy/internal/domain/policy"
	"github.com/Sentinel-Gate/aipolicy/internal/domain/role"
)

const tracerName = "github.com/Sentinel-Gate/aipolicy/internal/service"

// Operation names, shared by spans, logs and metrics.
const (
	OpInit                    = "init"
	OpSetOracle               = "setOracle"
	OpGrantRole               = "grantRole"
	OpGrantRoleWithAI         = "grantRoleWithAI"
	OpRevokeRole              = "revokeRole"
	OpExecuteAction           = "executeAction"
	OpExecuteWithAIValidation = "executeWithAIValidation"
	OpSubmitSecurityAudit     = "submitSecurityAudit"
	OpUpdateAIModel           = "updateAIModel"
)

// Outcome labels reported to the operation observer besides policy codes.
const (
	OutcomeOK    = "ok"
	OutcomeError = "error"
)

// AIMetrics summarizes the model in use and the size of the audit trail.
type AIMetrics struct {
	ModelVersion         string       `json:"model_version"`
	ConfidenceThreshold  policy.Score `json:"confidence_threshold"`
	TotalGlobalDecisions int          `json:"total_global_decisions"`
	TotalAudits          int          `json:"total_audits"`
}

// Thresholds is the pair of adjustable gates.
type Thresholds struct {
	Confidence policy.Score `json:"confidence_threshold"`
	Risk       policy.Score `json:"risk_threshold"`
}

// PolicyEngine gates role changes and actions on role membership and oracle
// decisions. Operations run one at a time: every check happens before the
// first write, so a rejected call leaves no trace.
type PolicyEngine struct {
	roles  role.RoleStore
	params policy.ParameterStore
	trail  audit.AuditLog
	sink   notify.Sink
	logger *slog.Logger

	tracer   trace.Tracer
	now      func() time.Time
	onCommit func(ctx context.Context) error
	observe  func(op, outcome string)

	mu sync.Mutex // execution lane

	// Guarded by mu. lastCommitErr is nil once a later commit succeeds.
	commitFailures int64
	lastCommitErr  error
}

// EngineOption configures a PolicyEngine.
type EngineOption func(*PolicyEngine)

// WithCommitHook runs fn, under the engine lock, after every successful
// mutating operation. A hook error is logged and counted (see CommitStatus);
// the operation still succeeds.
func WithCommitHook(fn func(ctx context.Context) error) EngineOption {
	return func(e *PolicyEngine) { e.onCommit = fn }
}

// WithTracer replaces the global tracer.
func WithTracer(t trace.Tracer) EngineOption {
	return func(e *PolicyEngine) { e.tracer = t }
}

// WithClock sets the time source for audit timestamps.
func WithClock(now func() time.Time) EngineOption {
	return func(e *PolicyEngine) { e.now = now }
}

// WithOperationObserver is called once per mutating operation with its
// outcome: OutcomeOK, a policy code, or OutcomeError.
func WithOperationObserver(fn func(op, outcome string)) EngineOption {
	return func(e *PolicyEngine) { e.observe = fn }
}

// NewPolicyEngine creates an engine over the given stores. A nil sink
// discards notifications.
func NewPolicyEngine(
	roles role.RoleStore,
	params policy.ParameterStore,
	trail audit.AuditLog,
	sink notify.Sink,
	logger *slog.Logger,
	opts ...EngineOption,
) *PolicyEngine {
	if sink == nil {
		sink = notify.Discard
	}
	e := &PolicyEngine{
		roles:  roles,
		params: params,
		trail:  trail,
		sink:   sink,
		logger: logger,
		tracer: otel.Tracer(tracerName),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// mutate runs fn inside the execution lane with a span, logs the outcome and
// runs the commit hook on success.
func (e *PolicyEngine) mutate(ctx context.Context, op string, caller auth.Identity, fn func(ctx context.Context) error) error {
	ctx, span := e.tracer.Start(ctx, "policy."+op,
		trace.WithAttributes(
			attribute.String("aipolicy.op", op),
			attribute.String("aipolicy.caller", caller.String()),
		))
	defer span.End()

	e.mu.Lock()
	defer e.mu.Unlock()

	err := fn(ctx)
	outcome := OutcomeOK
	switch {
	case err == nil:
		e.logger.Debug("operation applied", "op", op, "caller", caller)
		if e.onCommit != nil {
			cerr := e.onCommit(ctx)
			e.lastCommitErr = cerr
			if cerr != nil {
				e.commitFailures++
				e.logger.Error("commit hook failed", "op", op, "failures", e.commitFailures, "error", cerr)
				span.AddEvent("commit hook failed", trace.WithAttributes(attribute.String("error", cerr.Error())))
			}
		}
	case policy.Code(err) != "":
		outcome = policy.Code(err)
		e.logger.Info("operation rejected", "op", op, "caller", caller, "reason", err)
		span.SetAttributes(attribute.String("aipolicy.rejection", outcome))
	default:
		outcome = OutcomeError
		e.logger.Error("operation failed", "op", op, "caller", caller, "error", err)
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	if e.observe != nil {
		e.observe(op, outcome)
	}
	return err
}

// CommitStatus returns how many commit hooks have failed since start and the
// error of the most recent one, or nil when the latest commit succeeded. A
// non-nil error means the durable snapshot is behind the audit trail.
func (e *PolicyEngine) CommitStatus() (failures int64, last error) {
	e.view(func() {
		failures, last = e.commitFailures, e.lastCommitErr
	})
	return failures, last
}

// view runs fn inside the execution lane so reads see a consistent state.
func (e *PolicyEngine) view(fn func()) {
	e.mu.Lock()
	defer e.mu.Unlock()
	fn()
}

func (e *PolicyEngine) emit(ctx context.Context, n notify.Notification) {
	if err := e.sink.Emit(ctx, n); err != nil {
		e.logger.Warn("notification not delivered", "kind", n.Kind, "id", n.ID, "error", err)
	}
}

// requireOwnerOrOracle fails unless caller is the stored owner or oracle.
func (e *PolicyEngine) requireOwnerOrOracle(caller auth.Identity) error {
	p := e.params.Parameters()
	if !p.Initialized() {
		return policy.ErrNotInitialized
	}
	if caller.IsAnonymous() || (caller != p.Owner && caller != p.Oracle) {
		return fmt.Errorf("%w: %q is neither owner nor oracle", policy.ErrUnauthorized, caller)
	}
	return nil
}

func (e *PolicyEngine) requireOwner(caller auth.Identity) error {
	p := e.params.Parameters()
	if !p.Initialized() {
		return policy.ErrNotInitialized
	}
	if caller.IsAnonymous() || caller != p.Owner {
		return fmt.Errorf("%w: %q is not the owner", policy.ErrUnauthorized, caller)
	}
	return nil
}

// requireRole fails unless caller holds tag.
func (e *PolicyEngine) requireRole(caller auth.Identity, tag role.Tag) error {
	if caller.IsAnonymous() || !e.roles.HasRole(caller, tag) {
		return fmt.Errorf("%w: %q lacks %q", policy.ErrMissingRole, caller, tag)
	}
	return nil
}

// checkRisk fails when d carries more risk than the configured ceiling.
func (e *PolicyEngine) checkRisk(d policy.AIDecision) error {
	if ceiling := e.params.Parameters().MaxRiskThreshold; d.Risk > ceiling {
		return fmt.Errorf("%w: risk %s above %s", policy.ErrExcessiveRisk, d.Risk, ceiling)
	}
	return nil
}

// checkScores rejects decisions whose scores lie outside [0, MaxScore].
func checkScores(d policy.AIDecision) error {
	if !d.Confidence.Valid() || !d.Risk.Valid() {
		return fmt.Errorf("%w: decision scores %d/%d exceed %d",
			policy.ErrInvalidRange, d.Confidence, d.Risk, policy.MaxScore)
	}
	return nil
}

// stamp fills a timestamp the oracle left blank. The model version is
// recorded exactly as the oracle sent it, empty included.
func (e *PolicyEngine) stamp(d policy.AIDecision) policy.AIDecision {
	if d.Timestamp.IsZero() {
		d.Timestamp = e.now().UTC()
	}
	return d
}

// Init makes caller the owner, stores oracle and sets the default model
// version and thresholds. It succeeds exactly once.
func (e *PolicyEngine) Init(ctx context.Context, caller, oracle auth.Identity) error {
	return e.mutate(ctx, OpInit, caller, func(context.Context) error {
		if e.params.Parameters().Initialized() {
			return policy.ErrAlreadyInitialized
		}
		if caller.IsAnonymous() {
			return fmt.Errorf("%w: owner must be authenticated", policy.ErrUnauthorized)
		}
		return e.params.Reset(policy.InitialParameters(caller, oracle))
	})
}

// SetOracle rotates the oracle identity. Only the owner may do this.
func (e *PolicyEngine) SetOracle(ctx context.Context, caller, oracle auth.Identity) error {
	return e.mutate(ctx, OpSetOracle, caller, func(context.Context) error {
		if err := e.requireOwner(caller); err != nil {
			return err
		}
		e.params.SetOracle(oracle)
		return nil
	})
}

// GrantRole gives user the free-form tag.
func (e *PolicyEngine) GrantRole(ctx context.Context, caller, user auth.Identity, tag role.Tag) error {
	return e.mutate(ctx, OpGrantRole, caller, func(context.Context) error {
		if err := e.requireOwnerOrOracle(caller); err != nil {
			return err
		}
		e.roles.Grant(user, tag)
		return nil
	})
}

// GrantRoleWithAI grants r to user when d clears the role's confidence floor
// and the risk ceiling. The decision is appended to user's history.
func (e *PolicyEngine) GrantRoleWithAI(ctx context.Context, caller, user auth.Identity, r role.Role, d policy.AIDecision) error {
	return e.mutate(ctx, OpGrantRoleWithAI, caller, func(ctx context.Context) error {
		if err := e.requireOwnerOrOracle(caller); err != nil {
			return err
		}
		if !r.Valid() {
			return fmt.Errorf("unknown role %s", r)
		}
		if err := checkScores(d); err != nil {
			return err
		}
		if floor := policy.MinConfidenceFor(r); d.Confidence < floor {
			return fmt.Errorf("%w: confidence %s below %s required for %s",
				policy.ErrInsufficientConfidence, d.Confidence, floor, r)
		}
		if err := e.checkRisk(d); err != nil {
			return err
		}

		d = e.stamp(d)
		if _, err := e.trail.AppendUserDecision(ctx, user, d); err != nil {
			return fmt.Errorf("append user decision: %w", err)
		}
		tag := r.Tag()
		e.roles.Grant(user, tag)
		e.emit(ctx, notify.RoleGrantedAI(user, tag, d.Confidence, e.now()))
		return nil
	})
}

// RevokeRole removes tag from user.
func (e *PolicyEngine) RevokeRole(ctx context.Context, caller, user auth.Identity, tag role.Tag) error {
	return e.mutate(ctx, OpRevokeRole, caller, func(context.Context) error {
		if err := e.requireOwnerOrOracle(caller); err != nil {
			return err
		}
		e.roles.Revoke(user, tag)
		return nil
	})
}

// ExecuteAction lets a holder of required run action. It records nothing;
// the action_executed notification is its only effect.
func (e *PolicyEngine) ExecuteAction(ctx context.Context, caller auth.Identity, required role.Tag, action string) error {
	return e.mutate(ctx, OpExecuteAction, caller, func(ctx context.Context) error {
		if err := e.requireRole(caller, required); err != nil {
			return err
		}
		e.emit(ctx, notify.ActionExecuted(caller, required, action, e.now()))
		return nil
	})
}

// ExecuteWithAIValidation runs action when caller holds required and d clears
// the global confidence threshold and the risk ceiling. The role check comes
// first.
func (e *PolicyEngine) ExecuteWithAIValidation(ctx context.Context, caller auth.Identity, action string, required role.Tag, d policy.AIDecision) error {
	return e.mutate(ctx, OpExecuteWithAIValidation, caller, func(ctx context.Context) error {
		if err := e.requireRole(caller, required); err != nil {
			return err
		}
		if err := checkScores(d); err != nil {
			return err
		}
		if threshold := e.params.Parameters().SecurityThreshold; d.Confidence < threshold {
			return fmt.Errorf("%w: confidence %s below security threshold %s",
				policy.ErrInsufficientConfidence, d.Confidence, threshold)
		}
		if err := e.checkRisk(d); err != nil {
			return err
		}

		d = e.stamp(d)
		if _, err := e.trail.AppendDecision(ctx, d); err != nil {
			return fmt.Errorf("append decision: %w", err)
		}
		e.emit(ctx, notify.ActionExecutedAI(caller, action, d.Confidence, e.now()))
		return nil
	})
}

// SubmitSecurityAudit stores a by an auditor. Audits above
// audit.AlertThreshold raise security_alert before audit_submitted.
func (e *PolicyEngine) SubmitSecurityAudit(ctx context.Context, caller auth.Identity, a audit.SecurityAudit) error {
	return e.mutate(ctx, OpSubmitSecurityAudit, caller, func(ctx context.Context) error {
		if err := e.requireRole(caller, role.Auditor.Tag()); err != nil {
			return err
		}
		now := e.now()
		a.Auditor = caller
		a.Timestamp = now.UTC()
		if _, err := e.trail.AppendSecurityAudit(ctx, a); err != nil {
			return fmt.Errorf("append security audit: %w", err)
		}
		if a.IsAlert() {
			e.emit(ctx, notify.SecurityAlert(a.ContractHash, a.VulnerabilityScore, now))
		}
		e.emit(ctx, notify.AuditSubmitted(a.ContractHash, a.VulnerabilityScore, now))
		return nil
	})
}

// UpdateAIModel sets the model version and both thresholds. Out of range
// thresholds leave all three unchanged.
func (e *PolicyEngine) UpdateAIModel(ctx context.Context, caller auth.Identity, version string, confidence, risk policy.Score) error {
	return e.mutate(ctx, OpUpdateAIModel, caller, func(ctx context.Context) error {
		if err := e.requireOwnerOrOracle(caller); err != nil {
			return err
		}
		if err := e.params.SetThresholds(confidence, risk); err != nil {
			return err
		}
		e.params.SetModelVersion(version)
		e.emit(ctx, notify.AIModelUpdated(version, confidence, risk, e.now()))
		return nil
	})
}

// HasRole reports whether id holds tag.
func (e *PolicyEngine) HasRole(_ context.Context, id auth.Identity, tag role.Tag) bool {
	var ok bool
	e.view(func() { ok = e.roles.HasRole(id, tag) })
	return ok
}

// GetRoles returns id's tags in lexical order.
func (e *PolicyEngine) GetRoles(_ context.Context, id auth.Identity) []role.Tag {
	var tags []role.Tag
	e.view(func() { tags = e.roles.Roles(id) })
	return tags
}

// GetParameters returns a copy of the policy parameters.
func (e *PolicyEngine) GetParameters(_ context.Context) policy.Parameters {
	var p policy.Parameters
	e.view(func() { p = e.params.Parameters() })
	return p
}

// GetSecurityThresholds returns the confidence and risk thresholds.
func (e *PolicyEngine) GetSecurityThresholds(_ context.Context) Thresholds {
	var t Thresholds
	e.view(func() {
		p := e.params.Parameters()
		t = Thresholds{Confidence: p.SecurityThreshold, Risk: p.MaxRiskThreshold}
	})
	return t
}

// GetAIMetrics reports the model in use and trail counters.
func (e *PolicyEngine) GetAIMetrics(ctx context.Context) (AIMetrics, error) {
	var (
		m   AIMetrics
		err error
	)
	e.view(func() {
		p := e.params.Parameters()
		var stats audit.Stats
		stats, err = e.trail.Stats(ctx)
		m = AIMetrics{
			ModelVersion:         p.ModelVersion,
			ConfidenceThreshold:  p.SecurityThreshold,
			TotalGlobalDecisions: stats.GlobalDecisions,
			TotalAudits:          stats.SecurityAudits,
		}
	})
	if err != nil {
		return AIMetrics{}, fmt.Errorf("audit stats: %w", err)
	}
	return m, nil
}

// GetUserAIHistory returns the decisions behind id's AI grants, oldest first.
func (e *PolicyEngine) GetUserAIHistory(ctx context.Context, id auth.Identity) ([]policy.AIDecision, error) {
	var (
		history []policy.AIDecision
		err     error
	)
	e.view(func() { history, err = e.trail.UserHistory(ctx, id) })
	if err != nil {
		return nil, fmt.Errorf("user history: %w", err)
	}
	return history, nil
}

// GetAIRecommendations returns the audits of contract, in submission order.
// A zero page returns every match.
func (e *PolicyEngine) GetAIRecommendations(ctx context.Context, contract string, page audit.Page) ([]audit.SecurityAudit, error) {
	var (
		audits []audit.SecurityAudit
		err    error
	)
	e.view(func() { audits, err = e.trail.SecurityAuditsFor(ctx, contract, page) })
	if err != nil {
		return nil, fmt.Errorf("security audits: %w", err)
	}
	return audits, nil
}

// VerifyTrail checks the audit trail hash chain.
func (e *PolicyEngine) VerifyTrail(ctx context.Context) error {
	var err error
	e.view(func() { err = e.trail.Verify(ctx) })
	return err
}
