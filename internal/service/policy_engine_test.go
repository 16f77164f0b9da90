package service

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	"github.com/Sentinel-Gate/aipolicy/internal/adapter/outbound/memory"
	"github.com/Sentinel-Gate/aipolicy/internal/domain/audit"
	"github.com/Sentinel-Gate/aipolicy/internal/domain/auth"
	"github.com/Sentinel-Gate/aipolicy/internal/domain/notify"
	"github.com/Sentinel-Gate/aipolicy/internal/domain/policy"
	"github.com/Sentinel-Gate/aipolicy/internal/domain/role"
)

const (
	owner   auth.Identity = "owner"
	oracle  auth.Identity = "oracle"
	alice   auth.Identity = "alice"
	auditor auth.Identity = "auditor-1"
)

var fixedNow = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

type engineFixture struct {
	engine *PolicyEngine
	roles  *memory.RoleStore
	params *memory.ParameterStore
	trail  *memory.AuditLog
	sink   *recordingSink
}

func newEngineFixture(t *testing.T, opts ...EngineOption) *engineFixture {
	t.Helper()
	f := &engineFixture{
		roles:  memory.NewRoleStore(),
		params: memory.NewParameterStore(),
		trail:  memory.NewAuditLog(),
		sink:   &recordingSink{},
	}
	opts = append([]EngineOption{WithClock(func() time.Time { return fixedNow })}, opts...)
	f.engine = NewPolicyEngine(f.roles, f.params, f.trail, f.sink, discardLogger(), opts...)
	if err := f.engine.Init(context.Background(), owner, oracle); err != nil {
		t.Fatalf("Init: %v", err)
	}
	return f
}

func decision(confidence, risk policy.Score) policy.AIDecision {
	return policy.AIDecision{ActionHash: "0xfeed", Confidence: confidence, Risk: risk}
}

func TestPolicyEngine_Init(t *testing.T) {
	f := newEngineFixture(t)
	ctx := context.Background()

	p := f.engine.GetParameters(ctx)
	want := policy.Parameters{
		Owner:             owner,
		Oracle:            oracle,
		ModelVersion:      policy.DefaultModelVersion,
		SecurityThreshold: 8000,
		MaxRiskThreshold:  3000,
	}
	if p != want {
		t.Errorf("parameters = %+v, want %+v", p, want)
	}

	err := f.engine.Init(ctx, alice, alice)
	if !errors.Is(err, policy.ErrAlreadyInitialized) {
		t.Errorf("second Init = %v, want ErrAlreadyInitialized", err)
	}
	if got := f.engine.GetParameters(ctx).Owner; got != owner {
		t.Errorf("owner changed to %q", got)
	}
}

func TestPolicyEngine_NotInitialized(t *testing.T) {
	e := NewPolicyEngine(memory.NewRoleStore(), memory.NewParameterStore(), memory.NewAuditLog(), nil, discardLogger())
	err := e.GrantRole(context.Background(), auth.Anonymous, alice, "trader")
	if !errors.Is(err, policy.ErrNotInitialized) {
		t.Fatalf("GrantRole before Init = %v, want ErrNotInitialized", err)
	}
	if err := e.Init(context.Background(), auth.Anonymous, oracle); !errors.Is(err, policy.ErrUnauthorized) {
		t.Fatalf("anonymous Init = %v, want ErrUnauthorized", err)
	}
}

func TestPolicyEngine_OwnerOrOracleGate(t *testing.T) {
	tests := []struct {
		name    string
		caller  auth.Identity
		wantErr error
	}{
		{"owner", owner, nil},
		{"oracle", oracle, nil},
		{"stranger", alice, policy.ErrUnauthorized},
		{"anonymous", auth.Anonymous, policy.ErrUnauthorized},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newEngineFixture(t)
			ctx := context.Background()

			err := f.engine.GrantRole(ctx, tt.caller, "bob", "trader")
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("GrantRole = %v, want %v", err, tt.wantErr)
			}
			if got := f.engine.HasRole(ctx, "bob", "trader"); got != (tt.wantErr == nil) {
				t.Errorf("HasRole = %v", got)
			}

			err = f.engine.RevokeRole(ctx, tt.caller, "bob", "trader")
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("RevokeRole = %v, want %v", err, tt.wantErr)
			}
		})
	}
}

func TestPolicyEngine_GrantRoleWithAI_PerRoleFloor(t *testing.T) {
	tests := []struct {
		role       role.Role
		confidence policy.Score
		wantErr    error
	}{
		{role.Admin, 9000, policy.ErrInsufficientConfidence},
		{role.Admin, 9499, policy.ErrInsufficientConfidence},
		{role.Admin, 9500, nil},
		{role.Oracle, 8999, policy.ErrInsufficientConfidence},
		{role.Oracle, 9000, nil},
		{role.AIAgent, 8499, policy.ErrInsufficientConfidence},
		{role.AIAgent, 8500, nil},
		{role.Trader, 6999, policy.ErrInsufficientConfidence},
		{role.Trader, 7000, nil},
		// The per-role floor applies even below the global threshold.
		{role.Auditor, 7500, nil},
	}
	for _, tt := range tests {
		t.Run(tt.role.String()+"/"+tt.confidence.String(), func(t *testing.T) {
			f := newEngineFixture(t)
			ctx := context.Background()

			err := f.engine.GrantRoleWithAI(ctx, oracle, alice, tt.role, decision(tt.confidence, 1000))
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("GrantRoleWithAI = %v, want %v", err, tt.wantErr)
			}

			history, _ := f.engine.GetUserAIHistory(ctx, alice)
			if tt.wantErr != nil {
				if f.engine.HasRole(ctx, alice, tt.role.Tag()) {
					t.Error("role granted despite rejection")
				}
				if len(history) != 0 {
					t.Errorf("history has %d entries after rejection", len(history))
				}
				if len(f.sink.kinds()) != 0 {
					t.Errorf("notifications emitted after rejection: %v", f.sink.kinds())
				}
				return
			}

			if !f.engine.HasRole(ctx, alice, tt.role.Tag()) {
				t.Error("role not granted")
			}
			if len(history) != 1 || history[0].Confidence != tt.confidence {
				t.Fatalf("history = %+v", history)
			}
			if history[0].ModelVersion != "" || !history[0].Timestamp.Equal(fixedNow) {
				t.Errorf("decision stored as %+v, want blank model version and stamped time", history[0])
			}
			got := f.sink.got
			if len(got) != 1 || got[0].Kind != notify.KindRoleGrantedAI ||
				got[0].User != alice || got[0].Role != tt.role.Tag() || got[0].Confidence != tt.confidence {
				t.Errorf("notifications = %+v", got)
			}
		})
	}
}

func TestPolicyEngine_GrantRoleWithAI_ExcessiveRisk(t *testing.T) {
	f := newEngineFixture(t)
	ctx := context.Background()

	err := f.engine.GrantRoleWithAI(ctx, owner, alice, role.Trader, decision(10000, 3001))
	if !errors.Is(err, policy.ErrExcessiveRisk) {
		t.Fatalf("GrantRoleWithAI = %v, want ErrExcessiveRisk", err)
	}
	if f.engine.HasRole(ctx, alice, "trader") {
		t.Error("role granted despite excessive risk")
	}
	if err := f.engine.GrantRoleWithAI(ctx, owner, alice, role.Trader, decision(10000, 3000)); err != nil {
		t.Fatalf("risk at the ceiling should pass: %v", err)
	}
}

func TestPolicyEngine_DecisionStoredAsGiven(t *testing.T) {
	f := newEngineFixture(t)
	ctx := context.Background()

	d := decision(9500, 1000)
	d.ModelVersion = "v0.9-shadow"
	if err := f.engine.GrantRoleWithAI(ctx, owner, alice, role.Admin, d); err != nil {
		t.Fatalf("GrantRoleWithAI: %v", err)
	}
	history, _ := f.engine.GetUserAIHistory(ctx, alice)
	if len(history) != 1 || history[0].ModelVersion != "v0.9-shadow" {
		t.Fatalf("history = %+v, want model version v0.9-shadow", history)
	}
}

func TestPolicyEngine_ScoresAboveMaxRejected(t *testing.T) {
	tests := []struct {
		name       string
		confidence policy.Score
		risk       policy.Score
	}{
		{"confidence above max", policy.MaxScore + 1, 1000},
		{"risk above max", 9500, policy.MaxScore + 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newEngineFixture(t)
			ctx := context.Background()
			if err := f.engine.GrantRole(ctx, owner, alice, "trader"); err != nil {
				t.Fatalf("GrantRole: %v", err)
			}

			err := f.engine.GrantRoleWithAI(ctx, owner, alice, role.Admin, decision(tt.confidence, tt.risk))
			if !errors.Is(err, policy.ErrInvalidRange) {
				t.Errorf("GrantRoleWithAI = %v, want ErrInvalidRange", err)
			}
			err = f.engine.ExecuteWithAIValidation(ctx, alice, "swap", "trader", decision(tt.confidence, tt.risk))
			if !errors.Is(err, policy.ErrInvalidRange) {
				t.Errorf("ExecuteWithAIValidation = %v, want ErrInvalidRange", err)
			}

			if f.engine.HasRole(ctx, alice, role.Admin.Tag()) {
				t.Error("role granted despite invalid scores")
			}
			if history, _ := f.engine.GetUserAIHistory(ctx, alice); len(history) != 0 {
				t.Errorf("user history has %d entries", len(history))
			}
			m, err := f.engine.GetAIMetrics(ctx)
			if err != nil {
				t.Fatalf("GetAIMetrics: %v", err)
			}
			if m.TotalGlobalDecisions != 0 {
				t.Errorf("TotalGlobalDecisions = %d, want 0", m.TotalGlobalDecisions)
			}
			if len(f.sink.kinds()) != 0 {
				t.Errorf("notifications emitted: %v", f.sink.kinds())
			}
		})
	}
}

func TestPolicyEngine_GrantRoleWithAI_AppendFailureLeavesRolesUnchanged(t *testing.T) {
	roles := memory.NewRoleStore()
	trail := memory.NewAuditLog()
	sink := &recordingSink{}
	e := NewPolicyEngine(roles, memory.NewParameterStore(), trail, sink, discardLogger())
	ctx := context.Background()
	if err := e.Init(ctx, owner, oracle); err != nil {
		t.Fatal(err)
	}
	_ = trail.Close()

	err := e.GrantRoleWithAI(ctx, owner, alice, role.Trader, decision(9000, 1000))
	if !errors.Is(err, audit.ErrClosed) {
		t.Fatalf("GrantRoleWithAI = %v, want ErrClosed", err)
	}
	if roles.HasRole(alice, "trader") {
		t.Error("role granted although the decision was not recorded")
	}
	if len(sink.kinds()) != 0 {
		t.Errorf("notifications = %v", sink.kinds())
	}
}

func TestPolicyEngine_ExecuteScenario(t *testing.T) {
	f := newEngineFixture(t)
	ctx := context.Background()

	if err := f.engine.GrantRole(ctx, owner, alice, "trader"); err != nil {
		t.Fatalf("GrantRole: %v", err)
	}
	if !f.engine.HasRole(ctx, alice, "trader") {
		t.Fatal("alice should hold trader")
	}

	if err := f.engine.ExecuteAction(ctx, alice, "trader", "buy:10"); err != nil {
		t.Fatalf("ExecuteAction: %v", err)
	}
	got := f.sink.got
	if len(got) != 1 {
		t.Fatalf("got %d notifications, want 1", len(got))
	}
	if got[0].Kind != notify.KindActionExecuted || got[0].Caller != alice || got[0].Role != "trader" || got[0].Action != "buy:10" {
		t.Errorf("notification = %+v", got[0])
	}

	err := f.engine.ExecuteAction(ctx, alice, "admin", "x")
	if !errors.Is(err, policy.ErrMissingRole) {
		t.Fatalf("ExecuteAction as non-admin = %v, want ErrMissingRole", err)
	}
	if len(f.sink.kinds()) != 1 {
		t.Errorf("rejected action emitted a notification: %v", f.sink.kinds())
	}
}

func TestPolicyEngine_ExecuteWithAIValidation(t *testing.T) {
	tests := []struct {
		name       string
		caller     auth.Identity
		confidence policy.Score
		risk       policy.Score
		wantErr    error
	}{
		{"passes", alice, 8000, 3000, nil},
		{"missing role beats bad scores", "bob", 0, 10000, policy.ErrMissingRole},
		{"below global threshold", alice, 7999, 0, policy.ErrInsufficientConfidence},
		{"max confidence excessive risk", alice, 10000, 3500, policy.ErrExcessiveRisk},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newEngineFixture(t)
			ctx := context.Background()
			if err := f.engine.GrantRole(ctx, owner, alice, "trader"); err != nil {
				t.Fatal(err)
			}

			err := f.engine.ExecuteWithAIValidation(ctx, tt.caller, "sell:5", "trader", decision(tt.confidence, tt.risk))
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("ExecuteWithAIValidation = %v, want %v", err, tt.wantErr)
			}

			m, err := f.engine.GetAIMetrics(ctx)
			if err != nil {
				t.Fatal(err)
			}
			wantDecisions := 0
			if tt.wantErr == nil {
				wantDecisions = 1
				got := f.sink.got
				if len(got) != 1 || got[0].Kind != notify.KindActionExecutedAI || got[0].User != alice ||
					got[0].Action != "sell:5" || got[0].Confidence != tt.confidence {
					t.Errorf("notifications = %+v", got)
				}
			} else if len(f.sink.kinds()) != 0 {
				t.Errorf("notifications after rejection: %v", f.sink.kinds())
			}
			if m.TotalGlobalDecisions != wantDecisions {
				t.Errorf("TotalGlobalDecisions = %d, want %d", m.TotalGlobalDecisions, wantDecisions)
			}
		})
	}
}

func TestPolicyEngine_SubmitSecurityAudit(t *testing.T) {
	tests := []struct {
		score policy.Score
		want  []notify.Kind
	}{
		{8200, []notify.Kind{notify.KindSecurityAlert, notify.KindAuditSubmitted}},
		{7001, []notify.Kind{notify.KindSecurityAlert, notify.KindAuditSubmitted}},
		{7000, []notify.Kind{notify.KindAuditSubmitted}},
		{4000, []notify.Kind{notify.KindAuditSubmitted}},
	}
	for _, tt := range tests {
		t.Run(tt.score.String(), func(t *testing.T) {
			f := newEngineFixture(t)
			ctx := context.Background()
			if err := f.engine.GrantRole(ctx, owner, auditor, "auditor"); err != nil {
				t.Fatal(err)
			}

			a := audit.SecurityAudit{
				ContractHash:       "0xc0ffee",
				VulnerabilityScore: tt.score,
				Analysis:           "reentrancy in withdraw",
				Recommendations:    "use checks-effects-interactions",
				Auditor:            "spoofed",
			}
			if err := f.engine.SubmitSecurityAudit(ctx, auditor, a); err != nil {
				t.Fatalf("SubmitSecurityAudit: %v", err)
			}

			got := f.sink.kinds()
			if len(got) != len(tt.want) {
				t.Fatalf("notifications = %v, want %v", got, tt.want)
			}
			for i := range tt.want {
				if got[i] != tt.want[i] {
					t.Errorf("notification[%d] = %s, want %s", i, got[i], tt.want[i])
				}
			}

			recs, err := f.engine.GetAIRecommendations(ctx, "0xc0ffee", audit.Page{})
			if err != nil {
				t.Fatal(err)
			}
			if len(recs) != 1 || recs[0].Auditor != auditor || !recs[0].Timestamp.Equal(fixedNow) {
				t.Errorf("stored audits = %+v", recs)
			}
		})
	}
}

func TestPolicyEngine_SubmitSecurityAudit_RequiresAuditor(t *testing.T) {
	f := newEngineFixture(t)
	ctx := context.Background()

	err := f.engine.SubmitSecurityAudit(ctx, owner, audit.SecurityAudit{ContractHash: "0x1", VulnerabilityScore: 9000})
	if !errors.Is(err, policy.ErrMissingRole) {
		t.Fatalf("SubmitSecurityAudit by non-auditor = %v, want ErrMissingRole", err)
	}
	m, _ := f.engine.GetAIMetrics(ctx)
	if m.TotalAudits != 0 {
		t.Errorf("TotalAudits = %d, want 0", m.TotalAudits)
	}
}

func TestPolicyEngine_GetAIRecommendations_ExactMatchInOrder(t *testing.T) {
	f := newEngineFixture(t)
	ctx := context.Background()
	_ = f.engine.GrantRole(ctx, owner, auditor, "auditor")

	for _, c := range []string{"0xA", "0xa", "0xA", "0xA0", "0xA"} {
		_ = f.engine.SubmitSecurityAudit(ctx, auditor, audit.SecurityAudit{ContractHash: c, Analysis: c})
	}
	all, err := f.engine.GetAIRecommendations(ctx, "0xA", audit.Page{})
	if err != nil {
		t.Fatal(err)
	}
	if len(all) != 3 {
		t.Fatalf("got %d audits, want 3", len(all))
	}
	page, _ := f.engine.GetAIRecommendations(ctx, "0xA", audit.Page{Offset: 1, Limit: 1})
	if len(page) != 1 {
		t.Fatalf("page size = %d, want 1", len(page))
	}
	none, _ := f.engine.GetAIRecommendations(ctx, "0xB", audit.Page{})
	if len(none) != 0 {
		t.Errorf("unexpected matches: %+v", none)
	}
}

func TestPolicyEngine_UpdateAIModel(t *testing.T) {
	f := newEngineFixture(t)
	ctx := context.Background()

	if err := f.engine.UpdateAIModel(ctx, oracle, "v2.1", 9000, 2000); err != nil {
		t.Fatalf("UpdateAIModel: %v", err)
	}
	th := f.engine.GetSecurityThresholds(ctx)
	if th.Confidence != 9000 || th.Risk != 2000 {
		t.Errorf("thresholds = %+v", th)
	}
	m, _ := f.engine.GetAIMetrics(ctx)
	if m.ModelVersion != "v2.1" || m.ConfidenceThreshold != 9000 {
		t.Errorf("metrics = %+v", m)
	}
	got := f.sink.got
	if len(got) != 1 || got[0].Kind != notify.KindAIModelUpdated || got[0].ModelVersion != "v2.1" ||
		got[0].ConfidenceThreshold != 9000 || got[0].RiskThreshold != 2000 {
		t.Errorf("notifications = %+v", got)
	}
}

func TestPolicyEngine_UpdateAIModel_InvalidRangeChangesNothing(t *testing.T) {
	tests := []struct {
		name       string
		confidence policy.Score
		risk       policy.Score
	}{
		{"confidence below floor", 4999, 3000},
		{"confidence above max", 10001, 3000},
		{"risk below floor", 8000, 999},
		{"risk above max", 8000, 5001},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newEngineFixture(t)
			ctx := context.Background()
			before := f.engine.GetParameters(ctx)

			err := f.engine.UpdateAIModel(ctx, owner, "v9", tt.confidence, tt.risk)
			if !errors.Is(err, policy.ErrInvalidRange) {
				t.Fatalf("UpdateAIModel = %v, want ErrInvalidRange", err)
			}
			if after := f.engine.GetParameters(ctx); after != before {
				t.Errorf("parameters changed: %+v -> %+v", before, after)
			}
			if len(f.sink.kinds()) != 0 {
				t.Errorf("notifications = %v", f.sink.kinds())
			}
		})
	}
}

func TestPolicyEngine_SetOracle(t *testing.T) {
	f := newEngineFixture(t)
	ctx := context.Background()

	if err := f.engine.SetOracle(ctx, oracle, "oracle-2"); !errors.Is(err, policy.ErrUnauthorized) {
		t.Fatalf("SetOracle by oracle = %v, want ErrUnauthorized", err)
	}
	if got := f.engine.GetParameters(ctx).Oracle; got != oracle {
		t.Errorf("oracle = %q, want unchanged", got)
	}

	if err := f.engine.SetOracle(ctx, owner, "oracle-2"); err != nil {
		t.Fatalf("SetOracle by owner: %v", err)
	}
	// The old oracle loses its privileges.
	if err := f.engine.GrantRole(ctx, oracle, alice, "trader"); !errors.Is(err, policy.ErrUnauthorized) {
		t.Errorf("GrantRole by rotated oracle = %v, want ErrUnauthorized", err)
	}
	if err := f.engine.GrantRole(ctx, "oracle-2", alice, "trader"); err != nil {
		t.Errorf("GrantRole by new oracle: %v", err)
	}
}

func TestPolicyEngine_CommitHookAndObserver(t *testing.T) {
	var (
		mu       sync.Mutex
		commits  int
		outcomes []string
	)
	f := newEngineFixture(t,
		WithCommitHook(func(context.Context) error {
			commits++
			return errors.New("disk full")
		}),
		WithOperationObserver(func(op, outcome string) {
			mu.Lock()
			outcomes = append(outcomes, op+":"+outcome)
			mu.Unlock()
		}),
	)
	ctx := context.Background()
	commits = 0
	outcomes = nil

	if err := f.engine.GrantRole(ctx, owner, alice, "trader"); err != nil {
		t.Fatalf("GrantRole should succeed despite hook failure: %v", err)
	}
	_ = f.engine.SetOracle(ctx, alice, alice)

	if commits != 1 {
		t.Errorf("commits = %d, want 1", commits)
	}
	want := []string{"grantRole:ok", "setOracle:unauthorized"}
	if len(outcomes) != len(want) {
		t.Fatalf("outcomes = %v, want %v", outcomes, want)
	}
	for i := range want {
		if outcomes[i] != want[i] {
			t.Errorf("outcome[%d] = %s, want %s", i, outcomes[i], want[i])
		}
	}
}

func TestPolicyEngine_CommitStatus(t *testing.T) {
	failing := true
	f := newEngineFixture(t, WithCommitHook(func(context.Context) error {
		if failing {
			return errors.New("disk full")
		}
		return nil
	}))
	ctx := context.Background()

	// Init already failed once.
	if n, err := f.engine.CommitStatus(); n != 1 || err == nil {
		t.Fatalf("CommitStatus after Init = %d, %v; want 1 and an error", n, err)
	}
	if err := f.engine.GrantRole(ctx, owner, alice, "trader"); err != nil {
		t.Fatalf("GrantRole: %v", err)
	}
	n, err := f.engine.CommitStatus()
	if n != 2 || err == nil || err.Error() != "disk full" {
		t.Fatalf("CommitStatus = %d, %v; want 2, disk full", n, err)
	}

	// Rejected operations do not commit.
	_ = f.engine.SetOracle(ctx, alice, alice)
	if n, _ := f.engine.CommitStatus(); n != 2 {
		t.Errorf("failures after rejected op = %d, want 2", n)
	}

	failing = false
	if err := f.engine.RevokeRole(ctx, owner, alice, "trader"); err != nil {
		t.Fatalf("RevokeRole: %v", err)
	}
	n, err = f.engine.CommitStatus()
	if n != 2 || err != nil {
		t.Errorf("CommitStatus after recovery = %d, %v; want 2, nil", n, err)
	}
}

func TestPolicyEngine_Spans(t *testing.T) {
	rec := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(rec))
	defer func() { _ = tp.Shutdown(context.Background()) }()

	f := newEngineFixture(t, WithTracer(tp.Tracer("test")))
	_ = f.engine.ExecuteAction(context.Background(), alice, "admin", "x")

	spans := rec.Ended()
	if len(spans) != 2 {
		t.Fatalf("got %d spans, want 2", len(spans))
	}
	if spans[1].Name() != "policy.executeAction" {
		t.Errorf("span name = %q", spans[1].Name())
	}
	var rejection string
	for _, kv := range spans[1].Attributes() {
		if kv.Key == "aipolicy.rejection" {
			rejection = kv.Value.AsString()
		}
	}
	if rejection != policy.CodeMissingRole {
		t.Errorf("rejection attribute = %q, want %q", rejection, policy.CodeMissingRole)
	}
}

func TestPolicyEngine_ConcurrentGrants(t *testing.T) {
	f := newEngineFixture(t)
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = f.engine.GrantRoleWithAI(ctx, oracle, alice, role.Trader, decision(9000, 1000))
		}()
	}
	wg.Wait()

	history, _ := f.engine.GetUserAIHistory(ctx, alice)
	if len(history) != 50 {
		t.Errorf("history = %d entries, want 50", len(history))
	}
	if err := f.engine.VerifyTrail(ctx); err != nil {
		t.Errorf("VerifyTrail: %v", err)
	}
	if got := f.engine.GetRoles(ctx, alice); len(got) != 1 || got[0] != "trader" {
		t.Errorf("roles = %v", got)
	}
}
