// Package rpc maps JSON-RPC methods onto the policy engine. It is shared by
// the HTTP and stdio transports, which only differ in how they identify the
// caller.
package rpc

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sort"

	"github.com/go-playground/validator/v10"
	"github.com/modelcontextprotocol/go-sdk/jsonrpc"

	"github.com/Sentinel-Gate/aipolicy/internal/domain/audit"
	"github.com/Sentinel-Gate/aipolicy/internal/domain/auth"
	"github.com/Sentinel-Gate/aipolicy/internal/domain/notify"
	"github.com/Sentinel-Gate/aipolicy/internal/domain/policy"
	"github.com/Sentinel-Gate/aipolicy/internal/domain/role"
	"github.com/Sentinel-Gate/aipolicy/internal/port/inbound"
	wire "github.com/Sentinel-Gate/aipolicy/pkg/rpc"
)

// defaultRecentLimit is the page size of getRecentNotifications.
const defaultRecentLimit = 50

// ErrAuthenticationRequired rejects anonymous calls to mutating methods.
var ErrAuthenticationRequired = errors.New("authentication required")

// RecentNotifications is the read side of the notification ring buffer.
type RecentNotifications interface {
	GetRecent(n int) []notify.Notification
}

type handlerFunc func(ctx context.Context, caller auth.Identity, params json.RawMessage) (any, error)

type method struct {
	handle   handlerFunc
	mutating bool
}

// invalidParamsError marks errors caused by the request's params.
type invalidParamsError struct{ err error }

func (e *invalidParamsError) Error() string { return e.err.Error() }
func (e *invalidParamsError) Unwrap() error { return e.err }

// Ack is the result of a successful mutating call.
type Ack struct {
	OK bool `json:"ok"`
}

// Dispatcher decodes requests, authorizes them and calls the engine.
type Dispatcher struct {
	api      inbound.PolicyAPI
	recent   RecentNotifications
	validate *validator.Validate
	logger   *slog.Logger
	methods  map[string]method
	observe  func(method, outcome string)
}

// DispatcherOption configures a Dispatcher.
type DispatcherOption func(*Dispatcher)

// WithMethodObserver is called after every call with the method name and an
// outcome label: "ok" or the error code name.
func WithMethodObserver(fn func(method, outcome string)) DispatcherOption {
	return func(d *Dispatcher) { d.observe = fn }
}

// NewDispatcher creates a dispatcher. recent may be nil, in which case
// getRecentNotifications returns an empty list.
func NewDispatcher(api inbound.PolicyAPI, recent RecentNotifications, logger *slog.Logger, opts ...DispatcherOption) *Dispatcher {
	d := &Dispatcher{
		api:      api,
		recent:   recent,
		validate: newValidator(),
		logger:   logger,
	}
	d.methods = map[string]method{
		"init":                    {d.initPolicy, true},
		"setOracle":               {d.setOracle, true},
		"grantRole":               {d.grantRole, true},
		"grantRoleWithAI":         {d.grantRoleWithAI, true},
		"revokeRole":              {d.revokeRole, true},
		"executeAction":           {d.executeAction, true},
		"executeWithAIValidation": {d.executeWithAIValidation, true},
		"submitSecurityAudit":     {d.submitSecurityAudit, true},
		"updateAIModel":           {d.updateAIModel, true},
		"submitInstruction":       {d.submitInstruction, true},
		"hasRole":                 {d.hasRole, false},
		"getRoles":                {d.getRoles, false},
		"getParameters":           {d.getParameters, false},
		"getAIMetrics":            {d.getAIMetrics, false},
		"getSecurityThresholds":   {d.getSecurityThresholds, false},
		"getUserAIHistory":        {d.getUserAIHistory, false},
		"getAIRecommendations":    {d.getAIRecommendations, false},
		"getRecentNotifications":  {d.getRecentNotifications, false},
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Methods lists the method names in lexical order.
func (d *Dispatcher) Methods() []string {
	names := make([]string, 0, len(d.methods))
	for name := range d.methods {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// HandleMessage processes one wire message and returns the encoded response,
// or nil for notifications.
func (d *Dispatcher) HandleMessage(ctx context.Context, caller auth.Identity, data []byte) []byte {
	data = bytes.TrimSpace(data)
	if len(data) == 0 {
		return wire.MarshalError(wire.CodeParseError, "Parse error: empty message")
	}
	if !json.Valid(data) {
		return wire.MarshalError(wire.CodeParseError, "Parse error: invalid JSON")
	}
	msg, err := wire.DecodeMessage(data)
	if err != nil {
		return wire.MarshalError(wire.CodeInvalidRequest, "Invalid Request: "+err.Error())
	}
	req, ok := msg.(*jsonrpc.Request)
	if !ok {
		return wire.MarshalError(wire.CodeInvalidRequest, "Invalid Request: expected a request")
	}

	resp := d.Handle(ctx, caller, req)
	if resp == nil {
		return nil
	}
	out, err := wire.EncodeMessage(resp)
	if err != nil {
		d.logger.Error("encode response failed", "method", req.Method, "error", err)
		return wire.MarshalError(wire.CodeInternalError, "Internal error")
	}
	return out
}

// Handle runs req on behalf of caller. Requests without an id are executed
// but get no response.
func (d *Dispatcher) Handle(ctx context.Context, caller auth.Identity, req *jsonrpc.Request) *jsonrpc.Response {
	result, err := d.call(ctx, caller, req)

	code, outcome := errorCode(err)
	if d.observe != nil {
		d.observe(req.Method, outcome)
	}
	if !req.ID.IsValid() {
		return nil
	}
	if err != nil {
		if code == wire.CodeInternalError {
			d.logger.Error("rpc call failed", "method", req.Method, "caller", caller, "error", err)
			return wire.NewError(req.ID, code, "Internal error")
		}
		return wire.NewError(req.ID, code, err.Error())
	}
	resp, err := wire.NewResult(req.ID, result)
	if err != nil {
		d.logger.Error("encode result failed", "method", req.Method, "error", err)
		return wire.NewError(req.ID, wire.CodeInternalError, "Internal error")
	}
	return resp
}

// errMethodNotFound carries the unknown method name.
type errMethodNotFound string

func (e errMethodNotFound) Error() string { return fmt.Sprintf("Method not found: %s", string(e)) }

func (d *Dispatcher) call(ctx context.Context, caller auth.Identity, req *jsonrpc.Request) (any, error) {
	m, ok := d.methods[req.Method]
	if !ok {
		return nil, errMethodNotFound(req.Method)
	}
	if m.mutating && caller.IsAnonymous() {
		return nil, ErrAuthenticationRequired
	}
	return m.handle(ctx, caller, req.Params)
}

// errorCode maps err to a JSON-RPC code and a metrics label.
func errorCode(err error) (int64, string) {
	if err == nil {
		return 0, "ok"
	}
	var notFound errMethodNotFound
	var invalid *invalidParamsError
	switch {
	case errors.As(err, &notFound):
		return wire.CodeMethodNotFound, "method_not_found"
	case errors.As(err, &invalid):
		return wire.CodeInvalidParams, "invalid_params"
	case errors.Is(err, ErrAuthenticationRequired):
		return wire.CodeUnauthorized, "unauthenticated"
	}
	switch c := policy.Code(err); c {
	case policy.CodeUnauthorized:
		return wire.CodeUnauthorized, c
	case policy.CodeMissingRole:
		return wire.CodeMissingRole, c
	case policy.CodeInsufficientConfidence:
		return wire.CodeInsufficientConfidence, c
	case policy.CodeExcessiveRisk:
		return wire.CodeExcessiveRisk, c
	case policy.CodeInvalidRange:
		return wire.CodeInvalidRange, c
	case policy.CodeAlreadyInitialized:
		return wire.CodeAlreadyInitialized, c
	case policy.CodeNotInitialized:
		return wire.CodeNotInitialized, c
	}
	return wire.CodeInternalError, "error"
}

// bind decodes raw into dst and validates it. Absent params decode as {}.
func (d *Dispatcher) bind(raw json.RawMessage, dst any) error {
	if len(raw) == 0 || string(raw) == "null" {
		raw = json.RawMessage("{}")
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		return &invalidParamsError{fmt.Errorf("invalid params: %w", err)}
	}
	if err := d.validate.Struct(dst); err != nil {
		return &invalidParamsError{fmt.Errorf("invalid params: %w", formatValidationErrors(err))}
	}
	return nil
}

func (d *Dispatcher) initPolicy(ctx context.Context, caller auth.Identity, raw json.RawMessage) (any, error) {
	var p initParams
	if err := d.bind(raw, &p); err != nil {
		return nil, err
	}
	return Ack{true}, d.api.Init(ctx, caller, auth.Identity(p.Oracle))
}

func (d *Dispatcher) setOracle(ctx context.Context, caller auth.Identity, raw json.RawMessage) (any, error) {
	var p setOracleParams
	if err := d.bind(raw, &p); err != nil {
		return nil, err
	}
	return Ack{true}, d.api.SetOracle(ctx, caller, auth.Identity(p.Oracle))
}

func (d *Dispatcher) grantRole(ctx context.Context, caller auth.Identity, raw json.RawMessage) (any, error) {
	var p roleParams
	if err := d.bind(raw, &p); err != nil {
		return nil, err
	}
	return Ack{true}, d.api.GrantRole(ctx, caller, auth.Identity(p.User), role.Tag(p.Role))
}

func (d *Dispatcher) grantRoleWithAI(ctx context.Context, caller auth.Identity, raw json.RawMessage) (any, error) {
	var p grantRoleWithAIParams
	if err := d.bind(raw, &p); err != nil {
		return nil, err
	}
	r, err := role.Parse(p.Role)
	if err != nil {
		return nil, &invalidParamsError{err}
	}
	return Ack{true}, d.api.GrantRoleWithAI(ctx, caller, auth.Identity(p.User), r, p.Decision.decision())
}

func (d *Dispatcher) revokeRole(ctx context.Context, caller auth.Identity, raw json.RawMessage) (any, error) {
	var p roleParams
	if err := d.bind(raw, &p); err != nil {
		return nil, err
	}
	return Ack{true}, d.api.RevokeRole(ctx, caller, auth.Identity(p.User), role.Tag(p.Role))
}

func (d *Dispatcher) executeAction(ctx context.Context, caller auth.Identity, raw json.RawMessage) (any, error) {
	var p executeActionParams
	if err := d.bind(raw, &p); err != nil {
		return nil, err
	}
	return Ack{true}, d.api.ExecuteAction(ctx, caller, role.Tag(p.RoleRequired), p.Action)
}

func (d *Dispatcher) executeWithAIValidation(ctx context.Context, caller auth.Identity, raw json.RawMessage) (any, error) {
	var p executeWithAIParams
	if err := d.bind(raw, &p); err != nil {
		return nil, err
	}
	return Ack{true}, d.api.ExecuteWithAIValidation(ctx, caller, p.Action, role.Tag(p.RoleRequired), p.Decision.decision())
}

func (d *Dispatcher) submitSecurityAudit(ctx context.Context, caller auth.Identity, raw json.RawMessage) (any, error) {
	var p submitAuditParams
	if err := d.bind(raw, &p); err != nil {
		return nil, err
	}
	a := audit.SecurityAudit{
		ContractHash:       p.ContractHash,
		VulnerabilityScore: policy.Score(p.VulnerabilityScore),
		Analysis:           p.Analysis,
		Recommendations:    p.Recommendations,
	}
	return Ack{true}, d.api.SubmitSecurityAudit(ctx, caller, a)
}

func (d *Dispatcher) updateAIModel(ctx context.Context, caller auth.Identity, raw json.RawMessage) (any, error) {
	var p updateModelParams
	if err := d.bind(raw, &p); err != nil {
		return nil, err
	}
	return Ack{true}, d.api.UpdateAIModel(ctx, caller, p.ModelVersion,
		thresholdScore(p.ConfidenceThreshold), thresholdScore(p.RiskThreshold))
}

// thresholdScore narrows a requested threshold to a Score without wrapping.
// Values outside [0, MaxScore] land outside every threshold bound so the
// engine rejects them as out of range.
func thresholdScore(v int64) policy.Score {
	switch {
	case v < 0:
		return 0
	case v > int64(policy.MaxScore):
		return policy.MaxScore + 1
	}
	return policy.Score(v)
}

// submitInstruction routes a structured instruction to the plain role and
// action operations, with their preconditions.
func (d *Dispatcher) submitInstruction(ctx context.Context, caller auth.Identity, raw json.RawMessage) (any, error) {
	var p instructionParams
	if err := d.bind(raw, &p); err != nil {
		return nil, err
	}
	var err error
	switch p.Type {
	case InstructionGrantRole:
		err = d.api.GrantRole(ctx, caller, auth.Identity(p.User), role.Tag(p.Role))
	case InstructionRevokeRole:
		err = d.api.RevokeRole(ctx, caller, auth.Identity(p.User), role.Tag(p.Role))
	case InstructionExecuteAction:
		err = d.api.ExecuteAction(ctx, caller, role.Tag(p.RoleRequired), p.Action)
	}
	return Ack{true}, err
}

func (d *Dispatcher) hasRole(ctx context.Context, _ auth.Identity, raw json.RawMessage) (any, error) {
	var p roleParams
	if err := d.bind(raw, &p); err != nil {
		return nil, err
	}
	return map[string]bool{"has_role": d.api.HasRole(ctx, auth.Identity(p.User), role.Tag(p.Role))}, nil
}

// RolesResult is the result of getRoles.
type RolesResult struct {
	User  auth.Identity `json:"user"`
	Roles []role.Tag    `json:"roles"`
}

func (d *Dispatcher) getRoles(ctx context.Context, _ auth.Identity, raw json.RawMessage) (any, error) {
	var p userParams
	if err := d.bind(raw, &p); err != nil {
		return nil, err
	}
	tags := d.api.GetRoles(ctx, auth.Identity(p.User))
	if tags == nil {
		tags = []role.Tag{}
	}
	return RolesResult{User: auth.Identity(p.User), Roles: tags}, nil
}

func (d *Dispatcher) getParameters(ctx context.Context, _ auth.Identity, _ json.RawMessage) (any, error) {
	return d.api.GetParameters(ctx), nil
}

func (d *Dispatcher) getAIMetrics(ctx context.Context, _ auth.Identity, _ json.RawMessage) (any, error) {
	return d.api.GetAIMetrics(ctx)
}

func (d *Dispatcher) getSecurityThresholds(ctx context.Context, _ auth.Identity, _ json.RawMessage) (any, error) {
	return d.api.GetSecurityThresholds(ctx), nil
}

// HistoryResult is the result of getUserAIHistory.
type HistoryResult struct {
	User      auth.Identity       `json:"user"`
	Decisions []policy.AIDecision `json:"decisions"`
}

func (d *Dispatcher) getUserAIHistory(ctx context.Context, _ auth.Identity, raw json.RawMessage) (any, error) {
	var p userParams
	if err := d.bind(raw, &p); err != nil {
		return nil, err
	}
	history, err := d.api.GetUserAIHistory(ctx, auth.Identity(p.User))
	if err != nil {
		return nil, err
	}
	if history == nil {
		history = []policy.AIDecision{}
	}
	return HistoryResult{User: auth.Identity(p.User), Decisions: history}, nil
}

// RecommendationsResult is the result of getAIRecommendations.
type RecommendationsResult struct {
	ContractHash string                `json:"contract_hash"`
	Audits       []audit.SecurityAudit `json:"audits"`
}

func (d *Dispatcher) getAIRecommendations(ctx context.Context, _ auth.Identity, raw json.RawMessage) (any, error) {
	var p recommendationsParams
	if err := d.bind(raw, &p); err != nil {
		return nil, err
	}
	audits, err := d.api.GetAIRecommendations(ctx, p.ContractHash, audit.Page{Offset: p.Offset, Limit: p.Limit})
	if err != nil {
		return nil, err
	}
	if audits == nil {
		audits = []audit.SecurityAudit{}
	}
	return RecommendationsResult{ContractHash: p.ContractHash, Audits: audits}, nil
}

// NotificationsResult is the result of getRecentNotifications.
type NotificationsResult struct {
	Notifications []notify.Notification `json:"notifications"`
}

func (d *Dispatcher) getRecentNotifications(_ context.Context, _ auth.Identity, raw json.RawMessage) (any, error) {
	var p recentParams
	if err := d.bind(raw, &p); err != nil {
		return nil, err
	}
	limit := p.Limit
	if limit == 0 {
		limit = defaultRecentLimit
	}
	out := []notify.Notification{}
	if d.recent != nil {
		if recent := d.recent.GetRecent(limit); recent != nil {
			out = recent
		}
	}
	return NotificationsResult{Notifications: out}, nil
}
