// Package inbound defines the inbound port of the policy engine.
// Inbound adapters (rpc, HTTP, stdio) call this interface.
package inbound

import (
	"context"

	"github.com/Sentinel-Gate/aipolicy/internal/domain/audit"
	"github.com/Sentinel-Gate/aipolicy/internal/domain/auth"
	"github.com/Sentinel-Gate/aipolicy/internal/domain/policy"
	"github.com/Sentinel-Gate/aipolicy/internal/domain/role"
	"github.com/Sentinel-Gate/aipolicy/internal/service"
)

// PolicyAPI is every operation a caller can reach. Mutating operations take
// the authenticated caller; views take none.
type PolicyAPI interface {
	Init(ctx context.Context, caller, oracle auth.Identity) error
	SetOracle(ctx context.Context, caller, oracle auth.Identity) error

	GrantRole(ctx context.Context, caller, user auth.Identity, tag role.Tag) error
	GrantRoleWithAI(ctx context.Context, caller, user auth.Identity, r role.Role, d policy.AIDecision) error
	RevokeRole(ctx context.Context, caller, user auth.Identity, tag role.Tag) error

	ExecuteAction(ctx context.Context, caller auth.Identity, required role.Tag, action string) error
	ExecuteWithAIValidation(ctx context.Context, caller auth.Identity, action string, required role.Tag, d policy.AIDecision) error

	SubmitSecurityAudit(ctx context.Context, caller auth.Identity, a audit.SecurityAudit) error
	GetAIRecommendations(ctx context.Context, contract string, page audit.Page) ([]audit.SecurityAudit, error)

	UpdateAIModel(ctx context.Context, caller auth.Identity, version string, confidence, risk policy.Score) error

	HasRole(ctx context.Context, id auth.Identity, tag role.Tag) bool
	GetRoles(ctx context.Context, id auth.Identity) []role.Tag
	GetParameters(ctx context.Context) policy.Parameters
	GetAIMetrics(ctx context.Context) (service.AIMetrics, error)
	GetSecurityThresholds(ctx context.Context) service.Thresholds
	GetUserAIHistory(ctx context.Context, id auth.Identity) ([]policy.AIDecision, error)
}

var _ PolicyAPI = (*service.PolicyEngine)(nil)
