package rpc

import (
	"errors"
	"fmt"
	"reflect"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/Sentinel-Gate/aipolicy/internal/domain/policy"
	"github.com/Sentinel-Gate/aipolicy/internal/domain/role"
)

// decisionParams is the wire form of an oracle decision.
type decisionParams struct {
	ActionHash   string     `json:"actionHash"`
	Confidence   int64      `json:"confidence" validate:"min=0,max=10000"`
	Risk         int64      `json:"risk" validate:"min=0,max=10000"`
	ModelVersion string     `json:"modelVersion"`
	Timestamp    *time.Time `json:"timestamp"`
}

func (p decisionParams) decision() policy.AIDecision {
	d := policy.AIDecision{
		ActionHash:   p.ActionHash,
		Confidence:   policy.Score(p.Confidence),
		Risk:         policy.Score(p.Risk),
		ModelVersion: p.ModelVersion,
	}
	if p.Timestamp != nil {
		d.Timestamp = p.Timestamp.UTC()
	}
	return d
}

type initParams struct {
	Oracle string `json:"oracle" validate:"required"`
}

type setOracleParams struct {
	Oracle string `json:"oracle" validate:"required"`
}

type roleParams struct {
	User string `json:"user" validate:"required"`
	Role string `json:"role" validate:"required"`
}

type grantRoleWithAIParams struct {
	User     string         `json:"user" validate:"required"`
	Role     string         `json:"role" validate:"required,role_name"`
	Decision decisionParams `json:"decision"`
}

type executeActionParams struct {
	RoleRequired string `json:"roleRequired" validate:"required"`
	Action       string `json:"action" validate:"required"`
}

type executeWithAIParams struct {
	RoleRequired string         `json:"roleRequired" validate:"required"`
	Action       string         `json:"action" validate:"required"`
	Decision     decisionParams `json:"decision"`
}

type submitAuditParams struct {
	ContractHash       string `json:"contractHash" validate:"required"`
	VulnerabilityScore int64  `json:"vulnerabilityScore" validate:"min=0,max=10000"`
	Analysis           string `json:"analysis"`
	Recommendations    string `json:"recommendations"`
}

type recommendationsParams struct {
	ContractHash string `json:"contractHash" validate:"required"`
	Offset       int    `json:"offset" validate:"min=0"`
	Limit        int    `json:"limit" validate:"min=0,max=1000"`
}

type updateModelParams struct {
	ModelVersion        string `json:"modelVersion" validate:"required"`
	ConfidenceThreshold int64  `json:"confidenceThreshold"`
	RiskThreshold       int64  `json:"riskThreshold"`
}

type userParams struct {
	User string `json:"user" validate:"required"`
}

type recentParams struct {
	Limit int `json:"limit" validate:"min=0,max=1000"`
}

// Instruction types produced by the natural-language front end.
const (
	InstructionGrantRole     = "GrantRole"
	InstructionRevokeRole    = "RevokeRole"
	InstructionExecuteAction = "ExecuteAction"
)

// instructionParams is a discriminated union on Type.
type instructionParams struct {
	Type         string `json:"type" validate:"required,oneof=GrantRole RevokeRole ExecuteAction"`
	User         string `json:"user"`
	Role         string `json:"role"`
	RoleRequired string `json:"roleRequired"`
	Action       string `json:"action"`
}

// validateInstruction requires the members of the chosen variant.
func validateInstruction(sl validator.StructLevel) {
	in := sl.Current().Interface().(instructionParams)
	switch in.Type {
	case InstructionGrantRole, InstructionRevokeRole:
		if in.User == "" {
			sl.ReportError(in.User, "user", "User", "required", "")
		}
		if in.Role == "" {
			sl.ReportError(in.Role, "role", "Role", "required", "")
		}
	case InstructionExecuteAction:
		if in.RoleRequired == "" {
			sl.ReportError(in.RoleRequired, "roleRequired", "RoleRequired", "required", "")
		}
		if in.Action == "" {
			sl.ReportError(in.Action, "action", "Action", "required", "")
		}
	}
}

func validateRoleName(fl validator.FieldLevel) bool {
	_, err := role.Parse(fl.Field().String())
	return err == nil
}

// newValidator returns a validator reporting fields by their JSON names.
func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
		if name == "-" {
			return ""
		}
		return name
	})
	_ = v.RegisterValidation("role_name", validateRoleName)
	v.RegisterStructValidation(validateInstruction, instructionParams{})
	return v
}

// formatValidationErrors turns validator errors into one readable message.
func formatValidationErrors(err error) error {
	var validationErrors validator.ValidationErrors
	if !errors.As(err, &validationErrors) {
		return err
	}
	messages := make([]string, 0, len(validationErrors))
	for _, e := range validationErrors {
		field := e.Field()
		switch e.Tag() {
		case "required":
			messages = append(messages, fmt.Sprintf("%s is required", field))
		case "min":
			messages = append(messages, fmt.Sprintf("%s must be at least %s", field, e.Param()))
		case "max":
			messages = append(messages, fmt.Sprintf("%s must be at most %s", field, e.Param()))
		case "oneof":
			messages = append(messages, fmt.Sprintf("%s must be one of: %s", field, e.Param()))
		case "role_name":
			messages = append(messages, fmt.Sprintf("%s must be one of: admin, trader, auditor, oracle, ai_agent", field))
		default:
			messages = append(messages, fmt.Sprintf("%s failed validation: %s", field, e.Tag()))
		}
	}
	return errors.New(strings.Join(messages, "; "))
}
