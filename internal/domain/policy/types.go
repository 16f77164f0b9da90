// Package policy contains the policy parameters, AI decision records and the
// error taxonomy shared by the engine and its transports.
package policy

import (
	"fmt"
	"time"

	"github.com/Sentinel-Gate/aipolicy/internal/domain/auth"
	"github.com/Sentinel-Gate/aipolicy/internal/domain/role"
)

// Score is a fixed-point percentage in basis points: 0 is 0.00%, MaxScore is
// 100.00%.
type Score uint32

// MaxScore is the upper bound of every score.
const MaxScore Score = 10000

// Valid reports whether s lies in [0, MaxScore].
func (s Score) Valid() bool {
	return s <= MaxScore
}

// String formats s as a percentage, e.g. "85.00%".
func (s Score) String() string {
	return fmt.Sprintf("%d.%02d%%", s/100, s%100)
}

// Bounds on the adjustable thresholds.
const (
	MinSecurityThreshold Score = 5000
	MaxSecurityThreshold Score = 10000
	MinRiskThreshold     Score = 1000
	MaxRiskThreshold     Score = 5000
)

// DefaultModelVersion is the model version tag set by Init.
const DefaultModelVersion = "v1.0"

// Thresholds set by Init.
const (
	DefaultSecurityThreshold Score = 8000
	DefaultMaxRiskThreshold  Score = 3000
)

// Parameters is the mutable policy singleton.
type Parameters struct {
	Owner             auth.Identity `json:"owner"`
	Oracle            auth.Identity `json:"oracle"`
	ModelVersion      string        `json:"model_version"`
	SecurityThreshold Score         `json:"security_threshold"`
	MaxRiskThreshold  Score         `json:"max_risk_threshold"`
}

// Initialized reports whether an owner has been set.
func (p Parameters) Initialized() bool {
	return !p.Owner.IsAnonymous()
}

// InitialParameters returns the parameters established at creation time.
func InitialParameters(owner, oracle auth.Identity) Parameters {
	return Parameters{
		Owner:             owner,
		Oracle:            oracle,
		ModelVersion:      DefaultModelVersion,
		SecurityThreshold: DefaultSecurityThreshold,
		MaxRiskThreshold:  DefaultMaxRiskThreshold,
	}
}

// ValidateThresholds checks a confidence/risk pair against the allowed bounds.
func ValidateThresholds(confidence, risk Score) error {
	if confidence < MinSecurityThreshold || confidence > MaxSecurityThreshold {
		return fmt.Errorf("%w: confidence threshold %d outside [%d,%d]",
			ErrInvalidRange, confidence, MinSecurityThreshold, MaxSecurityThreshold)
	}
	if risk < MinRiskThreshold || risk > MaxRiskThreshold {
		return fmt.Errorf("%w: risk threshold %d outside [%d,%d]",
			ErrInvalidRange, risk, MinRiskThreshold, MaxRiskThreshold)
	}
	return nil
}

// AIDecision is an oracle attestation. It is validated once and never
// mutated after acceptance.
type AIDecision struct {
	// ActionHash fingerprints the gated action or grant.
	ActionHash   string    `json:"action_hash"`
	Confidence   Score     `json:"confidence"`
	Risk         Score     `json:"risk"`
	ModelVersion string    `json:"model_version"`
	Timestamp    time.Time `json:"timestamp"`
}

// minConfidence is the fixed per-role confidence floor for AI-backed grants.
// It does not follow the adjustable security threshold.
var minConfidence = map[role.Role]Score{
	role.Admin:   9500,
	role.Oracle:  9000,
	role.AIAgent: 8500,
}

// defaultMinConfidence applies to every role absent from minConfidence.
const defaultMinConfidence Score = 7000

// MinConfidenceFor returns the confidence an AI decision needs before r may
// be granted on its strength.
func MinConfidenceFor(r role.Role) Score {
	if s, ok := minConfidence[r]; ok {
		return s
	}
	return defaultMinConfidence
}
