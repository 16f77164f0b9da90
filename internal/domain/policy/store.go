package policy

import "github.com/Sentinel-Gate/aipolicy/internal/domain/auth"

// ParameterStore holds the policy parameters. Threshold bounds are enforced on
// every write, never on read.
type ParameterStore interface {
	Parameters() Parameters
	SetOwner(id auth.Identity)
	SetOracle(id auth.Identity)
	SetModelVersion(version string)
	// SetThresholds updates both thresholds or neither, failing with
	// ErrInvalidRange when either is out of bounds.
	SetThresholds(confidence, risk Score) error
	// Reset replaces every parameter after validating the thresholds.
	Reset(p Parameters) error
}
