package memory

import (
	"sync"

	"github.com/Sentinel-Gate/aipolicy/internal/domain/auth"
	"github.com/Sentinel-Gate/aipolicy/internal/domain/policy"
)

// ParameterStore implements policy.ParameterStore over a single struct.
// Thread-safe for concurrent access.
type ParameterStore struct {
	params policy.Parameters
	mu     sync.RWMutex
}

// NewParameterStore creates an uninitialized parameter store.
func NewParameterStore() *ParameterStore {
	return &ParameterStore{}
}

// Parameters returns a copy of the current parameters.
func (s *ParameterStore) Parameters() policy.Parameters {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.params
}

// SetOwner replaces the owner identity.
func (s *ParameterStore) SetOwner(id auth.Identity) {
	s.mu.Lock()
	s.params.Owner = id
	s.mu.Unlock()
}

// SetOracle replaces the oracle identity.
func (s *ParameterStore) SetOracle(id auth.Identity) {
	s.mu.Lock()
	s.params.Oracle = id
	s.mu.Unlock()
}

// SetModelVersion replaces the model version tag.
func (s *ParameterStore) SetModelVersion(version string) {
	s.mu.Lock()
	s.params.ModelVersion = version
	s.mu.Unlock()
}

// SetThresholds validates and stores both thresholds, or neither.
func (s *ParameterStore) SetThresholds(confidence, risk policy.Score) error {
	if err := policy.ValidateThresholds(confidence, risk); err != nil {
		return err
	}
	s.mu.Lock()
	s.params.SecurityThreshold = confidence
	s.params.MaxRiskThreshold = risk
	s.mu.Unlock()
	return nil
}

// Reset replaces every parameter after validating the thresholds.
func (s *ParameterStore) Reset(p policy.Parameters) error {
	if err := policy.ValidateThresholds(p.SecurityThreshold, p.MaxRiskThreshold); err != nil {
		return err
	}
	s.mu.Lock()
	s.params = p
	s.mu.Unlock()
	return nil
}

var _ policy.ParameterStore = (*ParameterStore)(nil)
