package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/Masterminds/semver/v3"

	"github.com/Sentinel-Gate/aipolicy/internal/adapter/outbound/state"
	"github.com/Sentinel-Gate/aipolicy/internal/domain/policy"
	"github.com/Sentinel-Gate/aipolicy/internal/domain/role"
)

// ErrRoleTableMismatch is returned when a snapshot was written under an
// incompatible role tag table.
var ErrRoleTableMismatch = errors.New("role tag table version mismatch")

// StateSync mirrors role assignments and policy parameters to state.json.
type StateSync struct {
	store     *state.FileStateStore
	roles     role.RoleStore
	params    policy.ParameterStore
	logger    *slog.Logger
	createdAt time.Time
}

// NewStateSync creates a StateSync over the given stores.
func NewStateSync(store *state.FileStateStore, roles role.RoleStore, params policy.ParameterStore, logger *slog.Logger) *StateSync {
	return &StateSync{
		store:  store,
		roles:  roles,
		params: params,
		logger: logger,
	}
}

// CheckRoleTableVersion fails unless stored shares the running binary's
// major role table version.
func CheckRoleTableVersion(stored string) error {
	want := semver.MustParse(role.TagTableVersion)
	got, err := semver.NewVersion(stored)
	if err != nil {
		return fmt.Errorf("%w: invalid version %q: %v", ErrRoleTableMismatch, stored, err)
	}
	if got.Major() != want.Major() {
		return fmt.Errorf("%w: snapshot %s, binary %s", ErrRoleTableMismatch, got, want)
	}
	return nil
}

// Restore loads state.json into the stores. It reports whether the snapshot
// holds an initialized policy; false means init has yet to run.
func (s *StateSync) Restore(_ context.Context) (bool, error) {
	if !s.store.Exists() {
		return false, nil
	}
	st, err := s.store.Load()
	if err != nil {
		return false, fmt.Errorf("load state: %w", err)
	}
	if err := CheckRoleTableVersion(st.RoleTableVersion); err != nil {
		return false, err
	}
	s.createdAt = st.CreatedAt

	if st.Parameters.Initialized() {
		if err := s.params.Reset(st.Parameters); err != nil {
			return false, fmt.Errorf("restore parameters: %w", err)
		}
	}
	s.roles.Restore(st.Roles)

	s.logger.Info("state restored",
		"path", s.store.Path(),
		"identities", len(st.Roles),
		"initialized", st.Parameters.Initialized(),
	)
	return st.Parameters.Initialized(), nil
}

// Save writes the current roles and parameters. It is meant to run as the
// engine's commit hook, under the engine lock.
func (s *StateSync) Save(_ context.Context) error {
	st := &state.AppState{
		Version:          state.SchemaVersion,
		RoleTableVersion: role.TagTableVersion,
		Parameters:       s.params.Parameters(),
		Roles:            s.roles.Snapshot(),
		CreatedAt:        s.createdAt,
	}
	if err := s.store.Save(st); err != nil {
		return fmt.Errorf("save state: %w", err)
	}
	if s.createdAt.IsZero() {
		s.createdAt = st.CreatedAt
	}
	return nil
}
