// Package state provides file-based persistence for the policy engine's
// mutable state: role assignments and policy parameters.
//
// The audit trail is not part of state.json; it lives in its own append-only
// store. This package provides atomic writes, file locking and a backup of
// the previous snapshot.
package state

import (
	"time"

	"github.com/Sentinel-Gate/aipolicy/internal/domain/policy"
	"github.com/Sentinel-Gate/aipolicy/internal/domain/role"
)

// SchemaVersion is the current state.json layout.
const SchemaVersion = "1"

// AppState is the top-level structure persisted in state.json.
type AppState struct {
	// Version is the file layout version.
	Version string `json:"version"`

	// RoleTableVersion records role.TagTableVersion at write time. Stored tags
	// are only meaningful under the same major version.
	RoleTableVersion string `json:"role_table_version"`

	// Parameters are the policy parameters. A zero Owner means init has not run.
	Parameters policy.Parameters `json:"parameters"`

	// Roles maps each identity to its held tags.
	Roles role.Assignments `json:"roles"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}
