package role

import "github.com/Sentinel-Gate/aipolicy/internal/domain/auth"

// Assignments is a point-in-time copy of every identity's role set.
type Assignments map[auth.Identity][]Tag

// RoleStore holds, per identity, an unordered duplicate-free set of tags.
// Grant and Revoke are idempotent.
type RoleStore interface {
	HasRole(id auth.Identity, tag Tag) bool
	Grant(id auth.Identity, tag Tag)
	Revoke(id auth.Identity, tag Tag)
	// Roles returns the identity's tags in lexical order.
	Roles(id auth.Identity) []Tag
	// Snapshot copies all assignments; identities with no roles are omitted.
	Snapshot() Assignments
	// Restore replaces all assignments with a.
	Restore(a Assignments)
}
