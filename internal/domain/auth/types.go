// Package auth contains the domain types and logic for caller identification.
package auth

import (
	"time"
)

// Identity is an opaque, comparable subject handle. It is used for callers,
// the policy owner and the oracle, and as the key of role assignments.
type Identity string

// Anonymous is the identity of an unauthenticated caller.
const Anonymous Identity = ""

// IsAnonymous reports whether the identity carries no subject.
func (i Identity) IsAnonymous() bool {
	return i == Anonymous
}

// String returns the identity as text.
func (i Identity) String() string {
	return string(i)
}

// Principal is a configured identity with a display name.
type Principal struct {
	// ID is the subject handle presented to the policy engine.
	ID Identity
	// Name is the display name for this principal.
	Name string
}

// APIKey represents an API key for authentication.
type APIKey struct {
	// Key is the hashed key value (SHA-256 hex or Argon2id PHC format).
	Key string
	// IdentityID maps this key to a Principal.
	IdentityID Identity
	// Name is a human-readable label for this key.
	Name string
	// CreatedAt is when the key was created (UTC).
	CreatedAt time.Time
	// ExpiresAt is when the key expires (nil = never expires).
	ExpiresAt *time.Time
	// Revoked indicates if the key has been revoked.
	Revoked bool
}

// IsExpired returns true if the API key has expired.
// A key with nil ExpiresAt never expires.
func (k *APIKey) IsExpired() bool {
	if k.ExpiresAt == nil {
		return false
	}
	return time.Now().UTC().After(*k.ExpiresAt)
}
