package auth

import (
	"context"
	"errors"
)

// Sentinel errors for credential lookups.
var (
	// ErrKeyNotFound is returned when no API key matches a hash.
	ErrKeyNotFound = errors.New("api key not found")
	// ErrPrincipalNotFound is returned when a key references an unknown identity.
	ErrPrincipalNotFound = errors.New("principal not found")
)

// AuthStore provides credential lookup for authentication.
// Implementations: in-memory, seeded from configuration.
type AuthStore interface {
	// GetAPIKey retrieves an API key by its SHA-256 hash.
	// Returns ErrKeyNotFound if key doesn't exist.
	GetAPIKey(ctx context.Context, keyHash string) (*APIKey, error)

	// GetPrincipal retrieves a principal by identity.
	// Returns ErrPrincipalNotFound if the identity is not configured.
	GetPrincipal(ctx context.Context, id Identity) (*Principal, error)

	// ListAPIKeys returns all stored API keys for iteration-based verification.
	ListAPIKeys(ctx context.Context) ([]*APIKey, error)
}
