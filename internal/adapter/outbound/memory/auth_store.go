// Package memory provides in-memory implementations of outbound ports.
package memory

import (
	"context"
	"sync"

	"github.com/Sentinel-Gate/aipolicy/internal/domain/auth"
)

// AuthStore implements auth.AuthStore with in-memory maps seeded from
// configuration. Thread-safe for concurrent access.
type AuthStore struct {
	keys       map[string]*auth.APIKey // stored hash -> APIKey
	principals map[auth.Identity]*auth.Principal
	mu         sync.RWMutex
}

// NewAuthStore creates an empty in-memory auth store.
func NewAuthStore() *AuthStore {
	return &AuthStore{
		keys:       make(map[string]*auth.APIKey),
		principals: make(map[auth.Identity]*auth.Principal),
	}
}

// GetAPIKey retrieves an API key by its stored hash.
func (s *AuthStore) GetAPIKey(_ context.Context, keyHash string) (*auth.APIKey, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	key, ok := s.keys[keyHash]
	if !ok {
		return nil, auth.ErrKeyNotFound
	}
	keyCopy := *key
	return &keyCopy, nil
}

// GetPrincipal retrieves a principal by identity.
func (s *AuthStore) GetPrincipal(_ context.Context, id auth.Identity) (*auth.Principal, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	p, ok := s.principals[id]
	if !ok {
		return nil, auth.ErrPrincipalNotFound
	}
	pCopy := *p
	return &pCopy, nil
}

// ListAPIKeys returns all stored API keys for iteration-based verification.
func (s *AuthStore) ListAPIKeys(_ context.Context) ([]*auth.APIKey, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]*auth.APIKey, 0, len(s.keys))
	for _, key := range s.keys {
		keyCopy := *key
		result = append(result, &keyCopy)
	}
	return result, nil
}

// AddKey stores a copy of key, indexed by its hash.
func (s *AuthStore) AddKey(key *auth.APIKey) {
	s.mu.Lock()
	defer s.mu.Unlock()
	keyCopy := *key
	s.keys[key.Key] = &keyCopy
}

// AddPrincipal stores a copy of p.
func (s *AuthStore) AddPrincipal(p *auth.Principal) {
	s.mu.Lock()
	defer s.mu.Unlock()
	pCopy := *p
	s.principals[p.ID] = &pCopy
}

var _ auth.AuthStore = (*AuthStore)(nil)
