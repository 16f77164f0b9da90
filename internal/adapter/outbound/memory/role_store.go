package memory

import (
	"sync"

	"github.com/Sentinel-Gate/aipolicy/internal/domain/auth"
	"github.com/Sentinel-Gate/aipolicy/internal/domain/role"
)

// RoleStore implements role.RoleStore with a set per identity.
// Thread-safe for concurrent access.
type RoleStore struct {
	roles map[auth.Identity]map[role.Tag]struct{}
	mu    sync.RWMutex
}

// NewRoleStore creates an empty role store.
func NewRoleStore() *RoleStore {
	return &RoleStore{roles: make(map[auth.Identity]map[role.Tag]struct{})}
}

// HasRole reports whether id holds tag.
func (s *RoleStore) HasRole(id auth.Identity, tag role.Tag) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.roles[id][tag]
	return ok
}

// Grant adds tag to id's set. Granting a held tag is a no-op.
func (s *RoleStore) Grant(id auth.Identity, tag role.Tag) {
	s.mu.Lock()
	defer s.mu.Unlock()
	set, ok := s.roles[id]
	if !ok {
		set = make(map[role.Tag]struct{})
		s.roles[id] = set
	}
	set[tag] = struct{}{}
}

// Revoke removes tag from id's set. Revoking an unheld tag is a no-op.
func (s *RoleStore) Revoke(id auth.Identity, tag role.Tag) {
	s.mu.Lock()
	defer s.mu.Unlock()
	set, ok := s.roles[id]
	if !ok {
		return
	}
	delete(set, tag)
	if len(set) == 0 {
		delete(s.roles, id)
	}
}

// Roles returns id's tags in lexical order.
func (s *RoleStore) Roles(id auth.Identity) []role.Tag {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return sortedTags(s.roles[id])
}

// Snapshot copies every non-empty assignment.
func (s *RoleStore) Snapshot() role.Assignments {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(role.Assignments, len(s.roles))
	for id, set := range s.roles {
		out[id] = sortedTags(set)
	}
	return out
}

// Restore replaces all assignments. Duplicate tags collapse.
func (s *RoleStore) Restore(a role.Assignments) {
	roles := make(map[auth.Identity]map[role.Tag]struct{}, len(a))
	for id, tags := range a {
		if len(tags) == 0 {
			continue
		}
		set := make(map[role.Tag]struct{}, len(tags))
		for _, t := range tags {
			set[t] = struct{}{}
		}
		roles[id] = set
	}

	s.mu.Lock()
	s.roles = roles
	s.mu.Unlock()
}

func sortedTags(set map[role.Tag]struct{}) []role.Tag {
	tags := make([]role.Tag, 0, len(set))
	for t := range set {
		tags = append(tags, t)
	}
	return role.SortTags(tags)
}

var _ role.RoleStore = (*RoleStore)(nil)
