// Package role defines the closed role enumeration, its versioned mapping to
// canonical storage tags, and the RoleStore port.
package role

import (
	"fmt"
	"sort"
	"strings"
)

// Role is one of the five structured roles. The zero value is not a role.
type Role uint8

const (
	Admin Role = iota + 1
	Trader
	Auditor
	Oracle
	AIAgent
)

// Tag is the canonical byte-string key of a role in storage. Legacy
// text-based APIs accept arbitrary tags; structured APIs derive them from Role.
type Tag string

// TagTableVersion versions the Role -> Tag mapping. Bump the major version
// whenever an existing tag is renamed; persisted role sets are compared by text
// and a snapshot written under another major version cannot be trusted.
const TagTableVersion = "1.0.0"

// tagTable is the stable mapping from Role to Tag.
var tagTable = map[Role]Tag{
	Admin:   "admin",
	Trader:  "trader",
	Auditor: "auditor",
	Oracle:  "oracle",
	AIAgent: "ai_agent",
}

// All returns every role in declaration order.
func All() []Role {
	return []Role{Admin, Trader, Auditor, Oracle, AIAgent}
}

// Valid reports whether r is a member of the enumeration.
func (r Role) Valid() bool {
	_, ok := tagTable[r]
	return ok
}

// Tag returns the canonical storage tag for r, or "" for an invalid role.
func (r Role) Tag() Tag {
	return tagTable[r]
}

// String returns the canonical tag, or a diagnostic form for invalid roles.
func (r Role) String() string {
	if t, ok := tagTable[r]; ok {
		return string(t)
	}
	return fmt.Sprintf("role(%d)", uint8(r))
}

// Parse resolves a canonical role name. Matching is exact apart from
// surrounding whitespace and letter case, so "AIAgent" and "ai_agent" both work.
func Parse(name string) (Role, error) {
	n := strings.ToLower(strings.TrimSpace(name))
	for r, t := range tagTable {
		if string(t) == n || strings.ReplaceAll(string(t), "_", "") == n {
			return r, nil
		}
	}
	return 0, fmt.Errorf("unknown role %q", name)
}

// SortTags returns tags in lexical order. Role sets carry no ordering of their
// own, so views sort them for stable output.
func SortTags(tags []Tag) []Tag {
	out := make([]Tag, len(tags))
	copy(out, tags)
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}
