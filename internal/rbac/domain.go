package rbac

import (
	"sort"
	"strings"
	"time"
)

// Role represents a named grouping of permissions.
type Role struct {
	ID          int64     `json:"id"`
	Name        string    `json:"name"`
	Description string    `json:"description"`
	IsActive    bool      `json:"is_active"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// Permission represents an atomic capability such as "properties.manage".
type Permission struct {
	ID          int64     `json:"id"`
	Name        string    `json:"name"`
	Description string    `json:"description"`
	IsActive    bool      `json:"is_active"`
	CreatedAt   time.Time `json:"created_at"`
}

// PermissionDiff describes how a role's grant set changed.
type PermissionDiff struct {
	Granted []int64
	Revoked []int64
}

// Empty reports whether the replace changed nothing.
func (d PermissionDiff) Empty() bool {
	return len(d.Granted) == 0 && len(d.Revoked) == 0
}

// NormalizePermission canonicalises a permission name for comparison.
func NormalizePermission(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}

// PermissionSet is the effective permission set of an identity.
type PermissionSet map[string]struct{}

// NewPermissionSet builds a set from raw names, dropping blanks.
func NewPermissionSet(names ...string) PermissionSet {
	set := make(PermissionSet, len(names))
	for _, name := range names {
		if n := NormalizePermission(name); n != "" {
			set[n] = struct{}{}
		}
	}
	return set
}

// Has reports whether name is granted.
func (s PermissionSet) Has(name string) bool {
	_, ok := s[NormalizePermission(name)]
	return ok
}

// HasAny reports whether at least one of names is granted. An empty list
// never matches.
func (s PermissionSet) HasAny(names ...string) bool {
	for _, name := range normalizePermissions(names) {
		if _, ok := s[name]; ok {
			return true
		}
	}
	return false
}

// HasAll reports whether every name is granted.
func (s PermissionSet) HasAll(names ...string) bool {
	for _, name := range normalizePermissions(names) {
		if _, ok := s[name]; !ok {
			return false
		}
	}
	return true
}

// Names returns the granted permissions sorted alphabetically.
func (s PermissionSet) Names() []string {
	out := make([]string, 0, len(s))
	for name := range s {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

func normalizePermissions(perms []string) []string {
	unique := make(map[string]struct{}, len(perms))
	normalized := make([]string, 0, len(perms))
	for _, p := range perms {
		p = NormalizePermission(p)
		if p == "" {
			continue
		}
		if _, seen := unique[p]; seen {
			continue
		}
		unique[p] = struct{}{}
		normalized = append(normalized, p)
	}
	return normalized
}

func normalizeRoleNames(names []string) []string {
	return normalizePermissions(names)
}

func dedupeIDs(ids []int64) []int64 {
	seen := make(map[int64]struct{}, len(ids))
	out := make([]int64, 0, len(ids))
	for _, id := range ids {
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}
