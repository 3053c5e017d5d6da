// Package permission implements static role-based authorization checks.
//
// A Registry maps role names to permission sets. The mapping is fixed at
// construction and read-only afterwards, so every query is a lock-free
// map lookup. Unknown roles resolve to the empty set: all checks fail
// closed.
package permission

import "sort"

// Permission is an atomic capability tag, e.g. "users:read_all".
type Permission string

// Capability tags used by the default role table. Hosts defining their
// own tables may use any strings.
const (
	UserReadAll    Permission = "users:read_all"
	UserWriteAll   Permission = "users:write_all"
	UserDeleteAll  Permission = "users:delete_all"
	UserReadSelf   Permission = "users:read_self"
	UserWriteSelf  Permission = "users:write_self"
	SessionRevoke  Permission = "sessions:revoke"
	AuditRead      Permission = "audit:read"
	AdminDashboard Permission = "admin:dashboard"
)

// Registry is a static role → permission-set mapping. Immutable after
// construction; safe for unsynchronized concurrent reads.
type Registry struct {
	roles map[string]map[Permission]struct{}
}

// NewRegistry builds a Registry from role → permission lists. The input
// is copied; later mutation of the argument does not affect the registry.
func NewRegistry(roles map[string][]Permission) *Registry {
	r := &Registry{roles: make(map[string]map[Permission]struct{}, len(roles))}
	for role, perms := range roles {
		set := make(map[Permission]struct{}, len(perms))
		for _, p := range perms {
			set[p] = struct{}{}
		}
		r.roles[role] = set
	}
	return r
}

// Default returns the built-in role table.
func Default() *Registry {
	return NewRegistry(map[string][]Permission{
		"admin": {
			UserReadAll, UserWriteAll, UserDeleteAll,
			UserReadSelf, UserWriteSelf,
			SessionRevoke, AuditRead, AdminDashboard,
		},
		"moderator": {
			UserReadAll, UserReadSelf, UserWriteSelf, SessionRevoke,
		},
		"user": {
			UserReadSelf, UserWriteSelf,
		},
	})
}

// Has reports whether the role holds the permission. Unknown roles have
// the empty set.
func (r *Registry) Has(role string, p Permission) bool {
	set, ok := r.roles[role]
	if !ok {
		return false
	}
	_, ok = set[p]
	return ok
}

// HasAny reports whether the role holds at least one of the permissions.
func (r *Registry) HasAny(role string, perms ...Permission) bool {
	for _, p := range perms {
		if r.Has(role, p) {
			return true
		}
	}
	return false
}

// HasAll reports whether the role holds every one of the permissions.
// Vacuously true for an empty list.
func (r *Registry) HasAll(role string, perms ...Permission) bool {
	for _, p := range perms {
		if !r.Has(role, p) {
			return false
		}
	}
	return true
}

// CanAccessUser reports whether a requester may act on the target user
// record: either the role carries a read-all-class permission, or the
// requester is the target (self-access fallback). This is the general
// ownership-or-elevated-privilege check.
func (r *Registry) CanAccessUser(role, requesterID, targetID string) bool {
	if r.Has(role, UserReadAll) {
		return true
	}
	return requesterID != "" && requesterID == targetID
}

// Permissions returns the role's permissions as a sorted copy, or nil
// for unknown roles.
func (r *Registry) Permissions(role string) []Permission {
	set, ok := r.roles[role]
	if !ok {
		return nil
	}
	out := make([]Permission, 0, len(set))
	for p := range set {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Roles returns the known role names, sorted.
func (r *Registry) Roles() []string {
	out := make([]string, 0, len(r.roles))
	for role := range r.roles {
		out = append(out, role)
	}
	sort.Strings(out)
	return out
}
