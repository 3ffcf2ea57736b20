package auth

import (
	"fmt"
	"strings"
)

// Role represents an operator role for the admin endpoints
type Role string

const (
	// RoleAdmin may grant credits and read every ledger view
	RoleAdmin Role = "admin"

	// RoleViewer may only read balances and generation history
	RoleViewer Role = "viewer"
)

// String returns the string representation of the role
func (r Role) String() string {
	return string(r)
}

// IsValid checks if the role is a known role
func (r Role) IsValid() bool {
	switch r {
	case RoleAdmin, RoleViewer:
		return true
	default:
		return false
	}
}

// HasPermission checks if a role satisfies a required role.
// Admin satisfies every role, viewer only itself.
func (r Role) HasPermission(required Role) bool {
	if r == RoleAdmin {
		return true
	}
	return r == required
}

// ParseRoles converts role names, rejecting unknown ones
func ParseRoles(names []string) ([]Role, error) {
	roles := make([]Role, 0, len(names))
	for _, name := range names {
		role := Role(strings.TrimSpace(name))
		if !role.IsValid() {
			return nil, fmt.Errorf("unknown role %q", name)
		}
		roles = append(roles, role)
	}
	return roles, nil
}
