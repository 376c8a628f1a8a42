// Package users stores user records and defines the global role hierarchy.
package users

import (
	"fmt"
	"strings"
	"time"
)

// GlobalRole is a user-wide privilege level, independent of any account
type GlobalRole string

const (
	RoleUser       GlobalRole = "user"
	RoleSupport    GlobalRole = "support"
	RoleAdmin      GlobalRole = "admin"
	RoleSuperAdmin GlobalRole = "super_admin"
)

// roleRank orders the hierarchy: user < support < admin < super_admin
var roleRank = map[GlobalRole]int{
	RoleUser:       0,
	RoleSupport:    1,
	RoleAdmin:      2,
	RoleSuperAdmin: 3,
}

// AllRoles lists every role from least to most privileged
func AllRoles() []GlobalRole {
	return []GlobalRole{RoleUser, RoleSupport, RoleAdmin, RoleSuperAdmin}
}

// IsValid reports whether r is a known role
func (r GlobalRole) IsValid() bool {
	_, ok := roleRank[r]
	return ok
}

// Rank returns the position of r in the hierarchy, -1 for unknown roles
func (r GlobalRole) Rank() int {
	rank, ok := roleRank[r]
	if !ok {
		return -1
	}
	return rank
}

// AtLeast reports whether r is min or above. Unknown roles never satisfy a
// requirement.
func (r GlobalRole) AtLeast(min GlobalRole) bool {
	if !r.IsValid() || !min.IsValid() {
		return false
	}
	return r.Rank() >= min.Rank()
}

func (r GlobalRole) String() string {
	return string(r)
}

// ParseGlobalRole parses a role name, case-insensitively
func ParseGlobalRole(s string) (GlobalRole, error) {
	role := GlobalRole(strings.ToLower(strings.TrimSpace(s)))
	if !role.IsValid() {
		return "", fmt.Errorf("unknown global role %q", s)
	}
	return role, nil
}

// User is an identity record keyed by a stable external identity reference
type User struct {
	ID         string     `json:"id"`
	ExternalID string     `json:"external_id"`
	Email      string     `json:"email"`
	Role       GlobalRole `json:"role"`
	CreatedAt  time.Time  `json:"created_at"`
	UpdatedAt  time.Time  `json:"updated_at"`
}
