package roles

import (
	"strings"

	"github.com/platinummonkey/setlist/pkg/users"
)

// Wildcard grants every permission
const Wildcard = "*"

var rolePermissions = map[users.GlobalRole][]string{
	users.RoleUser:       {},
	users.RoleSupport:    {"view:*"},
	users.RoleAdmin:      {"view:*", "edit:*", "manage:billing"},
	users.RoleSuperAdmin: {Wildcard},
}

// Permissions returns a copy of the role's permission set
func Permissions(role users.GlobalRole) []string {
	perms := rolePermissions[role]
	out := make([]string, len(perms))
	copy(out, perms)
	return out
}

// RoleHasPermission reports whether role grants permission. "*" grants
// everything; an entry ending in ":*" grants every permission sharing its
// prefix, so "view:*" grants "view:billing".
func RoleHasPermission(role users.GlobalRole, permission string) bool {
	for _, granted := range rolePermissions[role] {
		if granted == Wildcard || granted == permission {
			return true
		}
		if strings.HasSuffix(granted, ":*") && strings.HasPrefix(permission, strings.TrimSuffix(granted, "*")) {
			return true
		}
	}
	return false
}

// CanAssign reports whether an actor holding actorRole may set any user's
// role to newRole. Only a super_admin may assign super_admin; an admin may
// assign user, support or admin; nobody else may assign anything.
func CanAssign(actorRole, newRole users.GlobalRole) bool {
	if !newRole.IsValid() {
		return false
	}
	switch actorRole {
	case users.RoleSuperAdmin:
		return true
	case users.RoleAdmin:
		return newRole != users.RoleSuperAdmin
	default:
		return false
	}
}
