package auth

import (
	"regexp"
	"slices"
)

// Built-in role names. These are seeded by migration and can never be
// renamed or deleted.
const (
	// RoleSuperAdmin is granted every permission implicitly. Its
	// permissions are never persisted.
	RoleSuperAdmin = "superadmin"

	// RoleAdmin administers accounts, roles and sessions.
	RoleAdmin = "admin"

	// RoleMember is the default role for self-service accounts.
	RoleMember = "member"
)

var builtInRoles = []string{RoleSuperAdmin, RoleAdmin, RoleMember}

// roleNamePattern allows lower-case names with dots, hyphens and underscores.
var roleNamePattern = regexp.MustCompile(`^[a-z][a-z0-9._-]{0,63}$`)

// IsValidRoleName checks if a role name meets format requirements.
func IsValidRoleName(name string) bool {
	return roleNamePattern.MatchString(name)
}

// IsBuiltInRole reports whether name is one of the seeded roles.
func IsBuiltInRole(name string) bool {
	return slices.Contains(builtInRoles, name)
}

// HasSuperuserRole reports whether roles includes the superadmin role.
func HasSuperuserRole(roles []string) bool {
	return slices.Contains(roles, RoleSuperAdmin)
}

// grantFor builds the grant for a set of roles and their stored permissions.
func grantFor(roles []string, perms []Permission) Grant {
	if HasSuperuserRole(roles) {
		return AllPermissions()
	}
	return ExplicitPermissions(perms...)
}
