package auth

import (
	"fmt"
	"slices"
)

// Permission is a flat "category.action" capability name.
type Permission string

// Permission constants.
const (
	PermUsersView      Permission = "users.view"
	PermUsersManage    Permission = "users.manage"
	PermRolesView      Permission = "roles.view"
	PermRolesManage    Permission = "roles.manage"
	PermSessionsView   Permission = "sessions.view"
	PermSessionsRevoke Permission = "sessions.revoke"
	PermAuditView      Permission = "audit.view"
	PermSettingsView   Permission = "settings.view"
	PermSettingsManage Permission = "settings.manage"
)

// PermissionDefinition describes one defined permission.
type PermissionDefinition struct {
	Name        Permission `json:"name"`
	Category    string     `json:"category"`
	Description string     `json:"description"`
}

// definedPermissions is the single source of truth for what can be granted.
var definedPermissions = []PermissionDefinition{
	{PermUsersView, "users", "List and view accounts"},
	{PermUsersManage, "users", "Create, lock, delete accounts and reset passwords"},
	{PermRolesView, "roles", "List roles and permissions"},
	{PermRolesManage, "roles", "Create, edit and assign roles"},
	{PermSessionsView, "sessions", "View other accounts' sessions"},
	{PermSessionsRevoke, "sessions", "Revoke other accounts' sessions"},
	{PermAuditView, "audit", "Read the audit trail"},
	{PermSettingsView, "settings", "View settings"},
	{PermSettingsManage, "settings", "Change settings"},
}

// DefinedPermissions returns every permission that may be granted.
func DefinedPermissions() []PermissionDefinition {
	return slices.Clone(definedPermissions)
}

// IsDefinedPermission reports whether perm is a known permission name.
func IsDefinedPermission(perm Permission) bool {
	return slices.ContainsFunc(definedPermissions, func(d PermissionDefinition) bool {
		return d.Name == perm
	})
}

// allPermissionNames returns every defined permission name, sorted.
func allPermissionNames() []Permission {
	names := make([]Permission, 0, len(definedPermissions))
	for _, d := range definedPermissions {
		names = append(names, d.Name)
	}
	slices.Sort(names)
	return names
}

// NormalizePermissions validates perms and returns them deduplicated and sorted.
// Any undefined name fails the whole set.
func NormalizePermissions(perms []Permission) ([]Permission, error) {
	for _, p := range perms {
		if !IsDefinedPermission(p) {
			return nil, fmt.Errorf("%w: %q", ErrUndefinedPermission, p)
		}
	}
	return ExplicitPermissions(perms...).Permissions(), nil
}
