package api

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/nerrad567/sessiond/internal/auth"
)

type createRoleRequest struct {
	Name        string            `json:"name"`
	Description string            `json:"description"`
	Permissions []auth.Permission `json:"permissions"`
}

// updateRoleRequest mirrors auth.RoleUpdate: absent fields are left alone.
type updateRoleRequest struct {
	Name        *string            `json:"name,omitempty"`
	Description *string            `json:"description,omitempty"`
	Permissions *[]auth.Permission `json:"permissions,omitempty"`
}

type roleChangeResponse struct {
	Role    *auth.Role        `json:"role"`
	Added   []auth.Permission `json:"added"`
	Removed []auth.Permission `json:"removed"`
	Renamed bool              `json:"renamed"`
	Revoked int               `json:"revoked"`
}

// handleListRoles returns every role with its permissions.
func (s *Server) handleListRoles(w http.ResponseWriter, r *http.Request) {
	roles, err := s.directory.ListRoles(r.Context())
	if err != nil {
		s.fail(w, r, "list roles", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"roles": roles,
		"count": len(roles),
	})
}

// handleGetRole returns one role.
func (s *Server) handleGetRole(w http.ResponseWriter, r *http.Request) {
	role, err := s.directory.GetRole(r.Context(), chi.URLParam(r, "name"))
	if err != nil {
		s.fail(w, r, "get role", err)
		return
	}
	writeJSON(w, http.StatusOK, role)
}

// handleCreateRole stores a custom role. A caller can only bundle
// permissions it holds itself.
func (s *Server) handleCreateRole(w http.ResponseWriter, r *http.Request) {
	var req createRoleRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}
	if req.Name == "" {
		writeBadRequest(w, "name is required")
		return
	}

	claims := claimsFromContext(r.Context())
	if !grantCovers(claims.Grant, req.Permissions) {
		writeServiceError(w, auth.ErrForbidden)
		return
	}

	role := &auth.Role{
		Name:        req.Name,
		Description: req.Description,
		Permissions: req.Permissions,
	}
	if err := s.admin.CreateRole(r.Context(), claims.AccountID, role); err != nil {
		s.fail(w, r, "create role", err)
		return
	}
	writeJSON(w, http.StatusCreated, role)
}

// handleUpdateRole renames a role or changes its description or permissions.
// Members are soft revoked when access only widened and hard revoked when
// any permission was removed.
func (s *Server) handleUpdateRole(w http.ResponseWriter, r *http.Request) {
	var req updateRoleRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}
	if req.Name == nil && req.Description == nil && req.Permissions == nil {
		writeBadRequest(w, "nothing to update")
		return
	}

	claims := claimsFromContext(r.Context())
	if req.Permissions != nil && !grantCovers(claims.Grant, *req.Permissions) {
		writeServiceError(w, auth.ErrForbidden)
		return
	}

	change, err := s.admin.UpdateRole(r.Context(), claims.AccountID, chi.URLParam(r, "name"), auth.RoleUpdate{
		Name:        req.Name,
		Description: req.Description,
		Permissions: req.Permissions,
	})
	if err != nil {
		s.fail(w, r, "update role", err)
		return
	}

	revoked := 0
	if change.Renamed || len(change.Added) > 0 || len(change.Removed) > 0 {
		revoked = len(change.Members)
	}
	writeJSON(w, http.StatusOK, roleChangeResponse{
		Role:    change.Role,
		Added:   emptyIfNil(change.Added),
		Removed: emptyIfNil(change.Removed),
		Renamed: change.Renamed,
		Revoked: revoked,
	})
}

// handleDeleteRole removes a custom role and hard revokes its members.
func (s *Server) handleDeleteRole(w http.ResponseWriter, r *http.Request) {
	claims := claimsFromContext(r.Context())
	if err := s.admin.DeleteRole(r.Context(), claims.AccountID, chi.URLParam(r, "name")); err != nil {
		s.fail(w, r, "delete role", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleListPermissions returns every grantable permission.
func (s *Server) handleListPermissions(w http.ResponseWriter, _ *http.Request) {
	perms := auth.DefinedPermissions()
	writeJSON(w, http.StatusOK, map[string]any{
		"permissions": perms,
		"count":       len(perms),
	})
}

func emptyIfNil(perms []auth.Permission) []auth.Permission {
	if perms == nil {
		return []auth.Permission{}
	}
	return perms
}
