package api

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/nerrad567/sessiond/internal/auth"
)

// ─── Request/Response Types ────────────────────────────────────────

type createAccountRequest struct {
	Username string   `json:"username"`
	Password string   `json:"password"`
	Roles    []string `json:"roles"`
}

type changePasswordRequest struct {
	Password string `json:"password"`
}

type lockAccountRequest struct {
	Locked *bool `json:"locked"`
}

type assignRoleRequest struct {
	Role string `json:"role"`
}

// ─── Handlers ──────────────────────────────────────────────────────

// handleListAccounts returns all accounts.
func (s *Server) handleListAccounts(w http.ResponseWriter, r *http.Request) {
	accounts, err := s.directory.ListAccounts(r.Context())
	if err != nil {
		s.fail(w, r, "list accounts", err)
		return
	}
	if accounts == nil {
		accounts = []auth.Account{}
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"accounts": accounts,
		"count":    len(accounts),
	})
}

// handleGetAccount returns one account.
func (s *Server) handleGetAccount(w http.ResponseWriter, r *http.Request) {
	acc, err := s.directory.GetAccount(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.fail(w, r, "get account", err)
		return
	}
	writeJSON(w, http.StatusOK, acc)
}

// handleCreateAccount creates an active account with the given roles.
func (s *Server) handleCreateAccount(w http.ResponseWriter, r *http.Request) {
	var req createAccountRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}
	if req.Username == "" || req.Password == "" {
		writeBadRequest(w, "username and password are required")
		return
	}
	if len(req.Roles) == 0 {
		req.Roles = []string{auth.RoleMember}
	}

	claims := claimsFromContext(r.Context())
	if !s.checkGrantable(w, r, claims, req.Roles) {
		return
	}

	acc, err := s.admin.CreateAccount(r.Context(), claims.AccountID, req.Username, req.Password, req.Roles)
	if err != nil {
		s.fail(w, r, "create account", err)
		return
	}
	writeJSON(w, http.StatusCreated, acc)
}

// handleDeleteAccount ends every session of an account and removes it.
func (s *Server) handleDeleteAccount(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	claims := claimsFromContext(r.Context())
	if id == claims.AccountID {
		writeBadRequest(w, "cannot delete your own account")
		return
	}
	if !s.checkManageable(w, r, claims, id) {
		return
	}

	if err := s.admin.DeleteAccount(r.Context(), claims.AccountID, id); err != nil {
		s.fail(w, r, "delete account", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleLockAccount locks or unlocks an account. Locking is a hard revoke.
func (s *Server) handleLockAccount(w http.ResponseWriter, r *http.Request) {
	var req lockAccountRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Locked == nil {
		writeBadRequest(w, "locked is required")
		return
	}

	id := chi.URLParam(r, "id")
	claims := claimsFromContext(r.Context())
	if id == claims.AccountID && *req.Locked {
		writeBadRequest(w, "cannot lock your own account")
		return
	}
	if !s.checkManageable(w, r, claims, id) {
		return
	}

	if err := s.admin.SetLocked(r.Context(), claims.AccountID, id, *req.Locked); err != nil {
		s.fail(w, r, "lock account", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleChangePassword sets a new password. Accounts may change their own;
// anyone else's needs users.manage, and a superadmin's needs a superuser.
// Every session of the account ends.
func (s *Server) handleChangePassword(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	claims := claimsFromContext(r.Context())
	if id != claims.AccountID {
		if !s.authorize(w, r, auth.PermUsersManage) || !s.checkManageable(w, r, claims, id) {
			return
		}
	}

	var req changePasswordRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}

	if err := s.admin.ChangePassword(r.Context(), claims.AccountID, id, req.Password); err != nil {
		s.fail(w, r, "change password", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleRevokeSessions hard revokes an account.
func (s *Server) handleRevokeSessions(w http.ResponseWriter, r *http.Request) {
	claims := claimsFromContext(r.Context())
	if err := s.admin.RevokeSessions(r.Context(), claims.AccountID, chi.URLParam(r, "id")); err != nil {
		s.fail(w, r, "revoke sessions", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleAssignRole adds a role to an account (soft revoke).
func (s *Server) handleAssignRole(w http.ResponseWriter, r *http.Request) {
	var req assignRoleRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Role == "" {
		writeBadRequest(w, "role is required")
		return
	}

	claims := claimsFromContext(r.Context())
	if !s.checkGrantable(w, r, claims, []string{req.Role}) {
		return
	}

	if err := s.admin.AssignRole(r.Context(), claims.AccountID, chi.URLParam(r, "id"), req.Role); err != nil {
		s.fail(w, r, "assign role", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleRemoveRole removes a role from an account (hard revoke).
func (s *Server) handleRemoveRole(w http.ResponseWriter, r *http.Request) {
	role := chi.URLParam(r, "role")
	claims := claimsFromContext(r.Context())
	if role == auth.RoleSuperAdmin && (claims == nil || !claims.Grant.IsAll()) {
		writeServiceError(w, auth.ErrForbidden)
		return
	}

	if err := s.admin.RemoveRole(r.Context(), claims.AccountID, chi.URLParam(r, "id"), role); err != nil {
		s.fail(w, r, "remove role", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// checkGrantable writes 403 unless claims may hand out every role. Only a
// superuser grants superadmin, and no caller grants a role carrying a
// permission it does not hold itself.
func (s *Server) checkGrantable(w http.ResponseWriter, r *http.Request, claims *auth.AccessClaims, roles []string) bool {
	if claims == nil {
		writeAuthenticationFailed(w)
		return false
	}
	if claims.Grant.IsAll() {
		return true
	}
	for _, name := range roles {
		if name == auth.RoleSuperAdmin {
			writeServiceError(w, auth.ErrForbidden)
			return false
		}
		role, err := s.directory.GetRole(r.Context(), name)
		if err != nil {
			s.fail(w, r, "check role", err)
			return false
		}
		if !grantCovers(claims.Grant, role.Permissions) {
			writeServiceError(w, auth.ErrForbidden)
			return false
		}
	}
	return true
}

// checkManageable writes 403 when the target account holds superadmin and
// claims do not. Password resets, locks and deletes of a superuser are
// reserved to superusers.
func (s *Server) checkManageable(w http.ResponseWriter, r *http.Request, claims *auth.AccessClaims, accountID string) bool {
	if claims == nil {
		writeAuthenticationFailed(w)
		return false
	}
	if claims.Grant.IsAll() {
		return true
	}
	acc, err := s.directory.GetAccount(r.Context(), accountID)
	if err != nil {
		s.fail(w, r, "check account", err)
		return false
	}
	if auth.HasSuperuserRole(acc.Roles) {
		writeServiceError(w, auth.ErrForbidden)
		return false
	}
	return true
}

// grantCovers reports whether g allows every permission in perms.
func grantCovers(g auth.Grant, perms []auth.Permission) bool {
	for _, perm := range perms {
		if !g.Allows(perm) {
			return false
		}
	}
	return true
}
