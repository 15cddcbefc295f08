package api

import (
	"net/http"

	"github.com/nerrad567/sessiond/internal/auth"
)

// handleListSessions returns redeemable refresh credentials. Without an
// account_id query parameter, or with the caller's own, it lists the
// caller's sessions; any other account needs sessions.view.
func (s *Server) handleListSessions(w http.ResponseWriter, r *http.Request) {
	claims := claimsFromContext(r.Context())
	accountID := r.URL.Query().Get("account_id")
	if accountID == "" {
		accountID = claims.AccountID
	}
	if accountID != claims.AccountID && !s.authorize(w, r, auth.PermSessionsView) {
		return
	}

	sessions, err := s.manager.ListSessions(r.Context(), accountID)
	if err != nil {
		s.fail(w, r, "list sessions", err)
		return
	}
	if sessions == nil {
		sessions = []auth.RefreshCredential{}
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"account_id": accountID,
		"sessions":   sessions,
		"count":      len(sessions),
	})
}
