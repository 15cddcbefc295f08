package api

import (
	"net/http"
	"strconv"
	"time"

	"github.com/nerrad567/sessiond/internal/audit"
)

// handleListAudit returns paginated audit entries with optional filters.
//
// Query parameters:
//   - action: filter by event type (login, reuse_detected, revoke, ...)
//   - account_id: filter by affected account
//   - actor: filter by the account that made the change
//   - since: RFC3339 lower bound on created_at
//   - limit: max results (default 50, max 200)
//   - offset: pagination offset
func (s *Server) handleListAudit(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := audit.Filter{
		Action:    q.Get("action"),
		AccountID: q.Get("account_id"),
		Actor:     q.Get("actor"),
	}

	if v := q.Get("since"); v != "" {
		since, err := time.Parse(time.RFC3339, v)
		if err != nil {
			writeBadRequest(w, "since must be an RFC3339 timestamp")
			return
		}
		filter.Since = since
	}
	if v := q.Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			filter.Limit = n
		}
	}
	if v := q.Get("offset"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			filter.Offset = n
		}
	}

	result, err := s.audit.List(r.Context(), filter)
	if err != nil {
		s.fail(w, r, "list audit entries", err)
		return
	}

	writeJSON(w, http.StatusOK, result)
}
