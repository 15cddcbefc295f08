package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/nerrad567/sessiond/internal/auth"
)

// Error represents a structured error response.
type Error struct {
	Status  int    `json:"status"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Common error codes.
const (
	ErrCodeBadRequest     = "bad_request"
	ErrCodeNotFound       = "not_found"
	ErrCodeUnauthorized   = "unauthorised"
	ErrCodeForbidden      = "forbidden"
	ErrCodeConflict       = "conflict"
	ErrCodeInternal       = "internal_error"
	ErrCodeValidation     = "validation_error"
	ErrCodeMethodNotAllow = "method_not_allowed"
	ErrCodeRateLimited    = "rate_limited"
	ErrCodeUnavailable    = "unavailable"
)

// authenticationFailedMessage is the only detail a client gets for any
// authentication failure.
const authenticationFailedMessage = "authentication failed"

// writeJSON writes a JSON response with the given status code and payload.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if v != nil {
		//nolint:errcheck // Best-effort write to response; connection may be closed
		json.NewEncoder(w).Encode(v)
	}
}

// writeError writes a structured error response.
func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, Error{
		Status:  status,
		Code:    code,
		Message: message,
	})
}

// writeBadRequest writes a 400 error response.
func writeBadRequest(w http.ResponseWriter, message string) {
	writeError(w, http.StatusBadRequest, ErrCodeBadRequest, message)
}

// writeNotFound writes a 404 error response.
func writeNotFound(w http.ResponseWriter, message string) {
	writeError(w, http.StatusNotFound, ErrCodeNotFound, message)
}

// writeUnauthorized writes a 401 error response.
func writeUnauthorized(w http.ResponseWriter, message string) {
	writeError(w, http.StatusUnauthorized, ErrCodeUnauthorized, message)
}

// writeInternalError writes a 500 error response.
func writeInternalError(w http.ResponseWriter, message string) {
	writeError(w, http.StatusInternalServerError, ErrCodeInternal, message)
}

// writeAuthenticationFailed writes the generic 401 response.
func writeAuthenticationFailed(w http.ResponseWriter) {
	writeUnauthorized(w, authenticationFailedMessage)
}

// mapServiceError maps an auth package error to a response.
// It reports false for errors it does not recognise so the caller can log
// them before answering 500.
func mapServiceError(w http.ResponseWriter, err error) bool {
	switch {
	case auth.IsAuthenticationFailure(err),
		errors.Is(err, auth.ErrInvalidCredentials):
		writeAuthenticationFailed(w)
	case errors.Is(err, auth.ErrForbidden):
		writeError(w, http.StatusForbidden, ErrCodeForbidden, "forbidden")
	case errors.Is(err, auth.ErrAccountNotFound):
		writeNotFound(w, "account not found")
	case errors.Is(err, auth.ErrRoleNotFound):
		writeNotFound(w, "role not found")
	case errors.Is(err, auth.ErrUsernameExists):
		writeError(w, http.StatusConflict, ErrCodeConflict, "username already exists")
	case errors.Is(err, auth.ErrRoleExists):
		writeError(w, http.StatusConflict, ErrCodeConflict, "role already exists")
	case errors.Is(err, auth.ErrBuiltInRole):
		writeError(w, http.StatusConflict, ErrCodeConflict, "built-in role cannot be changed this way")
	case errors.Is(err, auth.ErrInvalidUsername),
		errors.Is(err, auth.ErrInvalidRoleName),
		errors.Is(err, auth.ErrUndefinedPermission),
		errors.Is(err, auth.ErrWeakPassword):
		writeError(w, http.StatusBadRequest, ErrCodeValidation, strings.TrimPrefix(err.Error(), "auth: "))
	default:
		return false
	}
	return true
}

// writeServiceError writes the mapped response for err, or a 500.
func writeServiceError(w http.ResponseWriter, err error) {
	if !mapServiceError(w, err) {
		writeInternalError(w, "internal server error")
	}
}

// fail answers a handler error, logging anything that is not a mapped
// client error.
func (s *Server) fail(w http.ResponseWriter, r *http.Request, op string, err error) {
	if mapServiceError(w, err) {
		return
	}
	s.logger.Error(op+" failed",
		"error", err,
		"request_id", r.Context().Value(ctxKeyRequestID),
	)
	writeInternalError(w, op+" failed")
}
