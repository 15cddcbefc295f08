package api

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/nerrad567/sessiond/internal/auth"
)

// Auth constants.
const (
	// ticketTTL is how long a WebSocket ticket is valid.
	ticketTTL = 60 * time.Second

	// maxDeviceInfoLength bounds the User-Agent stored with a credential.
	maxDeviceInfoLength = 256
)

// loginRequest is the request body for POST /auth/login.
type loginRequest struct {
	Username   string `json:"username"`
	Password   string `json:"password"`
	RememberMe bool   `json:"remember_me"`
}

// refreshRequest is the request body for POST /auth/refresh.
type refreshRequest struct {
	RefreshToken string `json:"refresh_token"`
}

// tokenResponse is returned by login and refresh.
type tokenResponse struct {
	AccessToken      string `json:"access_token"`
	TokenType        string `json:"token_type"`
	ExpiresIn        int    `json:"expires_in"`
	RefreshToken     string `json:"refresh_token"`
	RefreshExpiresAt string `json:"refresh_expires_at"`
}

// meResponse is the claims view returned by GET /auth/me.
type meResponse struct {
	AccountID      string            `json:"account_id"`
	Roles          []string          `json:"roles"`
	AllPermissions bool              `json:"all_permissions"`
	Permissions    []auth.Permission `json:"permissions"`
	IssuedAt       string            `json:"issued_at"`
	ExpiresAt      string            `json:"expires_at"`
}

func (s *Server) pairResponse(pair *auth.TokenPair) tokenResponse {
	return tokenResponse{
		AccessToken:      pair.AccessToken,
		TokenType:        "Bearer",
		ExpiresIn:        int(s.manager.AccessTTL().Seconds()),
		RefreshToken:     pair.RefreshToken,
		RefreshExpiresAt: pair.Credential.ExpiresAt.UTC().Format(time.RFC3339),
	}
}

// handleLogin verifies a password and starts a session.
func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}
	if req.Username == "" || req.Password == "" {
		writeBadRequest(w, "username and password are required")
		return
	}

	acc, err := auth.VerifyLogin(r.Context(), s.directory, req.Username, req.Password)
	if err != nil {
		if errors.Is(err, auth.ErrInvalidCredentials) || errors.Is(err, auth.ErrAccountInactive) {
			s.events.RecordSecurityEvent(r.Context(), auth.SecurityEvent{
				Type:    auth.EventLoginFailed,
				Reason:  loginFailureReason(err),
				Outcome: "failure",
				Actor:   req.Username,
			})
			writeAuthenticationFailed(w)
			return
		}
		s.fail(w, r, "login", err)
		return
	}

	pair, err := s.manager.Login(r.Context(), acc.ID, req.RememberMe, deviceInfo(r))
	if err != nil {
		s.fail(w, r, "login", err)
		return
	}
	writeJSON(w, http.StatusOK, s.pairResponse(pair))
}

func loginFailureReason(err error) string {
	if errors.Is(err, auth.ErrAccountInactive) {
		return "account_inactive"
	}
	return "invalid_credentials"
}

// deviceInfo records the client's User-Agent, truncated.
func deviceInfo(r *http.Request) string {
	ua := r.UserAgent()
	if len(ua) > maxDeviceInfoLength {
		ua = ua[:maxDeviceInfoLength]
	}
	return ua
}

// handleRefresh redeems a refresh secret for a new pair.
func (s *Server) handleRefresh(w http.ResponseWriter, r *http.Request) {
	var req refreshRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}
	if req.RefreshToken == "" {
		writeAuthenticationFailed(w)
		return
	}

	pair, err := s.manager.Redeem(r.Context(), req.RefreshToken)
	if err != nil {
		s.fail(w, r, "refresh", err)
		return
	}
	writeJSON(w, http.StatusOK, s.pairResponse(pair))
}

// handleLogout ends every session of the caller.
func (s *Server) handleLogout(w http.ResponseWriter, r *http.Request) {
	if err := s.manager.Logout(r.Context(), claimsFromContext(r.Context())); err != nil {
		s.fail(w, r, "logout", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleMe returns the caller's verified claims.
func (s *Server) handleMe(w http.ResponseWriter, r *http.Request) {
	claims := claimsFromContext(r.Context())
	if claims == nil {
		writeAuthenticationFailed(w)
		return
	}

	perms := claims.Grant.Permissions()
	if perms == nil {
		perms = []auth.Permission{}
	}
	writeJSON(w, http.StatusOK, meResponse{
		AccountID:      claims.AccountID,
		Roles:          claims.Roles,
		AllPermissions: claims.Grant.IsAll(),
		Permissions:    perms,
		IssuedAt:       claims.IssuedAt.UTC().Format(time.RFC3339),
		ExpiresAt:      claims.ExpiresAt.UTC().Format(time.RFC3339),
	})
}

// ticketStore holds pending WebSocket authentication tickets.
// Tickets are single-use and expire after ticketTTL.
type ticketStore struct {
	tickets map[string]ticketEntry
	now     func() time.Time
	mu      sync.Mutex
}

type ticketEntry struct {
	accountID string
	expiresAt time.Time
}

func newTicketStore() *ticketStore {
	return &ticketStore{
		tickets: make(map[string]ticketEntry),
		now:     time.Now,
	}
}

// issue creates a ticket bound to accountID.
func (t *ticketStore) issue(accountID string) (string, error) {
	ticket, err := generateTicket()
	if err != nil {
		return "", err
	}
	t.mu.Lock()
	t.tickets[ticket] = ticketEntry{
		accountID: accountID,
		expiresAt: t.now().Add(ticketTTL),
	}
	t.mu.Unlock()
	return ticket, nil
}

// consume checks a ticket and removes it (single-use).
func (t *ticketStore) consume(ticket string) (ticketEntry, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	entry, ok := t.tickets[ticket]
	if !ok {
		return ticketEntry{}, false
	}
	delete(t.tickets, ticket)

	return entry, t.now().Before(entry.expiresAt)
}

// clean removes expired tickets.
func (t *ticketStore) clean() {
	t.mu.Lock()
	defer t.mu.Unlock()

	now := t.now()
	for ticket, entry := range t.tickets {
		if now.After(entry.expiresAt) {
			delete(t.tickets, ticket)
		}
	}
}

// handleWSTicket generates a single-use WebSocket authentication ticket.
// The client uses this ticket to authenticate the WebSocket connection
// without exposing the access credential in the URL.
func (s *Server) handleWSTicket(w http.ResponseWriter, r *http.Request) {
	claims := claimsFromContext(r.Context())
	if claims == nil {
		writeAuthenticationFailed(w)
		return
	}
	ticket, err := s.tickets.issue(claims.AccountID)
	if err != nil {
		s.fail(w, r, "ticket", err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"ticket":     ticket,
		"expires_in": int(ticketTTL.Seconds()),
	})
}

// ticketBytes is the number of random bytes used for WebSocket tickets.
const ticketBytes = 32

// generateTicket creates a cryptographically random ticket string.
func generateTicket() (string, error) {
	b := make([]byte, ticketBytes)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}

// cleanTicketsLoop runs clean periodically until the context is cancelled.
func (s *Server) cleanTicketsLoop(ctx context.Context) {
	ticker := time.NewTicker(ticketTTL)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.tickets.clean()
		}
	}
}
