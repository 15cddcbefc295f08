package api

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nerrad567/sessiond/internal/audit"
	"github.com/nerrad567/sessiond/internal/auth"
	"github.com/nerrad567/sessiond/internal/infrastructure/config"
	"github.com/nerrad567/sessiond/internal/infrastructure/database"
	"github.com/nerrad567/sessiond/internal/infrastructure/logging"
	"github.com/nerrad567/sessiond/internal/infrastructure/metrics"
	_ "github.com/nerrad567/sessiond/migrations" // registers the embedded schema
)

const (
	testHashingKey = "test-hashing-key-at-least-32-chars"
	testJWTSecret  = "test-jwt-secret-at-least-32-chars!"
	rootUsername   = "root"
	testPassword   = "correct-horse-battery"
)

// testAPI is a full sessiond stack behind an httptest server.
type testAPI struct {
	srv      *Server
	http     *httptest.Server
	identity *auth.SQLiteIdentityStore
	auditLog *audit.SQLiteRepository
}

func testServer(t *testing.T) *testAPI {
	t.Helper()
	return testServerWithRateLimit(t, config.RateLimitConfig{})
}

func testServerWithRateLimit(t *testing.T, rl config.RateLimitConfig) *testAPI {
	t.Helper()
	ctx := context.Background()
	metrics.Init()

	db, err := database.Open(ctx, database.Config{
		Path:        filepath.Join(t.TempDir(), "sessiond.db"),
		WALMode:     true,
		BusyTimeout: 5,
	})
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	require.NoError(t, db.Migrate(ctx))

	log := logging.Discard()
	identity := auth.NewIdentityStore(db.DB)
	tokens := auth.NewTokenStore(db.DB)
	cache := auth.NewMemoryRevocationCache()

	hasher, err := auth.NewHasher(testHashingKey)
	require.NoError(t, err)
	issuer, err := auth.NewIssuer(auth.IssuerConfig{Secret: testJWTSecret, TTL: 15 * time.Minute})
	require.NoError(t, err)

	auditLog := audit.NewSQLiteRepository(db.DB)
	events := audit.NewRecorder(auditLog, "test", log)

	coordinator := auth.NewCoordinator(identity, cache, tokens,
		auth.WithCoordinatorLogger(log),
		auth.WithCoordinatorEventRecorder(events),
	)
	manager := auth.NewManager(tokens, identity, issuer, hasher, coordinator,
		auth.WithLogger(log),
		auth.WithEventRecorder(events),
	)
	stamp := auth.NewStampValidator(identity, cache, hasher,
		auth.WithStampLogger(log),
		auth.WithStampEventRecorder(events),
	)
	admin := auth.NewAdmin(identity, coordinator,
		auth.WithAdminLogger(log),
		auth.WithAdminEventRecorder(events),
	)

	created, err := auth.SeedSuperAdmin(ctx, identity, rootUsername, testPassword, log)
	require.NoError(t, err)
	require.True(t, created)

	srv, err := New(Deps{
		Config: config.APIConfig{Host: "127.0.0.1", Port: 0},
		WS: config.WebSocketConfig{
			MaxMessageSize: 4096,
			PingInterval:   30,
			PongTimeout:    10,
		},
		RateLimit:   rl,
		Logger:      log,
		Version:     "test",
		Manager:     manager,
		Issuer:      issuer,
		Stamp:       stamp,
		Admin:       admin,
		Directory:   identity,
		Coordinator: coordinator,
		Audit:       auditLog,
		Events:      events,
		Checks:      map[string]HealthChecker{"database": db},
	})
	require.NoError(t, err)

	hubCtx, cancel := context.WithCancel(context.Background())
	go srv.hub.Run(hubCtx)
	t.Cleanup(cancel)

	httpSrv := httptest.NewServer(srv.buildRouter())
	t.Cleanup(httpSrv.Close)

	return &testAPI{srv: srv, http: httpSrv, identity: identity, auditLog: auditLog}
}

// do sends a JSON request to /api/v1 and returns the status and body.
func (a *testAPI) do(t *testing.T, method, path, token string, body any) (int, []byte) {
	t.Helper()

	var rdr io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		require.NoError(t, err)
		rdr = bytes.NewReader(b)
	}
	req, err := http.NewRequest(method, a.http.URL+"/api/v1"+path, rdr)
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := a.http.Client().Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp.StatusCode, data
}

func (a *testAPI) login(t *testing.T, username, password string) tokenResponse {
	t.Helper()
	status, body := a.do(t, http.MethodPost, "/auth/login", "", loginRequest{Username: username, Password: password})
	require.Equal(t, http.StatusOK, status, string(body))

	var tok tokenResponse
	require.NoError(t, json.Unmarshal(body, &tok))
	require.NotEmpty(t, tok.AccessToken)
	require.NotEmpty(t, tok.RefreshToken)
	return tok
}

func (a *testAPI) refresh(t *testing.T, refreshToken string) (int, tokenResponse) {
	t.Helper()
	status, body := a.do(t, http.MethodPost, "/auth/refresh", "", refreshRequest{RefreshToken: refreshToken})
	var tok tokenResponse
	if status == http.StatusOK {
		require.NoError(t, json.Unmarshal(body, &tok))
	}
	return status, tok
}

// createAccount creates an account as root and returns it.
func (a *testAPI) createAccount(t *testing.T, rootToken, username string, roles ...string) auth.Account {
	t.Helper()
	status, body := a.do(t, http.MethodPost, "/accounts", rootToken, createAccountRequest{
		Username: username,
		Password: testPassword,
		Roles:    roles,
	})
	require.Equal(t, http.StatusCreated, status, string(body))

	var acc auth.Account
	require.NoError(t, json.Unmarshal(body, &acc))
	return acc
}

func decodeError(t *testing.T, body []byte) Error {
	t.Helper()
	var e Error
	require.NoError(t, json.Unmarshal(body, &e))
	return e
}

func requireAuthFailure(t *testing.T, status int, body []byte) {
	t.Helper()
	require.Equal(t, http.StatusUnauthorized, status, string(body))
	e := decodeError(t, body)
	assert.Equal(t, ErrCodeUnauthorized, e.Code)
	assert.Equal(t, authenticationFailedMessage, e.Message)
}

func TestNew_RequiresDependencies(t *testing.T) {
	_, err := New(Deps{})
	require.Error(t, err)

	_, err = New(Deps{Logger: logging.Discard()})
	require.ErrorContains(t, err, "lifecycle manager is required")
}

func TestHealth(t *testing.T) {
	api := testServer(t)

	status, body := api.do(t, http.MethodGet, "/health", "", nil)
	require.Equal(t, http.StatusOK, status)

	var resp struct {
		Status     string            `json:"status"`
		Version    string            `json:"version"`
		Components []componentHealth `json:"components"`
	}
	require.NoError(t, json.Unmarshal(body, &resp))
	assert.Equal(t, "ok", resp.Status)
	assert.Equal(t, "test", resp.Version)
	require.Len(t, resp.Components, 1)
	assert.Equal(t, "database", resp.Components[0].Name)
}

type failingCheck struct{}

func (failingCheck) HealthCheck(context.Context) error { return assert.AnError }

func TestHealth_DegradedAndUnhealthy(t *testing.T) {
	api := testServer(t)

	api.srv.checks["redis"] = failingCheck{}
	status, body := api.do(t, http.MethodGet, "/health", "", nil)
	require.Equal(t, http.StatusOK, status)
	assert.Contains(t, string(body), `"status":"degraded"`)

	api.srv.checks["database"] = failingCheck{}
	status, body = api.do(t, http.MethodGet, "/health", "", nil)
	require.Equal(t, http.StatusServiceUnavailable, status)
	assert.Contains(t, string(body), `"status":"unhealthy"`)
}

func TestMetricsEndpoint(t *testing.T) {
	api := testServer(t)
	api.login(t, rootUsername, testPassword)

	status, body := api.do(t, http.MethodGet, "/metrics", "", nil)
	require.Equal(t, http.StatusOK, status)
	assert.Contains(t, string(body), "sessiond_http_requests_total")
}

func TestLogin_Me(t *testing.T) {
	api := testServer(t)
	tok := api.login(t, rootUsername, testPassword)

	assert.Equal(t, "Bearer", tok.TokenType)
	assert.Equal(t, 900, tok.ExpiresIn)

	status, body := api.do(t, http.MethodGet, "/auth/me", tok.AccessToken, nil)
	require.Equal(t, http.StatusOK, status, string(body))

	var me meResponse
	require.NoError(t, json.Unmarshal(body, &me))
	assert.True(t, me.AllPermissions)
	assert.Equal(t, []string{auth.RoleSuperAdmin}, me.Roles)
}

func TestLogin_FailuresAreGeneric(t *testing.T) {
	api := testServer(t)

	tests := []struct {
		name     string
		username string
		password string
	}{
		{name: "wrong password", username: rootUsername, password: "wrong-password-entirely"},
		{name: "unknown user", username: "nobody", password: testPassword},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			status, body := api.do(t, http.MethodPost, "/auth/login", "", loginRequest{Username: tt.username, Password: tt.password})
			requireAuthFailure(t, status, body)
		})
	}

	status, body := api.do(t, http.MethodPost, "/auth/login", "", map[string]string{"username": rootUsername})
	assert.Equal(t, http.StatusBadRequest, status, string(body))
}

func TestLogin_LockedAccount(t *testing.T) {
	api := testServer(t)
	root := api.login(t, rootUsername, testPassword)
	alice := api.createAccount(t, root.AccessToken, "alice")

	status, body := api.do(t, http.MethodPost, "/accounts/"+alice.ID+"/lock", root.AccessToken, map[string]bool{"locked": true})
	require.Equal(t, http.StatusNoContent, status, string(body))

	status, body = api.do(t, http.MethodPost, "/auth/login", "", loginRequest{Username: "alice", Password: testPassword})
	requireAuthFailure(t, status, body)
}

func TestAuthMiddleware_RejectsBadCredentials(t *testing.T) {
	api := testServer(t)

	tests := []struct {
		name   string
		header string
	}{
		{name: "missing", header: ""},
		{name: "wrong scheme", header: "Basic abc"},
		{name: "garbage token", header: "Bearer not-a-jwt"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req, err := http.NewRequest(http.MethodGet, api.http.URL+"/api/v1/auth/me", nil)
			require.NoError(t, err)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			resp, err := api.http.Client().Do(req)
			require.NoError(t, err)
			defer resp.Body.Close()
			body, err := io.ReadAll(resp.Body)
			require.NoError(t, err)
			requireAuthFailure(t, resp.StatusCode, body)
		})
	}
}

func TestRefresh_RotatesAndDetectsReuse(t *testing.T) {
	api := testServer(t)
	first := api.login(t, rootUsername, testPassword)

	status, second := api.refresh(t, first.RefreshToken)
	require.Equal(t, http.StatusOK, status)
	assert.NotEqual(t, first.RefreshToken, second.RefreshToken)
	assert.Equal(t, first.RefreshExpiresAt, second.RefreshExpiresAt, "successor must inherit expiry")

	status, body := api.do(t, http.MethodPost, "/auth/refresh", "", refreshRequest{RefreshToken: first.RefreshToken})
	requireAuthFailure(t, status, body)

	// Reuse hard revokes the account: the successor and its access credential die too.
	status, _ = api.refresh(t, second.RefreshToken)
	assert.Equal(t, http.StatusUnauthorized, status)
	status, body = api.do(t, http.MethodGet, "/auth/me", second.AccessToken, nil)
	requireAuthFailure(t, status, body)
}

func TestRefresh_EmptyAndUnknown(t *testing.T) {
	api := testServer(t)

	status, body := api.do(t, http.MethodPost, "/auth/refresh", "", refreshRequest{})
	requireAuthFailure(t, status, body)

	status, body = api.do(t, http.MethodPost, "/auth/refresh", "", refreshRequest{RefreshToken: "never-issued"})
	requireAuthFailure(t, status, body)
}

func TestLogout(t *testing.T) {
	api := testServer(t)
	tok := api.login(t, rootUsername, testPassword)

	status, _ := api.do(t, http.MethodPost, "/auth/logout", tok.AccessToken, nil)
	require.Equal(t, http.StatusNoContent, status)

	status, body := api.do(t, http.MethodGet, "/auth/me", tok.AccessToken, nil)
	requireAuthFailure(t, status, body)
	status, _ = api.refresh(t, tok.RefreshToken)
	assert.Equal(t, http.StatusUnauthorized, status)
}

func TestPermissions_Enforced(t *testing.T) {
	api := testServer(t)
	root := api.login(t, rootUsername, testPassword)
	api.createAccount(t, root.AccessToken, "bob", auth.RoleMember)
	bob := api.login(t, "bob", testPassword)

	status, body := api.do(t, http.MethodGet, "/accounts", bob.AccessToken, nil)
	require.Equal(t, http.StatusForbidden, status)
	assert.Equal(t, ErrCodeForbidden, decodeError(t, body).Code)

	// Own sessions are always visible.
	status, body = api.do(t, http.MethodGet, "/sessions", bob.AccessToken, nil)
	require.Equal(t, http.StatusOK, status, string(body))
	assert.Contains(t, string(body), `"count":1`)

	rootAcc, err := api.identity.GetAccountByUsername(context.Background(), rootUsername)
	require.NoError(t, err)
	status, _ = api.do(t, http.MethodGet, "/sessions?account_id="+rootAcc.ID, bob.AccessToken, nil)
	assert.Equal(t, http.StatusForbidden, status)

	status, _ = api.do(t, http.MethodGet, "/accounts", root.AccessToken, nil)
	assert.Equal(t, http.StatusOK, status)
}

func TestAssignRole_SoftRevoke(t *testing.T) {
	api := testServer(t)
	root := api.login(t, rootUsername, testPassword)
	carol := api.createAccount(t, root.AccessToken, "carol", auth.RoleMember)
	tok := api.login(t, "carol", testPassword)

	status, body := api.do(t, http.MethodPost, "/accounts/"+carol.ID+"/roles", root.AccessToken, assignRoleRequest{Role: auth.RoleAdmin})
	require.Equal(t, http.StatusNoContent, status, string(body))

	// The outstanding access credential is stale...
	status, body = api.do(t, http.MethodGet, "/auth/me", tok.AccessToken, nil)
	requireAuthFailure(t, status, body)

	// ...but the refresh credential survives and picks up the new role.
	status, fresh := api.refresh(t, tok.RefreshToken)
	require.Equal(t, http.StatusOK, status)
	status, _ = api.do(t, http.MethodGet, "/accounts", fresh.AccessToken, nil)
	assert.Equal(t, http.StatusOK, status)
}

func TestRemoveRole_HardRevoke(t *testing.T) {
	api := testServer(t)
	root := api.login(t, rootUsername, testPassword)
	dave := api.createAccount(t, root.AccessToken, "dave", auth.RoleMember, auth.RoleAdmin)
	tok := api.login(t, "dave", testPassword)

	status, body := api.do(t, http.MethodDelete, "/accounts/"+dave.ID+"/roles/"+auth.RoleAdmin, root.AccessToken, nil)
	require.Equal(t, http.StatusNoContent, status, string(body))

	status, _ = api.refresh(t, tok.RefreshToken)
	assert.Equal(t, http.StatusUnauthorized, status)
}

func TestAssignRole_SuperadminNeedsSuperuser(t *testing.T) {
	api := testServer(t)
	root := api.login(t, rootUsername, testPassword)
	api.createAccount(t, root.AccessToken, "erin", auth.RoleAdmin)
	frank := api.createAccount(t, root.AccessToken, "frank", auth.RoleMember)
	erin := api.login(t, "erin", testPassword)

	status, body := api.do(t, http.MethodPost, "/accounts/"+frank.ID+"/roles", erin.AccessToken, assignRoleRequest{Role: auth.RoleSuperAdmin})
	require.Equal(t, http.StatusForbidden, status, string(body))

	status, _ = api.do(t, http.MethodPost, "/accounts", erin.AccessToken, createAccountRequest{
		Username: "mallory",
		Password: testPassword,
		Roles:    []string{auth.RoleSuperAdmin},
	})
	assert.Equal(t, http.StatusForbidden, status)
}

func TestSuperadminAccount_ReservedToSuperusers(t *testing.T) {
	api := testServer(t)
	root := api.login(t, rootUsername, testPassword)
	api.createAccount(t, root.AccessToken, "erin", auth.RoleAdmin)
	erin := api.login(t, "erin", testPassword)

	rootAcc, err := api.identity.GetAccountByUsername(context.Background(), rootUsername)
	require.NoError(t, err)

	status, body := api.do(t, http.MethodPut, "/accounts/"+rootAcc.ID+"/password", erin.AccessToken,
		changePasswordRequest{Password: "taken-over-passphrase"})
	require.Equal(t, http.StatusForbidden, status, string(body))
	assert.Equal(t, ErrCodeForbidden, decodeError(t, body).Code)

	status, body = api.do(t, http.MethodPost, "/auth/login", "", loginRequest{Username: rootUsername, Password: "taken-over-passphrase"})
	requireAuthFailure(t, status, body)

	locked := true
	status, _ = api.do(t, http.MethodPost, "/accounts/"+rootAcc.ID+"/lock", erin.AccessToken, lockAccountRequest{Locked: &locked})
	assert.Equal(t, http.StatusForbidden, status)

	status, _ = api.do(t, http.MethodDelete, "/accounts/"+rootAcc.ID, erin.AccessToken, nil)
	assert.Equal(t, http.StatusForbidden, status)

	// Root's session was never touched.
	status, _ = api.do(t, http.MethodGet, "/auth/me", root.AccessToken, nil)
	assert.Equal(t, http.StatusOK, status)

	// Ordinary accounts remain manageable by admins.
	grace := api.createAccount(t, root.AccessToken, "grace", auth.RoleMember)
	status, body = api.do(t, http.MethodPut, "/accounts/"+grace.ID+"/password", erin.AccessToken,
		changePasswordRequest{Password: "a-reset-by-admin"})
	require.Equal(t, http.StatusNoContent, status, string(body))
	status, _ = api.do(t, http.MethodPost, "/accounts/"+grace.ID+"/lock", erin.AccessToken, lockAccountRequest{Locked: &locked})
	assert.Equal(t, http.StatusNoContent, status)
}

func TestRoles_CannotGrantUnheldPermissions(t *testing.T) {
	api := testServer(t)
	root := api.login(t, rootUsername, testPassword)
	erinAcc := api.createAccount(t, root.AccessToken, "erin", auth.RoleAdmin)
	erin := api.login(t, "erin", testPassword)

	// The built-in admin role lacks settings.manage.
	status, body := api.do(t, http.MethodPost, "/roles", erin.AccessToken, createRoleRequest{
		Name:        "settings-admin",
		Permissions: []auth.Permission{auth.PermSettingsView, auth.PermSettingsManage},
	})
	require.Equal(t, http.StatusForbidden, status, string(body))

	status, body = api.do(t, http.MethodPost, "/roles", erin.AccessToken, createRoleRequest{
		Name:        "viewer",
		Permissions: []auth.Permission{auth.PermSettingsView},
	})
	require.Equal(t, http.StatusCreated, status, string(body))

	widened := []auth.Permission{auth.PermSettingsView, auth.PermSettingsManage}
	status, _ = api.do(t, http.MethodPatch, "/roles/viewer", erin.AccessToken, updateRoleRequest{Permissions: &widened})
	assert.Equal(t, http.StatusForbidden, status)

	// A role root built with settings.manage cannot be handed out by erin.
	status, body = api.do(t, http.MethodPost, "/roles", root.AccessToken, createRoleRequest{
		Name:        "operator",
		Permissions: []auth.Permission{auth.PermSettingsManage},
	})
	require.Equal(t, http.StatusCreated, status, string(body))

	status, _ = api.do(t, http.MethodPost, "/accounts/"+erinAcc.ID+"/roles", erin.AccessToken, assignRoleRequest{Role: "operator"})
	assert.Equal(t, http.StatusForbidden, status)

	status, _ = api.do(t, http.MethodPost, "/accounts", erin.AccessToken, createAccountRequest{
		Username: "mallory",
		Password: testPassword,
		Roles:    []string{"operator"},
	})
	assert.Equal(t, http.StatusForbidden, status)

	// Roles within erin's own grant are fine.
	status, body = api.do(t, http.MethodPost, "/accounts", erin.AccessToken, createAccountRequest{
		Username: "oscar",
		Password: testPassword,
		Roles:    []string{"viewer"},
	})
	require.Equal(t, http.StatusCreated, status, string(body))

	acc, err := api.identity.GetAccount(context.Background(), erinAcc.ID)
	require.NoError(t, err)
	assert.NotContains(t, acc.Roles, "operator")
}

func TestAccounts_CreateValidation(t *testing.T) {
	api := testServer(t)
	root := api.login(t, rootUsername, testPassword)

	tests := []struct {
		name       string
		req        createAccountRequest
		wantStatus int
		wantCode   string
	}{
		{
			name:       "weak password",
			req:        createAccountRequest{Username: "grace", Password: "short"},
			wantStatus: http.StatusBadRequest,
			wantCode:   ErrCodeValidation,
		},
		{
			name:       "unknown role",
			req:        createAccountRequest{Username: "grace", Password: testPassword, Roles: []string{"ghost"}},
			wantStatus: http.StatusNotFound,
			wantCode:   ErrCodeNotFound,
		},
		{
			name:       "duplicate username",
			req:        createAccountRequest{Username: rootUsername, Password: testPassword},
			wantStatus: http.StatusConflict,
			wantCode:   ErrCodeConflict,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			status, body := api.do(t, http.MethodPost, "/accounts", root.AccessToken, tt.req)
			require.Equal(t, tt.wantStatus, status, string(body))
			assert.Equal(t, tt.wantCode, decodeError(t, body).Code)
		})
	}
}

func TestAccounts_ChangePasswordAndDelete(t *testing.T) {
	api := testServer(t)
	root := api.login(t, rootUsername, testPassword)
	heidi := api.createAccount(t, root.AccessToken, "heidi", auth.RoleMember)
	tok := api.login(t, "heidi", testPassword)

	// Self-service password change ends the account's own sessions.
	status, body := api.do(t, http.MethodPut, "/accounts/"+heidi.ID+"/password", tok.AccessToken,
		changePasswordRequest{Password: "a-brand-new-passphrase"})
	require.Equal(t, http.StatusNoContent, status, string(body))
	status, _ = api.refresh(t, tok.RefreshToken)
	assert.Equal(t, http.StatusUnauthorized, status)
	api.login(t, "heidi", "a-brand-new-passphrase")

	status, _ = api.do(t, http.MethodDelete, "/accounts/"+heidi.ID, root.AccessToken, nil)
	require.Equal(t, http.StatusNoContent, status)
	status, _ = api.do(t, http.MethodGet, "/accounts/"+heidi.ID, root.AccessToken, nil)
	assert.Equal(t, http.StatusNotFound, status)

	rootAcc, err := api.identity.GetAccountByUsername(context.Background(), rootUsername)
	require.NoError(t, err)
	status, _ = api.do(t, http.MethodDelete, "/accounts/"+rootAcc.ID, root.AccessToken, nil)
	assert.Equal(t, http.StatusBadRequest, status)
}

func TestRevokeSessions(t *testing.T) {
	api := testServer(t)
	root := api.login(t, rootUsername, testPassword)
	ivan := api.createAccount(t, root.AccessToken, "ivan", auth.RoleMember)
	tok := api.login(t, "ivan", testPassword)

	status, _ := api.do(t, http.MethodDelete, "/accounts/"+ivan.ID+"/sessions", root.AccessToken, nil)
	require.Equal(t, http.StatusNoContent, status)

	status, body := api.do(t, http.MethodGet, "/auth/me", tok.AccessToken, nil)
	requireAuthFailure(t, status, body)
	status, body = api.do(t, http.MethodGet, "/sessions?account_id="+ivan.ID, root.AccessToken, nil)
	require.Equal(t, http.StatusOK, status)
	assert.Contains(t, string(body), `"count":0`)
}

func TestRoles_Lifecycle(t *testing.T) {
	api := testServer(t)
	root := api.login(t, rootUsername, testPassword)

	status, body := api.do(t, http.MethodPost, "/roles", root.AccessToken, createRoleRequest{
		Name:        "auditor",
		Permissions: []auth.Permission{auth.PermAuditView, auth.PermUsersView},
	})
	require.Equal(t, http.StatusCreated, status, string(body))

	judy := api.createAccount(t, root.AccessToken, "judy", "auditor")
	tok := api.login(t, "judy", testPassword)
	status, _ = api.do(t, http.MethodGet, "/audit", tok.AccessToken, nil)
	require.Equal(t, http.StatusOK, status)

	// Removing a permission hard revokes every member.
	perms := []auth.Permission{auth.PermAuditView}
	status, body = api.do(t, http.MethodPatch, "/roles/auditor", root.AccessToken, updateRoleRequest{Permissions: &perms})
	require.Equal(t, http.StatusOK, status, string(body))
	var change roleChangeResponse
	require.NoError(t, json.Unmarshal(body, &change))
	assert.Equal(t, []auth.Permission{auth.PermUsersView}, change.Removed)
	assert.Equal(t, 1, change.Revoked)

	status, _ = api.refresh(t, tok.RefreshToken)
	assert.Equal(t, http.StatusUnauthorized, status)

	status, _ = api.do(t, http.MethodDelete, "/roles/auditor", root.AccessToken, nil)
	require.Equal(t, http.StatusNoContent, status)
	status, body = api.do(t, http.MethodGet, "/accounts/"+judy.ID, root.AccessToken, nil)
	require.Equal(t, http.StatusOK, status)
	assert.NotContains(t, string(body), "auditor")
}

func TestRoles_Errors(t *testing.T) {
	api := testServer(t)
	root := api.login(t, rootUsername, testPassword)

	status, body := api.do(t, http.MethodPost, "/roles", root.AccessToken, createRoleRequest{
		Name:        "weird",
		Permissions: []auth.Permission{"launch.missiles"},
	})
	require.Equal(t, http.StatusBadRequest, status)
	assert.Equal(t, ErrCodeValidation, decodeError(t, body).Code)

	status, _ = api.do(t, http.MethodDelete, "/roles/"+auth.RoleAdmin, root.AccessToken, nil)
	assert.Equal(t, http.StatusConflict, status)

	status, _ = api.do(t, http.MethodGet, "/roles/ghost", root.AccessToken, nil)
	assert.Equal(t, http.StatusNotFound, status)

	status, _ = api.do(t, http.MethodPatch, "/roles/"+auth.RoleMember, root.AccessToken, updateRoleRequest{})
	assert.Equal(t, http.StatusBadRequest, status)
}

func TestPermissionsList(t *testing.T) {
	api := testServer(t)
	root := api.login(t, rootUsername, testPassword)

	status, body := api.do(t, http.MethodGet, "/permissions", root.AccessToken, nil)
	require.Equal(t, http.StatusOK, status)
	assert.Contains(t, string(body), string(auth.PermSessionsRevoke))
}

func TestAudit_RecordsSecurityEvents(t *testing.T) {
	api := testServer(t)
	root := api.login(t, rootUsername, testPassword)
	api.do(t, http.MethodPost, "/auth/login", "", loginRequest{Username: rootUsername, Password: "wrong-password-entirely"})

	status, body := api.do(t, http.MethodGet, "/audit?action="+auth.EventLoginFailed, root.AccessToken, nil)
	require.Equal(t, http.StatusOK, status, string(body))

	var result audit.ListResult
	require.NoError(t, json.Unmarshal(body, &result))
	require.Equal(t, 1, result.Total)
	assert.Equal(t, rootUsername, result.Entries[0].Actor)

	status, _ = api.do(t, http.MethodGet, "/audit?since=yesterday", root.AccessToken, nil)
	assert.Equal(t, http.StatusBadRequest, status)
}

func TestRateLimit_Login(t *testing.T) {
	api := testServerWithRateLimit(t, config.RateLimitConfig{
		Enabled:           true,
		RequestsPerMinute: 2,
		Burst:             2,
	})

	bad := loginRequest{Username: rootUsername, Password: "wrong-password-entirely"}
	for range 2 {
		status, _ := api.do(t, http.MethodPost, "/auth/login", "", bad)
		require.Equal(t, http.StatusUnauthorized, status)
	}
	status, body := api.do(t, http.MethodPost, "/auth/login", "", bad)
	require.Equal(t, http.StatusTooManyRequests, status)
	assert.Equal(t, ErrCodeRateLimited, decodeError(t, body).Code)

	// Other routes are not limited.
	status, _ = api.do(t, http.MethodGet, "/health", "", nil)
	assert.Equal(t, http.StatusOK, status)
}

func TestCORS_Preflight(t *testing.T) {
	api := testServer(t)

	req, err := http.NewRequest(http.MethodOptions, api.http.URL+"/api/v1/auth/login", nil)
	require.NoError(t, err)
	req.Header.Set("Origin", "http://localhost:3000")
	resp, err := api.http.Client().Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusNoContent, resp.StatusCode)
	assert.Equal(t, "http://localhost:3000", resp.Header.Get("Access-Control-Allow-Origin"))
}

func TestRequestID_Echoed(t *testing.T) {
	api := testServer(t)

	req, err := http.NewRequest(http.MethodGet, api.http.URL+"/api/v1/health", nil)
	require.NoError(t, err)
	req.Header.Set("X-Request-ID", "req-123")
	resp, err := api.http.Client().Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, "req-123", resp.Header.Get("X-Request-ID"))
}
