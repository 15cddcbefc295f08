package auth

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/nerrad567/sessiond/internal/infrastructure/logging"
	"github.com/nerrad567/sessiond/internal/infrastructure/metrics"
)

const (
	// DefaultSessionTTL is the refresh window of a non-persistent login.
	DefaultSessionTTL = 24 * time.Hour

	// DefaultPersistentTTL is the refresh window of a "remember me" login.
	DefaultPersistentTTL = 30 * 24 * time.Hour
)

// IssuedCredential is a freshly issued refresh credential. Secret is shown
// to the client once and never stored.
type IssuedCredential struct {
	Secret     string
	Credential *RefreshCredential
}

// Manager owns the refresh credential lifecycle: issue, single-use
// rotation with reuse detection, and revocation.
type Manager struct {
	tokens      TokenStore
	identity    IdentityStore
	issuer      *Issuer
	hasher      *Hasher
	coordinator *Coordinator

	sessionTTL    time.Duration
	persistentTTL time.Duration
	lookupTimeout time.Duration
	now           func() time.Time
	logger        *logging.Logger
	events        EventRecorder
}

// ManagerOption configures a Manager.
type ManagerOption func(*Manager)

// WithSessionTTL sets the refresh window for non-persistent logins.
func WithSessionTTL(d time.Duration) ManagerOption {
	return func(m *Manager) {
		if d > 0 {
			m.sessionTTL = d
		}
	}
}

// WithPersistentTTL sets the refresh window for persistent logins.
func WithPersistentTTL(d time.Duration) ManagerOption {
	return func(m *Manager) {
		if d > 0 {
			m.persistentTTL = d
		}
	}
}

// WithLookupTimeout bounds each store call.
func WithLookupTimeout(d time.Duration) ManagerOption {
	return func(m *Manager) {
		if d > 0 {
			m.lookupTimeout = d
		}
	}
}

// WithClock overrides the clock used for expiry decisions.
func WithClock(now func() time.Time) ManagerOption {
	return func(m *Manager) { m.now = now }
}

// WithLogger sets the logger.
func WithLogger(l *logging.Logger) ManagerOption {
	return func(m *Manager) { m.logger = l }
}

// WithEventRecorder sets where lifecycle events are reported.
func WithEventRecorder(r EventRecorder) ManagerOption {
	return func(m *Manager) { m.events = r }
}

// NewManager creates a Manager.
func NewManager(tokens TokenStore, identity IdentityStore, issuer *Issuer, hasher *Hasher, coordinator *Coordinator, opts ...ManagerOption) *Manager {
	m := &Manager{
		tokens:        tokens,
		identity:      identity,
		issuer:        issuer,
		hasher:        hasher,
		coordinator:   coordinator,
		sessionTTL:    DefaultSessionTTL,
		persistentTTL: DefaultPersistentTTL,
		lookupTimeout: DefaultLookupTimeout,
		now:           time.Now,
		logger:        logging.Discard(),
		events:        nopRecorder{},
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// AccessTTL returns the lifetime of minted access credentials.
func (m *Manager) AccessTTL() time.Duration {
	return m.issuer.TTL()
}

func (m *Manager) bounded(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, m.lookupTimeout)
}

// Issue creates a refresh credential for accountID. Persistent credentials
// live for the persistent window, others for the session window.
func (m *Manager) Issue(ctx context.Context, accountID string, persistent bool) (*IssuedCredential, error) {
	return m.issue(ctx, accountID, persistent, "")
}

func (m *Manager) issue(ctx context.Context, accountID string, persistent bool, deviceInfo string) (*IssuedCredential, error) {
	secret, err := newSecret()
	if err != nil {
		return nil, err
	}

	now := m.now()
	ttl := m.sessionTTL
	if persistent {
		ttl = m.persistentTTL
	}
	cred := &RefreshCredential{
		AccountID:    accountID,
		TokenHash:    m.hasher.HashSecret(secret),
		CreatedAt:    now,
		ExpiresAt:    now.Add(ttl),
		IsPersistent: persistent,
		DeviceInfo:   deviceInfo,
	}

	ctx, cancel := m.bounded(ctx)
	defer cancel()
	if err := m.tokens.Create(ctx, cred); err != nil {
		return nil, err
	}
	return &IssuedCredential{Secret: secret, Credential: cred}, nil
}

// Login issues a refresh credential and mints the first access credential
// for an account whose password has already been verified.
func (m *Manager) Login(ctx context.Context, accountID string, persistent bool, deviceInfo string) (*TokenPair, error) {
	roles, perms, fph, err := m.loadAuthorization(ctx, accountID)
	if err != nil {
		return nil, err
	}
	issued, err := m.issue(ctx, accountID, persistent, deviceInfo)
	if err != nil {
		return nil, err
	}
	access, claims, err := m.issuer.Mint(accountID, roles, perms, fph)
	if err != nil {
		return nil, err
	}

	m.events.RecordSecurityEvent(ctx, SecurityEvent{
		Type:         EventLogin,
		AccountID:    accountID,
		CredentialID: issued.Credential.ID,
		Outcome:      "success",
	})
	return &TokenPair{
		AccessToken:  access,
		Claims:       claims,
		RefreshToken: issued.Secret,
		Credential:   issued.Credential,
	}, nil
}

// Redeem exchanges a refresh secret for a successor secret and a fresh
// access credential. The successor inherits the original expiry, so
// rotation never extends a session.
//
// Presenting an already used secret is treated as theft: every credential
// of the account is invalidated, the account is hard revoked, and
// ErrReused is returned.
func (m *Manager) Redeem(ctx context.Context, rawSecret string) (*TokenPair, error) {
	pair, err := m.redeem(ctx, rawSecret)
	metrics.ObserveRedemption(errorKind(err))
	if err != nil && !errors.Is(err, ErrReused) {
		m.events.RecordSecurityEvent(ctx, SecurityEvent{
			Type:    EventRefreshFailed,
			Outcome: errorKind(err),
		})
	}
	return pair, err
}

func (m *Manager) redeem(ctx context.Context, rawSecret string) (*TokenPair, error) {
	if rawSecret == "" {
		return nil, ErrNotFound
	}
	hash := m.hasher.HashSecret(rawSecret)

	cred, err := m.lookup(ctx, hash)
	if err != nil {
		return nil, err
	}

	now := m.now()
	if !now.Before(cred.ExpiresAt) {
		if !cred.Invalidated {
			lctx, cancel := m.bounded(ctx)
			defer cancel()
			if err := m.tokens.Invalidate(lctx, cred.ID); err != nil {
				return nil, err
			}
		}
		return nil, ErrExpired
	}
	if cred.Invalidated {
		return nil, ErrInvalidated
	}
	if cred.Used {
		return nil, m.handleReuse(ctx, cred)
	}

	// Authorization is read before the rotation so a failed lookup leaves
	// the presented credential redeemable.
	roles, perms, fph, err := m.loadAuthorization(ctx, cred.AccountID)
	if err != nil {
		if errors.Is(err, ErrAccountNotFound) || errors.Is(err, ErrAccountInactive) {
			return nil, fmt.Errorf("%w: %w", ErrUnauthorized, err)
		}
		return nil, err
	}

	secret, err := newSecret()
	if err != nil {
		return nil, err
	}
	successor := &RefreshCredential{
		AccountID:    cred.AccountID,
		TokenHash:    m.hasher.HashSecret(secret),
		CreatedAt:    now,
		ExpiresAt:    cred.ExpiresAt,
		IsPersistent: cred.IsPersistent,
		DeviceInfo:   cred.DeviceInfo,
	}

	rctx, cancel := m.bounded(ctx)
	err = m.tokens.Rotate(rctx, cred.ID, successor)
	cancel()
	if err != nil {
		if errors.Is(err, ErrReused) {
			return nil, m.lostRotation(ctx, hash, cred)
		}
		return nil, err
	}

	access, claims, err := m.issuer.Mint(cred.AccountID, roles, perms, fph)
	if err != nil {
		return nil, err
	}

	m.events.RecordSecurityEvent(ctx, SecurityEvent{
		Type:         EventRefresh,
		AccountID:    cred.AccountID,
		CredentialID: successor.ID,
		Outcome:      "success",
	})
	return &TokenPair{
		AccessToken:  access,
		Claims:       claims,
		RefreshToken: secret,
		Credential:   successor,
	}, nil
}

func (m *Manager) lookup(ctx context.Context, hash string) (*RefreshCredential, error) {
	ctx, cancel := m.bounded(ctx)
	defer cancel()
	return m.tokens.GetByHash(ctx, hash)
}

// lostRotation runs when the conditional update matched nothing. A
// concurrent revocation shows as invalidated-but-unused and is not theft;
// anything else means another redemption won.
func (m *Manager) lostRotation(ctx context.Context, hash string, cred *RefreshCredential) error {
	latest, err := m.lookup(ctx, hash)
	if err == nil && latest.Invalidated && !latest.Used {
		return ErrInvalidated
	}
	return m.handleReuse(ctx, cred)
}

// handleReuse hard revokes the account after a used secret was presented
// again, which also invalidates every refresh credential. It finishes even
// if the caller's context is cancelled.
func (m *Manager) handleReuse(ctx context.Context, cred *RefreshCredential) error {
	rctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 2*m.lookupTimeout)
	defer cancel()

	m.logger.AlertContext(ctx, "refresh credential reuse detected",
		"account_id", cred.AccountID,
		"credential_id", cred.ID,
		"replaced_by", cred.ReplacedBy,
	)
	m.events.RecordSecurityEvent(ctx, SecurityEvent{
		Type:         EventReuseDetected,
		AccountID:    cred.AccountID,
		CredentialID: cred.ID,
		Outcome:      "alert",
	})

	if err := m.coordinator.HardRevoke(rctx, cred.AccountID, ReasonReuseDetected); err != nil {
		m.logger.Error("hard revoke after reuse failed",
			"account_id", cred.AccountID,
			"error", err,
		)
	}
	return ErrReused
}

// Revoke invalidates every refresh credential of the account. Access
// credentials are unaffected; use the Coordinator to end those too.
func (m *Manager) Revoke(ctx context.Context, accountID string) error {
	count, err := m.tokens.InvalidateAllForAccount(ctx, accountID)
	if err != nil {
		return err
	}
	m.logger.Info("refresh credentials invalidated",
		"account_id", accountID,
		"count", count,
	)
	return nil
}

// Logout ends every session of the account named in claims.
func (m *Manager) Logout(ctx context.Context, claims *AccessClaims) error {
	if claims == nil {
		return ErrUnauthorized
	}
	if err := m.coordinator.HardRevoke(ctx, claims.AccountID, ReasonLogout); err != nil {
		return err
	}
	m.events.RecordSecurityEvent(ctx, SecurityEvent{
		Type:      EventLogout,
		AccountID: claims.AccountID,
		Outcome:   "success",
	})
	return nil
}

// ListSessions returns the account's redeemable refresh credentials.
func (m *Manager) ListSessions(ctx context.Context, accountID string) ([]RefreshCredential, error) {
	ctx, cancel := m.bounded(ctx)
	defer cancel()
	return m.tokens.ListActiveByAccount(ctx, accountID, m.now())
}

// PurgeExpired deletes credentials past their expiry.
func (m *Manager) PurgeExpired(ctx context.Context) (int64, error) {
	count, err := m.tokens.DeleteExpired(ctx, m.now())
	if err != nil {
		return 0, err
	}
	if count > 0 {
		m.logger.Info("expired refresh credentials purged", "count", count)
	}
	return count, nil
}

// loadAuthorization reads roles, permissions and the fingerprint hash
// fresh from the identity store. Superusers skip the permission read.
func (m *Manager) loadAuthorization(ctx context.Context, accountID string) (roles []string, perms []Permission, fph string, err error) {
	ctx, cancel := m.bounded(ctx)
	defer cancel()

	if roles, err = m.identity.GetAccountRoles(ctx, accountID); err != nil {
		return nil, nil, "", err
	}
	if !HasSuperuserRole(roles) {
		if perms, err = m.identity.GetPermissionsForRoles(ctx, roles); err != nil {
			return nil, nil, "", err
		}
	}
	fingerprint, err := m.identity.GetRevocationFingerprint(ctx, accountID)
	if err != nil {
		return nil, nil, "", err
	}
	return roles, perms, m.hasher.HashFingerprint(fingerprint), nil
}
