package auth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/nerrad567/sessiond/internal/infrastructure/logging"
	"github.com/nerrad567/sessiond/internal/infrastructure/metrics"
)

// Revocation policies.
const (
	// PolicySoft forces access credentials to be re-minted. Refresh
	// credentials stay valid, so the next redemption picks up new state.
	PolicySoft = "soft"

	// PolicyHard also invalidates every refresh credential, forcing a new login.
	PolicyHard = "hard"
)

// Revocation reasons.
const (
	ReasonRoleAssigned       = "role_assigned"
	ReasonRoleRemoved        = "role_removed"
	ReasonRoleRenamed        = "role_renamed"
	ReasonPermissionsGranted = "permissions_granted"
	ReasonPermissionsRemoved = "permissions_removed"
	ReasonRoleDeleted        = "role_deleted"
	ReasonPasswordChanged    = "password_changed"
	ReasonAccountLocked      = "account_locked"
	ReasonAccountDeleted     = "account_deleted"
	ReasonLogout             = "logout"
	ReasonReuseDetected      = "reuse_detected"
	ReasonAdminRevoke        = "admin_revoke"
)

// RevocationNotice is published after every revocation so peers can evict
// their cached fingerprint hash.
type RevocationNotice struct {
	AccountID string    `json:"account_id"`
	Policy    string    `json:"policy"`
	Reason    string    `json:"reason"`
	Origin    string    `json:"origin"`
	At        time.Time `json:"at"`
}

// NoticePublisher is satisfied by the MQTT client.
type NoticePublisher interface {
	PublishRevocation(accountID string, payload []byte) error
}

// Coordinator applies revocation policies.
type Coordinator struct {
	identity  IdentityStore
	cache     RevocationCache
	tokens    TokenStore
	publisher NoticePublisher
	origin    string
	logger    *logging.Logger
	events    EventRecorder
	now       func() time.Time
	timeout   time.Duration

	mu        sync.RWMutex
	listeners []func(RevocationNotice)
}

// CoordinatorOption configures a Coordinator.
type CoordinatorOption func(*Coordinator)

// WithNoticePublisher publishes notices tagged with origin, this node's ID.
func WithNoticePublisher(p NoticePublisher, origin string) CoordinatorOption {
	return func(c *Coordinator) {
		c.publisher = p
		c.origin = origin
	}
}

// WithCoordinatorLogger sets the logger.
func WithCoordinatorLogger(l *logging.Logger) CoordinatorOption {
	return func(c *Coordinator) { c.logger = l }
}

// WithCoordinatorEventRecorder sets where revocations are reported.
func WithCoordinatorEventRecorder(r EventRecorder) CoordinatorOption {
	return func(c *Coordinator) { c.events = r }
}

// WithCoordinatorClock overrides the notice timestamp clock.
func WithCoordinatorClock(now func() time.Time) CoordinatorOption {
	return func(c *Coordinator) { c.now = now }
}

// WithCoordinatorTimeout bounds each store and cache call of a revocation.
func WithCoordinatorTimeout(d time.Duration) CoordinatorOption {
	return func(c *Coordinator) {
		if d > 0 {
			c.timeout = d
		}
	}
}

// NewCoordinator creates a Coordinator.
func NewCoordinator(identity IdentityStore, cache RevocationCache, tokens TokenStore, opts ...CoordinatorOption) *Coordinator {
	c := &Coordinator{
		identity: identity,
		cache:    cache,
		tokens:   tokens,
		logger:   logging.Discard(),
		events:   nopRecorder{},
		now:      time.Now,
		timeout:  DefaultLookupTimeout,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// OnRevocation registers fn to be called after every local or peer revocation.
// fn runs synchronously and must not block.
func (c *Coordinator) OnRevocation(fn func(RevocationNotice)) {
	c.mu.Lock()
	c.listeners = append(c.listeners, fn)
	c.mu.Unlock()
}

// SoftRevoke rotates the account's fingerprint and evicts its cache entry.
// Outstanding access credentials fail their next stamp check; refresh
// credentials are untouched.
func (c *Coordinator) SoftRevoke(ctx context.Context, accountID, reason string) error {
	return c.revoke(ctx, accountID, PolicySoft, reason)
}

// HardRevoke is SoftRevoke plus invalidation of every refresh credential.
func (c *Coordinator) HardRevoke(ctx context.Context, accountID, reason string) error {
	return c.revoke(ctx, accountID, PolicyHard, reason)
}

// revoke stops at a failed fingerprint rotation. Later steps all run and
// their errors are joined.
func (c *Coordinator) revoke(ctx context.Context, accountID, policy, reason string) error {
	fingerprint, err := NewFingerprint()
	if err != nil {
		return err
	}
	callCtx, cancel := context.WithTimeout(ctx, c.timeout)
	err = c.identity.UpdateRevocationFingerprint(callCtx, accountID, fingerprint)
	cancel()
	if err != nil {
		return fmt.Errorf("rotating revocation fingerprint: %w", err)
	}

	var errs []error
	var invalidated int64
	if policy == PolicyHard {
		callCtx, cancel = context.WithTimeout(ctx, c.timeout)
		invalidated, err = c.tokens.InvalidateAllForAccount(callCtx, accountID)
		cancel()
		if err != nil {
			errs = append(errs, fmt.Errorf("invalidating refresh credentials: %w", err))
		}
	}
	callCtx, cancel = context.WithTimeout(ctx, c.timeout)
	err = c.cache.Delete(callCtx, accountID)
	cancel()
	if err != nil {
		errs = append(errs, fmt.Errorf("evicting revocation cache: %w", err))
	}

	metrics.ObserveRevocation(policy, reason)
	c.logger.Info("account revoked",
		"account_id", accountID,
		"policy", policy,
		"reason", reason,
		"credentials_invalidated", invalidated,
	)
	c.events.RecordSecurityEvent(ctx, SecurityEvent{
		Type:      EventRevoke,
		AccountID: accountID,
		Policy:    policy,
		Reason:    reason,
		Outcome:   "applied",
	})

	notice := RevocationNotice{
		AccountID: accountID,
		Policy:    policy,
		Reason:    reason,
		Origin:    c.origin,
		At:        c.now().UTC(),
	}
	c.publish(notice)
	c.notify(notice)

	return errors.Join(errs...)
}

func (c *Coordinator) publish(notice RevocationNotice) {
	if c.publisher == nil {
		return
	}
	payload, err := json.Marshal(notice)
	if err != nil {
		c.logger.Warn("encoding revocation notice failed", "error", err)
		return
	}
	if err := c.publisher.PublishRevocation(notice.AccountID, payload); err != nil {
		c.logger.Warn("publishing revocation notice failed",
			"account_id", notice.AccountID,
			"error", err,
		)
	}
}

func (c *Coordinator) notify(notice RevocationNotice) {
	c.mu.RLock()
	listeners := c.listeners
	c.mu.RUnlock()

	for _, fn := range listeners {
		fn(notice)
	}
}

// HandleNotice evicts the cache entry named by a peer's notice. Notices
// from this node are ignored. Its signature matches mqtt.MessageHandler.
func (c *Coordinator) HandleNotice(_ string, payload []byte) error {
	var notice RevocationNotice
	if err := json.Unmarshal(payload, &notice); err != nil {
		return fmt.Errorf("decoding revocation notice: %w", err)
	}
	if notice.AccountID == "" {
		return errors.New("revocation notice without account_id")
	}
	if c.origin != "" && notice.Origin == c.origin {
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), c.timeout)
	defer cancel()
	if err := c.cache.Delete(ctx, notice.AccountID); err != nil {
		return fmt.Errorf("evicting revocation cache: %w", err)
	}

	c.logger.Debug("peer revocation applied",
		"account_id", notice.AccountID,
		"origin", notice.Origin,
		"policy", notice.Policy,
	)
	c.notify(notice)
	return nil
}
