package auth

import (
	"context"
	"fmt"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/nerrad567/sessiond/internal/infrastructure/logging"
	"github.com/nerrad567/sessiond/internal/infrastructure/metrics"
)

const (
	// DefaultStampCacheTTL bounds how long a cached fingerprint hash is trusted.
	DefaultStampCacheTTL = 5 * time.Minute

	// DefaultLookupTimeout bounds every cache and store call made on a request path.
	DefaultLookupTimeout = 2 * time.Second
)

// Stamp check results, used as metric labels.
const (
	stampValid    = "valid"
	stampLegacy   = "legacy"
	stampMismatch = "mismatch"
	stampError    = "error"
)

// StampValidator checks that an access credential's fingerprint hash still
// matches the account's current revocation fingerprint.
type StampValidator struct {
	identity      IdentityStore
	cache         RevocationCache
	hasher        *Hasher
	cacheTTL      time.Duration
	lookupTimeout time.Duration
	logger        *logging.Logger
	events        EventRecorder
	loads         singleflight.Group
}

// StampOption configures a StampValidator.
type StampOption func(*StampValidator)

// WithStampCacheTTL sets how long loaded hashes stay cached.
func WithStampCacheTTL(d time.Duration) StampOption {
	return func(v *StampValidator) {
		if d > 0 {
			v.cacheTTL = d
		}
	}
}

// WithStampLookupTimeout bounds each cache or store lookup.
func WithStampLookupTimeout(d time.Duration) StampOption {
	return func(v *StampValidator) {
		if d > 0 {
			v.lookupTimeout = d
		}
	}
}

// WithStampLogger sets the logger.
func WithStampLogger(l *logging.Logger) StampOption {
	return func(v *StampValidator) { v.logger = l }
}

// WithStampEventRecorder sets where mismatches are reported.
func WithStampEventRecorder(r EventRecorder) StampOption {
	return func(v *StampValidator) { v.events = r }
}

// NewStampValidator creates a validator over the given store and cache.
func NewStampValidator(identity IdentityStore, cache RevocationCache, hasher *Hasher, opts ...StampOption) *StampValidator {
	v := &StampValidator{
		identity:      identity,
		cache:         cache,
		hasher:        hasher,
		cacheTTL:      DefaultStampCacheTTL,
		lookupTimeout: DefaultLookupTimeout,
		logger:        logging.Discard(),
		events:        nopRecorder{},
	}
	for _, opt := range opts {
		opt(v)
	}
	return v
}

// Validate returns nil when claims carry no fingerprint hash or carry the
// current one. Anything else, including cache and store failures, is
// ErrUnauthorized.
func (v *StampValidator) Validate(ctx context.Context, claims *AccessClaims) error {
	if claims == nil {
		return ErrUnauthorized
	}
	if claims.FingerprintHash == "" {
		metrics.ObserveStampCheck(stampLegacy)
		return nil
	}

	current, err := v.currentHash(ctx, claims.AccountID)
	if err != nil {
		metrics.ObserveStampCheck(stampError)
		v.logger.Warn("security stamp lookup failed",
			"account_id", claims.AccountID,
			"error", err,
		)
		return fmt.Errorf("%w: security stamp lookup: %w", ErrUnauthorized, err)
	}

	if !EqualDigests(current, claims.FingerprintHash) {
		metrics.ObserveStampCheck(stampMismatch)
		v.events.RecordSecurityEvent(ctx, SecurityEvent{
			Type:      EventStampMismatch,
			AccountID: claims.AccountID,
			Outcome:   "denied",
		})
		return fmt.Errorf("%w: security stamp is stale", ErrUnauthorized)
	}

	metrics.ObserveStampCheck(stampValid)
	return nil
}

// currentHash reads the cache and falls back to the identity store on a
// miss. A cache read error is returned as is; the store is not consulted.
func (v *StampValidator) currentHash(ctx context.Context, accountID string) (string, error) {
	cacheCtx, cancel := context.WithTimeout(ctx, v.lookupTimeout)
	hash, found, err := v.cache.Get(cacheCtx, accountID)
	cancel()
	if err != nil {
		return "", fmt.Errorf("revocation cache: %w", err)
	}
	if found {
		return hash, nil
	}
	return v.load(ctx, accountID)
}

// load fetches and caches the hash. Concurrent misses for one account share
// a single store read, which runs to its own timeout even if the first
// caller goes away.
func (v *StampValidator) load(ctx context.Context, accountID string) (string, error) {
	ch := v.loads.DoChan(accountID, func() (any, error) {
		loadCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), v.lookupTimeout)
		defer cancel()
		return v.populate(loadCtx, accountID)
	})

	select {
	case <-ctx.Done():
		return "", ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return "", res.Err
		}
		return res.Val.(string), nil //nolint:forcetypeassert // load only returns strings
	}
}

// populate caches the hash of the stored fingerprint, then reads the
// fingerprint again. A revocation that rotated it between the two reads may
// already have evicted the cache, so the entry just written is removed and
// the newer hash is returned.
func (v *StampValidator) populate(ctx context.Context, accountID string) (any, error) {
	fingerprint, err := v.identity.GetRevocationFingerprint(ctx, accountID)
	if err != nil {
		return "", fmt.Errorf("identity store: %w", err)
	}
	hash := v.hasher.HashFingerprint(fingerprint)

	if err := v.cache.Set(ctx, accountID, hash, v.cacheTTL); err != nil {
		v.logger.Warn("populating revocation cache failed",
			"account_id", accountID,
			"error", err,
		)
		return hash, nil
	}

	latest, err := v.identity.GetRevocationFingerprint(ctx, accountID)
	if err != nil {
		v.evict(ctx, accountID)
		return "", fmt.Errorf("identity store: %w", err)
	}
	if latest != fingerprint {
		v.evict(ctx, accountID)
		return v.hasher.HashFingerprint(latest), nil
	}
	return hash, nil
}

func (v *StampValidator) evict(ctx context.Context, accountID string) {
	if err := v.cache.Delete(ctx, accountID); err != nil {
		v.logger.Warn("evicting stale revocation cache entry failed",
			"account_id", accountID,
			"error", err,
		)
	}
}
