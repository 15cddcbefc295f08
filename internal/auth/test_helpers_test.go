package auth

import (
	"context"
	"database/sql"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/nerrad567/sessiond/internal/infrastructure/database"
	_ "github.com/nerrad567/sessiond/migrations" // registers the embedded schema
)

const (
	testHashingKey = "test-hashing-key-at-least-32-chars"
	testJWTSecret  = "test-jwt-secret-at-least-32-chars!"
)

// openTestDB opens a migrated SQLite database in a temp directory.
func openTestDB(t *testing.T) *sql.DB {
	t.Helper()
	ctx := context.Background()

	db, err := database.Open(ctx, database.Config{
		Path:        filepath.Join(t.TempDir(), "sessiond.db"),
		WALMode:     true,
		BusyTimeout: 5,
	})
	if err != nil {
		t.Fatalf("database.Open() error = %v", err)
	}
	t.Cleanup(func() { db.Close() })

	if err := db.Migrate(ctx); err != nil {
		t.Fatalf("Migrate() error = %v", err)
	}
	return db.DB
}

// testClock is a settable clock shared by every component under test.
type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func newTestClock() *testClock {
	return &testClock{now: time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)}
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

// recordingEvents captures security events.
type recordingEvents struct {
	mu     sync.Mutex
	events []SecurityEvent
}

func (r *recordingEvents) RecordSecurityEvent(_ context.Context, e SecurityEvent) {
	r.mu.Lock()
	r.events = append(r.events, e)
	r.mu.Unlock()
}

func (r *recordingEvents) count(typ string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, e := range r.events {
		if e.Type == typ {
			n++
		}
	}
	return n
}

// testEnv wires every auth component over one database and clock.
type testEnv struct {
	db          *sql.DB
	clock       *testClock
	identity    *SQLiteIdentityStore
	tokens      *SQLiteTokenStore
	cache       *MemoryRevocationCache
	hasher      *Hasher
	issuer      *Issuer
	coordinator *Coordinator
	manager     *Manager
	stamp       *StampValidator
	admin       *Admin
	events      *recordingEvents
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	env := &testEnv{
		db:     openTestDB(t),
		clock:  newTestClock(),
		events: &recordingEvents{},
	}
	env.identity = NewIdentityStore(env.db)
	env.identity.now = env.clock.Now
	env.tokens = NewTokenStore(env.db)
	env.cache = NewMemoryRevocationCache()
	env.cache.now = env.clock.Now

	var err error
	if env.hasher, err = NewHasher(testHashingKey); err != nil {
		t.Fatalf("NewHasher() error = %v", err)
	}
	if env.issuer, err = NewIssuer(IssuerConfig{
		Secret: testJWTSecret,
		TTL:    15 * time.Minute,
		Now:    env.clock.Now,
	}); err != nil {
		t.Fatalf("NewIssuer() error = %v", err)
	}

	env.coordinator = NewCoordinator(env.identity, env.cache, env.tokens,
		WithCoordinatorClock(env.clock.Now),
		WithCoordinatorEventRecorder(env.events),
	)
	env.manager = NewManager(env.tokens, env.identity, env.issuer, env.hasher, env.coordinator,
		WithClock(env.clock.Now),
		WithSessionTTL(24*time.Hour),
		WithPersistentTTL(30*24*time.Hour),
		WithEventRecorder(env.events),
	)
	env.stamp = NewStampValidator(env.identity, env.cache, env.hasher,
		WithStampCacheTTL(5*time.Minute),
		WithStampEventRecorder(env.events),
	)
	env.admin = NewAdmin(env.identity, env.coordinator, WithAdminEventRecorder(env.events))
	return env
}

// createAccount stores an active account with the given roles. The password
// hash is a placeholder; tests that log in by password hash their own.
func (env *testEnv) createAccount(t *testing.T, username string, roles ...string) *Account {
	t.Helper()
	acc := &Account{
		Username:     username,
		PasswordHash: "$argon2id$placeholder",
		IsActive:     true,
		Roles:        roles,
	}
	if err := env.identity.CreateAccount(context.Background(), acc); err != nil {
		t.Fatalf("CreateAccount(%s) error = %v", username, err)
	}
	return acc
}

// login issues a token pair for acc.
func (env *testEnv) login(t *testing.T, acc *Account, persistent bool) *TokenPair {
	t.Helper()
	pair, err := env.manager.Login(context.Background(), acc.ID, persistent, "test-agent")
	if err != nil {
		t.Fatalf("Login() error = %v", err)
	}
	return pair
}

// credentialByID reads a credential row directly.
func (env *testEnv) credentialByID(t *testing.T, id string) *RefreshCredential {
	t.Helper()
	row := env.db.QueryRowContext(context.Background(), selectCredentialColumns+" WHERE id = ?", id)
	cred, err := scanCredential(row)
	if err != nil {
		t.Fatalf("reading credential %s: %v", id, err)
	}
	return cred
}

// validate parses an access credential and runs the stamp check.
func (env *testEnv) validate(t *testing.T, accessToken string) error {
	t.Helper()
	claims, err := env.issuer.Parse(accessToken)
	if err != nil {
		return err
	}
	return env.stamp.Validate(context.Background(), claims)
}

// failingCache fails every call with err.
type failingCache struct {
	err error
}

func (c failingCache) Get(context.Context, string) (string, bool, error) { return "", false, c.err }
func (c failingCache) Set(context.Context, string, string, time.Duration) error {
	return c.err
}
func (c failingCache) Delete(context.Context, string) error { return c.err }

var errCacheDown = errors.New("cache unavailable")
