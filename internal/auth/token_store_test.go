package auth

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
)

func newStoredCredential(t *testing.T, env *testEnv, accountID, hash string, expiresIn time.Duration) *RefreshCredential {
	t.Helper()
	now := env.clock.Now()
	cred := &RefreshCredential{
		AccountID: accountID,
		TokenHash: hash,
		CreatedAt: now,
		ExpiresAt: now.Add(expiresIn),
	}
	if err := env.tokens.Create(context.Background(), cred); err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	return cred
}

func TestTokenStore_CreateGetByHash(t *testing.T) {
	env := newTestEnv(t)
	acc := env.createAccount(t, "alice", RoleMember)

	cred := newStoredCredential(t, env, acc.ID, "hash-1", time.Hour)
	if !strings.HasPrefix(cred.ID, "rc-") {
		t.Errorf("ID = %q, want rc- prefix", cred.ID)
	}

	got, err := env.tokens.GetByHash(context.Background(), "hash-1")
	if err != nil {
		t.Fatalf("GetByHash() error = %v", err)
	}
	if got.ID != cred.ID || got.AccountID != acc.ID {
		t.Errorf("GetByHash() = %+v, want id %s account %s", got, cred.ID, acc.ID)
	}
	if !got.ExpiresAt.Equal(cred.ExpiresAt) {
		t.Errorf("ExpiresAt = %v, want %v", got.ExpiresAt, cred.ExpiresAt)
	}
	if got.Used || got.Invalidated {
		t.Errorf("new credential flags used=%v invalidated=%v", got.Used, got.Invalidated)
	}
}

func TestTokenStore_GetByHash_NotFound(t *testing.T) {
	env := newTestEnv(t)
	if _, err := env.tokens.GetByHash(context.Background(), "missing"); !errors.Is(err, ErrNotFound) {
		t.Errorf("GetByHash() error = %v, want ErrNotFound", err)
	}
}

func TestTokenStore_Rotate(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	acc := env.createAccount(t, "alice", RoleMember)
	cred := newStoredCredential(t, env, acc.ID, "hash-1", time.Hour)

	successor := &RefreshCredential{AccountID: acc.ID, TokenHash: "hash-2", ExpiresAt: cred.ExpiresAt}
	if err := env.tokens.Rotate(ctx, cred.ID, successor); err != nil {
		t.Fatalf("Rotate() error = %v", err)
	}

	old := env.credentialByID(t, cred.ID)
	if !old.Used || old.ReplacedBy != successor.ID {
		t.Errorf("rotated credential used=%v replaced_by=%q, want true %q", old.Used, old.ReplacedBy, successor.ID)
	}

	// A second rotation of the same credential must lose.
	again := &RefreshCredential{AccountID: acc.ID, TokenHash: "hash-3", ExpiresAt: cred.ExpiresAt}
	if err := env.tokens.Rotate(ctx, cred.ID, again); !errors.Is(err, ErrReused) {
		t.Fatalf("second Rotate() error = %v, want ErrReused", err)
	}
	if _, err := env.tokens.GetByHash(ctx, "hash-3"); !errors.Is(err, ErrNotFound) {
		t.Errorf("losing rotation inserted its successor: err = %v", err)
	}
}

func TestTokenStore_Rotate_Invalidated(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	acc := env.createAccount(t, "alice", RoleMember)
	cred := newStoredCredential(t, env, acc.ID, "hash-1", time.Hour)

	if err := env.tokens.Invalidate(ctx, cred.ID); err != nil {
		t.Fatalf("Invalidate() error = %v", err)
	}
	successor := &RefreshCredential{AccountID: acc.ID, TokenHash: "hash-2", ExpiresAt: cred.ExpiresAt}
	if err := env.tokens.Rotate(ctx, cred.ID, successor); !errors.Is(err, ErrReused) {
		t.Errorf("Rotate() of invalidated credential error = %v, want ErrReused", err)
	}
}

func TestTokenStore_InvalidateAllForAccount(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	alice := env.createAccount(t, "alice", RoleMember)
	bob := env.createAccount(t, "bob", RoleMember)

	newStoredCredential(t, env, alice.ID, "a1", time.Hour)
	newStoredCredential(t, env, alice.ID, "a2", time.Hour)
	bobCred := newStoredCredential(t, env, bob.ID, "b1", time.Hour)

	n, err := env.tokens.InvalidateAllForAccount(ctx, alice.ID)
	if err != nil {
		t.Fatalf("InvalidateAllForAccount() error = %v", err)
	}
	if n != 2 {
		t.Errorf("InvalidateAllForAccount() = %d, want 2", n)
	}

	active, err := env.tokens.ListActiveByAccount(ctx, alice.ID, env.clock.Now())
	if err != nil {
		t.Fatalf("ListActiveByAccount() error = %v", err)
	}
	if len(active) != 0 {
		t.Errorf("alice active = %d, want 0", len(active))
	}
	if env.credentialByID(t, bobCred.ID).Invalidated {
		t.Error("bob's credential was invalidated")
	}
}

func TestTokenStore_ListActiveAndDeleteExpired(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	acc := env.createAccount(t, "alice", RoleMember)

	short := newStoredCredential(t, env, acc.ID, "short", time.Minute)
	env.clock.Advance(time.Second)
	long := newStoredCredential(t, env, acc.ID, "long", time.Hour)

	active, err := env.tokens.ListActiveByAccount(ctx, acc.ID, env.clock.Now())
	if err != nil {
		t.Fatalf("ListActiveByAccount() error = %v", err)
	}
	if len(active) != 2 {
		t.Fatalf("ListActiveByAccount() = %d creds, want 2", len(active))
	}
	if active[0].ID != long.ID {
		t.Errorf("ListActiveByAccount()[0] = %q, want newest %q", active[0].ID, long.ID)
	}

	env.clock.Advance(2 * time.Minute)
	deleted, err := env.tokens.DeleteExpired(ctx, env.clock.Now())
	if err != nil {
		t.Fatalf("DeleteExpired() error = %v", err)
	}
	if deleted != 1 {
		t.Errorf("DeleteExpired() = %d, want 1", deleted)
	}
	if _, err := env.tokens.GetByHash(ctx, short.TokenHash); !errors.Is(err, ErrNotFound) {
		t.Errorf("expired credential still present: err = %v", err)
	}
}

func TestTokenStore_DriverErrors(t *testing.T) {
	ctx := context.Background()
	errDriver := errors.New("disk I/O error")

	t.Run("create", func(t *testing.T) {
		db, mock, err := sqlmock.New()
		if err != nil {
			t.Fatalf("sqlmock.New() error = %v", err)
		}
		defer db.Close()
		mock.ExpectExec("INSERT INTO refresh_credentials").WillReturnError(errDriver)

		err = NewTokenStore(db).Create(ctx, &RefreshCredential{AccountID: "acc-1", TokenHash: "h"})
		if !errors.Is(err, errDriver) {
			t.Errorf("Create() error = %v, want driver error", err)
		}
	})

	t.Run("rotate rolls back when successor insert fails", func(t *testing.T) {
		db, mock, err := sqlmock.New()
		if err != nil {
			t.Fatalf("sqlmock.New() error = %v", err)
		}
		defer db.Close()
		mock.ExpectBegin()
		mock.ExpectExec("UPDATE refresh_credentials SET used = 1").WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectExec("INSERT INTO refresh_credentials").WillReturnError(errDriver)
		mock.ExpectRollback()

		err = NewTokenStore(db).Rotate(ctx, "rc-1", &RefreshCredential{AccountID: "acc-1", TokenHash: "h"})
		if !errors.Is(err, errDriver) {
			t.Errorf("Rotate() error = %v, want driver error", err)
		}
		if err := mock.ExpectationsWereMet(); err != nil {
			t.Errorf("unmet expectations: %v", err)
		}
	})

	t.Run("rotate lost race", func(t *testing.T) {
		db, mock, err := sqlmock.New()
		if err != nil {
			t.Fatalf("sqlmock.New() error = %v", err)
		}
		defer db.Close()
		mock.ExpectBegin()
		mock.ExpectExec("UPDATE refresh_credentials SET used = 1").WillReturnResult(sqlmock.NewResult(0, 0))
		mock.ExpectRollback()

		err = NewTokenStore(db).Rotate(ctx, "rc-1", &RefreshCredential{AccountID: "acc-1", TokenHash: "h"})
		if !errors.Is(err, ErrReused) {
			t.Errorf("Rotate() error = %v, want ErrReused", err)
		}
		if err := mock.ExpectationsWereMet(); err != nil {
			t.Errorf("unmet expectations: %v", err)
		}
	})

	t.Run("get by hash", func(t *testing.T) {
		db, mock, err := sqlmock.New()
		if err != nil {
			t.Fatalf("sqlmock.New() error = %v", err)
		}
		defer db.Close()
		mock.ExpectQuery("SELECT id, account_id").WillReturnError(errDriver)

		_, err = NewTokenStore(db).GetByHash(ctx, "h")
		if !errors.Is(err, errDriver) || errors.Is(err, ErrNotFound) {
			t.Errorf("GetByHash() error = %v, want driver error only", err)
		}
	})

	t.Run("invalidate all", func(t *testing.T) {
		db, mock, err := sqlmock.New()
		if err != nil {
			t.Fatalf("sqlmock.New() error = %v", err)
		}
		defer db.Close()
		mock.ExpectExec("UPDATE refresh_credentials SET invalidated = 1").WillReturnError(errDriver)

		if _, err := NewTokenStore(db).InvalidateAllForAccount(ctx, "acc-1"); !errors.Is(err, errDriver) {
			t.Errorf("InvalidateAllForAccount() error = %v, want driver error", err)
		}
	})
}
