package auth

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/oklog/ulid/v2"
)

// storeTimeLayout is fixed-width so stored timestamps sort lexically.
const storeTimeLayout = "2006-01-02T15:04:05.000000Z"

// TokenStore is the durable record of refresh credentials.
type TokenStore interface {
	Create(ctx context.Context, cred *RefreshCredential) error
	GetByHash(ctx context.Context, tokenHash string) (*RefreshCredential, error)

	// Rotate marks usedID as used and inserts successor in one transaction.
	// It returns ErrReused when usedID was already used or invalidated by a
	// concurrent caller.
	Rotate(ctx context.Context, usedID string, successor *RefreshCredential) error

	Invalidate(ctx context.Context, id string) error
	InvalidateAllForAccount(ctx context.Context, accountID string) (int64, error)
	ListActiveByAccount(ctx context.Context, accountID string, now time.Time) ([]RefreshCredential, error)
	DeleteExpired(ctx context.Context, now time.Time) (int64, error)
}

// SQLiteTokenStore implements TokenStore using SQLite.
type SQLiteTokenStore struct {
	db *sql.DB
}

// NewTokenStore creates a new SQLite-backed token store.
func NewTokenStore(db *sql.DB) *SQLiteTokenStore {
	return &SQLiteTokenStore{db: db}
}

// newCredentialID returns a sortable credential ID ("rc-" + ULID).
func newCredentialID() string {
	return "rc-" + ulid.Make().String()
}

const insertCredentialSQL = `INSERT INTO refresh_credentials
	(id, account_id, token_hash, created_at, expires_at, used, invalidated, is_persistent, device_info)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`

// prepareCredential fills generated fields and normalises times to storage precision.
func prepareCredential(cred *RefreshCredential) {
	if cred.ID == "" {
		cred.ID = newCredentialID()
	}
	if cred.CreatedAt.IsZero() {
		cred.CreatedAt = time.Now()
	}
	cred.CreatedAt = cred.CreatedAt.UTC().Truncate(time.Microsecond)
	cred.ExpiresAt = cred.ExpiresAt.UTC().Truncate(time.Microsecond)
}

func credentialArgs(cred *RefreshCredential) []any {
	return []any{
		cred.ID, cred.AccountID, cred.TokenHash,
		cred.CreatedAt.Format(storeTimeLayout),
		cred.ExpiresAt.Format(storeTimeLayout),
		boolToInt(cred.Used), boolToInt(cred.Invalidated), boolToInt(cred.IsPersistent),
		cred.DeviceInfo,
	}
}

// Create inserts a new refresh credential. The ID is generated if empty.
func (s *SQLiteTokenStore) Create(ctx context.Context, cred *RefreshCredential) error {
	prepareCredential(cred)

	if _, err := s.db.ExecContext(ctx, insertCredentialSQL, credentialArgs(cred)...); err != nil {
		return fmt.Errorf("creating refresh credential: %w", err)
	}
	return nil
}

const selectCredentialColumns = `SELECT id, account_id, token_hash, created_at, expires_at,
	used, invalidated, is_persistent, device_info, replaced_by FROM refresh_credentials`

// GetByHash retrieves a credential by the keyed hash of its secret.
func (s *SQLiteTokenStore) GetByHash(ctx context.Context, tokenHash string) (*RefreshCredential, error) {
	row := s.db.QueryRowContext(ctx, selectCredentialColumns+" WHERE token_hash = ?", tokenHash)
	cred, err := scanCredential(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("getting refresh credential: %w", err)
	}
	return cred, nil
}

// Rotate atomically consumes usedID and inserts its successor.
//
// The UPDATE only matches a row that is still unused and valid, so of two
// concurrent rotations of one credential exactly one commits; the other
// sees zero affected rows and gets ErrReused.
func (s *SQLiteTokenStore) Rotate(ctx context.Context, usedID string, successor *RefreshCredential) error {
	prepareCredential(successor)

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning rotation transaction: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck // rollback is no-op after commit

	result, err := tx.ExecContext(ctx,
		`UPDATE refresh_credentials SET used = 1, replaced_by = ?
		 WHERE id = ? AND used = 0 AND invalidated = 0`,
		successor.ID, usedID)
	if err != nil {
		return fmt.Errorf("marking credential used: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("marking credential used: %w", err)
	}
	if affected == 0 {
		return ErrReused
	}

	if _, err := tx.ExecContext(ctx, insertCredentialSQL, credentialArgs(successor)...); err != nil {
		return fmt.Errorf("creating successor credential: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing rotation: %w", err)
	}
	return nil
}

// Invalidate marks a single credential invalidated.
func (s *SQLiteTokenStore) Invalidate(ctx context.Context, id string) error {
	if _, err := s.db.ExecContext(ctx,
		"UPDATE refresh_credentials SET invalidated = 1 WHERE id = ?", id); err != nil {
		return fmt.Errorf("invalidating credential: %w", err)
	}
	return nil
}

// InvalidateAllForAccount marks every credential of the account invalidated
// and returns how many rows changed.
func (s *SQLiteTokenStore) InvalidateAllForAccount(ctx context.Context, accountID string) (int64, error) {
	result, err := s.db.ExecContext(ctx,
		"UPDATE refresh_credentials SET invalidated = 1 WHERE account_id = ? AND invalidated = 0", accountID)
	if err != nil {
		return 0, fmt.Errorf("invalidating credentials for account: %w", err)
	}
	count, _ := result.RowsAffected() //nolint:errcheck // always succeeds on SQLite
	return count, nil
}

// ListActiveByAccount returns the account's redeemable credentials, newest first.
func (s *SQLiteTokenStore) ListActiveByAccount(ctx context.Context, accountID string, now time.Time) ([]RefreshCredential, error) {
	rows, err := s.db.QueryContext(ctx,
		selectCredentialColumns+`
		 WHERE account_id = ? AND used = 0 AND invalidated = 0 AND expires_at > ?
		 ORDER BY created_at DESC`,
		accountID, now.UTC().Format(storeTimeLayout))
	if err != nil {
		return nil, fmt.Errorf("listing active credentials: %w", err)
	}
	defer rows.Close()

	creds := []RefreshCredential{}
	for rows.Next() {
		cred, err := scanCredential(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning credential: %w", err)
		}
		creds = append(creds, *cred)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating credentials: %w", err)
	}
	return creds, nil
}

// DeleteExpired removes credentials whose expiry has passed.
// Returns the number of deleted rows.
func (s *SQLiteTokenStore) DeleteExpired(ctx context.Context, now time.Time) (int64, error) {
	result, err := s.db.ExecContext(ctx,
		"DELETE FROM refresh_credentials WHERE expires_at <= ?", now.UTC().Format(storeTimeLayout))
	if err != nil {
		return 0, fmt.Errorf("deleting expired credentials: %w", err)
	}
	count, _ := result.RowsAffected() //nolint:errcheck // always succeeds on SQLite
	return count, nil
}

// scanner is an interface for sql.Row and sql.Rows Scan methods.
type scanner interface {
	Scan(dest ...any) error
}

func scanCredential(s scanner) (*RefreshCredential, error) {
	var c RefreshCredential
	var used, invalidated, persistent int
	var createdAt, expiresAt string
	var replacedBy sql.NullString

	if err := s.Scan(&c.ID, &c.AccountID, &c.TokenHash, &createdAt, &expiresAt,
		&used, &invalidated, &persistent, &c.DeviceInfo, &replacedBy); err != nil {
		return nil, err
	}

	c.Used = used != 0
	c.Invalidated = invalidated != 0
	c.IsPersistent = persistent != 0
	c.ReplacedBy = replacedBy.String

	var err error
	if c.CreatedAt, err = time.Parse(storeTimeLayout, createdAt); err != nil {
		return nil, fmt.Errorf("parsing created_at %q: %w", createdAt, err)
	}
	if c.ExpiresAt, err = time.Parse(storeTimeLayout, expiresAt); err != nil {
		return nil, fmt.Errorf("parsing expires_at %q: %w", expiresAt, err)
	}
	return &c, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
