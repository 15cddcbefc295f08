package auth

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/mattn/go-sqlite3"
)

// IdentityStore is the slice of account state the credential lifecycle needs.
type IdentityStore interface {
	GetAccountRoles(ctx context.Context, accountID string) ([]string, error)
	GetPermissionsForRoles(ctx context.Context, roles []string) ([]Permission, error)
	GetRevocationFingerprint(ctx context.Context, accountID string) (string, error)
	UpdateRevocationFingerprint(ctx context.Context, accountID, value string) error
}

// RoleUpdate carries optional changes to a role. Nil fields are left alone.
type RoleUpdate struct {
	Name        *string
	Description *string
	Permissions *[]Permission
}

// RoleChange describes the effect of a role update on its members.
type RoleChange struct {
	Role    *Role
	Renamed bool
	Added   []Permission
	Removed []Permission
	Members []string
}

// SQLiteIdentityStore implements IdentityStore plus account and role
// administration using SQLite.
type SQLiteIdentityStore struct {
	db  *sql.DB
	now func() time.Time
}

// NewIdentityStore creates a new SQLite-backed identity store.
func NewIdentityStore(db *sql.DB) *SQLiteIdentityStore {
	return &SQLiteIdentityStore{db: db, now: time.Now}
}

func (s *SQLiteIdentityStore) timestamp() string {
	return s.now().UTC().Format(time.RFC3339)
}

// =============================================================================
// IdentityStore
// =============================================================================

// GetAccountRoles returns the account's role names, sorted. Inactive
// accounts yield ErrAccountInactive so no new credentials are minted for them.
func (s *SQLiteIdentityStore) GetAccountRoles(ctx context.Context, accountID string) ([]string, error) {
	var active int
	err := s.db.QueryRowContext(ctx, "SELECT is_active FROM accounts WHERE id = ?", accountID).Scan(&active)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrAccountNotFound
		}
		return nil, fmt.Errorf("getting account: %w", err)
	}
	if active == 0 {
		return nil, ErrAccountInactive
	}
	return s.accountRoles(ctx, s.db, accountID)
}

type querier interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

func (s *SQLiteIdentityStore) accountRoles(ctx context.Context, q querier, accountID string) ([]string, error) {
	return queryStrings(ctx, q,
		"SELECT role_name FROM account_roles WHERE account_id = ? ORDER BY role_name", accountID)
}

// GetPermissionsForRoles returns the union of the stored permissions of roles.
func (s *SQLiteIdentityStore) GetPermissionsForRoles(ctx context.Context, roles []string) ([]Permission, error) {
	if len(roles) == 0 {
		return []Permission{}, nil
	}

	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(roles)), ",")
	args := make([]any, len(roles))
	for i, r := range roles {
		args[i] = r
	}

	//nolint:gosec // placeholders only, no user input in the SQL string
	names, err := queryStrings(ctx, s.db,
		"SELECT DISTINCT permission FROM role_permissions WHERE role_name IN ("+placeholders+") ORDER BY permission",
		args...)
	if err != nil {
		return nil, fmt.Errorf("getting permissions for roles: %w", err)
	}

	perms := make([]Permission, len(names))
	for i, n := range names {
		perms[i] = Permission(n)
	}
	return perms, nil
}

// GetRevocationFingerprint returns the account's current fingerprint.
func (s *SQLiteIdentityStore) GetRevocationFingerprint(ctx context.Context, accountID string) (string, error) {
	var fp string
	err := s.db.QueryRowContext(ctx,
		"SELECT revocation_fingerprint FROM accounts WHERE id = ?", accountID).Scan(&fp)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", ErrAccountNotFound
		}
		return "", fmt.Errorf("getting revocation fingerprint: %w", err)
	}
	return fp, nil
}

// UpdateRevocationFingerprint replaces the account's fingerprint.
func (s *SQLiteIdentityStore) UpdateRevocationFingerprint(ctx context.Context, accountID, value string) error {
	result, err := s.db.ExecContext(ctx,
		"UPDATE accounts SET revocation_fingerprint = ?, updated_at = ? WHERE id = ?",
		value, s.timestamp(), accountID)
	if err != nil {
		return fmt.Errorf("updating revocation fingerprint: %w", err)
	}
	return requireAffected(result, ErrAccountNotFound)
}

// =============================================================================
// Accounts
// =============================================================================

// CreateAccount inserts an account with a fresh fingerprint and its roles.
// The ID is generated if empty.
func (s *SQLiteIdentityStore) CreateAccount(ctx context.Context, acc *Account) error {
	if !IsValidUsername(acc.Username) {
		return ErrInvalidUsername
	}
	if acc.ID == "" {
		acc.ID = "acc-" + uuid.NewString()
	}
	fingerprint, err := NewFingerprint()
	if err != nil {
		return err
	}

	now := s.timestamp()
	acc.CreatedAt, _ = time.Parse(time.RFC3339, now) //nolint:errcheck // format is controlled
	acc.UpdatedAt = acc.CreatedAt

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning account transaction: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck // rollback is no-op after commit

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO accounts (id, username, password_hash, is_active, revocation_fingerprint, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		acc.ID, acc.Username, acc.PasswordHash, boolToInt(acc.IsActive), fingerprint, now, now,
	); err != nil {
		if isUniqueViolation(err) {
			return ErrUsernameExists
		}
		return fmt.Errorf("creating account: %w", err)
	}

	roles := slices.Compact(slices.Sorted(slices.Values(acc.Roles)))
	for _, role := range roles {
		if err := insertAccountRole(ctx, tx, acc.ID, role); err != nil {
			return err
		}
	}
	acc.Roles = roles

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing account: %w", err)
	}
	return nil
}

func insertAccountRole(ctx context.Context, tx *sql.Tx, accountID, role string) error {
	var exists int
	if err := tx.QueryRowContext(ctx, "SELECT COUNT(*) FROM roles WHERE name = ?", role).Scan(&exists); err != nil {
		return fmt.Errorf("checking role: %w", err)
	}
	if exists == 0 {
		return fmt.Errorf("%w: %q", ErrRoleNotFound, role)
	}
	if _, err := tx.ExecContext(ctx,
		"INSERT OR IGNORE INTO account_roles (account_id, role_name) VALUES (?, ?)", accountID, role); err != nil {
		return fmt.Errorf("assigning role: %w", err)
	}
	return nil
}

const selectAccountColumns = "SELECT id, username, password_hash, is_active, created_at, updated_at FROM accounts"

// GetAccount retrieves an account with its roles.
func (s *SQLiteIdentityStore) GetAccount(ctx context.Context, id string) (*Account, error) {
	return s.getAccount(ctx, selectAccountColumns+" WHERE id = ?", id)
}

// GetAccountByUsername retrieves an account with its roles.
func (s *SQLiteIdentityStore) GetAccountByUsername(ctx context.Context, username string) (*Account, error) {
	return s.getAccount(ctx, selectAccountColumns+" WHERE username = ?", username)
}

func (s *SQLiteIdentityStore) getAccount(ctx context.Context, query string, arg string) (*Account, error) {
	acc, err := scanAccount(s.db.QueryRowContext(ctx, query, arg))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrAccountNotFound
		}
		return nil, fmt.Errorf("getting account: %w", err)
	}
	if acc.Roles, err = s.accountRoles(ctx, s.db, acc.ID); err != nil {
		return nil, fmt.Errorf("getting account roles: %w", err)
	}
	return acc, nil
}

// ListAccounts returns all accounts ordered by creation date.
func (s *SQLiteIdentityStore) ListAccounts(ctx context.Context) ([]Account, error) {
	rows, err := s.db.QueryContext(ctx, selectAccountColumns+" ORDER BY created_at ASC, username ASC")
	if err != nil {
		return nil, fmt.Errorf("listing accounts: %w", err)
	}
	defer rows.Close()

	accounts := []Account{}
	for rows.Next() {
		acc, err := scanAccount(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning account: %w", err)
		}
		accounts = append(accounts, *acc)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating accounts: %w", err)
	}
	rows.Close()

	for i := range accounts {
		if accounts[i].Roles, err = s.accountRoles(ctx, s.db, accounts[i].ID); err != nil {
			return nil, fmt.Errorf("getting account roles: %w", err)
		}
	}
	return accounts, nil
}

// CountAccounts returns the total number of accounts.
func (s *SQLiteIdentityStore) CountAccounts(ctx context.Context) (int, error) {
	var count int
	if err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM accounts").Scan(&count); err != nil {
		return 0, fmt.Errorf("counting accounts: %w", err)
	}
	return count, nil
}

// UpdatePassword replaces the account's password hash.
func (s *SQLiteIdentityStore) UpdatePassword(ctx context.Context, id, passwordHash string) error {
	result, err := s.db.ExecContext(ctx,
		"UPDATE accounts SET password_hash = ?, updated_at = ? WHERE id = ?", passwordHash, s.timestamp(), id)
	if err != nil {
		return fmt.Errorf("updating password: %w", err)
	}
	return requireAffected(result, ErrAccountNotFound)
}

// SetActive locks (false) or unlocks (true) an account.
func (s *SQLiteIdentityStore) SetActive(ctx context.Context, id string, active bool) error {
	result, err := s.db.ExecContext(ctx,
		"UPDATE accounts SET is_active = ?, updated_at = ? WHERE id = ?", boolToInt(active), s.timestamp(), id)
	if err != nil {
		return fmt.Errorf("updating account status: %w", err)
	}
	return requireAffected(result, ErrAccountNotFound)
}

// DeleteAccount removes an account. Roles and refresh credentials cascade.
func (s *SQLiteIdentityStore) DeleteAccount(ctx context.Context, id string) error {
	result, err := s.db.ExecContext(ctx, "DELETE FROM accounts WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("deleting account: %w", err)
	}
	return requireAffected(result, ErrAccountNotFound)
}

// AssignRole adds role to the account. changed is false when it was already held.
func (s *SQLiteIdentityStore) AssignRole(ctx context.Context, accountID, role string) (changed bool, err error) {
	if _, err := s.GetAccount(ctx, accountID); err != nil {
		return false, err
	}
	if _, err := s.GetRole(ctx, role); err != nil {
		return false, err
	}

	result, err := s.db.ExecContext(ctx,
		"INSERT OR IGNORE INTO account_roles (account_id, role_name) VALUES (?, ?)", accountID, role)
	if err != nil {
		return false, fmt.Errorf("assigning role: %w", err)
	}
	n, _ := result.RowsAffected() //nolint:errcheck // always succeeds on SQLite
	return n > 0, nil
}

// RemoveRole removes role from the account. changed is false when it was not held.
func (s *SQLiteIdentityStore) RemoveRole(ctx context.Context, accountID, role string) (changed bool, err error) {
	if _, err := s.GetAccount(ctx, accountID); err != nil {
		return false, err
	}

	result, err := s.db.ExecContext(ctx,
		"DELETE FROM account_roles WHERE account_id = ? AND role_name = ?", accountID, role)
	if err != nil {
		return false, fmt.Errorf("removing role: %w", err)
	}
	n, _ := result.RowsAffected() //nolint:errcheck // always succeeds on SQLite
	return n > 0, nil
}

// =============================================================================
// Roles
// =============================================================================

// ListRoles returns all roles with their permissions, ordered by name.
func (s *SQLiteIdentityStore) ListRoles(ctx context.Context) ([]Role, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT name, description, is_built_in, created_at FROM roles ORDER BY name")
	if err != nil {
		return nil, fmt.Errorf("listing roles: %w", err)
	}
	defer rows.Close()

	roles := []Role{}
	for rows.Next() {
		role, err := scanRole(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning role: %w", err)
		}
		roles = append(roles, *role)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating roles: %w", err)
	}
	rows.Close()

	for i := range roles {
		if err := s.loadRolePermissions(ctx, &roles[i]); err != nil {
			return nil, err
		}
	}
	return roles, nil
}

// GetRole retrieves a role with its permissions.
func (s *SQLiteIdentityStore) GetRole(ctx context.Context, name string) (*Role, error) {
	role, err := scanRole(s.db.QueryRowContext(ctx,
		"SELECT name, description, is_built_in, created_at FROM roles WHERE name = ?", name))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%w: %q", ErrRoleNotFound, name)
		}
		return nil, fmt.Errorf("getting role: %w", err)
	}
	if err := s.loadRolePermissions(ctx, role); err != nil {
		return nil, err
	}
	return role, nil
}

// loadRolePermissions fills role.Permissions. The superuser role reports
// every defined permission without reading storage.
func (s *SQLiteIdentityStore) loadRolePermissions(ctx context.Context, role *Role) error {
	if role.Name == RoleSuperAdmin {
		role.Permissions = allPermissionNames()
		return nil
	}
	perms, err := s.GetPermissionsForRoles(ctx, []string{role.Name})
	if err != nil {
		return err
	}
	role.Permissions = perms
	return nil
}

// RoleMembers returns the IDs of accounts holding role.
func (s *SQLiteIdentityStore) RoleMembers(ctx context.Context, role string) ([]string, error) {
	ids, err := queryStrings(ctx, s.db,
		"SELECT account_id FROM account_roles WHERE role_name = ? ORDER BY account_id", role)
	if err != nil {
		return nil, fmt.Errorf("listing role members: %w", err)
	}
	return ids, nil
}

// CreateRole inserts a custom role. Permissions must all be defined.
func (s *SQLiteIdentityStore) CreateRole(ctx context.Context, role *Role) error {
	if !IsValidRoleName(role.Name) {
		return ErrInvalidRoleName
	}
	if IsBuiltInRole(role.Name) {
		return ErrRoleExists
	}
	perms, err := NormalizePermissions(role.Permissions)
	if err != nil {
		return err
	}

	now := s.timestamp()
	role.CreatedAt, _ = time.Parse(time.RFC3339, now) //nolint:errcheck // format is controlled
	role.IsBuiltIn = false
	role.Permissions = perms

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning role transaction: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck // rollback is no-op after commit

	if _, err := tx.ExecContext(ctx,
		"INSERT INTO roles (name, description, is_built_in, created_at) VALUES (?, ?, 0, ?)",
		role.Name, role.Description, now); err != nil {
		if isUniqueViolation(err) {
			return ErrRoleExists
		}
		return fmt.Errorf("creating role: %w", err)
	}
	if err := insertRolePermissions(ctx, tx, role.Name, perms); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing role: %w", err)
	}
	return nil
}

// UpdateRole applies upd to the named role and reports which permissions
// were added or removed, and who holds the role.
//
// Built-in roles cannot be renamed, and the superuser role never stores
// permissions.
func (s *SQLiteIdentityStore) UpdateRole(ctx context.Context, name string, upd RoleUpdate) (*RoleChange, error) { //nolint:gocognit,gocyclo // one branch per optional field
	current, err := s.GetRole(ctx, name)
	if err != nil {
		return nil, err
	}

	change := &RoleChange{}
	newName := current.Name
	if upd.Name != nil && *upd.Name != current.Name {
		if current.IsBuiltIn {
			return nil, fmt.Errorf("%w: cannot rename %q", ErrBuiltInRole, current.Name)
		}
		if !IsValidRoleName(*upd.Name) {
			return nil, ErrInvalidRoleName
		}
		newName = *upd.Name
		change.Renamed = true
	}

	var newPerms []Permission
	if upd.Permissions != nil {
		if current.Name == RoleSuperAdmin {
			return nil, fmt.Errorf("%w: %s permissions are implicit", ErrBuiltInRole, RoleSuperAdmin)
		}
		if newPerms, err = NormalizePermissions(*upd.Permissions); err != nil {
			return nil, err
		}
		change.Added, change.Removed = diffPermissions(current.Permissions, newPerms)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("beginning role transaction: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck // rollback is no-op after commit

	if change.Renamed {
		if _, err := tx.ExecContext(ctx, "UPDATE roles SET name = ? WHERE name = ?", newName, current.Name); err != nil {
			if isUniqueViolation(err) {
				return nil, ErrRoleExists
			}
			return nil, fmt.Errorf("renaming role: %w", err)
		}
	}
	if upd.Description != nil {
		if _, err := tx.ExecContext(ctx,
			"UPDATE roles SET description = ? WHERE name = ?", *upd.Description, newName); err != nil {
			return nil, fmt.Errorf("updating role description: %w", err)
		}
	}
	if upd.Permissions != nil {
		if _, err := tx.ExecContext(ctx, "DELETE FROM role_permissions WHERE role_name = ?", newName); err != nil {
			return nil, fmt.Errorf("clearing role permissions: %w", err)
		}
		if err := insertRolePermissions(ctx, tx, newName, newPerms); err != nil {
			return nil, err
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("committing role: %w", err)
	}

	if change.Role, err = s.GetRole(ctx, newName); err != nil {
		return nil, err
	}
	if change.Members, err = s.RoleMembers(ctx, newName); err != nil {
		return nil, err
	}
	return change, nil
}

// DeleteRole removes a custom role and returns the accounts that held it.
func (s *SQLiteIdentityStore) DeleteRole(ctx context.Context, name string) ([]string, error) {
	role, err := s.GetRole(ctx, name)
	if err != nil {
		return nil, err
	}
	if role.IsBuiltIn {
		return nil, fmt.Errorf("%w: cannot delete %q", ErrBuiltInRole, name)
	}

	members, err := s.RoleMembers(ctx, name)
	if err != nil {
		return nil, err
	}
	if _, err := s.db.ExecContext(ctx, "DELETE FROM roles WHERE name = ?", name); err != nil {
		return nil, fmt.Errorf("deleting role: %w", err)
	}
	return members, nil
}

func insertRolePermissions(ctx context.Context, tx *sql.Tx, role string, perms []Permission) error {
	for _, p := range perms {
		if _, err := tx.ExecContext(ctx,
			"INSERT INTO role_permissions (role_name, permission) VALUES (?, ?)", role, string(p)); err != nil {
			return fmt.Errorf("granting permission %s: %w", p, err)
		}
	}
	return nil
}

// diffPermissions returns what next adds to and removes from prev. Both are sorted.
func diffPermissions(prev, next []Permission) (added, removed []Permission) {
	for _, p := range next {
		if !slices.Contains(prev, p) {
			added = append(added, p)
		}
	}
	for _, p := range prev {
		if !slices.Contains(next, p) {
			removed = append(removed, p)
		}
	}
	return added, removed
}

// =============================================================================
// Helpers
// =============================================================================

func scanAccount(s scanner) (*Account, error) {
	var a Account
	var active int
	var createdAt, updatedAt string
	if err := s.Scan(&a.ID, &a.Username, &a.PasswordHash, &active, &createdAt, &updatedAt); err != nil {
		return nil, err
	}
	a.IsActive = active != 0
	a.CreatedAt, _ = time.Parse(time.RFC3339, createdAt) //nolint:errcheck // format is controlled
	a.UpdatedAt, _ = time.Parse(time.RFC3339, updatedAt) //nolint:errcheck // format is controlled
	return &a, nil
}

func scanRole(s scanner) (*Role, error) {
	var r Role
	var builtIn int
	var createdAt string
	if err := s.Scan(&r.Name, &r.Description, &builtIn, &createdAt); err != nil {
		return nil, err
	}
	r.IsBuiltIn = builtIn != 0
	r.CreatedAt, _ = time.Parse(time.RFC3339, createdAt) //nolint:errcheck // format is controlled
	return &r, nil
}

func queryStrings(ctx context.Context, q querier, query string, args ...any) ([]string, error) {
	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []string{}
	for rows.Next() {
		var v string
		if err := rows.Scan(&v); err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, rows.Err()
}

func requireAffected(result sql.Result, notFound error) error {
	n, _ := result.RowsAffected() //nolint:errcheck // always succeeds on SQLite
	if n == 0 {
		return notFound
	}
	return nil
}

// isUniqueViolation checks if a SQLite error is a UNIQUE or PRIMARY KEY violation.
func isUniqueViolation(err error) bool {
	var sqliteErr sqlite3.Error
	if !errors.As(err, &sqliteErr) {
		return false
	}
	return sqliteErr.ExtendedCode == sqlite3.ErrConstraintUnique ||
		sqliteErr.ExtendedCode == sqlite3.ErrConstraintPrimaryKey
}
