package auth

import (
	"context"
	"errors"
	"fmt"

	"github.com/nerrad567/sessiond/internal/infrastructure/logging"
)

// Directory is the account and role administration surface of an identity
// store. SQLiteIdentityStore satisfies it.
type Directory interface {
	AccountLookup
	CreateAccount(ctx context.Context, acc *Account) error
	GetAccount(ctx context.Context, id string) (*Account, error)
	ListAccounts(ctx context.Context) ([]Account, error)
	CountAccounts(ctx context.Context) (int, error)
	UpdatePassword(ctx context.Context, id, passwordHash string) error
	SetActive(ctx context.Context, id string, active bool) error
	DeleteAccount(ctx context.Context, id string) error
	AssignRole(ctx context.Context, accountID, role string) (bool, error)
	RemoveRole(ctx context.Context, accountID, role string) (bool, error)

	ListRoles(ctx context.Context) ([]Role, error)
	GetRole(ctx context.Context, name string) (*Role, error)
	CreateRole(ctx context.Context, role *Role) error
	UpdateRole(ctx context.Context, name string, upd RoleUpdate) (*RoleChange, error)
	DeleteRole(ctx context.Context, name string) ([]string, error)
}

// Admin applies account and role changes and revokes affected sessions.
// Changes that only widen access soft revoke; anything that narrows it
// hard revokes.
type Admin struct {
	dir         Directory
	coordinator *Coordinator
	logger      *logging.Logger
	events      EventRecorder
}

// AdminOption configures an Admin.
type AdminOption func(*Admin)

// WithAdminLogger sets the logger.
func WithAdminLogger(l *logging.Logger) AdminOption {
	return func(a *Admin) { a.logger = l }
}

// WithAdminEventRecorder sets where administrative changes are reported.
func WithAdminEventRecorder(r EventRecorder) AdminOption {
	return func(a *Admin) { a.events = r }
}

// NewAdmin creates an Admin.
func NewAdmin(dir Directory, coordinator *Coordinator, opts ...AdminOption) *Admin {
	a := &Admin{
		dir:         dir,
		coordinator: coordinator,
		logger:      logging.Discard(),
		events:      nopRecorder{},
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

func (a *Admin) record(ctx context.Context, typ, actor, accountID, reason string) {
	a.events.RecordSecurityEvent(ctx, SecurityEvent{
		Type:      typ,
		AccountID: accountID,
		Reason:    reason,
		Actor:     actor,
		Outcome:   "success",
	})
}

// CreateAccount validates and hashes password and stores a new active account.
func (a *Admin) CreateAccount(ctx context.Context, actor, username, password string, roles []string) (*Account, error) {
	if err := ValidatePassword(password); err != nil {
		return nil, err
	}
	hash, err := HashPassword(password)
	if err != nil {
		return nil, err
	}

	acc := &Account{
		Username:     username,
		PasswordHash: hash,
		IsActive:     true,
		Roles:        roles,
	}
	if err := a.dir.CreateAccount(ctx, acc); err != nil {
		return nil, err
	}

	a.logger.Info("account created", "account_id", acc.ID, "username", acc.Username, "actor", actor)
	a.record(ctx, EventAccountChanged, actor, acc.ID, "account_created")
	return acc, nil
}

// ChangePassword replaces the password and ends every session.
func (a *Admin) ChangePassword(ctx context.Context, actor, accountID, password string) error {
	if err := ValidatePassword(password); err != nil {
		return err
	}
	hash, err := HashPassword(password)
	if err != nil {
		return err
	}
	if err := a.dir.UpdatePassword(ctx, accountID, hash); err != nil {
		return err
	}

	a.record(ctx, EventAccountChanged, actor, accountID, ReasonPasswordChanged)
	return a.revoke(ctx, accountID, PolicyHard, ReasonPasswordChanged)
}

// SetLocked locks or unlocks an account. Locking ends every session.
func (a *Admin) SetLocked(ctx context.Context, actor, accountID string, locked bool) error {
	if err := a.dir.SetActive(ctx, accountID, !locked); err != nil {
		return err
	}
	if !locked {
		a.record(ctx, EventAccountChanged, actor, accountID, "account_unlocked")
		return nil
	}

	a.record(ctx, EventAccountChanged, actor, accountID, ReasonAccountLocked)
	return a.revoke(ctx, accountID, PolicyHard, ReasonAccountLocked)
}

// DeleteAccount ends every session and then removes the account.
func (a *Admin) DeleteAccount(ctx context.Context, actor, accountID string) error {
	if err := a.coordinator.HardRevoke(ctx, accountID, ReasonAccountDeleted); err != nil {
		if errors.Is(err, ErrAccountNotFound) {
			return err
		}
		a.logger.Warn("revoking before delete failed", "account_id", accountID, "error", err)
	}
	if err := a.dir.DeleteAccount(ctx, accountID); err != nil {
		return err
	}

	a.logger.Info("account deleted", "account_id", accountID, "actor", actor)
	a.record(ctx, EventAccountChanged, actor, accountID, ReasonAccountDeleted)
	return nil
}

// AssignRole adds a role. Access widens, so outstanding access credentials
// are soft revoked and pick up the role on their next refresh.
func (a *Admin) AssignRole(ctx context.Context, actor, accountID, role string) error {
	changed, err := a.dir.AssignRole(ctx, accountID, role)
	if err != nil || !changed {
		return err
	}
	a.record(ctx, EventAccountChanged, actor, accountID, ReasonRoleAssigned)
	return a.revoke(ctx, accountID, PolicySoft, ReasonRoleAssigned)
}

// RemoveRole removes a role and ends every session of the account.
func (a *Admin) RemoveRole(ctx context.Context, actor, accountID, role string) error {
	changed, err := a.dir.RemoveRole(ctx, accountID, role)
	if err != nil || !changed {
		return err
	}
	a.record(ctx, EventAccountChanged, actor, accountID, ReasonRoleRemoved)
	return a.revoke(ctx, accountID, PolicyHard, ReasonRoleRemoved)
}

// RevokeSessions ends every session of the account.
func (a *Admin) RevokeSessions(ctx context.Context, actor, accountID string) error {
	a.record(ctx, EventAccountChanged, actor, accountID, ReasonAdminRevoke)
	return a.coordinator.HardRevoke(ctx, accountID, ReasonAdminRevoke)
}

// CreateRole stores a custom role. It has no members yet, so nothing is revoked.
func (a *Admin) CreateRole(ctx context.Context, actor string, role *Role) error {
	if err := a.dir.CreateRole(ctx, role); err != nil {
		return err
	}
	a.logger.Info("role created", "role", role.Name, "actor", actor)
	a.events.RecordSecurityEvent(ctx, SecurityEvent{Type: EventRoleChanged, Reason: "role_created:" + role.Name, Actor: actor, Outcome: "success"})
	return nil
}

// UpdateRole applies upd and revokes every member: hard if any permission
// was removed, soft if permissions were only added or the role renamed.
func (a *Admin) UpdateRole(ctx context.Context, actor, name string, upd RoleUpdate) (*RoleChange, error) {
	change, err := a.dir.UpdateRole(ctx, name, upd)
	if err != nil {
		return nil, err
	}
	a.events.RecordSecurityEvent(ctx, SecurityEvent{Type: EventRoleChanged, Reason: "role_updated:" + change.Role.Name, Actor: actor, Outcome: "success"})

	var policy, reason string
	switch {
	case len(change.Removed) > 0:
		policy, reason = PolicyHard, ReasonPermissionsRemoved
	case len(change.Added) > 0:
		policy, reason = PolicySoft, ReasonPermissionsGranted
	case change.Renamed:
		policy, reason = PolicySoft, ReasonRoleRenamed
	default:
		return change, nil
	}

	var errs []error
	for _, member := range change.Members {
		if err := a.revoke(ctx, member, policy, reason); err != nil {
			errs = append(errs, err)
		}
	}
	return change, errors.Join(errs...)
}

// DeleteRole removes a custom role and ends every session of its former members.
func (a *Admin) DeleteRole(ctx context.Context, actor, name string) error {
	members, err := a.dir.DeleteRole(ctx, name)
	if err != nil {
		return err
	}
	a.logger.Info("role deleted", "role", name, "members", len(members), "actor", actor)
	a.events.RecordSecurityEvent(ctx, SecurityEvent{Type: EventRoleChanged, Reason: "role_deleted:" + name, Actor: actor, Outcome: "success"})

	var errs []error
	for _, member := range members {
		if err := a.revoke(ctx, member, PolicyHard, ReasonRoleDeleted); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (a *Admin) revoke(ctx context.Context, accountID, policy, reason string) error {
	var err error
	if policy == PolicyHard {
		err = a.coordinator.HardRevoke(ctx, accountID, reason)
	} else {
		err = a.coordinator.SoftRevoke(ctx, accountID, reason)
	}
	if err != nil {
		return fmt.Errorf("revoking sessions of %s: %w", accountID, err)
	}
	return nil
}
