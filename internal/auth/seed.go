package auth

import (
	"context"
	"fmt"

	"github.com/nerrad567/sessiond/internal/infrastructure/logging"
)

// SeedSuperAdmin creates the bootstrap superadmin when no accounts exist.
// An empty password is replaced by a random one, logged once at WARN.
// It returns false when accounts already exist.
func SeedSuperAdmin(ctx context.Context, dir Directory, username, password string, logger *logging.Logger) (bool, error) {
	count, err := dir.CountAccounts(ctx)
	if err != nil {
		return false, fmt.Errorf("counting accounts: %w", err)
	}
	if count > 0 {
		return false, nil
	}

	generated := password == ""
	if generated {
		secret, err := newSecret()
		if err != nil {
			return false, err
		}
		password = secret[:24]
	}
	if err := ValidatePassword(password); err != nil {
		return false, fmt.Errorf("bootstrap password: %w", err)
	}

	hash, err := HashPassword(password)
	if err != nil {
		return false, err
	}
	acc := &Account{
		Username:     username,
		PasswordHash: hash,
		IsActive:     true,
		Roles:        []string{RoleSuperAdmin},
	}
	if err := dir.CreateAccount(ctx, acc); err != nil {
		return false, fmt.Errorf("creating bootstrap account: %w", err)
	}

	if generated {
		logger.Warn("bootstrap superadmin created with generated password; change it now",
			"username", username,
			"password", password,
		)
	} else {
		logger.Info("bootstrap superadmin created", "username", username)
	}
	return true, nil
}
