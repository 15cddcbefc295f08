package auth

import (
	"regexp"
	"slices"
	"time"
)

// usernamePattern defines the valid format for usernames:
// alphanumeric, dots, hyphens, underscores, 1-64 characters.
var usernamePattern = regexp.MustCompile(`^[a-zA-Z0-9._-]{1,64}$`)

// IsValidUsername checks if a username meets format requirements.
func IsValidUsername(username string) bool {
	return usernamePattern.MatchString(username)
}

// Account is a human identity that can log in.
type Account struct {
	ID           string    `json:"id"`
	Username     string    `json:"username"`
	PasswordHash string    `json:"-"` // never serialised
	IsActive     bool      `json:"is_active"`
	Roles        []string  `json:"roles"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// Role groups permissions under a name.
type Role struct {
	Name        string       `json:"name"`
	Description string       `json:"description,omitempty"`
	Permissions []Permission `json:"permissions"`
	IsBuiltIn   bool         `json:"is_built_in"`
	CreatedAt   time.Time    `json:"created_at"`
}

// RefreshCredential is the durable record of one refresh secret.
// Only the keyed hash of the secret is stored.
type RefreshCredential struct {
	ID           string    `json:"id"`
	AccountID    string    `json:"account_id"`
	TokenHash    string    `json:"-"` // never serialised
	CreatedAt    time.Time `json:"created_at"`
	ExpiresAt    time.Time `json:"expires_at"`
	Used         bool      `json:"used"`
	Invalidated  bool      `json:"invalidated"`
	IsPersistent bool      `json:"is_persistent"`
	DeviceInfo   string    `json:"device_info,omitempty"`
	ReplacedBy   string    `json:"replaced_by,omitempty"`
}

// Redeemable reports whether the credential can still be exchanged at now.
func (c *RefreshCredential) Redeemable(now time.Time) bool {
	return !c.Used && !c.Invalidated && now.Before(c.ExpiresAt)
}

// Grant is the permission set carried by an access credential. It is either
// every permission (the superuser case) or an explicit, sorted set.
// The zero value grants nothing.
type Grant struct {
	all   bool
	perms []Permission
}

// AllPermissions returns the unconditional grant.
func AllPermissions() Grant {
	return Grant{all: true}
}

// ExplicitPermissions returns a grant of exactly perms, deduplicated and sorted.
func ExplicitPermissions(perms ...Permission) Grant {
	set := slices.Clone(perms)
	slices.Sort(set)
	return Grant{perms: slices.Compact(set)}
}

// IsAll reports whether the grant is unconditional.
func (g Grant) IsAll() bool {
	return g.all
}

// Permissions returns a copy of the explicit set. It is nil for AllPermissions.
func (g Grant) Permissions() []Permission {
	if g.all {
		return nil
	}
	return slices.Clone(g.perms)
}

// Allows reports whether the grant includes perm.
func (g Grant) Allows(perm Permission) bool {
	if g.all {
		return true
	}
	_, found := slices.BinarySearch(g.perms, perm)
	return found
}

// AccessClaims is the verified content of an access credential.
type AccessClaims struct {
	AccountID string
	Roles     []string
	Grant     Grant

	// FingerprintHash is empty for credentials minted before security
	// stamps existed; those skip the stamp check.
	FingerprintHash string

	ID        string
	Issuer    string
	IssuedAt  time.Time
	ExpiresAt time.Time
}

// TokenPair is what a client receives after login or redemption.
type TokenPair struct {
	AccessToken  string
	Claims       *AccessClaims
	RefreshToken string
	Credential   *RefreshCredential
}
