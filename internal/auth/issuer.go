package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

const (
	// DefaultAccessTokenTTL is the access credential lifetime when none is configured.
	DefaultAccessTokenTTL = 15 * time.Minute

	// DefaultIssuer is the "iss" claim when none is configured.
	DefaultIssuer = "sessiond"
)

// IssuerConfig configures an Issuer.
type IssuerConfig struct {
	Secret string
	Issuer string
	TTL    time.Duration

	// Now overrides the clock. Defaults to time.Now.
	Now func() time.Time
}

// Issuer mints and parses HS256 access credentials.
type Issuer struct {
	secret []byte
	issuer string
	ttl    time.Duration
	now    func() time.Time
}

// wireClaims is the JWT body.
type wireClaims struct {
	jwt.RegisteredClaims
	Roles    []string `json:"roles"`
	Perms    []string `json:"perms,omitempty"`
	AllPerms bool     `json:"all_perms,omitempty"`
	FPH      string   `json:"fph,omitempty"`
}

// NewIssuer validates cfg and returns an Issuer.
func NewIssuer(cfg IssuerConfig) (*Issuer, error) {
	if len(cfg.Secret) < 32 {
		return nil, errors.New("auth: access credential secret must be at least 32 characters")
	}
	if cfg.Issuer == "" {
		cfg.Issuer = DefaultIssuer
	}
	if cfg.TTL <= 0 {
		cfg.TTL = DefaultAccessTokenTTL
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Issuer{
		secret: []byte(cfg.Secret),
		issuer: cfg.Issuer,
		ttl:    cfg.TTL,
		now:    cfg.Now,
	}, nil
}

// TTL returns the access credential lifetime.
func (i *Issuer) TTL() time.Duration {
	return i.ttl
}

// Mint signs an access credential for accountID. A superadmin role yields
// AllPermissions and perms is ignored; otherwise perms is deduplicated and
// sorted. An empty fingerprintHash omits the fph claim.
func (i *Issuer) Mint(accountID string, roles []string, perms []Permission, fingerprintHash string) (string, *AccessClaims, error) {
	now := i.now().Truncate(time.Second)
	grant := grantFor(roles, perms)

	claims := &AccessClaims{
		AccountID:       accountID,
		Roles:           append([]string{}, roles...),
		Grant:           grant,
		FingerprintHash: fingerprintHash,
		ID:              uuid.NewString(),
		Issuer:          i.issuer,
		IssuedAt:        now,
		ExpiresAt:       now.Add(i.ttl),
	}

	wire := wireClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   claims.AccountID,
			Issuer:    claims.Issuer,
			ID:        claims.ID,
			IssuedAt:  jwt.NewNumericDate(claims.IssuedAt),
			ExpiresAt: jwt.NewNumericDate(claims.ExpiresAt),
		},
		Roles:    claims.Roles,
		AllPerms: grant.IsAll(),
		FPH:      fingerprintHash,
	}
	for _, p := range grant.Permissions() {
		wire.Perms = append(wire.Perms, string(p))
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, wire).SignedString(i.secret)
	if err != nil {
		return "", nil, fmt.Errorf("signing access credential: %w", err)
	}
	return signed, claims, nil
}

// Parse verifies signature, algorithm, issuer and expiry. Every failure
// wraps ErrUnauthorized.
func (i *Issuer) Parse(token string) (*AccessClaims, error) {
	var wire wireClaims
	_, err := jwt.ParseWithClaims(token, &wire,
		func(*jwt.Token) (any, error) { return i.secret, nil },
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(i.issuer),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(i.now),
	)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrUnauthorized, err)
	}
	if wire.Subject == "" {
		return nil, fmt.Errorf("%w: missing subject", ErrUnauthorized)
	}

	claims := &AccessClaims{
		AccountID:       wire.Subject,
		Roles:           wire.Roles,
		FingerprintHash: wire.FPH,
		ID:              wire.ID,
		Issuer:          wire.Issuer,
		ExpiresAt:       wire.ExpiresAt.Time,
	}
	if wire.IssuedAt != nil {
		claims.IssuedAt = wire.IssuedAt.Time
	}
	if wire.AllPerms {
		claims.Grant = AllPermissions()
	} else {
		perms := make([]Permission, len(wire.Perms))
		for n, p := range wire.Perms {
			perms[n] = Permission(p)
		}
		claims.Grant = ExplicitPermissions(perms...)
	}
	return claims, nil
}
