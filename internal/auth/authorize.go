package auth

import "fmt"

// Authorize reports whether claims grant perm. It performs no I/O.
//
// Nil claims yield ErrUnauthorized. A missing permission yields an error
// wrapping ErrForbidden. Permission strings that are not defined are simply
// never granted, except under AllPermissions.
func Authorize(claims *AccessClaims, perm Permission) error {
	if claims == nil {
		return ErrUnauthorized
	}
	if claims.Grant.Allows(perm) {
		return nil
	}
	return fmt.Errorf("%w: missing %s", ErrForbidden, perm)
}
