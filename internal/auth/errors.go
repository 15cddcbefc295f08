package auth

import "errors"

// Refresh and request authentication failures. Callers outside this package
// should treat all of them as one generic authentication failure.
var (
	ErrNotFound     = errors.New("auth: refresh credential not found")
	ErrExpired      = errors.New("auth: refresh credential expired")
	ErrInvalidated  = errors.New("auth: refresh credential invalidated")
	ErrReused       = errors.New("auth: refresh credential reuse detected")
	ErrUnauthorized = errors.New("auth: unauthorized")
	ErrForbidden    = errors.New("auth: forbidden")
)

// Account and role administration errors.
var (
	ErrInvalidCredentials  = errors.New("auth: invalid credentials")
	ErrInvalidUsername     = errors.New("auth: invalid username")
	ErrAccountNotFound     = errors.New("auth: account not found")
	ErrAccountInactive     = errors.New("auth: account is inactive")
	ErrUsernameExists      = errors.New("auth: username already exists")
	ErrRoleNotFound        = errors.New("auth: role not found")
	ErrRoleExists          = errors.New("auth: role already exists")
	ErrInvalidRoleName     = errors.New("auth: invalid role name")
	ErrBuiltInRole         = errors.New("auth: built-in role cannot be changed this way")
	ErrUndefinedPermission = errors.New("auth: undefined permission")
)

// IsAuthenticationFailure reports whether err should surface to a client as
// a generic authentication failure, without revealing which check failed.
func IsAuthenticationFailure(err error) bool {
	return errors.Is(err, ErrNotFound) ||
		errors.Is(err, ErrExpired) ||
		errors.Is(err, ErrInvalidated) ||
		errors.Is(err, ErrReused) ||
		errors.Is(err, ErrUnauthorized)
}

// errorKind returns a short label for metrics and security events.
func errorKind(err error) string {
	switch {
	case err == nil:
		return "success"
	case errors.Is(err, ErrNotFound):
		return "not_found"
	case errors.Is(err, ErrExpired):
		return "expired"
	case errors.Is(err, ErrInvalidated):
		return "invalidated"
	case errors.Is(err, ErrReused):
		return "reused"
	case errors.Is(err, ErrUnauthorized):
		return "unauthorized"
	default:
		return "error"
	}
}
