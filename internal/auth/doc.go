// Package auth implements sessions and authorisation for sessiond.
//
// It covers the whole credential lifecycle:
//   - Refresh credentials: single-use, rotated on every redemption, with the
//     successor inheriting the original absolute expiry. Presenting a used
//     credential is treated as theft and revokes every session of the account.
//   - Access credentials: short-lived HS256 JWTs carrying the account's roles,
//     a permission grant and the keyed hash of its revocation fingerprint.
//   - Security stamps: every authenticated request compares the fingerprint
//     hash in the access credential with the current one (cache first, then
//     the identity store). Any lookup failure denies the request.
//   - Revocation: soft revokes rotate the fingerprint so access credentials go
//     stale; hard revokes also invalidate every refresh credential.
//   - Authorisation: Authorize inspects claims only. The superadmin role is
//     carried as an all-permissions grant rather than an enumerated set.
//
// Revocation state (IdentityStore, RevocationCache, TokenStore) is always
// passed in explicitly so tests can substitute in-memory doubles.
package auth
