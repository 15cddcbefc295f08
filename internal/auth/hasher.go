package auth

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/hex"
	"errors"
	"fmt"

	"github.com/zeebo/blake3"
)

const (
	// hasherKeyContext is the BLAKE3 derive-key context for the hashing key.
	hasherKeyContext = "sessiond 2026-03-01 credential hasher v1"

	// minHashingKeyLength is the shortest accepted key material.
	minHashingKeyLength = 32

	// secretBytes is the size of refresh secrets and fingerprints (256 bits).
	secretBytes = 32
)

// Domain tags keep refresh-secret and fingerprint digests in separate spaces.
var (
	domainRefreshSecret = []byte("refresh-secret\x00")
	domainFingerprint   = []byte("fingerprint\x00")
)

// Hasher computes keyed one-way digests of secrets. Without the key an
// attacker holding the database cannot test guesses offline.
//
// Hasher is safe for concurrent use.
type Hasher struct {
	key [32]byte
}

// NewHasher derives a 32-byte BLAKE3 key from keyMaterial.
func NewHasher(keyMaterial string) (*Hasher, error) {
	if len(keyMaterial) < minHashingKeyLength {
		return nil, errors.New("auth: hashing key must be at least 32 characters")
	}
	h := &Hasher{}
	blake3.DeriveKey(hasherKeyContext, []byte(keyMaterial), h.key[:])
	return h, nil
}

// HashSecret returns the hex digest stored for a raw refresh secret.
func (h *Hasher) HashSecret(raw string) string {
	return h.digest(domainRefreshSecret, raw)
}

// HashFingerprint returns the hex digest embedded in access credentials.
func (h *Hasher) HashFingerprint(fingerprint string) string {
	return h.digest(domainFingerprint, fingerprint)
}

func (h *Hasher) digest(domain []byte, value string) string {
	d, err := blake3.NewKeyed(h.key[:])
	if err != nil {
		panic("auth: BLAKE3 keyed hash initialization failed: " + err.Error())
	}
	d.Write(domain)        //nolint:errcheck // hash writes never fail
	d.Write([]byte(value)) //nolint:errcheck // hash writes never fail
	return hex.EncodeToString(d.Sum(nil))
}

// EqualDigests compares two hex digests in constant time.
func EqualDigests(a, b string) bool {
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}

// newSecret returns 256 random bits, hex encoded. Used for refresh secrets
// and revocation fingerprints.
func newSecret() (string, error) {
	b := make([]byte, secretBytes)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("generating secret: %w", err)
	}
	return hex.EncodeToString(b), nil
}

// NewFingerprint returns a fresh revocation fingerprint.
func NewFingerprint() (string, error) {
	return newSecret()
}
