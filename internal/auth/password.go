// Package auth wraps the password-hashing and shared-secret derivation used
// by the LOGIN_AUTH handshake's Password and Authentication messages.
//
// Passwords for hosts and sessions are hashed with bcrypt; the
// Authentication handshake's pre-shared secret is run through PBKDF2 with a
// fixed salt, the same idiom kcptun uses to derive its symmetric session
// key from a CLI-supplied passphrase.
package auth

import (
	"crypto/sha1"
	"crypto/subtle"

	"golang.org/x/crypto/bcrypt"
	"golang.org/x/crypto/pbkdf2"
)

// salt mirrors kcptun's SALT constant: a fixed, public salt is adequate
// here because the secret itself — not the salt — carries the entropy, and
// the derived token is compared, never stored.
const salt = "boardhost"

// HashPassword produces a bcrypt hash suitable for a host or session
// password_hash field.
func HashPassword(plain string) (string, error) {
	h, err := bcrypt.GenerateFromPassword([]byte(plain), bcrypt.DefaultCost)
	if err != nil {
		return "", err
	}
	return string(h), nil
}

// CheckPassword reports whether plain matches a hash produced by
// HashPassword.
func CheckPassword(hash, plain string) bool {
	if hash == "" {
		return plain == ""
	}
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(plain)) == nil
}

// DeriveToken turns a shared secret (the Authentication message's payload)
// into a fixed-length token for constant-time comparison against the
// host's configured secret, without ever holding the caller's raw bytes
// longer than this call.
func DeriveToken(secret []byte) []byte {
	return pbkdf2.Key(secret, []byte(salt), 4096, 32, sha1.New)
}

// TokensEqual compares two derived tokens in constant time.
func TokensEqual(a, b []byte) bool {
	return len(a) == len(b) && subtle.ConstantTimeCompare(a, b) == 1
}
