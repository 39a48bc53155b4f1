package utils // package utils provides helpers for random tokens, codes and password hashing

import (
    "crypto/rand"     // secure random number generation
    "encoding/base32" // base32 keeps codes readable and case-insensitive
    "encoding/hex"    // hex encoding for session tokens
    "strings"         // strings normalises user-typed codes
)

// NewSessionToken returns 24 hex characters made from 12 random bytes.  The
// token is both the cookie value and the primary key of the session row.
func NewSessionToken() (string, error) {
    return randomHex(12)
}

// NewVerificationCode returns an 8 character base32 code (5 random bytes)
// mailed to confirm an email address or a password reset.
func NewVerificationCode() (string, error) {
    return randomBase32(5)
}

// NewRecoveryCode returns a 16 character base32 code (10 random bytes) that
// lets a user remove a lost authenticator.
func NewRecoveryCode() (string, error) {
    return randomBase32(10)
}

// NormalizeCode upper-cases and strips spaces and dashes from a code typed
// by a user, so "abcd-efgh" matches "ABCDEFGH".
func NormalizeCode(code string) string {
    code = strings.ToUpper(strings.TrimSpace(code))
    return strings.NewReplacer(" ", "", "-", "").Replace(code)
}

// RandomState returns an unguessable value for OAuth state parameters.
func RandomState() (string, error) {
    return randomHex(16)
}

// NewCodeVerifier returns a 64 character PKCE code verifier.
func NewCodeVerifier() (string, error) {
    return randomHex(32)
}

// randomHex returns a hex‑encoded string generated from n bytes of
// cryptographically secure random data.
func randomHex(n int) (string, error) {
    buf := make([]byte, n)
    if _, err := rand.Read(buf); err != nil {
        return "", err
    }
    return hex.EncodeToString(buf), nil
}

func randomBase32(n int) (string, error) {
    buf := make([]byte, n)
    if _, err := rand.Read(buf); err != nil {
        return "", err
    }
    return base32.StdEncoding.WithPadding(base32.NoPadding).EncodeToString(buf), nil
}
