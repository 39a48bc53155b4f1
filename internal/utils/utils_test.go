package utils

import (
	"strings"
	"testing"

	"golang.org/x/crypto/bcrypt"
)

func TestNewSessionTokenShape(t *testing.T) {
	seen := map[string]bool{}
	for i := 0; i < 100; i++ {
		tok, err := NewSessionToken()
		if err != nil {
			t.Fatalf("NewSessionToken: %v", err)
		}
		if len(tok) != 24 || strings.Trim(tok, "0123456789abcdef") != "" {
			t.Fatalf("token %q is not 24 lowercase hex chars", tok)
		}
		if seen[tok] {
			t.Fatalf("duplicate token %q", tok)
		}
		seen[tok] = true
	}
}

func TestCodesAreBase32(t *testing.T) {
	code, err := NewVerificationCode()
	if err != nil || len(code) != 8 {
		t.Fatalf("verification code %q, err %v", code, err)
	}
	rc, err := NewRecoveryCode()
	if err != nil || len(rc) != 16 {
		t.Fatalf("recovery code %q, err %v", rc, err)
	}
	if strings.Trim(code+rc, "ABCDEFGHIJKLMNOPQRSTUVWXYZ234567") != "" {
		t.Fatalf("codes must use the base32 alphabet")
	}
}

func TestNormalizeCode(t *testing.T) {
	if got := NormalizeCode(" abcd-efgh "); got != "ABCDEFGH" {
		t.Fatalf("NormalizeCode = %q", got)
	}
}

func TestPasswordRoundTrip(t *testing.T) {
	hash, err := HashPassword("correct horse", bcrypt.MinCost)
	if err != nil {
		t.Fatalf("HashPassword: %v", err)
	}
	if !VerifyPassword(hash, "correct horse") {
		t.Fatalf("password should verify")
	}
	if VerifyPassword(hash, "wrong horse") || VerifyPassword("", "correct horse") {
		t.Fatalf("wrong password or empty hash must not verify")
	}
}

func TestCheckPasswordStrength(t *testing.T) {
	if err := CheckPasswordStrength("short"); err != ErrPasswordTooShort {
		t.Fatalf("got %v", err)
	}
	if err := CheckPasswordStrength(strings.Repeat("a", 73)); err != ErrPasswordTooLong {
		t.Fatalf("got %v", err)
	}
	if err := CheckPasswordStrength("long enough"); err != ErrPasswordWeak {
		t.Fatalf("missing classes: %v", err)
	}
	if err := CheckPasswordStrength("Long enough1!"); err != nil {
		t.Fatalf("got %v", err)
	}
}
