package auth

import (
	"crypto/rand"
	"encoding/base32"
	"time"

	"github.com/pquerna/otp"
	"github.com/pquerna/otp/totp"
)

// TOTPKeySize is the length in bytes of generated authenticator keys.
const TOTPKeySize = 20

var secretEncoding = base32.StdEncoding.WithPadding(base32.NoPadding)

// TOTP generates and checks RFC 6238 codes: SHA1, 6 digits, 30 second
// period, one step of clock skew either way.
type TOTP struct {
	Issuer string
}

// NewKey returns a random authenticator key.
func (t TOTP) NewKey() ([]byte, error) {
	key := make([]byte, TOTPKeySize)
	if _, err := rand.Read(key); err != nil {
		return nil, err
	}
	return key, nil
}

// URI returns the otpauth:// URI an authenticator app scans for key.
func (t TOTP) URI(account string, key []byte) (string, error) {
	k, err := totp.Generate(totp.GenerateOpts{
		Issuer:      t.Issuer,
		AccountName: account,
		Secret:      key,
		Period:      30,
		Digits:      otp.DigitsSix,
		Algorithm:   otp.AlgorithmSHA1,
	})
	if err != nil {
		return "", err
	}
	return k.URL(), nil
}

// Code returns the code for key at the given time.
func (t TOTP) Code(key []byte, at time.Time) (string, error) {
	return totp.GenerateCodeCustom(secretEncoding.EncodeToString(key), at, t.opts())
}

// Validate reports whether code is valid for key at the given time.
func (t TOTP) Validate(key []byte, code string, at time.Time) bool {
	ok, err := totp.ValidateCustom(code, secretEncoding.EncodeToString(key), at, t.opts())
	return err == nil && ok
}

func (t TOTP) opts() totp.ValidateOpts {
	return totp.ValidateOpts{Period: 30, Skew: 1, Digits: otp.DigitsSix, Algorithm: otp.AlgorithmSHA1}
}
