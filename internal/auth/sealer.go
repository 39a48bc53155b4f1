package auth

import (
	"crypto/cipher"
	"crypto/rand"
	"errors"

	"golang.org/x/crypto/chacha20poly1305"
)

// ErrInvalidCiphertext is returned when sealed data is truncated or fails
// authentication.
var ErrInvalidCiphertext = errors.New("invalid ciphertext")

// Sealer encrypts secrets stored at rest (TOTP keys, recovery codes) with
// XChaCha20-Poly1305.  Output is nonce || ciphertext.
type Sealer struct {
	aead cipher.AEAD
}

// NewSealer builds a Sealer from a 32 byte key.
func NewSealer(key []byte) (*Sealer, error) {
	aead, err := chacha20poly1305.NewX(key)
	if err != nil {
		return nil, err
	}
	return &Sealer{aead: aead}, nil
}

func (s *Sealer) Seal(plain []byte) ([]byte, error) {
	nonce := make([]byte, s.aead.NonceSize(), s.aead.NonceSize()+len(plain)+s.aead.Overhead())
	if _, err := rand.Read(nonce); err != nil {
		return nil, err
	}
	return s.aead.Seal(nonce, nonce, plain, nil), nil
}

func (s *Sealer) Open(sealed []byte) ([]byte, error) {
	n := s.aead.NonceSize()
	if len(sealed) < n+s.aead.Overhead() {
		return nil, ErrInvalidCiphertext
	}
	plain, err := s.aead.Open(nil, sealed[:n], sealed[n:], nil)
	if err != nil {
		return nil, ErrInvalidCiphertext
	}
	return plain, nil
}

// SealString and OpenString wrap Seal and Open for text secrets.
func (s *Sealer) SealString(plain string) ([]byte, error) { return s.Seal([]byte(plain)) }

func (s *Sealer) OpenString(sealed []byte) (string, error) {
	b, err := s.Open(sealed)
	return string(b), err
}
