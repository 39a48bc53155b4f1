// Package oauth implements Sign in with Google: a signed state cookie with
// a PKCE verifier, and the authorization code exchange.
package oauth

import (
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/iliyamo/storefront/internal/utils"
)

// StateTTL bounds how long a login attempt may take at Google.
const StateTTL = 10 * time.Minute

// ErrInvalidState is returned when the state cookie is missing, forged,
// expired or does not match the state Google sent back.
var ErrInvalidState = errors.New("invalid oauth state")

type stateClaims struct {
	State    string `json:"state"`
	Verifier string `json:"cv"`
	jwt.RegisteredClaims
}

// Flow is one login attempt: the state sent to Google and the PKCE
// verifier kept on our side.
type Flow struct {
	State     string
	Verifier  string
	ExpiresAt time.Time
}

// Challenge is the S256 PKCE challenge of the verifier.
func (f Flow) Challenge() string {
	sum := sha256.Sum256([]byte(f.Verifier))
	return base64.RawURLEncoding.EncodeToString(sum[:])
}

// StateSigner signs flows into an HS256 token stored in a cookie.
type StateSigner struct {
	secret []byte
	now    func() time.Time
}

func NewStateSigner(secret string, now func() time.Time) *StateSigner {
	if now == nil {
		now = time.Now
	}
	return &StateSigner{secret: []byte(secret), now: now}
}

// Begin starts a flow and returns it with its signed cookie value.
func (s *StateSigner) Begin() (Flow, string, error) {
	state, err := utils.RandomState()
	if err != nil {
		return Flow{}, "", err
	}
	verifier, err := utils.NewCodeVerifier()
	if err != nil {
		return Flow{}, "", err
	}
	now := s.now()
	f := Flow{State: state, Verifier: verifier, ExpiresAt: now.Add(StateTTL)}
	tok := jwt.NewWithClaims(jwt.SigningMethodHS256, stateClaims{
		State:    f.State,
		Verifier: f.Verifier,
		RegisteredClaims: jwt.RegisteredClaims{
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(f.ExpiresAt),
		},
	})
	signed, err := tok.SignedString(s.secret)
	if err != nil {
		return Flow{}, "", err
	}
	return f, signed, nil
}

// Verify checks the cookie value against the state returned by Google and
// returns the flow.
func (s *StateSigner) Verify(cookie, state string) (Flow, error) {
	if cookie == "" || state == "" {
		return Flow{}, ErrInvalidState
	}
	var claims stateClaims
	_, err := jwt.ParseWithClaims(cookie, &claims, func(t *jwt.Token) (interface{}, error) {
		return s.secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}), jwt.WithTimeFunc(s.now))
	if err != nil || claims.State != state || claims.Verifier == "" {
		return Flow{}, ErrInvalidState
	}
	return Flow{State: claims.State, Verifier: claims.Verifier, ExpiresAt: claims.ExpiresAt.Time}, nil
}
