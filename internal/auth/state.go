package auth

import (
	"strings"

	"github.com/iliyamo/storefront/internal/model"
)

// Identity is what a request knows about its caller after resolution.
type Identity struct {
	Session *model.Session
	User    *model.User

	Role              string
	IsMfaEnabled      bool
	Registered2FA     bool
	TwoFactorVerified bool
}

// Identity derives the request identity.  Registered2FA is computed here
// from the presence of a TOTP key and nowhere else.
func (r Resolution) Identity() Identity {
	if r.Session == nil || r.User == nil {
		return Identity{}
	}
	return Identity{
		Session:           r.Session,
		User:              r.User,
		Role:              r.User.Role,
		IsMfaEnabled:      r.User.IsMfaEnabled,
		Registered2FA:     r.User.HasTOTPKey,
		TwoFactorVerified: r.Session.TwoFactorVerified,
	}
}

// Authenticated reports whether a user is attached.
func (i Identity) Authenticated() bool { return i.User != nil && i.Session != nil }

// State is the step of the sign-in flow a request is at.
type State int

const (
	Anonymous State = iota
	NeedsMfaSetup
	NeedsMfaChallenge
	NeedsEmailVerification
	Authorized
)

func (s State) String() string {
	switch s {
	case Anonymous:
		return "anonymous"
	case NeedsMfaSetup:
		return "needs_mfa_setup"
	case NeedsMfaChallenge:
		return "needs_mfa_challenge"
	case NeedsEmailVerification:
		return "needs_email_verification"
	case Authorized:
		return "authorized"
	}
	return "unknown"
}

// ComputeState places an identity in the sign-in flow.  Second-factor
// requirements come before email verification.
func ComputeState(id Identity) State {
	switch {
	case !id.Authenticated():
		return Anonymous
	case id.IsMfaEnabled && !id.Registered2FA:
		return NeedsMfaSetup
	case id.IsMfaEnabled && !id.TwoFactorVerified:
		return NeedsMfaChallenge
	case !id.User.EmailVerified:
		return NeedsEmailVerification
	}
	return Authorized
}

// Paths maps flow states to redirects.
type Paths struct {
	Login        string
	VerifyEmail  string
	MfaSetup     string
	MfaChallenge string

	// Protected prefixes need an authorized user.
	Protected []string
	// Exempt paths are never redirected.
	Exempt []string
}

// DefaultPaths returns the storefront's routes.
func DefaultPaths() Paths {
	return Paths{
		Login:        "/auth/login",
		VerifyEmail:  "/auth/verify-email",
		MfaSetup:     "/auth/2fa/setup",
		MfaChallenge: "/auth/2fa",
		Protected:    []string{"/auth/settings", "/checkout"},
		Exempt:       []string{"/auth/signout", "/healthz"},
	}
}

// Redirect returns where a request in state s for path must be sent, or
// false when it may proceed.
func (p Paths) Redirect(s State, path string) (string, bool) {
	if hasAnyPrefix(path, p.Exempt) {
		return "", false
	}
	switch s {
	case NeedsMfaSetup:
		if !strings.HasPrefix(path, p.MfaSetup) {
			return p.MfaSetup, true
		}
	case NeedsMfaChallenge:
		if !strings.HasPrefix(path, p.MfaChallenge) {
			return p.MfaChallenge, true
		}
	case Anonymous:
		if hasAnyPrefix(path, p.Protected) {
			return p.Login, true
		}
	case NeedsEmailVerification:
		if hasAnyPrefix(path, p.Protected) {
			return p.VerifyEmail, true
		}
	}
	return "", false
}

// Landing is where a client in state s should go next.
func (p Paths) Landing(s State) string {
	switch s {
	case Anonymous:
		return p.Login
	case NeedsMfaSetup:
		return p.MfaSetup
	case NeedsMfaChallenge:
		return p.MfaChallenge
	case NeedsEmailVerification:
		return p.VerifyEmail
	}
	return "/"
}

func hasAnyPrefix(path string, prefixes []string) bool {
	for _, pre := range prefixes {
		if path == pre || strings.HasPrefix(path, strings.TrimSuffix(pre, "/")+"/") {
			return true
		}
	}
	return false
}
