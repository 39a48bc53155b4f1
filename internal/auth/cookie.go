package auth

import (
	"net/http"
	"time"
)

// Cookie names used by the auth flows besides the session cookie.
const (
	EmailVerificationCookie = "email_verification"
	PasswordResetCookie     = "password_reset_session"
	OAuthStateCookie        = "google_oauth_state"
)

// CookieConfig builds the cookies the auth flows set.  Every cookie is
// HttpOnly, SameSite=Lax and scoped to "/".
type CookieConfig struct {
	SessionName string
	Secure      bool
}

// Session returns the session cookie carrying token until expiresAt.
func (c CookieConfig) Session(token string, expiresAt time.Time) *http.Cookie {
	return c.cookie(c.SessionName, token, expiresAt)
}

// Blank returns a cookie that removes the session cookie.
func (c CookieConfig) Blank() *http.Cookie {
	return c.Clear(c.SessionName)
}

// Named returns a cookie called name that expires at expiresAt.
func (c CookieConfig) Named(name, value string, expiresAt time.Time) *http.Cookie {
	return c.cookie(name, value, expiresAt)
}

// Clear returns a cookie that removes name.
func (c CookieConfig) Clear(name string) *http.Cookie {
	ck := c.cookie(name, "", time.Unix(0, 0))
	ck.MaxAge = -1
	return ck
}

// Read returns the value of name on r, or "".
func (c CookieConfig) Read(r *http.Request, name string) string {
	ck, err := r.Cookie(name)
	if err != nil {
		return ""
	}
	return ck.Value
}

// ReadSession returns the session token on r, or "".
func (c CookieConfig) ReadSession(r *http.Request) string {
	return c.Read(r, c.SessionName)
}

func (c CookieConfig) cookie(name, value string, expiresAt time.Time) *http.Cookie {
	return &http.Cookie{
		Name:     name,
		Value:    value,
		Path:     "/",
		Expires:  expiresAt,
		HttpOnly: true,
		Secure:   c.Secure,
		SameSite: http.SameSiteLaxMode,
	}
}
