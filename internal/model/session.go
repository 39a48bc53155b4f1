package model

import "time"

// OAuthProviderGoogle marks sessions created by Sign in with Google.
const OAuthProviderGoogle = "google"

// Session models a row in the `sessions` table.  The id is the opaque token
// carried by the session cookie.
//
// Fields:
//  ID                – 24 hex characters from 12 random bytes.
//  UserID            – owner of the session.
//  ExpiresAt         – absolute expiry; pushed forward on renewal.
//  TwoFactorVerified – whether the second factor was presented in this session.
//  OAuthProvider     – "google" for OAuth sessions, empty otherwise.
type Session struct {
    ID                string    `json:"-"`
    UserID            string    `json:"user_id"`
    ExpiresAt         time.Time `json:"expires_at"`
    TwoFactorVerified bool      `json:"two_factor_verified"`
    OAuthProvider     string    `json:"oauth_provider,omitempty"`
    CreatedAt         time.Time `json:"-"`
}
