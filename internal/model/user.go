package model

import "time"

// Roles stored in users.role.
const (
    RoleClient = "CLIENT"
    RoleAdmin  = "ADMIN"
)

// User is the auth projection of a row in the `users` table: everything
// session resolution and the auth flows need, without secrets.  The
// password hash, TOTP key and recovery code are read through dedicated
// repository methods.
//
// Fields:
//  ID            – UUID primary key.
//  Email         – unique email address.
//  Username      – display name chosen at signup (empty for OAuth users).
//  EmailVerified – whether the current address has been confirmed.
//  HasTOTPKey    – whether users.totp_key is set.  Registration of a second
//                  factor is derived from this, never stored on its own.
//  IsMfaEnabled  – whether the user opted into two-factor authentication.
//  GoogleID      – Google subject for OAuth accounts, empty otherwise.
//  Name, Picture – profile data from the OAuth provider.
//  Role          – CLIENT or ADMIN.
type User struct {
    ID            string    `json:"id"`
    Email         string    `json:"email"`
    Username      string    `json:"username"`
    EmailVerified bool      `json:"email_verified"`
    HasTOTPKey    bool      `json:"has_totp_key"`
    IsMfaEnabled  bool      `json:"is_mfa_enabled"`
    GoogleID      string    `json:"google_id,omitempty"`
    Name          string    `json:"name,omitempty"`
    Picture       string    `json:"picture,omitempty"`
    Role          string    `json:"role"`
    CreatedAt     time.Time `json:"created_at"`
}

// IsOAuth reports whether the account signs in through Google only.
func (u User) IsOAuth() bool { return u.GoogleID != "" }
