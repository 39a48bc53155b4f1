package model

import "time"

// EmailVerificationRequest models a row in `email_verification_requests`.
// A user has at most one outstanding request; creating a new one replaces
// it.  Email is the address being confirmed, which differs from the user's
// current address during an email change.
type EmailVerificationRequest struct {
    ID        string
    UserID    string
    Email     string
    Code      string
    ExpiresAt time.Time
}

// PasswordResetSession models a row in `password_reset_sessions`.  The id
// travels in the password_reset_session cookie; the code is mailed to the
// user.  Both flags must be satisfied before the password may change.
type PasswordResetSession struct {
    ID                string
    UserID            string
    Email             string
    Code              string
    ExpiresAt         time.Time
    EmailVerified     bool
    TwoFactorVerified bool
}

// Contact models a message left through the contact form.
type Contact struct {
    ID        string    `json:"id"`
    Name      string    `json:"name"`
    Email     string    `json:"email"`
    Subject   string    `json:"subject"`
    Message   string    `json:"message"`
    CreatedAt time.Time `json:"created_at"`
}
