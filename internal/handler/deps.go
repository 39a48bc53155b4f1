package handler

import (
    "context"
    "time"

    "github.com/iliyamo/storefront/internal/model"
)

// Users is the slice of repository.UserRepo the auth flows use.
type Users interface {
    Create(ctx context.Context, email, username, password string, cost int, sealedRecovery []byte) (model.User, error)
    CreateWithGoogle(ctx context.Context, googleID, email, name, picture string) (model.User, error)
    GetByID(ctx context.Context, id string) (model.User, error)
    GetByEmail(ctx context.Context, email string) (model.User, error)
    GetByGoogleID(ctx context.Context, googleID string) (model.User, error)
    EmailAvailable(ctx context.Context, email string) (bool, error)
    GetPasswordHash(ctx context.Context, id string) (string, error)
    UpdatePassword(ctx context.Context, id, password string, cost int) error
    SetEmailVerifiedIfMatches(ctx context.Context, id, email string) (bool, error)
    UpdateEmailAndVerify(ctx context.Context, id, email string) error
    UpdateTOTPKey(ctx context.Context, id string, sealedKey []byte) error
    GetTOTPKey(ctx context.Context, id string) ([]byte, error)
    GetRecoveryCode(ctx context.Context, id string) ([]byte, error)
    SetRecoveryCode(ctx context.Context, id string, sealed []byte) error
    ResetTOTPWithRecoveryCode(ctx context.Context, id string, matches func(sealed []byte) bool, newSealed []byte) (bool, error)
    SetMfaEnabled(ctx context.Context, id string, enabled bool) error
}

// EmailVerifications stores outstanding email confirmations.
type EmailVerifications interface {
    Create(ctx context.Context, userID, email, code string, expiresAt time.Time) (model.EmailVerificationRequest, error)
    Get(ctx context.Context, userID, id string) (model.EmailVerificationRequest, error)
    DeleteForUser(ctx context.Context, userID string) error
}

// PasswordResets stores password reset sessions.
type PasswordResets interface {
    Create(ctx context.Context, s model.PasswordResetSession) error
    Get(ctx context.Context, id string) (model.PasswordResetSession, error)
    Delete(ctx context.Context, id string) error
    DeleteForUser(ctx context.Context, userID string) error
    MarkEmailVerified(ctx context.Context, id string) error
    MarkTwoFactorVerified(ctx context.Context, id string) error
}

// Orders persists carts.
type Orders interface {
    SaveCart(ctx context.Context, o *model.Order) error
    UpdateShipping(ctx context.Context, o *model.Order) error
}

// Contacts stores contact form messages.
type Contacts interface {
    Create(ctx context.Context, name, email, subject, message string) (model.Contact, error)
}

// UserInvalidator drops cached copies of a user after it changed.
type UserInvalidator interface {
    Invalidate(ctx context.Context, id string)
}
