package repository

import (
	"context"
	"database/sql"
	"time"

	"github.com/google/uuid"

	"github.com/iliyamo/storefront/internal/model"
)

// EmailVerificationRepo stores the outstanding email confirmation of each user.
type EmailVerificationRepo struct{ DB *sql.DB }

func NewEmailVerificationRepo(db *sql.DB) *EmailVerificationRepo {
	return &EmailVerificationRepo{DB: db}
}

// Create replaces any request the user already has with a new one.
func (r *EmailVerificationRepo) Create(ctx context.Context, userID, email, code string, expiresAt time.Time) (model.EmailVerificationRequest, error) {
	req := model.EmailVerificationRequest{
		ID:        uuid.NewString(),
		UserID:    userID,
		Email:     normalizeEmail(email),
		Code:      code,
		ExpiresAt: expiresAt.UTC(),
	}
	tx, err := r.DB.BeginTx(ctx, nil)
	if err != nil {
		return model.EmailVerificationRequest{}, err
	}
	defer func() { _ = tx.Rollback() }()
	if _, err := tx.ExecContext(ctx,
		"DELETE FROM email_verification_requests WHERE user_id=?", userID); err != nil {
		return model.EmailVerificationRequest{}, err
	}
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO email_verification_requests (id, user_id, email, code, expires_at)
		 VALUES (?,?,?,?,?)`,
		req.ID, req.UserID, req.Email, req.Code, req.ExpiresAt); err != nil {
		return model.EmailVerificationRequest{}, err
	}
	return req, tx.Commit()
}

// Get returns the request id owned by userID, or ErrNotFound.
func (r *EmailVerificationRepo) Get(ctx context.Context, userID, id string) (model.EmailVerificationRequest, error) {
	var req model.EmailVerificationRequest
	err := r.DB.QueryRowContext(ctx,
		`SELECT id, user_id, email, code, expires_at FROM email_verification_requests
		 WHERE id=? AND user_id=? LIMIT 1`, id, userID).
		Scan(&req.ID, &req.UserID, &req.Email, &req.Code, &req.ExpiresAt)
	return req, notFound(err)
}

// DeleteForUser removes every request of the user.
func (r *EmailVerificationRepo) DeleteForUser(ctx context.Context, userID string) error {
	_, err := r.DB.ExecContext(ctx,
		"DELETE FROM email_verification_requests WHERE user_id=?", userID)
	return err
}

// PasswordResetRepo stores password reset sessions.
type PasswordResetRepo struct{ DB *sql.DB }

func NewPasswordResetRepo(db *sql.DB) *PasswordResetRepo { return &PasswordResetRepo{DB: db} }

// Create inserts a reset session.
func (r *PasswordResetRepo) Create(ctx context.Context, s model.PasswordResetSession) error {
	_, err := r.DB.ExecContext(ctx,
		`INSERT INTO password_reset_sessions
		 (id, user_id, email, code, expires_at, email_verified, two_factor_verified)
		 VALUES (?,?,?,?,?,?,?)`,
		s.ID, s.UserID, normalizeEmail(s.Email), s.Code, s.ExpiresAt.UTC(), s.EmailVerified, s.TwoFactorVerified)
	return err
}

// Get returns the reset session with the given id, or ErrNotFound.
func (r *PasswordResetRepo) Get(ctx context.Context, id string) (model.PasswordResetSession, error) {
	var s model.PasswordResetSession
	err := r.DB.QueryRowContext(ctx,
		`SELECT id, user_id, email, code, expires_at, email_verified, two_factor_verified
		 FROM password_reset_sessions WHERE id=? LIMIT 1`, id).
		Scan(&s.ID, &s.UserID, &s.Email, &s.Code, &s.ExpiresAt, &s.EmailVerified, &s.TwoFactorVerified)
	return s, notFound(err)
}

// Delete removes one reset session.
func (r *PasswordResetRepo) Delete(ctx context.Context, id string) error {
	_, err := r.DB.ExecContext(ctx, "DELETE FROM password_reset_sessions WHERE id=?", id)
	return err
}

// DeleteForUser removes every reset session of the user.
func (r *PasswordResetRepo) DeleteForUser(ctx context.Context, userID string) error {
	_, err := r.DB.ExecContext(ctx, "DELETE FROM password_reset_sessions WHERE user_id=?", userID)
	return err
}

// MarkEmailVerified records that the mailed code was entered.
func (r *PasswordResetRepo) MarkEmailVerified(ctx context.Context, id string) error {
	return checkAffected(r.DB.ExecContext(ctx,
		"UPDATE password_reset_sessions SET email_verified=1 WHERE id=?", id))
}

// MarkTwoFactorVerified records that the second factor was presented.
func (r *PasswordResetRepo) MarkTwoFactorVerified(ctx context.Context, id string) error {
	return checkAffected(r.DB.ExecContext(ctx,
		"UPDATE password_reset_sessions SET two_factor_verified=1 WHERE id=?", id))
}

// ContactRepo stores contact form messages.
type ContactRepo struct{ DB *sql.DB }

func NewContactRepo(db *sql.DB) *ContactRepo { return &ContactRepo{DB: db} }

// Create inserts a message and returns it with its id.
func (r *ContactRepo) Create(ctx context.Context, name, email, subject, message string) (model.Contact, error) {
	c := model.Contact{
		ID:        uuid.NewString(),
		Name:      name,
		Email:     normalizeEmail(email),
		Subject:   subject,
		Message:   message,
		CreatedAt: time.Now().UTC(),
	}
	_, err := r.DB.ExecContext(ctx,
		"INSERT INTO contacts (id, name, email, subject, message, created_at) VALUES (?,?,?,?,?,?)",
		c.ID, c.Name, c.Email, c.Subject, c.Message, c.CreatedAt)
	return c, err
}
