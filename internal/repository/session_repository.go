package repository

import (
	"context"
	"database/sql"
	"time"

	"github.com/iliyamo/storefront/internal/model"
)

// SessionRepo persists sessions keyed by their cookie token.
type SessionRepo struct{ DB *sql.DB }

func NewSessionRepo(db *sql.DB) *SessionRepo { return &SessionRepo{DB: db} }

// Find returns the session with the given id, or ErrNotFound.
func (r *SessionRepo) Find(ctx context.Context, id string) (model.Session, error) {
	var (
		s        model.Session
		provider sql.NullString
	)
	err := r.DB.QueryRowContext(ctx,
		`SELECT id, user_id, expires_at, two_factor_verified, oauth_provider, created_at
		 FROM sessions WHERE id=? LIMIT 1`, id).
		Scan(&s.ID, &s.UserID, &s.ExpiresAt, &s.TwoFactorVerified, &provider, &s.CreatedAt)
	if err != nil {
		return model.Session{}, notFound(err)
	}
	s.OAuthProvider = provider.String
	return s, nil
}

// Create inserts a session row.
func (r *SessionRepo) Create(ctx context.Context, s model.Session) error {
	var provider sql.NullString
	if s.OAuthProvider != "" {
		provider = sql.NullString{String: s.OAuthProvider, Valid: true}
	}
	_, err := r.DB.ExecContext(ctx,
		`INSERT INTO sessions (id, user_id, expires_at, two_factor_verified, oauth_provider)
		 VALUES (?,?,?,?,?)`,
		s.ID, s.UserID, s.ExpiresAt.UTC(), s.TwoFactorVerified, provider)
	return err
}

// UpdateExpiry pushes the session's expiry to expiresAt.
func (r *SessionRepo) UpdateExpiry(ctx context.Context, id string, expiresAt time.Time) error {
	return checkAffected(r.DB.ExecContext(ctx,
		"UPDATE sessions SET expires_at=? WHERE id=?", expiresAt.UTC(), id))
}

// Delete removes one session.  Deleting a missing session is not an error.
func (r *SessionRepo) Delete(ctx context.Context, id string) error {
	_, err := r.DB.ExecContext(ctx, "DELETE FROM sessions WHERE id=?", id)
	return err
}

// DeleteAllForUser signs the user out everywhere.
func (r *SessionRepo) DeleteAllForUser(ctx context.Context, userID string) error {
	_, err := r.DB.ExecContext(ctx, "DELETE FROM sessions WHERE user_id=?", userID)
	return err
}

// DeleteExpired removes sessions past their expiry and reports how many.
func (r *SessionRepo) DeleteExpired(ctx context.Context, now time.Time) (int64, error) {
	res, err := r.DB.ExecContext(ctx, "DELETE FROM sessions WHERE expires_at <= ?", now.UTC())
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}
