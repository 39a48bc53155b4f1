package repository

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/iliyamo/storefront/internal/model"
	"github.com/iliyamo/storefront/internal/utils"
)

// userColumns selects the auth projection of a user.  has_totp_key is
// computed from totp_key so the key itself never leaves the database
// unless asked for.
const userColumns = `id, email, COALESCE(username, ''), email_verified, totp_key IS NOT NULL,
	is_mfa_enabled, COALESCE(google_id, ''), COALESCE(name, ''), COALESCE(picture, ''), role, created_at`

type UserRepo struct{ DB *sql.DB }

func NewUserRepo(db *sql.DB) *UserRepo { return &UserRepo{DB: db} }

type rowScanner interface {
	Scan(dest ...any) error
}

func scanUser(row rowScanner) (model.User, error) {
	var u model.User
	err := row.Scan(&u.ID, &u.Email, &u.Username, &u.EmailVerified, &u.HasTOTPKey,
		&u.IsMfaEnabled, &u.GoogleID, &u.Name, &u.Picture, &u.Role, &u.CreatedAt)
	return u, notFound(err)
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// Create inserts a password user and returns it.  The recovery code is
// stored sealed; the caller shows the plain one to the user.
func (r *UserRepo) Create(ctx context.Context, email, username, password string, cost int, sealedRecovery []byte) (model.User, error) {
	email = normalizeEmail(email)
	hash, err := utils.HashPassword(password, cost)
	if err != nil {
		return model.User{}, err
	}
	id := uuid.NewString()
	_, err = r.DB.ExecContext(ctx,
		`INSERT INTO users (id, email, username, password_hash, recovery_code, role)
		 VALUES (?,?,?,?,?,?)`,
		id, email, username, hash, sealedRecovery, model.RoleClient)
	if err != nil {
		if isDuplicate(err) {
			return model.User{}, ErrEmailExists
		}
		return model.User{}, err
	}
	return r.GetByID(ctx, id)
}

// CreateWithGoogle inserts an OAuth user.  Google has already verified the
// address, so the account starts verified and without a password.
func (r *UserRepo) CreateWithGoogle(ctx context.Context, googleID, email, name, picture string) (model.User, error) {
	id := uuid.NewString()
	_, err := r.DB.ExecContext(ctx,
		`INSERT INTO users (id, email, email_verified, google_id, name, picture, role)
		 VALUES (?,?,1,?,?,?,?)`,
		id, normalizeEmail(email), googleID, name, picture, model.RoleClient)
	if err != nil {
		if isDuplicate(err) {
			return model.User{}, ErrEmailExists
		}
		return model.User{}, err
	}
	return r.GetByID(ctx, id)
}

// GetByID fetches a user by id.
func (r *UserRepo) GetByID(ctx context.Context, id string) (model.User, error) {
	return scanUser(r.DB.QueryRowContext(ctx,
		"SELECT "+userColumns+" FROM users WHERE id=? LIMIT 1", id))
}

// GetByEmail fetches a user by normalized email.
func (r *UserRepo) GetByEmail(ctx context.Context, email string) (model.User, error) {
	return scanUser(r.DB.QueryRowContext(ctx,
		"SELECT "+userColumns+" FROM users WHERE email=? LIMIT 1", normalizeEmail(email)))
}

// GetByGoogleID fetches the user linked to a Google subject.
func (r *UserRepo) GetByGoogleID(ctx context.Context, googleID string) (model.User, error) {
	return scanUser(r.DB.QueryRowContext(ctx,
		"SELECT "+userColumns+" FROM users WHERE google_id=? LIMIT 1", googleID))
}

// EmailAvailable reports whether no account uses email.
func (r *UserRepo) EmailAvailable(ctx context.Context, email string) (bool, error) {
	var n int
	err := r.DB.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM users WHERE email=?", normalizeEmail(email)).Scan(&n)
	return n == 0, err
}

// GetPasswordHash returns the bcrypt hash, or "" for OAuth-only accounts.
func (r *UserRepo) GetPasswordHash(ctx context.Context, id string) (string, error) {
	var hash sql.NullString
	err := r.DB.QueryRowContext(ctx,
		"SELECT password_hash FROM users WHERE id=? LIMIT 1", id).Scan(&hash)
	return hash.String, notFound(err)
}

// UpdatePassword hashes and stores a new password.
func (r *UserRepo) UpdatePassword(ctx context.Context, id, password string, cost int) error {
	hash, err := utils.HashPassword(password, cost)
	if err != nil {
		return err
	}
	return checkAffected(r.DB.ExecContext(ctx,
		"UPDATE users SET password_hash=? WHERE id=?", hash, id))
}

// SetEmailVerifiedIfMatches marks the address verified when it is still
// the user's current one, and reports whether it was.
func (r *UserRepo) SetEmailVerifiedIfMatches(ctx context.Context, id, email string) (bool, error) {
	res, err := r.DB.ExecContext(ctx,
		"UPDATE users SET email_verified=1 WHERE id=? AND email=?", id, normalizeEmail(email))
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n > 0, err
}

// UpdateEmailAndVerify switches the user to a freshly confirmed address.
func (r *UserRepo) UpdateEmailAndVerify(ctx context.Context, id, email string) error {
	err := checkAffected(r.DB.ExecContext(ctx,
		"UPDATE users SET email=?, email_verified=1 WHERE id=?", normalizeEmail(email), id))
	if isDuplicate(err) {
		return ErrEmailExists
	}
	return err
}

// UpdateTOTPKey stores a sealed TOTP key.
func (r *UserRepo) UpdateTOTPKey(ctx context.Context, id string, sealedKey []byte) error {
	return checkAffected(r.DB.ExecContext(ctx,
		"UPDATE users SET totp_key=? WHERE id=?", sealedKey, id))
}

// GetTOTPKey returns the sealed TOTP key, or ErrNotFound when none is set.
func (r *UserRepo) GetTOTPKey(ctx context.Context, id string) ([]byte, error) {
	return r.getSecret(ctx, "totp_key", id)
}

// GetRecoveryCode returns the sealed recovery code.
func (r *UserRepo) GetRecoveryCode(ctx context.Context, id string) ([]byte, error) {
	return r.getSecret(ctx, "recovery_code", id)
}

// SetRecoveryCode replaces the sealed recovery code.
func (r *UserRepo) SetRecoveryCode(ctx context.Context, id string, sealed []byte) error {
	return checkAffected(r.DB.ExecContext(ctx,
		"UPDATE users SET recovery_code=? WHERE id=?", sealed, id))
}

func (r *UserRepo) getSecret(ctx context.Context, column, id string) ([]byte, error) {
	var v []byte
	err := r.DB.QueryRowContext(ctx,
		fmt.Sprintf("SELECT %s FROM users WHERE id=? LIMIT 1", column), id).Scan(&v)
	if err != nil {
		return nil, notFound(err)
	}
	if v == nil {
		return nil, ErrNotFound
	}
	return v, nil
}

// ResetTOTPWithRecoveryCode removes the user's authenticator when matches
// accepts the stored recovery code.  In one transaction it rotates the
// recovery code, clears the TOTP key and drops the second-factor flag from
// every session of the user.  It reports false, without changing anything,
// when the code does not match.
func (r *UserRepo) ResetTOTPWithRecoveryCode(ctx context.Context, id string, matches func(sealed []byte) bool, newSealed []byte) (bool, error) {
	tx, err := r.DB.BeginTx(ctx, nil)
	if err != nil {
		return false, err
	}
	defer func() { _ = tx.Rollback() }()

	var current []byte
	err = tx.QueryRowContext(ctx,
		"SELECT recovery_code FROM users WHERE id=? FOR UPDATE", id).Scan(&current)
	if err != nil {
		return false, notFound(err)
	}
	if current == nil || !matches(current) {
		return false, nil
	}
	if _, err := tx.ExecContext(ctx,
		"UPDATE users SET recovery_code=?, totp_key=NULL WHERE id=?", newSealed, id); err != nil {
		return false, err
	}
	if _, err := tx.ExecContext(ctx,
		"UPDATE sessions SET two_factor_verified=0 WHERE user_id=?", id); err != nil {
		return false, err
	}
	if err := tx.Commit(); err != nil {
		return false, err
	}
	return true, nil
}

// SetMfaEnabled toggles two-factor authentication for the user.
func (r *UserRepo) SetMfaEnabled(ctx context.Context, id string, enabled bool) error {
	return checkAffected(r.DB.ExecContext(ctx,
		"UPDATE users SET is_mfa_enabled=? WHERE id=?", enabled, id))
}
