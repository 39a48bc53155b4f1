// Package auth resolves session cookies into an identity, decides which
// step of the sign-in flow a request is at, and holds the secrets used by
// the second factor.
package auth

import (
	"context"
	"errors"
	"time"

	"github.com/labstack/gommon/log"

	"github.com/iliyamo/storefront/internal/model"
	"github.com/iliyamo/storefront/internal/repository"
	"github.com/iliyamo/storefront/internal/utils"
)

// SessionStore is the persistence the Manager needs.  Find returns
// repository.ErrNotFound for unknown tokens.
type SessionStore interface {
	Find(ctx context.Context, id string) (model.Session, error)
	Create(ctx context.Context, s model.Session) error
	UpdateExpiry(ctx context.Context, id string, expiresAt time.Time) error
	Delete(ctx context.Context, id string) error
	DeleteAllForUser(ctx context.Context, userID string) error
}

// UserStore returns the current auth projection of a user.
type UserStore interface {
	GetByID(ctx context.Context, id string) (model.User, error)
}

// CookieAction tells the transport what to do with the session cookie
// after resolution.
type CookieAction int

const (
	CookieKeep CookieAction = iota
	CookieSet
	CookieClear
)

// Resolution is the outcome of resolving a session token.  Session and User
// are both nil or both set.
type Resolution struct {
	Session *model.Session
	User    *model.User
	Cookie  CookieAction
}

// Manager issues, resolves and revokes sessions.
type Manager struct {
	sessions    SessionStore
	users       UserStore
	ttl         time.Duration
	renewWithin time.Duration
	now         func() time.Time
}

// NewManager builds a Manager.  Sessions live for ttl and are pushed back
// to now+ttl once less than renewWithin remains.  A nil now uses time.Now.
func NewManager(sessions SessionStore, users UserStore, ttl, renewWithin time.Duration, now func() time.Time) *Manager {
	if now == nil {
		now = time.Now
	}
	return &Manager{sessions: sessions, users: users, ttl: ttl, renewWithin: renewWithin, now: now}
}

// Create starts a session for userID.
func (m *Manager) Create(ctx context.Context, userID string, twoFactorVerified bool, oauthProvider string) (model.Session, error) {
	token, err := utils.NewSessionToken()
	if err != nil {
		return model.Session{}, err
	}
	now := m.now().UTC().Truncate(time.Second)
	s := model.Session{
		ID:                token,
		UserID:            userID,
		ExpiresAt:         now.Add(m.ttl),
		TwoFactorVerified: twoFactorVerified,
		OAuthProvider:     oauthProvider,
		CreatedAt:         now,
	}
	if err := m.sessions.Create(ctx, s); err != nil {
		return model.Session{}, err
	}
	log.Debugf("[auth] session created user=%s", userID)
	return s, nil
}

// Resolve turns a cookie token into a session and a fresh user.  It never
// fails: every error path degrades to the logged-out state and asks for the
// cookie to be cleared.
func (m *Manager) Resolve(ctx context.Context, token string) Resolution {
	if token == "" {
		return Resolution{}
	}
	s, err := m.sessions.Find(ctx, token)
	if err != nil {
		if !errors.Is(err, repository.ErrNotFound) {
			log.Errorf("[auth] session lookup: %v", err)
		}
		return Resolution{Cookie: CookieClear}
	}

	now := m.now()
	if !now.Before(s.ExpiresAt) {
		if err := m.sessions.Delete(ctx, s.ID); err != nil {
			log.Errorf("[auth] delete expired session: %v", err)
		}
		return Resolution{Cookie: CookieClear}
	}

	action := CookieKeep
	if !s.ExpiresAt.After(now.Add(m.renewWithin)) {
		expires := now.UTC().Truncate(time.Second).Add(m.ttl)
		if err := m.sessions.UpdateExpiry(ctx, s.ID, expires); err != nil {
			log.Errorf("[auth] renew session: %v", err)
		} else {
			s.ExpiresAt = expires
			action = CookieSet
		}
	}

	u, err := m.users.GetByID(ctx, s.UserID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			if err := m.sessions.Delete(ctx, s.ID); err != nil {
				log.Errorf("[auth] delete orphan session: %v", err)
			}
		} else {
			log.Errorf("[auth] user lookup: %v", err)
		}
		return Resolution{Cookie: CookieClear}
	}
	return Resolution{Session: &s, User: &u, Cookie: action}
}

// Invalidate deletes one session.
func (m *Manager) Invalidate(ctx context.Context, sessionID string) error {
	return m.sessions.Delete(ctx, sessionID)
}

// InvalidateUser deletes every session of the user.
func (m *Manager) InvalidateUser(ctx context.Context, userID string) error {
	return m.sessions.DeleteAllForUser(ctx, userID)
}

// Rotate replaces old with a new session for the same user, so a token
// seen before a privilege change cannot be replayed after it.
func (m *Manager) Rotate(ctx context.Context, old model.Session, twoFactorVerified bool) (model.Session, error) {
	s, err := m.Create(ctx, old.UserID, twoFactorVerified, old.OAuthProvider)
	if err != nil {
		return model.Session{}, err
	}
	if err := m.sessions.Delete(ctx, old.ID); err != nil {
		log.Warnf("[auth] delete rotated session: %v", err)
	}
	return s, nil
}
