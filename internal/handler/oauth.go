package handler

import (
    "context"
    "errors"
    "net/http"
    "time"

    "github.com/labstack/echo/v4"
    "github.com/labstack/gommon/log"

    "github.com/iliyamo/storefront/internal/auth"
    "github.com/iliyamo/storefront/internal/model"
    "github.com/iliyamo/storefront/internal/oauth"
    "github.com/iliyamo/storefront/internal/repository"
)

// GoogleLogin starts Sign in with Google: the state and PKCE verifier go
// into a signed cookie and the client is sent to the consent page.
func (h *AuthHandler) GoogleLogin(c echo.Context) error {
    if !h.Google.Enabled() || h.States == nil {
        return fail(c, http.StatusNotFound, "google sign-in is not configured")
    }
    flow, cookie, err := h.States.Begin()
    if err != nil {
        log.Errorf("[oauth] begin: %v", err)
        return fail(c, http.StatusInternalServerError, "oauth failed")
    }
    c.SetCookie(h.Cookies.Named(auth.OAuthStateCookie, cookie, flow.ExpiresAt))
    return c.Redirect(http.StatusFound, h.Google.AuthCodeURL(flow))
}

// GoogleCallback finishes Sign in with Google.  The Google account is
// matched by subject, then by verified email, and created otherwise.
func (h *AuthHandler) GoogleCallback(c echo.Context) error {
    if !h.Google.Enabled() || h.States == nil {
        return fail(c, http.StatusNotFound, "google sign-in is not configured")
    }
    cookie := h.Cookies.Read(c.Request(), auth.OAuthStateCookie)
    c.SetCookie(h.Cookies.Clear(auth.OAuthStateCookie))

    flow, err := h.States.Verify(cookie, c.QueryParam("state"))
    if err != nil {
        return fail(c, http.StatusBadRequest, "invalid request")
    }
    code := c.QueryParam("code")
    if code == "" {
        return fail(c, http.StatusBadRequest, "invalid request")
    }

    ctx, cancel := context.WithTimeout(c.Request().Context(), 15*time.Second)
    defer cancel()
    ident, err := h.Google.Exchange(ctx, code, flow)
    if err != nil {
        log.Warnf("[oauth] exchange: %v", err)
        return fail(c, http.StatusBadRequest, "invalid request")
    }
    user, err := h.googleUser(ctx, ident)
    if errors.Is(err, repository.ErrEmailExists) {
        return fail(c, http.StatusConflict, "an account already uses this email")
    }
    if err != nil {
        log.Errorf("[oauth] resolve user: %v", err)
        return fail(c, http.StatusInternalServerError, "oauth failed")
    }
    s, err := h.signIn(ctx, c, user, false, model.OAuthProviderGoogle)
    if err != nil {
        log.Errorf("[oauth] session for %s: %v", user.ID, err)
        return fail(c, http.StatusInternalServerError, "oauth failed")
    }
    log.Infof("[oauth] google sign-in user=%s", user.ID)
    return c.Redirect(http.StatusFound, h.landing(s, user))
}

func (h *AuthHandler) googleUser(ctx context.Context, ident oauth.Identity) (model.User, error) {
    user, err := h.Users.GetByGoogleID(ctx, ident.Subject)
    if !errors.Is(err, repository.ErrNotFound) {
        return user, err
    }
    if ident.EmailVerified {
        user, err = h.Users.GetByEmail(ctx, ident.Email)
        if !errors.Is(err, repository.ErrNotFound) {
            return user, err
        }
    }
    return h.Users.CreateWithGoogle(ctx, ident.Subject, ident.Email, ident.Name, ident.Picture)
}
