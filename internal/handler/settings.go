package handler

import (
    "net/http"

    "github.com/labstack/echo/v4"
    "github.com/labstack/gommon/log"

    "github.com/iliyamo/storefront/internal/auth"
    "github.com/iliyamo/storefront/internal/middleware"
    "github.com/iliyamo/storefront/internal/utils"
)

type changePasswordReq struct {
    Password    string `json:"password"`
    NewPassword string `json:"new_password"`
}

type mfaReq struct {
    Enabled *bool `json:"enabled"`
}

// settingsDenied reports whether id may not change account settings: it
// must be signed in, and past the second factor when one is registered.
func settingsDenied(id auth.Identity) (int, string, bool) {
    if !id.Authenticated() {
        return http.StatusUnauthorized, "not authenticated", true
    }
    if id.Registered2FA && !id.TwoFactorVerified {
        return http.StatusForbidden, "forbidden", true
    }
    return 0, "", false
}

// Settings returns the account page: profile, second factor status and,
// for password accounts, the recovery code.
func (h *AuthHandler) Settings(c echo.Context) error {
    id := middleware.IdentityFrom(c)
    if !id.Authenticated() {
        return fail(c, http.StatusUnauthorized, "not authenticated")
    }
    body := echo.Map{
        "user":                id.User,
        "registered_2fa":      id.Registered2FA,
        "two_factor_verified": id.TwoFactorVerified,
    }
    if !id.User.IsOAuth() && (!id.Registered2FA || id.TwoFactorVerified) {
        ctx, cancel := reqCtx(c)
        defer cancel()
        code, err := h.recoveryCode(ctx, id.User.ID)
        if err != nil {
            log.Errorf("[settings] recovery code for %s: %v", id.User.ID, err)
        } else {
            body["recovery_code"] = code
        }
    }
    return c.JSON(http.StatusOK, body)
}

// UpdatePassword changes the password of a signed-in user after checking
// the current one.  Every session of the user is revoked and the caller
// gets a fresh one.
func (h *AuthHandler) UpdatePassword(c echo.Context) error {
    id := middleware.IdentityFrom(c)
    if status, msg, denied := settingsDenied(id); denied {
        return fail(c, status, msg)
    }
    var req changePasswordReq
    if err := c.Bind(&req); err != nil {
        return fail(c, http.StatusBadRequest, "invalid body")
    }
    ctx, cancel := reqCtx(c)
    defer cancel()

    key := id.Session.ID
    if !h.Limits.PasswordUpdate.Check(ctx, key, 1) {
        return tooMany(c)
    }
    if req.Password == "" {
        return fail(c, http.StatusBadRequest, "current password required")
    }
    if err := utils.CheckPasswordStrength(req.NewPassword); err != nil {
        return fail(c, http.StatusBadRequest, err.Error())
    }
    if !h.Limits.PasswordUpdate.Consume(ctx, key, 1) {
        return tooMany(c)
    }
    hash, err := h.Users.GetPasswordHash(ctx, id.User.ID)
    if err != nil {
        log.Errorf("[settings] password lookup: %v", err)
        return fail(c, http.StatusInternalServerError, "update failed")
    }
    if !utils.VerifyPassword(hash, req.Password) {
        return fail(c, http.StatusBadRequest, "incorrect password")
    }
    h.Limits.PasswordUpdate.Reset(ctx, key)

    if err := h.Users.UpdatePassword(ctx, id.User.ID, req.NewPassword, h.Cfg.BcryptCost); err != nil {
        log.Errorf("[settings] update password for %s: %v", id.User.ID, err)
        return fail(c, http.StatusInternalServerError, "update failed")
    }
    // Only a changed password revokes the other sessions.
    if err := h.Sessions.InvalidateUser(ctx, id.User.ID); err != nil {
        log.Errorf("[settings] invalidate sessions for %s: %v", id.User.ID, err)
        return fail(c, http.StatusInternalServerError, "update failed")
    }
    h.invalidate(ctx, id.User.ID)
    s, err := h.signIn(ctx, c, *id.User, id.TwoFactorVerified, id.Session.OAuthProvider)
    if err != nil {
        log.Errorf("[settings] session for %s: %v", id.User.ID, err)
        return fail(c, http.StatusInternalServerError, "update failed")
    }
    log.Infof("[settings] password changed user=%s", id.User.ID)
    return c.JSON(http.StatusOK, echo.Map{"next": h.landing(s, *id.User)})
}

// UpdateEmail starts the confirmation of a new address.  The account keeps
// its current address until the mailed code is entered.
func (h *AuthHandler) UpdateEmail(c echo.Context) error {
    id := middleware.IdentityFrom(c)
    if status, msg, denied := settingsDenied(id); denied {
        return fail(c, status, msg)
    }
    var req emailReq
    if err := c.Bind(&req); err != nil {
        return fail(c, http.StatusBadRequest, "invalid body")
    }
    ctx, cancel := reqCtx(c)
    defer cancel()

    userID := id.User.ID
    if !h.Limits.VerificationEmail.Check(ctx, userID, 1) {
        return tooMany(c)
    }
    email := normalizeEmail(req.Email)
    if !validEmail(email) {
        return fail(c, http.StatusBadRequest, "invalid email")
    }
    available, err := h.Users.EmailAvailable(ctx, email)
    if err != nil {
        log.Errorf("[settings] email lookup: %v", err)
        return fail(c, http.StatusInternalServerError, "update failed")
    }
    if !available {
        return fail(c, http.StatusConflict, "email already used")
    }
    if !h.Limits.VerificationEmail.Consume(ctx, userID, 1) {
        return tooMany(c)
    }
    if _, err := h.startEmailVerification(ctx, c, userID, email); err != nil {
        log.Errorf("[settings] verification for %s: %v", userID, err)
        return fail(c, http.StatusInternalServerError, "update failed")
    }
    return c.JSON(http.StatusOK, echo.Map{"next": h.Paths.VerifyEmail})
}

// UpdateMfa turns two-factor authentication on or off.  Without a body it
// toggles the current setting.
func (h *AuthHandler) UpdateMfa(c echo.Context) error {
    id := middleware.IdentityFrom(c)
    if status, msg, denied := settingsDenied(id); denied {
        return fail(c, status, msg)
    }
    var req mfaReq
    if err := c.Bind(&req); err != nil {
        return fail(c, http.StatusBadRequest, "invalid body")
    }
    ctx, cancel := reqCtx(c)
    defer cancel()

    current, err := h.Users.GetByID(ctx, id.User.ID)
    if err != nil {
        log.Errorf("[settings] user lookup: %v", err)
        return fail(c, http.StatusInternalServerError, "update failed")
    }
    enabled := !current.IsMfaEnabled
    if req.Enabled != nil {
        enabled = *req.Enabled
    }
    if err := h.Users.SetMfaEnabled(ctx, current.ID, enabled); err != nil {
        log.Errorf("[settings] set mfa for %s: %v", current.ID, err)
        return fail(c, http.StatusInternalServerError, "update failed")
    }
    h.invalidate(ctx, current.ID)
    current.IsMfaEnabled = enabled
    log.Infof("[settings] mfa=%t user=%s", enabled, current.ID)
    return c.JSON(http.StatusOK, echo.Map{"is_mfa_enabled": enabled, "next": h.landing(*id.Session, current)})
}
