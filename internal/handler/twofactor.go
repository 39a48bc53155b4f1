package handler

import (
    "context"
    "encoding/base64"
    "errors"
    "net/http"

    "github.com/labstack/echo/v4"
    "github.com/labstack/gommon/log"

    "github.com/iliyamo/storefront/internal/auth"
    "github.com/iliyamo/storefront/internal/middleware"
    "github.com/iliyamo/storefront/internal/repository"
    "github.com/iliyamo/storefront/internal/utils"
)

type totpSetupReq struct {
    Key  string `json:"key"`
    Code string `json:"code"`
}

// recoveryCode returns the user's plain recovery code, minting one for
// accounts that never had it (Google sign-ups).
func (h *AuthHandler) recoveryCode(ctx context.Context, userID string) (string, error) {
    sealed, err := h.Users.GetRecoveryCode(ctx, userID)
    if err == nil {
        return h.Sealer.OpenString(sealed)
    }
    if !errors.Is(err, repository.ErrNotFound) {
        return "", err
    }
    code, err := utils.NewRecoveryCode()
    if err != nil {
        return "", err
    }
    if sealed, err = h.Sealer.SealString(code); err != nil {
        return "", err
    }
    if err := h.Users.SetRecoveryCode(ctx, userID, sealed); err != nil {
        return "", err
    }
    return code, nil
}

// resetWithRecoveryCode removes the user's authenticator when code is their
// recovery code, rotating the recovery code in the same step.
func (h *AuthHandler) resetWithRecoveryCode(ctx context.Context, userID, code string) (bool, error) {
    next, err := utils.NewRecoveryCode()
    if err != nil {
        return false, err
    }
    sealed, err := h.Sealer.SealString(next)
    if err != nil {
        return false, err
    }
    matches := func(stored []byte) bool {
        plain, err := h.Sealer.OpenString(stored)
        return err == nil && codesMatch(code, plain)
    }
    ok, err := h.Users.ResetTOTPWithRecoveryCode(ctx, userID, matches, sealed)
    if err == nil && ok {
        h.invalidate(ctx, userID)
    }
    return ok, err
}

// verifyTOTP checks code against the user's stored authenticator key.
func (h *AuthHandler) verifyTOTP(ctx context.Context, userID, code string) (bool, error) {
    sealed, err := h.Users.GetTOTPKey(ctx, userID)
    if err != nil {
        return false, err
    }
    key, err := h.Sealer.Open(sealed)
    if err != nil {
        return false, err
    }
    return h.TOTP.Validate(key, code, h.now()), nil
}

// TOTPSetupKey hands out a fresh authenticator key.  Nothing is stored
// until the client proves it with a code.
func (h *AuthHandler) TOTPSetupKey(c echo.Context) error {
    id := middleware.IdentityFrom(c)
    if !id.Authenticated() {
        return fail(c, http.StatusUnauthorized, "not authenticated")
    }
    if id.Registered2FA && !id.TwoFactorVerified {
        return fail(c, http.StatusForbidden, "forbidden")
    }
    key, err := h.TOTP.NewKey()
    if err != nil {
        return fail(c, http.StatusInternalServerError, "key generation failed")
    }
    uri, err := h.TOTP.URI(id.User.Email, key)
    if err != nil {
        return fail(c, http.StatusInternalServerError, "key generation failed")
    }
    return c.JSON(http.StatusOK, echo.Map{
        "key": base64.StdEncoding.EncodeToString(key),
        "uri": uri,
    })
}

// TOTPSetup stores the authenticator key once the client proved it can
// produce codes for it, and marks the rotated session verified.
func (h *AuthHandler) TOTPSetup(c echo.Context) error {
    id := middleware.IdentityFrom(c)
    if !id.Authenticated() {
        return fail(c, http.StatusUnauthorized, "not authenticated")
    }
    if id.Registered2FA && !id.TwoFactorVerified {
        return fail(c, http.StatusForbidden, "forbidden")
    }
    var req totpSetupReq
    if err := c.Bind(&req); err != nil {
        return fail(c, http.StatusBadRequest, "invalid body")
    }
    ctx, cancel := reqCtx(c)
    defer cancel()

    user := *id.User
    if !h.Limits.TOTPSetup.Check(ctx, user.ID, 1) {
        return tooMany(c)
    }
    if len(req.Key) != base64.StdEncoding.EncodedLen(auth.TOTPKeySize) {
        return fail(c, http.StatusBadRequest, "invalid key")
    }
    key, err := base64.StdEncoding.DecodeString(req.Key)
    if err != nil || len(key) != auth.TOTPKeySize {
        return fail(c, http.StatusBadRequest, "invalid key")
    }
    if req.Code == "" {
        return fail(c, http.StatusBadRequest, "code required")
    }
    if !h.Limits.TOTPSetup.Consume(ctx, user.ID, 1) {
        return tooMany(c)
    }
    if !h.TOTP.Validate(key, req.Code, h.now()) {
        return fail(c, http.StatusBadRequest, "invalid code")
    }

    sealed, err := h.Sealer.Seal(key)
    if err != nil {
        return fail(c, http.StatusInternalServerError, "setup failed")
    }
    if err := h.Users.UpdateTOTPKey(ctx, user.ID, sealed); err != nil {
        log.Errorf("[2fa] store key for %s: %v", user.ID, err)
        return fail(c, http.StatusInternalServerError, "setup failed")
    }
    h.invalidate(ctx, user.ID)
    recovery, err := h.recoveryCode(ctx, user.ID)
    if err != nil {
        log.Errorf("[2fa] recovery code for %s: %v", user.ID, err)
        return fail(c, http.StatusInternalServerError, "setup failed")
    }

    user.HasTOTPKey = true
    id.User = &user
    s, err := h.rotate(ctx, c, id, true)
    if err != nil {
        log.Errorf("[2fa] rotate session for %s: %v", user.ID, err)
        return fail(c, http.StatusInternalServerError, "setup failed")
    }
    log.Infof("[2fa] registered user=%s", user.ID)
    return c.JSON(http.StatusOK, echo.Map{"recovery_code": recovery, "next": h.landing(s, user)})
}

// TOTPChallenge verifies a code from the registered authenticator and
// upgrades the caller to a second-factor verified session.
func (h *AuthHandler) TOTPChallenge(c echo.Context) error {
    id := middleware.IdentityFrom(c)
    if !id.Authenticated() {
        return fail(c, http.StatusUnauthorized, "not authenticated")
    }
    if !id.Registered2FA || id.TwoFactorVerified {
        return fail(c, http.StatusForbidden, "forbidden")
    }
    var req codeReq
    if err := c.Bind(&req); err != nil {
        return fail(c, http.StatusBadRequest, "invalid body")
    }
    ctx, cancel := reqCtx(c)
    defer cancel()

    userID := id.User.ID
    if !h.Limits.TOTP.Check(ctx, userID, 1) {
        return tooMany(c)
    }
    if req.Code == "" {
        return fail(c, http.StatusBadRequest, "code required")
    }
    if !h.Limits.TOTP.Consume(ctx, userID, 1) {
        return tooMany(c)
    }
    ok, err := h.verifyTOTP(ctx, userID, req.Code)
    if err != nil {
        if errors.Is(err, repository.ErrNotFound) {
            return fail(c, http.StatusForbidden, "forbidden")
        }
        log.Errorf("[2fa] key for %s: %v", userID, err)
        return fail(c, http.StatusInternalServerError, "verification failed")
    }
    if !ok {
        return fail(c, http.StatusBadRequest, "invalid code")
    }
    h.Limits.TOTP.Reset(ctx, userID)
    s, err := h.rotate(ctx, c, id, true)
    if err != nil {
        log.Errorf("[2fa] rotate session for %s: %v", userID, err)
        return fail(c, http.StatusInternalServerError, "verification failed")
    }
    return c.JSON(http.StatusOK, echo.Map{"next": h.landing(s, *id.User)})
}

// TOTPReset removes the authenticator of a caller who lost it, using the
// recovery code in its place.
func (h *AuthHandler) TOTPReset(c echo.Context) error {
    id := middleware.IdentityFrom(c)
    if !id.Authenticated() {
        return fail(c, http.StatusUnauthorized, "not authenticated")
    }
    if !id.Registered2FA || id.TwoFactorVerified {
        return fail(c, http.StatusForbidden, "forbidden")
    }
    var req codeReq
    if err := c.Bind(&req); err != nil {
        return fail(c, http.StatusBadRequest, "invalid body")
    }
    ctx, cancel := reqCtx(c)
    defer cancel()

    userID := id.User.ID
    if !h.Limits.RecoveryCode.Check(ctx, userID, 1) {
        return tooMany(c)
    }
    if req.Code == "" {
        return fail(c, http.StatusBadRequest, "code required")
    }
    if !h.Limits.RecoveryCode.Consume(ctx, userID, 1) {
        return tooMany(c)
    }
    ok, err := h.resetWithRecoveryCode(ctx, userID, req.Code)
    if err != nil {
        log.Errorf("[2fa] recovery reset for %s: %v", userID, err)
        return fail(c, http.StatusInternalServerError, "reset failed")
    }
    if !ok {
        return fail(c, http.StatusBadRequest, "invalid recovery code")
    }
    h.Limits.RecoveryCode.Reset(ctx, userID)

    user := *id.User
    user.HasTOTPKey = false
    sess := *id.Session
    sess.TwoFactorVerified = false
    middleware.SetIdentity(c, auth.Resolution{Session: &sess, User: &user}.Identity())
    log.Infof("[2fa] reset with recovery code user=%s", userID)
    return c.JSON(http.StatusOK, echo.Map{"next": h.landing(sess, user)})
}

// RecoveryCode shows the caller their recovery code.
func (h *AuthHandler) RecoveryCode(c echo.Context) error {
    id := middleware.IdentityFrom(c)
    if !id.Authenticated() {
        return fail(c, http.StatusUnauthorized, "not authenticated")
    }
    if !id.User.EmailVerified || (id.Registered2FA && !id.TwoFactorVerified) {
        return fail(c, http.StatusForbidden, "forbidden")
    }
    ctx, cancel := reqCtx(c)
    defer cancel()
    code, err := h.recoveryCode(ctx, id.User.ID)
    if err != nil {
        log.Errorf("[2fa] recovery code for %s: %v", id.User.ID, err)
        return fail(c, http.StatusInternalServerError, "lookup failed")
    }
    return c.JSON(http.StatusOK, echo.Map{"recovery_code": code})
}
