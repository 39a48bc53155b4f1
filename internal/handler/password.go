package handler

import (
    "context"
    "errors"
    "net/http"

    "github.com/labstack/echo/v4"
    "github.com/labstack/gommon/log"

    "github.com/iliyamo/storefront/internal/auth"
    "github.com/iliyamo/storefront/internal/mail"
    "github.com/iliyamo/storefront/internal/model"
    "github.com/iliyamo/storefront/internal/repository"
    "github.com/iliyamo/storefront/internal/utils"
)

const (
    resetVerifyEmailPath = "/auth/reset-password/verify-email"
    resetTwoFactorPath   = "/auth/reset-password/2fa"
    resetPasswordPath    = "/auth/reset-password"
)

type emailReq struct {
    Email string `json:"email"`
}

type passwordReq struct {
    Password string `json:"password"`
}

// resetSession loads the reset session named by its cookie together with
// the current state of its user.  Expired sessions are deleted and their
// cookie cleared.
func (h *AuthHandler) resetSession(ctx context.Context, c echo.Context) (model.PasswordResetSession, model.User, bool, error) {
    token := h.Cookies.Read(c.Request(), auth.PasswordResetCookie)
    if token == "" {
        return model.PasswordResetSession{}, model.User{}, false, nil
    }
    rs, err := h.Resets.Get(ctx, token)
    if errors.Is(err, repository.ErrNotFound) {
        c.SetCookie(h.Cookies.Clear(auth.PasswordResetCookie))
        return model.PasswordResetSession{}, model.User{}, false, nil
    }
    if err != nil {
        return model.PasswordResetSession{}, model.User{}, false, err
    }
    if !h.now().Before(rs.ExpiresAt) {
        if err := h.Resets.Delete(ctx, rs.ID); err != nil {
            log.Errorf("[reset] delete expired: %v", err)
        }
        c.SetCookie(h.Cookies.Clear(auth.PasswordResetCookie))
        return model.PasswordResetSession{}, model.User{}, false, nil
    }
    user, err := h.Users.GetByID(ctx, rs.UserID)
    if errors.Is(err, repository.ErrNotFound) {
        c.SetCookie(h.Cookies.Clear(auth.PasswordResetCookie))
        return model.PasswordResetSession{}, model.User{}, false, nil
    }
    if err != nil {
        return model.PasswordResetSession{}, model.User{}, false, err
    }
    return rs, user, true, nil
}

// ForgotPassword opens a password reset session and mails its code.
func (h *AuthHandler) ForgotPassword(c echo.Context) error {
    var req emailReq
    if err := c.Bind(&req); err != nil {
        return fail(c, http.StatusBadRequest, "invalid body")
    }
    ctx, cancel := reqCtx(c)
    defer cancel()

    ip := clientIP(c)
    email := normalizeEmail(req.Email)
    if !validEmail(email) {
        return fail(c, http.StatusBadRequest, "invalid email")
    }
    if !h.Limits.ForgotPasswordIP.Check(ctx, ip, 1) {
        return tooMany(c)
    }
    user, err := h.Users.GetByEmail(ctx, email)
    if err != nil {
        if errors.Is(err, repository.ErrNotFound) {
            return fail(c, http.StatusBadRequest, "account does not exist")
        }
        log.Errorf("[reset] user lookup: %v", err)
        return fail(c, http.StatusInternalServerError, "reset failed")
    }
    if !h.Limits.ForgotPasswordIP.Consume(ctx, ip, 1) {
        return tooMany(c)
    }
    if !h.Limits.ForgotPasswordUser.Consume(ctx, user.ID, 1) {
        return tooMany(c)
    }

    if err := h.Resets.DeleteForUser(ctx, user.ID); err != nil {
        log.Errorf("[reset] clear old sessions: %v", err)
        return fail(c, http.StatusInternalServerError, "reset failed")
    }
    token, err := utils.NewSessionToken()
    if err != nil {
        return fail(c, http.StatusInternalServerError, "reset failed")
    }
    code, err := utils.NewVerificationCode()
    if err != nil {
        return fail(c, http.StatusInternalServerError, "reset failed")
    }
    rs := model.PasswordResetSession{
        ID:        token,
        UserID:    user.ID,
        Email:     user.Email,
        Code:      code,
        ExpiresAt: h.now().UTC().Add(resetTTL),
    }
    if err := h.Resets.Create(ctx, rs); err != nil {
        log.Errorf("[reset] create session: %v", err)
        return fail(c, http.StatusInternalServerError, "reset failed")
    }
    h.send(ctx, mail.Message{Kind: mail.KindPasswordReset, To: rs.Email, Code: rs.Code})
    c.SetCookie(h.Cookies.Named(auth.PasswordResetCookie, rs.ID, rs.ExpiresAt))
    log.Infof("[reset] started user=%s", user.ID)
    return c.JSON(http.StatusOK, echo.Map{"next": resetVerifyEmailPath})
}

// ResetVerifyEmail checks the mailed reset code.  Entering it also proves
// ownership of the address, so the account email is marked verified.
func (h *AuthHandler) ResetVerifyEmail(c echo.Context) error {
    var req codeReq
    if err := c.Bind(&req); err != nil {
        return fail(c, http.StatusBadRequest, "invalid body")
    }
    ctx, cancel := reqCtx(c)
    defer cancel()

    rs, user, ok, err := h.resetSession(ctx, c)
    if err != nil {
        log.Errorf("[reset] session lookup: %v", err)
        return fail(c, http.StatusInternalServerError, "reset failed")
    }
    if !ok {
        return fail(c, http.StatusUnauthorized, "not authenticated")
    }
    if rs.EmailVerified {
        return fail(c, http.StatusForbidden, "forbidden")
    }
    if !h.Limits.ResetEmailCode.Check(ctx, rs.UserID, 1) {
        return tooMany(c)
    }
    if req.Code == "" {
        return fail(c, http.StatusBadRequest, "code required")
    }
    if !h.Limits.ResetEmailCode.Consume(ctx, rs.UserID, 1) {
        return tooMany(c)
    }
    if !codesMatch(req.Code, rs.Code) {
        return fail(c, http.StatusBadRequest, "incorrect code")
    }
    h.Limits.ResetEmailCode.Reset(ctx, rs.UserID)

    if err := h.Resets.MarkEmailVerified(ctx, rs.ID); err != nil {
        log.Errorf("[reset] mark email verified: %v", err)
        return fail(c, http.StatusInternalServerError, "reset failed")
    }
    matches, err := h.Users.SetEmailVerifiedIfMatches(ctx, rs.UserID, rs.Email)
    if err != nil {
        log.Errorf("[reset] verify user email: %v", err)
        return fail(c, http.StatusInternalServerError, "reset failed")
    }
    h.invalidate(ctx, rs.UserID)
    if !matches {
        return fail(c, http.StatusBadRequest, "please restart the process")
    }
    next := resetPasswordPath
    if user.HasTOTPKey {
        next = resetTwoFactorPath
    }
    return c.JSON(http.StatusOK, echo.Map{"next": next})
}

// ResetTwoFactor checks an authenticator code inside a reset session.
func (h *AuthHandler) ResetTwoFactor(c echo.Context) error {
    var req codeReq
    if err := c.Bind(&req); err != nil {
        return fail(c, http.StatusBadRequest, "invalid body")
    }
    ctx, cancel := reqCtx(c)
    defer cancel()

    rs, user, ok, err := h.resetSession(ctx, c)
    if err != nil {
        log.Errorf("[reset] session lookup: %v", err)
        return fail(c, http.StatusInternalServerError, "reset failed")
    }
    if !ok {
        return fail(c, http.StatusUnauthorized, "not authenticated")
    }
    if !rs.EmailVerified || !user.HasTOTPKey || rs.TwoFactorVerified {
        return fail(c, http.StatusForbidden, "forbidden")
    }
    if !h.Limits.TOTP.Check(ctx, user.ID, 1) {
        return tooMany(c)
    }
    if req.Code == "" {
        return fail(c, http.StatusBadRequest, "code required")
    }
    if !h.Limits.TOTP.Consume(ctx, user.ID, 1) {
        return tooMany(c)
    }
    valid, err := h.verifyTOTP(ctx, user.ID, req.Code)
    if err != nil {
        log.Errorf("[reset] totp for %s: %v", user.ID, err)
        return fail(c, http.StatusInternalServerError, "reset failed")
    }
    if !valid {
        return fail(c, http.StatusBadRequest, "invalid code")
    }
    h.Limits.TOTP.Reset(ctx, user.ID)
    if err := h.Resets.MarkTwoFactorVerified(ctx, rs.ID); err != nil {
        log.Errorf("[reset] mark 2fa verified: %v", err)
        return fail(c, http.StatusInternalServerError, "reset failed")
    }
    return c.JSON(http.StatusOK, echo.Map{"next": resetPasswordPath})
}

// ResetRecoveryCode lets a reset session past the second factor with the
// recovery code, which removes the authenticator.
func (h *AuthHandler) ResetRecoveryCode(c echo.Context) error {
    var req codeReq
    if err := c.Bind(&req); err != nil {
        return fail(c, http.StatusBadRequest, "invalid body")
    }
    ctx, cancel := reqCtx(c)
    defer cancel()

    rs, user, ok, err := h.resetSession(ctx, c)
    if err != nil {
        log.Errorf("[reset] session lookup: %v", err)
        return fail(c, http.StatusInternalServerError, "reset failed")
    }
    if !ok {
        return fail(c, http.StatusUnauthorized, "not authenticated")
    }
    if !rs.EmailVerified || !user.HasTOTPKey || rs.TwoFactorVerified {
        return fail(c, http.StatusForbidden, "forbidden")
    }
    if !h.Limits.RecoveryCode.Check(ctx, user.ID, 1) {
        return tooMany(c)
    }
    if req.Code == "" {
        return fail(c, http.StatusBadRequest, "code required")
    }
    if !h.Limits.RecoveryCode.Consume(ctx, user.ID, 1) {
        return tooMany(c)
    }
    reset, err := h.resetWithRecoveryCode(ctx, user.ID, req.Code)
    if err != nil {
        log.Errorf("[reset] recovery code for %s: %v", user.ID, err)
        return fail(c, http.StatusInternalServerError, "reset failed")
    }
    if !reset {
        return fail(c, http.StatusBadRequest, "invalid recovery code")
    }
    h.Limits.RecoveryCode.Reset(ctx, user.ID)
    return c.JSON(http.StatusOK, echo.Map{"next": resetPasswordPath})
}

// ResetPassword sets the new password, signs out every other device and
// starts a session carrying the second factor proven during the reset.
func (h *AuthHandler) ResetPassword(c echo.Context) error {
    var req passwordReq
    if err := c.Bind(&req); err != nil {
        return fail(c, http.StatusBadRequest, "invalid body")
    }
    ctx, cancel := reqCtx(c)
    defer cancel()

    rs, user, ok, err := h.resetSession(ctx, c)
    if err != nil {
        log.Errorf("[reset] session lookup: %v", err)
        return fail(c, http.StatusInternalServerError, "reset failed")
    }
    if !ok {
        return fail(c, http.StatusUnauthorized, "not authenticated")
    }
    if !rs.EmailVerified || (user.HasTOTPKey && !rs.TwoFactorVerified) {
        return fail(c, http.StatusForbidden, "forbidden")
    }
    if err := utils.CheckPasswordStrength(req.Password); err != nil {
        return fail(c, http.StatusBadRequest, err.Error())
    }

    if err := h.Users.UpdatePassword(ctx, user.ID, req.Password, h.Cfg.BcryptCost); err != nil {
        log.Errorf("[reset] update password for %s: %v", user.ID, err)
        return fail(c, http.StatusInternalServerError, "reset failed")
    }
    if err := h.Resets.DeleteForUser(ctx, user.ID); err != nil {
        log.Errorf("[reset] delete reset sessions: %v", err)
    }
    if err := h.Sessions.InvalidateUser(ctx, user.ID); err != nil {
        log.Errorf("[reset] invalidate sessions for %s: %v", user.ID, err)
        return fail(c, http.StatusInternalServerError, "reset failed")
    }
    h.invalidate(ctx, user.ID)
    c.SetCookie(h.Cookies.Clear(auth.PasswordResetCookie))

    s, err := h.signIn(ctx, c, user, rs.TwoFactorVerified, "")
    if err != nil {
        log.Errorf("[reset] session for %s: %v", user.ID, err)
        return fail(c, http.StatusInternalServerError, "reset failed")
    }
    log.Infof("[reset] password changed user=%s", user.ID)
    return c.JSON(http.StatusOK, echo.Map{"next": h.landing(s, user)})
}
