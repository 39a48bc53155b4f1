package handler

import (
    "context"
    "errors"
    "net/http"

    "github.com/labstack/echo/v4"
    "github.com/labstack/gommon/log"

    "github.com/iliyamo/storefront/internal/auth"
    "github.com/iliyamo/storefront/internal/middleware"
    "github.com/iliyamo/storefront/internal/model"
    "github.com/iliyamo/storefront/internal/repository"
)

type codeReq struct {
    Code string `json:"code"`
}

// pendingVerification loads the request named by the email_verification
// cookie.  A stale or foreign cookie is cleared.
func (h *AuthHandler) pendingVerification(ctx context.Context, c echo.Context, userID string) (model.EmailVerificationRequest, bool, error) {
    id := h.Cookies.Read(c.Request(), auth.EmailVerificationCookie)
    if id == "" {
        return model.EmailVerificationRequest{}, false, nil
    }
    req, err := h.Verifications.Get(ctx, userID, id)
    if errors.Is(err, repository.ErrNotFound) {
        c.SetCookie(h.Cookies.Clear(auth.EmailVerificationCookie))
        return model.EmailVerificationRequest{}, false, nil
    }
    if err != nil {
        return model.EmailVerificationRequest{}, false, err
    }
    return req, true, nil
}

// VerificationStatus reports the address awaiting confirmation, opening a
// new request when none is pending or the last one expired.
func (h *AuthHandler) VerificationStatus(c echo.Context) error {
    id := middleware.IdentityFrom(c)
    if !id.Authenticated() {
        return fail(c, http.StatusUnauthorized, "not authenticated")
    }
    ctx, cancel := reqCtx(c)
    defer cancel()

    req, ok, err := h.pendingVerification(ctx, c, id.User.ID)
    if err != nil {
        log.Errorf("[verify-email] lookup: %v", err)
        return fail(c, http.StatusInternalServerError, "lookup failed")
    }
    if !ok && id.User.EmailVerified {
        return c.JSON(http.StatusOK, echo.Map{"email_verified": true, "next": h.landing(*id.Session, *id.User)})
    }
    if !ok || !h.now().Before(req.ExpiresAt) {
        if req, err = h.startEmailVerification(ctx, c, id.User.ID, id.User.Email); err != nil {
            log.Errorf("[verify-email] start for %s: %v", id.User.ID, err)
            return fail(c, http.StatusInternalServerError, "could not send code")
        }
    }
    return c.JSON(http.StatusOK, echo.Map{
        "email_verified": id.User.EmailVerified,
        "email":          req.Email,
        "expires_at":     req.ExpiresAt,
    })
}

// VerifyEmail checks the mailed code and switches the account to the
// confirmed address.
func (h *AuthHandler) VerifyEmail(c echo.Context) error {
    id := middleware.IdentityFrom(c)
    if !id.Authenticated() {
        return fail(c, http.StatusUnauthorized, "not authenticated")
    }
    var body codeReq
    if err := c.Bind(&body); err != nil {
        return fail(c, http.StatusBadRequest, "invalid body")
    }
    ctx, cancel := reqCtx(c)
    defer cancel()

    user := *id.User
    if !h.Limits.EmailCode.Check(ctx, user.ID, 1) {
        return tooMany(c)
    }
    req, ok, err := h.pendingVerification(ctx, c, user.ID)
    if err != nil {
        log.Errorf("[verify-email] lookup: %v", err)
        return fail(c, http.StatusInternalServerError, "verification failed")
    }
    if !ok {
        return fail(c, http.StatusBadRequest, "no verification in progress")
    }
    if body.Code == "" {
        return fail(c, http.StatusBadRequest, "code required")
    }
    if !h.Limits.EmailCode.Consume(ctx, user.ID, 1) {
        return tooMany(c)
    }
    if !h.now().Before(req.ExpiresAt) {
        if _, err := h.startEmailVerification(ctx, c, user.ID, req.Email); err != nil {
            log.Errorf("[verify-email] restart for %s: %v", user.ID, err)
        }
        return fail(c, http.StatusBadRequest, "the code expired, a new one was sent")
    }
    if !codesMatch(body.Code, req.Code) {
        return fail(c, http.StatusBadRequest, "incorrect code")
    }

    if err := h.Verifications.DeleteForUser(ctx, user.ID); err != nil {
        log.Errorf("[verify-email] delete requests: %v", err)
    }
    if err := h.Resets.DeleteForUser(ctx, user.ID); err != nil {
        log.Errorf("[verify-email] delete reset sessions: %v", err)
    }
    if err := h.Users.UpdateEmailAndVerify(ctx, user.ID, req.Email); err != nil {
        if errors.Is(err, repository.ErrEmailExists) {
            return fail(c, http.StatusConflict, "email already used")
        }
        log.Errorf("[verify-email] update user %s: %v", user.ID, err)
        return fail(c, http.StatusInternalServerError, "verification failed")
    }
    h.invalidate(ctx, user.ID)
    h.Limits.EmailCode.Reset(ctx, user.ID)
    c.SetCookie(h.Cookies.Clear(auth.EmailVerificationCookie))

    user.Email = req.Email
    user.EmailVerified = true
    middleware.SetIdentity(c, auth.Resolution{Session: id.Session, User: &user}.Identity())
    log.Infof("[verify-email] user=%s", user.ID)
    return c.JSON(http.StatusOK, echo.Map{"user": user, "next": h.landing(*id.Session, user)})
}

// ResendVerification mails a new code for the pending address, or for the
// account address when it is still unconfirmed.
func (h *AuthHandler) ResendVerification(c echo.Context) error {
    id := middleware.IdentityFrom(c)
    if !id.Authenticated() {
        return fail(c, http.StatusUnauthorized, "not authenticated")
    }
    ctx, cancel := reqCtx(c)
    defer cancel()

    user := id.User
    if !h.Limits.VerificationEmail.Check(ctx, user.ID, 1) {
        return tooMany(c)
    }
    req, ok, err := h.pendingVerification(ctx, c, user.ID)
    if err != nil {
        log.Errorf("[verify-email] lookup: %v", err)
        return fail(c, http.StatusInternalServerError, "could not send code")
    }
    email := user.Email
    if ok {
        email = req.Email
    } else if user.EmailVerified {
        return fail(c, http.StatusForbidden, "email already verified")
    }
    if !h.Limits.VerificationEmail.Consume(ctx, user.ID, 1) {
        return tooMany(c)
    }
    if _, err := h.startEmailVerification(ctx, c, user.ID, email); err != nil {
        log.Errorf("[verify-email] resend for %s: %v", user.ID, err)
        return fail(c, http.StatusInternalServerError, "could not send code")
    }
    return c.JSON(http.StatusOK, echo.Map{"next": h.Paths.VerifyEmail})
}
