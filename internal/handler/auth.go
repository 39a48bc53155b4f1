package handler

import (
    "context"      // request-scoped deadlines for store calls
    "crypto/subtle" // constant time comparison of mailed codes
    "errors"
    "net/http"     // HTTP status codes
    "strings"      // input normalisation
    "time"         // timeouts and expiries

    "github.com/labstack/echo/v4"    // Echo framework for HTTP routing
    "github.com/labstack/gommon/log" // structured logger shared with echo

    "github.com/iliyamo/storefront/internal/auth"       // sessions, cookies and second factor
    "github.com/iliyamo/storefront/internal/config"     // app configuration
    "github.com/iliyamo/storefront/internal/mail"       // outgoing mail jobs
    "github.com/iliyamo/storefront/internal/middleware" // request identity
    "github.com/iliyamo/storefront/internal/model"
    "github.com/iliyamo/storefront/internal/oauth"      // Sign in with Google
    "github.com/iliyamo/storefront/internal/ratelimit"  // per-endpoint limiters
    "github.com/iliyamo/storefront/internal/repository" // sentinel errors
    "github.com/iliyamo/storefront/internal/utils"      // passwords and random codes
)

const (
    // verificationTTL is how long a mailed email verification code is valid.
    verificationTTL = 10 * time.Minute
    // resetTTL is how long a password reset session is valid.
    resetTTL = 15 * time.Minute
)

// AuthHandler bundles dependencies for the auth endpoints.
type AuthHandler struct {
    Cfg           config.Config
    Users         Users
    Sessions      *auth.Manager
    Cache         UserInvalidator
    Verifications EmailVerifications
    Resets        PasswordResets
    Limits        *ratelimit.Limits
    Cookies       auth.CookieConfig
    Paths         auth.Paths
    Sealer        *auth.Sealer
    TOTP          auth.TOTP
    Mailer        mail.Mailer
    Google        *oauth.GoogleClient
    States        *oauth.StateSigner
    Now           func() time.Time
}

func (h *AuthHandler) now() time.Time {
    if h.Now != nil {
        return h.Now()
    }
    return time.Now()
}

func (h *AuthHandler) invalidate(ctx context.Context, userID string) {
    if h.Cache != nil {
        h.Cache.Invalidate(ctx, userID)
    }
}

// ----- DTOs -----

type signupReq struct {
    Email    string `json:"email"`
    Username string `json:"username"`
    Password string `json:"password"`
}

type loginReq struct {
    Email    string `json:"email"`
    Password string `json:"password"`
}

// ----- helpers -----

func reqCtx(c echo.Context) (context.Context, context.CancelFunc) {
    return context.WithTimeout(c.Request().Context(), 5*time.Second)
}

func fail(c echo.Context, status int, msg string) error {
    return c.JSON(status, echo.Map{"error": msg})
}

func tooMany(c echo.Context) error {
    return middleware.TooManyRequests(c, "")
}

func clientIP(c echo.Context) string {
    if ip := c.RealIP(); ip != "" {
        return ip
    }
    return "unknown"
}

// codesMatch compares two user-typed codes after normalisation.
func codesMatch(got, want string) bool {
    a, b := utils.NormalizeCode(got), utils.NormalizeCode(want)
    return a != "" && subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}

// landing returns the next step for a caller holding session s.
func (h *AuthHandler) landing(s model.Session, u model.User) string {
    id := auth.Resolution{Session: &s, User: &u}.Identity()
    return h.Paths.Landing(auth.ComputeState(id))
}

// signIn starts a session, sets its cookie and updates the request identity.
func (h *AuthHandler) signIn(ctx context.Context, c echo.Context, u model.User, twoFactorVerified bool, provider string) (model.Session, error) {
    s, err := h.Sessions.Create(ctx, u.ID, twoFactorVerified, provider)
    if err != nil {
        return model.Session{}, err
    }
    c.SetCookie(h.Cookies.Session(s.ID, s.ExpiresAt))
    middleware.SetIdentity(c, auth.Resolution{Session: &s, User: &u}.Identity())
    return s, nil
}

// rotate swaps the caller's session for a fresh one.
func (h *AuthHandler) rotate(ctx context.Context, c echo.Context, id auth.Identity, twoFactorVerified bool) (model.Session, error) {
    s, err := h.Sessions.Rotate(ctx, *id.Session, twoFactorVerified)
    if err != nil {
        return model.Session{}, err
    }
    c.SetCookie(h.Cookies.Session(s.ID, s.ExpiresAt))
    middleware.SetIdentity(c, auth.Resolution{Session: &s, User: id.User}.Identity())
    return s, nil
}

// send delivers a mail job.  Delivery failures are logged, not surfaced:
// every flow that mails a code also offers a way to ask for a new one.
func (h *AuthHandler) send(ctx context.Context, msg mail.Message) {
    if h.Mailer == nil {
        log.Warnf("[mail] no mailer configured, dropping %s to %s", msg.Kind, msg.To)
        return
    }
    if err := h.Mailer.Send(ctx, msg); err != nil {
        log.Errorf("[mail] send %s to %s: %v", msg.Kind, msg.To, err)
    }
}

// startEmailVerification replaces the user's pending verification, mails
// the code and remembers the request in a cookie.
func (h *AuthHandler) startEmailVerification(ctx context.Context, c echo.Context, userID, email string) (model.EmailVerificationRequest, error) {
    code, err := utils.NewVerificationCode()
    if err != nil {
        return model.EmailVerificationRequest{}, err
    }
    req, err := h.Verifications.Create(ctx, userID, email, code, h.now().Add(verificationTTL))
    if err != nil {
        return model.EmailVerificationRequest{}, err
    }
    h.send(ctx, mail.Message{Kind: mail.KindVerificationCode, To: req.Email, Code: req.Code})
    c.SetCookie(h.Cookies.Named(auth.EmailVerificationCookie, req.ID, req.ExpiresAt))
    return req, nil
}

// ----- handlers -----

// Signup creates a password account, signs it in and mails the first
// verification code.
func (h *AuthHandler) Signup(c echo.Context) error {
    var req signupReq
    if err := c.Bind(&req); err != nil {
        return fail(c, http.StatusBadRequest, "invalid body")
    }
    ctx, cancel := reqCtx(c)
    defer cancel()

    ip := clientIP(c)
    if !h.Limits.SignupIP.Check(ctx, ip, 1) {
        return tooMany(c)
    }
    email := normalizeEmail(req.Email)
    username := strings.TrimSpace(req.Username)
    if !validEmail(email) {
        return fail(c, http.StatusBadRequest, "invalid email")
    }
    if !validUsername(username) {
        return fail(c, http.StatusBadRequest, "username must be 4 to 31 characters")
    }
    if err := utils.CheckPasswordStrength(req.Password); err != nil {
        return fail(c, http.StatusBadRequest, err.Error())
    }
    available, err := h.Users.EmailAvailable(ctx, email)
    if err != nil {
        log.Errorf("[signup] email lookup: %v", err)
        return fail(c, http.StatusInternalServerError, "signup failed")
    }
    if !available {
        return fail(c, http.StatusConflict, "email already used")
    }
    if !h.Limits.SignupIP.Consume(ctx, ip, 1) {
        return tooMany(c)
    }

    recovery, err := utils.NewRecoveryCode()
    if err != nil {
        return fail(c, http.StatusInternalServerError, "signup failed")
    }
    sealed, err := h.Sealer.SealString(recovery)
    if err != nil {
        return fail(c, http.StatusInternalServerError, "signup failed")
    }
    user, err := h.Users.Create(ctx, email, username, req.Password, h.Cfg.BcryptCost, sealed)
    if err != nil {
        if errors.Is(err, repository.ErrEmailExists) {
            return fail(c, http.StatusConflict, "email already used")
        }
        log.Errorf("[signup] create user: %v", err)
        return fail(c, http.StatusInternalServerError, "signup failed")
    }
    if _, err := h.startEmailVerification(ctx, c, user.ID, user.Email); err != nil {
        log.Errorf("[signup] verification for %s: %v", user.ID, err)
        return fail(c, http.StatusInternalServerError, "signup failed")
    }
    s, err := h.signIn(ctx, c, user, false, "")
    if err != nil {
        log.Errorf("[signup] session for %s: %v", user.ID, err)
        return fail(c, http.StatusInternalServerError, "signup failed")
    }
    log.Infof("[signup] user=%s", user.ID)
    return c.JSON(http.StatusCreated, echo.Map{"user": user, "next": h.landing(s, user)})
}

// Login verifies email and password and starts a session.  The client IP
// bucket is checked before any work and consumed once the account is
// known; the per-user throttler slows down password guessing.
func (h *AuthHandler) Login(c echo.Context) error {
    var req loginReq
    if err := c.Bind(&req); err != nil {
        return fail(c, http.StatusBadRequest, "invalid body")
    }
    ctx, cancel := reqCtx(c)
    defer cancel()

    ip := clientIP(c)
    if !h.Limits.LoginIP.Check(ctx, ip, 1) {
        return tooMany(c)
    }
    email := normalizeEmail(req.Email)
    if !validEmail(email) || req.Password == "" {
        return fail(c, http.StatusBadRequest, "email/password required")
    }
    user, err := h.Users.GetByEmail(ctx, email)
    if err != nil {
        if errors.Is(err, repository.ErrNotFound) {
            return fail(c, http.StatusBadRequest, "account does not exist")
        }
        log.Errorf("[login] user lookup: %v", err)
        return fail(c, http.StatusInternalServerError, "login failed")
    }
    hash, err := h.Users.GetPasswordHash(ctx, user.ID)
    if err != nil {
        log.Errorf("[login] password lookup: %v", err)
        return fail(c, http.StatusInternalServerError, "login failed")
    }
    if hash == "" {
        return fail(c, http.StatusBadRequest, "this account signs in with Google")
    }
    if !h.Limits.LoginIP.Consume(ctx, ip, 1) {
        return tooMany(c)
    }
    if !h.Limits.LoginUser.Consume(ctx, user.ID) {
        return tooMany(c)
    }
    if !utils.VerifyPassword(hash, req.Password) {
        return fail(c, http.StatusBadRequest, "invalid password")
    }
    h.Limits.LoginUser.Reset(ctx, user.ID)

    s, err := h.signIn(ctx, c, user, false, "")
    if err != nil {
        log.Errorf("[login] session for %s: %v", user.ID, err)
        return fail(c, http.StatusInternalServerError, "login failed")
    }
    log.Infof("[login] user=%s", user.ID)
    return c.JSON(http.StatusOK, echo.Map{"user": user, "next": h.landing(s, user)})
}

// Signout ends the current session and clears its cookie.
func (h *AuthHandler) Signout(c echo.Context) error {
    id := middleware.IdentityFrom(c)
    if !id.Authenticated() {
        return fail(c, http.StatusUnauthorized, "not authenticated")
    }
    ctx, cancel := reqCtx(c)
    defer cancel()
    if err := h.Sessions.Invalidate(ctx, id.Session.ID); err != nil {
        log.Errorf("[signout] %v", err)
        return fail(c, http.StatusInternalServerError, "signout failed")
    }
    c.SetCookie(h.Cookies.Blank())
    middleware.SetIdentity(c, auth.Identity{})
    return c.JSON(http.StatusOK, echo.Map{"next": h.Paths.Login})
}

// Me returns the caller and the step of the sign-in flow they are at.
func (h *AuthHandler) Me(c echo.Context) error {
    id := middleware.IdentityFrom(c)
    if !id.Authenticated() {
        return fail(c, http.StatusUnauthorized, "not authenticated")
    }
    state := auth.ComputeState(id)
    return c.JSON(http.StatusOK, echo.Map{
        "user":                id.User,
        "state":               state.String(),
        "registered_2fa":      id.Registered2FA,
        "two_factor_verified": id.TwoFactorVerified,
        "next":                h.Paths.Landing(state),
    })
}
