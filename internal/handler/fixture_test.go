package handler

import (
    "bytes"
    "context"
    "encoding/json"
    "fmt"
    "net/http"
    "net/http/httptest"
    "strings"
    "sync"
    "testing"
    "time"

    "github.com/golang-jwt/jwt/v5"
    "github.com/labstack/echo/v4"
    "golang.org/x/crypto/bcrypt"

    "github.com/iliyamo/storefront/internal/auth"
    "github.com/iliyamo/storefront/internal/config"
    "github.com/iliyamo/storefront/internal/mail"
    "github.com/iliyamo/storefront/internal/middleware"
    "github.com/iliyamo/storefront/internal/model"
    "github.com/iliyamo/storefront/internal/oauth"
    "github.com/iliyamo/storefront/internal/ratelimit"
    "github.com/iliyamo/storefront/internal/repository"
    "github.com/iliyamo/storefront/internal/utils"
)

// ----- in-memory store -----

type userRow struct {
    model.User
    hash     string
    totp     []byte
    recovery []byte
}

type store struct {
    mu       sync.Mutex
    seq      int
    users    map[string]*userRow
    sessions map[string]model.Session
    verifs   map[string]model.EmailVerificationRequest
    resets   map[string]model.PasswordResetSession
    orders   map[string]model.Order
    contacts []model.Contact

    passwordErr error // returned by UpdatePassword when set
}

func newStore() *store {
    return &store{
        users:    map[string]*userRow{},
        sessions: map[string]model.Session{},
        verifs:   map[string]model.EmailVerificationRequest{},
        resets:   map[string]model.PasswordResetSession{},
        orders:   map[string]model.Order{},
    }
}

func (s *store) nextID(prefix string) string {
    s.seq++
    return fmt.Sprintf("%s%d", prefix, s.seq)
}

type fakeUsers struct{ *store }

func (f fakeUsers) byEmail(email string) *userRow {
    for _, u := range f.users {
        if u.Email == email {
            return u
        }
    }
    return nil
}

func (f fakeUsers) Create(_ context.Context, email, username, password string, cost int, sealed []byte) (model.User, error) {
    f.mu.Lock()
    defer f.mu.Unlock()
    if f.byEmail(email) != nil {
        return model.User{}, repository.ErrEmailExists
    }
    hash, err := utils.HashPassword(password, cost)
    if err != nil {
        return model.User{}, err
    }
    u := &userRow{User: model.User{ID: f.nextID("u"), Email: email, Username: username, Role: model.RoleClient}, hash: hash, recovery: sealed}
    f.users[u.ID] = u
    return u.User, nil
}

func (f fakeUsers) CreateWithGoogle(_ context.Context, googleID, email, name, picture string) (model.User, error) {
    f.mu.Lock()
    defer f.mu.Unlock()
    if f.byEmail(email) != nil {
        return model.User{}, repository.ErrEmailExists
    }
    u := &userRow{User: model.User{ID: f.nextID("u"), Email: email, EmailVerified: true, GoogleID: googleID, Name: name, Picture: picture, Role: model.RoleClient}}
    f.users[u.ID] = u
    return u.User, nil
}

func (f fakeUsers) row(id string) (*userRow, error) {
    u, ok := f.users[id]
    if !ok {
        return nil, repository.ErrNotFound
    }
    return u, nil
}

func (f fakeUsers) GetByID(_ context.Context, id string) (model.User, error) {
    f.mu.Lock()
    defer f.mu.Unlock()
    u, err := f.row(id)
    if err != nil {
        return model.User{}, err
    }
    return u.User, nil
}

func (f fakeUsers) GetByEmail(_ context.Context, email string) (model.User, error) {
    f.mu.Lock()
    defer f.mu.Unlock()
    if u := f.byEmail(email); u != nil {
        return u.User, nil
    }
    return model.User{}, repository.ErrNotFound
}

func (f fakeUsers) GetByGoogleID(_ context.Context, googleID string) (model.User, error) {
    f.mu.Lock()
    defer f.mu.Unlock()
    for _, u := range f.users {
        if u.GoogleID == googleID {
            return u.User, nil
        }
    }
    return model.User{}, repository.ErrNotFound
}

func (f fakeUsers) EmailAvailable(_ context.Context, email string) (bool, error) {
    f.mu.Lock()
    defer f.mu.Unlock()
    return f.byEmail(email) == nil, nil
}

func (f fakeUsers) GetPasswordHash(_ context.Context, id string) (string, error) {
    f.mu.Lock()
    defer f.mu.Unlock()
    u, err := f.row(id)
    if err != nil {
        return "", err
    }
    return u.hash, nil
}

func (f fakeUsers) UpdatePassword(_ context.Context, id, password string, cost int) error {
    f.mu.Lock()
    failErr := f.passwordErr
    f.mu.Unlock()
    if failErr != nil {
        return failErr
    }
    hash, err := utils.HashPassword(password, cost)
    if err != nil {
        return err
    }
    f.mu.Lock()
    defer f.mu.Unlock()
    u, err := f.row(id)
    if err != nil {
        return err
    }
    u.hash = hash
    return nil
}

func (f fakeUsers) SetEmailVerifiedIfMatches(_ context.Context, id, email string) (bool, error) {
    f.mu.Lock()
    defer f.mu.Unlock()
    u, err := f.row(id)
    if err != nil || u.Email != email {
        return false, nil
    }
    u.EmailVerified = true
    return true, nil
}

func (f fakeUsers) UpdateEmailAndVerify(_ context.Context, id, email string) error {
    f.mu.Lock()
    defer f.mu.Unlock()
    if other := f.byEmail(email); other != nil && other.ID != id {
        return repository.ErrEmailExists
    }
    u, err := f.row(id)
    if err != nil {
        return err
    }
    u.Email, u.EmailVerified = email, true
    return nil
}

func (f fakeUsers) UpdateTOTPKey(_ context.Context, id string, sealed []byte) error {
    f.mu.Lock()
    defer f.mu.Unlock()
    u, err := f.row(id)
    if err != nil {
        return err
    }
    u.totp, u.HasTOTPKey = sealed, true
    return nil
}

func (f fakeUsers) GetTOTPKey(_ context.Context, id string) ([]byte, error) {
    f.mu.Lock()
    defer f.mu.Unlock()
    u, err := f.row(id)
    if err != nil {
        return nil, err
    }
    if u.totp == nil {
        return nil, repository.ErrNotFound
    }
    return u.totp, nil
}

func (f fakeUsers) GetRecoveryCode(_ context.Context, id string) ([]byte, error) {
    f.mu.Lock()
    defer f.mu.Unlock()
    u, err := f.row(id)
    if err != nil {
        return nil, err
    }
    if u.recovery == nil {
        return nil, repository.ErrNotFound
    }
    return u.recovery, nil
}

func (f fakeUsers) SetRecoveryCode(_ context.Context, id string, sealed []byte) error {
    f.mu.Lock()
    defer f.mu.Unlock()
    u, err := f.row(id)
    if err != nil {
        return err
    }
    u.recovery = sealed
    return nil
}

func (f fakeUsers) ResetTOTPWithRecoveryCode(_ context.Context, id string, matches func([]byte) bool, newSealed []byte) (bool, error) {
    f.mu.Lock()
    defer f.mu.Unlock()
    u, err := f.row(id)
    if err != nil {
        return false, err
    }
    if u.recovery == nil || !matches(u.recovery) {
        return false, nil
    }
    u.recovery, u.totp, u.HasTOTPKey = newSealed, nil, false
    for k, s := range f.sessions {
        if s.UserID == id {
            s.TwoFactorVerified = false
            f.sessions[k] = s
        }
    }
    return true, nil
}

func (f fakeUsers) SetMfaEnabled(_ context.Context, id string, enabled bool) error {
    f.mu.Lock()
    defer f.mu.Unlock()
    u, err := f.row(id)
    if err != nil {
        return err
    }
    u.IsMfaEnabled = enabled
    return nil
}

type fakeSessions struct{ *store }

func (f fakeSessions) Find(_ context.Context, id string) (model.Session, error) {
    f.mu.Lock()
    defer f.mu.Unlock()
    s, ok := f.sessions[id]
    if !ok {
        return model.Session{}, repository.ErrNotFound
    }
    return s, nil
}

func (f fakeSessions) Create(_ context.Context, s model.Session) error {
    f.mu.Lock()
    defer f.mu.Unlock()
    f.sessions[s.ID] = s
    return nil
}

func (f fakeSessions) UpdateExpiry(_ context.Context, id string, at time.Time) error {
    f.mu.Lock()
    defer f.mu.Unlock()
    s := f.sessions[id]
    s.ExpiresAt = at
    f.sessions[id] = s
    return nil
}

func (f fakeSessions) Delete(_ context.Context, id string) error {
    f.mu.Lock()
    defer f.mu.Unlock()
    delete(f.sessions, id)
    return nil
}

func (f fakeSessions) DeleteAllForUser(_ context.Context, userID string) error {
    f.mu.Lock()
    defer f.mu.Unlock()
    for k, s := range f.sessions {
        if s.UserID == userID {
            delete(f.sessions, k)
        }
    }
    return nil
}

type fakeVerifications struct{ *store }

func (f fakeVerifications) Create(_ context.Context, userID, email, code string, expiresAt time.Time) (model.EmailVerificationRequest, error) {
    f.mu.Lock()
    defer f.mu.Unlock()
    for k, v := range f.verifs {
        if v.UserID == userID {
            delete(f.verifs, k)
        }
    }
    req := model.EmailVerificationRequest{ID: f.nextID("v"), UserID: userID, Email: email, Code: code, ExpiresAt: expiresAt}
    f.verifs[req.ID] = req
    return req, nil
}

func (f fakeVerifications) Get(_ context.Context, userID, id string) (model.EmailVerificationRequest, error) {
    f.mu.Lock()
    defer f.mu.Unlock()
    v, ok := f.verifs[id]
    if !ok || v.UserID != userID {
        return model.EmailVerificationRequest{}, repository.ErrNotFound
    }
    return v, nil
}

func (f fakeVerifications) DeleteForUser(_ context.Context, userID string) error {
    f.mu.Lock()
    defer f.mu.Unlock()
    for k, v := range f.verifs {
        if v.UserID == userID {
            delete(f.verifs, k)
        }
    }
    return nil
}

type fakeResets struct{ *store }

func (f fakeResets) Create(_ context.Context, s model.PasswordResetSession) error {
    f.mu.Lock()
    defer f.mu.Unlock()
    f.resets[s.ID] = s
    return nil
}

func (f fakeResets) Get(_ context.Context, id string) (model.PasswordResetSession, error) {
    f.mu.Lock()
    defer f.mu.Unlock()
    s, ok := f.resets[id]
    if !ok {
        return model.PasswordResetSession{}, repository.ErrNotFound
    }
    return s, nil
}

func (f fakeResets) Delete(_ context.Context, id string) error {
    f.mu.Lock()
    defer f.mu.Unlock()
    delete(f.resets, id)
    return nil
}

func (f fakeResets) DeleteForUser(_ context.Context, userID string) error {
    f.mu.Lock()
    defer f.mu.Unlock()
    for k, s := range f.resets {
        if s.UserID == userID {
            delete(f.resets, k)
        }
    }
    return nil
}

func (f fakeResets) MarkEmailVerified(_ context.Context, id string) error {
    f.mu.Lock()
    defer f.mu.Unlock()
    s, ok := f.resets[id]
    if !ok {
        return repository.ErrNotFound
    }
    s.EmailVerified = true
    f.resets[id] = s
    return nil
}

func (f fakeResets) MarkTwoFactorVerified(_ context.Context, id string) error {
    f.mu.Lock()
    defer f.mu.Unlock()
    s, ok := f.resets[id]
    if !ok {
        return repository.ErrNotFound
    }
    s.TwoFactorVerified = true
    f.resets[id] = s
    return nil
}

type fakeOrders struct{ *store }

func (f fakeOrders) FindOrCreatePending(_ context.Context, userID string) (model.Order, error) {
    f.mu.Lock()
    defer f.mu.Unlock()
    if o, ok := f.orders[userID]; ok {
        return o, nil
    }
    o := model.Order{ID: f.nextID("o"), UserID: userID, Status: model.OrderPending, Items: []model.OrderItem{}}
    f.orders[userID] = o
    return o, nil
}

func (f fakeOrders) SaveCart(_ context.Context, o *model.Order) error {
    f.mu.Lock()
    defer f.mu.Unlock()
    cur, ok := f.orders[o.UserID]
    if !ok || cur.ID != o.ID {
        return repository.ErrNotFound
    }
    if cur.Status != model.OrderPending {
        return repository.ErrConflict
    }
    f.orders[o.UserID] = *o
    return nil
}

func (f fakeOrders) UpdateShipping(ctx context.Context, o *model.Order) error {
    return f.SaveCart(ctx, o)
}

type fakeContacts struct{ *store }

func (f fakeContacts) Create(_ context.Context, name, email, subject, message string) (model.Contact, error) {
    f.mu.Lock()
    defer f.mu.Unlock()
    c := model.Contact{ID: f.nextID("c"), Name: name, Email: email, Subject: subject, Message: message}
    f.contacts = append(f.contacts, c)
    return c, nil
}

type mailbox struct {
    mu   sync.Mutex
    sent []mail.Message
}

func (m *mailbox) Send(_ context.Context, msg mail.Message) error {
    m.mu.Lock()
    defer m.mu.Unlock()
    m.sent = append(m.sent, msg)
    return nil
}

// last returns the most recent message of kind sent to to.
func (m *mailbox) last(kind mail.Kind, to string) (mail.Message, bool) {
    m.mu.Lock()
    defer m.mu.Unlock()
    for i := len(m.sent) - 1; i >= 0; i-- {
        if m.sent[i].Kind == kind && m.sent[i].To == to {
            return m.sent[i], true
        }
    }
    return mail.Message{}, false
}

type countingCache struct{ invalidated []string }

func (c *countingCache) Invalidate(_ context.Context, id string) {
    c.invalidated = append(c.invalidated, id)
}

// ----- fixture -----

const strongPassword = "Sup3r-secret!"

type fixture struct {
    t      *testing.T
    e      *echo.Echo
    st     *store
    users  fakeUsers
    mails  *mailbox
    cache  *countingCache
    now    time.Time
    auth   *AuthHandler
    jar    map[string]*http.Cookie
    google *httptest.Server
}

func newFixture(t *testing.T) *fixture {
    t.Helper()
    f := &fixture{
        t:     t,
        st:    newStore(),
        mails: &mailbox{},
        cache: &countingCache{},
        now:   time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC),
        jar:   map[string]*http.Cookie{},
    }
    f.users = fakeUsers{f.st}
    clock := func() time.Time { return f.now }

    limits, err := ratelimit.NewLimits(config.RateLimitConfig{
        Backend:  "memory",
        Prefix:   "rl",
        Policies: config.DefaultPolicies(),
    }, nil, clock)
    if err != nil {
        t.Fatal(err)
    }
    sealer, err := auth.NewSealer(bytes.Repeat([]byte{7}, 32))
    if err != nil {
        t.Fatal(err)
    }
    cookies := auth.CookieConfig{SessionName: "auth_session"}
    paths := auth.DefaultPaths()
    mgr := auth.NewManager(fakeSessions{f.st}, f.users, 30*24*time.Hour, 15*24*time.Hour, clock)

    f.google = httptest.NewServer(http.HandlerFunc(f.googleToken))
    t.Cleanup(f.google.Close)
    google := oauth.NewGoogleClient("cid", "csecret", "http://localhost/auth/login/google/callback")
    google.AuthURL = "https://accounts.example/auth"
    google.TokenURL = f.google.URL

    f.auth = &AuthHandler{
        Cfg:           config.Config{BcryptCost: bcrypt.MinCost},
        Users:         f.users,
        Sessions:      mgr,
        Cache:         f.cache,
        Verifications: fakeVerifications{f.st},
        Resets:        fakeResets{f.st},
        Limits:        limits,
        Cookies:       cookies,
        Paths:         paths,
        Sealer:        sealer,
        TOTP:          auth.TOTP{Issuer: "Storefront"},
        Mailer:        f.mails,
        Google:        google,
        States:        oauth.NewStateSigner("state-secret", clock),
        Now:           clock,
    }
    carts := NewCartHandler(fakeOrders{f.st})
    contact := &ContactHandler{Contacts: fakeContacts{f.st}, Limit: limits.ContactIP, Mailer: f.mails, Inbox: "shop@example.com"}

    e := echo.New()
    e.Use(middleware.Session(middleware.SessionConfig{Manager: mgr, Cookies: cookies, Paths: paths, Orders: fakeOrders{f.st}}))
    a := f.auth
    e.POST("/auth/signup", a.Signup)
    e.POST("/auth/login", a.Login)
    e.POST("/auth/signout", a.Signout)
    e.GET("/auth/me", a.Me)
    e.GET("/auth/verify-email", a.VerificationStatus)
    e.POST("/auth/verify-email", a.VerifyEmail)
    e.POST("/auth/verify-email/resend", a.ResendVerification)
    e.GET("/auth/2fa/setup", a.TOTPSetupKey)
    e.POST("/auth/2fa/setup", a.TOTPSetup)
    e.POST("/auth/2fa", a.TOTPChallenge)
    e.POST("/auth/2fa/reset", a.TOTPReset)
    e.GET("/auth/recovery-code", a.RecoveryCode)
    e.POST("/auth/forgot-password", a.ForgotPassword)
    e.POST("/auth/reset-password/verify-email", a.ResetVerifyEmail)
    e.POST("/auth/reset-password/2fa", a.ResetTwoFactor)
    e.POST("/auth/reset-password/recovery-code", a.ResetRecoveryCode)
    e.POST("/auth/reset-password", a.ResetPassword)
    e.GET("/auth/settings", a.Settings)
    e.POST("/auth/settings/password", a.UpdatePassword)
    e.POST("/auth/settings/email", a.UpdateEmail)
    e.POST("/auth/settings/mfa", a.UpdateMfa)
    e.GET("/auth/login/google", a.GoogleLogin)
    e.GET("/auth/login/google/callback", a.GoogleCallback)
    e.GET("/api/cart", carts.Get)
    e.POST("/api/save-cart", carts.Save)
    e.POST("/checkout/shipping", carts.Shipping)
    e.POST("/contact", contact.Create)
    e.GET("/", func(c echo.Context) error { return c.String(http.StatusOK, "home") })
    f.e = e
    return f
}

// googleToken plays Google's token endpoint: code "good" yields an
// id_token for a verified account.
func (f *fixture) googleToken(w http.ResponseWriter, r *http.Request) {
    _ = r.ParseForm()
    if r.Form.Get("code") != "good" || r.Form.Get("code_verifier") == "" {
        w.WriteHeader(http.StatusBadRequest)
        return
    }
    token, _ := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
        "sub": "g-1", "email": "grace@example.com", "email_verified": true, "name": "Grace",
    }).SignedString([]byte("google-key"))
    w.Header().Set("Content-Type", "application/json")
    _, _ = w.Write([]byte(`{"access_token":"at","id_token":"` + token + `"}`))
}

func (f *fixture) do(method, path string, body any) *httptest.ResponseRecorder {
    f.t.Helper()
    var rdr *bytes.Reader
    if body != nil {
        raw, err := json.Marshal(body)
        if err != nil {
            f.t.Fatal(err)
        }
        rdr = bytes.NewReader(raw)
    } else {
        rdr = bytes.NewReader(nil)
    }
    req := httptest.NewRequest(method, path, rdr)
    if body != nil {
        req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
    }
    req.RemoteAddr = "203.0.113.7:5555"
    for _, ck := range f.jar {
        req.AddCookie(&http.Cookie{Name: ck.Name, Value: ck.Value})
    }
    rec := httptest.NewRecorder()
    f.e.ServeHTTP(rec, req)
    for _, ck := range rec.Result().Cookies() {
        if ck.MaxAge < 0 || ck.Value == "" {
            delete(f.jar, ck.Name)
        } else {
            f.jar[ck.Name] = ck
        }
    }
    return rec
}

func (f *fixture) expect(rec *httptest.ResponseRecorder, code int) map[string]any {
    f.t.Helper()
    if rec.Code != code {
        f.t.Fatalf("status = %d, want %d; body=%s", rec.Code, code, rec.Body.String())
    }
    out := map[string]any{}
    if strings.HasPrefix(rec.Header().Get(echo.HeaderContentType), echo.MIMEApplicationJSON) {
        if err := json.Unmarshal(rec.Body.Bytes(), &out); err != nil {
            f.t.Fatalf("decode: %v", err)
        }
    }
    return out
}

// signup registers and verifies an account, leaving it signed in.
func (f *fixture) signup(email string) model.User {
    f.t.Helper()
    f.expect(f.do(http.MethodPost, "/auth/signup", echo.Map{"email": email, "username": "shopper", "password": strongPassword}), http.StatusCreated)
    msg, ok := f.mails.last(mail.KindVerificationCode, email)
    if !ok {
        f.t.Fatal("no verification mail")
    }
    f.expect(f.do(http.MethodPost, "/auth/verify-email", echo.Map{"code": msg.Code}), http.StatusOK)
    u, err := f.users.GetByEmail(context.Background(), email)
    if err != nil {
        f.t.Fatal(err)
    }
    return u
}

func (f *fixture) session() string {
    if ck, ok := f.jar["auth_session"]; ok {
        return ck.Value
    }
    return ""
}

func (f *fixture) totpCode(key []byte) string {
    f.t.Helper()
    code, err := f.auth.TOTP.Code(key, f.now)
    if err != nil {
        f.t.Fatal(err)
    }
    return code
}
