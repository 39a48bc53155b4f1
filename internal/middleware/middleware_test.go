package middleware

import (
    "context"
    "errors"
    "net/http"
    "net/http/httptest"
    "testing"
    "time"

    "github.com/labstack/echo/v4"

    "github.com/iliyamo/storefront/internal/auth"
    "github.com/iliyamo/storefront/internal/config"
    "github.com/iliyamo/storefront/internal/model"
    "github.com/iliyamo/storefront/internal/ratelimit"
    "github.com/iliyamo/storefront/internal/repository"
)

type fakeSessions struct{ rows map[string]model.Session }

func (f *fakeSessions) Find(_ context.Context, id string) (model.Session, error) {
    s, ok := f.rows[id]
    if !ok {
        return model.Session{}, repository.ErrNotFound
    }
    return s, nil
}
func (f *fakeSessions) Create(_ context.Context, s model.Session) error { f.rows[s.ID] = s; return nil }
func (f *fakeSessions) UpdateExpiry(_ context.Context, id string, at time.Time) error {
    s := f.rows[id]
    s.ExpiresAt = at
    f.rows[id] = s
    return nil
}
func (f *fakeSessions) Delete(_ context.Context, id string) error { delete(f.rows, id); return nil }
func (f *fakeSessions) DeleteAllForUser(context.Context, string) error { return nil }

type fakeUsers map[string]model.User

func (f fakeUsers) GetByID(_ context.Context, id string) (model.User, error) {
    u, ok := f[id]
    if !ok {
        return model.User{}, repository.ErrNotFound
    }
    return u, nil
}

type fakeOrders struct{ err error }

func (f fakeOrders) FindOrCreatePending(_ context.Context, userID string) (model.Order, error) {
    if f.err != nil {
        return model.Order{}, f.err
    }
    return model.Order{ID: "o-" + userID, UserID: userID, Status: model.OrderPending}, nil
}

var now = time.Date(2025, 5, 1, 9, 0, 0, 0, time.UTC)

type harness struct {
    e        *echo.Echo
    sessions *fakeSessions
    users    fakeUsers
}

func newHarness(orders PendingOrders) *harness {
    h := &harness{sessions: &fakeSessions{rows: map[string]model.Session{}}, users: fakeUsers{}}
    mgr := auth.NewManager(h.sessions, h.users, 30*24*time.Hour, 15*24*time.Hour, func() time.Time { return now })
    h.e = echo.New()
    h.e.Use(Session(SessionConfig{
        Manager: mgr,
        Cookies: auth.CookieConfig{SessionName: "auth_session"},
        Paths:   auth.DefaultPaths(),
        Orders:  orders,
    }))
    ok := func(c echo.Context) error {
        id := IdentityFrom(c)
        body := echo.Map{"authenticated": id.Authenticated(), "has_order": PendingOrderFrom(c) != nil}
        return c.JSON(http.StatusOK, body)
    }
    for _, p := range []string{"/", "/auth/settings", "/auth/2fa", "/auth/2fa/setup", "/auth/signout", "/checkout/shipping"} {
        h.e.GET(p, ok)
    }
    return h
}

func (h *harness) addUser(u model.User, twoFactor bool, expiresIn time.Duration) string {
    h.users[u.ID] = u
    token := "0123456789abcdef" + u.ID
    h.sessions.rows[token] = model.Session{ID: token, UserID: u.ID, ExpiresAt: now.Add(expiresIn), TwoFactorVerified: twoFactor}
    return token
}

func (h *harness) get(path, token string) *httptest.ResponseRecorder {
    req := httptest.NewRequest(http.MethodGet, path, nil)
    if token != "" {
        req.AddCookie(&http.Cookie{Name: "auth_session", Value: token})
    }
    rec := httptest.NewRecorder()
    h.e.ServeHTTP(rec, req)
    return rec
}

func sessionCookie(rec *httptest.ResponseRecorder) *http.Cookie {
    for _, c := range rec.Result().Cookies() {
        if c.Name == "auth_session" {
            return c
        }
    }
    return nil
}

func TestSessionAnonymous(t *testing.T) {
    h := newHarness(fakeOrders{})
    if rec := h.get("/", ""); rec.Code != http.StatusOK || sessionCookie(rec) != nil {
        t.Fatalf("code=%d", rec.Code)
    }
    rec := h.get("/auth/settings", "")
    if rec.Code != http.StatusFound || rec.Header().Get("Location") != "/auth/login" {
        t.Fatalf("code=%d location=%q", rec.Code, rec.Header().Get("Location"))
    }
}

func TestSessionUnknownTokenClearsCookie(t *testing.T) {
    h := newHarness(fakeOrders{})
    rec := h.get("/", "ffffffffffffffffffffffff")
    ck := sessionCookie(rec)
    if ck == nil || ck.Value != "" || ck.MaxAge >= 0 {
        t.Fatalf("expected blank cookie, got %+v", ck)
    }
}

func TestSessionRenewSetsCookie(t *testing.T) {
    h := newHarness(fakeOrders{})
    token := h.addUser(model.User{ID: "u1", EmailVerified: true}, false, 10*24*time.Hour)
    rec := h.get("/", token)
    ck := sessionCookie(rec)
    if ck == nil || ck.Value != token || !ck.HttpOnly || ck.SameSite != http.SameSiteLaxMode {
        t.Fatalf("expected renewed cookie, got %+v", ck)
    }
    if !h.sessions.rows[token].ExpiresAt.Equal(now.Add(30 * 24 * time.Hour)) {
        t.Fatalf("expiry not pushed: %v", h.sessions.rows[token].ExpiresAt)
    }
}

func TestSessionMfaSetupRedirect(t *testing.T) {
    h := newHarness(fakeOrders{})
    token := h.addUser(model.User{ID: "u1", EmailVerified: true, IsMfaEnabled: true}, false, 20*24*time.Hour)
    for _, p := range []string{"/", "/auth/settings", "/auth/2fa"} {
        rec := h.get(p, token)
        if rec.Code != http.StatusFound || rec.Header().Get("Location") != "/auth/2fa/setup" {
            t.Fatalf("%s: code=%d location=%q", p, rec.Code, rec.Header().Get("Location"))
        }
    }
    if rec := h.get("/auth/2fa/setup", token); rec.Code != http.StatusOK {
        t.Fatalf("setup page must be reachable, got %d", rec.Code)
    }
    if rec := h.get("/auth/signout", token); rec.Code != http.StatusOK {
        t.Fatalf("signout must stay reachable, got %d", rec.Code)
    }
}

func TestSessionMfaChallengeRedirect(t *testing.T) {
    h := newHarness(fakeOrders{})
    token := h.addUser(model.User{ID: "u1", EmailVerified: true, IsMfaEnabled: true, HasTOTPKey: true}, false, 20*24*time.Hour)
    if rec := h.get("/checkout/shipping", token); rec.Header().Get("Location") != "/auth/2fa" {
        t.Fatalf("location=%q", rec.Header().Get("Location"))
    }
    if rec := h.get("/auth/2fa", token); rec.Code != http.StatusOK {
        t.Fatalf("challenge page must be reachable, got %d", rec.Code)
    }
}

func TestSessionUnverifiedEmailRedirect(t *testing.T) {
    h := newHarness(fakeOrders{})
    token := h.addUser(model.User{ID: "u1"}, false, 20*24*time.Hour)
    if rec := h.get("/checkout/shipping", token); rec.Header().Get("Location") != "/auth/verify-email" {
        t.Fatalf("location=%q", rec.Header().Get("Location"))
    }
    if rec := h.get("/", token); rec.Code != http.StatusOK {
        t.Fatalf("public page must be reachable, got %d", rec.Code)
    }
}

func TestSessionPendingOrderFailureIsNotFatal(t *testing.T) {
    h := newHarness(fakeOrders{err: errors.New("db down")})
    token := h.addUser(model.User{ID: "u1", EmailVerified: true}, false, 20*24*time.Hour)
    rec := h.get("/", token)
    if rec.Code != http.StatusOK || rec.Body.String() != "{\"authenticated\":true,\"has_order\":false}\n" {
        t.Fatalf("code=%d body=%s", rec.Code, rec.Body.String())
    }
}

func TestSessionAttachesPendingOrder(t *testing.T) {
    h := newHarness(fakeOrders{})
    token := h.addUser(model.User{ID: "u1", EmailVerified: true}, false, 20*24*time.Hour)
    rec := h.get("/", token)
    if rec.Body.String() != "{\"authenticated\":true,\"has_order\":true}\n" {
        t.Fatalf("body=%s", rec.Body.String())
    }
}

func TestDevtoolsGuard(t *testing.T) {
    e := echo.New()
    e.Use(DevtoolsGuard())
    e.GET("/*", func(c echo.Context) error { return c.String(http.StatusOK, "page") })
    rec := httptest.NewRecorder()
    e.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/.well-known/appspecific/com.chrome.devtools.json", nil))
    if rec.Code != http.StatusNoContent || rec.Body.Len() != 0 {
        t.Fatalf("code=%d", rec.Code)
    }
}

func TestCookieGuard(t *testing.T) {
    e := echo.New()
    e.Use(CookieGuard())
    e.GET("/", func(c echo.Context) error { return c.String(http.StatusOK, "ok") })

    req := httptest.NewRequest(http.MethodGet, "/", nil)
    req.Header.Set("Cookie", "a=b; c=d")
    rec := httptest.NewRecorder()
    e.ServeHTTP(rec, req)
    if rec.Code != http.StatusOK {
        t.Fatalf("clean cookie rejected: %d", rec.Code)
    }

    req = httptest.NewRequest(http.MethodGet, "/", nil)
    req.Header.Set("Cookie", "a=café")
    rec = httptest.NewRecorder()
    e.ServeHTTP(rec, req)
    if rec.Code != http.StatusBadRequest || rec.Body.String() != "Bad Cookie" {
        t.Fatalf("code=%d body=%q", rec.Code, rec.Body.String())
    }
}

func TestRateLimitPerIP(t *testing.T) {
    clock := now
    b := ratelimit.NewRefillingTokenBucket(2, time.Second, ratelimit.WithClock(func() time.Time { return clock }))
    e := echo.New()
    e.Use(RateLimit("global", b, config.Policy{Kind: config.KindRefilling, Capacity: 2, Interval: time.Second}))
    e.GET("/", func(c echo.Context) error { return c.String(http.StatusOK, "ok") })

    hit := func(ip string) *httptest.ResponseRecorder {
        req := httptest.NewRequest(http.MethodGet, "/", nil)
        req.Header.Set("X-Forwarded-For", ip)
        rec := httptest.NewRecorder()
        e.ServeHTTP(rec, req)
        return rec
    }
    hit("10.0.0.1")
    hit("10.0.0.1")
    rec := hit("10.0.0.1")
    if rec.Code != http.StatusTooManyRequests || rec.Header().Get("Retry-After") != "1" || rec.Header().Get("X-RateLimit-Limit") != "2" {
        t.Fatalf("code=%d headers=%v", rec.Code, rec.Header())
    }
    if rec := hit("10.0.0.2"); rec.Code != http.StatusOK {
        t.Fatalf("other ip must not be limited: %d", rec.Code)
    }
    clock = clock.Add(time.Second)
    if rec := hit("10.0.0.1"); rec.Code != http.StatusOK {
        t.Fatalf("refill should allow one more: %d", rec.Code)
    }
}

func TestRequireRole(t *testing.T) {
    e := echo.New()
    handler := RequireRole(model.RoleAdmin)(func(c echo.Context) error { return c.NoContent(http.StatusNoContent) })
    cases := []struct {
        id   auth.Identity
        want int
    }{
        {auth.Identity{}, http.StatusUnauthorized},
        {auth.Identity{Session: &model.Session{}, User: &model.User{}, Role: model.RoleClient}, http.StatusForbidden},
        {auth.Identity{Session: &model.Session{}, User: &model.User{}, Role: model.RoleAdmin}, http.StatusNoContent},
    }
    for _, tc := range cases {
        rec := httptest.NewRecorder()
        c := e.NewContext(httptest.NewRequest(http.MethodPost, "/", nil), rec)
        SetIdentity(c, tc.id)
        _ = handler(c)
        if rec.Code != tc.want {
            t.Errorf("role %q: code=%d want %d", tc.id.Role, rec.Code, tc.want)
        }
    }
}

func TestRequireUser(t *testing.T) {
    e := echo.New()
    handler := RequireUser()(func(c echo.Context) error { return c.NoContent(http.StatusNoContent) })
    cases := []struct {
        name string
        id   auth.Identity
        want int
    }{
        {"anonymous", auth.Identity{}, http.StatusUnauthorized},
        {"signed in", auth.Identity{Session: &model.Session{}, User: &model.User{}}, http.StatusNoContent},
    }
    for _, tc := range cases {
        rec := httptest.NewRecorder()
        c := e.NewContext(httptest.NewRequest(http.MethodGet, "/api/cart", nil), rec)
        SetIdentity(c, tc.id)
        _ = handler(c)
        if rec.Code != tc.want {
            t.Errorf("%s: code=%d want %d", tc.name, rec.Code, tc.want)
        }
    }
}
