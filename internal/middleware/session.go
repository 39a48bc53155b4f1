package middleware

import (
    "context"
    "net/http"

    "github.com/labstack/echo/v4"
    "github.com/labstack/gommon/log"

    "github.com/iliyamo/storefront/internal/auth"
    "github.com/iliyamo/storefront/internal/model"
)

// PendingOrders finds or opens the cart of a user.
type PendingOrders interface {
    FindOrCreatePending(ctx context.Context, userID string) (model.Order, error)
}

// SessionConfig wires the session middleware.  Orders may be nil.
type SessionConfig struct {
    Manager *auth.Manager
    Cookies auth.CookieConfig
    Paths   auth.Paths
    Orders  PendingOrders
}

// Session resolves the session cookie on every request, refreshes or
// clears the cookie as needed, loads the pending order and enforces the
// sign-in flow with 302 redirects.
func Session(cfg SessionConfig) echo.MiddlewareFunc {
    return func(next echo.HandlerFunc) echo.HandlerFunc {
        return func(c echo.Context) error {
            req := c.Request()
            ctx := req.Context()

            res := cfg.Manager.Resolve(ctx, cfg.Cookies.ReadSession(req))
            switch res.Cookie {
            case auth.CookieSet:
                c.SetCookie(cfg.Cookies.Session(res.Session.ID, res.Session.ExpiresAt))
            case auth.CookieClear:
                c.SetCookie(cfg.Cookies.Blank())
            }

            id := res.Identity()
            var order *model.Order
            if id.Authenticated() && cfg.Orders != nil {
                o, err := cfg.Orders.FindOrCreatePending(ctx, id.User.ID)
                if err != nil {
                    log.Errorf("[session] pending order for %s: %v", id.User.ID, err)
                } else {
                    order = &o
                }
            }
            setIdentity(c, id, order)

            state := auth.ComputeState(id)
            if to, ok := cfg.Paths.Redirect(state, req.URL.Path); ok {
                log.Debugf("[session] %s %s -> %s (%s)", req.Method, req.URL.Path, to, state)
                return c.Redirect(http.StatusFound, to)
            }
            return next(c)
        }
    }
}

// RequireUser aborts with 401 unless a user is signed in.
func RequireUser() echo.MiddlewareFunc {
    return func(next echo.HandlerFunc) echo.HandlerFunc {
        return func(c echo.Context) error {
            if !IdentityFrom(c).Authenticated() {
                return c.JSON(http.StatusUnauthorized, echo.Map{"error": "not authenticated"})
            }
            return next(c)
        }
    }
}
