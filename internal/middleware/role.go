package middleware // middleware provides shared request processing for handlers

import (
    "net/http"

    "github.com/labstack/echo/v4"
)

// RequireRole returns a middleware function that enforces that the
// authenticated user has one of the specified roles.  Anonymous callers get
// 401; signed-in users with another role get 403.  It relies on the Session
// middleware having stored the identity.
func RequireRole(roles ...string) echo.MiddlewareFunc {
    allowed := make(map[string]bool, len(roles))
    for _, r := range roles {
        allowed[r] = true
    }
    return func(next echo.HandlerFunc) echo.HandlerFunc {
        return func(c echo.Context) error {
            id := IdentityFrom(c)
            if !id.Authenticated() {
                return c.JSON(http.StatusUnauthorized, echo.Map{"error": "not authenticated"})
            }
            if !allowed[id.Role] {
                return c.JSON(http.StatusForbidden, echo.Map{"error": "forbidden"})
            }
            return next(c)
        }
    }
}
