package middleware

import (
    "net/http"
    "strings"

    "github.com/labstack/echo/v4"
    "github.com/labstack/gommon/log"
)

// DevtoolsGuard answers browser devtools probes under
// /.well-known/appspecific/ with an empty 204 so they never reach the
// session layer.
func DevtoolsGuard() echo.MiddlewareFunc {
    return func(next echo.HandlerFunc) echo.HandlerFunc {
        return func(c echo.Context) error {
            if strings.HasPrefix(c.Request().URL.Path, "/.well-known/appspecific/") {
                return c.NoContent(http.StatusNoContent)
            }
            return next(c)
        }
    }
}

// CookieGuard rejects requests whose Cookie header holds bytes outside
// printable ASCII.
func CookieGuard() echo.MiddlewareFunc {
    return func(next echo.HandlerFunc) echo.HandlerFunc {
        return func(c echo.Context) error {
            for _, v := range c.Request().Header.Values("Cookie") {
                if !printableASCII(v) {
                    log.Warnf("[cookieguard] invalid cookie header from %s", c.RealIP())
                    return c.String(http.StatusBadRequest, "Bad Cookie")
                }
            }
            return next(c)
        }
    }
}

func printableASCII(s string) bool {
    for i := 0; i < len(s); i++ {
        if s[i] < 0x20 || s[i] > 0x7e {
            return false
        }
    }
    return true
}
