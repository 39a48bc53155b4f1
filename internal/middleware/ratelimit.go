package middleware

import (
    "math"
    "net/http"
    "strconv"

    "github.com/labstack/echo/v4"
    "github.com/labstack/gommon/log"

    "github.com/iliyamo/storefront/internal/config"
    "github.com/iliyamo/storefront/internal/ratelimit"
)

// RateLimit consumes one token per request from b, keyed by client IP.
// Denied requests get a 429 with Retry-After set to one refill interval.
func RateLimit(name string, b ratelimit.Bucket, p config.Policy) echo.MiddlewareFunc {
    if b == nil {
        return func(next echo.HandlerFunc) echo.HandlerFunc { return next }
    }
    limit := strconv.Itoa(p.Capacity)
    retry := strconv.Itoa(int(math.Ceil(p.Interval.Seconds())))
    return func(next echo.HandlerFunc) echo.HandlerFunc {
        return func(c echo.Context) error {
            ip := c.RealIP()
            if ip == "" {
                ip = "unknown"
            }
            c.Response().Header().Set("X-RateLimit-Limit", limit)
            if !b.Consume(c.Request().Context(), ip, 1) {
                log.Warnf("[ratelimit] %s: block ip=%s", name, ip)
                return TooManyRequests(c, retry)
            }
            return next(c)
        }
    }
}

// TooManyRequests writes the 429 body shared by middleware and handlers.
func TooManyRequests(c echo.Context, retryAfter string) error {
    if retryAfter != "" {
        c.Response().Header().Set("Retry-After", retryAfter)
    }
    return c.JSON(http.StatusTooManyRequests, echo.Map{
        "error":   "too_many_requests",
        "message": "rate limit exceeded",
    })
}
