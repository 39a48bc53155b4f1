package middleware

import (
    "time"

    "github.com/labstack/echo/v4"
    "github.com/labstack/gommon/log"
)

// RequestLogger writes one structured line per request.  It must run after
// middleware.RequestID so the id is available.
func RequestLogger() echo.MiddlewareFunc {
    return func(next echo.HandlerFunc) echo.HandlerFunc {
        return func(c echo.Context) error {
            start := time.Now()
            err := next(c)
            if err != nil {
                c.Error(err)
            }
            req, res := c.Request(), c.Response()
            log.Infoj(log.JSON{
                "request_id": res.Header().Get(echo.HeaderXRequestID),
                "method":     req.Method,
                "uri":        req.RequestURI,
                "remote_ip":  c.RealIP(),
                "status":     res.Status,
                "size":       res.Size,
                "duration":   time.Since(start).String(),
            })
            return nil
        }
    }
}
