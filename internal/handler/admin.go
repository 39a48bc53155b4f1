package handler

import (
    "net/http"

    "github.com/labstack/echo/v4"
    "github.com/labstack/gommon/log"

    "github.com/iliyamo/storefront/internal/auth"
)

// AdminHandler exposes account operations reserved to ADMIN users.
type AdminHandler struct {
    Sessions *auth.Manager
    Cache    UserInvalidator
}

// RevokeSessions signs a user out of every device.
func (h *AdminHandler) RevokeSessions(c echo.Context) error {
    userID := c.Param("id")
    if userID == "" {
        return fail(c, http.StatusBadRequest, "invalid user id")
    }
    ctx, cancel := reqCtx(c)
    defer cancel()
    if err := h.Sessions.InvalidateUser(ctx, userID); err != nil {
        log.Errorf("[admin] revoke sessions for %s: %v", userID, err)
        return fail(c, http.StatusInternalServerError, "revoke failed")
    }
    if h.Cache != nil {
        h.Cache.Invalidate(ctx, userID)
    }
    log.Infof("[admin] revoked sessions user=%s by=%v", userID, c.Get("user_id"))
    return c.NoContent(http.StatusNoContent)
}
