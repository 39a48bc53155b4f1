package middleware

// identity.go stores what the session middleware learned about the caller
// in the Echo context and reads it back for handlers.

import (
    "github.com/labstack/echo/v4"

    "github.com/iliyamo/storefront/internal/auth"
    "github.com/iliyamo/storefront/internal/model"
)

const (
    identityKey     = "identity"
    pendingOrderKey = "pending_order"
)

func setIdentity(c echo.Context, id auth.Identity, order *model.Order) {
    c.Set(identityKey, id)
    c.Set(pendingOrderKey, order)
    if id.Authenticated() {
        c.Set("user_id", id.User.ID)
        c.Set("role", id.Role)
    }
}

// IdentityFrom returns the caller's identity; anonymous when the session
// middleware did not run or found nothing.
func IdentityFrom(c echo.Context) auth.Identity {
    id, _ := c.Get(identityKey).(auth.Identity)
    return id
}

// SetIdentity replaces the identity for the rest of the request, after a
// handler signed the caller in or rotated their session.
func SetIdentity(c echo.Context, id auth.Identity) {
    c.Set(identityKey, id)
}

// PendingOrderFrom returns the caller's cart, or nil when there is no user
// or it could not be loaded.
func PendingOrderFrom(c echo.Context) *model.Order {
    o, _ := c.Get(pendingOrderKey).(*model.Order)
    return o
}
