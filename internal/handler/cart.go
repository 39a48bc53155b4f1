package handler

import (
    "errors"   // sentinel error matching
    "net/http" // HTTP status codes
    "strings"

    "github.com/labstack/echo/v4"
    "github.com/labstack/gommon/log"

    "github.com/iliyamo/storefront/internal/cart"
    "github.com/iliyamo/storefront/internal/middleware"
    "github.com/iliyamo/storefront/internal/model"
    "github.com/iliyamo/storefront/internal/repository"
)

// CartHandler serves the cart of the signed-in user.  The cart is the
// user's PENDING order, loaded by the session middleware.
type CartHandler struct {
    Orders Orders
}

func NewCartHandler(o Orders) *CartHandler { return &CartHandler{Orders: o} }

type saveCartReq struct {
    ID    string            `json:"id"`
    Items []model.OrderItem `json:"items"`
}

type shippingReq struct {
    OrderID           string `json:"order_id"`
    AddressID         string `json:"address_id"`
    ShippingOption    string `json:"shipping_option"`
    ShippingCostCents int64  `json:"shipping_cost_cents"`
}

// pendingOrder returns a copy of the caller's cart, or writes the error.
func pendingOrder(c echo.Context) (model.Order, bool, error) {
    if !middleware.IdentityFrom(c).Authenticated() {
        return model.Order{}, false, fail(c, http.StatusUnauthorized, "not authenticated")
    }
    o := middleware.PendingOrderFrom(c)
    if o == nil {
        return model.Order{}, false, fail(c, http.StatusServiceUnavailable, "cart unavailable")
    }
    order := *o
    order.Items = append([]model.OrderItem(nil), o.Items...)
    return order, true, nil
}

func (h *CartHandler) storeError(c echo.Context, err error) error {
    switch {
    case errors.Is(err, repository.ErrNotFound):
        return fail(c, http.StatusNotFound, "order not found")
    case errors.Is(err, repository.ErrConflict):
        return fail(c, http.StatusConflict, "order is no longer pending")
    }
    log.Errorf("[cart] store: %v", err)
    return fail(c, http.StatusInternalServerError, "save failed")
}

// Get returns the cart with totals recomputed from its items.
func (h *CartHandler) Get(c echo.Context) error {
    order, ok, err := pendingOrder(c)
    if !ok {
        return err
    }
    cart.Apply(&order)
    return c.JSON(http.StatusOK, order)
}

// Save replaces the cart contents.  Customized items are repriced from
// the volume tiers and the totals recomputed before anything is stored.
func (h *CartHandler) Save(c echo.Context) error {
    order, ok, err := pendingOrder(c)
    if !ok {
        return err
    }
    var req saveCartReq
    if err := c.Bind(&req); err != nil {
        return fail(c, http.StatusBadRequest, "invalid body")
    }
    if req.ID != "" && req.ID != order.ID {
        return fail(c, http.StatusForbidden, "forbidden")
    }
    if err := cart.Validate(req.Items); err != nil {
        return fail(c, http.StatusBadRequest, err.Error())
    }
    items := cart.Normalize(req.Items)
    if items == nil {
        items = []model.OrderItem{}
    }
    order.Items = items
    cart.Apply(&order)

    ctx, cancel := reqCtx(c)
    defer cancel()
    if err := h.Orders.SaveCart(ctx, &order); err != nil {
        return h.storeError(c, err)
    }
    return c.JSON(http.StatusOK, order)
}

// Shipping records the delivery choice and recomputes the totals.
// Customized orders always ship with the no_shipping option.
func (h *CartHandler) Shipping(c echo.Context) error {
    order, ok, err := pendingOrder(c)
    if !ok {
        return err
    }
    var req shippingReq
    if err := c.Bind(&req); err != nil {
        return fail(c, http.StatusBadRequest, "invalid body")
    }
    if req.OrderID != "" && req.OrderID != order.ID {
        return fail(c, http.StatusForbidden, "forbidden")
    }
    if len(order.Items) == 0 {
        return fail(c, http.StatusBadRequest, "cart is empty")
    }
    req.AddressID = strings.TrimSpace(req.AddressID)
    if req.AddressID == "" {
        return fail(c, http.StatusBadRequest, "address is required")
    }
    if !order.IsCustom() {
        if strings.TrimSpace(req.ShippingOption) == "" {
            return fail(c, http.StatusBadRequest, "shipping option is required")
        }
        if req.ShippingCostCents < 0 || req.ShippingCostCents > cart.MaxShippingCents {
            return fail(c, http.StatusBadRequest, "invalid shipping cost")
        }
    }
    order.AddressID = req.AddressID
    order.ShippingOption = strings.TrimSpace(req.ShippingOption)
    order.ShippingCostCents = req.ShippingCostCents
    cart.Apply(&order)

    ctx, cancel := reqCtx(c)
    defer cancel()
    if err := h.Orders.UpdateShipping(ctx, &order); err != nil {
        return h.storeError(c, err)
    }
    return c.JSON(http.StatusOK, order)
}
