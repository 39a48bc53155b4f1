package model

import "time"

// Order statuses.
const (
    OrderPending = "PENDING"
    OrderPaid    = "PAID"
)

// ShippingNone is the shipping option recorded for customized orders, which
// are delivered outside the regular carriers.
const ShippingNone = "no_shipping"

// Order models a row in the `orders` table together with its items.  A user
// has at most one PENDING order, which acts as the cart.  All amounts are
// integer cents; the total is always recomputed from the items and the
// shipping cost, never patched.
type Order struct {
    ID                string      `json:"id"`
    UserID            string      `json:"user_id"`
    Status            string      `json:"status"`
    Items             []OrderItem `json:"items"`
    SubtotalCents     int64       `json:"subtotal_cents"`
    TaxCents          int64       `json:"tax_cents"`
    ShippingCostCents int64       `json:"shipping_cost_cents"`
    ShippingTaxCents  int64       `json:"shipping_tax_cents"`
    TotalCents        int64       `json:"total_cents"`
    ShippingOption    string      `json:"shipping_option,omitempty"`
    AddressID         string      `json:"address_id,omitempty"`
    CreatedAt         time.Time   `json:"created_at"`
    UpdatedAt         time.Time   `json:"updated_at"`
}

// OrderItem models a row in `order_items`.  Custom holds the customer
// designs of a customized item; it is empty for catalogue (native) items.
type OrderItem struct {
    ID             string            `json:"id"`
    ProductID      string            `json:"product_id"`
    ProductName    string            `json:"product_name"`
    Quantity       int               `json:"quantity"`
    UnitPriceCents int64             `json:"unit_price_cents"`
    Custom         []OrderItemCustom `json:"custom,omitempty"`
}

// IsCustom reports whether the item carries customer designs.
func (i OrderItem) IsCustom() bool { return len(i.Custom) > 0 }

// OrderItemCustom models a row in `order_item_customs`.
type OrderItemCustom struct {
    ID          string `json:"id,omitempty"`
    Image       string `json:"image"`
    UserMessage string `json:"user_message"`
}

// IsCustom reports whether the order holds customized items.  Orders never
// mix both kinds, so the first item decides.
func (o Order) IsCustom() bool {
    return len(o.Items) > 0 && o.Items[0].IsCustom()
}
