// Package cart validates cart contents and recomputes order totals.  All
// money is integer cents; VAT is rounded to the nearest cent, halves up.
package cart

import (
	"errors"
	"fmt"

	"github.com/iliyamo/storefront/internal/model"
)

const (
	// VATPermille is the reduced French VAT rate (5.5%) applied to products
	// and to shipping.
	VATPermille = 55

	// NativeQuantityLimit caps the number of catalogue units per order.
	NativeQuantityLimit = 72

	// CustomQuantityLimit caps the customized units per order at the
	// largest volume tier.
	CustomQuantityLimit = 8640

	// MaxUnitPriceCents bounds a catalogue unit price.
	MaxUnitPriceCents = 1_000_000

	// MaxShippingCents bounds the shipping cost of an order.
	MaxShippingCents = 100_000

	// DefaultCustomUnitCents prices customized units ordered outside the
	// volume tiers.
	DefaultCustomUnitCents = 160
)

var (
	ErrMixedItems      = errors.New("customized and catalogue items cannot share an order")
	ErrNativeLimit     = fmt.Errorf("catalogue orders are limited to %d units", NativeQuantityLimit)
	ErrInvalidQuantity = errors.New("quantity must be at least 1")
	ErrCustomLimit     = fmt.Errorf("customized orders are limited to %d units", CustomQuantityLimit)
	ErrInvalidPrice    = errors.New("unit price must be positive")
	ErrMissingProduct  = errors.New("product id is required")
)

// customTiers maps the volumes offered for customized cans to their unit
// price in cents.
var customTiers = map[int]int64{
	576:  160,
	720:  140,
	1440: 99,
	2880: 79,
	8640: 69,
}

// Totals is the money breakdown of an order.
type Totals struct {
	Subtotal     int64 `json:"subtotal_cents"`
	Tax          int64 `json:"tax_cents"`
	ShippingCost int64 `json:"shipping_cost_cents"`
	ShippingTax  int64 `json:"shipping_tax_cents"`
	Total        int64 `json:"total_cents"`
}

// VAT returns the tax on a non-negative amount of cents.
func VAT(cents int64) int64 {
	if cents <= 0 {
		return 0
	}
	return (cents*VATPermille + 500) / 1000
}

// CustomUnitPrice returns the unit price of a customized item ordered in
// the given quantity.
func CustomUnitPrice(quantity int) int64 {
	if p, ok := customTiers[quantity]; ok {
		return p
	}
	return DefaultCustomUnitCents
}

// Validate checks the rules every cart must satisfy before it is stored.
// Quantities are bounded item by item so the running sums cannot wrap.
func Validate(items []model.OrderItem) error {
	native, customUnits := 0, 0
	var custom, catalogue bool
	for _, it := range items {
		if it.ProductID == "" {
			return ErrMissingProduct
		}
		if it.Quantity < 1 {
			return ErrInvalidQuantity
		}
		if it.IsCustom() {
			custom = true
			if it.Quantity > CustomQuantityLimit {
				return ErrCustomLimit
			}
			customUnits += it.Quantity
			if customUnits > CustomQuantityLimit {
				return ErrCustomLimit
			}
			continue
		}
		catalogue = true
		if it.UnitPriceCents <= 0 || it.UnitPriceCents > MaxUnitPriceCents {
			return ErrInvalidPrice
		}
		if it.Quantity > NativeQuantityLimit {
			return ErrNativeLimit
		}
		native += it.Quantity
		if native > NativeQuantityLimit {
			return ErrNativeLimit
		}
	}
	if custom && catalogue {
		return ErrMixedItems
	}
	return nil
}

// Normalize prices customized items from the volume tiers, ignoring any
// price the client sent.  The slice is modified in place and returned.
func Normalize(items []model.OrderItem) []model.OrderItem {
	for i := range items {
		if items[i].IsCustom() {
			items[i].UnitPriceCents = CustomUnitPrice(items[i].Quantity)
		}
	}
	return items
}

// Recalculate derives the totals for items and a shipping cost (before
// tax).  Customized orders never carry shipping.
func Recalculate(items []model.OrderItem, shippingCost int64) Totals {
	var t Totals
	custom := false
	for _, it := range items {
		t.Subtotal += it.UnitPriceCents * int64(it.Quantity)
		custom = custom || it.IsCustom()
	}
	if !custom && shippingCost > 0 {
		t.ShippingCost = shippingCost
	}
	t.Tax = VAT(t.Subtotal)
	t.ShippingTax = VAT(t.ShippingCost)
	t.Total = t.Subtotal + t.Tax + t.ShippingCost + t.ShippingTax
	return t
}

// Apply recomputes the totals of o from its items and shipping cost.
// Customized orders are switched to ShippingNone.
func Apply(o *model.Order) Totals {
	if o.IsCustom() {
		o.ShippingOption = model.ShippingNone
		o.ShippingCostCents = 0
	}
	t := Recalculate(o.Items, o.ShippingCostCents)
	o.SubtotalCents = t.Subtotal
	o.TaxCents = t.Tax
	o.ShippingCostCents = t.ShippingCost
	o.ShippingTaxCents = t.ShippingTax
	o.TotalCents = t.Total
	return t
}
