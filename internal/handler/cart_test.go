package handler

import (
    "math"
    "net/http"
    "testing"

    "github.com/labstack/echo/v4"

    "github.com/iliyamo/storefront/internal/model"
)

func TestCartRequiresSession(t *testing.T) {
    f := newFixture(t)
    f.expect(f.do(http.MethodGet, "/api/cart", nil), http.StatusUnauthorized)
}

func TestSaveCartRepricesCustomItems(t *testing.T) {
    f := newFixture(t)
    u := f.signup("ada@example.com")
    cart := f.expect(f.do(http.MethodGet, "/api/cart", nil), http.StatusOK)
    if cart["status"] != model.OrderPending {
        t.Fatalf("cart = %v", cart)
    }

    body := f.expect(f.do(http.MethodPost, "/api/save-cart", echo.Map{
        "id": cart["id"],
        "items": []echo.Map{{
            "product_id": "can-33", "quantity": 720, "unit_price_cents": 1,
            "custom": []echo.Map{{"image": "logo.png", "user_message": "hi"}},
        }},
    }), http.StatusOK)
    // 720 units at 1.40, plus 5.5% VAT.
    if body["subtotal_cents"] != float64(100800) || body["tax_cents"] != float64(5544) || body["total_cents"] != float64(106344) {
        t.Fatalf("totals = %v", body)
    }
    if body["shipping_option"] != model.ShippingNone {
        t.Fatalf("shipping option = %v", body["shipping_option"])
    }
    stored := f.st.orders[u.ID]
    if stored.Items[0].UnitPriceCents != 140 {
        t.Fatalf("stored unit price = %d", stored.Items[0].UnitPriceCents)
    }
}

func TestSaveCartRejectsInvalidContents(t *testing.T) {
    f := newFixture(t)
    f.signup("ada@example.com")
    custom := []echo.Map{{"image": "logo.png"}}
    cases := []echo.Map{
        {"items": []echo.Map{{"product_id": "a", "quantity": 1, "unit_price_cents": 100}, {"product_id": "b", "quantity": 576, "custom": custom}}},
        {"items": []echo.Map{{"product_id": "a", "quantity": 73, "unit_price_cents": 100}}},
        {"items": []echo.Map{{"product_id": "a", "quantity": 0, "unit_price_cents": 100}}},
        {"items": []echo.Map{{"product_id": "a", "quantity": 1}}},
        {"items": []echo.Map{
            {"product_id": "a", "quantity": int64(math.MaxInt64/2 + 1), "unit_price_cents": 100},
            {"product_id": "b", "quantity": int64(math.MaxInt64/2 + 1), "unit_price_cents": 100},
        }},
        {"items": []echo.Map{{"product_id": "b", "quantity": int64(math.MaxInt64 / 100), "custom": custom}}},
    }
    for _, c := range cases {
        f.expect(f.do(http.MethodPost, "/api/save-cart", c), http.StatusBadRequest)
    }
    f.expect(f.do(http.MethodPost, "/api/save-cart", echo.Map{"id": "someone-else", "items": []echo.Map{}}), http.StatusForbidden)
}

func TestShippingTotals(t *testing.T) {
    f := newFixture(t)
    f.signup("ada@example.com")
    f.expect(f.do(http.MethodPost, "/checkout/shipping", echo.Map{"address_id": "a1", "shipping_option": "colissimo", "shipping_cost_cents": 490}), http.StatusBadRequest)

    f.expect(f.do(http.MethodPost, "/api/save-cart", echo.Map{
        "items": []echo.Map{{"product_id": "can-33", "quantity": 2, "unit_price_cents": 1000}},
    }), http.StatusOK)
    f.expect(f.do(http.MethodPost, "/checkout/shipping", echo.Map{"shipping_option": "colissimo", "shipping_cost_cents": 490}), http.StatusBadRequest)
    f.expect(f.do(http.MethodPost, "/checkout/shipping", echo.Map{"address_id": "a1", "shipping_cost_cents": 490}), http.StatusBadRequest)
    f.expect(f.do(http.MethodPost, "/checkout/shipping", echo.Map{
        "address_id": "a1", "shipping_option": "colissimo", "shipping_cost_cents": int64(math.MaxInt64 - 1),
    }), http.StatusBadRequest)

    body := f.expect(f.do(http.MethodPost, "/checkout/shipping", echo.Map{
        "address_id": "a1", "shipping_option": "colissimo", "shipping_cost_cents": 490,
    }), http.StatusOK)
    // 20.00 + 1.10 VAT + 4.90 shipping + 0.27 shipping VAT.
    if body["shipping_tax_cents"] != float64(27) || body["total_cents"] != float64(2627) {
        t.Fatalf("totals = %v", body)
    }
}

func TestShippingForCustomOrders(t *testing.T) {
    f := newFixture(t)
    u := f.signup("ada@example.com")
    f.expect(f.do(http.MethodPost, "/api/save-cart", echo.Map{
        "items": []echo.Map{{"product_id": "can-33", "quantity": 576, "custom": []echo.Map{{"image": "logo.png"}}}},
    }), http.StatusOK)
    body := f.expect(f.do(http.MethodPost, "/checkout/shipping", echo.Map{"address_id": "a1", "shipping_cost_cents": 990}), http.StatusOK)
    if body["shipping_cost_cents"] != float64(0) || body["shipping_option"] != model.ShippingNone {
        t.Fatalf("shipping = %v", body)
    }
    if f.st.orders[u.ID].AddressID != "a1" {
        t.Fatal("address not stored")
    }
}
