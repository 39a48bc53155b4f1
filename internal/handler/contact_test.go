package handler

import (
    "net/http"
    "strings"
    "testing"

    "github.com/labstack/echo/v4"

    "github.com/iliyamo/storefront/internal/mail"
)

func TestContact(t *testing.T) {
    f := newFixture(t)
    body := f.expect(f.do(http.MethodPost, "/contact", echo.Map{
        "name": "Ada", "email": "Ada@Example.com", "subject": "Bulk order", "message": "Do you ship to Belgium?",
    }), http.StatusCreated)
    if body["id"] == "" || len(f.st.contacts) != 1 {
        t.Fatalf("contact not stored: %v", body)
    }
    if f.st.contacts[0].Email != "ada@example.com" {
        t.Fatalf("email = %s", f.st.contacts[0].Email)
    }
    msg, ok := f.mails.last(mail.KindContactNotice, "shop@example.com")
    if !ok || msg.ReplyTo != "ada@example.com" || !strings.Contains(msg.Body, "Belgium") {
        t.Fatalf("notice = %+v", msg)
    }
}

func TestContactValidation(t *testing.T) {
    f := newFixture(t)
    valid := echo.Map{"name": "Ada", "email": "ada@example.com", "subject": "Bulk order", "message": "Do you ship to Belgium?"}
    for field, bad := range map[string]string{
        "name":    "A",
        "email":   "ada",
        "subject": "Hi",
        "message": "short",
    } {
        req := echo.Map{}
        for k, v := range valid {
            req[k] = v
        }
        req[field] = bad
        f.expect(f.do(http.MethodPost, "/contact", req), http.StatusBadRequest)
    }
    if len(f.st.contacts) != 0 {
        t.Fatal("invalid messages must not be stored")
    }
}

func TestContactIsRateLimited(t *testing.T) {
    f := newFixture(t)
    req := echo.Map{"name": "Ada", "email": "ada@example.com", "subject": "Bulk order", "message": "Do you ship to Belgium?"}
    for i := 0; i < 5; i++ {
        f.expect(f.do(http.MethodPost, "/contact", req), http.StatusCreated)
    }
    f.expect(f.do(http.MethodPost, "/contact", req), http.StatusTooManyRequests)
}
