package handler

import (
    "net/http"
    "strings"

    "github.com/labstack/echo/v4"
    "github.com/labstack/gommon/log"

    "github.com/iliyamo/storefront/internal/mail"
    "github.com/iliyamo/storefront/internal/ratelimit"
)

// ContactHandler stores contact form messages and notifies the shop.
type ContactHandler struct {
    Contacts Contacts
    Limit    ratelimit.Bucket
    Mailer   mail.Mailer
    Inbox    string
}

type contactReq struct {
    Name    string `json:"name"`
    Email   string `json:"email"`
    Subject string `json:"subject"`
    Message string `json:"message"`
}

// Create accepts a contact form submission.
func (h *ContactHandler) Create(c echo.Context) error {
    var req contactReq
    if err := c.Bind(&req); err != nil {
        return fail(c, http.StatusBadRequest, "invalid body")
    }
    ctx, cancel := reqCtx(c)
    defer cancel()

    ip := clientIP(c)
    if !h.Limit.Check(ctx, ip, 1) {
        return tooMany(c)
    }
    req.Name = strings.TrimSpace(req.Name)
    req.Email = normalizeEmail(req.Email)
    req.Subject = strings.TrimSpace(req.Subject)
    req.Message = strings.TrimSpace(req.Message)
    switch {
    case !between(req.Name, 2, 100):
        return fail(c, http.StatusBadRequest, "name must be 2 to 100 characters")
    case !validEmail(req.Email):
        return fail(c, http.StatusBadRequest, "invalid email")
    case !between(req.Subject, 5, 200):
        return fail(c, http.StatusBadRequest, "subject must be 5 to 200 characters")
    case !between(req.Message, 10, 5000):
        return fail(c, http.StatusBadRequest, "message must be 10 to 5000 characters")
    }
    if !h.Limit.Consume(ctx, ip, 1) {
        return tooMany(c)
    }

    contact, err := h.Contacts.Create(ctx, req.Name, req.Email, req.Subject, req.Message)
    if err != nil {
        log.Errorf("[contact] store: %v", err)
        return fail(c, http.StatusInternalServerError, "could not send message")
    }
    if h.Inbox != "" && h.Mailer != nil {
        msg := mail.Message{
            Kind:    mail.KindContactNotice,
            To:      h.Inbox,
            Name:    contact.Name,
            ReplyTo: contact.Email,
            Body:    contact.Subject + "\n\n" + contact.Message,
        }
        if err := h.Mailer.Send(ctx, msg); err != nil {
            log.Errorf("[contact] notify: %v", err)
        }
    }
    return c.JSON(http.StatusCreated, echo.Map{"id": contact.ID})
}
