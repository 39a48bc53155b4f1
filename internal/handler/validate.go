package handler

import (
    "net/mail"
    "strings"
    "unicode/utf8"
)

func normalizeEmail(email string) string {
    return strings.ToLower(strings.TrimSpace(email))
}

// validEmail accepts a bare addr-spec such as "a@b.example", rejecting
// display names and angle brackets.
func validEmail(email string) bool {
    if email == "" || len(email) > 255 {
        return false
    }
    addr, err := mail.ParseAddress(email)
    if err != nil || addr.Address != email {
        return false
    }
    at := strings.LastIndexByte(email, '@')
    return at > 0 && strings.Contains(email[at+1:], ".")
}

func validUsername(username string) bool {
    n := utf8.RuneCountInString(username)
    return n > 3 && n < 32
}

// between reports whether s has at least min and at most max runes.
func between(s string, min, max int) bool {
    n := utf8.RuneCountInString(s)
    return n >= min && n <= max
}
