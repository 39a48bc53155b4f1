package middleware

import (
    "fmt"
    "net"
    "strings"

    "github.com/labstack/echo/v4"
)

// IPExtractor decides what c.RealIP() returns, and so what every per-IP
// limiter is keyed on.  Without trusted proxies the peer address is used
// and forwarding headers are ignored.  With them, X-Forwarded-For is
// walked from the right and the first hop outside the trusted ranges wins.
func IPExtractor(trusted []string) (echo.IPExtractor, error) {
    if len(trusted) == 0 {
        return echo.ExtractIPDirect(), nil
    }
    opts := []echo.TrustOption{
        echo.TrustLoopback(false),
        echo.TrustLinkLocal(false),
        echo.TrustPrivateNet(false),
    }
    for _, t := range trusted {
        n, err := parseTrusted(t)
        if err != nil {
            return nil, err
        }
        opts = append(opts, echo.TrustIPRange(n))
    }
    return echo.ExtractIPFromXFFHeader(opts...), nil
}

// parseTrusted accepts a CIDR or a bare address.
func parseTrusted(s string) (*net.IPNet, error) {
    if strings.Contains(s, "/") {
        _, n, err := net.ParseCIDR(s)
        if err != nil {
            return nil, fmt.Errorf("trusted proxy %q: %w", s, err)
        }
        return n, nil
    }
    ip := net.ParseIP(s)
    if ip == nil {
        return nil, fmt.Errorf("trusted proxy %q: not an IP or CIDR", s)
    }
    bits := 128
    if v4 := ip.To4(); v4 != nil {
        ip, bits = v4, 32
    }
    return &net.IPNet{IP: ip, Mask: net.CIDRMask(bits, bits)}, nil
}
