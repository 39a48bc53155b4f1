package config

import (
	"encoding/base64"
	"strings"
	"testing"
	"time"
)

func setRequired(t *testing.T) {
	t.Helper()
	t.Setenv("DB_USER", "shop")
	t.Setenv("DB_HOST", "127.0.0.1")
	t.Setenv("DB_NAME", "shop")
	t.Setenv("ENCRYPTION_KEY", base64.StdEncoding.EncodeToString(make([]byte, 32)))
}

func TestLoadDefaults(t *testing.T) {
	setRequired(t)
	t.Setenv("APP_ENV", "prod")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.SessionTTL != 30*24*time.Hour || cfg.SessionRenewWithin != 15*24*time.Hour {
		t.Fatalf("unexpected session lifetimes: %s / %s", cfg.SessionTTL, cfg.SessionRenewWithin)
	}
	if cfg.SessionCookieName != "auth_session" {
		t.Fatalf("cookie name = %q", cfg.SessionCookieName)
	}
	if !cfg.CookieSecure {
		t.Fatalf("cookies must be secure in prod")
	}
	if len(cfg.EncryptionKey) != 32 {
		t.Fatalf("encryption key length = %d", len(cfg.EncryptionKey))
	}
	if !strings.HasSuffix(cfg.Google.RedirectURL, "/auth/login/google/callback") {
		t.Fatalf("redirect url = %q", cfg.Google.RedirectURL)
	}
}

func TestLoadTrustedProxies(t *testing.T) {
	setRequired(t)
	t.Setenv("TRUSTED_PROXIES", " 10.0.0.0/8, ,192.0.2.10 ")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if len(cfg.TrustedProxies) != 2 || cfg.TrustedProxies[0] != "10.0.0.0/8" || cfg.TrustedProxies[1] != "192.0.2.10" {
		t.Fatalf("trusted proxies = %q", cfg.TrustedProxies)
	}

	t.Setenv("TRUSTED_PROXIES", "")
	if cfg, _ = Load(); cfg.TrustedProxies != nil {
		t.Fatalf("expected no trusted proxies, got %q", cfg.TrustedProxies)
	}
}

func TestLoadReportsEveryMissingVar(t *testing.T) {
	t.Setenv("DB_USER", "")
	t.Setenv("DB_HOST", "")
	t.Setenv("DB_NAME", "")
	t.Setenv("ENCRYPTION_KEY", "")

	_, err := Load()
	if err == nil {
		t.Fatalf("expected error")
	}
	for _, k := range []string{"DB_USER", "DB_HOST", "DB_NAME", "ENCRYPTION_KEY"} {
		if !strings.Contains(err.Error(), k) {
			t.Errorf("error %q does not mention %s", err, k)
		}
	}
}

func TestLoadRejectsShortKey(t *testing.T) {
	setRequired(t)
	t.Setenv("ENCRYPTION_KEY", base64.StdEncoding.EncodeToString([]byte("short")))
	if _, err := Load(); err == nil {
		t.Fatalf("expected error for short key")
	}
}

func TestDefaultPoliciesAreValid(t *testing.T) {
	cfg := RateLimitConfig{Backend: "memory", Policies: DefaultPolicies()}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("defaults invalid: %v", err)
	}
	login := cfg.Policies[LimitLoginUser]
	if len(login.Schedule) != 10 || login.Schedule[9] != 300*time.Second {
		t.Fatalf("login schedule = %v", login.Schedule)
	}
}

func TestOverlayReplacesOnlyGivenFields(t *testing.T) {
	cfg := RateLimitConfig{Backend: "memory", Policies: DefaultPolicies()}
	doc := []byte(`
backend: redis
policies:
  login_ip:
    capacity: 5
  totp:
    interval: 10m
`)
	if err := cfg.Overlay(doc); err != nil {
		t.Fatalf("Overlay: %v", err)
	}
	if cfg.Backend != "redis" {
		t.Fatalf("backend = %q", cfg.Backend)
	}
	if p := cfg.Policies[LimitLoginIP]; p.Capacity != 5 || p.Interval != time.Second || p.Kind != KindRefilling {
		t.Fatalf("login_ip = %+v", p)
	}
	if p := cfg.Policies[LimitTOTP]; p.Interval != 10*time.Minute || p.Capacity != 5 || !p.FailClosed {
		t.Fatalf("totp = %+v", p)
	}
}

func TestValidateRejectsBadPolicies(t *testing.T) {
	cases := map[string]Policy{
		"zero capacity":  {Kind: KindRefilling, Capacity: 0, Interval: time.Second},
		"zero interval":  {Kind: KindExpiring, Capacity: 1},
		"empty schedule": {Kind: KindThrottler},
		"unknown kind":   {Kind: "leaky", Capacity: 1, Interval: time.Second},
	}
	for name, p := range cases {
		cfg := RateLimitConfig{Backend: "memory", Policies: map[string]Policy{"x": p}}
		if err := cfg.Validate(); err == nil {
			t.Errorf("%s: expected error", name)
		}
	}
}
