package config

import (
    "fmt"
    "os"
    "strconv"
    "time"

    "gopkg.in/yaml.v3"
)

// Limiter kinds understood by the ratelimit package.
const (
    KindRefilling = "refilling"
    KindExpiring  = "expiring"
    KindThrottler = "throttler"
)

// Names of the limiters wired into the application.
const (
    LimitGlobal             = "global"
    LimitLoginIP            = "login_ip"
    LimitLoginUser          = "login_user"
    LimitSignupIP           = "signup_ip"
    LimitContactIP          = "contact_ip"
    LimitForgotPasswordIP   = "forgot_password_ip"
    LimitForgotPasswordUser = "forgot_password_user"
    LimitTOTP               = "totp"
    LimitTOTPSetup          = "totp_setup"
    LimitRecoveryCode       = "recovery_code"
    LimitVerificationEmail  = "verification_email"
    LimitEmailCode          = "email_code"
    LimitResetEmailCode     = "reset_email_code"
    LimitPasswordUpdate     = "password_update"
)

// Policy describes one limiter.  Interval is the refill interval for
// refilling buckets and the window length for expiring buckets; Schedule is
// only read for throttlers.
type Policy struct {
    Kind       string          `yaml:"kind"`
    Capacity   int             `yaml:"capacity"`
    Interval   time.Duration   `yaml:"interval"`
    Schedule   []time.Duration `yaml:"schedule"`
    FailClosed bool            `yaml:"fail_closed"`
}

type RateLimitConfig struct {
    Enabled       bool
    Backend       string // "memory" or "redis"
    Prefix        string
    SweepInterval time.Duration
    Debug         bool
    Policies      map[string]Policy
}

// rateLimitFile is the optional YAML overlay pointed to by RATE_LIMIT_FILE.
type rateLimitFile struct {
    Backend       string            `yaml:"backend"`
    Prefix        string            `yaml:"prefix"`
    SweepInterval time.Duration     `yaml:"sweep_interval"`
    Policies      map[string]Policy `yaml:"policies"`
}

// DefaultPolicies returns the limiter set used when nothing overrides it.
// Buckets guarding secrets fail closed when their backing store errors.
func DefaultPolicies() map[string]Policy {
    return map[string]Policy{
        LimitGlobal:             {Kind: KindRefilling, Capacity: 100, Interval: time.Second},
        LimitLoginIP:            {Kind: KindRefilling, Capacity: 20, Interval: time.Second},
        LimitLoginUser:          {Kind: KindThrottler, Schedule: secondsSchedule(0, 1, 2, 4, 8, 16, 30, 60, 180, 300), FailClosed: true},
        LimitSignupIP:           {Kind: KindRefilling, Capacity: 3, Interval: 10 * time.Second},
        LimitContactIP:          {Kind: KindRefilling, Capacity: 5, Interval: 12 * time.Second},
        LimitForgotPasswordIP:   {Kind: KindRefilling, Capacity: 3, Interval: 60 * time.Second},
        LimitForgotPasswordUser: {Kind: KindRefilling, Capacity: 3, Interval: 60 * time.Second},
        LimitTOTP:               {Kind: KindExpiring, Capacity: 5, Interval: 30 * time.Minute, FailClosed: true},
        LimitTOTPSetup:          {Kind: KindRefilling, Capacity: 3, Interval: 10 * time.Minute, FailClosed: true},
        LimitRecoveryCode:       {Kind: KindExpiring, Capacity: 3, Interval: time.Hour, FailClosed: true},
        LimitVerificationEmail:  {Kind: KindExpiring, Capacity: 3, Interval: 10 * time.Minute},
        LimitEmailCode:          {Kind: KindExpiring, Capacity: 5, Interval: 30 * time.Minute, FailClosed: true},
        LimitResetEmailCode:     {Kind: KindExpiring, Capacity: 5, Interval: 30 * time.Minute, FailClosed: true},
        LimitPasswordUpdate:     {Kind: KindExpiring, Capacity: 5, Interval: 30 * time.Minute, FailClosed: true},
    }
}

func LoadRateLimitConfig() (RateLimitConfig, error) {
    def := RateLimitConfig{
        Enabled:       envBool("RATE_LIMIT_ENABLED", true),
        Backend:       envStr("RATE_LIMIT_BACKEND", "memory"),
        Prefix:        envStr("RATE_LIMIT_PREFIX", "rl"),
        SweepInterval: envDur("RATE_LIMIT_SWEEP_INTERVAL", time.Minute),
        Debug:         envBool("RATE_LIMIT_DEBUG", false),
        Policies:      DefaultPolicies(),
    }
    if path := os.Getenv("RATE_LIMIT_FILE"); path != "" {
        raw, err := os.ReadFile(path)
        if err != nil {
            return RateLimitConfig{}, fmt.Errorf("read rate limit file: %w", err)
        }
        if err := def.Overlay(raw); err != nil {
            return RateLimitConfig{}, err
        }
    }
    if def.SweepInterval <= 0 { def.SweepInterval = time.Minute }
    if err := def.Validate(); err != nil {
        return RateLimitConfig{}, err
    }
    return def, nil
}

// Overlay merges a YAML document over the current settings.  Only fields
// present (non-zero) in the document replace existing values, so a file can
// tune a single policy without restating the rest.
func (c *RateLimitConfig) Overlay(raw []byte) error {
    var f rateLimitFile
    if err := yaml.Unmarshal(raw, &f); err != nil {
        return fmt.Errorf("parse rate limit file: %w", err)
    }
    if f.Backend != "" { c.Backend = f.Backend }
    if f.Prefix != "" { c.Prefix = f.Prefix }
    if f.SweepInterval > 0 { c.SweepInterval = f.SweepInterval }
    if c.Policies == nil { c.Policies = map[string]Policy{} }
    for name, p := range f.Policies {
        cur := c.Policies[name]
        if p.Kind != "" { cur.Kind = p.Kind }
        if p.Capacity > 0 { cur.Capacity = p.Capacity }
        if p.Interval > 0 { cur.Interval = p.Interval }
        if len(p.Schedule) > 0 { cur.Schedule = p.Schedule }
        if p.FailClosed { cur.FailClosed = true }
        c.Policies[name] = cur
    }
    return nil
}

// Validate rejects policies the limiters cannot honour.
func (c RateLimitConfig) Validate() error {
    if c.Backend != "memory" && c.Backend != "redis" {
        return fmt.Errorf("rate limit backend %q: want memory or redis", c.Backend)
    }
    for name, p := range c.Policies {
        switch p.Kind {
        case KindRefilling, KindExpiring:
            if p.Capacity < 1 {
                return fmt.Errorf("policy %s: capacity must be positive", name)
            }
            if p.Interval <= 0 {
                return fmt.Errorf("policy %s: interval must be positive", name)
            }
        case KindThrottler:
            if len(p.Schedule) == 0 {
                return fmt.Errorf("policy %s: schedule must not be empty", name)
            }
            for _, d := range p.Schedule {
                if d < 0 {
                    return fmt.Errorf("policy %s: negative schedule step %s", name, d)
                }
            }
        default:
            return fmt.Errorf("policy %s: unknown kind %q", name, p.Kind)
        }
    }
    return nil
}

func secondsSchedule(secs ...int) []time.Duration {
    out := make([]time.Duration, len(secs))
    for i, s := range secs {
        out[i] = time.Duration(s) * time.Second
    }
    return out
}

func envStr(k, d string) string { if v := os.Getenv(k); v != "" { return v }; return d }
func envBool(k string, d bool) bool {
    v := os.Getenv(k)
    if v == "" { return d }
    switch v {
    case "1","true","TRUE","True","yes","YES","on","ON": return true
    case "0","false","FALSE","False","no","NO","off","OFF": return false
    }
    return d
}
func envInt(k string, d int) int {
    v := os.Getenv(k); if v == "" { return d }
    if n, err := strconv.Atoi(v); err == nil { return n }
    return d
}
func envDur(k string, d time.Duration) time.Duration {
    v := os.Getenv(k); if v == "" { return d }
    if dur, err := time.ParseDuration(v); err == nil { return dur }
    return d
}
