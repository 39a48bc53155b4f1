package config

import (
    "os"
    "strconv"
    "time"
)

// CacheConfig defines settings for the user cache that sits in front of the
// users table during session resolution.  When Enabled is false or no Redis
// client is configured, every request reads the user from the database.
// TTL bounds how long a user mutation can go unseen if an invalidation is
// lost; Prefix namespaces the keys.
type CacheConfig struct {
    Enabled bool
    TTL     time.Duration
    Prefix  string
}

// LoadCacheConfig reads environment variables to build a CacheConfig.  Defaults
// are used when variables are not set.
func LoadCacheConfig() CacheConfig {
    cfg := CacheConfig{
        Enabled: getenv("USER_CACHE_ENABLED", "true") == "true",
        TTL:     parseDur(getenv("USER_CACHE_TTL", "30s")),
        Prefix:  getenv("USER_CACHE_PREFIX", "user"),
    }
    if cfg.TTL <= 0 {
        cfg.Enabled = false
    }
    return cfg
}

// Helper functions reused from redis.go
func getenv(key, def string) string {
    if v := os.Getenv(key); v != "" {
        return v
    }
    return def
}

func atoi(s string) int {
    i, _ := strconv.Atoi(s)
    return i
}

func parseDur(s string) time.Duration {
    d, err := time.ParseDuration(s)
    if err != nil {
        return time.Second
    }
    return d
}
