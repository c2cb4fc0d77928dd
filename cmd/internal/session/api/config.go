package sessionapi

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// Config controls HTTP auth endpoint behavior and cookie security defaults.
type Config struct {
	TrustProxy   bool
	MaxBodyBytes int64

	RefreshCookieName string
	CSRFCookieName    string
	CSRFHeaderName    string
	CookiePath        string

	// CookieSecure forces the Secure attribute even when the request itself
	// arrived over plain HTTP (typical behind a TLS-terminating proxy).
	CookieSecure bool

	// Login throttling, fed by the audit log. Zero values disable a tier.
	LoginIPMax    int
	LoginIPWindow time.Duration

	LockoutShortThreshold  int
	LockoutShortDuration   time.Duration
	LockoutLongThreshold   int
	LockoutLongDuration    time.Duration
	LockoutSevereThreshold int
	LockoutSevereDuration  time.Duration
}

// lockoutTiers returns the configured tiers ordered severe-first.
func (c Config) lockoutTiers() []lockoutTier {
	var tiers []lockoutTier
	if c.LockoutSevereThreshold > 0 && c.LockoutSevereDuration > 0 {
		tiers = append(tiers, lockoutTier{Threshold: c.LockoutSevereThreshold, Duration: c.LockoutSevereDuration})
	}
	if c.LockoutLongThreshold > 0 && c.LockoutLongDuration > 0 {
		tiers = append(tiers, lockoutTier{Threshold: c.LockoutLongThreshold, Duration: c.LockoutLongDuration})
	}
	if c.LockoutShortThreshold > 0 && c.LockoutShortDuration > 0 {
		tiers = append(tiers, lockoutTier{Threshold: c.LockoutShortThreshold, Duration: c.LockoutShortDuration})
	}
	return tiers
}

// DefaultConfig returns the production defaults.
func DefaultConfig() Config {
	return Config{
		TrustProxy:        false,
		MaxBodyBytes:      1 << 20, // 1 MiB
		RefreshCookieName: "keygate_refresh",
		CSRFCookieName:    "keygate_csrf",
		CSRFHeaderName:    "X-CSRF-Token",
		CookiePath:        "/auth",
		CookieSecure:      false,

		LoginIPMax:    30,
		LoginIPWindow: 5 * time.Minute,

		LockoutShortThreshold:  5,
		LockoutShortDuration:   5 * time.Minute,
		LockoutLongThreshold:   10,
		LockoutLongDuration:    30 * time.Minute,
		LockoutSevereThreshold: 20,
		LockoutSevereDuration:  2 * time.Hour,
	}
}

// LoadConfigFromEnv loads API config from environment variables with safe
// defaults.
func LoadConfigFromEnv() Config {
	cfg := DefaultConfig()

	cfg.TrustProxy = envBool("KEYGATE_API_TRUST_PROXY", cfg.TrustProxy)
	cfg.MaxBodyBytes = envInt64("KEYGATE_API_MAX_BODY_BYTES", cfg.MaxBodyBytes)
	cfg.CookieSecure = envBool("KEYGATE_API_COOKIE_SECURE", cfg.CookieSecure)

	cfg.LoginIPMax = envInt("KEYGATE_API_LOGIN_IP_MAX", cfg.LoginIPMax)
	cfg.LoginIPWindow = envDuration("KEYGATE_API_LOGIN_IP_WINDOW", cfg.LoginIPWindow)
	cfg.LockoutShortThreshold = envInt("KEYGATE_API_LOCKOUT_SHORT_THRESHOLD", cfg.LockoutShortThreshold)
	cfg.LockoutShortDuration = envDuration("KEYGATE_API_LOCKOUT_SHORT_DURATION", cfg.LockoutShortDuration)
	cfg.LockoutLongThreshold = envInt("KEYGATE_API_LOCKOUT_LONG_THRESHOLD", cfg.LockoutLongThreshold)
	cfg.LockoutLongDuration = envDuration("KEYGATE_API_LOCKOUT_LONG_DURATION", cfg.LockoutLongDuration)
	cfg.LockoutSevereThreshold = envInt("KEYGATE_API_LOCKOUT_SEVERE_THRESHOLD", cfg.LockoutSevereThreshold)
	cfg.LockoutSevereDuration = envDuration("KEYGATE_API_LOCKOUT_SEVERE_DURATION", cfg.LockoutSevereDuration)

	if v := strings.TrimSpace(os.Getenv("KEYGATE_API_REFRESH_COOKIE_NAME")); v != "" {
		cfg.RefreshCookieName = v
	}
	if v := strings.TrimSpace(os.Getenv("KEYGATE_API_CSRF_COOKIE_NAME")); v != "" {
		cfg.CSRFCookieName = v
	}
	if v := strings.TrimSpace(os.Getenv("KEYGATE_API_CSRF_HEADER_NAME")); v != "" {
		cfg.CSRFHeaderName = v
	}
	if v := strings.TrimSpace(os.Getenv("KEYGATE_API_COOKIE_PATH")); v != "" {
		cfg.CookiePath = v
	}

	if cfg.MaxBodyBytes <= 0 {
		cfg.MaxBodyBytes = 1 << 20
	}

	return cfg
}

func envBool(key string, def bool) bool {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return def
	}
	return b
}

func envInt64(key string, def int64) int64 {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil || n <= 0 {
		return def
	}
	return n
}

func envInt(key string, def int) int {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 0 {
		return def
	}
	return n
}

func envDuration(key string, def time.Duration) time.Duration {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil || d <= 0 {
		return def
	}
	return d
}
