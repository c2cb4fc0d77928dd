package session

import (
	"os"
	"strconv"
	"time"
)

// Config defines all runtime configuration for the session subsystem.
//
// It controls access-token TTL, refresh-secret lifetime and entropy, clock
// skew tolerance, the JWT signing key, and sweeper cadence.
//
// This struct is intentionally explicit and environment-driven so that
// production deployments can tune security parameters without code changes.
type Config struct {
	// Issuer is the value set in the "iss" claim of access tokens.
	Issuer string

	// AccessTokenTTL defines the lifetime of JWT access tokens. It bounds the
	// blast radius of a revoked session even where access-token revocation is
	// not separately enforced, so it must stay short.
	AccessTokenTTL time.Duration

	// RefreshTTL is the absolute lifetime of a session. Rotation does not
	// extend it; each rotated session gets a fresh window.
	RefreshTTL time.Duration

	// ClockSkew defines the allowed time skew during token validation.
	ClockSkew time.Duration

	// RefreshSecretBytes defines the number of random bytes used to generate
	// opaque refresh secrets. Minimum 32 (256 bits of entropy).
	RefreshSecretBytes int

	// JWTSecret is the HS256 signing key for access tokens.
	JWTSecret string

	// SweepInterval is how often the sweeper reaps dead sessions.
	SweepInterval time.Duration

	// Retention is how long dead sessions remain queryable after expiry or
	// revocation, so reuse-detection incidents can be inspected after the fact.
	Retention time.Duration
}

// DefaultConfig returns a secure default configuration suitable for development.
//
// Production environments should override values via environment variables.
func DefaultConfig() Config {
	return Config{
		Issuer:             "keygate",
		AccessTokenTTL:     15 * time.Minute,
		RefreshTTL:         7 * 24 * time.Hour,
		ClockSkew:          30 * time.Second,
		RefreshSecretBytes: 32,
		SweepInterval:      1 * time.Hour,
		Retention:          14 * 24 * time.Hour,
	}
}

// LoadConfigFromEnv loads session configuration from environment variables.
//
// Required:
//   - KEYGATE_JWT_SECRET (>= 32 bytes)
//
// Optional (durations must be valid Go duration strings):
//   - KEYGATE_AUTH_ISSUER
//   - KEYGATE_AUTH_ACCESS_TTL
//   - KEYGATE_AUTH_REFRESH_TTL
//   - KEYGATE_AUTH_CLOCK_SKEW
//   - KEYGATE_AUTH_REFRESH_SECRET_BYTES
//   - KEYGATE_SWEEP_INTERVAL
//   - KEYGATE_SWEEP_RETENTION
//
// Returns ErrConfig if configuration is invalid.
func LoadConfigFromEnv() (Config, error) {
	cfg := DefaultConfig()

	if v := os.Getenv("KEYGATE_AUTH_ISSUER"); v != "" {
		cfg.Issuer = v
	}

	if v := os.Getenv("KEYGATE_AUTH_ACCESS_TTL"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil || d <= 0 || d > time.Hour {
			return Config{}, ErrConfig
		}
		cfg.AccessTokenTTL = d
	}

	if v := os.Getenv("KEYGATE_AUTH_REFRESH_TTL"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil || d <= 0 {
			return Config{}, ErrConfig
		}
		cfg.RefreshTTL = d
	}

	if v := os.Getenv("KEYGATE_AUTH_CLOCK_SKEW"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil || d < 0 {
			return Config{}, ErrConfig
		}
		cfg.ClockSkew = d
	}

	if v := os.Getenv("KEYGATE_AUTH_REFRESH_SECRET_BYTES"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 32 || n > 64 {
			return Config{}, ErrConfig
		}
		cfg.RefreshSecretBytes = n
	}

	if v := os.Getenv("KEYGATE_SWEEP_INTERVAL"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil || d <= 0 {
			return Config{}, ErrConfig
		}
		cfg.SweepInterval = d
	}

	if v := os.Getenv("KEYGATE_SWEEP_RETENTION"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil || d <= 0 {
			return Config{}, ErrConfig
		}
		cfg.Retention = d
	}

	cfg.JWTSecret = os.Getenv("KEYGATE_JWT_SECRET")
	if len(cfg.JWTSecret) < 32 {
		return Config{}, ErrConfig
	}

	// Invariant: access tokens must not outlive the session itself.
	if cfg.AccessTokenTTL >= cfg.RefreshTTL {
		return Config{}, ErrConfig
	}

	return cfg, nil
}
