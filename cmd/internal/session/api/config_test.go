package sessionapi

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestLoadConfigFromEnvDefaults(t *testing.T) {
	cfg := LoadConfigFromEnv()
	def := DefaultConfig()

	require.Equal(t, def.RefreshCookieName, cfg.RefreshCookieName)
	require.Equal(t, def.CSRFCookieName, cfg.CSRFCookieName)
	require.Equal(t, def.CSRFHeaderName, cfg.CSRFHeaderName)
	require.Equal(t, def.CookiePath, cfg.CookiePath)
	require.Equal(t, def.MaxBodyBytes, cfg.MaxBodyBytes)
	require.Equal(t, def.LoginIPMax, cfg.LoginIPMax)
	require.Equal(t, def.LockoutSevereDuration, cfg.LockoutSevereDuration)
	require.False(t, cfg.TrustProxy)
	require.False(t, cfg.CookieSecure)
}

func TestLoadConfigFromEnvOverrides(t *testing.T) {
	t.Setenv("KEYGATE_API_TRUST_PROXY", "true")
	t.Setenv("KEYGATE_API_COOKIE_SECURE", "true")
	t.Setenv("KEYGATE_API_MAX_BODY_BYTES", "4096")
	t.Setenv("KEYGATE_API_REFRESH_COOKIE_NAME", "kg_r")
	t.Setenv("KEYGATE_API_CSRF_COOKIE_NAME", "kg_c")
	t.Setenv("KEYGATE_API_CSRF_HEADER_NAME", "X-KG-CSRF")
	t.Setenv("KEYGATE_API_COOKIE_PATH", "/session")
	t.Setenv("KEYGATE_API_LOGIN_IP_MAX", "10")
	t.Setenv("KEYGATE_API_LOGIN_IP_WINDOW", "2m")
	t.Setenv("KEYGATE_API_LOCKOUT_SHORT_THRESHOLD", "3")
	t.Setenv("KEYGATE_API_LOCKOUT_SHORT_DURATION", "1m")

	cfg := LoadConfigFromEnv()
	require.True(t, cfg.TrustProxy)
	require.True(t, cfg.CookieSecure)
	require.Equal(t, int64(4096), cfg.MaxBodyBytes)
	require.Equal(t, "kg_r", cfg.RefreshCookieName)
	require.Equal(t, "kg_c", cfg.CSRFCookieName)
	require.Equal(t, "X-KG-CSRF", cfg.CSRFHeaderName)
	require.Equal(t, "/session", cfg.CookiePath)
	require.Equal(t, 10, cfg.LoginIPMax)
	require.Equal(t, 2*time.Minute, cfg.LoginIPWindow)
	require.Equal(t, 3, cfg.LockoutShortThreshold)
	require.Equal(t, time.Minute, cfg.LockoutShortDuration)
}

func TestLoadConfigFromEnvRejectsGarbage(t *testing.T) {
	t.Setenv("KEYGATE_API_MAX_BODY_BYTES", "-1")
	t.Setenv("KEYGATE_API_LOGIN_IP_WINDOW", "soon")
	t.Setenv("KEYGATE_API_TRUST_PROXY", "maybe")

	cfg := LoadConfigFromEnv()
	def := DefaultConfig()
	require.Equal(t, def.MaxBodyBytes, cfg.MaxBodyBytes)
	require.Equal(t, def.LoginIPWindow, cfg.LoginIPWindow)
	require.False(t, cfg.TrustProxy)
}
