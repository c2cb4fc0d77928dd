package sessionapi

import (
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestEvaluateWindowThrottle(t *testing.T) {
	t.Parallel()

	now := time.Date(2026, 8, 28, 12, 0, 0, 0, time.UTC)
	failures := []time.Time{
		now.Add(-1 * time.Minute),
		now.Add(-2 * time.Minute),
		now.Add(-6 * time.Minute), // outside the window
	}

	blocked, retry := evaluateWindowThrottle(now, failures, 2, 5*time.Minute)
	require.True(t, blocked)
	require.Equal(t, 3*time.Minute, retry)

	blocked, retry = evaluateWindowThrottle(now, failures, 3, 5*time.Minute)
	require.False(t, blocked)
	require.Zero(t, retry)

	// Disabled when max or window is zero.
	blocked, _ = evaluateWindowThrottle(now, failures, 0, 5*time.Minute)
	require.False(t, blocked)
	blocked, _ = evaluateWindowThrottle(now, failures, 2, 0)
	require.False(t, blocked)
}

func TestEvaluateProgressiveLockoutShortTier(t *testing.T) {
	t.Parallel()

	now := time.Date(2026, 8, 28, 12, 0, 0, 0, time.UTC)
	failures := []time.Time{
		now.Add(-30 * time.Second),
		now.Add(-1 * time.Minute),
		now.Add(-2 * time.Minute),
		now.Add(-3 * time.Minute),
		now.Add(-4 * time.Minute),
	}

	blocked, retry := evaluateProgressiveLockout(now, failures, []lockoutTier{
		{Threshold: 20, Duration: 2 * time.Hour},
		{Threshold: 10, Duration: 30 * time.Minute},
		{Threshold: 5, Duration: 5 * time.Minute},
	})
	require.True(t, blocked)
	// Lockout counts from the newest failure.
	require.Equal(t, 4*time.Minute+30*time.Second, retry)
}

func TestEvaluateProgressiveLockoutClearsAfterDuration(t *testing.T) {
	t.Parallel()

	now := time.Date(2026, 8, 28, 12, 0, 0, 0, time.UTC)
	failures := []time.Time{
		now.Add(-6 * time.Minute),
		now.Add(-7 * time.Minute),
		now.Add(-8 * time.Minute),
		now.Add(-9 * time.Minute),
		now.Add(-10 * time.Minute),
	}

	blocked, retry := evaluateProgressiveLockout(now, failures, []lockoutTier{
		{Threshold: 5, Duration: 5 * time.Minute},
	})
	require.False(t, blocked)
	require.Zero(t, retry)
}

func TestEvaluateProgressiveLockoutSevereTierWins(t *testing.T) {
	t.Parallel()

	now := time.Date(2026, 8, 28, 12, 0, 0, 0, time.UTC)
	failures := make([]time.Time, 0, 20)
	for i := 0; i < 20; i++ {
		failures = append(failures, now.Add(-time.Duration(i+1)*time.Minute))
	}

	blocked, retry := evaluateProgressiveLockout(now, failures, []lockoutTier{
		{Threshold: 20, Duration: 2 * time.Hour},
		{Threshold: 10, Duration: 30 * time.Minute},
		{Threshold: 5, Duration: 5 * time.Minute},
	})
	require.True(t, blocked)
	require.Equal(t, failures[0].Add(2*time.Hour).Sub(now), retry)
}

func TestLockoutTiersOrdering(t *testing.T) {
	t.Parallel()

	cfg := DefaultConfig()
	tiers := cfg.lockoutTiers()
	require.Len(t, tiers, 3)
	require.Equal(t, cfg.LockoutSevereThreshold, tiers[0].Threshold)
	require.Equal(t, cfg.LockoutShortThreshold, tiers[2].Threshold)

	cfg.LockoutLongThreshold = 0
	require.Len(t, cfg.lockoutTiers(), 2)
}

func TestWriteRateLimited(t *testing.T) {
	t.Parallel()

	rr := httptest.NewRecorder()
	writeRateLimited(rr, 90*time.Second)
	require.Equal(t, 429, rr.Code)
	require.Equal(t, "90", rr.Header().Get("Retry-After"))
	require.Contains(t, rr.Body.String(), "rate_limited")

	// Sub-second retry hints round up so clients do not hammer immediately.
	rr = httptest.NewRecorder()
	writeRateLimited(rr, 200*time.Millisecond)
	require.Equal(t, "1", rr.Header().Get("Retry-After"))
}
