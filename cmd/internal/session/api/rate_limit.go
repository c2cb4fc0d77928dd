package sessionapi

import (
	"context"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// lockoutTier is one step of the progressive login lockout. Tiers are
// evaluated severe-first; the first tier whose threshold is met wins.
type lockoutTier struct {
	Threshold int
	Duration  time.Duration
}

// evaluateWindowThrottle blocks when at least max failures happened within
// the window. The retry hint is the time until the earliest in-window
// failure ages out.
func evaluateWindowThrottle(now time.Time, failures []time.Time, max int, window time.Duration) (bool, time.Duration) {
	if max <= 0 || window <= 0 {
		return false, 0
	}

	cut := now.Add(-window)
	count := 0
	earliest := time.Time{}
	for _, ts := range failures {
		if ts.Before(cut) {
			continue
		}
		count++
		if earliest.IsZero() || ts.Before(earliest) {
			earliest = ts
		}
	}
	if count < max {
		return false, 0
	}
	return true, earliest.Add(window).Sub(now)
}

// evaluateProgressiveLockout blocks when a tier's failure count within its
// duration meets its threshold. The retry hint counts from the newest
// failure, so the lockout extends while attempts keep coming.
func evaluateProgressiveLockout(now time.Time, failures []time.Time, tiers []lockoutTier) (bool, time.Duration) {
	for _, tier := range tiers {
		if tier.Threshold <= 0 || tier.Duration <= 0 {
			continue
		}

		cut := now.Add(-tier.Duration)
		count := 0
		newest := time.Time{}
		for _, ts := range failures {
			if ts.Before(cut) {
				continue
			}
			count++
			if ts.After(newest) {
				newest = ts
			}
		}
		if count >= tier.Threshold {
			return true, newest.Add(tier.Duration).Sub(now)
		}
	}
	return false, 0
}

func (h *Handler) checkLoginIPThrottle(ctx context.Context, now time.Time, ip net.IP) (bool, time.Duration, error) {
	if ip == nil || h.cfg.LoginIPMax <= 0 || h.pool == nil {
		return false, 0, nil
	}
	failures, err := loginFailuresByIP(ctx, h.pool, ip, now.Add(-h.cfg.LoginIPWindow))
	if err != nil {
		return false, 0, err
	}
	blocked, retry := evaluateWindowThrottle(now, failures, h.cfg.LoginIPMax, h.cfg.LoginIPWindow)
	return blocked, retry, nil
}

func (h *Handler) checkLoginUserThrottle(ctx context.Context, now time.Time, username string) (bool, time.Duration, error) {
	tiers := h.cfg.lockoutTiers()
	if strings.TrimSpace(username) == "" || len(tiers) == 0 || h.pool == nil {
		return false, 0, nil
	}

	// Fetch back to the widest tier.
	widest := tiers[0].Duration
	failures, err := loginFailuresByUsername(ctx, h.pool, username, now.Add(-widest))
	if err != nil {
		return false, 0, err
	}
	blocked, retry := evaluateProgressiveLockout(now, failures, tiers)
	return blocked, retry, nil
}

func writeRateLimited(w http.ResponseWriter, retryAfter time.Duration) {
	if retryAfter > 0 {
		secs := int64(retryAfter.Seconds())
		if secs < 1 {
			secs = 1
		}
		w.Header().Set("Retry-After", strconv.FormatInt(secs, 10))
	}
	writeError(w, http.StatusTooManyRequests, "rate_limited", "too many attempts")
}

// ---- audit queries ----

func loginFailuresByIP(ctx context.Context, pool *pgxpool.Pool, ip net.IP, since time.Time) ([]time.Time, error) {
	rows, err := pool.Query(ctx, `
		SELECT created_at
		FROM keygate.audit_log
		WHERE action = 'session.login.failed'
		  AND ip = $1
		  AND created_at >= $2
	`, ip.String(), since)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanTimestamps(rows)
}

func loginFailuresByUsername(ctx context.Context, pool *pgxpool.Pool, username string, since time.Time) ([]time.Time, error) {
	rows, err := pool.Query(ctx, `
		SELECT created_at
		FROM keygate.audit_log
		WHERE action = 'session.login.failed'
		  AND meta->>'username' = $1
		  AND created_at >= $2
	`, username, since)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanTimestamps(rows)
}

func scanTimestamps(rows pgx.Rows) ([]time.Time, error) {
	var out []time.Time
	for rows.Next() {
		var ts time.Time
		if err := rows.Scan(&ts); err != nil {
			return nil, err
		}
		out = append(out, ts)
	}
	return out, rows.Err()
}
