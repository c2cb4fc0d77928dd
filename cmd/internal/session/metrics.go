package session

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Rotation outcomes use a bounded label set; free-form errors map to "error".
var (
	rotationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "keygate_rotations_total",
		Help: "Refresh rotation attempts by outcome.",
	}, []string{"outcome"})

	reuseDetectedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "keygate_reuse_detected_total",
		Help: "Refresh secret reuse incidents (strong theft indicator).",
	})

	sessionsSweptTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "keygate_sessions_swept_total",
		Help: "Dead sessions hard-deleted by the expiry sweeper.",
	})

	refreshWaiters = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "keygate_refresh_waiters",
		Help: "Callers currently waiting on a coalesced refresh.",
	})
)

const (
	outcomeAccepted = "accepted"
	outcomeExpired  = "expired"
	outcomeRevoked  = "revoked"
	outcomeReuse    = "reuse"
	outcomeNotFound = "not_found"
	outcomeConflict = "conflict"
	outcomeError    = "error"
)
