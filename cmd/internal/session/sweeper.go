package session

import (
	"context"
	"log/slog"
	"time"
)

// Sweeper hard-deletes dead sessions once they are past the retention window.
// Revoked rows stay around for Retention so reuse detection and audit keep
// their evidence; after that the rows have no value.
type Sweeper struct {
	cfg   Config
	log   *slog.Logger
	store Store
}

// NewSweeper constructs a Sweeper.
func NewSweeper(cfg Config, log *slog.Logger, store Store) *Sweeper {
	if log == nil {
		log = slog.Default()
	}
	return &Sweeper{cfg: cfg, log: log, store: store}
}

// Run sweeps on a ticker until ctx is canceled. Errors are logged and the
// loop continues; a failed sweep is retried on the next tick.
func (w *Sweeper) Run(ctx context.Context) {
	ticker := time.NewTicker(w.cfg.SweepInterval)
	defer ticker.Stop()

	w.log.Info("session.sweeper.start",
		"interval", w.cfg.SweepInterval.String(),
		"retention", w.cfg.Retention.String(),
	)

	for {
		select {
		case <-ctx.Done():
			w.log.Info("session.sweeper.stop")
			return
		case <-ticker.C:
			w.SweepOnce(ctx, time.Now().UTC())
		}
	}
}

// SweepOnce deletes dead sessions whose terminal moment (revocation or
// expiry) is older than the retention cutoff. Live sessions are never
// touched.
func (w *Sweeper) SweepOnce(ctx context.Context, now time.Time) {
	cutoff := now.Add(-w.cfg.Retention)

	n, err := w.store.DeleteExpiredBefore(ctx, cutoff)
	if err != nil {
		w.log.Error("session.sweeper.fail", "err", err)
		return
	}
	if n > 0 {
		sessionsSweptTotal.Add(float64(n))
		w.log.Info("session.sweeper.swept", "deleted", n, "cutoff", cutoff.Format(time.RFC3339))
	}
}
