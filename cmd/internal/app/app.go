// Package app wires the keygate server runtime: config, logging, database,
// HTTP routes, and the session lifecycle services.
package app

import (
	"context"
	"errors"
	"net/http"
	"time"

	"keygate/cmd/internal/session"
	sessionapi "keygate/cmd/internal/session/api"

	"github.com/jackc/pgx/v5/pgxpool"
)

// App is the keygate server runtime.
type App struct {
	cfg Config
	log Logger

	dbPool    *pgxpool.Pool
	dbEnabled bool

	sessions *session.Service
	sweeper  *session.Sweeper
	auth     *sessionapi.Handler
}

// New constructs a fully wired App instance from config and logger.
//
// With KEYGATE_DATABASE_URL unset the app runs in dev mode: in-memory
// session store, static permissions, and a verifier that denies all logins
// unless KEYGATE_DEV_USER/KEYGATE_DEV_PASSWORD are set.
func New(cfg Config, log Logger) (*App, error) {
	if log == nil {
		log = NewLogger(cfg.LogLevel, cfg.LogFormat)
	}

	if err := ValidateSecurityConfig(cfg); err != nil {
		return nil, err
	}

	sessCfg, err := session.LoadConfigFromEnv()
	if err != nil {
		return nil, err
	}

	var (
		pool      *pgxpool.Pool
		dbEnabled bool
		store     session.Store
		perms     session.PermissionSource
		verifier  sessionapi.CredentialVerifier
	)

	if cfg.DatabaseURL != "" {
		pool, err = NewDBPool(context.Background(), cfg)
		if err != nil {
			return nil, err
		}
		if cfg.MigrateOnStart {
			if err := Migrate(context.Background(), log, cfg.DatabaseURL); err != nil {
				pool.Close()
				return nil, err
			}
		}

		dbEnabled = true
		store = session.NewPostgresStore(pool)

		perms, err = NewPostgresPermissionSource(pool)
		if err != nil {
			pool.Close()
			return nil, err
		}
		verifier, err = NewPostgresCredentialVerifier(pool)
		if err != nil {
			pool.Close()
			return nil, err
		}

		log.Info("db.enabled.postgres_store")
	} else {
		store = session.NewInMemoryStore()
		perms = session.StaticPermissions{}
		verifier = devVerifier(log)

		log.Info("db.disabled.inmemory_store")
	}

	issuer, err := session.NewIssuer(sessCfg, perms)
	if err != nil {
		if pool != nil {
			pool.Close()
		}
		return nil, err
	}
	sessions := session.NewService(sessCfg, log, store, issuer)

	apiCfg := sessionapi.LoadConfigFromEnv()
	auth, err := sessionapi.NewHandler(log, apiCfg, pool, sessions, verifier)
	if err != nil {
		if pool != nil {
			pool.Close()
		}
		return nil, err
	}

	a := &App{
		cfg:       cfg,
		log:       log,
		dbPool:    pool,
		dbEnabled: dbEnabled,
		sessions:  sessions,
		auth:      auth,
	}
	if cfg.SweeperEnabled {
		a.sweeper = session.NewSweeper(sessCfg, log, store)
	}
	return a, nil
}

// Sessions exposes the session service for embedding callers.
func (a *App) Sessions() *session.Service {
	if a == nil {
		return nil
	}
	return a.sessions
}

// Run starts the HTTP server and blocks until context cancellation or fatal
// server error.
func (a *App) Run(ctx context.Context) error {
	mux := http.NewServeMux()
	registerHTTP(mux, a.log, a.cfg, a.dbPool, a.dbEnabled, a.auth)

	srv := &http.Server{
		Addr:              a.cfg.HTTPAddr,
		Handler:           WithRequestLogging(mux, a.log),
		ReadHeaderTimeout: nonZeroDuration(a.cfg.ReadHeaderTimeout, 5*time.Second),
		ReadTimeout:       nonZeroDuration(a.cfg.ReadTimeout, 15*time.Second),
		WriteTimeout:      nonZeroDuration(a.cfg.WriteTimeout, 15*time.Second),
		IdleTimeout:       nonZeroDuration(a.cfg.IdleTimeout, 60*time.Second),
		MaxHeaderBytes:    nonZeroInt(a.cfg.MaxHeaderBytes, 1<<20),
	}

	a.log.Info("server.start", "addr", a.cfg.HTTPAddr, "db_enabled", a.dbEnabled)

	sweepCtx, stopSweeper := context.WithCancel(ctx)
	defer stopSweeper()
	if a.sweeper != nil {
		go a.sweeper.Run(sweepCtx)
	}

	errCh := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		a.log.Info("server.stop", "reason", "context_done")
	case err := <-errCh:
		a.log.Error("server.fail", "err", err)
		return err
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		a.log.Error("server.shutdown.fail", "err", err)
		return err
	}

	if a.dbPool != nil {
		a.dbPool.Close()
	}

	a.log.Info("server.stopped")
	return nil
}

func nonZeroDuration(v, def time.Duration) time.Duration {
	if v <= 0 {
		return def
	}
	return v
}

func nonZeroInt(v, def int) int {
	if v <= 0 {
		return def
	}
	return v
}
