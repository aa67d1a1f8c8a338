// Package app wires the Beacon server runtime: config, logging, storage,
// auth, the realtime registry, and the HTTP surface.
package app

import (
	"context"
	"errors"
	"net/http"
	"time"

	"beacon/cmd/identity"
	"beacon/cmd/internal/auth"
	"beacon/cmd/internal/auth/revocation"
	"beacon/cmd/internal/auth/session"
	"beacon/cmd/internal/auth/token"
	"beacon/cmd/internal/history"
	"beacon/cmd/internal/notify"
	"beacon/cmd/internal/realtime"

	"github.com/jackc/pgx/v5/pgxpool"
)

// Store is a small app-level lifecycle abstraction.
// It exists to allow DB-backed resources to be closed gracefully.
type Store interface {
	Close(ctx context.Context) error
}

// nopStore is used for in-memory store mode.
type nopStore struct{}

func (nopStore) Close(_ context.Context) error { return nil }

// App is the Beacon server runtime.
type App struct {
	cfg Config
	log Logger

	store Store

	dbPool    *pgxpool.Pool
	dbEnabled bool

	revoked  *revocation.Store
	presence *realtime.Presence
	conns    *realtime.ConnManager
	registry *realtime.Registry
	auth     *auth.Service
	ws       *realtime.WSGateway
}

// New constructs a fully wired App instance from config and logger.
func New(cfg Config, log Logger) (*App, error) {
	if log == nil {
		log = NewLogger(cfg.LogLevel)
	}

	if err := ValidateSecurityConfig(cfg); err != nil {
		return nil, err
	}

	st, dbPool, dbEnabled, users, hist, err := newStore(context.Background(), cfg, log)
	if err != nil {
		return nil, err
	}

	sink := notify.NewSlogNotifier(log)

	tokenCfg, err := token.LoadConfigFromEnv()
	if err != nil {
		if dbPool != nil {
			dbPool.Close()
		}
		return nil, err
	}

	revoked := revocation.NewStore(log)

	tokens, err := token.NewService(tokenCfg, revoked, sink)
	if err != nil {
		if dbPool != nil {
			dbPool.Close()
		}
		return nil, err
	}

	// External services verify Beacon-issued tokens against this key.
	log.Info("auth.tokens.ready", "public_key", tokens.PublicKeyHex())

	sessions := session.NewManager(log, tokens, revoked)

	authSvc, err := auth.NewService(log, users, sessions, tokens, sink)
	if err != nil {
		if dbPool != nil {
			dbPool.Close()
		}
		return nil, err
	}

	presence := realtime.NewPresence(log)
	conns := realtime.NewConnManager(log, sink)
	registry := realtime.NewRegistry(log, hist, sink)
	ws := realtime.NewWSGateway(log, authSvc, registry, conns, presence, hist)

	return &App{
		cfg:       cfg,
		log:       log,
		store:     st,
		dbPool:    dbPool,
		dbEnabled: dbEnabled,
		revoked:   revoked,
		presence:  presence,
		conns:     conns,
		registry:  registry,
		auth:      authSvc,
		ws:        ws,
	}, nil
}

// Auth exposes the auth service (used by tests and future HTTP handlers).
func (a *App) Auth() *auth.Service { return a.auth }

// Run starts the background sweepers and the HTTP server, then blocks until
// context cancellation or fatal server error.
func (a *App) Run(ctx context.Context) error {
	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	go a.revoked.Run(runCtx)
	go a.presence.Run(runCtx, a.conns.CloseConnection)

	mux := http.NewServeMux()
	registerHTTP(mux, a.log, a.cfg, a.dbPool, a.dbEnabled, a.ws)

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

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		a.log.Error("server.shutdown.fail", "err", err)
		return err
	}

	a.registry.Shutdown()

	if err := a.store.Close(shutdownCtx); err != nil {
		a.log.Error("store.close.fail", "err", err)
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

// newStore decides between Postgres-backed persistence and in-memory dev stores.
func newStore(ctx context.Context, cfg Config, log Logger) (Store, *pgxpool.Pool, bool, identity.Store, history.Store, error) {
	if cfg.DatabaseURL == "" {
		log.Info("db.disabled.inmemory_store")
		return nopStore{}, nil, false, identity.NewMemoryStore(), history.NewMemoryStore(), nil
	}

	pool, err := NewDBPool(ctx, cfg)
	if err != nil {
		return nil, nil, false, nil, nil, err
	}

	log.Info("db.enabled.postgres_store", "schema", cfg.DBSchema)

	users, err := identity.NewPostgresStore(pool, identity.WithSchema(cfg.DBSchema))
	if err != nil {
		pool.Close()
		return nil, nil, false, nil, nil, err
	}
	hist := history.NewPostgresStore(pool, history.WithPostgresSchema(cfg.DBSchema))

	return dbStore{pool: pool}, pool, true, users, hist, nil
}

type dbStore struct {
	pool *pgxpool.Pool
}

func (s dbStore) Close(_ context.Context) error {
	if s.pool != nil {
		s.pool.Close()
	}
	return nil
}
