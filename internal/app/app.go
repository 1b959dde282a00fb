// Package app wires the storage, store, engine and sync components for one
// workspace.
package app

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"certdesk/internal/config"
	"certdesk/internal/db"
	"certdesk/internal/engine"
	"certdesk/internal/logging"
	"certdesk/internal/metrics"
	"certdesk/internal/migrate"
	"certdesk/internal/repo"
	"certdesk/internal/session"
	"certdesk/internal/store"
	"certdesk/internal/syncbus"
)

type Options struct {
	Workspace string
	// Config is loaded from the workspace (or defaults) when nil.
	Config  *config.Config
	Logger  *zap.Logger
	Metrics *metrics.Metrics
	Writer  string
	Now     func() time.Time
}

type App struct {
	Workspace string
	Config    *config.Config
	DB        *sql.DB
	Repo      repo.Repo
	Bus       *syncbus.Bus
	Store     *store.Store
	Engine    engine.Engine
	Session   *session.Reconciler
	Watcher   *syncbus.Watcher
	Logger    *zap.Logger
	Metrics   *metrics.Metrics

	detach func()
	cancel context.CancelFunc
}

// Defaults returns the seed snapshot used for absent or unreadable collections.
func Defaults(cfg *config.Config) func(time.Time) store.State {
	return func(now time.Time) store.State {
		return store.State{
			Users:   cfg.SeedUsers(),
			Clients: cfg.SeedClients(now),
		}
	}
}

// Open connects to the workspace database, applies migrations and hydrates
// the entity store.
func Open(ctx context.Context, opts Options) (*App, error) {
	logger := logging.OrNop(opts.Logger)
	cfg := opts.Config
	if cfg == nil {
		loaded, err := config.LoadOptional(opts.Workspace)
		if err != nil {
			return nil, err
		}
		cfg = loaded
	}
	dbCfg := db.Config{Workspace: opts.Workspace, Driver: cfg.Store.Driver, DSN: cfg.Store.DSN}
	conn, err := db.Open(dbCfg)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	dialect := dbCfg.Dialect()
	if err := migrate.Migrate(conn, dialect); err != nil {
		conn.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	r := repo.Repo{DB: conn, Dialect: dialect}
	bus := syncbus.New(cfg.Sync.NotifyDelay, logger, opts.Metrics)
	st, err := store.Open(ctx, store.Options{
		Repo:       r,
		Bus:        bus,
		Logger:     logger,
		Metrics:    opts.Metrics,
		Writer:     opts.Writer,
		Now:        opts.Now,
		Defaults:   Defaults(cfg),
		MaxRetries: cfg.Store.MaxRetries,
	})
	if err != nil {
		bus.Close()
		conn.Close()
		return nil, fmt.Errorf("load store: %w", err)
	}
	a := &App{
		Workspace: opts.Workspace,
		Config:    cfg,
		DB:        conn,
		Repo:      r,
		Bus:       bus,
		Store:     st,
		Engine:    engine.New(st, cfg, logger, opts.Metrics),
		Session:   session.New(st, logger),
		Logger:    logger,
		Metrics:   opts.Metrics,
	}
	a.Watcher = &syncbus.Watcher{
		Bus:      bus,
		Source:   r,
		Store:    st,
		Interval: cfg.Sync.PollInterval,
		Debounce: cfg.Sync.Debounce,
		Logger:   logger,
	}
	if dialect == db.SQLite && cfg.Sync.WatchFiles && cfg.Store.DSN == "" {
		a.Watcher.Dir = db.Dir(opts.Workspace)
	}
	// Reconciles outlive the ctx given to Open; Close ends them.
	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	a.cancel = cancel
	a.detach = a.Session.Attach(runCtx, bus)
	logger.Debug("workspace opened",
		zap.String("workspace", opts.Workspace),
		zap.String("driver", string(dialect)),
		zap.String("writer", st.Writer()))
	return a, nil
}

// Watch follows changes made by other processes until ctx is cancelled.
func (a *App) Watch(ctx context.Context) error {
	err := a.Watcher.Run(ctx)
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

func (a *App) Close() error {
	if a.detach != nil {
		a.detach()
	}
	if a.cancel != nil {
		a.cancel()
	}
	a.Bus.Close()
	return a.DB.Close()
}
