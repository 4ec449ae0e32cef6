package app

import (
	"context"
	"fmt"
	"log/slog"

	"pwdemo/internal/config"
	"pwdemo/internal/db"
	"pwdemo/internal/engine"
	"pwdemo/internal/metrics"
	"pwdemo/internal/repo"
	"pwdemo/internal/seed"
	"pwdemo/internal/webhook"
)

// App bundles the wired service components for one process.
type App struct {
	Config     *config.Config
	Store      repo.ProtocolStore
	Dispatcher *webhook.Dispatcher
	Metrics    *metrics.Metrics
	Engine     *engine.Engine
	Log        *slog.Logger
}

// OpenStore selects the persistence backend for the configured driver. A
// relational store is seeded on first start when empty.
func OpenStore(ctx context.Context, cfg db.Config, data seed.Data) (repo.ProtocolStore, error) {
	switch cfg.Driver {
	case "", db.DriverMemory:
		return repo.NewMemory(data), nil
	case db.DriverSQLite, db.DriverPostgres:
		conn, dialect, err := db.Open(cfg)
		if err != nil {
			return nil, fmt.Errorf("open %s: %w", cfg.Driver, err)
		}
		store, err := repo.NewSQL(ctx, conn, dialect, data)
		if err != nil {
			conn.Close()
			return nil, fmt.Errorf("init %s store: %w", cfg.Driver, err)
		}
		return store, nil
	default:
		return nil, fmt.Errorf("unknown storage driver %s", cfg.Driver)
	}
}

// Build wires store, dispatcher, metrics and engine from cfg.
func Build(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*App, error) {
	if logger == nil {
		logger = slog.Default()
	}
	data, err := seed.Default()
	if err != nil {
		return nil, fmt.Errorf("load seed: %w", err)
	}
	store, err := OpenStore(ctx, cfg.DB(), data)
	if err != nil {
		return nil, err
	}
	m := metrics.New()
	dispatcher := webhook.NewDispatcher(webhook.Options{
		URL:     cfg.Webhook.URL,
		Source:  cfg.Webhook.Source,
		Enabled: cfg.Webhook.Enabled,
		Timeout: cfg.Webhook.Timeout,
		Logger:  logger.With("component", "webhook"),
		Metrics: m,
	})
	e := engine.New(store, dispatcher)
	e.Metrics = m
	e.Log = logger.With("component", "engine")
	return &App{
		Config:     cfg,
		Store:      store,
		Dispatcher: dispatcher,
		Metrics:    m,
		Engine:     e,
		Log:        logger,
	}, nil
}

func (a *App) Close() error {
	if a == nil || a.Store == nil {
		return nil
	}
	return a.Store.Close()
}
