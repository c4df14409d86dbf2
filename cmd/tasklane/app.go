package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"

	"github.com/sandeepkv93/tasklane/internal/config"
	"github.com/sandeepkv93/tasklane/internal/dependency"
	"github.com/sandeepkv93/tasklane/internal/logging"
	"github.com/sandeepkv93/tasklane/internal/migrate"
	"github.com/sandeepkv93/tasklane/internal/storage"
	"github.com/sandeepkv93/tasklane/internal/telemetry"
)

// app holds everything a command needs once config is loaded.
type app struct {
	cfg      config.Config
	logger   *slog.Logger
	store    storage.Store
	deps     *dependency.Engine
	migrator *migrate.Engine
	shutdown telemetry.ShutdownFunc
}

func openApp(ctx context.Context, flags *rootFlags, logOut io.Writer) (*app, error) {
	cfg, err := config.Load(flags.configPath)
	if err != nil {
		return nil, err
	}
	logger := logging.New(logOut, cfg.Log.Level, cfg.Log.Format)

	shutdown, err := telemetry.Setup(cfg.Tracing.Enabled, logOut, Version)
	if err != nil {
		return nil, fmt.Errorf("setup tracing: %w", err)
	}

	store, err := storage.Open(ctx, cfg.StoreOptions(logger))
	if err != nil {
		_ = shutdown(ctx)
		return nil, fmt.Errorf("open store: %w", err)
	}
	logger.Debug("store opened", slog.String("driver", cfg.Storage.Driver))

	return &app{
		cfg:      cfg,
		logger:   logger,
		store:    store,
		deps:     dependency.NewEngine(store, logger),
		migrator: migrate.NewEngine(store, logger, cfg.Migration.Concurrency),
		shutdown: shutdown,
	}, nil
}

func (a *app) Close(ctx context.Context) error {
	return errors.Join(a.store.Close(), a.shutdown(ctx))
}

func requireOwner(flags *rootFlags) (string, error) {
	if flags.owner == "" {
		return "", errors.New("owner is required: pass --owner or set TASKLANE_OWNER")
	}
	return flags.owner, nil
}
