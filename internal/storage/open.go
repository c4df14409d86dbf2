package storage

import (
	"context"
	"fmt"
	"log/slog"
)

const (
	DriverSQLite = "sqlite"
	DriverBadger = "badger"
)

type Options struct {
	Driver string
	// Path is the sqlite file or the badger directory. Empty with the badger
	// driver opens an in-memory store.
	Path   string
	Logger *slog.Logger
	// BadgerMaxRetries overrides the conflict retry bound when positive.
	BadgerMaxRetries int
}

// Open returns the Store selected by opts.Driver.
func Open(ctx context.Context, opts Options) (Store, error) {
	switch opts.Driver {
	case DriverSQLite, "":
		if opts.Path == "" {
			return nil, fmt.Errorf("storage: sqlite path is required")
		}
		return OpenSQLite(ctx, opts.Path)
	case DriverBadger:
		cfg := InMemoryBadgerConfig()
		if opts.Path != "" {
			cfg = DefaultBadgerConfig(opts.Path)
		}
		cfg.Logger = opts.Logger
		if opts.BadgerMaxRetries > 0 {
			cfg.MaxRetries = opts.BadgerMaxRetries
		}
		return OpenBadger(cfg)
	default:
		return nil, fmt.Errorf("storage: unknown driver %q", opts.Driver)
	}
}
