package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sandeepkv93/tasklane/internal/dependency"
	"github.com/sandeepkv93/tasklane/internal/httpapi"
	"github.com/sandeepkv93/tasklane/internal/scheduler"
	"github.com/spf13/cobra"
)

const shutdownGrace = 10 * time.Second

func serveCmd(flags *rootFlags) *cobra.Command {
	var addr string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API and the unblock scheduler",
		Long: `Run the HTTP API. Task routes take the owner from the X-Owner-ID header.

Examples:
  tasklane serve
  tasklane serve --addr 0.0.0.0:8080 --config tasklane.yaml`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			a, err := openApp(ctx, flags, cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			defer func() { _ = a.Close(context.Background()) }()
			if addr != "" {
				a.cfg.HTTP.Address = addr
			}
			return serve(ctx, a)
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "listen address, overrides http.address")
	return cmd
}

func serve(ctx context.Context, a *app) error {
	sched := startScheduler(ctx, a)
	defer sched.Stop()

	router := httpapi.NewRouter(httpapi.Deps{
		Tasks:          a.deps,
		Migrator:       a.migrator,
		Logger:         a.logger,
		RequestTimeout: a.cfg.HTTP.RequestTimeout,
	})
	srv := &http.Server{
		Addr:              a.cfg.HTTP.Address,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		a.logger.Info("http server listening", slog.String("addr", srv.Addr))
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("http server: %w", err)
	case <-ctx.Done():
	}

	a.logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("http shutdown: %w", err)
	}
	return nil
}

// startScheduler wires the unblock scheduler into the dependency engine,
// re-announces pending unblocks from the store and starts logging the tasks
// that become actionable.
func startScheduler(ctx context.Context, a *app) *scheduler.Engine {
	sched := scheduler.NewEngine(a.cfg.Scheduler.Buffer)
	a.deps.SetUnblockNotifier(sched)
	sched.Start()
	if _, err := a.deps.RescheduleUnblocks(ctx, time.Now()); err != nil {
		a.logger.Warn("reschedule unblocks failed", slog.String("error", err.Error()))
	}
	go scheduler.Watch(ctx, sched.C(), stillBlocked(a.deps), a.logger)
	return sched
}

func stillBlocked(deps *dependency.Engine) scheduler.BlockedFunc {
	return func(ctx context.Context, owner, taskID string, at time.Time) (bool, error) {
		now := time.Now()
		if now.Before(at) {
			now = at
		}
		view, err := deps.GetTaskView(ctx, owner, taskID, now)
		if errors.Is(err, dependency.ErrNotFound) {
			return true, nil
		}
		if err != nil {
			return false, err
		}
		return view.Blocked || view.Task.IsCompleted(), nil
	}
}
