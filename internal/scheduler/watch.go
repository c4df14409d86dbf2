package scheduler

import (
	"context"
	"log/slog"
	"time"
)

// BlockedFunc reports whether the task is still blocked at the given time.
type BlockedFunc func(ctx context.Context, owner, taskID string, at time.Time) (bool, error)

// Watch consumes events until ctx is done or events is closed, and logs the
// tasks that became actionable. It returns the number of unblocked tasks.
func Watch(ctx context.Context, events <-chan UnblockEvent, blocked BlockedFunc, logger *slog.Logger) int {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	unblocked := 0
	for {
		select {
		case <-ctx.Done():
			return unblocked
		case ev, ok := <-events:
			if !ok {
				return unblocked
			}
			still, err := blocked(ctx, ev.Owner, ev.TaskID, ev.At)
			if err != nil {
				logger.Warn("unblock check failed",
					slog.String("owner", ev.Owner),
					slog.String("task_id", ev.TaskID),
					slog.String("error", err.Error()),
				)
				continue
			}
			if still {
				logger.Debug("task still blocked", slog.String("task_id", ev.TaskID))
				continue
			}
			unblocked++
			unblockEvents.WithLabelValues("unblocked").Inc()
			logger.Info("task unblocked",
				slog.String("owner", ev.Owner),
				slog.String("task_id", ev.TaskID),
				slog.Time("at", ev.At),
			)
		}
	}
}
