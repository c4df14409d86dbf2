package main

import (
	"context"
	"io"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/sandeepkv93/tasklane/internal/board"
	"github.com/sandeepkv93/tasklane/internal/scheduler"
	"github.com/spf13/cobra"
)

func boardCmd(flags *rootFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "board",
		Short: "Open the interactive task board",
		RunE: func(cmd *cobra.Command, args []string) error {
			owner, err := requireOwner(flags)
			if err != nil {
				return err
			}
			ctx := cmd.Context()
			// Logs would corrupt the alternate screen.
			a, err := openApp(ctx, flags, io.Discard)
			if err != nil {
				return err
			}
			defer func() { _ = a.Close(context.Background()) }()

			sched := scheduler.NewEngine(a.cfg.Scheduler.Buffer)
			a.deps.SetUnblockNotifier(sched)
			sched.Start()
			defer sched.Stop()
			if _, err := a.deps.RescheduleUnblocks(ctx, time.Now()); err != nil {
				return err
			}

			model := board.New(ctx, a.deps, owner, board.WithUnblockEvents(sched.C()))
			_, err = tea.NewProgram(model, tea.WithAltScreen(), tea.WithContext(ctx)).Run()
			return err
		},
	}
}
