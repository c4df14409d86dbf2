package main

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/sandeepkv93/tasklane/internal/dependency"
	"github.com/sandeepkv93/tasklane/internal/model"
	"github.com/sandeepkv93/tasklane/internal/views"
	"github.com/spf13/cobra"
)

func taskCmd(flags *rootFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "task",
		Short: "Create tasks and manage their blockers",
	}
	cmd.AddCommand(taskAddCmd(flags))
	cmd.AddCommand(taskBlockerCmd(flags, "link", "Add a blocker to a task"))
	cmd.AddCommand(taskBlockerCmd(flags, "unlink", "Remove a blocker from a task"))
	cmd.AddCommand(taskCompleteCmd(flags, "done", "Mark a task completed", true))
	cmd.AddCommand(taskCompleteCmd(flags, "undo", "Clear a task's completion", false))
	cmd.AddCommand(taskShowCmd(flags))
	cmd.AddCommand(taskListCmd(flags))
	return cmd
}

// withEngine opens the app for one owner-scoped command.
func withEngine(cmd *cobra.Command, flags *rootFlags, fn func(ctx context.Context, deps *dependency.Engine, owner string) error) error {
	owner, err := requireOwner(flags)
	if err != nil {
		return err
	}
	ctx := cmd.Context()
	a, err := openApp(ctx, flags, cmd.ErrOrStderr())
	if err != nil {
		return err
	}
	defer func() { _ = a.Close(context.Background()) }()
	return fn(ctx, a.deps, owner)
}

func taskAddCmd(flags *rootFlags) *cobra.Command {
	var project, blockedUntil string
	var blockers []string
	cmd := &cobra.Command{
		Use:   "add <text>",
		Short: "Create a task",
		Long: `Create a task. Blockers use the forms task:<id>, delegation:<id>,
time:<RFC3339> or time:<unix millis>.

Examples:
  tasklane task add "ship release" --blocker task:4f1c... --blocker time:2026-03-01T09:00:00Z`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			in := dependency.CreateTaskInput{Text: strings.Join(args, " "), Project: project}
			for _, raw := range blockers {
				b, err := model.ParseBlocker(raw)
				if err != nil {
					return err
				}
				in.Blockers = append(in.Blockers, b)
			}
			if blockedUntil != "" {
				at, err := time.Parse(time.RFC3339, blockedUntil)
				if err != nil {
					return fmt.Errorf("invalid --blocked-until: %w", err)
				}
				in.BlockedUntil = &at
			}
			return withEngine(cmd, flags, func(ctx context.Context, deps *dependency.Engine, owner string) error {
				task, err := deps.CreateTask(ctx, owner, in, time.Now())
				if err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), task.ID)
				return nil
			})
		},
	}
	cmd.Flags().StringVarP(&project, "project", "p", "", "project id")
	cmd.Flags().StringArrayVarP(&blockers, "blocker", "b", nil, "blocker, repeatable")
	cmd.Flags().StringVar(&blockedUntil, "blocked-until", "", "RFC3339 time before which the task is blocked")
	return cmd
}

func taskBlockerCmd(flags *rootFlags, verb, short string) *cobra.Command {
	return &cobra.Command{
		Use:   verb + " <task-id> <blocker>",
		Short: short,
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			b, err := model.ParseBlocker(args[1])
			if err != nil {
				return err
			}
			return withEngine(cmd, flags, func(ctx context.Context, deps *dependency.Engine, owner string) error {
				if verb == "link" {
					err = deps.LinkBlocker(ctx, owner, args[0], b, time.Now())
				} else {
					err = deps.UnlinkBlocker(ctx, owner, args[0], b)
				}
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%sed %s\n", verb, b)
				return nil
			})
		},
	}
}

func taskCompleteCmd(flags *rootFlags, verb, short string, completed bool) *cobra.Command {
	return &cobra.Command{
		Use:   verb + " <task-id>",
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd, flags, func(ctx context.Context, deps *dependency.Engine, owner string) error {
				return deps.SetCompleted(ctx, owner, args[0], completed, time.Now())
			})
		},
	}
}

func taskShowCmd(flags *rootFlags) *cobra.Command {
	var raw bool
	cmd := &cobra.Command{
		Use:   "show <task-id>",
		Short: "Show a task and its outstanding blockers",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd, flags, func(ctx context.Context, deps *dependency.Engine, owner string) error {
				view, err := deps.GetTaskView(ctx, owner, args[0], time.Now())
				if err != nil {
					return err
				}
				if raw {
					fmt.Fprint(cmd.OutOrStdout(), views.TaskReportMarkdown(view))
					return nil
				}
				fmt.Fprintln(cmd.OutOrStdout(), views.RenderTaskReport(view))
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&raw, "markdown", false, "print the report as plain markdown")
	return cmd
}

func taskListCmd(flags *rootFlags) *cobra.Command {
	var project string
	var actionable, blocked, all bool
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List tasks with their outstanding blockers",
		RunE: func(cmd *cobra.Command, args []string) error {
			if actionable && blocked {
				return fmt.Errorf("--actionable and --blocked are mutually exclusive")
			}
			filter := dependency.ListTasksFilter{Project: project, IncludeCompleted: all}
			if actionable || blocked {
				filter.Actionable = &actionable
			}
			return withEngine(cmd, flags, func(ctx context.Context, deps *dependency.Engine, owner string) error {
				tasks, err := deps.ListTasks(ctx, owner, filter, time.Now())
				if err != nil {
					return err
				}
				out := cmd.OutOrStdout()
				for _, v := range tasks {
					fmt.Fprintln(out, views.TaskLine(v))
					for _, b := range v.Outstanding {
						fmt.Fprintln(out, "    waits on "+b.String())
					}
				}
				return nil
			})
		},
	}
	cmd.Flags().StringVarP(&project, "project", "p", "", "only tasks in this project")
	cmd.Flags().BoolVar(&actionable, "actionable", false, "only unblocked tasks")
	cmd.Flags().BoolVar(&blocked, "blocked", false, "only blocked tasks")
	cmd.Flags().BoolVar(&all, "all", false, "include completed tasks")
	return cmd
}
