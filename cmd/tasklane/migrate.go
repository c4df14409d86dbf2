package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/sandeepkv93/tasklane/internal/migrate"
	"github.com/spf13/cobra"
)

func migrateCmd(flags *rootFlags) *cobra.Command {
	var dryRun, asJSON bool
	cmd := &cobra.Command{
		Use:   "migrate [pass|all]",
		Short: "Run the one-time data migrations for every user",
		Long: `Run one migration pass, or all of them in order, for every user.

Passes: misc-projects, inbox-projects, abandon-delegations.
A pass already completed for a user is skipped.

Examples:
  tasklane migrate all
  tasklane migrate abandon-delegations --dry-run`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			target := "all"
			if len(args) == 1 {
				target = args[0]
			}
			var passes []migrate.Pass
			if target != "all" {
				pass, err := migrate.ParsePass(target)
				if err != nil {
					return err
				}
				passes = []migrate.Pass{pass}
			}

			ctx := cmd.Context()
			a, err := openApp(ctx, flags, cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			defer func() { _ = a.Close(context.Background()) }()

			opts := migrate.Options{DryRun: dryRun}
			var reports []migrate.Report
			if passes == nil {
				reports, err = a.migrator.RunAll(ctx, time.Now(), opts)
			} else {
				var report migrate.Report
				report, err = a.migrator.Run(ctx, passes[0], time.Now(), opts)
				reports = []migrate.Report{report}
			}
			if err != nil {
				return fmt.Errorf("migration failed: %w", err)
			}

			if asJSON {
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				if err := enc.Encode(reports); err != nil {
					return err
				}
			} else {
				printReports(cmd.OutOrStdout(), reports)
			}

			failed := 0
			for _, r := range reports {
				failed += len(r.Failures)
			}
			if failed > 0 {
				return fmt.Errorf("migration finished with %d failed user batches", failed)
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "report what would change without writing")
	cmd.Flags().BoolVar(&asJSON, "json", false, "print reports as JSON")
	return cmd
}

func printReports(w io.Writer, reports []migrate.Report) {
	for _, r := range reports {
		mode := ""
		if r.DryRun {
			mode = " (dry run)"
		}
		fmt.Fprintf(w, "%s%s: users=%d skipped=%d touched=%d failed=%d\n",
			r.Pass, mode, r.Users, r.Skipped, r.Touched, len(r.Failures))
		for _, owner := range r.FailedOwners() {
			fmt.Fprintf(w, "  %s: %v\n", owner, r.Failures[owner])
		}
	}
}
