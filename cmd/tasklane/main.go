package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var Version = "dev"

type rootFlags struct {
	configPath string
	owner      string
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	flags := &rootFlags{}
	rootCmd := &cobra.Command{
		Use:           "tasklane",
		Short:         "Personal task tracking with blockers",
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	rootCmd.PersistentFlags().StringVarP(&flags.configPath, "config", "c", os.Getenv("TASKLANE_CONFIG"), "path to a YAML config file")
	rootCmd.PersistentFlags().StringVar(&flags.owner, "owner", defaultOwner(), "owner id for task commands")

	rootCmd.AddCommand(serveCmd(flags))
	rootCmd.AddCommand(migrateCmd(flags))
	rootCmd.AddCommand(taskCmd(flags))
	rootCmd.AddCommand(boardCmd(flags))
	return rootCmd
}

func defaultOwner() string {
	if v := os.Getenv("TASKLANE_OWNER"); v != "" {
		return v
	}
	return os.Getenv("USER")
}
