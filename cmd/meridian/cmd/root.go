// Package cmd implements the meridian CLI commands.
package cmd

import (
	"context"
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
)

// configPath is the --config flag, shared by all commands.
var configPath string

// newRootCmd builds the root command tree.
func newRootCmd(version, commit string) *cobra.Command {
	root := &cobra.Command{
		Use:     "meridian",
		Short:   "Canonicalization engine for multi-source records",
		Long:    "Meridian resolves record fragments from disparate origins into canonical golden records:\nidentity resolution over aggregation keys, per-field merge policies, and a durable audit trail.",
		Version: fmt.Sprintf("%s (%s)", version, commit),
		PersistentPreRun: func(_ *cobra.Command, _ []string) {
			// A missing .env file is not an error; the environment wins
			// either way.
			_ = godotenv.Load()
		},
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	root.PersistentFlags().StringVarP(&configPath, "config", "c", "", "path to the YAML configuration file")

	root.AddCommand(newServeCmd())
	root.AddCommand(newCanonizeCmd())
	root.AddCommand(newEntitiesCmd())
	return root
}

// Execute runs the CLI.
func Execute(ctx context.Context, version, commit string) error {
	root := newRootCmd(version, commit)
	if err := root.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		return err
	}
	return nil
}
