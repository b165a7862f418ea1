// Package cmd defines and implements the CLI commands for the quake-ingest executable.
package cmd

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/veritatis/quake-ingest/internal/app"
	"github.com/veritatis/quake-ingest/internal/config"
)

var cfgFile string

// newRootCmd creates and configures the root command.
func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "quake-ingest",
		Short: "Keyword-driven web content ingestion pipeline",
		Long: `quake-ingest discovers web pages by keyword search, fetches and
archives their content, extracts the main article text, and normalizes it
through a chunked LLM cleaning pass. Records move through the pipeline via
compare-and-swap status transitions, so the stages can run concurrently and
any of them can be retried safely.`,
		SilenceUsage: true,
	}

	cmd.PersistentFlags().StringVar(&cfgFile, "config", "",
		"config file (environment variables with the INGEST_ prefix override it)")

	cmd.AddCommand(
		newServeCmd(),
		newRunCmd(),
		newSearchCmd(),
		newTickCmd(),
		newStatsCmd(),
		newRetryCmd(),
		newReclaimCmd(),
	)
	return cmd
}

// buildApp loads configuration and assembles the service graph. Commands
// own the returned App and must Close it.
func buildApp(ctx context.Context) (*app.App, error) {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	a, err := app.New(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("initialize services: %w", err)
	}
	return a, nil
}

// Execute is the main entry point.
func Execute() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
