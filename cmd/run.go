package cmd

import (
	"fmt"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

// newRunCmd creates the 'run' subcommand. Unlike 'serve' it starts only the
// pipeline loops, for deployments where the API runs elsewhere.
func newRunCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Run the pipeline loops without the HTTP API",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			a, err := buildApp(ctx)
			if err != nil {
				return err
			}
			defer func() {
				if cerr := a.Close(); cerr != nil {
					a.Logger().Warn("shutdown error", zap.Error(cerr))
				}
			}()

			a.Logger().Info("pipeline loops started")
			a.Run(ctx)
			a.Logger().Info("shutdown complete")
			return nil
		},
	}
}

// newSearchCmd creates the 'search' subcommand: one discovery pass over the
// configured keywords, reporting what was found and cataloged.
func newSearchCmd() *cobra.Command {
	var maxKeywords int
	cmd := &cobra.Command{
		Use:   "search",
		Short: "Run one keyword discovery pass",
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := buildApp(cmd.Context())
			if err != nil {
				return err
			}
			defer func() { _ = a.Close() }()

			stats, err := a.Orchestrator().RunTick(cmd.Context(), "discover", maxKeywords)
			if err != nil {
				return err
			}
			fmt.Printf("found=%d new=%d already_known=%d\n",
				stats.Attempted, stats.Succeeded, stats.Skipped)
			return nil
		},
	}
	cmd.Flags().IntVar(&maxKeywords, "max-keywords", 0, "cap queried keywords (0 uses the configured batch size)")
	return cmd
}
