package cmd

import (
	"fmt"
	"sort"
	"time"

	"github.com/spf13/cobra"

	"github.com/veritatis/quake-ingest/internal/ingest"
)

// newTickCmd creates the 'tick' subcommand. It runs exactly one batch of a
// single stage and reports the counts, which makes the pipeline easy to
// drive by hand or from a scheduler.
func newTickCmd() *cobra.Command {
	var batchSize int
	cmd := &cobra.Command{
		Use:   "tick <stage>",
		Short: "Run one batch of a pipeline stage",
		Long: `Executes one bounded batch of the named stage (discover, fetch,
extract, or normalize) and prints the per-record outcome counts.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := buildApp(cmd.Context())
			if err != nil {
				return err
			}
			defer func() { _ = a.Close() }()

			stats, err := a.Orchestrator().RunTick(cmd.Context(), args[0], batchSize)
			if err != nil {
				return err
			}
			fmt.Printf("stage %s: attempted=%d succeeded=%d failed=%d skipped=%d\n",
				args[0], stats.Attempted, stats.Succeeded, stats.Failed, stats.Skipped)
			return nil
		},
	}
	cmd.Flags().IntVar(&batchSize, "batch-size", 0, "records per batch (0 uses the configured default)")
	return cmd
}

// newStatsCmd creates the 'stats' subcommand.
func newStatsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Print record counts per status",
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := buildApp(cmd.Context())
			if err != nil {
				return err
			}
			defer func() { _ = a.Close() }()

			stats, err := a.Orchestrator().Statistics(cmd.Context())
			if err != nil {
				return err
			}
			names := make([]string, 0, len(stats))
			for status := range stats {
				names = append(names, string(status))
			}
			sort.Strings(names)
			for _, name := range names {
				fmt.Printf("%-12s %d\n", name, stats[ingest.Status(name)])
			}
			return nil
		},
	}
}

// newRetryCmd creates the 'retry' subcommand.
func newRetryCmd() *cobra.Command {
	var maxAgeMinutes int
	cmd := &cobra.Command{
		Use:   "retry <stage>",
		Short: "Re-queue transient failures of a stage",
		Long: `Moves transiently failed records of the named stage back to the
stage's input status. Permanently failed records are left alone.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := buildApp(cmd.Context())
			if err != nil {
				return err
			}
			defer func() { _ = a.Close() }()

			count, err := a.Orchestrator().RetryFailed(
				cmd.Context(),
				args[0],
				time.Duration(maxAgeMinutes)*time.Minute,
			)
			if err != nil {
				return err
			}
			fmt.Printf("retried %d record(s) for stage %s\n", count, args[0])
			return nil
		},
	}
	cmd.Flags().IntVar(&maxAgeMinutes, "max-age", 0,
		"only retry failures newer than this many minutes (0 retries all)")
	return cmd
}

// newReclaimCmd creates the 'reclaim' subcommand.
func newReclaimCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "reclaim",
		Short: "Return abandoned in-progress claims to their input status",
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := buildApp(cmd.Context())
			if err != nil {
				return err
			}
			defer func() { _ = a.Close() }()

			count, err := a.Orchestrator().Reclaim(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Printf("reclaimed %d record(s)\n", count)
			return nil
		},
	}
}
