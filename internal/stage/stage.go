// Package stage implements the four pipeline stage executors. Stages never
// call each other; they communicate only through registry state, so any of
// them can be retried, rate-limited, or parallelized independently.
package stage

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/veritatis/quake-ingest/internal/ingest"
	"github.com/veritatis/quake-ingest/internal/registry"
)

// Executor is one pipeline stage runnable by the orchestrator.
type Executor interface {
	// Name identifies the stage ("discover", "fetch", "extract", "normalize").
	Name() string
	// Run executes one tick over a bounded batch of eligible records.
	// Per-record failures land on the records; the returned error is
	// reserved for stage-level problems that abort the tick.
	Run(ctx context.Context, batchSize int) (ingest.TickStats, error)
}

// Config holds the knobs shared by the record-driven stages.
type Config struct {
	// Parallelism bounds the worker pool processing one batch.
	Parallelism int
	// CollaboratorTimeout bounds each collaborator call.
	CollaboratorTimeout time.Duration
}

func (c Config) parallelism() int {
	if c.Parallelism <= 0 {
		return 1
	}
	return c.Parallelism
}

func (c Config) timeout() time.Duration {
	if c.CollaboratorTimeout <= 0 {
		return 30 * time.Second
	}
	return c.CollaboratorTimeout
}

// processFunc performs one unit of work on a claimed record and returns the
// update that completes it. Errors become per-record failures unless they
// are configuration errors, which abort the batch.
type processFunc func(ctx context.Context, rec ingest.ResourceRecord) (ingest.Update, error)

// runBatch drives the common claim/process/complete loop: select eligible
// records, claim each with a CAS to the in-progress marker (conflicts are
// silent skips), process, and either complete or mark failed. A worker pool
// of size parallelism consumes the batch; failures stay scoped to their
// record.
func runBatch(
	ctx context.Context,
	reg *registry.Registry,
	input ingest.Status,
	claim ingest.Status,
	batchSize int,
	parallelism int,
	logger *zap.Logger,
	process processFunc,
) (ingest.TickStats, error) {
	batch, err := reg.SelectEligible(ctx, input, batchSize)
	if err != nil {
		return ingest.TickStats{}, err
	}
	if len(batch) == 0 {
		return ingest.TickStats{}, nil
	}

	var (
		mu       sync.Mutex
		stats    ingest.TickStats
		stageErr error
	)
	stats.Attempted = len(batch)

	records := make(chan ingest.ResourceRecord, len(batch))
	for _, rec := range batch {
		records <- rec
	}
	close(records)

	var wg sync.WaitGroup
	for i := 0; i < parallelism; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for rec := range records {
				if ctx.Err() != nil {
					return
				}
				outcome, err := processOne(ctx, reg, rec, input, claim, logger, process)

				mu.Lock()
				switch outcome {
				case outcomeSucceeded:
					stats.Succeeded++
				case outcomeFailed:
					stats.Failed++
				case outcomeSkipped:
					stats.Skipped++
				case outcomeAborted:
					if stageErr == nil {
						stageErr = err
					}
				}
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	if stageErr != nil {
		return stats, stageErr
	}
	if err := ctx.Err(); err != nil {
		// Unprocessed claims are recovered later by the reclaim sweep.
		return stats, err
	}
	return stats, nil
}

type outcome int

const (
	outcomeSucceeded outcome = iota
	outcomeFailed
	outcomeSkipped
	outcomeAborted
)

func processOne(
	ctx context.Context,
	reg *registry.Registry,
	rec ingest.ResourceRecord,
	input ingest.Status,
	claim ingest.Status,
	logger *zap.Logger,
	process processFunc,
) (outcome, error) {
	err := reg.Transition(ctx, rec.ID, input, ingest.Update{Status: claim})
	if errors.Is(err, ingest.ErrConflict) || errors.Is(err, ingest.ErrNotFound) {
		return outcomeSkipped, nil // lost the race, another worker owns it
	}
	if err != nil {
		return outcomeAborted, err
	}

	upd, err := process(ctx, rec)
	if err != nil {
		var cfgErr *ingest.ConfigError
		if errors.As(err, &cfgErr) {
			// The collaborator is unreachable for everyone; release the
			// claim and surface the error to the orchestrator.
			if relErr := reg.Transition(ctx, rec.ID, claim, ingest.Update{Status: input}); relErr != nil {
				logger.Error("release claim failed",
					zap.String("record_id", rec.ID),
					zap.Error(relErr),
				)
			}
			return outcomeAborted, err
		}
		if failErr := reg.MarkFailed(ctx, rec.ID, claim, err); failErr != nil {
			if errors.Is(failErr, ingest.ErrConflict) {
				return outcomeSkipped, nil
			}
			logger.Error("mark failed errored",
				zap.String("record_id", rec.ID),
				zap.Error(failErr),
			)
		}
		return outcomeFailed, nil
	}

	err = reg.Transition(ctx, rec.ID, claim, upd)
	if errors.Is(err, ingest.ErrConflict) {
		return outcomeSkipped, nil // reclaimed out from under us
	}
	if err != nil {
		return outcomeAborted, err
	}
	return outcomeSucceeded, nil
}
