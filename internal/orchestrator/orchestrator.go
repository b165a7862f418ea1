// Package orchestrator schedules stage executors over the registry, and
// provides the retry and introspection surfaces of the pipeline.
package orchestrator

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/veritatis/quake-ingest/internal/ingest"
	"github.com/veritatis/quake-ingest/internal/metrics"
	"github.com/veritatis/quake-ingest/internal/registry"
	"github.com/veritatis/quake-ingest/internal/stage"
)

// UnknownStageError reports a stage name with no registered executor.
type UnknownStageError struct {
	Stage string
}

func (e *UnknownStageError) Error() string {
	return fmt.Sprintf("unknown stage %q", e.Stage)
}

// stageInputs maps a retryable stage to the status its executor reads.
var stageInputs = map[string]ingest.Status{
	"fetch":     ingest.StatusDiscovered,
	"extract":   ingest.StatusFetched,
	"normalize": ingest.StatusExtracted,
}

// Config controls scheduling cadence and batch shape.
type Config struct {
	// BatchSize bounds records per tick per stage.
	BatchSize int
	// TickInterval is the pause between scheduled ticks of one stage.
	TickInterval time.Duration
	// ReclaimAfter is how long a claim may sit before the reconciliation
	// sweep returns the record to its input status.
	ReclaimAfter time.Duration
	// ReclaimInterval is the housekeeping sweep cadence.
	ReclaimInterval time.Duration
}

func (c Config) withDefaults() Config {
	if c.BatchSize <= 0 {
		c.BatchSize = 20
	}
	if c.TickInterval <= 0 {
		c.TickInterval = 30 * time.Second
	}
	if c.ReclaimAfter <= 0 {
		c.ReclaimAfter = 15 * time.Minute
	}
	if c.ReclaimInterval <= 0 {
		c.ReclaimInterval = time.Minute
	}
	return c
}

// Orchestrator owns the stage executors and the scheduling loop. Stages are
// fully decoupled from each other; the orchestrator is the only component
// that knows the pipeline order, and even that only for reporting.
type Orchestrator struct {
	registry *registry.Registry
	stages   map[string]stage.Executor
	order    []string
	cfg      Config
	logger   *zap.Logger
}

// New constructs an Orchestrator over the given executors.
func New(reg *registry.Registry, executors []stage.Executor, cfg Config, logger *zap.Logger) *Orchestrator {
	if logger == nil {
		logger = zap.NewNop()
	}
	stages := make(map[string]stage.Executor, len(executors))
	order := make([]string, 0, len(executors))
	for _, ex := range executors {
		stages[ex.Name()] = ex
		order = append(order, ex.Name())
	}
	return &Orchestrator{
		registry: reg,
		stages:   stages,
		order:    order,
		cfg:      cfg.withDefaults(),
		logger:   logger,
	}
}

// StageNames returns the registered stages in registration order.
func (o *Orchestrator) StageNames() []string {
	return append([]string(nil), o.order...)
}

// RunTick executes one bounded batch of the named stage. Per-record
// failures are reflected in the returned counts, never in the error; the
// error is reserved for unknown stages and stage-level aborts.
func (o *Orchestrator) RunTick(ctx context.Context, stageName string, batchSize int) (ingest.TickStats, error) {
	ex, ok := o.stages[stageName]
	if !ok {
		return ingest.TickStats{}, &UnknownStageError{Stage: stageName}
	}
	if batchSize <= 0 {
		batchSize = o.cfg.BatchSize
	}

	start := time.Now()
	stats, err := ex.Run(ctx, batchSize)
	elapsed := time.Since(start)

	metrics.ObserveTick(stageName, elapsed, stats)
	if err != nil {
		o.logger.Error("stage tick aborted",
			zap.String("stage", stageName),
			zap.Duration("elapsed", elapsed),
			zap.Error(err),
		)
		return stats, err
	}
	if stats.Attempted > 0 {
		o.logger.Info("stage tick complete",
			zap.String("stage", stageName),
			zap.Duration("elapsed", elapsed),
			zap.Int("attempted", stats.Attempted),
			zap.Int("succeeded", stats.Succeeded),
			zap.Int("failed", stats.Failed),
			zap.Int("skipped", stats.Skipped),
		)
	}
	return stats, nil
}

// RetryFailed moves transient-class failures of the named stage back to the
// stage's input status. Permanent failures are never auto-retried. When
// maxAge is positive, only records that failed within the last maxAge are
// eligible; older transient failures stay put until retried with a larger
// window.
func (o *Orchestrator) RetryFailed(ctx context.Context, stageName string, maxAge time.Duration) (int, error) {
	input, ok := stageInputs[stageName]
	if !ok {
		return 0, &UnknownStageError{Stage: stageName}
	}

	failed, err := o.registry.SelectEligible(ctx, ingest.StatusFailed, 0)
	if err != nil {
		return 0, err
	}

	now := time.Now()
	retried := 0
	for _, rec := range failed {
		if rec.FailedFrom != input || rec.FailureClass != ingest.FailureTransient {
			continue
		}
		if maxAge > 0 && now.Sub(rec.UpdatedAt) > maxAge {
			continue
		}
		err := o.registry.Retry(ctx, rec.ID, input)
		if err == ingest.ErrConflict || err == ingest.ErrNotFound {
			continue
		}
		if err != nil {
			return retried, fmt.Errorf("retry record %s: %w", rec.ID, err)
		}
		retried++
	}

	if retried > 0 {
		o.logger.Info("retried transient failures",
			zap.String("stage", stageName),
			zap.Int("count", retried),
		)
		metrics.ObserveRetries(stageName, retried)
	}
	return retried, nil
}

// Reclaim returns abandoned in-progress claims to their input status.
func (o *Orchestrator) Reclaim(ctx context.Context) (int, error) {
	count, err := o.registry.Reclaim(ctx, o.cfg.ReclaimAfter)
	if err != nil {
		return 0, err
	}
	if count > 0 {
		metrics.ObserveReclaims(count)
	}
	return count, nil
}

// Statistics returns a point-in-time record count per status. It reads
// through the registry snapshot and holds no lock across stage transitions.
func (o *Orchestrator) Statistics(ctx context.Context) (map[ingest.Status]int, error) {
	return o.registry.Statistics(ctx)
}

// Run schedules every registered stage on its own ticker, plus the
// reconciliation sweep, until the context finishes. Stage goroutines are
// independent: a slow fetch tick never delays extraction, and CAS claims
// keep concurrent ticks of the same stage from double-processing.
func (o *Orchestrator) Run(ctx context.Context) {
	var wg sync.WaitGroup
	for _, name := range o.order {
		wg.Add(1)
		go func(stageName string) {
			defer wg.Done()
			o.tickLoop(ctx, stageName)
		}(name)
	}

	wg.Add(1)
	go func() {
		defer wg.Done()
		o.reclaimLoop(ctx)
	}()

	wg.Wait()
}

func (o *Orchestrator) tickLoop(ctx context.Context, stageName string) {
	ticker := time.NewTicker(o.cfg.TickInterval)
	defer ticker.Stop()

	for {
		if _, err := o.RunTick(ctx, stageName, o.cfg.BatchSize); err != nil && ctx.Err() == nil {
			o.logger.Warn("stage tick failed, waiting for next interval",
				zap.String("stage", stageName),
				zap.Error(err),
			)
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func (o *Orchestrator) reclaimLoop(ctx context.Context) {
	ticker := time.NewTicker(o.cfg.ReclaimInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			count, err := o.Reclaim(ctx)
			if err != nil && ctx.Err() == nil {
				o.logger.Error("reclaim sweep failed", zap.Error(err))
				continue
			}
			if count > 0 {
				o.logger.Info("reclaim sweep recovered records", zap.Int("count", count))
			}
		}
	}
}
