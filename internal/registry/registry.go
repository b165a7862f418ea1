// Package registry implements the deduplicated catalog of discovered URLs
// and the CAS-guarded lifecycle transitions the stages run on.
package registry

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/veritatis/quake-ingest/internal/ingest"
)

// Registry provides the lifecycle operations over a RecordStore substrate.
// The store's conditional update is the only synchronization primitive; the
// registry itself holds no locks across calls.
type Registry struct {
	store  ingest.RecordStore
	idGen  ingest.IDGenerator
	clock  ingest.Clock
	logger *zap.Logger
}

// New constructs a Registry.
func New(store ingest.RecordStore, idGen ingest.IDGenerator, clock ingest.Clock, logger *zap.Logger) *Registry {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Registry{
		store:  store,
		idGen:  idGen,
		clock:  clock,
		logger: logger,
	}
}

// RegisterDiscovery catalogs a URL found by the search stage. The raw URL is
// canonicalized first; a URL already present resolves to the existing record
// with isNew=false and no fields overwritten.
func (r *Registry) RegisterDiscovery(ctx context.Context, rawURL, originQuery, title string) (string, bool, error) {
	canonical, err := ingest.CanonicalURL(rawURL)
	if err != nil {
		return "", false, fmt.Errorf("canonicalize %q: %w", rawURL, err)
	}

	id, err := r.idGen.NewID()
	if err != nil {
		return "", false, fmt.Errorf("generate record id: %w", err)
	}

	rec := ingest.ResourceRecord{
		ID:           id,
		CanonicalURL: canonical,
		OriginQuery:  originQuery,
		Title:        title,
		Status:       ingest.StatusDiscovered,
		DiscoveredAt: r.clock.Now(),
	}

	storedID, isNew, err := r.store.Create(ctx, rec)
	if err != nil {
		return "", false, fmt.Errorf("create record: %w", err)
	}
	if isNew {
		r.logger.Debug("registered discovery",
			zap.String("record_id", storedID),
			zap.String("url", canonical),
			zap.String("query", originQuery),
		)
	}
	return storedID, isNew, nil
}

// SelectEligible returns up to limit records in status, oldest first.
// An empty batch is a normal outcome, not an error.
func (r *Registry) SelectEligible(ctx context.Context, status ingest.Status, limit int) ([]ingest.ResourceRecord, error) {
	records, err := r.store.SelectByStatus(ctx, status, limit)
	if err != nil {
		return nil, fmt.Errorf("select %s records: %w", status, err)
	}
	return records, nil
}

// Get returns one record by id.
func (r *Registry) Get(ctx context.Context, id string) (ingest.ResourceRecord, error) {
	return r.store.Get(ctx, id)
}

// Transition performs the compare-and-swap status update. ErrConflict means
// another worker advanced the record first and the caller must skip it.
func (r *Registry) Transition(ctx context.Context, id string, expected ingest.Status, upd ingest.Update) error {
	if err := r.store.UpdateIf(ctx, id, expected, upd); err != nil {
		return err
	}
	r.logger.Debug("record transitioned",
		zap.String("record_id", id),
		zap.String("from", string(expected)),
		zap.String("to", string(upd.Status)),
	)
	return nil
}

// MarkFailed transitions a record to failed under the same CAS discipline,
// recording the diagnostic reason, its retry class, and the status the
// record failed out of.
func (r *Registry) MarkFailed(ctx context.Context, id string, expected ingest.Status, cause error) error {
	reason := "unknown failure"
	if cause != nil {
		reason = cause.Error()
	}
	class := ingest.Classify(cause)
	if class == "" {
		class = ingest.FailurePermanent
	}

	failedFrom := expected
	if input, ok := expected.InputOf(); ok {
		failedFrom = input
	}

	err := r.store.UpdateIf(ctx, id, expected, ingest.Update{
		Status:        ingest.StatusFailed,
		FailureReason: &reason,
		FailureClass:  &class,
		FailedFrom:    &failedFrom,
	})
	if err != nil {
		return err
	}
	r.logger.Warn("record failed",
		zap.String("record_id", id),
		zap.String("failed_from", string(failedFrom)),
		zap.String("class", string(class)),
		zap.String("reason", reason),
	)
	return nil
}

// Retry moves a failed record back to the given input status, clearing the
// failure fields. Callers are responsible for checking the failure class.
func (r *Registry) Retry(ctx context.Context, id string, inputStatus ingest.Status) error {
	return r.store.UpdateIf(ctx, id, ingest.StatusFailed, ingest.Update{
		Status:       inputStatus,
		ClearFailure: true,
	})
}

// Reclaim returns records abandoned mid-claim to their input status. A
// worker killed after claiming a record leaves it in an in-progress status;
// once the claim is older than olderThan it becomes eligible again.
func (r *Registry) Reclaim(ctx context.Context, olderThan time.Duration) (int, error) {
	cutoff := r.clock.Now().Add(-olderThan)
	stale, err := r.store.StaleInProgress(ctx, cutoff)
	if err != nil {
		return 0, fmt.Errorf("find stale claims: %w", err)
	}

	reclaimed := 0
	for _, rec := range stale {
		input, ok := rec.Status.InputOf()
		if !ok {
			continue
		}
		err := r.store.UpdateIf(ctx, rec.ID, rec.Status, ingest.Update{Status: input})
		if err == ingest.ErrConflict || err == ingest.ErrNotFound {
			continue // the worker finished after all, or the record is gone
		}
		if err != nil {
			return reclaimed, fmt.Errorf("reclaim record %s: %w", rec.ID, err)
		}
		reclaimed++
		r.logger.Info("reclaimed abandoned record",
			zap.String("record_id", rec.ID),
			zap.String("from", string(rec.Status)),
			zap.String("to", string(input)),
		)
	}
	return reclaimed, nil
}

// Statistics returns a point-in-time count of records per status. Every
// known status is present in the result, absent ones with a zero count.
func (r *Registry) Statistics(ctx context.Context) (map[ingest.Status]int, error) {
	counts, err := r.store.CountByStatus(ctx)
	if err != nil {
		return nil, fmt.Errorf("count records: %w", err)
	}
	out := make(map[ingest.Status]int, len(ingest.Statuses))
	for _, status := range ingest.Statuses {
		out[status] = counts[status]
	}
	return out, nil
}
