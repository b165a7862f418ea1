// Package memory provides in-memory storage implementations for
// development and testing.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/veritatis/quake-ingest/internal/ingest"
)

// RecordStore is a mutex-guarded in-memory ingest.RecordStore. The
// compare-and-swap in UpdateIf holds the same lock as every other write, so
// two workers racing on one record observe exactly one winner.
type RecordStore struct {
	mu      sync.RWMutex
	records map[string]ingest.ResourceRecord
	byURL   map[string]string
	clock   ingest.Clock
}

// NewRecordStore constructs a RecordStore using the provided clock.
func NewRecordStore(clock ingest.Clock) *RecordStore {
	return &RecordStore{
		records: make(map[string]ingest.ResourceRecord),
		byURL:   make(map[string]string),
		clock:   clock,
	}
}

// Create inserts rec unless its canonical URL is already cataloged.
func (s *RecordStore) Create(_ context.Context, rec ingest.ResourceRecord) (string, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if existing, ok := s.byURL[rec.CanonicalURL]; ok {
		return existing, false, nil
	}

	now := s.clock.Now()
	if rec.DiscoveredAt.IsZero() {
		rec.DiscoveredAt = now
	}
	rec.UpdatedAt = now
	s.records[rec.ID] = rec
	s.byURL[rec.CanonicalURL] = rec.ID
	return rec.ID, true, nil
}

// Get returns a record by id.
func (s *RecordStore) Get(_ context.Context, id string) (ingest.ResourceRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rec, ok := s.records[id]
	if !ok {
		return ingest.ResourceRecord{}, ingest.ErrNotFound
	}
	return rec, nil
}

// SelectByStatus returns up to limit records in status, oldest first.
func (s *RecordStore) SelectByStatus(_ context.Context, status ingest.Status, limit int) ([]ingest.ResourceRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []ingest.ResourceRecord
	for _, rec := range s.records {
		if rec.Status == status {
			out = append(out, rec)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].DiscoveredAt.Equal(out[j].DiscoveredAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].DiscoveredAt.Before(out[j].DiscoveredAt)
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// UpdateIf applies upd only when the record's status matches expected.
func (s *RecordStore) UpdateIf(_ context.Context, id string, expected ingest.Status, upd ingest.Update) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.records[id]
	if !ok {
		return ingest.ErrNotFound
	}
	if rec.Status != expected {
		return ingest.ErrConflict
	}

	rec.Status = upd.Status
	if upd.ContentRef != nil {
		rec.ContentRef = *upd.ContentRef
	}
	if upd.RawText != nil {
		rec.RawText = *upd.RawText
	}
	if upd.NormalizedText != nil {
		rec.NormalizedText = *upd.NormalizedText
	}
	if upd.FailureReason != nil {
		rec.FailureReason = *upd.FailureReason
	}
	if upd.FailureClass != nil {
		rec.FailureClass = *upd.FailureClass
	}
	if upd.FailedFrom != nil {
		rec.FailedFrom = *upd.FailedFrom
	}
	if upd.ClearFailure {
		rec.FailureReason = ""
		rec.FailureClass = ""
		rec.FailedFrom = ""
	}
	rec.UpdatedAt = s.clock.Now()
	s.records[id] = rec
	return nil
}

// StaleInProgress returns claimed records whose last update precedes cutoff.
func (s *RecordStore) StaleInProgress(_ context.Context, cutoff time.Time) ([]ingest.ResourceRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []ingest.ResourceRecord
	for _, rec := range s.records {
		if rec.Status.InProgress() && rec.UpdatedAt.Before(cutoff) {
			out = append(out, rec)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UpdatedAt.Before(out[j].UpdatedAt) })
	return out, nil
}

// CountByStatus returns a snapshot of record counts per status.
func (s *RecordStore) CountByStatus(_ context.Context) (map[ingest.Status]int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	counts := make(map[ingest.Status]int, len(ingest.Statuses))
	for _, rec := range s.records {
		counts[rec.Status]++
	}
	return counts, nil
}
