// Package ingest defines core types shared across the ingestion pipeline.
package ingest

import "time"

// Status represents the lifecycle state of a discovered resource.
type Status string

// Status values persisted in the record store. The three "-ing" values are
// claim markers: a worker moves a record there before calling a collaborator
// so that concurrent workers skip it.
const (
	StatusDiscovered  Status = "discovered"
	StatusFetching    Status = "fetching"
	StatusFetched     Status = "fetched"
	StatusExtracting  Status = "extracting"
	StatusExtracted   Status = "extracted"
	StatusNormalizing Status = "normalizing"
	StatusNormalized  Status = "normalized"
	StatusFailed      Status = "failed"
)

// Statuses lists every status in pipeline order, failed last.
var Statuses = []Status{
	StatusDiscovered,
	StatusFetching,
	StatusFetched,
	StatusExtracting,
	StatusExtracted,
	StatusNormalizing,
	StatusNormalized,
	StatusFailed,
}

// InProgress reports whether s is a claim marker held by a worker.
func (s Status) InProgress() bool {
	switch s {
	case StatusFetching, StatusExtracting, StatusNormalizing:
		return true
	default:
		return false
	}
}

// InputOf returns the eligible status a claim marker was taken from.
// It is the inverse of the claim transition and is what the reclaim
// sweep restores abandoned records to.
func (s Status) InputOf() (Status, bool) {
	switch s {
	case StatusFetching:
		return StatusDiscovered, true
	case StatusExtracting:
		return StatusFetched, true
	case StatusNormalizing:
		return StatusExtracted, true
	default:
		return "", false
	}
}

// ResourceRecord is the catalog entry for one discovered URL.
type ResourceRecord struct {
	ID             string       `json:"id"`
	CanonicalURL   string       `json:"canonical_url"`
	OriginQuery    string       `json:"origin_query"`
	Title          string       `json:"title,omitempty"`
	Status         Status       `json:"status"`
	ContentRef     string       `json:"content_ref,omitempty"`
	RawText        string       `json:"raw_text,omitempty"`
	NormalizedText string       `json:"normalized_text,omitempty"`
	FailureReason  string       `json:"failure_reason,omitempty"`
	FailureClass   FailureClass `json:"failure_class,omitempty"`
	FailedFrom     Status       `json:"failed_from,omitempty"`
	DiscoveredAt   time.Time    `json:"discovered_at"`
	UpdatedAt      time.Time    `json:"updated_at"`
}

// Update carries the field changes applied atomically with a status
// transition. Nil pointers leave the corresponding field untouched.
type Update struct {
	Status         Status
	ContentRef     *string
	RawText        *string
	NormalizedText *string
	FailureReason  *string
	FailureClass   *FailureClass
	FailedFrom     *Status
	// ClearFailure resets failure_reason, failure_class and failed_from,
	// used when a failed record re-enters the pipeline.
	ClearFailure bool
}

// TickStats summarizes one orchestrator tick over a stage batch.
type TickStats struct {
	Attempted int `json:"attempted"`
	Succeeded int `json:"succeeded"`
	Failed    int `json:"failed"`
	Skipped   int `json:"skipped"`
}

// Add accumulates other into s.
func (s *TickStats) Add(other TickStats) {
	s.Attempted += other.Attempted
	s.Succeeded += other.Succeeded
	s.Failed += other.Failed
	s.Skipped += other.Skipped
}

// DiscoverStats summarizes one discovery pass over a keyword set.
type DiscoverStats struct {
	Searched int `json:"searched"`
	Found    int `json:"found"`
	New      int `json:"new"`
	Skipped  int `json:"skipped"`
}

// SearchHit is a single result returned by the search collaborator.
type SearchHit struct {
	URL   string
	Title string
}

// FetchResult is returned by a ContentFetcher implementation.
type FetchResult struct {
	URL        string
	StatusCode int
	Body       []byte
	Duration   time.Duration
}
