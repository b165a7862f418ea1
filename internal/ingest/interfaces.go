package ingest

import (
	"context"
	"time"
)

// RecordStore is the persistence substrate behind the resource registry.
// Implementations must make Create atomic with respect to the canonical URL
// uniqueness constraint and UpdateIf atomic with respect to the status check.
type RecordStore interface {
	// Create inserts rec unless a record with the same canonical URL
	// exists. It returns the id of the stored record and whether the
	// insert happened.
	Create(ctx context.Context, rec ResourceRecord) (id string, isNew bool, err error)

	// Get returns the record with the given id or ErrNotFound.
	Get(ctx context.Context, id string) (ResourceRecord, error)

	// SelectByStatus returns up to limit records in the given status,
	// oldest discovery first. An empty result is not an error.
	SelectByStatus(ctx context.Context, status Status, limit int) ([]ResourceRecord, error)

	// UpdateIf applies upd to the record only if its current status equals
	// expected. A mismatch returns ErrConflict; a missing id returns
	// ErrNotFound.
	UpdateIf(ctx context.Context, id string, expected Status, upd Update) error

	// StaleInProgress returns records sitting in an in-progress status
	// whose last update is older than cutoff.
	StaleInProgress(ctx context.Context, cutoff time.Time) ([]ResourceRecord, error)

	// CountByStatus returns a point-in-time count of records per status.
	CountByStatus(ctx context.Context) (map[Status]int, error)
}

// SearchClient issues a keyword query and returns discovered URLs.
type SearchClient interface {
	Query(ctx context.Context, keyword string, maxResults int, siteFilter string) ([]SearchHit, error)
}

// ContentFetcher retrieves raw content for a URL.
type ContentFetcher interface {
	Fetch(ctx context.Context, url string) (FetchResult, error)
}

// TextExtractor produces a best-effort article text from raw HTML.
type TextExtractor interface {
	Extract(raw []byte) (string, error)
}

// TextCleaner cleans one bounded-size block of text.
type TextCleaner interface {
	Clean(ctx context.Context, block string) (string, error)
}

// BlobStore persists raw artifacts and retrieves them by reference.
type BlobStore interface {
	PutObject(ctx context.Context, path string, contentType string, data []byte) (string, error)
	GetObject(ctx context.Context, ref string) ([]byte, error)
}

// Publisher announces normalized records to downstream consumers.
type Publisher interface {
	Publish(ctx context.Context, topic string, payload any) (string, error)
}

// Hasher computes digests for blob paths and integrity checks.
type Hasher interface {
	Hash(data []byte) (string, error)
}

// Clock returns the current time (useful for testing).
type Clock interface {
	Now() time.Time
}

// IDGenerator produces record IDs.
type IDGenerator interface {
	NewID() (string, error)
}
