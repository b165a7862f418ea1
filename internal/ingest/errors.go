package ingest

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/url"
)

// Sentinel errors shared across the pipeline.
var (
	// ErrConflict is returned when a CAS transition loses the race to
	// another worker. Callers treat it as "skip", never as a failure.
	ErrConflict = errors.New("record claimed by another worker")

	// ErrNotFound is returned for lookups of unknown record IDs.
	ErrNotFound = errors.New("record not found")

	// ErrSearchUnavailable indicates the search backend could not be
	// reached at all.
	ErrSearchUnavailable = errors.New("search backend unavailable")
)

// ConfigError indicates the pipeline itself is misconfigured (missing
// credentials, unreachable dependency). It aborts the current tick instead
// of failing individual records.
type ConfigError struct {
	Reason string
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("configuration error: %s", e.Reason)
}

// FailureClass partitions per-record failures into retry-eligible and
// terminal causes.
type FailureClass string

const (
	FailureTransient FailureClass = "transient"
	FailurePermanent FailureClass = "permanent"
)

type classifiedError struct {
	class FailureClass
	err   error
}

func (e *classifiedError) Error() string { return e.err.Error() }
func (e *classifiedError) Unwrap() error { return e.err }

// MarkTransient tags err as retry-eligible.
func MarkTransient(err error) error {
	if err == nil {
		return nil
	}
	return &classifiedError{class: FailureTransient, err: err}
}

// MarkPermanent tags err as not retry-eligible.
func MarkPermanent(err error) error {
	if err == nil {
		return nil
	}
	return &classifiedError{class: FailurePermanent, err: err}
}

// HTTPStatusError reports a non-2xx response from a fetch.
type HTTPStatusError struct {
	StatusCode int
	URL        string
}

func (e *HTTPStatusError) Error() string {
	return fmt.Sprintf("http status %d fetching %s", e.StatusCode, e.URL)
}

// Classify maps an error to a failure class. Explicit tags win; otherwise
// timeouts, connection-level failures and retryable HTTP statuses are
// transient. Anything unrecognized is permanent so that unknown causes are
// never retried indefinitely.
func Classify(err error) FailureClass {
	if err == nil {
		return ""
	}

	var tagged *classifiedError
	if errors.As(err, &tagged) {
		return tagged.class
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return FailureTransient
	}

	var statusErr *HTTPStatusError
	if errors.As(err, &statusErr) {
		switch {
		case statusErr.StatusCode == http.StatusRequestTimeout,
			statusErr.StatusCode == http.StatusTooManyRequests,
			statusErr.StatusCode >= 500:
			return FailureTransient
		default:
			return FailurePermanent
		}
	}

	var urlErr *url.Error
	if errors.As(err, &urlErr) {
		if urlErr.Timeout() || urlErr.Temporary() {
			return FailureTransient
		}
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return FailureTransient
	}

	var opErr *net.OpError
	if errors.As(err, &opErr) {
		// Connection refused/reset come and go with the remote host.
		return FailureTransient
	}

	return FailurePermanent
}
