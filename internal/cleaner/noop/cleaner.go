// Package noop provides a TextCleaner that returns blocks unchanged.
package noop

import (
	"context"
	"strings"

	"github.com/veritatis/quake-ingest/internal/ingest"
)

// Cleaner passes text through untouched aside from whitespace trimming. It
// keeps the pipeline runnable when no cleaning endpoint is configured.
type Cleaner struct{}

// New creates a passthrough Cleaner.
func New() *Cleaner {
	return &Cleaner{}
}

// Clean returns the block with surrounding whitespace removed.
func (Cleaner) Clean(_ context.Context, block string) (string, error) {
	return strings.TrimSpace(block), nil
}

var _ ingest.TextCleaner = (*Cleaner)(nil)
