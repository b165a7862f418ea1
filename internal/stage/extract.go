package stage

import (
	"context"
	"fmt"
	"unicode/utf8"

	"go.uber.org/zap"

	"github.com/veritatis/quake-ingest/internal/ingest"
	"github.com/veritatis/quake-ingest/internal/registry"
)

// ExtractConfig controls the extract stage.
type ExtractConfig struct {
	// MinTextChars is the minimum extracted length; shorter text fails the
	// record permanently with an "insufficient content" reason.
	MinTextChars int
}

// DefaultMinTextChars is deliberately conservative: anything shorter is
// boilerplate or an error page, not an article.
const DefaultMinTextChars = 200

// Extract pulls raw content back from the blob store, runs the text
// extraction heuristic, and advances records to extracted.
type Extract struct {
	registry  *registry.Registry
	blobStore ingest.BlobStore
	extractor ingest.TextExtractor
	cfg       ExtractConfig
	stage     Config
	logger    *zap.Logger
}

// NewExtract constructs the extract stage.
func NewExtract(
	reg *registry.Registry,
	blobStore ingest.BlobStore,
	extractor ingest.TextExtractor,
	cfg ExtractConfig,
	stage Config,
	logger *zap.Logger,
) *Extract {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.MinTextChars <= 0 {
		cfg.MinTextChars = DefaultMinTextChars
	}
	return &Extract{
		registry:  reg,
		blobStore: blobStore,
		extractor: extractor,
		cfg:       cfg,
		stage:     stage,
		logger:    logger,
	}
}

// Name implements Executor.
func (e *Extract) Name() string { return "extract" }

// Run implements Executor.
func (e *Extract) Run(ctx context.Context, batchSize int) (ingest.TickStats, error) {
	if e.extractor == nil {
		return ingest.TickStats{}, &ingest.ConfigError{Reason: "no text extractor configured"}
	}
	return runBatch(
		ctx,
		e.registry,
		ingest.StatusFetched,
		ingest.StatusExtracting,
		batchSize,
		e.stage.parallelism(),
		e.logger,
		e.processRecord,
	)
}

func (e *Extract) processRecord(ctx context.Context, rec ingest.ResourceRecord) (ingest.Update, error) {
	if rec.ContentRef == "" {
		return ingest.Update{}, ingest.MarkPermanent(fmt.Errorf("record has no content reference"))
	}

	blobCtx, cancel := context.WithTimeout(ctx, e.stage.timeout())
	raw, err := e.blobStore.GetObject(blobCtx, rec.ContentRef)
	cancel()
	if err != nil {
		return ingest.Update{}, ingest.MarkTransient(fmt.Errorf("load blob %s: %w", rec.ContentRef, err))
	}

	text, err := e.extractor.Extract(raw)
	if err != nil {
		return ingest.Update{}, ingest.MarkPermanent(fmt.Errorf("extract text: %w", err))
	}

	if utf8.RuneCountInString(text) < e.cfg.MinTextChars {
		return ingest.Update{}, ingest.MarkPermanent(
			fmt.Errorf("insufficient content: %d chars, need %d", utf8.RuneCountInString(text), e.cfg.MinTextChars),
		)
	}

	e.logger.Debug("text extracted",
		zap.String("record_id", rec.ID),
		zap.Int("chars", utf8.RuneCountInString(text)),
	)
	return ingest.Update{
		Status:  ingest.StatusExtracted,
		RawText: &text,
	}, nil
}

var _ Executor = (*Extract)(nil)
