package stage

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/veritatis/quake-ingest/internal/ingest"
	"github.com/veritatis/quake-ingest/internal/registry"
)

// TextNormalizer is the chunked normalization collaborator.
type TextNormalizer interface {
	Normalize(ctx context.Context, text string) (string, error)
}

// NormalizeConfig controls the normalize stage.
type NormalizeConfig struct {
	// Topic, when set together with a publisher, receives an event per
	// normalized record for the downstream classifier.
	Topic string
}

// Normalize cleans extracted text through the chunked normalizer and
// advances records to their terminal normalized state.
type Normalize struct {
	registry   *registry.Registry
	normalizer TextNormalizer
	publisher  ingest.Publisher
	clock      ingest.Clock
	cfg        NormalizeConfig
	stage      Config
	logger     *zap.Logger
}

// NewNormalize constructs the normalize stage. publisher may be nil.
func NewNormalize(
	reg *registry.Registry,
	normalizer TextNormalizer,
	publisher ingest.Publisher,
	clock ingest.Clock,
	cfg NormalizeConfig,
	stage Config,
	logger *zap.Logger,
) *Normalize {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Normalize{
		registry:   reg,
		normalizer: normalizer,
		publisher:  publisher,
		clock:      clock,
		cfg:        cfg,
		stage:      stage,
		logger:     logger,
	}
}

// Name implements Executor.
func (n *Normalize) Name() string { return "normalize" }

// Run implements Executor.
func (n *Normalize) Run(ctx context.Context, batchSize int) (ingest.TickStats, error) {
	if n.normalizer == nil {
		return ingest.TickStats{}, &ingest.ConfigError{Reason: "no normalizer configured"}
	}
	return runBatch(
		ctx,
		n.registry,
		ingest.StatusExtracted,
		ingest.StatusNormalizing,
		batchSize,
		n.stage.parallelism(),
		n.logger,
		n.processRecord,
	)
}

func (n *Normalize) processRecord(ctx context.Context, rec ingest.ResourceRecord) (ingest.Update, error) {
	if rec.RawText == "" {
		return ingest.Update{}, ingest.MarkPermanent(fmt.Errorf("record has no raw text"))
	}

	cleaned, err := n.normalizer.Normalize(ctx, rec.RawText)
	if err != nil {
		return ingest.Update{}, fmt.Errorf("normalize text: %w", err)
	}

	n.announce(ctx, rec, cleaned)

	return ingest.Update{
		Status:         ingest.StatusNormalized,
		NormalizedText: &cleaned,
	}, nil
}

// announce publishes a completion event. Publishing is advisory: the
// registry remains the source of truth, so a publish failure is logged but
// never fails the record.
func (n *Normalize) announce(ctx context.Context, rec ingest.ResourceRecord, cleaned string) {
	if n.publisher == nil || n.cfg.Topic == "" {
		return
	}
	payload := map[string]any{
		"record_id":     rec.ID,
		"canonical_url": rec.CanonicalURL,
		"origin_query":  rec.OriginQuery,
		"chars":         len(cleaned),
		"timestamp":     n.clock.Now().Format(time.RFC3339),
	}
	if _, err := n.publisher.Publish(ctx, n.cfg.Topic, payload); err != nil {
		n.logger.Warn("publish normalized event failed",
			zap.String("record_id", rec.ID),
			zap.Error(err),
		)
	}
}

var _ Executor = (*Normalize)(nil)
