package stage

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/veritatis/quake-ingest/internal/ingest"
	"github.com/veritatis/quake-ingest/internal/registry"
)

// RateWaiter blocks until the target host may be contacted again.
type RateWaiter interface {
	Wait(ctx context.Context, url string) error
}

// FetchConfig controls the fetch stage.
type FetchConfig struct {
	// BlobPrefix is prepended to blob paths.
	BlobPrefix string
	// ContentType is recorded on stored blobs.
	ContentType string
	// HeadlessThresholdBytes promotes a fetch to the headless fallback
	// fetcher when the plain response body is smaller. Zero disables
	// promotion.
	HeadlessThresholdBytes int
}

// Fetch retrieves content for discovered records, persists the raw bytes in
// the blob store, and advances the records to fetched.
type Fetch struct {
	registry  *registry.Registry
	fetcher   ingest.ContentFetcher
	headless  ingest.ContentFetcher
	blobStore ingest.BlobStore
	hasher    ingest.Hasher
	limiter   RateWaiter
	cfg       FetchConfig
	stage     Config
	logger    *zap.Logger
}

// NewFetch constructs the fetch stage. headless and limiter may be nil.
func NewFetch(
	reg *registry.Registry,
	fetcher ingest.ContentFetcher,
	headless ingest.ContentFetcher,
	blobStore ingest.BlobStore,
	hasher ingest.Hasher,
	limiter RateWaiter,
	cfg FetchConfig,
	stage Config,
	logger *zap.Logger,
) *Fetch {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.ContentType == "" {
		cfg.ContentType = "text/html; charset=utf-8"
	}
	return &Fetch{
		registry:  reg,
		fetcher:   fetcher,
		headless:  headless,
		blobStore: blobStore,
		hasher:    hasher,
		limiter:   limiter,
		cfg:       cfg,
		stage:     stage,
		logger:    logger,
	}
}

// Name implements Executor.
func (f *Fetch) Name() string { return "fetch" }

// Run implements Executor.
func (f *Fetch) Run(ctx context.Context, batchSize int) (ingest.TickStats, error) {
	if f.fetcher == nil {
		return ingest.TickStats{}, &ingest.ConfigError{Reason: "no content fetcher configured"}
	}
	return runBatch(
		ctx,
		f.registry,
		ingest.StatusDiscovered,
		ingest.StatusFetching,
		batchSize,
		f.stage.parallelism(),
		f.logger,
		f.processRecord,
	)
}

func (f *Fetch) processRecord(ctx context.Context, rec ingest.ResourceRecord) (ingest.Update, error) {
	if f.limiter != nil {
		if err := f.limiter.Wait(ctx, rec.CanonicalURL); err != nil {
			return ingest.Update{}, fmt.Errorf("rate limit wait: %w", err)
		}
	}

	result, err := f.fetchWithFallback(ctx, rec.CanonicalURL)
	if err != nil {
		return ingest.Update{}, err
	}

	ref, err := f.persist(ctx, rec.ID, result.Body)
	if err != nil {
		// Blob storage trouble is environmental, not a property of the page.
		return ingest.Update{}, ingest.MarkTransient(err)
	}

	f.logger.Debug("page fetched",
		zap.String("record_id", rec.ID),
		zap.String("url", rec.CanonicalURL),
		zap.Int("status_code", result.StatusCode),
		zap.Int("bytes", len(result.Body)),
		zap.String("content_ref", ref),
	)
	return ingest.Update{
		Status:     ingest.StatusFetched,
		ContentRef: &ref,
	}, nil
}

func (f *Fetch) fetchWithFallback(ctx context.Context, url string) (ingest.FetchResult, error) {
	fetchCtx, cancel := context.WithTimeout(ctx, f.stage.timeout())
	defer cancel()

	result, err := f.fetcher.Fetch(fetchCtx, url)
	if err != nil {
		return ingest.FetchResult{}, fmt.Errorf("fetch %s: %w", url, err)
	}

	if f.headless == nil || f.cfg.HeadlessThresholdBytes <= 0 || len(result.Body) >= f.cfg.HeadlessThresholdBytes {
		return result, nil
	}

	// Thin responses usually mean a script-rendered page; retry with the
	// headless fetcher and keep the plain result if that fails too.
	headlessCtx, cancel := context.WithTimeout(ctx, f.stage.timeout())
	defer cancel()

	promoted, err := f.headless.Fetch(headlessCtx, url)
	if err != nil {
		f.logger.Warn("headless promotion failed",
			zap.String("url", url),
			zap.Error(err),
		)
		return result, nil
	}
	f.logger.Debug("headless promotion applied", zap.String("url", url))
	return promoted, nil
}

func (f *Fetch) persist(ctx context.Context, recordID string, body []byte) (string, error) {
	hash, err := f.hasher.Hash(body)
	if err != nil {
		return "", fmt.Errorf("hash body: %w", err)
	}

	path := f.blobPath(recordID, hash)
	ref, err := f.blobStore.PutObject(ctx, path, f.cfg.ContentType, body)
	if err != nil {
		return "", fmt.Errorf("put object: %w", err)
	}
	return ref, nil
}

func (f *Fetch) blobPath(recordID, hash string) string {
	prefix := strings.Trim(f.cfg.BlobPrefix, "/")
	if prefix == "" {
		return fmt.Sprintf("%s/%s.html", recordID, hash)
	}
	return fmt.Sprintf("%s/%s/%s.html", prefix, recordID, hash)
}

var _ Executor = (*Fetch)(nil)
