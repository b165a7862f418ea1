// Package app initializes and holds the long-lived pipeline services,
// acting as the dependency injection container for the binary entrypoints.
package app

import (
	"context"
	"fmt"
	"net/http"
	"time"

	pubsubclient "cloud.google.com/go/pubsub"
	gcsclient "cloud.google.com/go/storage"
	"go.uber.org/zap"

	"github.com/veritatis/quake-ingest/internal/api"
	"github.com/veritatis/quake-ingest/internal/cleaner/llm"
	"github.com/veritatis/quake-ingest/internal/cleaner/noop"
	"github.com/veritatis/quake-ingest/internal/clock/system"
	"github.com/veritatis/quake-ingest/internal/config"
	"github.com/veritatis/quake-ingest/internal/extractor"
	"github.com/veritatis/quake-ingest/internal/fetcher/headless"
	"github.com/veritatis/quake-ingest/internal/fetcher/web"
	"github.com/veritatis/quake-ingest/internal/hash/sha256"
	"github.com/veritatis/quake-ingest/internal/id/uuid"
	"github.com/veritatis/quake-ingest/internal/ingest"
	"github.com/veritatis/quake-ingest/internal/logging"
	"github.com/veritatis/quake-ingest/internal/metrics"
	"github.com/veritatis/quake-ingest/internal/normalizer"
	"github.com/veritatis/quake-ingest/internal/orchestrator"
	memorypub "github.com/veritatis/quake-ingest/internal/publisher/memory"
	"github.com/veritatis/quake-ingest/internal/publisher/pubsub"
	"github.com/veritatis/quake-ingest/internal/ratelimit"
	"github.com/veritatis/quake-ingest/internal/registry"
	"github.com/veritatis/quake-ingest/internal/search/ddg"
	"github.com/veritatis/quake-ingest/internal/stage"
	"github.com/veritatis/quake-ingest/internal/storage/gcs"
	"github.com/veritatis/quake-ingest/internal/storage/local"
	memorystore "github.com/veritatis/quake-ingest/internal/storage/memory"
	"github.com/veritatis/quake-ingest/internal/storage/postgres"
)

// App wires configuration into live services. It is built once at startup
// and owns everything with a lifecycle: the record store, the orchestrator
// loops, and the HTTP server.
type App struct {
	cfg          config.Config
	logger       *zap.Logger
	registry     *registry.Registry
	orchestrator *orchestrator.Orchestrator
	server       *api.Server

	closers []func() error
}

// New builds the full service graph from cfg. It fails fast: any backend
// that cannot be reached at startup aborts initialization.
func New(ctx context.Context, cfg config.Config) (*App, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	logger, err := logging.New(cfg.Logging.Development)
	if err != nil {
		return nil, fmt.Errorf("initialize logger: %w", err)
	}
	metrics.Init()

	a := &App{cfg: cfg, logger: logger}

	clock := system.New()
	ids := uuid.New()
	hasher := sha256.New()

	store, err := a.buildRecordStore(ctx, clock)
	if err != nil {
		return nil, err
	}
	blobs, err := a.buildBlobStore(ctx)
	if err != nil {
		return nil, err
	}
	publisher, err := a.buildPublisher(ctx)
	if err != nil {
		return nil, err
	}

	a.registry = registry.New(store, ids, clock, logger)

	stageCfg := stage.Config{
		Parallelism:         cfg.Pipeline.Parallelism,
		CollaboratorTimeout: cfg.StageTimeout(),
	}

	search := ddg.New(ddg.Config{
		BaseURL:       cfg.Discover.SearchBaseURL,
		UserAgent:     cfg.Fetch.UserAgent,
		QueryInterval: time.Duration(cfg.Discover.QueryIntervalSeconds) * time.Second,
	}, logger)

	fetcher := web.New(web.Config{
		UserAgent:     cfg.Fetch.UserAgent,
		RespectRobots: cfg.Fetch.RespectRobots,
		Timeout:       cfg.FetchTimeout(),
	})

	var headlessFetcher ingest.ContentFetcher
	if cfg.Headless.Enabled {
		hf, err := headless.NewChromedp(headless.Config{
			MaxParallel:       cfg.Headless.MaxParallel,
			UserAgent:         cfg.Fetch.UserAgent,
			NavigationTimeout: time.Duration(cfg.Headless.NavTimeoutSec) * time.Second,
		})
		if err != nil {
			return nil, fmt.Errorf("initialize headless fetcher: %w", err)
		}
		headlessFetcher = hf
		a.closers = append(a.closers, func() error {
			hf.Close()
			return nil
		})
	}

	limiter := ratelimit.New(ratelimit.Config{
		DefaultRPS:   cfg.Fetch.RPS,
		DefaultBurst: cfg.Fetch.Burst,
	})

	textCleaner, err := a.buildCleaner()
	if err != nil {
		return nil, err
	}
	norm := normalizer.New(textCleaner, normalizer.Config{
		BlockSize:       cfg.Normalize.BlockSize,
		MinCleanedWords: cfg.Normalize.MinCleanedWords,
		BlockTimeout:    time.Duration(cfg.Normalize.BlockTimeoutSeconds) * time.Second,
	}, logger)

	stages := []stage.Executor{
		stage.NewDiscover(a.registry, search, stage.DiscoverConfig{
			Keywords:       cfg.Discover.Keywords,
			MaxResults:     cfg.Discover.MaxResults,
			SiteFilter:     cfg.Discover.SiteFilter,
			BlockedDomains: cfg.Discover.BlockedDomains,
		}, stageCfg, logger),
		stage.NewFetch(a.registry, fetcher, headlessFetcher, blobs, hasher, limiter, stage.FetchConfig{
			BlobPrefix:             cfg.Storage.Prefix,
			ContentType:            cfg.Storage.ContentType,
			HeadlessThresholdBytes: cfg.Headless.PromotionThresh,
		}, stageCfg, logger),
		stage.NewExtract(a.registry, blobs, extractor.New(extractor.Config{
			IncludeTables: cfg.Extract.IncludeTables,
		}), stage.ExtractConfig{
			MinTextChars: cfg.Extract.MinTextChars,
		}, stageCfg, logger),
		stage.NewNormalize(a.registry, norm, publisher, clock, stage.NormalizeConfig{
			Topic: cfg.Normalize.Topic,
		}, stageCfg, logger),
	}

	a.orchestrator = orchestrator.New(a.registry, stages, orchestrator.Config{
		BatchSize:       cfg.Pipeline.BatchSize,
		TickInterval:    time.Duration(cfg.Pipeline.TickIntervalSeconds) * time.Second,
		ReclaimAfter:    time.Duration(cfg.Pipeline.ReclaimAfterMinutes) * time.Minute,
		ReclaimInterval: time.Duration(cfg.Pipeline.ReclaimIntervalSeconds) * time.Second,
	}, logger)

	a.server = api.NewServer(a.registry, a.orchestrator, cfg, logger)
	return a, nil
}

// Logger returns the shared root logger.
func (a *App) Logger() *zap.Logger { return a.logger }

// Registry exposes the record registry for CLI commands.
func (a *App) Registry() *registry.Registry { return a.registry }

// Orchestrator exposes the scheduling surface for CLI commands.
func (a *App) Orchestrator() *orchestrator.Orchestrator { return a.orchestrator }

// Handler returns the HTTP handler tree.
func (a *App) Handler() http.Handler { return a.server.Handler() }

// Addr returns the configured listen address.
func (a *App) Addr() string {
	return fmt.Sprintf(":%d", a.cfg.Server.Port)
}

// Run starts the orchestrator loops and blocks until ctx finishes.
func (a *App) Run(ctx context.Context) {
	a.orchestrator.Run(ctx)
}

// Close releases every service with a lifecycle, in reverse creation order.
func (a *App) Close() error {
	var firstErr error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	_ = a.logger.Sync()
	return firstErr
}

func (a *App) buildRecordStore(ctx context.Context, clock ingest.Clock) (ingest.RecordStore, error) {
	switch a.cfg.DB.Provider {
	case "postgres":
		a.logger.Info("connecting to postgres record store",
			zap.String("table", a.cfg.DB.Table),
		)
		store, err := postgres.NewRecordStore(ctx, postgres.RecordStoreConfig{
			DSN:      a.cfg.DB.DSN,
			Table:    a.cfg.DB.Table,
			MaxConns: a.cfg.DB.MaxConns,
			MinConns: a.cfg.DB.MinConns,
		}, clock)
		if err != nil {
			return nil, fmt.Errorf("initialize record store: %w", err)
		}
		a.closers = append(a.closers, func() error {
			store.Close()
			return nil
		})
		return store, nil
	case "memory":
		a.logger.Info("using in-memory record store, state is lost on restart")
		return memorystore.NewRecordStore(clock), nil
	default:
		return nil, fmt.Errorf("unknown db provider: %s", a.cfg.DB.Provider)
	}
}

func (a *App) buildBlobStore(ctx context.Context) (ingest.BlobStore, error) {
	switch a.cfg.Storage.Provider {
	case "gcs":
		a.logger.Info("using GCS blob store", zap.String("bucket", a.cfg.Storage.GCSBucket))
		client, err := gcsclient.NewClient(ctx)
		if err != nil {
			return nil, fmt.Errorf("initialize GCS client: %w", err)
		}
		a.closers = append(a.closers, client.Close)
		return gcs.New(client, gcs.Config{Bucket: a.cfg.Storage.GCSBucket})
	case "local":
		a.logger.Info("using local blob store", zap.String("dir", a.cfg.Storage.LocalDir))
		return local.New(local.Config{BaseDir: a.cfg.Storage.LocalDir})
	case "memory":
		a.logger.Info("using in-memory blob store, content is lost on restart")
		return memorystore.NewBlobStore(), nil
	default:
		return nil, fmt.Errorf("unknown storage provider: %s", a.cfg.Storage.Provider)
	}
}

func (a *App) buildPublisher(ctx context.Context) (ingest.Publisher, error) {
	if !a.cfg.PubSub.Enabled {
		return memorypub.New(), nil
	}
	a.logger.Info("connecting to pub/sub",
		zap.String("project", a.cfg.PubSub.ProjectID),
		zap.String("topic", a.cfg.PubSub.TopicName),
	)
	client, err := pubsubclient.NewClient(ctx, a.cfg.PubSub.ProjectID)
	if err != nil {
		return nil, fmt.Errorf("initialize pub/sub client: %w", err)
	}
	a.closers = append(a.closers, client.Close)
	return pubsub.New(client)
}

func (a *App) buildCleaner() (ingest.TextCleaner, error) {
	if !a.cfg.Cleaner.Enabled {
		a.logger.Info("LLM cleaner disabled, normalization passes text through")
		return noop.New(), nil
	}
	cleaner, err := llm.New(llm.Config{
		BaseURL:   a.cfg.Cleaner.BaseURL,
		APIKey:    a.cfg.Cleaner.APIKey,
		Model:     a.cfg.Cleaner.Model,
		MaxTokens: a.cfg.Cleaner.MaxTokens,
		Timeout:   time.Duration(a.cfg.Cleaner.TimeoutSeconds) * time.Second,
	}, a.logger)
	if err != nil {
		return nil, fmt.Errorf("initialize cleaner: %w", err)
	}
	return cleaner, nil
}
