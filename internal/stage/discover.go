package stage

import (
	"context"
	"fmt"
	"net/url"

	"go.uber.org/zap"

	"github.com/veritatis/quake-ingest/internal/ingest"
	"github.com/veritatis/quake-ingest/internal/registry"
)

// DiscoverConfig controls the discovery stage.
type DiscoverConfig struct {
	// Keywords are the queries issued each tick.
	Keywords []string
	// MaxResults caps hits per keyword.
	MaxResults int
	// SiteFilter restricts results to one site (e.g. "instagram.com").
	SiteFilter string
	// BlockedDomains drops hits by host before cataloging. Entries are
	// exact hosts or "*.suffix" wildcards.
	BlockedDomains []string
}

// Discover issues keyword queries against the search collaborator and
// catalogs every hit. Re-running with the same keywords only adds genuinely
// new URLs; rediscoveries are no-ops.
type Discover struct {
	registry  *registry.Registry
	search    ingest.SearchClient
	blocklist *hostBlocklist
	cfg       DiscoverConfig
	stage     Config
	logger    *zap.Logger
}

// NewDiscover constructs the discovery stage.
func NewDiscover(reg *registry.Registry, search ingest.SearchClient, cfg DiscoverConfig, stage Config, logger *zap.Logger) *Discover {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.MaxResults <= 0 {
		cfg.MaxResults = 5
	}
	return &Discover{
		registry:  reg,
		search:    search,
		blocklist: newHostBlocklist(cfg.BlockedDomains),
		cfg:       cfg,
		stage:     stage,
		logger:    logger,
	}
}

// Name implements Executor.
func (d *Discover) Name() string { return "discover" }

// Run implements Executor. batchSize caps how many keywords are queried in
// one tick; zero or negative means all of them.
func (d *Discover) Run(ctx context.Context, batchSize int) (ingest.TickStats, error) {
	stats, err := d.RunDiscovery(ctx, batchSize)
	return ingest.TickStats{
		Attempted: stats.Found,
		Succeeded: stats.New,
		Skipped:   stats.Skipped,
		Failed:    stats.Found - stats.New - stats.Skipped,
	}, err
}

// RunDiscovery queries each keyword and registers the hits, returning
// search-flavored statistics. A keyword whose query fails is skipped; the
// tick only aborts when every query fails, which indicates the search
// backend is down rather than one query being unlucky.
func (d *Discover) RunDiscovery(ctx context.Context, maxKeywords int) (ingest.DiscoverStats, error) {
	keywords := d.cfg.Keywords
	if maxKeywords > 0 && len(keywords) > maxKeywords {
		keywords = keywords[:maxKeywords]
	}

	var stats ingest.DiscoverStats
	if len(keywords) == 0 {
		return stats, &ingest.ConfigError{Reason: "no search keywords configured"}
	}

	queryFailures := 0
	for _, keyword := range keywords {
		if err := ctx.Err(); err != nil {
			return stats, err
		}

		queryCtx, cancel := context.WithTimeout(ctx, d.stage.timeout())
		hits, err := d.search.Query(queryCtx, keyword, d.cfg.MaxResults, d.cfg.SiteFilter)
		cancel()
		if err != nil {
			queryFailures++
			d.logger.Warn("search query failed",
				zap.String("keyword", keyword),
				zap.Error(err),
			)
			continue
		}
		stats.Searched++
		stats.Found += len(hits)

		for _, hit := range hits {
			if d.blockedHit(hit.URL) {
				d.logger.Debug("dropping blocklisted search hit", zap.String("url", hit.URL))
				stats.Found--
				continue
			}
			_, isNew, err := d.registry.RegisterDiscovery(ctx, hit.URL, keyword, hit.Title)
			if err != nil {
				// Unparseable URLs from the search backend are dropped,
				// not cataloged: there is nothing to fetch.
				d.logger.Warn("discarding unusable search hit",
					zap.String("url", hit.URL),
					zap.Error(err),
				)
				stats.Found--
				continue
			}
			if isNew {
				stats.New++
			} else {
				stats.Skipped++
			}
		}
	}

	if queryFailures == len(keywords) {
		return stats, fmt.Errorf("all %d search queries failed: %w", queryFailures, ingest.ErrSearchUnavailable)
	}
	if queryFailures > 0 {
		d.logger.Warn("discovery completed with query failures",
			zap.Int("failed_queries", queryFailures),
			zap.Int("total_queries", len(keywords)),
		)
	}

	d.logger.Info("discovery tick complete",
		zap.Int("searched", stats.Searched),
		zap.Int("found", stats.Found),
		zap.Int("new", stats.New),
		zap.Int("skipped", stats.Skipped),
	)
	return stats, nil
}

func (d *Discover) blockedHit(rawURL string) bool {
	if d.blocklist == nil {
		return false
	}
	u, err := url.Parse(rawURL)
	if err != nil {
		return false
	}
	return d.blocklist.Blocked(u.Hostname())
}

var _ Executor = (*Discover)(nil)
