// Package ddg implements keyword search against the DuckDuckGo HTML endpoint.
package ddg

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/veritatis/quake-ingest/internal/ingest"
)

const (
	defaultBaseURL   = "https://html.duckduckgo.com/html/"
	defaultUserAgent = "quake-ingest/1.0 (+https://github.com/veritatis/quake-ingest)"
	defaultTimeout   = 20 * time.Second

	// One query per second mirrors the polite delay the DDG endpoint
	// tolerates without throttling.
	defaultQueryInterval = time.Second
)

// Config controls the DDG search client.
type Config struct {
	// BaseURL overrides the DDG HTML endpoint, mainly for tests.
	BaseURL string `mapstructure:"base_url" yaml:"base_url"`
	// UserAgent is sent with every search request.
	UserAgent string `mapstructure:"user_agent" yaml:"user_agent"`
	// Timeout bounds a single search request.
	Timeout time.Duration `mapstructure:"timeout" yaml:"timeout"`
	// QueryInterval is the minimum spacing between consecutive queries.
	QueryInterval time.Duration `mapstructure:"query_interval" yaml:"query_interval"`
}

// Client queries the DuckDuckGo HTML results page and scrapes hits out of it.
type Client struct {
	httpClient *http.Client
	baseURL    string
	userAgent  string
	limiter    *rate.Limiter
	logger     *zap.Logger
}

// New creates a search client. A nil logger falls back to the global.
func New(cfg Config, logger *zap.Logger) *Client {
	if logger == nil {
		logger = zap.L()
	}
	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	userAgent := cfg.UserAgent
	if userAgent == "" {
		userAgent = defaultUserAgent
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	interval := cfg.QueryInterval
	if interval <= 0 {
		interval = defaultQueryInterval
	}
	return &Client{
		httpClient: &http.Client{Timeout: timeout},
		baseURL:    baseURL,
		userAgent:  userAgent,
		limiter:    rate.NewLimiter(rate.Every(interval), 1),
		logger:     logger.Named("ddg"),
	}
}

// Query runs one keyword search and returns up to maxResults hits. A
// non-empty siteFilter is folded into the query as a site: operator and hits
// outside that site are dropped.
func (c *Client) Query(ctx context.Context, keyword string, maxResults int, siteFilter string) ([]ingest.SearchHit, error) {
	if strings.TrimSpace(keyword) == "" {
		return nil, fmt.Errorf("keyword is required")
	}
	if maxResults <= 0 {
		maxResults = 5
	}

	query := keyword
	if siteFilter != "" {
		query = fmt.Sprintf("site:%s %s", siteFilter, keyword)
	}

	if err := c.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("wait for search slot: %w", err)
	}

	reqURL := fmt.Sprintf("%s?q=%s", c.baseURL, url.QueryEscape(query))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, http.NoBody)
	if err != nil {
		return nil, fmt.Errorf("build search request: %w", err)
	}
	req.Header.Set("User-Agent", c.userAgent)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("search request: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("search request: %w", &ingest.HTTPStatusError{
			StatusCode: resp.StatusCode,
			URL:        reqURL,
		})
	}

	doc, err := goquery.NewDocumentFromReader(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("parse search results: %w", err)
	}

	hits := c.scrape(doc, maxResults, siteFilter)
	c.logger.Debug("search complete",
		zap.String("keyword", keyword),
		zap.String("site_filter", siteFilter),
		zap.Int("hits", len(hits)),
	)
	return hits, nil
}

func (c *Client) scrape(doc *goquery.Document, maxResults int, siteFilter string) []ingest.SearchHit {
	var hits []ingest.SearchHit
	doc.Find("a.result__a").EachWithBreak(func(_ int, sel *goquery.Selection) bool {
		href, ok := sel.Attr("href")
		if !ok {
			return true
		}
		link := resolveRedirect(href)
		if link == "" {
			return true
		}
		if siteFilter != "" && !strings.Contains(link, siteFilter) {
			return true
		}
		hits = append(hits, ingest.SearchHit{
			URL:   link,
			Title: strings.TrimSpace(sel.Text()),
		})
		return len(hits) < maxResults
	})
	return hits
}

// resolveRedirect unwraps the DDG click-tracking indirection. Result anchors
// point at /l/?uddg=<encoded target> rather than the target itself.
func resolveRedirect(href string) string {
	u, err := url.Parse(href)
	if err != nil {
		return ""
	}
	if target := u.Query().Get("uddg"); target != "" {
		return target
	}
	if u.Scheme == "http" || u.Scheme == "https" {
		return href
	}
	return ""
}
