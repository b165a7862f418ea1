// Package web implements a plain HTTP content fetcher using gocolly.
package web

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/gocolly/colly/v2"

	"github.com/veritatis/quake-ingest/internal/ingest"
)

// Config controls collector behavior.
type Config struct {
	UserAgent     string        `mapstructure:"user_agent" yaml:"user_agent"`
	RespectRobots bool          `mapstructure:"respect_robots" yaml:"respect_robots"`
	Timeout       time.Duration `mapstructure:"timeout" yaml:"timeout"`
}

// Fetcher implements ingest.ContentFetcher using the Colly collector.
type Fetcher struct {
	cfg           Config
	baseCollector *colly.Collector
	robots        *robotsCache
}

// New builds a Fetcher.
func New(cfg Config) *Fetcher {
	c := colly.NewCollector(colly.Async(false))
	// Robots decisions happen in our own cache so denials can be surfaced
	// as classified errors instead of colly's generic visit failure.
	c.IgnoreRobotsTxt = true
	transport := newHTTPTransport()
	c.WithTransport(transport)

	var robots *robotsCache
	if cfg.RespectRobots {
		timeout := cfg.Timeout
		if timeout == 0 {
			timeout = 15 * time.Second
		}
		robots = newRobotsCache(&http.Client{
			Transport: newHTTPTransport(),
			Timeout:   timeout,
		})
	}

	return &Fetcher{
		cfg:           cfg,
		baseCollector: c,
		robots:        robots,
	}
}

// Fetch executes a single HTTP GET using Colly.
func (f *Fetcher) Fetch(ctx context.Context, url string) (ingest.FetchResult, error) {
	if f.robots != nil {
		allowed, err := f.robots.Allowed(ctx, url, f.cfg.UserAgent)
		if err != nil {
			return ingest.FetchResult{}, fmt.Errorf("robots check %s: %w", url, err)
		}
		if !allowed {
			return ingest.FetchResult{}, ingest.MarkPermanent(fmt.Errorf("blocked by robots.txt: %s", url))
		}
	}

	var (
		result   ingest.FetchResult
		fetchErr error
	)
	start := time.Now()
	collector := f.buildCollector(start, &result, &fetchErr)

	if err := f.runCollector(ctx, collector, url, &fetchErr); err != nil {
		return ingest.FetchResult{}, err
	}
	return result, nil
}

func (f *Fetcher) buildCollector(start time.Time, result *ingest.FetchResult, fetchErr *error) *colly.Collector {
	collector := f.baseCollector.Clone()
	if f.cfg.UserAgent != "" {
		collector.UserAgent = f.cfg.UserAgent
	}
	timeout := f.cfg.Timeout
	if timeout == 0 {
		timeout = 15 * time.Second
	}
	collector.SetRequestTimeout(timeout)

	collector.OnResponse(func(r *colly.Response) {
		*result = ingest.FetchResult{
			URL:        r.Request.URL.String(),
			StatusCode: r.StatusCode,
			Body:       append([]byte(nil), r.Body...),
			Duration:   time.Since(start),
		}
	})

	collector.OnError(func(r *colly.Response, err error) {
		if r != nil && r.StatusCode > 0 {
			*fetchErr = &ingest.HTTPStatusError{
				StatusCode: r.StatusCode,
				URL:        r.Request.URL.String(),
			}
			return
		}
		*fetchErr = err
	})
	return collector
}

func (f *Fetcher) runCollector(ctx context.Context, collector *colly.Collector, url string, fetchErr *error) error {
	done := make(chan error, 1)
	go func() {
		done <- collector.Visit(url)
	}()

	select {
	case <-ctx.Done():
		return fmt.Errorf("fetch canceled: %w", ctx.Err())
	case err := <-done:
		if *fetchErr != nil {
			return fmt.Errorf("fetch failed: %w", *fetchErr)
		}
		if err != nil {
			return fmt.Errorf("visit failed: %w", err)
		}
		return nil
	}
}

func newHTTPTransport() *http.Transport {
	return &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   10 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		TLSHandshakeTimeout:   15 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
		MaxIdleConns:          100,
		IdleConnTimeout:       90 * time.Second,
	}
}

var _ ingest.ContentFetcher = (*Fetcher)(nil)
