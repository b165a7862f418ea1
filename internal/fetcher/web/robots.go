package web

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"sync"

	"github.com/temoto/robotstxt"
)

// robotsCache fetches and caches robots.txt per host. Unreachable robots
// files are treated as allow-all so a flaky origin does not block fetching.
type robotsCache struct {
	client *http.Client

	mu      sync.Mutex
	entries map[string]*robotstxt.RobotsData
}

func newRobotsCache(client *http.Client) *robotsCache {
	return &robotsCache{
		client:  client,
		entries: make(map[string]*robotstxt.RobotsData),
	}
}

// Allowed reports whether userAgent may fetch rawURL per the host's robots.txt.
func (c *robotsCache) Allowed(ctx context.Context, rawURL, userAgent string) (bool, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return false, fmt.Errorf("parse url: %w", err)
	}

	data, err := c.dataFor(ctx, u)
	if err != nil {
		return false, err
	}
	if data == nil {
		return true, nil
	}
	if userAgent == "" {
		userAgent = "*"
	}
	return data.TestAgent(u.Path, userAgent), nil
}

func (c *robotsCache) dataFor(ctx context.Context, u *url.URL) (*robotstxt.RobotsData, error) {
	key := u.Scheme + "://" + u.Host

	c.mu.Lock()
	data, cached := c.entries[key]
	c.mu.Unlock()
	if cached {
		return data, nil
	}

	data = c.fetch(ctx, key+"/robots.txt")

	c.mu.Lock()
	c.entries[key] = data
	c.mu.Unlock()
	return data, nil
}

// fetch returns nil (allow all) when robots.txt cannot be retrieved or parsed.
func (c *robotsCache) fetch(ctx context.Context, robotsURL string) *robotstxt.RobotsData {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, robotsURL, http.NoBody)
	if err != nil {
		return nil
	}
	resp, err := c.client.Do(req)
	if err != nil {
		return nil
	}
	defer func() { _ = resp.Body.Close() }()

	data, err := robotstxt.FromResponse(resp)
	if err != nil {
		return nil
	}
	return data
}
