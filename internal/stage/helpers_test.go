package stage

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/veritatis/quake-ingest/internal/ingest"
	"github.com/veritatis/quake-ingest/internal/registry"
	"github.com/veritatis/quake-ingest/internal/storage/memory"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(time.Millisecond)
	return c.now
}

type seqIDGen struct {
	mu sync.Mutex
	n  int
}

func (g *seqIDGen) NewID() (string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.n++
	return fmt.Sprintf("id-%d", g.n), nil
}

type fixture struct {
	registry *registry.Registry
	blobs    *memory.BlobStore
	clock    *fakeClock
}

func newFixture() *fixture {
	clock := &fakeClock{now: time.Unix(1000, 0).UTC()}
	store := memory.NewRecordStore(clock)
	return &fixture{
		registry: registry.New(store, &seqIDGen{}, clock, zap.NewNop()),
		blobs:    memory.NewBlobStore(),
		clock:    clock,
	}
}

// seed registers a record and walks it forward to the wanted status.
func (f *fixture) seed(ctx context.Context, url string, status ingest.Status, upd ingest.Update) (string, error) {
	id, _, err := f.registry.RegisterDiscovery(ctx, url, "quake", "title")
	if err != nil {
		return "", err
	}
	if status == ingest.StatusDiscovered {
		return id, nil
	}
	upd.Status = status
	if err := f.registry.Transition(ctx, id, ingest.StatusDiscovered, upd); err != nil {
		return "", err
	}
	return id, nil
}

type fakeSearch struct {
	hits map[string][]ingest.SearchHit
	err  error
}

func (s *fakeSearch) Query(_ context.Context, keyword string, maxResults int, _ string) ([]ingest.SearchHit, error) {
	if s.err != nil {
		return nil, s.err
	}
	hits := s.hits[keyword]
	if len(hits) > maxResults {
		hits = hits[:maxResults]
	}
	return hits, nil
}

type fakeFetcher struct {
	mu        sync.Mutex
	responses map[string]ingest.FetchResult
	errs      map[string]error
	calls     []string
}

func (f *fakeFetcher) Fetch(_ context.Context, url string) (ingest.FetchResult, error) {
	f.mu.Lock()
	f.calls = append(f.calls, url)
	f.mu.Unlock()
	if err := f.errs[url]; err != nil {
		return ingest.FetchResult{}, err
	}
	return f.responses[url], nil
}

type fakeHasher struct{ hash string }

func (h *fakeHasher) Hash([]byte) (string, error) { return h.hash, nil }

type fakeExtractor struct {
	text string
	err  error
}

func (e *fakeExtractor) Extract([]byte) (string, error) { return e.text, e.err }

type fakeNormalizer struct {
	out string
	err error
}

func (n *fakeNormalizer) Normalize(context.Context, string) (string, error) {
	return n.out, n.err
}

type fakePublisher struct {
	mu       sync.Mutex
	err      error
	messages []any
}

func (p *fakePublisher) Publish(_ context.Context, _ string, payload any) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return "", p.err
	}
	p.messages = append(p.messages, payload)
	return fmt.Sprintf("msg-%d", len(p.messages)), nil
}
