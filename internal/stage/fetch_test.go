package stage

import (
	"context"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/veritatis/quake-ingest/internal/ingest"
)

func newFetchStage(f *fixture, fetcher ingest.ContentFetcher, headless ingest.ContentFetcher, cfg FetchConfig) *Fetch {
	return NewFetch(
		f.registry,
		fetcher,
		headless,
		f.blobs,
		&fakeHasher{hash: "abc123"},
		nil,
		cfg,
		Config{CollaboratorTimeout: time.Second},
		zap.NewNop(),
	)
}

func TestFetch_SuccessStoresBlobAndAdvances(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	f := newFixture()
	id, err := f.seed(ctx, "https://example.com/a", ingest.StatusDiscovered, ingest.Update{})
	require.NoError(t, err)

	fetcher := &fakeFetcher{responses: map[string]ingest.FetchResult{
		"https://example.com/a": {
			URL:        "https://example.com/a",
			StatusCode: http.StatusOK,
			Body:       []byte("<html>quake news</html>"),
		},
	}}
	stage := newFetchStage(f, fetcher, nil, FetchConfig{BlobPrefix: "pages"})

	stats, err := stage.Run(ctx, 10)
	require.NoError(t, err)
	require.Equal(t, ingest.TickStats{Attempted: 1, Succeeded: 1}, stats)

	rec, err := f.registry.Get(ctx, id)
	require.NoError(t, err)
	require.Equal(t, ingest.StatusFetched, rec.Status)
	require.Equal(t, "memory://pages/"+id+"/abc123.html", rec.ContentRef)

	data, err := f.blobs.GetObject(ctx, rec.ContentRef)
	require.NoError(t, err)
	require.Equal(t, []byte("<html>quake news</html>"), data)
}

func TestFetch_HTTPErrorFailsRecordTransient(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	f := newFixture()
	id, err := f.seed(ctx, "https://example.com/a", ingest.StatusDiscovered, ingest.Update{})
	require.NoError(t, err)

	fetcher := &fakeFetcher{errs: map[string]error{
		"https://example.com/a": &ingest.HTTPStatusError{StatusCode: 500, URL: "https://example.com/a"},
	}}
	stage := newFetchStage(f, fetcher, nil, FetchConfig{})

	stats, err := stage.Run(ctx, 10)
	require.NoError(t, err, "a per-record failure never aborts the tick")
	require.Equal(t, ingest.TickStats{Attempted: 1, Failed: 1}, stats)

	rec, err := f.registry.Get(ctx, id)
	require.NoError(t, err)
	require.Equal(t, ingest.StatusFailed, rec.Status)
	require.Contains(t, rec.FailureReason, "http status 500")
	require.Equal(t, ingest.FailureTransient, rec.FailureClass)
	require.Equal(t, ingest.StatusDiscovered, rec.FailedFrom)
}

func TestFetch_FailureIsolatedPerRecord(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	f := newFixture()
	idGood, err := f.seed(ctx, "https://example.com/good", ingest.StatusDiscovered, ingest.Update{})
	require.NoError(t, err)
	idBad, err := f.seed(ctx, "https://example.com/bad", ingest.StatusDiscovered, ingest.Update{})
	require.NoError(t, err)

	fetcher := &fakeFetcher{
		responses: map[string]ingest.FetchResult{
			"https://example.com/good": {StatusCode: http.StatusOK, Body: []byte("<html>fine</html>")},
		},
		errs: map[string]error{
			"https://example.com/bad": &ingest.HTTPStatusError{StatusCode: 404, URL: "https://example.com/bad"},
		},
	}
	stage := newFetchStage(f, fetcher, nil, FetchConfig{})

	stats, err := stage.Run(ctx, 10)
	require.NoError(t, err)
	require.Equal(t, ingest.TickStats{Attempted: 2, Succeeded: 1, Failed: 1}, stats)

	good, err := f.registry.Get(ctx, idGood)
	require.NoError(t, err)
	require.Equal(t, ingest.StatusFetched, good.Status)

	bad, err := f.registry.Get(ctx, idBad)
	require.NoError(t, err)
	require.Equal(t, ingest.StatusFailed, bad.Status)
	require.Equal(t, ingest.FailurePermanent, bad.FailureClass)
}

func TestFetch_ClaimedRecordSkipped(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	f := newFixture()
	id, err := f.seed(ctx, "https://example.com/a", ingest.StatusDiscovered, ingest.Update{})
	require.NoError(t, err)

	// Another worker claims the record between select and claim.
	fetcher := &claimRacingFetcher{fixture: f, id: id}
	stage := NewFetch(
		f.registry,
		fetcher,
		nil,
		f.blobs,
		&fakeHasher{hash: "x"},
		nil,
		FetchConfig{},
		Config{},
		zap.NewNop(),
	)
	// Pre-claim to force the conflict.
	require.NoError(t, f.registry.Transition(ctx, id, ingest.StatusDiscovered, ingest.Update{
		Status: ingest.StatusFetching,
	}))

	stats, err := stage.Run(ctx, 10)
	require.NoError(t, err)
	require.Zero(t, stats.Attempted, "already-claimed records are not eligible")
}

// claimRacingFetcher is never expected to be invoked.
type claimRacingFetcher struct {
	fixture *fixture
	id      string
}

func (c *claimRacingFetcher) Fetch(context.Context, string) (ingest.FetchResult, error) {
	panic("fetch must not run for claimed records")
}

func TestFetch_HeadlessPromotionOnThinBody(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	f := newFixture()
	id, err := f.seed(ctx, "https://example.com/a", ingest.StatusDiscovered, ingest.Update{})
	require.NoError(t, err)

	thin := &fakeFetcher{responses: map[string]ingest.FetchResult{
		"https://example.com/a": {StatusCode: http.StatusOK, Body: []byte("<html></html>")},
	}}
	headless := &fakeFetcher{responses: map[string]ingest.FetchResult{
		"https://example.com/a": {StatusCode: http.StatusOK, Body: []byte("<html>full rendered article body</html>")},
	}}
	stage := newFetchStage(f, thin, headless, FetchConfig{HeadlessThresholdBytes: 100})

	stats, err := stage.Run(ctx, 10)
	require.NoError(t, err)
	require.Equal(t, 1, stats.Succeeded)
	require.Len(t, headless.calls, 1)

	rec, err := f.registry.Get(ctx, id)
	require.NoError(t, err)
	data, err := f.blobs.GetObject(ctx, rec.ContentRef)
	require.NoError(t, err)
	require.Contains(t, string(data), "full rendered")
}

func TestFetch_NoFetcherIsConfigError(t *testing.T) {
	t.Parallel()

	f := newFixture()
	stage := NewFetch(f.registry, nil, nil, f.blobs, &fakeHasher{}, nil, FetchConfig{}, Config{}, zap.NewNop())

	_, err := stage.Run(context.Background(), 10)
	var cfgErr *ingest.ConfigError
	require.ErrorAs(t, err, &cfgErr)
}
