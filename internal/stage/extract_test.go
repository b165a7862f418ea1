package stage

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/veritatis/quake-ingest/internal/ingest"
)

func seedFetched(t *testing.T, f *fixture, url, html string) string {
	t.Helper()
	ctx := context.Background()

	ref, err := f.blobs.PutObject(ctx, "pages/test.html", "text/html", []byte(html))
	require.NoError(t, err)

	id, err := f.seed(ctx, url, ingest.StatusFetched, ingest.Update{ContentRef: &ref})
	require.NoError(t, err)
	return id
}

func TestExtract_Success(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	f := newFixture()
	id := seedFetched(t, f, "https://example.com/a", "<html>irrelevant</html>")

	article := strings.Repeat("A magnitude five earthquake struck the region. ", 10)
	stage := NewExtract(f.registry, f.blobs, &fakeExtractor{text: article}, ExtractConfig{MinTextChars: 100},
		Config{CollaboratorTimeout: time.Second}, zap.NewNop())

	stats, err := stage.Run(ctx, 10)
	require.NoError(t, err)
	require.Equal(t, ingest.TickStats{Attempted: 1, Succeeded: 1}, stats)

	rec, err := f.registry.Get(ctx, id)
	require.NoError(t, err)
	require.Equal(t, ingest.StatusExtracted, rec.Status)
	require.Equal(t, article, rec.RawText)
}

func TestExtract_InsufficientContentFailsPermanently(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	f := newFixture()
	id := seedFetched(t, f, "https://example.com/a", "<html>thin</html>")

	stage := NewExtract(f.registry, f.blobs, &fakeExtractor{text: "too short"}, ExtractConfig{MinTextChars: 100},
		Config{}, zap.NewNop())

	stats, err := stage.Run(ctx, 10)
	require.NoError(t, err)
	require.Equal(t, 1, stats.Failed)

	rec, err := f.registry.Get(ctx, id)
	require.NoError(t, err)
	require.Equal(t, ingest.StatusFailed, rec.Status)
	require.Contains(t, rec.FailureReason, "insufficient content")
	require.Equal(t, ingest.FailurePermanent, rec.FailureClass)
	require.Equal(t, ingest.StatusFetched, rec.FailedFrom)
}

func TestExtract_MissingBlobIsTransient(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	f := newFixture()
	ref := "memory://pages/gone.html"
	id, err := f.seed(ctx, "https://example.com/a", ingest.StatusFetched, ingest.Update{ContentRef: &ref})
	require.NoError(t, err)

	stage := NewExtract(f.registry, f.blobs, &fakeExtractor{text: "whatever"}, ExtractConfig{}, Config{}, zap.NewNop())

	stats, err := stage.Run(ctx, 10)
	require.NoError(t, err)
	require.Equal(t, 1, stats.Failed)

	rec, err := f.registry.Get(ctx, id)
	require.NoError(t, err)
	require.Equal(t, ingest.FailureTransient, rec.FailureClass)
}

func TestExtract_RecordWithoutContentRef(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	f := newFixture()
	id, err := f.seed(ctx, "https://example.com/a", ingest.StatusFetched, ingest.Update{})
	require.NoError(t, err)

	stage := NewExtract(f.registry, f.blobs, &fakeExtractor{text: "whatever"}, ExtractConfig{}, Config{}, zap.NewNop())

	stats, err := stage.Run(ctx, 10)
	require.NoError(t, err)
	require.Equal(t, 1, stats.Failed)

	rec, err := f.registry.Get(ctx, id)
	require.NoError(t, err)
	require.Equal(t, ingest.FailurePermanent, rec.FailureClass)
	require.NotEmpty(t, rec.FailureReason)
}
