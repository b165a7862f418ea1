package ddg

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/veritatis/quake-ingest/internal/ingest"
)

func resultsPage(links ...[2]string) string {
	page := `<html><body><div class="results">`
	for _, l := range links {
		page += fmt.Sprintf(
			`<div class="result"><a class="result__a" href="%s">%s</a></div>`,
			l[0], l[1],
		)
	}
	return page + `</div></body></html>`
}

func newTestClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return New(Config{
		BaseURL:       srv.URL + "/html/",
		QueryInterval: time.Millisecond,
	}, zap.NewNop())
}

func TestQueryScrapesResultAnchors(t *testing.T) {
	t.Parallel()

	var gotQuery string
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		gotQuery = r.URL.Query().Get("q")
		fmt.Fprint(w, resultsPage(
			[2]string{"https://example.com/quake-report", "Quake Report"},
			[2]string{"https://example.org/aftershocks", "Aftershocks"},
		))
	})

	hits, err := client.Query(context.Background(), "earthquake damage", 5, "")
	require.NoError(t, err)
	require.Equal(t, "earthquake damage", gotQuery)
	require.Equal(t, []ingest.SearchHit{
		{URL: "https://example.com/quake-report", Title: "Quake Report"},
		{URL: "https://example.org/aftershocks", Title: "Aftershocks"},
	}, hits)
}

func TestQueryUnwrapsRedirectLinks(t *testing.T) {
	t.Parallel()

	target := "https://example.com/deep/article"
	redirect := "//duckduckgo.com/l/?uddg=" + url.QueryEscape(target)
	client := newTestClient(t, func(w http.ResponseWriter, _ *http.Request) {
		fmt.Fprint(w, resultsPage([2]string{redirect, "Tracked"}))
	})

	hits, err := client.Query(context.Background(), "earthquake", 5, "")
	require.NoError(t, err)
	require.Len(t, hits, 1)
	require.Equal(t, target, hits[0].URL)
}

func TestQueryAppliesSiteFilter(t *testing.T) {
	t.Parallel()

	var gotQuery string
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		gotQuery = r.URL.Query().Get("q")
		fmt.Fprint(w, resultsPage(
			[2]string{"https://example.com/on-site", "On Site"},
			[2]string{"https://elsewhere.net/off-site", "Off Site"},
		))
	})

	hits, err := client.Query(context.Background(), "earthquake", 5, "example.com")
	require.NoError(t, err)
	require.Equal(t, "site:example.com earthquake", gotQuery)
	require.Len(t, hits, 1)
	require.Equal(t, "https://example.com/on-site", hits[0].URL)
}

func TestQueryCapsResults(t *testing.T) {
	t.Parallel()

	client := newTestClient(t, func(w http.ResponseWriter, _ *http.Request) {
		fmt.Fprint(w, resultsPage(
			[2]string{"https://example.com/1", "One"},
			[2]string{"https://example.com/2", "Two"},
			[2]string{"https://example.com/3", "Three"},
		))
	})

	hits, err := client.Query(context.Background(), "earthquake", 2, "")
	require.NoError(t, err)
	require.Len(t, hits, 2)
}

func TestQueryServerErrorIsTransient(t *testing.T) {
	t.Parallel()

	client := newTestClient(t, func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
	})

	_, err := client.Query(context.Background(), "earthquake", 5, "")
	require.Error(t, err)

	var statusErr *ingest.HTTPStatusError
	require.ErrorAs(t, err, &statusErr)
	require.Equal(t, http.StatusTooManyRequests, statusErr.StatusCode)
	require.Equal(t, ingest.FailureTransient, ingest.Classify(err))
}

func TestQueryEmptyKeyword(t *testing.T) {
	t.Parallel()

	client := New(Config{QueryInterval: time.Millisecond}, zap.NewNop())
	_, err := client.Query(context.Background(), "  ", 5, "")
	require.Error(t, err)
}
