package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/veritatis/quake-ingest/internal/ingest"
)

func newTestCleaner(t *testing.T, handler http.HandlerFunc) *Cleaner {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	cleaner, err := New(Config{
		BaseURL: srv.URL + "/v1",
		Model:   "gpt-4",
		APIKey:  "test-key",
	}, zap.NewNop())
	require.NoError(t, err)
	return cleaner
}

func TestCleanReturnsModelOutput(t *testing.T) {
	t.Parallel()

	var gotPath, gotAuth string
	var gotReq chatRequest
	cleaner := newTestCleaner(t, func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotAuth = r.Header.Get("Authorization")
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotReq))
		fmt.Fprint(w, `{"choices":[{"message":{"role":"assistant","content":"  Cleaned article text.  "}}]}`)
	})

	out, err := cleaner.Clean(context.Background(), "raw block with nav links")
	require.NoError(t, err)
	require.Equal(t, "Cleaned article text.", out)
	require.Equal(t, "/v1/chat/completions", gotPath)
	require.Equal(t, "Bearer test-key", gotAuth)
	require.Equal(t, "gpt-4", gotReq.Model)
	require.Len(t, gotReq.Messages, 2)
	require.Equal(t, "user", gotReq.Messages[1].Role)
	require.Equal(t, "raw block with nav links", gotReq.Messages[1].Content)
}

func TestCleanServerErrorIsTransient(t *testing.T) {
	t.Parallel()

	cleaner := newTestCleaner(t, func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	})

	_, err := cleaner.Clean(context.Background(), "block")
	require.Error(t, err)
	require.Equal(t, ingest.FailureTransient, ingest.Classify(err))
}

func TestCleanAPIErrorPayload(t *testing.T) {
	t.Parallel()

	cleaner := newTestCleaner(t, func(w http.ResponseWriter, _ *http.Request) {
		fmt.Fprint(w, `{"error":{"message":"model overloaded"}}`)
	})

	_, err := cleaner.Clean(context.Background(), "block")
	require.ErrorContains(t, err, "model overloaded")
}

func TestCleanNoChoices(t *testing.T) {
	t.Parallel()

	cleaner := newTestCleaner(t, func(w http.ResponseWriter, _ *http.Request) {
		fmt.Fprint(w, `{"choices":[]}`)
	})

	_, err := cleaner.Clean(context.Background(), "block")
	require.ErrorContains(t, err, "no choices")
}

func TestNewValidation(t *testing.T) {
	t.Parallel()

	_, err := New(Config{Model: "gpt-4"}, nil)
	require.Error(t, err)

	_, err = New(Config{BaseURL: "http://localhost:9999/v1"}, nil)
	require.Error(t, err)
}
