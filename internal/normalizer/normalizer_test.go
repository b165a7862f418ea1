package normalizer

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/veritatis/quake-ingest/internal/ingest"
)

type fakeCleaner struct {
	transform func(block string) string
	failOn    map[string]bool
	hang      bool
	calls     []string
}

func (c *fakeCleaner) Clean(ctx context.Context, block string) (string, error) {
	c.calls = append(c.calls, block)
	if c.hang {
		<-ctx.Done()
		return "", ctx.Err()
	}
	if c.failOn[block] {
		return "", errors.New("model unavailable")
	}
	if c.transform != nil {
		return c.transform(block), nil
	}
	return block, nil
}

var _ ingest.TextCleaner = (*fakeCleaner)(nil)

func TestSplit_HardCutsWithoutBoundaries(t *testing.T) {
	t.Parallel()

	text := strings.Repeat("a", 25)
	blocks := Split(text, 10)
	require.Equal(t, []string{
		strings.Repeat("a", 10),
		strings.Repeat("a", 10),
		strings.Repeat("a", 5),
	}, blocks)
}

func TestSplit_PrefersWhitespaceWithinWindow(t *testing.T) {
	t.Parallel()

	blocks := Split("aaaa bbbb cccc", 10)
	require.Equal(t, []string{"aaaa bbbb", "cccc"}, blocks)
	for _, block := range blocks {
		require.LessOrEqual(t, len([]rune(block)), 10)
	}
}

func TestSplit_PrefersSentenceBoundary(t *testing.T) {
	t.Parallel()

	// The window (32/5 = 6) covers both a plain space and a sentence end;
	// the sentence end wins even though the space is nearer the limit.
	text := "Alpha beta gamma delta ends. Xyz abc def ghi jkl mno pqr"
	blocks := Split(text, 32)
	require.Equal(t, "Alpha beta gamma delta ends.", blocks[0])
}

func TestSplit_Deterministic(t *testing.T) {
	t.Parallel()

	text := strings.Repeat("the quick brown fox jumps over the lazy dog. ", 40)
	first := Split(text, 100)
	for i := 0; i < 10; i++ {
		require.Equal(t, first, Split(text, 100))
	}
}

func TestSplit_EmptyAndShortInput(t *testing.T) {
	t.Parallel()

	require.Nil(t, Split("", 10))
	require.Equal(t, []string{"short"}, Split("short", 10))
}

func TestSplit_MultibyteRunesNeverSplit(t *testing.T) {
	t.Parallel()

	text := strings.Repeat("землетрясение", 5)
	for _, block := range Split(text, 10) {
		require.True(t, len([]rune(block)) <= 10)
		require.Equal(t, block, string([]rune(block)), "block must stay valid UTF-8")
	}
}

func TestNormalize_CleansAllBlocksInOrder(t *testing.T) {
	t.Parallel()

	cleaner := &fakeCleaner{transform: strings.ToUpper}
	n := New(cleaner, Config{BlockSize: 10, BlockTimeout: time.Second}, nil)

	out, err := n.Normalize(context.Background(), "aaaa bbbb cccc")
	require.NoError(t, err)
	require.Equal(t, "AAAA BBBB CCCC", out)
	require.Equal(t, []string{"aaaa bbbb", "cccc"}, cleaner.calls)
}

func TestNormalize_DegradesPerBlock(t *testing.T) {
	t.Parallel()

	// Three blocks; the middle one fails. All three survive, in order,
	// with only the failed one left uncleaned.
	text := "aaaa bbbb cccc dddd eeee ffff"
	cleaner := &fakeCleaner{
		transform: strings.ToUpper,
		failOn:    map[string]bool{"cccc dddd": true},
	}
	n := New(cleaner, Config{BlockSize: 10, BlockTimeout: time.Second}, nil)

	out, err := n.Normalize(context.Background(), text)
	require.NoError(t, err)
	require.Equal(t, "AAAA BBBB cccc dddd EEEE FFFF", out)
}

func TestNormalize_ShortCleanerOutputSubstituted(t *testing.T) {
	t.Parallel()

	cleaner := &fakeCleaner{transform: func(string) string { return "ok" }}
	n := New(cleaner, Config{BlockSize: 100, MinCleanedWords: 5, BlockTimeout: time.Second}, nil)

	out, err := n.Normalize(context.Background(), "one two three four five six seven")
	require.NoError(t, err)
	require.Equal(t, "one two three four five six seven", out)
}

func TestNormalize_BlockTimeoutKeepsOriginal(t *testing.T) {
	t.Parallel()

	cleaner := &fakeCleaner{hang: true}
	n := New(cleaner, Config{BlockSize: 100, BlockTimeout: 20 * time.Millisecond}, nil)

	out, err := n.Normalize(context.Background(), "some text to clean")
	require.NoError(t, err)
	require.Equal(t, "some text to clean", out)
}

func TestNormalize_CanceledContextFails(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	n := New(&fakeCleaner{}, Config{BlockSize: 10, BlockTimeout: time.Second}, nil)
	_, err := n.Normalize(ctx, "aaaa bbbb cccc")
	require.ErrorIs(t, err, context.Canceled)
}

func TestNormalize_EmptyInput(t *testing.T) {
	t.Parallel()

	n := New(&fakeCleaner{}, Config{BlockSize: 10, BlockTimeout: time.Second}, nil)
	out, err := n.Normalize(context.Background(), "")
	require.NoError(t, err)
	require.Empty(t, out)
}
