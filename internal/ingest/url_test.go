package ingest

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestCanonicalURL(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		in   string
		want string
	}{
		{
			name: "lowercases scheme and host",
			in:   "HTTPS://Example.COM/News",
			want: "https://example.com/News",
		},
		{
			name: "removes default https port",
			in:   "https://example.com:443/a",
			want: "https://example.com/a",
		},
		{
			name: "removes default http port",
			in:   "http://example.com:80/a",
			want: "http://example.com/a",
		},
		{
			name: "drops fragment",
			in:   "https://example.com/article#section-2",
			want: "https://example.com/article",
		},
		{
			name: "strips tracking parameters",
			in:   "https://example.com/a?utm_source=x&id=7&fbclid=abc",
			want: "https://example.com/a?id=7",
		},
		{
			name: "sorts query parameters",
			in:   "https://example.com/a?b=2&a=1",
			want: "https://example.com/a?a=1&b=2",
		},
		{
			name: "trims trailing slash on non-root path",
			in:   "https://example.com/a/b/",
			want: "https://example.com/a/b",
		},
		{
			name: "keeps root slash",
			in:   "https://example.com/",
			want: "https://example.com/",
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			got, err := CanonicalURL(tc.in)
			require.NoError(t, err)
			require.Equal(t, tc.want, got)
		})
	}
}

func TestCanonicalURL_Invalid(t *testing.T) {
	t.Parallel()

	for _, in := range []string{"", "not a url", "ftp://example.com/a", "https://"} {
		_, err := CanonicalURL(in)
		require.Error(t, err, "input %q", in)
	}
}

func TestCanonicalURL_SameKeyForRediscovery(t *testing.T) {
	t.Parallel()

	first, err := CanonicalURL("https://Example.com/news/quake?utm_campaign=feed")
	require.NoError(t, err)
	second, err := CanonicalURL("https://example.com/news/quake")
	require.NoError(t, err)
	require.Equal(t, first, second)
}
