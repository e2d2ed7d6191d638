package domaintemplate

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewAppendsFallbackWhenMissing(t *testing.T) {
	r := New([]Template{{Pattern: "*.example.com", Headers: map[string]string{"X-A": "1"}}})
	h, err := r.HeadersFor("https://cdn.other.test/a.ts")
	require.NoError(t, err)
	assert.Equal(t, "", h.Get("X-A"))
}

func TestFirstMatchWins(t *testing.T) {
	r := New([]Template{
		{Pattern: "*.example.com", Headers: map[string]string{"X-Match": "specific"}},
		{Pattern: "*", Headers: map[string]string{"X-Match": "fallback"}},
	})

	h, err := r.HeadersFor("https://cdn.example.com/a.m3u8")
	require.NoError(t, err)
	assert.Equal(t, "specific", h.Get("X-Match"))

	h, err = r.HeadersFor("https://other.test/a.m3u8")
	require.NoError(t, err)
	assert.Equal(t, "fallback", h.Get("X-Match"))
}

func TestHeadersForDropsCacheControlAndPragma(t *testing.T) {
	r := New([]Template{{Pattern: "*", Headers: map[string]string{
		"Cache-Control": "no-store",
		"Pragma":        "no-cache",
		"X-Keep":        "1",
	}}})

	h, err := r.HeadersFor("https://host.test/a.ts")
	require.NoError(t, err)
	assert.Empty(t, h.Get("Cache-Control"))
	assert.Empty(t, h.Get("Pragma"))
	assert.Equal(t, "1", h.Get("X-Keep"))
}

func TestHeadersForSetsOriginAndReferer(t *testing.T) {
	r := Default()
	h, err := r.HeadersFor("https://cdn.example.com/path/seg.ts")
	require.NoError(t, err)
	assert.Equal(t, "https://cdn.example.com", h.Get("Origin"))
	assert.Equal(t, "https://cdn.example.com/", h.Get("Referer"))
	assert.NotEmpty(t, h.Get("User-Agent"))
}

func TestHeadersForCachesStaticHeadersPerHostname(t *testing.T) {
	r := Default()
	h1, err := r.HeadersFor("https://host.test/a.ts")
	require.NoError(t, err)
	h2, err := r.HeadersFor("https://host.test/b.ts")
	require.NoError(t, err)
	assert.Equal(t, h1.Get("Accept"), h2.Get("Accept"))
}

func TestHeadersForRejectsUnparsableURL(t *testing.T) {
	r := Default()
	_, err := r.HeadersFor("://bad")
	require.Error(t, err)
}

func TestStaticHeadersCacheStopsGrowingPastCap(t *testing.T) {
	r := Default()
	for i := 0; i < maxCachedHosts+100; i++ {
		_, err := r.HeadersFor(fmt.Sprintf("https://host-%d.test/a.ts", i))
		require.NoError(t, err)
	}

	r.mu.RLock()
	size := len(r.cache)
	r.mu.RUnlock()
	assert.LessOrEqual(t, size, maxCachedHosts, "the hostname memoization cache must not grow without bound")
}
