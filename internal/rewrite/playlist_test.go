package rewrite

import (
	"net/url"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func defaultOpts() PlaylistOptions {
	return PlaylistOptions{
		ProxyBaseURL: "https://proxy.test",
		TargetURL:    "https://cdn.test/path/master.m3u8",
		URLParamName: "url",
	}
}

func TestRewritePlaylistRewritesSegmentURIs(t *testing.T) {
	input := "#EXTM3U\n#EXTINF:10,\nsegment-1.ts\n"
	out, rewrote := RewritePlaylist([]byte(input), defaultOpts())
	require.True(t, rewrote)

	lines := strings.Split(string(out), "\n")
	require.Len(t, lines, 4)
	assert.Equal(t, "#EXTM3U", lines[0])
	assert.Equal(t, "#EXTINF:10,", lines[1])

	u, err := url.Parse(lines[2])
	require.NoError(t, err)
	assert.Equal(t, "https://proxy.test", u.Scheme+"://"+u.Host)
	assert.Equal(t, "https://cdn.test/path/segment-1.ts", u.Query().Get("url"))
}

func TestRewritePlaylistRewritesURIAttributes(t *testing.T) {
	input := `#EXTM3U
#EXT-X-KEY:METHOD=AES-128,URI="key.bin"
#EXT-X-MAP:URI="init.mp4"
`
	out, rewrote := RewritePlaylist([]byte(input), defaultOpts())
	require.True(t, rewrote)

	s := string(out)
	assert.Contains(t, s, `URI="https://proxy.test?url=`)
	assert.Contains(t, s, url.QueryEscape("https://cdn.test/path/key.bin"))
	assert.Contains(t, s, url.QueryEscape("https://cdn.test/path/init.mp4"))
}

func TestRewritePlaylistDoesNotTreatLongerTagAsURIAttrTag(t *testing.T) {
	input := `#EXTM3U
#EXT-X-MEDIA-SEQUENCE:42
#EXT-X-MEDIA:TYPE=AUDIO,URI="audio.m3u8"
`
	out, rewrote := RewritePlaylist([]byte(input), defaultOpts())
	require.True(t, rewrote)

	s := string(out)
	assert.Contains(t, s, "#EXT-X-MEDIA-SEQUENCE:42", "a tag that only shares a prefix with a tracked tag must pass through untouched")
	assert.Contains(t, s, `URI="https://proxy.test?url=`+url.QueryEscape("https://cdn.test/path/audio.m3u8"))
}

func TestRewritePlaylistPassesThroughWithoutEXTM3U(t *testing.T) {
	input := "not a playlist\njust text\n"
	out, rewrote := RewritePlaylist([]byte(input), defaultOpts())
	assert.False(t, rewrote)
	assert.Equal(t, input, string(out))
}

func TestRewritePlaylistPreservesLineEndings(t *testing.T) {
	input := "#EXTM3U\r\n#EXTINF:10,\r\nsegment-1.ts\r\n"
	out, _ := RewritePlaylist([]byte(input), defaultOpts())
	assert.True(t, strings.Contains(string(out), "\r\n"))
	assert.False(t, strings.Contains(strings.ReplaceAll(string(out), "\r\n", ""), "\r"))
}

func TestRewritePlaylistLeavesNonURITagsUnchanged(t *testing.T) {
	input := "#EXTM3U\n#EXT-X-VERSION:3\n#EXT-X-TARGETDURATION:10\n#EXTINF:10,\nsegment-1.ts\n"
	out, _ := RewritePlaylist([]byte(input), defaultOpts())
	s := string(out)
	assert.Contains(t, s, "#EXT-X-VERSION:3")
	assert.Contains(t, s, "#EXT-X-TARGETDURATION:10")
}

func TestRewritePlaylistIdempotentOnReRewrite(t *testing.T) {
	input := "#EXTM3U\n#EXTINF:10,\nsegment-1.ts\n"
	once, _ := RewritePlaylist([]byte(input), defaultOpts())
	twice, _ := RewritePlaylist(once, defaultOpts())

	// Re-running must not corrupt structure: still one EXTM3U, one
	// EXTINF, and exactly one proxied URI line.
	assert.Equal(t, 1, strings.Count(string(twice), "#EXTM3U"))
	assert.Equal(t, 1, strings.Count(string(twice), "#EXTINF"))
	assert.Equal(t, 1, strings.Count(string(twice), "https://proxy.test?url="))
}

func TestRewritePlaylistCaseInsensitiveEXTM3U(t *testing.T) {
	input := "#extm3u\n#EXTINF:10,\nsegment-1.ts\n"
	_, rewrote := RewritePlaylist([]byte(input), defaultOpts())
	assert.True(t, rewrote)
}
