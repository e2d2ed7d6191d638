package rewrite

import (
	"net/url"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRewriteSubtitleRewritesImageReferences(t *testing.T) {
	input := `WEBVTT

00:00:00.000 --> 00:00:05.000
<v Speaker>Look at thumbnails/frame1.jpg and frame2.png</v>
`
	out := RewriteSubtitle([]byte(input), "https://cdn.test/sub.vtt", "https://proxy.test", "url")
	s := string(out)

	assert.NotContains(t, s, "thumbnails/frame1.jpg")
	assert.Contains(t, s, "https://proxy.test?url="+url.QueryEscape("https://cdn.test/thumbnails/frame1.jpg"))
	assert.Contains(t, s, "https://proxy.test?url="+url.QueryEscape("https://cdn.test/frame2.png"))
}

func TestRewriteSubtitleDeduplicatesRepeatedReferences(t *testing.T) {
	input := "WEBVTT\n\nframe.jpg frame.jpg\n"
	out := RewriteSubtitle([]byte(input), "https://cdn.test/sub.vtt", "https://proxy.test", "url")
	assert.Equal(t, 2, strings.Count(string(out), "https://proxy.test?url="))
}

func TestRewriteSubtitleReturnsUnmodifiedWhenTargetURLUnparsable(t *testing.T) {
	input := "WEBVTT\n\nframe.jpg\n"
	out := RewriteSubtitle([]byte(input), "://bad-url", "https://proxy.test", "url")
	assert.Equal(t, input, string(out))
}

func TestRewriteSubtitleHandlesSubstringReferences(t *testing.T) {
	input := "WEBVTT\n\na.jpg\nxa.jpg\n"
	out := RewriteSubtitle([]byte(input), "https://cdn.test/sub.vtt", "https://proxy.test", "url")
	s := string(out)

	assert.Contains(t, s, "https://proxy.test?url="+url.QueryEscape("https://cdn.test/a.jpg"))
	assert.Contains(t, s, "https://proxy.test?url="+url.QueryEscape("https://cdn.test/xa.jpg"))
	assert.NotContains(t, s, "x"+"https://proxy.test", "the shorter reference's replacement must not bleed into the longer one")
}

func TestRewriteSubtitleNoImagesReturnsUnmodified(t *testing.T) {
	input := "WEBVTT\n\nJust some text with no images.\n"
	out := RewriteSubtitle([]byte(input), "https://cdn.test/sub.vtt", "https://proxy.test", "url")
	assert.Equal(t, input, string(out))
}
