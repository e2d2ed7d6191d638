// Package rewrite implements the Playlist Rewriter (spec §4.7) and the
// Subtitle Rewriter (spec §4.8): parsing HLS manifests and WebVTT
// subtitle text so that every nested media reference is routed back
// through this proxy.
package rewrite

import (
	"net/url"
	"regexp"
	"strings"

	"github.com/patchbay-io/hlsrelay/internal/urlutil"
)

// PlaylistOptions configures the playlist rewriter.
type PlaylistOptions struct {
	ProxyBaseURL        string
	TargetURL           string
	URLParamName        string
	PreserveQueryParams bool
}

// uriAttrTags are the tag names whose URI="..." attribute references a
// resource that must be rewritten (spec §4.7).
var uriAttrTags = []string{
	"#EXT-X-KEY",
	"#EXT-X-MEDIA",
	"#EXT-X-MAP",
	"#EXT-X-I-FRAME-STREAM-INF",
}

var uriAttrPattern = regexp.MustCompile(`URI="([^"]*)"`)

// RewritePlaylist rewrites every nested URI reference in an M3U8
// manifest to flow back through the proxy. If the input does not
// contain #EXTM3U (case-insensitive), it is returned unchanged — the
// second return value reports whether a rewrite was actually performed,
// so callers can log the pass-through case.
func RewritePlaylist(data []byte, opts PlaylistOptions) ([]byte, bool) {
	if !strings.Contains(strings.ToUpper(string(data)), "#EXTM3U") {
		return data, false
	}

	lines := splitKeepEnds(data)
	var expectingURI bool

	for i, line := range lines {
		content, ending := line.content, line.ending
		trimmed := strings.TrimSpace(content)

		switch {
		case trimmed == "":
			expectingURI = false
			continue

		case strings.HasPrefix(trimmed, "#"):
			if hasURIAttrTag(trimmed) {
				lines[i].content = uriAttrPattern.ReplaceAllStringFunc(content, func(m string) string {
					sub := uriAttrPattern.FindStringSubmatch(m)
					if len(sub) != 2 {
						return m
					}
					rewritten, ok := rewriteReference(sub[1], opts)
					if !ok {
						return m
					}
					return `URI="` + rewritten + `"`
				})
			}
			expectingURI = strings.HasPrefix(trimmed, "#EXTINF") || strings.HasPrefix(trimmed, "#EXT-X-STREAM-INF")

		default:
			// A non-tag line immediately following EXTINF or
			// STREAM-INF is the segment/variant URI itself.
			if expectingURI {
				rewritten, ok := rewriteReference(trimmed, opts)
				if ok {
					lines[i].content = rewritten
				}
			}
			expectingURI = false
		}
		lines[i].ending = ending
	}

	return joinLines(lines), true
}

// hasURIAttrTag reports whether trimmed is one of uriAttrTags, requiring
// the tag name end at a ':' or the end of the line so a longer tag that
// merely shares a prefix (e.g. "#EXT-X-MEDIA-SEQUENCE") isn't mistaken
// for it.
func hasURIAttrTag(trimmed string) bool {
	for _, tag := range uriAttrTags {
		if !strings.HasPrefix(trimmed, tag) {
			continue
		}
		rest := trimmed[len(tag):]
		if rest == "" || rest[0] == ':' {
			return true
		}
	}
	return false
}

// rewriteReference resolves ref against the target URL and builds the
// proxied URL. ok is false when the reference cannot be resolved (e.g.
// unparsable), in which case the caller must leave the original text
// untouched.
func rewriteReference(ref string, opts PlaylistOptions) (string, bool) {
	resolved, err := urlutil.Resolve(opts.TargetURL, ref)
	if err != nil {
		return "", false
	}

	if opts.PreserveQueryParams {
		resolved = mergeTargetQuery(resolved, opts.TargetURL)
	}

	paramName := opts.URLParamName
	if paramName == "" {
		paramName = "url"
	}

	return opts.ProxyBaseURL + "?" + paramName + "=" + url.QueryEscape(resolved), true
}

// mergeTargetQuery appends the target URL's query string onto resolved
// when resolved itself carries no query of its own, so CDN auth tokens
// on the manifest's own URL propagate to same-origin segment references.
func mergeTargetQuery(resolved, targetURL string) string {
	r, err := url.Parse(resolved)
	if err != nil || r.RawQuery != "" {
		return resolved
	}
	t, err := url.Parse(targetURL)
	if err != nil || t.RawQuery == "" || t.Host != r.Host {
		return resolved
	}
	r.RawQuery = t.RawQuery
	return r.String()
}

type lineSpan struct {
	content string
	ending  string
}

// splitKeepEnds splits data into lines while preserving each line's
// original terminator (\r\n, \n, or none for a final unterminated line),
// so RewritePlaylist can guarantee output line endings match the input.
func splitKeepEnds(data []byte) []lineSpan {
	s := string(data)
	var lines []lineSpan

	for len(s) > 0 {
		idx := strings.IndexByte(s, '\n')
		if idx == -1 {
			lines = append(lines, lineSpan{content: s, ending: ""})
			break
		}
		if idx > 0 && s[idx-1] == '\r' {
			lines = append(lines, lineSpan{content: s[:idx-1], ending: "\r\n"})
		} else {
			lines = append(lines, lineSpan{content: s[:idx], ending: "\n"})
		}
		s = s[idx+1:]
	}

	return lines
}

func joinLines(lines []lineSpan) []byte {
	var b strings.Builder
	for _, l := range lines {
		b.WriteString(l.content)
		b.WriteString(l.ending)
	}
	return []byte(b.String())
}
