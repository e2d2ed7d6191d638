package rewrite

import (
	"net/url"
	"regexp"

	"github.com/patchbay-io/hlsrelay/internal/urlutil"
)

// imageRefPattern matches image/thumbnail references embedded in WebVTT
// cue text (spec §4.8).
var imageRefPattern = regexp.MustCompile(`(?i)[^\s"']+?\.(?:jpg|jpeg|png|gif|webp)`)

// RewriteSubtitle rewrites every image reference in a WebVTT document so
// it routes back through the proxy. On any error resolving the target
// URL, the original text is returned unmodified, matching the spec's
// RewriteError policy (§7).
func RewriteSubtitle(data []byte, targetURL, proxyBaseURL, urlParamName string) []byte {
	text := string(data)
	matches := imageRefPattern.FindAllString(text, -1)
	if len(matches) == 0 {
		return data
	}

	if urlParamName == "" {
		urlParamName = "url"
	}

	replacements := make(map[string]string, len(matches))
	for _, ref := range matches {
		if _, ok := replacements[ref]; ok {
			continue
		}

		resolved, err := urlutil.Resolve(targetURL, ref)
		if err != nil {
			continue
		}

		replacements[ref] = proxyBaseURL + "?" + urlParamName + "=" + url.QueryEscape(resolved)
	}

	// Replace at each match's own position in a single pass instead of
	// repeated whole-text ReplaceAll calls, so a reference that is a
	// substring of another (e.g. "a.jpg" inside "xa.jpg") can't corrupt
	// the longer one.
	out := imageRefPattern.ReplaceAllStringFunc(text, func(ref string) string {
		if proxied, ok := replacements[ref]; ok {
			return proxied
		}
		return ref
	})

	return []byte(out)
}
