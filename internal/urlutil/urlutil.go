// Package urlutil provides URL manipulation utilities shared by the
// playlist and subtitle rewriting components.
package urlutil

import (
	"net/url"
	"strings"
)

// Resolve resolves a reference URI found inside a fetched resource (a
// playlist URI, a subtitle image reference) against the resource's own
// target URL. It handles the four shapes that occur in practice:
// absolute ("https://host/a.ts"), protocol-relative ("//host/a.ts"),
// root-relative ("/a.ts"), and path-relative ("a.ts", "../a.ts").
func Resolve(targetURL, ref string) (string, error) {
	base, err := url.Parse(targetURL)
	if err != nil {
		return "", err
	}

	if strings.HasPrefix(ref, "//") {
		ref = base.Scheme + ":" + ref
	}

	rel, err := url.Parse(ref)
	if err != nil {
		return "", err
	}

	return base.ResolveReference(rel).String(), nil
}
