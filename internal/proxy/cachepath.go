package proxy

import (
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/patchbay-io/hlsrelay/internal/cache"
	"github.com/patchbay-io/hlsrelay/internal/classify"
)

// serveFromCache implements spec §4.11 step 2: a GET-only cache lookup.
// It reports whether the request was fully handled from cache.
func (p *Pipeline) serveFromCache(w http.ResponseWriter, r *http.Request, targetURL string, start time.Time) bool {
	key := cache.Fingerprint(targetURL, proxyBaseURL(r), r.Header)
	entry, ok := p.cache.Get(key)
	if !ok {
		p.metrics.RecordCacheMiss()
		return false
	}
	p.metrics.RecordCacheHit()

	contentType := classify.Arbitrate(targetURL, "", entry.Bytes)

	applyCORSHeaders(w)
	p.applyCacheStatusHeader(w, true)
	w.Header().Set("Accept-Ranges", "bytes")
	w.Header().Set("Content-Type", contentType)

	if rangeHeader := r.Header.Get("Range"); rangeHeader != "" {
		if rangeStart, rangeEnd, ok := parseRange(rangeHeader, int64(len(entry.Bytes))); ok {
			result := entry.Slice(rangeStart, rangeEnd)
			if result.Satisfiable {
				w.Header().Set("Content-Range", fmt.Sprintf("bytes %d-%d/%d", result.Start, result.End, result.Total))
				w.WriteHeader(http.StatusPartialContent)
				n, _ := w.Write(result.Data)
				p.metrics.RequestFinished(time.Since(start), int64(n))
				return true
			}
		}
	}

	w.WriteHeader(http.StatusOK)
	n, _ := w.Write(entry.Bytes)
	p.metrics.RequestFinished(time.Since(start), int64(n))
	return true
}

// parseRange parses a single-range "bytes=start-end" request header
// against a body of the given size. Suffix ranges ("bytes=-500") and
// multi-range requests are not supported; both report ok=false so the
// caller falls back to a full 200 response.
func parseRange(header string, size int64) (start, end int64, ok bool) {
	const prefix = "bytes="
	if !strings.HasPrefix(header, prefix) {
		return 0, 0, false
	}
	spec := strings.TrimPrefix(header, prefix)
	if strings.Contains(spec, ",") {
		return 0, 0, false
	}

	parts := strings.SplitN(spec, "-", 2)
	if len(parts) != 2 || parts[0] == "" {
		return 0, 0, false
	}

	s, err := strconv.ParseInt(parts[0], 10, 64)
	if err != nil {
		return 0, 0, false
	}

	e := size - 1
	if parts[1] != "" {
		e, err = strconv.ParseInt(parts[1], 10, 64)
		if err != nil {
			return 0, 0, false
		}
	}

	return s, e, true
}

// proxyBaseURL reconstructs the scheme+host this request arrived on, so
// the playlist/subtitle rewriters can build self-referencing URLs
// without the pipeline needing to know its own external address.
//
// It deliberately omits r.URL.Path: every rewritten reference is
// emitted in the `?url=` query-param form (rewriteReference,
// RewriteSubtitle), which only round-trips back through
// handleQueryParam at the "/" mount point. A client may have reached
// this response via the inline-path ("/example.com/path") or
// "/base64/{encodedUrl}" form instead, and neither of those routes
// looks at a `?url=` query string — folding the original request's
// path into the base would bake in a self-reference that resolves to
// the wrong route (or back to the original URL) for every nested
// segment/variant/subtitle-image reference.
func proxyBaseURL(r *http.Request) string {
	scheme := "http"
	if r.TLS != nil {
		scheme = "https"
	}
	if proto := r.Header.Get("X-Forwarded-Proto"); proto != "" {
		scheme = proto
	}

	host := r.Host
	if fwd := r.Header.Get("X-Forwarded-Host"); fwd != "" {
		host = fwd
	}

	return scheme + "://" + host + "/"
}
