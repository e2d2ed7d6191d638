package proxy

import (
	"net/http"
	"strings"

	"github.com/patchbay-io/hlsrelay/internal/classify"
)

// dropRequestHeaders are stripped from the client's inbound request
// before merging the remainder onto the synthesized upstream headers
// (spec §4.11 step 3: "drop hop-by-hop and forwarding headers").
var dropRequestHeaders = map[string]bool{
	"host":           true,
	"connection":     true,
	"content-length": true,
	"forwarded":      true,
}

// mergeForwardedHeaders copies the client's request headers onto dst,
// minus the drop-set and any X-Forwarded-* header, without overwriting a
// key the domain template already populated (the template wins on
// conflict, matching "merged over the matched template's headers").
func mergeForwardedHeaders(dst http.Header, src http.Header) {
	for name, values := range src {
		if len(values) == 0 {
			continue
		}
		lower := strings.ToLower(name)
		if dropRequestHeaders[lower] || strings.HasPrefix(lower, "x-forwarded-") {
			continue
		}
		if dst.Get(name) != "" {
			continue
		}
		dst.Set(name, values[0])
	}
}

// isFastPathURL implements spec §4.11 step 4's fast-path test: a
// streaming extension, a segment-naming marker, or a disguised segment.
func isFastPathURL(targetURL string) bool {
	return classify.IsStreamingFormat(targetURL) ||
		classify.HasSegmentMarker(targetURL) ||
		classify.IsDisguisedSegment(targetURL)
}

// hopByHopResponseHeaders are never copied from the upstream response
// (spec §4.11 step 7: "copy upstream headers minus {connection,
// transfer-encoding}").
var hopByHopResponseHeaders = map[string]bool{
	"connection":        true,
	"transfer-encoding": true,
	"content-length":    true, // recomputed by the Go server from the body written
}

// copyResponseHeaders copies the upstream response's headers onto w,
// applying the drop-set and clearing Content-Encoding when the body has
// already been decompressed.
func copyResponseHeaders(w http.ResponseWriter, upstream http.Header, decompressed bool) {
	for name, values := range upstream {
		lower := strings.ToLower(name)
		if hopByHopResponseHeaders[lower] {
			continue
		}
		if decompressed && lower == "content-encoding" {
			continue
		}
		for _, v := range values {
			w.Header().Add(name, v)
		}
	}
}

// applyCORSHeaders sets the fixed CORS response headers required by
// spec §6 regardless of the inbound Origin.
func applyCORSHeaders(w http.ResponseWriter) {
	h := w.Header()
	h.Set("Access-Control-Allow-Origin", "*")
	h.Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS, PATCH")
	h.Set("Access-Control-Allow-Headers", "Accept, Authorization, Content-Type, Range, X-Request-ID")
	h.Set("Access-Control-Expose-Headers", "Content-Length, Content-Range, Content-Type, Accept-Ranges, X-Request-ID")
}

// applyCacheStatusHeader sets X-Cache to HIT or MISS. The Cloudflare
// compatibility header is set by applyStreamingHeaders, not here.
func (p *Pipeline) applyCacheStatusHeader(w http.ResponseWriter, hit bool) {
	if hit {
		w.Header().Set("X-Cache", "HIT")
	} else {
		w.Header().Set("X-Cache", "MISS")
	}
}

// applyStreamingHeaders sets the headers specific to the stream path:
// Accept-Ranges for media, X-Accel-Buffering to defeat intermediary
// buffering, and (if configured) the Cloudflare compatibility pair.
func (p *Pipeline) applyStreamingHeaders(w http.ResponseWriter) {
	w.Header().Set("Accept-Ranges", "bytes")
	w.Header().Set("X-Accel-Buffering", "no")
	if p.cfg.UseCloudflare {
		w.Header().Set("CF-Cache-Status", "DYNAMIC")
	}
}
