package proxy

import (
	"context"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/patchbay-io/hlsrelay/internal/cache"
	"github.com/patchbay-io/hlsrelay/internal/classify"
	"github.com/patchbay-io/hlsrelay/internal/decompress"
	"github.com/patchbay-io/hlsrelay/internal/rewrite"
)

// handleUpstreamResponse implements spec §4.11 step 6: it classifies the
// upstream response and routes it to the handler for that case.
func (p *Pipeline) handleUpstreamResponse(w http.ResponseWriter, r *http.Request, resp *http.Response, targetURL string, fastPathHint bool, start time.Time) {
	upstreamCT := resp.Header.Get("Content-Type")
	encoding := strings.ToLower(resp.Header.Get("Content-Encoding"))

	switch {
	case resp.StatusCode == http.StatusPartialContent:
		p.passthroughPartial(w, resp, start)
	case classify.IsAudioSegment(targetURL, upstreamCT):
		p.passthroughAudio(w, resp, start)
	case classify.NeedsM3U8Rewriting(targetURL, upstreamCT):
		p.handlePlaylist(w, r, resp, targetURL, encoding, start)
	case classify.IsVTT(targetURL, upstreamCT):
		p.handleSubtitle(w, r, resp, targetURL, encoding, start)
	case fastPathHint || (resp.ContentLength > 0 && resp.ContentLength > p.cfg.StreamSizeThreshold):
		p.streamRaw(w, r, resp, encoding, start)
	default:
		p.handleBuffered(w, r, resp, targetURL, upstreamCT, encoding, start)
	}
}

// passthroughPartial forwards a 206 Partial Content response byte for
// byte, preserving Content-Range (spec §4.11 step 6).
func (p *Pipeline) passthroughPartial(w http.ResponseWriter, resp *http.Response, start time.Time) {
	copyResponseHeaders(w, resp.Header, false)
	applyCORSHeaders(w)
	p.applyCacheStatusHeader(w, false)
	w.Header().Set("Accept-Ranges", "bytes")
	w.WriteHeader(resp.StatusCode)
	n := p.copyBody(w, resp.Body)
	p.metrics.RequestFinished(time.Since(start), n)
}

// passthroughAudio forwards an audio segment unmodified, including its
// Content-Encoding, per the "pass through unmodified byte-for-byte"
// rule in spec §4.11 step 6.
func (p *Pipeline) passthroughAudio(w http.ResponseWriter, resp *http.Response, start time.Time) {
	copyResponseHeaders(w, resp.Header, false)
	applyCORSHeaders(w)
	p.applyCacheStatusHeader(w, false)
	w.Header().Set("Accept-Ranges", "bytes")
	w.WriteHeader(resp.StatusCode)
	n := p.copyBody(w, resp.Body)
	p.metrics.RequestFinished(time.Since(start), n)
}

// streamRaw implements the stream path (spec §4.11 "Stream path
// specifics"): an unencoded body is piped directly; an encoded body is
// materialized, decompressed, and written in one shot. Either way the
// response is never written to the cache.
func (p *Pipeline) streamRaw(w http.ResponseWriter, r *http.Request, resp *http.Response, encoding string, start time.Time) {
	applyCORSHeaders(w)
	p.applyCacheStatusHeader(w, false)
	p.applyStreamingHeaders(w)

	if encoding == "" {
		copyResponseHeaders(w, resp.Header, false)
		w.WriteHeader(resp.StatusCode)
		n := p.copyBody(w, resp.Body)
		p.metrics.RequestFinished(time.Since(start), n)
		return
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		p.writeError(w, http.StatusBadGateway, upstreamErrorCode, "failed reading upstream body", "", "")
		p.metrics.RequestFinished(time.Since(start), 0)
		return
	}

	out, derr := p.decompressBody(r.Context(), data, encoding)
	decompressed := derr == nil
	if !decompressed {
		out = data
	}
	copyResponseHeaders(w, resp.Header, decompressed)
	w.WriteHeader(resp.StatusCode)
	n, _ := w.Write(out)
	p.metrics.RequestFinished(time.Since(start), int64(n))
}

// handlePlaylist implements the M3U8 branch of spec §4.11 step 6: the
// body is materialized, decompressed, rewritten so nested URIs route
// back through the proxy, and served with the manifest content type.
func (p *Pipeline) handlePlaylist(w http.ResponseWriter, r *http.Request, resp *http.Response, targetURL, encoding string, start time.Time) {
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		p.writeError(w, http.StatusBadGateway, upstreamErrorCode, "failed reading upstream body", targetURL, "")
		p.metrics.RequestFinished(time.Since(start), 0)
		return
	}

	decompressed := encoding == ""
	if encoding != "" {
		out, derr := p.decompressBody(r.Context(), data, encoding)
		if derr != nil {
			// DecompressionError: soft failure, original bytes flow
			// through with Content-Encoding preserved (spec §7).
			p.emitFinal(w, resp, classify.MimeM3U8, data, false, start)
			return
		}
		data = out
		decompressed = true
	}

	proxyBase := proxyBaseURL(r)
	rewritten, _ := rewrite.RewritePlaylist(data, rewrite.PlaylistOptions{
		ProxyBaseURL:        proxyBase,
		TargetURL:           targetURL,
		URLParamName:        p.cfg.URLParamName,
		PreserveQueryParams: true,
	})

	p.emitFinal(w, resp, classify.MimeM3U8, rewritten, decompressed, start)
	p.maybeCache(r, targetURL, resp.StatusCode, decompressed, rewritten)
}

// handleSubtitle implements the VTT branch of spec §4.11 step 6.
func (p *Pipeline) handleSubtitle(w http.ResponseWriter, r *http.Request, resp *http.Response, targetURL, encoding string, start time.Time) {
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		p.writeError(w, http.StatusBadGateway, upstreamErrorCode, "failed reading upstream body", targetURL, "")
		p.metrics.RequestFinished(time.Since(start), 0)
		return
	}

	decompressed := encoding == ""
	if encoding != "" {
		out, derr := p.decompressBody(r.Context(), data, encoding)
		if derr != nil {
			p.emitFinal(w, resp, classify.MimeVTT, data, false, start)
			return
		}
		data = out
		decompressed = true
	}

	proxyBase := proxyBaseURL(r)
	rewritten := rewrite.RewriteSubtitle(data, targetURL, proxyBase, p.cfg.URLParamName)

	p.emitFinal(w, resp, classify.MimeVTT, rewritten, decompressed, start)
	p.maybeCache(r, targetURL, resp.StatusCode, decompressed, rewritten)
}

// handleBuffered implements the default branch of spec §4.11 step 6:
// decompress (if encoded), arbitrate the final content type, and serve.
func (p *Pipeline) handleBuffered(w http.ResponseWriter, r *http.Request, resp *http.Response, targetURL, upstreamCT, encoding string, start time.Time) {
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		p.writeError(w, http.StatusBadGateway, upstreamErrorCode, "failed reading upstream body", targetURL, "")
		p.metrics.RequestFinished(time.Since(start), 0)
		return
	}

	decompressed := encoding == ""
	if encoding != "" {
		out, derr := p.decompressBody(r.Context(), data, encoding)
		if derr == nil {
			data = out
			decompressed = true
		}
	}

	contentType := classify.Arbitrate(targetURL, upstreamCT, data)
	p.emitFinal(w, resp, contentType, data, decompressed, start)
	p.maybeCache(r, targetURL, resp.StatusCode, decompressed, data)
}

// emitFinal writes a fully-materialized response body: headers, status,
// content type, and body, then records the terminal metrics sample.
func (p *Pipeline) emitFinal(w http.ResponseWriter, resp *http.Response, contentType string, body []byte, decompressed bool, start time.Time) {
	copyResponseHeaders(w, resp.Header, decompressed)
	applyCORSHeaders(w)
	p.applyCacheStatusHeader(w, false)
	w.Header().Set("Accept-Ranges", "bytes")
	if contentType != "" {
		w.Header().Set("Content-Type", contentType)
	}
	status := resp.StatusCode
	if status == 0 {
		status = http.StatusOK
	}
	w.WriteHeader(status)
	n, _ := w.Write(body)
	p.metrics.RequestFinished(time.Since(start), int64(n))
}

// maybeCache stores a fully-materialized, already-processed body under
// the request's fingerprint, when eligible: GET, 200 OK, no
// client-supplied Range, and no decompression failure — per spec §3
// ("Entries are never stored for Range requests, for non-200 responses,
// or after a decompression failure") and §4.6.
func (p *Pipeline) maybeCache(r *http.Request, targetURL string, statusCode int, decompressOK bool, body []byte) {
	if r.Method != http.MethodGet {
		return
	}
	if statusCode != http.StatusOK {
		return
	}
	if !decompressOK {
		return
	}
	if r.Header.Get("Range") != "" {
		return
	}
	key := cache.Fingerprint(targetURL, proxyBaseURL(r), r.Header)
	p.cache.Put(key, body)
}

// decompressBody routes large bodies through the worker pool, falling
// back to an inline decode when the pool is full, stopped, or the body
// is small enough that the round trip isn't worth it (spec §4.5, §9
// "Worker degradation").
func (p *Pipeline) decompressBody(ctx context.Context, data []byte, encoding string) ([]byte, error) {
	if len(data) <= p.cfg.WorkerInlineMaxBytes {
		return decompress.Decompress(data, encoding)
	}

	out, err := p.pool.Decompress(ctx, data, encoding)
	if err != nil {
		p.metrics.RecordWorkerFailure()
		return decompress.Decompress(data, encoding)
	}
	p.metrics.RecordWorkerSuccess()
	return out, nil
}

// copyBody streams body to w using a bounded buffer, flushing after
// every write (spec §9: "stream copying uses bounded intermediate
// buffers (≤ 64 KiB)"), and returns the number of bytes written.
func (p *Pipeline) copyBody(w http.ResponseWriter, body io.Reader) int64 {
	bufSize := p.cfg.CopyBufferBytes
	if bufSize <= 0 || bufSize > 64*1024 {
		bufSize = 32 * 1024
	}
	buf := make([]byte, bufSize)
	flusher, _ := w.(http.Flusher)

	var total int64
	for {
		n, err := body.Read(buf)
		if n > 0 {
			if _, werr := w.Write(buf[:n]); werr != nil {
				return total
			}
			total += int64(n)
			if flusher != nil {
				flusher.Flush()
			}
		}
		if err != nil {
			if err != io.EOF {
				p.logger.Debug("upstream read error", "error", err)
			}
			break
		}
	}
	return total
}
