package proxy

import (
	"bytes"
	"compress/gzip"
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/patchbay-io/hlsrelay/internal/admission"
	"github.com/patchbay-io/hlsrelay/internal/cache"
	"github.com/patchbay-io/hlsrelay/internal/decompress"
	"github.com/patchbay-io/hlsrelay/internal/domaintemplate"
	"github.com/patchbay-io/hlsrelay/internal/metrics"
	"github.com/patchbay-io/hlsrelay/internal/workerpool"
)

// newTestPipeline assembles a Pipeline with real collaborators (no
// mocks — every subsystem this orchestrates is fast enough to run
// in-process) and registers it on a chi router, mirroring the wiring in
// cmd/hlsrelay/cmd/serve.go.
func newTestPipeline(t *testing.T) (*Pipeline, *cache.Cache, *httptest.Server) {
	t.Helper()

	admitter := admission.New(2048, nil)
	templates := domaintemplate.Default()
	c := cache.New(10*1024*1024, 1024*1024)
	pool := workerpool.New(2, 8, decompress.Decompress)
	t.Cleanup(pool.Stop)
	m := metrics.New()

	cfg := Config{
		URLParamName:         "url",
		UpstreamTimeout:      5 * time.Second,
		StreamSizeThreshold:  1 << 20,
		EnableStreaming:      true,
		CopyBufferBytes:      32 * 1024,
		WorkerInlineMaxBytes: 64 * 1024,
	}
	p := New(cfg, admitter, templates, c, pool, m, nil, nil)

	router := chi.NewRouter()
	p.Register(router)
	front := httptest.NewServer(router)
	t.Cleanup(front.Close)

	return p, c, front
}

func proxyURL(front *httptest.Server, target string) string {
	v := url.Values{}
	v.Set("url", target)
	return front.URL + "/?" + v.Encode()
}

func TestMaybeCache_WritesOn200(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("hello world"))
	}))
	defer upstream.Close()

	_, c, front := newTestPipeline(t)

	resp, err := http.Get(proxyURL(front, upstream.URL+"/file.bin"))
	require.NoError(t, err)
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "hello world", string(body))

	assert.Equal(t, 1, c.Stats().Entries)
}

func TestMaybeCache_SkipsNon200(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		_, _ = w.Write([]byte("not found"))
	}))
	defer upstream.Close()

	_, c, front := newTestPipeline(t)

	resp, err := http.Get(proxyURL(front, upstream.URL+"/missing.bin"))
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	assert.Equal(t, 0, c.Stats().Entries, "a non-200 upstream response must never be cached")
}

// badPayload is too short to satisfy any codec in the Decompression
// Engine's fallback chain: it fails gzip and zstd's magic-number check
// immediately, and is short enough that neither brotli nor deflate (which
// have no magic number) can produce a non-empty decode from it, so every
// codec in fallbackOrder errors out deterministically.
var badPayload = []byte{0x00, 0x01, 0x02, 0x03}

func TestMaybeCache_SkipsOnDecompressionFailure(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain")
		w.Header().Set("Content-Encoding", "gzip")
		w.WriteHeader(http.StatusOK)
		// Declares gzip but the body is not actually gzip-compressed, so
		// every decode attempt in the Decompression Engine fails.
		_, _ = w.Write(badPayload)
	}))
	defer upstream.Close()

	_, c, front := newTestPipeline(t)

	// An explicit Accept-Encoding stops the client transport from
	// gunzipping the passed-through body on its own.
	req, err := http.NewRequest(http.MethodGet, proxyURL(front, upstream.URL+"/bad.bin"), nil)
	require.NoError(t, err)
	req.Header.Set("Accept-Encoding", "identity")
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, badPayload, body, "a failed decode must fall through to the original bytes")

	assert.Equal(t, 0, c.Stats().Entries, "a response that failed to decompress must never be cached")
}

func TestMaybeCache_SkipsRangeRequests(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("0123456789"))
	}))
	defer upstream.Close()

	_, c, front := newTestPipeline(t)

	req, err := http.NewRequest(http.MethodGet, proxyURL(front, upstream.URL+"/file.bin"), nil)
	require.NoError(t, err)
	req.Header.Set("Range", "bytes=0-3")

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, 0, c.Stats().Entries, "a client Range request must never populate the cache")
}

func TestCacheHit_HonorsRange(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("0123456789"))
	}))
	defer upstream.Close()

	_, c, front := newTestPipeline(t)

	target := upstream.URL + "/file.bin"

	// First request: cache miss, populates the entry.
	resp, err := http.Get(proxyURL(front, target))
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, 1, c.Stats().Entries)

	// Second request, with a Range header: must be served from cache as
	// a 206, since Range is excluded from the fingerprint.
	req, err := http.NewRequest(http.MethodGet, proxyURL(front, target), nil)
	require.NoError(t, err)
	req.Header.Set("Range", "bytes=0-3")

	resp, err = http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Equal(t, http.StatusPartialContent, resp.StatusCode)
	assert.Equal(t, "bytes 0-3/10", resp.Header.Get("Content-Range"))
	assert.Equal(t, "0123", string(body))
}

func TestServe_FastPathStreamsSegment(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "video/mp2t")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write(make([]byte, 1024))
	}))
	defer upstream.Close()

	_, c, front := newTestPipeline(t)

	resp, err := http.Get(proxyURL(front, upstream.URL+"/segment-1.ts"))
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "no", resp.Header.Get("X-Accel-Buffering"))
	assert.Equal(t, "MISS", resp.Header.Get("X-Cache"))
	// The stream path never writes to the cache (spec §4.11 "Stream path
	// specifics").
	assert.Equal(t, 0, c.Stats().Entries)
}

func TestServe_PUTPropagatesContentLength(t *testing.T) {
	var gotContentLength int64
	var gotTransferEncoding []string
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotContentLength = r.ContentLength
		gotTransferEncoding = r.TransferEncoding
		_, _ = io.Copy(io.Discard, r.Body)
		w.WriteHeader(http.StatusOK)
	}))
	defer upstream.Close()

	_, _, front := newTestPipeline(t)

	body := bytes.NewReader([]byte("hello world"))
	req, err := http.NewRequest(http.MethodPut, proxyURL(front, upstream.URL+"/upload"), body)
	require.NoError(t, err)
	req.ContentLength = int64(body.Len())

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, int64(len("hello world")), gotContentLength, "the upstream request must carry the original Content-Length instead of falling back to chunked transfer")
	assert.Empty(t, gotTransferEncoding)
}

func TestServe_AdmissionRejectionReturns400(t *testing.T) {
	_, _, front := newTestPipeline(t)

	resp, err := http.Get(front.URL + "/?url=")
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, "application/json", resp.Header.Get("Content-Type"))
}

func TestServe_UpstreamTimeoutReturns504(t *testing.T) {
	block := make(chan struct{})
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-block
	}))
	defer func() {
		close(block)
		upstream.Close()
	}()

	admitter := admission.New(2048, nil)
	templates := domaintemplate.Default()
	c := cache.New(1024*1024, 1024*1024)
	pool := workerpool.New(1, 4, decompress.Decompress)
	t.Cleanup(pool.Stop)
	m := metrics.New()

	cfg := Config{
		URLParamName:        "url",
		UpstreamTimeout:     50 * time.Millisecond,
		StreamSizeThreshold: 1 << 20,
		EnableStreaming:     true,
	}
	p := New(cfg, admitter, templates, c, pool, m, nil, nil)
	router := chi.NewRouter()
	p.Register(router)
	front := httptest.NewServer(router)
	defer front.Close()

	resp, err := http.Get(proxyURL(front, upstream.URL+"/slow.ts"))
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusGatewayTimeout, resp.StatusCode)
}

func TestHandlePlaylist_InlinePathRewritesToQueryParamForm(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/vnd.apple.mpegurl")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("#EXTM3U\n#EXTINF:10,\nsegment-1.ts\n"))
	}))
	defer upstream.Close()

	_, _, front := newTestPipeline(t)

	// Request the playlist via the inline-path form instead of `?url=`.
	// FromInlinePath keeps an explicit scheme when the segment already
	// carries one, so the "http://" prefix must survive in the path.
	resp, err := http.Get(front.URL + "/" + upstream.URL + "/master.m3u8")
	require.NoError(t, err)
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	// The rewritten segment reference must round-trip through the
	// `?url=` route regardless of which route the playlist itself
	// arrived on, since that's the only route that inspects a `?url=`
	// query string.
	assert.Contains(t, string(body), front.URL+"/?url=", "nested URIs must always resolve back through the query-param route")
}

func TestMaybeCache_PlaylistRewriteCachesOnSuccess(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/vnd.apple.mpegurl")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("#EXTM3U\n#EXTINF:10,\nsegment-1.ts\n"))
	}))
	defer upstream.Close()

	_, c, front := newTestPipeline(t)

	resp, err := http.Get(proxyURL(front, upstream.URL+"/master.m3u8"))
	require.NoError(t, err)
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, string(body), front.URL, "nested URIs must be rewritten to route back through the proxy")

	assert.Equal(t, 1, c.Stats().Entries)
}

func TestDecompressBody_GzipRoundTrip(t *testing.T) {
	var compressed bytes.Buffer
	gz := gzip.NewWriter(&compressed)
	_, err := gz.Write([]byte("hello gzip world"))
	require.NoError(t, err)
	require.NoError(t, gz.Close())

	p, _, _ := newTestPipeline(t)

	out, err := p.decompressBody(context.Background(), compressed.Bytes(), "gzip")
	require.NoError(t, err)
	assert.Equal(t, "hello gzip world", string(out))
}
