// Package proxy implements the Proxy Pipeline (spec §4.11): the single
// request flow that ties URL admission, header synthesis, the upstream
// fetch, response classification, decompression, rewriting, and caching
// together into the HTTP surface described in spec §6.
package proxy

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/patchbay-io/hlsrelay/internal/admission"
	"github.com/patchbay-io/hlsrelay/internal/cache"
	"github.com/patchbay-io/hlsrelay/internal/domaintemplate"
	"github.com/patchbay-io/hlsrelay/internal/metrics"
	"github.com/patchbay-io/hlsrelay/internal/workerpool"
)

// Config holds the tunables the pipeline needs beyond its collaborators,
// mirroring the upstream/admission sections of the configuration tree
// (spec §6 "Configuration").
type Config struct {
	URLParamName         string
	UpstreamTimeout       time.Duration
	StreamSizeThreshold   int64
	EnableStreaming       bool
	UseCloudflare         bool
	CopyBufferBytes       int
	WorkerInlineMaxBytes  int
}

// Pipeline wires every pipeline collaborator behind the single serve
// entry point used by the HTTP handlers in handlers.go.
type Pipeline struct {
	cfg       Config
	admitter  *admission.Admitter
	templates *domaintemplate.Registry
	cache     *cache.Cache
	pool      *workerpool.Pool
	metrics   *metrics.Metrics
	client    *http.Client
	logger    *slog.Logger
	startedAt time.Time
}

// New assembles a Pipeline from its collaborators. client may be nil, in
// which case http.DefaultClient's transport is reused with the
// pipeline's own per-request timeout applied via context.
func New(cfg Config, admitter *admission.Admitter, templates *domaintemplate.Registry, c *cache.Cache, pool *workerpool.Pool, m *metrics.Metrics, logger *slog.Logger, client *http.Client) *Pipeline {
	if client == nil {
		client = &http.Client{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Pipeline{
		cfg:       cfg,
		admitter:  admitter,
		templates: templates,
		cache:     c,
		pool:      pool,
		metrics:   m,
		client:    client,
		logger:    logger,
		startedAt: time.Now(),
	}
}

// StartedAt returns the time the pipeline (and therefore the process'
// request-handling surface) came up, used by the /status handler.
func (p *Pipeline) StartedAt() time.Time {
	return p.startedAt
}

// serve is the shared core of every URL-source handler in handlers.go:
// given a candidate target URL and its admission verdict, it runs the
// exchange through every stage of spec §4.11.
func (p *Pipeline) serve(w http.ResponseWriter, r *http.Request, targetURL string, admit admission.Result) {
	start := time.Now()
	p.metrics.RequestStarted()

	if !admit.Valid {
		p.writeError(w, http.StatusBadRequest, admissionErrorCode, admit.Reason, targetURL, "")
		p.metrics.RequestFinished(time.Since(start), 0)
		return
	}

	logger := p.logger.With(slog.String("target_url", targetURL), slog.String("method", r.Method))

	// Stage 2: cache lookup (GET only).
	if r.Method == http.MethodGet {
		if p.serveFromCache(w, r, targetURL, start) {
			return
		}
	}

	// Stage 3: synthesize identity headers, merge in forwarded client
	// headers (minus hop-by-hop/forwarding noise), preserve Range.
	headers, err := p.templates.HeadersFor(targetURL)
	if err != nil {
		p.writeError(w, http.StatusBadRequest, admissionErrorCode, "target url could not be parsed for header synthesis", targetURL, "")
		p.metrics.RequestFinished(time.Since(start), 0)
		return
	}
	mergeForwardedHeaders(headers, r.Header)

	// Stage 4: fast-path stream detection.
	fastPath := r.Method == http.MethodGet && p.cfg.EnableStreaming && isFastPathURL(targetURL)

	// Stage 5: upstream fetch with a cancellation tied to the request
	// timeout and the client's own disconnect.
	ctx, cancel := context.WithTimeout(r.Context(), p.cfg.UpstreamTimeout)
	defer cancel()

	var body io.Reader
	if r.Method != http.MethodGet && r.Method != http.MethodHead && r.Method != http.MethodOptions {
		body = r.Body
	}

	upReq, err := http.NewRequestWithContext(ctx, r.Method, targetURL, body)
	if err != nil {
		logger.Error("failed to build upstream request", slog.String("error", err.Error()))
		p.writeError(w, http.StatusBadGateway, upstreamErrorCode, "could not construct upstream request", targetURL, "")
		p.metrics.RequestFinished(time.Since(start), 0)
		return
	}
	upReq.Header = headers
	upReq.Host = upReq.URL.Host
	if body != nil {
		upReq.ContentLength = r.ContentLength
	}
	if rng := r.Header.Get("Range"); rng != "" {
		upReq.Header.Set("Range", rng)
	}

	resp, err := p.client.Do(upReq)
	if err != nil {
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			p.metrics.RecordUpstreamError()
			p.writeError(w, http.StatusGatewayTimeout, upstreamTimeoutCode,
				upstreamTimeoutMessage(p.cfg.UpstreamTimeout), targetURL, "")
			p.metrics.RequestFinished(time.Since(start), 0)
			return
		}
		if r.Context().Err() != nil {
			// ClientAbort: the inbound connection went away before the
			// upstream round trip finished. Silent, per spec §7.
			p.metrics.RecordClientAbort()
			return
		}
		logger.Warn("upstream request failed", slog.String("error", err.Error()))
		p.metrics.RecordUpstreamError()
		p.writeError(w, http.StatusBadGateway, upstreamErrorCode, err.Error(), targetURL, "")
		p.metrics.RequestFinished(time.Since(start), 0)
		return
	}
	defer resp.Body.Close()

	p.handleUpstreamResponse(w, r, resp, targetURL, fastPath, start)
}

// admissionErrorCode, upstreamErrorCode, upstreamTimeoutCode are the
// `error.code` values in the error envelope (spec §6/§7). They mirror
// the HTTP status they accompany, per the scenario in §8 ("response is
// `{error:{code:504,…}`").
const (
	admissionErrorCode = http.StatusBadRequest
	upstreamErrorCode  = http.StatusBadGateway
	upstreamTimeoutCode = http.StatusGatewayTimeout
)
