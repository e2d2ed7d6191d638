package proxy

import (
	"context"
	"encoding/json"
	"net/http"
	"os"
	"runtime"
	"time"

	"github.com/shirou/gopsutil/v4/mem"

	"github.com/patchbay-io/hlsrelay/internal/classify"
	"github.com/patchbay-io/hlsrelay/internal/version"
)

// statusResponse is the body of GET /status (spec §6).
type statusResponse struct {
	Status      string  `json:"status"`
	Version     string  `json:"version"`
	GoVersion   string  `json:"go_version"`
	PID         int     `json:"pid"`
	UptimeSecs  float64 `json:"uptime_seconds"`
	Timestamp   string  `json:"timestamp"`
	Environment envInfo `json:"environment"`
	Memory      memInfo `json:"memory,omitempty"`
}

type envInfo struct {
	UseCloudflare       bool  `json:"use_cloudflare"`
	StreamSizeThreshold int64 `json:"stream_size_threshold"`
	EnableStreaming     bool  `json:"enable_streaming"`
}

type memInfo struct {
	TotalBytes     uint64  `json:"total_bytes"`
	UsedBytes      uint64  `json:"used_bytes"`
	AvailableBytes uint64  `json:"available_bytes"`
	UsedPercent    float64 `json:"used_percent"`
}

// handleStatus serves GET /status: process identity, uptime, and host
// memory, so an operator can tell a stuck relay from a starved host.
func (p *Pipeline) handleStatus(w http.ResponseWriter, r *http.Request) {
	resp := statusResponse{
		Status:     "ok",
		Version:    version.Version,
		GoVersion:  runtime.Version(),
		PID:        os.Getpid(),
		UptimeSecs: time.Since(p.startedAt).Seconds(),
		Timestamp:  time.Now().UTC().Format(time.RFC3339),
		Environment: envInfo{
			UseCloudflare:       p.cfg.UseCloudflare,
			StreamSizeThreshold: p.cfg.StreamSizeThreshold,
			EnableStreaming:     p.cfg.EnableStreaming,
		},
	}

	if vm, err := mem.VirtualMemoryWithContext(r.Context()); err == nil {
		resp.Memory = memInfo{
			TotalBytes:     vm.Total,
			UsedBytes:      vm.Used,
			AvailableBytes: vm.Available,
			UsedPercent:    vm.UsedPercent,
		}
	} else {
		p.logger.Debug("failed to read host memory stats", "error", err)
	}

	p.writeJSON(w, http.StatusOK, resp)
}

// handleCacheStats serves GET /cache/stats.
func (p *Pipeline) handleCacheStats(w http.ResponseWriter, r *http.Request) {
	p.writeJSON(w, http.StatusOK, p.cache.Stats())
}

// handleCacheClear serves POST /cache/clear.
func (p *Pipeline) handleCacheClear(w http.ResponseWriter, r *http.Request) {
	p.cache.Clear()
	p.writeJSON(w, http.StatusOK, map[string]bool{"cleared": true})
}

// handleWorkerStats serves GET /workers/stats.
func (p *Pipeline) handleWorkerStats(w http.ResponseWriter, r *http.Request) {
	p.writeJSON(w, http.StatusOK, p.pool.Stats())
}

// handleMetrics serves GET /metrics.
func (p *Pipeline) handleMetrics(w http.ResponseWriter, r *http.Request) {
	p.writeJSON(w, http.StatusOK, p.metrics.Snapshot())
}

// handleMetricsReset serves POST /metrics/reset.
func (p *Pipeline) handleMetricsReset(w http.ResponseWriter, r *http.Request) {
	p.metrics.Reset()
	p.writeJSON(w, http.StatusOK, map[string]bool{"reset": true})
}

// debugResponse is the body of GET /debug, a probe that runs admission
// and a HEAD request against a candidate URL without proxying its body
// (a supplemented diagnostic surface beyond the distilled spec, useful
// for answering "why won't this URL relay" without tailing logs).
type debugResponse struct {
	URL              string `json:"url"`
	Admitted         bool   `json:"admitted"`
	AdmissionReason  string `json:"admission_reason,omitempty"`
	ClassifiedAs     string `json:"classified_as,omitempty"`
	UpstreamStatus   int    `json:"upstream_status,omitempty"`
	UpstreamType     string `json:"upstream_content_type,omitempty"`
	UpstreamLength   int64  `json:"upstream_content_length,omitempty"`
	UpstreamEncoding string `json:"upstream_content_encoding,omitempty"`
	Error            string `json:"error,omitempty"`
}

// handleDebug serves GET /debug?url=....
func (p *Pipeline) handleDebug(w http.ResponseWriter, r *http.Request) {
	raw := r.URL.Query().Get(p.urlParamOrDefault())
	targetURL, admit := p.admitter.FromQueryParam(raw)

	resp := debugResponse{
		URL:             targetURL,
		Admitted:        admit.Valid,
		AdmissionReason: admit.Reason,
	}
	if !admit.Valid {
		p.writeJSON(w, http.StatusOK, resp)
		return
	}

	resp.ClassifiedAs = classify.Arbitrate(targetURL, "", nil)

	ctx, cancel := context.WithTimeout(r.Context(), p.cfg.UpstreamTimeout)
	defer cancel()

	headReq, err := http.NewRequestWithContext(ctx, http.MethodHead, targetURL, nil)
	if err != nil {
		resp.Error = err.Error()
		p.writeJSON(w, http.StatusOK, resp)
		return
	}
	headers, err := p.templates.HeadersFor(targetURL)
	if err != nil {
		resp.Error = err.Error()
		p.writeJSON(w, http.StatusOK, resp)
		return
	}
	headReq.Header = headers

	upResp, err := p.client.Do(headReq)
	if err != nil {
		resp.Error = err.Error()
		p.writeJSON(w, http.StatusOK, resp)
		return
	}
	defer upResp.Body.Close()

	resp.UpstreamStatus = upResp.StatusCode
	resp.UpstreamType = upResp.Header.Get("Content-Type")
	resp.UpstreamLength = upResp.ContentLength
	resp.UpstreamEncoding = upResp.Header.Get("Content-Encoding")
	resp.ClassifiedAs = classify.Arbitrate(targetURL, resp.UpstreamType, nil)

	p.writeJSON(w, http.StatusOK, resp)
}

func (p *Pipeline) writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	applyCORSHeaders(w)
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		p.logger.Warn("failed to encode JSON response", "error", err)
	}
}
