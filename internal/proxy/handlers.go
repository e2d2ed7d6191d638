package proxy

import (
	"net/http"

	"github.com/go-chi/chi/v5"
)

// proxyMethods are every HTTP method the proxy surface accepts on its
// three URL-source routes (spec §6).
var proxyMethods = []string{
	http.MethodGet, http.MethodPost, http.MethodPut,
	http.MethodDelete, http.MethodOptions, http.MethodPatch,
}

// Register wires every route in spec §6 onto router: the three
// URL-source forms, and the admin/introspection endpoints in admin.go.
func (p *Pipeline) Register(router chi.Router) {
	for _, method := range proxyMethods {
		router.Method(method, "/", http.HandlerFunc(p.handleQueryParam))
		router.Method(method, "/base64/{encodedUrl}", http.HandlerFunc(p.handleBase64Path))
		router.Method(method, "/*", http.HandlerFunc(p.handleInlinePath))
	}

	router.Get("/status", p.handleStatus)
	router.Get("/cache/stats", p.handleCacheStats)
	router.Post("/cache/clear", p.handleCacheClear)
	router.Get("/workers/stats", p.handleWorkerStats)
	router.Get("/metrics", p.handleMetrics)
	router.Post("/metrics/reset", p.handleMetricsReset)
	router.Get("/debug", p.handleDebug)
}

// handleQueryParam serves the `?url=` form of the proxy surface.
func (p *Pipeline) handleQueryParam(w http.ResponseWriter, r *http.Request) {
	raw := r.URL.Query().Get(p.urlParamOrDefault())
	targetURL, admit := p.admitter.FromQueryParam(raw)
	p.serve(w, r, targetURL, admit)
}

// handleInlinePath serves the `/<url>` inline-path form of the proxy
// surface, where the full remaining path (minus the leading slash) is
// the candidate URL, e.g. /example.com/path/to/video.m3u8.
func (p *Pipeline) handleInlinePath(w http.ResponseWriter, r *http.Request) {
	segment := chi.URLParam(r, "*")
	targetURL, admit := p.admitter.FromInlinePath(segment)
	p.serve(w, r, targetURL, admit)
}

// handleBase64Path serves the `/base64/<encoded>` form of the proxy
// surface.
func (p *Pipeline) handleBase64Path(w http.ResponseWriter, r *http.Request) {
	encoded := chi.URLParam(r, "encodedUrl")
	targetURL, admit := p.admitter.FromBase64Path(encoded)
	p.serve(w, r, targetURL, admit)
}

func (p *Pipeline) urlParamOrDefault() string {
	if p.cfg.URLParamName == "" {
		return "url"
	}
	return p.cfg.URLParamName
}
