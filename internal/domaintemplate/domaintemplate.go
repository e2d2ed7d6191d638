// Package domaintemplate implements the Domain Template Registry (spec
// §4.2): matching an upstream hostname to a template that supplies the
// synthesized request identity (Origin, Referer, User-Agent) the proxy
// presents to that host.
package domaintemplate

import (
	"net/http"
	"net/url"
	"path"
	"strings"
	"sync"
)

// Template is one entry in the registry: a host pattern plus the static
// headers to merge in when the pattern matches. Pattern is matched with
// path.Match semantics against the lowercased hostname, so "*" matches
// any host (the registry's required fallback) and "*.example.com"
// matches subdomains. Headers are cloned on every lookup; they must not
// be mutated by callers.
//
// When loaded through internal/config (viper), Headers keys come back
// lowercased regardless of how the operator cased them in YAML — viper
// lowercases nested map keys while reading a config file. HeadersFor
// still produces the correctly-cased HTTP header, since http.Header.Set
// re-canonicalizes the key on every call.
type Template struct {
	Pattern string            `mapstructure:"pattern" yaml:"pattern"`
	Headers map[string]string `mapstructure:"headers" yaml:"headers"`
}

// defaultUserAgents is the small fixed set User-Agent values are drawn
// from per request (spec §3 "Synthesized Request Headers").
var defaultUserAgents = []string{
	"Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/124.0.0.0 Safari/537.36",
	"Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/605.1.15 (KHTML, like Gecko) Version/17.4 Safari/605.1.15",
	"Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/124.0.0.0 Safari/537.36",
	"Mozilla/5.0 (iPhone; CPU iPhone OS 17_4 like Mac OS X) AppleWebKit/605.1.15 (KHTML, like Gecko) Version/17.4 Mobile/15E148 Safari/604.1",
}

// droppedHeaders are unconditionally stripped from synthesized headers
// to avoid poisoning upstream caching (spec §4.2).
var droppedHeaders = []string{"Cache-Control", "Pragma"}

// maxCachedHosts bounds the hostname memoization cache so a client
// requesting many distinct hostnames (accidentally or adversarially)
// can't grow it without limit; once full, new hostnames simply fall
// back to the cheap linear template scan instead of being memoized.
const maxCachedHosts = 4096

// Registry holds the ordered template list and caches the hostname ->
// static-header-snapshot lookup. The cache never stores the randomized
// User-Agent or the per-URL Origin/Referer, which are recomputed on
// every call; it only memoizes which template matched, avoiding the
// linear scan for hot hostnames.
type Registry struct {
	templates []Template

	mu    sync.RWMutex
	cache map[string]map[string]string

	nextUserAgent func() string
}

// New creates a Registry from an ordered template list. If the last
// template does not match every host, a catch-all fallback ("*", no
// extra headers) is appended so the registry invariant (a default
// fallback always exists) holds regardless of configuration.
func New(templates []Template) *Registry {
	templates = append([]Template(nil), templates...)
	if len(templates) == 0 || templates[len(templates)-1].Pattern != "*" {
		templates = append(templates, Template{Pattern: "*", Headers: map[string]string{}})
	}
	return &Registry{
		templates:     templates,
		cache:         make(map[string]map[string]string),
		nextUserAgent: roundRobinUserAgent(defaultUserAgents),
	}
}

// Default returns a Registry seeded with the built-in generic
// same-origin-Referer template, sufficient to exercise every §4.2/§8
// invariant without operator configuration.
func Default() *Registry {
	return New([]Template{
		{Pattern: "*", Headers: map[string]string{
			"Accept": "*/*",
		}},
	})
}

// matchTemplate performs the linear, order-significant scan over the
// template list (spec §4.2: "first match wins").
func (r *Registry) matchTemplate(hostname string) Template {
	for _, t := range r.templates {
		if matchesPattern(t.Pattern, hostname) {
			return t
		}
	}
	return r.templates[len(r.templates)-1]
}

func matchesPattern(pattern, hostname string) bool {
	if pattern == "*" {
		return true
	}
	ok, err := path.Match(strings.ToLower(pattern), strings.ToLower(hostname))
	return err == nil && ok
}

func (r *Registry) staticHeaders(hostname string) map[string]string {
	r.mu.RLock()
	cached, ok := r.cache[hostname]
	r.mu.RUnlock()
	if ok {
		return cached
	}

	tmpl := r.matchTemplate(hostname)
	snapshot := make(map[string]string, len(tmpl.Headers))
	for k, v := range tmpl.Headers {
		snapshot[k] = v
	}

	r.mu.Lock()
	if len(r.cache) < maxCachedHosts {
		r.cache[hostname] = snapshot
	}
	r.mu.Unlock()
	return snapshot
}

// HeadersFor synthesizes the identity headers the proxy presents to the
// target URL's host: the matched template's static headers, a
// round-robin User-Agent, and an Origin/Referer derived from the target
// URL itself. Cache-Control and Pragma are always stripped.
func (r *Registry) HeadersFor(targetURL string) (http.Header, error) {
	parsed, err := url.Parse(targetURL)
	if err != nil {
		return nil, err
	}

	hostname := parsed.Hostname()
	static := r.staticHeaders(hostname)

	h := make(http.Header, len(static)+3)
	for k, v := range static {
		h.Set(k, v)
	}

	origin := parsed.Scheme + "://" + parsed.Host
	h.Set("Origin", origin)
	h.Set("Referer", origin+"/")
	h.Set("User-Agent", r.nextUserAgent())

	for _, dropped := range droppedHeaders {
		h.Del(dropped)
	}

	return h, nil
}

// roundRobinUserAgent returns a closure cycling deterministically
// through a fixed User-Agent set, avoiding a dependency on math/rand
// for what is ultimately cosmetic header variety.
func roundRobinUserAgent(agents []string) func() string {
	var mu sync.Mutex
	i := 0
	return func() string {
		mu.Lock()
		defer mu.Unlock()
		ua := agents[i%len(agents)]
		i++
		return ua
	}
}
