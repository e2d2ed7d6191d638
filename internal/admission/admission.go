// Package admission validates candidate upstream URLs before they enter
// the proxy pipeline (spec §4.1).
package admission

import (
	"encoding/base64"
	"fmt"
	"net/url"
	"strings"
)

// Result is the outcome of validating a candidate URL.
type Result struct {
	Valid    bool
	Hostname string
	Reason   string
}

// Admitter enforces the URL Admission rules: maximum length and an
// optional host allow-list. It holds no mutable state and is safe for
// concurrent use.
type Admitter struct {
	maxURLLength int
	hostAllow    map[string]struct{}
}

// New creates an Admitter. An empty hostAllow disables the allow-list.
func New(maxURLLength int, hostAllow []string) *Admitter {
	a := &Admitter{maxURLLength: maxURLLength}
	if len(hostAllow) > 0 {
		a.hostAllow = make(map[string]struct{}, len(hostAllow))
		for _, h := range hostAllow {
			a.hostAllow[strings.ToLower(h)] = struct{}{}
		}
	}
	return a
}

// Admit validates a raw candidate URL string, already extracted from its
// source (query parameter, inline path, or base64 path).
func (a *Admitter) Admit(raw string) Result {
	if raw == "" {
		return Result{Reason: "url is required"}
	}
	if len(raw) > a.maxURLLength {
		return Result{Reason: fmt.Sprintf("url exceeds maximum length of %d", a.maxURLLength)}
	}

	parsed, err := url.Parse(raw)
	if err != nil {
		return Result{Reason: "url could not be parsed"}
	}

	if !parsed.IsAbs() {
		return Result{Reason: "url must be absolute (http:// or https://)"}
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return Result{Reason: "url scheme must be http or https"}
	}
	if parsed.Hostname() == "" {
		return Result{Reason: "url must include a hostname"}
	}

	if a.hostAllow != nil {
		if _, ok := a.hostAllow[strings.ToLower(parsed.Hostname())]; !ok {
			return Result{Reason: fmt.Sprintf("host %q is not in the allow-list", parsed.Hostname())}
		}
	}

	return Result{Valid: true, Hostname: parsed.Hostname()}
}

// FromQueryParam extracts and admits a URL from a query string value.
func (a *Admitter) FromQueryParam(raw string) (string, Result) {
	return raw, a.Admit(raw)
}

// FromInlinePath extracts a URL from an inline path segment, prefixing
// https:// when no scheme is present, then admits it.
func (a *Admitter) FromInlinePath(segment string) (string, Result) {
	candidate := segment
	if !strings.HasPrefix(candidate, "http://") && !strings.HasPrefix(candidate, "https://") {
		candidate = "https://" + strings.TrimPrefix(candidate, "/")
	}
	return candidate, a.Admit(candidate)
}

var base64Encodings = []*base64.Encoding{
	base64.StdEncoding,
	base64.URLEncoding,
	base64.RawStdEncoding,
	base64.RawURLEncoding,
}

// FromBase64Path decodes a base64url- or base64-encoded path segment into
// a URL, then admits it. Decoding failure is reported as an admission
// rejection rather than a separate error type, matching the uniform
// {valid, hostname?} / {invalid, reason} result shape required by §4.1.
func (a *Admitter) FromBase64Path(encoded string) (string, Result) {
	var decoded []byte
	var err error
	for _, enc := range base64Encodings {
		decoded, err = enc.DecodeString(encoded)
		if err == nil {
			break
		}
	}
	if err != nil {
		return "", Result{Reason: "base64 url could not be decoded"}
	}
	candidate := string(decoded)
	return candidate, a.Admit(candidate)
}
