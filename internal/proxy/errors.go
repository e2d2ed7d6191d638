package proxy

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

// errorBody is the `error` object inside the error envelope (spec §6).
type errorBody struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	URL     string `json:"url,omitempty"`
	Usage   string `json:"usage,omitempty"`
	Details string `json:"details,omitempty"`
}

// errorEnvelope is the full JSON body written on every 4xx/5xx response
// (spec §6: `{error: {...}, success: false, timestamp: ISO-8601}`).
type errorEnvelope struct {
	Error     errorBody `json:"error"`
	Success   bool      `json:"success"`
	Timestamp string    `json:"timestamp"`
}

const usageHint = "provide the target URL via ?url=, an inline path segment, or /base64/<encoded>"

// writeError writes the error envelope and sets the HTTP status code.
// url is included when known; usage is only attached to AdmissionError
// responses, where it helps a caller that got the request shape wrong.
func (p *Pipeline) writeError(w http.ResponseWriter, status, code int, message, url, details string) {
	body := errorEnvelope{
		Error: errorBody{
			Code:    code,
			Message: message,
			URL:     url,
			Details: details,
		},
		Success:   false,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	}
	if status == http.StatusBadRequest {
		body.Error.Usage = usageHint
	}

	w.Header().Set("Content-Type", "application/json")
	applyCORSHeaders(w)
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		p.logger.Warn("failed to encode error envelope", "error", err)
	}
}

// upstreamTimeoutMessage builds the UpstreamTimeout message, which must
// include the configured timeout value per spec §7.
func upstreamTimeoutMessage(timeout time.Duration) string {
	return fmt.Sprintf("upstream request timed out after %s", timeout)
}
