// Package classify maps upstream URLs and response bodies to media types
// (spec §4.3, §4.9, §4.10): extension-based MIME lookup, disguised
// transport-stream segment detection, MPEG-TS sniffing, and the final
// content-type arbitration between upstream, URL, and sniffed evidence.
package classify

import (
	"path"
	"regexp"
	"strings"
)

// Content-type constants used across the pipeline.
const (
	MimeM3U8      = "application/vnd.apple.mpegurl"
	MimeMPEGTS    = "video/mp2t"
	MimeVTT       = "text/vtt"
	MimeOctet     = "application/octet-stream"
	MimeAudioMP4  = "audio/mp4"
	MimeAudioAAC  = "audio/aac"
	MimeMPD       = "application/dash+xml"
)

var extMIME = map[string]string{
	".m3u8": MimeM3U8,
	".ts":   MimeMPEGTS,
	".m4s":  "video/iso.segment",
	".mp4":  "video/mp4",
	".mpd":  MimeMPD,
	".vtt":  MimeVTT,
	".aac":  MimeAudioAAC,
	".mp3":  "audio/mpeg",
	".jpg":  "image/jpeg",
	".jpeg": "image/jpeg",
	".png":  "image/png",
	".gif":  "image/gif",
	".webp": "image/webp",
	".js":   "application/javascript",
	".css":  "text/css",
	".html": "text/html",
	".json": "application/json",
}

// segmentNamePattern matches the naming conventions media CDNs use for
// segments, independent of their (possibly disguised) extension:
// seg-N, segment-N, chunk-N, and the "-vN-aN" variant/audio-track suffix.
var segmentNamePattern = regexp.MustCompile(`(?i)(seg|segment|chunk)-\d+|-v\d+-a\d+`)

// nonMediaExt is the set of extensions a disguised segment hides behind.
var nonMediaExt = map[string]struct{}{
	".js":   {},
	".jpg":  {},
	".png":  {},
	".gif":  {},
	".css":  {},
	".html": {},
}

// streamingExt is the fast-path extension set from §4.11 step 4.
var streamingExt = map[string]struct{}{
	".ts":  {},
	".m3u8": {},
	".mp4": {},
	".mp3": {},
	".m4s": {},
}

// MIMEForExt returns the MIME type registered for a file extension
// (including the leading dot), or "" if unknown.
func MIMEForExt(ext string) string {
	return extMIME[strings.ToLower(ext)]
}

// extOf returns the lowercase extension of a URL's path, ignoring query
// and fragment.
func extOf(rawURL string) string {
	if i := strings.IndexAny(rawURL, "?#"); i >= 0 {
		rawURL = rawURL[:i]
	}
	return strings.ToLower(path.Ext(rawURL))
}

// IsM3U8 reports whether the URL names an HLS manifest.
func IsM3U8(rawURL string) bool {
	return extOf(rawURL) == ".m3u8"
}

// IsTSSegment reports whether the URL names a literal .ts segment.
func IsTSSegment(rawURL string) bool {
	return extOf(rawURL) == ".ts"
}

// IsDisguisedSegment reports whether the URL's basename follows a
// segment-naming convention but is served under a non-media extension.
func IsDisguisedSegment(rawURL string) bool {
	base := strings.ToLower(path.Base(strings.SplitN(rawURL, "?", 2)[0]))
	ext := extOf(rawURL)

	if _, nonMedia := nonMediaExt[ext]; !nonMedia {
		return false
	}

	return segmentNamePattern.MatchString(base)
}

// IsStreamingFormat reports whether the URL's extension is one of the
// fast-path streaming formats from §4.11 step 4.
func IsStreamingFormat(rawURL string) bool {
	_, ok := streamingExt[extOf(rawURL)]
	return ok
}

// HasSegmentMarker reports whether the URL's basename follows a
// segment-naming convention, independent of its extension or disguise
// status (§4.11 step 4's "contains a segment marker" fast-path test).
func HasSegmentMarker(rawURL string) bool {
	base := strings.ToLower(path.Base(strings.SplitN(rawURL, "?", 2)[0]))
	return segmentNamePattern.MatchString(base)
}

// NeedsM3U8Rewriting reports whether a response should be routed through
// the playlist rewriter, based on URL and/or upstream content-type.
func NeedsM3U8Rewriting(rawURL, upstreamContentType string) bool {
	if IsM3U8(rawURL) {
		return true
	}
	return strings.Contains(strings.ToLower(upstreamContentType), MimeM3U8)
}

// IsVTT reports whether a response should be routed through the
// subtitle rewriter, based on URL and/or upstream content-type.
func IsVTT(rawURL, upstreamContentType string) bool {
	if extOf(rawURL) == ".vtt" {
		return true
	}
	return strings.Contains(strings.ToLower(upstreamContentType), MimeVTT)
}

// IsAudioSegment reports whether a response is an audio segment that
// must pass through byte-for-byte, per the "audio segments pass through
// unmodified" rule in §4.11 step 6.
func IsAudioSegment(rawURL, upstreamContentType string) bool {
	ct := strings.ToLower(upstreamContentType)
	if ct == MimeAudioMP4 || ct == MimeAudioAAC {
		return true
	}
	if extOf(rawURL) == ".aac" {
		return true
	}
	return strings.Contains(strings.ToLower(rawURL), "mp4a.40")
}

// SniffMPEGTS implements the Transport-Stream Sniffer (§4.9): a buffer
// is positively MPEG-TS iff it is at least 188 bytes, byte 0 is the sync
// byte 0x47, and at least one of the subsequent 188-byte-period offsets
// also holds 0x47.
func SniffMPEGTS(buf []byte) bool {
	const syncByte = 0x47
	const packetSize = 188

	if len(buf) < packetSize || buf[0] != syncByte {
		return false
	}

	for offset := packetSize; offset < len(buf) && offset <= packetSize*5; offset += packetSize {
		if buf[offset] == syncByte {
			return true
		}
	}
	return false
}

// Arbitrate implements the Content-Type Arbiter (§4.10): it combines
// sniffed evidence, URL hints, and the upstream-declared content-type
// into the single type the client is shown.
func Arbitrate(rawURL, upstreamContentType string, body []byte) string {
	if SniffMPEGTS(body) {
		return MimeMPEGTS
	}
	if IsM3U8(rawURL) && !strings.Contains(strings.ToLower(upstreamContentType), MimeM3U8) {
		return MimeM3U8
	}
	if IsDisguisedSegment(rawURL) {
		return MimeMPEGTS
	}
	if upstreamContentType != "" {
		return upstreamContentType
	}
	return MimeOctet
}
