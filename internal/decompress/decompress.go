// Package decompress implements the Decompression Engine (spec §4.4):
// gzip, brotli, zstd, and deflate, either declared by the upstream
// Content-Encoding header or auto-detected from magic bytes, with a
// cross-encoding fallback when the declared codec fails to decode.
package decompress

import (
	"bytes"
	"compress/gzip"
	"fmt"
	"io"

	"github.com/andybalholm/brotli"
	"github.com/klauspost/compress/flate"
	"github.com/klauspost/compress/zstd"
)

// Encoding names recognized by the engine, matching the values a
// Content-Encoding header carries.
const (
	Gzip    = "gzip"
	Brotli  = "br"
	Zstd    = "zstd"
	Deflate = "deflate"
	None    = ""
)

var gzipMagic = []byte{0x1f, 0x8b}
var zstdMagic = []byte{0x28, 0xb5, 0x2f, 0xfd}

// fallbackOrder is the order codecs are retried in after the declared
// (or detected) codec fails, per spec §4.4.
var fallbackOrder = []string{Zstd, Gzip, Brotli, Deflate}

// Detect identifies a codec from magic bytes. Brotli and deflate have
// no reliable magic signature, so Detect never returns them; the caller
// falls through to trying both in Decompress's no-declared-encoding path.
func Detect(data []byte) string {
	if bytes.HasPrefix(data, gzipMagic) {
		return Gzip
	}
	if bytes.HasPrefix(data, zstdMagic) {
		return Zstd
	}
	return None
}

// Decompress implements the decode contract of spec §4.4. declaredEncoding
// may be "" (unknown/absent). It never returns the original bytes as an
// error condition: on total failure it returns the input unchanged
// alongside a descriptive error, so callers that don't care can ignore
// the error and trust the returned bytes are "as good as we could do".
func Decompress(data []byte, declaredEncoding string) ([]byte, error) {
	if len(data) == 0 {
		return data, nil
	}

	tried := make(map[string]bool, 4)

	if declaredEncoding != "" && isKnownCodec(declaredEncoding) {
		out, err := decodeOne(declaredEncoding, data)
		tried[declaredEncoding] = true
		if err == nil {
			return out, nil
		}
		return decodeFallback(data, tried, fmt.Errorf("decoding declared encoding %q: %w", declaredEncoding, err))
	}

	if detected := Detect(data); detected != None {
		out, err := decodeOne(detected, data)
		tried[detected] = true
		if err == nil {
			return out, nil
		}
		return decodeFallback(data, tried, fmt.Errorf("decoding auto-detected encoding %q: %w", detected, err))
	}

	// No magic match: brotli and deflate have no reliable signature, so
	// try brotli then deflate before giving up, per spec §4.4.
	for _, codec := range []string{Brotli, Deflate} {
		out, err := decodeOne(codec, data)
		tried[codec] = true
		if err == nil {
			return out, nil
		}
	}

	return decodeFallback(data, tried, fmt.Errorf("no declared or detectable encoding for %d bytes", len(data)))
}

// decodeFallback tries each remaining codec in fallbackOrder once,
// skipping any already attempted, per spec §4.4's cross-encoding
// fallback rule. If every attempt fails, the original bytes are
// returned alongside the first error encountered.
func decodeFallback(data []byte, tried map[string]bool, firstErr error) ([]byte, error) {
	for _, codec := range fallbackOrder {
		if tried[codec] {
			continue
		}
		tried[codec] = true
		out, err := decodeOne(codec, data)
		if err == nil {
			return out, nil
		}
	}
	return data, firstErr
}

func isKnownCodec(encoding string) bool {
	switch encoding {
	case Gzip, Brotli, Zstd, Deflate:
		return true
	default:
		return false
	}
}

func decodeOne(codec string, data []byte) ([]byte, error) {
	switch codec {
	case Gzip:
		return decodeGzip(data)
	case Brotli:
		return decodeBrotli(data)
	case Zstd:
		return decodeZstd(data)
	case Deflate:
		return decodeDeflate(data)
	default:
		return nil, fmt.Errorf("unknown codec %q", codec)
	}
}

func decodeGzip(data []byte) ([]byte, error) {
	r, err := gzip.NewReader(bytes.NewReader(data))
	if err != nil {
		return nil, err
	}
	defer r.Close()
	return io.ReadAll(r)
}

func decodeBrotli(data []byte) ([]byte, error) {
	r := brotli.NewReader(bytes.NewReader(data))
	out, err := io.ReadAll(r)
	if err != nil {
		return nil, err
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("brotli: empty decode, not brotli data")
	}
	return out, nil
}

func decodeZstd(data []byte) ([]byte, error) {
	dec, err := zstd.NewReader(bytes.NewReader(data))
	if err != nil {
		return nil, err
	}
	defer dec.Close()
	return io.ReadAll(dec)
}

func decodeDeflate(data []byte) ([]byte, error) {
	r := flate.NewReader(bytes.NewReader(data))
	defer r.Close()
	out, err := io.ReadAll(r)
	if err != nil {
		return nil, err
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("deflate: empty decode, not deflate data")
	}
	return out, nil
}
