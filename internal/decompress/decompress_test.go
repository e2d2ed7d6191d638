package decompress

import (
	"bytes"
	"compress/gzip"
	"testing"

	"github.com/andybalholm/brotli"
	"github.com/klauspost/compress/flate"
	"github.com/klauspost/compress/zstd"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func gzipBytes(t *testing.T, s string) []byte {
	t.Helper()
	var buf bytes.Buffer
	w := gzip.NewWriter(&buf)
	_, err := w.Write([]byte(s))
	require.NoError(t, err)
	require.NoError(t, w.Close())
	return buf.Bytes()
}

func brotliBytes(t *testing.T, s string) []byte {
	t.Helper()
	var buf bytes.Buffer
	w := brotli.NewWriter(&buf)
	_, err := w.Write([]byte(s))
	require.NoError(t, err)
	require.NoError(t, w.Close())
	return buf.Bytes()
}

func zstdBytes(t *testing.T, s string) []byte {
	t.Helper()
	var buf bytes.Buffer
	w, err := zstd.NewWriter(&buf)
	require.NoError(t, err)
	_, err = w.Write([]byte(s))
	require.NoError(t, err)
	require.NoError(t, w.Close())
	return buf.Bytes()
}

func deflateBytes(t *testing.T, s string) []byte {
	t.Helper()
	var buf bytes.Buffer
	w, err := flate.NewWriter(&buf, flate.DefaultCompression)
	require.NoError(t, err)
	_, err = w.Write([]byte(s))
	require.NoError(t, err)
	require.NoError(t, w.Close())
	return buf.Bytes()
}

func TestDecompressDeclaredCodecs(t *testing.T) {
	payload := "#EXTM3U\n#EXTINF:10,\nsegment-1.ts\n"

	cases := map[string][]byte{
		Gzip:    gzipBytes(t, payload),
		Brotli:  brotliBytes(t, payload),
		Zstd:    zstdBytes(t, payload),
		Deflate: deflateBytes(t, payload),
	}

	for codec, data := range cases {
		out, err := Decompress(data, codec)
		require.NoError(t, err, codec)
		assert.Equal(t, payload, string(out), codec)
	}
}

func TestDecompressAutoDetectGzipAndZstd(t *testing.T) {
	payload := "hello world"

	out, err := Decompress(gzipBytes(t, payload), "")
	require.NoError(t, err)
	assert.Equal(t, payload, string(out))

	out, err = Decompress(zstdBytes(t, payload), "")
	require.NoError(t, err)
	assert.Equal(t, payload, string(out))
}

func TestDetectMagicBytes(t *testing.T) {
	assert.Equal(t, Gzip, Detect(gzipBytes(t, "x")))
	assert.Equal(t, Zstd, Detect(zstdBytes(t, "x")))
	assert.Equal(t, None, Detect([]byte("plain text")))
}

func TestDecompressFallsBackOnWrongDeclaredEncoding(t *testing.T) {
	payload := "fallback works"
	data := gzipBytes(t, payload)

	// Declared as zstd (wrong); engine should fall back through the
	// cross-encoding order and still recover gzip data, reporting no
	// error since the fallback genuinely recovered the payload.
	out, err := Decompress(data, Zstd)
	require.NoError(t, err)
	assert.Equal(t, payload, string(out))
}

func TestDecompressUnrecognizedDeclaredEncodingFallsBackToAutoDetect(t *testing.T) {
	payload := "identity declared but body is actually gzip"
	data := gzipBytes(t, payload)

	// "identity" is not one of {gzip, br, zstd, deflate}; the engine
	// should treat it like no declared encoding and auto-detect instead.
	out, err := Decompress(data, "identity")
	require.NoError(t, err)
	assert.Equal(t, payload, string(out))
}


func TestDecompressEmptyInput(t *testing.T) {
	out, err := Decompress(nil, Gzip)
	require.NoError(t, err)
	assert.Empty(t, out)
}
