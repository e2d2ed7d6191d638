package urlutil

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestResolve(t *testing.T) {
	tests := []struct {
		name      string
		targetURL string
		ref       string
		expected  string
	}{
		{
			"absolute",
			"https://cdn.example.com/path/master.m3u8",
			"https://other.example.com/seg.ts",
			"https://other.example.com/seg.ts",
		},
		{
			"protocol-relative",
			"https://cdn.example.com/path/master.m3u8",
			"//cdn.example.com/path/seg.ts",
			"https://cdn.example.com/path/seg.ts",
		},
		{
			"root-relative",
			"https://cdn.example.com/path/master.m3u8",
			"/other/seg.ts",
			"https://cdn.example.com/other/seg.ts",
		},
		{
			"path-relative",
			"https://cdn.example.com/path/master.m3u8",
			"seg-001.ts",
			"https://cdn.example.com/path/seg-001.ts",
		},
		{
			"path-relative parent",
			"https://cdn.example.com/path/sub/master.m3u8",
			"../seg-001.ts",
			"https://cdn.example.com/path/seg-001.ts",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result, err := Resolve(tt.targetURL, tt.ref)
			require.NoError(t, err)
			assert.Equal(t, tt.expected, result)
		})
	}
}

func TestResolve_InvalidTarget(t *testing.T) {
	_, err := Resolve("://not-a-url", "seg.ts")
	assert.Error(t, err)
}
