package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)
	require.NotNil(t, cfg)

	assert.Equal(t, "0.0.0.0", cfg.Server.Host)
	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, 30*time.Second, cfg.Server.ReadTimeout.Duration())

	assert.Equal(t, 2048, cfg.Admission.MaxURLLength)
	assert.Equal(t, "url", cfg.Admission.URLParamName)
	assert.Empty(t, cfg.Admission.HostAllow)

	assert.Equal(t, int64(1048576), cfg.Upstream.StreamSizeThreshold)
	assert.True(t, cfg.Upstream.EnableStreaming)
	assert.False(t, cfg.Upstream.UseCloudflare)

	assert.Equal(t, 256, cfg.Workers.QueueCapacity)
	assert.Equal(t, 64*1024, cfg.Workers.InlineMaxBytes)

	assert.Equal(t, ByteSize(10*1024*1024), cfg.Cache.EntryCapBytes)

	assert.Equal(t, "info", cfg.Logging.Level)
	assert.Equal(t, "text", cfg.Logging.Format)
	assert.True(t, cfg.Logging.EnableRequestLogging)
}

func TestLoad_FromFile(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.yaml")

	configContent := `
server:
  host: "127.0.0.1"
  port: 9090
  read_timeout: 60s

admission:
  max_url_length: 4096
  host_allowlist:
    - cdn.example.com

logging:
  level: "debug"
  format: "json"
`
	err := os.WriteFile(configPath, []byte(configContent), 0o600)
	require.NoError(t, err)

	cfg, err := Load(configPath)
	require.NoError(t, err)
	require.NotNil(t, cfg)

	assert.Equal(t, "127.0.0.1", cfg.Server.Host)
	assert.Equal(t, 9090, cfg.Server.Port)
	assert.Equal(t, 60*time.Second, cfg.Server.ReadTimeout.Duration())
	assert.Equal(t, 4096, cfg.Admission.MaxURLLength)
	assert.Equal(t, []string{"cdn.example.com"}, cfg.Admission.HostAllow)
	assert.Equal(t, "debug", cfg.Logging.Level)
	assert.Equal(t, "json", cfg.Logging.Format)
}

func TestLoad_CacheByteSizeFromHumanReadableYAML(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.yaml")

	configContent := `
cache:
  soft_cap_bytes: "512MiB"
  entry_cap_bytes: "10MiB"
`
	err := os.WriteFile(configPath, []byte(configContent), 0o600)
	require.NoError(t, err)

	cfg, err := Load(configPath)
	require.NoError(t, err)

	assert.Equal(t, ByteSize(512*1024*1024), cfg.Cache.SoftCapBytes)
	assert.Equal(t, ByteSize(10*1024*1024), cfg.Cache.EntryCapBytes)
}

func TestLoad_EnvOverride(t *testing.T) {
	t.Setenv("HLSRELAY_SERVER_PORT", "3000")
	t.Setenv("HLSRELAY_LOGGING_LEVEL", "warn")

	cfg, err := Load("")
	require.NoError(t, err)
	require.NotNil(t, cfg)

	assert.Equal(t, 3000, cfg.Server.Port)
	assert.Equal(t, "warn", cfg.Logging.Level)
}

func TestLoad_CompatEnvNames(t *testing.T) {
	t.Setenv("USE_CLOUDFLARE", "true")
	t.Setenv("STREAM_SIZE_THRESHOLD", "2097152")
	t.Setenv("ENABLE_STREAMING", "false")

	cfg, err := Load("")
	require.NoError(t, err)

	assert.True(t, cfg.Upstream.UseCloudflare)
	assert.Equal(t, int64(2097152), cfg.Upstream.StreamSizeThreshold)
	assert.False(t, cfg.Upstream.EnableStreaming)
}

func TestLoad_DomainTemplates(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.yaml")

	configContent := `
domain_templates:
  - pattern: "*.cdn.example.com"
    headers:
      Origin: "https://example.com"
      Referer: "https://example.com/"
  - pattern: "*"
    headers: {}
`
	err := os.WriteFile(configPath, []byte(configContent), 0o600)
	require.NoError(t, err)

	cfg, err := Load(configPath)
	require.NoError(t, err)
	require.Len(t, cfg.DomainTemplates, 2)

	assert.Equal(t, "*.cdn.example.com", cfg.DomainTemplates[0].Pattern)
	// viper lowercases nested map keys while reading the config file, so
	// the header name configured as "Origin" comes back as "origin" here;
	// domaintemplate.HeadersFor still produces the correct canonical
	// "Origin" HTTP header, since http.Header.Set re-canonicalizes it.
	assert.Equal(t, "https://example.com", cfg.DomainTemplates[0].Headers["origin"])
	assert.Equal(t, "*", cfg.DomainTemplates[1].Pattern)
}

func TestLoad_DomainTemplates_EmptyByDefault(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)
	assert.Empty(t, cfg.DomainTemplates)
}

func TestLoad_EnvOverridesFile(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.yaml")

	configContent := `
server:
  port: 8080
`
	err := os.WriteFile(configPath, []byte(configContent), 0o600)
	require.NoError(t, err)

	t.Setenv("HLSRELAY_SERVER_PORT", "9000")

	cfg, err := Load(configPath)
	require.NoError(t, err)

	assert.Equal(t, 9000, cfg.Server.Port)
}

func validConfig() *Config {
	cfg := &Config{}
	cfg.Server = ServerConfig{Host: "0.0.0.0", Port: 8080}
	cfg.Admission = AdmissionConfig{MaxURLLength: 2048, URLParamName: "url"}
	cfg.Upstream = UpstreamConfig{Timeout: Duration(20 * time.Second), StreamSizeThreshold: 1048576, EnableStreaming: true}
	cfg.Workers = WorkerPoolConfig{QueueCapacity: 256, InlineMaxBytes: 65536}
	cfg.Cache = CacheConfig{SoftCapBytes: 256 * 1024 * 1024, EntryCapBytes: 10 * 1024 * 1024}
	cfg.Logging = LoggingConfig{Level: "info", Format: "text"}
	return cfg
}

func TestValidate_ValidConfig(t *testing.T) {
	cfg := validConfig()
	assert.NoError(t, cfg.Validate())
}

func TestValidate_InvalidPort(t *testing.T) {
	tests := []struct {
		name string
		port int
	}{
		{"zero port", 0},
		{"negative port", -1},
		{"port too high", 70000},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			cfg.Server.Port = tt.port
			err := cfg.Validate()
			assert.Error(t, err)
			assert.Contains(t, err.Error(), "server.port")
		})
	}
}

func TestValidate_CacheCapOrdering(t *testing.T) {
	cfg := validConfig()
	cfg.Cache.SoftCapBytes = 1024
	cfg.Cache.EntryCapBytes = 2048
	err := cfg.Validate()
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "cache.soft_cap_bytes")
}

func TestValidate_EmptyURLParamName(t *testing.T) {
	cfg := validConfig()
	cfg.Admission.URLParamName = ""
	err := cfg.Validate()
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "url_param_name")
}

func TestServerConfig_Address(t *testing.T) {
	tests := []struct {
		name     string
		host     string
		port     int
		expected string
	}{
		{"localhost", "127.0.0.1", 8080, "127.0.0.1:8080"},
		{"all interfaces", "0.0.0.0", 3000, "0.0.0.0:3000"},
		{"hostname", "example.com", 443, "example.com:443"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := ServerConfig{Host: tt.host, Port: tt.port}
			assert.Equal(t, tt.expected, cfg.Address())
		})
	}
}

func TestLoad_InvalidConfigFile(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.yaml")

	invalidContent := `
server:
  port: "not a number"
  invalid yaml structure
`
	err := os.WriteFile(configPath, []byte(invalidContent), 0o600)
	require.NoError(t, err)

	_, err = Load(configPath)
	assert.Error(t, err)
}

func TestLoad_NonExistentFile(t *testing.T) {
	_, err := Load("/nonexistent/path/config.yaml")
	assert.Error(t, err)
}
