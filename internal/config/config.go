// Package config provides configuration loading and validation for hlsrelay.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/patchbay-io/hlsrelay/internal/domaintemplate"
)

// Default configuration values.
const (
	defaultServerPort          = 8080
	defaultReadTimeout         = 30 * time.Second
	defaultWriteTimeout        = 0 * time.Second // 0 disables the write deadline for long-lived streams
	defaultIdleTimeout         = 120 * time.Second
	defaultShutdownTimeout     = 15 * time.Second
	defaultUpstreamTimeout     = 20 * time.Second
	defaultMaxURLLength        = 2048
	defaultStreamThreshold     = 1048576 // 1 MiB, mirrors STREAM_SIZE_THRESHOLD default
	defaultWorkerInlineMax     = 64 * 1024
	defaultWorkerQueueCapacity = 256
	defaultCacheSoftCapBytes   = 256 * 1024 * 1024 // 256 MiB
	defaultCacheEntryCapBytes  = 10 * 1024 * 1024  // 10 MiB, fixed by spec invariant
	defaultCopyBufferBytes     = 32 * 1024
)

// ServerConfig holds HTTP server bind/timeout configuration.
type ServerConfig struct {
	Host            string   `mapstructure:"host" yaml:"host"`
	Port            int      `mapstructure:"port" yaml:"port"`
	ReadTimeout     Duration `mapstructure:"read_timeout" yaml:"read_timeout"`
	WriteTimeout    Duration `mapstructure:"write_timeout" yaml:"write_timeout"`
	IdleTimeout     Duration `mapstructure:"idle_timeout" yaml:"idle_timeout"`
	ShutdownTimeout Duration `mapstructure:"shutdown_timeout" yaml:"shutdown_timeout"`
}

// Address returns the host:port the server should bind to.
func (s ServerConfig) Address() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

// AdmissionConfig controls URL Admission (spec §4.1).
type AdmissionConfig struct {
	MaxURLLength int      `mapstructure:"max_url_length" yaml:"max_url_length"`
	HostAllow    []string `mapstructure:"host_allowlist" yaml:"host_allowlist"`
	URLParamName string   `mapstructure:"url_param_name" yaml:"url_param_name"`
}

// UpstreamConfig controls the upstream fetch (spec §4.11 step 5, §5, §7).
type UpstreamConfig struct {
	Timeout             Duration `mapstructure:"timeout" yaml:"timeout"`
	StreamSizeThreshold int64    `mapstructure:"stream_size_threshold" yaml:"stream_size_threshold"`
	EnableStreaming     bool     `mapstructure:"enable_streaming" yaml:"enable_streaming"`
	UseCloudflare       bool     `mapstructure:"use_cloudflare" yaml:"use_cloudflare"`
	CopyBufferBytes     int      `mapstructure:"copy_buffer_bytes" yaml:"copy_buffer_bytes"`
}

// WorkerPoolConfig controls the decompression worker pool (spec §4.5).
type WorkerPoolConfig struct {
	Workers        int `mapstructure:"workers" yaml:"workers"`
	QueueCapacity  int `mapstructure:"queue_capacity" yaml:"queue_capacity"`
	InlineMaxBytes int `mapstructure:"inline_max_bytes" yaml:"inline_max_bytes"`
}

// CacheConfig controls the response cache (spec §4.6).
type CacheConfig struct {
	SoftCapBytes  ByteSize `mapstructure:"soft_cap_bytes" yaml:"soft_cap_bytes"`
	EntryCapBytes ByteSize `mapstructure:"entry_cap_bytes" yaml:"entry_cap_bytes"`
}

// LoggingConfig controls log output (ambient stack).
type LoggingConfig struct {
	Level                string `mapstructure:"level" yaml:"level"`
	Format               string `mapstructure:"format" yaml:"format"`
	AddSource            bool   `mapstructure:"add_source" yaml:"add_source"`
	TimeFormat           string `mapstructure:"time_format" yaml:"time_format"`
	EnableRequestLogging bool   `mapstructure:"enable_request_logging" yaml:"enable_request_logging"`
}

// Config is the top-level configuration for hlsrelay.
type Config struct {
	Server          ServerConfig              `mapstructure:"server" yaml:"server"`
	Admission       AdmissionConfig           `mapstructure:"admission" yaml:"admission"`
	Upstream        UpstreamConfig            `mapstructure:"upstream" yaml:"upstream"`
	Workers         WorkerPoolConfig          `mapstructure:"workers" yaml:"workers"`
	Cache           CacheConfig               `mapstructure:"cache" yaml:"cache"`
	Logging         LoggingConfig             `mapstructure:"logging" yaml:"logging"`
	DomainTemplates []domaintemplate.Template `mapstructure:"domain_templates" yaml:"domain_templates"`
}

// SetDefaults populates a viper instance with default configuration values.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", defaultServerPort)
	v.SetDefault("server.read_timeout", defaultReadTimeout.String())
	v.SetDefault("server.write_timeout", defaultWriteTimeout.String())
	v.SetDefault("server.idle_timeout", defaultIdleTimeout.String())
	v.SetDefault("server.shutdown_timeout", defaultShutdownTimeout.String())

	v.SetDefault("admission.max_url_length", defaultMaxURLLength)
	v.SetDefault("admission.host_allowlist", []string{})
	v.SetDefault("admission.url_param_name", "url")

	v.SetDefault("upstream.timeout", defaultUpstreamTimeout.String())
	v.SetDefault("upstream.stream_size_threshold", defaultStreamThreshold)
	v.SetDefault("upstream.enable_streaming", true)
	v.SetDefault("upstream.use_cloudflare", false)
	v.SetDefault("upstream.copy_buffer_bytes", defaultCopyBufferBytes)

	v.SetDefault("workers.workers", 0) // 0 means "use CPU count", resolved at construction
	v.SetDefault("workers.queue_capacity", defaultWorkerQueueCapacity)
	v.SetDefault("workers.inline_max_bytes", defaultWorkerInlineMax)

	v.SetDefault("cache.soft_cap_bytes", defaultCacheSoftCapBytes)
	v.SetDefault("cache.entry_cap_bytes", defaultCacheEntryCapBytes)

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "text")
	v.SetDefault("logging.add_source", false)
	v.SetDefault("logging.enable_request_logging", true)
}

// Load reads configuration from an optional file plus environment overlays.
//
// Two environment surfaces are honored. Operational tuning uses the
// viper-namespaced HLSRELAY_* keys (e.g. HLSRELAY_SERVER_PORT). The
// compatibility variables named by the spec (USE_CLOUDFLARE,
// STREAM_SIZE_THRESHOLD, ENABLE_STREAMING) are read directly via
// os.Getenv after the viper load, so their exact unprefixed names keep
// working regardless of viper's own prefixing/replacer rules.
func Load(configPath string) (*Config, error) {
	v := viper.New()
	SetDefaults(v)

	if configPath != "" {
		v.SetConfigFile(configPath)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("reading config file %q: %w", configPath, err)
		}
	}

	v.SetEnvPrefix("HLSRELAY")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()

	cfg := &Config{}
	cfg.Server.Host = v.GetString("server.host")
	cfg.Server.Port = v.GetInt("server.port")
	if err := assignDuration(v, "server.read_timeout", &cfg.Server.ReadTimeout); err != nil {
		return nil, err
	}
	if err := assignDuration(v, "server.write_timeout", &cfg.Server.WriteTimeout); err != nil {
		return nil, err
	}
	if err := assignDuration(v, "server.idle_timeout", &cfg.Server.IdleTimeout); err != nil {
		return nil, err
	}
	if err := assignDuration(v, "server.shutdown_timeout", &cfg.Server.ShutdownTimeout); err != nil {
		return nil, err
	}

	cfg.Admission.MaxURLLength = v.GetInt("admission.max_url_length")
	cfg.Admission.HostAllow = v.GetStringSlice("admission.host_allowlist")
	cfg.Admission.URLParamName = v.GetString("admission.url_param_name")

	if err := assignDuration(v, "upstream.timeout", &cfg.Upstream.Timeout); err != nil {
		return nil, err
	}
	cfg.Upstream.StreamSizeThreshold = v.GetInt64("upstream.stream_size_threshold")
	cfg.Upstream.EnableStreaming = v.GetBool("upstream.enable_streaming")
	cfg.Upstream.UseCloudflare = v.GetBool("upstream.use_cloudflare")
	cfg.Upstream.CopyBufferBytes = v.GetInt("upstream.copy_buffer_bytes")

	cfg.Workers.Workers = v.GetInt("workers.workers")
	cfg.Workers.QueueCapacity = v.GetInt("workers.queue_capacity")
	cfg.Workers.InlineMaxBytes = v.GetInt("workers.inline_max_bytes")

	if err := assignByteSize(v, "cache.soft_cap_bytes", &cfg.Cache.SoftCapBytes); err != nil {
		return nil, err
	}
	if err := assignByteSize(v, "cache.entry_cap_bytes", &cfg.Cache.EntryCapBytes); err != nil {
		return nil, err
	}

	cfg.Logging.Level = v.GetString("logging.level")
	cfg.Logging.Format = v.GetString("logging.format")
	cfg.Logging.AddSource = v.GetBool("logging.add_source")
	cfg.Logging.EnableRequestLogging = v.GetBool("logging.enable_request_logging")

	if err := v.UnmarshalKey("domain_templates", &cfg.DomainTemplates); err != nil {
		return nil, fmt.Errorf("parsing domain_templates: %w", err)
	}

	applyCompatEnv(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// applyCompatEnv overlays the spec's literal, unprefixed environment
// variable names on top of the viper-loaded configuration. These are
// checked last so they always win, matching their role as the
// compatibility surface operators already script against.
func applyCompatEnv(cfg *Config) {
	if raw, ok := os.LookupEnv("USE_CLOUDFLARE"); ok {
		if b, err := strconv.ParseBool(raw); err == nil {
			cfg.Upstream.UseCloudflare = b
		}
	}
	if raw, ok := os.LookupEnv("STREAM_SIZE_THRESHOLD"); ok {
		if n, err := strconv.ParseInt(raw, 10, 64); err == nil {
			cfg.Upstream.StreamSizeThreshold = n
		}
	}
	if raw, ok := os.LookupEnv("ENABLE_STREAMING"); ok {
		if b, err := strconv.ParseBool(raw); err == nil {
			cfg.Upstream.EnableStreaming = b
		}
	}
}

func assignDuration(v *viper.Viper, key string, out *Duration) error {
	raw := v.GetString(key)
	if raw == "" {
		return nil
	}
	d, err := ParseDuration(raw)
	if err != nil {
		return fmt.Errorf("parsing %s: %w", key, err)
	}
	*out = d
	return nil
}

func assignByteSize(v *viper.Viper, key string, out *ByteSize) error {
	raw := v.GetString(key)
	if raw == "" {
		return nil
	}
	b, err := ParseByteSize(raw)
	if err != nil {
		return fmt.Errorf("parsing %s: %w", key, err)
	}
	*out = b
	return nil
}

// Validate checks the configuration for internally inconsistent values.
func (c *Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return errors.New("server.port must be between 1 and 65535")
	}
	if c.Admission.MaxURLLength <= 0 {
		return errors.New("admission.max_url_length must be positive")
	}
	if c.Admission.URLParamName == "" {
		return errors.New("admission.url_param_name must not be empty")
	}
	if c.Upstream.Timeout.Duration() <= 0 {
		return errors.New("upstream.timeout must be positive")
	}
	if c.Upstream.StreamSizeThreshold <= 0 {
		return errors.New("upstream.stream_size_threshold must be positive")
	}
	if c.Workers.QueueCapacity <= 0 {
		return errors.New("workers.queue_capacity must be positive")
	}
	if c.Workers.InlineMaxBytes < 0 {
		return errors.New("workers.inline_max_bytes must not be negative")
	}
	if c.Cache.EntryCapBytes <= 0 {
		return errors.New("cache.entry_cap_bytes must be positive")
	}
	if c.Cache.SoftCapBytes < c.Cache.EntryCapBytes {
		return errors.New("cache.soft_cap_bytes must be >= cache.entry_cap_bytes")
	}
	return nil
}
