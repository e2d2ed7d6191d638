package cmd

import (
	"fmt"
	"reflect"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/patchbay-io/hlsrelay/internal/config"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Configuration management commands",
	Long:  `Commands for managing hlsrelay configuration.`,
}

var configDumpCmd = &cobra.Command{
	Use:   "dump",
	Short: "Dump the default configuration",
	Long: `Dump the default configuration values in YAML format.

This shows all available configuration options with their default values.
You can redirect this output to a file to create a configuration template:

  hlsrelay config dump > config.yaml

Configuration can be set via:
  - Config file (--config)
  - Environment variables (HLSRELAY_SERVER_PORT, HLSRELAY_UPSTREAM_TIMEOUT, etc.)
  - The literal compatibility variables USE_CLOUDFLARE, STREAM_SIZE_THRESHOLD,
    and ENABLE_STREAMING, which always win over everything else

Environment variables use the HLSRELAY_ prefix and underscores for nesting.
Example: upstream.timeout -> HLSRELAY_UPSTREAM_TIMEOUT`,
	RunE: runConfigDump,
}

func init() {
	rootCmd.AddCommand(configCmd)
	configCmd.AddCommand(configDumpCmd)
}

// toMap converts a struct to a map, formatting durations and sizes for human readability.
func toMap(v any) map[string]any {
	result := make(map[string]any)
	val := reflect.ValueOf(v)
	if val.Kind() == reflect.Ptr {
		val = val.Elem()
	}
	typ := val.Type()

	for i := 0; i < val.NumField(); i++ {
		field := val.Field(i)
		fieldType := typ.Field(i)

		key := fieldType.Tag.Get("mapstructure")
		if key == "" {
			key = fieldType.Tag.Get("yaml")
		}
		if key == "" {
			key = fieldType.Name
		}

		switch v := field.Interface().(type) {
		case config.Duration:
			result[key] = v.String()
		case config.ByteSize:
			result[key] = v.String()
		default:
			if field.Kind() == reflect.Struct {
				result[key] = toMap(field.Interface())
			} else {
				result[key] = field.Interface()
			}
		}
	}
	return result
}

func runConfigDump(_ *cobra.Command, _ []string) error {
	cfg, err := config.Load("")
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	cfgMap := toMap(cfg)

	yamlData, err := yaml.Marshal(cfgMap)
	if err != nil {
		return fmt.Errorf("marshaling config: %w", err)
	}

	fmt.Println("# hlsrelay Configuration File")
	fmt.Println("# ===========================")
	fmt.Println("#")
	fmt.Println("# All values shown below are defaults.")
	fmt.Println("# Duration format: 30s, 5m, 1h, 30d")
	fmt.Println("# Size format: 5MB, 1GB")
	fmt.Println("#")
	fmt.Println("# Environment variable overrides:")
	fmt.Println("#   HLSRELAY_SERVER_HOST, HLSRELAY_SERVER_PORT")
	fmt.Println("#   HLSRELAY_UPSTREAM_TIMEOUT, HLSRELAY_UPSTREAM_STREAM_SIZE_THRESHOLD")
	fmt.Println("#   HLSRELAY_CACHE_SOFT_CAP_BYTES, HLSRELAY_WORKERS_WORKERS")
	fmt.Println("#   HLSRELAY_LOGGING_LEVEL, HLSRELAY_LOGGING_FORMAT")
	fmt.Println("#   USE_CLOUDFLARE, STREAM_SIZE_THRESHOLD, ENABLE_STREAMING (compat names, win last)")
	fmt.Println("#")
	fmt.Println("")
	fmt.Print(string(yamlData))

	return nil
}
