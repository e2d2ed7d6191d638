// Package cmd implements the CLI commands for hlsrelay.
package cmd

import (
	"fmt"

	"github.com/patchbay-io/hlsrelay/internal/version"
	"github.com/spf13/cobra"
)

var (
	cfgFile   string
	logLevel  string
	logFormat string
)

// rootCmd represents the base command when called without any subcommands.
var rootCmd = &cobra.Command{
	Use:     "hlsrelay",
	Short:   "Streaming-aware reverse proxy for HLS and DASH media delivery",
	Version: version.Short(),
	Long: `hlsrelay is a reverse proxy for HLS and DASH media delivery.

It forwards client requests to an upstream URL under a domain-specific
identity, transparently decodes compressed bodies, rewrites playlist and
subtitle references so nested media stays routed through the proxy, and
preserves byte-range semantics for segment delivery.`,
}

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() error {
	if err := rootCmd.Execute(); err != nil {
		return fmt.Errorf("executing root command: %w", err)
	}
	return nil
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file path (default: none, use defaults/env only)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "override logging.level from config (debug, info, warn, error)")
	rootCmd.PersistentFlags().StringVar(&logFormat, "log-format", "", "override logging.format from config (text, json)")
}
