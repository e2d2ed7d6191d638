package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"runtime"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/patchbay-io/hlsrelay/internal/admission"
	"github.com/patchbay-io/hlsrelay/internal/cache"
	"github.com/patchbay-io/hlsrelay/internal/config"
	"github.com/patchbay-io/hlsrelay/internal/decompress"
	"github.com/patchbay-io/hlsrelay/internal/domaintemplate"
	internalhttp "github.com/patchbay-io/hlsrelay/internal/http"
	"github.com/patchbay-io/hlsrelay/internal/metrics"
	"github.com/patchbay-io/hlsrelay/internal/observability"
	"github.com/patchbay-io/hlsrelay/internal/proxy"
	"github.com/patchbay-io/hlsrelay/internal/version"
	"github.com/patchbay-io/hlsrelay/internal/workerpool"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the hlsrelay proxy server",
	Long: `Start the hlsrelay reverse proxy.

The server accepts a target media URL via a query parameter, an inline
path, or a base64-encoded path, relays it to its upstream under a
domain-specific identity, and streams or rewrites the response back to
the client.`,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)

	serveCmd.Flags().String("host", "", "override server.host from config")
	serveCmd.Flags().Int("port", 0, "override server.port from config")

	viper.BindPFlag("server.host", serveCmd.Flags().Lookup("host"))
	viper.BindPFlag("server.port", serveCmd.Flags().Lookup("port"))
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return fmt.Errorf("loading configuration: %w", err)
	}
	if logLevel != "" {
		cfg.Logging.Level = logLevel
	}
	if logFormat != "" {
		cfg.Logging.Format = logFormat
	}
	if host := viper.GetString("server.host"); host != "" {
		cfg.Server.Host = host
	}
	if port := viper.GetInt("server.port"); port != 0 {
		cfg.Server.Port = port
	}

	logger := observability.NewLogger(cfg.Logging)
	observability.SetDefault(logger)
	observability.SetRequestLogging(cfg.Logging.EnableRequestLogging)

	admitter := admission.New(cfg.Admission.MaxURLLength, cfg.Admission.HostAllow)
	templates := domaintemplate.Default()
	if len(cfg.DomainTemplates) > 0 {
		templates = domaintemplate.New(cfg.DomainTemplates)
	}
	respCache := cache.New(cfg.Cache.SoftCapBytes.Bytes(), cfg.Cache.EntryCapBytes.Bytes())

	workers := cfg.Workers.Workers
	if workers <= 0 {
		workers = runtime.NumCPU()
	}
	pool := workerpool.New(workers, cfg.Workers.QueueCapacity, decompress.Decompress)
	defer pool.Stop()

	m := metrics.New()

	httpClient := &http.Client{}

	pipelineCfg := proxy.Config{
		URLParamName:         cfg.Admission.URLParamName,
		UpstreamTimeout:      cfg.Upstream.Timeout.Duration(),
		StreamSizeThreshold:  cfg.Upstream.StreamSizeThreshold,
		EnableStreaming:      cfg.Upstream.EnableStreaming,
		UseCloudflare:        cfg.Upstream.UseCloudflare,
		CopyBufferBytes:      cfg.Upstream.CopyBufferBytes,
		WorkerInlineMaxBytes: cfg.Workers.InlineMaxBytes,
	}
	pipeline := proxy.New(pipelineCfg, admitter, templates, respCache, pool, m, logger, httpClient)

	serverConfig := internalhttp.ServerConfig{
		Host:            cfg.Server.Host,
		Port:            cfg.Server.Port,
		ReadTimeout:     cfg.Server.ReadTimeout.Duration(),
		WriteTimeout:    cfg.Server.WriteTimeout.Duration(),
		IdleTimeout:     cfg.Server.IdleTimeout.Duration(),
		ShutdownTimeout: cfg.Server.ShutdownTimeout.Duration(),
	}
	server := internalhttp.NewServer(serverConfig, logger, version.Version)
	pipeline.Register(server.Router())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigChan
		logger.Info("received shutdown signal", slog.String("signal", sig.String()))
		cancel()
	}()

	logger.Info("starting hlsrelay",
		slog.String("address", serverConfig.Address()),
		slog.String("version", version.Version),
		slog.Int("workers", workers),
	)

	return server.ListenAndServe(ctx)
}
