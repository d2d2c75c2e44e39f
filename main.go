package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/panjf2000/ants/v2"

	"ytlive-proxy/work/buffer"
	"ytlive-proxy/work/cache"
	"ytlive-proxy/work/client"
	"ytlive-proxy/work/config"
	"ytlive-proxy/work/handlers"
	"ytlive-proxy/work/logger"
	"ytlive-proxy/work/proxy"
	"ytlive-proxy/work/resolver"
	"ytlive-proxy/work/utils"
)

var (
	Version = "v0.1.0" // default version
)

// our main app worker
func main() {
	configPath := flag.String("config", config.DefaultPath, "path to the JSON config file")
	examplePath := flag.String("example-config", "", "write an example config to this path and exit")
	flag.Parse()

	if *examplePath != "" {
		if err := config.CreateExampleConfig(*examplePath); err != nil {
			fmt.Fprintf(os.Stderr, "failed to write example config: %v\n", err)
			os.Exit(1)
		}
		fmt.Printf("example config written to %s\n", *examplePath)
		return
	}

	// load our config
	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config %s: %v\n", *configPath, err)
		os.Exit(1)
	}
	logger.SetLogLevel(cfg.LogLevel)

	// bounded pool for upstream dispatch
	workerPool, err := ants.NewPool(cfg.MaxUpstreamConcurrency, ants.WithNonblocking(true))
	if err != nil {
		logger.Error("{main - main} failed to create worker pool: %v", err)
		os.Exit(1)
	}
	defer workerPool.Release()

	httpClient := client.NewHeaderSettingClient(cfg, workerPool)

	pageResolver, err := resolver.NewPageResolver(httpClient, cfg.UpstreamBaseURL, cfg.ManifestMarkers)
	if err != nil {
		logger.Error("{main - main} invalid manifest markers: %v", err)
		os.Exit(1)
	}

	store, err := cache.NewStore(cfg)
	if err != nil {
		logger.Error("{main - main} failed to create %s cache: %v", cfg.CacheBackend, err)
		os.Exit(1)
	}
	defer store.Close()

	layer := cache.NewLayer(store, cfg, buffer.NewBufferPool(cfg.CacheMaxEntryBytes))
	proxyInstance := proxy.New(cfg, httpClient, pageResolver, layer)

	server := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           handlers.NewRouter(proxyInstance),
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	// show info
	logger.Info("Starting YTLive Proxy %s", Version)
	logger.Info("Server configuration:")
	logger.Info("  - Listen Address: %s", cfg.ListenAddr)
	logger.Info("  - Base URL: %s", orDerived(cfg.BaseURL))
	logger.Info("  - Upstream: %s", cfg.UpstreamBaseURL)
	logger.Info("  - Cache Backend: %s (%s, max entry %s)", cfg.CacheBackend,
		utils.FormatBytes(cfg.CacheMaxBytes), utils.FormatBytes(cfg.CacheMaxEntryBytes))
	logger.Info("  - Cache TTLs: master %s, variant %s, segment %s", cfg.MasterTTL, cfg.VariantTTL, cfg.SegmentTTL)
	logger.Info("  - Upstream Concurrency: %d", cfg.MaxUpstreamConcurrency)
	logger.Info("  - Upstream Rate Limit: %d/s per host", cfg.UpstreamRateLimit)
	logger.Info("  - Manifest Compression: %v", cfg.CompressManifests)
	logger.Info("  - Log Level: %s", logger.GetLogLevel())
	logger.Info("  - URL Obfuscation: %v", cfg.ObfuscateUrls)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	go func() {
		<-ctx.Done()
		logger.Info("Shutdown requested, draining connections...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			logger.Warn("{main - main} graceful shutdown incomplete: %v", err)
		}
	}()

	// fire us up
	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Error("{main - main} server failed: %v", err)
		os.Exit(1)
	}
	logger.Info("Server stopped")
}

func orDerived(baseURL string) string {
	if baseURL == "" {
		return "(derived from request)"
	}
	return baseURL
}
