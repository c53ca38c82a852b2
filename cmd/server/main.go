package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"hongit/backend"
	"hongit/internal/api"
)

func main() {
	// Load config (env vars override file config)
	config, err := backend.LoadConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "config error: %v\n", err)
		os.Exit(1)
	}

	backend.InitLogger(config.LogLevel)
	backend.Logger.Info("hongit local backend starting", "version", api.AppVersion, "config", backend.GetConfigPath())

	if err := os.MkdirAll(config.OutputDirectory, 0755); err != nil {
		backend.Logger.Warn("could not create output directory", "path", config.OutputDirectory, "error", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// yt-dlp lifecycle
	ytdlpPath := backend.ConfigureYtDlp(config.YtDlpPath)
	ytdlpVersion, err := backend.YtDlpVersion(ctx)
	if err != nil {
		backend.Logger.Warn("yt-dlp not available", "path", ytdlpPath, "error", err)
	} else {
		backend.Logger.Info("yt-dlp ready", "path", ytdlpPath, "version", ytdlpVersion)
	}
	if config.AutoUpdate {
		go func() {
			if err := backend.UpdateYtDlp(ctx); err != nil {
				backend.Logger.Warn("yt-dlp update failed", "error", err)
			}
		}()
	}

	httpClient := backend.MustHTTPClient(60*time.Second, config.ProxyURL)

	cache := backend.NewCatalogCache(config.RedisURL, config.CatalogCacheTTL, 1000)
	defer cache.Close()
	catalog := backend.NewSaavnClient(config.CatalogBaseURL, httpClient, config.CatalogRate, cache)

	extractor := backend.NewExtractor(backend.NewYtDlpResolver(), config.ExtractorConfig())

	// Downloads use a client without an overall timeout; cancellation is per item.
	downloadClient := backend.MustHTTPClient(0, config.ProxyURL)
	queue := backend.NewQueue(ctx, config.ConcurrentDownloads, config.OutputDirectory, downloadClient)

	server := api.NewServer(api.Options{
		Config:       config,
		Queue:        queue,
		Catalog:      catalog,
		Extractor:    extractor,
		Status:       backend.NewStatusChecker(httpClient, config.CatalogBaseURL),
		Cache:        cache,
		YtDlpVersion: ytdlpVersion,
		AccessLog:    true,
	})

	// Set queue progress callback to broadcast via WebSocket
	queue.SetProgressCallback(server.BroadcastQueueEvent)
	queue.StartProcessing()

	// Handle graceful shutdown
	go func() {
		sigChan := make(chan os.Signal, 1)
		signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
		<-sigChan

		backend.Logger.Info("shutting down")
		cancel()
		queue.StopProcessing()
		if err := server.Shutdown(); err != nil {
			backend.Logger.Error("server shutdown failed", "error", err)
		}
	}()

	addr := fmt.Sprintf(":%d", config.Port)
	backend.Logger.Info("server listening", "addr", addr)
	if err := server.Listen(addr); err != nil {
		backend.Logger.Error("server error", "error", err)
		os.Exit(1)
	}
}
