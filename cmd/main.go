package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/riverbend/watchlistd/internal/api"
	"github.com/riverbend/watchlistd/internal/browser"
	"github.com/riverbend/watchlistd/internal/cache"
	"github.com/riverbend/watchlistd/internal/config"
	"github.com/riverbend/watchlistd/internal/extractor"
	"github.com/riverbend/watchlistd/internal/jobqueue"
	"github.com/riverbend/watchlistd/internal/metadata"
	"github.com/riverbend/watchlistd/internal/orchestrator"
	"github.com/riverbend/watchlistd/internal/session"
	"github.com/riverbend/watchlistd/internal/store"
)

func main() {
	cfg := config.Load()
	configureLogging(cfg.LogLevel)

	redisClient, err := store.Connect(cfg.RedisURL)
	if err != nil {
		slog.Error("connect to redis failed", "error", err)
		os.Exit(1)
	}

	sessions := session.New(cfg.SessionDir)
	driver := browser.NewDriver(sessions, cfg.MaxConcurrentJob)
	pageExtractor := extractor.New()

	overrides, err := metadata.LoadOverrides(cfg.OverridesFile)
	if err != nil {
		slog.Error("load classifier overrides failed", "error", err)
		os.Exit(1)
	}
	metadataCache := cache.NewMetadataCache(redisClient, cfg.MetadataCacheTTL)
	metadataClient, err := metadata.New(cfg.MetadataAPIKey, metadataCache, overrides, cfg.MetadataRatePerSec, cfg.MetadataTimeout)
	if err != nil {
		slog.Error("init metadata client failed", "error", err)
		os.Exit(1)
	}

	resultCache := cache.New(redisClient, cfg.CacheTTL)
	orch := orchestrator.New(driver, pageExtractor, metadataClient, resultCache, cfg.CacheTTL, cfg.MaxPages, cfg.SourceBaseURL)

	jobs, err := jobqueue.New(cfg.RedisURL, redisClient, cfg.JobTTL, cfg.MaxJobAttempts, cfg.JobHardDeadline)
	if err != nil {
		slog.Error("init job queue failed", "error", err)
		os.Exit(1)
	}
	defer jobs.Close()

	processor, err := jobqueue.NewProcessor(cfg.RedisURL, redisClient, orch, resultCache, cfg.CacheTTL, cfg.MaxJobAttempts, cfg.JobTTL, cfg.MaxConcurrentJob, cfg.StuckJobAfter)
	if err != nil {
		slog.Error("init job processor failed", "error", err)
		os.Exit(1)
	}

	redisOpt, err := jobqueue.RedisOptFromURL(cfg.RedisURL)
	if err != nil {
		slog.Error("parse redis url failed", "error", err)
		os.Exit(1)
	}
	health := newServiceHealth(redisClient, redisOpt)

	httpServer := &http.Server{
		Addr:    ":" + strconv.Itoa(cfg.Port),
		Handler: api.New(jobs, resultCache, health, cfg.WorkerSecret, 90*time.Second),
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	go func() {
		slog.Info("watchlistd: job processor starting")
		if err := processor.Run(ctx, cfg.ShutdownGrace, time.Minute); err != nil {
			slog.Error("job processor exited", "error", err)
		}
	}()

	go func() {
		slog.Info("watchlistd: http api listening", "addr", httpServer.Addr)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("http server exited", "error", err)
			os.Exit(1)
		}
	}()

	<-ctx.Done()
	slog.Info("watchlistd: shutdown signal received")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownGrace)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		slog.Warn("http server shutdown error", "error", err)
	}
	processor.Shutdown()
	if err := driver.Close(); err != nil {
		slog.Warn("browser driver close error", "error", err)
	}
}

func configureLogging(level string) {
	var lvl slog.Level
	switch level {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: lvl})))
}
