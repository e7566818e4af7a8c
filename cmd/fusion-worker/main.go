/**
 * Record Fusion Worker - Main Entry Point
 *
 * Serves the fusion HTTP API for sacramental-record OCR jobs and runs the
 * background tasks that snapshot job bundles.
 *
 * Architecture:
 * - One database per church, resolved from a DSN template
 * - Asynq task queue on Redis, or an in-process queue when REDIS_URL is unset
 * - Redis-backed anchor configuration cache shared by replicas
 */

package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/adverant/nexus/recordfusion/internal/api"
	"github.com/adverant/nexus/recordfusion/internal/bundle"
	"github.com/adverant/nexus/recordfusion/internal/cache"
	"github.com/adverant/nexus/recordfusion/internal/config"
	"github.com/adverant/nexus/recordfusion/internal/fusion"
	"github.com/adverant/nexus/recordfusion/internal/logging"
	"github.com/adverant/nexus/recordfusion/internal/queue"
	"github.com/adverant/nexus/recordfusion/internal/storage"
	"github.com/adverant/nexus/recordfusion/internal/tenant"
	"github.com/joho/godotenv"
)

type taskQueue interface {
	fusion.Notifier
	Start() error
	Stop() error
}

func main() {
	// Load environment variables
	envErr := godotenv.Load(".env")

	cfg, err := config.LoadConfig()
	if err != nil {
		logging.NewLogger("main").Error("Failed to load configuration", "error", err.Error())
		os.Exit(1)
	}

	logging.Configure(logging.Options{Level: cfg.LogLevel, JSON: cfg.IsProduction()})
	logger := logging.NewLogger("main")
	if envErr != nil {
		logger.Warn(".env not found, using system environment variables")
	}

	logger.Info("Record fusion worker starting",
		"http_addr", cfg.HTTPAddr,
		"tenant_driver", cfg.TenantDBDriver,
		"redis", cfg.RedisURL != "",
		"workers", cfg.WorkerConcurrency,
	)

	resolver, err := tenant.NewResolver(cfg.TenantDBDriver, cfg.TenantDSNTemplate, storage.PoolOptions{
		MaxOpenConns:    cfg.DBMaxOpenConns,
		MaxIdleConns:    cfg.DBMaxIdleConns,
		ConnMaxLifetime: cfg.DBConnMaxLifetime,
	}, logging.NewLogger("tenant"))
	if err != nil {
		logger.Error("Failed to initialize tenant resolver", "error", err.Error())
		os.Exit(1)
	}
	defer resolver.Close()

	writer := bundle.NewWriter(cfg.BundleDir, logging.NewLogger("bundle"))
	handler := queue.NewBundleHandler(func(ctx context.Context, churchID int64) (bundle.DraftLister, error) {
		return resolver.Store(ctx, churchID)
	}, writer, logging.NewLogger("tasks"))

	tasks, err := newTaskQueue(cfg, handler)
	if err != nil {
		logger.Error("Failed to initialize task queue", "error", err.Error())
		os.Exit(1)
	}
	if err := tasks.Start(); err != nil {
		logger.Error("Failed to start task queue", "error", err.Error())
		os.Exit(1)
	}

	anchors, closeCache := newAnchorCache(cfg, logger)
	defer closeCache()

	srv, err := api.NewServer(resolver, api.Settings{
		NormalizeConfidenceThreshold: cfg.NormalizeConfidenceThreshold,
		MinTokenConfidence:           cfg.LayoutConfidenceThreshold,
		MinAnchors:                   cfg.AutoModeMinAnchors,
		MaxExtent:                    cfg.LearnedZoneMaxExtent,
	}, logging.NewLogger("api"),
		api.WithNotifier(tasks),
		api.WithAnchorCache(anchors),
	)
	if err != nil {
		logger.Error("Failed to initialize API", "error", err.Error())
		os.Exit(1)
	}

	httpServer := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           srv.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("HTTP server failed", "error", err.Error())
			os.Exit(1)
		}
	}()

	logger.Info("Record fusion worker is READY", "http_addr", cfg.HTTPAddr, "bundle_dir", cfg.BundleDir)

	// Setup graceful shutdown
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	sig := <-sigChan
	logger.Info("Received signal, initiating graceful shutdown", "signal", sig.String())

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(ctx); err != nil {
		logger.Error("Error stopping HTTP server", "error", err.Error())
	}

	if err := tasks.Stop(); err != nil {
		logger.Error("Error stopping task queue", "error", err.Error())
	}

	logger.Info("Shutdown complete")
}

func newTaskQueue(cfg *config.Config, handler *queue.BundleHandler) (taskQueue, error) {
	if cfg.RedisURL == "" {
		return queue.NewLocalQueue(queue.LocalConfig{
			Concurrency: cfg.WorkerConcurrency,
			MaxRetry:    queue.DefaultMaxRetry,
		}, handler, logging.NewLogger("queue")), nil
	}
	return queue.NewAsynqQueue(queue.AsynqConfig{
		RedisURL:    cfg.RedisURL,
		QueueName:   cfg.TaskQueueName,
		Concurrency: cfg.WorkerConcurrency,
		MaxRetry:    queue.DefaultMaxRetry,
	}, handler, logging.NewLogger("queue"))
}

// newAnchorCache prefers Redis and falls back to a per-process cache
func newAnchorCache(cfg *config.Config, logger *logging.Logger) (cache.AnchorCache, func()) {
	if cfg.RedisURL == "" {
		return cache.NewMemoryCache(cfg.AnchorCacheTTL), func() {}
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	rc, err := cache.NewRedisCache(ctx, cfg.RedisURL, cfg.AnchorCacheTTL, logging.NewLogger("cache"))
	if err != nil {
		logger.Warn("Redis anchor cache unavailable, using in-process cache", "error", err.Error())
		return cache.NewMemoryCache(cfg.AnchorCacheTTL), func() {}
	}
	return rc, func() {
		if err := rc.Close(); err != nil {
			logger.Warn("Error closing anchor cache", "error", err.Error())
		}
	}
}
