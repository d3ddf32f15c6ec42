// Package main provides the entry point for layout-agent, the client-side
// edit engine that sits between a dashboard editor and layout-api.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/jonboulle/clockwork"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/pestroute/layoutsync/internal/client"
	"github.com/pestroute/layoutsync/internal/config"
	"github.com/pestroute/layoutsync/internal/connectivity"
	apierrors "github.com/pestroute/layoutsync/internal/errors"
	"github.com/pestroute/layoutsync/internal/handler"
	"github.com/pestroute/layoutsync/internal/health"
	"github.com/pestroute/layoutsync/internal/logging"
	"github.com/pestroute/layoutsync/internal/metrics"
	"github.com/pestroute/layoutsync/internal/model"
	"github.com/pestroute/layoutsync/internal/retry"
	"github.com/pestroute/layoutsync/internal/server"
	"github.com/pestroute/layoutsync/internal/service"
	"github.com/pestroute/layoutsync/internal/store"
	"github.com/pestroute/layoutsync/internal/validation"
)

func main() {
	configPath := flag.String("config", "", "path to config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	logger, err := logging.New(cfg.Logging)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	logger.Info("Starting layout-agent",
		zap.Int("server_port", cfg.Server.Port),
		zap.String("api_url", cfg.Agent.APIURL),
		zap.String("queue_store", cfg.Queue.Store),
	)

	ctx, stop := context.WithCancel(context.Background())
	defer stop()

	clock := clockwork.NewRealClock()
	registry := prometheus.NewRegistry()
	m := metrics.NewMetrics(registry)

	api := client.NewLayoutClient(cfg.Agent.APIURL, cfg.Agent.RequestTimeout, logger)
	defer api.Close()

	probe := connectivity.NewHealthProbe(api, clock, cfg.Connectivity.ProbeInterval, cfg.Connectivity.ProbeTimeout, logger)
	go probe.Run(ctx)

	queueStore, closeQueueStore, err := openQueueStore(cfg, logger)
	if err != nil {
		logger.Fatal("Failed to open queue store", zap.Error(err))
	}
	defer closeQueueStore()

	validator := validation.NewValidator()
	cache := service.NewRegionCache()
	controller := service.NewConcurrencyController(api, validator, clock, m, logger)
	negotiations := service.NewNegotiationRegistry(controller, cache, clock, m, logger)

	queue := service.NewOfflineQueue(
		queueStore,
		service.NewStoreDispatcher(api, logger),
		probe,
		negotiations,
		service.QueueConfig{
			MaxRetries:         cfg.Queue.MaxRetries,
			PollInterval:       cfg.Queue.PollInterval,
			CompletedRetention: cfg.Queue.CompletedRetention,
		},
		clock,
		m,
		logger,
	)
	if err := queue.Load(ctx); err != nil {
		logger.Fatal("Failed to load offline queue", zap.Error(err))
	}
	unsubscribe := queue.Subscribe(func(status model.QueueStatus) {
		if status.Failed > 0 || status.Conflicted > 0 {
			logger.Warn("Queued operations need attention",
				zap.Int("failed", status.Failed),
				zap.Int("conflicted", status.Conflicted),
				zap.Int("pending", status.Pending))
		}
	})
	defer unsubscribe()
	go func() {
		if err := queue.Run(ctx); err != nil {
			logger.Error("Offline queue stopped", zap.Error(err))
		}
	}()

	executor := retry.NewExecutor(clock, retry.Policy{
		MaxRetries:   cfg.Retry.MaxRetries,
		InitialDelay: cfg.Retry.InitialDelay,
		MaxDelay:     cfg.Retry.MaxDelay,
		Multiplier:   cfg.Retry.Multiplier,
	}, logger)
	edits := service.NewEditService(controller, api, validator, queue, negotiations, cache, probe, executor, m, logger)
	bulk := service.NewBulkCoordinator(controller, api, cache, service.BulkConfig{
		HistorySize: cfg.Bulk.HistorySize,
		Concurrency: cfg.Bulk.Concurrency,
	}, clock, m, logger)

	var metricsServer *metrics.MetricsServer
	if cfg.Metrics.Enabled {
		metricsServer = metrics.NewMetricsServer(cfg.Metrics.Port, cfg.Metrics.Path, registry, logger)
		go func() {
			if err := metricsServer.Start(); err != nil {
				logger.Error("Metrics server error", zap.Error(err))
			}
		}()
	}

	errorHandler := apierrors.NewHandler(logger)
	healthCheck := health.NewHealthCheck(map[string]health.Checker{"layout-api": api}, clock, m, logger)
	go healthCheck.Run(ctx)

	httpServer := server.NewServer(cfg, healthCheck, errorHandler, m, logger)
	httpServer.SetupAgentRoutes(handler.NewAgentHandlers(edits, queue, negotiations, bulk, errorHandler, logger, cfg.Server.RequestTimeout))

	errChan := make(chan error, 1)
	go func() {
		if err := httpServer.Start(); err != nil {
			errChan <- err
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigChan:
		logger.Info("Received shutdown signal", zap.String("signal", sig.String()))
	case err := <-errChan:
		logger.Error("Server error", zap.Error(err))
	}

	logger.Info("Initiating graceful shutdown")
	stop()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("Failed to shutdown HTTP server", zap.Error(err))
	}
	if metricsServer != nil {
		if err := metricsServer.Shutdown(shutdownCtx); err != nil {
			logger.Error("Failed to shutdown metrics server", zap.Error(err))
		}
	}

	status := queue.Status()
	logger.Info("layout-agent shutdown complete",
		zap.Int("pending", status.Pending),
		zap.Int("failed", status.Failed))
}

// openQueueStore returns the configured queue store and its close func.
func openQueueStore(cfg *config.Config, logger *zap.Logger) (store.QueueStore, func(), error) {
	switch cfg.Queue.Store {
	case "redis":
		rs, err := store.DialRedisQueueStore(cfg.Redis.Host, cfg.Redis.Port, cfg.Redis.Password, cfg.Redis.DB, cfg.Queue.RedisKey, logger)
		if err != nil {
			return nil, nil, err
		}
		return rs, func() {
			if err := rs.Close(); err != nil {
				logger.Warn("Failed to close redis queue store", zap.Error(err))
			}
		}, nil
	default:
		fs, err := store.NewFileQueueStore(cfg.Queue.FilePath, logger)
		if err != nil {
			return nil, nil, err
		}
		return fs, func() {}, nil
	}
}
