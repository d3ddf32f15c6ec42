// Package main provides the entry point for layout-api, the versioned
// storage tier for dashboard layouts.
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
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.uber.org/zap"

	"github.com/pestroute/layoutsync/internal/config"
	apierrors "github.com/pestroute/layoutsync/internal/errors"
	"github.com/pestroute/layoutsync/internal/handler"
	"github.com/pestroute/layoutsync/internal/health"
	"github.com/pestroute/layoutsync/internal/logging"
	"github.com/pestroute/layoutsync/internal/metrics"
	"github.com/pestroute/layoutsync/internal/server"
	"github.com/pestroute/layoutsync/internal/service"
	"github.com/pestroute/layoutsync/internal/store"
	"github.com/pestroute/layoutsync/internal/template"
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

	logger.Info("Starting layout-api",
		zap.Int("server_port", cfg.Server.Port),
		zap.Bool("postgres", cfg.Database.URL != ""),
	)

	ctx, stop := context.WithCancel(context.Background())
	defer stop()

	clock := clockwork.NewRealClock()

	st, err := openStore(ctx, cfg, clock, logger)
	if err != nil {
		logger.Fatal("Failed to open store", zap.Error(err))
	}
	defer st.Close()

	validator := validation.NewValidator()
	catalog, err := template.LoadCatalog(cfg.Templates.Path, validator, logger)
	if err != nil {
		logger.Fatal("Failed to load template catalog", zap.Error(err))
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.NewMetrics(registry)

	var metricsServer *metrics.MetricsServer
	if cfg.Metrics.Enabled {
		metricsServer = metrics.NewMetricsServer(cfg.Metrics.Port, cfg.Metrics.Path, registry, logger)
		go func() {
			if err := metricsServer.Start(); err != nil {
				logger.Error("Metrics server error", zap.Error(err))
			}
		}()
	}

	layouts := service.NewLayoutService(st, catalog, validator, logger)
	errorHandler := apierrors.NewHandler(logger)

	healthCheck := health.NewHealthCheck(map[string]health.Checker{"store": layouts}, clock, m, logger)
	go healthCheck.Run(ctx)

	httpServer := server.NewServer(cfg, healthCheck, errorHandler, m, logger)
	httpServer.SetupAPIRoutes(handler.NewLayoutHandlers(layouts, errorHandler, logger, cfg.Server.RequestTimeout))

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
	healthCheck.SetReady(false)
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

	logger.Info("layout-api shutdown complete")
}

// openStore connects to PostgreSQL when a database URL is configured and
// falls back to the in-memory store otherwise.
func openStore(ctx context.Context, cfg *config.Config, clock clockwork.Clock, logger *zap.Logger) (store.Store, error) {
	if cfg.Database.URL == "" {
		logger.Warn("No database configured, layouts are kept in memory")
		return store.NewMemoryStore(clock, logger), nil
	}

	pg, err := store.NewPostgresStoreFromURL(ctx, cfg.Database.URL, cfg.Database.MaxConns, clock, logger)
	if err != nil {
		return nil, err
	}
	if cfg.Database.Migrate {
		if err := pg.Migrate(ctx); err != nil {
			pg.Close()
			return nil, err
		}
	}
	return pg, nil
}
