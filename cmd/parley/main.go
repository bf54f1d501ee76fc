package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.uber.org/zap"

	"github.com/nidhogg/parley/internal/api"
	"github.com/nidhogg/parley/internal/app"
	"github.com/nidhogg/parley/internal/config"
	"github.com/nidhogg/parley/internal/events"
	"github.com/nidhogg/parley/internal/metrics"
	"github.com/nidhogg/parley/internal/session"
)

func main() {
	_ = godotenv.Load()

	// Load configuration
	cfgPath := os.Getenv("CONFIG_PATH")
	if cfgPath == "" {
		cfgPath = config.DefaultConfigPath
	}
	cfg, cfgErr := config.Load(cfgPath)
	if cfgErr != nil {
		cfg = config.Default()
	}

	logger, err := app.NewLogger(cfg.Server.LogLevel)
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	logger.Info("Starting Parley...")
	if cfgErr != nil {
		logger.Warn("config not loaded, using defaults", zap.String("path", cfgPath), zap.Error(cfgErr))
	} else {
		logger.Info("Config loaded", zap.String("path", cfgPath))
	}

	ctx := context.Background()

	// Metrics
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	collector := metrics.NewCollector(reg, "parley", logger)

	// Initialize provider router
	router := app.NewRouter(cfg, collector, logger)
	if len(router.ListProviders()) == 0 {
		logger.Warn("no LLM providers configured; runs will fail until one is added")
	}

	// Results: CSV, mirrored to PostgreSQL when available
	store, closeStore := app.NewResults(ctx, cfg, logger)
	defer closeStore()

	opts := session.Options{
		Source:       router,
		Temperatures: app.Temperatures(cfg),
		Metrics:      collector,
		Results:      store,
		Notifier:     app.NewNotifier(cfg, logger),
		Logger:       logger,
	}

	// Run events over Redis Streams
	var bus *events.Bus
	if cfg.Database.Redis.URL != "" {
		b, busErr := events.NewBus(ctx, cfg.Database.Redis.URL, logger)
		if busErr != nil {
			logger.Warn("Redis unavailable, running without run events", zap.Error(busErr))
		} else {
			bus = b
			opts.Events = bus
			logger.Info("Run event bus initialized")
		}
	}

	deps := api.Deps{
		Sessions:     session.NewManager(opts),
		Results:      store,
		Providers:    router,
		Metrics:      collector,
		Gatherer:     reg,
		ScenariosDir: cfg.Negotiation.ScenariosDir,
		RulesPath:    cfg.Negotiation.RulesPath,
		CORSOrigins:  cfg.Server.CORSOrigins,
	}
	if bus != nil {
		deps.Events = bus
	}
	handler := api.NewHandler(deps, logger)

	// Start server
	port := fmt.Sprintf("%d", cfg.Server.Port)
	srv := &http.Server{
		Addr:              ":" + port,
		Handler:           handler.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		logger.Info("Parley listening", zap.String("port", port))
		if err := srv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("server error", zap.Error(err))
		}
	}()

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("Shutting down Parley...")
	shutdownCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("server shutdown", zap.Error(err))
	}
	if bus != nil {
		bus.Close()
	}
}
