package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"

	"github.com/wolfman30/clinic-booking-engine/cmd/mainconfig"
	"github.com/wolfman30/clinic-booking-engine/internal/api/router"
	"github.com/wolfman30/clinic-booking-engine/internal/app/bootstrap"
	appconfig "github.com/wolfman30/clinic-booking-engine/internal/config"
	"github.com/wolfman30/clinic-booking-engine/internal/crm"
	"github.com/wolfman30/clinic-booking-engine/internal/http/handlers"
	"github.com/wolfman30/clinic-booking-engine/pkg/logging"
)

// app is everything main starts and stops.
type app struct {
	handler http.Handler
	engine  *bootstrap.Engine
	worker  *crm.Worker
	redis   *redis.Client
	// local is set when CRM jobs are queued in memory and consumed here.
	local *crm.MemoryQueue
}

func setup(ctx context.Context, cfg *appconfig.Config, reg *prometheus.Registry, logger *logging.Logger) (*app, error) {
	queue, inProcess, err := mainconfig.BuildCRMQueue(ctx, cfg)
	if err != nil {
		return nil, err
	}

	engine, err := bootstrap.BuildEngine(cfg, bootstrap.EngineOptions{Queue: queue, Registerer: reg, Logger: logger})
	if err != nil {
		return nil, err
	}

	a := &app{engine: engine}
	if inProcess {
		a.worker = engine.NewCRMWorker(queue, logger)
		if a.worker != nil {
			a.local, _ = queue.(*crm.MemoryQueue)
		}
	}

	a.redis = bootstrap.BuildRedisClient(ctx, cfg, logger, true)
	limiter := bootstrap.BuildRateLimiter(ctx, cfg, a.redis, logger)

	a.handler = router.New(&router.Config{
		Logger:         logger,
		Booking:        handlers.NewBookingHandler(engine.Searcher, engine.Manager, engine.ServiceInfo(), logger),
		MetricsHandler: promhttp.HandlerFor(reg, promhttp.HandlerOpts{}),
		Recorder:       engine.Metrics,
		RateLimiter:    limiter,
	})
	return a, nil
}

// drainCRM flushes pending enqueues and, for the in-memory queue, waits for
// the workers to pick up every job. Call it before stopping the workers.
func (a *app) drainCRM(ctx context.Context) error {
	if a.engine != nil && a.engine.Dispatcher != nil {
		a.engine.Dispatcher.Wait()
	}
	if a.local == nil {
		return nil
	}
	return a.local.Drain(ctx)
}

func main() {
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, using environment variables")
	}

	// Load configuration
	cfg := appconfig.Load()

	// Initialize logger
	logger := mainconfig.NewLogger(cfg)
	logger.Info("starting clinic-booking-engine API server",
		"env", cfg.Env,
		"port", cfg.Port,
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	a, err := setup(ctx, cfg, reg, logger)
	if err != nil {
		logger.Error("failed to initialize booking engine", "error", err)
		os.Exit(1)
	}
	if a.worker != nil {
		a.worker.Start(ctx)
	}

	// Create HTTP server
	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      a.handler,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: cfg.SearchDeadline + 15*time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Start server in a goroutine
	go func() {
		logger.Info("server listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	// Wait for interrupt signal to gracefully shutdown the server
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("shutting down server...")

	// Graceful shutdown with timeout
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server forced to shutdown", "error", err)
	}

	if err := a.drainCRM(shutdownCtx); err != nil {
		logger.Error("crm queue not drained", "error", err)
	}
	cancel()
	if a.worker != nil {
		a.worker.Wait()
	}
	if a.redis != nil {
		_ = a.redis.Close()
	}

	logger.Info("server stopped")
	fmt.Println("Server exited gracefully")
}
