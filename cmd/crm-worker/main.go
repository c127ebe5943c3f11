package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/wolfman30/clinic-booking-engine/cmd/mainconfig"
	"github.com/wolfman30/clinic-booking-engine/internal/app/bootstrap"
	appconfig "github.com/wolfman30/clinic-booking-engine/internal/config"
)

func main() {
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, using environment variables")
	}

	cfg := appconfig.Load()
	logger := mainconfig.NewLogger(cfg)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	queue, _, err := mainconfig.BuildCRMQueue(ctx, cfg)
	if err != nil {
		logger.Error("failed to build CRM queue", "error", err)
		os.Exit(1)
	}
	if queue == nil {
		logger.Error("CRM queue disabled, nothing to consume", "queue", cfg.CRMQueue)
		os.Exit(1)
	}

	engine, err := bootstrap.BuildEngine(cfg, bootstrap.EngineOptions{
		Queue:      queue,
		Registerer: prometheus.NewRegistry(),
		Logger:     logger,
	})
	if err != nil {
		logger.Error("failed to initialize booking engine", "error", err)
		os.Exit(1)
	}

	worker := engine.NewCRMWorker(queue, logger)
	if worker == nil {
		logger.Error("GHL is not configured; set GHL_ACCESS_TOKEN")
		os.Exit(1)
	}

	logger.Info("starting crm worker", "queue", cfg.CRMQueue, "workers", cfg.CRMWorkerCount)
	worker.Start(ctx)

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop

	logger.Info("shutting down crm worker...")
	cancel()

	doneCtx, doneCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer doneCancel()

	waitCh := make(chan struct{})
	go func() {
		worker.Wait()
		close(waitCh)
	}()

	select {
	case <-waitCh:
		logger.Info("crm worker stopped")
	case <-doneCtx.Done():
		logger.Error("crm worker shutdown timed out", "error", doneCtx.Err())
	}
}
