package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"contract-backend/internal/bootstrap"
	"contract-backend/internal/shared/config"
	"contract-backend/internal/shared/storage/db"
	"contract-backend/internal/shared/telemetry"
	"contract-backend/internal/workerproc"
)

const defaultShutdownTimeout = 30 * time.Second

func main() {
	cfg := config.Load()
	defer telemetry.Sync()

	if cfg.QueueURL == "" {
		log.Fatal("QUEUE_URL is required")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	app, err := bootstrap.Build(ctx, cfg, bootstrap.Options{
		DBOptions: db.DefaultWorkerOptions(cfg.WorkerPoolSize),
	})
	if err != nil {
		log.Fatalf("bootstrap build: %v", err)
	}
	defer app.Close()

	w := &workerproc.Worker{
		Consumer:        app.Queue,
		Processor:       app.AnalysesService,
		PoolSize:        cfg.WorkerPoolSize,
		ShutdownTimeout: defaultShutdownTimeout,
	}
	telemetry.Info("worker.start", map[string]any{"queue_url": cfg.QueueURL, "pool_size": cfg.WorkerPoolSize})
	if err := w.Run(ctx); err != nil {
		log.Fatalf("worker: %v", err)
	}
	telemetry.Info("worker.stopped", nil)
}
