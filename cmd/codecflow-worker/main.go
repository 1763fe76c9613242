package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/CodecFlow/codecflow/pkg/events"
	"github.com/CodecFlow/codecflow/pkg/infrastructure/config"
	"github.com/CodecFlow/codecflow/pkg/infrastructure/logging"
	"github.com/CodecFlow/codecflow/pkg/jobstore"
	"github.com/CodecFlow/codecflow/pkg/scheduler"
	"github.com/CodecFlow/codecflow/pkg/storage"
	"github.com/CodecFlow/codecflow/pkg/worker"
)

// syncInterval is how often a standalone worker polls the store for
// jobs submitted through other processes.
const syncInterval = 3 * time.Second

func main() {
	var (
		configFile = flag.String("config", "", "Configuration file path")
		slots      = flag.Int("slots", 0, "Concurrent job slots (overrides config)")
		gpu        = flag.Bool("gpu", false, "Prefer GPU queues and cap slots for encoder sessions")
		workerID   = flag.String("id", "", "Worker identifier recorded on processed jobs")
	)

	flag.Parse()

	cfg, err := config.LoadConfig(*configFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}
	if *gpu {
		cfg.Worker.GPU = true
		cfg.Worker.Queues = nil
		cfg.ApplyComputedFields()
	}
	if *slots != 0 {
		cfg.Worker.Slots = *slots
	}

	logCfg, err := cfg.Logging.LoggerConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to configure logging: %v\n", err)
		os.Exit(1)
	}
	logging.InitGlobalLogger(logCfg)
	logger := logging.GetGlobalLogger().WithComponent("main")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	db, err := jobstore.NewDatabase(ctx, &jobstore.DatabaseConfig{
		ConnectionString: cfg.Database.URL,
		MaxConnections:   cfg.Database.MaxConnections,
		MigrationsPath:   cfg.Database.MigrationsPath,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to connect to database: %v\n", err)
		os.Exit(1)
	}
	defer db.Close()

	registry, err := storage.NewRegistry(&cfg.Storage)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize storage backends: %v\n", err)
		os.Exit(1)
	}

	caps := worker.DetectCaps(ctx, cfg.Worker.FFmpegBinary, logger)
	engine, err := worker.NewEngine(db, registry, events.NewHub(), events.NewWebhookDeliverer(logger), caps, worker.Config{
		WorkerID:      *workerID,
		FFmpegBinary:  cfg.Worker.FFmpegBinary,
		FFprobeBinary: cfg.Worker.FFprobeBinary,
		TaskTimeLimit: cfg.Worker.TaskTimeLimitDuration,
		TempRoot:      cfg.Worker.TempRoot,
	}, logger)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize worker engine: %v\n", err)
		os.Exit(1)
	}

	sched := scheduler.NewScheduler(cfg.Jobs.MaxConcurrentPerKey, logger)
	pool := worker.NewPool(engine, sched, cfg.Worker.Slots, cfg.Worker.Queues, logger)
	pool.Start(ctx)

	logger.Info("worker started", map[string]interface{}{
		"worker_id": engine.WorkerID(),
		"slots":     cfg.Worker.Slots,
		"queues":    cfg.Worker.Queues,
	})

	// Feed the in-process queue from the store until shutdown.
	ticker := time.NewTicker(syncInterval)
	defer ticker.Stop()
	for {
		if _, err := sched.Sync(ctx, db); err != nil && ctx.Err() == nil {
			logger.Warn("queue sync failed", map[string]interface{}{
				"error": err.Error(),
			})
		}
		select {
		case <-ctx.Done():
			logger.Info("shutdown signal received", nil)
			pool.Shutdown(30 * time.Second)
			sched.Close()

			stats := pool.Stats()
			logger.Info("shutdown complete", map[string]interface{}{
				"processed": stats.Processed,
				"failed":    stats.Failed,
			})
			return
		case <-ticker.C:
		}
	}
}
