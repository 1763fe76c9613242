package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/CodecFlow/codecflow/pkg/api"
	"github.com/CodecFlow/codecflow/pkg/events"
	"github.com/CodecFlow/codecflow/pkg/infrastructure/config"
	"github.com/CodecFlow/codecflow/pkg/infrastructure/logging"
	"github.com/CodecFlow/codecflow/pkg/infrastructure/metrics"
	"github.com/CodecFlow/codecflow/pkg/jobstore"
	"github.com/CodecFlow/codecflow/pkg/scheduler"
	"github.com/CodecFlow/codecflow/pkg/storage"
	"github.com/CodecFlow/codecflow/pkg/worker"
)

func main() {
	var (
		configFile = flag.String("config", "", "Configuration file path")
		listenPort = flag.Int("port", 0, "HTTP listen port (overrides config)")
		noMigrate  = flag.Bool("no-migrate", false, "Skip schema migrations on startup")
		noWorkers  = flag.Bool("no-workers", false, "Serve the API without in-process worker slots")
	)

	flag.Parse()

	cfg, err := config.LoadConfig(*configFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}
	if *listenPort != 0 {
		cfg.Server.Port = *listenPort
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

	if !*noMigrate {
		if err := db.MigrateToLatest(ctx); err != nil {
			fmt.Fprintf(os.Stderr, "Failed to run migrations: %v\n", err)
			os.Exit(1)
		}
	}

	registry, err := storage.NewRegistry(&cfg.Storage)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize storage backends: %v\n", err)
		os.Exit(1)
	}

	sched := scheduler.NewScheduler(cfg.Jobs.MaxConcurrentPerKey, logger)
	if err := sched.Rebuild(ctx, db); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to rebuild queue from store: %v\n", err)
		os.Exit(1)
	}

	hub := events.NewHub()
	m := metrics.New()

	// The scheduler is in-process, so worker slots normally run in
	// the same process as the API. A dedicated fleet can run with
	// -no-workers and scale codecflow-worker separately.
	var pool *worker.Pool
	if !*noWorkers && cfg.Worker.Slots > 0 {
		engine, err := buildEngine(ctx, cfg, db, registry, hub, m, logger)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Failed to initialize worker engine: %v\n", err)
			os.Exit(1)
		}
		pool = worker.NewPool(engine, sched, cfg.Worker.Slots, cfg.Worker.Queues, logger)
		pool.Start(ctx)
	}

	server := api.NewServer(cfg, db, registry, sched, hub, m, logging.GetGlobalLogger())

	errCh := make(chan error, 1)
	go func() {
		errCh <- server.Start()
	}()

	go reportQueueDepths(ctx, sched, m)

	select {
	case <-ctx.Done():
		logger.Info("shutdown signal received", nil)
	case err := <-errCh:
		if err != nil {
			fmt.Fprintf(os.Stderr, "Server error: %v\n", err)
			os.Exit(1)
		}
		return
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Warn("api shutdown did not drain cleanly", map[string]interface{}{
			"error": err.Error(),
		})
	}
	if pool != nil {
		pool.Shutdown(30 * time.Second)
	}
	sched.Close()
	logger.Info("shutdown complete", nil)
}

func buildEngine(ctx context.Context, cfg *config.Config, db *jobstore.Database,
	registry *storage.Registry, hub *events.Hub, m *metrics.Metrics, logger *logging.Logger) (*worker.Engine, error) {

	caps := worker.DetectCaps(ctx, cfg.Worker.FFmpegBinary, logger)
	webhooks := events.NewWebhookDeliverer(logger)
	webhooks.SetMetrics(m)

	engine, err := worker.NewEngine(db, registry, hub, webhooks, caps, worker.Config{
		FFmpegBinary:  cfg.Worker.FFmpegBinary,
		FFprobeBinary: cfg.Worker.FFprobeBinary,
		TaskTimeLimit: cfg.Worker.TaskTimeLimitDuration,
		TempRoot:      cfg.Worker.TempRoot,
	}, logger)
	if err != nil {
		return nil, err
	}
	engine.SetMetrics(m)
	return engine, nil
}

func reportQueueDepths(ctx context.Context, sched *scheduler.Scheduler, m *metrics.Metrics) {
	ticker := time.NewTicker(10 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.ObserveQueueDepths(sched.Depths())
		}
	}
}
