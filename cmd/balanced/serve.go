package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	v1 "github.com/aevon-lab/balance-stream/internal/api/v1"
	corecfg "github.com/aevon-lab/balance-stream/internal/core/config"
	"github.com/aevon-lab/balance-stream/internal/core/storage"
	"github.com/aevon-lab/balance-stream/internal/core/storage/memory"
	"github.com/aevon-lab/balance-stream/internal/core/storage/postgres"
	"github.com/aevon-lab/balance-stream/internal/core/storage/redis"
	"github.com/aevon-lab/balance-stream/internal/ingestion"
	"github.com/aevon-lab/balance-stream/internal/logging"
	"github.com/aevon-lab/balance-stream/internal/metrics"
	"github.com/aevon-lab/balance-stream/internal/migrations"
	"github.com/aevon-lab/balance-stream/internal/processing"
	"github.com/aevon-lab/balance-stream/internal/projection"
	"github.com/aevon-lab/balance-stream/internal/server"
	"github.com/aevon-lab/balance-stream/internal/state"
	"github.com/aevon-lab/balance-stream/internal/syncwindow"
	"github.com/aevon-lab/balance-stream/internal/tracing"
	"github.com/aevon-lab/balance-stream/internal/transport/kafka"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Consume balance streams and serve the HTTP API",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runServe(cmd.Context())
	},
}

// loadConfig loads the config and installs the default logger.
func loadConfig() (*corecfg.Config, error) {
	cfg, err := corecfg.Load(configPath)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	slog.SetDefault(logging.New(os.Stdout, cfg.Log.Level, cfg.Log.Format))
	return cfg, nil
}

func openKeyValueStore(cfg *corecfg.Config) (storage.KeyValueStore, func(), error) {
	switch cfg.State.Backend {
	case "memory":
		slog.Warn("[Redis] Using in-memory state backend; state is lost on restart")
		return memory.NewStore(), func() {}, nil
	default:
		rs, err := redis.NewStore(redis.Options{
			Addr:        cfg.Redis.Addr,
			Password:    cfg.Redis.Password,
			DB:          cfg.Redis.DB,
			PoolSize:    cfg.Redis.PoolSize,
			DialTimeout: cfg.Redis.DialTimeout,
		})
		if err != nil {
			return nil, nil, err
		}
		return rs, func() { _ = rs.Close() }, nil
	}
}

func runServe(parent context.Context) error {
	if parent == nil {
		parent = context.Background()
	}
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	slog.Info("Loaded config",
		"state_backend", cfg.State.Backend,
		"kafka_enabled", cfg.Kafka.Enabled,
		"workers", cfg.Processing.WorkerCount,
		"sync_window", cfg.Sync.Window,
		"count_threshold", cfg.Sync.CountThreshold)

	ctx, stop := signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
	defer stop()

	// 0. Tracing
	shutdownTracing, err := tracing.Init(ctx, tracing.Config{
		Enabled:     cfg.Tracing.Enabled,
		Endpoint:    cfg.Tracing.Endpoint,
		ServiceName: cfg.Tracing.ServiceName,
	})
	if err != nil {
		return fmt.Errorf("init tracing: %w", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = shutdownTracing(shutdownCtx)
	}()

	// 1. Transactional database
	db, err := postgres.Open(cfg.Database.DSN, cfg.Database.MaxOpenConns, cfg.Database.MaxIdleConns)
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	if err := migrations.RunMigrations(db, cfg.Database.AutoMigrate); err != nil {
		_ = db.Close()
		return fmt.Errorf("run migrations: %w", err)
	}
	dbAdapter, err := postgres.NewAdapterWithDB(db)
	if err != nil {
		_ = db.Close()
		return fmt.Errorf("init database adapter: %w", err)
	}
	defer dbAdapter.Close()

	// 2. Account state store
	kv, closeKV, err := openKeyValueStore(cfg)
	if err != nil {
		return fmt.Errorf("open state store: %w", err)
	}
	defer closeKV()
	accounts := state.NewAccountStore(kv, state.Options{
		EODTTL:       cfg.State.EODTTL,
		DedupTTL:     cfg.State.DedupTTL,
		StoreTimeout: cfg.Processing.StoreTimeout,
	})

	m := metrics.New(prometheus.DefaultRegisterer)

	// 3. DLQ
	var dlq storage.DeadLetterSink
	if cfg.Kafka.Enabled {
		w := kafka.NewDeadLetterWriter(cfg.Kafka.Brokers, cfg.Kafka.DLQTopic)
		defer w.Close()
		dlq = w
	}

	// 4. Sync window and batching
	batcher := syncwindow.NewBatcher(dbAdapter, m, syncwindow.BatcherOptions{
		BatchSize:     cfg.Sync.BatchSize,
		FlushInterval: cfg.Sync.FlushInterval,
		RatePerSecond: cfg.Sync.RatePerSecond,
		Burst:         cfg.Sync.Burst,
	})
	propagator := syncwindow.NewPropagator(accounts, batcher)
	newWindow := func() processing.WorkerWindow {
		return syncwindow.NewScheduler(accounts, propagator, m, syncwindow.Options{
			Window:         cfg.Sync.Window,
			CountThreshold: cfg.Sync.CountThreshold,
			RetryAfter:     cfg.Sync.RetryAfter,
		})
	}

	// 5. Processing
	pipeline := processing.NewPipeline(accounts, dbAdapter, dlq, m, processing.PipelineOptions{
		FacilityTimeout:   cfg.Processing.ResolverTimeout,
		DedupTransactions: cfg.Processing.DedupTransactions,
		DeadLetterTimeout: cfg.Processing.DLQTimeout,
	})
	dispatcher := processing.NewDispatcher(pipeline, newWindow, processing.DispatcherOptions{
		Workers:   cfg.Processing.WorkerCount,
		QueueSize: cfg.Processing.QueueSize,
	})

	// 6. HTTP
	srv := server.New(fmtAddr(cfg.Server.Host, cfg.Server.Port), cfg.Server.Mode, prometheus.DefaultGatherer,
		map[string]server.HealthChecker{
			"state_store": accounts,
			"database":    dbAdapter,
		})
	ingestion.NewService(dispatcher, cfg.Server.MaxBodySizeMB).RegisterRoutes(srv.Engine)
	projection.NewService(accounts, dbAdapter).RegisterRoutes(srv.Engine)

	// 7. Run. Workers stop before the batcher so their final flushes land.
	batcherCtx, stopBatcher := context.WithCancel(context.Background())
	defer stopBatcher()
	batcherDone := make(chan error, 1)
	go func() { batcherDone <- batcher.Run(batcherCtx) }()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return srv.Run(gctx) })
	g.Go(func() error { return dispatcher.Run(gctx) })

	if cfg.Kafka.Enabled {
		topics := []struct {
			kind  v1.Kind
			topic string
		}{
			{v1.KindEOD, cfg.Kafka.EODTopic},
			{v1.KindTransaction, cfg.Kafka.TransactionTopic},
		}
		for _, t := range topics {
			reader := kafka.NewReader(kafka.ReaderConfig{
				Brokers:  cfg.Kafka.Brokers,
				GroupID:  cfg.Kafka.GroupID,
				Topic:    t.topic,
				MinBytes: cfg.Kafka.MinBytes,
				MaxBytes: cfg.Kafka.MaxBytes,
			})
			consumer := kafka.NewConsumer(reader, t.kind, dispatcher)
			defer consumer.Close()
			g.Go(func() error { return consumer.Run(gctx) })
		}
		slog.Info("[Kafka] Consumers started",
			"brokers", cfg.Kafka.Brokers,
			"group_id", cfg.Kafka.GroupID,
			"eod_topic", cfg.Kafka.EODTopic,
			"transaction_topic", cfg.Kafka.TransactionTopic)
	} else {
		slog.Info("[Kafka] Consumers disabled by config; replay endpoint only")
	}

	runErr := g.Wait()
	if runErr != nil {
		slog.Error("Service stopped with error", "error", runErr)
	}

	stopBatcher()
	if err := <-batcherDone; err != nil {
		slog.Error("[Batcher] Stopped with error", "error", err)
	}

	slog.Info("Shutdown complete")
	return runErr
}
