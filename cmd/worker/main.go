package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/benvon/studygen/internal/blobstore"
	"github.com/benvon/studygen/internal/config"
	"github.com/benvon/studygen/internal/content"
	"github.com/benvon/studygen/internal/database"
	"github.com/benvon/studygen/internal/logger"
	"github.com/benvon/studygen/internal/notify"
	"github.com/benvon/studygen/internal/outbound"
	"github.com/benvon/studygen/internal/queue"
	"github.com/benvon/studygen/internal/services/ai"
	"github.com/benvon/studygen/internal/telemetry"
	"github.com/benvon/studygen/internal/workers"
)

const (
	serviceName = "studygen-worker"
	gcInterval  = time.Hour
)

func main() {
	debugFlag := flag.Bool("debug", false, "Enable debug mode for LLM API logging")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	debugMode := cfg.WorkerDebugMode || *debugFlag

	zapLogger, err := logger.New(debugMode, cfg.LogDevelopment)
	if err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}
	defer func() {
		_ = logger.Sync(zapLogger)
	}()

	if err := run(cfg, debugMode, zapLogger); err != nil {
		zapLogger.Fatal("worker_failed", zap.Error(err))
	}
	zapLogger.Info("worker_stopped")
}

func run(cfg *config.Config, debugMode bool, zapLogger *zap.Logger) error {
	zapLogger.Info("starting_worker",
		zap.Bool("debug_mode", debugMode),
		zap.String("ai_model", cfg.LLM.Model),
		zap.Int("concurrency", cfg.WorkerConcurrency),
		zap.Int("prefetch", cfg.RabbitMQPrefetch),
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if cfg.OTELEnabled && cfg.OTELEndpoint != "" {
		tp, err := telemetry.InitTracer(ctx, serviceName, cfg.OTELEndpoint)
		if err != nil {
			zapLogger.Warn("failed_to_initialize_otel_tracer", zap.Error(err))
		} else {
			defer func() {
				shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				if err := telemetry.Shutdown(shutdownCtx, tp); err != nil {
					zapLogger.Error("failed_to_shutdown_otel_tracer", zap.Error(err))
				}
			}()
		}
	}

	metrics := telemetry.NewMetrics(prometheus.DefaultRegisterer)

	db, err := database.New(cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("connect to database: %w", err)
	}
	defer func() {
		if err := db.Close(); err != nil {
			zapLogger.Warn("failed_to_close_database_connection", zap.Error(err))
		}
	}()
	zapLogger.Info("connected_to_database")

	jobQueue, err := queue.NewRabbitMQQueue(cfg.RabbitMQURL, zapLogger)
	if err != nil {
		return fmt.Errorf("connect to rabbitmq: %w", err)
	}
	defer func() {
		if err := jobQueue.Close(); err != nil {
			zapLogger.Warn("failed_to_close_rabbitmq_connection", zap.Error(err))
		}
	}()
	zapLogger.Info("connected_to_rabbitmq")

	var blobs blobstore.Store = database.NewBlobRepository(db)
	if cfg.BlobBackend == config.BlobBackendGCS {
		gcs, err := blobstore.NewGCSStore(ctx, cfg.GCSBucket, zapLogger)
		if err != nil {
			return err
		}
		defer func() {
			if err := gcs.Close(); err != nil {
				zapLogger.Warn("failed_to_close_gcs_client", zap.Error(err))
			}
		}()
		blobs = gcs
	}

	guard := outbound.NewGuard(zapLogger, outbound.WithMetrics(metrics))
	httpClient := outbound.NewClient(guard, zapLogger)
	// A rejected endpoint is reported here; jobs still run and fail with a configuration message.
	if err := httpClient.Preflight(ctx, cfg.LLM.ChatURL(), cfg.LLM.SpeechURL()); err != nil {
		zapLogger.Error("llm_endpoint_rejected", zap.String("error", logger.SanitizeError(err)))
	}
	prompts, err := ai.LoadPrompts()
	if err != nil {
		return fmt.Errorf("load prompts: %w", err)
	}
	dispatcher := ai.NewDispatcher(ai.NewOpenAIProvider(cfg.LLM, httpClient, zapLogger, debugMode), prompts, metrics, zapLogger)

	notifyCh, err := jobQueue.OpenChannel()
	if err != nil {
		return fmt.Errorf("open notification channel: %w", err)
	}
	defer func() {
		_ = notifyCh.Close()
	}()
	amqpNotifier, err := notify.NewAMQPNotifier(notifyCh)
	if err != nil {
		return err
	}
	notifier := notify.Multi{amqpNotifier, notify.NewLogNotifier(zapLogger)}

	queueRepo := database.NewQueueRepository(db)
	eventRepo := database.NewEventRepository(db)
	store := content.NewStore(database.NewContentRepository(db), blobs, metrics, zapLogger)

	processor := workers.NewProcessor(queueRepo, eventRepo, store, dispatcher, jobQueue, notifier, metrics, zapLogger)
	sweeper := workers.NewSweeper(queueRepo, jobQueue, processor, cfg.SweepInterval, cfg.StaleProcessingAfter, metrics, zapLogger)
	gc := queue.NewGarbageCollector(map[string]queue.Purger{
		"queue_rows": queue.NewRowReaper(queueRepo, eventRepo),
		"dlq":        jobQueue,
	}, gcInterval, cfg.QueueRetention, metrics, zapLogger)

	pool := workers.NewPool(jobQueue, processor, cfg.WorkerConcurrency, cfg.RabbitMQPrefetch, zapLogger, sweeper, gc)
	zapLogger.Info("worker_started")
	if err := pool.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}
