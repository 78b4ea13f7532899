package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gorilla/mux/otelmux"
	"go.uber.org/zap"

	"github.com/benvon/studygen/internal/blobstore"
	"github.com/benvon/studygen/internal/config"
	"github.com/benvon/studygen/internal/content"
	"github.com/benvon/studygen/internal/database"
	"github.com/benvon/studygen/internal/handlers"
	"github.com/benvon/studygen/internal/logger"
	"github.com/benvon/studygen/internal/middleware"
	"github.com/benvon/studygen/internal/outbound"
	"github.com/benvon/studygen/internal/pipeline"
	"github.com/benvon/studygen/internal/queue"
	"github.com/benvon/studygen/internal/ratelimit"
	"github.com/benvon/studygen/internal/services/ai"
	"github.com/benvon/studygen/internal/telemetry"
)

const (
	serviceName = "studygen-api"

	// assistant routes wait on the LLM backend
	assistantTimeoutMargin = 15 * time.Second
	chatSessionIdle        = 2 * time.Hour
)

func main() {
	debugFlag := flag.Bool("debug", false, "Enable debug mode for LLM API logging")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	debugMode := cfg.ServerDebugMode || *debugFlag

	zapLogger, err := logger.New(debugMode, cfg.LogDevelopment)
	if err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}
	defer func() {
		_ = logger.Sync(zapLogger)
	}()

	if err := run(cfg, debugMode, zapLogger); err != nil {
		zapLogger.Fatal("server_failed", zap.Error(err))
	}
	zapLogger.Info("server_exited")
}

func run(cfg *config.Config, debugMode bool, zapLogger *zap.Logger) error {
	zapLogger.Info("starting_server",
		zap.Bool("debug_mode", debugMode),
		zap.String("server_port", cfg.ServerPort),
		zap.String("ai_model", cfg.LLM.Model),
		zap.String("blob_backend", cfg.BlobBackend),
		zap.Bool("otel_enabled", cfg.OTELEnabled),
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	tracing := false
	if cfg.OTELEnabled {
		if cfg.OTELEndpoint == "" {
			zapLogger.Warn("otel_enabled_but_endpoint_not_configured")
		} else if tp, err := telemetry.InitTracer(ctx, serviceName, cfg.OTELEndpoint); err != nil {
			zapLogger.Warn("failed_to_initialize_otel_tracer", zap.Error(err))
		} else {
			tracing = true
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

	if err := database.Migrate(cfg.DatabaseURL, zapLogger); err != nil {
		return fmt.Errorf("migrate: %w", err)
	}
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

	var redisClient *redis.Client
	if cfg.RedisURL != "" {
		opts, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			return fmt.Errorf("parse REDIS_URL: %w", err)
		}
		redisClient = redis.NewClient(opts)
		defer func() {
			if err := redisClient.Close(); err != nil {
				zapLogger.Warn("failed_to_close_redis_connection", zap.Error(err))
			}
		}()
		zapLogger.Info("connected_to_redis")
	} else {
		zapLogger.Warn("redis_not_configured_rate_limits_are_per_process")
	}
	limitStore, err := ratelimit.NewStore(redisClient)
	if err != nil {
		return err
	}

	jobQueue, err := connectQueue(ctx, cfg.RabbitMQURL, zapLogger)
	if err != nil {
		return err
	}
	defer func() {
		if err := jobQueue.Close(); err != nil {
			zapLogger.Warn("failed_to_close_rabbitmq_connection", zap.Error(err))
		}
	}()

	blobs, closeBlobs, err := newBlobStore(ctx, cfg, db, zapLogger)
	if err != nil {
		return err
	}
	defer closeBlobs()

	guard := outbound.NewGuard(zapLogger, outbound.WithMetrics(metrics))
	httpClient := outbound.NewClient(guard, zapLogger)
	prompts, err := ai.LoadPrompts()
	if err != nil {
		return fmt.Errorf("load prompts: %w", err)
	}
	if !cfg.LLM.Enabled() {
		zapLogger.Warn("llm_backend_not_configured")
	}
	dispatcher := ai.NewDispatcher(ai.NewOpenAIProvider(cfg.LLM, httpClient, zapLogger, debugMode), prompts, metrics, zapLogger)

	queueRepo := database.NewQueueRepository(db)
	eventRepo := database.NewEventRepository(db)
	store := content.NewStore(database.NewContentRepository(db), blobs, metrics, zapLogger)
	sessions := ai.NewChatSessions()
	limiter := ratelimit.New(limitStore, ratelimit.DefaultRates(), metrics, zapLogger)
	service := pipeline.NewService(queueRepo, eventRepo, store, jobQueue, limiter, dispatcher, sessions, zapLogger)

	authenticator, err := middleware.NewAuthenticator(cfg.AuthJWTSecret, zapLogger)
	if err != nil {
		return err
	}
	ipLimit, err := middleware.IPRateLimit(limitStore, cfg.APIRateLimit)
	if err != nil {
		return err
	}
	openAPI, err := handlers.NewOpenAPIHandler()
	if err != nil {
		return err
	}

	checks := map[string]handlers.HealthCheckFunc{
		"database": db.HealthCheck,
		"rabbitmq": jobQueue.HealthCheck,
		"redis":    nil,
	}
	if redisClient != nil {
		checks["redis"] = func(ctx context.Context) error { return redisClient.Ping(ctx).Err() }
	}
	healthChecker := handlers.NewHealthChecker(checks)

	pipelineHandler := handlers.NewPipelineHandler(service, zapLogger)

	r := mux.NewRouter()
	// gorilla/mux runs middleware in registration order, outermost first
	if tracing {
		r.Use(otelmux.Middleware(serviceName))
	}
	r.Use(middleware.ErrorHandler(zapLogger))
	r.Use(middleware.SecurityHeaders(cfg.EnableHSTS))
	r.Use(middleware.CORS(cfg.CORSAllowedOrigins, zapLogger))
	r.Use(middleware.Logging(zapLogger))

	r.HandleFunc("/healthz", healthChecker.HealthCheck).Methods(http.MethodGet)
	r.Handle("/metrics", telemetry.MetricsHandler()).Methods(http.MethodGet)
	openAPI.RegisterRoutes(r)

	apiRouter := r.PathPrefix("/api/v1").Subrouter()
	apiRouter.Use(ipLimit)
	apiRouter.Use(authenticator.Middleware)
	apiRouter.Use(middleware.MaxRequestSize(middleware.DefaultMaxRequestSize))
	apiRouter.Use(middleware.ContentType)

	// The two subrouters own disjoint paths; each carries its own timeout.
	assistantRouter := apiRouter.NewRoute().Subrouter()
	assistantRouter.Use(middleware.Timeout(cfg.LLM.TextTimeout + assistantTimeoutMargin))
	pipelineHandler.RegisterAssistantRoutes(assistantRouter)

	contentRouter := apiRouter.NewRoute().Subrouter()
	contentRouter.Use(middleware.Timeout(middleware.DefaultRequestTimeout))
	pipelineHandler.RegisterRoutes(contentRouter)

	r.Methods(http.MethodOptions).HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})

	srv := &http.Server{
		Addr:              ":" + cfg.ServerPort,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      cfg.LLM.TextTimeout + 2*assistantTimeoutMargin,
		IdleTimeout:       60 * time.Second,
		MaxHeaderBytes:    1 << 20,
	}

	go sweepSessions(ctx, sessions, zapLogger)

	serveErr := make(chan error, 1)
	go func() {
		zapLogger.Info("server_starting", zap.String("port", cfg.ServerPort))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	select {
	case err := <-serveErr:
		if err != nil {
			return fmt.Errorf("listen: %w", err)
		}
	case <-ctx.Done():
	}

	zapLogger.Info("server_shutting_down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server forced to shutdown: %w", err)
	}
	return nil
}

// connectQueue retries with exponential backoff to ride out broker startup
func connectQueue(ctx context.Context, url string, zapLogger *zap.Logger) (*queue.RabbitMQQueue, error) {
	const maxRetries = 10
	const initialDelay = 2 * time.Second

	var lastErr error
	for attempt := 0; attempt < maxRetries; attempt++ {
		q, err := queue.NewRabbitMQQueue(url, zapLogger)
		if err == nil {
			zapLogger.Info("connected_to_rabbitmq")
			return q, nil
		}
		lastErr = err

		delay := initialDelay * time.Duration(1<<uint(attempt))
		if delay > 30*time.Second {
			delay = 30 * time.Second
		}
		zapLogger.Warn("failed_to_connect_to_rabbitmq_retrying",
			zap.Int("attempt", attempt+1),
			zap.Int("max_retries", maxRetries),
			zap.Error(err),
			zap.Duration("retry_delay", delay),
		)
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(delay):
		}
	}
	return nil, fmt.Errorf("connect to rabbitmq after %d attempts: %w", maxRetries, lastErr)
}

func newBlobStore(ctx context.Context, cfg *config.Config, db *database.DB, zapLogger *zap.Logger) (blobstore.Store, func(), error) {
	if cfg.BlobBackend != config.BlobBackendGCS {
		return database.NewBlobRepository(db), func() {}, nil
	}
	gcs, err := blobstore.NewGCSStore(ctx, cfg.GCSBucket, zapLogger)
	if err != nil {
		return nil, nil, err
	}
	return gcs, func() {
		if err := gcs.Close(); err != nil {
			zapLogger.Warn("failed_to_close_gcs_client", zap.Error(err))
		}
	}, nil
}

func sweepSessions(ctx context.Context, sessions *ai.ChatSessions, zapLogger *zap.Logger) {
	ticker := time.NewTicker(chatSessionIdle / 4)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := sessions.Sweep(chatSessionIdle); n > 0 {
				zapLogger.Debug("chat_sessions_swept", zap.Int("count", n))
			}
		}
	}
}
