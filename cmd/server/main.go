package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/benvon/learning-stats/internal/bootstrap"
	"github.com/benvon/learning-stats/internal/cascade"
	"github.com/benvon/learning-stats/internal/config"
	"github.com/benvon/learning-stats/internal/handlers"
	"github.com/benvon/learning-stats/internal/logger"
	"github.com/benvon/learning-stats/internal/middleware"
	"github.com/benvon/learning-stats/internal/queue"
	"github.com/benvon/learning-stats/internal/telemetry"
	"github.com/benvon/learning-stats/internal/workers"
	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gorilla/mux/otelmux"
	"go.uber.org/zap"
)

const serviceName = "learning-stats-api"

func main() {
	debugFlag := flag.Bool("debug", false, "Enable debug logging")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	debugMode := cfg.ServerDebugMode || *debugFlag

	zapLogger, err := logger.NewProductionLogger(serviceName, debugMode)
	if err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}
	defer func() {
		_ = logger.Sync(zapLogger)
	}()

	zapLogger.Info("starting_server",
		zap.Bool("debug_mode", debugMode),
		zap.String("server_port", cfg.ServerPort),
		zap.String("store_backend", cfg.StoreBackend),
		zap.String("idempotency_backend", cfg.IdempotencyBackend),
		zap.Bool("otel_enabled", cfg.OTELEnabled),
	)

	tracerProvider := telemetry.Setup(context.Background(), cfg.OTELEnabled, serviceName, cfg.OTELEndpoint, zapLogger)
	defer func() {
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer shutdownCancel()
		if err := telemetry.Shutdown(shutdownCtx, tracerProvider); err != nil {
			zapLogger.Error("failed_to_shutdown_otel_tracer", zap.Error(err))
		}
	}()

	store, err := bootstrap.OpenStore(cfg, zapLogger)
	if err != nil {
		zapLogger.Fatal("failed_to_open_record_store", zap.Error(err))
	}
	defer func() {
		if err := store.Close(); err != nil {
			zapLogger.Warn("failed_to_close_record_store", zap.Error(err))
		}
	}()

	// Redis is optional; without it rate limits and idempotency stay process-local
	var redisClient *redis.Client
	var redisPinger handlers.Pinger
	if cfg.RedisURL != "" {
		redisConn, err := middleware.ConnectRedis(context.Background(), cfg.RedisURL)
		if err != nil {
			zapLogger.Fatal("failed_to_connect_to_redis", zap.Error(err))
		}
		defer func() {
			if err := redisConn.Close(); err != nil {
				zapLogger.Warn("failed_to_close_redis_connection", zap.Error(err))
			}
		}()
		redisClient = redisConn.Client()
		redisPinger = redisConn
		zapLogger.Info("connected_to_redis")
	}

	rabbit, err := bootstrap.ConnectQueue(context.Background(), cfg.RabbitMQURL, zapLogger)
	if err != nil {
		zapLogger.Fatal("failed_to_connect_to_rabbitmq_after_retries", zap.Error(err))
	}
	var jobQueue queue.JobQueue
	if rabbit != nil {
		jobQueue = rabbit
		defer func() {
			if err := rabbit.Close(); err != nil {
				zapLogger.Warn("failed_to_close_rabbitmq_connection", zap.Error(err))
			}
		}()
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	coordinatorOpts := []cascade.Option{
		cascade.WithMetrics(cascade.NewMetrics(registry)),
		cascade.WithBackgroundTimeout(cfg.BackgroundTimeout),
	}
	if jobQueue != nil {
		coordinatorOpts = append(coordinatorOpts, cascade.WithDispatcher(workers.NewQueueDispatcher(jobQueue)))
	}
	coordinator := bootstrap.NewCoordinator(bootstrap.NewRepositories(store, cfg, zapLogger), zapLogger, coordinatorOpts...)

	var guardClient redis.Cmdable
	if redisClient != nil {
		guardClient = redisClient
	}
	guard := bootstrap.NewGuard(cfg, guardClient, zapLogger)

	rateLimitStore, err := middleware.NewRateLimitStore(redisClient)
	if err != nil {
		zapLogger.Fatal("failed_to_create_rate_limit_store", zap.Error(err))
	}
	webhookRateLimit, err := middleware.RateLimit(rateLimitStore, cfg.WebhookRateLimit)
	if err != nil {
		zapLogger.Fatal("invalid_webhook_rate_limit", zap.String("rate", cfg.WebhookRateLimit), zap.Error(err))
	}

	webhookOpts := []handlers.WebhookOption{handlers.WithWebhookSecret(cfg.WebhookSecret)}
	if jobQueue != nil {
		webhookOpts = append(webhookOpts, handlers.WithWebhookJobQueue(jobQueue))
	}
	statsHandler := handlers.NewStatsHandler(coordinator, zapLogger)
	deltaHandler := handlers.NewDeltaHandler(coordinator, guard, zapLogger)
	webhookHandler := handlers.NewWebhookHandler(coordinator, guard, zapLogger, webhookOpts...)
	healthChecker := handlers.NewHealthChecker(store, redisPinger, jobQueue)

	r := mux.NewRouter()

	// Middleware registered first wraps outermost
	if tracerProvider != nil {
		r.Use(otelmux.Middleware(serviceName))
		zapLogger.Info("otel_middleware_enabled")
	}
	r.Use(middleware.SecurityHeaders(cfg.EnableHSTS))
	r.Use(middleware.CORS(middleware.AllowedOrigins(cfg.FrontendURL)))
	r.Use(middleware.RequestID)
	r.Use(middleware.MaxRequestSize(middleware.DefaultMaxRequestSize))
	r.Use(middleware.ContentType)
	r.Use(middleware.Timeout(30 * time.Second))
	r.Use(middleware.ErrorHandler(zapLogger))
	r.Use(middleware.Audit(zapLogger))
	r.Use(middleware.Logging(zapLogger))

	r.HandleFunc("/healthz", healthChecker.HealthCheck).Methods("GET")
	r.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{Registry: registry})).Methods("GET")
	r.HandleFunc("/version", versionInfo).Methods("GET")

	apiRouter := r.PathPrefix("/api/v1").Subrouter()
	deltaHandler.RegisterRoutes(apiRouter.PathPrefix("/learning-deltas").Subrouter())
	statsHandler.RegisterRoutes(apiRouter.PathPrefix("/stats").Subrouter())

	webhookRouter := r.PathPrefix("/webhooks").Subrouter()
	webhookRouter.Use(webhookRateLimit)
	webhookHandler.RegisterRoutes(webhookRouter)

	r.Methods("OPTIONS").HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})

	srv := &http.Server{
		Addr:           ":" + cfg.ServerPort,
		Handler:        r,
		ReadTimeout:    15 * time.Second,
		WriteTimeout:   45 * time.Second,
		IdleTimeout:    60 * time.Second,
		MaxHeaderBytes: 1 << 20,
	}

	bgCtx, bgCancel := context.WithCancel(context.Background())
	defer bgCancel()

	if dlqPurger, ok := jobQueue.(queue.DLQPurger); ok {
		dlqGC := queue.NewGarbageCollector(dlqPurger, 1*time.Hour, 24*time.Hour, zapLogger)
		go func() {
			if err := dlqGC.Start(bgCtx); err != nil && !errors.Is(err, context.Canceled) {
				zapLogger.Error("dlq_garbage_collector_stopped_with_error", zap.Error(err))
			}
		}()
		zapLogger.Info("started_dlq_garbage_collector",
			zap.Duration("interval", 1*time.Hour),
			zap.Duration("retention", 24*time.Hour),
		)
	}

	go func() {
		zapLogger.Info("server_starting", zap.String("port", cfg.ServerPort))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			zapLogger.Fatal("server_failed_to_start", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	zapLogger.Info("server_shutting_down")
	bgCancel()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		zapLogger.Error("server_forced_to_shutdown", zap.Error(err))
	}

	// Let in-flight background cascades finish before the store closes
	coordinator.Wait()

	zapLogger.Info("server_exited")
}

func versionInfo(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, _ = fmt.Fprintf(w, `{"version":"1.0.0","timestamp":"%s"}`, time.Now().UTC().Format(time.RFC3339))
}
