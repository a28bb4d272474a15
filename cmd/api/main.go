package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"tracking-guardian/config"
	httpHandler "tracking-guardian/internal/adapter/http/handler"
	pgStorage "tracking-guardian/internal/adapter/storage/postgres"
	redisStorage "tracking-guardian/internal/adapter/storage/redis"
	"tracking-guardian/internal/core/ports"
	"tracking-guardian/internal/metrics"
	"tracking-guardian/internal/service"
	"tracking-guardian/pkg/logger"

	"github.com/prometheus/client_golang/prometheus"
)

func main() {
	// Load configuration
	cfg, err := config.Load("")
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	// Initialize logger
	log := logger.New(cfg.Log.Level, cfg.Log.Pretty)

	log.Info().
		Str("mode", cfg.Server.Mode).
		Int("port", cfg.Server.Port).
		Msg("Starting Tracking Guardian ingest")

	ctx := context.Background()

	// Initialize PostgreSQL pool
	pool, err := pgStorage.NewPool(ctx, cfg.Database, log)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to PostgreSQL")
	}
	defer pool.Close()
	log.Info().Msg("PostgreSQL connected")

	// Initialize Redis client
	rdb, err := redisStorage.NewClient(ctx, cfg.Redis, log)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to Redis")
	}
	defer rdb.Close()
	log.Info().Msg("Redis connected")

	// Initialize repositories
	shopRepo := pgStorage.NewShopRepo(pool)
	receiptRepo := pgStorage.NewReceiptRepo(pool)
	verRepo := pgStorage.NewVerificationRunRepo(pool)
	eventStore := pgStorage.NewEventStore(pool)

	// Initialize Redis stores
	rateLimitStore := redisStorage.NewRateLimitStore(rdb)
	nonceStore := redisStorage.NewNonceStore(rdb)
	queueStore := redisStorage.NewQueueStore(rdb)

	// Initialize core services
	encSvc, err := service.NewAESEncryptionService(cfg.AES.Key)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize encryption service")
	}
	sigSvc := service.NewHMACSignatureService()
	keyValidator := service.NewHMACKeyValidator(sigSvc, cfg.Ingest.TimestampWindow, cfg.Ingest.AllowUnsigned, cfg.Ingest.Abuse, log)
	shopLoader := service.NewShopService(shopRepo, encSvc, log)
	tokenSvc := service.NewJWTTokenService(cfg.JWT.Secret, cfg.JWT.Expiry, cfg.JWT.Issuer)

	// Pipeline + worker (serves the internal ops trigger)
	normalizer := service.NewNormalizerService(log)
	dedup := service.NewDedupService(receiptRepo, nonceStore, cfg.Ingest.NonceTTL, log)
	consent := service.NewConsentService(log)
	receipts := service.NewReceiptService(receiptRepo, verRepo, cfg.Ingest.ReceiptTimeout, log)
	pipeline := service.NewPipelineService(normalizer, dedup, consent, receipts, cfg.Ingest.TimestampWindow, log)
	worker := service.NewWorkerService(queueStore, pipeline, eventStore, cfg.Worker.MaxBatchesPerRun, cfg.Worker.RunBudget, log)

	// Metrics
	registry := prometheus.NewRegistry()
	m := metrics.New(registry)

	// Initialize health checkers
	pgHealth := pgStorage.NewHealthCheck(pool)
	redisHealth := redisStorage.NewHealthCheck(rdb)

	// Setup Gin router with all routes
	router := httpHandler.SetupRouter(httpHandler.RouterDeps{
		Cfg:            cfg,
		ShopLoader:     shopLoader,
		ShopRepo:       shopRepo,
		KeyValidator:   keyValidator,
		RateLimitStore: rateLimitStore,
		Queue:          queueStore,
		Worker:         worker,
		TokenSvc:       tokenSvc,
		Metrics:        m,
		Registry:       registry,
		HealthCheckers: []ports.HealthChecker{pgHealth, redisHealth},
		Logger:         log,
	})

	// HTTP Server with graceful shutdown
	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	srv := &http.Server{
		Addr:    addr,
		Handler: router,
	}

	// Start server in goroutine
	go func() {
		log.Info().Str("addr", addr).Msg("HTTP server listening")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("HTTP server failed")
		}
	}()

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Info().Msg("Shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Server forced to shutdown")
	}

	log.Info().Msg("Server exited")
}
