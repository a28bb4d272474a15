package main

import (
	"context"
	"fmt"
	"os"

	"tracking-guardian/config"
	pgStorage "tracking-guardian/internal/adapter/storage/postgres"
	redisStorage "tracking-guardian/internal/adapter/storage/redis"
	"tracking-guardian/internal/service"
	"tracking-guardian/pkg/logger"
)

// The worker binary performs one bounded drain of the ingest queue and
// exits. An external scheduler (cron) invokes it on an interval; running
// several instances concurrently is safe because the queue operations are
// atomic.
func main() {
	cfg, err := config.Load("")
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	log := logger.New(cfg.Log.Level, cfg.Log.Pretty)
	log.Info().Msg("Starting ingest worker run")

	ctx := context.Background()

	pool, err := pgStorage.NewPool(ctx, cfg.Database, log)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to PostgreSQL")
	}
	defer pool.Close()

	rdb, err := redisStorage.NewClient(ctx, cfg.Redis, log)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to Redis")
	}
	defer rdb.Close()

	receiptRepo := pgStorage.NewReceiptRepo(pool)
	verRepo := pgStorage.NewVerificationRunRepo(pool)
	eventStore := pgStorage.NewEventStore(pool)
	nonceStore := redisStorage.NewNonceStore(rdb)
	queueStore := redisStorage.NewQueueStore(rdb)

	normalizer := service.NewNormalizerService(log)
	dedup := service.NewDedupService(receiptRepo, nonceStore, cfg.Ingest.NonceTTL, log)
	consent := service.NewConsentService(log)
	receipts := service.NewReceiptService(receiptRepo, verRepo, cfg.Ingest.ReceiptTimeout, log)
	pipeline := service.NewPipelineService(normalizer, dedup, consent, receipts, cfg.Ingest.TimestampWindow, log)
	worker := service.NewWorkerService(queueStore, pipeline, eventStore, cfg.Worker.MaxBatchesPerRun, cfg.Worker.RunBudget, log)

	stats, err := worker.Run(ctx)
	if err != nil {
		log.Fatal().Err(err).Msg("Worker run failed")
	}

	log.Info().
		Int("processed", stats.Processed).
		Int("errors", stats.Errors).
		Int("acked", stats.Acked).
		Msg("Worker run complete")
}
