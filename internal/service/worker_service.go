package service

import (
	"context"
	"time"

	"tracking-guardian/internal/core/domain"
	"tracking-guardian/internal/core/ports"

	"github.com/rs/zerolog"
)

// WorkerService implements ports.Worker: one bounded drain of the durable
// queue. Safe to run concurrently across processes because every queue
// operation is atomic in the store.
type WorkerService struct {
	queue      ports.QueueStore
	pipeline   ports.Pipeline
	persister  ports.Persister
	maxBatches int
	runBudget  time.Duration
	log        zerolog.Logger
}

// NewWorkerService creates a new WorkerService.
func NewWorkerService(queue ports.QueueStore, pipeline ports.Pipeline, persister ports.Persister, maxBatches int, runBudget time.Duration, log zerolog.Logger) *WorkerService {
	return &WorkerService{
		queue:      queue,
		pipeline:   pipeline,
		persister:  persister,
		maxBatches: maxBatches,
		runBudget:  runBudget,
		log:        log,
	}
}

// Run drains up to maxBatches entries within the wall-clock budget.
// An unparseable entry is acked and counted (poison-pill policy); a
// processing failure leaves the entry in-flight for recovery.
func (w *WorkerService) Run(ctx context.Context) (ports.WorkerStats, error) {
	stats := ports.WorkerStats{}
	deadline := time.Now().Add(w.runBudget)
	runCtx, cancel := context.WithDeadline(ctx, deadline)
	defer cancel()

	for i := 0; i < w.maxBatches; i++ {
		if time.Now().After(deadline) {
			w.log.Info().Msg("worker run budget exhausted")
			break
		}

		raw, err := w.queue.PopToProcessing(runCtx)
		if err != nil {
			return stats, err
		}
		if raw == nil {
			break
		}

		entry, err := domain.UnmarshalQueueEntry(raw)
		if err != nil {
			stats.Errors++
			w.log.Error().Err(err).Msg("unparseable queue entry, acking as poison pill")
			if ackErr := w.queue.Ack(runCtx, raw); ackErr == nil {
				stats.Acked++
			}
			continue
		}

		processed, err := w.pipeline.Process(runCtx, entry)
		if err != nil {
			stats.Errors++
			w.log.Error().Err(err).Str("requestId", entry.RequestID).Msg("pipeline failed, leaving entry in-flight")
			continue
		}

		if len(processed) > 0 {
			if err := w.persister.PersistInternalEventsAndDispatchJobs(runCtx, entry.ShopID, processed, entry.RequestContext, entry.Environment); err != nil {
				stats.Errors++
				w.log.Error().Err(err).Str("requestId", entry.RequestID).Msg("persister failed, leaving entry in-flight")
				continue
			}
		}

		if err := w.queue.Ack(runCtx, raw); err != nil {
			stats.Errors++
			w.log.Error().Err(err).Str("requestId", entry.RequestID).Msg("ack failed, entry may be reprocessed")
			continue
		}

		stats.Processed++
		stats.Acked++
	}

	return stats, nil
}
