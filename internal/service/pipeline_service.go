package service

import (
	"context"
	"math"
	"time"

	"tracking-guardian/internal/core/domain"
	"tracking-guardian/internal/core/ports"

	"github.com/rs/zerolog"
)

// PipelineService implements ports.Pipeline: normalization, dedup,
// consent filtering and receipt writing over one dequeued entry.
type PipelineService struct {
	normalizer ports.Normalizer
	dedup      ports.Deduplicator
	consent    ports.ConsentFilter
	receipts   ports.ReceiptWriter
	window     time.Duration
	log        zerolog.Logger
}

// NewPipelineService creates a new PipelineService.
func NewPipelineService(
	normalizer ports.Normalizer,
	dedup ports.Deduplicator,
	consent ports.ConsentFilter,
	receipts ports.ReceiptWriter,
	window time.Duration,
	log zerolog.Logger,
) *PipelineService {
	return &PipelineService{
		normalizer: normalizer,
		dedup:      dedup,
		consent:    consent,
		receipts:   receipts,
		window:     window,
		log:        log,
	}
}

// Process re-validates defensively (the entry may have aged in the queue)
// and runs the event pipeline in order. Returns the surviving events ready
// for the downstream persister.
func (p *PipelineService) Process(ctx context.Context, entry *domain.QueueEntry) ([]domain.NormalizedEvent, error) {
	now := time.Now().UnixMilli()
	filtered := make([]domain.ValidatedEvent, 0, len(entry.ValidatedEvents))
	for _, ve := range entry.ValidatedEvents {
		if ve.Payload.ShopDomain != entry.ShopDomain {
			p.log.Warn().
				Str("requestId", entry.RequestID).
				Str("eventShop", ve.Payload.ShopDomain).
				Msg("queued event shop domain mismatch, skipping")
			continue
		}
		if math.Abs(float64(now-ve.Payload.Timestamp)) > float64(p.window.Milliseconds()) {
			p.log.Debug().
				Str("requestId", entry.RequestID).
				Int64("timestamp", ve.Payload.Timestamp).
				Msg("queued event aged out of the timestamp window, skipping")
			continue
		}
		filtered = append(filtered, ve)
	}

	normalized := p.normalizer.Normalize(filtered, entry.Mode)

	dedupResult, err := p.dedup.Dedup(ctx, entry.ShopID, normalized)
	if err != nil {
		return nil, err
	}
	if dedupResult.Duplicates > 0 || dedupResult.Replays > 0 {
		p.log.Info().
			Str("requestId", entry.RequestID).
			Int("duplicates", dedupResult.Duplicates).
			Int("replays", dedupResult.Replays).
			Msg("purchase dedup suppressed events")
	}

	survivors := p.consent.Apply(dedupResult.Kept, entry.EnabledPixelConfigs)

	if err := p.receipts.Write(ctx, entry.ShopID, survivors, entry.KeyValidation); err != nil {
		return nil, err
	}

	return survivors, nil
}
