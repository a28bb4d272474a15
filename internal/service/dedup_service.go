package service

import (
	"context"
	"time"

	"tracking-guardian/internal/core/domain"
	"tracking-guardian/internal/core/ports"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// DedupService implements ports.Deduplicator with three layers: the
// receipt-store prefetch, the per-batch seen set, and the atomic nonce
// claim. Each layer covers a window the others cannot: prior batches,
// intra-batch repeats, and the prefetch-to-insert gap respectively.
type DedupService struct {
	receiptRepo ports.ReceiptRepository
	nonceStore  ports.NonceStore
	nonceTTL    time.Duration
	log         zerolog.Logger
}

// NewDedupService creates a new DedupService.
func NewDedupService(receiptRepo ports.ReceiptRepository, nonceStore ports.NonceStore, nonceTTL time.Duration, log zerolog.Logger) *DedupService {
	return &DedupService{
		receiptRepo: receiptRepo,
		nonceStore:  nonceStore,
		nonceTTL:    nonceTTL,
		log:         log,
	}
}

// Dedup suppresses repeat purchases; non-purchase events pass through.
// Events are visited in batch order so the first occurrence wins.
func (s *DedupService) Dedup(ctx context.Context, shopID uuid.UUID, events []domain.NormalizedEvent) (ports.DedupResult, error) {
	result := ports.DedupResult{Kept: make([]domain.NormalizedEvent, 0, len(events))}

	var batchKeys []string
	for _, ev := range events {
		if ev.IsPurchaseType() {
			batchKeys = append(batchKeys, ev.Keys()...)
		}
	}

	var existing map[string]struct{}
	if len(batchKeys) > 0 {
		var err error
		existing, err = s.receiptRepo.ExistingPurchaseKeys(ctx, shopID, batchKeys)
		if err != nil {
			return ports.DedupResult{}, err
		}
	}

	seen := make(map[string]struct{})
	for _, ev := range events {
		if !ev.IsPurchaseType() {
			result.Kept = append(result.Kept, ev)
			continue
		}

		if anyKeyIn(ev.Keys(), existing) || anyKeyIn(ev.Keys(), seen) {
			result.Duplicates++
			s.log.Debug().Str("orderKey", ev.OrderKey).Msg("duplicate purchase suppressed")
			continue
		}

		fresh, err := s.nonceStore.CreateEventNonce(ctx, shopID, ev.OrderKey, ev.Timestamp, ev.Nonce, ev.EventType, s.nonceTTL)
		if err != nil {
			// A nonce store outage must not drop purchases; the receipt
			// upsert still guarantees at most one receipt.
			s.log.Warn().Err(err).Str("orderKey", ev.OrderKey).Msg("nonce store error, keeping event")
		} else if !fresh {
			result.Replays++
			s.log.Debug().Str("orderKey", ev.OrderKey).Msg("purchase replay suppressed by nonce store")
			continue
		}

		for _, k := range ev.Keys() {
			seen[k] = struct{}{}
		}
		result.Kept = append(result.Kept, ev)
	}

	return result, nil
}

func anyKeyIn(keys []string, set map[string]struct{}) bool {
	for _, k := range keys {
		if _, ok := set[k]; ok {
			return true
		}
	}
	return false
}
