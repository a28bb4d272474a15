package service

import (
	"context"
	"time"

	"tracking-guardian/internal/core/domain"
	"tracking-guardian/internal/core/ports"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// ReceiptService implements ports.ReceiptWriter: the idempotent purchase
// receipt upsert at distribution time.
type ReceiptService struct {
	receiptRepo ports.ReceiptRepository
	verRepo     ports.VerificationRunRepository
	timeout     time.Duration
	log         zerolog.Logger
}

// NewReceiptService creates a new ReceiptService.
func NewReceiptService(receiptRepo ports.ReceiptRepository, verRepo ports.VerificationRunRepository, timeout time.Duration, log zerolog.Logger) *ReceiptService {
	return &ReceiptService{
		receiptRepo: receiptRepo,
		verRepo:     verRepo,
		timeout:     timeout,
		log:         log,
	}
}

// Write upserts one receipt per purchase event with at least one
// destination. The verification run is resolved lazily, once, the first
// time a receipt needs it.
func (s *ReceiptService) Write(ctx context.Context, shopID uuid.UUID, events []domain.NormalizedEvent, kv domain.KeyValidation) error {
	var runID *uuid.UUID
	runResolved := false

	for _, ev := range events {
		if !ev.IsPurchaseType() || len(ev.Destinations) == 0 {
			continue
		}

		if !runResolved {
			runResolved = true
			run, err := s.verRepo.LatestRunning(ctx, shopID)
			if err != nil {
				s.log.Warn().Err(err).Msg("verification run lookup failed, stamping receipts without one")
			} else if run != nil {
				runID = &run.ID
			}
		}

		receipt := &domain.Receipt{
			ID:                uuid.New(),
			ShopID:            shopID,
			EventID:           ev.EventID,
			EventType:         ev.EventType,
			OrderKey:          ev.OrderKey,
			PrimaryPlatform:   ev.Destinations[0],
			Destinations:      ev.Destinations,
			HMACTrustLevel:    kv.TrustLevel,
			HMACMatched:       kv.Matched,
			VerificationRunID: runID,
			CreatedAt:         time.Now().UTC(),
		}
		if ev.AltOrderKey != "" {
			alt := ev.AltOrderKey
			receipt.AltOrderKey = &alt
		}

		upsertCtx, cancel := context.WithTimeout(ctx, s.timeout)
		err := s.receiptRepo.Upsert(upsertCtx, receipt)
		cancel()
		if err != nil {
			return err
		}
	}
	return nil
}
