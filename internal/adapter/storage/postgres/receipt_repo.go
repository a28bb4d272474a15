package postgres

import (
	"context"
	"fmt"

	"tracking-guardian/internal/core/domain"

	"github.com/google/uuid"
)

// ReceiptRepo implements ports.ReceiptRepository.
type ReceiptRepo struct {
	pool Pool
}

// NewReceiptRepo creates a new ReceiptRepo.
func NewReceiptRepo(pool Pool) *ReceiptRepo {
	return &ReceiptRepo{pool: pool}
}

// Upsert writes a receipt idempotently. The (shop_id, event_id) unique
// constraint makes a retried write a no-op, so worker reprocessing after a
// crash never produces a second receipt.
func (r *ReceiptRepo) Upsert(ctx context.Context, receipt *domain.Receipt) error {
	query := `INSERT INTO receipts (id, shop_id, event_id, event_type, order_key, alt_order_key,
			primary_platform, destinations, hmac_trust_level, hmac_matched, verification_run_id, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		ON CONFLICT (shop_id, event_id) DO NOTHING`

	_, err := r.pool.Exec(ctx, query,
		receipt.ID, receipt.ShopID, receipt.EventID, receipt.EventType,
		receipt.OrderKey, receipt.AltOrderKey, receipt.PrimaryPlatform,
		receipt.Destinations, receipt.HMACTrustLevel, receipt.HMACMatched,
		receipt.VerificationRunID, receipt.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("upsert receipt: %w", err)
	}
	return nil
}

// ExistingPurchaseKeys returns which of the given keys already carry a
// purchase receipt for the shop, matching order_key or alt_order_key.
func (r *ReceiptRepo) ExistingPurchaseKeys(ctx context.Context, shopID uuid.UUID, keys []string) (map[string]struct{}, error) {
	existing := make(map[string]struct{})
	if len(keys) == 0 {
		return existing, nil
	}

	query := `SELECT order_key, alt_order_key FROM receipts
		WHERE shop_id = $1 AND event_type = $2
		AND (order_key = ANY($3) OR alt_order_key = ANY($3))`

	rows, err := r.pool.Query(ctx, query, shopID, domain.EventTypePurchase, keys)
	if err != nil {
		return nil, fmt.Errorf("prefetch purchase keys: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var orderKey string
		var altOrderKey *string
		if err := rows.Scan(&orderKey, &altOrderKey); err != nil {
			return nil, fmt.Errorf("scan purchase keys: %w", err)
		}
		existing[orderKey] = struct{}{}
		if altOrderKey != nil && *altOrderKey != "" {
			existing[*altOrderKey] = struct{}{}
		}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate purchase keys: %w", err)
	}
	return existing, nil
}
