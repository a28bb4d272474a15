package ports

import (
	"context"

	"tracking-guardian/internal/core/domain"

	"github.com/google/uuid"
)

// ShopRepository defines persistence operations for shops.
type ShopRepository interface {
	// GetByDomain resolves a shop by its myshopify domain and environment.
	// Returns nil, nil when no such shop exists.
	GetByDomain(ctx context.Context, shopDomain string, env domain.Environment) (*domain.Shop, error)
	// IncrementPendingMatchCount bumps the pending-secret match counter.
	// Best-effort: callers ignore the error.
	IncrementPendingMatchCount(ctx context.Context, shopID uuid.UUID) error
}

// ReceiptRepository defines persistence for distribution receipts.
type ReceiptRepository interface {
	// Upsert writes a receipt idempotently on (shop_id, event_id).
	// A conflicting insert leaves the existing row untouched.
	Upsert(ctx context.Context, receipt *domain.Receipt) error
	// ExistingPurchaseKeys returns which of the given order keys already
	// have a purchase receipt for the shop, matching either order_key or
	// alt_order_key, in a single round-trip.
	ExistingPurchaseKeys(ctx context.Context, shopID uuid.UUID, keys []string) (map[string]struct{}, error)
}

// VerificationRunRepository resolves the verification run receipts are
// stamped with.
type VerificationRunRepository interface {
	// LatestRunning returns the most recent running verification run for
	// the shop, or nil, nil when none is running.
	LatestRunning(ctx context.Context, shopID uuid.UUID) (*domain.VerificationRun, error)
}
