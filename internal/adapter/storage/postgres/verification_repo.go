package postgres

import (
	"context"
	"errors"
	"fmt"

	"tracking-guardian/internal/core/domain"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

// VerificationRunRepo implements ports.VerificationRunRepository.
type VerificationRunRepo struct {
	pool Pool
}

// NewVerificationRunRepo creates a new VerificationRunRepo.
func NewVerificationRunRepo(pool Pool) *VerificationRunRepo {
	return &VerificationRunRepo{pool: pool}
}

// LatestRunning returns the most recent running verification run for the
// shop, or nil, nil when none is running.
func (r *VerificationRunRepo) LatestRunning(ctx context.Context, shopID uuid.UUID) (*domain.VerificationRun, error) {
	query := `SELECT id, shop_id, status, started_at FROM verification_runs
		WHERE shop_id = $1 AND status = $2
		ORDER BY started_at DESC LIMIT 1`

	run := &domain.VerificationRun{}
	err := r.pool.QueryRow(ctx, query, shopID, domain.VerificationRunning).Scan(
		&run.ID, &run.ShopID, &run.Status, &run.StartedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("get latest running verification: %w", err)
	}
	return run, nil
}
