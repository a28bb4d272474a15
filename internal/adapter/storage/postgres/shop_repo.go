package postgres

import (
	"context"
	"errors"
	"fmt"

	"tracking-guardian/internal/core/domain"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

// ShopRepo implements ports.ShopRepository.
type ShopRepo struct {
	pool Pool
}

// NewShopRepo creates a new ShopRepo.
func NewShopRepo(pool Pool) *ShopRepo {
	return &ShopRepo{pool: pool}
}

// GetByDomain resolves a shop and its pixel configs by domain + environment.
// Secret columns come back as ciphertext; decryption happens in the shop
// service, not here.
func (r *ShopRepo) GetByDomain(ctx context.Context, shopDomain string, env domain.Environment) (*domain.Shop, error) {
	query := `SELECT id, shop_domain, environment, is_active,
			current_secret_enc, previous_secret_enc, previous_secret_expiry,
			pending_secret_enc, pending_secret_expiry, pending_match_count,
			primary_domain, storefront_domains, created_at, updated_at
		FROM shops WHERE shop_domain = $1 AND environment = $2`

	s := &domain.Shop{}
	err := r.pool.QueryRow(ctx, query, shopDomain, env).Scan(
		&s.ID, &s.ShopDomain, &s.Environment, &s.IsActive,
		&s.CurrentSecret, &s.PreviousSecret, &s.PreviousSecretExpiry,
		&s.PendingSecret, &s.PendingSecretExpiry, &s.PendingMatchCount,
		&s.PrimaryDomain, &s.StorefrontDomains, &s.CreatedAt, &s.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("get shop by domain: %w", err)
	}

	configs, err := r.pixelConfigs(ctx, s.ID)
	if err != nil {
		return nil, err
	}
	s.PixelConfigs = configs
	return s, nil
}

func (r *ShopRepo) pixelConfigs(ctx context.Context, shopID uuid.UUID) ([]domain.PixelConfig, error) {
	query := `SELECT id, platform, platform_id, client_side_enabled, server_side_enabled, client_config
		FROM pixel_configs WHERE shop_id = $1 ORDER BY platform`

	rows, err := r.pool.Query(ctx, query, shopID)
	if err != nil {
		return nil, fmt.Errorf("list pixel configs: %w", err)
	}
	defer rows.Close()

	var configs []domain.PixelConfig
	for rows.Next() {
		var p domain.PixelConfig
		if err := rows.Scan(&p.ID, &p.Platform, &p.PlatformID, &p.ClientSideEnabled, &p.ServerSideEnabled, &p.ClientConfig); err != nil {
			return nil, fmt.Errorf("scan pixel config: %w", err)
		}
		configs = append(configs, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate pixel configs: %w", err)
	}
	return configs, nil
}

// IncrementPendingMatchCount bumps the pending-secret match counter.
func (r *ShopRepo) IncrementPendingMatchCount(ctx context.Context, shopID uuid.UUID) error {
	query := `UPDATE shops SET pending_match_count = pending_match_count + 1, updated_at = NOW() WHERE id = $1`
	_, err := r.pool.Exec(ctx, query, shopID)
	if err != nil {
		return fmt.Errorf("increment pending match count: %w", err)
	}
	return nil
}
