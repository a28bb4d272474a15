package postgres

import (
	"context"
	"testing"
	"time"

	"tracking-guardian/internal/core/domain"

	"github.com/google/uuid"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func shopColumns() []string {
	return []string{
		"id", "shop_domain", "environment", "is_active",
		"current_secret_enc", "previous_secret_enc", "previous_secret_expiry",
		"pending_secret_enc", "pending_secret_expiry", "pending_match_count",
		"primary_domain", "storefront_domains", "created_at", "updated_at",
	}
}

func TestShopRepo_GetByDomain(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	repo := NewShopRepo(mock)
	shopID := uuid.New()
	now := time.Now().UTC().Truncate(time.Microsecond)
	primary := "www.example.com"

	mock.ExpectQuery("SELECT .+ FROM shops WHERE shop_domain").
		WithArgs("s.myshopify.com", domain.EnvLive).
		WillReturnRows(pgxmock.NewRows(shopColumns()).
			AddRow(shopID, "s.myshopify.com", domain.EnvLive, true,
				"enc-current", nil, nil, nil, nil, 0,
				&primary, []string{"shop.example.com"}, now, now))

	mock.ExpectQuery("SELECT .+ FROM pixel_configs WHERE shop_id").
		WithArgs(shopID).
		WillReturnRows(pgxmock.NewRows([]string{"id", "platform", "platform_id", "client_side_enabled", "server_side_enabled", "client_config"}).
			AddRow(uuid.New(), "meta", "px-1", true, true, []byte(`{"mode":"full_funnel"}`)))

	shop, err := repo.GetByDomain(context.Background(), "s.myshopify.com", domain.EnvLive)
	require.NoError(t, err)
	require.NotNil(t, shop)
	assert.Equal(t, shopID, shop.ID)
	assert.True(t, shop.IsActive)
	assert.Equal(t, "enc-current", shop.CurrentSecret)
	require.Len(t, shop.PixelConfigs, 1)
	assert.Equal(t, "meta", shop.PixelConfigs[0].Platform)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestShopRepo_GetByDomain_NotFound(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	repo := NewShopRepo(mock)

	mock.ExpectQuery("SELECT .+ FROM shops WHERE shop_domain").
		WithArgs("missing.myshopify.com", domain.EnvLive).
		WillReturnRows(pgxmock.NewRows(shopColumns()))

	shop, err := repo.GetByDomain(context.Background(), "missing.myshopify.com", domain.EnvLive)
	require.NoError(t, err)
	assert.Nil(t, shop)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestShopRepo_IncrementPendingMatchCount(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	repo := NewShopRepo(mock)
	shopID := uuid.New()

	mock.ExpectExec("UPDATE shops SET pending_match_count").
		WithArgs(shopID).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))

	require.NoError(t, repo.IncrementPendingMatchCount(context.Background(), shopID))
	assert.NoError(t, mock.ExpectationsWereMet())
}
