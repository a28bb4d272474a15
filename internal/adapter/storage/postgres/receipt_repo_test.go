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

func TestReceiptRepo_Upsert(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	repo := NewReceiptRepo(mock)
	alt := "alt-key"
	receipt := &domain.Receipt{
		ID:              uuid.New(),
		ShopID:          uuid.New(),
		EventID:         "evt-1",
		EventType:       domain.EventTypePurchase,
		OrderKey:        "gid://shopify/Order/1",
		AltOrderKey:     &alt,
		PrimaryPlatform: "meta",
		Destinations:    []string{"meta", "google"},
		HMACTrustLevel:  domain.TrustTrusted,
		HMACMatched:     true,
		CreatedAt:       time.Now().UTC().Truncate(time.Microsecond),
	}

	mock.ExpectExec("INSERT INTO receipts").
		WithArgs(receipt.ID, receipt.ShopID, receipt.EventID, receipt.EventType,
			receipt.OrderKey, receipt.AltOrderKey, receipt.PrimaryPlatform,
			receipt.Destinations, receipt.HMACTrustLevel, receipt.HMACMatched,
			receipt.VerificationRunID, receipt.CreatedAt).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	require.NoError(t, repo.Upsert(context.Background(), receipt))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestReceiptRepo_Upsert_ConflictIsNoop(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	repo := NewReceiptRepo(mock)
	receipt := &domain.Receipt{
		ID:        uuid.New(),
		ShopID:    uuid.New(),
		EventID:   "evt-1",
		EventType: domain.EventTypePurchase,
		OrderKey:  "k",
		CreatedAt: time.Now(),
	}

	// ON CONFLICT DO NOTHING reports zero rows; that is still success.
	mock.ExpectExec("INSERT INTO receipts").
		WithArgs(receipt.ID, receipt.ShopID, receipt.EventID, receipt.EventType,
			receipt.OrderKey, receipt.AltOrderKey, receipt.PrimaryPlatform,
			receipt.Destinations, receipt.HMACTrustLevel, receipt.HMACMatched,
			receipt.VerificationRunID, receipt.CreatedAt).
		WillReturnResult(pgxmock.NewResult("INSERT", 0))

	require.NoError(t, repo.Upsert(context.Background(), receipt))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestReceiptRepo_ExistingPurchaseKeys(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	repo := NewReceiptRepo(mock)
	shopID := uuid.New()
	alt := "alt-1"
	keys := []string{"order-1", "alt-1", "order-2"}

	mock.ExpectQuery("SELECT order_key, alt_order_key FROM receipts").
		WithArgs(shopID, domain.EventTypePurchase, keys).
		WillReturnRows(pgxmock.NewRows([]string{"order_key", "alt_order_key"}).
			AddRow("order-1", &alt))

	existing, err := repo.ExistingPurchaseKeys(context.Background(), shopID, keys)
	require.NoError(t, err)
	assert.Contains(t, existing, "order-1")
	assert.Contains(t, existing, "alt-1")
	assert.NotContains(t, existing, "order-2")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestReceiptRepo_ExistingPurchaseKeys_EmptyInput(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	repo := NewReceiptRepo(mock)

	existing, err := repo.ExistingPurchaseKeys(context.Background(), uuid.New(), nil)
	require.NoError(t, err)
	assert.Empty(t, existing)
	assert.NoError(t, mock.ExpectationsWereMet(), "no query should run for an empty key set")
}

func TestVerificationRunRepo_LatestRunning(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	repo := NewVerificationRunRepo(mock)
	shopID := uuid.New()
	runID := uuid.New()
	started := time.Now().UTC().Truncate(time.Microsecond)

	mock.ExpectQuery("SELECT .+ FROM verification_runs").
		WithArgs(shopID, domain.VerificationRunning).
		WillReturnRows(pgxmock.NewRows([]string{"id", "shop_id", "status", "started_at"}).
			AddRow(runID, shopID, domain.VerificationRunning, started))

	run, err := repo.LatestRunning(context.Background(), shopID)
	require.NoError(t, err)
	require.NotNil(t, run)
	assert.Equal(t, runID, run.ID)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestVerificationRunRepo_LatestRunning_None(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	repo := NewVerificationRunRepo(mock)
	shopID := uuid.New()

	mock.ExpectQuery("SELECT .+ FROM verification_runs").
		WithArgs(shopID, domain.VerificationRunning).
		WillReturnRows(pgxmock.NewRows([]string{"id", "shop_id", "status", "started_at"}))

	run, err := repo.LatestRunning(context.Background(), shopID)
	require.NoError(t, err)
	assert.Nil(t, run)
	assert.NoError(t, mock.ExpectationsWereMet())
}
