package service

import (
	"context"
	"testing"
	"time"

	"tracking-guardian/internal/core/domain"
	"tracking-guardian/internal/core/ports/mocks"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"
)

type receiptTestDeps struct {
	svc         *ReceiptService
	receiptRepo *mocks.MockReceiptRepository
	verRepo     *mocks.MockVerificationRunRepository
}

func setupReceipts(t *testing.T) *receiptTestDeps {
	ctrl := gomock.NewController(t)
	d := &receiptTestDeps{
		receiptRepo: mocks.NewMockReceiptRepository(ctrl),
		verRepo:     mocks.NewMockVerificationRunRepository(ctrl),
	}
	d.svc = NewReceiptService(d.receiptRepo, d.verRepo, time.Second, zerolog.Nop())
	return d
}

func distributedPurchase(orderKey string, destinations ...string) domain.NormalizedEvent {
	ev := normPurchase(orderKey, "alt-"+orderKey)
	ev.Destinations = destinations
	return ev
}

func TestReceiptWrite_StampsTrustAndRun(t *testing.T) {
	d := setupReceipts(t)
	ctx := context.Background()
	shopID := uuid.New()
	runID := uuid.New()
	kv := domain.Verified(domain.SourceHeader, false, false)

	d.verRepo.EXPECT().LatestRunning(ctx, shopID).Return(&domain.VerificationRun{ID: runID, ShopID: shopID, Status: domain.VerificationRunning}, nil)
	d.receiptRepo.EXPECT().Upsert(gomock.Any(), gomock.Any()).DoAndReturn(
		func(_ context.Context, r *domain.Receipt) error {
			assert.Equal(t, shopID, r.ShopID)
			assert.Equal(t, domain.EventTypePurchase, r.EventType)
			assert.Equal(t, "order-1", r.OrderKey)
			require.NotNil(t, r.AltOrderKey)
			assert.Equal(t, "alt-order-1", *r.AltOrderKey)
			assert.Equal(t, "meta", r.PrimaryPlatform)
			assert.Equal(t, []string{"meta", "google"}, r.Destinations)
			assert.Equal(t, domain.TrustTrusted, r.HMACTrustLevel)
			assert.True(t, r.HMACMatched)
			require.NotNil(t, r.VerificationRunID)
			assert.Equal(t, runID, *r.VerificationRunID)
			return nil
		})

	err := d.svc.Write(ctx, shopID, []domain.NormalizedEvent{distributedPurchase("order-1", "meta", "google")}, kv)
	require.NoError(t, err)
}

func TestReceiptWrite_ResolvesRunOnce(t *testing.T) {
	d := setupReceipts(t)
	ctx := context.Background()
	shopID := uuid.New()
	kv := domain.Verified(domain.SourceHeader, false, false)

	d.verRepo.EXPECT().LatestRunning(ctx, shopID).Return(nil, nil).Times(1)
	d.receiptRepo.EXPECT().Upsert(gomock.Any(), gomock.Any()).Return(nil).Times(2)

	events := []domain.NormalizedEvent{
		distributedPurchase("order-1", "meta"),
		distributedPurchase("order-2", "meta"),
	}
	require.NoError(t, d.svc.Write(ctx, shopID, events, kv))
}

func TestReceiptWrite_SkipsNonPurchasesAndUndistributed(t *testing.T) {
	d := setupReceipts(t)
	ctx := context.Background()

	pageView := domain.NormalizedEvent{
		PixelEvent:   domain.PixelEvent{EventName: domain.EventPageViewed},
		EventType:    domain.EventPageViewed,
		Destinations: []string{"google"},
	}
	undistributed := normPurchase("order-1", "")

	err := d.svc.Write(ctx, uuid.New(), []domain.NormalizedEvent{pageView, undistributed}, domain.KeyValidation{})
	require.NoError(t, err, "no repo calls expected for non-receipt events")
}

func TestReceiptWrite_RunLookupFailureIsNonFatal(t *testing.T) {
	d := setupReceipts(t)
	ctx := context.Background()
	shopID := uuid.New()

	d.verRepo.EXPECT().LatestRunning(ctx, shopID).Return(nil, assert.AnError)
	d.receiptRepo.EXPECT().Upsert(gomock.Any(), gomock.Any()).DoAndReturn(
		func(_ context.Context, r *domain.Receipt) error {
			assert.Nil(t, r.VerificationRunID)
			return nil
		})

	err := d.svc.Write(ctx, shopID, []domain.NormalizedEvent{distributedPurchase("order-1", "meta")}, domain.KeyValidation{})
	require.NoError(t, err)
}

func TestReceiptWrite_UpsertErrorPropagates(t *testing.T) {
	d := setupReceipts(t)
	ctx := context.Background()
	shopID := uuid.New()

	d.verRepo.EXPECT().LatestRunning(ctx, shopID).Return(nil, nil)
	d.receiptRepo.EXPECT().Upsert(gomock.Any(), gomock.Any()).Return(assert.AnError)

	err := d.svc.Write(ctx, shopID, []domain.NormalizedEvent{distributedPurchase("order-1", "meta")}, domain.KeyValidation{})
	assert.Error(t, err)
}
