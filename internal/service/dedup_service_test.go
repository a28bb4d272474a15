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

const testNonceTTL = 24 * time.Hour

type dedupTestDeps struct {
	svc         *DedupService
	receiptRepo *mocks.MockReceiptRepository
	nonceStore  *mocks.MockNonceStore
}

func setupDedup(t *testing.T) *dedupTestDeps {
	ctrl := gomock.NewController(t)
	d := &dedupTestDeps{
		receiptRepo: mocks.NewMockReceiptRepository(ctrl),
		nonceStore:  mocks.NewMockNonceStore(ctrl),
	}
	d.svc = NewDedupService(d.receiptRepo, d.nonceStore, testNonceTTL, zerolog.Nop())
	return d
}

func normPurchase(orderKey, altOrderKey string) domain.NormalizedEvent {
	return domain.NormalizedEvent{
		PixelEvent:  domain.PixelEvent{EventName: domain.EventCheckoutCompleted, Timestamp: 1700000000000},
		EventType:   domain.EventTypePurchase,
		OrderKey:    orderKey,
		AltOrderKey: altOrderKey,
		EventID:     "evt-" + orderKey,
	}
}

func TestDedup_KeepsFreshPurchase(t *testing.T) {
	d := setupDedup(t)
	ctx := context.Background()
	shopID := uuid.New()
	ev := normPurchase("order-1", "")

	d.receiptRepo.EXPECT().ExistingPurchaseKeys(ctx, shopID, []string{"order-1"}).Return(map[string]struct{}{}, nil)
	d.nonceStore.EXPECT().CreateEventNonce(ctx, shopID, "order-1", ev.Timestamp, "", domain.EventTypePurchase, testNonceTTL).Return(true, nil)

	result, err := d.svc.Dedup(ctx, shopID, []domain.NormalizedEvent{ev})
	require.NoError(t, err)
	assert.Len(t, result.Kept, 1)
	assert.Zero(t, result.Duplicates)
	assert.Zero(t, result.Replays)
}

func TestDedup_InBatchDuplicateFirstWins(t *testing.T) {
	d := setupDedup(t)
	ctx := context.Background()
	shopID := uuid.New()
	first := normPurchase("order-1", "")
	second := normPurchase("order-1", "")

	d.receiptRepo.EXPECT().ExistingPurchaseKeys(ctx, shopID, []string{"order-1", "order-1"}).Return(map[string]struct{}{}, nil)
	// Only the first event reaches the nonce store.
	d.nonceStore.EXPECT().CreateEventNonce(ctx, shopID, "order-1", first.Timestamp, "", domain.EventTypePurchase, testNonceTTL).Return(true, nil)

	result, err := d.svc.Dedup(ctx, shopID, []domain.NormalizedEvent{first, second})
	require.NoError(t, err)
	assert.Len(t, result.Kept, 1)
	assert.Equal(t, 1, result.Duplicates)
}

func TestDedup_AltKeyCollidesAcrossEvents(t *testing.T) {
	d := setupDedup(t)
	ctx := context.Background()
	shopID := uuid.New()
	first := normPurchase("order-1", "alt-1")
	second := normPurchase("order-2", "alt-1")

	d.receiptRepo.EXPECT().ExistingPurchaseKeys(ctx, shopID, gomock.Any()).Return(map[string]struct{}{}, nil)
	d.nonceStore.EXPECT().CreateEventNonce(ctx, shopID, "order-1", first.Timestamp, "", domain.EventTypePurchase, testNonceTTL).Return(true, nil)

	result, err := d.svc.Dedup(ctx, shopID, []domain.NormalizedEvent{first, second})
	require.NoError(t, err)
	assert.Len(t, result.Kept, 1, "shared alt key must suppress the second event")
	assert.Equal(t, 1, result.Duplicates)
}

func TestDedup_ExistingReceiptSuppresses(t *testing.T) {
	d := setupDedup(t)
	ctx := context.Background()
	shopID := uuid.New()
	ev := normPurchase("order-1", "")

	d.receiptRepo.EXPECT().ExistingPurchaseKeys(ctx, shopID, []string{"order-1"}).
		Return(map[string]struct{}{"order-1": {}}, nil)

	result, err := d.svc.Dedup(ctx, shopID, []domain.NormalizedEvent{ev})
	require.NoError(t, err)
	assert.Empty(t, result.Kept)
	assert.Equal(t, 1, result.Duplicates)
}

func TestDedup_NonceReplaySuppresses(t *testing.T) {
	d := setupDedup(t)
	ctx := context.Background()
	shopID := uuid.New()
	ev := normPurchase("order-1", "")

	d.receiptRepo.EXPECT().ExistingPurchaseKeys(ctx, shopID, []string{"order-1"}).Return(map[string]struct{}{}, nil)
	d.nonceStore.EXPECT().CreateEventNonce(ctx, shopID, "order-1", ev.Timestamp, "", domain.EventTypePurchase, testNonceTTL).Return(false, nil)

	result, err := d.svc.Dedup(ctx, shopID, []domain.NormalizedEvent{ev})
	require.NoError(t, err)
	assert.Empty(t, result.Kept)
	assert.Equal(t, 1, result.Replays)
}

func TestDedup_NonceStoreErrorKeepsEvent(t *testing.T) {
	d := setupDedup(t)
	ctx := context.Background()
	shopID := uuid.New()
	ev := normPurchase("order-1", "")

	d.receiptRepo.EXPECT().ExistingPurchaseKeys(ctx, shopID, []string{"order-1"}).Return(map[string]struct{}{}, nil)
	d.nonceStore.EXPECT().CreateEventNonce(ctx, shopID, "order-1", ev.Timestamp, "", domain.EventTypePurchase, testNonceTTL).
		Return(false, assert.AnError)

	result, err := d.svc.Dedup(ctx, shopID, []domain.NormalizedEvent{ev})
	require.NoError(t, err)
	assert.Len(t, result.Kept, 1, "a nonce store outage must not drop purchases")
}

func TestDedup_PrefetchErrorPropagates(t *testing.T) {
	d := setupDedup(t)
	ctx := context.Background()
	shopID := uuid.New()

	d.receiptRepo.EXPECT().ExistingPurchaseKeys(ctx, shopID, gomock.Any()).Return(nil, assert.AnError)

	_, err := d.svc.Dedup(ctx, shopID, []domain.NormalizedEvent{normPurchase("order-1", "")})
	assert.Error(t, err)
}

func TestDedup_NonPurchasePassThrough(t *testing.T) {
	d := setupDedup(t)
	ctx := context.Background()
	shopID := uuid.New()

	pageView := domain.NormalizedEvent{
		PixelEvent: domain.PixelEvent{EventName: domain.EventPageViewed},
		EventType:  domain.EventPageViewed,
		OrderKey:   "session_1_shop",
	}

	result, err := d.svc.Dedup(ctx, shopID, []domain.NormalizedEvent{pageView})
	require.NoError(t, err)
	assert.Len(t, result.Kept, 1, "non-purchase events skip dedup entirely")
}
