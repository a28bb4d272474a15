package integration

import (
	"context"
	"sync"

	"tracking-guardian/internal/core/domain"
	"tracking-guardian/internal/core/ports"

	"github.com/google/uuid"
)

// --- In-Memory Shop Repo ---

type inMemoryShopRepo struct {
	mu           sync.RWMutex
	shops        map[string]*domain.Shop // key: shopDomain|env
	pendingBumps int
}

func newInMemoryShopRepo() *inMemoryShopRepo {
	return &inMemoryShopRepo{shops: make(map[string]*domain.Shop)}
}

func shopKey(shopDomain string, env domain.Environment) string {
	return shopDomain + "|" + string(env)
}

func (r *inMemoryShopRepo) put(s *domain.Shop) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.shops[shopKey(s.ShopDomain, s.Environment)] = s
}

// GetByDomain returns a deep copy: the shop service decrypts secrets in
// place, and each request must start from ciphertext.
func (r *inMemoryShopRepo) GetByDomain(_ context.Context, shopDomain string, env domain.Environment) (*domain.Shop, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.shops[shopKey(shopDomain, env)]
	if !ok {
		return nil, nil
	}
	clone := *s
	if s.PreviousSecret != nil {
		v := *s.PreviousSecret
		clone.PreviousSecret = &v
	}
	if s.PreviousSecretExpiry != nil {
		v := *s.PreviousSecretExpiry
		clone.PreviousSecretExpiry = &v
	}
	if s.PendingSecret != nil {
		v := *s.PendingSecret
		clone.PendingSecret = &v
	}
	if s.PendingSecretExpiry != nil {
		v := *s.PendingSecretExpiry
		clone.PendingSecretExpiry = &v
	}
	clone.StorefrontDomains = append([]string(nil), s.StorefrontDomains...)
	clone.PixelConfigs = append([]domain.PixelConfig(nil), s.PixelConfigs...)
	return &clone, nil
}

func (r *inMemoryShopRepo) IncrementPendingMatchCount(_ context.Context, _ uuid.UUID) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.pendingBumps++
	return nil
}

// --- In-Memory Receipt Repo ---

type inMemoryReceiptRepo struct {
	mu       sync.RWMutex
	receipts map[string]*domain.Receipt // key: shopID|eventID
}

func newInMemoryReceiptRepo() *inMemoryReceiptRepo {
	return &inMemoryReceiptRepo{receipts: make(map[string]*domain.Receipt)}
}

func (r *inMemoryReceiptRepo) Upsert(_ context.Context, receipt *domain.Receipt) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	key := receipt.ShopID.String() + "|" + receipt.EventID
	if _, exists := r.receipts[key]; exists {
		return nil // conflict: keep the existing row
	}
	r.receipts[key] = receipt
	return nil
}

func (r *inMemoryReceiptRepo) ExistingPurchaseKeys(_ context.Context, shopID uuid.UUID, keys []string) (map[string]struct{}, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	wanted := make(map[string]struct{}, len(keys))
	for _, k := range keys {
		wanted[k] = struct{}{}
	}
	existing := make(map[string]struct{})
	for _, receipt := range r.receipts {
		if receipt.ShopID != shopID || receipt.EventType != domain.EventTypePurchase {
			continue
		}
		if _, ok := wanted[receipt.OrderKey]; ok {
			existing[receipt.OrderKey] = struct{}{}
		}
		if receipt.AltOrderKey != nil {
			if _, ok := wanted[*receipt.AltOrderKey]; ok {
				existing[*receipt.AltOrderKey] = struct{}{}
			}
		}
	}
	return existing, nil
}

func (r *inMemoryReceiptRepo) all() []*domain.Receipt {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*domain.Receipt, 0, len(r.receipts))
	for _, receipt := range r.receipts {
		out = append(out, receipt)
	}
	return out
}

// --- In-Memory Verification Run Repo ---

type inMemoryVerificationRepo struct {
	mu  sync.RWMutex
	run *domain.VerificationRun
}

func (r *inMemoryVerificationRepo) LatestRunning(_ context.Context, shopID uuid.UUID) (*domain.VerificationRun, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.run != nil && r.run.ShopID == shopID {
		return r.run, nil
	}
	return nil, nil
}

// --- In-Memory Persister ---

type persistedBatch struct {
	ShopID uuid.UUID
	Events []domain.NormalizedEvent
}

type inMemoryPersister struct {
	mu      sync.Mutex
	batches []persistedBatch
	fail    bool
}

func (p *inMemoryPersister) PersistInternalEventsAndDispatchJobs(_ context.Context, shopID uuid.UUID, events []domain.NormalizedEvent, _ domain.RequestContextInfo, _ domain.Environment) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.fail {
		return errPersisterDown
	}
	p.batches = append(p.batches, persistedBatch{ShopID: shopID, Events: events})
	return nil
}

func (p *inMemoryPersister) persisted() []persistedBatch {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]persistedBatch(nil), p.batches...)
}

var errPersisterDown = &persisterError{"persister down"}

type persisterError struct{ msg string }

func (e *persisterError) Error() string { return e.msg }

var _ ports.ShopRepository = (*inMemoryShopRepo)(nil)
var _ ports.ReceiptRepository = (*inMemoryReceiptRepo)(nil)
var _ ports.VerificationRunRepository = (*inMemoryVerificationRepo)(nil)
var _ ports.Persister = (*inMemoryPersister)(nil)
