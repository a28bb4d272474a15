package service

import (
	"context"
	"fmt"
	"time"

	"tracking-guardian/internal/core/domain"
	"tracking-guardian/internal/core/ports"

	"github.com/rs/zerolog"
)

// ShopService implements ports.ShopLoader: resolve, expire stale secrets,
// decrypt.
type ShopService struct {
	shopRepo ports.ShopRepository
	encSvc   ports.EncryptionService
	log      zerolog.Logger
}

// NewShopService creates a new ShopService.
func NewShopService(shopRepo ports.ShopRepository, encSvc ports.EncryptionService, log zerolog.Logger) *ShopService {
	return &ShopService{shopRepo: shopRepo, encSvc: encSvc, log: log}
}

// Load resolves a shop by domain + environment. Expired secondary secrets
// are nulled before decryption so the validator never tries a stale key.
// Returns nil, nil for an unknown shop; the caller decides the response.
func (s *ShopService) Load(ctx context.Context, shopDomain string, env domain.Environment) (*domain.Shop, error) {
	shop, err := s.shopRepo.GetByDomain(ctx, shopDomain, env)
	if err != nil {
		return nil, err
	}
	if shop == nil {
		return nil, nil
	}

	shop.ExpireSecrets(time.Now())

	if shop.CurrentSecret != "" {
		plain, err := s.encSvc.Decrypt(shop.CurrentSecret)
		if err != nil {
			return nil, fmt.Errorf("decrypting current secret: %w", err)
		}
		shop.CurrentSecret = plain
	}
	if shop.PreviousSecret != nil && *shop.PreviousSecret != "" {
		plain, err := s.encSvc.Decrypt(*shop.PreviousSecret)
		if err != nil {
			return nil, fmt.Errorf("decrypting previous secret: %w", err)
		}
		shop.PreviousSecret = &plain
	}
	if shop.PendingSecret != nil && *shop.PendingSecret != "" {
		plain, err := s.encSvc.Decrypt(*shop.PendingSecret)
		if err != nil {
			return nil, fmt.Errorf("decrypting pending secret: %w", err)
		}
		shop.PendingSecret = &plain
	}

	return shop, nil
}
