package redis

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	goredis "github.com/redis/go-redis/v9"
)

// NonceStore implements ports.NonceStore using Redis SET NX. It is the
// third dedup layer: an atomic claim between the receipt prefetch and the
// receipt insert.
type NonceStore struct {
	client *goredis.Client
	prefix string
}

// NewNonceStore creates a new Redis-backed event nonce store.
func NewNonceStore(client *goredis.Client) *NonceStore {
	return &NonceStore{
		client: client,
		prefix: "eventnonce:",
	}
}

// CreateEventNonce atomically claims (shop, orderKey, eventType[, nonce]).
// Returns true when the claim is fresh, false on replay.
func (s *NonceStore) CreateEventNonce(ctx context.Context, shopID uuid.UUID, orderKey string, timestamp int64, providedNonce string, eventType string, ttl time.Duration) (bool, error) {
	key := s.prefix + shopID.String() + ":" + eventType + ":" + orderKey
	if providedNonce != "" {
		key += ":" + providedNonce
	}
	ok, err := s.client.SetNX(ctx, key, timestamp, ttl).Result()
	if err != nil {
		return false, fmt.Errorf("redis event nonce claim: %w", err)
	}
	return ok, nil
}
