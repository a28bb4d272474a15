package ports

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// RateLimitResult holds the outcome of a rate limit check.
type RateLimitResult struct {
	Allowed   bool
	Limit     int64
	Remaining int64
	ResetAt   int64 // Unix timestamp
}

// RateLimitStore implements fixed-window rate limiting counters.
type RateLimitStore interface {
	// Allow increments the counter for key and reports whether the
	// request fits within limit for the current window.
	Allow(ctx context.Context, key string, limit int64, window time.Duration) (*RateLimitResult, error)
}

// NonceStore closes the gap between the receipt prefetch and the receipt
// insert with an atomic set-if-absent claim per purchase key.
type NonceStore interface {
	// CreateEventNonce atomically claims (shop, orderKey, eventType[, nonce]).
	// Returns true when the claim is fresh, false on replay.
	CreateEventNonce(ctx context.Context, shopID uuid.UUID, orderKey string, timestamp int64, providedNonce string, eventType string, ttl time.Duration) (bool, error)
}

// QueueStats reports queue occupancy.
type QueueStats struct {
	Pending  int64
	InFlight int64
}

// QueueStore is the durable at-least-once work queue. Entries are opaque
// serialized bytes; the producer left-pushes and trims, the consumer
// atomically moves an entry to the in-flight list and removes it on ack.
type QueueStore interface {
	// Enqueue pushes an entry and bounds the queue to maxSize.
	Enqueue(ctx context.Context, entry []byte, maxSize int64) error
	// PopToProcessing atomically moves the oldest entry to the in-flight
	// list and returns it. Returns nil, nil when the queue is empty.
	PopToProcessing(ctx context.Context) ([]byte, error)
	// Ack removes a previously popped entry from the in-flight list.
	Ack(ctx context.Context, entry []byte) error
	// Stats returns pending and in-flight lengths.
	Stats(ctx context.Context) (QueueStats, error)
}
