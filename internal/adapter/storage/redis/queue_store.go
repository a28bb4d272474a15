package redis

import (
	"context"
	"fmt"

	"tracking-guardian/internal/core/ports"

	goredis "github.com/redis/go-redis/v9"
)

const (
	queueKey      = "ingest:queue"
	processingKey = "ingest:processing"
)

// QueueStore implements ports.QueueStore on Redis lists. The producer
// left-pushes and trims; the consumer atomically moves the oldest entry
// onto the in-flight list and removes it on ack. An entry that is popped
// but never acked stays visible in ingest:processing for recovery.
type QueueStore struct {
	client *goredis.Client
}

// NewQueueStore creates a new Redis-backed durable queue.
func NewQueueStore(client *goredis.Client) *QueueStore {
	return &QueueStore{client: client}
}

// Enqueue pushes an entry and bounds the queue to maxSize.
func (s *QueueStore) Enqueue(ctx context.Context, entry []byte, maxSize int64) error {
	if err := s.client.LPush(ctx, queueKey, entry).Err(); err != nil {
		return fmt.Errorf("redis queue push: %w", err)
	}
	if maxSize > 0 {
		if err := s.client.LTrim(ctx, queueKey, 0, maxSize-1).Err(); err != nil {
			return fmt.Errorf("redis queue trim: %w", err)
		}
	}
	return nil
}

// PopToProcessing atomically moves the oldest entry to the in-flight list.
// Returns nil, nil when the queue is empty.
func (s *QueueStore) PopToProcessing(ctx context.Context) ([]byte, error) {
	raw, err := s.client.LMove(ctx, queueKey, processingKey, "RIGHT", "LEFT").Bytes()
	if err != nil {
		if err == goredis.Nil {
			return nil, nil
		}
		return nil, fmt.Errorf("redis queue pop: %w", err)
	}
	return raw, nil
}

// Ack removes a previously popped entry from the in-flight list.
func (s *QueueStore) Ack(ctx context.Context, entry []byte) error {
	if err := s.client.LRem(ctx, processingKey, 1, entry).Err(); err != nil {
		return fmt.Errorf("redis queue ack: %w", err)
	}
	return nil
}

// Stats returns pending and in-flight lengths.
func (s *QueueStore) Stats(ctx context.Context) (ports.QueueStats, error) {
	pending, err := s.client.LLen(ctx, queueKey).Result()
	if err != nil {
		return ports.QueueStats{}, fmt.Errorf("redis queue len: %w", err)
	}
	inflight, err := s.client.LLen(ctx, processingKey).Result()
	if err != nil {
		return ports.QueueStats{}, fmt.Errorf("redis processing len: %w", err)
	}
	return ports.QueueStats{Pending: pending, InFlight: inflight}, nil
}
