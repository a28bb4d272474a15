package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"tracking-guardian/internal/core/domain"

	"github.com/google/uuid"
)

// EventStore implements ports.Persister: it records processed events and
// schedules one dispatch job per destination. The dispatcher that drains
// the jobs table is a separate system.
type EventStore struct {
	pool Pool
}

// NewEventStore creates a new EventStore.
func NewEventStore(pool Pool) *EventStore {
	return &EventStore{pool: pool}
}

// PersistInternalEventsAndDispatchJobs stores each processed event and its
// per-destination dispatch jobs. Event rows are idempotent on (shop_id,
// event_id) so worker reprocessing never duplicates them.
func (s *EventStore) PersistInternalEventsAndDispatchJobs(ctx context.Context, shopID uuid.UUID, events []domain.NormalizedEvent, reqCtx domain.RequestContextInfo, env domain.Environment) error {
	now := time.Now().UTC()

	for _, ev := range events {
		payload, err := json.Marshal(ev)
		if err != nil {
			return fmt.Errorf("marshal internal event: %w", err)
		}

		eventQuery := `INSERT INTO internal_events (id, shop_id, event_id, event_type, environment, payload, client_ip, user_agent, created_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
			ON CONFLICT (shop_id, event_id) DO NOTHING`
		_, err = s.pool.Exec(ctx, eventQuery,
			uuid.New(), shopID, ev.EventID, ev.EventType, env,
			payload, reqCtx.IP, reqCtx.UserAgent, now,
		)
		if err != nil {
			return fmt.Errorf("insert internal event: %w", err)
		}

		for _, platform := range ev.Destinations {
			jobQuery := `INSERT INTO dispatch_jobs (id, shop_id, event_id, platform, status, created_at)
				VALUES ($1, $2, $3, $4, 'pending', $5)
				ON CONFLICT (shop_id, event_id, platform) DO NOTHING`
			_, err = s.pool.Exec(ctx, jobQuery, uuid.New(), shopID, ev.EventID, platform, now)
			if err != nil {
				return fmt.Errorf("insert dispatch job: %w", err)
			}
		}
	}
	return nil
}
