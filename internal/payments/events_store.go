package payments

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// PgxPool is the subset of pgxpool.Pool the event store needs.
type PgxPool interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// EventStore tracks processed webhook event ids so gateway redeliveries
// become no-ops.
type EventStore struct {
	pool PgxPool
}

// NewEventStore initializes the dedup store.
func NewEventStore(pool PgxPool) *EventStore {
	if pool == nil {
		return nil
	}
	return &EventStore{pool: pool}
}

// AlreadyProcessed reports whether the event was seen before.
func (s *EventStore) AlreadyProcessed(ctx context.Context, provider, eventID string) (bool, error) {
	query := `
		SELECT 1 FROM payment_events
		WHERE provider = $1 AND event_id = $2
		LIMIT 1
	`
	var exists int
	if err := s.pool.QueryRow(ctx, query, provider, eventID).Scan(&exists); err != nil {
		if err == pgx.ErrNoRows {
			return false, nil
		}
		return false, fmt.Errorf("payments: processed lookup: %w", err)
	}
	return true, nil
}

// MarkProcessed records the event id. A concurrent duplicate insert is
// not an error.
func (s *EventStore) MarkProcessed(ctx context.Context, provider, eventID string) error {
	query := `
		INSERT INTO payment_events (provider, event_id, processed_at)
		VALUES ($1, $2, $3)
		ON CONFLICT (provider, event_id) DO NOTHING
	`
	if _, err := s.pool.Exec(ctx, query, provider, eventID, time.Now().UTC()); err != nil {
		return fmt.Errorf("payments: mark processed: %w", err)
	}
	return nil
}
