// Package audit provides the append-only event trail attached to every
// state transition in the dispatch pipeline.
package audit

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// ActorType identifies who caused an audited mutation.
type ActorType string

const (
	ActorSystem    ActorType = "system"
	ActorAdmin     ActorType = "admin"
	ActorLocksmith ActorType = "locksmith"
)

// Event type constants grouped by emitting component.
const (
	// Session engine
	EventSessionStarted    = "session_started"
	EventLocationValidated = "location_validated"
	EventLocationRejected  = "location_rejected"
	EventServiceSelected   = "service_selected"
	EventPaymentRequested  = "payment_requested"
	EventPaymentCompleted  = "payment_completed"
	EventSessionAbandoned  = "session_abandoned"

	// Quote dispatcher
	EventDispatchStarted   = "dispatch_started"
	EventDispatchFailed    = "dispatch_failed"
	EventDispatchCanceled  = "dispatch_canceled"
	EventDispatchRestarted = "dispatch_restarted"
	EventWaveSent          = "wave_sent"
	EventOfferSendFailed   = "offer_send_failed"
	EventOfferDeclined     = "offer_declined"
	EventOfferExpired      = "offer_expired"
	EventQuoteReceived     = "quote_received"
	EventJobAssigned       = "job_assigned"

	// Payments
	EventPaymentSucceeded = "payment_succeeded"
	EventPaymentFailed    = "payment_failed"
	EventRefundCreated    = "refund_created"
	EventRefundProcessed  = "refund_processed"

	// Providers
	EventAvailabilityChanged = "availability_changed"
	EventDeactivated         = "deactivated"
)

// Event is an immutable audit record.
type Event struct {
	ID          string          `json:"id"`
	EntityType  string          `json:"entity_type"`
	EntityID    string          `json:"entity_id"`
	EventType   string          `json:"event_type"`
	ActorType   ActorType       `json:"actor_type"`
	ActorEmail  string          `json:"actor_email,omitempty"`
	Payload     json.RawMessage `json:"payload,omitempty"`
	Description string          `json:"description,omitempty"`
	CreatedAt   time.Time       `json:"created_at"`
}

// Service handles audit event logging and retrieval.
type Service struct {
	db *sql.DB
}

// NewService creates an audit service over the given database handle.
func NewService(db *sql.DB) *Service {
	return &Service{db: db}
}

// LogEvent records an audit event. Missing id/actor/timestamp fields are
// filled with defaults; logging never mutates the entity it describes.
func (s *Service) LogEvent(ctx context.Context, event Event) error {
	if event.ID == "" {
		event.ID = uuid.NewString()
	}
	if event.ActorType == "" {
		event.ActorType = ActorSystem
	}
	if event.CreatedAt.IsZero() {
		event.CreatedAt = time.Now().UTC()
	}

	query := `
		INSERT INTO audit_events (
			id, entity_type, entity_id, event_type,
			actor_email, actor_type, payload_json, description, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`

	_, err := s.db.ExecContext(ctx, query,
		event.ID,
		event.EntityType,
		event.EntityID,
		event.EventType,
		nullString(event.ActorEmail),
		event.ActorType,
		payloadValue(event.Payload),
		nullString(event.Description),
		event.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("audit: failed to log event: %w", err)
	}

	return nil
}

// Log is shorthand for system-actor events with a map payload.
func (s *Service) Log(ctx context.Context, entityType, entityID, eventType string, payload map[string]any) error {
	raw, err := marshalPayload(payload)
	if err != nil {
		return err
	}
	return s.LogEvent(ctx, Event{
		EntityType: entityType,
		EntityID:   entityID,
		EventType:  eventType,
		ActorType:  ActorSystem,
		Payload:    raw,
	})
}

// LogAdminAction records an admin-initiated mutation as admin_<action>.
func (s *Service) LogAdminAction(ctx context.Context, entityType, entityID, action, actorEmail string, payload map[string]any) error {
	raw, err := marshalPayload(payload)
	if err != nil {
		return err
	}
	return s.LogEvent(ctx, Event{
		EntityType: entityType,
		EntityID:   entityID,
		EventType:  "admin_" + action,
		ActorType:  ActorAdmin,
		ActorEmail: actorEmail,
		Payload:    raw,
	})
}

// LogLocksmithAction records a provider self-service mutation (SMS commands).
func (s *Service) LogLocksmithAction(ctx context.Context, locksmithID, eventType string, payload map[string]any) error {
	raw, err := marshalPayload(payload)
	if err != nil {
		return err
	}
	return s.LogEvent(ctx, Event{
		EntityType: "locksmith",
		EntityID:   locksmithID,
		EventType:  eventType,
		ActorType:  ActorLocksmith,
		Payload:    raw,
	})
}

// Filter specifies criteria for querying audit events.
type Filter struct {
	EntityType string
	EntityID   string
	EventType  string
	StartTime  time.Time
	EndTime    time.Time
	Limit      int
	Offset     int
}

// Query retrieves audit events matching the filter, newest first.
func (s *Service) Query(ctx context.Context, filter Filter) ([]Event, error) {
	query := `
		SELECT id, entity_type, entity_id, event_type,
			   actor_email, actor_type, payload_json, description, created_at
		FROM audit_events
		WHERE 1=1
	`
	args := []interface{}{}
	argIdx := 1

	if filter.EntityType != "" {
		query += fmt.Sprintf(" AND entity_type = $%d", argIdx)
		args = append(args, filter.EntityType)
		argIdx++
	}
	if filter.EntityID != "" {
		query += fmt.Sprintf(" AND entity_id = $%d", argIdx)
		args = append(args, filter.EntityID)
		argIdx++
	}
	if filter.EventType != "" {
		query += fmt.Sprintf(" AND event_type = $%d", argIdx)
		args = append(args, filter.EventType)
		argIdx++
	}
	if !filter.StartTime.IsZero() {
		query += fmt.Sprintf(" AND created_at >= $%d", argIdx)
		args = append(args, filter.StartTime)
		argIdx++
	}
	if !filter.EndTime.IsZero() {
		query += fmt.Sprintf(" AND created_at <= $%d", argIdx)
		args = append(args, filter.EndTime)
		argIdx++
	}

	query += " ORDER BY created_at DESC"

	if filter.Limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", filter.Limit)
	}
	if filter.Offset > 0 {
		query += fmt.Sprintf(" OFFSET %d", filter.Offset)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("audit: failed to query events: %w", err)
	}
	defer rows.Close()

	var events []Event
	for rows.Next() {
		var e Event
		var actorEmail, description sql.NullString
		var payload []byte
		err := rows.Scan(
			&e.ID, &e.EntityType, &e.EntityID, &e.EventType,
			&actorEmail, &e.ActorType, &payload, &description, &e.CreatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("audit: failed to scan event: %w", err)
		}
		e.ActorEmail = actorEmail.String
		e.Description = description.String
		if len(payload) > 0 {
			e.Payload = json.RawMessage(payload)
		}
		events = append(events, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("audit: failed to read events: %w", err)
	}

	return events, nil
}

func marshalPayload(payload map[string]any) (json.RawMessage, error) {
	if payload == nil {
		return nil, nil
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("audit: failed to encode payload: %w", err)
	}
	return raw, nil
}

func payloadValue(raw json.RawMessage) interface{} {
	if len(raw) == 0 {
		return nil
	}
	return []byte(raw)
}

func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}
