package messaging

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// Message directions.
const (
	DirectionOutbound = "outbound"
	DirectionInbound  = "inbound"
)

// PgxPool is the subset of pgxpool.Pool the store needs.
type PgxPool interface {
	Begin(ctx context.Context) (pgx.Tx, error)
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Message is one row of the append-only SMS log. Failed sends are
// recorded too, with the provider error attached.
type Message struct {
	ID                string    `json:"id"`
	JobID             string    `json:"job_id,omitempty"`
	LocksmithID       string    `json:"locksmith_id,omitempty"`
	Direction         string    `json:"direction"`
	ToPhone           string    `json:"to_phone"`
	FromPhone         string    `json:"from_phone"`
	Body              string    `json:"body"`
	ProviderMessageID string    `json:"provider_message_id,omitempty"`
	DeliveryStatus    string    `json:"delivery_status,omitempty"`
	ErrorCode         string    `json:"error_code,omitempty"`
	ErrorMessage      string    `json:"error_message,omitempty"`
	CreatedAt         time.Time `json:"created_at"`
}

// Store persists the SMS log in Postgres.
type Store struct {
	pool PgxPool
}

// NewStore initializes a store backed by pgxpool.
func NewStore(pool PgxPool) *Store {
	if pool == nil {
		return nil
	}
	return &Store{pool: pool}
}

// Insert appends a message. Missing id/timestamp are filled in.
func (s *Store) Insert(ctx context.Context, msg Message) (string, error) {
	if msg.ID == "" {
		msg.ID = uuid.NewString()
	}
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = time.Now().UTC()
	}
	query := `
		INSERT INTO messages (
			id, job_id, locksmith_id, direction, to_phone, from_phone, body,
			provider_message_id, delivery_status, error_code, error_message, created_at
		)
		VALUES ($1, NULLIF($2, '')::uuid, NULLIF($3, '')::uuid, $4, $5, $6, $7,
			NULLIF($8, ''), NULLIF($9, ''), NULLIF($10, ''), NULLIF($11, ''), $12)
	`
	_, err := s.pool.Exec(ctx, query,
		msg.ID, msg.JobID, msg.LocksmithID, msg.Direction, msg.ToPhone, msg.FromPhone, msg.Body,
		msg.ProviderMessageID, msg.DeliveryStatus, msg.ErrorCode, msg.ErrorMessage, msg.CreatedAt,
	)
	if err != nil {
		return "", fmt.Errorf("messaging: insert message: %w", err)
	}
	return msg.ID, nil
}

// HasProviderMessage reports whether the provider message id was already
// logged. Inbound webhook dedup relies on this.
func (s *Store) HasProviderMessage(ctx context.Context, providerMessageID string) (bool, error) {
	providerMessageID = strings.TrimSpace(providerMessageID)
	if providerMessageID == "" {
		return false, nil
	}
	query := `
		SELECT 1 FROM messages
		WHERE provider_message_id = $1
		LIMIT 1
	`
	var exists int
	if err := s.pool.QueryRow(ctx, query, providerMessageID).Scan(&exists); err != nil {
		if err == pgx.ErrNoRows {
			return false, nil
		}
		return false, fmt.Errorf("messaging: check provider message: %w", err)
	}
	return true, nil
}

// ListFilter narrows List results for the admin message log.
type ListFilter struct {
	JobID       string
	LocksmithID string
	Direction   string
	HasError    bool
	Limit       int
	Offset      int
}

// List returns logged messages matching the filter, newest first.
func (s *Store) List(ctx context.Context, filter ListFilter) ([]Message, error) {
	query := `
		SELECT id, job_id, locksmith_id, direction, to_phone, from_phone, body,
			provider_message_id, delivery_status, error_code, error_message, created_at
		FROM messages
		WHERE 1=1
	`
	args := []any{}
	argIdx := 1

	if filter.JobID != "" {
		query += fmt.Sprintf(" AND job_id = $%d", argIdx)
		args = append(args, filter.JobID)
		argIdx++
	}
	if filter.LocksmithID != "" {
		query += fmt.Sprintf(" AND locksmith_id = $%d", argIdx)
		args = append(args, filter.LocksmithID)
		argIdx++
	}
	if filter.Direction != "" {
		query += fmt.Sprintf(" AND direction = $%d", argIdx)
		args = append(args, filter.Direction)
		argIdx++
	}
	if filter.HasError {
		query += " AND error_message IS NOT NULL"
	}

	query += " ORDER BY created_at DESC"
	if filter.Limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", filter.Limit)
	}
	if filter.Offset > 0 {
		query += fmt.Sprintf(" OFFSET %d", filter.Offset)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("messaging: list messages: %w", err)
	}
	defer rows.Close()

	var out []Message
	for rows.Next() {
		var m Message
		var jobID, locksmithID, providerID, status, errCode, errMsg sql.NullString
		if err := rows.Scan(
			&m.ID, &jobID, &locksmithID, &m.Direction, &m.ToPhone, &m.FromPhone, &m.Body,
			&providerID, &status, &errCode, &errMsg, &m.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("messaging: scan message: %w", err)
		}
		m.JobID = jobID.String
		m.LocksmithID = locksmithID.String
		m.ProviderMessageID = providerID.String
		m.DeliveryStatus = status.String
		m.ErrorCode = errCode.String
		m.ErrorMessage = errMsg.String
		out = append(out, m)
	}
	return out, rows.Err()
}
