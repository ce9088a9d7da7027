package photos

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// Photo is the database record for one stored object. The object key is
// derived, never stored.
type Photo struct {
	ID               string    `json:"id"`
	JobID            string    `json:"job_id,omitempty"`
	SessionID        string    `json:"session_id,omitempty"`
	Source           string    `json:"source"`
	Bucket           string    `json:"bucket,omitempty"`
	ContentType      string    `json:"content_type,omitempty"`
	Bytes            int64     `json:"bytes,omitempty"`
	TwilioMessageSid string    `json:"-"`
	TwilioMediaSid   string    `json:"-"`
	CreatedAt        time.Time `json:"created_at"`
}

// PgxPool is the subset of pgxpool.Pool the repository needs.
type PgxPool interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Repository persists photo records.
type Repository struct {
	pool PgxPool
}

// NewRepository initializes a repo backed by pgxpool.
func NewRepository(pool PgxPool) *Repository {
	if pool == nil {
		panic("photos: pgx pool required")
	}
	return &Repository{pool: pool}
}

// Insert records an uploaded photo.
func (r *Repository) Insert(ctx context.Context, p Photo) error {
	if p.CreatedAt.IsZero() {
		p.CreatedAt = time.Now().UTC()
	}
	if p.Source == "" {
		p.Source = SourceWebUpload
	}
	query := `
		INSERT INTO photos (
			id, job_id, request_session_id, source, s3_bucket, content_type, bytes,
			twilio_message_sid, twilio_media_sid, created_at
		)
		VALUES ($1, NULLIF($2, '')::uuid, NULLIF($3, '')::uuid, $4, NULLIF($5, ''), NULLIF($6, ''),
			$7, NULLIF($8, ''), NULLIF($9, ''), $10)
	`
	_, err := r.pool.Exec(ctx, query,
		p.ID, p.JobID, p.SessionID, p.Source, p.Bucket, p.ContentType,
		p.Bytes, p.TwilioMessageSid, p.TwilioMediaSid, p.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("photos: insert: %w", err)
	}
	return nil
}

// GetByID fetches one photo record.
func (r *Repository) GetByID(ctx context.Context, id string) (*Photo, error) {
	query := `
		SELECT id, job_id, request_session_id, source, s3_bucket, content_type, bytes,
			twilio_message_sid, twilio_media_sid, created_at
		FROM photos
		WHERE id = $1
	`
	p, err := scanPhoto(r.pool.QueryRow(ctx, query, id))
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("photos: select: %w", err)
	}
	return p, nil
}

// ListBySession returns photos attached to a request session, oldest
// first.
func (r *Repository) ListBySession(ctx context.Context, sessionID string) ([]*Photo, error) {
	return r.list(ctx, "request_session_id", sessionID)
}

// ListByJob returns photos attached to a job, oldest first.
func (r *Repository) ListByJob(ctx context.Context, jobID string) ([]*Photo, error) {
	return r.list(ctx, "job_id", jobID)
}

func (r *Repository) list(ctx context.Context, column, value string) ([]*Photo, error) {
	query := fmt.Sprintf(`
		SELECT id, job_id, request_session_id, source, s3_bucket, content_type, bytes,
			twilio_message_sid, twilio_media_sid, created_at
		FROM photos
		WHERE %s = $1
		ORDER BY created_at ASC
	`, column)
	rows, err := r.pool.Query(ctx, query, value)
	if err != nil {
		return nil, fmt.Errorf("photos: list: %w", err)
	}
	defer rows.Close()

	var out []*Photo
	for rows.Next() {
		p, err := scanPhoto(rows)
		if err != nil {
			return nil, fmt.Errorf("photos: scan: %w", err)
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

func scanPhoto(row pgx.Row) (*Photo, error) {
	var p Photo
	var jobID, sessionID, bucket, contentType, msgSid, mediaSid sql.NullString
	var bytes sql.NullInt64
	err := row.Scan(
		&p.ID, &jobID, &sessionID, &p.Source, &bucket, &contentType, &bytes,
		&msgSid, &mediaSid, &p.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	p.JobID = jobID.String
	p.SessionID = sessionID.String
	p.Bucket = bucket.String
	p.ContentType = contentType.String
	p.Bytes = bytes.Int64
	p.TwilioMessageSid = msgSid.String
	p.TwilioMediaSid = mediaSid.String
	return &p, nil
}
