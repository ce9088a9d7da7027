// Package dispatch fans customer requests out to locksmiths over SMS
// and reconciles their replies: session-scoped quote broadcasts, job
// scoped acceptance waves and the assignment critical section.
package dispatch

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// Offer statuses.
const (
	OfferPending  = "pending"
	OfferAccepted = "accepted"
	OfferDeclined = "declined"
	OfferExpired  = "expired"
	OfferCanceled = "canceled"
)

var (
	// ErrOfferNotFound is returned when no offer matches the lookup.
	ErrOfferNotFound = errors.New("dispatch: offer not found")
	// ErrOfferResolved is returned when the offer already left pending.
	ErrOfferResolved = errors.New("dispatch: offer already resolved")
)

// Offer is one SMS round-trip with one locksmith. Exactly one of JobID
// and SessionID is set: job-scoped offers solicit a YES/NO acceptance,
// session-scoped offers solicit a price quote.
type Offer struct {
	ID          string     `json:"id"`
	JobID       string     `json:"job_id,omitempty"`
	SessionID   string     `json:"session_id,omitempty"`
	LocksmithID string     `json:"locksmith_id"`
	WaveNumber  int        `json:"wave_number"`
	Status      string     `json:"status"`
	QuotedPrice *int64     `json:"quoted_price,omitempty"`
	MessageSid  string     `json:"-"`
	SentAt      time.Time  `json:"sent_at"`
	RespondedAt *time.Time `json:"responded_at,omitempty"`
	ExpiresAt   *time.Time `json:"expires_at,omitempty"`
}

// JobScoped reports whether the offer solicits a YES/NO acceptance.
func (o *Offer) JobScoped() bool {
	return o.JobID != ""
}

// PgxPool is the subset of pgxpool.Pool the offer repository needs.
type PgxPool interface {
	Begin(ctx context.Context) (pgx.Tx, error)
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// OfferRepository persists job_offers.
type OfferRepository struct {
	pool PgxPool
}

// NewOfferRepository initializes a repo backed by pgxpool.
func NewOfferRepository(pool PgxPool) *OfferRepository {
	if pool == nil {
		panic("dispatch: pgx pool required")
	}
	return &OfferRepository{pool: pool}
}

const offerColumns = `
	id, job_id, request_session_id, locksmith_id, wave_number, status,
	quoted_price, twilio_message_sid, sent_at, responded_at, expires_at
`

const insertOfferSQL = `
	INSERT INTO job_offers (
		id, job_id, request_session_id, locksmith_id, wave_number, status,
		twilio_message_sid, sent_at, expires_at
	)
	VALUES ($1, NULLIF($2, '')::uuid, NULLIF($3, '')::uuid, $4, $5, $6, NULLIF($7, ''), $8, $9)
`

func scanOffer(row pgx.Row) (*Offer, error) {
	var o Offer
	var jobID, sessionID, messageSid sql.NullString
	var quotedPrice sql.NullInt64
	var respondedAt, expiresAt sql.NullTime
	err := row.Scan(
		&o.ID, &jobID, &sessionID, &o.LocksmithID, &o.WaveNumber, &o.Status,
		&quotedPrice, &messageSid, &o.SentAt, &respondedAt, &expiresAt,
	)
	if err != nil {
		return nil, err
	}
	o.JobID = jobID.String
	o.SessionID = sessionID.String
	o.MessageSid = messageSid.String
	if quotedPrice.Valid {
		v := quotedPrice.Int64
		o.QuotedPrice = &v
	}
	if respondedAt.Valid {
		t := respondedAt.Time
		o.RespondedAt = &t
	}
	if expiresAt.Valid {
		t := expiresAt.Time
		o.ExpiresAt = &t
	}
	return &o, nil
}

// Insert stores a single offer, filling id and sent_at when unset.
func (r *OfferRepository) Insert(ctx context.Context, o *Offer) error {
	if o.ID == "" {
		o.ID = uuid.NewString()
	}
	if o.SentAt.IsZero() {
		o.SentAt = time.Now().UTC()
	}
	if o.Status == "" {
		o.Status = OfferPending
	}
	_, err := r.pool.Exec(ctx, insertOfferSQL,
		o.ID, o.JobID, o.SessionID, o.LocksmithID, o.WaveNumber, o.Status,
		o.MessageSid, o.SentAt, o.ExpiresAt,
	)
	if err != nil {
		return fmt.Errorf("dispatch: insert offer failed: %w", err)
	}
	return nil
}

// InsertWave stores a wave's offers in one transaction so a wave is
// never half-recorded.
func (r *OfferRepository) InsertWave(ctx context.Context, offers []*Offer) error {
	if len(offers) == 0 {
		return nil
	}
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("dispatch: begin wave tx: %w", err)
	}
	defer tx.Rollback(ctx)

	now := time.Now().UTC()
	for _, o := range offers {
		if o.ID == "" {
			o.ID = uuid.NewString()
		}
		if o.SentAt.IsZero() {
			o.SentAt = now
		}
		if o.Status == "" {
			o.Status = OfferPending
		}
		_, err := tx.Exec(ctx, insertOfferSQL,
			o.ID, o.JobID, o.SessionID, o.LocksmithID, o.WaveNumber, o.Status,
			o.MessageSid, o.SentAt, o.ExpiresAt,
		)
		if err != nil {
			return fmt.Errorf("dispatch: insert wave offer failed: %w", err)
		}
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("dispatch: commit wave tx: %w", err)
	}
	return nil
}

// GetByID fetches one offer.
func (r *OfferRepository) GetByID(ctx context.Context, id string) (*Offer, error) {
	query := `SELECT ` + offerColumns + ` FROM job_offers WHERE id = $1`
	o, err := scanOffer(r.pool.QueryRow(ctx, query, id))
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, ErrOfferNotFound
		}
		return nil, fmt.Errorf("dispatch: select offer failed: %w", err)
	}
	return o, nil
}

// MostRecentPending returns the locksmith's latest pending offer by
// sent_at, the target of any YES/NO reply.
func (r *OfferRepository) MostRecentPending(ctx context.Context, locksmithID string) (*Offer, error) {
	query := `
		SELECT ` + offerColumns + `
		FROM job_offers
		WHERE locksmith_id = $1 AND status = $2
		ORDER BY sent_at DESC
		LIMIT 1
	`
	o, err := scanOffer(r.pool.QueryRow(ctx, query, locksmithID, OfferPending))
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, ErrOfferNotFound
		}
		return nil, fmt.Errorf("dispatch: select pending offer failed: %w", err)
	}
	return o, nil
}

// Accept moves a pending offer to accepted, recording the quote when
// present. Losers of the compare-and-swap get ErrOfferResolved.
func (r *OfferRepository) Accept(ctx context.Context, id string, quotedPrice *int64) error {
	query := `
		UPDATE job_offers
		SET status = $2, quoted_price = $3, responded_at = $4
		WHERE id = $1 AND status = $5
	`
	return r.resolve(ctx, query, id, OfferAccepted, quotedPrice, time.Now().UTC(), OfferPending)
}

// Decline moves a pending offer to declined.
func (r *OfferRepository) Decline(ctx context.Context, id string) error {
	query := `
		UPDATE job_offers
		SET status = $2, responded_at = $3
		WHERE id = $1 AND status = $4
	`
	return r.resolve(ctx, query, id, OfferDeclined, time.Now().UTC(), OfferPending)
}

// Cancel withdraws a pending offer.
func (r *OfferRepository) Cancel(ctx context.Context, id string) error {
	query := `
		UPDATE job_offers
		SET status = $2, responded_at = $3
		WHERE id = $1 AND status = $4
	`
	return r.resolve(ctx, query, id, OfferCanceled, time.Now().UTC(), OfferPending)
}

// CancelOtherPending withdraws every pending offer for the job except
// the winner, in a single statement. Returns the number withdrawn.
func (r *OfferRepository) CancelOtherPending(ctx context.Context, jobID, winnerOfferID string) (int, error) {
	query := `
		UPDATE job_offers
		SET status = $3, responded_at = $4
		WHERE job_id = $1 AND id <> $2 AND status = $5
	`
	tag, err := r.pool.Exec(ctx, query, jobID, winnerOfferID, OfferCanceled, time.Now().UTC(), OfferPending)
	if err != nil {
		return 0, fmt.Errorf("dispatch: cancel other offers failed: %w", err)
	}
	return int(tag.RowsAffected()), nil
}

// CancelPendingForJob withdraws every pending offer for the job.
func (r *OfferRepository) CancelPendingForJob(ctx context.Context, jobID string) (int, error) {
	query := `
		UPDATE job_offers
		SET status = $2, responded_at = $3
		WHERE job_id = $1 AND status = $4
	`
	tag, err := r.pool.Exec(ctx, query, jobID, OfferCanceled, time.Now().UTC(), OfferPending)
	if err != nil {
		return 0, fmt.Errorf("dispatch: cancel pending offers failed: %w", err)
	}
	return int(tag.RowsAffected()), nil
}

// PendingCountForJob counts the job's outstanding offers.
func (r *OfferRepository) PendingCountForJob(ctx context.Context, jobID string) (int, error) {
	var count int
	err := r.pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM job_offers WHERE job_id = $1 AND status = $2`,
		jobID, OfferPending,
	).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("dispatch: count pending offers failed: %w", err)
	}
	return count, nil
}

// ContactedLocksmithIDs lists every locksmith ever offered this job,
// regardless of how the offer resolved.
func (r *OfferRepository) ContactedLocksmithIDs(ctx context.Context, jobID string) ([]string, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT DISTINCT locksmith_id FROM job_offers WHERE job_id = $1`, jobID)
	if err != nil {
		return nil, fmt.Errorf("dispatch: list contacted locksmiths failed: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("dispatch: scan locksmith id: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// ListBySession returns a session's offers, newest first.
func (r *OfferRepository) ListBySession(ctx context.Context, sessionID string) ([]*Offer, error) {
	return r.list(ctx,
		`SELECT `+offerColumns+` FROM job_offers WHERE request_session_id = $1 ORDER BY sent_at DESC`,
		sessionID)
}

// ListByJob returns a job's offers, newest first.
func (r *OfferRepository) ListByJob(ctx context.Context, jobID string) ([]*Offer, error) {
	return r.list(ctx,
		`SELECT `+offerColumns+` FROM job_offers WHERE job_id = $1 ORDER BY sent_at DESC`,
		jobID)
}

// ExpireStale demotes pending job-scoped offers past their expiry and
// returns them so the sweeper can audit and progress waves.
func (r *OfferRepository) ExpireStale(ctx context.Context, now time.Time) ([]*Offer, error) {
	query := `
		UPDATE job_offers
		SET status = $1, responded_at = $2
		WHERE status = $3 AND expires_at IS NOT NULL AND expires_at < $2
		RETURNING ` + offerColumns + `
	`
	rows, err := r.pool.Query(ctx, query, OfferExpired, now.UTC(), OfferPending)
	if err != nil {
		return nil, fmt.Errorf("dispatch: expire offers failed: %w", err)
	}
	defer rows.Close()

	var out []*Offer
	for rows.Next() {
		o, err := scanOffer(rows)
		if err != nil {
			return nil, fmt.Errorf("dispatch: scan expired offer: %w", err)
		}
		out = append(out, o)
	}
	return out, rows.Err()
}

func (r *OfferRepository) list(ctx context.Context, query string, args ...any) ([]*Offer, error) {
	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("dispatch: list offers failed: %w", err)
	}
	defer rows.Close()

	var out []*Offer
	for rows.Next() {
		o, err := scanOffer(rows)
		if err != nil {
			return nil, fmt.Errorf("dispatch: scan offer: %w", err)
		}
		out = append(out, o)
	}
	return out, rows.Err()
}

func (r *OfferRepository) resolve(ctx context.Context, query string, id string, args ...any) error {
	all := append([]any{id}, args...)
	tag, err := r.pool.Exec(ctx, query, all...)
	if err != nil {
		return fmt.Errorf("dispatch: resolve offer failed: %w", err)
	}
	if tag.RowsAffected() == 0 {
		if _, err := r.GetByID(ctx, id); err != nil {
			return err
		}
		return ErrOfferResolved
	}
	return nil
}
