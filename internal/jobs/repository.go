package jobs

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// PgxPool is the subset of pgxpool.Pool the repository needs.
type PgxPool interface {
	Begin(ctx context.Context) (pgx.Tx, error)
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Repository persists jobs in Postgres. Status-changing updates carry
// the expected current status in the WHERE clause so concurrent writers
// serialize on the row.
type Repository struct {
	pool PgxPool
}

// NewRepository initializes a repo backed by pgxpool.
func NewRepository(pool PgxPool) *Repository {
	if pool == nil {
		panic("jobs: pgx pool required")
	}
	return &Repository{pool: pool}
}

const jobColumns = `
	id, customer_name, customer_phone, service_type, urgency, description,
	address, city, latitude, longitude, car_make, car_model, car_year,
	status, deposit_amount, stripe_payment_intent_id, stripe_payment_status,
	refund_amount, stripe_refund_id, assigned_locksmith_id, assigned_at,
	current_wave, dispatch_started_at, request_session_id,
	created_at, updated_at, completed_at
`

func scanJob(row pgx.Row) (*Job, error) {
	var j Job
	var description, carMake, carModel, intentID, payStatus, refundID, locksmithID, sessionID sql.NullString
	var lat, lng sql.NullFloat64
	var carYear sql.NullInt64
	var refundAmount sql.NullInt64
	var assignedAt, dispatchStartedAt, completedAt sql.NullTime
	err := row.Scan(
		&j.ID, &j.CustomerName, &j.CustomerPhone, &j.ServiceType, &j.Urgency, &description,
		&j.Address, &j.City, &lat, &lng, &carMake, &carModel, &carYear,
		&j.Status, &j.DepositAmount, &intentID, &payStatus,
		&refundAmount, &refundID, &locksmithID, &assignedAt,
		&j.CurrentWave, &dispatchStartedAt, &sessionID,
		&j.CreatedAt, &j.UpdatedAt, &completedAt,
	)
	if err != nil {
		return nil, err
	}
	j.Description = description.String
	j.Latitude = lat.Float64
	j.Longitude = lng.Float64
	j.CarMake = carMake.String
	j.CarModel = carModel.String
	j.CarYear = int(carYear.Int64)
	j.PaymentIntentID = intentID.String
	j.PaymentStatus = payStatus.String
	j.RefundAmount = refundAmount.Int64
	j.RefundID = refundID.String
	j.AssignedLocksmithID = locksmithID.String
	j.SessionID = sessionID.String
	if assignedAt.Valid {
		t := assignedAt.Time
		j.AssignedAt = &t
	}
	if dispatchStartedAt.Valid {
		t := dispatchStartedAt.Time
		j.DispatchStartedAt = &t
	}
	if completedAt.Valid {
		t := completedAt.Time
		j.CompletedAt = &t
	}
	return &j, nil
}

// Create inserts a job snapshot.
func (r *Repository) Create(ctx context.Context, j *Job) error {
	if j.CreatedAt.IsZero() {
		j.CreatedAt = time.Now().UTC()
	}
	j.UpdatedAt = j.CreatedAt
	query := `
		INSERT INTO jobs (
			id, customer_name, customer_phone, service_type, urgency, description,
			address, city, latitude, longitude, car_make, car_model, car_year,
			status, deposit_amount, stripe_payment_intent_id, stripe_payment_status,
			current_wave, request_session_id, created_at, updated_at
		)
		VALUES ($1, $2, $3, $4, $5, NULLIF($6, ''),
			$7, $8, $9, $10, NULLIF($11, ''), NULLIF($12, ''), NULLIF($13, 0),
			$14, $15, NULLIF($16, ''), NULLIF($17, ''),
			$18, NULLIF($19, '')::uuid, $20, $21)
	`
	_, err := r.pool.Exec(ctx, query,
		j.ID, j.CustomerName, j.CustomerPhone, j.ServiceType, j.Urgency, j.Description,
		j.Address, j.City, j.Latitude, j.Longitude, j.CarMake, j.CarModel, j.CarYear,
		j.Status, j.DepositAmount, j.PaymentIntentID, j.PaymentStatus,
		j.CurrentWave, j.SessionID, j.CreatedAt, j.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("jobs: insert failed: %w", err)
	}
	return nil
}

// GetByID fetches one job.
func (r *Repository) GetByID(ctx context.Context, id string) (*Job, error) {
	query := `SELECT ` + jobColumns + ` FROM jobs WHERE id = $1`
	j, err := scanJob(r.pool.QueryRow(ctx, query, id))
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("jobs: select failed: %w", err)
	}
	return j, nil
}

// ListFilter narrows List results.
type ListFilter struct {
	Status string
	City   string
	Limit  int
	Offset int
}

// List returns jobs matching the filter, newest first.
func (r *Repository) List(ctx context.Context, filter ListFilter) ([]*Job, error) {
	query := `SELECT ` + jobColumns + ` FROM jobs WHERE 1=1`
	args := []any{}
	argIdx := 1

	if filter.Status != "" {
		query += fmt.Sprintf(" AND status = $%d", argIdx)
		args = append(args, filter.Status)
		argIdx++
	}
	if filter.City != "" {
		query += fmt.Sprintf(" AND city = $%d", argIdx)
		args = append(args, filter.City)
		argIdx++
	}

	query += " ORDER BY created_at DESC"
	if filter.Limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", filter.Limit)
	}
	if filter.Offset > 0 {
		query += fmt.Sprintf(" OFFSET %d", filter.Offset)
	}

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("jobs: list failed: %w", err)
	}
	defer rows.Close()

	var out []*Job
	for rows.Next() {
		j, err := scanJob(rows)
		if err != nil {
			return nil, fmt.Errorf("jobs: scan failed: %w", err)
		}
		out = append(out, j)
	}
	return out, rows.Err()
}

// MarkDispatching moves created → dispatching and stamps the dispatch
// start. Loser of the compare-and-swap gets ErrPrecondition.
func (r *Repository) MarkDispatching(ctx context.Context, id string) error {
	query := `
		UPDATE jobs
		SET status = $2, current_wave = 0, dispatch_started_at = $3, updated_at = $3
		WHERE id = $1 AND status = $4
	`
	return r.casUpdate(ctx, query, id, StatusDispatching, time.Now().UTC(), StatusCreated)
}

// AdvanceWave bumps current_wave and moves the job to offered, returning
// the new wave number. Valid from dispatching or offered.
func (r *Repository) AdvanceWave(ctx context.Context, id string) (int, error) {
	query := `
		UPDATE jobs
		SET status = $2, current_wave = current_wave + 1, updated_at = $3
		WHERE id = $1 AND status IN ($4, $5)
		RETURNING current_wave
	`
	var wave int
	err := r.pool.QueryRow(ctx, query, id, StatusOffered, time.Now().UTC(), StatusDispatching, StatusOffered).Scan(&wave)
	if err != nil {
		if err == pgx.ErrNoRows {
			return 0, r.preconditionOrNotFound(ctx, id)
		}
		return 0, fmt.Errorf("jobs: advance wave failed: %w", err)
	}
	return wave, nil
}

// Assign claims the job for a locksmith. Valid only while the job is
// still assignable (dispatching or offered).
func (r *Repository) Assign(ctx context.Context, id, locksmithID string) error {
	now := time.Now().UTC()
	query := `
		UPDATE jobs
		SET status = $2, assigned_locksmith_id = $3, assigned_at = $4, updated_at = $4
		WHERE id = $1 AND status IN ($5, $6)
	`
	tag, err := r.pool.Exec(ctx, query, id, StatusAssigned, locksmithID, now, StatusDispatching, StatusOffered)
	if err != nil {
		return fmt.Errorf("jobs: assign failed: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return r.preconditionOrNotFound(ctx, id)
	}
	return nil
}

// MarkFailed ends dispatch without an assignment.
func (r *Repository) MarkFailed(ctx context.Context, id string) error {
	query := `
		UPDATE jobs
		SET status = $2, updated_at = $3
		WHERE id = $1 AND status IN ($4, $5)
	`
	return r.casUpdate(ctx, query, id, StatusFailed, time.Now().UTC(), StatusDispatching, StatusOffered)
}

// MarkEnRoute moves assigned → en_route.
func (r *Repository) MarkEnRoute(ctx context.Context, id string) error {
	query := `
		UPDATE jobs
		SET status = $2, updated_at = $3
		WHERE id = $1 AND status = $4
	`
	return r.casUpdate(ctx, query, id, StatusEnRoute, time.Now().UTC(), StatusAssigned)
}

// MarkCompleted finishes the job from assigned or en_route.
func (r *Repository) MarkCompleted(ctx context.Context, id string) error {
	now := time.Now().UTC()
	query := `
		UPDATE jobs
		SET status = $2, completed_at = $3, updated_at = $3
		WHERE id = $1 AND status IN ($4, $5)
	`
	return r.casUpdate(ctx, query, id, StatusCompleted, now, StatusAssigned, StatusEnRoute)
}

// Cancel ends the job from any non-terminal status.
func (r *Repository) Cancel(ctx context.Context, id string) error {
	query := `
		UPDATE jobs
		SET status = $2, updated_at = $3
		WHERE id = $1 AND status NOT IN ($4, $5, $6)
	`
	return r.casUpdate(ctx, query, id, StatusCanceled, time.Now().UTC(), StatusCompleted, StatusCanceled, StatusFailed)
}

// ResetForDispatch rewinds a job to created so dispatch can start over.
// Clears the assignment and wave progress.
func (r *Repository) ResetForDispatch(ctx context.Context, id string) error {
	query := `
		UPDATE jobs
		SET status = $2, current_wave = 0, assigned_locksmith_id = NULL,
			assigned_at = NULL, dispatch_started_at = NULL, updated_at = $3
		WHERE id = $1 AND status NOT IN ($4, $5)
	`
	return r.casUpdate(ctx, query, id, StatusCreated, time.Now().UTC(), StatusCompleted, StatusCanceled)
}

// SetRefund records the processed refund on the job.
func (r *Repository) SetRefund(ctx context.Context, id, refundID string, amountCents int64) error {
	query := `
		UPDATE jobs
		SET stripe_refund_id = NULLIF($2, ''), refund_amount = $3, updated_at = $4
		WHERE id = $1
	`
	tag, err := r.pool.Exec(ctx, query, id, refundID, amountCents, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("jobs: set refund failed: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *Repository) casUpdate(ctx context.Context, query string, id string, args ...any) error {
	all := append([]any{id}, args...)
	tag, err := r.pool.Exec(ctx, query, all...)
	if err != nil {
		return fmt.Errorf("jobs: update failed: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return r.preconditionOrNotFound(ctx, id)
	}
	return nil
}

func (r *Repository) preconditionOrNotFound(ctx context.Context, id string) error {
	current, err := r.GetByID(ctx, id)
	if err != nil {
		return err
	}
	return fmt.Errorf("%w: job %s is %s", ErrPrecondition, id, current.Status)
}
