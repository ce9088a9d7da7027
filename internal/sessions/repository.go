package sessions

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
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

// Repository persists request sessions.
type Repository struct {
	pool PgxPool
}

// NewRepository initializes a repo backed by pgxpool.
func NewRepository(pool PgxPool) *Repository {
	if pool == nil {
		panic("sessions: pgx pool required")
	}
	return &Repository{pool: pool}
}

const sessionColumns = `
	id, status, customer_name, customer_phone, customer_email,
	address, city, latitude, longitude, is_in_service_area,
	service_type, urgency, description, deposit_amount,
	car_make, car_model, car_year, stripe_payment_intent_id, step_reached,
	user_agent, ip_address, referrer, utm_params,
	created_at, updated_at, completed_at
`

func scanSession(row pgx.Row) (*Session, error) {
	var s Session
	var name, phone, email, address, city, serviceType, urgency, description sql.NullString
	var carMake, carModel, intentID, userAgent, ipAddress, referrer sql.NullString
	var lat, lng sql.NullFloat64
	var inArea sql.NullBool
	var deposit, carYear sql.NullInt64
	var utm []byte
	var completedAt sql.NullTime
	err := row.Scan(
		&s.ID, &s.Status, &name, &phone, &email,
		&address, &city, &lat, &lng, &inArea,
		&serviceType, &urgency, &description, &deposit,
		&carMake, &carModel, &carYear, &intentID, &s.StepReached,
		&userAgent, &ipAddress, &referrer, &utm,
		&s.CreatedAt, &s.UpdatedAt, &completedAt,
	)
	if err != nil {
		return nil, err
	}
	s.CustomerName = name.String
	s.CustomerPhone = phone.String
	s.CustomerEmail = email.String
	s.Address = address.String
	s.City = city.String
	if lat.Valid {
		v := lat.Float64
		s.Latitude = &v
	}
	if lng.Valid {
		v := lng.Float64
		s.Longitude = &v
	}
	if inArea.Valid {
		v := inArea.Bool
		s.IsInServiceArea = &v
	}
	s.ServiceType = serviceType.String
	s.Urgency = urgency.String
	s.Description = description.String
	s.DepositAmount = deposit.Int64
	s.CarMake = carMake.String
	s.CarModel = carModel.String
	s.CarYear = int(carYear.Int64)
	s.PaymentIntentID = intentID.String
	s.UserAgent = userAgent.String
	s.IPAddress = ipAddress.String
	s.Referrer = referrer.String
	if len(utm) > 0 {
		_ = json.Unmarshal(utm, &s.UTMParams)
	}
	if completedAt.Valid {
		t := completedAt.Time
		s.CompletedAt = &t
	}
	return &s, nil
}

// Telemetry captures request metadata at session creation.
type Telemetry struct {
	UserAgent string
	IPAddress string
	Referrer  string
	UTMParams map[string]string
}

// Create inserts a session in the started status.
func (r *Repository) Create(ctx context.Context, meta Telemetry) (*Session, error) {
	id := uuid.NewString()
	now := time.Now().UTC()

	var utm []byte
	if len(meta.UTMParams) > 0 {
		var err error
		utm, err = json.Marshal(meta.UTMParams)
		if err != nil {
			return nil, fmt.Errorf("sessions: encode utm params: %w", err)
		}
	}

	query := `
		INSERT INTO request_sessions (
			id, status, step_reached, user_agent, ip_address, referrer, utm_params,
			created_at, updated_at
		)
		VALUES ($1, $2, 1, NULLIF($3, ''), NULLIF($4, ''), NULLIF($5, ''), $6, $7, $7)
	`
	_, err := r.pool.Exec(ctx, query, id, StatusStarted, meta.UserAgent, meta.IPAddress, meta.Referrer, utm, now)
	if err != nil {
		return nil, fmt.Errorf("sessions: insert failed: %w", err)
	}

	return &Session{
		ID:          id,
		Status:      StatusStarted,
		StepReached: 1,
		UserAgent:   meta.UserAgent,
		IPAddress:   meta.IPAddress,
		Referrer:    meta.Referrer,
		UTMParams:   meta.UTMParams,
		CreatedAt:   now,
		UpdatedAt:   now,
	}, nil
}

// GetByID fetches one session.
func (r *Repository) GetByID(ctx context.Context, id string) (*Session, error) {
	query := `SELECT ` + sessionColumns + ` FROM request_sessions WHERE id = $1`
	s, err := scanSession(r.pool.QueryRow(ctx, query, id))
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("sessions: select failed: %w", err)
	}
	return s, nil
}

// ListFilter narrows List results for the admin console.
type ListFilter struct {
	Status        string
	CreatedAfter  time.Time
	CreatedBefore time.Time
	Limit         int
	Offset        int
}

// List returns sessions matching the filter, newest first.
func (r *Repository) List(ctx context.Context, filter ListFilter) ([]*Session, error) {
	query := `SELECT ` + sessionColumns + ` FROM request_sessions WHERE 1=1`
	args := []any{}
	argIdx := 1

	if filter.Status != "" {
		query += fmt.Sprintf(" AND status = $%d", argIdx)
		args = append(args, filter.Status)
		argIdx++
	}
	if !filter.CreatedAfter.IsZero() {
		query += fmt.Sprintf(" AND created_at >= $%d", argIdx)
		args = append(args, filter.CreatedAfter)
		argIdx++
	}
	if !filter.CreatedBefore.IsZero() {
		query += fmt.Sprintf(" AND created_at <= $%d", argIdx)
		args = append(args, filter.CreatedBefore)
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
		return nil, fmt.Errorf("sessions: list failed: %w", err)
	}
	defer rows.Close()

	var out []*Session
	for rows.Next() {
		s, err := scanSession(rows)
		if err != nil {
			return nil, fmt.Errorf("sessions: scan failed: %w", err)
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

// LocationUpdate carries the step-1 write.
type LocationUpdate struct {
	CustomerName  string
	CustomerPhone string
	CustomerEmail string
	Address       string
	City          string
	Latitude      *float64
	Longitude     *float64
	InServiceArea bool
	NewStatus     string
}

// ApplyLocation writes customer identity + location. CAS from started
// or location_rejected (rejected sessions may retry with a new address).
func (r *Repository) ApplyLocation(ctx context.Context, id string, upd LocationUpdate) error {
	query := `
		UPDATE request_sessions
		SET status = $2, customer_name = $3, customer_phone = $4, customer_email = NULLIF($5, ''),
			address = NULLIF($6, ''), city = NULLIF($7, ''), latitude = $8, longitude = $9,
			is_in_service_area = $10, updated_at = $11
		WHERE id = $1 AND status IN ($12, $13)
	`
	tag, err := r.pool.Exec(ctx, query,
		id, upd.NewStatus, upd.CustomerName, upd.CustomerPhone, upd.CustomerEmail,
		upd.Address, upd.City, upd.Latitude, upd.Longitude,
		upd.InServiceArea, time.Now().UTC(), StatusStarted, StatusLocationRejected,
	)
	if err != nil {
		return fmt.Errorf("sessions: apply location failed: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return r.preconditionOrNotFound(ctx, id)
	}
	return nil
}

// ServiceUpdate carries the step-2 write.
type ServiceUpdate struct {
	ServiceType   string
	Urgency       string
	Description   string
	DepositAmount int64
	CarMake       string
	CarModel      string
	CarYear       int
	NewStatus     string
}

// ApplyService writes the service selection. CAS from location_validated.
func (r *Repository) ApplyService(ctx context.Context, id string, upd ServiceUpdate) error {
	query := `
		UPDATE request_sessions
		SET status = $2, service_type = $3, urgency = $4, description = NULLIF($5, ''),
			deposit_amount = $6, car_make = NULLIF($7, ''), car_model = NULLIF($8, ''),
			car_year = NULLIF($9, 0), step_reached = 2, updated_at = $10
		WHERE id = $1 AND status = $11
	`
	tag, err := r.pool.Exec(ctx, query,
		id, upd.NewStatus, upd.ServiceType, upd.Urgency, upd.Description,
		upd.DepositAmount, upd.CarMake, upd.CarModel, upd.CarYear,
		time.Now().UTC(), StatusLocationValidated,
	)
	if err != nil {
		return fmt.Errorf("sessions: apply service failed: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return r.preconditionOrNotFound(ctx, id)
	}
	return nil
}

// ApplyPaymentIntent stores the created intent and moves the session to
// payment_pending. CAS from pending_approval or service_selected.
func (r *Repository) ApplyPaymentIntent(ctx context.Context, id, intentID string) error {
	query := `
		UPDATE request_sessions
		SET status = $2, stripe_payment_intent_id = $3, step_reached = 3, updated_at = $4
		WHERE id = $1 AND status IN ($5, $6)
	`
	tag, err := r.pool.Exec(ctx, query,
		id, StatusPaymentPending, intentID, time.Now().UTC(),
		StatusPendingApproval, StatusServiceSelected,
	)
	if err != nil {
		return fmt.Errorf("sessions: apply payment intent failed: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return r.preconditionOrNotFound(ctx, id)
	}
	return nil
}

// CompletePayment moves payment_pending → payment_completed and stamps
// completed_at.
func (r *Repository) CompletePayment(ctx context.Context, id string) error {
	now := time.Now().UTC()
	query := `
		UPDATE request_sessions
		SET status = $2, completed_at = $3, updated_at = $3
		WHERE id = $1 AND status = $4
	`
	tag, err := r.pool.Exec(ctx, query, id, StatusPaymentCompleted, now, StatusPaymentPending)
	if err != nil {
		return fmt.Errorf("sessions: complete payment failed: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return r.preconditionOrNotFound(ctx, id)
	}
	return nil
}

// AbandonStale demotes non-terminal sessions idle past the cutoff and
// returns their ids.
func (r *Repository) AbandonStale(ctx context.Context, olderThan time.Duration) ([]string, error) {
	cutoff := time.Now().UTC().Add(-olderThan)
	query := `
		UPDATE request_sessions
		SET status = $1, updated_at = $2
		WHERE status NOT IN ($3, $4) AND updated_at < $5
		RETURNING id
	`
	rows, err := r.pool.Query(ctx, query, StatusAbandoned, time.Now().UTC(), StatusPaymentCompleted, StatusAbandoned, cutoff)
	if err != nil {
		return nil, fmt.Errorf("sessions: abandon stale failed: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("sessions: scan abandoned id: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// FunnelCounts returns session counts per status for the admin stats
// endpoint.
func (r *Repository) FunnelCounts(ctx context.Context) (map[string]int, error) {
	query := `
		SELECT status, COUNT(*)
		FROM request_sessions
		GROUP BY status
	`
	rows, err := r.pool.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("sessions: funnel counts failed: %w", err)
	}
	defer rows.Close()

	counts := map[string]int{}
	for rows.Next() {
		var status string
		var count int
		if err := rows.Scan(&status, &count); err != nil {
			return nil, fmt.Errorf("sessions: scan funnel count: %w", err)
		}
		counts[status] = count
	}
	return counts, rows.Err()
}

func (r *Repository) preconditionOrNotFound(ctx context.Context, id string) error {
	current, err := r.GetByID(ctx, id)
	if err != nil {
		return err
	}
	return fmt.Errorf("%w: session %s is %s", ErrPrecondition, id, current.Status)
}
