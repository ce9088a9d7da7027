package providers

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"math"
	"strings"
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

// Repository persists locksmiths in Postgres.
type Repository struct {
	pool PgxPool
}

// NewRepository initializes a repo backed by pgxpool.
func NewRepository(pool PgxPool) *Repository {
	if pool == nil {
		panic("providers: pgx pool required")
	}
	return &Repository{pool: pool}
}

const locksmithColumns = `
	id, display_name, phone, primary_city,
	supports_home_lockout, supports_car_lockout, supports_rekey, supports_smart_lock,
	is_active, is_available, typical_hours, notes, onboarded_at, updated_at
`

func scanLocksmith(row pgx.Row) (*Locksmith, error) {
	var l Locksmith
	var typicalHours, notes sql.NullString
	err := row.Scan(
		&l.ID, &l.DisplayName, &l.Phone, &l.PrimaryCity,
		&l.SupportsHomeLockout, &l.SupportsCarLockout, &l.SupportsRekey, &l.SupportsSmartLock,
		&l.IsActive, &l.IsAvailable, &typicalHours, &notes, &l.OnboardedAt, &l.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	l.TypicalHours = typicalHours.String
	l.Notes = notes.String
	return &l, nil
}

// Create onboards a locksmith. New accounts start active and available.
func (r *Repository) Create(ctx context.Context, req *CreateRequest) (*Locksmith, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}

	id := uuid.New()
	now := time.Now().UTC()
	query := `
		INSERT INTO locksmiths (
			id, display_name, phone, primary_city,
			supports_home_lockout, supports_car_lockout, supports_rekey, supports_smart_lock,
			is_active, is_available, typical_hours, notes, onboarded_at, updated_at
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, TRUE, TRUE, NULLIF($9, ''), NULLIF($10, ''), $11, $11)
	`
	_, err := r.pool.Exec(ctx, query,
		id,
		req.DisplayName,
		req.Phone,
		req.PrimaryCity,
		req.SupportsHomeLockout,
		req.SupportsCarLockout,
		req.SupportsRekey,
		req.SupportsSmartLock,
		req.TypicalHours,
		req.Notes,
		now,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, ErrPhoneInUse
		}
		return nil, fmt.Errorf("providers: insert failed: %w", err)
	}

	return &Locksmith{
		ID:                  id.String(),
		DisplayName:         req.DisplayName,
		Phone:               req.Phone,
		PrimaryCity:         req.PrimaryCity,
		SupportsHomeLockout: req.SupportsHomeLockout,
		SupportsCarLockout:  req.SupportsCarLockout,
		SupportsRekey:       req.SupportsRekey,
		SupportsSmartLock:   req.SupportsSmartLock,
		IsActive:            true,
		IsAvailable:         true,
		TypicalHours:        req.TypicalHours,
		Notes:               req.Notes,
		OnboardedAt:         now,
		UpdatedAt:           now,
	}, nil
}

// GetByID fetches a locksmith.
func (r *Repository) GetByID(ctx context.Context, id string) (*Locksmith, error) {
	query := `SELECT ` + locksmithColumns + ` FROM locksmiths WHERE id = $1`
	l, err := scanLocksmith(r.pool.QueryRow(ctx, query, id))
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("providers: select failed: %w", err)
	}
	return l, nil
}

// GetByPhone resolves an inbound SMS sender to a locksmith.
func (r *Repository) GetByPhone(ctx context.Context, phone string) (*Locksmith, error) {
	query := `SELECT ` + locksmithColumns + ` FROM locksmiths WHERE phone = $1`
	l, err := scanLocksmith(r.pool.QueryRow(ctx, query, phone))
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("providers: select by phone failed: %w", err)
	}
	return l, nil
}

// ListFilter narrows List results.
type ListFilter struct {
	City          string
	ActiveOnly    bool
	AvailableOnly bool
	Limit         int
	Offset        int
}

// List returns locksmiths matching the filter, newest first.
func (r *Repository) List(ctx context.Context, filter ListFilter) ([]*Locksmith, error) {
	query := `SELECT ` + locksmithColumns + ` FROM locksmiths WHERE 1=1`
	args := []any{}
	argIdx := 1

	if filter.City != "" {
		query += fmt.Sprintf(" AND primary_city = $%d", argIdx)
		args = append(args, filter.City)
		argIdx++
	}
	if filter.ActiveOnly {
		query += " AND is_active"
	}
	if filter.AvailableOnly {
		query += " AND is_available"
	}

	query += " ORDER BY onboarded_at DESC"
	if filter.Limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", filter.Limit)
	}
	if filter.Offset > 0 {
		query += fmt.Sprintf(" OFFSET %d", filter.Offset)
	}

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("providers: list failed: %w", err)
	}
	defer rows.Close()

	var out []*Locksmith
	for rows.Next() {
		l, err := scanLocksmith(rows)
		if err != nil {
			return nil, fmt.Errorf("providers: scan failed: %w", err)
		}
		out = append(out, l)
	}
	return out, rows.Err()
}

// Update patches the given fields and returns the fresh row.
func (r *Repository) Update(ctx context.Context, id string, req *UpdateRequest) (*Locksmith, error) {
	sets := []string{"updated_at = $1"}
	args := []any{time.Now().UTC()}
	argIdx := 2

	set := func(column string, value any) {
		sets = append(sets, fmt.Sprintf("%s = $%d", column, argIdx))
		args = append(args, value)
		argIdx++
	}

	if req.DisplayName != nil {
		set("display_name", *req.DisplayName)
	}
	if req.Phone != nil {
		set("phone", *req.Phone)
	}
	if req.PrimaryCity != nil {
		set("primary_city", *req.PrimaryCity)
	}
	if req.SupportsHomeLockout != nil {
		set("supports_home_lockout", *req.SupportsHomeLockout)
	}
	if req.SupportsCarLockout != nil {
		set("supports_car_lockout", *req.SupportsCarLockout)
	}
	if req.SupportsRekey != nil {
		set("supports_rekey", *req.SupportsRekey)
	}
	if req.SupportsSmartLock != nil {
		set("supports_smart_lock", *req.SupportsSmartLock)
	}
	if req.TypicalHours != nil {
		set("typical_hours", *req.TypicalHours)
	}
	if req.Notes != nil {
		set("notes", *req.Notes)
	}

	query := fmt.Sprintf(
		`UPDATE locksmiths SET %s WHERE id = $%d RETURNING `+locksmithColumns,
		strings.Join(sets, ", "), argIdx,
	)
	args = append(args, id)

	l, err := scanLocksmith(r.pool.QueryRow(ctx, query, args...))
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, ErrNotFound
		}
		if isUniqueViolation(err) {
			return nil, ErrPhoneInUse
		}
		return nil, fmt.Errorf("providers: update failed: %w", err)
	}
	return l, nil
}

// ToggleActive flips is_active and returns the new state. Deactivation
// also clears is_available so an inactive locksmith never receives offers.
func (r *Repository) ToggleActive(ctx context.Context, id string) (bool, error) {
	query := `
		UPDATE locksmiths
		SET is_active = NOT is_active,
			is_available = CASE WHEN is_active THEN FALSE ELSE is_available END,
			updated_at = $2
		WHERE id = $1
		RETURNING is_active
	`
	var active bool
	if err := r.pool.QueryRow(ctx, query, id, time.Now().UTC()).Scan(&active); err != nil {
		if err == pgx.ErrNoRows {
			return false, ErrNotFound
		}
		return false, fmt.Errorf("providers: toggle active failed: %w", err)
	}
	return active, nil
}

// ToggleAvailable flips is_available and returns the new state. Inactive
// accounts cannot be made available.
func (r *Repository) ToggleAvailable(ctx context.Context, id string) (bool, error) {
	query := `
		UPDATE locksmiths
		SET is_available = NOT is_available, updated_at = $2
		WHERE id = $1 AND is_active
		RETURNING is_available
	`
	var available bool
	if err := r.pool.QueryRow(ctx, query, id, time.Now().UTC()).Scan(&available); err != nil {
		if err == pgx.ErrNoRows {
			// Distinguish missing from inactive for the caller's reply.
			if _, getErr := r.GetByID(ctx, id); getErr != nil {
				return false, getErr
			}
			return false, ErrInactive
		}
		return false, fmt.Errorf("providers: toggle available failed: %w", err)
	}
	return available, nil
}

// SetAvailability sets is_available for an active locksmith. Used by the
// AVAILABLE / UNAVAILABLE SMS commands.
func (r *Repository) SetAvailability(ctx context.Context, id string, available bool) error {
	query := `
		UPDATE locksmiths
		SET is_available = $2, updated_at = $3
		WHERE id = $1 AND is_active
	`
	tag, err := r.pool.Exec(ctx, query, id, available, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("providers: set availability failed: %w", err)
	}
	if tag.RowsAffected() == 0 {
		if _, getErr := r.GetByID(ctx, id); getErr != nil {
			return getErr
		}
		return ErrInactive
	}
	return nil
}

// Deactivate turns the account off entirely (the STOP command). It also
// clears availability so eligibility queries need only check both flags.
func (r *Repository) Deactivate(ctx context.Context, id string) error {
	query := `
		UPDATE locksmiths
		SET is_active = FALSE, is_available = FALSE, updated_at = $2
		WHERE id = $1
	`
	tag, err := r.pool.Exec(ctx, query, id, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("providers: deactivate failed: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// FindAvailableForJob returns up to limit active+available locksmiths in
// the city supporting the service type, excluding already-contacted ids.
// Ordering is oldest-onboarded first so tenured providers see work first.
func (r *Repository) FindAvailableForJob(ctx context.Context, city, serviceType string, excludeIDs []string, limit int) ([]*Locksmith, error) {
	column, err := capabilityColumn(serviceType)
	if err != nil {
		return nil, err
	}

	query := `SELECT ` + locksmithColumns + `
		FROM locksmiths
		WHERE is_active AND is_available
			AND primary_city = $1
			AND ` + column
	args := []any{city}
	argIdx := 2

	if len(excludeIDs) > 0 {
		query += fmt.Sprintf(" AND NOT (id = ANY($%d))", argIdx)
		args = append(args, excludeIDs)
		argIdx++
	}

	query += " ORDER BY onboarded_at ASC"
	if limit > 0 {
		query += fmt.Sprintf(" LIMIT $%d", argIdx)
		args = append(args, limit)
	}

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("providers: find available failed: %w", err)
	}
	defer rows.Close()

	var out []*Locksmith
	for rows.Next() {
		l, err := scanLocksmith(rows)
		if err != nil {
			return nil, fmt.Errorf("providers: scan failed: %w", err)
		}
		out = append(out, l)
	}
	return out, rows.Err()
}

// Stats aggregates offer and job counts for one locksmith. The acceptance
// rate is accepted offers over all offers, as a percentage rounded to one
// decimal place.
func (r *Repository) Stats(ctx context.Context, id string) (*Stats, error) {
	if _, err := r.GetByID(ctx, id); err != nil {
		return nil, err
	}

	query := `
		SELECT
			(SELECT COUNT(*) FROM job_offers WHERE locksmith_id = $1),
			(SELECT COUNT(*) FROM job_offers WHERE locksmith_id = $1 AND status = 'accepted'),
			(SELECT COUNT(*) FROM job_offers WHERE locksmith_id = $1 AND status = 'declined'),
			(SELECT COUNT(*) FROM jobs WHERE assigned_locksmith_id = $1),
			(SELECT COUNT(*) FROM jobs WHERE assigned_locksmith_id = $1 AND status = 'completed')
	`
	var s Stats
	err := r.pool.QueryRow(ctx, query, id).Scan(
		&s.TotalOffers, &s.AcceptedOffers, &s.DeclinedOffers, &s.TotalJobs, &s.CompletedJobs,
	)
	if err != nil {
		return nil, fmt.Errorf("providers: stats failed: %w", err)
	}
	if s.TotalOffers > 0 {
		s.AcceptanceRate = math.Round(float64(s.AcceptedOffers)/float64(s.TotalOffers)*1000) / 10
	}
	return &s, nil
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505"
	}
	return false
}
