// Package jobs owns the paid work order: the snapshot taken from a
// completed request session, its dispatch lifecycle, and the admin
// operations that override it.
package jobs

import (
	"errors"
	"time"
)

// Job statuses.
const (
	StatusCreated     = "created"
	StatusDispatching = "dispatching"
	StatusOffered     = "offered"
	StatusAssigned    = "assigned"
	StatusEnRoute     = "en_route"
	StatusCompleted   = "completed"
	StatusCanceled    = "canceled"
	StatusFailed      = "failed"
)

var (
	// ErrNotFound is returned when no job matches the lookup.
	ErrNotFound = errors.New("jobs: job not found")
	// ErrPrecondition is returned when the job is not in a status that
	// allows the operation.
	ErrPrecondition = errors.New("jobs: status precondition failed")
	// ErrNoIntent is returned when a refund is requested for a job that
	// never had a payment intent.
	ErrNoIntent = errors.New("jobs: no payment intent on job")
)

// Job is the immutable customer/location/service snapshot plus the
// mutable dispatch state.
type Job struct {
	ID            string  `json:"id"`
	CustomerName  string  `json:"customer_name"`
	CustomerPhone string  `json:"customer_phone"`
	ServiceType   string  `json:"service_type"`
	Urgency       string  `json:"urgency"`
	Description   string  `json:"description,omitempty"`
	Address       string  `json:"address"`
	City          string  `json:"city"`
	Latitude      float64 `json:"latitude,omitempty"`
	Longitude     float64 `json:"longitude,omitempty"`
	CarMake       string  `json:"car_make,omitempty"`
	CarModel      string  `json:"car_model,omitempty"`
	CarYear       int     `json:"car_year,omitempty"`

	Status          string `json:"status"`
	DepositAmount   int64  `json:"deposit_amount"`
	PaymentIntentID string `json:"payment_intent_id,omitempty"`
	PaymentStatus   string `json:"payment_status,omitempty"`
	RefundAmount    int64  `json:"refund_amount,omitempty"`
	RefundID        string `json:"refund_id,omitempty"`

	AssignedLocksmithID string     `json:"assigned_locksmith_id,omitempty"`
	AssignedAt          *time.Time `json:"assigned_at,omitempty"`
	CurrentWave         int        `json:"current_wave"`
	DispatchStartedAt   *time.Time `json:"dispatch_started_at,omitempty"`

	SessionID   string     `json:"session_id,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}

// Assignable reports whether the job can still be claimed by a
// locksmith.
func (j *Job) Assignable() bool {
	return j.Status == StatusDispatching || j.Status == StatusOffered
}
