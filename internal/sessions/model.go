// Package sessions drives the customer request funnel: a small state
// machine from first page load through location validation, service
// selection and deposit payment.
package sessions

import (
	"errors"
	"time"
)

// Session statuses. Transitions are guarded by compare-and-swap updates
// so two requests can never advance the same session twice.
const (
	StatusStarted           = "started"
	StatusLocationValidated = "location_validated"
	StatusLocationRejected  = "location_rejected"
	StatusServiceSelected   = "service_selected"
	StatusPendingApproval   = "pending_approval"
	StatusPaymentPending    = "payment_pending"
	StatusPaymentCompleted  = "payment_completed"
	StatusAbandoned         = "abandoned"
)

var (
	// ErrNotFound is returned when no session matches the lookup.
	ErrNotFound = errors.New("sessions: session not found")
	// ErrPrecondition is returned when the session is not in a status
	// that allows the transition.
	ErrPrecondition = errors.New("sessions: status precondition failed")
	// ErrValidation is returned for bad funnel input.
	ErrValidation = errors.New("sessions: validation failed")
)

// OutOfAreaMessage is shown to customers outside the service area.
const OutOfAreaMessage = "Sorry, we don't currently service your area. We're expanding soon!"

// Session is one customer's pass through the request funnel.
type Session struct {
	ID     string `json:"id"`
	Status string `json:"status"`

	CustomerName  string `json:"customer_name,omitempty"`
	CustomerPhone string `json:"customer_phone,omitempty"`
	CustomerEmail string `json:"customer_email,omitempty"`

	Address         string   `json:"address,omitempty"`
	City            string   `json:"city,omitempty"`
	Latitude        *float64 `json:"latitude,omitempty"`
	Longitude       *float64 `json:"longitude,omitempty"`
	IsInServiceArea *bool    `json:"is_in_service_area,omitempty"`

	ServiceType   string `json:"service_type,omitempty"`
	Urgency       string `json:"urgency,omitempty"`
	Description   string `json:"description,omitempty"`
	DepositAmount int64  `json:"deposit_amount,omitempty"`

	CarMake  string `json:"car_make,omitempty"`
	CarModel string `json:"car_model,omitempty"`
	CarYear  int    `json:"car_year,omitempty"`

	PaymentIntentID string `json:"payment_intent_id,omitempty"`
	StepReached     int    `json:"step_reached"`

	UserAgent string `json:"user_agent,omitempty"`
	IPAddress string `json:"ip_address,omitempty"`
	Referrer  string `json:"referrer,omitempty"`
	UTMParams map[string]string `json:"utm_params,omitempty"`

	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}

// Terminal reports whether the session can no longer advance.
func (s *Session) Terminal() bool {
	return s.Status == StatusPaymentCompleted || s.Status == StatusAbandoned
}
