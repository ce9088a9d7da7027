// Package providers manages the locksmith roster: onboarding, capability
// flags, active/available switches and eligibility queries used by the
// dispatcher.
package providers

import (
	"fmt"
	"strings"
	"time"
)

// Locksmith is a vetted provider reachable over SMS.
type Locksmith struct {
	ID                  string     `json:"id"`
	DisplayName         string     `json:"display_name"`
	Phone               string     `json:"phone"`
	PrimaryCity         string     `json:"primary_city"`
	SupportsHomeLockout bool       `json:"supports_home_lockout"`
	SupportsCarLockout  bool       `json:"supports_car_lockout"`
	SupportsRekey       bool       `json:"supports_rekey"`
	SupportsSmartLock   bool       `json:"supports_smart_lock"`
	IsActive            bool       `json:"is_active"`
	IsAvailable         bool       `json:"is_available"`
	TypicalHours        string     `json:"typical_hours,omitempty"`
	Notes               string     `json:"notes,omitempty"`
	OnboardedAt         time.Time  `json:"onboarded_at"`
	UpdatedAt           time.Time  `json:"updated_at"`
}

// Supports reports whether the locksmith handles the given service type.
func (l *Locksmith) Supports(serviceType string) bool {
	switch serviceType {
	case "home_lockout":
		return l.SupportsHomeLockout
	case "car_lockout":
		return l.SupportsCarLockout
	case "rekey":
		return l.SupportsRekey
	case "smart_lock":
		return l.SupportsSmartLock
	default:
		return false
	}
}

// capabilityColumn maps a service type to its whitelisted capability column.
// Returning the column name from a fixed map keeps the dynamic SQL safe.
func capabilityColumn(serviceType string) (string, error) {
	switch serviceType {
	case "home_lockout":
		return "supports_home_lockout", nil
	case "car_lockout":
		return "supports_car_lockout", nil
	case "rekey":
		return "supports_rekey", nil
	case "smart_lock":
		return "supports_smart_lock", nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnknownService, serviceType)
	}
}

// CreateRequest carries the fields for onboarding a locksmith.
type CreateRequest struct {
	DisplayName         string `json:"display_name"`
	Phone               string `json:"phone"`
	PrimaryCity         string `json:"primary_city"`
	SupportsHomeLockout bool   `json:"supports_home_lockout"`
	SupportsCarLockout  bool   `json:"supports_car_lockout"`
	SupportsRekey       bool   `json:"supports_rekey"`
	SupportsSmartLock   bool   `json:"supports_smart_lock"`
	TypicalHours        string `json:"typical_hours"`
	Notes               string `json:"notes"`
}

// Validate checks required fields.
func (r *CreateRequest) Validate() error {
	if strings.TrimSpace(r.DisplayName) == "" {
		return fmt.Errorf("providers: display_name is required")
	}
	if strings.TrimSpace(r.Phone) == "" {
		return fmt.Errorf("providers: phone is required")
	}
	if strings.TrimSpace(r.PrimaryCity) == "" {
		return fmt.Errorf("providers: primary_city is required")
	}
	return nil
}

// UpdateRequest patches a locksmith. Nil fields are left unchanged.
type UpdateRequest struct {
	DisplayName         *string `json:"display_name,omitempty"`
	Phone               *string `json:"phone,omitempty"`
	PrimaryCity         *string `json:"primary_city,omitempty"`
	SupportsHomeLockout *bool   `json:"supports_home_lockout,omitempty"`
	SupportsCarLockout  *bool   `json:"supports_car_lockout,omitempty"`
	SupportsRekey       *bool   `json:"supports_rekey,omitempty"`
	SupportsSmartLock   *bool   `json:"supports_smart_lock,omitempty"`
	TypicalHours        *string `json:"typical_hours,omitempty"`
	Notes               *string `json:"notes,omitempty"`
}

// Stats summarizes a locksmith's offer and job history for the admin
// console.
type Stats struct {
	TotalOffers    int     `json:"total_offers"`
	AcceptedOffers int     `json:"accepted_offers"`
	DeclinedOffers int     `json:"declined_offers"`
	TotalJobs      int     `json:"total_jobs"`
	CompletedJobs  int     `json:"completed_jobs"`
	AcceptanceRate float64 `json:"acceptance_rate"`
}
