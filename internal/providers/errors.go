package providers

import "errors"

var (
	// ErrNotFound is returned when no locksmith matches the lookup.
	ErrNotFound = errors.New("providers: locksmith not found")

	// ErrPhoneInUse is returned on create/update when the phone number is
	// already registered to another locksmith.
	ErrPhoneInUse = errors.New("providers: phone already registered")

	// ErrInactive is returned when an operation requires an active account.
	ErrInactive = errors.New("providers: locksmith is inactive")

	// ErrUnknownService is returned when a service type has no capability
	// column.
	ErrUnknownService = errors.New("providers: unknown service type")
)
