// Package pricing holds the deposit schedule and money helpers. All
// amounts are integer cents; decimal arithmetic keeps surcharge and
// price-reply conversion exact.
package pricing

import (
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/shopspring/decimal"
)

// Service types offered on the marketplace.
const (
	ServiceHomeLockout = "home_lockout"
	ServiceCarLockout  = "car_lockout"
	ServiceRekey       = "rekey"
	ServiceSmartLock   = "smart_lock"
)

// Urgency levels.
const (
	UrgencyStandard  = "standard"
	UrgencyEmergency = "emergency"
)

var (
	ErrUnknownServiceType = errors.New("pricing: unknown service type")
	ErrUnknownUrgency     = errors.New("pricing: unknown urgency")
)

var emergencyMultiplier = decimal.NewFromFloat(1.5)

// priceRe extracts the first dollar figure from a provider reply, e.g.
// "Y $75.00", "y 75", "YES $ 120.50".
var priceRe = regexp.MustCompile(`\$?\s*(\d+(?:\.\d{2})?)`)

// serviceNames maps service types to their human-readable form used in SMS.
var serviceNames = map[string]string{
	ServiceHomeLockout: "Home Lockout",
	ServiceCarLockout:  "Car Lockout",
	ServiceRekey:       "Rekey",
	ServiceSmartLock:   "Smart Lock",
}

// ValidServiceType reports whether s is one of the offered services.
func ValidServiceType(s string) bool {
	_, ok := serviceNames[s]
	return ok
}

// ValidUrgency reports whether u is a known urgency level.
func ValidUrgency(u string) bool {
	return u == UrgencyStandard || u == UrgencyEmergency
}

// ServiceName returns the display name for a service type ("Home Lockout").
func ServiceName(serviceType string) string {
	if name, ok := serviceNames[serviceType]; ok {
		return name
	}
	return serviceType
}

// DepositCents computes the deposit for a request: the base amount for the
// service type, times 1.5 for emergencies, rounded to whole cents.
func DepositCents(base map[string]int64, serviceType, urgency string) (int64, error) {
	amount, ok := base[serviceType]
	if !ok {
		return 0, fmt.Errorf("%w: %q", ErrUnknownServiceType, serviceType)
	}
	switch urgency {
	case UrgencyStandard:
		return amount, nil
	case UrgencyEmergency:
		surcharged := decimal.NewFromInt(amount).Mul(emergencyMultiplier).Round(0)
		return surcharged.IntPart(), nil
	default:
		return 0, fmt.Errorf("%w: %q", ErrUnknownUrgency, urgency)
	}
}

// ParsePriceCents extracts a quoted price from a raw SMS body and returns
// it in cents. The second return is false when no parsable figure exists.
func ParsePriceCents(body string) (int64, bool) {
	match := priceRe.FindStringSubmatch(body)
	if match == nil {
		return 0, false
	}
	value, err := decimal.NewFromString(match[1])
	if err != nil {
		return 0, false
	}
	cents := value.Mul(decimal.NewFromInt(100)).Round(0)
	if cents.Sign() <= 0 {
		return 0, false
	}
	return cents.IntPart(), true
}

// FormatCents renders integer cents as a dollar display string, "$75.00".
func FormatCents(cents int64) string {
	return "$" + decimal.NewFromInt(cents).Div(decimal.NewFromInt(100)).StringFixed(2)
}

// UrgencyLabel renders the urgency for offer SMS bodies ("EMERGENCY" or
// "Standard").
func UrgencyLabel(urgency string) string {
	if strings.EqualFold(urgency, UrgencyEmergency) {
		return "EMERGENCY"
	}
	return "Standard"
}
