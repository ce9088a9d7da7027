package pricing

import (
	"errors"
	"testing"
)

var testBase = map[string]int64{
	ServiceHomeLockout: 4900,
	ServiceCarLockout:  5900,
	ServiceRekey:       7900,
	ServiceSmartLock:   9900,
}

func TestDepositCentsStandard(t *testing.T) {
	for service, want := range testBase {
		got, err := DepositCents(testBase, service, UrgencyStandard)
		if err != nil {
			t.Fatalf("%s: %v", service, err)
		}
		if got != want {
			t.Fatalf("%s: expected %d, got %d", service, want, got)
		}
	}
}

func TestDepositCentsEmergencySurcharge(t *testing.T) {
	tests := []struct {
		service string
		want    int64
	}{
		{ServiceHomeLockout, 7350},
		{ServiceCarLockout, 8850},
		{ServiceRekey, 11850},
		{ServiceSmartLock, 14850},
	}
	for _, tt := range tests {
		got, err := DepositCents(testBase, tt.service, UrgencyEmergency)
		if err != nil {
			t.Fatalf("%s: %v", tt.service, err)
		}
		if got != tt.want {
			t.Fatalf("%s emergency: expected %d, got %d", tt.service, tt.want, got)
		}
	}
}

func TestDepositCentsRejectsUnknowns(t *testing.T) {
	if _, err := DepositCents(testBase, "safe_cracking", UrgencyStandard); !errors.Is(err, ErrUnknownServiceType) {
		t.Fatalf("expected ErrUnknownServiceType, got %v", err)
	}
	if _, err := DepositCents(testBase, ServiceRekey, "yesterday"); !errors.Is(err, ErrUnknownUrgency) {
		t.Fatalf("expected ErrUnknownUrgency, got %v", err)
	}
}

func TestParsePriceCents(t *testing.T) {
	tests := []struct {
		body string
		want int64
		ok   bool
	}{
		{"Y $75.00", 7500, true},
		{"y 75", 7500, true},
		{"YES $ 120.50", 12050, true},
		{"Y $100", 10000, true},
		{"Y", 0, false},
		{"no price here", 0, false},
		{"Y $0", 0, false},
	}
	for _, tt := range tests {
		got, ok := ParsePriceCents(tt.body)
		if ok != tt.ok {
			t.Fatalf("%q: expected ok=%v, got %v", tt.body, tt.ok, ok)
		}
		if got != tt.want {
			t.Fatalf("%q: expected %d cents, got %d", tt.body, tt.want, got)
		}
	}
}

func TestFormatCents(t *testing.T) {
	tests := []struct {
		cents int64
		want  string
	}{
		{7500, "$75.00"},
		{14850, "$148.50"},
		{5, "$0.05"},
		{0, "$0.00"},
	}
	for _, tt := range tests {
		if got := FormatCents(tt.cents); got != tt.want {
			t.Fatalf("%d: expected %s, got %s", tt.cents, tt.want, got)
		}
	}
}

func TestUrgencyLabel(t *testing.T) {
	if got := UrgencyLabel(UrgencyEmergency); got != "EMERGENCY" {
		t.Fatalf("expected EMERGENCY, got %s", got)
	}
	if got := UrgencyLabel(UrgencyStandard); got != "Standard" {
		t.Fatalf("expected Standard, got %s", got)
	}
}
