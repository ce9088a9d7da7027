package messaging

import "testing"

func TestParseCommand(t *testing.T) {
	cases := []struct {
		body     string
		kind     CommandKind
		price    int64
		hasPrice bool
	}{
		{"YES", CommandAccept, 0, false},
		{"y", CommandAccept, 0, false},
		{"Y $150", CommandAccept, 15000, true},
		{"Y $75.50", CommandAccept, 7550, true},
		{"yes 100", CommandAccept, 10000, true},
		{"Y$120", CommandAccept, 12000, true},
		{"NO", CommandDecline, 0, false},
		{"n", CommandDecline, 0, false},
		{"AVAILABLE", CommandSetAvailable, 0, false},
		{"unavailable", CommandSetUnavailable, 0, false},
		{"BUSY", CommandSetUnavailable, 0, false},
		{"STOP", CommandDeactivate, 0, false},
		{"deactivate", CommandDeactivate, 0, false},
		{"HELP", CommandHelp, 0, false},
		{"what is this", CommandUnknown, 0, false},
		{"", CommandUnknown, 0, false},
		{"  yes  ", CommandAccept, 0, false},
	}
	for _, tc := range cases {
		cmd := ParseCommand(tc.body)
		if cmd.Kind != tc.kind {
			t.Errorf("ParseCommand(%q) kind = %v, want %v", tc.body, cmd.Kind, tc.kind)
		}
		if cmd.HasPrice != tc.hasPrice || cmd.PriceCents != tc.price {
			t.Errorf("ParseCommand(%q) price = (%d,%v), want (%d,%v)", tc.body, cmd.PriceCents, cmd.HasPrice, tc.price, tc.hasPrice)
		}
	}
}

func TestParseCommandPreservesRaw(t *testing.T) {
	cmd := ParseCommand("Y $99.99 can be there in 20")
	if cmd.Raw != "Y $99.99 can be there in 20" {
		t.Fatalf("raw body not preserved: %q", cmd.Raw)
	}
	if !cmd.HasPrice || cmd.PriceCents != 9999 {
		t.Fatalf("expected 9999 cents, got %d (has=%v)", cmd.PriceCents, cmd.HasPrice)
	}
}
