package messaging

import (
	"strings"

	"github.com/keyrush/locksmith-dispatch/internal/pricing"
)

// CommandKind classifies an inbound locksmith SMS.
type CommandKind string

const (
	CommandAccept         CommandKind = "accept"
	CommandDecline        CommandKind = "decline"
	CommandSetAvailable   CommandKind = "set_available"
	CommandSetUnavailable CommandKind = "set_unavailable"
	CommandDeactivate     CommandKind = "deactivate"
	CommandHelp           CommandKind = "help"
	CommandUnknown        CommandKind = "unknown"
)

// Command is the parsed form of an inbound message body.
type Command struct {
	Kind CommandKind
	// PriceCents carries the quoted price for Accept commands like
	// "Y $150". HasPrice distinguishes a bare YES from a zero price.
	PriceCents int64
	HasPrice   bool
	// Raw preserves the original body for audit payloads.
	Raw string
}

// ParseCommand interprets a locksmith's SMS reply. Matching is on the
// first keyword after trimming and uppercasing; the price (if any) is
// extracted from the original body so "$75.50" keeps its cents.
func ParseCommand(body string) Command {
	cmd := Command{Kind: CommandUnknown, Raw: body}

	normalized := strings.ToUpper(strings.TrimSpace(body))
	if normalized == "" {
		return cmd
	}
	keyword := normalized
	if idx := strings.IndexAny(normalized, " \t\n$"); idx >= 0 {
		keyword = normalized[:idx]
	}

	switch keyword {
	case "YES", "Y":
		cmd.Kind = CommandAccept
		if cents, ok := pricing.ParsePriceCents(body); ok {
			cmd.PriceCents = cents
			cmd.HasPrice = true
		}
	case "NO", "N":
		cmd.Kind = CommandDecline
	case "AVAILABLE":
		cmd.Kind = CommandSetAvailable
	case "UNAVAILABLE", "BUSY":
		cmd.Kind = CommandSetUnavailable
	case "STOP", "DEACTIVATE":
		cmd.Kind = CommandDeactivate
	case "HELP":
		cmd.Kind = CommandHelp
	}
	return cmd
}

// HelpText is the reply for the HELP command.
const HelpText = "Commands:\nYES - Accept job\nNO - Decline job\nAVAILABLE - Get job offers\nUNAVAILABLE - Pause offers\nSTOP - Deactivate"
