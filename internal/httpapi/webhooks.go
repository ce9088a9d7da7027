package httpapi

import (
	"context"
	"errors"
	"net/http"

	"github.com/keyrush/locksmith-dispatch/internal/audit"
	"github.com/keyrush/locksmith-dispatch/internal/messaging"
	"github.com/keyrush/locksmith-dispatch/internal/observability/metrics"
	"github.com/keyrush/locksmith-dispatch/internal/providers"
	"github.com/keyrush/locksmith-dispatch/pkg/logging"
)

// Webhook replies for provider self-service commands.
const (
	ReplyUnknownSender  = "This number isn't registered with us. Goodbye!"
	ReplyUnsubscribed   = "You have been unsubscribed. If you need assistance, please contact support."
	ReplyNowAvailable   = "You're now available for job offers."
	ReplyInactive       = "Your account is inactive. Contact support to reactivate."
	ReplyNowUnavailable = "You won't receive new offers. Text AVAILABLE to resume."
	ReplyDeactivated    = "You've been deactivated and won't receive offers. Contact support to reactivate."
	ReplyUnknownCommand = "Sorry, I didn't understand. Text HELP for commands."
)

// CommandRouter resolves YES/NO replies against pending offers.
type CommandRouter interface {
	HandleAccept(ctx context.Context, locksmith *providers.Locksmith, cmd messaging.Command) string
	HandleDecline(ctx context.Context, locksmith *providers.Locksmith) string
}

// Roster is the provider surface the webhook needs: sender resolution
// plus the availability commands.
type Roster interface {
	GetByPhone(ctx context.Context, phone string) (*providers.Locksmith, error)
	SetAvailability(ctx context.Context, id string, available bool) error
	Deactivate(ctx context.Context, id string) error
}

// InboundLog dedups and records webhook deliveries.
type InboundLog interface {
	SeenBefore(ctx context.Context, msg *messaging.InboundSMS) (bool, error)
	LogInbound(ctx context.Context, msg *messaging.InboundSMS, locksmithID string) error
}

// SMSWebhookHandler terminates the gateway's inbound-SMS webhook.
type SMSWebhookHandler struct {
	dispatcher CommandRouter
	roster     Roster
	inbound    InboundLog
	audit      *audit.Service
	sms        *metrics.SMSMetrics
	logger     *logging.Logger

	authToken  string
	webhookURL string
}

// NewSMSWebhookHandler wires the webhook. An empty authToken disables
// signature validation (dev only).
func NewSMSWebhookHandler(dispatcher CommandRouter, roster Roster, inbound InboundLog, auditSvc *audit.Service, sms *metrics.SMSMetrics, authToken, webhookURL string, logger *logging.Logger) *SMSWebhookHandler {
	if roster == nil {
		panic("httpapi: provider roster required")
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &SMSWebhookHandler{
		dispatcher: dispatcher,
		roster:     roster,
		inbound:    inbound,
		audit:      auditSvc,
		sms:        sms,
		logger:     logger,
		authToken:  authToken,
		webhookURL: webhookURL,
	}
}

// Handle validates, dedups and routes one inbound SMS, answering with
// TwiML.
func (h *SMSWebhookHandler) Handle(w http.ResponseWriter, r *http.Request) {
	if h.authToken != "" && !messaging.ValidateTwilioSignature(r, h.authToken, h.webhookURL) {
		h.logger.Warn("sms webhook signature rejected", "remote", r.RemoteAddr)
		respondError(w, http.StatusForbidden, "invalid signature")
		return
	}

	msg, err := messaging.ParseInboundSMS(r)
	if err != nil {
		respondError(w, http.StatusBadRequest, "malformed webhook payload")
		return
	}

	ctx := r.Context()
	if h.inbound != nil && msg.MessageSid != "" {
		seen, err := h.inbound.SeenBefore(ctx, msg)
		if err != nil {
			h.logger.Error("inbound dedup check failed", "sid", msg.MessageSid, "error", err)
		} else if seen {
			// Gateway redelivery: acknowledge without re-processing.
			writeTwiML(w, "")
			return
		}
	}

	cmd := messaging.ParseCommand(msg.Body)

	locksmith, err := h.roster.GetByPhone(ctx, messaging.NormalizePhone(msg.From))
	if err != nil {
		if !errors.Is(err, providers.ErrNotFound) {
			h.logger.Error("sender lookup failed", "from", msg.From, "error", err)
		}
		h.logMessage(ctx, msg, "")
		// Carriers require opt-out keywords to be honored no matter
		// who sends them.
		if cmd.Kind == messaging.CommandDeactivate {
			writeTwiML(w, ReplyUnsubscribed)
			return
		}
		writeTwiML(w, ReplyUnknownSender)
		return
	}
	h.logMessage(ctx, msg, locksmith.ID)

	h.sms.ObserveReceive(string(cmd.Kind))
	writeTwiML(w, h.route(ctx, locksmith, cmd))
}

func (h *SMSWebhookHandler) route(ctx context.Context, locksmith *providers.Locksmith, cmd messaging.Command) string {
	switch cmd.Kind {
	case messaging.CommandAccept:
		if h.dispatcher == nil {
			return ReplyUnknownCommand
		}
		return h.dispatcher.HandleAccept(ctx, locksmith, cmd)
	case messaging.CommandDecline:
		if h.dispatcher == nil {
			return ReplyUnknownCommand
		}
		return h.dispatcher.HandleDecline(ctx, locksmith)
	case messaging.CommandSetAvailable:
		if err := h.roster.SetAvailability(ctx, locksmith.ID, true); err != nil {
			if errors.Is(err, providers.ErrInactive) {
				return ReplyInactive
			}
			h.logger.Error("set available failed", "locksmith_id", locksmith.ID, "error", err)
			return ReplyUnknownCommand
		}
		h.logLocksmith(ctx, locksmith.ID, audit.EventAvailabilityChanged, map[string]any{"available": true})
		return ReplyNowAvailable
	case messaging.CommandSetUnavailable:
		if err := h.roster.SetAvailability(ctx, locksmith.ID, false); err != nil {
			if errors.Is(err, providers.ErrInactive) {
				return ReplyInactive
			}
			h.logger.Error("set unavailable failed", "locksmith_id", locksmith.ID, "error", err)
			return ReplyUnknownCommand
		}
		h.logLocksmith(ctx, locksmith.ID, audit.EventAvailabilityChanged, map[string]any{"available": false})
		return ReplyNowUnavailable
	case messaging.CommandDeactivate:
		if err := h.roster.Deactivate(ctx, locksmith.ID); err != nil {
			h.logger.Error("deactivate failed", "locksmith_id", locksmith.ID, "error", err)
			return ReplyUnknownCommand
		}
		h.logLocksmith(ctx, locksmith.ID, audit.EventDeactivated, nil)
		return ReplyDeactivated
	case messaging.CommandHelp:
		return messaging.HelpText
	default:
		return ReplyUnknownCommand
	}
}

func (h *SMSWebhookHandler) logMessage(ctx context.Context, msg *messaging.InboundSMS, locksmithID string) {
	if h.inbound == nil {
		return
	}
	if err := h.inbound.LogInbound(ctx, msg, locksmithID); err != nil {
		h.logger.Error("inbound message log failed", "sid", msg.MessageSid, "error", err)
	}
}

func (h *SMSWebhookHandler) logLocksmith(ctx context.Context, locksmithID, eventType string, payload map[string]any) {
	if h.audit == nil {
		return
	}
	if err := h.audit.LogLocksmithAction(ctx, locksmithID, eventType, payload); err != nil {
		h.logger.Error("audit log failed", "locksmith_id", locksmithID, "event", eventType, "error", err)
	}
}

func writeTwiML(w http.ResponseWriter, body string) {
	w.Header().Set("Content-Type", "application/xml")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(messaging.TwiML(body))
}
