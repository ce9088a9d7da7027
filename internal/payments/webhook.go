package payments

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/keyrush/locksmith-dispatch/internal/audit"
	"github.com/keyrush/locksmith-dispatch/internal/observability/metrics"
	"github.com/keyrush/locksmith-dispatch/pkg/logging"
)

// WebhookHandler ingests signed payment gateway events. Events only feed
// the audit trail; deposits are confirmed synchronously at checkout.
type WebhookHandler struct {
	webhookSecret string
	events        *EventStore
	audit         *audit.Service
	metrics       *metrics.PaymentMetrics
	logger        *logging.Logger
}

// NewWebhookHandler creates the payment webhook handler.
func NewWebhookHandler(webhookSecret string, events *EventStore, auditSvc *audit.Service, m *metrics.PaymentMetrics, logger *logging.Logger) *WebhookHandler {
	if logger == nil {
		logger = logging.Default()
	}
	return &WebhookHandler{
		webhookSecret: webhookSecret,
		events:        events,
		audit:         auditSvc,
		metrics:       m,
		logger:        logger,
	}
}

// Handle processes incoming payment webhook events. A bad signature is a
// 400 so the gateway redelivers once the config is fixed.
func (h *WebhookHandler) Handle(w http.ResponseWriter, r *http.Request) {
	payload, err := io.ReadAll(io.LimitReader(r.Body, 1<<20))
	if err != nil {
		http.Error(w, "invalid body", http.StatusBadRequest)
		return
	}

	sigHeader := r.Header.Get("Stripe-Signature")
	if !verifyStripeSignature(h.webhookSecret, payload, sigHeader) {
		h.logger.Warn("payment webhook signature rejected")
		h.metrics.ObserveWebhook("unknown", "bad_signature")
		http.Error(w, "bad signature", http.StatusBadRequest)
		return
	}

	var evt stripeWebhookEvent
	if err := json.Unmarshal(payload, &evt); err != nil {
		h.logger.Error("failed to decode payment event", "error", err)
		http.Error(w, "bad request", http.StatusBadRequest)
		return
	}
	if evt.ID == "" {
		http.Error(w, "missing event id", http.StatusBadRequest)
		return
	}

	eventType := evt.Type
	switch eventType {
	case "payment_intent.succeeded", "payment_intent.payment_failed", "refund.created":
	default:
		// Unhandled event types are acknowledged and dropped.
		h.metrics.ObserveWebhook(eventType, "ignored")
		w.WriteHeader(http.StatusOK)
		return
	}

	ctx := r.Context()
	if processed, err := h.events.AlreadyProcessed(ctx, "stripe", evt.ID); err != nil {
		h.logger.Error("processed lookup failed", "error", err)
		http.Error(w, "server error", http.StatusInternalServerError)
		return
	} else if processed {
		h.metrics.ObserveWebhook(eventType, "duplicate")
		w.WriteHeader(http.StatusOK)
		return
	}

	object := evt.Data.Object
	entityID := object.ID
	auditEvent := audit.EventPaymentSucceeded
	switch eventType {
	case "payment_intent.payment_failed":
		auditEvent = audit.EventPaymentFailed
	case "refund.created":
		auditEvent = audit.EventRefundCreated
		if object.PaymentIntent != "" {
			entityID = object.PaymentIntent
		}
	}

	if h.audit != nil {
		if err := h.audit.Log(ctx, "payment_intent", entityID, auditEvent, map[string]any{
			"event_id":   evt.ID,
			"event_type": eventType,
			"amount":     object.Amount,
			"session_id": object.Metadata["session_id"],
		}); err != nil {
			h.logger.Error("failed to audit payment event", "error", err, "event_id", evt.ID)
			http.Error(w, "server error", http.StatusInternalServerError)
			return
		}
	}

	if err := h.events.MarkProcessed(ctx, "stripe", evt.ID); err != nil {
		h.logger.Error("failed to record processed event", "error", err, "event_id", evt.ID)
	}

	h.metrics.ObserveWebhook(eventType, "processed")
	w.WriteHeader(http.StatusOK)
}

// stripeWebhookEvent is the gateway's event envelope.
type stripeWebhookEvent struct {
	ID      string `json:"id"`
	Type    string `json:"type"`
	Created int64  `json:"created"`
	Data    struct {
		Object stripeEventObject `json:"object"`
	} `json:"data"`
}

// stripeEventObject is the subset of the intent/refund object we log.
type stripeEventObject struct {
	ID            string            `json:"id"`
	PaymentIntent string            `json:"payment_intent"`
	Amount        int64             `json:"amount"`
	Currency      string            `json:"currency"`
	Metadata      map[string]string `json:"metadata"`
	Status        string            `json:"status"`
}

// verifyStripeSignature verifies a webhook signature. The gateway signs
// with HMAC-SHA256 and sends the header as
// t=<timestamp>,v1=<signature>[,v1=<rotated signature>], with a 5-minute
// timestamp tolerance.
func verifyStripeSignature(secret string, payload []byte, header string) bool {
	if secret == "" {
		return true // bypass for development
	}
	if header == "" {
		return false
	}

	var timestamp string
	var signatures []string

	parts := strings.Split(header, ",")
	for _, part := range parts {
		kv := strings.SplitN(part, "=", 2)
		if len(kv) != 2 {
			continue
		}
		switch kv[0] {
		case "t":
			timestamp = kv[1]
		case "v1":
			signatures = append(signatures, kv[1])
		}
	}

	if timestamp == "" || len(signatures) == 0 {
		return false
	}

	ts, err := strconv.ParseInt(timestamp, 10, 64)
	if err != nil {
		return false
	}
	if abs64(time.Now().Unix()-ts) > 300 {
		return false
	}

	signedPayload := fmt.Sprintf("%s.%s", timestamp, string(payload))
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(signedPayload))
	expected := hex.EncodeToString(mac.Sum(nil))

	for _, sig := range signatures {
		if hmac.Equal([]byte(sig), []byte(expected)) {
			return true
		}
	}
	return false
}

func abs64(n int64) int64 {
	if n < 0 {
		return -n
	}
	return n
}
