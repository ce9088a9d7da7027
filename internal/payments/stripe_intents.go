// Package payments collects deposits through the Stripe payment-intent
// API and processes its signed webhooks. The adapter never advances
// session or job state; callers own their transitions.
package payments

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/keyrush/locksmith-dispatch/pkg/logging"
)

var stripeTracer = otel.Tracer("locksmith.internal.payments.stripe")

var (
	// ErrIntentNotFound is returned when the provider has no such intent.
	ErrIntentNotFound = errors.New("payments: intent not found")
)

// DevIntentPrefix marks fabricated intents from unconfigured (dev)
// environments. They auto-succeed on Confirm.
const DevIntentPrefix = "dev_pi_"

// Intent is the subset of the provider's payment intent we track.
type Intent struct {
	ID           string
	ClientSecret string
	Status       string
}

// Refund is the subset of the provider's refund object we track.
type Refund struct {
	ID          string
	AmountCents int64
	Status      string
}

// Service talks to the Stripe REST API with form-encoded requests. With
// no secret key configured it fabricates dev intents so the funnel works
// locally.
type Service struct {
	secretKey  string
	baseURL    string
	apiVersion string
	httpClient *http.Client
	logger     *logging.Logger
}

// NewService creates the payment adapter.
func NewService(secretKey string, logger *logging.Logger) *Service {
	if logger == nil {
		logger = logging.Default()
	}
	return &Service{
		secretKey:  secretKey,
		baseURL:    "https://api.stripe.com",
		apiVersion: "2024-12-18.acacia",
		httpClient: &http.Client{Timeout: 10 * time.Second},
		logger:     logger,
	}
}

// WithBaseURL overrides the API base URL (for testing).
func (s *Service) WithBaseURL(baseURL string) *Service {
	if baseURL != "" {
		s.baseURL = strings.TrimRight(baseURL, "/")
	}
	return s
}

// Configured reports whether real provider credentials are present.
func (s *Service) Configured() bool {
	return s.secretKey != ""
}

// CreateIntent creates a payment intent for the session's deposit.
// Unconfigured environments get a dev intent tied to the session id.
func (s *Service) CreateIntent(ctx context.Context, sessionID string, amountCents int64) (*Intent, error) {
	ctx, span := stripeTracer.Start(ctx, "stripe.create_payment_intent")
	defer span.End()
	span.SetAttributes(
		attribute.String("locksmith.session_id", sessionID),
		attribute.Int64("locksmith.amount_cents", amountCents),
	)

	if !s.Configured() {
		s.logger.Info("payments not configured, issuing dev intent", "session_id", sessionID)
		return &Intent{
			ID:           DevIntentPrefix + sessionID,
			ClientSecret: "dev_secret",
			Status:       "requires_payment_method",
		}, nil
	}

	form := url.Values{}
	form.Set("amount", fmt.Sprintf("%d", amountCents))
	form.Set("currency", "usd")
	form.Set("metadata[session_id]", sessionID)
	form.Set("automatic_payment_methods[enabled]", "true")

	var parsed stripeIntentObject
	if err := s.do(ctx, http.MethodPost, "/v1/payment_intents", form, &parsed); err != nil {
		return nil, err
	}
	if parsed.ID == "" || parsed.ClientSecret == "" {
		return nil, fmt.Errorf("payments: stripe response missing intent fields")
	}
	return &Intent{ID: parsed.ID, ClientSecret: parsed.ClientSecret, Status: parsed.Status}, nil
}

// Confirm retrieves the intent and reports whether payment succeeded.
// Dev intents always succeed.
func (s *Service) Confirm(ctx context.Context, intentID string) (bool, error) {
	ctx, span := stripeTracer.Start(ctx, "stripe.confirm_payment_intent")
	defer span.End()
	span.SetAttributes(attribute.String("locksmith.intent_id", intentID))

	if strings.HasPrefix(intentID, DevIntentPrefix) {
		return true, nil
	}
	if !s.Configured() {
		return false, fmt.Errorf("payments: cannot confirm %q without credentials", intentID)
	}

	var parsed stripeIntentObject
	if err := s.do(ctx, http.MethodGet, "/v1/payment_intents/"+url.PathEscape(intentID), nil, &parsed); err != nil {
		return false, err
	}
	return parsed.Status == "succeeded", nil
}

// RefundByIntent refunds the intent's charge. amountCents <= 0 refunds
// in full. Already-refunded intents are treated as success so the admin
// operation stays idempotent.
func (s *Service) RefundByIntent(ctx context.Context, intentID string, amountCents int64, reason string) (*Refund, error) {
	ctx, span := stripeTracer.Start(ctx, "stripe.create_refund")
	defer span.End()
	span.SetAttributes(attribute.String("locksmith.intent_id", intentID))

	if strings.HasPrefix(intentID, DevIntentPrefix) {
		return &Refund{ID: "dev_re_" + strings.TrimPrefix(intentID, DevIntentPrefix), AmountCents: amountCents, Status: "succeeded"}, nil
	}
	if !s.Configured() {
		return nil, fmt.Errorf("payments: cannot refund %q without credentials", intentID)
	}

	form := url.Values{}
	form.Set("payment_intent", intentID)
	if amountCents > 0 {
		form.Set("amount", fmt.Sprintf("%d", amountCents))
	}
	if reason != "" {
		form.Set("metadata[reason]", reason)
	}

	var parsed stripeRefundObject
	if err := s.do(ctx, http.MethodPost, "/v1/refunds", form, &parsed); err != nil {
		var apiErr *stripeAPIError
		if errors.As(err, &apiErr) && apiErr.Code == "charge_already_refunded" {
			s.logger.Info("intent already refunded", "intent_id", intentID)
			return &Refund{Status: "already_refunded"}, nil
		}
		return nil, err
	}
	return &Refund{ID: parsed.ID, AmountCents: parsed.Amount, Status: parsed.Status}, nil
}

func (s *Service) do(ctx context.Context, method, path string, form url.Values, out any) error {
	var body io.Reader
	if form != nil {
		body = strings.NewReader(form.Encode())
	}
	req, err := http.NewRequestWithContext(ctx, method, s.baseURL+path, body)
	if err != nil {
		return fmt.Errorf("payments: stripe request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+s.secretKey)
	req.Header.Set("Stripe-Version", s.apiVersion)
	if form != nil {
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	}

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("payments: stripe http: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return fmt.Errorf("payments: stripe read: %w", err)
	}

	if resp.StatusCode >= http.StatusMultipleChoices {
		if resp.StatusCode == http.StatusNotFound {
			return fmt.Errorf("%w: %s", ErrIntentNotFound, path)
		}
		var errResp struct {
			Error stripeAPIError `json:"error"`
		}
		if json.Unmarshal(raw, &errResp) == nil && errResp.Error.Message != "" {
			errResp.Error.HTTPStatus = resp.StatusCode
			return &errResp.Error
		}
		return fmt.Errorf("payments: stripe api status %d: %s", resp.StatusCode, string(raw))
	}

	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("payments: stripe decode: %w", err)
	}
	return nil
}

type stripeIntentObject struct {
	ID           string `json:"id"`
	ClientSecret string `json:"client_secret"`
	Status       string `json:"status"`
}

type stripeRefundObject struct {
	ID     string `json:"id"`
	Amount int64  `json:"amount"`
	Status string `json:"status"`
}

// stripeAPIError is a provider error payload.
type stripeAPIError struct {
	Message    string `json:"message"`
	Type       string `json:"type"`
	Code       string `json:"code"`
	HTTPStatus int    `json:"-"`
}

func (e *stripeAPIError) Error() string {
	return fmt.Sprintf("payments: stripe api status %d code %s: %s", e.HTTPStatus, e.Code, e.Message)
}
