package messaging

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math/rand"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/keyrush/locksmith-dispatch/pkg/logging"
)

var twilioSendTracer = otel.Tracer("locksmith.internal.messaging.twilio_send")

// SMSClient posts a single SMS to the gateway and returns the provider
// message id.
type SMSClient interface {
	SendSMS(ctx context.Context, to, body string) (string, error)
}

// TwilioClient posts SMS messages using the gateway's REST API.
type TwilioClient struct {
	accountSID string
	authToken  string
	from       string
	baseURL    string
	httpClient *http.Client
	logger     *logging.Logger
}

// NewTwilioClient builds a client with sane defaults.
func NewTwilioClient(accountSID, authToken, from string, logger *logging.Logger) *TwilioClient {
	if logger == nil {
		logger = logging.Default()
	}
	return &TwilioClient{
		accountSID: accountSID,
		authToken:  authToken,
		from:       from,
		baseURL:    "https://api.twilio.com",
		httpClient: &http.Client{
			Timeout: 10 * time.Second,
		},
		logger: logger,
	}
}

// WithBaseURL overrides the API host for tests.
func (c *TwilioClient) WithBaseURL(base string) *TwilioClient {
	c.baseURL = strings.TrimRight(base, "/")
	return c
}

var _ SMSClient = (*TwilioClient)(nil)

// SendSMS dispatches a single SMS, retrying transient failures up to
// three attempts with a short jittered sleep. Non-rate-limit 4xx errors
// are not retried.
func (c *TwilioClient) SendSMS(ctx context.Context, to, body string) (string, error) {
	if c.accountSID == "" || c.authToken == "" {
		return "", errors.New("messaging: twilio credentials missing")
	}
	if to == "" {
		return "", errors.New("messaging: to required")
	}
	if c.from == "" {
		return "", errors.New("messaging: from number required")
	}
	if strings.TrimSpace(body) == "" {
		return "", errors.New("messaging: body required")
	}

	ctx, span := twilioSendTracer.Start(ctx, "messaging.twilio.send")
	defer span.End()
	span.SetAttributes(attribute.String("locksmith.sms.to", to))

	payload := url.Values{}
	payload.Set("To", to)
	payload.Set("From", c.from)
	payload.Set("Body", body)

	endpoint := fmt.Sprintf("%s/2010-04-01/Accounts/%s/Messages.json", c.baseURL, c.accountSID)

	var lastErr error
	for attempt := 1; attempt <= 3; attempt++ {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(payload.Encode()))
		if err != nil {
			lastErr = err
			break
		}
		req.SetBasicAuth(c.accountSID, c.authToken)
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

		resp, err := c.httpClient.Do(req)
		if err != nil {
			lastErr = err
		} else {
			respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
			resp.Body.Close()
			if resp.StatusCode >= 200 && resp.StatusCode < 300 {
				var parsed struct {
					SID string `json:"sid"`
				}
				if err := json.Unmarshal(respBody, &parsed); err == nil && parsed.SID != "" {
					c.logger.Info("sms sent", "to", to, "sid", parsed.SID)
					return parsed.SID, nil
				}
				c.logger.Info("sms sent", "to", to)
				return "", nil
			}
			lastErr = fmt.Errorf("messaging: twilio send failed: %s", formatTwilioError(resp.StatusCode, respBody))
			// Don't retry non-rate-limit 4xx errors.
			if resp.StatusCode >= 400 && resp.StatusCode < 500 && resp.StatusCode != 429 {
				break
			}
		}

		if attempt < 3 {
			sleep := time.Duration(200+rand.Intn(300)) * time.Millisecond
			time.Sleep(sleep)
		}
	}

	if lastErr != nil {
		span.RecordError(lastErr)
	}
	return "", lastErr
}

type twilioAPIError struct {
	Code     int    `json:"code"`
	Message  string `json:"message"`
	MoreInfo string `json:"more_info"`
	Status   int    `json:"status"`
}

func formatTwilioError(status int, body []byte) string {
	body = []byte(strings.TrimSpace(string(body)))
	if len(body) == 0 {
		return fmt.Sprintf("status %d", status)
	}
	var parsed twilioAPIError
	if err := json.Unmarshal(body, &parsed); err == nil && parsed.Message != "" {
		if parsed.Code != 0 {
			return fmt.Sprintf("status %d code %d: %s", status, parsed.Code, parsed.Message)
		}
		return fmt.Sprintf("status %d: %s", status, parsed.Message)
	}
	// Fallback: return raw body (truncated by ReadAll limit).
	return fmt.Sprintf("status %d: %s", status, string(body))
}
