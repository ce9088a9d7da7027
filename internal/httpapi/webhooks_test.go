package httpapi

import (
	"context"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"

	"github.com/keyrush/locksmith-dispatch/internal/messaging"
	"github.com/keyrush/locksmith-dispatch/internal/providers"
)

type stubRoster struct {
	locksmith       *providers.Locksmith
	availabilityErr error
	setAvailable    []bool
	deactivated     []string
}

func (s *stubRoster) GetByPhone(ctx context.Context, phone string) (*providers.Locksmith, error) {
	if s.locksmith == nil {
		return nil, providers.ErrNotFound
	}
	return s.locksmith, nil
}

func (s *stubRoster) SetAvailability(ctx context.Context, id string, available bool) error {
	if s.availabilityErr != nil {
		return s.availabilityErr
	}
	s.setAvailable = append(s.setAvailable, available)
	return nil
}

func (s *stubRoster) Deactivate(ctx context.Context, id string) error {
	s.deactivated = append(s.deactivated, id)
	return nil
}

type stubCommandRouter struct {
	acceptCmd   *messaging.Command
	declined    bool
	acceptReply string
}

func (s *stubCommandRouter) HandleAccept(ctx context.Context, locksmith *providers.Locksmith, cmd messaging.Command) string {
	s.acceptCmd = &cmd
	return s.acceptReply
}

func (s *stubCommandRouter) HandleDecline(ctx context.Context, locksmith *providers.Locksmith) string {
	s.declined = true
	return "declined"
}

type stubInboundLog struct {
	seen      bool
	logged    []*messaging.InboundSMS
	loggedIDs []string
}

func (s *stubInboundLog) SeenBefore(ctx context.Context, msg *messaging.InboundSMS) (bool, error) {
	return s.seen, nil
}

func (s *stubInboundLog) LogInbound(ctx context.Context, msg *messaging.InboundSMS, locksmithID string) error {
	s.logged = append(s.logged, msg)
	s.loggedIDs = append(s.loggedIDs, locksmithID)
	return nil
}

func postSMS(t *testing.T, h *SMSWebhookHandler, body string) *httptest.ResponseRecorder {
	t.Helper()
	form := url.Values{
		"MessageSid": {"SM123"},
		"AccountSid": {"AC123"},
		"From":       {"+15551234567"},
		"To":         {"+15559999999"},
		"Body":       {body},
	}
	req := httptest.NewRequest(http.MethodPost, "/webhooks/sms", strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	rec := httptest.NewRecorder()
	h.Handle(rec, req)
	return rec
}

func activeLocksmith() *providers.Locksmith {
	return &providers.Locksmith{ID: "lock-1", DisplayName: "Alex", Phone: "+15551234567", IsActive: true}
}

func TestWebhookUnknownSender(t *testing.T) {
	roster := &stubRoster{}
	inbound := &stubInboundLog{}
	h := NewSMSWebhookHandler(nil, roster, inbound, nil, nil, "", "", nil)

	rec := postSMS(t, h, "YES")

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if ct := rec.Header().Get("Content-Type"); ct != "application/xml" {
		t.Errorf("content type = %q", ct)
	}
	if !strings.Contains(rec.Body.String(), ReplyUnknownSender) {
		t.Errorf("body = %q, want unknown-sender reply", rec.Body.String())
	}
	if len(inbound.loggedIDs) != 1 || inbound.loggedIDs[0] != "" {
		t.Errorf("unknown sender should still be logged without a locksmith id, got %v", inbound.loggedIDs)
	}
}

func TestWebhookHelp(t *testing.T) {
	roster := &stubRoster{locksmith: activeLocksmith()}
	h := NewSMSWebhookHandler(nil, roster, nil, nil, nil, "", "", nil)

	rec := postSMS(t, h, "HELP")

	if !strings.Contains(rec.Body.String(), "YES - Accept job") {
		t.Errorf("body = %q, want help text", rec.Body.String())
	}
}

func TestWebhookAvailable(t *testing.T) {
	roster := &stubRoster{locksmith: activeLocksmith()}
	h := NewSMSWebhookHandler(nil, roster, nil, nil, nil, "", "", nil)

	rec := postSMS(t, h, "available")

	if !strings.Contains(rec.Body.String(), ReplyNowAvailable) {
		t.Errorf("body = %q", rec.Body.String())
	}
	if len(roster.setAvailable) != 1 || !roster.setAvailable[0] {
		t.Errorf("set available calls = %v", roster.setAvailable)
	}
}

func TestWebhookAvailableWhileInactive(t *testing.T) {
	roster := &stubRoster{locksmith: activeLocksmith(), availabilityErr: providers.ErrInactive}
	h := NewSMSWebhookHandler(nil, roster, nil, nil, nil, "", "", nil)

	rec := postSMS(t, h, "AVAILABLE")

	if !strings.Contains(rec.Body.String(), ReplyInactive) {
		t.Errorf("body = %q, want inactive reply", rec.Body.String())
	}
}

func TestWebhookUnavailable(t *testing.T) {
	roster := &stubRoster{locksmith: activeLocksmith()}
	h := NewSMSWebhookHandler(nil, roster, nil, nil, nil, "", "", nil)

	rec := postSMS(t, h, "BUSY")

	if !strings.Contains(rec.Body.String(), "Text AVAILABLE to resume") {
		t.Errorf("body = %q", rec.Body.String())
	}
	if len(roster.setAvailable) != 1 || roster.setAvailable[0] {
		t.Errorf("set available calls = %v", roster.setAvailable)
	}
}

func TestWebhookStopDeactivates(t *testing.T) {
	roster := &stubRoster{locksmith: activeLocksmith()}
	h := NewSMSWebhookHandler(nil, roster, nil, nil, nil, "", "", nil)

	rec := postSMS(t, h, "STOP")

	if !strings.Contains(rec.Body.String(), ReplyDeactivated) {
		t.Errorf("body = %q", rec.Body.String())
	}
	if len(roster.deactivated) != 1 || roster.deactivated[0] != "lock-1" {
		t.Errorf("deactivate calls = %v", roster.deactivated)
	}
}

func TestWebhookStopFromUnknownSenderAcknowledged(t *testing.T) {
	roster := &stubRoster{}
	inbound := &stubInboundLog{}
	h := NewSMSWebhookHandler(nil, roster, inbound, nil, nil, "", "", nil)

	rec := postSMS(t, h, "STOP")

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), ReplyUnsubscribed) {
		t.Errorf("body = %q, want unsubscribe acknowledgement", rec.Body.String())
	}
	if strings.Contains(rec.Body.String(), ReplyUnknownSender) {
		t.Errorf("opt-out must not get the unknown-sender reply, got %q", rec.Body.String())
	}
	if len(roster.deactivated) != 0 {
		t.Errorf("no roster entry to deactivate, got %v", roster.deactivated)
	}
	if len(inbound.loggedIDs) != 1 || inbound.loggedIDs[0] != "" {
		t.Errorf("opt-out should still be logged without a locksmith id, got %v", inbound.loggedIDs)
	}
}

func TestWebhookAcceptWithQuoteRoutesToDispatcher(t *testing.T) {
	roster := &stubRoster{locksmith: activeLocksmith()}
	router := &stubCommandRouter{acceptReply: "accepted"}
	h := NewSMSWebhookHandler(router, roster, nil, nil, nil, "", "", nil)

	rec := postSMS(t, h, "YES $150")

	if !strings.Contains(rec.Body.String(), "accepted") {
		t.Errorf("body = %q", rec.Body.String())
	}
	if router.acceptCmd == nil {
		t.Fatal("accept was not routed")
	}
	if !router.acceptCmd.HasPrice || router.acceptCmd.PriceCents != 15000 {
		t.Errorf("parsed price = %d (has=%v)", router.acceptCmd.PriceCents, router.acceptCmd.HasPrice)
	}
}

func TestWebhookDeclineRoutesToDispatcher(t *testing.T) {
	roster := &stubRoster{locksmith: activeLocksmith()}
	router := &stubCommandRouter{}
	h := NewSMSWebhookHandler(router, roster, nil, nil, nil, "", "", nil)

	postSMS(t, h, "no")

	if !router.declined {
		t.Error("decline was not routed")
	}
}

func TestWebhookUnknownCommand(t *testing.T) {
	roster := &stubRoster{locksmith: activeLocksmith()}
	h := NewSMSWebhookHandler(nil, roster, nil, nil, nil, "", "", nil)

	rec := postSMS(t, h, "what is this")

	if !strings.Contains(rec.Body.String(), "Text HELP for commands") {
		t.Errorf("body = %q", rec.Body.String())
	}
}

func TestWebhookDuplicateDeliveryAcked(t *testing.T) {
	roster := &stubRoster{locksmith: activeLocksmith()}
	router := &stubCommandRouter{acceptReply: "accepted"}
	inbound := &stubInboundLog{seen: true}
	h := NewSMSWebhookHandler(router, roster, inbound, nil, nil, "", "", nil)

	rec := postSMS(t, h, "YES")

	if !strings.Contains(rec.Body.String(), "<Response></Response>") {
		t.Errorf("body = %q, want empty ack", rec.Body.String())
	}
	if router.acceptCmd != nil {
		t.Error("duplicate delivery must not be re-processed")
	}
	if len(inbound.logged) != 0 {
		t.Error("duplicate delivery must not be re-logged")
	}
}

func TestWebhookRejectsBadSignature(t *testing.T) {
	roster := &stubRoster{locksmith: activeLocksmith()}
	h := NewSMSWebhookHandler(nil, roster, nil, nil, nil, "token", "https://example.com/webhooks/sms", nil)

	rec := postSMS(t, h, "YES")

	if rec.Code != http.StatusForbidden {
		t.Fatalf("status = %d, want 403", rec.Code)
	}
}
