package httpapi

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/keyrush/locksmith-dispatch/internal/dispatch"
	"github.com/keyrush/locksmith-dispatch/internal/providers"
	"github.com/keyrush/locksmith-dispatch/internal/sessions"
)

type stubEngine struct {
	createdMeta    sessions.Telemetry
	session        *sessions.Session
	locationResult *sessions.LocationResult
	completeResult *sessions.CompleteResult
	err            error
}

func (s *stubEngine) Create(ctx context.Context, meta sessions.Telemetry) (*sessions.Session, error) {
	s.createdMeta = meta
	return s.session, s.err
}

func (s *stubEngine) GetByID(ctx context.Context, id string) (*sessions.Session, error) {
	return s.session, s.err
}

func (s *stubEngine) ValidateLocation(ctx context.Context, id string, in sessions.LocationInput) (*sessions.LocationResult, error) {
	return s.locationResult, s.err
}

func (s *stubEngine) SelectService(ctx context.Context, id string, in sessions.ServiceInput) (*sessions.Session, error) {
	return s.session, s.err
}

func (s *stubEngine) RequestPayment(ctx context.Context, id string) (*sessions.PaymentIntentResult, error) {
	if s.err != nil {
		return nil, s.err
	}
	return &sessions.PaymentIntentResult{Session: s.session, IntentID: "pi_1", ClientSecret: "secret_1"}, nil
}

func (s *stubEngine) Complete(ctx context.Context, id string) (*sessions.CompleteResult, error) {
	return s.completeResult, s.err
}

type stubOffers struct {
	offers []*dispatch.Offer
}

func (s *stubOffers) ListBySession(ctx context.Context, sessionID string) ([]*dispatch.Offer, error) {
	return s.offers, nil
}

type stubLocksmiths struct {
	byID map[string]*providers.Locksmith
}

func (s *stubLocksmiths) GetByID(ctx context.Context, id string) (*providers.Locksmith, error) {
	if l, ok := s.byID[id]; ok {
		return l, nil
	}
	return nil, providers.ErrNotFound
}

func newSessionRouter(engine SessionEngine, offers OfferLister, locksmiths LocksmithReader) http.Handler {
	handler := NewSessionHandler(engine, offers, locksmiths, nil, nil, "", nil)
	return New(&Config{Sessions: handler})
}

func TestStartCapturesTelemetry(t *testing.T) {
	engine := &stubEngine{session: &sessions.Session{ID: "sess-1", Status: sessions.StatusStarted}}
	router := newSessionRouter(engine, nil, nil)

	req := httptest.NewRequest(http.MethodPost, "/request/start?utm_source=google&utm_campaign=spring", nil)
	req.Header.Set("User-Agent", "test-agent")
	req.Header.Set("Referer", "https://example.com/landing")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusCreated {
		t.Fatalf("status = %d, want 201", rec.Code)
	}
	if engine.createdMeta.UserAgent != "test-agent" {
		t.Errorf("user agent = %q", engine.createdMeta.UserAgent)
	}
	if engine.createdMeta.Referrer != "https://example.com/landing" {
		t.Errorf("referrer = %q", engine.createdMeta.Referrer)
	}
	if engine.createdMeta.UTMParams["utm_source"] != "google" {
		t.Errorf("utm params = %v", engine.createdMeta.UTMParams)
	}
}

func TestLocationOutOfAreaIsNotAnError(t *testing.T) {
	inArea := false
	engine := &stubEngine{
		locationResult: &sessions.LocationResult{
			Session: &sessions.Session{
				ID:              "sess-1",
				Status:          sessions.StatusLocationRejected,
				IsInServiceArea: &inArea,
			},
			InArea:  false,
			Message: sessions.OutOfAreaMessage,
		},
	}
	router := newSessionRouter(engine, nil, nil)

	body := `{"customer_name":"Dana","customer_phone":"5551234567","address":"100 Far Away Road, Houston"}`
	req := httptest.NewRequest(http.MethodPost, "/request/sess-1/location", strings.NewReader(body))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	var resp locationResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.IsInServiceArea {
		t.Error("expected is_in_service_area false")
	}
	if resp.Message != sessions.OutOfAreaMessage {
		t.Errorf("message = %q", resp.Message)
	}
}

func TestPreconditionMapsTo400(t *testing.T) {
	engine := &stubEngine{err: fmt.Errorf("%w: session sess-1 is payment_completed", sessions.ErrPrecondition)}
	router := newSessionRouter(engine, nil, nil)

	req := httptest.NewRequest(http.MethodPost, "/request/sess-1/service", strings.NewReader(`{"service_type":"rekey"}`))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "payment_completed") {
		t.Errorf("expected current status in body, got %q", rec.Body.String())
	}
}

func TestGetUnknownSessionMapsTo404(t *testing.T) {
	engine := &stubEngine{err: sessions.ErrNotFound}
	router := newSessionRouter(engine, nil, nil)

	req := httptest.NewRequest(http.MethodGet, "/request/missing", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", rec.Code)
	}
}

func TestOffersDecoratedWithProviderAndPrice(t *testing.T) {
	price := int64(7500)
	now := time.Now().UTC()
	engine := &stubEngine{session: &sessions.Session{ID: "sess-1", Status: sessions.StatusPendingApproval}}
	offers := &stubOffers{offers: []*dispatch.Offer{
		{ID: "offer-1", SessionID: "sess-1", LocksmithID: "lock-1", Status: dispatch.OfferAccepted, QuotedPrice: &price, SentAt: now},
		{ID: "offer-2", SessionID: "sess-1", LocksmithID: "lock-2", Status: dispatch.OfferPending, SentAt: now},
	}}
	locksmiths := &stubLocksmiths{byID: map[string]*providers.Locksmith{
		"lock-1": {ID: "lock-1", DisplayName: "Alex", Phone: "+15550000001"},
		"lock-2": {ID: "lock-2", DisplayName: "Sam", Phone: "+15550000002"},
	}}
	router := newSessionRouter(engine, offers, locksmiths)

	req := httptest.NewRequest(http.MethodGet, "/request/sess-1/offers", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	var resp struct {
		Offers         []offerView `json:"offers"`
		TotalOffers    int         `json:"total_offers"`
		AcceptedOffers int         `json:"accepted_offers"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.TotalOffers != 2 || resp.AcceptedOffers != 1 {
		t.Errorf("totals = %d/%d, want 2/1", resp.TotalOffers, resp.AcceptedOffers)
	}
	if resp.Offers[0].ProviderName != "Alex" {
		t.Errorf("provider name = %q", resp.Offers[0].ProviderName)
	}
	if resp.Offers[0].QuotedPriceText != "$75.00" {
		t.Errorf("quoted price display = %q", resp.Offers[0].QuotedPriceText)
	}
}

func TestCompleteReturnsJobID(t *testing.T) {
	engine := &stubEngine{completeResult: &sessions.CompleteResult{
		Session: &sessions.Session{ID: "sess-1", Status: sessions.StatusPaymentCompleted},
		JobID:   "job-1",
	}}
	router := newSessionRouter(engine, nil, nil)

	req := httptest.NewRequest(http.MethodPost, "/request/sess-1/complete", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), `"job_id":"job-1"`) {
		t.Errorf("expected job_id in body, got %q", rec.Body.String())
	}
}
