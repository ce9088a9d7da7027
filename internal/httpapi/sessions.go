package httpapi

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/keyrush/locksmith-dispatch/internal/dispatch"
	"github.com/keyrush/locksmith-dispatch/internal/photos"
	"github.com/keyrush/locksmith-dispatch/internal/pricing"
	"github.com/keyrush/locksmith-dispatch/internal/providers"
	"github.com/keyrush/locksmith-dispatch/internal/sessions"
	"github.com/keyrush/locksmith-dispatch/pkg/logging"
)

// SessionEngine is the funnel surface the customer handlers call.
type SessionEngine interface {
	Create(ctx context.Context, meta sessions.Telemetry) (*sessions.Session, error)
	GetByID(ctx context.Context, id string) (*sessions.Session, error)
	ValidateLocation(ctx context.Context, id string, in sessions.LocationInput) (*sessions.LocationResult, error)
	SelectService(ctx context.Context, id string, in sessions.ServiceInput) (*sessions.Session, error)
	RequestPayment(ctx context.Context, id string) (*sessions.PaymentIntentResult, error)
	Complete(ctx context.Context, id string) (*sessions.CompleteResult, error)
}

// OfferLister reads a session's quote offers.
type OfferLister interface {
	ListBySession(ctx context.Context, sessionID string) ([]*dispatch.Offer, error)
}

// LocksmithReader resolves provider display details for offer listings.
type LocksmithReader interface {
	GetByID(ctx context.Context, id string) (*providers.Locksmith, error)
}

// PhotoUploader stores photo objects.
type PhotoUploader interface {
	Upload(ctx context.Context, input photos.UploadInput) (string, error)
}

// PhotoRecorder persists photo rows.
type PhotoRecorder interface {
	Insert(ctx context.Context, p photos.Photo) error
}

// SessionHandler serves the customer request funnel.
type SessionHandler struct {
	engine     SessionEngine
	offers     OfferLister
	locksmiths LocksmithReader
	photoStore PhotoUploader
	photoRepo  PhotoRecorder
	bucket     string
	logger     *logging.Logger
}

// NewSessionHandler wires the funnel endpoints. offers, locksmiths and
// the photo pair may be nil when the feature is disabled.
func NewSessionHandler(engine SessionEngine, offers OfferLister, locksmiths LocksmithReader, photoStore PhotoUploader, photoRepo PhotoRecorder, bucket string, logger *logging.Logger) *SessionHandler {
	if engine == nil {
		panic("httpapi: session engine required")
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &SessionHandler{
		engine:     engine,
		offers:     offers,
		locksmiths: locksmiths,
		photoStore: photoStore,
		photoRepo:  photoRepo,
		bucket:     bucket,
		logger:     logger,
	}
}

// Start opens a new request session, capturing marketing telemetry from
// the request itself.
func (h *SessionHandler) Start(w http.ResponseWriter, r *http.Request) {
	meta := sessions.Telemetry{
		UserAgent: r.UserAgent(),
		IPAddress: clientIP(r),
		Referrer:  r.Referer(),
	}
	for key, values := range r.URL.Query() {
		if strings.HasPrefix(key, "utm_") && len(values) > 0 {
			if meta.UTMParams == nil {
				meta.UTMParams = map[string]string{}
			}
			meta.UTMParams[key] = values[0]
		}
	}

	s, err := h.engine.Create(r.Context(), meta)
	if err != nil {
		h.logger.Error("session create failed", "error", err)
		respondDomainError(w, err)
		return
	}
	respondJSON(w, http.StatusCreated, s)
}

// Get returns the session for funnel resume.
func (h *SessionHandler) Get(w http.ResponseWriter, r *http.Request) {
	s, err := h.engine.GetByID(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		respondDomainError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, s)
}

type locationRequest struct {
	CustomerName  string   `json:"customer_name"`
	CustomerPhone string   `json:"customer_phone"`
	CustomerEmail string   `json:"customer_email"`
	Address       string   `json:"address"`
	Latitude      *float64 `json:"latitude"`
	Longitude     *float64 `json:"longitude"`
}

type locationResponse struct {
	Session         *sessions.Session `json:"session"`
	IsInServiceArea bool              `json:"is_in_service_area"`
	Message         string            `json:"message,omitempty"`
}

// Location runs step 1: identity plus address or map pin. An
// out-of-area answer is a 200 carrying the apology message, not an
// error.
func (h *SessionHandler) Location(w http.ResponseWriter, r *http.Request) {
	var req locationRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	result, err := h.engine.ValidateLocation(r.Context(), chi.URLParam(r, "id"), sessions.LocationInput{
		CustomerName:  req.CustomerName,
		CustomerPhone: req.CustomerPhone,
		CustomerEmail: req.CustomerEmail,
		Address:       req.Address,
		Latitude:      req.Latitude,
		Longitude:     req.Longitude,
	})
	if err != nil {
		respondDomainError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, locationResponse{
		Session:         result.Session,
		IsInServiceArea: result.InArea,
		Message:         result.Message,
	})
}

type serviceRequest struct {
	ServiceType string `json:"service_type"`
	Urgency     string `json:"urgency"`
	Description string `json:"description"`
	CarMake     string `json:"car_make"`
	CarModel    string `json:"car_model"`
	CarYear     int    `json:"car_year"`
}

// Service runs step 2: service selection, deposit pricing and the quote
// broadcast.
func (h *SessionHandler) Service(w http.ResponseWriter, r *http.Request) {
	var req serviceRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	s, err := h.engine.SelectService(r.Context(), chi.URLParam(r, "id"), sessions.ServiceInput{
		ServiceType: req.ServiceType,
		Urgency:     req.Urgency,
		Description: req.Description,
		CarMake:     req.CarMake,
		CarModel:    req.CarModel,
		CarYear:     req.CarYear,
	})
	if err != nil {
		respondDomainError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, s)
}

// Photo accepts one multipart image and stores it against the session.
func (h *SessionHandler) Photo(w http.ResponseWriter, r *http.Request) {
	if h.photoStore == nil || h.photoRepo == nil {
		respondError(w, http.StatusServiceUnavailable, "photo uploads not configured")
		return
	}
	sessionID := chi.URLParam(r, "id")
	if _, err := h.engine.GetByID(r.Context(), sessionID); err != nil {
		respondDomainError(w, err)
		return
	}

	file, header, err := r.FormFile("photo")
	if err != nil {
		respondError(w, http.StatusBadRequest, "multipart field 'photo' is required")
		return
	}
	defer file.Close()

	contentType := header.Header.Get("Content-Type")
	photoID, err := h.photoStore.Upload(r.Context(), photos.UploadInput{
		SessionID:   sessionID,
		Source:      photos.SourceWebUpload,
		ContentType: contentType,
		Size:        header.Size,
		Body:        file,
	})
	if err != nil {
		respondDomainError(w, err)
		return
	}

	if err := h.photoRepo.Insert(r.Context(), photos.Photo{
		ID:          photoID,
		SessionID:   sessionID,
		Source:      photos.SourceWebUpload,
		Bucket:      h.bucket,
		ContentType: contentType,
		Bytes:       header.Size,
	}); err != nil {
		h.logger.Error("photo record insert failed", "photo_id", photoID, "error", err)
		respondDomainError(w, err)
		return
	}
	respondJSON(w, http.StatusCreated, map[string]string{"photo_id": photoID})
}

// PaymentIntent runs step 3: creates the deposit intent.
func (h *SessionHandler) PaymentIntent(w http.ResponseWriter, r *http.Request) {
	result, err := h.engine.RequestPayment(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		respondDomainError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{
		"session":           result.Session,
		"payment_intent_id": result.IntentID,
		"client_secret":     result.ClientSecret,
		"amount":            result.Session.DepositAmount,
	})
}

// Complete confirms payment, creates the job and kicks off dispatch.
func (h *SessionHandler) Complete(w http.ResponseWriter, r *http.Request) {
	result, err := h.engine.Complete(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		respondDomainError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{
		"session": result.Session,
		"job_id":  result.JobID,
	})
}

type offerView struct {
	ID                string     `json:"id"`
	ProviderName      string     `json:"provider_name,omitempty"`
	ProviderPhone     string     `json:"provider_phone,omitempty"`
	Status            string     `json:"status"`
	QuotedPrice       *int64     `json:"quoted_price,omitempty"`
	QuotedPriceText   string     `json:"quoted_price_display,omitempty"`
	SentAt            time.Time  `json:"sent_at"`
	RespondedAt       *time.Time `json:"responded_at,omitempty"`
}

// Offers lists the quotes gathered for the session, decorated with
// provider details.
func (h *SessionHandler) Offers(w http.ResponseWriter, r *http.Request) {
	if h.offers == nil {
		respondError(w, http.StatusServiceUnavailable, "quotes not configured")
		return
	}
	sessionID := chi.URLParam(r, "id")
	if _, err := h.engine.GetByID(r.Context(), sessionID); err != nil {
		respondDomainError(w, err)
		return
	}

	offers, err := h.offers.ListBySession(r.Context(), sessionID)
	if err != nil {
		h.logger.Error("offer list failed", "session_id", sessionID, "error", err)
		respondError(w, http.StatusInternalServerError, "internal error")
		return
	}

	views := make([]offerView, 0, len(offers))
	accepted := 0
	for _, o := range offers {
		v := offerView{
			ID:          o.ID,
			Status:      o.Status,
			QuotedPrice: o.QuotedPrice,
			SentAt:      o.SentAt,
			RespondedAt: o.RespondedAt,
		}
		if o.QuotedPrice != nil {
			v.QuotedPriceText = pricing.FormatCents(*o.QuotedPrice)
		}
		if o.Status == dispatch.OfferAccepted {
			accepted++
		}
		if h.locksmiths != nil {
			if l, err := h.locksmiths.GetByID(r.Context(), o.LocksmithID); err == nil {
				v.ProviderName = l.DisplayName
				v.ProviderPhone = l.Phone
			}
		}
		views = append(views, v)
	}

	respondJSON(w, http.StatusOK, map[string]any{
		"offers":          views,
		"total_offers":    len(views),
		"accepted_offers": accepted,
	})
}

// clientIP prefers the proxy-resolved RemoteAddr (chi RealIP rewrites
// it) and strips the port.
func clientIP(r *http.Request) string {
	addr := r.RemoteAddr
	if idx := strings.LastIndex(addr, ":"); idx > 0 && !strings.Contains(addr[idx:], "]") {
		addr = addr[:idx]
	}
	return strings.Trim(addr, "[]")
}
