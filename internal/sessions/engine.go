package sessions

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/keyrush/locksmith-dispatch/internal/audit"
	"github.com/keyrush/locksmith-dispatch/internal/geocode"
	"github.com/keyrush/locksmith-dispatch/internal/messaging"
	"github.com/keyrush/locksmith-dispatch/internal/payments"
	"github.com/keyrush/locksmith-dispatch/internal/pricing"
	"github.com/keyrush/locksmith-dispatch/pkg/logging"
)

var sessionTracer = otel.Tracer("locksmith.internal.sessions")

// ConfirmationMessage is texted to the customer once the deposit clears.
const ConfirmationMessage = "Your locksmith request has been received! We're finding someone to help you now."

// Geocoder resolves addresses and coordinates.
type Geocoder interface {
	Forward(ctx context.Context, address string) (*geocode.Result, error)
	Reverse(ctx context.Context, lat, lng float64) (*geocode.Result, error)
}

// PaymentProvider creates and confirms deposit payment intents.
type PaymentProvider interface {
	CreateIntent(ctx context.Context, sessionID string, amountCents int64) (*payments.Intent, error)
	Confirm(ctx context.Context, intentID string) (bool, error)
}

// JobFactory snapshots a paid session into a dispatchable job.
type JobFactory interface {
	CreateFromSession(ctx context.Context, s *Session) (string, error)
}

// QuoteBroadcaster fans a pending-approval session out to locksmiths for
// quotes and returns the number of offers sent.
type QuoteBroadcaster interface {
	BroadcastQuotes(ctx context.Context, s *Session) (int, error)
}

// DispatchEnqueuer hands a job id to the background dispatch queue.
type DispatchEnqueuer interface {
	EnqueueDispatch(ctx context.Context, jobID string) error
}

// Engine drives the customer funnel state machine.
type Engine struct {
	repo        *Repository
	geocoder    Geocoder
	payments    PaymentProvider
	sender      messaging.Sender
	jobs        JobFactory
	broadcaster QuoteBroadcaster
	dispatch    DispatchEnqueuer
	audit       *audit.Service
	logger      *logging.Logger

	serviceAreas []string
	deposits     map[string]int64
	dev          bool
}

// EngineOptions wires the engine's collaborators. Optional collaborators
// (broadcaster, jobs, dispatch, sender) may be nil; the engine degrades
// to logging instead of failing the funnel step.
type EngineOptions struct {
	Repo         *Repository
	Geocoder     Geocoder
	Payments     PaymentProvider
	Sender       messaging.Sender
	Jobs         JobFactory
	Broadcaster  QuoteBroadcaster
	Dispatch     DispatchEnqueuer
	Audit        *audit.Service
	Logger       *logging.Logger
	ServiceAreas []string
	Deposits     map[string]int64
	Dev          bool
}

// NewEngine validates required collaborators and builds the engine.
func NewEngine(opts EngineOptions) *Engine {
	if opts.Repo == nil {
		panic("sessions: repository required")
	}
	if opts.Payments == nil {
		panic("sessions: payment provider required")
	}
	if opts.Logger == nil {
		opts.Logger = logging.Default()
	}
	return &Engine{
		repo:         opts.Repo,
		geocoder:     opts.Geocoder,
		payments:     opts.Payments,
		sender:       opts.Sender,
		jobs:         opts.Jobs,
		broadcaster:  opts.Broadcaster,
		dispatch:     opts.Dispatch,
		audit:        opts.Audit,
		logger:       opts.Logger,
		serviceAreas: opts.ServiceAreas,
		deposits:     opts.Deposits,
		dev:          opts.Dev,
	}
}

// Create opens a new funnel session.
func (e *Engine) Create(ctx context.Context, meta Telemetry) (*Session, error) {
	ctx, span := sessionTracer.Start(ctx, "sessions.create")
	defer span.End()

	s, err := e.repo.Create(ctx, meta)
	if err != nil {
		return nil, err
	}
	span.SetAttributes(attribute.String("locksmith.session_id", s.ID))
	e.logEvent(ctx, s.ID, audit.EventSessionStarted, map[string]any{
		"referrer": meta.Referrer,
	})
	return s, nil
}

// GetByID fetches one session.
func (e *Engine) GetByID(ctx context.Context, id string) (*Session, error) {
	return e.repo.GetByID(ctx, id)
}

// LocationInput is the step-1 submission: customer identity plus either
// a typed address or a dropped map pin.
type LocationInput struct {
	CustomerName  string
	CustomerPhone string
	CustomerEmail string
	Address       string
	Latitude      *float64
	Longitude     *float64
}

// LocationResult reports the service-area decision.
type LocationResult struct {
	Session *Session
	InArea  bool
	Message string
}

// ValidateLocation resolves the customer's location and decides whether
// it falls inside the service area. Rejected sessions may retry with a
// different address.
func (e *Engine) ValidateLocation(ctx context.Context, id string, in LocationInput) (*LocationResult, error) {
	ctx, span := sessionTracer.Start(ctx, "sessions.validate_location")
	defer span.End()
	span.SetAttributes(attribute.String("locksmith.session_id", id))

	in.CustomerName = strings.TrimSpace(in.CustomerName)
	in.CustomerPhone = messaging.NormalizePhone(in.CustomerPhone)
	if in.CustomerName == "" {
		return nil, fmt.Errorf("%w: customer name required", ErrValidation)
	}
	if in.CustomerPhone == "" {
		return nil, fmt.Errorf("%w: customer phone required", ErrValidation)
	}

	hasPin := in.Latitude != nil && in.Longitude != nil
	address := strings.TrimSpace(in.Address)
	if !hasPin && len(address) < 10 {
		return nil, fmt.Errorf("%w: address too short", ErrValidation)
	}

	var (
		city string
		lat  = in.Latitude
		lng  = in.Longitude
	)
	switch {
	case hasPin:
		address, city = e.resolvePin(ctx, *in.Latitude, *in.Longitude, address)
	default:
		city, lat, lng = e.resolveAddress(ctx, address)
	}

	inArea := e.inServiceArea(city)
	status := StatusLocationValidated
	eventType := audit.EventLocationValidated
	message := ""
	if !inArea {
		status = StatusLocationRejected
		eventType = audit.EventLocationRejected
		message = OutOfAreaMessage
	}

	upd := LocationUpdate{
		CustomerName:  in.CustomerName,
		CustomerPhone: in.CustomerPhone,
		CustomerEmail: strings.TrimSpace(in.CustomerEmail),
		Address:       address,
		City:          city,
		Latitude:      lat,
		Longitude:     lng,
		InServiceArea: inArea,
		NewStatus:     status,
	}
	if err := e.repo.ApplyLocation(ctx, id, upd); err != nil {
		return nil, err
	}

	e.logEvent(ctx, id, eventType, map[string]any{
		"city":    city,
		"in_area": inArea,
	})

	s, err := e.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	return &LocationResult{Session: s, InArea: inArea, Message: message}, nil
}

// resolvePin reverse-geocodes a dropped pin. Failures fall back to a
// coordinate placeholder so the funnel never blocks on the geocoder.
func (e *Engine) resolvePin(ctx context.Context, lat, lng float64, address string) (string, string) {
	if e.geocoder != nil {
		if result, err := e.geocoder.Reverse(ctx, lat, lng); err == nil {
			resolved := result.FormattedAddress
			if resolved == "" {
				resolved = address
			}
			return resolved, result.City
		} else {
			e.logger.Warn("reverse geocode failed", "error", err)
		}
	}
	if address == "" {
		address = fmt.Sprintf("Pin at %.6f, %.6f", lat, lng)
	}
	return address, e.devFallbackCity()
}

// resolveAddress forward-geocodes a typed address. In development a
// geocoder outage resolves to the first configured service area so the
// funnel can be exercised without credentials; elsewhere an unresolved
// address leaves the city empty and the session lands out of area.
func (e *Engine) resolveAddress(ctx context.Context, address string) (string, *float64, *float64) {
	if e.geocoder != nil {
		if result, err := e.geocoder.Forward(ctx, address); err == nil {
			return result.City, &result.Latitude, &result.Longitude
		} else {
			e.logger.Warn("forward geocode failed", "error", err)
		}
	}
	return e.devFallbackCity(), nil, nil
}

func (e *Engine) devFallbackCity() string {
	if e.dev && len(e.serviceAreas) > 0 {
		return e.serviceAreas[0]
	}
	return ""
}

func (e *Engine) inServiceArea(city string) bool {
	city = strings.TrimSpace(city)
	for _, area := range e.serviceAreas {
		if strings.EqualFold(city, strings.TrimSpace(area)) {
			return true
		}
	}
	return false
}

// ServiceInput is the step-2 submission.
type ServiceInput struct {
	ServiceType string
	Urgency     string
	Description string
	CarMake     string
	CarModel    string
	CarYear     int
}

// SelectService records the requested service, computes the deposit and
// broadcasts the request to locksmiths for quotes. Broadcast failures
// are logged but never block the funnel.
func (e *Engine) SelectService(ctx context.Context, id string, in ServiceInput) (*Session, error) {
	ctx, span := sessionTracer.Start(ctx, "sessions.select_service")
	defer span.End()
	span.SetAttributes(
		attribute.String("locksmith.session_id", id),
		attribute.String("locksmith.service_type", in.ServiceType),
	)

	if !pricing.ValidServiceType(in.ServiceType) {
		return nil, fmt.Errorf("%w: unknown service type %q", ErrValidation, in.ServiceType)
	}
	if in.Urgency == "" {
		in.Urgency = pricing.UrgencyStandard
	}
	if !pricing.ValidUrgency(in.Urgency) {
		return nil, fmt.Errorf("%w: unknown urgency %q", ErrValidation, in.Urgency)
	}
	if in.ServiceType == pricing.ServiceCarLockout {
		if strings.TrimSpace(in.CarMake) == "" || strings.TrimSpace(in.CarModel) == "" {
			return nil, fmt.Errorf("%w: car make and model required for car lockouts", ErrValidation)
		}
	}

	deposit, err := pricing.DepositCents(e.deposits, in.ServiceType, in.Urgency)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrValidation, err)
	}

	upd := ServiceUpdate{
		ServiceType:   in.ServiceType,
		Urgency:       in.Urgency,
		Description:   strings.TrimSpace(in.Description),
		DepositAmount: deposit,
		CarMake:       strings.TrimSpace(in.CarMake),
		CarModel:      strings.TrimSpace(in.CarModel),
		CarYear:       in.CarYear,
		NewStatus:     e.serviceStatus(),
	}
	if err := e.repo.ApplyService(ctx, id, upd); err != nil {
		return nil, err
	}

	e.logEvent(ctx, id, audit.EventServiceSelected, map[string]any{
		"service_type":   in.ServiceType,
		"urgency":        in.Urgency,
		"deposit_amount": deposit,
	})

	s, err := e.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}

	if e.broadcaster != nil {
		sent, err := e.broadcaster.BroadcastQuotes(ctx, s)
		if err != nil {
			e.logger.Error("quote broadcast failed", "session_id", id, "error", err)
		} else {
			e.logger.Info("quote broadcast sent", "session_id", id, "offers", sent)
		}
	}
	return s, nil
}

// serviceStatus picks the post-selection status: pending_approval when
// quotes are broadcast, service_selected on the direct-pay path.
func (e *Engine) serviceStatus() string {
	if e.broadcaster != nil {
		return StatusPendingApproval
	}
	return StatusServiceSelected
}

// PaymentIntentResult carries the client-side payment handle.
type PaymentIntentResult struct {
	Session      *Session
	IntentID     string
	ClientSecret string
}

// RequestPayment creates the deposit payment intent and moves the
// session to payment_pending.
func (e *Engine) RequestPayment(ctx context.Context, id string) (*PaymentIntentResult, error) {
	ctx, span := sessionTracer.Start(ctx, "sessions.request_payment")
	defer span.End()
	span.SetAttributes(attribute.String("locksmith.session_id", id))

	s, err := e.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if s.Status != StatusPendingApproval && s.Status != StatusServiceSelected {
		return nil, fmt.Errorf("%w: session %s is %s", ErrPrecondition, id, s.Status)
	}
	if s.DepositAmount <= 0 {
		return nil, fmt.Errorf("%w: no deposit on session", ErrValidation)
	}

	intent, err := e.payments.CreateIntent(ctx, id, s.DepositAmount)
	if err != nil {
		return nil, fmt.Errorf("sessions: create payment intent: %w", err)
	}
	if err := e.repo.ApplyPaymentIntent(ctx, id, intent.ID); err != nil {
		return nil, err
	}

	e.logEvent(ctx, id, audit.EventPaymentRequested, map[string]any{
		"payment_intent_id": intent.ID,
		"amount":            s.DepositAmount,
	})

	s, err = e.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	return &PaymentIntentResult{Session: s, IntentID: intent.ID, ClientSecret: intent.ClientSecret}, nil
}

// CompleteResult reports the finished funnel plus the created job.
type CompleteResult struct {
	Session *Session
	JobID   string
}

// Complete confirms the deposit payment, finishes the session and hands
// the resulting job to the dispatch queue. Confirmation SMS and queue
// failures are logged, not returned; the customer has already paid.
func (e *Engine) Complete(ctx context.Context, id string) (*CompleteResult, error) {
	ctx, span := sessionTracer.Start(ctx, "sessions.complete")
	defer span.End()
	span.SetAttributes(attribute.String("locksmith.session_id", id))

	s, err := e.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if s.Status != StatusPaymentPending {
		return nil, fmt.Errorf("%w: session %s is %s", ErrPrecondition, id, s.Status)
	}
	if s.PaymentIntentID == "" {
		return nil, fmt.Errorf("%w: no payment intent on session", ErrValidation)
	}

	paid, err := e.payments.Confirm(ctx, s.PaymentIntentID)
	if err != nil {
		return nil, fmt.Errorf("sessions: confirm payment: %w", err)
	}
	if !paid {
		return nil, fmt.Errorf("%w: payment not completed", ErrValidation)
	}

	if err := e.repo.CompletePayment(ctx, id); err != nil {
		return nil, err
	}
	e.logEvent(ctx, id, audit.EventPaymentCompleted, map[string]any{
		"payment_intent_id": s.PaymentIntentID,
		"amount":            s.DepositAmount,
	})

	s, err = e.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}

	var jobID string
	if e.jobs != nil {
		jobID, err = e.jobs.CreateFromSession(ctx, s)
		if err != nil {
			return nil, fmt.Errorf("sessions: create job: %w", err)
		}
	}

	if e.sender != nil && s.CustomerPhone != "" {
		if _, err := e.sender.Send(ctx, messaging.SendRequest{
			To:    s.CustomerPhone,
			Body:  ConfirmationMessage,
			JobID: jobID,
		}); err != nil {
			e.logger.Error("confirmation sms failed", "session_id", id, "error", err)
		}
	}

	if jobID != "" && e.dispatch != nil {
		if err := e.dispatch.EnqueueDispatch(ctx, jobID); err != nil {
			e.logger.Error("dispatch enqueue failed", "job_id", jobID, "error", err)
		}
	}

	return &CompleteResult{Session: s, JobID: jobID}, nil
}

// AbandonStale sweeps idle sessions into the abandoned status and audits
// each one. Returns the number swept.
func (e *Engine) AbandonStale(ctx context.Context, olderThan time.Duration) (int, error) {
	ids, err := e.repo.AbandonStale(ctx, olderThan)
	if err != nil {
		return 0, err
	}
	for _, id := range ids {
		e.logEvent(ctx, id, audit.EventSessionAbandoned, map[string]any{
			"idle_for": olderThan.String(),
		})
	}
	if len(ids) > 0 {
		e.logger.Info("abandoned stale sessions", "count", len(ids))
	}
	return len(ids), nil
}

func (e *Engine) logEvent(ctx context.Context, sessionID, eventType string, payload map[string]any) {
	if e.audit == nil {
		return
	}
	if err := e.audit.Log(ctx, "request_session", sessionID, eventType, payload); err != nil {
		e.logger.Error("audit log failed", "session_id", sessionID, "event", eventType, "error", err)
	}
}
