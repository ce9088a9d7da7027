package dispatch

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/keyrush/locksmith-dispatch/internal/audit"
	"github.com/keyrush/locksmith-dispatch/internal/jobs"
	"github.com/keyrush/locksmith-dispatch/internal/messaging"
	"github.com/keyrush/locksmith-dispatch/internal/observability/metrics"
	"github.com/keyrush/locksmith-dispatch/internal/pricing"
	"github.com/keyrush/locksmith-dispatch/internal/providers"
	"github.com/keyrush/locksmith-dispatch/internal/sessions"
	"github.com/keyrush/locksmith-dispatch/pkg/logging"
)

var dispatchTracer = otel.Tracer("locksmith.internal.dispatch")

// SMS bodies and webhook replies.
const (
	ReplyNoPendingOffers = "No pending job offers found."
	ReplyAlreadyAssigned = "Job already assigned."
	ReplyJobUnavailable  = "Job no longer available."
	ReplyJobAssigned     = "Job assigned successfully."
	ReplyOfferDeclined   = "Offer declined."
	ReplyQuoteFormat     = "To quote, reply like: Y $100 to quote, or N to decline."

	// DispatchFailedMessage is texted to the customer when no locksmith
	// can take the job.
	DispatchFailedMessage = "We're sorry, we couldn't find an available locksmith for your request. A refund will be processed."
)

const assignmentLockTTL = 30 * time.Second

// OfferStore is the slice of the offer repository the engine uses.
type OfferStore interface {
	Insert(ctx context.Context, o *Offer) error
	InsertWave(ctx context.Context, offers []*Offer) error
	MostRecentPending(ctx context.Context, locksmithID string) (*Offer, error)
	Accept(ctx context.Context, id string, quotedPrice *int64) error
	Decline(ctx context.Context, id string) error
	Cancel(ctx context.Context, id string) error
	CancelOtherPending(ctx context.Context, jobID, winnerOfferID string) (int, error)
	CancelPendingForJob(ctx context.Context, jobID string) (int, error)
	PendingCountForJob(ctx context.Context, jobID string) (int, error)
	ContactedLocksmithIDs(ctx context.Context, jobID string) ([]string, error)
}

// JobStore is the slice of the job repository the engine uses.
type JobStore interface {
	GetByID(ctx context.Context, id string) (*jobs.Job, error)
	MarkDispatching(ctx context.Context, id string) error
	AdvanceWave(ctx context.Context, id string) (int, error)
	Assign(ctx context.Context, id, locksmithID string) error
	MarkFailed(ctx context.Context, id string) error
}

// SessionStore looks sessions up for quote notifications.
type SessionStore interface {
	GetByID(ctx context.Context, id string) (*sessions.Session, error)
}

// ProviderDirectory selects eligible locksmiths for fan-out.
type ProviderDirectory interface {
	FindAvailableForJob(ctx context.Context, city, serviceType string, excludeIDs []string, limit int) ([]*providers.Locksmith, error)
}

// Locker is the named-lock primitive guarding assignment.
type Locker interface {
	TryAcquire(ctx context.Context, key string, ttl time.Duration) (string, bool, error)
	Release(ctx context.Context, key, token string) error
}

// OpsAlerter emails the operator when dispatch fails. Optional.
type OpsAlerter interface {
	NotifyDispatchFailed(ctx context.Context, j *jobs.Job, reason string) error
}

// Engine runs both dispatch modes and reconciles SMS replies.
type Engine struct {
	offers    OfferStore
	jobs      JobStore
	sessions  SessionStore
	directory ProviderDirectory
	sender    messaging.Sender
	locker    Locker
	alerts    OpsAlerter
	audit     *audit.Service
	metrics   *metrics.DispatchMetrics
	logger    *logging.Logger

	waveSize    int
	waveDelay   time.Duration
	frontendURL string
}

// EngineOptions wires the dispatcher.
type EngineOptions struct {
	Offers      OfferStore
	Jobs        JobStore
	Sessions    SessionStore
	Directory   ProviderDirectory
	Sender      messaging.Sender
	Locker      Locker
	Alerts      OpsAlerter
	Audit       *audit.Service
	Metrics     *metrics.DispatchMetrics
	Logger      *logging.Logger
	WaveSize    int
	WaveDelay   time.Duration
	FrontendURL string
}

// NewEngine validates required collaborators and builds the dispatcher.
func NewEngine(opts EngineOptions) *Engine {
	if opts.Offers == nil {
		panic("dispatch: offer store required")
	}
	if opts.Directory == nil {
		panic("dispatch: provider directory required")
	}
	if opts.Logger == nil {
		opts.Logger = logging.Default()
	}
	if opts.WaveSize <= 0 {
		opts.WaveSize = 3
	}
	if opts.WaveDelay <= 0 {
		opts.WaveDelay = 2 * time.Minute
	}
	return &Engine{
		offers:      opts.Offers,
		jobs:        opts.Jobs,
		sessions:    opts.Sessions,
		directory:   opts.Directory,
		sender:      opts.Sender,
		locker:      opts.Locker,
		alerts:      opts.Alerts,
		audit:       opts.Audit,
		metrics:     opts.Metrics,
		logger:      opts.Logger,
		waveSize:    opts.WaveSize,
		waveDelay:   opts.WaveDelay,
		frontendURL: strings.TrimRight(opts.FrontendURL, "/"),
	}
}

// BroadcastQuotes fans a pending-approval session out to every eligible
// locksmith in its city, soliciting price quotes. Offers carry no expiry
// and many may be accepted; the customer picks among the quotes.
func (e *Engine) BroadcastQuotes(ctx context.Context, s *sessions.Session) (int, error) {
	ctx, span := dispatchTracer.Start(ctx, "dispatch.broadcast_quotes")
	defer span.End()
	span.SetAttributes(attribute.String("locksmith.session_id", s.ID))

	eligible, err := e.directory.FindAvailableForJob(ctx, s.City, s.ServiceType, nil, 0)
	if err != nil {
		return 0, fmt.Errorf("dispatch: find eligible locksmiths: %w", err)
	}
	if len(eligible) == 0 {
		e.logger.Warn("no eligible locksmiths for quote broadcast", "session_id", s.ID, "city", s.City)
		return 0, nil
	}

	body := quoteRequestBody(s)
	sent := 0
	var locksmithIDs []string
	for _, l := range eligible {
		sid := e.sendOfferSMS(ctx, "request_session", s.ID, l, body)
		offer := &Offer{
			SessionID:   s.ID,
			LocksmithID: l.ID,
			WaveNumber:  1,
			MessageSid:  sid,
		}
		if err := e.offers.Insert(ctx, offer); err != nil {
			e.logger.Error("offer insert failed", "session_id", s.ID, "locksmith_id", l.ID, "error", err)
			continue
		}
		locksmithIDs = append(locksmithIDs, l.ID)
		if sid != "" {
			sent++
		}
	}

	e.metrics.ObserveWave("session")
	e.logEvent(ctx, "request_session", s.ID, audit.EventWaveSent, map[string]any{
		"wave_number":   1,
		"offers_sent":   sent,
		"locksmith_ids": locksmithIDs,
	})
	return sent, nil
}

// quoteRequestBody renders the Mode A offer SMS.
func quoteRequestBody(s *sessions.Session) string {
	var b strings.Builder
	fmt.Fprintf(&b, "New %s request - %s\n", pricing.ServiceName(s.ServiceType), pricing.UrgencyLabel(s.Urgency))
	fmt.Fprintf(&b, "Location: %s\n", s.Address)
	if s.ServiceType == pricing.ServiceCarLockout {
		vehicle := strings.TrimSpace(fmt.Sprintf("%s %s %s", yearString(s.CarYear), s.CarMake, s.CarModel))
		fmt.Fprintf(&b, "Vehicle: %s\n", vehicle)
	}
	if s.Description != "" {
		fmt.Fprintf(&b, "Details: %s\n", s.Description)
	}
	b.WriteString("Reply like this: Y $100 to quote, or N to decline.")
	return b.String()
}

func yearString(year int) string {
	if year == 0 {
		return ""
	}
	return fmt.Sprintf("%d", year)
}

// Dispatch is the queue task handler: it starts dispatch for new jobs
// and progresses stalled ones. Safe to re-deliver; every step re-checks
// the job row.
func (e *Engine) Dispatch(ctx context.Context, jobID string) error {
	ctx, span := dispatchTracer.Start(ctx, "dispatch.dispatch_job")
	defer span.End()
	span.SetAttributes(attribute.String("locksmith.job_id", jobID))

	j, err := e.jobs.GetByID(ctx, jobID)
	if err != nil {
		return err
	}

	switch j.Status {
	case jobs.StatusCreated:
		if err := e.jobs.MarkDispatching(ctx, jobID); err != nil {
			if errors.Is(err, jobs.ErrPrecondition) {
				// Another worker won the row; nothing to do.
				return nil
			}
			return err
		}
		e.logEvent(ctx, "job", jobID, audit.EventDispatchStarted, nil)
		return e.sendWave(ctx, jobID)
	case jobs.StatusDispatching, jobs.StatusOffered:
		pending, err := e.offers.PendingCountForJob(ctx, jobID)
		if err != nil {
			return err
		}
		if pending == 0 {
			return e.sendWave(ctx, jobID)
		}
		return nil
	default:
		e.logger.Info("dispatch task skipped", "job_id", jobID, "status", j.Status)
		return nil
	}
}

// sendWave offers the job to the next WAVE_SIZE locksmiths never
// contacted for it. An empty pool fails the job and notifies the
// customer that a refund is coming.
func (e *Engine) sendWave(ctx context.Context, jobID string) error {
	j, err := e.jobs.GetByID(ctx, jobID)
	if err != nil {
		return err
	}
	if !j.Assignable() {
		return nil
	}

	contacted, err := e.offers.ContactedLocksmithIDs(ctx, jobID)
	if err != nil {
		return err
	}
	eligible, err := e.directory.FindAvailableForJob(ctx, j.City, j.ServiceType, contacted, e.waveSize)
	if err != nil {
		return fmt.Errorf("dispatch: find eligible locksmiths: %w", err)
	}
	if len(eligible) == 0 {
		return e.failDispatch(ctx, j, len(contacted))
	}

	wave, err := e.jobs.AdvanceWave(ctx, jobID)
	if err != nil {
		if errors.Is(err, jobs.ErrPrecondition) {
			return nil
		}
		return err
	}

	expiresAt := time.Now().UTC().Add(e.waveDelay)
	body := fmt.Sprintf("New job! %s at %s. Reply YES to accept or NO to decline.",
		pricing.ServiceName(j.ServiceType), j.City)

	sent := 0
	offers := make([]*Offer, 0, len(eligible))
	locksmithIDs := make([]string, 0, len(eligible))
	for _, l := range eligible {
		sid := e.sendOfferSMS(ctx, "job", jobID, l, body)
		offers = append(offers, &Offer{
			JobID:       jobID,
			LocksmithID: l.ID,
			WaveNumber:  wave,
			MessageSid:  sid,
			ExpiresAt:   &expiresAt,
		})
		locksmithIDs = append(locksmithIDs, l.ID)
		if sid != "" {
			sent++
		}
	}
	if err := e.offers.InsertWave(ctx, offers); err != nil {
		return err
	}

	e.metrics.ObserveWave("job")
	e.logEvent(ctx, "job", jobID, audit.EventWaveSent, map[string]any{
		"wave_number":   wave,
		"offers_sent":   sent,
		"locksmith_ids": locksmithIDs,
	})
	e.logger.Info("wave sent", "job_id", jobID, "wave", wave, "offers", len(offers))
	return nil
}

// failDispatch ends dispatch with no assignment and queues the refund
// notice to the customer.
func (e *Engine) failDispatch(ctx context.Context, j *jobs.Job, contacted int) error {
	if err := e.jobs.MarkFailed(ctx, j.ID); err != nil {
		if errors.Is(err, jobs.ErrPrecondition) {
			return nil
		}
		return err
	}

	reason := "no_locksmiths_available"
	if contacted > 0 {
		reason = "pool_exhausted"
	}
	e.logEvent(ctx, "job", j.ID, audit.EventDispatchFailed, map[string]any{
		"reason": reason,
	})
	e.metrics.ObserveAssignment("failed")

	if e.sender != nil && j.CustomerPhone != "" {
		if _, err := e.sender.Send(ctx, messaging.SendRequest{
			To:    j.CustomerPhone,
			Body:  DispatchFailedMessage,
			JobID: j.ID,
		}); err != nil {
			e.logger.Error("dispatch failure sms failed", "job_id", j.ID, "error", err)
		}
	}
	if e.alerts != nil {
		if err := e.alerts.NotifyDispatchFailed(ctx, j, reason); err != nil {
			e.logger.Error("dispatch failure alert failed", "job_id", j.ID, "error", err)
		}
	}
	e.logger.Warn("dispatch failed", "job_id", j.ID, "reason", reason)
	return nil
}

// HandleAccept resolves a YES reply against the locksmith's most recent
// pending offer and returns the webhook reply body.
func (e *Engine) HandleAccept(ctx context.Context, locksmith *providers.Locksmith, cmd messaging.Command) string {
	ctx, span := dispatchTracer.Start(ctx, "dispatch.handle_accept")
	defer span.End()
	span.SetAttributes(attribute.String("locksmith.locksmith_id", locksmith.ID))

	offer, err := e.offers.MostRecentPending(ctx, locksmith.ID)
	if err != nil {
		if errors.Is(err, ErrOfferNotFound) {
			return ReplyNoPendingOffers
		}
		e.logger.Error("pending offer lookup failed", "locksmith_id", locksmith.ID, "error", err)
		return ReplyNoPendingOffers
	}

	if offer.JobScoped() {
		return e.acceptJobOffer(ctx, offer, locksmith)
	}
	return e.acceptQuote(ctx, offer, locksmith, cmd)
}

// acceptQuote records a session-scoped price quote and notifies the
// customer. Multiple locksmiths may quote the same session.
func (e *Engine) acceptQuote(ctx context.Context, offer *Offer, locksmith *providers.Locksmith, cmd messaging.Command) string {
	if !cmd.HasPrice {
		return ReplyQuoteFormat
	}
	price := cmd.PriceCents

	if err := e.offers.Accept(ctx, offer.ID, &price); err != nil {
		if errors.Is(err, ErrOfferResolved) {
			return ReplyNoPendingOffers
		}
		e.logger.Error("quote accept failed", "offer_id", offer.ID, "error", err)
		return ReplyNoPendingOffers
	}

	e.metrics.ObserveOffer("accepted")
	e.logEvent(ctx, "job_offer", offer.ID, audit.EventQuoteReceived, map[string]any{
		"locksmith_id": locksmith.ID,
		"quoted_price": price,
	})

	e.notifyQuote(ctx, offer.SessionID, locksmith, price)
	return fmt.Sprintf("Quote received: %s. Customer will be notified.", pricing.FormatCents(price))
}

func (e *Engine) notifyQuote(ctx context.Context, sessionID string, locksmith *providers.Locksmith, priceCents int64) {
	if e.sender == nil || e.sessions == nil {
		return
	}
	s, err := e.sessions.GetByID(ctx, sessionID)
	if err != nil {
		e.logger.Error("session lookup for quote notify failed", "session_id", sessionID, "error", err)
		return
	}
	if s.CustomerPhone == "" {
		return
	}
	body := fmt.Sprintf("%s has quoted %s for your %s. View your quotes: %s/quotes/%s",
		locksmith.DisplayName, pricing.FormatCents(priceCents),
		pricing.ServiceName(s.ServiceType), e.frontendURL, sessionID)
	if _, err := e.sender.Send(ctx, messaging.SendRequest{
		To:          s.CustomerPhone,
		Body:        body,
		LocksmithID: locksmith.ID,
	}); err != nil {
		e.logger.Error("quote notify sms failed", "session_id", sessionID, "error", err)
	}
}

// acceptJobOffer runs the assignment critical section: only one YES can
// win a job, serialized by a short-TTL named lock.
func (e *Engine) acceptJobOffer(ctx context.Context, offer *Offer, locksmith *providers.Locksmith) string {
	jobID := offer.JobID

	if e.locker == nil {
		e.logger.Error("assignment attempted without a locker", "job_id", jobID)
		return ReplyJobUnavailable
	}
	token, acquired, err := e.locker.TryAcquire(ctx, "job_assignment:"+jobID, assignmentLockTTL)
	if err != nil || !acquired {
		if err != nil {
			e.logger.Error("assignment lock failed", "job_id", jobID, "error", err)
		}
		e.cancelOffer(ctx, offer.ID)
		e.metrics.ObserveAssignment("lost_race")
		return ReplyAlreadyAssigned
	}
	defer func() {
		if err := e.locker.Release(ctx, "job_assignment:"+jobID, token); err != nil {
			e.logger.Warn("assignment lock release failed", "job_id", jobID, "error", err)
		}
	}()

	j, err := e.jobs.GetByID(ctx, jobID)
	if err != nil {
		e.logger.Error("job lookup failed", "job_id", jobID, "error", err)
		e.cancelOffer(ctx, offer.ID)
		return ReplyJobUnavailable
	}
	if !j.Assignable() {
		e.cancelOffer(ctx, offer.ID)
		e.metrics.ObserveAssignment("unavailable")
		return ReplyJobUnavailable
	}

	if err := e.offers.Accept(ctx, offer.ID, nil); err != nil {
		e.logger.Error("offer accept failed", "offer_id", offer.ID, "error", err)
		return ReplyJobUnavailable
	}
	if err := e.jobs.Assign(ctx, jobID, locksmith.ID); err != nil {
		e.logger.Error("job assign failed", "job_id", jobID, "error", err)
		return ReplyJobUnavailable
	}
	if _, err := e.offers.CancelOtherPending(ctx, jobID, offer.ID); err != nil {
		e.logger.Error("losing offer cancelation failed", "job_id", jobID, "error", err)
	}

	e.metrics.ObserveOffer("accepted")
	e.metrics.ObserveAssignment("assigned")
	e.logEvent(ctx, "job", jobID, audit.EventJobAssigned, map[string]any{
		"locksmith_id":   locksmith.ID,
		"locksmith_name": locksmith.DisplayName,
		"wave_number":    offer.WaveNumber,
	})

	if e.sender != nil {
		if _, err := e.sender.Send(ctx, messaging.SendRequest{
			To:          locksmith.Phone,
			Body:        fmt.Sprintf("Job confirmed! Customer: %s at %s. Please head there now.", j.CustomerName, j.Address),
			JobID:       jobID,
			LocksmithID: locksmith.ID,
		}); err != nil {
			e.logger.Error("assignment sms to locksmith failed", "job_id", jobID, "error", err)
		}
		if j.CustomerPhone != "" {
			if _, err := e.sender.Send(ctx, messaging.SendRequest{
				To:    j.CustomerPhone,
				Body:  fmt.Sprintf("Good news! %s is on the way to help you.", locksmith.DisplayName),
				JobID: jobID,
			}); err != nil {
				e.logger.Error("assignment sms to customer failed", "job_id", jobID, "error", err)
			}
		}
	}
	return ReplyJobAssigned
}

// HandleDecline resolves a NO reply and, for job-scoped offers,
// progresses to the next wave when the current one is exhausted.
func (e *Engine) HandleDecline(ctx context.Context, locksmith *providers.Locksmith) string {
	ctx, span := dispatchTracer.Start(ctx, "dispatch.handle_decline")
	defer span.End()
	span.SetAttributes(attribute.String("locksmith.locksmith_id", locksmith.ID))

	offer, err := e.offers.MostRecentPending(ctx, locksmith.ID)
	if err != nil {
		if errors.Is(err, ErrOfferNotFound) {
			return ReplyNoPendingOffers
		}
		e.logger.Error("pending offer lookup failed", "locksmith_id", locksmith.ID, "error", err)
		return ReplyNoPendingOffers
	}

	if err := e.offers.Decline(ctx, offer.ID); err != nil {
		if errors.Is(err, ErrOfferResolved) {
			return ReplyNoPendingOffers
		}
		e.logger.Error("offer decline failed", "offer_id", offer.ID, "error", err)
		return ReplyNoPendingOffers
	}

	e.metrics.ObserveOffer("declined")
	e.logEvent(ctx, "job_offer", offer.ID, audit.EventOfferDeclined, map[string]any{
		"locksmith_id": locksmith.ID,
	})

	if offer.JobScoped() {
		e.progressWave(ctx, offer.JobID)
	}
	return ReplyOfferDeclined
}

// progressWave sends the next wave when a job-scoped wave has fully
// resolved without a winner.
func (e *Engine) progressWave(ctx context.Context, jobID string) {
	pending, err := e.offers.PendingCountForJob(ctx, jobID)
	if err != nil {
		e.logger.Error("pending count failed", "job_id", jobID, "error", err)
		return
	}
	if pending > 0 {
		return
	}
	j, err := e.jobs.GetByID(ctx, jobID)
	if err != nil {
		e.logger.Error("job lookup failed", "job_id", jobID, "error", err)
		return
	}
	if j.Status != jobs.StatusOffered {
		return
	}
	if err := e.sendWave(ctx, jobID); err != nil {
		e.logger.Error("wave progression failed", "job_id", jobID, "error", err)
	}
}

// CancelPendingForJob withdraws a job's outstanding offers. Used by
// admin overrides.
func (e *Engine) CancelPendingForJob(ctx context.Context, jobID, reason string) (int, error) {
	n, err := e.offers.CancelPendingForJob(ctx, jobID)
	if err != nil {
		return 0, err
	}
	if n > 0 {
		e.logEvent(ctx, "job", jobID, audit.EventDispatchCanceled, map[string]any{
			"reason":           reason,
			"offers_withdrawn": n,
		})
	}
	return n, nil
}

// sendOfferSMS sends one offer SMS. Failures are logged and audited but
// never abort a fan-out; the returned sid is empty on failure.
func (e *Engine) sendOfferSMS(ctx context.Context, entityType, entityID string, l *providers.Locksmith, body string) string {
	if e.sender == nil {
		return ""
	}
	req := messaging.SendRequest{
		To:          l.Phone,
		Body:        body,
		LocksmithID: l.ID,
	}
	if entityType == "job" {
		req.JobID = entityID
	}
	sid, err := e.sender.Send(ctx, req)
	if err != nil {
		e.logger.Error("offer sms failed", "locksmith_id", l.ID, "error", err)
		e.metrics.ObserveOffer("send_failed")
		e.logEvent(ctx, entityType, entityID, audit.EventOfferSendFailed, map[string]any{
			"locksmith_id": l.ID,
			"error":        err.Error(),
		})
		return ""
	}
	e.metrics.ObserveOffer("sent")
	return sid
}

func (e *Engine) cancelOffer(ctx context.Context, offerID string) {
	if err := e.offers.Cancel(ctx, offerID); err != nil && !errors.Is(err, ErrOfferResolved) {
		e.logger.Error("offer cancel failed", "offer_id", offerID, "error", err)
	}
}

func (e *Engine) logEvent(ctx context.Context, entityType, entityID, eventType string, payload map[string]any) {
	if e.audit == nil {
		return
	}
	if err := e.audit.Log(ctx, entityType, entityID, eventType, payload); err != nil {
		e.logger.Error("audit log failed", "entity_id", entityID, "event", eventType, "error", err)
	}
}
