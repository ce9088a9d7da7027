package jobs

import (
	"context"
	"fmt"

	"github.com/keyrush/locksmith-dispatch/internal/audit"
	"github.com/keyrush/locksmith-dispatch/internal/messaging"
	"github.com/keyrush/locksmith-dispatch/internal/payments"
	"github.com/keyrush/locksmith-dispatch/internal/providers"
	"github.com/keyrush/locksmith-dispatch/pkg/logging"
)

// OfferCanceler withdraws still-pending offers when an admin overrides
// dispatch. Returns the number of offers canceled.
type OfferCanceler interface {
	CancelPendingForJob(ctx context.Context, jobID, reason string) (int, error)
}

// DispatchQueue re-enqueues a job for the background dispatcher.
type DispatchQueue interface {
	EnqueueDispatch(ctx context.Context, jobID string) error
}

// Refunder issues deposit refunds against the payment provider.
type Refunder interface {
	RefundByIntent(ctx context.Context, intentID string, amountCents int64, reason string) (*payments.Refund, error)
}

// LocksmithDirectory looks up providers for manual assignment.
type LocksmithDirectory interface {
	GetByID(ctx context.Context, id string) (*providers.Locksmith, error)
}

// RefundAlerter emails the operator after a refund goes out. Optional.
type RefundAlerter interface {
	NotifyRefundProcessed(ctx context.Context, j *Job, refundID string, amountCents int64, reason string) error
}

// AdminService implements the console's job overrides: manual
// assignment, lifecycle transitions, refunds and dispatch control.
type AdminService struct {
	repo       *Repository
	locksmiths LocksmithDirectory
	offers     OfferCanceler
	queue      DispatchQueue
	refunder   Refunder
	sender     messaging.Sender
	alerts     RefundAlerter
	audit      *audit.Service
	logger     *logging.Logger
}

// NewAdminService wires the admin overrides. offers, queue, refunder and
// sender may be nil when the corresponding feature is disabled.
func NewAdminService(repo *Repository, locksmiths LocksmithDirectory, offers OfferCanceler, queue DispatchQueue, refunder Refunder, sender messaging.Sender, auditSvc *audit.Service, logger *logging.Logger) *AdminService {
	if repo == nil {
		panic("jobs: repository required")
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &AdminService{
		repo:       repo,
		locksmiths: locksmiths,
		offers:     offers,
		queue:      queue,
		refunder:   refunder,
		sender:     sender,
		audit:      auditSvc,
		logger:     logger,
	}
}

// WithAlerts attaches the operator alert service for refund notices.
func (s *AdminService) WithAlerts(alerts RefundAlerter) *AdminService {
	s.alerts = alerts
	return s
}

// Assign hands the job to a specific locksmith, skipping dispatch. The
// locksmith must be active; outstanding offers are withdrawn and the
// locksmith is texted the job details when notify is set.
func (s *AdminService) Assign(ctx context.Context, jobID, locksmithID, actorEmail string, notify bool) (*Job, error) {
	locksmith, err := s.lookupLocksmith(ctx, locksmithID)
	if err != nil {
		return nil, err
	}
	if !locksmith.IsActive {
		return nil, fmt.Errorf("%w: locksmith %s is inactive", ErrPrecondition, locksmithID)
	}

	if err := s.repo.Assign(ctx, jobID, locksmithID); err != nil {
		return nil, err
	}
	s.cancelPendingOffers(ctx, jobID, "admin_assign")

	j, err := s.repo.GetByID(ctx, jobID)
	if err != nil {
		return nil, err
	}

	if notify && s.sender != nil {
		body := fmt.Sprintf("Job confirmed! Customer: %s at %s. Please head there now.", j.CustomerName, j.Address)
		if _, err := s.sender.Send(ctx, messaging.SendRequest{
			To:          locksmith.Phone,
			Body:        body,
			JobID:       jobID,
			LocksmithID: locksmithID,
		}); err != nil {
			s.logger.Error("assignment sms failed", "job_id", jobID, "locksmith_id", locksmithID, "error", err)
		}
	}

	s.logAdmin(ctx, jobID, "assign", actorEmail, map[string]any{
		"locksmith_id": locksmithID,
		"notified":     notify,
	})
	return j, nil
}

// MarkEnRoute records that the assigned locksmith is on the way.
func (s *AdminService) MarkEnRoute(ctx context.Context, jobID, actorEmail string) (*Job, error) {
	if err := s.repo.MarkEnRoute(ctx, jobID); err != nil {
		return nil, err
	}
	s.logAdmin(ctx, jobID, "en_route", actorEmail, nil)
	return s.repo.GetByID(ctx, jobID)
}

// MarkCompleted closes out a finished job.
func (s *AdminService) MarkCompleted(ctx context.Context, jobID, actorEmail string) (*Job, error) {
	if err := s.repo.MarkCompleted(ctx, jobID); err != nil {
		return nil, err
	}
	s.logAdmin(ctx, jobID, "complete", actorEmail, nil)
	return s.repo.GetByID(ctx, jobID)
}

// Cancel ends the job and withdraws any outstanding offers.
func (s *AdminService) Cancel(ctx context.Context, jobID, actorEmail, reason string) (*Job, error) {
	if err := s.repo.Cancel(ctx, jobID); err != nil {
		return nil, err
	}
	s.cancelPendingOffers(ctx, jobID, "job_canceled")
	s.logAdmin(ctx, jobID, "cancel", actorEmail, map[string]any{"reason": reason})
	return s.repo.GetByID(ctx, jobID)
}

// Refund refunds the deposit (or amountCents of it, when positive) and
// records the refund on the job. Re-running a refund is safe: the
// provider reports already-refunded charges as success.
func (s *AdminService) Refund(ctx context.Context, jobID string, amountCents int64, reason, actorEmail string) (*Job, error) {
	if s.refunder == nil {
		return nil, fmt.Errorf("jobs: refunds not configured")
	}

	j, err := s.repo.GetByID(ctx, jobID)
	if err != nil {
		return nil, err
	}
	if j.PaymentIntentID == "" {
		return nil, ErrNoIntent
	}
	if amountCents <= 0 || amountCents > j.DepositAmount {
		amountCents = j.DepositAmount
	}

	refund, err := s.refunder.RefundByIntent(ctx, j.PaymentIntentID, amountCents, reason)
	if err != nil {
		return nil, fmt.Errorf("jobs: refund failed: %w", err)
	}
	if err := s.repo.SetRefund(ctx, jobID, refund.ID, amountCents); err != nil {
		return nil, err
	}

	if s.audit != nil {
		if err := s.audit.Log(ctx, "job", jobID, audit.EventRefundProcessed, map[string]any{
			"refund_id": refund.ID,
			"amount":    amountCents,
			"reason":    reason,
		}); err != nil {
			s.logger.Error("audit log failed", "job_id", jobID, "error", err)
		}
	}
	if s.alerts != nil {
		if err := s.alerts.NotifyRefundProcessed(ctx, j, refund.ID, amountCents, reason); err != nil {
			s.logger.Error("refund alert failed", "job_id", jobID, "error", err)
		}
	}
	return s.repo.GetByID(ctx, jobID)
}

// RestartDispatch rewinds the job and re-enqueues it for dispatch.
func (s *AdminService) RestartDispatch(ctx context.Context, jobID, actorEmail string) (*Job, error) {
	s.cancelPendingOffers(ctx, jobID, "dispatch_restarted")
	if err := s.repo.ResetForDispatch(ctx, jobID); err != nil {
		return nil, err
	}
	if err := s.enqueue(ctx, jobID); err != nil {
		return nil, err
	}
	if s.audit != nil {
		if err := s.audit.Log(ctx, "job", jobID, audit.EventDispatchRestarted, map[string]any{
			"actor": actorEmail,
		}); err != nil {
			s.logger.Error("audit log failed", "job_id", jobID, "error", err)
		}
	}
	return s.repo.GetByID(ctx, jobID)
}

// NextWave withdraws the current wave's offers and re-enqueues the job so
// the dispatcher sends the next wave immediately.
func (s *AdminService) NextWave(ctx context.Context, jobID, actorEmail string) (*Job, error) {
	j, err := s.repo.GetByID(ctx, jobID)
	if err != nil {
		return nil, err
	}
	if !j.Assignable() {
		return nil, fmt.Errorf("%w: job %s is %s", ErrPrecondition, jobID, j.Status)
	}
	s.cancelPendingOffers(ctx, jobID, "next_wave")
	if err := s.enqueue(ctx, jobID); err != nil {
		return nil, err
	}
	s.logAdmin(ctx, jobID, "next_wave", actorEmail, nil)
	return s.repo.GetByID(ctx, jobID)
}

// CancelDispatch stops dispatch without canceling the whole job: offers
// are withdrawn and the job is marked failed so a refund can follow.
func (s *AdminService) CancelDispatch(ctx context.Context, jobID, actorEmail string) (*Job, error) {
	if err := s.repo.MarkFailed(ctx, jobID); err != nil {
		return nil, err
	}
	s.cancelPendingOffers(ctx, jobID, "dispatch_canceled")
	if s.audit != nil {
		if err := s.audit.Log(ctx, "job", jobID, audit.EventDispatchCanceled, map[string]any{
			"actor": actorEmail,
		}); err != nil {
			s.logger.Error("audit log failed", "job_id", jobID, "error", err)
		}
	}
	return s.repo.GetByID(ctx, jobID)
}

func (s *AdminService) lookupLocksmith(ctx context.Context, id string) (*providers.Locksmith, error) {
	if s.locksmiths == nil {
		return nil, fmt.Errorf("jobs: locksmith directory not configured")
	}
	return s.locksmiths.GetByID(ctx, id)
}

func (s *AdminService) cancelPendingOffers(ctx context.Context, jobID, reason string) {
	if s.offers == nil {
		return
	}
	n, err := s.offers.CancelPendingForJob(ctx, jobID, reason)
	if err != nil {
		s.logger.Error("offer cancelation failed", "job_id", jobID, "error", err)
		return
	}
	if n > 0 {
		s.logger.Info("pending offers withdrawn", "job_id", jobID, "count", n, "reason", reason)
	}
}

func (s *AdminService) enqueue(ctx context.Context, jobID string) error {
	if s.queue == nil {
		return fmt.Errorf("jobs: dispatch queue not configured")
	}
	return s.queue.EnqueueDispatch(ctx, jobID)
}

func (s *AdminService) logAdmin(ctx context.Context, jobID, action, actorEmail string, payload map[string]any) {
	if s.audit == nil {
		return
	}
	if err := s.audit.LogAdminAction(ctx, "job", jobID, action, actorEmail, payload); err != nil {
		s.logger.Error("audit log failed", "job_id", jobID, "action", action, "error", err)
	}
}
