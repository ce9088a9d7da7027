package notify

import (
	"context"
	"fmt"
	"time"

	"github.com/keyrush/locksmith-dispatch/internal/jobs"
	"github.com/keyrush/locksmith-dispatch/internal/pricing"
	"github.com/keyrush/locksmith-dispatch/pkg/logging"
)

// Service sends operational alerts to the dispatch operator inbox. All
// sends are best-effort: a nil sender or empty recipient turns the
// service into a no-op so callers never have to branch on configuration.
type Service struct {
	email    EmailSender
	opsEmail string
	logger   *logging.Logger
}

// NewService creates the operator alert service. opsEmail is the single
// inbox that receives dispatch alerts; leave it empty to disable.
func NewService(email EmailSender, opsEmail string, logger *logging.Logger) *Service {
	if logger == nil {
		logger = logging.Default()
	}
	return &Service{
		email:    email,
		opsEmail: opsEmail,
		logger:   logger,
	}
}

func (s *Service) enabled() bool {
	return s != nil && s.email != nil && s.opsEmail != ""
}

// NotifyDispatchFailed alerts the operator that a paid job could not be
// matched with any locksmith and needs manual follow-up.
func (s *Service) NotifyDispatchFailed(ctx context.Context, j *jobs.Job, reason string) error {
	if !s.enabled() {
		s.logger.Debug("notify: ops email not configured, skipping dispatch alert")
		return nil
	}

	subject := fmt.Sprintf("Dispatch failed - %s in %s", pricing.ServiceName(j.ServiceType), j.City)
	body := fmt.Sprintf(`Dispatch failed for a paid job and needs manual follow-up.

Job ID: %s
Customer: %s
Phone: %s
Service: %s (%s)
Address: %s
Deposit: %s
Reason: %s
Failed at: %s

The customer has been told a refund will be processed. Assign a locksmith
manually or issue the refund from the admin dashboard.`,
		j.ID, j.CustomerName, j.CustomerPhone,
		pricing.ServiceName(j.ServiceType), pricing.UrgencyLabel(j.Urgency),
		j.Address, pricing.FormatCents(j.DepositAmount), reason,
		time.Now().Format("January 2, 2006 at 3:04 PM"))

	msg := EmailMessage{
		To:      s.opsEmail,
		Subject: subject,
		Body:    body,
	}
	if err := s.email.Send(ctx, msg); err != nil {
		s.logger.Error("notify: dispatch alert failed", "error", err, "job_id", j.ID)
		return fmt.Errorf("notify: dispatch alert: %w", err)
	}
	s.logger.Info("notify: dispatch alert sent", "job_id", j.ID, "to", s.opsEmail)
	return nil
}

// NotifyRefundProcessed alerts the operator that a deposit refund went
// out, so the books stay reconciled.
func (s *Service) NotifyRefundProcessed(ctx context.Context, j *jobs.Job, refundID string, amountCents int64, reason string) error {
	if !s.enabled() {
		return nil
	}

	subject := fmt.Sprintf("Refund processed - %s for job %s", pricing.FormatCents(amountCents), j.ID)
	body := fmt.Sprintf(`A deposit refund was processed.

Job ID: %s
Customer: %s
Phone: %s
Refund: %s of %s deposit
Refund ID: %s
Reason: %s
Processed at: %s`,
		j.ID, j.CustomerName, j.CustomerPhone,
		pricing.FormatCents(amountCents), pricing.FormatCents(j.DepositAmount),
		refundID, reason,
		time.Now().Format("January 2, 2006 at 3:04 PM"))

	msg := EmailMessage{
		To:      s.opsEmail,
		Subject: subject,
		Body:    body,
	}
	if err := s.email.Send(ctx, msg); err != nil {
		s.logger.Error("notify: refund alert failed", "error", err, "job_id", j.ID)
		return fmt.Errorf("notify: refund alert: %w", err)
	}
	s.logger.Info("notify: refund alert sent", "job_id", j.ID, "to", s.opsEmail)
	return nil
}
