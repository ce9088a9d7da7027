package jobs

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/keyrush/locksmith-dispatch/internal/sessions"
	"github.com/keyrush/locksmith-dispatch/pkg/logging"
)

// Factory turns paid request sessions into dispatchable jobs.
type Factory struct {
	repo   *Repository
	logger *logging.Logger
}

// NewFactory builds the session-to-job converter.
func NewFactory(repo *Repository, logger *logging.Logger) *Factory {
	if repo == nil {
		panic("jobs: repository required")
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &Factory{repo: repo, logger: logger}
}

// CreateFromSession snapshots a payment-completed session into a new job
// in the created status and returns the job id. The snapshot is a copy:
// later session edits never leak into the work order.
func (f *Factory) CreateFromSession(ctx context.Context, s *sessions.Session) (string, error) {
	if s == nil {
		return "", fmt.Errorf("jobs: nil session")
	}
	if s.Status != sessions.StatusPaymentCompleted {
		return "", fmt.Errorf("%w: session %s is %s", ErrPrecondition, s.ID, s.Status)
	}

	j := &Job{
		ID:            uuid.NewString(),
		CustomerName:  s.CustomerName,
		CustomerPhone: s.CustomerPhone,
		ServiceType:   s.ServiceType,
		Urgency:       s.Urgency,
		Description:   s.Description,
		Address:       s.Address,
		City:          s.City,
		CarMake:       s.CarMake,
		CarModel:      s.CarModel,
		CarYear:       s.CarYear,

		Status:          StatusCreated,
		DepositAmount:   s.DepositAmount,
		PaymentIntentID: s.PaymentIntentID,
		PaymentStatus:   "succeeded",
		SessionID:       s.ID,
	}
	if s.Latitude != nil {
		j.Latitude = *s.Latitude
	}
	if s.Longitude != nil {
		j.Longitude = *s.Longitude
	}

	if err := f.repo.Create(ctx, j); err != nil {
		return "", err
	}
	f.logger.Info("job created from session", "job_id", j.ID, "session_id", s.ID, "service_type", j.ServiceType)
	return j.ID, nil
}
