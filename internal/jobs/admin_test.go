package jobs

import (
	"context"
	"errors"
	"strings"
	"testing"

	pgxmock "github.com/pashagolub/pgxmock/v4"

	"github.com/keyrush/locksmith-dispatch/internal/messaging"
	"github.com/keyrush/locksmith-dispatch/internal/payments"
	"github.com/keyrush/locksmith-dispatch/internal/providers"
	"github.com/keyrush/locksmith-dispatch/internal/sessions"
)

type stubDirectory struct {
	locksmith *providers.Locksmith
	err       error
}

func (d *stubDirectory) GetByID(ctx context.Context, id string) (*providers.Locksmith, error) {
	return d.locksmith, d.err
}

type stubCanceler struct {
	canceled int
	reasons  []string
}

func (c *stubCanceler) CancelPendingForJob(ctx context.Context, jobID, reason string) (int, error) {
	c.reasons = append(c.reasons, reason)
	return c.canceled, nil
}

type stubRefunder struct {
	refund *payments.Refund
	err    error
	amount int64
}

func (r *stubRefunder) RefundByIntent(ctx context.Context, intentID string, amountCents int64, reason string) (*payments.Refund, error) {
	r.amount = amountCents
	return r.refund, r.err
}

type stubSender struct {
	sent []messaging.SendRequest
}

func (s *stubSender) Send(ctx context.Context, req messaging.SendRequest) (string, error) {
	s.sent = append(s.sent, req)
	return "msg_1", nil
}

type stubQueue struct {
	jobIDs []string
}

func (q *stubQueue) EnqueueDispatch(ctx context.Context, jobID string) error {
	q.jobIDs = append(q.jobIDs, jobID)
	return nil
}

func TestAdminAssignNotifiesLocksmith(t *testing.T) {
	mock, err := pgxmock.NewPool()
	if err != nil {
		t.Fatalf("pgxmock: %v", err)
	}
	defer mock.Close()

	sender := &stubSender{}
	canceler := &stubCanceler{canceled: 2}
	svc := NewAdminService(NewRepository(mock), &stubDirectory{
		locksmith: &providers.Locksmith{ID: "lock-1", DisplayName: "Alex", Phone: "+15557770000", IsActive: true},
	}, canceler, nil, nil, sender, nil, nil)

	mock.ExpectExec("UPDATE jobs").
		WithArgs(pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	mock.ExpectQuery("SELECT (.+) FROM jobs WHERE id").
		WithArgs("job-1").
		WillReturnRows(jobRow("job-1", StatusAssigned))

	j, err := svc.Assign(context.Background(), "job-1", "lock-1", "ops@example.com", true)
	if err != nil {
		t.Fatalf("Assign: %v", err)
	}
	if j.Status != StatusAssigned {
		t.Fatalf("status = %q", j.Status)
	}
	if len(canceler.reasons) != 1 || canceler.reasons[0] != "admin_assign" {
		t.Fatalf("cancel reasons = %v", canceler.reasons)
	}
	if len(sender.sent) != 1 {
		t.Fatalf("sent %d messages, want 1", len(sender.sent))
	}
	if !strings.HasPrefix(sender.sent[0].Body, "Job confirmed! Customer: Dana Smith at ") {
		t.Fatalf("body = %q", sender.sent[0].Body)
	}
}

func TestAdminAssignRejectsInactiveLocksmith(t *testing.T) {
	mock, _ := pgxmock.NewPool()
	defer mock.Close()

	svc := NewAdminService(NewRepository(mock), &stubDirectory{
		locksmith: &providers.Locksmith{ID: "lock-1", IsActive: false},
	}, nil, nil, nil, nil, nil, nil)

	_, err := svc.Assign(context.Background(), "job-1", "lock-1", "ops@example.com", false)
	if !errors.Is(err, ErrPrecondition) {
		t.Fatalf("err = %v, want ErrPrecondition", err)
	}
}

func TestRefundDefaultsToFullDeposit(t *testing.T) {
	mock, err := pgxmock.NewPool()
	if err != nil {
		t.Fatalf("pgxmock: %v", err)
	}
	defer mock.Close()

	refunder := &stubRefunder{refund: &payments.Refund{ID: "re_1", Status: "succeeded"}}
	svc := NewAdminService(NewRepository(mock), nil, nil, nil, refunder, nil, nil, nil)

	mock.ExpectQuery("SELECT (.+) FROM jobs WHERE id").
		WithArgs("job-1").
		WillReturnRows(jobRow("job-1", StatusCanceled))
	mock.ExpectExec("UPDATE jobs").
		WithArgs("job-1", "re_1", int64(4900), pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	mock.ExpectQuery("SELECT (.+) FROM jobs WHERE id").
		WithArgs("job-1").
		WillReturnRows(jobRow("job-1", StatusCanceled))

	_, err = svc.Refund(context.Background(), "job-1", 0, "customer request", "ops@example.com")
	if err != nil {
		t.Fatalf("Refund: %v", err)
	}
	if refunder.amount != 4900 {
		t.Fatalf("refund amount = %d, want 4900", refunder.amount)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestRefundWithoutIntent(t *testing.T) {
	mock, err := pgxmock.NewPool()
	if err != nil {
		t.Fatalf("pgxmock: %v", err)
	}
	defer mock.Close()

	svc := NewAdminService(NewRepository(mock), nil, nil, nil, &stubRefunder{}, nil, nil, nil)

	mock.ExpectQuery("SELECT (.+) FROM jobs WHERE id").
		WithArgs("job-1").
		WillReturnRows(jobRowWithIntent("job-1", StatusCanceled, ""))

	_, err = svc.Refund(context.Background(), "job-1", 0, "", "ops@example.com")
	if !errors.Is(err, ErrNoIntent) {
		t.Fatalf("err = %v, want ErrNoIntent", err)
	}
}

func TestRestartDispatchEnqueues(t *testing.T) {
	mock, err := pgxmock.NewPool()
	if err != nil {
		t.Fatalf("pgxmock: %v", err)
	}
	defer mock.Close()

	queue := &stubQueue{}
	svc := NewAdminService(NewRepository(mock), nil, &stubCanceler{}, queue, nil, nil, nil, nil)

	mock.ExpectExec("UPDATE jobs").
		WithArgs(pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	mock.ExpectQuery("SELECT (.+) FROM jobs WHERE id").
		WithArgs("job-1").
		WillReturnRows(jobRow("job-1", StatusCreated))

	if _, err := svc.RestartDispatch(context.Background(), "job-1", "ops@example.com"); err != nil {
		t.Fatalf("RestartDispatch: %v", err)
	}
	if len(queue.jobIDs) != 1 || queue.jobIDs[0] != "job-1" {
		t.Fatalf("queue = %v", queue.jobIDs)
	}
}

func TestFactoryRequiresCompletedSession(t *testing.T) {
	mock, _ := pgxmock.NewPool()
	defer mock.Close()

	factory := NewFactory(NewRepository(mock), nil)
	_, err := factory.CreateFromSession(context.Background(), &sessions.Session{
		ID:     "sess-1",
		Status: sessions.StatusPaymentPending,
	})
	if !errors.Is(err, ErrPrecondition) {
		t.Fatalf("err = %v, want ErrPrecondition", err)
	}
}

func TestFactorySnapshotsSession(t *testing.T) {
	mock, err := pgxmock.NewPool()
	if err != nil {
		t.Fatalf("pgxmock: %v", err)
	}
	defer mock.Close()

	mock.ExpectExec("INSERT INTO jobs").
		WithArgs(pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	factory := NewFactory(NewRepository(mock), nil)
	jobID, err := factory.CreateFromSession(context.Background(), &sessions.Session{
		ID:              "sess-1",
		Status:          sessions.StatusPaymentCompleted,
		CustomerName:    "Dana Smith",
		CustomerPhone:   "+15551230000",
		ServiceType:     "home_lockout",
		Urgency:         "standard",
		Address:         "123 Main St, Laredo, TX 78040",
		City:            "Laredo",
		DepositAmount:   4900,
		PaymentIntentID: "pi_1",
	})
	if err != nil {
		t.Fatalf("CreateFromSession: %v", err)
	}
	if jobID == "" {
		t.Fatalf("expected job id")
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}
