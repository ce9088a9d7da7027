package sessions

import (
	"context"
	"errors"
	"testing"
	"time"

	pgxmock "github.com/pashagolub/pgxmock/v4"
)

func sessionRow(id, status string) *pgxmock.Rows {
	return sessionRowWithIntent(id, status, "")
}

func sessionRowWithIntent(id, status, intentID string) *pgxmock.Rows {
	now := time.Now().UTC()
	var intent any
	if intentID != "" {
		intent = intentID
	}
	return pgxmock.NewRows([]string{
		"id", "status", "customer_name", "customer_phone", "customer_email",
		"address", "city", "latitude", "longitude", "is_in_service_area",
		"service_type", "urgency", "description", "deposit_amount",
		"car_make", "car_model", "car_year", "stripe_payment_intent_id", "step_reached",
		"user_agent", "ip_address", "referrer", "utm_params",
		"created_at", "updated_at", "completed_at",
	}).AddRow(
		id, status, "Dana Smith", "+15551230000", nil,
		"123 Main St, Laredo, TX 78040", "Laredo", 27.5064, -99.5075, true,
		"home_lockout", "standard", nil, int64(4900),
		nil, nil, nil, intent, 2,
		nil, nil, nil, []byte(nil),
		now, now, nil,
	)
}

func TestCreateInsertsStartedSession(t *testing.T) {
	mock, err := pgxmock.NewPool()
	if err != nil {
		t.Fatalf("pgxmock: %v", err)
	}
	defer mock.Close()

	mock.ExpectExec("INSERT INTO request_sessions").
		WithArgs(pgxmock.AnyArg(), StatusStarted, "Mozilla/5.0", "10.0.0.1", "https://google.com", pgxmock.AnyArg(), pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	repo := NewRepository(mock)
	s, err := repo.Create(context.Background(), Telemetry{
		UserAgent: "Mozilla/5.0",
		IPAddress: "10.0.0.1",
		Referrer:  "https://google.com",
		UTMParams: map[string]string{"utm_source": "google"},
	})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if s.Status != StatusStarted {
		t.Fatalf("status = %q, want started", s.Status)
	}
	if s.StepReached != 1 {
		t.Fatalf("step_reached = %d, want 1", s.StepReached)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestGetByIDNotFound(t *testing.T) {
	mock, err := pgxmock.NewPool()
	if err != nil {
		t.Fatalf("pgxmock: %v", err)
	}
	defer mock.Close()

	mock.ExpectQuery("SELECT (.+) FROM request_sessions WHERE id").
		WithArgs("missing").
		WillReturnRows(pgxmock.NewRows([]string{"id"}))

	repo := NewRepository(mock)
	_, err = repo.GetByID(context.Background(), "missing")
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
}

func TestApplyLocationCAS(t *testing.T) {
	mock, err := pgxmock.NewPool()
	if err != nil {
		t.Fatalf("pgxmock: %v", err)
	}
	defer mock.Close()

	lat, lng := 27.5064, -99.5075
	mock.ExpectExec("UPDATE request_sessions").
		WithArgs("sess-1", StatusLocationValidated, "Dana Smith", "+15551230000", "",
			"123 Main St, Laredo, TX 78040", "Laredo", &lat, &lng,
			true, pgxmock.AnyArg(), StatusStarted, StatusLocationRejected).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))

	repo := NewRepository(mock)
	err = repo.ApplyLocation(context.Background(), "sess-1", LocationUpdate{
		CustomerName:  "Dana Smith",
		CustomerPhone: "+15551230000",
		Address:       "123 Main St, Laredo, TX 78040",
		City:          "Laredo",
		Latitude:      &lat,
		Longitude:     &lng,
		InServiceArea: true,
		NewStatus:     StatusLocationValidated,
	})
	if err != nil {
		t.Fatalf("ApplyLocation: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestApplyServiceWrongStatus(t *testing.T) {
	mock, err := pgxmock.NewPool()
	if err != nil {
		t.Fatalf("pgxmock: %v", err)
	}
	defer mock.Close()

	mock.ExpectExec("UPDATE request_sessions").
		WithArgs(pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))
	mock.ExpectQuery("SELECT (.+) FROM request_sessions WHERE id").
		WithArgs("sess-1").
		WillReturnRows(sessionRow("sess-1", StatusPaymentCompleted))

	repo := NewRepository(mock)
	err = repo.ApplyService(context.Background(), "sess-1", ServiceUpdate{
		ServiceType:   "home_lockout",
		Urgency:       "standard",
		DepositAmount: 4900,
		NewStatus:     StatusPendingApproval,
	})
	if !errors.Is(err, ErrPrecondition) {
		t.Fatalf("err = %v, want ErrPrecondition", err)
	}
}

func TestCompletePayment(t *testing.T) {
	mock, err := pgxmock.NewPool()
	if err != nil {
		t.Fatalf("pgxmock: %v", err)
	}
	defer mock.Close()

	mock.ExpectExec("UPDATE request_sessions").
		WithArgs("sess-1", StatusPaymentCompleted, pgxmock.AnyArg(), StatusPaymentPending).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))

	repo := NewRepository(mock)
	if err := repo.CompletePayment(context.Background(), "sess-1"); err != nil {
		t.Fatalf("CompletePayment: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestAbandonStaleReturnsIDs(t *testing.T) {
	mock, err := pgxmock.NewPool()
	if err != nil {
		t.Fatalf("pgxmock: %v", err)
	}
	defer mock.Close()

	mock.ExpectQuery("UPDATE request_sessions").
		WithArgs(pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg()).
		WillReturnRows(pgxmock.NewRows([]string{"id"}).AddRow("sess-1").AddRow("sess-2"))

	repo := NewRepository(mock)
	ids, err := repo.AbandonStale(context.Background(), 24*time.Hour)
	if err != nil {
		t.Fatalf("AbandonStale: %v", err)
	}
	if len(ids) != 2 {
		t.Fatalf("got %d ids, want 2", len(ids))
	}
}

func TestFunnelCounts(t *testing.T) {
	mock, err := pgxmock.NewPool()
	if err != nil {
		t.Fatalf("pgxmock: %v", err)
	}
	defer mock.Close()

	mock.ExpectQuery("SELECT status, COUNT").
		WillReturnRows(pgxmock.NewRows([]string{"status", "count"}).
			AddRow(StatusStarted, 10).
			AddRow(StatusPaymentCompleted, 3))

	repo := NewRepository(mock)
	counts, err := repo.FunnelCounts(context.Background())
	if err != nil {
		t.Fatalf("FunnelCounts: %v", err)
	}
	if counts[StatusStarted] != 10 || counts[StatusPaymentCompleted] != 3 {
		t.Fatalf("unexpected counts: %v", counts)
	}
}
