package messaging

import (
	"context"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	pgxmock "github.com/pashagolub/pgxmock/v4"
)



func TestStoreInsertOutbound(t *testing.T) {
	mock, err := pgxmock.NewPool()
	if err != nil {
		t.Fatalf("pgxmock: %v", err)
	}
	defer mock.Close()

	store := &Store{pool: mock}
	mock.ExpectExec("INSERT INTO messages").
		WithArgs(pgxmock.AnyArg(), "job_1", "ls_1", DirectionOutbound, "+15551230001", "+15550009999",
			"New job! Home Lockout at Laredo.", "SM1", "sent", "", "", pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	id, err := store.Insert(context.Background(), Message{
		JobID:             "job_1",
		LocksmithID:       "ls_1",
		Direction:         DirectionOutbound,
		ToPhone:           "+15551230001",
		FromPhone:         "+15550009999",
		Body:              "New job! Home Lockout at Laredo.",
		ProviderMessageID: "SM1",
		DeliveryStatus:    "sent",
	})
	if err != nil {
		t.Fatalf("insert: %v", err)
	}
	if id == "" {
		t.Fatalf("expected generated id")
	}
}

func TestStoreHasProviderMessage(t *testing.T) {
	mock, err := pgxmock.NewPool()
	if err != nil {
		t.Fatalf("pgxmock: %v", err)
	}
	defer mock.Close()

	store := &Store{pool: mock}
	mock.ExpectQuery("SELECT 1 FROM messages").
		WithArgs("SM1").
		WillReturnRows(pgxmock.NewRows([]string{"exists"}).AddRow(1))
	if ok, err := store.HasProviderMessage(context.Background(), "SM1"); err != nil || !ok {
		t.Fatalf("expected seen=true, got %v err=%v", ok, err)
	}

	mock.ExpectQuery("SELECT 1 FROM messages").
		WithArgs("SM2").
		WillReturnError(pgx.ErrNoRows)
	if ok, err := store.HasProviderMessage(context.Background(), "SM2"); err != nil || ok {
		t.Fatalf("expected seen=false, got %v err=%v", ok, err)
	}

	// Blank ids never hit the database.
	if ok, err := store.HasProviderMessage(context.Background(), "  "); err != nil || ok {
		t.Fatalf("expected blank id to be unseen, got %v err=%v", ok, err)
	}
}

func TestStoreListWithFilters(t *testing.T) {
	mock, err := pgxmock.NewPool()
	if err != nil {
		t.Fatalf("pgxmock: %v", err)
	}
	defer mock.Close()

	store := &Store{pool: mock}
	cols := []string{
		"id", "job_id", "locksmith_id", "direction", "to_phone", "from_phone", "body",
		"provider_message_id", "delivery_status", "error_code", "error_message", "created_at",
	}
	mock.ExpectQuery("SELECT").
		WithArgs("job_1", DirectionOutbound).
		WillReturnRows(pgxmock.NewRows(cols).
			AddRow("msg_1", "job_1", nil, DirectionOutbound, "+1555", "+1666", "hello",
				nil, "failed", nil, "status 500", time.Now()))

	out, err := store.List(context.Background(), ListFilter{
		JobID:     "job_1",
		Direction: DirectionOutbound,
		HasError:  true,
		Limit:     10,
	})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(out) != 1 || out[0].ErrorMessage != "status 500" {
		t.Fatalf("unexpected result: %+v", out)
	}
}
