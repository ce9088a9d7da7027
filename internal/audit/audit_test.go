package audit

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestService_LogEvent(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	service := NewService(db)

	tests := []struct {
		name  string
		event Event
	}{
		{
			name: "wave sent",
			event: Event{
				EntityType: "job",
				EntityID:   uuid.New().String(),
				EventType:  EventWaveSent,
				Payload:    json.RawMessage(`{"wave_number":1,"offers_sent":3}`),
			},
		},
		{
			name: "session transition defaults actor to system",
			event: Event{
				EntityType: "session",
				EntityID:   uuid.New().String(),
				EventType:  EventLocationValidated,
			},
		},
		{
			name: "admin refund with email",
			event: Event{
				EntityType: "job",
				EntityID:   uuid.New().String(),
				EventType:  EventRefundProcessed,
				ActorType:  ActorAdmin,
				ActorEmail: "ops@example.com",
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mock.ExpectExec("INSERT INTO audit_events").
				WillReturnResult(sqlmock.NewResult(1, 1))

			err := service.LogEvent(context.Background(), tt.event)
			assert.NoError(t, err)
		})
	}
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestService_LogAdminAction(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	service := NewService(db)

	mock.ExpectExec("INSERT INTO audit_events").
		WithArgs(
			sqlmock.AnyArg(),
			"job",
			"job-123",
			"admin_manually_assigned",
			sqlmock.AnyArg(),
			ActorAdmin,
			sqlmock.AnyArg(),
			sqlmock.AnyArg(),
			sqlmock.AnyArg(),
		).
		WillReturnResult(sqlmock.NewResult(1, 1))

	err = service.LogAdminAction(
		context.Background(),
		"job",
		"job-123",
		"manually_assigned",
		"dispatcher@example.com",
		map[string]any{"locksmith_id": "lk-1"},
	)
	assert.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestService_Query(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	service := NewService(db)

	now := time.Now()
	rows := sqlmock.NewRows([]string{
		"id", "entity_type", "entity_id", "event_type",
		"actor_email", "actor_type", "payload_json", "description", "created_at",
	}).AddRow(
		uuid.New().String(), "job", "job-123", EventDispatchStarted,
		nil, ActorSystem, []byte(`{}`), nil, now,
	)

	mock.ExpectQuery("SELECT (.+) FROM audit_events").
		WillReturnRows(rows)

	events, err := service.Query(context.Background(), Filter{
		EntityType: "job",
		EntityID:   "job-123",
		StartTime:  now.Add(-24 * time.Hour),
		Limit:      100,
	})
	assert.NoError(t, err)
	assert.Len(t, events, 1)
	assert.Equal(t, EventDispatchStarted, events[0].EventType)
	assert.Equal(t, ActorSystem, events[0].ActorType)
}

func TestService_LogLocksmithAction(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	service := NewService(db)

	mock.ExpectExec("INSERT INTO audit_events").
		WillReturnResult(sqlmock.NewResult(1, 1))

	err = service.LogLocksmithAction(
		context.Background(),
		"lk-9",
		EventAvailabilityChanged,
		map[string]any{"is_available": false},
	)
	assert.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}
