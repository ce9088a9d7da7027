package httpapi

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/keyrush/locksmith-dispatch/internal/jobs"
)

type stubJobReader struct {
	job *jobs.Job
	err error
}

func (s *stubJobReader) GetByID(ctx context.Context, id string) (*jobs.Job, error) {
	return s.job, s.err
}

func (s *stubJobReader) List(ctx context.Context, filter jobs.ListFilter) ([]*jobs.Job, error) {
	if s.job == nil {
		return nil, s.err
	}
	return []*jobs.Job{s.job}, s.err
}

type stubJobAdmin struct {
	calls []string
	actor string
	job   *jobs.Job
	err   error
}

func (s *stubJobAdmin) record(call, actor string) (*jobs.Job, error) {
	s.calls = append(s.calls, call)
	s.actor = actor
	return s.job, s.err
}

func (s *stubJobAdmin) Assign(ctx context.Context, jobID, locksmithID, actorEmail string, notify bool) (*jobs.Job, error) {
	return s.record("assign:"+locksmithID, actorEmail)
}

func (s *stubJobAdmin) MarkEnRoute(ctx context.Context, jobID, actorEmail string) (*jobs.Job, error) {
	return s.record("en_route", actorEmail)
}

func (s *stubJobAdmin) MarkCompleted(ctx context.Context, jobID, actorEmail string) (*jobs.Job, error) {
	return s.record("completed", actorEmail)
}

func (s *stubJobAdmin) Cancel(ctx context.Context, jobID, actorEmail, reason string) (*jobs.Job, error) {
	return s.record("cancel:"+reason, actorEmail)
}

func (s *stubJobAdmin) Refund(ctx context.Context, jobID string, amountCents int64, reason, actorEmail string) (*jobs.Job, error) {
	return s.record("refund:"+reason, actorEmail)
}

func (s *stubJobAdmin) RestartDispatch(ctx context.Context, jobID, actorEmail string) (*jobs.Job, error) {
	return s.record("restart", actorEmail)
}

func (s *stubJobAdmin) NextWave(ctx context.Context, jobID, actorEmail string) (*jobs.Job, error) {
	return s.record("next_wave", actorEmail)
}

func (s *stubJobAdmin) CancelDispatch(ctx context.Context, jobID, actorEmail string) (*jobs.Job, error) {
	return s.record("cancel_dispatch", actorEmail)
}

func newJobRouter(admin *stubJobAdmin) http.Handler {
	reader := &stubJobReader{job: &jobs.Job{ID: "job-1", Status: jobs.StatusAssigned}}
	if admin.job == nil {
		admin.job = reader.job
	}
	handler := NewJobHandler(reader, admin, nil, nil)
	return New(&Config{Jobs: handler})
}

func TestJobDispatchActionRouting(t *testing.T) {
	cases := []struct {
		action   string
		wantCall string
	}{
		{"restart", "restart"},
		{"next_wave", "next_wave"},
		{"cancel", "cancel_dispatch"},
	}
	for _, tc := range cases {
		admin := &stubJobAdmin{}
		router := newJobRouter(admin)

		req := httptest.NewRequest(http.MethodPost, "/admin/jobs/job-1/dispatch", strings.NewReader(`{"action":"`+tc.action+`"}`))
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, req)

		if rec.Code != http.StatusOK {
			t.Errorf("action %q: status = %d, want 200", tc.action, rec.Code)
		}
		if len(admin.calls) != 1 || admin.calls[0] != tc.wantCall {
			t.Errorf("action %q: calls = %v, want [%s]", tc.action, admin.calls, tc.wantCall)
		}
	}
}

func TestJobDispatchInvalidAction(t *testing.T) {
	admin := &stubJobAdmin{}
	router := newJobRouter(admin)

	req := httptest.NewRequest(http.MethodPost, "/admin/jobs/job-1/dispatch", strings.NewReader(`{"action":"pause"}`))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
	if len(admin.calls) != 0 {
		t.Errorf("calls = %v, want none", admin.calls)
	}
}

func TestJobAssignRequiresLocksmithID(t *testing.T) {
	admin := &stubJobAdmin{}
	router := newJobRouter(admin)

	req := httptest.NewRequest(http.MethodPost, "/admin/jobs/job-1/assign", strings.NewReader(`{"notify_locksmith":true}`))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
	if len(admin.calls) != 0 {
		t.Errorf("calls = %v, want none", admin.calls)
	}
}

func TestJobAssignCapturesActor(t *testing.T) {
	admin := &stubJobAdmin{}
	router := newJobRouter(admin)

	req := httptest.NewRequest(http.MethodPost, "/admin/jobs/job-1/assign", strings.NewReader(`{"locksmith_id":"lock-9"}`))
	req.Header.Set("Cf-Access-Authenticated-User-Email", "ops@example.com")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if admin.actor != "ops@example.com" {
		t.Errorf("actor = %q", admin.actor)
	}
	if admin.calls[0] != "assign:lock-9" {
		t.Errorf("calls = %v", admin.calls)
	}
}

func TestJobStatusRouting(t *testing.T) {
	admin := &stubJobAdmin{}
	router := newJobRouter(admin)

	req := httptest.NewRequest(http.MethodPost, "/admin/jobs/job-1/status", strings.NewReader(`{"status":"en_route"}`))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if admin.calls[0] != "en_route" {
		t.Errorf("calls = %v", admin.calls)
	}
}

func TestJobStatusRejectsUnknownTransition(t *testing.T) {
	admin := &stubJobAdmin{}
	router := newJobRouter(admin)

	req := httptest.NewRequest(http.MethodPost, "/admin/jobs/job-1/status", strings.NewReader(`{"status":"created"}`))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
}

func TestJobPreconditionMapsTo400(t *testing.T) {
	admin := &stubJobAdmin{err: jobs.ErrPrecondition}
	router := newJobRouter(admin)

	req := httptest.NewRequest(http.MethodPost, "/admin/jobs/job-1/status", strings.NewReader(`{"status":"completed"}`))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
}

func TestJobRefundOptionalBody(t *testing.T) {
	admin := &stubJobAdmin{}
	router := newJobRouter(admin)

	req := httptest.NewRequest(http.MethodPost, "/admin/jobs/job-1/refund", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if admin.calls[0] != "refund:" {
		t.Errorf("calls = %v", admin.calls)
	}
}
