package httpapi

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/keyrush/locksmith-dispatch/internal/dispatch"
	"github.com/keyrush/locksmith-dispatch/internal/jobs"
	"github.com/keyrush/locksmith-dispatch/pkg/logging"
)

// JobReader is the read side of the job store for the admin console.
type JobReader interface {
	GetByID(ctx context.Context, id string) (*jobs.Job, error)
	List(ctx context.Context, filter jobs.ListFilter) ([]*jobs.Job, error)
}

// JobAdmin is the override surface for dispatch control.
type JobAdmin interface {
	Assign(ctx context.Context, jobID, locksmithID, actorEmail string, notify bool) (*jobs.Job, error)
	MarkEnRoute(ctx context.Context, jobID, actorEmail string) (*jobs.Job, error)
	MarkCompleted(ctx context.Context, jobID, actorEmail string) (*jobs.Job, error)
	Cancel(ctx context.Context, jobID, actorEmail, reason string) (*jobs.Job, error)
	Refund(ctx context.Context, jobID string, amountCents int64, reason, actorEmail string) (*jobs.Job, error)
	RestartDispatch(ctx context.Context, jobID, actorEmail string) (*jobs.Job, error)
	NextWave(ctx context.Context, jobID, actorEmail string) (*jobs.Job, error)
	CancelDispatch(ctx context.Context, jobID, actorEmail string) (*jobs.Job, error)
}

// JobOfferLister reads a job's offers for the detail view.
type JobOfferLister interface {
	ListByJob(ctx context.Context, jobID string) ([]*dispatch.Offer, error)
}

// JobHandler serves the admin job endpoints.
type JobHandler struct {
	reader JobReader
	admin  JobAdmin
	offers JobOfferLister
	logger *logging.Logger
}

// NewJobHandler wires the admin job endpoints.
func NewJobHandler(reader JobReader, admin JobAdmin, offers JobOfferLister, logger *logging.Logger) *JobHandler {
	if reader == nil {
		panic("httpapi: job reader required")
	}
	if admin == nil {
		panic("httpapi: job admin required")
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &JobHandler{reader: reader, admin: admin, offers: offers, logger: logger}
}

// List returns jobs newest first, optionally filtered by status/city.
func (h *JobHandler) List(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	list, err := h.reader.List(r.Context(), jobs.ListFilter{
		Status: q.Get("status"),
		City:   q.Get("city"),
		Limit:  queryInt(q.Get("limit"), 50),
		Offset: queryInt(q.Get("offset"), 0),
	})
	if err != nil {
		h.logger.Error("job list failed", "error", err)
		respondError(w, http.StatusInternalServerError, "internal error")
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{
		"jobs":  list,
		"count": len(list),
	})
}

// Get returns one job with its offer history.
func (h *JobHandler) Get(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	j, err := h.reader.GetByID(r.Context(), id)
	if err != nil {
		respondDomainError(w, err)
		return
	}

	resp := map[string]any{"job": j}
	if h.offers != nil {
		offers, err := h.offers.ListByJob(r.Context(), id)
		if err != nil {
			h.logger.Error("job offer list failed", "job_id", id, "error", err)
		} else {
			resp["offers"] = offers
		}
	}
	respondJSON(w, http.StatusOK, resp)
}

type jobStatusRequest struct {
	Status string `json:"status"`
}

// Status applies the manual lifecycle transitions.
func (h *JobHandler) Status(w http.ResponseWriter, r *http.Request) {
	var req jobStatusRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	id := chi.URLParam(r, "id")
	var j *jobs.Job
	var err error
	switch req.Status {
	case jobs.StatusEnRoute:
		j, err = h.admin.MarkEnRoute(r.Context(), id, actorEmail(r))
	case jobs.StatusCompleted:
		j, err = h.admin.MarkCompleted(r.Context(), id, actorEmail(r))
	default:
		respondError(w, http.StatusBadRequest, "status must be en_route or completed")
		return
	}
	if err != nil {
		respondDomainError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, j)
}

type assignRequest struct {
	LocksmithID     string `json:"locksmith_id"`
	NotifyLocksmith bool   `json:"notify_locksmith"`
}

// Assign hands the job to a chosen locksmith.
func (h *JobHandler) Assign(w http.ResponseWriter, r *http.Request) {
	var req assignRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if req.LocksmithID == "" {
		respondError(w, http.StatusBadRequest, "locksmith_id is required")
		return
	}

	j, err := h.admin.Assign(r.Context(), chi.URLParam(r, "id"), req.LocksmithID, actorEmail(r), req.NotifyLocksmith)
	if err != nil {
		respondDomainError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, j)
}

type cancelRequest struct {
	Reason string `json:"reason"`
}

// Cancel ends the job.
func (h *JobHandler) Cancel(w http.ResponseWriter, r *http.Request) {
	var req cancelRequest
	_ = decodeJSON(r, &req)

	j, err := h.admin.Cancel(r.Context(), chi.URLParam(r, "id"), actorEmail(r), req.Reason)
	if err != nil {
		respondDomainError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, j)
}

type refundRequest struct {
	AmountCents int64  `json:"amount_cents"`
	Reason      string `json:"reason"`
}

// Refund refunds the deposit (full when amount_cents is omitted).
func (h *JobHandler) Refund(w http.ResponseWriter, r *http.Request) {
	var req refundRequest
	_ = decodeJSON(r, &req)

	j, err := h.admin.Refund(r.Context(), chi.URLParam(r, "id"), req.AmountCents, req.Reason, actorEmail(r))
	if err != nil {
		respondDomainError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, j)
}

type dispatchRequest struct {
	Action string `json:"action"`
}

// Dispatch runs the dispatch overrides: restart, next_wave, cancel.
func (h *JobHandler) Dispatch(w http.ResponseWriter, r *http.Request) {
	var req dispatchRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	id := chi.URLParam(r, "id")
	var j *jobs.Job
	var err error
	switch req.Action {
	case "restart":
		j, err = h.admin.RestartDispatch(r.Context(), id, actorEmail(r))
	case "next_wave":
		j, err = h.admin.NextWave(r.Context(), id, actorEmail(r))
	case "cancel":
		j, err = h.admin.CancelDispatch(r.Context(), id, actorEmail(r))
	default:
		respondError(w, http.StatusBadRequest, "action must be restart, next_wave or cancel")
		return
	}
	if err != nil {
		respondDomainError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, j)
}
