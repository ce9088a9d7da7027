package httpapi

import (
	"context"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/keyrush/locksmith-dispatch/internal/audit"
	"github.com/keyrush/locksmith-dispatch/internal/providers"
	"github.com/keyrush/locksmith-dispatch/pkg/logging"
)

// LocksmithAdmin is the roster surface the admin console uses.
type LocksmithAdmin interface {
	Create(ctx context.Context, req *providers.CreateRequest) (*providers.Locksmith, error)
	GetByID(ctx context.Context, id string) (*providers.Locksmith, error)
	List(ctx context.Context, filter providers.ListFilter) ([]*providers.Locksmith, error)
	Update(ctx context.Context, id string, req *providers.UpdateRequest) (*providers.Locksmith, error)
	ToggleActive(ctx context.Context, id string) (bool, error)
	ToggleAvailable(ctx context.Context, id string) (bool, error)
	Stats(ctx context.Context, id string) (*providers.Stats, error)
}

// LocksmithHandler serves the admin roster endpoints.
type LocksmithHandler struct {
	repo   LocksmithAdmin
	audit  *audit.Service
	logger *logging.Logger
}

// NewLocksmithHandler wires the roster endpoints.
func NewLocksmithHandler(repo LocksmithAdmin, auditSvc *audit.Service, logger *logging.Logger) *LocksmithHandler {
	if repo == nil {
		panic("httpapi: locksmith repository required")
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &LocksmithHandler{repo: repo, audit: auditSvc, logger: logger}
}

// List returns the roster, optionally filtered.
func (h *LocksmithHandler) List(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := providers.ListFilter{
		City:          q.Get("city"),
		ActiveOnly:    q.Get("active") == "true",
		AvailableOnly: q.Get("available") == "true",
		Limit:         queryInt(q.Get("limit"), 100),
		Offset:        queryInt(q.Get("offset"), 0),
	}

	list, err := h.repo.List(r.Context(), filter)
	if err != nil {
		h.logger.Error("locksmith list failed", "error", err)
		respondError(w, http.StatusInternalServerError, "internal error")
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{
		"locksmiths": list,
		"count":      len(list),
	})
}

// Create onboards a locksmith.
func (h *LocksmithHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req providers.CreateRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if err := req.Validate(); err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}

	l, err := h.repo.Create(r.Context(), &req)
	if err != nil {
		respondDomainError(w, err)
		return
	}
	h.logAdmin(r, l.ID, "create_locksmith", map[string]any{"phone": l.Phone})
	respondJSON(w, http.StatusCreated, l)
}

// Get returns one locksmith.
func (h *LocksmithHandler) Get(w http.ResponseWriter, r *http.Request) {
	l, err := h.repo.GetByID(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		respondDomainError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, l)
}

// Update patches a locksmith.
func (h *LocksmithHandler) Update(w http.ResponseWriter, r *http.Request) {
	var req providers.UpdateRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	id := chi.URLParam(r, "id")
	l, err := h.repo.Update(r.Context(), id, &req)
	if err != nil {
		respondDomainError(w, err)
		return
	}
	h.logAdmin(r, id, "update_locksmith", nil)
	respondJSON(w, http.StatusOK, l)
}

// ToggleActive flips the active flag.
func (h *LocksmithHandler) ToggleActive(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	active, err := h.repo.ToggleActive(r.Context(), id)
	if err != nil {
		respondDomainError(w, err)
		return
	}
	h.logAdmin(r, id, "toggle_active", map[string]any{"is_active": active})
	respondJSON(w, http.StatusOK, map[string]any{"id": id, "is_active": active})
}

// ToggleAvailable flips the availability flag.
func (h *LocksmithHandler) ToggleAvailable(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	available, err := h.repo.ToggleAvailable(r.Context(), id)
	if err != nil {
		respondDomainError(w, err)
		return
	}
	h.logAdmin(r, id, "toggle_available", map[string]any{"is_available": available})
	respondJSON(w, http.StatusOK, map[string]any{"id": id, "is_available": available})
}

// Stats returns offer and job counters for one locksmith.
func (h *LocksmithHandler) Stats(w http.ResponseWriter, r *http.Request) {
	stats, err := h.repo.Stats(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		respondDomainError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, stats)
}

func (h *LocksmithHandler) logAdmin(r *http.Request, id, action string, payload map[string]any) {
	if h.audit == nil {
		return
	}
	if err := h.audit.LogAdminAction(r.Context(), "locksmith", id, action, actorEmail(r), payload); err != nil {
		h.logger.Error("audit log failed", "locksmith_id", id, "action", action, "error", err)
	}
}

func queryInt(value string, fallback int) int {
	if value == "" {
		return fallback
	}
	if n, err := strconv.Atoi(value); err == nil && n >= 0 {
		return n
	}
	return fallback
}
