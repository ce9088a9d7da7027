package httpapi

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/keyrush/locksmith-dispatch/internal/audit"
	"github.com/keyrush/locksmith-dispatch/internal/messaging"
	"github.com/keyrush/locksmith-dispatch/internal/sessions"
	"github.com/keyrush/locksmith-dispatch/pkg/logging"
)

// SessionReader is the read side of the session store for the console.
type SessionReader interface {
	GetByID(ctx context.Context, id string) (*sessions.Session, error)
	List(ctx context.Context, filter sessions.ListFilter) ([]*sessions.Session, error)
	FunnelCounts(ctx context.Context) (map[string]int, error)
}

// MessageLog reads the SMS audit trail.
type MessageLog interface {
	List(ctx context.Context, filter messaging.ListFilter) ([]messaging.Message, error)
}

// AuditReader queries the audit trail.
type AuditReader interface {
	Query(ctx context.Context, filter audit.Filter) ([]audit.Event, error)
}

// ConsoleHandler serves the read-only admin console: sessions, funnel
// stats, the message log and the audit trail.
type ConsoleHandler struct {
	sessions SessionReader
	messages MessageLog
	audit    AuditReader
	gatherer prometheus.Gatherer
	logger   *logging.Logger
}

// NewConsoleHandler wires the console endpoints. messages, audit and
// gatherer may be nil.
func NewConsoleHandler(sessionReader SessionReader, messages MessageLog, auditReader AuditReader, gatherer prometheus.Gatherer, logger *logging.Logger) *ConsoleHandler {
	if sessionReader == nil {
		panic("httpapi: session reader required")
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &ConsoleHandler{
		sessions: sessionReader,
		messages: messages,
		audit:    auditReader,
		gatherer: gatherer,
		logger:   logger,
	}
}

// ListSessions returns funnel sessions newest first.
func (h *ConsoleHandler) ListSessions(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := sessions.ListFilter{
		Status: q.Get("status"),
		Limit:  queryInt(q.Get("limit"), 50),
		Offset: queryInt(q.Get("offset"), 0),
	}
	if after := q.Get("created_after"); after != "" {
		if t, err := time.Parse(time.RFC3339, after); err == nil {
			filter.CreatedAfter = t
		}
	}
	if before := q.Get("created_before"); before != "" {
		if t, err := time.Parse(time.RFC3339, before); err == nil {
			filter.CreatedBefore = t
		}
	}

	list, err := h.sessions.List(r.Context(), filter)
	if err != nil {
		h.logger.Error("session list failed", "error", err)
		respondError(w, http.StatusInternalServerError, "internal error")
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{
		"sessions": list,
		"count":    len(list),
	})
}

// GetSession returns one session.
func (h *ConsoleHandler) GetSession(w http.ResponseWriter, r *http.Request) {
	s, err := h.sessions.GetByID(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		respondDomainError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, s)
}

// FunnelStats returns session counts per status, the paid conversion
// rate and an SMS counter snapshot from the metrics registry.
func (h *ConsoleHandler) FunnelStats(w http.ResponseWriter, r *http.Request) {
	counts, err := h.sessions.FunnelCounts(r.Context())
	if err != nil {
		h.logger.Error("funnel counts failed", "error", err)
		respondError(w, http.StatusInternalServerError, "internal error")
		return
	}

	total := 0
	for _, n := range counts {
		total += n
	}
	conversion := 0.0
	if total > 0 {
		conversion = float64(counts[sessions.StatusPaymentCompleted]) / float64(total)
	}

	resp := map[string]any{
		"by_status":       counts,
		"total_sessions":  total,
		"conversion_rate": conversion,
	}
	if h.gatherer != nil {
		resp["sms"] = map[string]float64{
			"sent_total":     h.counterTotal("locksmith_sms_sent_total"),
			"received_total": h.counterTotal("locksmith_sms_received_total"),
		}
	}
	respondJSON(w, http.StatusOK, resp)
}

// counterTotal sums every series of a counter family; 0 when the family
// has not been observed yet.
func (h *ConsoleHandler) counterTotal(name string) float64 {
	families, err := h.gatherer.Gather()
	if err != nil {
		h.logger.Error("metrics gather failed", "error", err)
		return 0
	}
	total := 0.0
	for _, fam := range families {
		if fam.GetName() != name {
			continue
		}
		for _, m := range fam.GetMetric() {
			if c := m.GetCounter(); c != nil {
				total += c.GetValue()
			}
		}
	}
	return total
}

// ListMessages returns the SMS log with filters.
func (h *ConsoleHandler) ListMessages(w http.ResponseWriter, r *http.Request) {
	if h.messages == nil {
		respondError(w, http.StatusServiceUnavailable, "message log not configured")
		return
	}
	q := r.URL.Query()
	list, err := h.messages.List(r.Context(), messaging.ListFilter{
		JobID:       q.Get("job_id"),
		LocksmithID: q.Get("locksmith_id"),
		Direction:   q.Get("direction"),
		HasError:    q.Get("has_error") == "true",
		Limit:       queryInt(q.Get("limit"), 100),
		Offset:      queryInt(q.Get("offset"), 0),
	})
	if err != nil {
		h.logger.Error("message list failed", "error", err)
		respondError(w, http.StatusInternalServerError, "internal error")
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{
		"messages": list,
		"count":    len(list),
	})
}

// ListAuditEvents queries the audit trail with filters.
func (h *ConsoleHandler) ListAuditEvents(w http.ResponseWriter, r *http.Request) {
	if h.audit == nil {
		respondError(w, http.StatusServiceUnavailable, "audit trail not configured")
		return
	}
	q := r.URL.Query()
	filter := audit.Filter{
		EntityType: q.Get("entity_type"),
		EntityID:   q.Get("entity_id"),
		EventType:  q.Get("event_type"),
		Limit:      queryInt(q.Get("limit"), 100),
		Offset:     queryInt(q.Get("offset"), 0),
	}
	if start := q.Get("start"); start != "" {
		if t, err := time.Parse(time.RFC3339, start); err == nil {
			filter.StartTime = t
		}
	}
	if end := q.Get("end"); end != "" {
		if t, err := time.Parse(time.RFC3339, end); err == nil {
			filter.EndTime = t
		}
	}

	events, err := h.audit.Query(r.Context(), filter)
	if err != nil {
		h.logger.Error("audit query failed", "error", err)
		respondError(w, http.StatusInternalServerError, "internal error")
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{
		"events": events,
		"count":  len(events),
	})
}
