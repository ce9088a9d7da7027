// Package httpapi is the HTTP surface: the customer funnel endpoints,
// the admin console, the inbound webhooks and the ops endpoints.
package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/keyrush/locksmith-dispatch/internal/dispatch"
	"github.com/keyrush/locksmith-dispatch/internal/jobs"
	"github.com/keyrush/locksmith-dispatch/internal/photos"
	"github.com/keyrush/locksmith-dispatch/internal/providers"
	"github.com/keyrush/locksmith-dispatch/internal/sessions"
)

// actorEmailHeader is set by the access proxy in front of the admin
// surface. Captured for audit only; there is no in-app admin auth.
const actorEmailHeader = "Cf-Access-Authenticated-User-Email"

func actorEmail(r *http.Request) string {
	return r.Header.Get(actorEmailHeader)
}

func respondJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if v != nil {
		_ = json.NewEncoder(w).Encode(v)
	}
}

func respondError(w http.ResponseWriter, status int, message string) {
	respondJSON(w, status, map[string]string{"error": message})
}

// respondDomainError maps package sentinel errors onto the HTTP
// taxonomy: not-found 404, precondition/validation 400 (the wrapped
// message carries the current status), everything else 500.
func respondDomainError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, sessions.ErrNotFound),
		errors.Is(err, jobs.ErrNotFound),
		errors.Is(err, providers.ErrNotFound),
		errors.Is(err, photos.ErrNotFound),
		errors.Is(err, dispatch.ErrOfferNotFound):
		respondError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, sessions.ErrPrecondition),
		errors.Is(err, jobs.ErrPrecondition),
		errors.Is(err, sessions.ErrValidation),
		errors.Is(err, jobs.ErrNoIntent),
		errors.Is(err, providers.ErrPhoneInUse),
		errors.Is(err, providers.ErrInactive),
		errors.Is(err, providers.ErrUnknownService),
		errors.Is(err, photos.ErrNotImage),
		errors.Is(err, photos.ErrTooLarge):
		respondError(w, http.StatusBadRequest, err.Error())
	default:
		respondError(w, http.StatusInternalServerError, "internal error")
	}
}

func decodeJSON(r *http.Request, v any) error {
	defer r.Body.Close()
	dec := json.NewDecoder(r.Body)
	return dec.Decode(v)
}
