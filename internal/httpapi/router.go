package httpapi

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/keyrush/locksmith-dispatch/pkg/logging"
)

// Config holds router configuration.
type Config struct {
	Logger *logging.Logger

	Sessions   *SessionHandler
	Locksmiths *LocksmithHandler
	Jobs       *JobHandler
	Console    *ConsoleHandler
	SMSWebhook *SMSWebhookHandler
	Health     *HealthHandler

	// PaymentsWebhook terminates the signed payment-gateway webhook.
	PaymentsWebhook http.HandlerFunc
	// MetricsHandler serves the prometheus scrape endpoint.
	MetricsHandler http.Handler
}

// New creates the chi router with all routes configured.
func New(cfg *Config) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Compress(5))
	if cfg.Logger != nil {
		r.Use(RequestLogger(cfg.Logger))
	}

	if cfg.Health != nil {
		r.Get("/healthz", cfg.Health.Handle)
	}
	if cfg.MetricsHandler != nil {
		r.Handle("/metrics", cfg.MetricsHandler)
	}

	// Customer funnel
	if cfg.Sessions != nil {
		r.Route("/request", func(r chi.Router) {
			r.Post("/start", cfg.Sessions.Start)
			r.Route("/{id}", func(r chi.Router) {
				r.Get("/", cfg.Sessions.Get)
				r.Post("/location", cfg.Sessions.Location)
				r.Post("/service", cfg.Sessions.Service)
				r.Post("/photo", cfg.Sessions.Photo)
				r.Post("/payment-intent", cfg.Sessions.PaymentIntent)
				r.Post("/complete", cfg.Sessions.Complete)
				r.Get("/offers", cfg.Sessions.Offers)
			})
		})
	}

	// Webhooks
	r.Route("/webhooks", func(r chi.Router) {
		if cfg.SMSWebhook != nil {
			r.Post("/sms", cfg.SMSWebhook.Handle)
		}
		if cfg.PaymentsWebhook != nil {
			r.Post("/payments", cfg.PaymentsWebhook)
		}
	})

	// Admin console. Auth is enforced at the network edge; the access
	// proxy's user header is captured for audit.
	r.Route("/admin", func(r chi.Router) {
		if cfg.Locksmiths != nil {
			r.Route("/locksmiths", func(r chi.Router) {
				r.Get("/", cfg.Locksmiths.List)
				r.Post("/", cfg.Locksmiths.Create)
				r.Route("/{id}", func(r chi.Router) {
					r.Get("/", cfg.Locksmiths.Get)
					r.Patch("/", cfg.Locksmiths.Update)
					r.Post("/toggle-active", cfg.Locksmiths.ToggleActive)
					r.Post("/toggle-available", cfg.Locksmiths.ToggleAvailable)
					r.Get("/stats", cfg.Locksmiths.Stats)
				})
			})
		}
		if cfg.Jobs != nil {
			r.Route("/jobs", func(r chi.Router) {
				r.Get("/", cfg.Jobs.List)
				r.Route("/{id}", func(r chi.Router) {
					r.Get("/", cfg.Jobs.Get)
					r.Post("/status", cfg.Jobs.Status)
					r.Post("/assign", cfg.Jobs.Assign)
					r.Post("/cancel", cfg.Jobs.Cancel)
					r.Post("/refund", cfg.Jobs.Refund)
					r.Post("/dispatch", cfg.Jobs.Dispatch)
				})
			})
		}
		if cfg.Console != nil {
			r.Route("/sessions", func(r chi.Router) {
				r.Get("/", cfg.Console.ListSessions)
				r.Get("/{id}", cfg.Console.GetSession)
			})
			r.Get("/stats/funnel", cfg.Console.FunnelStats)
			r.Get("/messages", cfg.Console.ListMessages)
			r.Get("/audit", cfg.Console.ListAuditEvents)
		}
	})

	return r
}
