// Package router assembles the gateway's HTTP surface.
package router

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/relaycrm/messaging-gateway/internal/http/handlers"
	httpmiddleware "github.com/relaycrm/messaging-gateway/internal/http/middleware"
	"github.com/relaycrm/messaging-gateway/pkg/logging"
)

// Config holds router configuration.
type Config struct {
	Logger        *logging.Logger
	Webhooks      *handlers.WebhookHandler
	Conversations *handlers.ConversationHandler

	// APIJWTSecret signs the CRM-facing bearer tokens. Empty disables
	// the read/send API rather than leaving it open.
	APIJWTSecret string

	// APIRatePerSec limits authenticated API calls per client IP.
	// Zero disables the limiter.
	APIRatePerSec float64
	APIRateBurst  int

	MetricsHandler http.Handler
}

// New creates a chi router with all routes configured.
func New(cfg *Config) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	if cfg.Logger != nil {
		r.Use(httpmiddleware.RequestLogger(cfg.Logger))
	}

	// Public: webhooks authenticate with signatures, not tokens.
	r.Group(func(public chi.Router) {
		public.Get("/health", cfg.Webhooks.HealthCheck)
		public.Route("/webhooks", func(r chi.Router) {
			r.Get("/whatsapp", cfg.Webhooks.HandleWhatsApp)
			r.Post("/whatsapp", cfg.Webhooks.HandleWhatsApp)
			r.Get("/instagram", cfg.Webhooks.HandleInstagram)
			r.Post("/instagram", cfg.Webhooks.HandleInstagram)
		})
	})

	// CRM-facing API: JWT-scoped to one company.
	r.Group(func(api chi.Router) {
		if cfg.APIRatePerSec > 0 {
			api.Use(httpmiddleware.RateLimit(cfg.APIRatePerSec, cfg.APIRateBurst))
		}
		api.Use(httpmiddleware.APIAuth(cfg.APIJWTSecret))
		api.Route("/api/v1", func(r chi.Router) {
			r.Get("/conversations", cfg.Conversations.List)
			r.Route("/conversations/{conversationID}", func(r chi.Router) {
				r.Get("/", cfg.Conversations.Get)
				r.Delete("/", cfg.Conversations.Delete)
				r.Post("/read", cfg.Conversations.MarkRead)
				r.Post("/status", cfg.Conversations.SetStatus)
				r.Get("/messages", cfg.Conversations.Messages)
				r.Post("/messages", cfg.Conversations.Send)
			})
			r.Get("/messages/{messageID}", cfg.Conversations.GetMessage)
		})
	})

	if cfg.MetricsHandler != nil {
		r.Handle("/metrics", cfg.MetricsHandler)
	}

	return r
}
