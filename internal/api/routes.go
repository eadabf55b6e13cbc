package api

import (
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
)

// SetupRoutes builds the full route tree.
func SetupRoutes(h *Handlers) *chi.Mux {
	r := chi.NewRouter()

	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.RealIP)
	r.Use(middleware.RequestID)

	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"http://localhost:5173", "http://localhost:8080"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		ExposedHeaders:   []string{"Link"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	// Health check (no auth required)
	r.Get("/health", h.HealthCheck)

	// Provider webhooks sit outside /api: providers post here directly.
	r.Post("/webhooks/events", h.IngestProviderEvents)

	r.Route("/api", func(r chi.Router) {
		r.Route("/campaigns", func(r chi.Router) {
			r.Get("/", h.ListCampaigns)
			r.Post("/", h.CreateCampaign)
			r.Get("/{id}", h.GetCampaign)
			r.Put("/{id}", h.UpdateCampaign)
			r.Post("/{id}/schedule", h.ScheduleCampaign)
			r.Post("/{id}/send-now", h.SendCampaignNow)
			r.Post("/{id}/cancel", h.CancelCampaign)
			r.Get("/{id}/analytics", h.CampaignAnalytics)
			r.Get("/{id}/analytics/trend", h.CampaignAnalyticsTrend)
		})

		r.Route("/recipients", func(r chi.Router) {
			r.Get("/", h.ListRecipients)
			r.Post("/", h.UpsertRecipient)
			r.Post("/unsubscribe", h.UnsubscribeRecipient)
		})

		r.Route("/analytics", func(r chi.Router) {
			r.Get("/top", h.TopPerformers)
			r.Post("/capture", h.CaptureSnapshots)
		})
	})

	return r
}
