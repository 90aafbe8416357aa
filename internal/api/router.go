package api

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/lumengrid/lumengrid/internal/api/handlers"
	"github.com/lumengrid/lumengrid/internal/api/middleware"
	"github.com/lumengrid/lumengrid/internal/config"
)

// NewRouter creates the HTTP router with all API routes.
func NewRouter(cfg *config.Config, h *handlers.Handlers) http.Handler {
	r := chi.NewRouter()

	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(chimw.Recoverer)
	r.Use(chimw.Compress(5))
	r.Use(middleware.Logger)
	r.Use(middleware.Telemetry)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "PATCH", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-Request-Id"},
		ExposedHeaders:   []string{"X-Request-Id", "X-Trace-Id"},
		AllowCredentials: true,
		MaxAge:           300,
	}))
	r.Use(middleware.NewAPIKeyAuth(cfg.APIKeys).Middleware)

	// Health & info
	r.Get("/health", healthHandler)
	r.Get("/version", versionHandler(cfg))

	// API v1
	r.Route("/api/v1", func(r chi.Router) {
		r.Route("/agents", func(r chi.Router) {
			r.Get("/", h.ListAgents)
			r.Post("/", h.CreateAgent)
			r.Get("/due", h.EvaluateOwnerDue)
			r.Post("/execute-all", h.ExecuteOwnerAgents)
			r.Route("/{agentID}", func(r chi.Router) {
				r.Get("/", h.GetAgent)
				r.Put("/", h.UpdateAgent)
				r.Delete("/", h.DeleteAgent)
				r.Get("/due", h.EvaluateAgentDue)
				r.Post("/execute", h.ExecuteAgent)
				r.Post("/toggle", h.BuildToggle)
				r.Put("/auto-execute", h.SetAutoExecute)
				r.Put("/reminders", h.SetReminders)
			})
		})

		r.Route("/templates", func(r chi.Router) {
			r.Get("/", h.ListTemplates)
			r.Get("/{templateID}", h.GetTemplate)
		})

		r.Post("/intent/parse", h.ParseIntent)

		r.Route("/stellar", func(r chi.Router) {
			r.Get("/balance/{account}", h.GetBalance)
			r.Get("/price", h.GetPrice)
			r.Post("/send", h.BuildPayment)
			r.Post("/submit", h.SubmitTransaction)
		})
	})

	// Cron surface, guarded by a shared secret instead of API keys.
	r.Route("/cron", func(r chi.Router) {
		r.Use(middleware.CronAuth(cfg.Cron.Secret))
		r.Post("/due-check", h.DueCheck)
	})

	r.Get("/internal/store-health", h.StoreHealth)

	return r
}

func healthHandler(w http.ResponseWriter, r *http.Request) {
	json.NewEncoder(w).Encode(map[string]string{
		"status":  "healthy",
		"service": "lumengrid-control-plane",
	})
}

func versionHandler(cfg *config.Config) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]string{
			"version": cfg.Version,
			"service": "lumengrid-control-plane",
		})
	}
}
