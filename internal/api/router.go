package api

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/actionchat/actionchat/internal/api/handlers"
	"github.com/actionchat/actionchat/internal/api/middleware"
	"github.com/actionchat/actionchat/internal/config"
)

// NewRouter creates the HTTP router with all API routes.
func NewRouter(cfg *config.Config, h *handlers.Handlers) http.Handler {
	r := chi.NewRouter()

	auth := middleware.NewAuth(cfg.Auth)

	// Global middleware
	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(chimw.Recoverer)
	r.Use(chimw.Compress(5))
	r.Use(middleware.Logger)
	r.Use(auth.Handler)
	r.Use(middleware.Telemetry)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "PATCH", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-API-Key", "X-Request-Id"},
		ExposedHeaders:   []string{"X-Request-Id", "X-Chat-Id"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	// Health & info
	r.Get("/health", healthHandler)
	r.Get("/version", versionHandler(cfg))

	// API v1
	r.Route("/api/v1", func(r chi.Router) {
		// Chat turns and the approval back-channel
		r.Post("/chat", h.StreamChat)
		r.Post("/approvals", h.ResolveApproval)
		r.Route("/chats", func(r chi.Router) {
			r.Get("/", h.ListChats)
			r.Get("/{chatID}", h.GetChat)
		})

		// Direct tool dispatch
		r.Route("/tools", func(r chi.Router) {
			r.Post("/execute", h.ExecuteTool)
			r.Post("/paginate", h.PaginateTool)
		})

		// Agents and their source links
		r.Route("/agents", func(r chi.Router) {
			r.Get("/", h.ListAgents)
			r.Post("/", h.CreateAgent)
			r.Route("/{agentID}", func(r chi.Router) {
				r.Get("/", h.GetAgent)
				r.Put("/", h.UpdateAgent)
				r.Delete("/", h.DeleteAgent)
				r.Get("/tools", h.ListAgentTools)
				r.Route("/links", func(r chi.Router) {
					r.Get("/", h.ListLinks)
					r.Post("/", h.CreateLink)
					r.Delete("/{sourceID}", h.DeleteLink)
				})
			})
		})

		// Sources, ingestion and per-user credentials
		r.Route("/sources", func(r chi.Router) {
			r.Get("/", h.ListSources)
			r.Post("/", h.CreateSource)
			r.Route("/{sourceID}", func(r chi.Router) {
				r.Get("/", h.GetSource)
				r.Put("/", h.UpdateSource)
				r.Delete("/", h.DeleteSource)
				r.Post("/ingest", h.IngestSource)
				r.Get("/operations", h.ListSourceOperations)
				r.Post("/credentials", h.BindCredential)
			})
		})
		r.Route("/credentials", func(r chi.Router) {
			r.Get("/", h.ListCredentials)
			r.Post("/{credentialID}/rotate", h.RotateCredential)
			r.Delete("/{credentialID}", h.DeactivateCredential)
		})

		// Vendor templates
		r.Get("/templates", h.ListTemplates)

		// Audit trail
		r.Route("/activity", func(r chi.Router) {
			r.Get("/", h.ListActivity)
			r.Get("/{actionID}", h.GetAction)
		})
	})

	return r
}

func healthHandler(w http.ResponseWriter, r *http.Request) {
	json.NewEncoder(w).Encode(map[string]string{
		"status":  "healthy",
		"service": "actionchat-broker",
	})
}

func versionHandler(cfg *config.Config) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]string{
			"version": cfg.Version,
			"service": "actionchat-broker",
		})
	}
}
