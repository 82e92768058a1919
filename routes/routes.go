package routes

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/upb/assistant-backend/app"
	"github.com/upb/assistant-backend/handlers"
)

// SetupRoutes configures all application routes and middleware
func SetupRoutes(deps *app.Dependencies) http.Handler {
	r := chi.NewRouter()

	// Core middleware
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(60 * time.Second))

	// CORS middleware
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"http://localhost:*", "https://*"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		ExposedHeaders:   []string{"Link", "X-Request-ID"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	healthHandler := handlers.NewHealthHandler(deps.Config, deps.DB, deps.Dispatcher, deps.Logger)
	intentHandler := handlers.NewIntentHandler(deps.Contract, deps.Store, deps.Logger)
	eventHandler := handlers.NewEventHandler(deps.Store, deps.Logger)
	proposalHandler := handlers.NewProposalHandler(deps.ProposalService, deps.Logger)
	workspaceHandler := handlers.NewWorkspaceHandler(deps.Workspaces, deps.Logger)

	// Health check endpoints
	r.Get("/healthz", healthHandler.HandleHealthCheck)
	r.Get("/readyz", healthHandler.HandleReadinessCheck)

	// API v1 routes
	r.Route("/api/v1", func(r chi.Router) {
		// Public routes
		r.Get("/status", healthHandler.HandleStatus)

		// Intent submission
		r.Route("/intents", func(r chi.Router) {
			r.Use(deps.AuthMiddleware.RequireAuth)
			r.Post("/", intentHandler.HandleSubmitIntent)
		})

		// Event queries (read-only)
		r.Route("/events", func(r chi.Router) {
			r.Use(deps.AuthMiddleware.RequireAuth)
			r.Get("/", eventHandler.HandleSearchEvents)
			r.Get("/{id}", eventHandler.HandleGetEvent)
			r.Get("/correlation/{id}", eventHandler.HandleTraceCorrelation)
			r.Get("/aggregate/{id}/version", eventHandler.HandleGetAggregateVersion)
		})

		// Proposal review workflow
		r.Route("/proposals", func(r chi.Router) {
			r.Use(deps.AuthMiddleware.RequireAuth)
			r.Get("/", proposalHandler.HandleListProposals)
			r.Post("/", proposalHandler.HandleSubmitProposal)
			r.Get("/{id}", proposalHandler.HandleGetProposal)
			r.Post("/{id}/approve", proposalHandler.HandleApproveProposal)
			r.Post("/{id}/reject", proposalHandler.HandleRejectProposal)
		})

		// Workspace management
		r.Route("/workspaces", func(r chi.Router) {
			r.Use(deps.AuthMiddleware.RequireAuth)
			r.Post("/", workspaceHandler.HandleCreateWorkspace)
			r.Get("/{id}", workspaceHandler.HandleGetWorkspace)
			r.Put("/{id}/settings", workspaceHandler.HandleUpdateSettings)
			r.Get("/{id}/members", workspaceHandler.HandleListMembers)
			r.Post("/{id}/members", workspaceHandler.HandleAddMember)
			r.Delete("/{id}/members/{userId}", workspaceHandler.HandleRemoveMember)
		})
	})

	// 404 handler
	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusNotFound)
		_, _ = w.Write([]byte(`{"error":"endpoint not found"}`))
	})

	return r
}
