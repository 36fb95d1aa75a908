package routes

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/upb/inference-router/app"
	"github.com/upb/inference-router/handlers"
)

// SetupRoutes configures all application routes and middleware
func SetupRoutes(deps *app.Dependencies) http.Handler {
	r := chi.NewRouter()

	// Core middleware
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(120 * time.Second))

	// CORS middleware
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"http://localhost:*", "https://*"},
		AllowedMethods: []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Content-Type", "X-Request-ID"},
		ExposedHeaders: []string{"X-Request-ID"},
		MaxAge:         300,
	}))

	healthHandler := handlers.NewHealthHandler(deps.DB, deps.Logger)
	generateHandler := handlers.NewGenerateHandler(deps.Router, deps.Logger)
	modelHandler := handlers.NewModelHandler(deps.Router, deps.UsageLog, deps.Logger)

	// Health check endpoints
	r.Get("/healthz", healthHandler.HandleHealth)
	r.Get("/readyz", healthHandler.HandleReadiness)

	// API v1 routes
	r.Route("/api/v1", func(r chi.Router) {
		r.Post("/generate", generateHandler.HandleGenerate)

		r.Route("/models", func(r chi.Router) {
			r.Get("/status", modelHandler.HandleStatus)
			r.Get("/usage", modelHandler.HandleUsage)
			r.Post("/{id}/reset", modelHandler.HandleReset)
		})
	})

	return r
}
