package server

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/sevigo/stack-warden/internal/config"
	"github.com/sevigo/stack-warden/internal/core"
	"github.com/sevigo/stack-warden/internal/server/handler"
	"github.com/sevigo/stack-warden/internal/storage"
)

// NewRouter creates and configures a new HTTP router with middleware and API routes.
func NewRouter(cfg *config.Config, dispatcher core.JobDispatcher, store storage.Store, logger *slog.Logger) *chi.Mux {
	r := chi.NewRouter()

	// Configure middleware stack
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(60 * time.Second))

	// Health check endpoint
	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("OK"))
	})

	// API routes
	r.Route("/api/v1", func(r chi.Router) {
		reconcileHandler := handler.NewReconcileHandler(cfg, dispatcher, store, logger)
		r.Post("/reconcile", reconcileHandler.Reconcile)
		r.Get("/runs", reconcileHandler.Runs)
	})

	return r
}
