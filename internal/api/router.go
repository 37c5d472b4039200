// Package api exposes the Cloracle HTTP API.
package api

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog/log"

	"github.com/leeaandrob/cloracle/internal/chat"
	"github.com/leeaandrob/cloracle/internal/oracle"
	"github.com/leeaandrob/cloracle/internal/scheduler"
	"github.com/leeaandrob/cloracle/internal/storage"
	syncer "github.com/leeaandrob/cloracle/internal/sync"
)

// RequestTimeout bounds every request. It stays above the default batch
// budget so /api/analyze-all can report before the middleware cuts it off.
const RequestTimeout = 60 * time.Second

// Deps are the services behind the API. Scheduler may be nil.
type Deps struct {
	Store     storage.Store
	Syncer    *syncer.Syncer
	Oracle    *oracle.Service
	Chat      *chat.Mediator
	Scheduler *scheduler.Scheduler

	// BatchBudget bounds POST /api/analyze-all; work committed before it
	// expires is kept.
	BatchBudget time.Duration
}

// Server represents the API server.
type Server struct {
	router   *chi.Mux
	deps     Deps
	validate *validator.Validate
	addr     string
	server   *http.Server
}

// NewServer creates a new API server.
func NewServer(deps Deps, addr string) *Server {
	srv := &Server{
		deps:     deps,
		validate: validator.New(),
		addr:     addr,
	}

	r := chi.NewRouter()

	// Middleware
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(RequestTimeout))

	// CORS
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Content-Type"},
		ExposedHeaders:   []string{"Link"},
		AllowCredentials: false,
		MaxAge:           300,
	}))

	// Routes
	r.Route("/api", func(r chi.Router) {
		// Health
		r.Get("/health", srv.HealthCheck)
		r.Get("/stats", srv.GetStats)
		r.Get("/categories", srv.GetCategories)

		// Events
		r.Route("/events", func(r chi.Router) {
			r.Get("/", srv.ListEvents)
			r.Get("/{id}", srv.GetEvent)
			r.Delete("/{id}", srv.DeleteEvent)
		})

		// Sync
		r.Post("/sync", srv.SyncNow)
		r.Get("/sync", srv.SyncStatus)

		// Analysis
		r.Post("/analyze", srv.AnalyzeEvent)
		r.Put("/analyze", srv.AnalyzeBatch)
		r.Post("/analyze-all", srv.AnalyzeAll)

		// Categories maintenance
		r.Post("/reclassify", srv.Reclassify)
		r.Get("/reclassify", srv.CategoryDistribution)

		// Chat
		r.Post("/chat", srv.Chat)
		r.Get("/chat", srv.ChatHistory)

		// Admin routes (no auth for development)
		r.Route("/admin", func(r chi.Router) {
			r.Get("/jobs", srv.AdminGetJobs)
			r.Post("/jobs/{name}/run", srv.AdminRunJob)
		})
	})

	srv.router = r
	return srv
}

// Handler returns the root HTTP handler.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Start starts the API server.
func (s *Server) Start() error {
	s.server = &http.Server{
		Addr:         s.addr,
		Handler:      s.router,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 120 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	log.Info().Str("addr", s.addr).Msg("Starting API server")
	return s.server.ListenAndServe()
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.server != nil {
		return s.server.Shutdown(ctx)
	}
	return nil
}

// ============================================================================
// ADMIN HANDLERS
// ============================================================================

// AdminGetJobs returns the status of all scheduled jobs.
func (s *Server) AdminGetJobs(w http.ResponseWriter, r *http.Request) {
	if s.deps.Scheduler == nil {
		respondError(w, http.StatusServiceUnavailable, "Scheduler not available")
		return
	}

	jobs := s.deps.Scheduler.GetJobStatus()

	respondJSON(w, http.StatusOK, map[string]interface{}{
		"jobs":  jobs,
		"count": len(jobs),
	})
}

// AdminRunJob runs a specific job by name.
func (s *Server) AdminRunJob(w http.ResponseWriter, r *http.Request) {
	if s.deps.Scheduler == nil {
		respondError(w, http.StatusServiceUnavailable, "Scheduler not available")
		return
	}

	name := chi.URLParam(r, "name")
	if err := s.deps.Scheduler.RunJobNow(name); err != nil {
		respondError(w, http.StatusNotFound, "Job not found")
		return
	}

	respondJSON(w, http.StatusOK, map[string]string{
		"status":  "ok",
		"message": "Job triggered: " + name,
	})
}
