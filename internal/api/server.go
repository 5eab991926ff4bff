// Package api provides the HTTP API server and handlers for the FableSeek
// request engine.
package api

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/fableseek/fableseek-server/internal/http/response"
	"github.com/fableseek/fableseek-server/internal/ratelimit"
	"github.com/fableseek/fableseek-server/internal/service"
	"github.com/fableseek/fableseek-server/internal/sse"
	"github.com/fableseek/fableseek-server/internal/store"
)

// Server holds dependencies for HTTP handlers.
type Server struct {
	store         store.Store
	requests      *service.RequestService
	settings      *service.SettingsService
	notifications *service.NotificationService
	catalog       CatalogSearcher
	sseHandler    *sse.Handler
	sseManager    *sse.Manager
	createLimiter *ratelimit.KeyedRateLimiter
	router        *chi.Mux
	logger        *slog.Logger
}

// NewServer creates a new HTTP server with all routes configured.
func NewServer(
	s store.Store,
	requests *service.RequestService,
	settings *service.SettingsService,
	notifications *service.NotificationService,
	catalog CatalogSearcher,
	sseManager *sse.Manager,
	logger *slog.Logger,
) *Server {
	srv := &Server{
		store:         s,
		requests:      requests,
		settings:      settings,
		notifications: notifications,
		catalog:       catalog,
		sseHandler:    sse.NewHandler(sseManager, logger),
		sseManager:    sseManager,
		// 30 request creations per minute per requester.
		createLimiter: ratelimit.New(0.5, 10),
		router:        chi.NewRouter(),
		logger:        logger,
	}

	srv.setupMiddleware()
	srv.setupRoutes()

	return srv
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

// setupMiddleware configures the middleware stack.
func (s *Server) setupMiddleware() {
	s.router.Use(middleware.RequestID)
	s.router.Use(middleware.RealIP)
	s.router.Use(middleware.Recoverer)
	s.router.Use(middleware.Timeout(60 * time.Second))
	s.router.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Content-Type", headerRequester, headerRequesterGroup},
		MaxAge:         300,
	}))
	s.router.Use(s.requestLogger)
}

// setupRoutes configures all HTTP routes.
func (s *Server) setupRoutes() {
	s.router.Get("/health", s.handleHealth)

	s.router.Route("/api/v1", func(r chi.Router) {
		r.Route("/requests", func(r chi.Router) {
			r.Use(s.requireRequester)
			r.Get("/", s.handleListRequests)
			r.With(s.limitCreates).Post("/", s.handleCreateRequest)
			r.Get("/stream", s.sseHandler.ServeHTTP)

			r.Route("/{id}", func(r chi.Router) {
				r.Get("/", s.handleGetRequest)
				r.Delete("/", s.handleDeleteRequest)
				r.Post("/fulfill", s.handleTriggerFulfillment)
				r.Get("/candidates", s.handleListCandidates)
				r.Post("/select", s.handleSelectCandidate)

				r.With(s.requireAdmin).Post("/approve", s.handleApproveRequest)
				r.With(s.requireAdmin).Post("/deny", s.handleDenyRequest)
			})
		})

		r.Route("/search", func(r chi.Router) {
			r.Use(s.requireRequester)
			r.Get("/", s.handleSearchCatalog)
			r.Get("/{asin}", s.handleGetCatalogBook)
		})

		r.Route("/settings", func(r chi.Router) {
			r.Use(s.requireRequester, s.requireAdmin)
			r.Get("/download", s.handleGetDownloadSettings)
			r.Put("/download", s.handleUpdateDownloadSettings)
		})

		r.Route("/notifications", func(r chi.Router) {
			r.Use(s.requireRequester, s.requireAdmin)
			r.Post("/", s.handleCreateNotification)
			r.Get("/", s.handleListNotifications)
			r.Get("/{id}", s.handleGetNotification)
			r.Put("/{id}", s.handleUpdateNotification)
			r.Delete("/{id}", s.handleDeleteNotification)
			r.Post("/{id}/test", s.handleTestNotification)
		})
	})
}

// handleHealth returns server health status.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	status := "healthy"
	dbStatus := "healthy"

	// A settings read doubles as a database liveness probe.
	if _, err := s.store.GetDownloadSettings(r.Context()); err != nil {
		status = "unhealthy"
		dbStatus = "unhealthy"
	}

	payload := map[string]any{
		"status": status,
		"components": map[string]string{
			"database": dbStatus,
		},
		"sse_clients": s.sseManager.ClientCount(),
	}

	code := http.StatusOK
	if status != "healthy" {
		code = http.StatusServiceUnavailable
	}
	response.JSON(w, code, payload, s.logger)
}
