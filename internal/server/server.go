// Package server provides the HTTP servers for layout-api and the agent.
package server

import (
	"context"
	"fmt"
	"net/http"

	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"github.com/pestroute/layoutsync/internal/config"
	apierrors "github.com/pestroute/layoutsync/internal/errors"
	"github.com/pestroute/layoutsync/internal/handler"
	"github.com/pestroute/layoutsync/internal/health"
	"github.com/pestroute/layoutsync/internal/metrics"
	"github.com/pestroute/layoutsync/internal/middleware"
)

// Server represents the HTTP server.
type Server struct {
	router       *mux.Router
	httpServer   *http.Server
	healthCheck  *health.HealthCheck
	errorHandler *apierrors.Handler
	metrics      *metrics.Metrics
	logger       *zap.Logger
	cfg          *config.Config
}

// NewServer creates a new HTTP server. Routes are added by SetupAPIRoutes
// or SetupAgentRoutes.
func NewServer(
	cfg *config.Config,
	healthCheck *health.HealthCheck,
	errorHandler *apierrors.Handler,
	m *metrics.Metrics,
	logger *zap.Logger,
) *Server {
	router := mux.NewRouter()

	httpServer := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	return &Server{
		router:       router,
		httpServer:   httpServer,
		healthCheck:  healthCheck,
		errorHandler: errorHandler,
		metrics:      m,
		logger:       logger,
		cfg:          cfg,
	}
}

// setupCommon installs the middleware chain, health endpoints and the
// fallback handlers, and returns the /v1 subrouter.
func (s *Server) setupCommon() *mux.Router {
	middlewareChain := []func(http.Handler) http.Handler{
		middleware.Recovery(s.logger),
		middleware.RequestID,
		middleware.Logging(s.logger),
		middleware.CORS(s.cfg.Server.AllowedOrigins),
	}

	if s.cfg.RateLimiter.Enabled {
		rateLimiter := middleware.NewRateLimiter(
			s.cfg.RateLimiter.RequestsPerSecond,
			s.cfg.RateLimiter.BurstSize,
			s.logger,
		)
		middlewareChain = append(middlewareChain, rateLimiter.Limit)
	}

	chain := middleware.Chain(middlewareChain...)
	s.router.Use(func(next http.Handler) http.Handler {
		return chain(next)
	})
	s.router.Use(metrics.Middleware(s.metrics))

	s.router.HandleFunc("/health", s.healthCheck.LivenessHandler).Methods(http.MethodGet)
	s.router.HandleFunc("/ready", s.healthCheck.ReadinessHandler).Methods(http.MethodGet)

	s.router.NotFoundHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestID := r.Header.Get("X-Request-ID")
		s.errorHandler.WriteErrorResponse(w, http.StatusNotFound, apierrors.ErrorCodeInvalidRequest, "endpoint not found", requestID)
	})
	methodNotAllowed := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestID := r.Header.Get("X-Request-ID")
		s.errorHandler.WriteErrorResponse(w, http.StatusMethodNotAllowed, apierrors.ErrorCodeInvalidRequest, "method not allowed", requestID)
	})
	s.router.MethodNotAllowedHandler = methodNotAllowed

	// subrouters do not inherit the parent's handlers
	v1 := s.router.PathPrefix("/v1").Subrouter()
	v1.MethodNotAllowedHandler = methodNotAllowed
	return v1
}

// SetupAPIRoutes configures the layout-api routes. Every /v1 route is
// tenant-scoped.
func (s *Server) SetupAPIRoutes(h *handler.LayoutHandlers) {
	v1 := s.setupCommon()
	v1.Use(middleware.Tenant)

	// Layouts
	v1.HandleFunc("/layouts", h.ListLayouts).Methods(http.MethodGet)
	v1.HandleFunc("/layouts", h.CreateLayout).Methods(http.MethodPost)
	v1.HandleFunc("/layouts/{layout_id}", h.GetLayout).Methods(http.MethodGet)
	v1.HandleFunc("/layouts/{layout_id}", h.UpdateLayout).Methods(http.MethodPatch)
	v1.HandleFunc("/layouts/{layout_id}", h.DeleteLayout).Methods(http.MethodDelete)

	// Regions
	v1.HandleFunc("/layouts/{layout_id}/regions", h.ListRegions).Methods(http.MethodGet)
	v1.HandleFunc("/layouts/{layout_id}/regions", h.CreateRegion).Methods(http.MethodPost)
	v1.HandleFunc("/layouts/{layout_id}/regions/{region_id}", h.GetRegion).Methods(http.MethodGet)
	v1.HandleFunc("/layouts/{layout_id}/regions/{region_id}", h.UpdateRegion).Methods(http.MethodPatch)
	v1.HandleFunc("/layouts/{layout_id}/regions/{region_id}", h.DeleteRegion).Methods(http.MethodDelete)
	v1.HandleFunc("/layouts/{layout_id}/reorder", h.ReorderRegions).Methods(http.MethodPost)

	// Templates
	v1.HandleFunc("/templates", h.ListTemplates).Methods(http.MethodGet)
	v1.HandleFunc("/templates", h.CreateTemplate).Methods(http.MethodPost)
	v1.HandleFunc("/templates/{template_id}", h.GetTemplate).Methods(http.MethodGet)
	v1.HandleFunc("/templates/{template_id}", h.UpdateTemplate).Methods(http.MethodPatch)
	v1.HandleFunc("/templates/{template_id}", h.DeleteTemplate).Methods(http.MethodDelete)
	v1.HandleFunc("/templates/{template_id}/instantiate", h.InstantiateTemplate).Methods(http.MethodPost)
}

// SetupAgentRoutes configures the agent's local API. Region edits and bulk
// actions are tenant-scoped; the queue, negotiations and undo belong to the
// agent itself.
func (s *Server) SetupAgentRoutes(h *handler.AgentHandlers) {
	v1 := s.setupCommon()
	tenant := func(f http.HandlerFunc) http.Handler {
		return middleware.Tenant(f)
	}

	// Region edits
	v1.Handle("/layouts/{layout_id}/regions", tenant(h.LoadLayout)).Methods(http.MethodGet)
	v1.Handle("/layouts/{layout_id}/regions", tenant(h.CreateRegion)).Methods(http.MethodPost)
	v1.Handle("/layouts/{layout_id}/regions/{region_id}", tenant(h.UpdateRegion)).Methods(http.MethodPatch)
	v1.Handle("/layouts/{layout_id}/regions/{region_id}", tenant(h.DeleteRegion)).Methods(http.MethodDelete)
	v1.Handle("/layouts/{layout_id}/reorder", tenant(h.ReorderRegions)).Methods(http.MethodPost)

	// Offline queue
	v1.HandleFunc("/queue", h.GetQueue).Methods(http.MethodGet)
	v1.HandleFunc("/queue/status", h.GetQueueStatus).Methods(http.MethodGet)
	v1.HandleFunc("/queue/sync", h.SyncQueue).Methods(http.MethodPost)
	v1.HandleFunc("/queue/retry-failed", h.RetryFailed).Methods(http.MethodPost)
	v1.HandleFunc("/queue/clear-completed", h.ClearCompleted).Methods(http.MethodPost)
	v1.HandleFunc("/queue/operations/{operation_id}", h.GetOperation).Methods(http.MethodGet)
	v1.HandleFunc("/queue/operations/{operation_id}", h.RemoveOperation).Methods(http.MethodDelete)

	// Conflict negotiations
	v1.HandleFunc("/negotiations", h.ListNegotiations).Methods(http.MethodGet)
	v1.HandleFunc("/negotiations/{negotiation_id}", h.GetNegotiation).Methods(http.MethodGet)
	v1.HandleFunc("/negotiations/{negotiation_id}/resolve", h.ResolveNegotiation).Methods(http.MethodPost)
	v1.HandleFunc("/negotiations/{negotiation_id}/cancel", h.CancelNegotiation).Methods(http.MethodPost)

	// Bulk actions
	v1.Handle("/bulk", tenant(h.ApplyBulk)).Methods(http.MethodPost)
	v1.HandleFunc("/bulk/undo", h.UndoBulk).Methods(http.MethodPost)
	v1.HandleFunc("/bulk/history", h.BulkHistory).Methods(http.MethodGet)
}

// Start starts the HTTP server.
func (s *Server) Start() error {
	s.logger.Info("Starting HTTP server",
		zap.Int("port", s.cfg.Server.Port),
	)

	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("failed to start HTTP server: %w", err)
	}
	return nil
}

// Shutdown gracefully shuts down the HTTP server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("Shutting down HTTP server")
	return s.httpServer.Shutdown(ctx)
}

// GetHandler returns the http.Handler for the server.
func (s *Server) GetHandler() http.Handler {
	return s.router
}
