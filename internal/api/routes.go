package api

import (
	"net/http"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/time/rate"
)

// Server holds the HTTP handlers and dependencies.
type Server struct {
	router   *mux.Router
	handlers *Handlers
}

// NewServer creates a new API server with the given handlers.
func NewServer(h *Handlers) *Server {
	s := &Server{
		router:   mux.NewRouter(),
		handlers: h,
	}
	s.setupRoutes()
	return s
}

// Router returns the configured router for use with http.Server.
func (s *Server) Router() http.Handler {
	return s.router
}

func (s *Server) setupRoutes() {
	// Health endpoints
	s.router.HandleFunc("/health", s.handlers.Health).Methods("GET")
	s.router.HandleFunc("/healthz", s.handlers.Health).Methods("GET")
	s.router.HandleFunc("/ready", s.handlers.Ready).Methods("GET")

	// Prometheus metrics
	s.router.Handle("/metrics", promhttp.Handler()).Methods("GET")

	// API routes
	api := s.router.PathPrefix("/api/v1").Subrouter()

	// Workflow library
	api.HandleFunc("/workflows", s.handlers.SaveWorkflow).Methods("POST")
	api.HandleFunc("/workflows", s.handlers.ListWorkflows).Methods("GET")
	api.HandleFunc("/workflows/import", s.handlers.ImportWorkflow).Methods("POST")
	api.HandleFunc("/workflows/{id}", s.handlers.GetWorkflow).Methods("GET")
	api.HandleFunc("/workflows/{id}", s.handlers.DeleteWorkflow).Methods("DELETE")
	api.HandleFunc("/workflows/{id}/export", s.handlers.ExportWorkflow).Methods("GET")

	// Node type catalog
	api.HandleFunc("/catalog", s.handlers.ListCatalog).Methods("GET")
	api.HandleFunc("/catalog/refresh", s.handlers.RefreshCatalog).Methods("POST")

	// Graph validation
	api.HandleFunc("/validate", s.handlers.ValidateGraph).Methods("POST")

	// Run control
	api.HandleFunc("/runs", s.handlers.StartRun).Methods("POST")
	api.HandleFunc("/runs/active", s.handlers.ActiveRun).Methods("GET")
	api.HandleFunc("/runs/{id}", s.handlers.GetRun).Methods("GET")
	api.HandleFunc("/runs/{id}/stop", s.handlers.StopRun).Methods("POST")

	// Event streaming
	api.HandleFunc("/events", s.handlers.StreamEvents).Methods("GET")
	api.HandleFunc("/ws", s.handlers.StreamEventsWS).Methods("GET")

	// Execution history
	api.HandleFunc("/executions", s.handlers.ListExecutions).Methods("GET")
	api.HandleFunc("/executions/{id}", s.handlers.GetExecution).Methods("GET")
	api.HandleFunc("/executions/{id}", s.handlers.DeleteExecution).Methods("DELETE")

	// Schedules
	api.HandleFunc("/schedules", s.handlers.ListSchedules).Methods("GET")
	api.HandleFunc("/schedules/{workflowId}", s.handlers.StartSchedule).Methods("PUT")
	api.HandleFunc("/schedules/{workflowId}", s.handlers.GetSchedule).Methods("GET")
	api.HandleFunc("/schedules/{workflowId}", s.handlers.StopSchedule).Methods("DELETE")

	// Preferences
	api.HandleFunc("/prefs", s.handlers.GetPrefs).Methods("GET")
	api.HandleFunc("/prefs", s.handlers.UpdatePrefs).Methods("PUT")
	api.HandleFunc("/prefs/favorites/{workflowId}", s.handlers.ToggleFavorite).Methods("POST")

	// Apply middleware
	limiter := rate.NewLimiter(rate.Limit(s.handlers.config.RateLimitRPS), s.handlers.config.RateLimitBurst)
	s.router.Use(s.handlers.TracingMiddleware)
	s.router.Use(s.handlers.CORSMiddleware)
	s.router.Use(s.handlers.LoggingMiddleware)
	s.router.Use(s.handlers.RateLimitMiddleware(limiter))
	s.router.Use(s.handlers.RecoveryMiddleware)
}
