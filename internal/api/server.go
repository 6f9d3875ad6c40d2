package api

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/julienschmidt/httprouter"

	"github.com/rickgao/codelab-live/internal/connection"
	"github.com/rickgao/codelab-live/internal/hub"
	"github.com/rickgao/codelab-live/internal/router"
)

// Deps are the collaborators the HTTP surface is built on.
type Deps struct {
	Hub        *hub.Hub
	Supervisor *connection.Supervisor
	Router     router.Router
	Store      Store
	Auth       Authenticator
}

// Server provides the HTTP interface of the hub.
type Server struct {
	deps     Deps
	router   *httprouter.Router
	validate *validator.Validate
	logger   *slog.Logger

	// Bound on roster name lookups.
	nameLookupTimeout time.Duration
}

// NewServer creates the HTTP server handler tree.
func NewServer(deps Deps, nameLookupTimeout time.Duration, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}

	s := &Server{
		deps:              deps,
		router:            httprouter.New(),
		validate:          validator.New(),
		logger:            logger,
		nameLookupTimeout: nameLookupTimeout,
	}

	s.setupRoutes()
	return s
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

func (s *Server) setupRoutes() {
	s.router.GET("/health", s.handleHealth)
	s.router.GET("/ws/:codelab_id", s.handleLive)

	s.router.POST("/api/codelabs/:codelab_id/help", s.handleHelpRequest)
	s.router.POST("/api/codelabs/:codelab_id/help/:help_id/resolve", s.handleHelpResolve)
	s.router.POST("/api/codelabs/:codelab_id/comments/:thread_id", s.handleComment)
	s.router.GET("/api/codelabs/:codelab_id/messages", s.handleMessages)
}

// handleLive hands the upgrade request to the connection supervisor.
func (s *Server) handleLive(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
	s.deps.Supervisor.Serve(w, r, ps.ByName("codelab_id"))
}

// handleHealth reports database reachability and live hub statistics.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	health := HealthResponse{
		Status:     "healthy",
		Components: make(map[string]any),
	}

	if err := s.deps.Store.Ping(ctx); err != nil {
		health.Status = "unhealthy"
		health.Components["postgres"] = map[string]string{
			"status": "disconnected",
			"error":  err.Error(),
		}
	} else {
		health.Components["postgres"] = "connected"
	}

	if s.deps.Hub != nil {
		health.Components["hub"] = s.deps.Hub.Stats()
	}
	if s.deps.Router != nil {
		health.Components["router"] = s.deps.Router.Stats()
	}
	if s.deps.Supervisor != nil {
		health.Components["connections"] = s.deps.Supervisor.Stats()
	}

	status := http.StatusOK
	if health.Status == "unhealthy" {
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, health)
}

// decodeBody decodes and validates a JSON request body into v.
func (s *Server) decodeBody(w http.ResponseWriter, r *http.Request, v any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, 64<<10))
	if err := dec.Decode(v); err != nil {
		return err
	}
	return s.validate.Struct(v)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
