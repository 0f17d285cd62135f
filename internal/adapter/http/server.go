package http

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/Strob0t/Concord/internal/adapter/ws"
	"github.com/Strob0t/Concord/internal/config"
	"github.com/Strob0t/Concord/internal/middleware"
	"github.com/Strob0t/Concord/internal/service"
)

// Server holds the HTTP transport's dependencies.
type Server struct {
	cfg      *config.Config
	orch     *service.Orchestrator
	health   *service.HealthRegistry
	registry *service.TaskRegistry
	hub      *ws.Hub // may be nil
}

// NewServer creates the HTTP transport.
func NewServer(cfg *config.Config, orch *service.Orchestrator, health *service.HealthRegistry, registry *service.TaskRegistry, hub *ws.Hub) *Server {
	return &Server{cfg: cfg, orch: orch, health: health, registry: registry, hub: hub}
}

// Routes builds the router with the full middleware stack.
func (s *Server) Routes(extra ...func(http.Handler) http.Handler) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(Logger)
	r.Use(SecurityHeaders)
	r.Use(CORS(s.cfg.Server.CORSOrigin))
	for _, m := range extra {
		r.Use(m)
	}
	r.Use(middleware.NewRateLimiter(s.cfg.Rate).Middleware)
	r.Use(middleware.Auth(s.cfg.Server.APIKey))

	r.Get("/health", s.handleHealth)

	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/models", s.handleModels)
		r.Post("/execute", s.handleExecute)
		r.Post("/stream", s.handleStream)
		r.Get("/tasks/{id}", s.handleGetTask)
		r.Post("/tasks/{id}/cancel", s.handleCancelTask)
	})

	if s.hub != nil {
		r.Get("/ws", s.hub.HandleWS)
	}
	return r
}
