package api

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/edvin/fleet/internal/api/handler"
	mw "github.com/edvin/fleet/internal/api/middleware"
	"github.com/edvin/fleet/internal/config"
	"github.com/edvin/fleet/internal/core"
)

// Pinger reports whether the database is reachable. *pgxpool.Pool satisfies it.
type Pinger interface {
	Ping(ctx context.Context) error
}

type Server struct {
	router      chi.Router
	logger      zerolog.Logger
	services    *core.Services
	db          Pinger
	cfg         *config.Config
	auditLogger *mw.AuditLogger
}

func NewServer(logger zerolog.Logger, db Pinger, services *core.Services, auditLogger *mw.AuditLogger, cfg *config.Config) *Server {
	s := &Server{
		router:      chi.NewRouter(),
		logger:      logger,
		services:    services,
		db:          db,
		cfg:         cfg,
		auditLogger: auditLogger,
	}

	s.setupMiddleware()
	s.setupRoutes()

	return s
}

func (s *Server) setupMiddleware() {
	s.router.Use(middleware.RequestID)
	s.router.Use(middleware.RealIP)
	s.router.Use(mw.RequestLogger(s.logger))
	s.router.Use(middleware.Recoverer)
	s.router.Use(mw.Metrics)
}

func (s *Server) setupRoutes() {
	s.router.Handle("/metrics", promhttp.Handler())

	s.router.Get("/healthz", s.handleHealthz)
	s.router.Get("/readyz", s.handleReadyz)

	guard := s.services.Identity
	auth := handler.NewAuth(s.services.Operator, s.cfg.SecureCookies)
	node := handler.NewNode(s.services.Node, s.services.Deployment)
	deployment := handler.NewDeployment(s.services.Deployment, s.services.Orchestrator)
	apiKey := handler.NewAPIKey(s.services.APIKey)

	s.router.Route("/api", func(r chi.Router) {
		r.Post("/auth/register", auth.Register)
		r.Post("/auth/login", auth.Login)

		// Operator dashboard
		r.Group(func(r chi.Router) {
			r.Use(mw.RequireOperator(guard))
			r.Use(s.auditLogger.Middleware)

			r.Post("/auth/logout", auth.Logout)
			r.Get("/auth/me", auth.Me)

			r.Get("/nodes", node.List)
			r.Post("/nodes", node.Create)
			r.Get("/nodes/{id}", node.Get)
			r.Delete("/nodes/{id}", node.Delete)
			r.Get("/nodes/{id}/deployments", node.ListDeployments)

			r.Get("/deployments", deployment.List)
			r.Get("/deployments/{id}", deployment.Get)
		})

		// Dispatch accepts automation keys as well as operator sessions.
		r.Group(func(r chi.Router) {
			r.Use(mw.OperatorOrAutomation(guard))
			r.Use(s.auditLogger.Middleware)

			r.Post("/nodes/{id}/deploy", deployment.Create)
		})

		// Administration
		r.Group(func(r chi.Router) {
			r.Use(mw.RequireAdmin(guard))
			r.Use(s.auditLogger.Middleware)

			r.Get("/api-keys", apiKey.List)
			r.Post("/api-keys", apiKey.Create)
			r.Delete("/api-keys/{id}", apiKey.Delete)
		})

		// Node agents
		r.Group(func(r chi.Router) {
			r.Use(mw.RequireNode(guard))

			r.Post("/nodes/{id}/status", node.Heartbeat)
			r.Post("/deployments/{id}/status", deployment.Callback)
		})
	})
}

func (s *Server) handleHealthz(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
}

func (s *Server) handleReadyz(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()

	checks := map[string]string{}
	healthy := true

	if err := s.db.Ping(ctx); err != nil {
		checks["database"] = err.Error()
		healthy = false
	} else {
		checks["database"] = "ok"
	}

	w.Header().Set("Content-Type", "application/json")
	if healthy {
		w.WriteHeader(http.StatusOK)
	} else {
		w.WriteHeader(http.StatusServiceUnavailable)
	}
	json.NewEncoder(w).Encode(checks)
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}
