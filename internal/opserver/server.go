// Package opserver provides a read-only operator HTTP surface for the
// running agent: a health check, the notebook's RuntimeSession rows, and an
// SSE tail of the tables the coordination engine watches. It is not a
// notebook UI (spec root's Non-goals exclude one) and never mutates the
// store; it exists so the agent has the health endpoint every long-running
// daemon in this stack carries.
package opserver

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/cellrt/runtime-agent/internal/logging"
	"github.com/cellrt/runtime-agent/internal/store"
)

// Config holds operator server configuration.
type Config struct {
	Addr       string
	EnableCORS bool
}

// DefaultConfig returns the operator server's default configuration.
func DefaultConfig() *Config {
	return &Config{
		Addr:       ":8090",
		EnableCORS: true,
	}
}

// Server is the operator HTTP server.
type Server struct {
	cfg        *Config
	router     *chi.Mux
	httpSrv    *http.Server
	st         store.Store
	notebookID string
	sessionID  string
}

// New builds an operator server bound to one agent's store and session.
func New(cfg *Config, st store.Store, notebookID, sessionID string) *Server {
	r := chi.NewRouter()

	s := &Server{
		cfg:        cfg,
		router:     r,
		st:         st,
		notebookID: notebookID,
		sessionID:  sessionID,
	}

	s.setupMiddleware()
	s.setupRoutes()

	return s
}

func (s *Server) setupMiddleware() {
	s.router.Use(middleware.RequestID)
	s.router.Use(middleware.Logger)
	s.router.Use(middleware.Recoverer)
	s.router.Use(middleware.RealIP)

	if s.cfg.EnableCORS {
		s.router.Use(cors.Handler(cors.Options{
			AllowedOrigins: []string{"*"},
			AllowedMethods: []string{"GET", "OPTIONS"},
			AllowedHeaders: []string{"Accept"},
			MaxAge:         300,
		}))
	}
}

func (s *Server) setupRoutes() {
	s.router.Get("/healthz", s.healthz)
	s.router.Get("/sessions", s.listSessions)
	s.router.Get("/events", s.events)
}

// Router returns the chi router, for testing.
func (s *Server) Router() *chi.Mux { return s.router }

// Start runs the HTTP server, blocking until it stops.
func (s *Server) Start() error {
	s.httpSrv = &http.Server{
		Addr:         s.cfg.Addr,
		Handler:      s.router,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 0, // SSE connections are long-lived
	}

	err := s.httpSrv.ListenAndServe()
	if err == http.ErrServerClosed {
		return nil
	}
	return err
}

// Shutdown gracefully shuts down the operator server.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.httpSrv == nil {
		return nil
	}
	return s.httpSrv.Shutdown(ctx)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logging.Warn().Err(err).Msg("opserver: failed to encode response")
	}
}
