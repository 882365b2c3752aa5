// Package web provides a unified HTTP server for the REST API and browser
// dashboard, grounded on the teacher's api+www+web trio and consolidated
// into one package since this gateway has no mutation/hot-reload surface
// to justify splitting them.
package web

import (
	"context"
	"fmt"
	"io"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"s7link/config"
	"s7link/logging"
	"s7link/plcman"
	"s7link/rule"
	"s7link/tagpack"
)

// Deps bundles the managers the web server reads from and controls.
type Deps struct {
	Config     *config.Config
	PLCMan     *plcman.Manager
	RuleMgr    *rule.Manager
	PackMgr    *tagpack.Manager
	SaveConfig func() error
}

// Server is the unified HTTP server for the REST API and browser dashboard.
type Server struct {
	cfg     *config.WebConfig
	deps    Deps
	server  *http.Server
	router  chi.Router
	running bool
	mu      sync.RWMutex

	sessions *sessionStore
}

// NewServer creates a new unified web server.
func NewServer(cfg *config.WebConfig, deps Deps) *Server {
	s := &Server{
		cfg:      cfg,
		deps:     deps,
		sessions: newSessionStore(cfg.UI.SessionSecret),
	}
	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	r := chi.NewRouter()

	r.Use(middleware.RealIP)
	r.Use(middleware.Compress(5))
	r.Use(corsMiddleware)

	if s.cfg.API.Enabled {
		r.Mount("/api", s.newAPIRouter())
	}
	if s.cfg.UI.Enabled {
		r.Mount("/", s.newUIRouter())
	}

	s.router = r
}

type debugLogWriter string

func (tag debugLogWriter) Write(p []byte) (n int, err error) {
	logging.DebugLog(string(tag), "%s", string(p))
	return len(p), nil
}

var _ io.Writer = debugLogWriter("")

func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")

		if r.Method == "OPTIONS" {
			w.WriteHeader(http.StatusOK)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// Start begins the HTTP server.
func (s *Server) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		return nil
	}

	addr := fmt.Sprintf("%s:%d", s.cfg.Host, s.cfg.Port)
	s.server = &http.Server{
		Addr:              addr,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
		ErrorLog:          log.New(debugLogWriter("web"), "", 0),
	}

	go func() {
		if err := s.server.ListenAndServe(); err != http.ErrServerClosed {
			s.mu.Lock()
			s.running = false
			s.mu.Unlock()
		}
	}()

	s.running = true
	return nil
}

// Stop halts the HTTP server gracefully.
func (s *Server) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.running || s.server == nil {
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	err := s.server.Shutdown(ctx)
	s.running = false
	s.server = nil
	return err
}

// IsRunning returns whether the server is currently running.
func (s *Server) IsRunning() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.running
}

// Address returns the server's base URL.
func (s *Server) Address() string {
	return fmt.Sprintf("http://%s:%d", s.cfg.Host, s.cfg.Port)
}

// Reload reconfigures routes after a config change that affects enabled state.
func (s *Server) Reload(cfg *config.WebConfig) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.cfg = cfg
	s.sessions = newSessionStore(cfg.UI.SessionSecret)
	s.setupRoutes()
	if s.server != nil {
		s.server.Handler = s.router
	}
}
