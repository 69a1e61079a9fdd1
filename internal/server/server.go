// Package server provides the HTTP server for OpenUsage.
package server

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/ayusman/openusage/internal/server/api"
)

// Config holds the server configuration. Routes whose collaborator is nil
// are not registered.
type Config struct {
	StaticDir string
	Plugins   api.PluginLister
	Batches   api.BatchStarter
	Settings  api.SettingsStore
	Catalog   api.Catalog
	Hub       *Hub
	Logger    *slog.Logger
}

// Server represents the HTTP server for the OpenUsage application.
type Server struct {
	config Config
	router *chi.Mux
	start  time.Time
	logger *slog.Logger
}

// New creates a new Server with the given configuration.
func New(config Config) *Server {
	logger := config.Logger
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{
		config: config,
		router: chi.NewRouter(),
		start:  time.Now(),
		logger: logger.With("component", "server"),
	}
	s.setupRoutes()
	return s
}

// setupRoutes configures all HTTP routes for the server.
func (s *Server) setupRoutes() {
	r := s.router
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)

	r.Get("/api/health", s.handleHealth)

	if s.config.Plugins != nil {
		r.Get("/api/plugins", api.NewPluginHandler(s.config.Plugins).List)
	}

	if s.config.Batches != nil {
		r.Post("/api/probe", api.NewProbeHandler(s.config.Batches, s.config.Settings, s.logger).Start)
	}

	if s.config.Hub != nil {
		r.Handle("/api/events", s.config.Hub)
	}

	if s.config.Settings != nil {
		cliproxyHandler := api.NewCLIProxyHandler(s.config.Settings, s.config.Catalog, s.logger)

		r.Route("/api/cliproxy", func(r chi.Router) {
			r.Get("/config", cliproxyHandler.GetConfig)
			r.Put("/config", cliproxyHandler.PutConfig)
			r.Delete("/config", cliproxyHandler.DeleteConfig)
			if s.config.Catalog != nil {
				r.Get("/auth-files", cliproxyHandler.ListAuthFiles)
			}
		})

		r.Route("/api/accounts", func(r chi.Router) {
			r.Get("/", cliproxyHandler.ListSelections)
			r.Put("/{pluginID}", cliproxyHandler.SetSelection)
		})
	}

	// Serve static files if StaticDir is configured
	if s.config.StaticDir != "" {
		r.Handle("/*", http.FileServer(http.Dir(s.config.StaticDir)))
	}
}

// ServeHTTP implements the http.Handler interface.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

// handleHealth handles GET requests to /api/health.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status": "ok",
		"uptime": time.Since(s.start).String(),
	})
}

func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

// ListenAndServe starts the HTTP server on the given address.
func (s *Server) ListenAndServe(addr string) error {
	s.logger.Info("http server listening", "addr", addr)
	return http.ListenAndServe(addr, s)
}

// HTTPServer returns an *http.Server serving s on addr, for callers that
// need graceful shutdown.
func (s *Server) HTTPServer(addr string) *http.Server {
	return &http.Server{
		Addr:              addr,
		Handler:           s,
		ReadHeaderTimeout: 10 * time.Second,
	}
}
