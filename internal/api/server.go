// internal/api/server.go
package api

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/megfs/meg/internal/api/handler"
	"github.com/megfs/meg/internal/api/middleware"
	"github.com/megfs/meg/internal/api/response"
	"github.com/megfs/meg/internal/metrics"
	"github.com/megfs/meg/internal/planner"
)

// Server represents the HTTP server for meg.
type Server struct {
	httpServer *http.Server
	logger     *zap.Logger
	mux        *http.ServeMux
}

// Config holds server configuration.
type Config struct {
	Host          string
	Port          int
	ForceDownload bool
	APIKey        string
}

// NewServer creates a new HTTP server serving archive entries.
func NewServer(cfg Config, p *planner.Planner, reg *metrics.Registry, logger *zap.Logger) *Server {
	mux := http.NewServeMux()

	s := &Server{
		httpServer: &http.Server{
			Addr:         fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
			Handler:      mux,
			ReadTimeout:  15 * time.Second,
			WriteTimeout: 15 * time.Second,
			IdleTimeout:  60 * time.Second,
		},
		logger: logger,
		mux:    mux,
	}

	s.setupRoutes(cfg, p, reg)
	return s
}

// setupRoutes configures all HTTP routes.
func (s *Server) setupRoutes(cfg Config, p *planner.Planner, reg *metrics.Registry) {
	s.mux.HandleFunc("/healthz", s.handleHealth)
	s.mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))

	archives := http.Handler(handler.NewArchiveHandler(p, cfg.ForceDownload, s.logger))
	archives = middleware.APIKeyAuth(cfg.APIKey)(archives)
	archives = metrics.HTTPMiddleware(reg)(archives)
	archives = metrics.LoggingMiddleware(s.logger)(archives)
	s.mux.Handle("/", archives)
}

// Start starts the HTTP server.
func (s *Server) Start() error {
	s.logger.Info("starting HTTP server", zap.String("addr", s.httpServer.Addr))
	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("server error: %w", err)
	}
	return nil
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("shutting down HTTP server")
	return s.httpServer.Shutdown(ctx)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	response.JSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
