//
//
package api

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"k8s.io/klog/v2"

	"github.com/radio-control/apd/internal/auth"
	"github.com/radio-control/apd/internal/config"
)

// Version is reported by the health endpoint.
var Version = "dev"

// Server represents the HTTP API server.
type Server struct {
	mu             sync.Mutex
	httpServer     *http.Server
	telemetryHub   TelemetryPort
	orchestrator   OrchestratorPort
	authMiddleware *auth.Middleware
	gatherer       prometheus.Gatherer
	startTime      time.Time
	config         config.ServerConfig
}

// NewServer creates a new API server. A nil authMiddleware serves every
// route unprotected; a nil gatherer disables /metrics.
func NewServer(cfg config.ServerConfig, telemetryHub TelemetryPort, orchestrator OrchestratorPort, authMiddleware *auth.Middleware, gatherer prometheus.Gatherer) *Server {
	return &Server{
		telemetryHub:   telemetryHub,
		orchestrator:   orchestrator,
		authMiddleware: authMiddleware,
		gatherer:       gatherer,
		startTime:      time.Now(),
		config:         cfg,
	}
}

// Handler returns the routed handler.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	s.RegisterRoutes(mux)
	return mux
}

// Start listens on the configured address and serves until Stop.
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.config.Addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.config.Addr, err)
	}
	return s.Serve(ln)
}

// Serve serves the API on ln until Stop.
func (s *Server) Serve(ln net.Listener) error {
	srv := &http.Server{
		Handler:      s.Handler(),
		ReadTimeout:  s.config.ReadTimeout,
		WriteTimeout: s.config.WriteTimeout,
		IdleTimeout:  s.config.IdleTimeout,
	}
	s.mu.Lock()
	s.httpServer = srv
	s.mu.Unlock()

	klog.Infof("api: serving on %s", ln.Addr())
	if err := srv.Serve(ln); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("failed to start HTTP server: %w", err)
	}

	return nil
}

// Stop gracefully stops the HTTP server.
func (s *Server) Stop(ctx context.Context) error {
	s.mu.Lock()
	srv := s.httpServer
	s.mu.Unlock()
	if srv == nil {
		return nil
	}

	// Shutdown with timeout
	shutdownCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("failed to shutdown HTTP server: %w", err)
	}

	return nil
}
