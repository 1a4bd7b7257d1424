// Package api implements the read-only metrics HTTP surface: four routes
// over the Depth Analyzer's concurrency-safe snapshot views, serving
// current depth metrics, pressure history, cross-symbol summary, and a
// filtered/sorted/paginated listing.
package api

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"marketpulse/internal/config"
)

// Server runs the read-only metrics HTTP API.
type Server struct {
	cfg      config.APIConfig
	handlers *Handlers
	server   *http.Server
	logger   *slog.Logger
}

// NewServer creates a new API server.
func NewServer(cfg config.APIConfig, provider MetricsProvider, depthCfg config.DepthConfig, logger *slog.Logger) *Server {
	handlers := NewHandlers(provider, depthCfg, logger)

	mux := http.NewServeMux()
	mux.HandleFunc("/health", handlers.HandleHealth)
	mux.HandleFunc("/metrics/depth/", handlers.HandleDepth)
	mux.HandleFunc("/metrics/pressure/", handlers.HandlePressure)
	mux.HandleFunc("/metrics/summary", handlers.HandleSummary)
	mux.HandleFunc("/metrics/all", handlers.HandleAll)

	addr := cfg.Addr
	if addr == "" {
		addr = ":8090"
	}

	server := &http.Server{
		Addr:         addr,
		Handler:      mux,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	return &Server{
		cfg:      cfg,
		handlers: handlers,
		server:   server,
		logger:   logger.With("component", "api-server"),
	}
}

// Start begins serving. Blocks until the server stops.
func (s *Server) Start() error {
	s.logger.Info("metrics API starting", "addr", s.server.Addr)

	if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// Stop gracefully stops the server.
func (s *Server) Stop() error {
	s.logger.Info("stopping metrics API")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	return s.server.Shutdown(ctx)
}
