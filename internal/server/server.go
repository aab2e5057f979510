package server

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"
)

// Server is the Sentra HTTP server.
type Server struct {
	httpServer *http.Server
	handler    http.Handler
	handlers   *Handlers
	logger     *slog.Logger
}

// ServerConfig holds all dependencies and configuration for creating a Server.
type ServerConfig struct {
	Handlers      *Handlers
	StreamHandler http.Handler
	Logger        *slog.Logger

	Port        int
	ReadTimeout time.Duration
}

// New creates a new HTTP server with all routes configured.
func New(cfg ServerConfig) *Server {
	h := cfg.Handlers
	mux := http.NewServeMux()

	// Media websocket. Long-lived; the server write timeout must not
	// apply, so the route relies on the hijacked connection's own
	// deadlines once upgraded.
	mux.Handle("GET /v1/media", cfg.StreamHandler)

	// Provider webhooks.
	mux.HandleFunc("POST /webhooks/call-status", h.HandleCallStatus)
	mux.HandleFunc("POST /webhooks/amd", h.HandleProviderAMD)

	// Query endpoints.
	mux.HandleFunc("GET /v1/calls/{call_sid}", h.HandleGetCall)
	mux.HandleFunc("GET /v1/calls/{call_sid}/amd-events", h.HandleListAMDEvents)

	// Health (no auth, no rate limit).
	mux.HandleFunc("GET /health", h.HandleHealth)

	// Middleware chain (outermost executes first):
	// request ID → tracing → logging → recovery → handler.
	var handler http.Handler = mux
	handler = recoveryMiddleware(cfg.Logger, handler)
	handler = loggingMiddleware(cfg.Logger, handler)
	handler = tracingMiddleware(handler)
	handler = requestIDMiddleware(handler)

	return &Server{
		httpServer: &http.Server{
			Addr:        fmt.Sprintf(":%d", cfg.Port),
			Handler:     handler,
			ReadTimeout: cfg.ReadTimeout,
			// WriteTimeout is left unset: it would sever the media
			// websocket mid-call.
		},
		handler:  handler,
		handlers: h,
		logger:   cfg.Logger,
	}
}

// Handler returns the root HTTP handler for use in tests.
func (s *Server) Handler() http.Handler {
	return s.handler
}

// Handlers returns the underlying Handlers.
func (s *Server) Handlers() *Handlers {
	return s.handlers
}

// Start begins serving HTTP requests.
func (s *Server) Start() error {
	s.logger.Info("http server starting", "addr", s.httpServer.Addr)
	return s.httpServer.ListenAndServe()
}

// Shutdown gracefully shuts down the HTTP server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("http server shutting down")
	return s.httpServer.Shutdown(ctx)
}
