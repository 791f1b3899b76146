package server

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	mcpserver "github.com/mark3labs/mcp-go/server"

	"github.com/ashita-ai/tegami/internal/engine"
	"github.com/ashita-ai/tegami/internal/model"
	"github.com/ashita-ai/tegami/internal/ratelimit"
	"github.com/ashita-ai/tegami/internal/resume"
	"github.com/ashita-ai/tegami/internal/runstore"
	"github.com/ashita-ai/tegami/internal/savedstore"
	"github.com/ashita-ai/tegami/internal/timeline"
)

// Server is the Tegami HTTP server.
type Server struct {
	httpServer *http.Server
	handler    http.Handler
	logger     *slog.Logger
}

// Handler returns the root HTTP handler for use in tests.
func (s *Server) Handler() http.Handler {
	return s.handler
}

// ServerConfig holds all dependencies and configuration for creating a
// Server. Optional fields (nil-safe): Saved, Limiter, MCPServer,
// ExtraRoutes, Middleware.
type ServerConfig struct {
	// Required dependencies.
	Controller *engine.Controller
	Bus        *timeline.Bus
	Runs       *runstore.Store
	Resumes    *resume.Store
	Logger     *slog.Logger

	// Optional dependencies (nil = disabled).
	Saved     *savedstore.Store
	Limiter   ratelimit.Limiter
	MCPServer *mcpserver.MCPServer

	// HTTP server settings.
	Port                int
	ReadTimeout         time.Duration
	WriteTimeout        time.Duration
	Version             string
	MaxRequestBodyBytes int64
	ResumeMaxBytes      int64
	OpenAPISpec         []byte // Embedded OpenAPI YAML.

	// Embedding hooks for callers mounting extra surface onto the mux.
	// Middleware wraps the whole chain, first entry outermost.
	ExtraRoutes map[string]http.Handler
	Middleware  []func(http.Handler) http.Handler
}

// New creates a new HTTP server with all routes configured.
func New(cfg ServerConfig) *Server {
	h := NewHandlers(HandlersDeps{
		Controller:          cfg.Controller,
		Bus:                 cfg.Bus,
		Runs:                cfg.Runs,
		Resumes:             cfg.Resumes,
		Saved:               cfg.Saved,
		Logger:              cfg.Logger,
		Version:             cfg.Version,
		MaxRequestBodyBytes: cfg.MaxRequestBodyBytes,
		ResumeMaxBytes:      cfg.ResumeMaxBytes,
		OpenAPISpec:         cfg.OpenAPISpec,
	})

	// Discovery spends provider credits, so it alone is rate limited,
	// keyed per client IP.
	discoveryRL := ratelimit.Middleware(cfg.Limiter, ratelimit.IPKeyFunc,
		func(w http.ResponseWriter, r *http.Request) {
			writeError(w, r, http.StatusTooManyRequests, model.ErrCodeRateLimited,
				"too many discovery requests")
		})

	mux := http.NewServeMux()

	// Run lifecycle.
	mux.Handle("POST /v1/discovery", discoveryRL(http.HandlerFunc(h.HandleStartDiscovery)))
	mux.HandleFunc("GET /v1/runs/{run_id}", h.HandleGetRun)
	mux.HandleFunc("GET /v1/runs/{run_id}/timeline", h.HandleTimeline)
	mux.HandleFunc("POST /v1/runs/{run_id}/outreach", h.HandleStartOutreach)

	// Resume upload.
	mux.HandleFunc("POST /v1/resume", h.HandleUploadResume)

	// Saved items.
	mux.HandleFunc("POST /v1/saved", h.HandleSaveItem)
	mux.HandleFunc("GET /v1/saved", h.HandleListSaved)

	// MCP StreamableHTTP transport.
	if cfg.MCPServer != nil {
		mux.Handle("/mcp", mcpserver.NewStreamableHTTPServer(cfg.MCPServer))
	}

	// OpenAPI spec (no rate limit).
	mux.HandleFunc("GET /openapi.yaml", h.HandleOpenAPISpec)

	// Health (no rate limit).
	mux.HandleFunc("GET /health", h.HandleHealth)

	// Caller-supplied routes.
	for pattern, handler := range cfg.ExtraRoutes {
		mux.Handle(pattern, handler)
	}

	// Middleware chain (outermost executes first):
	// request ID → security headers → tracing → logging → recovery → handler.
	var handler http.Handler = mux
	handler = recoveryMiddleware(cfg.Logger, handler)
	handler = loggingMiddleware(cfg.Logger, handler)
	handler = tracingMiddleware(handler)
	handler = securityHeadersMiddleware(handler)
	handler = requestIDMiddleware(handler)
	for i := len(cfg.Middleware) - 1; i >= 0; i-- {
		handler = cfg.Middleware[i](handler)
	}

	return &Server{
		httpServer: &http.Server{
			Addr:         fmt.Sprintf(":%d", cfg.Port),
			Handler:      handler,
			ReadTimeout:  cfg.ReadTimeout,
			WriteTimeout: cfg.WriteTimeout,
		},
		handler: handler,
		logger:  cfg.Logger,
	}
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
