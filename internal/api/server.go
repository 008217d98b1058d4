// Package api exposes the assistant over HTTP.
//
// Endpoints:
//   - POST /api/chat       - one conversational turn, streamed as SSE
//   - POST /api/regenerate - rerun the last query as a fresh turn
//   - POST /api/reset      - wipe session history
//   - GET  /health         - liveness probe
//   - GET  /ready          - readiness probe (pings the database)
//
// File structure:
//   - server.go: HTTP server setup and lifecycle
//   - middleware.go: recovery, logging, CORS
//   - chat.go: conversational endpoints
//   - sse.go: SSE framing and the streaming sink
//   - health.go: probes
//   - response.go: JSON response helpers
package api

import (
	"context"
	"net/http"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/lilybot/lily/internal/log"
	"github.com/lilybot/lily/internal/session"
)

const (
	// DefaultAddr is the default listen address.
	DefaultAddr = "localhost:8080"

	// ShutdownTimeout bounds graceful shutdown.
	ShutdownTimeout = 10 * time.Second

	// ReadHeaderTimeout guards against slow-header clients.
	ReadHeaderTimeout = 10 * time.Second

	// ReadTimeout is the maximum duration for reading the entire request.
	ReadTimeout = 30 * time.Second

	// WriteTimeout must cover a whole streamed turn, analysis and retries
	// included, so it sits well above the turn deadline.
	WriteTimeout = 5 * time.Minute

	// IdleTimeout is the keep-alive idle limit.
	IdleTimeout = 120 * time.Second
)

// Server is the HTTP server for the assistant's REST API.
type Server struct {
	mux         *http.ServeMux
	corsOrigins []string
	logger      log.Logger

	health *HealthHandler
	chat   *ChatHandler
}

// Options tunes server construction.
type Options struct {
	// TurnTimeout bounds a whole conversational turn. Zero disables it.
	TurnTimeout time.Duration

	// CORSOrigins lists origins allowed to call the API from a browser.
	// Empty means no CORS headers are emitted.
	CORSOrigins []string
}

// NewServer creates an HTTP server with all routes registered. pool may be
// nil, in which case the readiness probe reports unavailable.
func NewServer(runner Runner, sessions *session.Registry, pool *pgxpool.Pool, logger log.Logger, opts Options) *Server {
	mux := http.NewServeMux()

	s := &Server{
		mux:         mux,
		corsOrigins: opts.CORSOrigins,
		logger:      logger,
		health:      NewHealthHandler(pool, logger),
		chat:        NewChatHandler(runner, sessions, opts.TurnTimeout, logger),
	}

	s.health.RegisterRoutes(mux)
	s.chat.RegisterRoutes(mux)

	return s
}

// Handler returns the HTTP handler with middleware applied.
// Middleware order: recovery, then CORS, then logging.
func (s *Server) Handler() http.Handler {
	return chain(s.mux,
		recoveryMiddleware(s.logger),
		corsMiddleware(s.corsOrigins),
		loggingMiddleware(s.logger),
	)
}

// Run starts the HTTP server and blocks until the context is cancelled,
// then shuts down gracefully.
func (s *Server) Run(ctx context.Context, addr string) error {
	if addr == "" {
		addr = DefaultAddr
	}

	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: ReadHeaderTimeout,
		ReadTimeout:       ReadTimeout,
		WriteTimeout:      WriteTimeout,
		IdleTimeout:       IdleTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("starting HTTP server", "addr", addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		s.logger.Info("shutting down HTTP server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), ShutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	case err := <-errCh:
		if err == http.ErrServerClosed {
			return nil
		}
		return err
	}
}
