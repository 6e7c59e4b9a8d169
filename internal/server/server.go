// Package server exposes the chat application over HTTP: a JSON REST surface
// for accounts and threads, and the WebSocket endpoint that streams turns as
// typed protocol events.
package server

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/byteagent/byte/internal/auth"
	"github.com/byteagent/byte/internal/thread"
)

// Config contains configuration for creating the HTTP server.
type Config struct {
	Logger      *slog.Logger
	Auth        *auth.Service // required
	Threads     thread.Store  // required
	Responder   Responder     // optional: nil enables simulation mode
	Pool        *pgxpool.Pool // optional: nil disables pool stats in /ready
	CORSOrigins []string
	TrustProxy  bool
	RateLimit   float64 // tokens per second per IP (0 = default 10)
	RateBurst   int     // burst size per IP (0 = default 20)
}

// Server is the HTTP server with all routes configured.
type Server struct {
	mux *http.ServeMux
}

// New creates a server with all routes and middleware configured.
func New(cfg Config) (*Server, error) {
	if cfg.Auth == nil {
		return nil, errors.New("auth service is required")
	}
	if cfg.Threads == nil {
		return nil, errors.New("thread store is required")
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	responder := cfg.Responder
	if responder == nil {
		logger.Warn("no responder configured, running in simulation mode")
		responder = &SimResponder{}
	}

	ah := &authHandler{svc: cfg.Auth, logger: logger}
	th := &threadHandler{store: cfg.Threads, logger: logger}
	ch := newChatHandler(cfg.Auth, cfg.Threads, responder, cfg.CORSOrigins, logger)

	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/auth/signup", ah.signup)
	mux.HandleFunc("POST /api/auth/login", ah.login)

	requireAuth := authMiddleware(cfg.Auth, logger)
	mux.Handle("GET /api/auth/me", requireAuth(http.HandlerFunc(ah.me)))
	mux.Handle("GET /api/threads", requireAuth(http.HandlerFunc(th.list)))
	mux.Handle("GET /api/threads/{id}/messages", requireAuth(http.HandlerFunc(th.history)))
	mux.Handle("DELETE /api/threads/{id}", requireAuth(http.HandlerFunc(th.delete)))

	// The WebSocket endpoint authenticates itself via the token query
	// parameter, so it sits outside requireAuth.
	mux.HandleFunc("GET /ws/chat", ch.serve)

	limit := cfg.RateLimit
	if limit <= 0 {
		limit = 10
	}
	burst := cfg.RateBurst
	if burst <= 0 {
		burst = 20
	}
	rl := newRateLimiter(limit, burst)

	// Middleware stack, outermost first:
	//   Recovery -> RequestID -> Logging -> CORS -> RateLimit -> Routes
	// RequestID precedes Logging so request_id is available in log attributes.
	// CORS precedes RateLimit so preflight OPTIONS gets proper headers.
	var handler http.Handler = mux
	handler = rateLimitMiddleware(rl, cfg.TrustProxy, logger)(handler)
	handler = corsMiddleware(cfg.CORSOrigins)(handler)
	handler = loggingMiddleware(logger)(handler)
	handler = requestIDMiddleware()(handler)
	handler = recoveryMiddleware(logger)(handler)

	// Health probes bypass the middleware stack.
	topMux := http.NewServeMux()
	topMux.HandleFunc("GET /health", health)
	topMux.Handle("GET /ready", readiness(cfg.Pool))
	topMux.Handle("/", handler)

	return &Server{mux: topMux}, nil
}

// Handler returns the server as an http.Handler.
func (s *Server) Handler() http.Handler {
	return s.mux
}
