package mcp

import (
	"context"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/HyphaGroup/portcullis/internal/auth"
	"github.com/HyphaGroup/portcullis/internal/logger"
	"github.com/HyphaGroup/portcullis/internal/metrics"
	"github.com/HyphaGroup/portcullis/internal/store"
	"github.com/HyphaGroup/portcullis/internal/validation"
)

// DefaultMaxBodyBytes caps HTTP request bodies (1 MiB)
const DefaultMaxBodyBytes = 1 << 20

// Server is the HTTP front-end: POST /mcp carries JSON-RPC messages,
// DELETE /mcp terminates a session, and /health, /ready and /metrics
// are served unauthenticated for probes and scraping.
type Server struct {
	engine  *Engine
	store   store.Store
	limiter *auth.RateLimiter
	gateway *auth.Gateway
	maxBody int64
	httpSrv *http.Server
}

// ServerConfig holds HTTP transport configuration
type ServerConfig struct {
	Engine       *Engine
	Store        store.Store
	Gateway      *auth.Gateway
	RateLimit    float64
	RateBurst    int
	MaxBodyBytes int64
}

// NewServer creates the HTTP transport around an engine
func NewServer(cfg ServerConfig) *Server {
	maxBody := cfg.MaxBodyBytes
	if maxBody <= 0 {
		maxBody = DefaultMaxBodyBytes
	}
	rps := cfg.RateLimit
	if rps <= 0 {
		rps = 10
	}
	burst := cfg.RateBurst
	if burst <= 0 {
		burst = 20
	}
	return &Server{
		engine:  cfg.Engine,
		store:   cfg.Store,
		gateway: cfg.Gateway,
		limiter: auth.NewRateLimiter(rps, burst),
		maxBody: maxBody,
	}
}

// RateLimiter exposes the per-token limiter for the cleanup sweeper
func (s *Server) RateLimiter() *auth.RateLimiter {
	return s.limiter
}

// Handler builds the full HTTP handler: health endpoints without auth,
// the MCP endpoint behind auth, rate limiting and metrics.
func (s *Server) Handler() http.Handler {
	mcpHandler := http.HandlerFunc(s.handleMCP)

	// Innermost to outermost: rate limiting keys on the token the auth
	// middleware resolved, so auth must run first.
	rateLimited := auth.RateLimitMiddleware(s.limiter)(mcpHandler)
	authed := auth.Middleware(s.gateway)(rateLimited)
	traced := requestIDMiddleware(authed)

	mux := http.NewServeMux()
	mux.HandleFunc("/health", s.handleHealth)
	mux.HandleFunc("/ready", s.handleReady)
	mux.Handle("/metrics", metrics.Handler())
	mux.Handle("/mcp", metrics.Middleware(traced))
	mux.Handle("/mcp/", metrics.Middleware(traced))
	return mux
}

// Serve blocks serving HTTP on addr until Shutdown or a listener error
func (s *Server) Serve(addr string) error {
	s.httpSrv = &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	logger.Info("HTTP transport listening on %s", addr)
	err := s.httpSrv.ListenAndServe()
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

// Shutdown stops the HTTP listener, waiting for in-flight requests
func (s *Server) Shutdown(ctx context.Context) error {
	if s.httpSrv == nil {
		return nil
	}
	return s.httpSrv.Shutdown(ctx)
}

// requestIDMiddleware assigns or propagates X-Request-ID and writes an
// access log line per request.
func requestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestID := r.Header.Get("X-Request-ID")
		if requestID == "" {
			requestID = uuid.NewString()
		}
		w.Header().Set("X-Request-ID", requestID)

		ctx := context.WithValue(r.Context(), logger.ContextKeyRequestID, requestID)
		r = r.WithContext(ctx)

		start := time.Now()
		next.ServeHTTP(w, r)
		logger.DebugContext(ctx, "http request",
			"method", r.Method,
			"path", r.URL.Path,
			"remote", r.RemoteAddr,
			"elapsed", time.Since(start).String())
	})
}

// handleMCP is the single protocol endpoint
func (s *Server) handleMCP(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodPost:
		s.handlePost(w, r)
	case http.MethodDelete:
		s.handleDelete(w, r)
	default:
		w.Header().Set("Allow", "POST, DELETE")
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
	}
}

// handlePost delivers one JSON-RPC message to the engine. Requests
// without an Mcp-Session-Id header get a fresh session; its id is
// echoed back so the client can bind follow-up requests to it.
func (s *Server) handlePost(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, s.maxBody+1))
	if err != nil {
		http.Error(w, "failed to read request body", http.StatusBadRequest)
		return
	}
	if int64(len(body)) > s.maxBody {
		http.Error(w, "request body too large", http.StatusRequestEntityTooLarge)
		return
	}

	sessionID := r.Header.Get("Mcp-Session-Id")
	var sess *Session
	adopted := sessionID != ""
	if adopted {
		if err := validation.ValidateSessionID(sessionID); err != nil {
			http.Error(w, "invalid Mcp-Session-Id", http.StatusBadRequest)
			return
		}
		sess, err = s.engine.Sessions().Get(sessionID)
		if err != nil {
			// Session expired or never existed; client must re-initialize.
			http.Error(w, "unknown session", http.StatusNotFound)
			return
		}
	} else {
		sess, err = s.engine.Sessions().Create()
		if err != nil {
			http.Error(w, "session limit reached", http.StatusServiceUnavailable)
			return
		}
	}

	resp := s.engine.Handle(r.Context(), sess, bearerFrom(r), body)

	// A one-shot request that never initialized leaves nothing worth
	// keeping; drop the session instead of waiting for the reaper.
	if !adopted && sess.State() == StateNew {
		s.engine.Sessions().Close(sess.ID)
	} else {
		w.Header().Set("Mcp-Session-Id", sess.ID)
	}

	if resp == nil {
		w.WriteHeader(http.StatusAccepted)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_, _ = w.Write(resp)
}

// handleDelete terminates a session. The caller must present the same
// bearer it initialized with.
func (s *Server) handleDelete(w http.ResponseWriter, r *http.Request) {
	sessionID := r.Header.Get("Mcp-Session-Id")
	if sessionID == "" {
		http.Error(w, "missing Mcp-Session-Id", http.StatusBadRequest)
		return
	}
	sess, err := s.engine.Sessions().Get(sessionID)
	if err != nil {
		http.Error(w, "unknown session", http.StatusNotFound)
		return
	}
	if binding := sess.tokenBinding(); binding != "" && binding != hashBearer(bearerFrom(r)) {
		http.Error(w, "forbidden", http.StatusForbidden)
		return
	}
	s.engine.Sessions().Close(sessionID)
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(`{"status":"ok"}`))
}

func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	if err := s.store.Ping(r.Context()); err != nil {
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte(`{"status":"not ready","reason":"store unavailable"}`))
		return
	}
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(`{"status":"ready"}`))
}

func bearerFrom(r *http.Request) string {
	return strings.TrimSpace(strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer "))
}
