// Package server provides the HTTP REST API for the agency orchestrator.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/jonathan/agency-orchestrator/internal/config"
	"github.com/jonathan/agency-orchestrator/internal/events"
	"github.com/jonathan/agency-orchestrator/internal/orchestrator"
	"github.com/jonathan/agency-orchestrator/internal/server/middleware"
	"github.com/jonathan/agency-orchestrator/internal/server/ratelimit"
	"github.com/jonathan/agency-orchestrator/internal/store"
	"github.com/jonathan/agency-orchestrator/internal/types"
)

// Runner starts and controls runs. *orchestrator.Orchestrator implements it.
type Runner interface {
	StartRun(ctx context.Context, req types.StartRunRequest) (*types.Run, error)
	CancelRun(ctx context.Context, runID string) (*types.Run, error)
	ResumeRun(ctx context.Context, runID string) error
	Active() []string
}

// Credentials verifies operator logins. *config.Config implements it.
type Credentials interface {
	VerifyPassword(user, pw string) bool
}

// Config holds server configuration
type Config struct {
	Port   int
	Runner Runner
	Store  *store.Store

	// Hub feeds the run stream endpoint. Streaming is unavailable without it.
	Hub *events.Hub
	// Gatherer backs /metrics. Defaults to the global registry.
	Gatherer prometheus.Gatherer

	// JWT enables bearer authentication when set.
	JWT         *config.JWTConfig
	Credentials Credentials

	// RateLimit is optional; nil disables rate limiting.
	RateLimit *ratelimit.Config

	// KeepAlive is the idle interval between stream comments (default: 15s).
	KeepAlive time.Duration

	Logger *zap.Logger
}

// Server represents the HTTP server
type Server struct {
	httpServer  *http.Server
	runner      Runner
	store       *store.Store
	hub         *events.Hub
	jwtService  *JWTService
	credentials Credentials
	rateLimiter *ratelimit.Limiter
	keepAlive   time.Duration
	logger      *zap.Logger
}

// New creates a new server instance
func New(cfg Config) (*Server, error) {
	if cfg.Runner == nil || cfg.Store == nil {
		return nil, fmt.Errorf("server needs a runner and a store")
	}

	s := &Server{
		runner:      cfg.Runner,
		store:       cfg.Store,
		hub:         cfg.Hub,
		credentials: cfg.Credentials,
		keepAlive:   cfg.KeepAlive,
		logger:      cfg.Logger,
	}
	if s.logger == nil {
		s.logger = zap.NewNop()
	}
	if s.keepAlive <= 0 {
		s.keepAlive = 15 * time.Second
	}
	if cfg.JWT != nil {
		s.jwtService = NewJWTService(cfg.JWT)
	}
	if cfg.RateLimit != nil {
		s.rateLimiter = ratelimit.NewLimiter(cfg.RateLimit)
	}

	gatherer := cfg.Gatherer
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}

	// Operator API
	api := http.NewServeMux()
	api.HandleFunc("POST /runs", s.handleStartRun)
	api.HandleFunc("GET /runs", s.handleListRuns)
	api.HandleFunc("GET /runs/{id}", s.handleGetRun)
	api.HandleFunc("GET /runs/{id}/artifacts", s.handleRunArtifacts)
	api.HandleFunc("GET /runs/{id}/stream", s.handleRunStream)
	api.HandleFunc("POST /runs/{id}/cancel", s.handleCancelRun)
	api.HandleFunc("POST /runs/{id}/resume", s.handleResumeRun)
	api.HandleFunc("DELETE /runs/{id}", s.handleDeleteRun)

	api.HandleFunc("GET /leads", s.handleListLeads)
	api.HandleFunc("POST /leads", s.handleUpsertLeads)
	api.HandleFunc("POST /leads/unlock", s.handleUnlockLeads)
	api.HandleFunc("POST /leads/sweep", s.handleSweepLeads)

	api.HandleFunc("GET /orchestrator", s.handleOrchestratorStatus)

	var protected http.Handler = api
	if s.jwtService != nil {
		protected = middleware.AuthMiddleware(s.jwtService)(api)
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", s.handleHealth)
	mux.Handle("GET /metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))
	mux.HandleFunc("POST /auth/token", s.handleLogin)
	mux.Handle("/", protected)

	s.httpServer = &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		Handler:           s.withRateLimit(s.withLogging(s.withCORS(mux))),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      60 * time.Second, // streams clear their own deadline
		IdleTimeout:       60 * time.Second,
	}

	return s, nil
}

// Handler returns the root handler with all middleware applied.
func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}

// Start serves until ctx is canceled, then shuts down gracefully.
func (s *Server) Start(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.httpServer.Addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.httpServer.Addr, err)
	}
	return s.Serve(ctx, ln)
}

// Serve is Start on an existing listener.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("server starting", zap.String("addr", ln.Addr().String()))
		if err := s.httpServer.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		s.stopLimiter()
		return fmt.Errorf("server error: %w", err)
	case <-ctx.Done():
	}

	s.logger.Info("shutting down server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	err := s.httpServer.Shutdown(shutdownCtx)
	s.stopLimiter()
	if err != nil {
		return fmt.Errorf("server shutdown failed: %w", err)
	}
	s.logger.Info("server stopped")
	return nil
}

func (s *Server) stopLimiter() {
	if s.rateLimiter != nil {
		s.rateLimiter.Stop()
	}
}

// withCORS adds CORS headers
func (s *Server) withCORS(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}

		next.ServeHTTP(w, r)
	})
}

// withRateLimit rejects requests over the client's limit with 429.
func (s *Server) withRateLimit(next http.Handler) http.Handler {
	if s.rateLimiter == nil {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		allowed, info := s.rateLimiter.Allow(clientID(r), r.URL.Path, r.Method)

		if info.Limit > 0 {
			w.Header().Set("X-RateLimit-Limit", strconv.Itoa(info.Limit))
			w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(info.Remaining))
		}
		if !allowed {
			retryAfter := max(int(info.RetryAfter.Round(time.Second).Seconds()), 1)
			w.Header().Set("Retry-After", strconv.Itoa(retryAfter))
			s.logger.Debug("rate limit exceeded",
				zap.String("client", clientID(r)),
				zap.String("path", r.URL.Path))
			s.jsonResponse(w, http.StatusTooManyRequests, map[string]any{
				"error":       "rate_limit_exceeded",
				"message":     "Rate limit exceeded. Please try again later.",
				"retry_after": retryAfter,
			})
			return
		}
		next.ServeHTTP(w, r)
	})
}

// withLogging logs one line per request.
func (s *Server) withLogging(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		s.logger.Info("request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", rec.status),
			zap.Duration("duration", time.Since(start)),
			zap.String("remote", r.RemoteAddr))
	})
}

// statusRecorder captures the response status. It forwards Flush and Unwrap so
// streaming handlers keep working behind it.
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func (r *statusRecorder) Flush() {
	if f, ok := r.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

func (r *statusRecorder) Unwrap() http.ResponseWriter {
	return r.ResponseWriter
}

// clientID extracts the client identifier from the request. Only RemoteAddr is
// trusted; forwarded headers are ignored.
func clientID(r *http.Request) string {
	ip, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return ip
}

// handleHealth returns server health status
func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	s.jsonResponse(w, http.StatusOK, map[string]string{"status": "ok"})
}

// jsonResponse writes a JSON response
func (s *Server) jsonResponse(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		s.logger.Warn("failed to encode JSON response", zap.Error(err))
	}
}

// errorResponse writes an error JSON response
func (s *Server) errorResponse(w http.ResponseWriter, status int, code, message string) {
	s.jsonResponse(w, status, map[string]string{"error": code, "message": message})
}

// writeError maps err to a status and writes it. Conflicts caused by the start
// mutex carry a Retry-After header.
func (s *Server) writeError(w http.ResponseWriter, err error) {
	status := HTTPStatus(err)
	if errors.Is(err, orchestrator.ErrBusy) {
		w.Header().Set("Retry-After", "1")
	}
	if status == http.StatusInternalServerError {
		s.logger.Error("request failed", zap.Error(err))
	}
	s.errorResponse(w, status, errorCode(err), err.Error())
}

// decodeJSON decodes a request body into dst. An empty body leaves dst unchanged.
func decodeJSON(r *http.Request, dst any) error {
	if r.Body == nil || r.ContentLength == 0 {
		return nil
	}
	dec := json.NewDecoder(http.MaxBytesReader(nil, r.Body, 4<<20))
	if err := dec.Decode(dst); err != nil {
		if errors.Is(err, io.EOF) {
			return nil
		}
		return &ErrValidation{Field: "body", Message: "invalid JSON: " + err.Error()}
	}
	return nil
}
