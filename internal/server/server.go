package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"reflect"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/jonathan/apply-autopilot/internal/results"
	"github.com/jonathan/apply-autopilot/internal/runconfig"
	"github.com/jonathan/apply-autopilot/internal/runlog"
	"github.com/jonathan/apply-autopilot/internal/server/middleware"
	"github.com/jonathan/apply-autopilot/internal/server/ratelimit"
	"github.com/jonathan/apply-autopilot/internal/supervisor"
	"github.com/jonathan/apply-autopilot/internal/types"
)

// Controller is the run supervisor as seen by the control plane.
type Controller interface {
	Start(ctx context.Context, cfg types.RunConfiguration) (*supervisor.RunHandle, error)
	Stop() error
	Status() supervisor.Status
}

// ConfigBuilder resolves the run configuration for a start request.
type ConfigBuilder interface {
	Build(ctx context.Context, userID uuid.UUID, ov runconfig.Overrides) (types.RunConfiguration, error)
}

// Deps are the collaborators of the server. Outcomes, Health and RateLimit
// are optional.
type Deps struct {
	Supervisor Controller
	Builder    ConfigBuilder
	Events     *runlog.Log
	Outcomes   results.Lister
	Tokens     middleware.TokenValidator
	RateLimit  *ratelimit.Config
	Health     func(ctx context.Context) error
	Logger     *slog.Logger
}

// Server represents the HTTP server
type Server struct {
	deps        Deps
	httpServer  *http.Server
	rateLimiter *ratelimit.Limiter
	validate    *validator.Validate
	logger      *slog.Logger

	// keepAlive is the SSE heartbeat interval.
	keepAlive time.Duration
}

// New creates a server listening on port.
func New(port int, deps Deps) *Server {
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	s := &Server{
		deps:        deps,
		rateLimiter: ratelimit.NewLimiter(deps.RateLimit),
		validate:    newValidator(),
		logger:      deps.Logger.With(slog.String("component", "http")),
		keepAlive:   15 * time.Second,
	}

	s.httpServer = &http.Server{
		Addr:              fmt.Sprintf(":%d", port),
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		IdleTimeout:       60 * time.Second,
		// No WriteTimeout: the log stream is long-lived.
	}
	return s
}

// Handler returns the routed handler with the middleware chain applied.
func (s *Server) Handler() http.Handler {
	auth := middleware.AuthMiddleware(s.deps.Tokens)
	streamAuth := middleware.AuthMiddleware(s.deps.Tokens, middleware.Options{QueryParam: "access_token"})

	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", s.handleHealth)
	mux.Handle("POST /automation/start", auth(http.HandlerFunc(s.handleStart)))
	mux.Handle("POST /automation/stop", auth(http.HandlerFunc(s.handleStop)))
	mux.Handle("GET /automation/status", auth(http.HandlerFunc(s.handleStatus)))
	mux.Handle("GET /automation/logs", auth(http.HandlerFunc(s.handleLogs)))
	mux.Handle("GET /automation/logs/stream", streamAuth(http.HandlerFunc(s.handleLogStream)))
	mux.Handle("GET /automation/outcomes", auth(http.HandlerFunc(s.handleOutcomes)))

	return s.withRateLimit(s.withLogging(s.withCORS(mux)))
}

func newValidator() *validator.Validate {
	v := validator.New()
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

// ListenAndServe serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) ListenAndServe(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("server starting", slog.String("addr", s.httpServer.Addr))
		if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		s.rateLimiter.Stop()
		if err != nil {
			return fmt.Errorf("server error: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	s.logger.Info("shutting down server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	defer s.rateLimiter.Stop()

	if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown failed: %w", err)
	}
	s.logger.Info("server stopped")
	return nil
}

// withCORS adds CORS headers
func (s *Server) withCORS(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Authorization, Content-Type")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// withRateLimit rejects clients that exceed their bucket with 429.
func (s *Server) withRateLimit(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		allowed, info := s.rateLimiter.Allow(clientID(r), r.URL.Path, r.Method)
		if info.Limit > 0 {
			w.Header().Set("X-RateLimit-Limit", strconv.Itoa(info.Limit))
			w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(info.Remaining))
		}
		if !allowed {
			s.rateLimitResponse(w, r, info)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// statusRecorder captures the response status for request logs.
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

// Flush keeps SSE working through the logging middleware.
func (r *statusRecorder) Flush() {
	if f, ok := r.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

// withLogging adds request logging
func (s *Server) withLogging(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		s.logger.Info("request",
			slog.String("method", r.Method),
			slog.String("path", r.URL.Path),
			slog.Int("status", rec.status),
			slog.Duration("duration", time.Since(start)),
		)
	})
}

// clientID identifies the caller by remote IP.
func clientID(r *http.Request) string {
	ip, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return ip
}

func (s *Server) rateLimitResponse(w http.ResponseWriter, r *http.Request, info ratelimit.Info) {
	response := map[string]any{
		"error": "rate limit exceeded",
		"limit": info.Limit,
	}
	if info.RetryAfter > 0 {
		seconds := int(info.RetryAfter.Round(time.Second).Seconds())
		response["retry_after"] = seconds
		w.Header().Set("Retry-After", strconv.Itoa(seconds))
	}
	s.logger.Warn("rate limit exceeded",
		slog.String("client", clientID(r)),
		slog.String("path", r.URL.Path),
	)
	s.jsonResponse(w, http.StatusTooManyRequests, response)
}

// jsonResponse writes a JSON response
func (s *Server) jsonResponse(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		s.logger.Warn("failed to encode JSON response", slog.Any("error", err))
	}
}

// errorResponse writes an error JSON response
func (s *Server) errorResponse(w http.ResponseWriter, status int, message string) {
	s.jsonResponse(w, status, map[string]string{"error": message})
}

// handleError maps err to a status and a client-safe message.
func (s *Server) handleError(w http.ResponseWriter, err error) {
	status := HTTPStatus(err)
	if status == http.StatusInternalServerError {
		s.logger.Error("request failed", slog.Any("error", err))
	}
	s.errorResponse(w, status, publicMessage(err))
}
