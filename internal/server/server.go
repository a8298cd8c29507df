package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"github.com/jonathan/jobhunter/internal/chat"
	"github.com/jonathan/jobhunter/internal/config"
	"github.com/jonathan/jobhunter/internal/pipeline"
	"github.com/jonathan/jobhunter/internal/server/middleware"
	"github.com/jonathan/jobhunter/internal/server/ratelimit"
	"github.com/jonathan/jobhunter/internal/store"
	"github.com/jonathan/jobhunter/internal/types"
)

// Engine is the pipeline surface the HTTP API exposes.
type Engine interface {
	Get(ctx context.Context, id int64) (*types.Application, error)
	List(ctx context.Context, filter store.ApplicationFilter) ([]types.Application, error)
	ReviewQueue(ctx context.Context) ([]types.Application, error)
	TopMatches(ctx context.Context, limit int) ([]pipeline.Match, error)
	Stats(ctx context.Context) (*types.Stats, error)
	Profile(ctx context.Context) (*types.CandidateProfile, error)
	UpdateProfile(ctx context.Context, profile types.CandidateProfile) (*types.CandidateProfile, error)
	Posting(ctx context.Context, id string) (*types.JobPosting, error)
	Postings(ctx context.Context, filter store.PostingFilter) ([]types.JobPosting, error)
	Discover(ctx context.Context, postings []types.JobPosting) (pipeline.DiscoverResult, error)
	ScorePosting(ctx context.Context, postingID string) (pipeline.ScoreOutcome, error)
	Review(ctx context.Context, d types.ReviewDecision) (*pipeline.ReviewResult, error)
	ReviewBatch(ctx context.Context, items []types.BatchItem, actor string) []types.BatchResult
	RetryGeneration(ctx context.Context, id int64, actor string) (*types.Application, error)
	RetrySubmission(ctx context.Context, id int64, actor string) (*types.Application, error)
	RecordOutcome(ctx context.Context, id int64, kind types.OutcomeKind, at time.Time, detail string) (*types.Application, error)
	AddNote(ctx context.Context, id int64, note string) (*types.Application, error)
	Archive(ctx context.Context, id int64, actor string) (*types.Application, error)
	Subscribe(buffer int) (<-chan pipeline.Transition, func())
}

// Config holds server configuration
type Config struct {
	Port int
}

// Deps are the collaborators the server routes to. Discoverer, Interpreter, JWT
// and RateLimit may be nil; the matching routes or middleware are then disabled.
type Deps struct {
	Engine      Engine
	Discoverer  chat.Discoverer
	Interpreter *chat.Interpreter
	Logger      *slog.Logger
	JWT         *config.JWTConfig
	RateLimit   *ratelimit.Config
}

// Server represents the HTTP server
type Server struct {
	httpServer  *http.Server
	engine      Engine
	discoverer  chat.Discoverer
	interpreter *chat.Interpreter
	logger      *slog.Logger
	rateLimiter *ratelimit.Limiter
	jwtService  *JWTService
	validate    *validator.Validate
	heartbeat   time.Duration
	now         func() time.Time
	handler     http.Handler
}

// New creates a new server instance
func New(cfg Config, deps Deps) (*Server, error) {
	if deps.Engine == nil {
		return nil, fmt.Errorf("server requires an engine")
	}
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}

	s := &Server{
		engine:      deps.Engine,
		discoverer:  deps.Discoverer,
		interpreter: deps.Interpreter,
		logger:      logger.With("component", "http"),
		validate:    validator.New(),
		heartbeat:   heartbeatInterval,
		now:         time.Now,
	}
	if deps.RateLimit != nil {
		s.rateLimiter = ratelimit.NewLimiter(deps.RateLimit)
	}
	if deps.JWT != nil {
		s.jwtService = NewJWTService(deps.JWT)
	}

	// Setup router
	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", s.handleHealth)

	mux.HandleFunc("GET /profile", s.handleGetProfile)
	mux.HandleFunc("PUT /profile", s.handleUpdateProfile)

	mux.HandleFunc("GET /postings", s.handleListPostings)
	mux.HandleFunc("POST /postings", s.handleCreatePostings)
	mux.HandleFunc("POST /discovery/run", s.handleRunDiscovery)

	// Applications
	mux.HandleFunc("GET /applications", s.handleListApplications)
	mux.HandleFunc("GET /applications/events", s.handleEvents)
	mux.HandleFunc("GET /applications/{id}", s.handleGetApplication)
	mux.HandleFunc("POST /applications/{id}/review", s.handleReview)
	mux.HandleFunc("POST /applications/review-batch", s.handleReviewBatch)
	mux.HandleFunc("POST /applications/{id}/retry-generation", s.handleRetryGeneration)
	mux.HandleFunc("POST /applications/{id}/retry-submission", s.handleRetrySubmission)
	mux.HandleFunc("POST /applications/{id}/outcomes", s.handleRecordOutcome)
	mux.HandleFunc("POST /applications/{id}/notes", s.handleAddNote)
	mux.HandleFunc("POST /applications/{id}/archive", s.handleArchive)

	mux.HandleFunc("GET /stats", s.handleStats)
	mux.HandleFunc("POST /chat", s.handleChat)
	mux.HandleFunc("GET /export/tracker.xlsx", s.handleExportTracker)

	s.handler = s.withRateLimit(s.withLogging(s.withCORS(s.withAuth(mux))))
	s.httpServer = &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		Handler:           s.handler,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		// Event streams stay open; per-request work is bounded by the engine.
		WriteTimeout: 0,
		IdleTimeout:  60 * time.Second,
	}

	return s, nil
}

// Handler returns the fully wrapped request handler.
func (s *Server) Handler() http.Handler {
	return s.handler
}

// Start serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Start(ctx context.Context) error {
	// Event streams never go idle, so their request contexts end on shutdown.
	baseCtx, cancelBase := context.WithCancel(context.Background())
	defer cancelBase()
	s.httpServer.BaseContext = func(net.Listener) context.Context { return baseCtx }
	s.httpServer.RegisterOnShutdown(cancelBase)

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("server starting", "addr", s.httpServer.Addr)
		if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err, ok := <-errCh:
		s.Close()
		if ok {
			return fmt.Errorf("server error: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	s.logger.Info("shutting down server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	err := s.httpServer.Shutdown(shutdownCtx)
	s.Close()
	if err != nil {
		return fmt.Errorf("server shutdown failed: %w", err)
	}
	s.logger.Info("server stopped")
	return nil
}

// Close releases background resources held by middleware.
func (s *Server) Close() {
	// Stop rate limiter cleanup goroutine
	if s.rateLimiter != nil {
		s.rateLimiter.Stop()
	}
}

// withCORS adds CORS headers
func (s *Server) withCORS(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}

// withAuth requires a bearer token on everything but the health check when JWT is configured.
func (s *Server) withAuth(next http.Handler) http.Handler {
	if s.jwtService == nil {
		return next
	}
	protected := middleware.AuthMiddleware(s.jwtService.AsTokenValidator())(next)
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/health" {
			next.ServeHTTP(w, r)
			return
		}
		protected.ServeHTTP(w, r)
	})
}

// withRateLimit adds rate limiting middleware
func (s *Server) withRateLimit(next http.Handler) http.Handler {
	if s.rateLimiter == nil {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		clientID := s.extractClientID(r)

		allowed, info := s.rateLimiter.Allow(clientID, r.URL.Path, r.Method)
		s.setRateLimitHeaders(w, info)
		if !allowed {
			s.rateLimitResponse(w, clientID, info)
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
	if r.status == 0 {
		r.status = code
	}
	r.ResponseWriter.WriteHeader(code)
}

func (r *statusRecorder) Write(b []byte) (int, error) {
	if r.status == 0 {
		r.status = http.StatusOK
	}
	return r.ResponseWriter.Write(b)
}

// Flush keeps event streams working behind the logger.
func (r *statusRecorder) Flush() {
	if f, ok := r.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

// withLogging adds request logging
func (s *Server) withLogging(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		requestID := r.Header.Get("X-Request-ID")
		if requestID == "" {
			requestID = uuid.NewString()
		}
		w.Header().Set("X-Request-ID", requestID)

		rec := &statusRecorder{ResponseWriter: w}
		next.ServeHTTP(rec, r)

		status := rec.status
		if status == 0 {
			status = http.StatusOK
		}
		level := slog.LevelInfo
		if status >= http.StatusInternalServerError {
			level = slog.LevelError
		}
		s.logger.Log(r.Context(), level, "request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", status,
			"duration", time.Since(start),
			"request_id", requestID,
			"remote", r.RemoteAddr,
		)
	})
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
		s.logger.Warn("failed to encode JSON response", "error", err)
	}
}

// errorResponse writes an error JSON response
func (s *Server) errorResponse(w http.ResponseWriter, status int, message string) {
	s.jsonResponse(w, status, map[string]string{"error": message})
}

// engineError maps an engine error to its status and writes it.
func (s *Server) engineError(w http.ResponseWriter, err error) {
	status := HTTPStatus(err)
	if status >= http.StatusInternalServerError && status != http.StatusServiceUnavailable {
		s.logger.Error("request failed", "error", err)
	}
	message := err.Error()
	if status == http.StatusBadRequest {
		message = validationMessage(err)
	}
	body := map[string]any{"error": message}
	var conflict *pipeline.ConflictError
	if errors.As(err, &conflict) {
		body["stage"] = conflict.Stage
	}
	s.jsonResponse(w, status, body)
}

// extractClientID extracts the client identifier from the request.
// It uses the IP address from RemoteAddr; X-Forwarded-For is not trusted.
func (s *Server) extractClientID(r *http.Request) string {
	// Get IP from RemoteAddr (format: "IP:port")
	ip, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		// If parsing fails, use the whole RemoteAddr
		return r.RemoteAddr
	}
	return ip
}

// setRateLimitHeaders sets standard rate limit headers on the response.
func (s *Server) setRateLimitHeaders(w http.ResponseWriter, info ratelimit.Info) {
	if info.Limit > 0 {
		w.Header().Set("X-RateLimit-Limit", fmt.Sprintf("%d", info.Limit))
		w.Header().Set("X-RateLimit-Remaining", fmt.Sprintf("%d", info.Remaining))
		w.Header().Set("X-RateLimit-Reset", fmt.Sprintf("%d", info.ResetTime.Unix()))
	}
}

// rateLimitResponse writes a 429 Too Many Requests response with rate limit information.
func (s *Server) rateLimitResponse(w http.ResponseWriter, clientID string, info ratelimit.Info) {
	response := map[string]any{
		"error":     "rate_limit_exceeded",
		"message":   "Rate limit exceeded. Please try again later.",
		"limit":     info.Limit,
		"remaining": info.Remaining,
	}
	if !info.ResetTime.IsZero() {
		response["reset_at"] = info.ResetTime.Format(time.RFC3339)
	}

	if info.RetryAfter > 0 {
		seconds := int(info.RetryAfter.Seconds())
		if seconds < 1 {
			seconds = 1
		}
		response["retry_after"] = seconds
		w.Header().Set("Retry-After", fmt.Sprintf("%d", seconds))
	}

	s.logger.Warn("rate limit exceeded", "client", clientID, "limit", info.Limit)
	s.jsonResponse(w, http.StatusTooManyRequests, response)
}
