// Package api exposes the task registry over HTTP. Every response body is
// the envelope {success, message, data}.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/cors"

	"github.com/dshills/protocol-foundry/graph/emit"
	"github.com/dshills/protocol-foundry/internal/tasks"
)

// Tasks is the registry surface the server drives. *tasks.Registry
// implements it.
type Tasks interface {
	Submit(ctx context.Context, intent, threadID string) (tasks.Task, error)
	Resume(ctx context.Context, threadID string, d tasks.Decision) (tasks.Task, error)
	Get(ctx context.Context, threadID string) (tasks.Task, error)
	List(ctx context.Context) ([]tasks.Task, error)
	Events(ctx context.Context, threadID string) ([]emit.Event, error)
	Counts() map[tasks.Status]int
}

// StoreStatus describes the checkpoint store for /health.
type StoreStatus struct {
	Name     string
	Degraded bool
}

// Server is the HTTP surface.
type Server struct {
	router      chi.Router
	tasks       Tasks
	logger      *slog.Logger
	corsOrigins []string
	metrics     http.Handler
	storeStatus func() StoreStatus
}

// ServerOption configures a Server.
type ServerOption func(*Server)

// WithLogger sets the request and error logger.
func WithLogger(logger *slog.Logger) ServerOption {
	return func(s *Server) {
		s.logger = logger
	}
}

// WithCORSOrigins sets the allowed browser origins.
func WithCORSOrigins(origins ...string) ServerOption {
	return func(s *Server) {
		s.corsOrigins = origins
	}
}

// WithMetrics mounts h at /metrics.
func WithMetrics(h http.Handler) ServerOption {
	return func(s *Server) {
		s.metrics = h
	}
}

// WithStoreStatus reports the checkpoint store in /health.
func WithStoreStatus(fn func() StoreStatus) ServerOption {
	return func(s *Server) {
		s.storeStatus = fn
	}
}

// NewServer creates the server and its routes.
func NewServer(t Tasks, opts ...ServerOption) *Server {
	s := &Server{
		tasks:       t,
		logger:      slog.Default(),
		corsOrigins: []string{"http://localhost:3000"},
		storeStatus: func() StoreStatus { return StoreStatus{Name: "memory"} },
	}
	for _, opt := range opts {
		opt(s)
	}
	s.router = s.setupRouter()
	return s
}

// Handler returns the HTTP handler.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) setupRouter() chi.Router {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(s.loggingMiddleware)
	r.Use(cors.New(cors.Options{
		AllowedOrigins: s.corsOrigins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders: []string{"Accept", "Content-Type", "X-Requested-With"},
		MaxAge:         300,
	}).Handler)

	r.Get("/", s.handleRoot)
	r.Get("/health", s.handleHealth)
	if s.metrics != nil {
		r.Method(http.MethodGet, "/metrics", s.metrics)
	}

	r.Post("/invoke", s.handleInvoke)
	r.Get("/state/{threadID}", s.handleState)
	r.Post("/resume/{threadID}", s.handleResume)
	r.Get("/tasks", s.handleListTasks)
	r.Get("/tasks/{threadID}/events", s.handleEvents)

	r.NotFound(func(w http.ResponseWriter, _ *http.Request) {
		respondError(w, http.StatusNotFound, "route not found")
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, _ *http.Request) {
		respondError(w, http.StatusMethodNotAllowed, "method not allowed")
	})

	return r
}

func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

		defer func() {
			s.logger.Info("http request",
				"method", r.Method,
				"path", r.URL.Path,
				"status", ww.Status(),
				"duration", time.Since(start),
				"bytes", ww.BytesWritten(),
				"request_id", middleware.GetReqID(r.Context()),
			)
		}()

		next.ServeHTTP(ww, r)
	})
}

// ListenAndServe serves until ctx is cancelled, then shuts down within
// shutdownTimeout.
func (s *Server) ListenAndServe(ctx context.Context, addr string, shutdownTimeout time.Duration) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("starting API server", "addr", addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Envelope wraps every response body.
type Envelope struct {
	Success bool        `json:"success"`
	Message string      `json:"message"`
	Data    interface{} `json:"data"`
}

func respondJSON(w http.ResponseWriter, status int, message string, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	env := Envelope{Success: status < http.StatusBadRequest, Message: message, Data: data}
	if err := json.NewEncoder(w).Encode(env); err != nil {
		slog.Error("failed to encode response", "error", err)
	}
}

func respondError(w http.ResponseWriter, status int, message string) {
	respondJSON(w, status, message, nil)
}
