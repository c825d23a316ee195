package api

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/inkworks/easel/internal/render"
	"github.com/inkworks/easel/internal/store"
)

// JobEnqueuer hands accepted jobs to the renderer queue.
type JobEnqueuer interface {
	Enqueue(jobID string) error
}

// Config holds API server configuration.
type Config struct {
	Listen            string
	Token             string
	HeartbeatInterval time.Duration
}

// Stores bundles the persistence layer the handlers read and write.
type Stores struct {
	Albums   *store.AlbumStore
	Jobs     *store.JobStore
	Assets   *store.AssetStore
	Messages *store.MessageStore
}

// Server represents the reference studio backend HTTP server.
type Server struct {
	config    Config
	stores    Stores
	enqueuer  JobEnqueuer
	broker    *render.Broker
	logger    *slog.Logger
	server    *http.Server
	startedAt time.Time
}

// New creates a new API server instance.
func New(config Config, stores Stores, enqueuer JobEnqueuer, broker *render.Broker, logger *slog.Logger) *Server {
	return &Server{
		config:    config,
		stores:    stores,
		enqueuer:  enqueuer,
		broker:    broker,
		logger:    logger,
		startedAt: time.Now(),
	}
}

// Start starts the HTTP server (blocking).
func (s *Server) Start(ctx context.Context) error {
	router := s.setupRoutes()

	s.server = &http.Server{
		Addr:         s.config.Listen,
		Handler:      router,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 0, // SSE endpoints are long-lived streams.
		IdleTimeout:  60 * time.Second,
	}

	s.logger.Info("API server starting", "listen", s.config.Listen)

	errCh := make(chan error, 1)
	go func() {
		if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		s.logger.Info("API server shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := s.server.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("server shutdown failed: %w", err)
		}
		return ctx.Err()
	case err := <-errCh:
		return fmt.Errorf("server error: %w", err)
	}
}

// setupRoutes configures the HTTP router.
func (s *Server) setupRoutes() *chi.Mux {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(s.loggingMiddleware)
	r.Use(middleware.Recoverer)

	// Unauthenticated
	r.Get("/healthz", s.handleHealthz)

	// Protected
	r.Group(func(r chi.Router) {
		r.Use(s.bearerAuth)
		r.Post("/v1/generations", s.handleGenerate)
		r.Get("/v1/generations/{job_id}", s.handleGetJob)
		r.Get("/v1/generations/{job_id}/events", s.handleJobEvents)
		r.Get("/v1/albums/{album_id}/assets", s.handleListAssets)
		r.Get("/v1/albums/{album_id}/messages", s.handleListMessages)
	})

	return r
}

// loggingMiddleware logs HTTP requests.
func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		s.logger.Info("http request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"duration_ms", time.Since(start).Milliseconds(),
			"request_id", middleware.GetReqID(r.Context()),
		)
	})
}
