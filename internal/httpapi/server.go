package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"

	"github.com/nl2sqlcore/pipeline/internal/assistant"
	"github.com/nl2sqlcore/pipeline/internal/cache"
	"github.com/nl2sqlcore/pipeline/internal/config"
	"github.com/nl2sqlcore/pipeline/internal/coordinator"
)

// Server is the HTTP edge: chi router plus the coordinator Dependencies it
// drives. Grounded on the teacher's api.Server, narrowed to the one core
// endpoint (chat stream) spec §6.1 defines, plus health checks and thin
// external-store proxy stubs (§6.3).
type Server struct {
	cfg    *config.Config
	logger *slog.Logger
	router *chi.Mux
	http   *http.Server

	deps          coordinator.Dependencies
	clarification *cache.ClarificationStore
	validator     *TokenValidator
	assistant     *assistant.Assistant
}

// New builds a Server. deps must already be fully wired (templates, LLM,
// executor, thresholds); clarification is the store buildRequest/
// finalizeOutcome use to carry pending state across turns.
func New(cfg *config.Config, deps coordinator.Dependencies, clarification *cache.ClarificationStore, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}

	var validator *TokenValidator
	if cfg.Auth.JWKSURL != "" {
		validator = NewTokenValidator(cfg.Auth.Issuer, cfg.Auth.Audience, cfg.Auth.JWKSURL, logger)
	}

	s := &Server{
		cfg:           cfg,
		logger:        logger.With(slog.String("component", "httpapi")),
		router:        chi.NewRouter(),
		deps:          deps,
		clarification: clarification,
		validator:     validator,
	}
	if deps.LLM != nil {
		s.assistant = assistant.New(deps.LLM, logger)
	}

	s.setupMiddleware()
	s.registerRoutes()
	return s
}

// setupMiddleware matches the teacher's chain order: RequestID -> RealIP ->
// Logger -> Recoverer -> Timeout -> Auth.
func (s *Server) setupMiddleware() {
	s.router.Use(chimiddleware.RequestID)
	s.router.Use(chimiddleware.RealIP)
	s.router.Use(chimiddleware.RequestLogger(&slogLogFormatter{logger: s.logger}))
	s.router.Use(chimiddleware.Recoverer)
	s.router.Use(chimiddleware.Timeout(60 * time.Second))
	s.router.Use(authMiddleware(s.validator, s.cfg.Auth.Disabled, s.logger))
}

func (s *Server) registerRoutes() {
	s.router.Get("/healthz", s.handleHealthz)
	s.router.Get("/readyz", s.handleReadyz)

	s.router.Get("/api/chat/stream", s.handleChatStream)
	s.router.Get("/api/agents/health", s.handleAgentsHealth)

	// Thin proxies to the external thread store, per spec §6.3: the core
	// never persists threads itself, so these are not implemented here.
	s.router.Route("/api/threads", func(r chi.Router) {
		r.Get("/", s.handleThreadsNotImplemented)
		r.Get("/{id}", s.handleThreadsNotImplemented)
		r.Get("/{id}/messages", s.handleThreadsNotImplemented)
		r.Patch("/{id}", s.handleThreadsNotImplemented)
		r.Delete("/{id}", s.handleThreadsNotImplemented)
	})
}

// Router exposes the chi router for tests.
func (s *Server) Router() *chi.Mux { return s.router }

// Start runs the HTTP server until ctx is cancelled, then shuts down
// gracefully.
func (s *Server) Start(ctx context.Context) error {
	addr := fmt.Sprintf("%s:%d", s.cfg.Server.Host, s.cfg.Server.Port)
	s.http = &http.Server{
		Addr:              addr,
		Handler:           s.router,
		ReadTimeout:       s.cfg.Server.ReadTimeout,
		WriteTimeout:      s.cfg.Server.WriteTimeout,
		ReadHeaderTimeout: 10 * time.Second,
	}

	s.logger.Info("starting httpapi server", slog.String("address", addr))

	errCh := make(chan error, 1)
	go func() {
		if err := s.http.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("httpapi: listen error: %w", err)
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		s.logger.Info("shutting down httpapi server")
		return s.Shutdown(context.Background())
	}
}

// Shutdown gracefully stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.http == nil {
		return nil
	}
	shutdownCtx, cancel := context.WithTimeout(ctx, s.cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := s.http.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("httpapi: shutdown failed: %w", err)
	}
	return nil
}

func (s *Server) handleHealthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"status": "healthy", "timestamp": time.Now().UTC().Format(time.RFC3339)})
}

func (s *Server) handleReadyz(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if s.deps.Executor != nil {
		if err := s.deps.Executor.Ping(ctx); err != nil {
			s.logger.Error("readiness check: warehouse ping failed", slog.String("error", err.Error()))
			writeJSON(w, http.StatusServiceUnavailable, map[string]any{"status": "not_ready", "reason": "warehouse unavailable"})
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": "ready", "timestamp": time.Now().UTC().Format(time.RFC3339)})
}

// handleAgentsHealth reports per-component health, adapted from the
// teacher's HandleAgentsHealth but scoped to this pipeline's own stages
// rather than MediSync's module roster.
func (s *Server) handleAgentsHealth(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	warehouseStatus := "healthy"
	if s.deps.Executor == nil {
		warehouseStatus = "degraded"
	} else if err := s.deps.Executor.Ping(ctx); err != nil {
		warehouseStatus = "unhealthy"
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"status":    warehouseStatus,
		"timestamp": time.Now().UTC().Format(time.RFC3339),
		"components": []map[string]string{
			{"id": "template_search", "status": "healthy"},
			{"id": "param_extract", "status": "healthy"},
			{"id": "query_builder", "status": "healthy"},
			{"id": "warehouse", "status": warehouseStatus},
		},
	})
}

func (s *Server) handleThreadsNotImplemented(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusNotImplemented, map[string]any{
		"error": map[string]string{
			"code":    "not_implemented",
			"message": "thread storage is owned by an external service; this core never persists threads",
		},
	})
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

// slogLogFormatter adapts chi's request logging to slog, lifted verbatim
// from the teacher's api.Server logging formatter.
type slogLogFormatter struct {
	logger *slog.Logger
}

func (f *slogLogFormatter) NewLogEntry(r *http.Request) chimiddleware.LogEntry {
	return &slogLogEntry{logger: f.logger, r: r}
}

type slogLogEntry struct {
	logger *slog.Logger
	r      *http.Request
}

func (e *slogLogEntry) Write(status, bytes int, _ http.Header, elapsed time.Duration, _ interface{}) {
	e.logger.Info("request completed",
		slog.String("method", e.r.Method),
		slog.String("path", e.r.URL.Path),
		slog.Int("status", status),
		slog.Int("bytes", bytes),
		slog.Duration("elapsed", elapsed),
		slog.String("request_id", chimiddleware.GetReqID(e.r.Context())),
	)
}

func (e *slogLogEntry) Panic(v interface{}, stack []byte) {
	e.logger.Error("request panic", slog.Any("panic", v), slog.String("stack", string(stack)))
}
