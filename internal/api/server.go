package api

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/opensource-finance/credittwin/internal/domain"
)

// Server represents the HTTP API server.
type Server struct {
	router  *chi.Mux
	handler *Handler
	server  *http.Server
	config  domain.ServerConfig
	sub     domain.Subscription
}

// NewServer creates a new API server.
func NewServer(cfg domain.ServerConfig, deps Deps) *Server {
	handler := NewHandler(deps)
	router := chi.NewRouter()

	// Global middleware stack
	router.Use(CORSMiddleware)         // CORS for browser clients
	router.Use(RecoverMiddleware)      // Recover from panics
	router.Use(TracingMiddleware)      // OpenTelemetry tracing
	router.Use(LoggingMiddleware)      // Request logging
	router.Use(middleware.RealIP)      // Extract real IP
	router.Use(middleware.Compress(5)) // Gzip compression

	router.Get("/health", handler.Health)
	router.Get("/ready", handler.Ready)

	// Evaluation
	router.Post("/evaluate", handler.Evaluate)
	router.Post("/evaluate/async", handler.EvaluateAsync)
	router.Get("/decisions/{id}", handler.GetDecision)
	router.Get("/clients/{id}/history", handler.GetClientHistory)

	// Corpus
	router.Get("/stats", handler.GetStats)
	router.Get("/status", handler.GetStatus)
	router.Route("/data", func(r chi.Router) {
		r.Get("/sample", handler.GetSample)
		r.Post("/import", handler.ImportData)
		r.Post("/reset", handler.ResetData)
		r.Delete("/", handler.ClearData)
		r.Get("/export", handler.ExportData)
		r.Post("/export/archive", handler.ArchiveExport)
		r.Get("/template", handler.GetTemplate)
	})

	// Rule management
	router.Get("/rules", handler.ListRules)
	router.Get("/rules/{id}", handler.GetRule)
	router.Post("/rules", handler.CreateRule)
	router.Post("/rules/reload", handler.ReloadRules)

	s := &Server{
		router:  router,
		handler: handler,
		config:  cfg,
	}
	s.watchCorpus(deps.Bus)
	return s
}

// watchCorpus drops cached stats whenever another process rewrites the corpus.
func (s *Server) watchCorpus(bus domain.EventBus) {
	if bus == nil || s.handler.cache == nil {
		return
	}
	sub, err := bus.Subscribe(context.Background(), domain.TopicCorpusChanged, func(ctx context.Context, msg *domain.Message) error {
		return s.handler.cache.Delete(ctx, statsCacheKey)
	})
	if err != nil {
		slog.Warn("failed to subscribe to corpus changes", "error", err)
		return
	}
	s.sub = sub
}

// Start starts the HTTP server.
func (s *Server) Start() error {
	addr := fmt.Sprintf("%s:%d", s.config.Host, s.config.Port)

	s.server = &http.Server{
		Addr:         addr,
		Handler:      s.router,
		ReadTimeout:  time.Duration(s.config.ReadTimeout) * time.Second,
		WriteTimeout: time.Duration(s.config.WriteTimeout) * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	return s.server.ListenAndServe()
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.sub != nil {
		_ = s.sub.Unsubscribe()
	}
	if s.server == nil {
		return nil
	}
	return s.server.Shutdown(ctx)
}

// Router returns the Chi router for testing.
func (s *Server) Router() *chi.Mux {
	return s.router
}

// Handler returns the handler for testing.
func (s *Server) Handler() *Handler {
	return s.handler
}
