// Package api exposes the monitoring service over HTTP.
//
// Routes are served by chi. The live feed at /ws pushes health snapshots and
// alert events after every poll batch.
package api

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/vietddude/apiwatch/internal/alerting"
	"github.com/vietddude/apiwatch/internal/health"
	"github.com/vietddude/apiwatch/internal/infra/storage"
	"github.com/vietddude/apiwatch/internal/mapping"
	"github.com/vietddude/apiwatch/internal/poller"
	"github.com/vietddude/apiwatch/internal/ratelimit"
	"github.com/vietddude/apiwatch/internal/registry"
)

// Reporter writes exports to the configured sink and returns their names.
type Reporter interface {
	ExportReport(ctx context.Context) (string, error)
	ExportMappings(ctx context.Context, apiID string) (string, error)
}

// Deps are the components served by the API. Reporter is optional.
type Deps struct {
	Registry     *registry.Registry
	Poller       *poller.Poller
	Health       *health.Aggregator
	Alerts       *alerting.Engine
	RateLimits   *ratelimit.Tracker
	Mappings     *mapping.Manager
	Observations storage.ObservationRepository
	Reporter     Reporter
}

type Server struct {
	deps   Deps
	hub    *Hub
	logger *slog.Logger
	router chi.Router
	server *http.Server

	mu   sync.RWMutex
	addr net.Addr
}

func NewServer(deps Deps, port int, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{
		deps:   deps,
		hub:    NewHub(logger),
		logger: logger,
	}
	s.router = s.routes()
	s.server = &http.Server{
		Addr:              fmt.Sprintf(":%d", port),
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
	return s
}

// Hub returns the live feed hub.
func (s *Server) Hub() *Hub {
	return s.hub
}

// Handler returns the router, for tests and embedding.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) routes() chi.Router {
	router := chi.NewRouter()

	// Global middleware
	router.Use(middleware.RequestID)
	router.Use(middleware.RealIP)
	router.Use(middleware.Recoverer)
	router.Use(corsMiddleware)

	router.Get("/health", s.handleLiveness)
	router.Handle("/metrics", promhttp.Handler())
	router.Get("/ws", s.hub.ServeWS)

	router.Group(func(r chi.Router) {
		r.Use(middleware.Timeout(60 * time.Second))

		r.Route("/connections", func(r chi.Router) {
			r.Get("/", s.handleListConnections)
			r.Post("/", s.handleCreateConnection)
			r.Get("/{id}", s.handleGetConnection)
			r.Patch("/{id}", s.handleUpdateConnection)
			r.Delete("/{id}", s.handleDeleteConnection)
			r.Post("/{id}/test", s.handleTestConnection)
			r.Get("/{id}/observations", s.handleObservations)
			r.Get("/{id}/transitions", s.handleTransitions)
		})

		r.Get("/health/overall", s.handleOverall)
		r.Get("/health/snapshots", s.handleSnapshots)
		r.Get("/health/snapshots/{id}", s.handleSnapshot)

		r.Get("/alerts", s.handleAlerts)
		r.Get("/alerts/rules", s.handleAlertRules)
		r.Post("/alerts/{id}/ack", s.handleAcknowledge)
		r.Post("/alerts/{id}/dismiss", s.handleDismiss)

		r.Get("/ratelimits", s.handleRateLimits)
		r.Get("/ratelimits/{id}", s.handleRateLimit)

		r.Route("/mapping", func(r chi.Router) {
			r.Post("/paths", s.handlePaths)
			r.Get("/widgets", s.handleWidgets)
			r.Get("/{apiId}", s.handleMappings)
			r.Get("/{apiId}/paths", s.handleStudioPaths)
			r.Post("/{apiId}/bind", s.handleBind)
			r.Delete("/{apiId}/bind", s.handleUnbind)
			r.Get("/{apiId}/export", s.handleExport)
			r.Post("/{apiId}/export", s.handleSaveExport)
			r.Post("/{apiId}/import", s.handleImport)
		})

		r.Post("/reports", s.handleReport)
	})
	return router
}

// Addr returns the bound listen address, or "" before Run is listening.
func (s *Server) Addr() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.addr == nil {
		return ""
	}
	return s.addr.String()
}

// Run serves until ctx is done, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.server.Addr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", s.server.Addr, err)
	}
	s.mu.Lock()
	s.addr = ln.Addr()
	s.mu.Unlock()

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("api listening", "addr", ln.Addr().String())
		if err := s.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = s.server.Shutdown(shutdownCtx)
		return nil
	case err := <-errCh:
		return err
	}
}

func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		origin := r.Header.Get("Origin")
		if origin == "" {
			origin = "*"
		}

		w.Header().Set("Access-Control-Allow-Origin", origin)
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PATCH, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization, X-Requested-With")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}

func (s *Server) handleLiveness(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}
