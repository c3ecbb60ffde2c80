package health

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Server provides HTTP endpoints for health monitoring.
type Server struct {
	aggregator *Aggregator
	server     *http.Server
}

// NewServer creates a new health server.
func NewServer(aggregator *Aggregator, port int) *Server {
	mux := http.NewServeMux()
	s := &Server{
		aggregator: aggregator,
		server: &http.Server{
			Addr:    fmt.Sprintf(":%d", port),
			Handler: mux,
		},
	}

	mux.HandleFunc("/health", s.handleHealth)
	mux.HandleFunc("/health/detailed", s.handleDetailed)
	mux.Handle("/metrics", promhttp.Handler())

	return s
}

// Handler exposes the routes for embedding in tests or another server.
func (s *Server) Handler() http.Handler {
	return s.server.Handler
}

// Start starts the HTTP server.
func (s *Server) Start() error {
	return s.server.ListenAndServe()
}

// Stop stops the HTTP server.
func (s *Server) Stop(ctx context.Context) error {
	return s.server.Shutdown(ctx)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	overall := s.aggregator.Overall()

	response := map[string]string{"status": string(overall.Status)}
	w.Header().Set("Content-Type", "application/json")

	if overall.Status == StatusCritical {
		w.WriteHeader(http.StatusServiceUnavailable)
	} else {
		w.WriteHeader(http.StatusOK)
	}

	json.NewEncoder(w).Encode(response)
}

func (s *Server) handleDetailed(w http.ResponseWriter, r *http.Request) {
	report := struct {
		Overall   SystemHealth `json:"overall"`
		Snapshots any          `json:"snapshots"`
	}{
		Overall:   s.aggregator.Overall(),
		Snapshots: s.aggregator.SnapshotAll(),
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(report)
}
