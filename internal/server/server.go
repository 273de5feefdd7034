// Package server exposes the HTTP surface: the WebSocket endpoint, the JSON
// introspection API and the Prometheus scrape endpoint.
package server

import (
	"context"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/0xMorpheusZAR/AlphaTerminal-sub001/internal/fetch"
	"github.com/0xMorpheusZAR/AlphaTerminal-sub001/internal/hub"
	"github.com/0xMorpheusZAR/AlphaTerminal-sub001/internal/metrics"
	"github.com/0xMorpheusZAR/AlphaTerminal-sub001/internal/stats"
	"github.com/0xMorpheusZAR/AlphaTerminal-sub001/internal/utils"
	"github.com/0xMorpheusZAR/AlphaTerminal-sub001/internal/ws"
)

// Server is the HTTP server in front of the hub and the fetch layer.
type Server struct {
	gateway      *ws.Gateway
	hub          *hub.Hub
	orchestrator *fetch.Orchestrator
	collector    *stats.Collector
	metrics      *metrics.Metrics
	logger       *utils.Logger
}

// New creates a server. collector and metrics may be nil.
func New(gateway *ws.Gateway, h *hub.Hub, orchestrator *fetch.Orchestrator, collector *stats.Collector, m *metrics.Metrics) *Server {
	return &Server{
		gateway:      gateway,
		hub:          h,
		orchestrator: orchestrator,
		collector:    collector,
		metrics:      m,
		logger:       utils.ServerLogger,
	}
}

// Start runs the HTTP server until ctx is cancelled, then shuts it down
// gracefully.
func (s *Server) Start(ctx context.Context, addr string) error {
	mux := http.NewServeMux()

	mux.HandleFunc("/ws", s.gateway.HandleWebSocket)

	mux.HandleFunc("/api/health", s.handleHealth)
	mux.HandleFunc("/api/stats", s.handleStats)
	mux.HandleFunc("/api/clients", s.handleClients)

	// Health check endpoint (for compatibility)
	mux.HandleFunc("/health", s.handleHealth)

	if s.metrics != nil {
		mux.Handle("/metrics", promhttp.HandlerFor(s.metrics.Registry(), promhttp.HandlerOpts{}))
	}

	server := &http.Server{
		Addr:              addr,
		Handler:           s.recoverMiddleware(mux),
		ReadHeaderTimeout: 10 * time.Second,
	}

	s.logger.Info("HTTP server listening on %s", addr)

	go func() {
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			s.logger.Error("HTTP server error: %v", err)
		}
	}()

	<-ctx.Done()
	s.logger.Info("shutting down HTTP server")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return server.Shutdown(shutdownCtx)
}

func (s *Server) recoverMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				s.logger.Error("panic serving %s: %v", r.URL.Path, rec)
				http.Error(w, "Internal server error", http.StatusInternalServerError)
			}
		}()
		next.ServeHTTP(w, r)
	})
}
