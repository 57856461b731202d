package monitoring

import (
	"context"
	"errors"
	"net/http"
	"time"
)

// Server exposes /metrics and /healthz on one listener.
type Server struct {
	httpServer *http.Server
	health     *HealthChecker
}

// NewServer builds the monitoring HTTP server. addr is host:port.
func NewServer(addr string, health *HealthChecker) *Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", NewMetricsHandler())
	mux.Handle("/healthz", health)

	return &Server{
		httpServer: &http.Server{
			Addr:              addr,
			Handler:           mux,
			ReadHeaderTimeout: 5 * time.Second,
		},
		health: health,
	}
}

// Health returns the checker backing /healthz.
func (s *Server) Health() *HealthChecker {
	return s.health
}

// Start serves until Shutdown. A closed-server result is not an error.
func (s *Server) Start() error {
	err := s.httpServer.ListenAndServe()
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

// Shutdown drains the server within the context deadline.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}
