package metric

import (
	"context"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"cloudemu/internal/logging"
)

// Server serves the metrics endpoint for scraping.
type Server struct {
	listen string
	path   string
	server *http.Server
	logger *slog.Logger
	mu     sync.Mutex // protects server
}

// NewServer prepares a metrics server for the given registry. An empty
// listen address disables it.
func NewServer(listen, path string, m *Metrics) *Server {
	if path == "" {
		path = "/metrics"
	}
	s := &Server{
		listen: listen,
		path:   path,
		logger: logging.For("metrics"),
	}
	if listen == "" {
		return s
	}
	mux := http.NewServeMux()
	mux.Handle(path, promhttp.HandlerFor(m.Registry(), promhttp.HandlerOpts{}))
	s.server = &http.Server{
		Addr:              listen,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	return s
}

// Start serves in a background goroutine. No-op when disabled.
func (s *Server) Start() {
	s.mu.Lock()
	srv := s.server
	s.mu.Unlock()
	if srv == nil {
		return
	}
	s.logger.Info("metrics endpoint listening", "addr", s.listen, "path", s.path)
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			s.logger.Error("metrics server stopped", "err", err)
		}
	}()
}

// Stop shuts the server down, waiting for in-flight scrapes.
func (s *Server) Stop(ctx context.Context) error {
	s.mu.Lock()
	srv := s.server
	s.server = nil
	s.mu.Unlock()
	if srv == nil {
		return nil
	}
	return srv.Shutdown(ctx)
}
