package metrics

import (
	"context"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Server serves the /metrics endpoint for Prometheus scraping.
type Server struct {
	server *http.Server
}

// NewServer creates a metrics HTTP server on the given address, reading
// from the default Prometheus registry every promauto counter above
// registers against.
func NewServer(addr string) *Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(prometheus.DefaultGatherer, promhttp.HandlerOpts{}))

	return &Server{server: &http.Server{Addr: addr, Handler: mux}}
}

// ListenAndServe starts the metrics server. It returns http.ErrServerClosed
// after a call to Shutdown.
func (s *Server) ListenAndServe() error {
	return s.server.ListenAndServe()
}

// Shutdown gracefully stops the metrics server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.server.Shutdown(ctx)
}
