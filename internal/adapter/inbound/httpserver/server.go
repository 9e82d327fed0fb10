package httpserver

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// shutdownTimeout bounds how long Start waits for in-flight requests to
// drain once the context is cancelled.
const shutdownTimeout = 10 * time.Second

// GatewayCloser is implemented by anything that owns tenant state and a
// registry handle that must be released on shutdown.
type GatewayCloser interface {
	http.Handler
	Shutdown() error
}

// Server wraps a Gateway in a net/http.Server, a Prometheus metrics
// endpoint, and a bounded graceful stop.
type Server struct {
	gateway GatewayCloser
	server  *http.Server
	addr    string
	logger  *slog.Logger
	metrics *Metrics
}

// Option configures a Server.
type Option func(*Server)

// WithAddr sets the listen address. Default is ":8080".
func WithAddr(addr string) Option {
	return func(s *Server) { s.addr = addr }
}

// WithLogger sets the logger used for request enrichment and lifecycle
// messages.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Server) { s.logger = logger }
}

// New constructs a Server around the given Gateway.
func New(gateway GatewayCloser, opts ...Option) *Server {
	s := &Server{
		gateway: gateway,
		addr:    ":8080",
		logger:  slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Start builds the middleware chain and mux, then blocks until ctx is
// cancelled or the listener fails. On cancellation it shuts down within
// shutdownTimeout and then closes the Gateway.
func (s *Server) Start(ctx context.Context) error {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	s.metrics = NewMetrics(reg)

	var handler http.Handler = s.gateway
	handler = MetricsMiddleware(s.metrics)(handler)
	handler = RequestIDMiddleware(s.logger)(handler)

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg}))
	mux.Handle("/favicon.ico", http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))
	mux.Handle("/", handler)

	s.server = &http.Server{
		Addr:              s.addr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("starting HTTP server", "addr", s.addr)
		err := s.server.ListenAndServe()
		if err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
		s.logger.Info("context cancelled, shutting down HTTP server")
		return s.shutdown()
	case err := <-errCh:
		return err
	}
}

func (s *Server) shutdown() error {
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := s.server.Shutdown(ctx); err != nil {
		s.logger.Error("error during server shutdown", "error", err)
		return err
	}
	s.logger.Info("HTTP server shutdown complete")

	if err := s.gateway.Shutdown(); err != nil {
		s.logger.Error("error during gateway shutdown", "error", err)
		return err
	}
	return nil
}
