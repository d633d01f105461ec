package server

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/tjfontaine/mme-broker/internal/metrics"
	"github.com/tjfontaine/mme-broker/internal/pkg/config"
)

// Server is the broker's HTTP listener.
type Server struct {
	Router *chi.Mux
	Addr   string

	logger  *slog.Logger
	metrics *metrics.Collector
	timeout time.Duration
	http    *http.Server
}

// Option configures a Server.
type Option func(*Server)

// WithLogger sets the request logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Server) {
		if l != nil {
			s.logger = l
		}
	}
}

// WithMetrics records per-route request counts and latency.
func WithMetrics(m *metrics.Collector) Option {
	return func(s *Server) { s.metrics = m }
}

// New builds the router with the standard middleware chain. Routes are
// registered on Router by the caller.
func New(cfg config.ServerConfig, opts ...Option) *Server {
	s := &Server{
		Router:  chi.NewRouter(),
		Addr:    cfg.Addr(),
		logger:  slog.Default(),
		timeout: cfg.RequestTimeout,
	}
	for _, opt := range opts {
		opt(s)
	}

	r := s.Router

	// Apply middleware in order
	r.Use(RequestIDMiddleware)
	r.Use(LoggingMiddleware(s.logger))
	r.Use(MetricsMiddleware(s.metrics))
	r.Use(TimeoutMiddleware(s.timeout))
	r.Use(RecoverMiddleware(s.logger))

	// Wrap with OpenTelemetry HTTP instrumentation
	r.Use(func(next http.Handler) http.Handler {
		return otelhttp.NewHandler(next, "mme-broker")
	})

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		WriteJSONError(w, http.StatusNotFound, "Not found")
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		WriteJSONError(w, http.StatusMethodNotAllowed, "Method not allowed")
	})

	s.http = &http.Server{
		Addr:              s.Addr,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

// Start serves until Shutdown is called. It returns nil after a clean
// shutdown.
func (s *Server) Start() error {
	s.logger.Info("starting server", slog.String("addr", s.Addr))
	if err := s.http.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown drains in-flight requests. A later Start returns immediately.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("shutting down server")
	return s.http.Shutdown(ctx)
}
