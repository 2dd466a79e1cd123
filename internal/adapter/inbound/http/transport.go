package http

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/requestsink/requestsink/internal/port/inbound"
)

// DefaultShutdownTimeout bounds graceful shutdown.
const DefaultShutdownTimeout = 10 * time.Second

// RealtimeHub is a WebSocket endpoint that owns its hijacked connections.
type RealtimeHub interface {
	http.Handler
	Close()
}

// HTTPTransport is the inbound adapter that exposes sinks over HTTP.
type HTTPTransport struct {
	sinkHandler     *SinkHandler
	server          *http.Server
	addr            string
	logger          *slog.Logger
	hub             RealtimeHub
	healthChecker   *HealthChecker
	registry        *prometheus.Registry
	metrics         *Metrics
	shutdownTimeout time.Duration
}

// Option is a functional option for configuring HTTPTransport.
type Option func(*HTTPTransport)

// WithAddr sets the listen address for the HTTP server.
// Default is "127.0.0.1:8080" (localhost only).
func WithAddr(addr string) Option {
	return func(t *HTTPTransport) {
		t.addr = addr
	}
}

// WithLogger sets the logger for the HTTP transport.
func WithLogger(logger *slog.Logger) Option {
	return func(t *HTTPTransport) {
		t.logger = logger
	}
}

// WithHub mounts the real-time hub at /hubs/requests.
func WithHub(hub RealtimeHub) Option {
	return func(t *HTTPTransport) {
		t.hub = hub
	}
}

// WithHealthChecker sets the health checker for the /health endpoint.
func WithHealthChecker(hc *HealthChecker) Option {
	return func(t *HTTPTransport) {
		t.healthChecker = hc
	}
}

// WithShutdownTimeout bounds how long Start waits for in-flight requests
// once its context is cancelled.
func WithShutdownTimeout(d time.Duration) Option {
	return func(t *HTTPTransport) {
		if d > 0 {
			t.shutdownTimeout = d
		}
	}
}

// WithRegistry sets the Prometheus registry served at /metrics.
// Go and process collectors are registered on it by NewHTTPTransport.
func WithRegistry(reg *prometheus.Registry) Option {
	return func(t *HTTPTransport) {
		t.registry = reg
	}
}

// NewHTTPTransport creates an HTTP transport serving the given services.
func NewHTTPTransport(capture inbound.CaptureService, sinks SinkManager, opts ...Option) *HTTPTransport {
	t := &HTTPTransport{
		addr:            "127.0.0.1:8080",
		logger:          slog.Default(),
		shutdownTimeout: DefaultShutdownTimeout,
	}

	for _, opt := range opts {
		opt(t)
	}

	if t.registry == nil {
		t.registry = prometheus.NewRegistry()
	}
	t.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	t.metrics = NewMetrics(t.registry)
	t.sinkHandler = NewSinkHandler(capture, sinks, t.metrics, t.logger)

	return t
}

// Metrics returns the transport's Prometheus metrics.
func (t *HTTPTransport) Metrics() *Metrics {
	return t.metrics
}

// Handler builds the full routing tree with its middleware chain.
func (t *HTTPTransport) Handler() http.Handler {
	mux := http.NewServeMux()
	t.sinkHandler.Register(mux)

	if t.healthChecker != nil {
		mux.Handle("GET /health", t.healthChecker.Handler())
	} else {
		// Fallback to simple handler if no checker configured
		mux.Handle("GET /health", healthHandler())
	}
	mux.Handle("GET /metrics", promhttp.HandlerFor(t.registry, promhttp.HandlerOpts{
		Registry: t.registry,
	}))
	if t.hub != nil {
		mux.Handle("GET /hubs/requests", t.hub)
	}
	// Favicon handler to keep browser probes out of the logs
	mux.Handle("/favicon.ico", http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))

	// Middleware order (outermost first):
	// 1. MetricsMiddleware - Record duration and status (MUST be outermost to capture full duration)
	// 2. RequestID - Extract/generate request ID and enrich logger
	// 3. Recovery - Convert panics to 500
	// 4. CORS - Permissive cross-origin access and preflight answers
	var handler http.Handler = mux
	handler = CORSMiddleware(handler)
	handler = RecoveryMiddleware(handler)
	handler = RequestIDMiddleware(t.logger)(handler)
	handler = MetricsMiddleware(t.metrics)(handler)
	return handler
}

// Start begins accepting HTTP connections.
// It blocks until the context is cancelled or an error occurs.
func (t *HTTPTransport) Start(ctx context.Context) error {
	ln, err := net.Listen("tcp", t.addr)
	if err != nil {
		return err
	}
	return t.Serve(ctx, ln)
}

// Serve accepts connections on ln until ctx is cancelled.
func (t *HTTPTransport) Serve(ctx context.Context, ln net.Listener) error {
	t.server = &http.Server{
		Handler:           t.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	// Channel for server errors
	errCh := make(chan error, 1)

	go func() {
		t.logger.Info("starting HTTP server", "addr", ln.Addr().String())
		if err := t.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	// Wait for context cancellation or server error
	select {
	case <-ctx.Done():
		t.logger.Info("context cancelled, shutting down HTTP server")
		return t.shutdown()
	case err := <-errCh:
		return err
	}
}

// shutdown performs graceful shutdown of the HTTP server.
func (t *HTTPTransport) shutdown() error {
	ctx, cancel := context.WithTimeout(context.Background(), t.shutdownTimeout)
	defer cancel()

	// Hijacked WebSocket connections are invisible to Shutdown.
	if t.hub != nil {
		t.hub.Close()
	}

	if err := t.server.Shutdown(ctx); err != nil {
		t.logger.Error("error during server shutdown", "error", err)
		return err
	}

	t.logger.Info("HTTP server shutdown complete")
	return nil
}

// Close gracefully shuts down the transport.
func (t *HTTPTransport) Close() error {
	if t.server == nil {
		return nil
	}
	return t.shutdown()
}
