package http

import (
	"context"
	"crypto/tls"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/Sentinel-Gate/aipolicy/internal/domain/ratelimit"
)

// HTTPTransport serves the JSON-RPC method table over HTTP.
type HTTPTransport struct {
	handler        MessageHandler
	server         *http.Server
	addr           string
	allowedOrigins []string
	certFile       string
	keyFile        string
	logger         *slog.Logger
	authenticator  Authenticator
	limiter        ratelimit.RateLimiter
	limit          ratelimit.Config
	registry       *prometheus.Registry
	metrics        *Metrics
	healthChecker  *HealthChecker
}

// Option is a functional option for configuring HTTPTransport.
type Option func(*HTTPTransport)

// WithAddr sets the listen address for the HTTP server.
// Default is "127.0.0.1:8547" (localhost only).
func WithAddr(addr string) Option {
	return func(t *HTTPTransport) {
		t.addr = addr
	}
}

// WithTLS enables TLS with the provided certificate and key files.
// If not set, the server runs without TLS (plain HTTP).
func WithTLS(certFile, keyFile string) Option {
	return func(t *HTTPTransport) {
		t.certFile = certFile
		t.keyFile = keyFile
	}
}

// WithAllowedOrigins sets the allowed origins for DNS rebinding protection.
// If empty, all requests with an Origin header are blocked (local-only mode).
func WithAllowedOrigins(origins []string) Option {
	return func(t *HTTPTransport) {
		t.allowedOrigins = origins
	}
}

// WithLogger sets the logger for the HTTP transport.
func WithLogger(logger *slog.Logger) Option {
	return func(t *HTTPTransport) {
		t.logger = logger
	}
}

// WithHealthChecker sets the health checker for the /health endpoint.
func WithHealthChecker(hc *HealthChecker) Option {
	return func(t *HTTPTransport) {
		t.healthChecker = hc
	}
}

// WithAuthenticator sets the resolver for bearer credentials. Without one,
// every request is anonymous.
func WithAuthenticator(a Authenticator) Option {
	return func(t *HTTPTransport) {
		t.authenticator = a
	}
}

// WithRateLimit enables per-caller rate limiting.
func WithRateLimit(limiter ratelimit.RateLimiter, cfg ratelimit.Config) Option {
	return func(t *HTTPTransport) {
		t.limiter = limiter
		t.limit = cfg
	}
}

// WithMetrics makes the transport record into m and serve reg on /metrics.
// Without it the transport creates its own registry.
func WithMetrics(reg *prometheus.Registry, m *Metrics) Option {
	return func(t *HTTPTransport) {
		t.registry = reg
		t.metrics = m
	}
}

// NewHTTPTransport creates an HTTP transport dispatching to handler.
func NewHTTPTransport(handler MessageHandler, opts ...Option) *HTTPTransport {
	t := &HTTPTransport{
		handler:        handler,
		addr:           "127.0.0.1:8547",
		allowedOrigins: []string{},
		logger:         slog.Default(),
	}

	for _, opt := range opts {
		opt(t)
	}

	if t.registry == nil {
		t.registry = prometheus.NewRegistry()
		t.registry.MustRegister(
			collectors.NewGoCollector(),
			collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		)
		t.metrics = NewMetrics(t.registry)
	}

	return t
}

// Metrics returns the metrics the transport records into.
func (t *HTTPTransport) Metrics() *Metrics {
	return t.metrics
}

// Handler builds the routed handler with the full middleware chain.
func (t *HTTPTransport) Handler() http.Handler {
	// Order (outermost first): Metrics, RequestID, RealIP, DNSRebinding,
	// Auth, RateLimit. Metrics must be outermost to capture full duration.
	rpc := rpcHandler(t.handler)
	rpc = RateLimitMiddleware(t.limiter, t.limit, t.metrics)(rpc)
	rpc = AuthMiddleware(t.authenticator, t.metrics)(rpc)
	rpc = DNSRebindingProtection(t.allowedOrigins)(rpc)
	rpc = RealIPMiddleware(rpc)
	rpc = RequestIDMiddleware(t.logger)(rpc)
	rpc = MetricsMiddleware(t.metrics)(rpc)

	mux := http.NewServeMux()
	if t.healthChecker != nil {
		mux.Handle("/health", t.healthChecker.Handler())
	} else {
		mux.Handle("/health", healthHandler())
	}
	mux.Handle("/metrics", promhttp.HandlerFor(t.registry, promhttp.HandlerOpts{
		Registry: t.registry,
	}))
	mux.Handle("/favicon.ico", http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))
	mux.Handle("/rpc", rpc)
	mux.Handle("/", rpc)
	return mux
}

// Start begins accepting HTTP connections.
// It blocks until the context is cancelled or an error occurs.
func (t *HTTPTransport) Start(ctx context.Context) error {
	t.server = &http.Server{
		Addr:              t.addr,
		Handler:           t.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	if t.certFile != "" && t.keyFile != "" {
		t.server.TLSConfig = &tls.Config{
			MinVersion: tls.VersionTLS12,
		}
	}

	errCh := make(chan error, 1)

	go func() {
		var err error
		if t.certFile != "" && t.keyFile != "" {
			t.logger.Info("starting HTTPS server", "addr", t.addr)
			err = t.server.ListenAndServeTLS(t.certFile, t.keyFile)
		} else {
			t.logger.Info("starting HTTP server", "addr", t.addr)
			err = t.server.ListenAndServe()
		}
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

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
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

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
