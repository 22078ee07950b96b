package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"sync"

	"go.opentelemetry.io/otel/trace"

	"mercator-hq/turnstile/pkg/config"
	"mercator-hq/turnstile/pkg/limits"
	"mercator-hq/turnstile/pkg/limits/admission"
	"mercator-hq/turnstile/pkg/limits/quota"
	"mercator-hq/turnstile/pkg/telemetry/health"
	"mercator-hq/turnstile/pkg/telemetry/metrics"
	"mercator-hq/turnstile/pkg/telemetry/tracing"
)

// Gateway is the admission surface served by the API.
type Gateway interface {
	Admit(ctx context.Context, req admission.Request) (limits.Decision, error)
	Usage(ctx context.Context, tenantID string) (*quota.Report, error)
	RateStatus(ctx context.Context, apiKeyID string) (map[limits.WindowKind]int64, error)
}

// Options configures a Server.
type Options struct {
	// Config is the listener configuration.
	Config config.ServerConfig

	// Gateway decides admissions. Required.
	Gateway Gateway

	// Events serves GET /v1/events. Optional.
	Events EventQuerier

	// Query and Export tune GET /v1/events.
	Query  config.QueryConfig
	Export config.ExportConfig

	// Health serves the probe endpoints. Optional.
	Health      *health.Checker
	HealthPaths health.Paths

	// Metrics instruments routes and serves MetricsPath. Optional.
	Metrics     *metrics.Collector
	MetricsPath string

	// Tracer creates request spans. Default: the global provider.
	Tracer trace.Tracer

	// Version information reported by the version endpoint.
	Version   string
	Commit    string
	BuildTime string
}

// Server is the turnstile HTTP API server.
type Server struct {
	config       config.ServerConfig
	gateway      Gateway
	events       EventQuerier
	queryConfig  config.QueryConfig
	exportConfig config.ExportConfig
	health       *health.Checker
	healthPaths  health.Paths
	metrics      *metrics.Collector
	metricsPath  string
	tracer       trace.Tracer
	auth         *callerAuth
	version      [3]string
	logger       *slog.Logger

	httpServer *http.Server
	mu         sync.RWMutex
	isRunning  bool
}

// New creates a server.
func New(opts Options) (*Server, error) {
	if opts.Gateway == nil {
		return nil, errors.New("server: gateway is required")
	}
	if opts.MetricsPath == "" {
		opts.MetricsPath = config.DefaultMetricsPath
	}
	logger := slog.Default().With("component", "server")

	var auth *callerAuth
	if opts.Config.Auth.Enabled {
		var err error
		auth, err = newCallerAuth(opts.Config.Auth, os.LookupEnv, logger)
		if err != nil {
			return nil, fmt.Errorf("server: %w", err)
		}
	}

	return &Server{
		config:       opts.Config,
		gateway:      opts.Gateway,
		events:       opts.Events,
		queryConfig:  opts.Query,
		exportConfig: opts.Export,
		health:       opts.Health,
		healthPaths:  opts.HealthPaths,
		metrics:      opts.Metrics,
		metricsPath:  opts.MetricsPath,
		tracer:       opts.Tracer,
		auth:         auth,
		version:      [3]string{opts.Version, opts.Commit, opts.BuildTime},
		logger:       logger,
	}, nil
}

// Handler returns the routed handler with the middleware chain applied.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	s.route(mux, "POST", "/v1/admit", s.handleAdmit)
	s.route(mux, "GET", "/v1/tenants/{tenant}/usage", s.handleUsage)
	s.route(mux, "GET", "/v1/keys/{key}/rate", s.handleRateStatus)
	s.route(mux, "GET", "/v1/events", s.handleEvents)

	if s.metrics != nil {
		mux.Handle("GET "+s.metricsPath, s.metrics.Handler())
	}
	if s.health != nil {
		health.Register(mux, s.health, s.healthPaths, s.version[0], s.version[1], s.version[2])
	}

	var handler http.Handler = mux
	handler = RecoveryMiddleware(s.logger)(handler)
	handler = LoggingMiddleware(s.logger)(handler)
	handler = RequestIDMiddleware(handler)
	return handler
}

// route registers an API handler with tracing, caller authentication and
// per-route metrics.
func (s *Server) route(mux *http.ServeMux, method, pattern string, fn http.HandlerFunc) {
	var h http.Handler = fn
	h = tracing.HTTPMiddleware(s.tracer, h)
	if s.auth != nil {
		h = s.auth.Handle(h)
	}
	if s.metrics != nil {
		h = s.metrics.Instrument(pattern, h)
	}
	mux.Handle(method+" "+pattern, h)
}

// Start listens on the configured address and serves until ctx is cancelled
// or the listener fails. It then shuts down gracefully.
func (s *Server) Start(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.config.ListenAddress)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.config.ListenAddress, err)
	}
	return s.Serve(ctx, ln)
}

// Serve serves on ln until ctx is cancelled or serving fails.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	s.mu.Lock()
	if s.isRunning {
		s.mu.Unlock()
		return fmt.Errorf("server is already running")
	}
	s.httpServer = &http.Server{
		Handler:        s.Handler(),
		ReadTimeout:    s.config.ReadTimeout,
		WriteTimeout:   s.config.WriteTimeout,
		IdleTimeout:    s.config.IdleTimeout,
		MaxHeaderBytes: s.config.MaxHeaderBytes,
	}
	if s.config.TLS.Enabled {
		reloader := newCertReloader(s.config.TLS, s.logger)
		tlsConfig, err := buildTLSConfig(s.config.TLS, reloader)
		if err != nil {
			s.mu.Unlock()
			return fmt.Errorf("failed to configure TLS: %w", err)
		}
		s.httpServer.TLSConfig = tlsConfig
		go reloader.run(ctx)
	}
	s.isRunning = true
	srv := s.httpServer
	s.mu.Unlock()

	errChan := make(chan error, 1)
	go func() {
		s.logger.Info("starting API server",
			"address", ln.Addr().String(),
			"tls_enabled", s.config.TLS.Enabled,
			"auth_enabled", s.auth != nil,
		)

		var err error
		if s.config.TLS.Enabled {
			err = srv.ServeTLS(ln, "", "")
		} else {
			err = srv.Serve(ln)
		}
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			errChan <- fmt.Errorf("server error: %w", err)
		}
		close(errChan)
	}()

	select {
	case <-ctx.Done():
		s.logger.Info("context cancelled, initiating shutdown")
		return s.Shutdown(context.WithoutCancel(ctx))
	case err, ok := <-errChan:
		s.mu.Lock()
		s.isRunning = false
		s.mu.Unlock()
		if ok {
			return err
		}
		return nil
	}
}

// Shutdown gracefully stops the server within the shutdown timeout.
func (s *Server) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	if !s.isRunning {
		s.mu.Unlock()
		return nil
	}
	s.isRunning = false
	srv := s.httpServer
	s.mu.Unlock()

	s.logger.Info("initiating graceful shutdown", "timeout", s.config.ShutdownTimeout.String())

	if s.config.ShutdownTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.config.ShutdownTimeout)
		defer cancel()
	}

	if err := srv.Shutdown(ctx); err != nil {
		s.logger.Error("error during server shutdown", "error", err)
		return fmt.Errorf("server shutdown error: %w", err)
	}

	s.logger.Info("API server stopped")
	return nil
}

// IsRunning reports whether the server is serving.
func (s *Server) IsRunning() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.isRunning
}
