// Package server exposes the config cache over REST.
package server

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/OrlandoBitencourt/whydah/internal/cache"
	"github.com/OrlandoBitencourt/whydah/internal/domain"
	"github.com/OrlandoBitencourt/whydah/internal/query"
	"github.com/OrlandoBitencourt/whydah/internal/storage"
	"github.com/OrlandoBitencourt/whydah/internal/telemetry"
)

const (
	defaultAddr            = ":5000"
	defaultMaxBodyBytes    = 64 << 10
	defaultWebhookMaxBytes = 10 << 20
	shutdownTimeout        = 10 * time.Second
)

// ConfigCache is what the server needs from the cache manager
type ConfigCache interface {
	Lookup(service string) (domain.ServiceConfig, uint64, bool)
	Services() []string
	UpdateConfig(service, setting, property string, value any) bool
	RefreshConfigs(ctx context.Context) error
	Stats() cache.Stats
	Healthy() bool
}

// Server serves the REST API
type Server struct {
	cache     ConfigCache
	render    *storage.RenderCache
	filter    *query.Filter
	telemetry *telemetry.Telemetry
	logger    *slog.Logger

	addr           string
	maxBodyBytes   int64
	webhookSecret  string
	webhookBranch  string
	webhookMaxBody int64
}

// Option configures the Server
type Option func(*Server)

// WithAddr sets the listen address
func WithAddr(addr string) Option {
	return func(s *Server) {
		s.addr = addr
	}
}

// WithRenderCache caches encoded service configs between reads
func WithRenderCache(r *storage.RenderCache) Option {
	return func(s *Server) {
		s.render = r
	}
}

// WithTelemetry sets the metrics and tracing sink
func WithTelemetry(t *telemetry.Telemetry) Option {
	return func(s *Server) {
		s.telemetry = t
	}
}

// WithLogger sets the logger
func WithLogger(logger *slog.Logger) Option {
	return func(s *Server) {
		s.logger = logger
	}
}

// WithWebhookSecret requires a valid X-Hub-Signature-256 on webhook calls
func WithWebhookSecret(secret string) Option {
	return func(s *Server) {
		s.webhookSecret = secret
	}
}

// WithWebhookBranch limits webhook refreshes to pushes on branch
func WithWebhookBranch(branch string) Option {
	return func(s *Server) {
		s.webhookBranch = branch
	}
}

// WithMaxBodyBytes caps update request bodies
func WithMaxBodyBytes(n int64) Option {
	return func(s *Server) {
		s.maxBodyBytes = n
	}
}

// New creates a server backed by c
func New(c ConfigCache, opts ...Option) *Server {
	s := &Server{
		cache:          c,
		filter:         query.New(),
		addr:           defaultAddr,
		maxBodyBytes:   defaultMaxBodyBytes,
		webhookMaxBody: defaultWebhookMaxBytes,
	}

	for _, opt := range opts {
		opt(s)
	}

	if s.logger == nil {
		s.logger = slog.Default()
	}
	if s.telemetry == nil {
		s.telemetry = telemetry.NewNoop()
	}

	return s
}

// Handler returns the routed and instrumented handler
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /config", s.handleListServices)
	mux.HandleFunc("GET /config/{service}", s.handleGetConfig)
	mux.HandleFunc("POST /config/refresh", s.handleRefresh)
	mux.HandleFunc("POST /config/{service}/{setting}", s.handleUpdateValue)
	mux.HandleFunc("POST /config/{service}/{setting}/{property}", s.handleUpdateProperty)

	mux.HandleFunc("GET /health", s.handleHealth)
	mux.HandleFunc("GET /admin/stats", s.handleStats)
	mux.HandleFunc("POST /webhook", s.handleWebhook)

	mux.HandleFunc("/", s.handleNotFound)

	return s.requestID(s.instrument(s.recoverer(mux)))
}

// ListenAndServe serves until ctx is done, then shuts down gracefully
func (s *Server) ListenAndServe(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("http server listening", "addr", s.addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err

	case <-ctx.Done():
		s.logger.Info("shutting down http server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	}
}
