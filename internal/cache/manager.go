// Package cache owns the in-memory config cache: initial population from the
// repository, caller-triggered refreshes, point reads and point updates.
package cache

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/go-git/go-billy/v5/osfs"
	platformerrors "github.com/jmgilman/go/errors"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/singleflight"

	"github.com/OrlandoBitencourt/whydah/internal/circuit"
	"github.com/OrlandoBitencourt/whydah/internal/domain"
	"github.com/OrlandoBitencourt/whydah/internal/loader"
	"github.com/OrlandoBitencourt/whydah/internal/repository"
	"github.com/OrlandoBitencourt/whydah/internal/telemetry"
)

// Manager coordinates the fetcher, the loader and the cached snapshot.
//
// Reads take the read lock and return copies. Updates and the refresh swap
// take the write lock. Network I/O and directory loading happen outside the
// lock, so reads are never held up by a slow remote.
type Manager struct {
	// Dependencies (injected)
	fetcher   repository.Fetcher
	telemetry *telemetry.Telemetry
	logger    *slog.Logger

	// Configuration
	config Config

	breaker *circuit.Breaker
	group   singleflight.Group

	workDir     string
	ownsWorkDir bool
	loader      *loader.Loader

	// Cache state
	mu          sync.RWMutex
	configs     domain.Snapshot
	generation  uint64
	lastRefresh time.Time
	lastError   error
	refreshes   int64
	failures    int64
	updates     int64
	closed      bool
}

// New creates a manager. The cache stays empty until Start.
func New(opts ...Option) (*Manager, error) {
	m := &Manager{
		config:  DefaultConfig(),
		configs: make(domain.Snapshot),
	}

	for _, opt := range opts {
		opt(m)
	}

	if m.logger == nil {
		m.logger = slog.Default()
	}
	if m.telemetry == nil {
		m.telemetry = telemetry.NewNoop()
	}

	if err := m.config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	if m.fetcher == nil {
		fetcher, err := repository.NewGitFetcher(m.config.RepoURL,
			repository.WithToken(m.config.Token),
			repository.WithDepth(m.config.Depth),
			repository.WithBranch(m.config.Branch),
			repository.WithLogger(m.logger),
		)
		if err != nil {
			return nil, err
		}
		m.fetcher = fetcher
	}

	m.breaker = circuit.New(circuit.Config{
		Threshold:     m.config.CircuitBreakerThreshold,
		Timeout:       m.config.CircuitBreakerTimeout,
		OnStateChange: m.onCircuitChange,
	})

	return m, nil
}

// Start checks repository access, clones it and populates the cache. It
// blocks for at most InitialTimeout. A failure here is fatal for the service.
func (m *Manager) Start(ctx context.Context) error {
	if err := m.prepareWorkDir(); err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(ctx, m.config.InitialTimeout)
	defer cancel()

	ctx, span := m.telemetry.Tracer().Start(ctx, "cache.start")
	defer span.End()

	start := time.Now()
	if err := m.fetcher.CheckAccess(ctx); err != nil {
		return m.startFailed(ctx, span, err)
	}

	fetch := m.fetcher.Clone
	if hasClone(m.workDir) {
		// A configured work dir may survive restarts
		fetch = m.fetcher.Pull
	}
	if err := fetch(ctx, m.workDir); err != nil {
		return m.startFailed(ctx, span, err)
	}

	n, err := m.reload(ctx)
	if err != nil {
		return m.startFailed(ctx, span, err)
	}

	duration := time.Since(start)
	m.telemetry.RecordRefresh(ctx, telemetry.OutcomeSuccess, duration)
	span.SetAttributes(attribute.Int("services", n))
	m.logger.Info("config cache populated", "services", n, "duration", duration)

	return nil
}

func (m *Manager) startFailed(ctx context.Context, span trace.Span, err error) error {
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
	m.telemetry.RecordRefresh(ctx, telemetry.OutcomeFailure, 0)
	m.recordFailure(err)
	return err
}

func (m *Manager) prepareWorkDir() error {
	if m.config.WorkDir == "" {
		dir, err := os.MkdirTemp("", "whydah-")
		if err != nil {
			return fmt.Errorf("failed to create working directory: %w", err)
		}
		m.workDir = dir
		m.ownsWorkDir = true
	} else {
		if err := os.MkdirAll(m.config.WorkDir, 0o755); err != nil {
			return fmt.Errorf("failed to create working directory: %w", err)
		}
		m.workDir = m.config.WorkDir
	}

	m.loader = loader.New(osfs.New(m.workDir), loader.WithLogger(m.logger))
	return nil
}

func hasClone(dir string) bool {
	_, err := os.Stat(filepath.Join(dir, ".git"))
	return err == nil
}

// GetConfig returns a copy of a service's config, or an empty config if the
// service is not cached.
func (m *Manager) GetConfig(service string) domain.ServiceConfig {
	cfg, _, _ := m.Lookup(service)
	return cfg
}

// Lookup is GetConfig that also reports whether the service is cached and
// the cache generation the copy was taken at.
func (m *Manager) Lookup(service string) (domain.ServiceConfig, uint64, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	cfg, ok := m.configs[service]
	if !ok {
		return domain.ServiceConfig{}, m.generation, false
	}
	return cfg.Clone(), m.generation, true
}

// Services returns the cached service names, sorted
func (m *Manager) Services() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()

	return m.configs.Services()
}

// RefreshConfigs pulls the repository and replaces the whole cache with a
// fresh load. Concurrent callers share a single pull. The caller's ctx only
// bounds how long it waits; the pull itself is bounded by RefreshTimeout so
// an impatient caller cannot abort it for everyone else.
func (m *Manager) RefreshConfigs(ctx context.Context) error {
	ch := m.group.DoChan("refresh", func() (interface{}, error) {
		return nil, m.refresh(context.WithoutCancel(ctx))
	})

	select {
	case res := <-ch:
		return res.Err
	case <-ctx.Done():
		return domain.NewFetchError("gave up waiting for refresh", ctx.Err())
	}
}

func (m *Manager) refresh(ctx context.Context) error {
	if m.loader == nil {
		return platformerrors.New(platformerrors.CodeUnavailable, "cache manager not started")
	}

	ctx, cancel := context.WithTimeout(ctx, m.config.RefreshTimeout)
	defer cancel()

	ctx, span := m.telemetry.Tracer().Start(ctx, "cache.refresh")
	defer span.End()

	start := time.Now()
	var loaded int

	err := m.breaker.Call(ctx, func(ctx context.Context) error {
		if err := m.fetcher.CheckAccess(ctx); err != nil {
			return err
		}
		if err := m.fetcher.Pull(ctx, m.workDir); err != nil {
			return err
		}

		n, err := m.reload(ctx)
		loaded = n
		return err
	})
	duration := time.Since(start)

	if err != nil {
		outcome := telemetry.OutcomeFailure
		switch {
		case circuit.IsOpen(err):
			outcome = telemetry.OutcomeRejected
			err = platformerrors.Wrap(err, platformerrors.CodeUnavailable, "refresh suspended after repeated failures")
		case platformerrors.GetCode(err) == platformerrors.CodeUnknown:
			err = domain.NewFetchError("refresh failed", err)
		}

		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		m.telemetry.RecordRefresh(ctx, outcome, duration)
		m.recordFailure(err)
		m.logger.Error("config refresh failed", "error", err, "outcome", outcome, "duration", duration)

		return err
	}

	span.SetAttributes(attribute.Int("services", loaded))
	m.telemetry.RecordRefresh(ctx, telemetry.OutcomeSuccess, duration)
	m.logger.Info("config cache refreshed", "services", loaded, "duration", duration)

	return nil
}

// reload loads the working directory and swaps the result in
func (m *Manager) reload(ctx context.Context) (int, error) {
	snapshot, report, err := m.loader.Load(ctx)
	if err != nil {
		return 0, err
	}

	for _, skip := range report.Failed() {
		m.telemetry.RecordLoadError(ctx, skip.Reason)
	}

	m.mu.Lock()
	m.configs = snapshot
	m.generation++
	m.lastRefresh = time.Now()
	m.lastError = nil
	m.refreshes++
	n := len(snapshot)
	m.mu.Unlock()

	m.telemetry.SetServiceCount(n)
	return n, nil
}

func (m *Manager) recordFailure(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.lastError = err
	m.failures++
}

// UpdateConfig sets one property of one cached setting. Only value, enabled
// and type may be set. Returns false, changing nothing, when the property is
// not one of those or the service or setting is not cached. The change lives
// in memory only and is lost on the next refresh.
func (m *Manager) UpdateConfig(service, setting, property string, value any) bool {
	applied := m.update(service, setting, property, value)

	outcome := telemetry.UpdateRejected
	if applied {
		outcome = telemetry.UpdateApplied
	}
	label := property
	if !domain.IsValidProperty(property) {
		label = telemetry.PropertyInvalid
	}
	m.telemetry.RecordUpdate(context.Background(), label, outcome)

	return applied
}

func (m *Manager) update(service, setting, property string, value any) bool {
	if !domain.IsValidProperty(property) {
		return false
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	cfg, ok := m.configs[service]
	if !ok {
		return false
	}
	s, ok := cfg[setting]
	if !ok {
		return false
	}

	s[property] = value
	m.generation++
	m.updates++

	return true
}

// Stats describes the cache and its refresh history
type Stats struct {
	Services         int           `json:"services"`
	Generation       uint64        `json:"generation"`
	LastRefresh      time.Time     `json:"last_refresh,omitzero"`
	LastRefreshError string        `json:"last_refresh_error,omitempty"`
	Refreshes        int64         `json:"refreshes"`
	RefreshFailures  int64         `json:"refresh_failures"`
	Updates          int64         `json:"updates"`
	Circuit          circuit.Stats `json:"circuit"`
}

// Stats returns current statistics
func (m *Manager) Stats() Stats {
	m.mu.RLock()
	defer m.mu.RUnlock()

	stats := Stats{
		Services:        len(m.configs),
		Generation:      m.generation,
		LastRefresh:     m.lastRefresh,
		Refreshes:       m.refreshes,
		RefreshFailures: m.failures,
		Updates:         m.updates,
		Circuit:         m.breaker.Stats(),
	}
	if m.lastError != nil {
		stats.LastRefreshError = m.lastError.Error()
	}

	return stats
}

// Healthy reports whether the last refresh succeeded and refreshes are
// being attempted
func (m *Manager) Healthy() bool {
	m.mu.RLock()
	failed := m.lastError != nil
	m.mu.RUnlock()

	return !failed && m.breaker.State() == circuit.StateClosed
}

// WorkDir returns the directory holding the clone
func (m *Manager) WorkDir() string {
	return m.workDir
}

// Close removes the working directory if the manager created it
func (m *Manager) Close() error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil
	}
	m.closed = true
	m.mu.Unlock()

	if !m.ownsWorkDir || m.workDir == "" {
		return nil
	}
	if err := os.RemoveAll(m.workDir); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("failed to remove working directory: %w", err)
	}
	return nil
}

func (m *Manager) onCircuitChange(from, to circuit.State) {
	m.telemetry.SetCircuitState(int(to))
	m.logger.Warn("refresh circuit breaker state changed", "from", from.String(), "to", to.String())
}
