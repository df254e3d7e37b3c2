package cache

import (
	"log/slog"

	"github.com/OrlandoBitencourt/whydah/internal/repository"
	"github.com/OrlandoBitencourt/whydah/internal/telemetry"
)

// Option configures the Manager
type Option func(*Manager)

// WithConfig sets the full configuration
func WithConfig(config Config) Option {
	return func(m *Manager) {
		m.config = config
	}
}

// WithRepository sets the repository URL and access token
func WithRepository(url, token string) Option {
	return func(m *Manager) {
		m.config.RepoURL = url
		m.config.Token = token
	}
}

// WithWorkDir clones into dir instead of a temporary directory
func WithWorkDir(dir string) Option {
	return func(m *Manager) {
		m.config.WorkDir = dir
	}
}

// WithFetcher replaces the Git fetcher built from the repository settings
func WithFetcher(fetcher repository.Fetcher) Option {
	return func(m *Manager) {
		m.fetcher = fetcher
	}
}

// WithTelemetry sets the metrics and tracing sink
func WithTelemetry(t *telemetry.Telemetry) Option {
	return func(m *Manager) {
		m.telemetry = t
	}
}

// WithLogger sets the logger
func WithLogger(logger *slog.Logger) Option {
	return func(m *Manager) {
		m.logger = logger
	}
}
