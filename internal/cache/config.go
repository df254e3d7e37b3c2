package cache

import (
	"fmt"
	"time"
)

// Config holds cache manager configuration
type Config struct {
	// Repository
	RepoURL string
	Token   string
	Branch  string
	Depth   int

	// WorkDir is where the repository is cloned. When empty a temporary
	// directory is created and removed again on Close.
	WorkDir string

	// Fetch bounds
	InitialTimeout time.Duration
	RefreshTimeout time.Duration

	// Circuit breaker guarding refreshes
	CircuitBreakerThreshold int
	CircuitBreakerTimeout   time.Duration
}

// DefaultConfig returns default configuration
func DefaultConfig() Config {
	return Config{
		InitialTimeout:          60 * time.Second,
		RefreshTimeout:          30 * time.Second,
		CircuitBreakerThreshold: 5,
		CircuitBreakerTimeout:   30 * time.Second,
	}
}

// Validate validates the configuration
func (c Config) Validate() error {
	if c.InitialTimeout <= 0 {
		return fmt.Errorf("initial timeout must be positive")
	}

	if c.RefreshTimeout <= 0 {
		return fmt.Errorf("refresh timeout must be positive")
	}

	if c.Depth < 0 {
		return fmt.Errorf("clone depth must be >= 0")
	}

	if c.CircuitBreakerThreshold < 1 {
		return fmt.Errorf("circuit breaker threshold must be at least 1")
	}

	if c.CircuitBreakerTimeout <= 0 {
		return fmt.Errorf("circuit breaker timeout must be positive")
	}

	return nil
}
