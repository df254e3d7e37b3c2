// Package circuit stops hammering a failing remote: after enough
// consecutive failures calls are rejected until a cool-down elapses, then a
// single trial call decides whether to close again.
package circuit

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"
)

// State represents the circuit breaker state
type State int

const (
	// StateClosed - calls pass through
	StateClosed State = iota
	// StateOpen - calls fail fast
	StateOpen
	// StateHalfOpen - one trial call is let through
	StateHalfOpen
)

// String returns string representation of state
func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// MarshalText renders the state by name in JSON output
func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// Config holds circuit breaker configuration
type Config struct {
	// Threshold is the number of consecutive failures before opening
	Threshold int

	// Timeout is how long the circuit stays open before a trial call is allowed
	Timeout time.Duration

	// IsFailure decides whether an error counts against the breaker.
	// Defaults to every error except caller cancellation.
	IsFailure func(error) bool

	// OnStateChange is called, outside the breaker lock, after a transition
	OnStateChange func(from, to State)
}

// DefaultConfig returns default circuit breaker configuration
func DefaultConfig() Config {
	return Config{
		Threshold: 5,
		Timeout:   30 * time.Second,
	}
}

// Validate checks the configuration
func (c Config) Validate() error {
	if c.Threshold <= 0 {
		return fmt.Errorf("breaker threshold must be > 0")
	}
	if c.Timeout <= 0 {
		return fmt.Errorf("breaker timeout must be > 0")
	}
	return nil
}

// Breaker implements the circuit breaker pattern
type Breaker struct {
	mu sync.Mutex

	threshold     int
	timeout       time.Duration
	isFailure     func(error) bool
	onStateChange func(from, to State)
	now           func() time.Time

	state           State
	failures        int
	probing         bool
	lastFailure     time.Time
	lastStateChange time.Time

	totalCalls      int64
	totalFailures   int64
	totalRejections int64
}

// New creates a breaker. Zero-valued fields fall back to DefaultConfig.
func New(config Config) *Breaker {
	def := DefaultConfig()
	if config.Threshold <= 0 {
		config.Threshold = def.Threshold
	}
	if config.Timeout <= 0 {
		config.Timeout = def.Timeout
	}
	if config.IsFailure == nil {
		config.IsFailure = countsAsFailure
	}

	b := &Breaker{
		threshold:     config.Threshold,
		timeout:       config.Timeout,
		isFailure:     config.IsFailure,
		onStateChange: config.OnStateChange,
		now:           time.Now,
		state:         StateClosed,
	}
	b.lastStateChange = b.now()

	return b
}

func countsAsFailure(err error) bool {
	return !errors.Is(err, context.Canceled)
}

// Call runs fn unless the circuit is open. Rejected calls return an
// *OpenError without invoking fn.
func (b *Breaker) Call(ctx context.Context, fn func(context.Context) error) error {
	if err := b.before(); err != nil {
		return err
	}

	err := fn(ctx)
	b.after(err)

	return err
}

func (b *Breaker) before() error {
	b.mu.Lock()

	b.totalCalls++

	var change func()
	switch b.state {
	case StateOpen:
		elapsed := b.now().Sub(b.lastStateChange)
		if elapsed < b.timeout {
			b.totalRejections++
			err := &OpenError{
				Failures:   b.failures,
				RetryAfter: b.timeout - elapsed,
			}
			b.mu.Unlock()
			return err
		}
		change = b.setState(StateHalfOpen)
		b.probing = true

	case StateHalfOpen:
		if b.probing {
			b.totalRejections++
			err := &OpenError{Failures: b.failures}
			b.mu.Unlock()
			return err
		}
		b.probing = true
	}

	b.mu.Unlock()
	if change != nil {
		change()
	}
	return nil
}

func (b *Breaker) after(err error) {
	b.mu.Lock()

	var change func()
	wasTrial := b.state == StateHalfOpen
	if wasTrial {
		b.probing = false
	}

	switch {
	case err == nil:
		b.failures = 0
		if wasTrial {
			change = b.setState(StateClosed)
		}

	case b.isFailure(err):
		b.totalFailures++
		b.failures++
		b.lastFailure = b.now()
		if wasTrial || b.failures >= b.threshold {
			change = b.setState(StateOpen)
		}
	}

	b.mu.Unlock()
	if change != nil {
		change()
	}
}

// setState must be called with the lock held. The returned func, if any,
// fires the callback and must be run after unlocking.
func (b *Breaker) setState(to State) func() {
	from := b.state
	if from == to {
		return nil
	}

	b.state = to
	b.lastStateChange = b.now()

	if b.onStateChange == nil {
		return nil
	}
	cb := b.onStateChange
	return func() { cb(from, to) }
}

// State returns the current state
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// Reset closes the circuit and clears the failure count
func (b *Breaker) Reset() {
	b.mu.Lock()
	change := b.setState(StateClosed)
	b.failures = 0
	b.probing = false
	b.mu.Unlock()

	if change != nil {
		change()
	}
}

// Stats is a point-in-time view of the breaker
type Stats struct {
	State           State     `json:"state"`
	Failures        int       `json:"consecutive_failures"`
	TotalCalls      int64     `json:"total_calls"`
	TotalFailures   int64     `json:"total_failures"`
	TotalRejections int64     `json:"total_rejections"`
	LastFailure     time.Time `json:"last_failure,omitzero"`
	LastStateChange time.Time `json:"last_state_change"`
}

// Stats returns breaker statistics
func (b *Breaker) Stats() Stats {
	b.mu.Lock()
	defer b.mu.Unlock()

	return Stats{
		State:           b.state,
		Failures:        b.failures,
		TotalCalls:      b.totalCalls,
		TotalFailures:   b.totalFailures,
		TotalRejections: b.totalRejections,
		LastFailure:     b.lastFailure,
		LastStateChange: b.lastStateChange,
	}
}

// OpenError is returned for calls rejected by an open circuit
type OpenError struct {
	Failures   int
	RetryAfter time.Duration
}

// Error implements the error interface
func (e *OpenError) Error() string {
	if e.RetryAfter > 0 {
		return fmt.Sprintf("circuit breaker is open after %d consecutive failures, retry in %s",
			e.Failures, e.RetryAfter.Round(time.Second))
	}
	return fmt.Sprintf("circuit breaker is open after %d consecutive failures", e.Failures)
}

// IsOpen checks if err, or anything it wraps, is an OpenError
func IsOpen(err error) bool {
	var openErr *OpenError
	return errors.As(err, &openErr)
}
