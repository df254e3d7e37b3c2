// Package storage holds encoded service configs so repeated reads of an
// unchanged service skip JSON encoding.
package storage

import (
	"fmt"
	"strconv"

	"github.com/dgraph-io/ristretto"
)

// Config holds render cache configuration
type Config struct {
	// Memory limits
	MaxCost     int64 // Maximum total size of cached bodies in bytes
	NumCounters int64 // Number of counters for admission policy
	BufferItems int64 // Number of keys per buffer

	// Metrics
	MetricsEnabled bool
}

// DefaultConfig returns default render cache configuration
func DefaultConfig() Config {
	return Config{
		MaxCost:        64 << 20, // 64MB
		NumCounters:    100_000,
		BufferItems:    64,
		MetricsEnabled: true,
	}
}

// Validate checks the configuration
func (c Config) Validate() error {
	if c.MaxCost <= 0 {
		return fmt.Errorf("max cost must be > 0")
	}
	if c.NumCounters <= 0 {
		return fmt.Errorf("num counters must be > 0")
	}
	if c.BufferItems <= 0 {
		return fmt.Errorf("buffer items must be > 0")
	}
	return nil
}

// Metrics represents render cache metrics
type Metrics struct {
	Hits         uint64  `json:"hits"`
	Misses       uint64  `json:"misses"`
	KeysAdded    uint64  `json:"keys_added"`
	KeysEvicted  uint64  `json:"keys_evicted"`
	CostAdded    uint64  `json:"cost_added"`
	CostEvicted  uint64  `json:"cost_evicted"`
	SetsDropped  uint64  `json:"sets_dropped"`
	SetsRejected uint64  `json:"sets_rejected"`
	HitRatio     float64 `json:"hit_ratio"`
}

// RenderCache maps (generation, service) to the encoded JSON body of that
// service's config. A generation identifies one state of the config cache,
// so entries never need invalidating: a new generation simply misses and
// old ones age out under cost pressure.
type RenderCache struct {
	cache   *ristretto.Cache
	metrics bool
}

// NewRenderCache creates a render cache
func NewRenderCache(cfg Config) (*RenderCache, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid render cache config: %w", err)
	}

	cache, err := ristretto.NewCache(&ristretto.Config{
		NumCounters:        cfg.NumCounters,
		MaxCost:            cfg.MaxCost,
		BufferItems:        cfg.BufferItems,
		Metrics:            cfg.MetricsEnabled,
		IgnoreInternalCost: true,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create ristretto cache: %w", err)
	}

	return &RenderCache{
		cache:   cache,
		metrics: cfg.MetricsEnabled,
	}, nil
}

// Key builds the cache key for a service at a generation
func Key(generation uint64, service string) string {
	return strconv.FormatUint(generation, 10) + "/" + service
}

// Get returns the cached body, if present
func (r *RenderCache) Get(generation uint64, service string) ([]byte, bool) {
	value, found := r.cache.Get(Key(generation, service))
	if !found {
		return nil, false
	}

	body, ok := value.([]byte)
	return body, ok
}

// Set stores a body. Writes are buffered: a following Get may still miss
// until Wait is called. Returns false if the write was dropped.
func (r *RenderCache) Set(generation uint64, service string, body []byte) bool {
	return r.cache.Set(Key(generation, service), body, int64(len(body)))
}

// Wait blocks until buffered writes have been applied
func (r *RenderCache) Wait() {
	r.cache.Wait()
}

// Clear drops every entry
func (r *RenderCache) Clear() {
	r.cache.Clear()
}

// Metrics returns cache metrics. All counters are zero when metrics are
// disabled.
func (r *RenderCache) Metrics() Metrics {
	if !r.metrics || r.cache.Metrics == nil {
		return Metrics{}
	}

	m := r.cache.Metrics
	return Metrics{
		Hits:         m.Hits(),
		Misses:       m.Misses(),
		KeysAdded:    m.KeysAdded(),
		KeysEvicted:  m.KeysEvicted(),
		CostAdded:    m.CostAdded(),
		CostEvicted:  m.CostEvicted(),
		SetsDropped:  m.SetsDropped(),
		SetsRejected: m.SetsRejected(),
		HitRatio:     m.Ratio(),
	}
}

// Close releases the cache
func (r *RenderCache) Close() {
	r.cache.Close()
}
