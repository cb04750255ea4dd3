// Package storage holds the flag stores the engine reads from. Every store
// replaces its full contents atomically on Init and serves concurrent Get
// calls while doing so.
package storage

import (
	"context"
	"errors"
	"time"

	"github.com/OrlandoBitencourt/pennant/internal/domain"
)

// ErrClosed is returned by stores that have been closed.
var ErrClosed = errors.New("storage closed")

// Storage defines the interface for flag storage
type Storage interface {
	// Init replaces the entire flag set. Readers observe either the old set
	// or the new one, never a mix.
	Init(ctx context.Context, flags map[string]domain.Flag) error

	// Get retrieves a flag by key. found is false for unknown and deleted flags.
	Get(ctx context.Context, key string) (flag *domain.Flag, found bool, err error)

	// All returns every live flag.
	All(ctx context.Context) (map[string]domain.Flag, error)

	// Initialized reports whether Init has completed at least once.
	Initialized() bool

	// Metrics returns storage metrics
	Metrics() Metrics

	// Close closes the storage
	Close() error
}

// Metrics represents storage metrics
type Metrics struct {
	Backend string `json:"backend"`

	// Size is the number of flags held after the last Init.
	Size int64 `json:"size"`

	Inits    uint64    `json:"inits"`
	Hits     uint64    `json:"hits"`
	Misses   uint64    `json:"misses"`
	Errors   uint64    `json:"errors"`
	LastInit time.Time `json:"last_init"`

	// Read-through cache statistics; zero for stores without one.
	CacheHitRatio float64 `json:"cache_hit_ratio,omitempty"`
	CacheEvicted  uint64  `json:"cache_evicted,omitempty"`
}

// Config holds read-through cache configuration for durable backends.
type Config struct {
	MaxCost     int64 // Maximum number of cached flags
	NumCounters int64 // Number of counters for admission policy
	BufferItems int64 // Number of keys per buffer

	// TTL bounds how long a cached read may outlive a write made by another process.
	TTL time.Duration

	MetricsEnabled bool
}

// DefaultConfig returns default storage configuration
func DefaultConfig() Config {
	return Config{
		MaxCost:        10_000,
		NumCounters:    100_000,
		BufferItems:    64,
		TTL:            15 * time.Second,
		MetricsEnabled: true,
	}
}

func live(flags map[string]domain.Flag) map[string]domain.Flag {
	out := make(map[string]domain.Flag, len(flags))
	for k, f := range flags {
		if f.Deleted {
			continue
		}
		if f.Key == "" {
			f.Key = k
		}
		out[k] = f
	}
	return out
}
