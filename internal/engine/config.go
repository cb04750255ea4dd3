package engine

import (
	"fmt"
	"time"
)

// Config holds engine configuration
type Config struct {
	// InitialTimeout bounds the fetch performed by Start.
	InitialTimeout time.Duration

	// FetchTimeout bounds an inline refresh on the evaluation path.
	FetchTimeout time.Duration

	// Offline returns defaults without fetching or recording events.
	Offline bool

	// BackgroundRefresh runs the scheduler loop in addition to inline refreshes.
	BackgroundRefresh bool

	// Defaults override the caller's default for specific flag keys.
	Defaults map[string]any
}

// DefaultConfig returns default configuration
func DefaultConfig() Config {
	return Config{
		InitialTimeout: 10 * time.Second,
		FetchTimeout:   5 * time.Second,
	}
}

// Validate validates the configuration
func (c Config) Validate() error {
	if c.InitialTimeout <= 0 {
		return fmt.Errorf("initial timeout must be positive")
	}
	if c.FetchTimeout <= 0 {
		return fmt.Errorf("fetch timeout must be positive")
	}
	return nil
}
