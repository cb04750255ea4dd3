// Package refresh decides when the local flag store is stale and reloads it
// from the flag service.
package refresh

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/OrlandoBitencourt/pennant/internal/circuit"
	"github.com/OrlandoBitencourt/pennant/internal/domain"
	"github.com/OrlandoBitencourt/pennant/internal/fetcher"
	"github.com/OrlandoBitencourt/pennant/internal/logging"
	"github.com/OrlandoBitencourt/pennant/internal/storage"
	"github.com/OrlandoBitencourt/pennant/internal/telemetry"
)

var (
	ErrNilFetcher = errors.New("refresh: fetcher is required")
	ErrNilStore   = errors.New("refresh: store is required")
)

// Config holds scheduler configuration
type Config struct {
	// PollInterval is how long a successful refresh stays fresh.
	PollInterval time.Duration

	// FetchTimeout bounds a single refresh started from the background loop
	// or shared by concurrent RefreshIfStale callers.
	FetchTimeout time.Duration

	// Breaker guards fetches. A nil breaker lets every fetch through.
	Breaker *circuit.Breaker

	Logger    *slog.Logger
	Telemetry telemetry.Provider
}

// DefaultConfig returns default scheduler configuration
func DefaultConfig() Config {
	return Config{
		PollInterval: 60 * time.Second,
		FetchTimeout: 30 * time.Second,
	}
}

// Hook runs after every successful refresh with the flags that were stored.
type Hook func(ctx context.Context, flags map[string]domain.Flag)

// Scheduler owns the store expiry.
type Scheduler struct {
	fetcher fetcher.Fetcher
	store   storage.Storage
	config  Config
	logger  *slog.Logger
	tel     telemetry.Provider
	now     func() time.Time
	flight  singleflight.Group

	mu               sync.Mutex
	expiry           time.Time
	lastRefresh      time.Time
	consecutiveFails int
	refreshes        uint64
	hooks            []Hook
}

// New creates a scheduler. The store starts out stale.
func New(f fetcher.Fetcher, store storage.Storage, config Config) (*Scheduler, error) {
	if f == nil {
		return nil, ErrNilFetcher
	}
	if store == nil {
		return nil, ErrNilStore
	}

	def := DefaultConfig()
	if config.PollInterval <= 0 {
		return nil, fmt.Errorf("refresh: poll interval must be positive, got %s", config.PollInterval)
	}
	if config.FetchTimeout <= 0 {
		config.FetchTimeout = def.FetchTimeout
	}
	if config.Logger == nil {
		config.Logger = slog.Default()
	}
	if config.Telemetry == nil {
		config.Telemetry = telemetry.NewNoOp()
	}

	return &Scheduler{
		fetcher: f,
		store:   store,
		config:  config,
		logger:  config.Logger.With(logging.Component("refresh")),
		tel:     config.Telemetry,
		now:     time.Now,
	}, nil
}

// OnRefresh registers a hook. Hooks must not block for long; they run on the
// refreshing goroutine.
func (s *Scheduler) OnRefresh(h Hook) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.hooks = append(s.hooks, h)
}

// Expiry returns the instant after which the store is considered stale.
func (s *Scheduler) Expiry() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.expiry
}

// IsStale reports whether now is past the expiry.
func (s *Scheduler) IsStale(now time.Time) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return now.After(s.expiry)
}

// Refresh fetches the full flag set and replaces the store contents. On
// failure the store and expiry are left untouched.
func (s *Scheduler) Refresh(ctx context.Context) error {
	ctx, span := s.tel.StartSpan(ctx, "pennant.refresh")
	defer span.End()

	start := s.now()

	var flags map[string]domain.Flag
	fetch := func(ctx context.Context) error {
		var err error
		flags, err = s.fetcher.FetchAll(ctx)
		return err
	}

	var err error
	if s.config.Breaker != nil {
		err = s.config.Breaker.Call(ctx, fetch)
		s.tel.RecordCircuitState(ctx, s.config.Breaker.GetState().String())
	} else {
		err = fetch(ctx)
	}

	if err == nil {
		if initErr := s.store.Init(ctx, flags); initErr != nil {
			err = domain.NewStoreError("init", "", initErr)
		}
	}

	duration := s.now().Sub(start)

	if err != nil {
		s.recordFailure()
		span.RecordError(err)
		s.tel.RecordRefresh(ctx, false, duration, 0)
		if !domain.IsFetchError(err) {
			err = domain.NewFetchError("", err)
		}
		return err
	}

	hooks := s.recordSuccess()
	span.SetAttributes(telemetry.Int("flags", len(flags)))
	s.tel.RecordRefresh(ctx, true, duration, len(flags))
	s.logger.Debug("flags refreshed",
		logging.Count(len(flags)),
		logging.Duration(duration),
	)

	for _, h := range hooks {
		h(ctx, flags)
	}

	return nil
}

// RefreshIfStale refreshes when the store is stale. Concurrent callers that
// observe the same stale window share one fetch. refreshed is true only when
// a fetch ran and succeeded.
//
// The shared fetch is detached from the caller that started it and bounded by
// FetchTimeout. A caller whose ctx ends stops waiting; the fetch continues
// for the others.
func (s *Scheduler) RefreshIfStale(ctx context.Context) (refreshed bool, err error) {
	if !s.IsStale(s.now()) {
		return false, nil
	}

	ch := s.flight.DoChan("refresh", func() (any, error) {
		// Another flight may have finished between the check and the call.
		if !s.IsStale(s.now()) {
			return false, nil
		}

		flightCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.config.FetchTimeout)
		defer cancel()

		if err := s.Refresh(flightCtx); err != nil {
			return false, err
		}
		return true, nil
	})

	select {
	case <-ctx.Done():
		return false, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return false, res.Err
		}
		return res.Val.(bool), nil
	}
}

// Run refreshes every PollInterval until ctx is done. Failures are logged.
func (s *Scheduler) Run(ctx context.Context) {
	ticker := time.NewTicker(s.config.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return

		case <-ticker.C:
			refreshCtx, cancel := context.WithTimeout(ctx, s.config.FetchTimeout)
			if err := s.Refresh(refreshCtx); err != nil && !errors.Is(err, context.Canceled) {
				s.logger.Warn("background refresh failed", logging.Error(err))
			}
			cancel()
		}
	}
}

func (s *Scheduler) recordSuccess() []Hook {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	if candidate := now.Add(s.config.PollInterval); candidate.After(s.expiry) {
		s.expiry = candidate
	}
	s.lastRefresh = now
	s.consecutiveFails = 0
	s.refreshes++

	return append([]Hook(nil), s.hooks...)
}

func (s *Scheduler) recordFailure() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.consecutiveFails++
}

// Stats returns scheduler state for metrics endpoints.
func (s *Scheduler) Stats() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()

	stats := Stats{
		Expiry:           s.expiry,
		LastRefresh:      s.lastRefresh,
		ConsecutiveFails: s.consecutiveFails,
		Refreshes:        s.refreshes,
		CircuitState:     "disabled",
	}
	if s.config.Breaker != nil {
		stats.CircuitState = s.config.Breaker.GetState().String()
	}
	return stats
}

// Stats represents scheduler state
type Stats struct {
	Expiry           time.Time `json:"expiry"`
	LastRefresh      time.Time `json:"last_refresh"`
	ConsecutiveFails int       `json:"consecutive_fails"`
	Refreshes        uint64    `json:"refreshes"`
	CircuitState     string    `json:"circuit_state"`
}
