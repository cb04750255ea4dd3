// Package circuit implements the breaker that guards flag fetches.
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
	// StateClosed - fetches pass through
	StateClosed State = iota
	// StateOpen - fetches fail fast
	StateOpen
	// StateHalfOpen - probing whether the flag service recovered
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

// Config holds circuit breaker configuration
type Config struct {
	// MaxFailures is the number of consecutive failures before opening
	MaxFailures int

	// Timeout is how long the circuit stays open before a probe is allowed
	Timeout time.Duration

	// SuccessThreshold is the number of half-open successes needed to close
	SuccessThreshold int

	// IsFailure decides whether an error counts against the breaker.
	// Context cancellation never counts.
	IsFailure func(error) bool

	// OnStateChange is called asynchronously when state changes
	OnStateChange func(from, to State)
}

// DefaultConfig returns default circuit breaker configuration
func DefaultConfig() Config {
	return Config{
		MaxFailures:      3,
		Timeout:          30 * time.Second,
		SuccessThreshold: 1,
	}
}

// Breaker implements the circuit breaker pattern
type Breaker struct {
	mu sync.Mutex

	maxFailures      int
	timeout          time.Duration
	successThreshold int
	isFailure        func(error) bool
	onStateChange    func(from, to State)
	now              func() time.Time

	state           State
	failures        int
	successes       int
	probing         bool
	lastFailureTime time.Time
	lastStateChange time.Time

	totalRequests   int64
	totalSuccesses  int64
	totalFailures   int64
	totalRejections int64
}

// New creates a new circuit breaker
func New(config Config) *Breaker {
	def := DefaultConfig()
	if config.MaxFailures <= 0 {
		config.MaxFailures = def.MaxFailures
	}
	if config.Timeout <= 0 {
		config.Timeout = def.Timeout
	}
	if config.SuccessThreshold <= 0 {
		config.SuccessThreshold = def.SuccessThreshold
	}

	b := &Breaker{
		maxFailures:      config.MaxFailures,
		timeout:          config.Timeout,
		successThreshold: config.SuccessThreshold,
		isFailure:        config.IsFailure,
		onStateChange:    config.OnStateChange,
		now:              time.Now,
		state:            StateClosed,
	}
	b.lastStateChange = b.now()
	return b
}

// Call runs fn unless the circuit is open. Only one probe runs at a time
// while half-open; concurrent callers are rejected until it finishes.
func (b *Breaker) Call(ctx context.Context, fn func(ctx context.Context) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	probe, err := b.beforeCall()
	if err != nil {
		return err
	}

	err = fn(ctx)
	b.afterCall(err, probe)
	return err
}

func (b *Breaker) beforeCall() (probe bool, err error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.totalRequests++

	switch b.state {
	case StateClosed:
		return false, nil

	case StateOpen:
		if b.now().Sub(b.lastStateChange) >= b.timeout {
			b.setState(StateHalfOpen)
			b.probing = true
			return true, nil
		}
		b.totalRejections++
		return false, b.openError()

	case StateHalfOpen:
		if b.probing {
			b.totalRejections++
			return false, b.openError()
		}
		b.probing = true
		return true, nil

	default:
		return false, fmt.Errorf("unknown circuit breaker state: %d", b.state)
	}
}

func (b *Breaker) openError() error {
	return &CircuitOpenError{
		State:           b.state,
		Failures:        b.failures,
		LastFailureTime: b.lastFailureTime,
	}
}

func (b *Breaker) counts(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) {
		return false
	}
	if b.isFailure != nil {
		return b.isFailure(err)
	}
	return true
}

func (b *Breaker) afterCall(err error, probe bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if probe {
		b.probing = false
	}

	switch {
	case err == nil:
		b.onSuccess()
	case b.counts(err):
		b.onFailure()
	}
}

func (b *Breaker) onSuccess() {
	b.totalSuccesses++
	b.failures = 0

	switch b.state {
	case StateHalfOpen:
		b.successes++
		if b.successes >= b.successThreshold {
			b.setState(StateClosed)
			b.successes = 0
		}
	case StateOpen:
		b.setState(StateClosed)
	}
}

func (b *Breaker) onFailure() {
	b.totalFailures++
	b.failures++
	b.lastFailureTime = b.now()

	switch b.state {
	case StateClosed:
		if b.failures >= b.maxFailures {
			b.setState(StateOpen)
		}
	case StateHalfOpen:
		// any failure while probing reopens
		b.setState(StateOpen)
		b.successes = 0
	}
}

func (b *Breaker) setState(newState State) {
	oldState := b.state
	if oldState == newState {
		return
	}

	b.state = newState
	b.lastStateChange = b.now()

	if b.onStateChange != nil {
		go b.onStateChange(oldState, newState)
	}
}

// GetState returns the current state
func (b *Breaker) GetState() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// Reset resets the circuit breaker to closed state
func (b *Breaker) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.setState(StateClosed)
	b.failures = 0
	b.successes = 0
	b.probing = false
}

// GetStats returns circuit breaker statistics
func (b *Breaker) GetStats() Stats {
	b.mu.Lock()
	defer b.mu.Unlock()

	return Stats{
		State:           b.state,
		StateName:       b.state.String(),
		Failures:        b.failures,
		Successes:       b.successes,
		TotalRequests:   b.totalRequests,
		TotalSuccesses:  b.totalSuccesses,
		TotalFailures:   b.totalFailures,
		TotalRejections: b.totalRejections,
		LastFailureTime: b.lastFailureTime,
		LastStateChange: b.lastStateChange,
	}
}

// Stats represents circuit breaker statistics
type Stats struct {
	State           State     `json:"-"`
	StateName       string    `json:"state"`
	Failures        int       `json:"failures"`
	Successes       int       `json:"successes"`
	TotalRequests   int64     `json:"total_requests"`
	TotalSuccesses  int64     `json:"total_successes"`
	TotalFailures   int64     `json:"total_failures"`
	TotalRejections int64     `json:"total_rejections"`
	LastFailureTime time.Time `json:"last_failure_time"`
	LastStateChange time.Time `json:"last_state_change"`
}

// CircuitOpenError is returned when the circuit is open
type CircuitOpenError struct {
	State           State
	Failures        int
	LastFailureTime time.Time
}

// Error implements the error interface
func (e *CircuitOpenError) Error() string {
	return fmt.Sprintf("circuit breaker is %s (failures: %d, last failure: %s)",
		e.State.String(), e.Failures, e.LastFailureTime.Format(time.RFC3339))
}

// IsCircuitOpen checks if error is a circuit open error
func IsCircuitOpen(err error) bool {
	var target *CircuitOpenError
	return errors.As(err, &target)
}
