package engine

import (
	"log/slog"

	"github.com/OrlandoBitencourt/pennant/internal/evaluator"
	"github.com/OrlandoBitencourt/pennant/internal/events"
	"github.com/OrlandoBitencourt/pennant/internal/refresh"
	"github.com/OrlandoBitencourt/pennant/internal/storage"
	"github.com/OrlandoBitencourt/pennant/internal/telemetry"
)

// Option is a functional option for configuring Engine
type Option func(*Engine)

// WithStorage sets the flag store
func WithStorage(s storage.Storage) Option {
	return func(e *Engine) {
		e.store = s
	}
}

// WithEvaluator sets the evaluator implementation
func WithEvaluator(ev evaluator.Evaluator) Option {
	return func(e *Engine) {
		e.evaluator = ev
	}
}

// WithScheduler sets the refresh scheduler
func WithScheduler(s *refresh.Scheduler) Option {
	return func(e *Engine) {
		e.scheduler = s
	}
}

// WithDispatcher sets the event dispatcher. Without one no events are recorded.
func WithDispatcher(d *events.Dispatcher) Option {
	return func(e *Engine) {
		e.dispatcher = d
	}
}

// WithQueue hands the delivery queue's lifecycle to the engine.
func WithQueue(q *events.Queue) Option {
	return func(e *Engine) {
		e.queue = q
	}
}

// WithSnapshot enables the disk snapshot fallback
func WithSnapshot(s *storage.DiskSnapshot) Option {
	return func(e *Engine) {
		e.snapshot = s
	}
}

// WithConfig sets the configuration
func WithConfig(config Config) Option {
	return func(e *Engine) {
		e.config = config
	}
}

// WithLogger sets the logger
func WithLogger(l *slog.Logger) Option {
	return func(e *Engine) {
		e.logger = l
	}
}

// WithTelemetry sets the telemetry provider
func WithTelemetry(p telemetry.Provider) Option {
	return func(e *Engine) {
		e.tel = p
	}
}
