package telemetry

import (
	"context"
	"time"
)

// NoOpProvider is used when telemetry is disabled.
type NoOpProvider struct{}

// NewNoOp creates a new no-op telemetry provider
func NewNoOp() *NoOpProvider {
	return &NoOpProvider{}
}

func (n *NoOpProvider) StartSpan(ctx context.Context, name string, opts ...SpanOption) (context.Context, Span) {
	return ctx, NoOpSpan{}
}

func (n *NoOpProvider) RecordEvaluation(ctx context.Context, flagKey string, status string, duration time.Duration) {
}

func (n *NoOpProvider) RecordRefresh(ctx context.Context, success bool, duration time.Duration, flagCount int) {
}

func (n *NoOpProvider) RecordCircuitState(ctx context.Context, state string) {}

func (n *NoOpProvider) RecordEventsRecorded(ctx context.Context, count int) {}

func (n *NoOpProvider) RecordEventsDropped(ctx context.Context, count int, reason string) {}

func (n *NoOpProvider) RecordFlush(ctx context.Context, batchSize int) {}

func (n *NoOpProvider) RecordDelivery(ctx context.Context, success bool, attempts int, duration time.Duration) {
}

func (n *NoOpProvider) Shutdown(ctx context.Context) error {
	return nil
}

// NoOpSpan is a span that does nothing
type NoOpSpan struct{}

func (NoOpSpan) End()                                    {}
func (NoOpSpan) SetAttributes(attrs ...Attribute)        {}
func (NoOpSpan) RecordError(err error)                   {}
func (NoOpSpan) AddEvent(name string, attrs ...Attribute) {}
