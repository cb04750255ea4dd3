package telemetry

import (
	"context"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

const instrumentationName = "github.com/OrlandoBitencourt/pennant"

// OTelOption configures the OpenTelemetry provider.
type OTelOption func(*otelConfig)

type otelConfig struct {
	meterProvider  metric.MeterProvider
	tracerProvider trace.TracerProvider
}

// WithMeterProvider overrides the global meter provider.
func WithMeterProvider(mp metric.MeterProvider) OTelOption {
	return func(c *otelConfig) { c.meterProvider = mp }
}

// WithTracerProvider overrides the global tracer provider.
func WithTracerProvider(tp trace.TracerProvider) OTelOption {
	return func(c *otelConfig) { c.tracerProvider = tp }
}

// OTelProvider implements Provider using OpenTelemetry
type OTelProvider struct {
	tracer trace.Tracer
	meter  metric.Meter

	evaluations      metric.Int64Counter
	evalDuration     metric.Float64Histogram
	refreshDuration  metric.Float64Histogram
	refreshSuccess   metric.Int64Counter
	refreshFailure   metric.Int64Counter
	eventsRecorded   metric.Int64Counter
	eventsDropped    metric.Int64Counter
	batchSize        metric.Int64Histogram
	deliveries       metric.Int64Counter
	deliveryAttempts metric.Int64Histogram
	deliveryDuration metric.Float64Histogram
	circuitState     metric.Int64ObservableGauge
	registration     metric.Registration

	currentCircuitState atomic.Int64
}

// NewOTel creates a new OpenTelemetry provider
func NewOTel(opts ...OTelOption) (*OTelProvider, error) {
	cfg := otelConfig{}
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.meterProvider == nil {
		cfg.meterProvider = otel.GetMeterProvider()
	}
	if cfg.tracerProvider == nil {
		cfg.tracerProvider = otel.GetTracerProvider()
	}

	provider := &OTelProvider{
		tracer: cfg.tracerProvider.Tracer(instrumentationName),
		meter:  cfg.meterProvider.Meter(instrumentationName),
	}

	if err := provider.initMetrics(); err != nil {
		return nil, err
	}

	return provider, nil
}

// initMetrics initializes all metrics
func (o *OTelProvider) initMetrics() error {
	var err error

	if o.evaluations, err = o.meter.Int64Counter(
		"pennant.evaluations",
		metric.WithDescription("Number of flag evaluations by outcome"),
	); err != nil {
		return err
	}

	if o.evalDuration, err = o.meter.Float64Histogram(
		"pennant.evaluation.duration",
		metric.WithDescription("Duration of variation calls, including inline refreshes"),
		metric.WithUnit("ms"),
	); err != nil {
		return err
	}

	if o.refreshDuration, err = o.meter.Float64Histogram(
		"pennant.refresh.duration",
		metric.WithDescription("Duration of flag store refreshes"),
		metric.WithUnit("ms"),
	); err != nil {
		return err
	}

	if o.refreshSuccess, err = o.meter.Int64Counter(
		"pennant.refresh.success",
		metric.WithDescription("Number of successful refreshes"),
	); err != nil {
		return err
	}

	if o.refreshFailure, err = o.meter.Int64Counter(
		"pennant.refresh.failure",
		metric.WithDescription("Number of failed refreshes"),
	); err != nil {
		return err
	}

	if o.eventsRecorded, err = o.meter.Int64Counter(
		"pennant.events.recorded",
		metric.WithDescription("Number of analytics events recorded"),
	); err != nil {
		return err
	}

	if o.eventsDropped, err = o.meter.Int64Counter(
		"pennant.events.dropped",
		metric.WithDescription("Number of analytics events dropped"),
	); err != nil {
		return err
	}

	if o.batchSize, err = o.meter.Int64Histogram(
		"pennant.events.batch_size",
		metric.WithDescription("Events per flushed batch"),
	); err != nil {
		return err
	}

	if o.deliveries, err = o.meter.Int64Counter(
		"pennant.delivery",
		metric.WithDescription("Number of batch deliveries by result"),
	); err != nil {
		return err
	}

	if o.deliveryAttempts, err = o.meter.Int64Histogram(
		"pennant.delivery.attempts",
		metric.WithDescription("Attempts used per batch delivery"),
	); err != nil {
		return err
	}

	if o.deliveryDuration, err = o.meter.Float64Histogram(
		"pennant.delivery.duration",
		metric.WithDescription("Duration of batch deliveries including retries"),
		metric.WithUnit("ms"),
	); err != nil {
		return err
	}

	if o.circuitState, err = o.meter.Int64ObservableGauge(
		"pennant.circuit.state",
		metric.WithDescription("Circuit breaker state (0=closed, 1=open, 2=half-open)"),
	); err != nil {
		return err
	}

	o.registration, err = o.meter.RegisterCallback(func(ctx context.Context, observer metric.Observer) error {
		observer.ObserveInt64(o.circuitState, o.currentCircuitState.Load())
		return nil
	}, o.circuitState)

	return err
}

func circuitStateValue(state string) int64 {
	switch state {
	case "open":
		return 1
	case "half-open":
		return 2
	default:
		return 0
	}
}

// StartSpan creates a new trace span
func (o *OTelProvider) StartSpan(ctx context.Context, name string, opts ...SpanOption) (context.Context, Span) {
	config := &SpanConfig{}
	for _, opt := range opts {
		opt(config)
	}

	ctx, otelSpan := o.tracer.Start(ctx, name, trace.WithAttributes(convertAttributes(config.Attributes)...))
	return ctx, &OTelSpan{span: otelSpan}
}

func convertAttribute(attr Attribute) attribute.KeyValue {
	switch v := attr.Value.(type) {
	case string:
		return attribute.String(attr.Key, v)
	case int:
		return attribute.Int(attr.Key, v)
	case int64:
		return attribute.Int64(attr.Key, v)
	case bool:
		return attribute.Bool(attr.Key, v)
	case float64:
		return attribute.Float64(attr.Key, v)
	default:
		return attribute.String(attr.Key, "")
	}
}

func convertAttributes(attrs []Attribute) []attribute.KeyValue {
	out := make([]attribute.KeyValue, len(attrs))
	for i, attr := range attrs {
		out[i] = convertAttribute(attr)
	}
	return out
}

func (o *OTelProvider) RecordEvaluation(ctx context.Context, flagKey string, status string, duration time.Duration) {
	attrs := metric.WithAttributes(
		attribute.String("flag.key", flagKey),
		attribute.String("outcome", status),
	)
	o.evaluations.Add(ctx, 1, attrs)
	o.evalDuration.Record(ctx, float64(duration.Microseconds())/1000, attrs)
}

func (o *OTelProvider) RecordRefresh(ctx context.Context, success bool, duration time.Duration, flagCount int) {
	o.refreshDuration.Record(ctx, float64(duration.Milliseconds()),
		metric.WithAttributes(attribute.Bool("success", success)))

	if success {
		o.refreshSuccess.Add(ctx, 1, metric.WithAttributes(
			attribute.Int("flag.count", flagCount),
		))
	} else {
		o.refreshFailure.Add(ctx, 1)
	}
}

func (o *OTelProvider) RecordCircuitState(ctx context.Context, state string) {
	o.currentCircuitState.Store(circuitStateValue(state))
}

func (o *OTelProvider) RecordEventsRecorded(ctx context.Context, n int) {
	o.eventsRecorded.Add(ctx, int64(n))
}

func (o *OTelProvider) RecordEventsDropped(ctx context.Context, n int, reason string) {
	o.eventsDropped.Add(ctx, int64(n), metric.WithAttributes(attribute.String("reason", reason)))
}

func (o *OTelProvider) RecordFlush(ctx context.Context, batchSize int) {
	o.batchSize.Record(ctx, int64(batchSize))
}

func (o *OTelProvider) RecordDelivery(ctx context.Context, success bool, attempts int, duration time.Duration) {
	result := "delivered"
	if !success {
		result = "dropped"
	}
	attrs := metric.WithAttributes(attribute.String("result", result))
	o.deliveries.Add(ctx, 1, attrs)
	o.deliveryAttempts.Record(ctx, int64(attempts), attrs)
	o.deliveryDuration.Record(ctx, float64(duration.Milliseconds()), attrs)
}

// Shutdown unregisters the gauge callback. Exporters belong to the caller's SDK setup.
func (o *OTelProvider) Shutdown(ctx context.Context) error {
	if o.registration != nil {
		return o.registration.Unregister()
	}
	return nil
}

// OTelSpan wraps an OpenTelemetry span
type OTelSpan struct {
	span trace.Span
}

func (s *OTelSpan) End() {
	s.span.End()
}

func (s *OTelSpan) SetAttributes(attrs ...Attribute) {
	s.span.SetAttributes(convertAttributes(attrs)...)
}

// RecordError records err and marks the span as failed.
func (s *OTelSpan) RecordError(err error) {
	if err == nil {
		return
	}
	s.span.RecordError(err)
	s.span.SetStatus(codes.Error, err.Error())
}

func (s *OTelSpan) AddEvent(name string, attrs ...Attribute) {
	s.span.AddEvent(name, trace.WithAttributes(convertAttributes(attrs)...))
}
