package telemetry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

func setupOTelTest(t *testing.T) (*OTelProvider, *sdkmetric.ManualReader, *tracetest.SpanRecorder) {
	t.Helper()

	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	recorder := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(recorder))

	t.Cleanup(func() {
		_ = mp.Shutdown(context.Background())
		_ = tp.Shutdown(context.Background())
	})

	provider, err := NewOTel(WithMeterProvider(mp), WithTracerProvider(tp))
	require.NoError(t, err)
	return provider, reader, recorder
}

func collect(t *testing.T, reader *sdkmetric.ManualReader) map[string]metricdata.Metrics {
	t.Helper()

	var rm metricdata.ResourceMetrics
	require.NoError(t, reader.Collect(context.Background(), &rm))

	out := make(map[string]metricdata.Metrics)
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			out[m.Name] = m
		}
	}
	return out
}

func sumInt64(m metricdata.Metrics) int64 {
	sum, ok := m.Data.(metricdata.Sum[int64])
	if !ok {
		return 0
	}
	var total int64
	for _, dp := range sum.DataPoints {
		total += dp.Value
	}
	return total
}

func TestOTel_RecordEvaluation(t *testing.T) {
	provider, reader, _ := setupOTelTest(t)
	ctx := context.Background()

	provider.RecordEvaluation(ctx, "new-checkout", "evaluated", 2*time.Millisecond)
	provider.RecordEvaluation(ctx, "new-checkout", "not_found", time.Millisecond)

	metrics := collect(t, reader)
	require.Contains(t, metrics, "pennant.evaluations")
	assert.Equal(t, int64(2), sumInt64(metrics["pennant.evaluations"]))
	assert.Contains(t, metrics, "pennant.evaluation.duration")
}

func TestOTel_EventsAndDelivery(t *testing.T) {
	provider, reader, _ := setupOTelTest(t)
	ctx := context.Background()

	provider.RecordEventsRecorded(ctx, 3)
	provider.RecordEventsDropped(ctx, 1, "capacity")
	provider.RecordFlush(ctx, 3)
	provider.RecordDelivery(ctx, true, 2, 10*time.Millisecond)

	metrics := collect(t, reader)
	assert.Equal(t, int64(3), sumInt64(metrics["pennant.events.recorded"]))
	assert.Equal(t, int64(1), sumInt64(metrics["pennant.events.dropped"]))
	assert.Equal(t, int64(1), sumInt64(metrics["pennant.delivery"]))
	assert.Contains(t, metrics, "pennant.events.batch_size")
	assert.Contains(t, metrics, "pennant.delivery.attempts")
}

func TestOTel_Refresh(t *testing.T) {
	provider, reader, _ := setupOTelTest(t)
	ctx := context.Background()

	provider.RecordRefresh(ctx, true, 5*time.Millisecond, 10)
	provider.RecordRefresh(ctx, false, time.Millisecond, 0)

	metrics := collect(t, reader)
	assert.Equal(t, int64(1), sumInt64(metrics["pennant.refresh.success"]))
	assert.Equal(t, int64(1), sumInt64(metrics["pennant.refresh.failure"]))
}

func TestOTel_CircuitStateGauge(t *testing.T) {
	provider, reader, _ := setupOTelTest(t)

	provider.RecordCircuitState(context.Background(), "open")

	metrics := collect(t, reader)
	require.Contains(t, metrics, "pennant.circuit.state")

	gauge, ok := metrics["pennant.circuit.state"].Data.(metricdata.Gauge[int64])
	require.True(t, ok)
	require.Len(t, gauge.DataPoints, 1)
	assert.Equal(t, int64(1), gauge.DataPoints[0].Value)

	require.NoError(t, provider.Shutdown(context.Background()))
}

func TestOTel_StartSpan(t *testing.T) {
	provider, _, recorder := setupOTelTest(t)

	_, span := provider.StartSpan(context.Background(), "pennant.refresh",
		WithAttributes(String("source", "http"), Int("flags", 2), Bool("stale", true)))
	span.SetAttributes(Float64("ratio", 0.5), Int64("gen", 4))
	span.AddEvent("fetched")
	span.RecordError(errors.New("boom"))
	span.RecordError(nil)
	span.End()

	ended := recorder.Ended()
	require.Len(t, ended, 1)
	assert.Equal(t, "pennant.refresh", ended[0].Name())
	assert.Len(t, ended[0].Attributes(), 5)
	assert.Len(t, ended[0].Events(), 2)
}

func TestCircuitStateValue(t *testing.T) {
	assert.Equal(t, int64(0), circuitStateValue("closed"))
	assert.Equal(t, int64(1), circuitStateValue("open"))
	assert.Equal(t, int64(2), circuitStateValue("half-open"))
}

func TestNoOp(t *testing.T) {
	var p Provider = NewNoOp()
	ctx, span := p.StartSpan(context.Background(), "x")
	span.End()
	p.RecordEvaluation(ctx, "f", "evaluated", time.Millisecond)
	p.RecordDelivery(ctx, false, 3, time.Second)
	assert.NoError(t, p.Shutdown(ctx))
}
