package events

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/OrlandoBitencourt/pennant/internal/domain"
	"github.com/OrlandoBitencourt/pennant/internal/logging"
	"github.com/OrlandoBitencourt/pennant/internal/telemetry"
)

// ErrNilDelivery is returned by NewDispatcher without a delivery strategy.
var ErrNilDelivery = errors.New("events: delivery is required")

// Dispatcher turns the accumulator's pending events into batches.
type Dispatcher struct {
	acc      *Accumulator
	delivery Delivery
	logger   *slog.Logger
	tel      telemetry.Provider
}

// NewDispatcher creates a dispatcher. A nil logger uses slog.Default and a
// nil provider disables telemetry.
func NewDispatcher(acc *Accumulator, delivery Delivery, logger *slog.Logger, tel telemetry.Provider) (*Dispatcher, error) {
	if delivery == nil {
		return nil, ErrNilDelivery
	}
	if acc == nil {
		acc = NewAccumulator(Unbounded)
	}
	if logger == nil {
		logger = slog.Default()
	}
	if tel == nil {
		tel = telemetry.NewNoOp()
	}

	return &Dispatcher{
		acc:      acc,
		delivery: delivery,
		logger:   logger.With(logging.Component("dispatcher")),
		tel:      tel,
	}, nil
}

// Accumulator returns the buffer the dispatcher drains.
func (d *Dispatcher) Accumulator() *Accumulator {
	return d.acc
}

// Record appends events to the accumulator.
func (d *Dispatcher) Record(ctx context.Context, events ...domain.Event) {
	if len(events) == 0 {
		return
	}

	dropped := d.acc.Record(events...)
	d.tel.RecordEventsRecorded(ctx, len(events)-dropped)
	if dropped > 0 {
		d.tel.RecordEventsDropped(ctx, dropped, "capacity")
		d.logger.Warn("event buffer full, dropping events", logging.Count(dropped))
	}
}

// Flush drains pending events and hands them to the delivery strategy as one
// batch. Flushing an empty accumulator does nothing.
func (d *Dispatcher) Flush(ctx context.Context) error {
	start := time.Now()

	pending := d.acc.Drain()
	if len(pending) == 0 {
		d.logger.Debug("no events to flush")
		return nil
	}

	payload, count, err := d.encode(ctx, pending)
	if err != nil {
		return domain.NewDeliveryError("", len(pending), err)
	}

	batch := Batch{
		ID:      uuid.NewString(),
		Events:  count,
		Payload: payload,
	}

	d.tel.RecordFlush(ctx, batch.Events)
	err = d.delivery.Deliver(ctx, batch)

	d.logger.Debug("flushed events",
		logging.BatchID(batch.ID),
		logging.Count(batch.Events),
		logging.Duration(time.Since(start)),
		logging.Error(err),
	)

	return err
}

// encode marshals events as one JSON array. When the batch does not encode,
// each event is encoded on its own and only the ones that fail are dropped.
func (d *Dispatcher) encode(ctx context.Context, events []domain.Event) ([]byte, int, error) {
	payload, err := json.Marshal(events)
	if err == nil {
		return payload, len(events), nil
	}

	encoded := make([]json.RawMessage, 0, len(events))
	for _, e := range events {
		raw, err := json.Marshal(e)
		if err != nil {
			d.logger.Warn("dropping event that cannot be encoded",
				logging.FlagKey(e.Key),
				logging.Error(err),
			)
			continue
		}
		encoded = append(encoded, raw)
	}

	if dropped := len(events) - len(encoded); dropped > 0 {
		d.tel.RecordEventsDropped(ctx, dropped, "encode")
	}
	if len(encoded) == 0 {
		return nil, 0, err
	}

	payload, err = json.Marshal(encoded)
	if err != nil {
		return nil, 0, err
	}
	return payload, len(encoded), nil
}
