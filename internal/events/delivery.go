package events

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/sethvargo/go-retry"

	"github.com/OrlandoBitencourt/pennant/internal/domain"
	"github.com/OrlandoBitencourt/pennant/internal/logging"
	"github.com/OrlandoBitencourt/pennant/internal/telemetry"
	"github.com/OrlandoBitencourt/pennant/internal/transport"
)

// MaxDeliveryAttempts is the retry ceiling for one batch.
const MaxDeliveryAttempts = 3

// DefaultRetryBackoff is the base delay between delivery attempts.
const DefaultRetryBackoff = 100 * time.Millisecond

// Batch is a serialized set of events ready to leave the process.
type Batch struct {
	ID      string
	Events  int
	Payload []byte
}

// Delivery hands a batch off to its destination.
type Delivery interface {
	Deliver(ctx context.Context, batch Batch) error
}

// DeliveryFunc adapts a function to Delivery.
type DeliveryFunc func(ctx context.Context, batch Batch) error

func (f DeliveryFunc) Deliver(ctx context.Context, batch Batch) error {
	return f(ctx, batch)
}

// DeliveryConfig holds settings shared by the delivery strategies.
type DeliveryConfig struct {
	// URL receives the batch payload.
	URL string

	// MaxAttempts is capped at MaxDeliveryAttempts.
	MaxAttempts int

	// RetryBackoff is the base of the exponential backoff between attempts.
	RetryBackoff time.Duration

	Logger    *slog.Logger
	Telemetry telemetry.Provider
}

func (c DeliveryConfig) withDefaults() DeliveryConfig {
	if c.MaxAttempts <= 0 || c.MaxAttempts > MaxDeliveryAttempts {
		c.MaxAttempts = MaxDeliveryAttempts
	}
	if c.RetryBackoff <= 0 {
		c.RetryBackoff = DefaultRetryBackoff
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
	if c.Telemetry == nil {
		c.Telemetry = telemetry.NewNoOp()
	}
	return c
}

// post sends the batch with bounded retries. Non-retryable errors stop at once.
func post(ctx context.Context, poster transport.Poster, cfg DeliveryConfig, batch Batch) (attempts int, err error) {
	backoff := retry.WithMaxRetries(uint64(cfg.MaxAttempts-1), retry.NewExponential(cfg.RetryBackoff))

	err = retry.Do(ctx, backoff, func(ctx context.Context) error {
		attempts++
		err := poster.Post(ctx, cfg.URL, batch.Payload)
		if err == nil {
			return nil
		}

		cfg.Logger.Debug("event delivery attempt failed",
			logging.BatchID(batch.ID),
			logging.Attempt(attempts),
			logging.Error(err),
		)

		if transport.ShouldRetry(err) {
			return retry.RetryableError(err)
		}
		return err
	})
	return attempts, err
}

// SyncDelivery posts batches inline on the flushing goroutine.
type SyncDelivery struct {
	poster transport.Poster
	config DeliveryConfig
	logger *slog.Logger
}

// NewSyncDelivery creates an inline delivery strategy.
func NewSyncDelivery(poster transport.Poster, config DeliveryConfig) *SyncDelivery {
	config = config.withDefaults()
	return &SyncDelivery{
		poster: poster,
		config: config,
		logger: config.Logger.With(logging.Component("delivery")),
	}
}

// Deliver posts the batch, retrying up to MaxDeliveryAttempts times.
func (d *SyncDelivery) Deliver(ctx context.Context, batch Batch) error {
	start := time.Now()
	cfg := d.config
	cfg.Logger = d.logger

	attempts, err := post(ctx, d.poster, cfg, batch)
	d.config.Telemetry.RecordDelivery(ctx, err == nil, attempts, time.Since(start))

	if err != nil {
		d.logger.Warn("dropping event batch",
			logging.BatchID(batch.ID),
			logging.Count(batch.Events),
			logging.Attempt(attempts),
			logging.Error(err),
		)
		return domain.NewDeliveryError(batch.ID, batch.Events, err)
	}
	return nil
}

// QueueDelivery enqueues batches on a Queue and returns immediately.
type QueueDelivery struct {
	queue *Queue
	url   string
}

// NewQueueDelivery creates a delivery strategy that targets url through queue.
func NewQueueDelivery(queue *Queue, url string) *QueueDelivery {
	return &QueueDelivery{queue: queue, url: url}
}

// Deliver enqueues the batch. A full or closed queue is reported as a DeliveryError.
func (d *QueueDelivery) Deliver(ctx context.Context, batch Batch) error {
	err := d.queue.Enqueue(Task{URL: d.url, Batch: batch})
	if err != nil {
		return domain.NewDeliveryError(batch.ID, batch.Events, err)
	}
	return nil
}

// IsQueueError reports whether err came from a full or closed queue.
func IsQueueError(err error) bool {
	return errors.Is(err, ErrQueueFull) || errors.Is(err, ErrQueueClosed)
}
