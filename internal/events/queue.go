package events

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/OrlandoBitencourt/pennant/internal/logging"
	"github.com/OrlandoBitencourt/pennant/internal/telemetry"
	"github.com/OrlandoBitencourt/pennant/internal/transport"
)

var (
	ErrQueueFull       = errors.New("events: delivery queue is full")
	ErrQueueClosed     = errors.New("events: delivery queue is closed")
	ErrQueueNotStarted = errors.New("events: delivery queue not started")
	ErrNilPoster       = errors.New("events: poster is required")
)

// Task is one queued batch delivery.
type Task struct {
	ID       string
	URL      string
	Batch    Batch
	Enqueued time.Time
}

// QueueConfig holds queue configuration
type QueueConfig struct {
	// Size is the number of tasks that may wait for a worker.
	Size int

	Workers int

	// TaskTimeout bounds one task including its retries.
	TaskTimeout time.Duration

	MaxAttempts  int
	RetryBackoff time.Duration

	Logger    *slog.Logger
	Telemetry telemetry.Provider
}

// DefaultQueueConfig returns default queue configuration
func DefaultQueueConfig() QueueConfig {
	return QueueConfig{
		Size:         100,
		Workers:      2,
		TaskTimeout:  30 * time.Second,
		MaxAttempts:  MaxDeliveryAttempts,
		RetryBackoff: DefaultRetryBackoff,
	}
}

// Queue is an in-process task queue whose workers post event batches.
// A task that exhausts its attempts is logged and dropped.
type Queue struct {
	poster transport.Poster
	config QueueConfig
	logger *slog.Logger
	tel    telemetry.Provider

	mu      sync.RWMutex
	tasks   chan Task
	started bool
	closed  bool
	cancel  context.CancelFunc
	wg      sync.WaitGroup

	enqueued  atomic.Uint64
	delivered atomic.Uint64
	dropped   atomic.Uint64
	rejected  atomic.Uint64
}

// NewQueue creates a queue. Workers are started by Start.
func NewQueue(poster transport.Poster, config QueueConfig) (*Queue, error) {
	if poster == nil {
		return nil, ErrNilPoster
	}

	def := DefaultQueueConfig()
	if config.Size <= 0 {
		config.Size = def.Size
	}
	if config.Workers <= 0 {
		config.Workers = def.Workers
	}
	if config.TaskTimeout <= 0 {
		config.TaskTimeout = def.TaskTimeout
	}
	if config.Logger == nil {
		config.Logger = slog.Default()
	}
	if config.Telemetry == nil {
		config.Telemetry = telemetry.NewNoOp()
	}

	return &Queue{
		poster: poster,
		config: config,
		logger: config.Logger.With(logging.Component("queue")),
		tel:    config.Telemetry,
		tasks:  make(chan Task, config.Size),
	}, nil
}

// Start launches the workers. Cancelling ctx aborts in-flight posts.
func (q *Queue) Start(ctx context.Context) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return ErrQueueClosed
	}
	if q.started {
		return fmt.Errorf("events: queue already started")
	}

	ctx, q.cancel = context.WithCancel(ctx)
	q.started = true

	for i := 0; i < q.config.Workers; i++ {
		q.wg.Add(1)
		go q.worker(ctx)
	}

	q.logger.Debug("delivery queue started", slog.Int("workers", q.config.Workers))
	return nil
}

// Enqueue adds a task without blocking.
func (q *Queue) Enqueue(task Task) error {
	q.mu.RLock()
	defer q.mu.RUnlock()

	if q.closed {
		q.rejected.Add(1)
		return ErrQueueClosed
	}

	if task.ID == "" {
		task.ID = uuid.NewString()
	}
	if task.Enqueued.IsZero() {
		task.Enqueued = time.Now()
	}

	select {
	case q.tasks <- task:
		q.enqueued.Add(1)
		return nil
	default:
		q.rejected.Add(1)
		return ErrQueueFull
	}
}

// Stop closes the queue to new tasks and waits for queued tasks to finish.
// When ctx expires first, in-flight posts are cancelled and ctx.Err is returned.
func (q *Queue) Stop(ctx context.Context) error {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return nil
	}
	q.closed = true
	close(q.tasks)
	started := q.started
	cancel := q.cancel
	q.mu.Unlock()

	if !started {
		return ErrQueueNotStarted
	}

	done := make(chan struct{})
	go func() {
		q.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		cancel()
		return nil
	case <-ctx.Done():
		cancel()
		<-done
		return ctx.Err()
	}
}

func (q *Queue) worker(ctx context.Context) {
	defer q.wg.Done()

	for task := range q.tasks {
		q.process(ctx, task)
	}
}

func (q *Queue) process(ctx context.Context, task Task) {
	ctx, cancel := context.WithTimeout(ctx, q.config.TaskTimeout)
	defer cancel()

	start := time.Now()
	cfg := DeliveryConfig{
		URL:          task.URL,
		MaxAttempts:  q.config.MaxAttempts,
		RetryBackoff: q.config.RetryBackoff,
		Logger:       q.logger,
	}.withDefaults()

	attempts, err := post(ctx, q.poster, cfg, task.Batch)
	q.tel.RecordDelivery(ctx, err == nil, attempts, time.Since(start))

	if err != nil {
		q.dropped.Add(1)
		q.tel.RecordEventsDropped(ctx, task.Batch.Events, "delivery")
		q.logger.Warn("dropping event batch",
			logging.BatchID(task.Batch.ID),
			slog.String("task_id", task.ID),
			logging.Count(task.Batch.Events),
			logging.Attempt(attempts),
			logging.Error(err),
		)
		return
	}

	q.delivered.Add(1)
	q.logger.Debug("event batch delivered",
		logging.BatchID(task.Batch.ID),
		logging.Attempt(attempts),
		logging.Duration(time.Since(task.Enqueued)),
	)
}

// Stats returns queue counters.
func (q *Queue) Stats() QueueStats {
	return QueueStats{
		Pending:   len(q.tasks),
		Enqueued:  q.enqueued.Load(),
		Delivered: q.delivered.Load(),
		Dropped:   q.dropped.Load(),
		Rejected:  q.rejected.Load(),
	}
}

// QueueStats represents queue counters
type QueueStats struct {
	Pending   int    `json:"pending"`
	Enqueued  uint64 `json:"enqueued"`
	Delivered uint64 `json:"delivered"`
	Dropped   uint64 `json:"dropped"`
	Rejected  uint64 `json:"rejected"`
}
