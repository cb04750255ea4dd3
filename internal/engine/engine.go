// Package engine coordinates refresh, evaluation and event recording for a
// single variation call.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/OrlandoBitencourt/pennant/internal/domain"
	"github.com/OrlandoBitencourt/pennant/internal/evaluator"
	"github.com/OrlandoBitencourt/pennant/internal/events"
	"github.com/OrlandoBitencourt/pennant/internal/logging"
	"github.com/OrlandoBitencourt/pennant/internal/refresh"
	"github.com/OrlandoBitencourt/pennant/internal/storage"
	"github.com/OrlandoBitencourt/pennant/internal/telemetry"
)

// ReasonOffline is reported for every variation call in offline mode.
const ReasonOffline = "OFFLINE"

var (
	// ErrOffline is returned by operations that need the flag service in offline mode.
	ErrOffline = errors.New("engine: client is offline")

	ErrAlreadyStarted = errors.New("engine: already started")
	ErrNotStarted     = errors.New("engine: not started")
)

// Engine is the main orchestrator that coordinates all components
type Engine struct {
	// Dependencies (injected)
	store      storage.Storage
	evaluator  evaluator.Evaluator
	scheduler  *refresh.Scheduler
	dispatcher *events.Dispatcher
	queue      *events.Queue
	snapshot   *storage.DiskSnapshot

	config Config
	logger *slog.Logger
	tel    telemetry.Provider

	// State management
	mu      sync.Mutex
	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	started bool
	stopped bool

	evaluated atomic.Uint64
	failed    atomic.Uint64
	notFound  atomic.Uint64
}

// New creates a new engine with the given options
func New(opts ...Option) (*Engine, error) {
	e := &Engine{
		config: DefaultConfig(),
	}

	for _, opt := range opts {
		opt(e)
	}

	if e.store == nil {
		return nil, fmt.Errorf("storage is required")
	}
	if e.evaluator == nil {
		return nil, fmt.Errorf("evaluator is required")
	}
	if e.scheduler == nil && !e.config.Offline {
		return nil, fmt.Errorf("refresh scheduler is required unless offline")
	}

	if err := e.config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	if e.logger == nil {
		e.logger = slog.Default()
	}
	e.logger = e.logger.With(logging.Component("engine"))
	if e.tel == nil {
		e.tel = telemetry.NewNoOp()
	}

	return e, nil
}

// Start loads the initial flag set and starts background processes. When the
// flag service is unreachable the disk snapshot, if any, seeds the store.
func (e *Engine) Start(ctx context.Context) error {
	e.mu.Lock()
	if e.started {
		e.mu.Unlock()
		return ErrAlreadyStarted
	}
	e.started = true
	e.ctx, e.cancel = context.WithCancel(context.WithoutCancel(ctx))
	e.mu.Unlock()

	if e.queue != nil {
		// The queue outlives e.ctx so Stop can drain it after cancelling background work.
		if err := e.queue.Start(context.WithoutCancel(ctx)); err != nil {
			return fmt.Errorf("failed to start delivery queue: %w", err)
		}
	}

	if e.config.Offline {
		e.logger.Info("client started in offline mode")
		return nil
	}

	if e.snapshot != nil {
		e.scheduler.OnRefresh(e.saveSnapshotAsync)
	}

	start := time.Now()
	loadCtx, cancel := context.WithTimeout(ctx, e.config.InitialTimeout)
	defer cancel()

	if err := e.scheduler.Refresh(loadCtx); err != nil {
		// loadCtx may already be expired when the fetch timed out.
		snapCtx, snapCancel := context.WithTimeout(context.WithoutCancel(ctx), e.config.InitialTimeout)
		defer snapCancel()
		if !e.loadSnapshot(snapCtx, err) {
			e.abortStart()
			return fmt.Errorf("initial flag load failed: %w", err)
		}
	}

	e.logger.Info(fmt.Sprintf("client initialized in %d ms", time.Since(start).Milliseconds()),
		logging.Count(int(e.store.Metrics().Size)),
	)

	if e.config.BackgroundRefresh {
		e.wg.Add(1)
		go func() {
			defer e.wg.Done()
			e.scheduler.Run(e.ctx)
		}()
	}

	return nil
}

func (e *Engine) loadSnapshot(ctx context.Context, fetchErr error) bool {
	if e.snapshot == nil {
		return false
	}

	flags, err := e.snapshot.Load(ctx)
	if err != nil || len(flags) == 0 {
		e.logger.Error("initial flag load failed and no snapshot is available",
			logging.Error(errors.Join(fetchErr, err)))
		return false
	}

	if err := e.store.Init(ctx, flags); err != nil {
		e.logger.Error("failed to seed store from snapshot", logging.Error(err))
		return false
	}

	e.logger.Warn("initial flag load failed, serving flags from snapshot",
		logging.Count(len(flags)),
		logging.Error(fetchErr),
	)
	return true
}

func (e *Engine) abortStart() {
	e.cancel()
	if e.queue != nil {
		_ = e.queue.Stop(context.Background())
	}
	e.mu.Lock()
	e.started = false
	e.mu.Unlock()
}

func (e *Engine) saveSnapshotAsync(ctx context.Context, flags map[string]domain.Flag) {
	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		if err := e.snapshot.Save(context.WithoutCancel(ctx), flags); err != nil {
			e.logger.Warn("failed to save flag snapshot", logging.Error(err))
		}
	}()
}

// Stop flushes pending events, drains the delivery queue, saves the snapshot
// and closes the store.
func (e *Engine) Stop(ctx context.Context) error {
	e.mu.Lock()
	if !e.started {
		e.mu.Unlock()
		return ErrNotStarted
	}
	if e.stopped {
		e.mu.Unlock()
		return nil
	}
	e.stopped = true
	e.mu.Unlock()

	var errs []error

	if err := e.Flush(ctx); err != nil {
		errs = append(errs, fmt.Errorf("flush: %w", err))
	}

	e.cancel()
	e.wg.Wait()

	if e.queue != nil {
		if err := e.queue.Stop(ctx); err != nil {
			errs = append(errs, fmt.Errorf("drain delivery queue: %w", err))
		}
	}

	if e.snapshot != nil && e.store.Initialized() {
		flags, err := e.store.All(ctx)
		if err == nil {
			err = e.snapshot.Save(ctx, flags)
		}
		if err != nil {
			errs = append(errs, fmt.Errorf("save snapshot: %w", err))
		}
	}

	if err := e.store.Close(); err != nil {
		errs = append(errs, fmt.Errorf("close store: %w", err))
	}

	return errors.Join(errs...)
}

// Variation returns the value of flagKey for user, or def.
func (e *Engine) Variation(ctx context.Context, flagKey string, user domain.User, def any) any {
	return e.Evaluate(ctx, flagKey, user, def).Value
}

// Evaluate resolves flagKey for user. It never returns an error; failures are
// reported through the outcome status and the caller's default is returned.
func (e *Engine) Evaluate(ctx context.Context, flagKey string, user domain.User, def any) domain.Outcome {
	start := time.Now()
	def = e.DefaultFor(flagKey, def)

	out := e.evaluate(ctx, flagKey, user, def)

	switch out.Status {
	case domain.OutcomeEvaluated:
		e.evaluated.Add(1)
	case domain.OutcomeNotFound:
		e.notFound.Add(1)
	default:
		e.failed.Add(1)
	}
	e.tel.RecordEvaluation(ctx, flagKey, out.Status.String(), time.Since(start))

	return out
}

// DefaultFor returns the configured static default for flagKey, or def.
func (e *Engine) DefaultFor(flagKey string, def any) any {
	if v, ok := e.config.Defaults[flagKey]; ok {
		return v
	}
	return def
}

func (e *Engine) evaluate(ctx context.Context, flagKey string, user domain.User, def any) domain.Outcome {
	out := domain.Outcome{FlagKey: flagKey, Value: def}

	if e.config.Offline {
		out.Status = domain.OutcomeEvaluationFailed
		out.Reason = ReasonOffline
		out.Err = ErrOffline
		return out
	}

	e.refreshIfStale(ctx)

	flag, found, err := e.store.Get(ctx, flagKey)
	if err != nil {
		e.logger.Error("flag lookup failed",
			logging.FlagKey(flagKey),
			logging.UserKey(user.Key),
			logging.Error(err),
		)
		out.Status = domain.OutcomeEvaluationFailed
		out.Err = domain.NewStoreError("get", flagKey, err)
		return out
	}

	if !found {
		e.logger.Debug("unknown flag, returning default", logging.FlagKey(flagKey))
		e.record(ctx, domain.NewFeatureEvent(flagKey, user, def, def, nil))
		out.Status = domain.OutcomeNotFound
		return out
	}

	detail, subEvents, err := e.safeEvaluate(ctx, flag, user)
	e.record(ctx, subEvents...)
	out.Version = domain.IntPtr(flag.Version)

	if err != nil {
		e.logger.Error("flag evaluation failed",
			logging.FlagKey(flagKey),
			logging.UserKey(user.Key),
			logging.Error(err),
		)
		out.Status = domain.OutcomeEvaluationFailed
		out.Err = err
		return out
	}

	value := detail.Value
	if value == nil {
		value = def
	}
	e.record(ctx, domain.NewFeatureEvent(flagKey, user, value, def, domain.IntPtr(flag.Version)))

	out.Status = domain.OutcomeEvaluated
	out.Value = value
	out.VariationIndex = detail.VariationIndex
	out.Reason = detail.Reason
	return out
}

func (e *Engine) refreshIfStale(ctx context.Context) {
	ctx, cancel := context.WithTimeout(ctx, e.config.FetchTimeout)
	defer cancel()

	if _, err := e.scheduler.RefreshIfStale(ctx); err != nil {
		e.logger.Warn("flag refresh failed, serving cached flags", logging.Error(err))
	}
}

func (e *Engine) safeEvaluate(ctx context.Context, flag *domain.Flag, user domain.User) (detail domain.Detail, subEvents []domain.Event, err error) {
	defer func() {
		if p := recover(); p != nil {
			err = domain.NewEvaluationError(flag.Key, "evaluator panicked", fmt.Errorf("%v", p))
		}
	}()
	return e.evaluator.Evaluate(ctx, *flag, user, e.store)
}

func (e *Engine) record(ctx context.Context, evs ...domain.Event) {
	if e.dispatcher == nil || len(evs) == 0 {
		return
	}
	e.dispatcher.Record(ctx, evs...)
}

// Flush hands pending events to the delivery strategy.
func (e *Engine) Flush(ctx context.Context) error {
	if e.dispatcher == nil {
		return nil
	}
	return e.dispatcher.Flush(ctx)
}

// Refresh reloads the flag store now, regardless of staleness.
func (e *Engine) Refresh(ctx context.Context) error {
	if e.config.Offline {
		return ErrOffline
	}
	return e.scheduler.Refresh(ctx)
}

// Ready reports whether evaluations are served from a loaded flag set.
func (e *Engine) Ready() bool {
	return e.config.Offline || e.store.Initialized()
}

// Store returns the flag store.
func (e *Engine) Store() storage.Storage {
	return e.store
}

// Metrics returns engine metrics
func (e *Engine) Metrics() Metrics {
	m := Metrics{
		Offline: e.config.Offline,
		Storage: e.store.Metrics(),
		Evaluations: EvaluationCounts{
			Evaluated: e.evaluated.Load(),
			Failed:    e.failed.Load(),
			NotFound:  e.notFound.Load(),
		},
	}
	if e.scheduler != nil {
		m.Refresh = e.scheduler.Stats()
	}
	if e.dispatcher != nil {
		m.Events = e.dispatcher.Accumulator().Stats()
	}
	if e.queue != nil {
		stats := e.queue.Stats()
		m.Queue = &stats
	}
	return m
}

// Metrics represents engine metrics
type Metrics struct {
	Offline     bool                    `json:"offline"`
	Storage     storage.Metrics         `json:"storage"`
	Refresh     refresh.Stats           `json:"refresh"`
	Evaluations EvaluationCounts        `json:"evaluations"`
	Events      events.AccumulatorStats `json:"events"`
	Queue       *events.QueueStats      `json:"queue,omitempty"`
}

// EvaluationCounts counts variation calls by outcome
type EvaluationCounts struct {
	Evaluated uint64 `json:"evaluated"`
	Failed    uint64 `json:"failed"`
	NotFound  uint64 `json:"not_found"`
}
