// Package pennant evaluates feature flags locally against a periodically
// refreshed flag set and reports every evaluation as an analytics event.
package pennant

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"net/http"
	"sync"
	"sync/atomic"

	"github.com/OrlandoBitencourt/pennant/internal/circuit"
	"github.com/OrlandoBitencourt/pennant/internal/engine"
	"github.com/OrlandoBitencourt/pennant/internal/evaluator"
	"github.com/OrlandoBitencourt/pennant/internal/events"
	"github.com/OrlandoBitencourt/pennant/internal/fetcher"
	"github.com/OrlandoBitencourt/pennant/internal/logging"
	"github.com/OrlandoBitencourt/pennant/internal/refresh"
	"github.com/OrlandoBitencourt/pennant/internal/server"
	"github.com/OrlandoBitencourt/pennant/internal/storage"
	"github.com/OrlandoBitencourt/pennant/internal/telemetry"
	"github.com/OrlandoBitencourt/pennant/internal/transport"
)

// Client is the main entry point for pennant.
type Client struct {
	engine *engine.Engine
	binder *server.Binder
	ingest *server.IngestHandler

	admin   *server.AdminServer
	webhook *server.WebhookServer

	logger   *slog.Logger
	tel      telemetry.Provider
	ownsTel  bool
	serverWG sync.WaitGroup
	stopped  atomic.Bool
}

// New creates a new pennant client with the given options. Invalid or
// conflicting options return a *ConfigError.
//
// Example:
//
//	client, err := pennant.New(
//	    pennant.WithSDKKey(os.Getenv("PENNANT_SDK_KEY")),
//	    pennant.WithPollInterval(30*time.Second),
//	    pennant.WithDefault("new-checkout", false),
//	)
func New(opts ...Option) (*Client, error) {
	cfg := defaultClientConfig()

	for _, opt := range opts {
		if err := opt(cfg); err != nil {
			return nil, err
		}
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	logger, err := cfg.buildLogger()
	if err != nil {
		return nil, err
	}

	c := &Client{logger: logger.With(logging.Component("client"))}

	c.tel, c.ownsTel, err = cfg.buildTelemetry()
	if err != nil {
		return nil, fmt.Errorf("failed to create telemetry provider: %w", err)
	}

	store, err := cfg.buildStore()
	if err != nil {
		return nil, err
	}

	engineOpts := []engine.Option{
		engine.WithStorage(store),
		engine.WithConfig(engine.Config{
			InitialTimeout:    cfg.initialTimeout,
			FetchTimeout:      cfg.fetchTimeout,
			Offline:           cfg.offline,
			BackgroundRefresh: cfg.backgroundRefresh,
			Defaults:          cfg.defaults,
		}),
		engine.WithLogger(logger),
		engine.WithTelemetry(c.tel),
	}

	ev := cfg.evaluator
	if ev == nil {
		ev = evaluator.New()
	}
	engineOpts = append(engineOpts, engine.WithEvaluator(ev))

	poster := cfg.poster
	if poster == nil {
		poster = transport.NewHTTPPoster(cfg.transportConfig())
	}

	if !cfg.offline {
		scheduler, err := refresh.New(cfg.buildFetcher(), store, refresh.Config{
			PollInterval: cfg.pollInterval,
			FetchTimeout: cfg.fetchTimeout,
			Breaker:      cfg.buildBreaker(logger),
			Logger:       logger,
			Telemetry:    c.tel,
		})
		if err != nil {
			_ = store.Close()
			return nil, fmt.Errorf("failed to create refresh scheduler: %w", err)
		}
		engineOpts = append(engineOpts, engine.WithScheduler(scheduler))

		dispatcher, queue, err := cfg.buildDispatcher(poster, logger, c.tel)
		if err != nil {
			_ = store.Close()
			return nil, err
		}
		engineOpts = append(engineOpts, engine.WithDispatcher(dispatcher))
		if queue != nil {
			engineOpts = append(engineOpts, engine.WithQueue(queue))
		}

		if cfg.snapshotDir != "" {
			snapshot, err := storage.NewDiskSnapshot(cfg.snapshotDir)
			if err != nil {
				_ = store.Close()
				return nil, fmt.Errorf("failed to create snapshot dir: %w", err)
			}
			engineOpts = append(engineOpts, engine.WithSnapshot(snapshot))
		}
	}

	c.engine, err = engine.New(engineOpts...)
	if err != nil {
		_ = store.Close()
		return nil, err
	}

	c.ingest = server.NewIngestHandler(poster, cfg.eventsURI, logger)
	c.binder = server.NewBinder(c, c.ingest, server.BinderConfig{
		Namespace:    cfg.eventsNamespace,
		FlushTimeout: cfg.flushTimeout,
		Logger:       logger,
	})

	if cfg.adminEnabled {
		c.admin = server.NewAdminServer(adminController{c}, cfg.adminPort, logger)
	}
	if cfg.webhookEnabled {
		c.webhook = server.NewWebhookServer(c, cfg.webhookPort, cfg.webhookSecret, logger)
	}

	return c, nil
}

func (cfg *clientConfig) buildTelemetry() (telemetry.Provider, bool, error) {
	if cfg.telemetry != nil {
		return cfg.telemetry, false, nil
	}
	if !cfg.otelEnabled {
		return telemetry.NewNoOp(), false, nil
	}

	var opts []telemetry.OTelOption
	if cfg.otelMeter != nil {
		opts = append(opts, telemetry.WithMeterProvider(cfg.otelMeter))
	}
	if cfg.otelTracer != nil {
		opts = append(opts, telemetry.WithTracerProvider(cfg.otelTracer))
	}
	p, err := telemetry.NewOTel(opts...)
	if err != nil {
		return nil, false, err
	}
	return p, true, nil
}

func (cfg *clientConfig) buildStore() (storage.Storage, error) {
	switch {
	case cfg.store != nil:
		return cfg.store, nil

	case cfg.redisURL != "":
		redisCfg := storage.DefaultRedisConfig()
		redisCfg.URL = cfg.redisURL
		redisCfg.Prefix = cfg.redisPrefix
		backend, err := storage.OpenRedisStore(context.Background(), redisCfg)
		if err != nil {
			return nil, fmt.Errorf("failed to open redis store: %w", err)
		}
		return cachedStore(backend)

	case cfg.sqlitePath != "":
		backend, err := storage.NewSQLiteStore(cfg.sqlitePath)
		if err != nil {
			return nil, fmt.Errorf("failed to open sqlite store: %w", err)
		}
		return cachedStore(backend)

	default:
		return storage.NewMemoryStore(), nil
	}
}

func cachedStore(backend storage.Storage) (storage.Storage, error) {
	store, err := storage.NewCachedStore(backend, storage.DefaultConfig())
	if err != nil {
		_ = backend.Close()
		return nil, fmt.Errorf("failed to create read-through cache: %w", err)
	}
	return store, nil
}

func (cfg *clientConfig) buildFetcher() fetcher.Fetcher {
	switch {
	case cfg.fetcher != nil:
		return cfg.fetcher
	case len(cfg.flagFiles) > 0:
		return fetcher.NewFileFetcher(cfg.flagFiles...)
	default:
		fc := fetcher.DefaultConfig()
		fc.BaseURI = cfg.baseURI
		fc.Transport = cfg.transportConfig()
		return fetcher.NewHTTPFetcher(fc)
	}
}

func (cfg *clientConfig) buildBreaker(logger *slog.Logger) *circuit.Breaker {
	if cfg.circuitThreshold <= 0 {
		return nil
	}

	logger = logger.With(logging.Component("circuit"))
	return circuit.New(circuit.Config{
		MaxFailures:      cfg.circuitThreshold,
		Timeout:          cfg.circuitTimeout,
		SuccessThreshold: 1,
		OnStateChange: func(from, to circuit.State) {
			logger.Warn("circuit breaker state changed",
				slog.String("from", from.String()),
				slog.String("to", to.String()),
			)
		},
	})
}

func (cfg *clientConfig) buildDispatcher(poster transport.Poster, logger *slog.Logger, tel telemetry.Provider) (*events.Dispatcher, *events.Queue, error) {
	var (
		delivery events.Delivery
		queue    *events.Queue
	)

	switch cfg.deliveryMode {
	case DeliverySync:
		delivery = events.NewSyncDelivery(poster, events.DeliveryConfig{
			URL:       cfg.eventsURI,
			Logger:    logger,
			Telemetry: tel,
		})
	default:
		qc := events.DefaultQueueConfig()
		qc.Size = cfg.queueSize
		qc.Workers = cfg.queueWorkers
		qc.Logger = logger
		qc.Telemetry = tel

		var err error
		queue, err = events.NewQueue(poster, qc)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to create delivery queue: %w", err)
		}

		target := cfg.eventsURI
		if cfg.eventsTaskURL != "" {
			target = cfg.eventsTaskURL
		}
		delivery = events.NewQueueDelivery(queue, target)
	}

	dispatcher, err := events.NewDispatcher(events.NewAccumulator(cfg.eventCapacity), delivery, logger, tel)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create event dispatcher: %w", err)
	}
	return dispatcher, queue, nil
}

// Start loads the initial flag set and starts delivery workers and the
// optional admin and webhook servers.
//
// The initial load is bounded by WithInitialTimeout. If it fails and no disk
// snapshot is available, Start returns the fetch error.
func (c *Client) Start(ctx context.Context) error {
	if err := c.engine.Start(ctx); err != nil {
		return err
	}

	if c.webhook != nil {
		c.serve("webhook", c.webhook.Start)
	}
	if c.admin != nil {
		c.serve("admin", c.admin.Start)
	}

	return nil
}

func (c *Client) serve(name string, start func() error) {
	c.serverWG.Add(1)
	go func() {
		defer c.serverWG.Done()
		if err := start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			c.logger.Error(name+" server error", logging.Error(err))
		}
	}()
}

// Stop flushes pending events, drains the delivery queue, saves the
// snapshot and closes the store. Servers are shut down first. Only the first
// call does any work.
func (c *Client) Stop(ctx context.Context) error {
	if !c.stopped.CompareAndSwap(false, true) {
		return nil
	}

	var errs []error

	if c.webhook != nil {
		if err := c.webhook.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("shutdown webhook server: %w", err))
		}
	}
	if c.admin != nil {
		if err := c.admin.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("shutdown admin server: %w", err))
		}
	}
	c.serverWG.Wait()

	if err := c.engine.Stop(ctx); err != nil {
		errs = append(errs, err)
	}

	if c.ownsTel {
		if err := c.tel.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("shutdown telemetry: %w", err))
		}
	}

	return errors.Join(errs...)
}

// Variation returns the value of flagKey for user, or def when the flag is
// missing or cannot be evaluated. It never fails.
//
// Example:
//
//	enabled := client.Variation(ctx, "new-checkout", pennant.NewUser("user-123"), false)
func (c *Client) Variation(ctx context.Context, flagKey string, user User, def any) any {
	return c.engine.Variation(ctx, flagKey, user, def)
}

// Evaluate is Variation with the full outcome: status, reason, variation
// index, flag version and the error behind a failed evaluation.
func (c *Client) Evaluate(ctx context.Context, flagKey string, user User, def any) Outcome {
	return c.engine.Evaluate(ctx, flagKey, user, def)
}

// BoolVariation evaluates a flag that serves booleans.
// Returns def if the flag is not found, fails, or serves another type.
func (c *Client) BoolVariation(ctx context.Context, flagKey string, user User, def bool) bool {
	v := c.Variation(ctx, flagKey, user, def)
	if b, ok := v.(bool); ok {
		return b
	}
	c.typeMismatch(flagKey, "bool", v)
	return def
}

// StringVariation evaluates a flag that serves strings.
func (c *Client) StringVariation(ctx context.Context, flagKey string, user User, def string) string {
	v := c.Variation(ctx, flagKey, user, def)
	if s, ok := v.(string); ok {
		return s
	}
	c.typeMismatch(flagKey, "string", v)
	return def
}

// IntVariation evaluates a flag that serves integers. JSON numbers with a
// fractional part are a type mismatch.
func (c *Client) IntVariation(ctx context.Context, flagKey string, user User, def int) int {
	v := c.Variation(ctx, flagKey, user, def)
	switch n := v.(type) {
	case int:
		return n
	case int64:
		return int(n)
	case float64:
		if n == math.Trunc(n) && !math.IsInf(n, 0) {
			return int(n)
		}
	}
	c.typeMismatch(flagKey, "int", v)
	return def
}

// Float64Variation evaluates a flag that serves numbers.
func (c *Client) Float64Variation(ctx context.Context, flagKey string, user User, def float64) float64 {
	v := c.Variation(ctx, flagKey, user, def)
	switch n := v.(type) {
	case float64:
		return n
	case int:
		return float64(n)
	case int64:
		return float64(n)
	}
	c.typeMismatch(flagKey, "float64", v)
	return def
}

// JSONVariation evaluates a flag that serves a JSON object.
func (c *Client) JSONVariation(ctx context.Context, flagKey string, user User, def map[string]any) map[string]any {
	v := c.Variation(ctx, flagKey, user, def)
	if m, ok := v.(map[string]any); ok {
		return m
	}
	c.typeMismatch(flagKey, "object", v)
	return def
}

func (c *Client) typeMismatch(flagKey, want string, got any) {
	c.logger.Warn("flag value has unexpected type, returning default",
		logging.FlagKey(flagKey),
		slog.String("want", want),
		slog.String("got", fmt.Sprintf("%T", got)),
	)
}

// Flush hands pending events to the delivery strategy. Flushing with no
// pending events does nothing.
func (c *Client) Flush(ctx context.Context) error {
	return c.engine.Flush(ctx)
}

// Refresh reloads the flag set now, regardless of staleness.
func (c *Client) Refresh(ctx context.Context) error {
	return c.engine.Refresh(ctx)
}

// Ready reports whether a flag set has been loaded.
func (c *Client) Ready() bool {
	return c.engine.Ready()
}

// Metrics returns current store, refresh, evaluation and event metrics.
func (c *Client) Metrics() Metrics {
	return c.engine.Metrics()
}

// Middleware binds the client to every request passing through next and
// flushes pending events when the request ends, including when next panics.
// Requests to ReservedPath are forwarded to the collector instead.
//
// Example:
//
//	http.ListenAndServe(":8080", client.Middleware(mux))
//
// Handlers then evaluate through the request context:
//
//	if pennant.BoolVariation(r.Context(), "new-checkout", user, false) { ... }
func (c *Client) Middleware(next http.Handler) http.Handler {
	return c.binder.Middleware(next)
}

// ReservedPath is the ingestion path served by Middleware.
func (c *Client) ReservedPath() string {
	return c.binder.ReservedPath()
}

// EventsHandler forwards posted event batches verbatim to the collector. It
// is what Middleware serves on ReservedPath.
func (c *Client) EventsHandler() http.Handler {
	return c.ingest
}

// adminController exposes the client to the admin server.
type adminController struct {
	c *Client
}

func (a adminController) Ready() bool                       { return a.c.Ready() }
func (a adminController) Stats() any                        { return a.c.Metrics() }
func (a adminController) Refresh(ctx context.Context) error { return a.c.Refresh(ctx) }
func (a adminController) Flush(ctx context.Context) error   { return a.c.Flush(ctx) }
