package pennant

import (
	"log/slog"
	"maps"
	"os"
	"time"

	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/OrlandoBitencourt/pennant/internal/events"
	"github.com/OrlandoBitencourt/pennant/internal/fetcher"
	"github.com/OrlandoBitencourt/pennant/internal/logging"
	"github.com/OrlandoBitencourt/pennant/internal/server"
	"github.com/OrlandoBitencourt/pennant/internal/storage"
	"github.com/OrlandoBitencourt/pennant/internal/transport"
)

// Option configures a pennant client.
type Option func(*clientConfig) error

// clientConfig holds internal configuration.
type clientConfig struct {
	sdkKey       string
	configSDKKey string

	baseURI        string
	eventsURI      string
	connectTimeout time.Duration
	readTimeout    time.Duration

	pollInterval      time.Duration
	initialTimeout    time.Duration
	fetchTimeout      time.Duration
	backgroundRefresh bool

	circuitThreshold int
	circuitTimeout   time.Duration

	offline  bool
	defaults map[string]any

	deliveryMode    string
	eventsNamespace string
	eventsTaskURL   string
	eventCapacity   int
	queueSize       int
	queueWorkers    int
	flushTimeout    time.Duration

	snapshotDir string
	redisURL    string
	redisPrefix string
	sqlitePath  string
	flagFiles   []string

	fetcher   fetcher.Fetcher
	store     storage.Storage
	evaluator Evaluator
	poster    transport.Poster

	logger    *slog.Logger
	logFormat string
	logLevel  string

	telemetry   Telemetry
	otelMeter   metric.MeterProvider
	otelTracer  trace.TracerProvider
	otelEnabled bool

	adminEnabled   bool
	adminPort      int
	webhookEnabled bool
	webhookPort    int
	webhookSecret  string
}

func defaultClientConfig() *clientConfig {
	return &clientConfig{
		baseURI:          fetcher.DefaultConfig().BaseURI,
		eventsURI:        "https://events.launchdarkly.com/bulk",
		connectTimeout:   transport.DefaultConfig().ConnectTimeout,
		readTimeout:      transport.DefaultConfig().ReadTimeout,
		pollInterval:     60 * time.Second,
		initialTimeout:   10 * time.Second,
		fetchTimeout:     5 * time.Second,
		circuitThreshold: 3,
		circuitTimeout:   30 * time.Second,
		deliveryMode:     DeliveryQueue,
		eventsNamespace:  server.DefaultNamespace,
		eventCapacity:    events.Unbounded,
		queueSize:        events.DefaultQueueConfig().Size,
		queueWorkers:     events.DefaultQueueConfig().Workers,
		flushTimeout:     server.DefaultFlushTimeout,
		redisPrefix:      storage.DefaultRedisConfig().Prefix,
	}
}

// validate reports the first invalid or conflicting setting.
func (c *clientConfig) validate() error {
	if c.sdkKey != "" && c.configSDKKey != "" && c.sdkKey != c.configSDKKey {
		return newConfigError("sdk_key", "SDK key given both directly and in Config with different values")
	}
	if c.redisURL != "" && c.sqlitePath != "" {
		return newConfigError("store", "Redis and SQLite stores are mutually exclusive")
	}
	if c.store != nil && (c.redisURL != "" || c.sqlitePath != "") {
		return newConfigError("store", "a custom store cannot be combined with Redis or SQLite")
	}
	if c.fetcher != nil && len(c.flagFiles) > 0 {
		return newConfigError("fetcher", "a custom fetcher cannot be combined with flag files")
	}
	if c.deliveryMode != DeliveryQueue && c.deliveryMode != DeliverySync {
		return newConfigError("delivery_mode", "must be %q or %q, got %q", DeliveryQueue, DeliverySync, c.deliveryMode)
	}

	for field, d := range map[string]time.Duration{
		"poll_interval":   c.pollInterval,
		"initial_timeout": c.initialTimeout,
		"fetch_timeout":   c.fetchTimeout,
		"connect_timeout": c.connectTimeout,
		"read_timeout":    c.readTimeout,
		"flush_timeout":   c.flushTimeout,
	} {
		if d <= 0 {
			return newConfigError(field, "must be positive, got %s", d)
		}
	}

	if c.circuitThreshold > 0 && c.circuitTimeout <= 0 {
		return newConfigError("circuit_timeout", "must be positive when the circuit breaker is enabled")
	}
	if c.eventCapacity < 0 {
		return newConfigError("event_capacity", "must not be negative, got %d", c.eventCapacity)
	}
	if c.queueSize <= 0 || c.queueWorkers <= 0 {
		return newConfigError("queue", "size and workers must be positive")
	}
	if c.eventsNamespace == "" {
		return newConfigError("events_namespace", "cannot be empty")
	}
	if c.adminEnabled && c.webhookEnabled && c.adminPort == c.webhookPort {
		return newConfigError("port", "admin and webhook servers cannot share port %d", c.adminPort)
	}
	return nil
}

func (c *clientConfig) effectiveSDKKey() string {
	if c.sdkKey != "" {
		return c.sdkKey
	}
	return c.configSDKKey
}

func (c *clientConfig) buildLogger() (*slog.Logger, error) {
	if c.logger != nil {
		return c.logger, nil
	}
	if c.logFormat == "" && c.logLevel == "" {
		return slog.Default(), nil
	}

	level := slog.LevelInfo
	if c.logLevel != "" {
		var err error
		if level, err = logging.ParseLevel(c.logLevel); err != nil {
			return nil, newConfigError("log_level", "%v", err)
		}
	}
	format := logging.Format(c.logFormat)
	if format == "" {
		format = logging.FormatText
	}
	logger, err := logging.New(os.Stderr, format, level)
	if err != nil {
		return nil, newConfigError("log_format", "%v", err)
	}
	return logger, nil
}

func (c *clientConfig) transportConfig() transport.Config {
	return transport.Config{
		SDKKey:         c.effectiveSDKKey(),
		ConnectTimeout: c.connectTimeout,
		ReadTimeout:    c.readTimeout,
	}
}

// WithSDKKey sets the key sent in the Authorization header.
//
// Example: pennant.WithSDKKey(os.Getenv("SDK_KEY"))
func WithSDKKey(key string) Option {
	return func(c *clientConfig) error {
		if key == "" {
			return newConfigError("sdk_key", "cannot be empty")
		}
		c.sdkKey = key
		return nil
	}
}

// WithBaseURI sets the flag service base URI.
// Default: https://app.launchdarkly.com
func WithBaseURI(uri string) Option {
	return func(c *clientConfig) error {
		if uri == "" {
			return newConfigError("base_uri", "cannot be empty")
		}
		c.baseURI = uri
		return nil
	}
}

// WithEventsURI sets the collector that receives event batches.
func WithEventsURI(uri string) Option {
	return func(c *clientConfig) error {
		if uri == "" {
			return newConfigError("events_uri", "cannot be empty")
		}
		c.eventsURI = uri
		return nil
	}
}

// WithPollInterval sets how long a fetched flag set stays fresh.
// Default: 60 seconds
func WithPollInterval(interval time.Duration) Option {
	return func(c *clientConfig) error {
		c.pollInterval = interval
		return nil
	}
}

// WithTimeouts sets the connect and read timeouts used for every request.
// Default: 2s connect, 10s read
func WithTimeouts(connect, read time.Duration) Option {
	return func(c *clientConfig) error {
		c.connectTimeout = connect
		c.readTimeout = read
		return nil
	}
}

// WithInitialTimeout sets the timeout for the initial flag load.
// Default: 10 seconds
func WithInitialTimeout(timeout time.Duration) Option {
	return func(c *clientConfig) error {
		c.initialTimeout = timeout
		return nil
	}
}

// WithFetchTimeout bounds a refresh started from a variation call.
// Default: 5 seconds
func WithFetchTimeout(timeout time.Duration) Option {
	return func(c *clientConfig) error {
		c.fetchTimeout = timeout
		return nil
	}
}

// WithOffline disables fetching and event delivery. Every variation call
// returns its default.
func WithOffline(offline bool) Option {
	return func(c *clientConfig) error {
		c.offline = offline
		return nil
	}
}

// WithDefault sets a static default for one flag. It overrides the default
// passed to variation calls.
//
// Example: pennant.WithDefault("new-checkout", false)
func WithDefault(flagKey string, value any) Option {
	return func(c *clientConfig) error {
		if flagKey == "" {
			return newConfigError("defaults", "flag key cannot be empty")
		}
		if c.defaults == nil {
			c.defaults = make(map[string]any)
		}
		c.defaults[flagKey] = value
		return nil
	}
}

// WithDefaults sets static defaults for several flags.
func WithDefaults(defaults map[string]any) Option {
	return func(c *clientConfig) error {
		if c.defaults == nil {
			c.defaults = make(map[string]any, len(defaults))
		}
		maps.Copy(c.defaults, defaults)
		return nil
	}
}

// WithDeliveryMode selects how flushed batches reach the collector.
// Options: "queue" (background workers), "sync" (post before Flush returns)
// Default: "queue"
func WithDeliveryMode(mode string) Option {
	return func(c *clientConfig) error {
		if mode != DeliveryQueue && mode != DeliverySync {
			return newConfigError("delivery_mode", "must be %q or %q, got %q", DeliveryQueue, DeliverySync, mode)
		}
		c.deliveryMode = mode
		return nil
	}
}

// WithEventsNamespace sets the namespace of the reserved ingestion path
// POST /_<namespace>/events.
// Default: "pennant"
func WithEventsNamespace(namespace string) Option {
	return func(c *clientConfig) error {
		c.eventsNamespace = namespace
		return nil
	}
}

// WithEventsTaskURL makes queued batches post to url instead of the
// collector, typically this service's own reserved ingestion path.
//
// Example: pennant.WithEventsTaskURL("http://localhost:8080/_pennant/events")
func WithEventsTaskURL(url string) Option {
	return func(c *clientConfig) error {
		c.eventsTaskURL = url
		return nil
	}
}

// WithQueue sizes the delivery queue used in "queue" mode.
// Default: 100 batches, 2 workers
func WithQueue(size, workers int) Option {
	return func(c *clientConfig) error {
		c.queueSize = size
		c.queueWorkers = workers
		return nil
	}
}

// WithEventCapacity caps the number of pending events. Events recorded
// past the cap are dropped. Zero keeps every event.
// Default: 0
func WithEventCapacity(capacity int) Option {
	return func(c *clientConfig) error {
		c.eventCapacity = capacity
		return nil
	}
}

// WithFlushTimeout bounds the flush run by the middleware after each request.
// Default: 5 seconds
func WithFlushTimeout(timeout time.Duration) Option {
	return func(c *clientConfig) error {
		c.flushTimeout = timeout
		return nil
	}
}

// WithBackgroundRefresh also refreshes flags on a timer. Variation calls
// still refresh a stale store inline.
func WithBackgroundRefresh(enabled bool) Option {
	return func(c *clientConfig) error {
		c.backgroundRefresh = enabled
		return nil
	}
}

// WithCircuitBreaker configures the circuit breaker around flag fetches.
// A threshold of 0 disables it.
//
// Example: pennant.WithCircuitBreaker(3, 30*time.Second)
func WithCircuitBreaker(threshold int, timeout time.Duration) Option {
	return func(c *clientConfig) error {
		if threshold < 0 {
			return newConfigError("circuit_threshold", "cannot be negative")
		}
		c.circuitThreshold = threshold
		c.circuitTimeout = timeout
		return nil
	}
}

// WithSnapshotDir persists the flag set to dir after every refresh and
// serves it when the initial load fails.
func WithSnapshotDir(dir string) Option {
	return func(c *clientConfig) error {
		c.snapshotDir = dir
		return nil
	}
}

// WithRedisStore keeps flags in Redis so several processes share one set.
//
// Example: pennant.WithRedisStore("redis://localhost:6379/0", "pennant")
func WithRedisStore(url, prefix string) Option {
	return func(c *clientConfig) error {
		if url == "" {
			return newConfigError("redis_url", "cannot be empty")
		}
		c.redisURL = url
		if prefix != "" {
			c.redisPrefix = prefix
		}
		return nil
	}
}

// WithSQLiteStore keeps flags in a SQLite database file.
func WithSQLiteStore(path string) Option {
	return func(c *clientConfig) error {
		if path == "" {
			return newConfigError("sqlite_path", "cannot be empty")
		}
		c.sqlitePath = path
		return nil
	}
}

// WithFlagFile loads flags from local JSON or YAML files instead of the
// flag service. Later files win on duplicate keys.
func WithFlagFile(paths ...string) Option {
	return func(c *clientConfig) error {
		if len(paths) == 0 {
			return newConfigError("flag_files", "at least one path is required")
		}
		c.flagFiles = append(c.flagFiles, paths...)
		return nil
	}
}

// WithFetcher replaces the flag source.
func WithFetcher(f Fetcher) Option {
	return func(c *clientConfig) error {
		c.fetcher = f
		return nil
	}
}

// WithStore replaces the flag store.
func WithStore(s Store) Option {
	return func(c *clientConfig) error {
		c.store = s
		return nil
	}
}

// WithEvaluator replaces the flag evaluator.
func WithEvaluator(ev Evaluator) Option {
	return func(c *clientConfig) error {
		c.evaluator = ev
		return nil
	}
}

// WithPoster replaces the transport used to deliver event batches.
func WithPoster(p Poster) Option {
	return func(c *clientConfig) error {
		c.poster = p
		return nil
	}
}

// WithLogger sets the logger. Default: slog.Default()
func WithLogger(logger *slog.Logger) Option {
	return func(c *clientConfig) error {
		c.logger = logger
		return nil
	}
}

// WithTelemetry sets a custom telemetry provider.
func WithTelemetry(p Telemetry) Option {
	return func(c *clientConfig) error {
		c.telemetry = p
		return nil
	}
}

// WithOTel records metrics and spans with OpenTelemetry. Nil providers
// fall back to the global ones.
func WithOTel(mp metric.MeterProvider, tp trace.TracerProvider) Option {
	return func(c *clientConfig) error {
		c.otelEnabled = true
		c.otelMeter = mp
		c.otelTracer = tp
		return nil
	}
}

// AdminConfig configures the admin server.
type AdminConfig struct {
	Port int
}

// WebhookConfig configures the webhook server.
type WebhookConfig struct {
	Port int

	// Secret validates the X-Webhook-Signature header (HMAC-SHA256).
	// Empty disables validation.
	Secret string
}

// WithAdminServer enables the admin HTTP server.
//
// Endpoints:
//   - GET /health
//   - GET /admin/stats
//   - POST /admin/refresh
//   - POST /admin/flush
func WithAdminServer(config AdminConfig) Option {
	return func(c *clientConfig) error {
		if err := validatePort("admin_port", config.Port); err != nil {
			return err
		}
		c.adminEnabled = true
		c.adminPort = config.Port
		return nil
	}
}

// WithWebhook enables the webhook server. A flag.updated or flag.deleted
// event posted to /webhook refreshes the flag set immediately.
//
// Payload:
//
//	{
//	  "event": "flag.updated",
//	  "flag_keys": ["new-checkout"],
//	  "timestamp": "2026-01-15T10:30:00Z"
//	}
func WithWebhook(config WebhookConfig) Option {
	return func(c *clientConfig) error {
		if err := validatePort("webhook_port", config.Port); err != nil {
			return err
		}
		c.webhookEnabled = true
		c.webhookPort = config.Port
		c.webhookSecret = config.Secret
		return nil
	}
}

func validatePort(field string, port int) error {
	if port <= 0 || port > 65535 {
		return newConfigError(field, "must be between 1 and 65535, got %d", port)
	}
	return nil
}

// WithConfig applies a full Config struct, usually one from LoadConfig.
// Zero values leave the current setting unchanged.
func WithConfig(cfg Config) Option {
	return func(c *clientConfig) error {
		c.configSDKKey = cfg.SDKKey

		setString(&c.baseURI, cfg.BaseURI)
		setString(&c.eventsURI, cfg.EventsURI)
		setDuration(&c.connectTimeout, cfg.ConnectTimeout)
		setDuration(&c.readTimeout, cfg.ReadTimeout)

		setDuration(&c.pollInterval, cfg.PollInterval)
		setDuration(&c.initialTimeout, cfg.InitialTimeout)
		c.backgroundRefresh = c.backgroundRefresh || cfg.BackgroundRefresh
		if cfg.CircuitThreshold > 0 {
			c.circuitThreshold = cfg.CircuitThreshold
		}
		setDuration(&c.circuitTimeout, cfg.CircuitTimeout)

		c.offline = c.offline || cfg.Offline
		setString(&c.deliveryMode, cfg.DeliveryMode)
		setString(&c.eventsNamespace, cfg.EventsNamespace)
		setString(&c.eventsTaskURL, cfg.EventsTaskURL)
		setInt(&c.eventCapacity, cfg.EventCapacity)
		setInt(&c.queueSize, cfg.QueueSize)
		setInt(&c.queueWorkers, cfg.QueueWorkers)
		setDuration(&c.flushTimeout, cfg.FlushTimeout)

		if defaults := cfg.DefaultValues(); len(defaults) > 0 {
			if c.defaults == nil {
				c.defaults = make(map[string]any, len(defaults))
			}
			maps.Copy(c.defaults, defaults)
		}

		setString(&c.snapshotDir, cfg.SnapshotDir)
		setString(&c.redisURL, cfg.RedisURL)
		setString(&c.redisPrefix, cfg.RedisPrefix)
		setString(&c.sqlitePath, cfg.SQLitePath)
		c.flagFiles = append(c.flagFiles, cfg.FlagFiles...)

		setString(&c.logFormat, cfg.LogFormat)
		setString(&c.logLevel, cfg.LogLevel)

		if cfg.AdminPort != 0 {
			if err := WithAdminServer(AdminConfig{Port: cfg.AdminPort})(c); err != nil {
				return err
			}
		}
		if cfg.WebhookPort != 0 {
			if err := WithWebhook(WebhookConfig{Port: cfg.WebhookPort, Secret: cfg.WebhookSecret})(c); err != nil {
				return err
			}
		}
		return nil
	}
}

func setString(dst *string, v string) {
	if v != "" {
		*dst = v
	}
}

func setDuration(dst *time.Duration, v time.Duration) {
	if v != 0 {
		*dst = v
	}
}

func setInt(dst *int, v int) {
	if v != 0 {
		*dst = v
	}
}
