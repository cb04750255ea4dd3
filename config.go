package pennant

import (
	"encoding/json"
	"errors"
	"io/fs"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

// Delivery modes.
const (
	DeliveryQueue = "queue"
	DeliverySync  = "sync"
)

// ErrParsingConfig wraps environment parsing failures.
var ErrParsingConfig = errors.New("failed to parse pennant config from environment")

// Config holds all configuration for a pennant client. It can be filled from
// the environment with LoadConfig and applied with WithConfig.
type Config struct {
	// Flag service
	SDKKey         string        `env:"PENNANT_SDK_KEY"`
	BaseURI        string        `env:"PENNANT_BASE_URI" envDefault:"https://app.launchdarkly.com"`
	EventsURI      string        `env:"PENNANT_EVENTS_URI" envDefault:"https://events.launchdarkly.com/bulk"`
	ConnectTimeout time.Duration `env:"PENNANT_CONNECT_TIMEOUT" envDefault:"2s"`
	ReadTimeout    time.Duration `env:"PENNANT_READ_TIMEOUT" envDefault:"10s"`

	// Refresh
	PollInterval      time.Duration `env:"PENNANT_POLL_INTERVAL" envDefault:"60s"`
	InitialTimeout    time.Duration `env:"PENNANT_INITIAL_TIMEOUT" envDefault:"10s"`
	BackgroundRefresh bool          `env:"PENNANT_BACKGROUND_REFRESH"`
	CircuitThreshold  int           `env:"PENNANT_CIRCUIT_THRESHOLD" envDefault:"3"`
	CircuitTimeout    time.Duration `env:"PENNANT_CIRCUIT_TIMEOUT" envDefault:"30s"`

	// Events
	Offline         bool          `env:"PENNANT_OFFLINE"`
	DeliveryMode    string        `env:"PENNANT_DELIVERY_MODE" envDefault:"queue"`
	EventsNamespace string        `env:"PENNANT_EVENTS_NAMESPACE" envDefault:"pennant"`
	EventsTaskURL   string        `env:"PENNANT_EVENTS_TASK_URL"`
	EventCapacity   int           `env:"PENNANT_EVENT_CAPACITY"`
	QueueSize       int           `env:"PENNANT_QUEUE_SIZE" envDefault:"100"`
	QueueWorkers    int           `env:"PENNANT_QUEUE_WORKERS" envDefault:"2"`
	FlushTimeout    time.Duration `env:"PENNANT_FLUSH_TIMEOUT" envDefault:"5s"`

	// Defaults maps flag keys to JSON values, e.g. PENNANT_DEFAULTS=new-checkout:false,banner:"hi".
	// Values that are not valid JSON are used as strings.
	Defaults map[string]string `env:"PENNANT_DEFAULTS" envKeyValSeparator:":"`

	// Storage
	SnapshotDir string   `env:"PENNANT_SNAPSHOT_DIR"`
	RedisURL    string   `env:"PENNANT_REDIS_URL"`
	RedisPrefix string   `env:"PENNANT_REDIS_PREFIX" envDefault:"pennant"`
	SQLitePath  string   `env:"PENNANT_SQLITE_PATH"`
	FlagFiles   []string `env:"PENNANT_FLAG_FILES" envSeparator:","`

	// Logging
	LogFormat string `env:"PENNANT_LOG_FORMAT" envDefault:"text"`
	LogLevel  string `env:"PENNANT_LOG_LEVEL" envDefault:"info"`

	// Servers (0 disables)
	AdminPort     int    `env:"PENNANT_ADMIN_PORT"`
	WebhookPort   int    `env:"PENNANT_WEBHOOK_PORT"`
	WebhookSecret string `env:"PENNANT_WEBHOOK_SECRET"`
}

// LoadConfig reads .env files (the default .env when none are given; missing
// files are ignored) and parses PENNANT_* variables.
//
// Example:
//
//	cfg, err := pennant.LoadConfig()
//	if err != nil {
//	    log.Fatal(err)
//	}
//	client, err := pennant.New(pennant.WithConfig(cfg))
func LoadConfig(filenames ...string) (Config, error) {
	if err := godotenv.Load(filenames...); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return Config{}, errors.Join(ErrParsingConfig, err)
	}

	cfg, err := env.ParseAs[Config]()
	if err != nil {
		return Config{}, errors.Join(ErrParsingConfig, err)
	}
	return cfg, nil
}

// DefaultValues decodes Defaults.
func (c Config) DefaultValues() map[string]any {
	if len(c.Defaults) == 0 {
		return nil
	}

	out := make(map[string]any, len(c.Defaults))
	for key, raw := range c.Defaults {
		var v any
		if err := json.Unmarshal([]byte(raw), &v); err != nil {
			v = raw
		}
		out[key] = v
	}
	return out
}
