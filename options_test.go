package pennant

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/OrlandoBitencourt/pennant/internal/logging"
)

func TestNew_InvalidOptions(t *testing.T) {
	tests := []struct {
		name  string
		opts  []Option
		field string
	}{
		{
			name:  "empty sdk key",
			opts:  []Option{WithSDKKey("")},
			field: "sdk_key",
		},
		{
			name:  "sdk key conflict",
			opts:  []Option{WithSDKKey("a"), WithConfig(Config{SDKKey: "b"})},
			field: "sdk_key",
		},
		{
			name:  "redis and sqlite",
			opts:  []Option{WithRedisStore("redis://localhost:6379/0", ""), WithSQLiteStore("flags.db")},
			field: "store",
		},
		{
			name:  "unknown delivery mode",
			opts:  []Option{WithDeliveryMode("carrier-pigeon")},
			field: "delivery_mode",
		},
		{
			name:  "unknown delivery mode from config",
			opts:  []Option{WithConfig(Config{DeliveryMode: "later"})},
			field: "delivery_mode",
		},
		{
			name:  "zero poll interval",
			opts:  []Option{WithPollInterval(0)},
			field: "poll_interval",
		},
		{
			name:  "negative read timeout",
			opts:  []Option{WithTimeouts(time.Second, -time.Second)},
			field: "read_timeout",
		},
		{
			name:  "negative circuit threshold",
			opts:  []Option{WithCircuitBreaker(-1, time.Second)},
			field: "circuit_threshold",
		},
		{
			name:  "negative event capacity",
			opts:  []Option{WithEventCapacity(-1)},
			field: "event_capacity",
		},
		{
			name:  "empty namespace",
			opts:  []Option{WithEventsNamespace("")},
			field: "events_namespace",
		},
		{
			name:  "zero queue workers",
			opts:  []Option{WithQueue(10, 0)},
			field: "queue",
		},
		{
			name:  "admin port out of range",
			opts:  []Option{WithAdminServer(AdminConfig{Port: 70000})},
			field: "admin_port",
		},
		{
			name:  "shared server port",
			opts:  []Option{WithAdminServer(AdminConfig{Port: 9000}), WithWebhook(WebhookConfig{Port: 9000})},
			field: "port",
		},
		{
			name:  "invalid log level",
			opts:  []Option{WithConfig(Config{LogLevel: "loud"})},
			field: "log_level",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := New(append([]Option{WithOffline(true)}, tt.opts...)...)
			require.Error(t, err)
			require.True(t, IsConfigError(err), "got %v", err)

			var cfgErr *ConfigError
			require.ErrorAs(t, err, &cfgErr)
			assert.Equal(t, tt.field, cfgErr.Field)
		})
	}
}

func TestNew_SameSDKKeyTwiceIsAccepted(t *testing.T) {
	_, err := New(
		WithOffline(true),
		WithSDKKey("same"),
		WithConfig(Config{SDKKey: "same"}),
		WithLogger(logging.Discard()),
	)
	assert.NoError(t, err)
}

func TestWithConfig_AppliesNonZeroFields(t *testing.T) {
	cfg := defaultClientConfig()

	err := WithConfig(Config{
		SDKKey:          "env-key",
		BaseURI:         "http://flags.local",
		PollInterval:    5 * time.Second,
		DeliveryMode:    DeliverySync,
		EventsNamespace: "app",
		Defaults:        map[string]string{"limit": "3", "banner": "hi", "on": "true"},
		FlagFiles:       []string{"a.yaml"},
		AdminPort:       9100,
	})(cfg)
	require.NoError(t, err)

	assert.Equal(t, "env-key", cfg.effectiveSDKKey())
	assert.Equal(t, "http://flags.local", cfg.baseURI)
	assert.Equal(t, 5*time.Second, cfg.pollInterval)
	assert.Equal(t, DeliverySync, cfg.deliveryMode)
	assert.Equal(t, "app", cfg.eventsNamespace)
	assert.Equal(t, []string{"a.yaml"}, cfg.flagFiles)
	assert.Equal(t, map[string]any{"limit": float64(3), "banner": "hi", "on": true}, cfg.defaults)
	assert.True(t, cfg.adminEnabled)
	assert.Equal(t, 9100, cfg.adminPort)

	// untouched
	assert.Equal(t, 10*time.Second, cfg.initialTimeout)
	assert.Equal(t, 3, cfg.circuitThreshold)
	require.NoError(t, cfg.validate())
}

func TestWithDefaults_Merges(t *testing.T) {
	cfg := defaultClientConfig()

	require.NoError(t, WithDefault("a", 1)(cfg))
	require.NoError(t, WithDefaults(map[string]any{"b": 2, "a": 3})(cfg))

	assert.Equal(t, map[string]any{"a": 3, "b": 2}, cfg.defaults)
	assert.Error(t, WithDefault("", 1)(cfg))
}

func TestBuildLogger(t *testing.T) {
	cfg := defaultClientConfig()
	cfg.logFormat = "json"
	cfg.logLevel = "debug"

	logger, err := cfg.buildLogger()
	require.NoError(t, err)
	require.NotNil(t, logger)

	cfg.logFormat = "xml"
	_, err = cfg.buildLogger()
	assert.True(t, IsConfigError(err))
}

func TestNew_SQLiteStore(t *testing.T) {
	client, err := New(
		WithOffline(true),
		WithSQLiteStore(t.TempDir()+"/flags.db"),
		WithLogger(logging.Discard()),
	)
	require.NoError(t, err)
	assert.Equal(t, "sqlite", client.Metrics().Storage.Backend)
}
