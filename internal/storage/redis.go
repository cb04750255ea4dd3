package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/OrlandoBitencourt/pennant/internal/domain"
)

var (
	ErrFailedToParseRedisConnString = errors.New("failed to parse redis connection string")
	ErrRedisNotReady                = errors.New("redis did not become ready within the given time period")
)

// RedisConfig holds Redis connection settings.
type RedisConfig struct {
	URL            string
	Prefix         string
	RetryAttempts  int
	RetryInterval  time.Duration
	ConnectTimeout time.Duration
}

// DefaultRedisConfig returns default Redis settings.
func DefaultRedisConfig() RedisConfig {
	return RedisConfig{
		URL:            "redis://localhost:6379/0",
		Prefix:         "pennant",
		RetryAttempts:  3,
		RetryInterval:  time.Second,
		ConnectTimeout: 10 * time.Second,
	}
}

// ConnectRedis parses the URL, then pings until the server answers or the attempts run out.
func ConnectRedis(ctx context.Context, cfg RedisConfig) (*redis.Client, error) {
	ctx, cancel := context.WithTimeout(ctx, cfg.ConnectTimeout)
	defer cancel()

	opt, err := redis.ParseURL(cfg.URL)
	if err != nil {
		return nil, errors.Join(ErrFailedToParseRedisConnString, err)
	}

	attempts := max(cfg.RetryAttempts, 1)
	for range attempts {
		client := redis.NewClient(opt)
		if err := client.Ping(ctx).Err(); err == nil {
			return client, nil
		}
		_ = client.Close()

		select {
		case <-ctx.Done():
			return nil, errors.Join(ErrRedisNotReady, ctx.Err())
		case <-time.After(cfg.RetryInterval):
		}
	}

	return nil, ErrRedisNotReady
}

// RedisStore keeps all flags in one Redis hash so several processes can
// share a single flag set. Init replaces the hash inside MULTI/EXEC.
type RedisStore struct {
	client *redis.Client
	key    string
	owned  bool

	inits    atomic.Uint64
	hits     atomic.Uint64
	misses   atomic.Uint64
	errs     atomic.Uint64
	size     atomic.Int64
	lastInit atomic.Int64
}

// NewRedisStore uses an existing client. The caller keeps ownership of it.
func NewRedisStore(client *redis.Client, prefix string) *RedisStore {
	if prefix == "" {
		prefix = DefaultRedisConfig().Prefix
	}
	return &RedisStore{
		client: client,
		key:    prefix + ":features",
	}
}

// OpenRedisStore connects with cfg and closes the client on Close.
func OpenRedisStore(ctx context.Context, cfg RedisConfig) (*RedisStore, error) {
	client, err := ConnectRedis(ctx, cfg)
	if err != nil {
		return nil, err
	}

	s := NewRedisStore(client, cfg.Prefix)
	s.owned = true
	return s, nil
}

func (r *RedisStore) initKey() string {
	return r.key + ":$inited"
}

func (r *RedisStore) Init(ctx context.Context, flags map[string]domain.Flag) error {
	flags = live(flags)

	values := make(map[string]any, len(flags))
	for k, f := range flags {
		data, err := json.Marshal(f)
		if err != nil {
			return domain.NewStoreError("init", k, err)
		}
		values[k] = data
	}

	_, err := r.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, r.key)
		if len(values) > 0 {
			pipe.HSet(ctx, r.key, values)
		}
		pipe.Set(ctx, r.initKey(), time.Now().UnixMilli(), 0)
		return nil
	})
	if err != nil {
		r.errs.Add(1)
		return domain.NewStoreError("init", "", err)
	}

	r.inits.Add(1)
	r.size.Store(int64(len(values)))
	r.lastInit.Store(time.Now().UnixNano())
	return nil
}

func (r *RedisStore) Get(ctx context.Context, key string) (*domain.Flag, bool, error) {
	data, err := r.client.HGet(ctx, r.key, key).Bytes()
	if errors.Is(err, redis.Nil) {
		r.misses.Add(1)
		return nil, false, nil
	}
	if err != nil {
		r.errs.Add(1)
		return nil, false, domain.NewStoreError("get", key, err)
	}

	var flag domain.Flag
	if err := json.Unmarshal(data, &flag); err != nil {
		r.errs.Add(1)
		return nil, false, domain.NewStoreError("get", key, fmt.Errorf("decode: %w", err))
	}
	if flag.Deleted {
		r.misses.Add(1)
		return nil, false, nil
	}

	r.hits.Add(1)
	return &flag, true, nil
}

func (r *RedisStore) All(ctx context.Context) (map[string]domain.Flag, error) {
	raw, err := r.client.HGetAll(ctx, r.key).Result()
	if err != nil {
		return nil, domain.NewStoreError("all", "", err)
	}

	out := make(map[string]domain.Flag, len(raw))
	for k, v := range raw {
		var flag domain.Flag
		if err := json.Unmarshal([]byte(v), &flag); err != nil {
			return nil, domain.NewStoreError("all", k, fmt.Errorf("decode: %w", err))
		}
		if !flag.Deleted {
			out[k] = flag
		}
	}
	return out, nil
}

// Initialized checks the shared marker, so a process attaching to a hash
// populated by another process reports true.
func (r *RedisStore) Initialized() bool {
	if r.inits.Load() > 0 {
		return true
	}
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	n, err := r.client.Exists(ctx, r.initKey()).Result()
	return err == nil && n > 0
}

func (r *RedisStore) Metrics() Metrics {
	var last time.Time
	if ns := r.lastInit.Load(); ns > 0 {
		last = time.Unix(0, ns)
	}
	return Metrics{
		Backend:  "redis",
		Size:     r.size.Load(),
		Inits:    r.inits.Load(),
		Hits:     r.hits.Load(),
		Misses:   r.misses.Load(),
		Errors:   r.errs.Load(),
		LastInit: last,
	}
}

// Healthcheck pings the server.
func (r *RedisStore) Healthcheck(ctx context.Context) error {
	if err := r.client.Ping(ctx).Err(); err != nil {
		return errors.Join(ErrRedisNotReady, err)
	}
	return nil
}

func (r *RedisStore) Close() error {
	if r.owned {
		return r.client.Close()
	}
	return nil
}
