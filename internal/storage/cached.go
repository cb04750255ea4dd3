package storage

import (
	"context"
	"strconv"
	"sync/atomic"

	"github.com/dgraph-io/ristretto"

	"github.com/OrlandoBitencourt/pennant/internal/domain"
)

// cachedFlag is stored for both hits and known misses.
type cachedFlag struct {
	flag  domain.Flag
	found bool
}

// CachedStore fronts a durable backend with a local Ristretto cache.
// Cache keys carry a generation number bumped on every Init, so a read that
// raced an Init can never be served after it.
type CachedStore struct {
	backend    Storage
	cache      *ristretto.Cache
	config     Config
	generation atomic.Uint64
}

// NewCachedStore wraps backend with a read-through cache.
func NewCachedStore(backend Storage, config Config) (*CachedStore, error) {
	cache, err := ristretto.NewCache(&ristretto.Config{
		NumCounters: config.NumCounters,
		MaxCost:     config.MaxCost,
		BufferItems: config.BufferItems,
		Metrics:     config.MetricsEnabled,
	})
	if err != nil {
		return nil, err
	}

	return &CachedStore{
		backend: backend,
		cache:   cache,
		config:  config,
	}, nil
}

func (c *CachedStore) cacheKey(gen uint64, key string) string {
	return strconv.FormatUint(gen, 10) + ":" + key
}

func (c *CachedStore) Init(ctx context.Context, flags map[string]domain.Flag) error {
	if err := c.backend.Init(ctx, flags); err != nil {
		return err
	}

	c.generation.Add(1)
	c.cache.Clear()
	return nil
}

func (c *CachedStore) Get(ctx context.Context, key string) (*domain.Flag, bool, error) {
	gen := c.generation.Load()
	ck := c.cacheKey(gen, key)

	if v, ok := c.cache.Get(ck); ok {
		if entry, ok := v.(cachedFlag); ok {
			if !entry.found {
				return nil, false, nil
			}
			out := entry.flag.Clone()
			return &out, true, nil
		}
	}

	flag, found, err := c.backend.Get(ctx, key)
	if err != nil {
		return nil, false, err
	}

	entry := cachedFlag{found: found}
	if found {
		entry.flag = flag.Clone()
	}
	c.cache.SetWithTTL(ck, entry, 1, c.config.TTL)

	return flag, found, nil
}

func (c *CachedStore) All(ctx context.Context) (map[string]domain.Flag, error) {
	return c.backend.All(ctx)
}

func (c *CachedStore) Initialized() bool {
	return c.backend.Initialized()
}

func (c *CachedStore) Metrics() Metrics {
	m := c.backend.Metrics()
	m.CacheHitRatio = c.cache.Metrics.Ratio()
	m.CacheEvicted = c.cache.Metrics.KeysEvicted()
	return m
}

// Wait blocks until buffered cache writes are applied.
func (c *CachedStore) Wait() {
	c.cache.Wait()
}

func (c *CachedStore) Close() error {
	c.cache.Close()
	return c.backend.Close()
}
