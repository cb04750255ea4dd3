package storage

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/OrlandoBitencourt/pennant/internal/domain"
)

// MemoryStore keeps the flag set in an immutable map that is swapped on Init.
type MemoryStore struct {
	flags atomic.Pointer[map[string]domain.Flag]

	inits    atomic.Uint64
	hits     atomic.Uint64
	misses   atomic.Uint64
	lastInit atomic.Int64
}

// NewMemoryStore creates an empty, uninitialized store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

func (m *MemoryStore) Init(ctx context.Context, flags map[string]domain.Flag) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	next := live(flags)
	for k, f := range next {
		next[k] = f.Clone()
	}

	m.flags.Store(&next)
	m.inits.Add(1)
	m.lastInit.Store(time.Now().UnixNano())
	return nil
}

func (m *MemoryStore) Get(ctx context.Context, key string) (*domain.Flag, bool, error) {
	current := m.flags.Load()
	if current == nil {
		m.misses.Add(1)
		return nil, false, nil
	}

	f, ok := (*current)[key]
	if !ok {
		m.misses.Add(1)
		return nil, false, nil
	}

	m.hits.Add(1)
	out := f.Clone()
	return &out, true, nil
}

func (m *MemoryStore) All(ctx context.Context) (map[string]domain.Flag, error) {
	current := m.flags.Load()
	if current == nil {
		return map[string]domain.Flag{}, nil
	}

	out := make(map[string]domain.Flag, len(*current))
	for k, f := range *current {
		out[k] = f.Clone()
	}
	return out, nil
}

func (m *MemoryStore) Initialized() bool {
	return m.flags.Load() != nil
}

func (m *MemoryStore) Metrics() Metrics {
	var size int64
	if current := m.flags.Load(); current != nil {
		size = int64(len(*current))
	}

	var last time.Time
	if ns := m.lastInit.Load(); ns > 0 {
		last = time.Unix(0, ns)
	}

	return Metrics{
		Backend:  "memory",
		Size:     size,
		Inits:    m.inits.Load(),
		Hits:     m.hits.Load(),
		Misses:   m.misses.Load(),
		LastInit: last,
	}
}

func (m *MemoryStore) Close() error { return nil }
