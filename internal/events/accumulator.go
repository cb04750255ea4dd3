// Package events accumulates analytics events produced by evaluation and
// hands them to a delivery strategy in batches.
package events

import (
	"maps"
	"sync"
	"time"

	"github.com/OrlandoBitencourt/pennant/internal/domain"
)

// Unbounded is the capacity of an accumulator that never drops events.
const Unbounded = 0

// Accumulator is an append-only buffer of pending events. Record and Drain
// share one mutex, so an event is either in the drained batch or in the next one.
type Accumulator struct {
	mu        sync.Mutex
	pending   []domain.Event
	capacity  int
	lastStamp int64
	recorded  uint64
	dropped   uint64
	now       func() time.Time
}

// NewAccumulator creates an accumulator. A non-positive capacity never drops events.
func NewAccumulator(capacity int) *Accumulator {
	if capacity < 0 {
		capacity = Unbounded
	}
	return &Accumulator{
		capacity: capacity,
		now:      time.Now,
	}
}

// Record appends events and stamps their creation date in milliseconds. The
// stamp never decreases within one accumulator. The user's custom attributes
// are copied so later changes by the caller do not reach a pending event.
// With a capacity set, events beyond it are dropped and counted.
func (a *Accumulator) Record(events ...domain.Event) (dropped int) {
	if len(events) == 0 {
		return 0
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	stamp := a.now().UnixMilli()
	if stamp < a.lastStamp {
		stamp = a.lastStamp
	}
	a.lastStamp = stamp

	for _, e := range events {
		if a.capacity > 0 && len(a.pending) >= a.capacity {
			dropped++
			continue
		}
		e.CreationDate = stamp
		e.User.Custom = maps.Clone(e.User.Custom)
		a.pending = append(a.pending, e)
	}

	a.recorded += uint64(len(events) - dropped)
	a.dropped += uint64(dropped)
	return dropped
}

// Drain returns every pending event in recording order and leaves the buffer empty.
func (a *Accumulator) Drain() []domain.Event {
	a.mu.Lock()
	defer a.mu.Unlock()

	batch := a.pending
	a.pending = nil
	return batch
}

// Len returns the number of pending events.
func (a *Accumulator) Len() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.pending)
}

// Stats returns accumulator counters.
func (a *Accumulator) Stats() AccumulatorStats {
	a.mu.Lock()
	defer a.mu.Unlock()
	return AccumulatorStats{
		Pending:  len(a.pending),
		Recorded: a.recorded,
		Dropped:  a.dropped,
	}
}

// AccumulatorStats represents accumulator counters
type AccumulatorStats struct {
	Pending  int    `json:"pending"`
	Recorded uint64 `json:"recorded"`
	Dropped  uint64 `json:"dropped"`
}
