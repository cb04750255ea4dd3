package fetcher

import (
	"context"
	"sync"

	"github.com/OrlandoBitencourt/pennant/internal/domain"
)

// MockFetcher is a mock implementation of Fetcher for testing
type MockFetcher struct {
	mu sync.RWMutex

	flags map[string]domain.Flag

	// Mock behaviors
	FetchAllFunc func(ctx context.Context) (map[string]domain.Flag, error)

	// Call tracking
	FetchAllCalls int
}

// NewMockFetcher creates a new mock fetcher
func NewMockFetcher() *MockFetcher {
	return &MockFetcher{
		flags: make(map[string]domain.Flag),
	}
}

// AddFlag adds a flag to the mock
func (m *MockFetcher) AddFlag(flag domain.Flag) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.flags[flag.Key] = flag
}

// RemoveFlag removes a flag from the mock
func (m *MockFetcher) RemoveFlag(key string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.flags, key)
}

// FetchAll returns all flags
func (m *MockFetcher) FetchAll(ctx context.Context) (map[string]domain.Flag, error) {
	m.mu.Lock()
	m.FetchAllCalls++
	fn := m.FetchAllFunc
	m.mu.Unlock()

	if fn != nil {
		return fn(ctx)
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	return copyFlags(m.flags), nil
}

// Calls returns how many times FetchAll ran.
func (m *MockFetcher) Calls() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.FetchAllCalls
}

// SetFetchFunc replaces FetchAllFunc under the mock's lock.
func (m *MockFetcher) SetFetchFunc(fn func(ctx context.Context) (map[string]domain.Flag, error)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.FetchAllFunc = fn
}

// Reset resets the mock state
func (m *MockFetcher) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.flags = make(map[string]domain.Flag)
	m.FetchAllFunc = nil
	m.FetchAllCalls = 0
}

// AssertCalled asserts FetchAll was called the expected number of times
func (m *MockFetcher) AssertCalled(t interface{ Errorf(string, ...interface{}) }, expected int) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.FetchAllCalls != expected {
		t.Errorf("FetchAll called %d times, expected %d", m.FetchAllCalls, expected)
	}
}
