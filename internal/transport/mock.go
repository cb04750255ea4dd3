package transport

import (
	"context"
	"sync"
)

// MockPoster is a mock implementation of Poster for testing
type MockPoster struct {
	mu sync.Mutex

	// Mock behaviors
	PostFunc func(ctx context.Context, url string, payload []byte) error

	// Call tracking
	PostCalls int
	URLs      []string
	Payloads  [][]byte
	delivered [][]byte
}

// NewMockPoster creates a new mock poster
func NewMockPoster() *MockPoster {
	return &MockPoster{}
}

// Post records the call and runs PostFunc when set.
func (m *MockPoster) Post(ctx context.Context, url string, payload []byte) error {
	m.mu.Lock()
	m.PostCalls++
	m.URLs = append(m.URLs, url)
	m.Payloads = append(m.Payloads, payload)
	fn := m.PostFunc
	m.mu.Unlock()

	var err error
	if fn != nil {
		err = fn(ctx, url, payload)
	}

	if err == nil {
		m.mu.Lock()
		m.delivered = append(m.delivered, payload)
		m.mu.Unlock()
	}
	return err
}

// SetPostFunc replaces PostFunc under the mock's lock.
func (m *MockPoster) SetPostFunc(fn func(ctx context.Context, url string, payload []byte) error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.PostFunc = fn
}

// Calls returns how many times Post ran.
func (m *MockPoster) Calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.PostCalls
}

// Delivered returns the payloads of successful posts.
func (m *MockPoster) Delivered() [][]byte {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([][]byte(nil), m.delivered...)
}

// AssertCalled asserts Post was called the expected number of times
func (m *MockPoster) AssertCalled(t interface{ Errorf(string, ...interface{}) }, expected int) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.PostCalls != expected {
		t.Errorf("Post called %d times, expected %d", m.PostCalls, expected)
	}
}
