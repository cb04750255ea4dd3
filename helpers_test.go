package pennant

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/OrlandoBitencourt/pennant/internal/domain"
	"github.com/OrlandoBitencourt/pennant/internal/fetcher"
	"github.com/OrlandoBitencourt/pennant/internal/logging"
)

// MockFlagServer serves the full flag set on /sdk/latest-flags.
type MockFlagServer struct {
	*httptest.Server
	mu       sync.RWMutex
	flags    map[string]domain.Flag
	status   int
	requests int
	authKeys []string
}

// NewMockFlagServer creates a new mock flag service
func NewMockFlagServer(t *testing.T) *MockFlagServer {
	mock := &MockFlagServer{
		flags:  make(map[string]domain.Flag),
		status: http.StatusOK,
	}

	mux := http.NewServeMux()
	mux.HandleFunc(fetcher.LatestFlagsPath, func(w http.ResponseWriter, r *http.Request) {
		mock.mu.Lock()
		mock.requests++
		mock.authKeys = append(mock.authKeys, r.Header.Get("Authorization"))
		status := mock.status
		flags := make(map[string]domain.Flag, len(mock.flags))
		for k, v := range mock.flags {
			flags[k] = v
		}
		mock.mu.Unlock()

		if status != http.StatusOK {
			http.Error(w, "unavailable", status)
			return
		}

		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(flags)
	})

	mock.Server = httptest.NewServer(mux)
	t.Cleanup(mock.Close)
	return mock
}

// AddFlag adds or replaces a flag.
func (m *MockFlagServer) AddFlag(flag domain.Flag) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.flags[flag.Key] = flag
}

// SetStatus makes every following request answer with status.
func (m *MockFlagServer) SetStatus(status int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.status = status
}

// Requests returns how many fetches were served.
func (m *MockFlagServer) Requests() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.requests
}

// AuthKeys returns the Authorization header of every request.
func (m *MockFlagServer) AuthKeys() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]string(nil), m.authKeys...)
}

// MockCollector records every event batch posted to it.
type MockCollector struct {
	*httptest.Server
	mu      sync.Mutex
	batches [][]map[string]any
	fails   int
}

// NewMockCollector creates a collector that accepts every batch.
func NewMockCollector(t *testing.T) *MockCollector {
	mock := &MockCollector{}
	mock.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)

		mock.mu.Lock()
		defer mock.mu.Unlock()

		if mock.fails > 0 {
			mock.fails--
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}

		var batch []map[string]any
		if err := json.Unmarshal(body, &batch); err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		mock.batches = append(mock.batches, batch)
		w.WriteHeader(http.StatusAccepted)
	}))
	t.Cleanup(mock.Close)
	return mock
}

// FailNext makes the next n posts answer 503.
func (m *MockCollector) FailNext(n int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.fails = n
}

// Batches returns the accepted batches.
func (m *MockCollector) Batches() [][]map[string]any {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([][]map[string]any(nil), m.batches...)
}

// Events returns every accepted event in delivery order.
func (m *MockCollector) Events() []map[string]any {
	var out []map[string]any
	for _, b := range m.Batches() {
		out = append(out, b...)
	}
	return out
}

// WaitForEvents waits until at least n events were accepted.
func (m *MockCollector) WaitForEvents(t *testing.T, n int) []map[string]any {
	t.Helper()
	require.Eventually(t, func() bool {
		return len(m.Events()) >= n
	}, 2*time.Second, 10*time.Millisecond)
	return m.Events()
}

func newCheckoutFlag(on bool) domain.Flag {
	return domain.Flag{
		Key:          "new-checkout",
		Version:      4,
		On:           on,
		Variations:   []any{false, true},
		OffVariation: domain.IntPtr(0),
		Fallthrough:  domain.VariationOrRollout{Variation: domain.IntPtr(0)},
		Rules: []domain.Rule{{
			Clauses:            []domain.Clause{{Attribute: "country", Op: domain.OperatorIn, Values: []any{"BR"}}},
			VariationOrRollout: domain.VariationOrRollout{Variation: domain.IntPtr(1)},
		}},
	}
}

func valueFlag(key string, value any) domain.Flag {
	return domain.Flag{
		Key:         key,
		Version:     1,
		On:          true,
		Variations:  []any{value},
		Fallthrough: domain.VariationOrRollout{Variation: domain.IntPtr(0)},
	}
}

// newTestClient builds a started client against flags and collector.
func newTestClient(t *testing.T, flags *MockFlagServer, collector *MockCollector, opts ...Option) *Client {
	t.Helper()

	base := []Option{
		WithSDKKey("sdk-test"),
		WithBaseURI(flags.URL),
		WithEventsURI(collector.URL),
		WithDeliveryMode(DeliverySync),
		WithLogger(logging.Discard()),
		WithCircuitBreaker(0, 0),
	}

	client, err := New(append(base, opts...)...)
	require.NoError(t, err)
	require.NoError(t, client.Start(t.Context()))
	t.Cleanup(func() { _ = client.Stop(context.Background()) })

	return client
}
