package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/OrlandoBitencourt/pennant/internal/logging"
)

type mockController struct {
	mu sync.Mutex

	ready      bool
	stats      any
	refreshErr error
	flushErr   error

	RefreshCalls int
	FlushCalls   int
}

func (m *mockController) Ready() bool { return m.ready }

func (m *mockController) Stats() any { return m.stats }

func (m *mockController) Refresh(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.RefreshCalls++
	return m.refreshErr
}

func (m *mockController) Flush(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.FlushCalls++
	return m.flushErr
}

func serve(h http.Handler, method, target string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, target, nil)
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	return w
}

func TestAdminServer_Health(t *testing.T) {
	srv := NewAdminServer(&mockController{ready: true}, 0, logging.Discard())

	w := serve(srv.Handler(), http.MethodGet, "/health")
	assert.Equal(t, http.StatusOK, w.Code)

	var resp map[string]string
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "healthy", resp["status"])
}

func TestAdminServer_HealthInitializing(t *testing.T) {
	srv := NewAdminServer(&mockController{}, 0, logging.Discard())

	w := serve(srv.Handler(), http.MethodGet, "/health")
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	assert.Contains(t, w.Body.String(), "initializing")
}

func TestAdminServer_Stats(t *testing.T) {
	ctrl := &mockController{stats: map[string]int{"flags": 2}}
	srv := NewAdminServer(ctrl, 0, logging.Discard())

	w := serve(srv.Handler(), http.MethodGet, "/admin/stats")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"flags":2}`, w.Body.String())
}

func TestAdminServer_Refresh(t *testing.T) {
	ctrl := &mockController{}
	srv := NewAdminServer(ctrl, 0, logging.Discard())

	w := serve(srv.Handler(), http.MethodPost, "/admin/refresh")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, 1, ctrl.RefreshCalls)

	ctrl.refreshErr = errors.New("flag service down")
	w = serve(srv.Handler(), http.MethodPost, "/admin/refresh")
	assert.Equal(t, http.StatusBadGateway, w.Code)
}

func TestAdminServer_Flush(t *testing.T) {
	ctrl := &mockController{}
	srv := NewAdminServer(ctrl, 0, logging.Discard())

	w := serve(srv.Handler(), http.MethodPost, "/admin/flush")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, 1, ctrl.FlushCalls)

	ctrl.flushErr = errors.New("queue full")
	w = serve(srv.Handler(), http.MethodPost, "/admin/flush")
	assert.Equal(t, http.StatusInternalServerError, w.Code)
}

func TestAdminServer_MethodNotAllowed(t *testing.T) {
	srv := NewAdminServer(&mockController{}, 0, logging.Discard())

	w := serve(srv.Handler(), http.MethodGet, "/admin/refresh")
	assert.Equal(t, http.StatusMethodNotAllowed, w.Code)
}
