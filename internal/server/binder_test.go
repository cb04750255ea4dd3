package server

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/OrlandoBitencourt/pennant/internal/logging"
)

type flushFunc func(ctx context.Context) error

func (f flushFunc) Flush(ctx context.Context) error { return f(ctx) }

func TestReservedPath(t *testing.T) {
	assert.Equal(t, "/_pennant/events", ReservedPath(""))
	assert.Equal(t, "/_myapp/events", ReservedPath("myapp"))
}

func TestBinder_BindsAndFlushes(t *testing.T) {
	ctrl := &mockController{}
	binder := NewBinder(ctrl, nil, BinderConfig{Logger: logging.Discard()})

	var captured *Scope
	h := binder.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		scope, ok := ScopeFromContext(r.Context())
		require.True(t, ok)
		client, live := scope.Client()
		assert.True(t, live)
		assert.Same(t, ctrl, client)
		captured = scope
		w.WriteHeader(http.StatusNoContent)
	}))

	w := serve(h, http.MethodGet, "/checkout")

	assert.Equal(t, http.StatusNoContent, w.Code)
	assert.Equal(t, 1, ctrl.FlushCalls)
	require.NotNil(t, captured)
	assert.True(t, captured.Released())

	_, live := captured.Client()
	assert.False(t, live)
}

func TestBinder_HandlerPanicStillFlushes(t *testing.T) {
	ctrl := &mockController{}
	binder := NewBinder(ctrl, nil, BinderConfig{Logger: logging.Discard()})

	var captured *Scope
	h := binder.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		captured, _ = ScopeFromContext(r.Context())
		panic("handler exploded")
	}))

	assert.PanicsWithValue(t, "handler exploded", func() {
		serve(h, http.MethodGet, "/checkout")
	})

	assert.Equal(t, 1, ctrl.FlushCalls)
	require.NotNil(t, captured)
	assert.True(t, captured.Released())
}

func TestBinder_FlushErrorAndPanicAreSwallowed(t *testing.T) {
	tests := []struct {
		name  string
		flush flushFunc
	}{
		{
			name:  "error",
			flush: func(ctx context.Context) error { return errors.New("queue full") },
		},
		{
			name:  "panic",
			flush: func(ctx context.Context) error { panic("flush exploded") },
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			binder := NewBinder(tt.flush, nil, BinderConfig{Logger: logging.Discard()})

			var captured *Scope
			h := binder.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				captured, _ = ScopeFromContext(r.Context())
				w.WriteHeader(http.StatusOK)
			}))

			assert.NotPanics(t, func() {
				w := serve(h, http.MethodGet, "/")
				assert.Equal(t, http.StatusOK, w.Code)
			})
			assert.True(t, captured.Released())
		})
	}
}

func TestBinder_HandlerPanicWithFlushPanic(t *testing.T) {
	binder := NewBinder(flushFunc(func(ctx context.Context) error {
		panic("flush exploded")
	}), nil, BinderConfig{Logger: logging.Discard()})

	h := binder.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		panic("handler exploded")
	}))

	assert.PanicsWithValue(t, "handler exploded", func() {
		serve(h, http.MethodGet, "/")
	})
}

func TestBinder_FlushSurvivesRequestCancellation(t *testing.T) {
	var flushCtxErr error
	binder := NewBinder(flushFunc(func(ctx context.Context) error {
		flushCtxErr = ctx.Err()
		return nil
	}), nil, BinderConfig{Logger: logging.Discard()})

	ctx, cancel := context.WithCancel(context.Background())
	h := binder.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		cancel()
		<-r.Context().Done()
	}))

	req := httptest.NewRequest(http.MethodGet, "/", nil).WithContext(ctx)
	h.ServeHTTP(httptest.NewRecorder(), req)

	assert.NoError(t, flushCtxErr)
}

func TestBinder_ReservedPathBypassesHandler(t *testing.T) {
	ctrl := &mockController{}
	ingestCalled := false
	ingest := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ingestCalled = true
		_, ok := ScopeFromContext(r.Context())
		assert.False(t, ok)
		w.WriteHeader(http.StatusOK)
	})

	binder := NewBinder(ctrl, ingest, BinderConfig{Namespace: "shop", Logger: logging.Discard()})
	h := binder.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("application handler must not run for the reserved path")
	}))

	w := serve(h, http.MethodPost, "/_shop/events")

	assert.Equal(t, http.StatusOK, w.Code)
	assert.True(t, ingestCalled)
	assert.Equal(t, 0, ctrl.FlushCalls)
}

func TestScope_NoScopeInContext(t *testing.T) {
	_, ok := ScopeFromContext(context.Background())
	assert.False(t, ok)

	var s *Scope
	_, live := s.Client()
	assert.False(t, live)
}
