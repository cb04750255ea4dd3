// Package server holds the HTTP integration: the request scope binder, the
// reserved event ingestion endpoint and the admin and webhook servers.
package server

import (
	"context"
	"sync/atomic"
)

type contextKey struct{}

var scopeKey contextKey

// Scope binds a client to one request. It is live from creation until the
// binder releases it after the request's flush.
type Scope struct {
	client   any
	released atomic.Bool
}

// NewScope creates a live scope for client.
func NewScope(client any) *Scope {
	return &Scope{client: client}
}

// Client returns the bound client while the scope is live.
func (s *Scope) Client() (any, bool) {
	if s == nil || s.released.Load() {
		return nil, false
	}
	return s.client, true
}

// Released reports whether the scope has been released.
func (s *Scope) Released() bool {
	return s.released.Load()
}

func (s *Scope) release() {
	s.released.Store(true)
}

// WithScope returns a copy of ctx carrying s.
func WithScope(ctx context.Context, s *Scope) context.Context {
	return context.WithValue(ctx, scopeKey, s)
}

// ScopeFromContext returns the scope bound to ctx, live or not.
func ScopeFromContext(ctx context.Context) (*Scope, bool) {
	s, ok := ctx.Value(scopeKey).(*Scope)
	return s, ok && s != nil
}
