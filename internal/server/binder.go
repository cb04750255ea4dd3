package server

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/OrlandoBitencourt/pennant/internal/logging"
)

// DefaultNamespace names the reserved ingestion path.
const DefaultNamespace = "pennant"

// DefaultFlushTimeout bounds the end-of-request flush.
const DefaultFlushTimeout = 5 * time.Second

// Flusher is what the binder needs from the client.
type Flusher interface {
	Flush(ctx context.Context) error
}

// ReservedPath returns the ingestion path for namespace.
func ReservedPath(namespace string) string {
	if namespace == "" {
		namespace = DefaultNamespace
	}
	return "/_" + namespace + "/events"
}

// BinderConfig holds binder configuration
type BinderConfig struct {
	Namespace    string
	FlushTimeout time.Duration
	Logger       *slog.Logger
}

// Binder attaches a client to each request and flushes it on every exit path.
type Binder struct {
	client       Flusher
	ingest       http.Handler
	reservedPath string
	flushTimeout time.Duration
	logger       *slog.Logger
}

// NewBinder creates a binder. Requests to the reserved path go to ingest; a
// nil ingest answers them with 404.
func NewBinder(client Flusher, ingest http.Handler, config BinderConfig) *Binder {
	if config.FlushTimeout <= 0 {
		config.FlushTimeout = DefaultFlushTimeout
	}
	if config.Logger == nil {
		config.Logger = slog.Default()
	}
	if ingest == nil {
		ingest = http.NotFoundHandler()
	}

	return &Binder{
		client:       client,
		ingest:       ingest,
		reservedPath: ReservedPath(config.Namespace),
		flushTimeout: config.FlushTimeout,
		logger:       config.Logger.With(logging.Component("binder")),
	}
}

// ReservedPath returns the path served by the ingestion handler.
func (b *Binder) ReservedPath() string {
	return b.reservedPath
}

// Middleware wraps next. A panic in next still flushes and releases the
// scope, then continues to propagate.
func (b *Binder) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == b.reservedPath {
			b.ingest.ServeHTTP(w, r)
			return
		}

		scope := NewScope(b.client)
		defer b.finish(r.Context(), scope)

		next.ServeHTTP(w, r.WithContext(WithScope(r.Context(), scope)))
	})
}

func (b *Binder) finish(reqCtx context.Context, scope *Scope) {
	defer scope.release()

	ctx, cancel := context.WithTimeout(context.WithoutCancel(reqCtx), b.flushTimeout)
	defer cancel()

	start := time.Now()
	if err := b.flush(ctx); err != nil {
		b.logger.Error("failed to flush events at end of request", logging.Error(err))
		return
	}
	b.logger.Debug("request events flushed", logging.Duration(time.Since(start)))
}

func (b *Binder) flush(ctx context.Context) (err error) {
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("flush panicked: %v", p)
		}
	}()
	return b.client.Flush(ctx)
}
