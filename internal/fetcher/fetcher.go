// Package fetcher retrieves the full flag set from a remote service or a local file.
package fetcher

import (
	"context"

	"github.com/OrlandoBitencourt/pennant/internal/domain"
)

// Fetcher returns the complete set of flag definitions keyed by flag key.
// Errors are returned as *domain.FetchError.
type Fetcher interface {
	FetchAll(ctx context.Context) (map[string]domain.Flag, error)
}

// Func adapts a function to the Fetcher interface.
type Func func(ctx context.Context) (map[string]domain.Flag, error)

func (f Func) FetchAll(ctx context.Context) (map[string]domain.Flag, error) {
	return f(ctx)
}
