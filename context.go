package pennant

import (
	"context"

	"github.com/OrlandoBitencourt/pennant/internal/server"
)

// FromContext returns the client bound to ctx by Middleware. It reports false
// outside a request and once the request has finished, even if ctx itself was
// captured by a goroutine that is still running.
func FromContext(ctx context.Context) (*Client, bool) {
	scope, ok := server.ScopeFromContext(ctx)
	if !ok {
		return nil, false
	}
	v, ok := scope.Client()
	if !ok {
		return nil, false
	}
	c, ok := v.(*Client)
	return c, ok
}

// Variation evaluates flagKey with the client bound to ctx. Without a bound
// client it returns def and records nothing.
//
// Example:
//
//	func handler(w http.ResponseWriter, r *http.Request) {
//	    v := pennant.Variation(r.Context(), "banner-text", user, "Welcome")
//	    ...
//	}
func Variation(ctx context.Context, flagKey string, user User, def any) any {
	c, ok := FromContext(ctx)
	if !ok {
		return def
	}
	return c.Variation(ctx, flagKey, user, def)
}

// BoolVariation is Variation for boolean flags.
func BoolVariation(ctx context.Context, flagKey string, user User, def bool) bool {
	c, ok := FromContext(ctx)
	if !ok {
		return def
	}
	return c.BoolVariation(ctx, flagKey, user, def)
}

// StringVariation is Variation for string flags.
func StringVariation(ctx context.Context, flagKey string, user User, def string) string {
	c, ok := FromContext(ctx)
	if !ok {
		return def
	}
	return c.StringVariation(ctx, flagKey, user, def)
}
