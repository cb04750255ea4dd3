package pennant

import (
	"github.com/OrlandoBitencourt/pennant/internal/domain"
	"github.com/OrlandoBitencourt/pennant/internal/engine"
	"github.com/OrlandoBitencourt/pennant/internal/evaluator"
	"github.com/OrlandoBitencourt/pennant/internal/fetcher"
	"github.com/OrlandoBitencourt/pennant/internal/storage"
	"github.com/OrlandoBitencourt/pennant/internal/telemetry"
	"github.com/OrlandoBitencourt/pennant/internal/transport"
)

// User is the evaluation context for one end user. Built-in attributes
// shadow custom ones with the same name.
type User = domain.User

// Flag is a flag definition as served by the flag service.
type Flag = domain.Flag

// Event is an analytics record produced by evaluation.
type Event = domain.Event

// Outcome is the result of a variation call. The caller's default is in
// Value whenever Status is not StatusEvaluated.
type Outcome = domain.Outcome

// OutcomeStatus classifies how a variation call was resolved.
type OutcomeStatus = domain.OutcomeStatus

const (
	StatusEvaluated        = domain.OutcomeEvaluated
	StatusEvaluationFailed = domain.OutcomeEvaluationFailed
	StatusNotFound         = domain.OutcomeNotFound
)

// Detail is what an Evaluator returns for one flag. A nil Value means the
// caller's default applies.
type Detail = domain.Detail

// Pluggable components.
type (
	// Fetcher retrieves the full flag set.
	Fetcher = fetcher.Fetcher

	// Store holds the current flag set.
	Store = storage.Storage

	// StoreMetrics is reported by Store implementations.
	StoreMetrics = storage.Metrics

	// Evaluator computes a flag's value for a user.
	Evaluator = evaluator.Evaluator

	// FlagGetter resolves prerequisite flags during evaluation.
	FlagGetter = evaluator.FlagGetter

	// Poster delivers a JSON payload to a URL.
	Poster = transport.Poster
)

// Telemetry types for custom providers.
type (
	Telemetry     = telemetry.Provider
	Span          = telemetry.Span
	SpanOption    = telemetry.SpanOption
	SpanAttribute = telemetry.Attribute
)

// Metrics is a point-in-time view of the client's internals.
type Metrics = engine.Metrics

// NewUser creates a user with the given key.
//
// Example:
//
//	user := pennant.NewUser("user-123").With("plan", "pro")
//	user.Country = "BR"
func NewUser(key string) User {
	return User{Key: key}
}
