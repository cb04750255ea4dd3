package pennant

import (
	"errors"
	"fmt"

	"github.com/OrlandoBitencourt/pennant/internal/circuit"
	"github.com/OrlandoBitencourt/pennant/internal/domain"
	"github.com/OrlandoBitencourt/pennant/internal/engine"
	"github.com/OrlandoBitencourt/pennant/internal/transport"
)

// Error types that may be returned by pennant operations.
type (
	FetchError       = domain.FetchError
	EvaluationError  = domain.EvaluationError
	DeliveryError    = domain.DeliveryError
	StoreError       = domain.StoreError
	HTTPError        = transport.HTTPError
	CircuitOpenError = circuit.CircuitOpenError
)

// ErrOffline is reported by Refresh and by every outcome in offline mode.
var ErrOffline = engine.ErrOffline

// ConfigError indicates invalid configuration.
type ConfigError struct {
	Field   string
	Message string
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("configuration error [%s]: %s", e.Field, e.Message)
}

func newConfigError(field, format string, args ...any) *ConfigError {
	return &ConfigError{Field: field, Message: fmt.Sprintf(format, args...)}
}

// IsConfigError checks if error is a configuration error
func IsConfigError(err error) bool {
	var target *ConfigError
	return errors.As(err, &target)
}

// IsFetchError checks if error is a flag fetch error
func IsFetchError(err error) bool {
	return domain.IsFetchError(err)
}

// IsEvaluationError checks if error is an evaluation error
func IsEvaluationError(err error) bool {
	return domain.IsEvaluationError(err)
}

// IsDeliveryError checks if error is an event delivery error
func IsDeliveryError(err error) bool {
	return domain.IsDeliveryError(err)
}

// IsStoreError checks if error is a flag store error
func IsStoreError(err error) bool {
	return domain.IsStoreError(err)
}

// IsCircuitOpen checks if error is a circuit open error
func IsCircuitOpen(err error) bool {
	return circuit.IsCircuitOpen(err)
}
