package domain

import (
	"errors"
	"fmt"
)

// -----------------------------
// FetchError
// -----------------------------

// FetchError is returned when the full flag set could not be retrieved.
type FetchError struct {
	Source string
	Err    error
}

func NewFetchError(source string, err error) *FetchError {
	return &FetchError{Source: source, Err: err}
}

func (e *FetchError) Error() string {
	if e.Source == "" {
		return fmt.Sprintf("fetch flags: %v", e.Err)
	}
	return fmt.Sprintf("fetch flags from %s: %v", e.Source, e.Err)
}

func (e *FetchError) Unwrap() error {
	return e.Err
}

func IsFetchError(err error) bool {
	var target *FetchError
	return errors.As(err, &target)
}

// -----------------------------
// EvaluationError
// -----------------------------

type EvaluationError struct {
	FlagKey string
	Reason  string
	Err     error
}

func NewEvaluationError(flagKey, reason string, err error) *EvaluationError {
	return &EvaluationError{
		FlagKey: flagKey,
		Reason:  reason,
		Err:     err,
	}
}

func (e *EvaluationError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("evaluation error on flag %s: %s: %v", e.FlagKey, e.Reason, e.Err)
	}
	return fmt.Sprintf("evaluation error on flag %s: %s", e.FlagKey, e.Reason)
}

func (e *EvaluationError) Unwrap() error {
	return e.Err
}

func IsEvaluationError(err error) bool {
	var target *EvaluationError
	return errors.As(err, &target)
}

// -----------------------------
// DeliveryError
// -----------------------------

// DeliveryError is returned when an event batch could not be handed off or posted.
type DeliveryError struct {
	BatchID string
	Events  int
	Err     error
}

func NewDeliveryError(batchID string, events int, err error) *DeliveryError {
	return &DeliveryError{BatchID: batchID, Events: events, Err: err}
}

func (e *DeliveryError) Error() string {
	return fmt.Sprintf("deliver batch %s (%d events): %v", e.BatchID, e.Events, e.Err)
}

func (e *DeliveryError) Unwrap() error {
	return e.Err
}

func IsDeliveryError(err error) bool {
	var target *DeliveryError
	return errors.As(err, &target)
}

// -----------------------------
// StoreError
// -----------------------------

type StoreError struct {
	Op  string
	Key string
	Err error
}

func NewStoreError(op, key string, err error) *StoreError {
	return &StoreError{Op: op, Key: key, Err: err}
}

func (e *StoreError) Error() string {
	if e.Key != "" {
		return fmt.Sprintf("store %s %s: %v", e.Op, e.Key, e.Err)
	}
	return fmt.Sprintf("store %s: %v", e.Op, e.Err)
}

func (e *StoreError) Unwrap() error {
	return e.Err
}

func IsStoreError(err error) bool {
	var target *StoreError
	return errors.As(err, &target)
}

// -----------------------------
// ValidationError
// -----------------------------

type ValidationError struct {
	Message string
	Cause   error
}

func NewValidationError(message string) *ValidationError {
	return &ValidationError{
		Message: message,
	}
}

func NewValidationErrorWithCause(message string, cause error) *ValidationError {
	return &ValidationError{
		Message: message,
		Cause:   cause,
	}
}

func (e *ValidationError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("validation error: %s: %v", e.Message, e.Cause)
	}
	return fmt.Sprintf("validation error: %s", e.Message)
}

func (e *ValidationError) Unwrap() error {
	return e.Cause
}

func IsValidationError(err error) bool {
	var target *ValidationError
	return errors.As(err, &target)
}
