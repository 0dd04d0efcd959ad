package paystream

import (
	"errors"
	"fmt"

	"github.com/xraph/paystream/settlement"
	"github.com/xraph/paystream/types"
)

// Sentinel errors for common failure scenarios.
var (
	// Caller errors
	ErrInvalidParameters = errors.New("paystream: invalid parameters")
	ErrUnauthorized      = errors.New("paystream: unauthorized")
	ErrInvalidState      = errors.New("paystream: invalid state for operation")
	ErrNothingToClaim    = errors.New("paystream: nothing to claim")

	// Settlement errors
	ErrSettlement              = errors.New("paystream: settlement failed")
	ErrCancelPending           = errors.New("paystream: cancellation pending settlement")
	ErrDispatcherNotConfigured = errors.New("paystream: dispatcher not configured")

	// Store errors
	ErrStreamNotFound  = errors.New("paystream: stream not found")
	ErrAlreadyExists   = errors.New("paystream: already exists")
	ErrVersionConflict = errors.New("paystream: concurrent update")
	ErrStoreClosed     = errors.New("paystream: store is closed")
)

// ValidationError represents a validation failure with details.
type ValidationError struct {
	Field   string
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("paystream: validation failed for %s: %s", e.Field, e.Message)
}

// Unwrap makes every ValidationError match ErrInvalidParameters.
func (e ValidationError) Unwrap() error { return ErrInvalidParameters }

// SettlementError is returned when the dispatcher rejects a payout leg.
type SettlementError struct {
	Leg    settlement.Kind
	From   string
	To     string
	Amount types.Money
	Err    error
}

func (e *SettlementError) Error() string {
	return fmt.Sprintf("paystream: %s transfer of %s from %s to %s failed: %v", e.Leg, e.Amount, e.From, e.To, e.Err)
}

// Unwrap exposes both ErrSettlement and the dispatcher's own error.
func (e *SettlementError) Unwrap() []error { return []error{ErrSettlement, e.Err} }

// MultiError represents multiple errors that occurred.
type MultiError struct {
	Errors []error
}

func (e MultiError) Error() string {
	if len(e.Errors) == 0 {
		return "paystream: no errors"
	}
	if len(e.Errors) == 1 {
		return e.Errors[0].Error()
	}
	return fmt.Sprintf("paystream: %d errors occurred: %v", len(e.Errors), e.Errors[0])
}

// Unwrap lets errors.Is and errors.As see every member.
func (e MultiError) Unwrap() []error { return e.Errors }

// Add adds an error to the multi-error.
func (e *MultiError) Add(err error) {
	if err != nil {
		e.Errors = append(e.Errors, err)
	}
}

// HasErrors returns true if there are any errors.
func (e MultiError) HasErrors() bool {
	return len(e.Errors) > 0
}

// First returns the first error or nil.
func (e MultiError) First() error {
	if len(e.Errors) > 0 {
		return e.Errors[0]
	}
	return nil
}

// IsNotFound returns true if the error is a not found error.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrStreamNotFound)
}

// IsRetryable returns true if repeating the same call may succeed.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrSettlement) ||
		errors.Is(err, ErrCancelPending) ||
		errors.Is(err, ErrVersionConflict)
}

// IsBenign returns true for outcomes that leave the stream untouched and are
// not failures from the caller's point of view.
func IsBenign(err error) bool {
	return errors.Is(err, ErrNothingToClaim)
}
