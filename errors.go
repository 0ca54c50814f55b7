package dispatch

import (
	"errors"
	"fmt"
)

// Error represents a dispatch library error with categorization.
type Error struct {
	// Code is a machine-readable error code
	Code string

	// Message is a human-readable error message
	Message string

	// Err is the underlying error (if any)
	Err error
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap returns the underlying error.
func (e *Error) Unwrap() error {
	return e.Err
}

// Error codes for dispatch operations.
const (
	// ErrCodeNoData indicates no data was found.
	ErrCodeNoData = "NO_DATA"

	// ErrCodeValidation indicates validation failed. Validation errors are
	// permanent: they are surfaced to the caller and never enter the pipeline.
	ErrCodeValidation = "VALIDATION_ERROR"

	// ErrCodeConfiguration indicates invalid configuration.
	ErrCodeConfiguration = "CONFIGURATION_ERROR"

	// ErrCodeDatabase indicates a store operation failed.
	ErrCodeDatabase = "DATABASE_ERROR"

	// ErrCodeBroker indicates a broker publish/consume/ack failure. Broker
	// errors are transient from the pipeline's point of view: unacked events
	// are redelivered.
	ErrCodeBroker = "BROKER_ERROR"

	// ErrCodeDelivery indicates a notification delivery attempt failed.
	ErrCodeDelivery = "DELIVERY_ERROR"
)

// Common errors.
var (
	// ErrNoData is returned when a query returns no results.
	// This is not necessarily an error condition in all cases.
	ErrNoData = &Error{
		Code:    ErrCodeNoData,
		Message: "no data found",
	}

	// ErrBrokerClosed is returned when an operation is attempted on a closed
	// broker gateway.
	ErrBrokerClosed = &Error{
		Code:    ErrCodeBroker,
		Message: "broker gateway is closed",
	}
)

// NewError creates a new Error with the given code and message.
func NewError(code, message string) *Error {
	return &Error{
		Code:    code,
		Message: message,
	}
}

// NewErrorWithCause creates a new Error wrapping an underlying error.
func NewErrorWithCause(code, message string, cause error) *Error {
	return &Error{
		Code:    code,
		Message: message,
		Err:     cause,
	}
}

// IsNoData checks if an error is ErrNoData.
func IsNoData(err error) bool {
	var dispatchErr *Error
	if errors.As(err, &dispatchErr) {
		return dispatchErr.Code == ErrCodeNoData
	}
	return errors.Is(err, ErrNoData)
}

// IsValidation checks if an error carries the validation error code.
func IsValidation(err error) bool {
	var dispatchErr *Error
	return errors.As(err, &dispatchErr) && dispatchErr.Code == ErrCodeValidation
}
