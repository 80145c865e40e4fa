package sdk

import (
	"errors"
	"fmt"
	"time"
)

// Common errors returned by the SDK. These can be used with errors.Is()
// to check for specific error conditions.
//
// Example:
//
//	err := client.UserDataIncrementBy("score", math.NaN())
//	if errors.Is(err, sdk.ErrNonFiniteNumber) {
//	    // Nothing was queued
//	}
var (
	// ErrNonFiniteNumber is returned when a NaN or infinite number would be
	// sent to the analytics engine
	ErrNonFiniteNumber = errors.New("number is not finite")

	// ErrInvalidValue is returned when a caller-supplied value has no wire
	// representation (nil error reports, nil Value variants, unsupported types)
	ErrInvalidValue = errors.New("value cannot be represented on the wire")

	// ErrEngineUnavailable is returned when the analytics engine object
	// cannot be located in the host environment
	ErrEngineUnavailable = errors.New("analytics engine unavailable")

	// ErrNoRemoteConfigSource is returned by NativeEngine when a remote
	// config fetch is requested but no source was configured
	ErrNoRemoteConfigSource = errors.New("no remote config source configured")
)

// ErrorType represents the type of error for categorization and handling.
//
// Example:
//
//	var sdkErr *sdk.Error
//	if errors.As(err, &sdkErr) {
//	    switch sdkErr.Type {
//	    case sdk.ErrorTypeSerialization:
//	        // Fix the caller-supplied value
//	    case sdk.ErrorTypeEngine:
//	        // The host environment is missing the SDK
//	    }
//	}
type ErrorType int

const (
	// ErrorTypeUnknown represents an unknown or unclassified error
	ErrorTypeUnknown ErrorType = iota
	// ErrorTypeSerialization represents a value that cannot be converted to the wire shape
	ErrorTypeSerialization
	// ErrorTypeEngine represents a missing or unusable analytics engine
	ErrorTypeEngine
)

// String returns the string representation of the error type
func (et ErrorType) String() string {
	switch et {
	case ErrorTypeSerialization:
		return "serialization"
	case ErrorTypeEngine:
		return "engine"
	default:
		return "unknown"
	}
}

// Error is the SDK's own error type. It is only produced for failures the
// SDK detects itself; errors raised by the engine or the queue are returned
// to the caller untouched and are never wrapped in an Error.
//
// Example:
//
//	var sdkErr *sdk.Error
//	if errors.As(err, &sdkErr) {
//	    fmt.Printf("%s failed on %s: %s\n", sdkErr.Op, sdkErr.Field, sdkErr.Message)
//	}
type Error struct {
	// Type categorizes the error for handling decisions
	Type ErrorType `json:"type"`
	// Op is the adapter operation that failed, e.g. "add_event"
	Op string `json:"op,omitempty"`
	// Field names the offending argument or config field, if any
	Field string `json:"field,omitempty"`
	// Message is a human-readable error description
	Message string `json:"message"`
	// Timestamp is when the error occurred
	Timestamp time.Time `json:"timestamp"`
	// wrapped is the underlying error, if any
	wrapped error
}

// Error implements the error interface
func (e *Error) Error() string {
	switch {
	case e.Op != "" && e.Field != "":
		return fmt.Sprintf("%s error in %s (%s): %s", e.Type, e.Op, e.Field, e.Message)
	case e.Op != "":
		return fmt.Sprintf("%s error in %s: %s", e.Type, e.Op, e.Message)
	default:
		return fmt.Sprintf("%s error: %s", e.Type, e.Message)
	}
}

// Unwrap returns the wrapped error
func (e *Error) Unwrap() error {
	return e.wrapped
}

// NewError creates a new SDK error
func NewError(errType ErrorType, message string, wrapped error) *Error {
	return &Error{
		Type:      errType,
		Message:   message,
		Timestamp: time.Now(),
		wrapped:   wrapped,
	}
}

// newSerializationError builds the error returned when an argument has no
// wire representation. wrapped is normally ErrNonFiniteNumber or ErrInvalidValue.
func newSerializationError(op, field string, wrapped error) *Error {
	err := NewError(ErrorTypeSerialization, wrapped.Error(), wrapped)
	err.Op = op
	err.Field = field
	return err
}

// IsSerializationError reports whether err was raised because a value could
// not be converted to the wire shape.
//
// Example:
//
//	if err := client.UserDataSet("tags", sdk.List{sdk.Number(math.Inf(1))}); sdk.IsSerializationError(err) {
//	    log.Printf("rejected: %v", err)
//	}
func IsSerializationError(err error) bool {
	var sdkErr *Error
	if errors.As(err, &sdkErr) {
		return sdkErr.Type == ErrorTypeSerialization
	}
	return false
}

// IsEngineUnavailable reports whether err means the analytics engine could
// not be found in the host environment.
func IsEngineUnavailable(err error) bool {
	return errors.Is(err, ErrEngineUnavailable)
}
