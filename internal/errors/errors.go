// Package errors defines the structured error type shared across the group
// lifecycle engine: a kind, code, severity, and cause attached to every
// error the engine's components can produce.
package errors

import (
	"errors"
	"fmt"
	"time"
)

// Kind is one of the error kinds the group lifecycle engine can surface.
type Kind string

const (
	KindInvalidInput           Kind = "invalid_input"
	KindUnauthorized           Kind = "unauthorized"
	KindNotFound               Kind = "not_found"
	KindDuplicate              Kind = "duplicate"
	KindConflict               Kind = "conflict"
	KindMonotonicityViolation  Kind = "monotonicity_violation"
	KindMissingKeyPackage      Kind = "missing_key_package"
	KindWelcomeDeliveryFailed  Kind = "welcome_delivery_failed"
	KindProcessMessageError    Kind = "process_message_error"
	KindEngineError            Kind = "engine_error"
	KindTransport              Kind = "transport"
	KindStorage                Kind = "storage"
)

// Severity is a logging-facing ranking; it does not change control flow.
type Severity string

const (
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

// AppError is the structured error carried across package boundaries.
type AppError struct {
	Kind      Kind
	Code      string
	Message   string
	Details   string
	Severity  Severity
	Timestamp time.Time
	Cause     error
}

func (e *AppError) Error() string {
	if e.Details != "" {
		return fmt.Sprintf("[%s:%s] %s: %s", e.Kind, e.Code, e.Message, e.Details)
	}
	return fmt.Sprintf("[%s:%s] %s", e.Kind, e.Code, e.Message)
}

func (e *AppError) Unwrap() error { return e.Cause }

// New creates an AppError with no underlying cause.
func New(kind Kind, code, message string) *AppError {
	return &AppError{
		Kind:      kind,
		Code:      code,
		Message:   message,
		Severity:  SeverityMedium,
		Timestamp: time.Now(),
	}
}

// Wrap attaches kind/code/message context to an existing error.
func Wrap(cause error, kind Kind, code, message string) *AppError {
	e := New(kind, code, message)
	e.Cause = cause
	if cause != nil {
		e.Details = cause.Error()
	}
	return e
}

// WithSeverity sets the severity and returns the receiver for chaining.
func (e *AppError) WithSeverity(s Severity) *AppError {
	e.Severity = s
	return e
}

// WithDetails attaches free-form details and returns the receiver.
func (e *AppError) WithDetails(details string) *AppError {
	e.Details = details
	return e
}

// Is reports whether err is an *AppError of the given kind.
func Is(err error, kind Kind) bool {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Kind == kind
	}
	return false
}

// KindOf extracts the Kind from err, or "" if err is not an *AppError.
func KindOf(err error) Kind {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Kind
	}
	return ""
}
