package common

import (
	"fmt"
)

// ErrorFormatter provides standardized error formatting for NIPs
type ErrorFormatter struct {
	nipNumber string
	eventName string
}

// NewErrorFormatter creates a new error formatter for a specific NIP
func NewErrorFormatter(nipNumber, eventName string) *ErrorFormatter {
	return &ErrorFormatter{
		nipNumber: nipNumber,
		eventName: eventName,
	}
}

// FormatError creates a standardized error message
func (ef *ErrorFormatter) FormatError(message string, args ...interface{}) error {
	if len(args) > 0 {
		message = fmt.Sprintf(message, args...)
	}
	return fmt.Errorf("NIP-%s %s validation failed: %s", ef.nipNumber, ef.eventName, message)
}

// FormatTagError creates an error message specifically for tag validation failures
func (ef *ErrorFormatter) FormatTagError(tagName, message string, args ...interface{}) error {
	if len(args) > 0 {
		message = fmt.Sprintf(message, args...)
	}
	return fmt.Errorf("NIP-%s %s validation failed: invalid '%s' tag: %s",
		ef.nipNumber, ef.eventName, tagName, message)
}
