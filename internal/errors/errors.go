// Package errors holds the error definitions shared across seisd.
//
// This file provides:
// - Sentinel errors for every failure class the daemon distinguishes
// - Category checks matching the handling policy (log+ignore, discard, drop)
// - Error wrapping utilities
// - A collector for configuration validation errors

package errors

import (
	"errors"
	"fmt"
)

// ============================================================================
// Sentinel errors
// ============================================================================

var (
	// Storage integrity errors
	ErrCorruptBucket = errors.New("corrupt bucket")
	ErrRecordSize    = errors.New("bucket record size mismatch")
	ErrHourMismatch  = errors.New("bucket hour id mismatch")

	// Resource exhaustion
	ErrQueueFull     = errors.New("request queue full")
	ErrQueueOverflow = errors.New("ingestion queue overflow")

	// Client protocol violations
	ErrInvalidRange     = errors.New("invalid range")
	ErrRangeTooLong     = errors.New("range too long")
	ErrMalformedCommand = errors.New("malformed command")
	ErrUnknownCommand   = errors.New("unknown command")
	ErrLineTooLong      = errors.New("line too long")

	// Link errors
	ErrMalformedFrame = errors.New("malformed frame")
	ErrDeviceGone     = errors.New("device disappeared")

	// Subsystem state
	ErrNotRunning     = errors.New("not running")
	ErrAlreadyRunning = errors.New("already running")
	ErrSessionClosed  = errors.New("session is closed")

	// Configuration
	ErrInvalidConfig     = errors.New("invalid configuration")
	ErrInvalidSampleRate = errors.New("invalid sample rate")
	ErrMissingField      = errors.New("missing required field")
)

// ============================================================================
// Helper functions for error checking
// ============================================================================

// Is is a convenience wrapper for errors.Is
var Is = errors.Is

// As is a convenience wrapper for errors.As
var As = errors.As

// New is a convenience wrapper for errors.New
var New = errors.New

// Join is a convenience wrapper for errors.Join
var Join = errors.Join

// IsProtocolError returns true if err is a client protocol violation.
// These are logged and the connection stays open.
func IsProtocolError(err error) bool {
	return errors.Is(err, ErrInvalidRange) ||
		errors.Is(err, ErrRangeTooLong) ||
		errors.Is(err, ErrMalformedCommand) ||
		errors.Is(err, ErrUnknownCommand) ||
		errors.Is(err, ErrLineTooLong)
}

// IsIntegrityError returns true if err means a persisted bucket must be discarded.
func IsIntegrityError(err error) bool {
	return errors.Is(err, ErrCorruptBucket) ||
		errors.Is(err, ErrRecordSize) ||
		errors.Is(err, ErrHourMismatch)
}

// IsResourceExhausted returns true if err reports a dropped request or sample.
func IsResourceExhausted(err error) bool {
	return errors.Is(err, ErrQueueFull) ||
		errors.Is(err, ErrQueueOverflow)
}

// IsValidation returns true if err is a configuration validation error.
func IsValidation(err error) bool {
	return errors.Is(err, ErrInvalidConfig) ||
		errors.Is(err, ErrInvalidSampleRate) ||
		errors.Is(err, ErrMissingField)
}

// ============================================================================
// Error wrapping utilities
// ============================================================================

// Wrap wraps an error with additional context.
func Wrap(err error, message string) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", message, err)
}

// Wrapf wraps an error with formatted context.
func Wrapf(err error, format string, args ...interface{}) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", fmt.Sprintf(format, args...), err)
}

// ============================================================================
// Error constructors with context
// ============================================================================

// NewValidation creates a validation error with context.
func NewValidation(field, reason string) error {
	return fmt.Errorf("invalid %s: %s: %w", field, reason, ErrInvalidConfig)
}

// NewMissingField creates a missing field error.
func NewMissingField(field string) error {
	return fmt.Errorf("%s: %w", field, ErrMissingField)
}

// NewInvalidValue creates an invalid value error.
func NewInvalidValue(field string, value interface{}, reason string) error {
	return fmt.Errorf("invalid %s '%v': %s: %w", field, value, reason, ErrInvalidConfig)
}

// NewMalformed creates a protocol error for a command argument that did not parse.
func NewMalformed(command, arg string, err error) error {
	return fmt.Errorf("%s: argument %q: %v: %w", command, arg, err, ErrMalformedCommand)
}

// ============================================================================
// Validation Errors Collection
// ============================================================================

// ValidationErrors collects multiple validation errors.
type ValidationErrors struct {
	Errors []error
}

// NewValidationErrors creates a new ValidationErrors collector.
func NewValidationErrors() *ValidationErrors {
	return &ValidationErrors{}
}

// Add adds an error to the collection.
func (v *ValidationErrors) Add(err error) {
	if err != nil {
		v.Errors = append(v.Errors, err)
	}
}

// AddField adds a field validation error.
func (v *ValidationErrors) AddField(field, reason string) {
	v.Errors = append(v.Errors, NewValidation(field, reason))
}

// AddMissing adds a missing field error.
func (v *ValidationErrors) AddMissing(field string) {
	v.Errors = append(v.Errors, NewMissingField(field))
}

// HasErrors returns true if there are any errors.
func (v *ValidationErrors) HasErrors() bool {
	return len(v.Errors) > 0
}

// Error implements the error interface.
func (v *ValidationErrors) Error() string {
	if len(v.Errors) == 0 {
		return ""
	}
	if len(v.Errors) == 1 {
		return v.Errors[0].Error()
	}

	msg := fmt.Sprintf("validation failed with %d errors:", len(v.Errors))
	for _, err := range v.Errors {
		msg += "\n  - " + err.Error()
	}
	return msg
}

// Err returns nil if no errors, otherwise returns the ValidationErrors.
func (v *ValidationErrors) Err() error {
	if len(v.Errors) == 0 {
		return nil
	}
	return v
}

// Unwrap returns the collected errors for errors.Is/As support.
func (v *ValidationErrors) Unwrap() []error {
	return v.Errors
}
