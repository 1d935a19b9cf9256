package domain

import (
	"errors"
	"fmt"
)

// The error taxonomy the scheduler classifies dispatch failures on:
//
//   - NotFoundError      → terminal, no retry (stale trigger data)
//   - ValidationError    → terminal, no retry consumed (bad action config)
//   - ConfigurationError → terminal, no retry (unknown action type / operator)
//   - anything else      → transient, retried per the backoff policy
//
// The dispatcher never swallows a failure: it logs it and returns it so the
// scheduler alone decides retry vs terminal.

// NotFoundError indicates a referenced entity does not exist.
type NotFoundError struct {
	Entity string
	ID     string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s %s not found", e.Entity, e.ID)
}

// NewNotFound builds a NotFoundError for the given entity and identifier.
func NewNotFound(entity, id string) *NotFoundError {
	return &NotFoundError{Entity: entity, ID: id}
}

// ValidationError indicates an action configuration is missing or has an
// invalid required field. The action is never attempted.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid config field %q: %s", e.Field, e.Reason)
}

// NewValidation builds a ValidationError.
func NewValidation(field, reason string) *ValidationError {
	return &ValidationError{Field: field, Reason: reason}
}

// ConfigurationError indicates an unknown action type or rule operator.
type ConfigurationError struct {
	Subject string
	Value   string
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("unknown %s %q", e.Subject, e.Value)
}

// NewConfiguration builds a ConfigurationError.
func NewConfiguration(subject, value string) *ConfigurationError {
	return &ConfigurationError{Subject: subject, Value: value}
}

// IsNotFound reports whether err is (or wraps) a NotFoundError.
func IsNotFound(err error) bool {
	var nf *NotFoundError
	return errors.As(err, &nf)
}

// IsValidation reports whether err is (or wraps) a ValidationError.
func IsValidation(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}

// IsConfiguration reports whether err is (or wraps) a ConfigurationError.
func IsConfiguration(err error) bool {
	var ce *ConfigurationError
	return errors.As(err, &ce)
}

// IsRetryable reports whether a failure should consume a retry. Only
// transient execution errors are retryable; the typed taxonomy above is not.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	return !IsNotFound(err) && !IsValidation(err) && !IsConfiguration(err)
}
