package errors

import (
	"errors"
	"fmt"
)

// --- Flowstate Core Error Types ---

// ConfigError represents an error encountered while configuring a store or
// one of its components (nil dependencies, options applied after first use,
// malformed configuration files).
type ConfigError struct {
	Message string
	Cause   error
}

func NewConfigError(message string, cause error) *ConfigError {
	return &ConfigError{Message: message, Cause: cause}
}
func (e *ConfigError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("configuration error: %s: %v", e.Message, e.Cause)
	}
	return fmt.Sprintf("configuration error: %s", e.Message)
}
func (e *ConfigError) Unwrap() error { return e.Cause }

// ValidationError indicates that some input failed validation checks, most
// prominently an action declaring mutually exclusive behavior capabilities.
type ValidationError struct {
	Message string
	Cause   error
}

func NewValidationError(message string, cause error) *ValidationError {
	return &ValidationError{Message: message, Cause: cause}
}
func (e *ValidationError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("validation error: %s: %v", e.Message, e.Cause)
	}
	return fmt.Sprintf("validation error: %s", e.Message)
}
func (e *ValidationError) Unwrap() error { return e.Cause }

// UserError is the distinguished user-facing failure kind. It carries a
// human-readable message intended for display, and is swallowed by default
// by the error pipeline: it is recorded for LastError queries rather than
// rethrown to the dispatching caller.
type UserError struct {
	Message string
	Cause   error
}

func NewUserError(message string, cause error) *UserError {
	return &UserError{Message: message, Cause: cause}
}
func (e *UserError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Cause)
	}
	return e.Message
}
func (e *UserError) Unwrap() error { return e.Cause }

// IsUserError checks whether err is, or wraps, a UserError.
func IsUserError(err error) bool {
	var ue *UserError
	return errors.As(err, &ue)
}

// DispatchError wraps the final, fully-wrapped error of a failed dispatch
// with the action type that produced it. It is the error surfaced to callers
// when the pipeline's disposition is rethrow.
type DispatchError struct {
	ActionType string
	Cause      error
}

func NewDispatchError(actionType string, cause error) *DispatchError {
	return &DispatchError{ActionType: actionType, Cause: cause}
}
func (e *DispatchError) Error() string {
	if e.ActionType == "" {
		return fmt.Sprintf("dispatch failed: %v", e.Cause)
	}
	return fmt.Sprintf("action '%s' dispatch failed: %v", e.ActionType, e.Cause)
}
func (e *DispatchError) Unwrap() error { return e.Cause }

// CleanupError represents a failure thrown by an action's after hook. It is
// never propagated to the dispatching caller; the store reports it
// out-of-band (unhandled-error sink and logs) and it never suppresses or
// replaces an error from the before or reduce phases.
type CleanupError struct {
	ActionType string
	Cause      error
}

func NewCleanupError(actionType string, cause error) *CleanupError {
	return &CleanupError{ActionType: actionType, Cause: cause}
}
func (e *CleanupError) Error() string {
	return fmt.Sprintf("after hook of action '%s' failed: %v", e.ActionType, e.Cause)
}
func (e *CleanupError) Unwrap() error { return e.Cause }

// TimeoutError is produced only by the explicit wait helpers
// (WaitForCondition, WaitForActionType), never by the dispatch engine itself.
type TimeoutError struct {
	Operation string
}

func NewTimeoutError(operation string) *TimeoutError {
	return &TimeoutError{Operation: operation}
}
func (e *TimeoutError) Error() string {
	if e.Operation == "" {
		return "wait timed out"
	}
	return fmt.Sprintf("%s timed out", e.Operation)
}

// IsTimeout checks whether err is, or wraps, a TimeoutError.
func IsTimeout(err error) bool {
	var te *TimeoutError
	return errors.As(err, &te)
}
