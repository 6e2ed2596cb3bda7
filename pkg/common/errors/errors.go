package errors

import (
	"errors"
	"fmt"
)

// Common error types used across the dispatch library

var (
	// ErrInvalidConfiguration indicates invalid configuration parameters
	ErrInvalidConfiguration = errors.New("invalid configuration")

	// ErrPoolClosed indicates that a task was submitted after shutdown began
	ErrPoolClosed = errors.New("worker pool is closed")

	// ErrNilTask indicates that a nil task was submitted
	ErrNilTask = errors.New("task cannot be nil")

	// ErrTimeout indicates that an operation timed out
	ErrTimeout = errors.New("operation timed out")
)

// ValidationError describes a rejected configuration value.
// It always matches ErrInvalidConfiguration with errors.Is.
type ValidationError struct {
	Module string
	Field  string
	Value  interface{}
	Reason string
	Hint   string
}

// NewValidationError creates a ValidationError without a hint.
func NewValidationError(module, field string, value interface{}, reason string) *ValidationError {
	return &ValidationError{
		Module: module,
		Field:  field,
		Value:  value,
		Reason: reason,
	}
}

// WithHint attaches a remediation hint and returns the same error for chaining.
func (e *ValidationError) WithHint(hint string) *ValidationError {
	e.Hint = hint
	return e
}

func (e *ValidationError) Error() string {
	msg := fmt.Sprintf("%s: invalid %s=%v (%s)", e.Module, e.Field, e.Value, e.Reason)
	if e.Hint != "" {
		msg += " - " + e.Hint
	}
	return msg
}

func (e *ValidationError) Unwrap() error {
	return ErrInvalidConfiguration
}

// OperationError wraps a failure of a named operation inside a module.
type OperationError struct {
	Module    string
	Operation string
	Cause     error
	Context   string
}

// NewOperationError creates an OperationError for module.operation.
func NewOperationError(module, operation string, cause error) *OperationError {
	return &OperationError{
		Module:    module,
		Operation: operation,
		Cause:     cause,
	}
}

// WithContext attaches extra detail and returns the same error for chaining.
func (e *OperationError) WithContext(context string) *OperationError {
	e.Context = context
	return e
}

func (e *OperationError) Error() string {
	msg := fmt.Sprintf("%s.%s failed: %v", e.Module, e.Operation, e.Cause)
	if e.Context != "" {
		msg += " (" + e.Context + ")"
	}
	return msg
}

func (e *OperationError) Unwrap() error {
	return e.Cause
}

// TaskError records a task failure that was contained by a worker.
// Task failures never propagate to the pool; they are reported for
// observability only.
type TaskError struct {
	TaskID   uint64
	WorkerID int
	Err      error
	Panicked bool
	Stack    string
}

func (e *TaskError) Error() string {
	if e.Panicked {
		return fmt.Sprintf("task %d panicked on worker %d: %v", e.TaskID, e.WorkerID, e.Err)
	}
	return fmt.Sprintf("task %d failed on worker %d: %v", e.TaskID, e.WorkerID, e.Err)
}

func (e *TaskError) Unwrap() error {
	return e.Err
}

// IsValidationError reports whether err is or wraps a ValidationError.
func IsValidationError(err error) bool {
	var verr *ValidationError
	return errors.As(err, &verr)
}

// IsTaskPanic reports whether err is or wraps a TaskError caused by a panic.
func IsTaskPanic(err error) bool {
	var terr *TaskError
	return errors.As(err, &terr) && terr.Panicked
}
