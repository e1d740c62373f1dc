// Package persistence provides standardized error types for persistence operations.
package persistence

import (
	"errors"
	"fmt"
)

// Standard persistence error types that all implementations should use.
var (
	// ErrFlowNotFound indicates a flow was not found by the given identifier.
	ErrFlowNotFound = errors.New("flow not found")

	// ErrExecutionNotFound indicates a flow execution was not found.
	ErrExecutionNotFound = errors.New("execution not found")

	// ErrExecutionAlreadyExists indicates an execution with the same id or idempotency key exists.
	ErrExecutionAlreadyExists = errors.New("execution already exists")

	// ErrStatusConflict indicates a conditional status update found an unexpected status.
	ErrStatusConflict = errors.New("execution status conflict")

	// ErrCursorNotFound indicates no cursor exists for the contact in the execution.
	ErrCursorNotFound = errors.New("cursor not found")

	// ErrCursorConflict indicates a cursor was modified concurrently.
	ErrCursorConflict = errors.New("cursor version conflict")

	// ErrNodeExecutionNotFound indicates no matching ledger entry exists.
	ErrNodeExecutionNotFound = errors.New("node execution not found")

	// ErrToolNotFound indicates a tool was not found by the given identifier.
	ErrToolNotFound = errors.New("tool not found")

	// ErrToolExecutionNotFound indicates no tool execution exists for the key.
	ErrToolExecutionNotFound = errors.New("tool execution not found")
)

// ExecutionError wraps execution-related errors with additional context.
type ExecutionError struct {
	Op          string // Operation being performed (e.g., "GetByID", "UpdateStatus")
	ExecutionID string
	ContactID   string // Contact ID when the operation targets a cursor
	Err         error
	Message     string
}

func (e *ExecutionError) Error() string {
	target := e.ExecutionID
	if e.ContactID != "" {
		target = fmt.Sprintf("%s contact %s", e.ExecutionID, e.ContactID)
	}

	if e.Message != "" {
		return fmt.Sprintf("%s operation failed for execution %s: %s (%v)", e.Op, target, e.Message, e.Err)
	}

	return fmt.Sprintf("%s operation failed for execution %s: %v", e.Op, target, e.Err)
}

func (e *ExecutionError) Unwrap() error {
	return e.Err
}

// Is implements error comparison for execution errors.
func (e *ExecutionError) Is(target error) bool {
	return errors.Is(e.Err, target)
}

// NewExecutionError creates a new execution error with context.
func NewExecutionError(op, executionID string, err error) *ExecutionError {
	return &ExecutionError{
		Op:          op,
		ExecutionID: executionID,
		Err:         err,
	}
}

// NewCursorError creates a new execution error scoped to one contact.
func NewCursorError(op, executionID, contactID string, err error) *ExecutionError {
	return &ExecutionError{
		Op:          op,
		ExecutionID: executionID,
		ContactID:   contactID,
		Err:         err,
	}
}

// IsFlowNotFound checks if an error indicates a flow was not found.
func IsFlowNotFound(err error) bool {
	return errors.Is(err, ErrFlowNotFound)
}

// IsExecutionNotFound checks if an error indicates an execution was not found.
func IsExecutionNotFound(err error) bool {
	return errors.Is(err, ErrExecutionNotFound)
}

// IsStatusConflict checks if an error indicates a conditional status update lost.
func IsStatusConflict(err error) bool {
	return errors.Is(err, ErrStatusConflict)
}

// IsCursorConflict checks if an error indicates a concurrent cursor update.
func IsCursorConflict(err error) bool {
	return errors.Is(err, ErrCursorConflict)
}

func IsCursorNotFound(err error) bool {
	return errors.Is(err, ErrCursorNotFound)
}

func IsNodeExecutionNotFound(err error) bool {
	return errors.Is(err, ErrNodeExecutionNotFound)
}
