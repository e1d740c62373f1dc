// Package services provides standardized error types for service layer operations.
package services

import (
	"errors"
	"fmt"

	"github.com/dukex/courier/pkg/campaign"
	"github.com/dukex/courier/pkg/execution"
	"github.com/dukex/courier/pkg/flowgraph"
	"github.com/dukex/courier/pkg/persistence"
)

// Business Logic Errors - These indicate client errors (4xx responses).
var (
	// Validation Errors (400 Bad Request).
	ErrInvalidRequest            = errors.New("invalid request")
	ErrFlowNil                   = errors.New("flow cannot be nil")
	ErrIdempotencyKeyRequired    = errors.New("idempotency key is required")
	ErrContactIDsRequired        = errors.New("at least one contact id is required")
	ErrInvalidNodeExecutionQuery = errors.New("invalid node execution query")
)

// ServiceError wraps service-level errors with additional context.
type ServiceError struct {
	Op      string // Operation name
	Code    string // Error code for API responses
	Message string // Human-readable message
	Err     error  // Underlying error
}

func (e *ServiceError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("%s: %s", e.Op, e.Message)
	}

	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *ServiceError) Unwrap() error {
	return e.Err
}

func (e *ServiceError) Is(target error) bool {
	return errors.Is(e.Err, target)
}

// IsValidationError checks if an error is a validation error that should return HTTP 400.
func IsValidationError(err error) bool {
	return errors.Is(err, ErrInvalidRequest) ||
		errors.Is(err, ErrFlowNil) ||
		errors.Is(err, ErrIdempotencyKeyRequired) ||
		errors.Is(err, ErrContactIDsRequired) ||
		errors.Is(err, ErrInvalidNodeExecutionQuery) ||
		errors.Is(err, execution.ErrEmptyContactSet) ||
		errors.Is(err, execution.ErrNotCampaign) ||
		flowgraph.IsInvalidGraph(err)
}

// IsConflictError checks if an error is a state conflict that should return HTTP 409.
func IsConflictError(err error) bool {
	return execution.IsInvalidTransition(err) ||
		persistence.IsStatusConflict(err) ||
		persistence.IsCursorConflict(err) ||
		errors.Is(err, campaign.ErrNotAwaitingReply) ||
		errors.Is(err, campaign.ErrExecutionEnded)
}

// IsNotFoundError checks if an error should return HTTP 404.
func IsNotFoundError(err error) bool {
	return persistence.IsFlowNotFound(err) ||
		persistence.IsExecutionNotFound(err) ||
		persistence.IsCursorNotFound(err) ||
		errors.Is(err, persistence.ErrToolNotFound)
}

// NewValidationError creates a new validation error with context.
func NewValidationError(op, code, message string, err error) *ServiceError {
	return &ServiceError{
		Op:      op,
		Code:    code,
		Message: message,
		Err:     err,
	}
}
