package tools

import (
	"errors"
	"fmt"
)

var (
	ErrInvalidPayload = errors.New("tool payload does not match the input schema")
	ErrToolNotAllowed = errors.New("tool is not available to this node")
)

// HTTPError is a non-success webhook response.
type HTTPError struct {
	StatusCode int
	Message    string
}

func (e *HTTPError) Error() string {
	return fmt.Sprintf("HTTP %d: %s", e.StatusCode, e.Message)
}

// ToolInvocationError describes a failed tool call. It is returned to the agent
// node, which decides whether the node fails.
type ToolInvocationError struct {
	ToolID   string
	ToolName string
	Key      string
	Timeout  bool
	Err      error
}

func (e *ToolInvocationError) Error() string {
	if e.Timeout {
		return fmt.Sprintf("tool '%s' timed out: %v", e.ToolName, e.Err)
	}

	return fmt.Sprintf("tool '%s' failed: %v", e.ToolName, e.Err)
}

func (e *ToolInvocationError) Unwrap() error {
	return e.Err
}

func IsToolInvocationError(err error) bool {
	var invocationErr *ToolInvocationError

	return errors.As(err, &invocationErr)
}
