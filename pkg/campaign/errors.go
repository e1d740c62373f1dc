package campaign

import (
	"errors"
	"fmt"
)

var (
	ErrNotAwaitingReply = errors.New("contact is not waiting for a reply")
	ErrExecutionEnded   = errors.New("execution has ended")
)

// EnqueueError reports a batch that could not be queued after every retry.
type EnqueueError struct {
	ExecutionID string
	Sequence    int
	ContactIDs  []string
	Attempts    int
	Err         error
}

func (e *EnqueueError) Error() string {
	return fmt.Sprintf("failed to enqueue batch %d of execution %s (%d contacts) after %d attempts: %v",
		e.Sequence, e.ExecutionID, len(e.ContactIDs), e.Attempts, e.Err)
}

func (e *EnqueueError) Unwrap() error {
	return e.Err
}

func IsEnqueueError(err error) bool {
	var enqueueErr *EnqueueError

	return errors.As(err, &enqueueErr)
}

// NodeExecutionError is the failure of one node for one contact. It is recorded
// and never returned past the worker loop.
type NodeExecutionError struct {
	ExecutionID string
	ContactID   string
	NodeID      string
	Err         error
}

func (e *NodeExecutionError) Error() string {
	return fmt.Sprintf("node %s failed for contact %s: %v", e.NodeID, e.ContactID, e.Err)
}

func (e *NodeExecutionError) Unwrap() error {
	return e.Err
}
