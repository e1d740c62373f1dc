package models

import "time"

// CursorStatus is the per-contact status within one execution.
type CursorStatus string

const (
	CursorStatusPending   CursorStatus = "pending"
	CursorStatusRunning   CursorStatus = "running"
	CursorStatusWaiting   CursorStatus = "waiting"
	CursorStatusCompleted CursorStatus = "completed"
	CursorStatusFailed    CursorStatus = "failed"
	CursorStatusSkipped   CursorStatus = "skipped"
)

// IsTerminal reports whether the contact's traversal is over.
func (s CursorStatus) IsTerminal() bool {
	return s == CursorStatusCompleted || s == CursorStatusFailed || s == CursorStatusSkipped
}

// ContactCursor is a contact's position and status within one execution.
// Version is bumped by every successful conditional update.
type ContactCursor struct {
	ExecutionID string       `json:"execution_id"`
	ContactID   string       `json:"contact_id"`
	NodeID      string       `json:"node_id"`
	Status      CursorStatus `json:"status"`
	// Step counts the nodes visited so far; it is part of the ledger idempotency key.
	Step     int        `json:"step"`
	Attempts int        `json:"attempts"`
	ResumeAt *time.Time `json:"resume_at,omitempty"`
	// Deadline bounds how long a contact may wait for a reply.
	Deadline      *time.Time `json:"deadline,omitempty"`
	AwaitingReply bool       `json:"awaiting_reply,omitempty"`
	Reply         *string    `json:"reply,omitempty"`
	Reason        string     `json:"reason,omitempty"`
	Version       int        `json:"version"`
	CreatedAt     time.Time  `json:"created_at"`
	UpdatedAt     time.Time  `json:"updated_at"`
}

// Due reports whether a waiting cursor may be revisited at now: its resume time
// has passed, a reply arrived, or its reply deadline expired.
func (c *ContactCursor) Due(now time.Time) bool {
	if c.Status != CursorStatusWaiting {
		return false
	}

	if c.AwaitingReply {
		return c.Reply != nil || c.DeadlineExpired(now)
	}

	return c.ResumeAt == nil || !now.Before(*c.ResumeAt)
}

// DeadlineExpired reports whether a reply deadline is set and has passed.
func (c *ContactCursor) DeadlineExpired(now time.Time) bool {
	return c.Deadline != nil && !now.Before(*c.Deadline)
}

// Clone returns a copy safe to mutate independently of c.
func (c *ContactCursor) Clone() *ContactCursor {
	clone := *c

	if c.ResumeAt != nil {
		resumeAt := *c.ResumeAt
		clone.ResumeAt = &resumeAt
	}

	if c.Deadline != nil {
		deadline := *c.Deadline
		clone.Deadline = &deadline
	}

	if c.Reply != nil {
		reply := *c.Reply
		clone.Reply = &reply
	}

	return &clone
}
