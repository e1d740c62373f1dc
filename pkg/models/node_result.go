package models

import "time"

// ResultKind tells the worker how to continue after a node ran.
type ResultKind string

const (
	ResultCompleted ResultKind = "completed"
	ResultWaiting   ResultKind = "waiting"
	ResultBranched  ResultKind = "branched"
	ResultFailed    ResultKind = "failed"
)

// NodeResult is the outcome of executing one node for one contact.
type NodeResult struct {
	Kind   ResultKind     `json:"kind"`
	Output map[string]any `json:"output,omitempty"`
	// ResumeAt is the earliest time a waiting contact may be revisited. Nil means
	// the contact waits for a reply instead.
	ResumeAt *time.Time `json:"resume_at,omitempty"`
	// Deadline bounds a reply wait. Nil means wait indefinitely.
	Deadline *time.Time `json:"deadline,omitempty"`
	Branch   string     `json:"branch,omitempty"`
	Error    string     `json:"error,omitempty"`
}

// Completed proceeds immediately to the next node(s).
func Completed(output map[string]any) NodeResult {
	return NodeResult{Kind: ResultCompleted, Output: output}
}

// WaitUntil suspends the contact until resumeAt.
func WaitUntil(resumeAt time.Time, output map[string]any) NodeResult {
	return NodeResult{Kind: ResultWaiting, ResumeAt: &resumeAt, Output: output}
}

// AwaitReply suspends the contact until a reply arrives or deadline passes.
func AwaitReply(deadline *time.Time, output map[string]any) NodeResult {
	return NodeResult{Kind: ResultWaiting, Deadline: deadline, Output: output}
}

// Branched completes the node and selects the edge labeled label.
func Branched(label string, output map[string]any) NodeResult {
	return NodeResult{Kind: ResultBranched, Branch: label, Output: output}
}

// Failed ends the contact's traversal on this node unless an error edge exists.
func Failed(err error) NodeResult {
	return NodeResult{Kind: ResultFailed, Error: err.Error()}
}

// AwaitsReply reports whether a waiting result waits on a reply rather than on time.
func (r NodeResult) AwaitsReply() bool {
	return r.Kind == ResultWaiting && r.ResumeAt == nil
}
