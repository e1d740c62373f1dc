package models

// BatchJob is the transient queue payload naming contacts of one execution to advance.
type BatchJob struct {
	ExecutionID string   `json:"execution_id" validate:"required"`
	ContactIDs  []string `json:"contact_ids"  validate:"required,min=1"`
	// Sequence is informational; correctness never depends on it.
	Sequence int `json:"sequence"`
}

// BatchResult summarizes one invocation of the batch worker.
type BatchResult struct {
	ExecutionID string `json:"execution_id"`
	Sequence    int    `json:"sequence"`
	// Ignored is true when the execution was not running and nothing was done.
	Ignored   bool `json:"ignored"`
	Processed int  `json:"processed"`
	Advanced  int  `json:"advanced"`
	Skipped   int  `json:"skipped"`
	Waiting   int  `json:"waiting"`
	Completed int  `json:"completed"`
	Failed    int  `json:"failed"`
	// Continuation holds the contacts re-enqueued for another step, if any.
	Continuation []string `json:"continuation,omitempty"`
}
