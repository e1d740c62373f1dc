// Package campaign runs flows for large contact sets: it partitions contacts into
// queued batches, advances each contact through the graph in the worker and
// wakes contacts whose waits are over.
package campaign

import (
	"fmt"
	"time"
)

// Settings tune batching and recovery. The zero value of a field means the default.
type Settings struct {
	// BatchSize is the number of contacts per queued batch.
	BatchSize int `json:"batch_size" validate:"gte=0,lte=10000"`
	// MaxStepsPerBatch bounds how many nodes one contact may run in one
	// invocation before it is handed to a continuation batch.
	MaxStepsPerBatch int `json:"max_steps_per_batch" validate:"gte=0,lte=1000"`
	// EnqueueAttempts is the number of tries for each batch before its contacts fail.
	EnqueueAttempts int `json:"enqueue_attempts" validate:"gte=0,lte=20"`
	// EnqueueBackoff is the first retry interval; it grows exponentially.
	EnqueueBackoff time.Duration `json:"enqueue_backoff"`
	// ClaimTTL is how long a running claim or an unclaimed pending cursor may sit
	// before the waker schedules it again.
	ClaimTTL time.Duration `json:"claim_ttl"`
	// WakeSchedule is the cron spec of the waker sweep.
	WakeSchedule string `json:"wake_schedule"`
}

func DefaultSettings() Settings {
	return Settings{
		BatchSize:        100,
		MaxStepsPerBatch: 25,
		EnqueueAttempts:  5,
		EnqueueBackoff:   200 * time.Millisecond,
		ClaimTTL:         5 * time.Minute,
		WakeSchedule:     "@every 30s",
	}
}

// WithDefaults fills unset fields from DefaultSettings.
func (s Settings) WithDefaults() Settings {
	defaults := DefaultSettings()

	if s.BatchSize <= 0 {
		s.BatchSize = defaults.BatchSize
	}

	if s.MaxStepsPerBatch <= 0 {
		s.MaxStepsPerBatch = defaults.MaxStepsPerBatch
	}

	if s.EnqueueAttempts <= 0 {
		s.EnqueueAttempts = defaults.EnqueueAttempts
	}

	if s.EnqueueBackoff <= 0 {
		s.EnqueueBackoff = defaults.EnqueueBackoff
	}

	if s.ClaimTTL <= 0 {
		s.ClaimTTL = defaults.ClaimTTL
	}

	if s.WakeSchedule == "" {
		s.WakeSchedule = defaults.WakeSchedule
	}

	return s
}

func (s Settings) String() string {
	return fmt.Sprintf("batch_size=%d max_steps=%d enqueue_attempts=%d claim_ttl=%s wake=%q",
		s.BatchSize, s.MaxStepsPerBatch, s.EnqueueAttempts, s.ClaimTTL, s.WakeSchedule)
}

// Partition splits ids into consecutive batches of at most size ids.
func Partition(ids []string, size int) [][]string {
	if size <= 0 {
		size = DefaultSettings().BatchSize
	}

	batches := make([][]string, 0, (len(ids)+size-1)/size)

	for start := 0; start < len(ids); start += size {
		end := min(start+size, len(ids))
		batches = append(batches, ids[start:end])
	}

	return batches
}
