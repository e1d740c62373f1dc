package campaign

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/dukex/courier/pkg/execution"
	"github.com/dukex/courier/pkg/models"
	"github.com/dukex/courier/pkg/persistence"
	"github.com/robfig/cron/v3"
)

// Waker periodically reschedules contacts nobody is going to deliver again:
// waits that are over, stored replies, expired reply deadlines, pending
// cursors whose batch was lost and stale running claims. It also finishes
// executions with no active contact left.
type Waker struct {
	logger       *slog.Logger
	executions   persistence.ExecutionRepository
	cursors      persistence.CursorRepository
	machine      *execution.Machine
	orchestrator *Orchestrator
	settings     Settings
	cron         *cron.Cron
	mutex        sync.Mutex
	sweepLock    sync.Mutex
	options
}

// SweepResult summarizes one sweep.
type SweepResult struct {
	Executions int
	Scheduled  int
	Finished   int
}

func NewWaker(
	logger *slog.Logger,
	store persistence.Persistence,
	machine *execution.Machine,
	orchestrator *Orchestrator,
	settings Settings,
	opts ...Option,
) *Waker {
	return &Waker{
		logger:       logger.With("module", "campaign_waker"),
		executions:   store.ExecutionRepository(),
		cursors:      store.CursorRepository(),
		machine:      machine,
		orchestrator: orchestrator,
		settings:     settings.WithDefaults(),
		options:      newOptions(opts),
	}
}

// Start schedules sweeps on WakeSchedule until ctx is done or Stop is called.
func (w *Waker) Start(ctx context.Context) error {
	if _, err := cron.ParseStandard(w.settings.WakeSchedule); err != nil {
		return fmt.Errorf("invalid wake schedule '%s': %w", w.settings.WakeSchedule, err)
	}

	w.mutex.Lock()
	defer w.mutex.Unlock()

	if w.cron != nil {
		return nil
	}

	w.cron = cron.New()

	_, err := w.cron.AddFunc(w.settings.WakeSchedule, func() {
		if _, err := w.Sweep(ctx); err != nil {
			w.logger.ErrorContext(ctx, "sweep failed", "error", err)
		}
	})
	if err != nil {
		w.cron = nil

		return fmt.Errorf("failed to schedule waker: %w", err)
	}

	w.cron.Start()
	w.logger.InfoContext(ctx, "waker started", "schedule", w.settings.WakeSchedule)

	go func() {
		<-ctx.Done()
		w.Stop()
	}()

	return nil
}

func (w *Waker) Stop() {
	w.mutex.Lock()
	defer w.mutex.Unlock()

	if w.cron == nil {
		return
	}

	<-w.cron.Stop().Done()
	w.cron = nil

	w.logger.Info("waker stopped")
}

// Sweep runs one pass over every running execution. Overlapping calls return
// immediately.
func (w *Waker) Sweep(ctx context.Context) (SweepResult, error) {
	var result SweepResult

	if !w.sweepLock.TryLock() {
		return result, nil
	}
	defer w.sweepLock.Unlock()

	running, err := w.executions.ListByStatus(ctx, models.ExecutionStatusRunning)
	if err != nil {
		return result, fmt.Errorf("failed to list running executions: %w", err)
	}

	for _, current := range running {
		result.Executions++

		scheduled, finished, err := w.wake(ctx, current.ID)
		if err != nil {
			w.logger.ErrorContext(ctx, "failed to wake execution", "execution_id", current.ID, "error", err)

			continue
		}

		result.Scheduled += scheduled

		if finished {
			result.Finished++
		}
	}

	if result.Scheduled > 0 || result.Finished > 0 {
		w.logger.InfoContext(ctx, "sweep done",
			"executions", result.Executions,
			"scheduled", result.Scheduled,
			"finished", result.Finished)
	}

	return result, nil
}

func (w *Waker) wake(ctx context.Context, executionID string) (int, bool, error) {
	active, err := w.cursors.List(ctx, executionID,
		models.CursorStatusPending, models.CursorStatusWaiting, models.CursorStatusRunning)
	if err != nil {
		return 0, false, err
	}

	if len(active) == 0 {
		_, finished, err := w.machine.CheckCompletion(ctx, executionID)

		return 0, finished, err
	}

	now := w.now()
	due := make([]string, 0)

	for _, cursor := range active {
		switch cursor.Status {
		case models.CursorStatusWaiting:
			if cursor.Due(now) {
				due = append(due, cursor.ContactID)
			}
		case models.CursorStatusPending, models.CursorStatusRunning:
			if stale(cursor.UpdatedAt, now, w.settings.ClaimTTL) {
				due = append(due, cursor.ContactID)
			}
		}
	}

	if len(due) == 0 {
		return 0, false, nil
	}

	if _, err := w.orchestrator.EnqueueContacts(ctx, executionID, due); err != nil {
		return 0, false, err
	}

	return len(due), false, nil
}
