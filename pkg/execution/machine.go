// Package execution owns the lifecycle of a campaign run: admission of contacts,
// pause, resume, cancel and completion.
package execution

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"time"

	"github.com/dukex/courier/pkg/eventbus"
	"github.com/dukex/courier/pkg/events"
	"github.com/dukex/courier/pkg/ledger"
	"github.com/dukex/courier/pkg/metrics"
	"github.com/dukex/courier/pkg/models"
	"github.com/dukex/courier/pkg/persistence"
	"github.com/google/uuid"
)

// Transitions lists the statuses reachable from each status.
var Transitions = map[models.ExecutionStatus][]models.ExecutionStatus{
	models.ExecutionStatusPending: {models.ExecutionStatusRunning},
	models.ExecutionStatusRunning: {
		models.ExecutionStatusPaused,
		models.ExecutionStatusCompleted,
		models.ExecutionStatusCancelled,
		models.ExecutionStatusFailed,
	},
	models.ExecutionStatusPaused: {models.ExecutionStatusRunning, models.ExecutionStatusCancelled},
}

func CanTransition(from, to models.ExecutionStatus) bool {
	return slices.Contains(Transitions[from], to)
}

// cursorRetries bounds the re-read/re-write loop when a cursor changes under us.
const cursorRetries = 3

type Machine struct {
	logger     *slog.Logger
	executions persistence.ExecutionRepository
	cursors    persistence.CursorRepository
	ledger     *ledger.Ledger
	publisher  eventbus.EventPublisher
	metrics    *metrics.Metrics
	now        func() time.Time
}

type Option func(*Machine)

// WithPublisher publishes lifecycle events on every transition.
func WithPublisher(publisher eventbus.EventPublisher) Option {
	return func(m *Machine) { m.publisher = publisher }
}

func WithMetrics(metrics *metrics.Metrics) Option {
	return func(m *Machine) { m.metrics = metrics }
}

func WithClock(now func() time.Time) Option {
	return func(m *Machine) { m.now = now }
}

func NewMachine(logger *slog.Logger, store persistence.Persistence, opts ...Option) *Machine {
	m := &Machine{
		logger:     logger.With("module", "execution"),
		executions: store.ExecutionRepository(),
		cursors:    store.CursorRepository(),
		ledger:     ledger.New(store.NodeExecutionRepository()),
		now:        time.Now,
	}

	for _, opt := range opts {
		opt(m)
	}

	return m
}

// StartRequest describes a new campaign run.
type StartRequest struct {
	Flow *models.Flow
	// ContactIDs is the requested contact set, in order. Duplicates are ignored.
	ContactIDs []string
	// Contacts holds the contacts found in the store. Missing ids are skipped.
	Contacts       map[string]*models.Contact
	IdempotencyKey string
	Variables      map[string]any
}

// StartResult is the outcome of Start.
type StartResult struct {
	Execution *models.FlowExecution
	// Admitted are the contacts to schedule, in request order.
	Admitted []string
	// Existing is true when the idempotency key matched an earlier start.
	Existing bool
}

// Start creates the execution in pending, admits one cursor per contact and moves
// the execution to running. A repeated idempotency key returns the execution it
// created before.
func (m *Machine) Start(ctx context.Context, req StartRequest) (*StartResult, error) {
	contactIDs := unique(req.ContactIDs)
	if len(contactIDs) == 0 {
		return nil, ErrEmptyContactSet
	}

	startNode, ok := req.Flow.StartNode()
	if !ok {
		return nil, fmt.Errorf("flow %s has no start node", req.Flow.ID)
	}

	execution, existing, err := m.create(ctx, req, len(contactIDs))
	if err != nil {
		return nil, err
	}

	logger := m.logger.With("execution_id", execution.ID, "flow_id", execution.FlowID)

	if existing && execution.Status != models.ExecutionStatusPending {
		logger.InfoContext(ctx, "start replayed for existing execution", "status", execution.Status)

		return &StartResult{Execution: execution, Existing: true}, nil
	}

	admitted, err := m.admit(ctx, execution, startNode, contactIDs, req.Contacts)
	if err != nil {
		return nil, err
	}

	execution, err = m.transition(ctx, execution.ID, models.ExecutionStatusRunning, "")
	if err != nil {
		return nil, err
	}

	logger.InfoContext(ctx, "execution started", "contacts", len(contactIDs), "admitted", len(admitted))

	return &StartResult{Execution: execution, Admitted: admitted, Existing: existing}, nil
}

func (m *Machine) create(ctx context.Context, req StartRequest, total int) (*models.FlowExecution, bool, error) {
	if req.IdempotencyKey != "" {
		found, err := m.executions.GetByIdempotencyKey(ctx, req.Flow.ID, req.IdempotencyKey)
		if err == nil {
			return found, true, nil
		}

		if !persistence.IsExecutionNotFound(err) {
			return nil, false, err
		}
	}

	now := m.now().UTC()
	execution := &models.FlowExecution{
		ID:             uuid.New().String(),
		FlowID:         req.Flow.ID,
		Mode:           models.ExecutionModeCampaign,
		Status:         models.ExecutionStatusPending,
		IdempotencyKey: req.IdempotencyKey,
		TotalContacts:  total,
		Variables:      mergeVariables(req.Flow.Variables, req.Variables),
		CreatedAt:      now,
		UpdatedAt:      now,
	}

	err := m.executions.Create(ctx, execution)
	if err == nil {
		return execution, false, nil
	}

	// Lost a race with a concurrent start using the same key.
	if errors.Is(err, persistence.ErrExecutionAlreadyExists) && req.IdempotencyKey != "" {
		found, findErr := m.executions.GetByIdempotencyKey(ctx, req.Flow.ID, req.IdempotencyKey)
		if findErr != nil {
			return nil, false, findErr
		}

		return found, true, nil
	}

	return nil, false, err
}

func (m *Machine) admit(
	ctx context.Context,
	execution *models.FlowExecution,
	startNode *models.Node,
	contactIDs []string,
	contacts map[string]*models.Contact,
) ([]string, error) {
	now := m.now().UTC()
	cursors := make([]*models.ContactCursor, 0, len(contactIDs))
	admitted := make([]string, 0, len(contactIDs))

	for _, contactID := range contactIDs {
		cursor := &models.ContactCursor{
			ExecutionID: execution.ID,
			ContactID:   contactID,
			NodeID:      startNode.ID,
			Status:      models.CursorStatusPending,
			CreatedAt:   now,
			UpdatedAt:   now,
		}

		contact, found := contacts[contactID]

		switch {
		case !found:
			cursor.Status = models.CursorStatusSkipped
			cursor.Reason = "contact not found"
		case !contact.Eligible():
			cursor.Status = models.CursorStatusSkipped
			cursor.Reason = "contact is " + string(contact.Status)
		default:
			admitted = append(admitted, contactID)
		}

		cursors = append(cursors, cursor)
	}

	if err := m.cursors.CreateMany(ctx, cursors); err != nil {
		return nil, fmt.Errorf("failed to admit contacts: %w", err)
	}

	for _, cursor := range cursors {
		if cursor.Status != models.CursorStatusSkipped {
			continue
		}

		key := persistence.LedgerKey{ExecutionID: execution.ID, ContactID: cursor.ContactID, NodeID: cursor.NodeID}
		if _, err := m.ledger.RecordSkipped(ctx, key, startNode.Kind, cursor.Reason); err != nil {
			m.logger.WarnContext(ctx, "failed to record skipped contact", "contact_id", cursor.ContactID, "error", err)
		}

		m.metrics.ContactFinished(string(models.CursorStatusSkipped))
	}

	return admitted, nil
}

// Pause stops new work for a running execution. In-flight batches finish the
// contact they are on.
func (m *Machine) Pause(ctx context.Context, executionID string) (*models.FlowExecution, error) {
	if err := m.requireCampaign(ctx, executionID); err != nil {
		return nil, err
	}

	return m.transition(ctx, executionID, models.ExecutionStatusPaused, "")
}

// Resume moves a paused execution back to running and returns the contacts to
// schedule again: pending ones and waiting ones that are due.
func (m *Machine) Resume(ctx context.Context, executionID string) (*models.FlowExecution, []string, error) {
	if err := m.requireCampaign(ctx, executionID); err != nil {
		return nil, nil, err
	}

	execution, err := m.transition(ctx, executionID, models.ExecutionStatusRunning, "")
	if err != nil {
		return nil, nil, err
	}

	runnable, err := m.Runnable(ctx, executionID)
	if err != nil {
		return execution, nil, err
	}

	return execution, runnable, nil
}

// Runnable lists the contacts that can be advanced right now.
func (m *Machine) Runnable(ctx context.Context, executionID string) ([]string, error) {
	cursors, err := m.cursors.List(ctx, executionID, models.CursorStatusPending, models.CursorStatusWaiting)
	if err != nil {
		return nil, fmt.Errorf("failed to list cursors: %w", err)
	}

	now := m.now()
	runnable := make([]string, 0, len(cursors))

	for _, cursor := range cursors {
		if cursor.Status == models.CursorStatusPending || cursor.Due(now) {
			runnable = append(runnable, cursor.ContactID)
		}
	}

	return runnable, nil
}

// Cancel stops the execution for good and skips every contact still in flight.
// Cancelling a cancelled execution is a no-op.
func (m *Machine) Cancel(ctx context.Context, executionID string) (*models.FlowExecution, error) {
	if err := m.requireCampaign(ctx, executionID); err != nil {
		return nil, err
	}

	execution, err := m.transition(ctx, executionID, models.ExecutionStatusCancelled, "")
	if err != nil {
		var transitionErr *TransitionError
		if errors.As(err, &transitionErr) && transitionErr.From == models.ExecutionStatusCancelled {
			return m.executions.GetByID(ctx, executionID)
		}

		return nil, err
	}

	skipped, err := m.skipActive(ctx, executionID, "execution cancelled")
	if err != nil {
		return execution, err
	}

	m.logger.InfoContext(ctx, "execution cancelled", "execution_id", executionID, "skipped", skipped)

	return execution, nil
}

func (m *Machine) skipActive(ctx context.Context, executionID, reason string) (int, error) {
	cursors, err := m.cursors.List(ctx, executionID,
		models.CursorStatusPending, models.CursorStatusRunning, models.CursorStatusWaiting)
	if err != nil {
		return 0, fmt.Errorf("failed to list active cursors: %w", err)
	}

	skipped := 0

	for _, cursor := range cursors {
		ok, err := m.finishCursor(ctx, cursor, models.CursorStatusSkipped, reason)
		if err != nil {
			return skipped, err
		}

		if ok {
			skipped++
		}
	}

	return skipped, nil
}

// FailContacts marks the given contacts failed at their current node, e.g. when
// their batch could not be enqueued, and records the failure in the ledger.
// Contacts already terminal are left alone.
func (m *Machine) FailContacts(ctx context.Context, flow *models.Flow, executionID string, contactIDs []string, cause error) error {
	cursors, err := m.cursors.GetMany(ctx, executionID, contactIDs)
	if err != nil {
		return fmt.Errorf("failed to load cursors: %w", err)
	}

	for _, cursor := range cursors {
		finished, err := m.finishCursor(ctx, cursor, models.CursorStatusFailed, cause.Error())
		if err != nil {
			return err
		}

		if !finished {
			continue
		}

		var kind models.NodeKind
		if node, ok := flow.NodeByID(cursor.NodeID); ok {
			kind = node.Kind
		}

		_, err = m.ledger.Record(ctx, ledger.Entry{
			Key: persistence.LedgerKey{
				ExecutionID: executionID,
				ContactID:   cursor.ContactID,
				NodeID:      cursor.NodeID,
				Step:        cursor.Step,
			},
			NodeKind:  kind,
			Result:    models.Failed(cause),
			StartedAt: m.now(),
		})
		if err != nil {
			m.logger.WarnContext(ctx, "failed to record contact failure", "contact_id", cursor.ContactID, "error", err)
		}
	}

	return nil
}

// finishCursor moves a non-terminal cursor to a terminal status, re-reading it
// when a concurrent update wins. It reports whether this call finished it.
func (m *Machine) finishCursor(ctx context.Context, cursor *models.ContactCursor, status models.CursorStatus, reason string) (bool, error) {
	current := cursor

	for range cursorRetries {
		if current.Status.IsTerminal() {
			return false, nil
		}

		next := current.Clone()
		next.Status = status
		next.Reason = reason
		next.ResumeAt = nil
		next.AwaitingReply = false

		err := m.cursors.Update(ctx, next)
		if err == nil {
			m.metrics.ContactFinished(string(status))

			return true, nil
		}

		if !persistence.IsCursorConflict(err) {
			return false, fmt.Errorf("failed to update cursor of contact %s: %w", cursor.ContactID, err)
		}

		current, err = m.cursors.Get(ctx, cursor.ExecutionID, cursor.ContactID)
		if err != nil {
			return false, err
		}
	}

	return false, persistence.NewCursorError("finish", cursor.ExecutionID, cursor.ContactID, persistence.ErrCursorConflict)
}

// CheckCompletion finishes a running execution once every cursor is terminal.
// The execution fails when more than half of the contacts that ran failed.
// It reports whether the execution was finished by this call.
func (m *Machine) CheckCompletion(ctx context.Context, executionID string) (*models.FlowExecution, bool, error) {
	execution, err := m.executions.GetByID(ctx, executionID)
	if err != nil {
		return nil, false, err
	}

	if execution.Status != models.ExecutionStatusRunning {
		return execution, false, nil
	}

	counts, err := m.cursors.CountByStatus(ctx, executionID)
	if err != nil {
		return execution, false, fmt.Errorf("failed to count cursors: %w", err)
	}

	if counts[models.CursorStatusPending]+counts[models.CursorStatusRunning]+counts[models.CursorStatusWaiting] > 0 {
		return execution, false, nil
	}

	to, message := Outcome(counts)

	execution, err = m.transition(ctx, executionID, to, message)
	if err != nil {
		if IsInvalidTransition(err) {
			// Someone else finished, paused or cancelled it first.
			current, getErr := m.executions.GetByID(ctx, executionID)

			return current, false, getErr
		}

		return nil, false, err
	}

	m.logger.InfoContext(ctx, "execution finished",
		"execution_id", executionID,
		"status", execution.Status,
		"completed", counts[models.CursorStatusCompleted],
		"failed", counts[models.CursorStatusFailed],
		"skipped", counts[models.CursorStatusSkipped])

	return execution, true, nil
}

// Outcome applies the failure policy to terminal cursor counts: the run fails
// when failed contacts outnumber completed ones.
func Outcome(counts map[models.CursorStatus]int) (models.ExecutionStatus, string) {
	failed := counts[models.CursorStatusFailed]
	ran := failed + counts[models.CursorStatusCompleted]

	if ran > 0 && failed*2 > ran {
		return models.ExecutionStatusFailed, fmt.Sprintf("%d of %d contacts failed", failed, ran)
	}

	return models.ExecutionStatusCompleted, ""
}

// Status returns the execution with its cursor counts.
func (m *Machine) Status(ctx context.Context, executionID string) (*models.FlowExecution, map[models.CursorStatus]int, error) {
	execution, err := m.executions.GetByID(ctx, executionID)
	if err != nil {
		return nil, nil, err
	}

	counts, err := m.cursors.CountByStatus(ctx, executionID)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to count cursors: %w", err)
	}

	return execution, counts, nil
}

func (m *Machine) requireCampaign(ctx context.Context, executionID string) error {
	execution, err := m.executions.GetByID(ctx, executionID)
	if err != nil {
		return err
	}

	if execution.Mode != models.ExecutionModeCampaign {
		return persistence.NewExecutionError("require campaign", executionID, ErrNotCampaign)
	}

	return nil
}

// transition applies a conditional status change and announces it.
func (m *Machine) transition(
	ctx context.Context,
	executionID string,
	to models.ExecutionStatus,
	message string,
) (*models.FlowExecution, error) {
	current, err := m.executions.GetByID(ctx, executionID)
	if err != nil {
		return nil, err
	}

	if !CanTransition(current.Status, to) {
		return nil, &TransitionError{ExecutionID: executionID, From: current.Status, To: to}
	}

	updated, err := m.executions.UpdateStatus(ctx, persistence.StatusChange{
		ExecutionID:  executionID,
		From:         []models.ExecutionStatus{current.Status},
		To:           to,
		ErrorMessage: message,
		At:           m.now().UTC(),
	})
	if err != nil {
		if persistence.IsStatusConflict(err) && updated != nil {
			return nil, &TransitionError{ExecutionID: executionID, From: updated.Status, To: to}
		}

		return nil, err
	}

	m.metrics.ExecutionTransitioned(string(to))
	m.publish(ctx, updated, current.Status)

	return updated, nil
}

func (m *Machine) publish(ctx context.Context, execution *models.FlowExecution, from models.ExecutionStatus) {
	if m.publisher == nil {
		return
	}

	var counts map[models.CursorStatus]int
	if execution.Status.IsTerminal() {
		counts, _ = m.cursors.CountByStatus(ctx, execution.ID)
	}

	event := events.NewLifecycleEvent(execution, from, counts)
	if event == nil {
		return
	}

	if err := m.publisher.Publish(ctx, execution.ID, event); err != nil {
		m.logger.WarnContext(ctx, "failed to publish lifecycle event",
			"execution_id", execution.ID, "event_type", event.GetType(), "error", err)
	}
}

func unique(ids []string) []string {
	seen := make(map[string]bool, len(ids))
	out := make([]string, 0, len(ids))

	for _, id := range ids {
		if id == "" || seen[id] {
			continue
		}

		seen[id] = true
		out = append(out, id)
	}

	return out
}

func mergeVariables(base, overrides map[string]any) map[string]any {
	merged := make(map[string]any, len(base)+len(overrides))

	for key, value := range base {
		merged[key] = value
	}

	for key, value := range overrides {
		merged[key] = value
	}

	return merged
}
