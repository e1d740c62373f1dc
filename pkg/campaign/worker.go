package campaign

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/dukex/courier/pkg/execution"
	"github.com/dukex/courier/pkg/flowgraph"
	"github.com/dukex/courier/pkg/ledger"
	"github.com/dukex/courier/pkg/models"
	"github.com/dukex/courier/pkg/otelhelper"
	"github.com/dukex/courier/pkg/persistence"
	"github.com/dukex/courier/pkg/protocol"
	"github.com/dukex/courier/pkg/queue"
	"github.com/dukex/courier/pkg/registry"
	"github.com/dukex/courier/pkg/tools"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
)

const settleRetries = 3

// Capabilities are the external effects nodes may use.
type Capabilities struct {
	Messenger protocol.Messenger
	Model     protocol.Model
	Tools     *tools.Invoker
}

// Worker advances the contacts of delivered batches. It is safe under
// at-least-once, out-of-order delivery: cursors are claimed with conditional
// updates and recorded node visits are replayed from the ledger.
type Worker struct {
	logger       *slog.Logger
	flows        persistence.FlowRepository
	contacts     persistence.ContactRepository
	executions   persistence.ExecutionRepository
	cursors      persistence.CursorRepository
	ledger       *ledger.Ledger
	machine      *execution.Machine
	registry     *registry.Registry
	queue        queue.Queue
	capabilities Capabilities
	settings     Settings
	options
}

func NewWorker(
	logger *slog.Logger,
	store persistence.Persistence,
	registry *registry.Registry,
	machine *execution.Machine,
	queue queue.Queue,
	capabilities Capabilities,
	settings Settings,
	opts ...Option,
) *Worker {
	w := &Worker{
		flows:        store.FlowRepository(),
		contacts:     store.ContactRepository(),
		executions:   store.ExecutionRepository(),
		cursors:      store.CursorRepository(),
		ledger:       ledger.New(store.NodeExecutionRepository()),
		machine:      machine,
		registry:     registry,
		queue:        queue,
		capabilities: capabilities,
		settings:     settings.WithDefaults(),
		options:      newOptions(opts),
	}

	w.logger = logger.With("module", "campaign_worker")
	if w.workerID != "" {
		w.logger = w.logger.With("worker_id", w.workerID)
	}

	return w
}

// Handle adapts ProcessBatch to a queue consumer.
func (w *Worker) Handle(ctx context.Context, job models.BatchJob) error {
	_, err := w.ProcessBatch(ctx, job)

	return err
}

type contactOutcome int

const (
	// outcomeIdle: nothing to do now, e.g. another invocation owns the contact.
	outcomeIdle contactOutcome = iota
	outcomeSkipped
	outcomeWaiting
	outcomeCompleted
	outcomeFailed
	// outcomeActive: the step budget ran out with the contact still pending.
	outcomeActive
)

type contactRun struct {
	outcome contactOutcome
	steps   int
	err     error
}

// ProcessBatch advances every contact of job as far as it can go. It is a no-op
// for executions that are not running. A returned error asks the transport to
// deliver the job again; contact-level failures are recorded, not returned.
func (w *Worker) ProcessBatch(ctx context.Context, job models.BatchJob) (models.BatchResult, error) {
	started := w.now()
	result := models.BatchResult{ExecutionID: job.ExecutionID, Sequence: job.Sequence}

	ctx, span := otelhelper.StartSpan(ctx, w.tracer, "campaign.process_batch",
		attribute.String(otelhelper.ExecutionIDKey, job.ExecutionID),
		attribute.Int(otelhelper.BatchSeqKey, job.Sequence),
		attribute.Int(otelhelper.BatchSizeKey, len(job.ContactIDs)),
	)
	defer span.End()

	logger := w.logger.With("execution_id", job.ExecutionID, "batch_seq", job.Sequence)

	current, err := w.executions.GetByID(ctx, job.ExecutionID)
	if err != nil {
		if persistence.IsExecutionNotFound(err) {
			logger.WarnContext(ctx, "dropping batch of unknown execution")

			result.Ignored = true
			w.metrics.BatchProcessed("ignored", w.now().Sub(started))

			return result, nil
		}

		otelhelper.SetError(span, err)
		w.metrics.BatchProcessed("error", w.now().Sub(started))

		return result, err
	}

	if current.Status != models.ExecutionStatusRunning {
		logger.InfoContext(ctx, "ignoring batch", "status", current.Status)

		result.Ignored = true
		w.metrics.BatchProcessed("ignored", w.now().Sub(started))

		return result, nil
	}

	span.SetAttributes(attribute.String(otelhelper.FlowIDKey, current.FlowID))

	flow, err := w.flows.GetByID(ctx, current.FlowID)
	if err != nil {
		otelhelper.SetError(span, err)
		w.metrics.BatchProcessed("error", w.now().Sub(started))

		return result, fmt.Errorf("failed to load flow of execution %s: %w", current.ID, err)
	}

	contacts, err := w.contacts.GetByIDs(ctx, job.ContactIDs)
	if err != nil {
		otelhelper.SetError(span, err)
		w.metrics.BatchProcessed("error", w.now().Sub(started))

		return result, fmt.Errorf("failed to load contacts: %w", err)
	}

	var (
		errs         []error
		continuation []string
	)

	for _, contactID := range job.ContactIDs {
		running, err := w.running(ctx, current.ID)
		if err != nil {
			errs = append(errs, err)

			break
		}

		if !running {
			logger.InfoContext(ctx, "execution left running, stopping batch", "processed", result.Processed)

			break
		}

		result.Processed++

		run := w.advanceContact(ctx, logger.With("contact_id", contactID), current, flow, contactID, contacts[contactID])
		if run.err != nil {
			logger.ErrorContext(ctx, "failed to advance contact", "contact_id", contactID, "error", run.err)
			errs = append(errs, run.err)
		}

		if run.steps > 0 {
			result.Advanced++
		}

		switch run.outcome {
		case outcomeSkipped:
			result.Skipped++
		case outcomeWaiting:
			result.Waiting++
		case outcomeCompleted:
			result.Completed++
		case outcomeFailed:
			result.Failed++
		case outcomeActive:
			continuation = append(continuation, contactID)
		case outcomeIdle:
		}
	}

	if len(continuation) > 0 {
		if queued, err := w.continueWith(ctx, current.ID, job.Sequence+1, continuation); err != nil {
			errs = append(errs, err)
		} else if queued {
			result.Continuation = continuation
		}
	} else if _, finished, err := w.machine.CheckCompletion(ctx, current.ID); err != nil {
		errs = append(errs, err)
	} else if finished {
		logger.InfoContext(ctx, "batch finished the execution")
	}

	err = errors.Join(errs...)

	outcome := "ok"
	if err != nil {
		outcome = "error"

		otelhelper.SetError(span, err)
	}

	w.metrics.BatchProcessed(outcome, w.now().Sub(started))
	logger.InfoContext(ctx, "batch processed",
		"processed", result.Processed,
		"advanced", result.Advanced,
		"waiting", result.Waiting,
		"completed", result.Completed,
		"failed", result.Failed,
		"continuation", len(result.Continuation))

	return result, err
}

func (w *Worker) running(ctx context.Context, executionID string) (bool, error) {
	current, err := w.executions.GetByID(ctx, executionID)
	if err != nil {
		return false, err
	}

	return current.Status == models.ExecutionStatusRunning, nil
}

// continueWith enqueues the contacts that ran out of step budget, unless the
// execution was paused or cancelled meanwhile.
func (w *Worker) continueWith(ctx context.Context, executionID string, sequence int, contactIDs []string) (bool, error) {
	running, err := w.running(ctx, executionID)
	if err != nil || !running {
		return false, err
	}

	job := models.BatchJob{ExecutionID: executionID, ContactIDs: contactIDs, Sequence: sequence}
	if err := w.queue.Enqueue(ctx, job); err != nil {
		return false, fmt.Errorf("failed to enqueue continuation: %w", err)
	}

	return true, nil
}

// advanceContact runs nodes for one contact until it waits, finishes, loses its
// claim or spends the step budget.
func (w *Worker) advanceContact(
	ctx context.Context,
	logger *slog.Logger,
	current *models.FlowExecution,
	flow *models.Flow,
	contactID string,
	contact *models.Contact,
) contactRun {
	var run contactRun

	for run.steps < w.settings.MaxStepsPerBatch {
		if run.steps > 0 {
			running, err := w.running(ctx, current.ID)
			if err != nil {
				run.err = err

				return run
			}

			// The pending cursor is picked up again on resume.
			if !running {
				logger.InfoContext(ctx, "execution left running, stopping contact", "steps", run.steps)

				run.outcome = outcomeActive

				return run
			}
		}

		cursor, err := w.cursors.Get(ctx, current.ID, contactID)
		if err != nil {
			if persistence.IsCursorNotFound(err) {
				logger.WarnContext(ctx, "contact is not part of the execution")

				run.outcome = outcomeSkipped

				return run
			}

			run.err = err

			return run
		}

		if cursor.Status.IsTerminal() {
			run.outcome = outcomeSkipped

			return run
		}

		if !w.claimable(cursor) {
			if cursor.Status == models.CursorStatusWaiting {
				run.outcome = outcomeWaiting
			}

			return run
		}

		claimed, err := w.claim(ctx, cursor)
		if err != nil {
			if !persistence.IsCursorConflict(err) {
				run.err = err
			}

			return run
		}

		settled, err := w.step(ctx, logger, current, flow, claimed, contact)
		run.steps++

		if err != nil {
			if persistence.IsCursorConflict(err) {
				logger.WarnContext(ctx, "lost cursor to a concurrent update", "node_id", claimed.NodeID)
			} else {
				run.err = err
			}

			return run
		}

		switch settled.Status {
		case models.CursorStatusWaiting:
			// A reply that arrived while the question went out is answered now.
			if !settled.AwaitingReply || settled.Reply == nil {
				run.outcome = outcomeWaiting

				return run
			}
		case models.CursorStatusCompleted:
			run.outcome = outcomeCompleted

			return run
		case models.CursorStatusFailed:
			run.outcome = outcomeFailed

			return run
		}
	}

	run.outcome = outcomeActive

	return run
}

// claimable reports whether the cursor may be advanced now: it is pending, a
// due waiting cursor, or a running claim older than ClaimTTL.
func (w *Worker) claimable(cursor *models.ContactCursor) bool {
	now := w.now()

	switch cursor.Status {
	case models.CursorStatusPending:
		return true
	case models.CursorStatusWaiting:
		return cursor.Due(now)
	case models.CursorStatusRunning:
		return stale(cursor.UpdatedAt, now, w.settings.ClaimTTL)
	default:
		return false
	}
}

// claim moves the cursor to running with a conditional update. Wait fields are
// kept so the node sees the suspension it resumes from.
func (w *Worker) claim(ctx context.Context, cursor *models.ContactCursor) (*models.ContactCursor, error) {
	claimed := cursor.Clone()
	claimed.Status = models.CursorStatusRunning
	claimed.Attempts++

	if err := w.cursors.Update(ctx, claimed); err != nil {
		return nil, err
	}

	return claimed, nil
}

// step runs the cursor's current node and moves the cursor accordingly. It
// returns the settled cursor.
func (w *Worker) step(
	ctx context.Context,
	logger *slog.Logger,
	current *models.FlowExecution,
	flow *models.Flow,
	cursor *models.ContactCursor,
	contact *models.Contact,
) (*models.ContactCursor, error) {
	logger = logger.With("node_id", cursor.NodeID, "step", cursor.Step)

	node, ok := flow.NodeByID(cursor.NodeID)
	if !ok {
		next := cursor.Clone()
		finish(next, models.CursorStatusFailed, fmt.Sprintf("node '%s' is not in the flow", cursor.NodeID))

		return w.settle(ctx, cursor, next)
	}

	ctx, span := otelhelper.StartSpan(ctx, w.tracer, "campaign.execute_node",
		attribute.String(otelhelper.ExecutionIDKey, current.ID),
		attribute.String(otelhelper.ContactIDKey, cursor.ContactID),
		attribute.String(otelhelper.NodeIDKey, node.ID),
		attribute.String(otelhelper.NodeKindKey, string(node.Kind)),
		attribute.Int(otelhelper.StepKey, cursor.Step),
	)
	defer span.End()

	result, err := w.execute(ctx, logger, current, node, cursor, contact)
	if err != nil {
		otelhelper.SetError(span, err)

		return nil, err
	}

	if result.Kind == models.ResultFailed {
		span.SetAttributes(attribute.String("courier.node.error", result.Error))
	}

	return w.settle(ctx, cursor, nextCursor(flow, node, cursor, result))
}

// execute returns the node's result for this visit, replaying a recorded
// success instead of running the node again.
func (w *Worker) execute(
	ctx context.Context,
	logger *slog.Logger,
	current *models.FlowExecution,
	node *models.Node,
	cursor *models.ContactCursor,
	contact *models.Contact,
) (models.NodeResult, error) {
	key := persistence.LedgerKey{
		ExecutionID: current.ID,
		ContactID:   cursor.ContactID,
		NodeID:      node.ID,
		Step:        cursor.Step,
	}

	recorded, found, err := w.ledger.Lookup(ctx, key)
	if err != nil {
		return models.NodeResult{}, err
	}

	if found {
		logger.DebugContext(ctx, "replaying recorded node execution", "node_execution_id", recorded.ID)

		if recorded.Branch != "" {
			return models.Branched(recorded.Branch, recorded.Output), nil
		}

		return models.Completed(recorded.Output), nil
	}

	startedAt := w.now()
	entryID := uuid.New().String()

	result, err := w.run(ctx, logger, current, node, cursor, contact, entryID)
	if err != nil {
		return models.NodeResult{}, err
	}

	w.metrics.NodeExecuted(string(node.Kind), string(result.Kind), w.now().Sub(startedAt))

	if result.Kind == models.ResultWaiting {
		return result, nil
	}

	_, err = w.ledger.Record(ctx, ledger.Entry{
		ID:        entryID,
		Key:       key,
		NodeKind:  node.Kind,
		Input:     snapshot(node, cursor),
		Result:    result,
		StartedAt: startedAt,
	})
	if err != nil {
		return models.NodeResult{}, err
	}

	if result.Kind == models.ResultFailed {
		logger.WarnContext(ctx, "node failed", "error", result.Error)
	}

	return result, nil
}

// run executes the node. Node errors become failed results; only store errors
// are returned.
func (w *Worker) run(
	ctx context.Context,
	logger *slog.Logger,
	current *models.FlowExecution,
	node *models.Node,
	cursor *models.ContactCursor,
	contact *models.Contact,
	entryID string,
) (models.NodeResult, error) {
	fail := func(err error) models.NodeResult {
		return models.Failed(&NodeExecutionError{
			ExecutionID: current.ID,
			ContactID:   cursor.ContactID,
			NodeID:      node.ID,
			Err:         err,
		})
	}

	if contact == nil {
		return fail(errors.New("contact not found")), nil
	}

	executor, err := w.registry.CreateNode(ctx, node)
	if err != nil {
		return fail(err), nil
	}

	outputs, err := w.ledger.Outputs(ctx, current.ID, cursor.ContactID)
	if err != nil {
		return models.NodeResult{}, err
	}

	execCtx := &protocol.ExecutionContext{
		ExecutionID: current.ID,
		FlowID:      current.FlowID,
		NodeID:      node.ID,
		Step:        cursor.Step,
		Contact:     contact,
		Variables:   current.Variables,
		Outputs:     outputs,
		Wait:        waitState(cursor),
		Now:         w.now(),
		Messenger:   w.capabilities.Messenger,
		Model:       w.capabilities.Model,
		Logger:      logger,
	}

	if node.Kind == models.NodeKindAgent && w.capabilities.Tools != nil {
		execCtx.Tools = w.capabilities.Tools.Scope(tools.Visit{
			ExecutionID:     current.ID,
			ContactID:       cursor.ContactID,
			NodeID:          node.ID,
			Step:            cursor.Step,
			NodeExecutionID: entryID,
		})
	}

	result, err := executor.Execute(ctx, execCtx)
	if err != nil {
		return fail(err), nil
	}

	return result, nil
}

// settle writes next over the claimed cursor. A reply stored on the claim while
// the node ran is carried over; any other concurrent change wins.
func (w *Worker) settle(ctx context.Context, claimed, next *models.ContactCursor) (*models.ContactCursor, error) {
	for range settleRetries {
		err := w.cursors.Update(ctx, next)
		if err == nil {
			if next.Status.IsTerminal() {
				w.metrics.ContactFinished(string(next.Status))
			}

			return next, nil
		}

		if !persistence.IsCursorConflict(err) {
			return nil, err
		}

		latest, err := w.cursors.Get(ctx, claimed.ExecutionID, claimed.ContactID)
		if err != nil {
			return nil, err
		}

		if latest.Status != models.CursorStatusRunning ||
			latest.NodeID != claimed.NodeID ||
			latest.Step != claimed.Step ||
			latest.Attempts != claimed.Attempts {
			return nil, persistence.NewCursorError("settle", claimed.ExecutionID, claimed.ContactID, persistence.ErrCursorConflict)
		}

		if next.Status == models.CursorStatusWaiting && next.AwaitingReply {
			next.Reply = latest.Reply
		}

		next.Version = latest.Version
	}

	return nil, persistence.NewCursorError("settle", claimed.ExecutionID, claimed.ContactID, persistence.ErrCursorConflict)
}

// nextCursor computes where the contact goes after result. Failures follow an
// explicit error edge when there is one.
func nextCursor(flow *models.Flow, node *models.Node, cursor *models.ContactCursor, result models.NodeResult) *models.ContactCursor {
	next := cursor.Clone()

	switch result.Kind {
	case models.ResultWaiting:
		next.Status = models.CursorStatusWaiting
		next.ResumeAt = result.ResumeAt
		next.Deadline = result.Deadline
		next.AwaitingReply = result.AwaitsReply()

		return next
	case models.ResultFailed:
		targets := flowgraph.NextNodes(flow, node.ID, models.ErrorBranch)
		if len(targets) == 0 {
			finish(next, models.CursorStatusFailed, result.Error)

			return next
		}

		moveTo(next, targets[0])

		return next
	default:
		targets := flowgraph.NextNodes(flow, node.ID, result.Branch)
		if len(targets) > 0 {
			moveTo(next, targets[0])

			return next
		}

		if flowgraph.IsTerminal(flow, node.ID) {
			finish(next, models.CursorStatusCompleted, "")

			return next
		}

		finish(next, models.CursorStatusFailed,
			fmt.Sprintf("%s: node '%s' branch '%s'", flowgraph.ErrNoEdgeForOutcome, node.ID, result.Branch))

		return next
	}
}

func moveTo(cursor *models.ContactCursor, nodeID string) {
	clearWait(cursor)

	cursor.NodeID = nodeID
	cursor.Step++
	cursor.Status = models.CursorStatusPending
	cursor.Reason = ""
}

func finish(cursor *models.ContactCursor, status models.CursorStatus, reason string) {
	clearWait(cursor)

	cursor.Status = status
	cursor.Reason = reason
}

func clearWait(cursor *models.ContactCursor) {
	cursor.ResumeAt = nil
	cursor.Deadline = nil
	cursor.AwaitingReply = false
	cursor.Reply = nil
}

// waitState is nil on the first visit of a node.
func waitState(cursor *models.ContactCursor) *protocol.WaitState {
	if cursor.ResumeAt == nil && cursor.Deadline == nil && !cursor.AwaitingReply {
		return nil
	}

	return &protocol.WaitState{
		ResumeAt:      cursor.ResumeAt,
		Deadline:      cursor.Deadline,
		AwaitingReply: cursor.AwaitingReply,
		Reply:         cursor.Reply,
	}
}

func snapshot(node *models.Node, cursor *models.ContactCursor) map[string]any {
	input := map[string]any{"config": node.Config}

	if cursor.Reply != nil {
		input["reply"] = *cursor.Reply
	}

	return input
}

func stale(at, now time.Time, ttl time.Duration) bool {
	return !at.IsZero() && now.Sub(at) >= ttl
}
