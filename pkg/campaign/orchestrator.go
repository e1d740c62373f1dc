package campaign

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/cenkalti/backoff/v4"
	"github.com/dukex/courier/pkg/execution"
	"github.com/dukex/courier/pkg/flowgraph"
	"github.com/dukex/courier/pkg/models"
	"github.com/dukex/courier/pkg/otelhelper"
	"github.com/dukex/courier/pkg/persistence"
	"github.com/dukex/courier/pkg/queue"
	"go.opentelemetry.io/otel/attribute"
)

const replyRetries = 3

// StartRequest asks for a campaign run of a flow.
type StartRequest struct {
	FlowID         string
	ContactIDs     []string
	IdempotencyKey string
	Variables      map[string]any
	// BatchSize overrides Settings.BatchSize for this run when positive.
	BatchSize int
}

// StartResult is the outcome of StartCampaignExecution.
type StartResult struct {
	Execution *models.FlowExecution `json:"execution"`
	// Existing is true when the idempotency key matched an earlier start.
	Existing bool `json:"existing"`
	Batches  int  `json:"batches"`
	// Unqueued are the contacts failed because their batch could not be enqueued.
	Unqueued []string `json:"unqueued,omitempty"`
}

// Orchestrator turns lifecycle requests into queued batches.
type Orchestrator struct {
	logger     *slog.Logger
	flows      persistence.FlowRepository
	contacts   persistence.ContactRepository
	executions persistence.ExecutionRepository
	cursors    persistence.CursorRepository
	machine    *execution.Machine
	validator  *flowgraph.Validator
	queue      queue.Queue
	settings   Settings
	options
}

func NewOrchestrator(
	logger *slog.Logger,
	store persistence.Persistence,
	machine *execution.Machine,
	validator *flowgraph.Validator,
	queue queue.Queue,
	settings Settings,
	opts ...Option,
) *Orchestrator {
	return &Orchestrator{
		logger:     logger.With("module", "campaign_orchestrator"),
		flows:      store.FlowRepository(),
		contacts:   store.ContactRepository(),
		executions: store.ExecutionRepository(),
		cursors:    store.CursorRepository(),
		machine:    machine,
		validator:  validator,
		queue:      queue,
		settings:   settings.WithDefaults(),
		options:    newOptions(opts),
	}
}

// StartCampaignExecution validates the flow, admits the contacts and enqueues
// one batch per BatchSize contacts with sequence numbers 0..N-1.
func (o *Orchestrator) StartCampaignExecution(ctx context.Context, req StartRequest) (*StartResult, error) {
	ctx, span := otelhelper.StartSpan(ctx, o.tracer, "campaign.start",
		attribute.String(otelhelper.FlowIDKey, req.FlowID),
		attribute.Int(otelhelper.BatchSizeKey, len(req.ContactIDs)),
	)
	defer span.End()

	flow, err := o.flows.GetByID(ctx, req.FlowID)
	if err != nil {
		otelhelper.SetError(span, err)

		return nil, err
	}

	if err := o.validator.Validate(ctx, flow); err != nil {
		otelhelper.SetError(span, err)

		return nil, err
	}

	contacts, err := o.contacts.GetByIDs(ctx, req.ContactIDs)
	if err != nil {
		return nil, fmt.Errorf("failed to load contacts: %w", err)
	}

	started, err := o.machine.Start(ctx, execution.StartRequest{
		Flow:           flow,
		ContactIDs:     req.ContactIDs,
		Contacts:       contacts,
		IdempotencyKey: req.IdempotencyKey,
		Variables:      req.Variables,
	})
	if err != nil {
		otelhelper.SetError(span, err)

		return nil, err
	}

	result := &StartResult{Execution: started.Execution, Existing: started.Existing}
	span.SetAttributes(attribute.String(otelhelper.ExecutionIDKey, started.Execution.ID))

	if len(started.Admitted) == 0 {
		if started.Existing {
			return result, nil
		}

		// Every contact was skipped at admission.
		current, _, err := o.machine.CheckCompletion(ctx, started.Execution.ID)
		if err != nil {
			return nil, err
		}

		result.Execution = current

		return result, nil
	}

	batchSize := o.settings.BatchSize
	if req.BatchSize > 0 {
		batchSize = req.BatchSize
	}

	result.Batches, result.Unqueued = o.enqueue(ctx, flow, started.Execution.ID, Partition(started.Admitted, batchSize))

	if len(result.Unqueued) > 0 {
		if current, _, err := o.machine.CheckCompletion(ctx, started.Execution.ID); err == nil {
			result.Execution = current
		}
	}

	o.logger.InfoContext(ctx, "campaign started",
		"execution_id", started.Execution.ID,
		"flow_id", flow.ID,
		"admitted", len(started.Admitted),
		"batches", result.Batches,
		"unqueued", len(result.Unqueued))

	return result, nil
}

// EnqueueContacts schedules contacts of a running execution in fresh batches and
// returns how many batches were queued.
func (o *Orchestrator) EnqueueContacts(ctx context.Context, executionID string, contactIDs []string) (int, error) {
	if len(contactIDs) == 0 {
		return 0, nil
	}

	current, err := o.executions.GetByID(ctx, executionID)
	if err != nil {
		return 0, err
	}

	flow, err := o.flows.GetByID(ctx, current.FlowID)
	if err != nil {
		return 0, err
	}

	batches, unqueued := o.enqueue(ctx, flow, executionID, Partition(contactIDs, o.settings.BatchSize))
	if len(unqueued) > 0 {
		if _, _, err := o.machine.CheckCompletion(ctx, executionID); err != nil {
			return batches, err
		}
	}

	return batches, nil
}

// enqueue queues each batch with bounded exponential backoff. Contacts of a
// batch that never makes it are failed so the rest of the run proceeds.
func (o *Orchestrator) enqueue(ctx context.Context, flow *models.Flow, executionID string, batches [][]string) (int, []string) {
	queued := 0

	var unqueued []string

	for sequence, contactIDs := range batches {
		job := models.BatchJob{ExecutionID: executionID, ContactIDs: contactIDs, Sequence: sequence}

		err := o.enqueueWithRetry(ctx, job)
		if err == nil {
			queued++

			continue
		}

		o.metrics.EnqueueFailed()
		o.logger.ErrorContext(ctx, "giving up on batch", "execution_id", executionID, "batch_seq", sequence, "error", err)

		if failErr := o.machine.FailContacts(ctx, flow, executionID, contactIDs, err); failErr != nil {
			o.logger.ErrorContext(ctx, "failed to fail unqueued contacts", "execution_id", executionID, "error", failErr)
		}

		unqueued = append(unqueued, contactIDs...)
	}

	return queued, unqueued
}

func (o *Orchestrator) enqueueWithRetry(ctx context.Context, job models.BatchJob) error {
	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = o.settings.EnqueueBackoff
	policy.MaxInterval = 10 * o.settings.EnqueueBackoff
	policy.MaxElapsedTime = 0

	attempts := 0

	err := backoff.Retry(func() error {
		attempts++

		return o.queue.Enqueue(ctx, job)
	}, backoff.WithContext(backoff.WithMaxRetries(policy, uint64(o.settings.EnqueueAttempts-1)), ctx))
	if err != nil {
		return &EnqueueError{
			ExecutionID: job.ExecutionID,
			Sequence:    job.Sequence,
			ContactIDs:  job.ContactIDs,
			Attempts:    attempts,
			Err:         err,
		}
	}

	return nil
}

func (o *Orchestrator) Pause(ctx context.Context, executionID string) (*models.FlowExecution, error) {
	return o.machine.Pause(ctx, executionID)
}

// Resume restarts a paused execution and schedules every contact that can run.
func (o *Orchestrator) Resume(ctx context.Context, executionID string) (*models.FlowExecution, error) {
	resumed, runnable, err := o.machine.Resume(ctx, executionID)
	if err != nil {
		return nil, err
	}

	if len(runnable) == 0 {
		// Everything finished while paused.
		current, _, err := o.machine.CheckCompletion(ctx, executionID)
		if err != nil {
			return resumed, err
		}

		return current, nil
	}

	batches, err := o.EnqueueContacts(ctx, executionID, runnable)
	if err != nil {
		return resumed, err
	}

	o.logger.InfoContext(ctx, "campaign resumed", "execution_id", executionID, "contacts", len(runnable), "batches", batches)

	return resumed, nil
}

func (o *Orchestrator) Cancel(ctx context.Context, executionID string) (*models.FlowExecution, error) {
	return o.machine.Cancel(ctx, executionID)
}

func (o *Orchestrator) Status(ctx context.Context, executionID string) (*models.FlowExecution, map[models.CursorStatus]int, error) {
	return o.machine.Status(ctx, executionID)
}

// SubmitReply stores a contact's reply on the cursor waiting for it and, when
// the execution is running, schedules the contact right away. Only the first
// reply to a wait is kept. A reply to a question still being sent is kept for
// the wait that follows it.
func (o *Orchestrator) SubmitReply(ctx context.Context, executionID, contactID, text string) error {
	current, err := o.executions.GetByID(ctx, executionID)
	if err != nil {
		return err
	}

	if current.Status.IsTerminal() {
		return persistence.NewExecutionError("SubmitReply", executionID, ErrExecutionEnded)
	}

	stored := false

	for range replyRetries {
		cursor, err := o.cursors.Get(ctx, executionID, contactID)
		if err != nil {
			return err
		}

		if cursor.Status.IsTerminal() {
			return persistence.NewCursorError("SubmitReply", executionID, contactID, ErrNotAwaitingReply)
		}

		if !cursor.AwaitingReply {
			asking, err := o.asking(ctx, current.FlowID, cursor)
			if err != nil {
				return err
			}

			if !asking {
				return persistence.NewCursorError("SubmitReply", executionID, contactID, ErrNotAwaitingReply)
			}
		}

		if cursor.Reply != nil {
			return nil
		}

		next := cursor.Clone()
		next.Reply = &text

		err = o.cursors.Update(ctx, next)
		if err == nil {
			stored = true

			break
		}

		if !persistence.IsCursorConflict(err) {
			return err
		}
	}

	if !stored {
		return persistence.NewCursorError("SubmitReply", executionID, contactID, persistence.ErrCursorConflict)
	}

	o.logger.InfoContext(ctx, "reply stored", "execution_id", executionID, "contact_id", contactID)

	if current.Status != models.ExecutionStatusRunning {
		return nil
	}

	job := models.BatchJob{ExecutionID: executionID, ContactIDs: []string{contactID}}
	if err := o.enqueueWithRetry(ctx, job); err != nil {
		// The waker picks the contact up on its next sweep.
		o.logger.WarnContext(ctx, "failed to schedule replied contact", "contact_id", contactID, "error", err)
	}

	return nil
}

// asking reports whether the cursor is running a node that waits for a reply.
func (o *Orchestrator) asking(ctx context.Context, flowID string, cursor *models.ContactCursor) (bool, error) {
	if cursor.Status != models.CursorStatusRunning {
		return false, nil
	}

	flow, err := o.flows.GetByID(ctx, flowID)
	if err != nil {
		return false, fmt.Errorf("failed to load flow %s: %w", flowID, err)
	}

	node, ok := flow.NodeByID(cursor.NodeID)
	if !ok {
		return false, nil
	}

	return node.Kind == models.NodeKindMenu || node.Kind == models.NodeKindInput, nil
}
