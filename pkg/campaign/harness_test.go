package campaign

import (
	"context"
	"log/slog"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/dukex/courier/pkg/execution"
	"github.com/dukex/courier/pkg/flowgraph"
	"github.com/dukex/courier/pkg/mocks"
	"github.com/dukex/courier/pkg/models"
	"github.com/dukex/courier/pkg/persistence/file"
	"github.com/dukex/courier/pkg/queue"
	"github.com/dukex/courier/pkg/registry"
	"github.com/dukex/courier/pkg/testutil"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type recordingQueue struct {
	mu   sync.Mutex
	jobs []models.BatchJob
}

func (q *recordingQueue) Enqueue(_ context.Context, job models.BatchJob) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	q.jobs = append(q.jobs, job)

	return nil
}

func (q *recordingQueue) drain() []models.BatchJob {
	q.mu.Lock()
	defer q.mu.Unlock()

	jobs := q.jobs
	q.jobs = nil

	return jobs
}

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.now = c.now.Add(d)
}

type harness struct {
	t            *testing.T
	store        *file.Persistence
	queue        *recordingQueue
	messenger    *mocks.MockMessenger
	clock        *testClock
	machine      *execution.Machine
	orchestrator *Orchestrator
	worker       *Worker
	waker        *Waker
}

func newHarness(t *testing.T, settings Settings, jobs queue.Queue) *harness {
	t.Helper()

	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError}))

	h := &harness{
		t:         t,
		store:     file.NewPersistence(t.TempDir()),
		queue:     &recordingQueue{},
		messenger: new(mocks.MockMessenger),
		clock:     &testClock{now: time.Now().UTC()},
	}

	if jobs == nil {
		jobs = h.queue
	}

	reg := registry.NewRegistry(logger)
	reg.RegisterDefaultNodes()

	h.machine = execution.NewMachine(logger, h.store, execution.WithClock(h.clock.Now))
	h.orchestrator = NewOrchestrator(logger, h.store, h.machine, flowgraph.NewValidator(reg), jobs, settings)
	h.worker = NewWorker(logger, h.store, reg, h.machine, jobs, Capabilities{Messenger: h.messenger}, settings,
		WithClock(h.clock.Now), WithWorkerID("test-worker"))
	h.waker = NewWaker(logger, h.store, h.machine, h.orchestrator, settings, WithClock(h.clock.Now))

	return h
}

func (h *harness) sendsSucceed() {
	h.messenger.On("Send", mock.Anything, mock.Anything).Return("msg-1", nil)
}

// seed stores the flow and active contacts with the given ids.
func (h *harness) seed(flow *models.Flow, contactIDs ...string) {
	h.t.Helper()

	ctx := context.Background()
	require.NoError(h.t, h.store.FlowRepository().Save(ctx, flow))

	for _, id := range contactIDs {
		require.NoError(h.t, h.store.ContactRepository().Save(ctx, testutil.CreateTestContact(id)))
	}
}

func (h *harness) start(flowID string, contactIDs ...string) *StartResult {
	h.t.Helper()

	result, err := h.orchestrator.StartCampaignExecution(context.Background(), StartRequest{
		FlowID:         flowID,
		ContactIDs:     contactIDs,
		IdempotencyKey: "key-" + flowID,
	})
	require.NoError(h.t, err)

	return result
}

// runQueued processes queued jobs, including continuations, until the queue is empty.
func (h *harness) runQueued() []models.BatchResult {
	h.t.Helper()

	var results []models.BatchResult

	for range 50 {
		jobs := h.queue.drain()
		if len(jobs) == 0 {
			return results
		}

		for _, job := range jobs {
			result, err := h.worker.ProcessBatch(context.Background(), job)
			require.NoError(h.t, err)

			results = append(results, result)
		}
	}

	h.t.Fatal("queue did not drain")

	return nil
}

func (h *harness) cursor(executionID, contactID string) *models.ContactCursor {
	h.t.Helper()

	cursor, err := h.store.CursorRepository().Get(context.Background(), executionID, contactID)
	require.NoError(h.t, err)

	return cursor
}

func (h *harness) execution(executionID string) *models.FlowExecution {
	h.t.Helper()

	current, err := h.store.ExecutionRepository().GetByID(context.Background(), executionID)
	require.NoError(h.t, err)

	return current
}

func (h *harness) history(executionID, contactID string) []*models.NodeExecution {
	h.t.Helper()

	entries, err := h.worker.ledger.History(context.Background(), executionID, contactID)
	require.NoError(h.t, err)

	return entries
}

func testSettings() Settings {
	settings := DefaultSettings()
	settings.EnqueueBackoff = time.Millisecond

	return settings
}
