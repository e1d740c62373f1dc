package web_test

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"sync"
	"testing"

	"github.com/dukex/courier/pkg/campaign"
	"github.com/dukex/courier/pkg/execution"
	"github.com/dukex/courier/pkg/flowgraph"
	"github.com/dukex/courier/pkg/mocks"
	"github.com/dukex/courier/pkg/models"
	"github.com/dukex/courier/pkg/persistence"
	"github.com/dukex/courier/pkg/registry"
	"github.com/dukex/courier/pkg/services"
	"github.com/dukex/courier/pkg/testutil"
	"github.com/dukex/courier/pkg/web"
	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/dukex/courier/pkg/persistence/file"
)

type memoryQueue struct {
	mu   sync.Mutex
	jobs []models.BatchJob
}

func (q *memoryQueue) Enqueue(_ context.Context, job models.BatchJob) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	q.jobs = append(q.jobs, job)

	return nil
}

func (q *memoryQueue) drain() []models.BatchJob {
	q.mu.Lock()
	defer q.mu.Unlock()

	jobs := q.jobs
	q.jobs = nil

	return jobs
}

type testApp struct {
	app       *fiber.App
	store     persistence.Persistence
	queue     *memoryQueue
	messenger *mocks.MockMessenger
}

func newTestApp(t *testing.T, store persistence.Persistence) *testApp {
	t.Helper()

	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError}))

	reg := registry.NewRegistry(logger)
	reg.RegisterDefaultNodes()

	jobs := &memoryQueue{}
	messenger := &mocks.MockMessenger{}
	messenger.On("Send", mock.Anything, mock.Anything).Return("msg-1", nil).Maybe()

	graphs := flowgraph.NewValidator(reg)
	settings := campaign.DefaultSettings()
	machine := execution.NewMachine(logger, store)
	orchestrator := campaign.NewOrchestrator(logger, store, machine, graphs, jobs, settings)
	worker := campaign.NewWorker(logger, store, reg, machine, jobs, campaign.Capabilities{Messenger: messenger}, settings)
	validate := validator.New(validator.WithRequiredStructEnabled())

	handlers := web.NewAPIHandlers(
		services.NewFlow(store, graphs),
		services.NewExecution(orchestrator, store),
		services.NewDirectory(store, validate),
		validate,
		reg,
	)

	app := fiber.New()
	handlers.Register(app)
	web.NewQueueHandlers(logger, worker.Handle).Register(app)

	return &testApp{app: app, store: store, queue: jobs, messenger: messenger}
}

func (a *testApp) do(t *testing.T, method, path string, body any, headers ...string) (int, []byte) {
	t.Helper()

	var reader io.Reader

	if body != nil {
		payload, err := json.Marshal(body)
		require.NoError(t, err)

		reader = bytes.NewReader(payload)
	}

	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")

	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}

	resp, err := a.app.Test(req)
	require.NoError(t, err)

	defer func() {
		_ = resp.Body.Close()
	}()

	respBody, err := io.ReadAll(resp.Body)
	require.NoError(t, err)

	return resp.StatusCode, respBody
}

// deliver pushes every queued job through the queue callback until none are left.
func (a *testApp) deliver(t *testing.T) {
	t.Helper()

	for range 20 {
		jobs := a.queue.drain()
		if len(jobs) == 0 {
			return
		}

		for _, job := range jobs {
			status, body := a.do(t, http.MethodPost, "/queue/campaign-batches", job)
			require.Equal(t, http.StatusOK, status, string(body))
		}
	}

	t.Fatal("queue did not drain")
}

func (a *testApp) seedContacts(t *testing.T, ids ...string) {
	t.Helper()

	contacts := make([]*models.Contact, 0, len(ids))
	for _, id := range ids {
		contacts = append(contacts, testutil.CreateTestContact(id))
	}

	status, body := a.do(t, http.MethodPost, "/contacts", web.SaveContactsRequest{Contacts: contacts})
	require.Equal(t, http.StatusOK, status, string(body))
}

func flowRequest(flow *models.Flow) web.SaveFlowRequest {
	return web.SaveFlowRequest{ID: flow.ID, Name: flow.Name, Nodes: flow.Nodes, Edges: flow.Edges, Variables: flow.Variables}
}

func TestAPIHandlers_SaveFlow(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name           string
		requestBody    any
		expectedStatus int
		validateResult func(t *testing.T, body []byte)
	}{
		{
			name:           "valid flow",
			requestBody:    flowRequest(testutil.CreateMenuFlow("menu", "10m")),
			expectedStatus: http.StatusCreated,
			validateResult: func(t *testing.T, body []byte) {
				t.Helper()

				var flow models.Flow
				require.NoError(t, json.Unmarshal(body, &flow))
				assert.Equal(t, "menu", flow.ID)
				assert.Len(t, flow.Edges, 3)
			},
		},
		{
			name: "invalid graph lists violations",
			requestBody: flowRequest(testutil.NewFlow("broken").
				Node("start", models.NodeKindStart, nil).
				Node("orphan", models.NodeKindEnd, nil).
				Edge("start", "ghost", "").
				Build()),
			expectedStatus: http.StatusBadRequest,
			validateResult: func(t *testing.T, body []byte) {
				t.Helper()

				var problem struct {
					Type       string `json:"type"`
					Violations []struct {
						NodeID  string `json:"node_id"`
						Message string `json:"message"`
					} `json:"violations"`
				}
				require.NoError(t, json.Unmarshal(body, &problem))
				assert.Equal(t, "invalid_graph", problem.Type)
				assert.GreaterOrEqual(t, len(problem.Violations), 2)
			},
		},
		{
			name: "null nodes and edges are violations",
			requestBody: map[string]any{
				"id":   "sparse",
				"name": "Sparse",
				"nodes": []any{
					map[string]any{"id": "start", "kind": "start"},
					map[string]any{"id": "end", "kind": "end"},
					nil,
				},
				"edges": []any{nil, map[string]any{"source": "start", "target": "end"}},
			},
			expectedStatus: http.StatusBadRequest,
			validateResult: func(t *testing.T, body []byte) {
				t.Helper()

				var problem struct {
					Type       string `json:"type"`
					Violations []struct {
						Message string `json:"message"`
					} `json:"violations"`
				}
				require.NoError(t, json.Unmarshal(body, &problem))
				assert.Equal(t, "invalid_graph", problem.Type)
				assert.Len(t, problem.Violations, 2)
			},
		},
		{
			name:           "missing nodes",
			requestBody:    web.SaveFlowRequest{Name: "empty"},
			expectedStatus: http.StatusBadRequest,
		},
		{
			name:           "invalid json",
			requestBody:    "not an object",
			expectedStatus: http.StatusBadRequest,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			app := newTestApp(t, file.NewPersistence(t.TempDir()))

			status, body := app.do(t, http.MethodPost, "/flows", tt.requestBody)
			assert.Equal(t, tt.expectedStatus, status, string(body))

			if tt.validateResult != nil {
				tt.validateResult(t, body)
			}
		})
	}
}

func TestAPIHandlers_GetFlow(t *testing.T) {
	app := newTestApp(t, file.NewPersistence(t.TempDir()))

	status, _ := app.do(t, http.MethodPost, "/flows", flowRequest(testutil.CreateMessageFlow("welcome", "Hi")))
	require.Equal(t, http.StatusCreated, status)

	status, body := app.do(t, http.MethodGet, "/flows/welcome", nil)
	assert.Equal(t, http.StatusOK, status)
	assert.Contains(t, string(body), `"id":"welcome"`)

	status, _ = app.do(t, http.MethodPost, "/flows/welcome/validate", nil)
	assert.Equal(t, http.StatusOK, status)

	status, body = app.do(t, http.MethodGet, "/flows/missing", nil)
	assert.Equal(t, http.StatusNotFound, status)
	assert.Contains(t, string(body), "not_found")

	status, body = app.do(t, http.MethodGet, "/flows", nil)
	assert.Equal(t, http.StatusOK, status)
	assert.Contains(t, string(body), `"total_count":1`)
}

func TestAPIHandlers_StartExecution(t *testing.T) {
	app := newTestApp(t, file.NewPersistence(t.TempDir()))
	app.seedContacts(t, "c1", "c2")

	status, _ := app.do(t, http.MethodPost, "/flows", flowRequest(testutil.CreateMessageFlow("welcome", "Hi")))
	require.Equal(t, http.StatusCreated, status)

	start := web.StartExecutionRequest{ContactIDs: []string{"c1", "c2"}}

	status, body := app.do(t, http.MethodPost, "/flows/welcome/executions", start)
	assert.Equal(t, http.StatusBadRequest, status)
	assert.Contains(t, string(body), "idempotency key is required")

	status, body = app.do(t, http.MethodPost, "/flows/welcome/executions", start, web.IdempotencyKeyHeader, "run-1")
	require.Equal(t, http.StatusAccepted, status, string(body))

	var first campaign.StartResult
	require.NoError(t, json.Unmarshal(body, &first))
	assert.Equal(t, 1, first.Batches)
	assert.False(t, first.Existing)

	status, body = app.do(t, http.MethodPost, "/flows/welcome/executions", start, web.IdempotencyKeyHeader, "run-1")
	require.Equal(t, http.StatusOK, status)

	var second campaign.StartResult
	require.NoError(t, json.Unmarshal(body, &second))
	assert.True(t, second.Existing)
	assert.Equal(t, first.Execution.ID, second.Execution.ID)

	status, _ = app.do(t, http.MethodPost, "/flows/missing/executions", start, web.IdempotencyKeyHeader, "run-2")
	assert.Equal(t, http.StatusNotFound, status)

	status, _ = app.do(t, http.MethodPost, "/flows/welcome/executions",
		web.StartExecutionRequest{}, web.IdempotencyKeyHeader, "run-3")
	assert.Equal(t, http.StatusBadRequest, status)
}

func TestAPIHandlers_CampaignLifecycle(t *testing.T) {
	app := newTestApp(t, file.NewPersistence(t.TempDir()))
	app.seedContacts(t, "c1")

	status, _ := app.do(t, http.MethodPost, "/flows", flowRequest(testutil.CreateMenuFlow("survey", "")))
	require.Equal(t, http.StatusCreated, status)

	status, body := app.do(t, http.MethodPost, "/flows/survey/executions",
		web.StartExecutionRequest{ContactIDs: []string{"c1"}}, web.IdempotencyKeyHeader, "survey-1")
	require.Equal(t, http.StatusAccepted, status, string(body))

	var started campaign.StartResult
	require.NoError(t, json.Unmarshal(body, &started))

	executionPath := "/executions/" + started.Execution.ID

	app.deliver(t)

	var current services.StatusResponse

	status, body = app.do(t, http.MethodGet, executionPath, nil)
	require.Equal(t, http.StatusOK, status)
	require.NoError(t, json.Unmarshal(body, &current))
	assert.Equal(t, models.ExecutionStatusRunning, current.Execution.Status)
	assert.Equal(t, 1, current.Contacts[models.CursorStatusWaiting])

	status, _ = app.do(t, http.MethodPost, executionPath+"/pause", nil)
	assert.Equal(t, http.StatusOK, status)

	status, _ = app.do(t, http.MethodPost, executionPath+"/pause", nil)
	assert.Equal(t, http.StatusConflict, status)

	status, _ = app.do(t, http.MethodPost, executionPath+"/contacts/c1/reply", web.ReplyRequest{Text: "yes"})
	assert.Equal(t, http.StatusAccepted, status)

	status, _ = app.do(t, http.MethodPost, executionPath+"/resume", nil)
	assert.Equal(t, http.StatusOK, status)

	app.deliver(t)

	status, body = app.do(t, http.MethodGet, executionPath, nil)
	require.Equal(t, http.StatusOK, status)
	require.NoError(t, json.Unmarshal(body, &current))
	assert.Equal(t, models.ExecutionStatusCompleted, current.Execution.Status)
	assert.Equal(t, 1, current.Contacts[models.CursorStatusCompleted])

	status, body = app.do(t, http.MethodGet, executionPath+"/node-executions?contact_id=c1&limit=10", nil)
	require.Equal(t, http.StatusOK, status)

	var page struct {
		NodeExecutions []models.NodeExecution `json:"node_executions"`
		TotalCount     int                    `json:"total_count"`
	}
	require.NoError(t, json.Unmarshal(body, &page))
	require.Equal(t, 3, page.TotalCount)
	assert.Equal(t, "yes", page.NodeExecutions[1].Branch)

	status, _ = app.do(t, http.MethodPost, executionPath+"/contacts/c1/reply", web.ReplyRequest{Text: "no"})
	assert.Equal(t, http.StatusConflict, status)

	status, _ = app.do(t, http.MethodPost, executionPath+"/cancel", nil)
	assert.Equal(t, http.StatusConflict, status)

	status, _ = app.do(t, http.MethodGet, executionPath+"/node-executions?limit=abc", nil)
	assert.Equal(t, http.StatusBadRequest, status)

	status, _ = app.do(t, http.MethodGet, "/executions/missing", nil)
	assert.Equal(t, http.StatusNotFound, status)
}

func TestAPIHandlers_Cancel(t *testing.T) {
	app := newTestApp(t, file.NewPersistence(t.TempDir()))
	app.seedContacts(t, "c1", "c2")

	status, _ := app.do(t, http.MethodPost, "/flows", flowRequest(testutil.CreateWaitFlow("drip", "24h")))
	require.Equal(t, http.StatusCreated, status)

	status, body := app.do(t, http.MethodPost, "/flows/drip/executions",
		web.StartExecutionRequest{ContactIDs: []string{"c1", "c2"}}, web.IdempotencyKeyHeader, "drip-1")
	require.Equal(t, http.StatusAccepted, status)

	var started campaign.StartResult
	require.NoError(t, json.Unmarshal(body, &started))

	app.deliver(t)

	status, body = app.do(t, http.MethodPost, "/executions/"+started.Execution.ID+"/cancel", nil)
	require.Equal(t, http.StatusOK, status)

	var cancelled models.FlowExecution
	require.NoError(t, json.Unmarshal(body, &cancelled))
	assert.Equal(t, models.ExecutionStatusCancelled, cancelled.Status)
}

func TestAPIHandlers_Tools(t *testing.T) {
	app := newTestApp(t, file.NewPersistence(t.TempDir()))

	status, body := app.do(t, http.MethodPost, "/tools", web.SaveToolRequest{
		ID:         "lookup",
		Name:       "lookup_order",
		WebhookURL: "https://tools.example.com/orders",
	})
	require.Equal(t, http.StatusCreated, status, string(body))

	status, body = app.do(t, http.MethodGet, "/tools/lookup", nil)
	assert.Equal(t, http.StatusOK, status)
	assert.Contains(t, string(body), "lookup_order")

	status, _ = app.do(t, http.MethodPost, "/tools", web.SaveToolRequest{Name: "x", WebhookURL: "nope"})
	assert.Equal(t, http.StatusBadRequest, status)

	status, _ = app.do(t, http.MethodGet, "/tools/missing", nil)
	assert.Equal(t, http.StatusNotFound, status)
}

func TestAPIHandlers_NodeKindsAndHealth(t *testing.T) {
	app := newTestApp(t, file.NewPersistence(t.TempDir()))

	status, body := app.do(t, http.MethodGet, "/node-kinds", nil)
	require.Equal(t, http.StatusOK, status)

	var kinds []web.NodeKindResponse
	require.NoError(t, json.Unmarshal(body, &kinds))
	assert.Len(t, kinds, 11)

	status, body = app.do(t, http.MethodGet, "/health", nil)
	assert.Equal(t, http.StatusOK, status)
	assert.Contains(t, string(body), `"status":"healthy"`)
}

func TestQueueHandlers_CampaignBatch(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	tests := []struct {
		name           string
		body           any
		handlerErr     error
		expectedStatus int
	}{
		{
			name:           "processed",
			body:           models.BatchJob{ExecutionID: "e1", ContactIDs: []string{"c1"}},
			expectedStatus: http.StatusOK,
		},
		{
			name:           "handler failure asks for redelivery",
			body:           models.BatchJob{ExecutionID: "e1", ContactIDs: []string{"c1"}},
			handlerErr:     assert.AnError,
			expectedStatus: http.StatusInternalServerError,
		},
		{
			name:           "empty job",
			body:           models.BatchJob{ExecutionID: "e1"},
			expectedStatus: http.StatusBadRequest,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var received []models.BatchJob

			handler := func(_ context.Context, job models.BatchJob) error {
				received = append(received, job)

				return tt.handlerErr
			}

			app := fiber.New()
			web.NewQueueHandlers(logger, handler).Register(app)

			payload, err := json.Marshal(tt.body)
			require.NoError(t, err)

			req := httptest.NewRequest(http.MethodPost, "/queue/campaign-batches", bytes.NewReader(payload))
			req.Header.Set("Content-Type", "application/json")

			resp, err := app.Test(req)
			require.NoError(t, err)

			defer func() {
				_ = resp.Body.Close()
			}()

			assert.Equal(t, tt.expectedStatus, resp.StatusCode)

			if tt.expectedStatus != http.StatusBadRequest {
				assert.Len(t, received, 1)
			}
		})
	}
}
