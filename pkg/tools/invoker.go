// Package tools calls the webhooks behind AI tools on behalf of agent nodes and
// keeps a ToolExecution record of every call.
package tools

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/dukex/courier/pkg/metrics"
	"github.com/dukex/courier/pkg/models"
	"github.com/dukex/courier/pkg/otelhelper"
	"github.com/dukex/courier/pkg/persistence"
	"github.com/dukex/courier/pkg/protocol"
	"github.com/google/uuid"
	"github.com/xeipuuv/gojsonschema"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

const (
	DefaultTimeout = 10 * time.Second

	// IdempotencyKeyHeader carries the ToolExecution key to the webhook.
	IdempotencyKeyHeader = "Idempotency-Key"

	maxResponseBytes = 1 << 20
)

// Visit identifies the node visit the calls are made for.
type Visit struct {
	ExecutionID     string
	ContactID       string
	NodeID          string
	Step            int
	NodeExecutionID string
}

// Key names the callIndex-th tool call of the visit.
func (v Visit) Key(callIndex int) string {
	return fmt.Sprintf("%s/%s/%s/%d/%d", v.ExecutionID, v.ContactID, v.NodeID, v.Step, callIndex)
}

type Invoker struct {
	logger  *slog.Logger
	repo    persistence.ToolRepository
	client  *http.Client
	timeout time.Duration
	tracer  trace.Tracer
	metrics *metrics.Metrics
	now     func() time.Time
}

type Option func(*Invoker)

func WithHTTPClient(client *http.Client) Option {
	return func(i *Invoker) { i.client = client }
}

func WithTracer(tracer trace.Tracer) Option {
	return func(i *Invoker) { i.tracer = tracer }
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(i *Invoker) { i.metrics = m }
}

func WithClock(now func() time.Time) Option {
	return func(i *Invoker) { i.now = now }
}

func NewInvoker(logger *slog.Logger, repo persistence.ToolRepository, timeout time.Duration, opts ...Option) *Invoker {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}

	invoker := &Invoker{
		logger:  logger.With("module", "tools"),
		repo:    repo,
		client:  &http.Client{},
		timeout: timeout,
		tracer:  otelhelper.DefaultTracer(),
		now:     time.Now,
	}

	for _, opt := range opts {
		opt(invoker)
	}

	return invoker
}

// Scope returns a ToolInvoker bound to one node visit. Calls for different
// visits share nothing but the repository.
func (i *Invoker) Scope(visit Visit) protocol.ToolInvoker {
	return &ScopedInvoker{invoker: i, visit: visit}
}

type ScopedInvoker struct {
	invoker *Invoker
	visit   Visit
	allowed map[string]bool
}

// Tools loads the tools with the given ids. Only loaded tools can be invoked.
func (s *ScopedInvoker) Tools(ctx context.Context, ids []string) ([]*models.AITool, error) {
	tools := make([]*models.AITool, 0, len(ids))
	s.allowed = make(map[string]bool, len(ids))

	for _, id := range ids {
		tool, err := s.invoker.repo.GetTool(ctx, id)
		if err != nil {
			return nil, fmt.Errorf("failed to load tool '%s': %w", id, err)
		}

		s.allowed[tool.ID] = true
		tools = append(tools, tool)
	}

	return tools, nil
}

// Invoke calls the tool webhook. A succeeded call recorded under the same key is
// replayed without calling the webhook again.
func (s *ScopedInvoker) Invoke(
	ctx context.Context,
	tool *models.AITool,
	payload map[string]any,
	callIndex int,
) (*protocol.ToolResult, error) {
	if s.allowed != nil && !s.allowed[tool.ID] {
		return nil, &ToolInvocationError{ToolID: tool.ID, ToolName: tool.Name, Err: ErrToolNotAllowed}
	}

	return s.invoker.invoke(ctx, s.visit, tool, payload, callIndex)
}

func (i *Invoker) invoke(
	ctx context.Context,
	visit Visit,
	tool *models.AITool,
	payload map[string]any,
	callIndex int,
) (*protocol.ToolResult, error) {
	key := visit.Key(callIndex)
	logger := i.logger.With("tool", tool.Name, "key", key)

	ctx, span := otelhelper.StartSpan(ctx, i.tracer, "tools.invoke",
		attribute.String(otelhelper.ToolIDKey, tool.ID),
		attribute.String(otelhelper.ToolNameKey, tool.Name),
		attribute.String(otelhelper.ExecutionIDKey, visit.ExecutionID),
		attribute.String(otelhelper.ContactIDKey, visit.ContactID),
	)
	defer span.End()

	existing, err := i.repo.GetToolExecutionByKey(ctx, key)
	if err != nil && !errors.Is(err, persistence.ErrToolExecutionNotFound) {
		return nil, fmt.Errorf("failed to look up tool execution: %w", err)
	}

	if existing != nil && existing.Status == models.ToolExecutionSucceeded {
		logger.DebugContext(ctx, "replaying recorded tool execution")

		return &protocol.ToolResult{Execution: existing, Response: existing.Response, Replayed: true}, nil
	}

	if payload == nil {
		payload = map[string]any{}
	}

	record := &models.ToolExecution{
		ID:              uuid.New().String(),
		Key:             key,
		ToolID:          tool.ID,
		NodeExecutionID: visit.NodeExecutionID,
		Request:         payload,
		Status:          models.ToolExecutionPending,
		StartedAt:       i.now().UTC(),
	}
	if existing != nil {
		record.ID = existing.ID
	}

	if err := validatePayload(tool.InputSchema, payload); err != nil {
		invocationErr := &ToolInvocationError{ToolID: tool.ID, ToolName: tool.Name, Key: key, Err: err}

		return nil, i.finish(ctx, record, nil, 0, invocationErr)
	}

	// Recorded before the call so a crash mid-call leaves a pending trace.
	if err := i.repo.SaveToolExecution(ctx, record); err != nil {
		return nil, fmt.Errorf("failed to record tool execution: %w", err)
	}

	start := i.now()
	response, statusCode, callErr := i.call(ctx, tool, key, payload)

	var invocationErr *ToolInvocationError
	if callErr != nil {
		invocationErr = &ToolInvocationError{
			ToolID:   tool.ID,
			ToolName: tool.Name,
			Key:      key,
			Timeout:  errors.Is(callErr, context.DeadlineExceeded),
			Err:      callErr,
		}
	}

	if err := i.finish(ctx, record, response, statusCode, invocationErr); err != nil {
		i.metrics.ToolInvoked(tool.Name, string(record.Status), i.now().Sub(start))
		otelhelper.SetError(span, err)
		logger.WarnContext(ctx, "tool invocation failed", "error", err)

		return nil, err
	}

	i.metrics.ToolInvoked(tool.Name, string(record.Status), i.now().Sub(start))

	return &protocol.ToolResult{Execution: record, Response: response}, nil
}

// finish stores the outcome and returns failure, or the persistence error.
func (i *Invoker) finish(
	ctx context.Context,
	record *models.ToolExecution,
	response map[string]any,
	statusCode int,
	failure *ToolInvocationError,
) error {
	ended := i.now().UTC()
	record.EndedAt = &ended
	record.StatusCode = statusCode
	record.Response = response
	record.Status = models.ToolExecutionSucceeded

	if failure != nil {
		record.Status = models.ToolExecutionFailed
		record.ErrorMessage = failure.Error()
	}

	if err := i.repo.SaveToolExecution(ctx, record); err != nil {
		return fmt.Errorf("failed to record tool execution result: %w", err)
	}

	if failure != nil {
		return failure
	}

	return nil
}

func (i *Invoker) call(ctx context.Context, tool *models.AITool, key string, payload map[string]any) (map[string]any, int, error) {
	ctx, cancel := context.WithTimeout(ctx, i.timeout)
	defer cancel()

	body, err := json.Marshal(payload)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to encode payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, tool.WebhookURL, bytes.NewReader(body))
	if err != nil {
		return nil, 0, fmt.Errorf("failed to create request: %w", err)
	}

	for name, value := range tool.Headers {
		req.Header.Set(name, value)
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(IdempotencyKeyHeader, key)

	resp, err := i.client.Do(req)
	if err != nil {
		return nil, 0, fmt.Errorf("request failed: %w", err)
	}

	defer func() {
		_ = resp.Body.Close()
	}()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, resp.StatusCode, fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, resp.StatusCode, &HTTPError{StatusCode: resp.StatusCode, Message: strings.TrimSpace(string(respBody))}
	}

	return decodeResponse(respBody), resp.StatusCode, nil
}

// decodeResponse keeps JSON objects as they are and wraps anything else.
func decodeResponse(body []byte) map[string]any {
	if len(bytes.TrimSpace(body)) == 0 {
		return map[string]any{}
	}

	var object map[string]any
	if err := json.Unmarshal(body, &object); err == nil {
		return object
	}

	var value any
	if err := json.Unmarshal(body, &value); err == nil {
		return map[string]any{"result": value}
	}

	return map[string]any{"body": string(body)}
}

func validatePayload(schema, payload map[string]any) error {
	if len(schema) == 0 {
		return nil
	}

	result, err := gojsonschema.Validate(gojsonschema.NewGoLoader(schema), gojsonschema.NewGoLoader(payload))
	if err != nil {
		return fmt.Errorf("invalid input schema: %w", err)
	}

	if result.Valid() {
		return nil
	}

	problems := make([]string, 0, len(result.Errors()))
	for _, resultErr := range result.Errors() {
		problems = append(problems, resultErr.String())
	}

	return fmt.Errorf("%w: %s", ErrInvalidPayload, strings.Join(problems, "; "))
}
