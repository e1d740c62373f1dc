// Package messaging delivers outbound messages to the messaging gateway.
package messaging

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

	"github.com/cenkalti/backoff/v4"
	"github.com/dukex/courier/pkg/protocol"
	"github.com/google/uuid"
)

const (
	IdempotencyKeyHeader = "Idempotency-Key"

	defaultAttempts = 3
	defaultTimeout  = 10 * time.Second
	maxResponseSize = 64 << 10
)

// HTTPError is a non-2xx answer from the gateway.
type HTTPError struct {
	StatusCode int
	Message    string
}

func (e *HTTPError) Error() string {
	return fmt.Sprintf("HTTP %d: %s", e.StatusCode, e.Message)
}

// WebhookMessenger POSTs each message as JSON to a gateway URL. The gateway
// answers with {"message_id": "..."}.
type WebhookMessenger struct {
	logger   *slog.Logger
	url      string
	headers  map[string]string
	client   *http.Client
	attempts uint64
	interval time.Duration
}

type WebhookOption func(*WebhookMessenger)

func WithHTTPClient(client *http.Client) WebhookOption {
	return func(m *WebhookMessenger) { m.client = client }
}

func WithHeaders(headers map[string]string) WebhookOption {
	return func(m *WebhookMessenger) { m.headers = headers }
}

// WithRetries sets how many times a transient failure is tried and the first
// pause between tries.
func WithRetries(attempts int, interval time.Duration) WebhookOption {
	return func(m *WebhookMessenger) {
		if attempts > 0 {
			m.attempts = uint64(attempts)
		}

		m.interval = interval
	}
}

func NewWebhookMessenger(logger *slog.Logger, url string, opts ...WebhookOption) *WebhookMessenger {
	messenger := &WebhookMessenger{
		logger:   logger.With("module", "messaging"),
		url:      url,
		client:   &http.Client{Timeout: defaultTimeout},
		attempts: defaultAttempts,
		interval: 500 * time.Millisecond,
	}

	for _, opt := range opts {
		opt(messenger)
	}

	return messenger
}

type sendResponse struct {
	MessageID string `json:"message_id"`
}

// Send delivers message. Gateway 4xx answers are not retried; network errors
// and 5xx answers are, carrying the same Idempotency-Key.
func (m *WebhookMessenger) Send(ctx context.Context, message protocol.OutboundMessage) (string, error) {
	body, err := json.Marshal(message)
	if err != nil {
		return "", fmt.Errorf("failed to encode message: %w", err)
	}

	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = m.interval
	policy.MaxElapsedTime = 0

	var messageID string

	operation := func() error {
		id, err := m.post(ctx, message.DedupeKey, body)
		if err != nil {
			var httpErr *HTTPError
			if errors.As(err, &httpErr) && httpErr.StatusCode < http.StatusInternalServerError {
				return backoff.Permanent(err)
			}

			return err
		}

		messageID = id

		return nil
	}

	notify := func(err error, wait time.Duration) {
		m.logger.WarnContext(ctx, "message send failed, retrying",
			"contact_id", message.ContactID, "error", err, "retry_in", wait)
	}

	retry := backoff.WithContext(backoff.WithMaxRetries(policy, m.attempts-1), ctx)
	if err := backoff.RetryNotify(operation, retry, notify); err != nil {
		return "", fmt.Errorf("failed to send %s message to contact %s: %w", message.Kind, message.ContactID, err)
	}

	return messageID, nil
}

func (m *WebhookMessenger) post(ctx context.Context, key string, body []byte) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, m.url, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("failed to create request: %w", err)
	}

	for name, value := range m.headers {
		req.Header.Set(name, value)
	}

	req.Header.Set("Content-Type", "application/json")

	if key != "" {
		req.Header.Set(IdempotencyKeyHeader, key)
	}

	resp, err := m.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("request failed: %w", err)
	}

	defer func() {
		_ = resp.Body.Close()
	}()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
	if err != nil {
		return "", fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", &HTTPError{StatusCode: resp.StatusCode, Message: strings.TrimSpace(string(respBody))}
	}

	var decoded sendResponse
	if len(bytes.TrimSpace(respBody)) > 0 {
		if err := json.Unmarshal(respBody, &decoded); err != nil {
			return "", fmt.Errorf("invalid gateway response: %w", err)
		}
	}

	if decoded.MessageID == "" {
		// Gateways that do not assign ids still get a traceable one.
		decoded.MessageID = uuid.NewString()
	}

	return decoded.MessageID, nil
}

// LogMessenger writes messages to the log instead of delivering them. It is used
// when no gateway is configured.
type LogMessenger struct {
	logger *slog.Logger
	level  slog.Level
}

func NewLogMessenger(logger *slog.Logger, level slog.Level) *LogMessenger {
	return &LogMessenger{logger: logger.With("module", "messaging"), level: level}
}

func (m *LogMessenger) Send(ctx context.Context, message protocol.OutboundMessage) (string, error) {
	messageID := uuid.NewString()

	attrs := []any{
		"message_id", messageID,
		"contact_id", message.ContactID,
		"kind", message.Kind,
		"dedupe_key", message.DedupeKey,
	}

	switch message.Kind {
	case protocol.MessageImage, protocol.MessageVideo:
		attrs = append(attrs, "media_url", message.MediaURL, "caption", message.Caption)
	case protocol.MessageMenu:
		attrs = append(attrs, "text", message.Text, "choices", len(message.Choices))
	default:
		attrs = append(attrs, "text", message.Text)
	}

	m.logger.Log(ctx, m.level, "outbound message", attrs...)

	return messageID, nil
}
