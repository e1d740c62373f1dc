// Package events defines the messages exchanged over the event bus: campaign batch
// requests consumed by workers and execution lifecycle notifications.
package events

import (
	"time"

	"github.com/dukex/courier/pkg/models"
	"github.com/google/uuid"
)

type EventType string

// Topic carries every courier event; consumers dispatch on the event type metadata.
const Topic = "courier.events"

const EventMetadataKey = "key"
const EventTypeMetadataKey = "event_type"

const (
	// Work events.
	CampaignBatchRequestedEvent EventType = "campaign.batch.requested"

	// Execution lifecycle events.
	ExecutionStartedEvent   EventType = "execution.started"
	ExecutionPausedEvent    EventType = "execution.paused"
	ExecutionResumedEvent   EventType = "execution.resumed"
	ExecutionCancelledEvent EventType = "execution.cancelled"
	ExecutionCompletedEvent EventType = "execution.completed"
	ExecutionFailedEvent    EventType = "execution.failed"
)

type BaseEvent struct {
	ID          string         `json:"id"`
	Type        EventType      `json:"type"`
	Timestamp   time.Time      `json:"timestamp"`
	ExecutionID string         `json:"execution_id"`
	WorkerID    string         `json:"worker_id,omitempty"`
	Metadata    map[string]any `json:"metadata,omitempty"`
}

func NewBaseEvent(eventType EventType, executionID string) BaseEvent {
	return BaseEvent{
		ID:          uuid.New().String(),
		Type:        eventType,
		Timestamp:   time.Now().UTC(),
		ExecutionID: executionID,
		Metadata:    make(map[string]any),
	}
}

// CampaignBatchRequested asks a worker to advance one batch of contacts.
type CampaignBatchRequested struct {
	BaseEvent

	Job models.BatchJob `json:"job"`
}

func NewCampaignBatchRequested(job models.BatchJob) *CampaignBatchRequested {
	return &CampaignBatchRequested{
		BaseEvent: NewBaseEvent(CampaignBatchRequestedEvent, job.ExecutionID),
		Job:       job,
	}
}

func (c CampaignBatchRequested) GetType() EventType {
	return CampaignBatchRequestedEvent
}

// ExecutionTransitioned is shared by every lifecycle event. The concrete types
// below only differ in their event type.
type ExecutionTransitioned struct {
	BaseEvent

	FlowID        string                      `json:"flow_id"`
	From          models.ExecutionStatus      `json:"from"`
	To            models.ExecutionStatus      `json:"to"`
	TotalContacts int                         `json:"total_contacts"`
	Counts        map[models.CursorStatus]int `json:"counts,omitempty"`
	ErrorMessage  string                      `json:"error_message,omitempty"`
}

type ExecutionStarted struct{ ExecutionTransitioned }

func (e ExecutionStarted) GetType() EventType { return ExecutionStartedEvent }

type ExecutionPaused struct{ ExecutionTransitioned }

func (e ExecutionPaused) GetType() EventType { return ExecutionPausedEvent }

type ExecutionResumed struct{ ExecutionTransitioned }

func (e ExecutionResumed) GetType() EventType { return ExecutionResumedEvent }

type ExecutionCancelled struct{ ExecutionTransitioned }

func (e ExecutionCancelled) GetType() EventType { return ExecutionCancelledEvent }

type ExecutionCompleted struct{ ExecutionTransitioned }

func (e ExecutionCompleted) GetType() EventType { return ExecutionCompletedEvent }

type ExecutionFailed struct{ ExecutionTransitioned }

func (e ExecutionFailed) GetType() EventType { return ExecutionFailedEvent }

// NewLifecycleEvent builds the event announcing that execution entered its
// current status coming from `from`. It returns nil for statuses nobody listens to.
func NewLifecycleEvent(
	execution *models.FlowExecution,
	from models.ExecutionStatus,
	counts map[models.CursorStatus]int,
) interface{ GetType() EventType } {
	eventType, ok := LifecycleEventType(from, execution.Status)
	if !ok {
		return nil
	}

	base := ExecutionTransitioned{
		BaseEvent:     NewBaseEvent(eventType, execution.ID),
		FlowID:        execution.FlowID,
		From:          from,
		To:            execution.Status,
		TotalContacts: execution.TotalContacts,
		Counts:        counts,
		ErrorMessage:  execution.ErrorMessage,
	}

	switch eventType {
	case ExecutionStartedEvent:
		return &ExecutionStarted{base}
	case ExecutionPausedEvent:
		return &ExecutionPaused{base}
	case ExecutionResumedEvent:
		return &ExecutionResumed{base}
	case ExecutionCancelledEvent:
		return &ExecutionCancelled{base}
	case ExecutionCompletedEvent:
		return &ExecutionCompleted{base}
	default:
		return &ExecutionFailed{base}
	}
}

// LifecycleEventType maps a status an execution enters to the event announcing it.
func LifecycleEventType(from, to models.ExecutionStatus) (EventType, bool) {
	switch to {
	case models.ExecutionStatusRunning:
		if from == models.ExecutionStatusPaused {
			return ExecutionResumedEvent, true
		}

		return ExecutionStartedEvent, true
	case models.ExecutionStatusPaused:
		return ExecutionPausedEvent, true
	case models.ExecutionStatusCancelled:
		return ExecutionCancelledEvent, true
	case models.ExecutionStatusCompleted:
		return ExecutionCompletedEvent, true
	case models.ExecutionStatusFailed:
		return ExecutionFailedEvent, true
	default:
		return "", false
	}
}
