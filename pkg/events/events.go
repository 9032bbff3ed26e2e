// Package events defines the event types exchanged over the internal bus:
// inbound trigger events, sequence execution lifecycle and async execution
// completion notifications.
package events

import (
	"time"

	"github.com/google/uuid"

	"github.com/weftworks/weft/pkg/models"
)

type EventType string

const Topic = "weft.events"

const EventMetadataKey = "key"
const EventTypeMetadataKey = "event_type"

const (
	EventReceivedEvent EventType = "event.received"

	SequenceExecutionStartedEvent   EventType = "sequence.execution.started"
	SequenceExecutionCompletedEvent EventType = "sequence.execution.completed"
	SequenceExecutionFailedEvent    EventType = "sequence.execution.failed"

	AsyncExecutionFinishedEvent EventType = "async.execution.finished"
)

type BaseEvent struct {
	ID        string         `json:"id"`
	Type      EventType      `json:"type"`
	Timestamp time.Time      `json:"timestamp"`
	Metadata  map[string]any `json:"metadata,omitempty"`
}

func NewBaseEvent(eventType EventType) BaseEvent {
	return BaseEvent{
		ID:        uuid.New().String(),
		Type:      eventType,
		Timestamp: time.Now().UTC(),
	}
}

// EventReceived is published when an inbound event payload passes schema
// validation; subscribers start the sequences bound to the event.
type EventReceived struct {
	BaseEvent

	EventID   string         `json:"event_id"`
	EventName string         `json:"event_name"`
	Payload   map[string]any `json:"payload,omitempty"`
}

func (e EventReceived) GetType() EventType {
	return EventReceivedEvent
}

type SequenceExecutionStarted struct {
	BaseEvent

	ExecutionID string `json:"execution_id"`
	SequenceID  string `json:"sequence_id"`
}

func (e SequenceExecutionStarted) GetType() EventType {
	return SequenceExecutionStartedEvent
}

type SequenceExecutionCompleted struct {
	BaseEvent

	ExecutionID string `json:"execution_id"`
	SequenceID  string `json:"sequence_id"`
	DurationMS  int64  `json:"duration_ms"`
}

func (e SequenceExecutionCompleted) GetType() EventType {
	return SequenceExecutionCompletedEvent
}

type SequenceExecutionFailed struct {
	BaseEvent

	ExecutionID string `json:"execution_id"`
	SequenceID  string `json:"sequence_id"`
	Error       string `json:"error"`
}

func (e SequenceExecutionFailed) GetType() EventType {
	return SequenceExecutionFailedEvent
}

// AsyncExecutionFinished is published exactly once when an async action
// execution reaches a terminal state. The completion service reacts by
// applying the originating rule's response mappings.
type AsyncExecutionFinished struct {
	BaseEvent

	ExecutionID string             `json:"execution_id"`
	Status      models.AsyncStatus `json:"status"`
}

func (e AsyncExecutionFinished) GetType() EventType {
	return AsyncExecutionFinishedEvent
}
