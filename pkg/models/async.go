package models

import "time"

// AsyncStatus represents the lifecycle state of one asynchronous action
// execution. Terminal states are never left once reached.
type AsyncStatus string

const (
	AsyncStatusInitiated AsyncStatus = "initiated"
	AsyncStatusPolling   AsyncStatus = "polling"
	AsyncStatusCompleted AsyncStatus = "completed"
	AsyncStatusFailed    AsyncStatus = "failed"
	AsyncStatusTimeout   AsyncStatus = "timeout"
	AsyncStatusCancelled AsyncStatus = "cancelled"
)

// IsTerminal reports whether the status can never change again.
func (s AsyncStatus) IsTerminal() bool {
	switch s {
	case AsyncStatusCompleted, AsyncStatusFailed, AsyncStatusTimeout, AsyncStatusCancelled:
		return true
	default:
		return false
	}
}

// ResponseMapping maps one dotted path of a response body onto a context
// target: "@doc.field" (broadcast over documents), "$name" (temporary) or a
// plain persisted name.
type ResponseMapping struct {
	Source string `json:"source"`
	Target string `json:"target"`
}

// AsyncActionExecution tracks one long-running action invocation from
// initiation through polling attempts or webhook receipt to terminal state.
type AsyncActionExecution struct {
	ID          string `json:"id"`
	ConnectorID string `json:"connector_id"`
	ActionID    string `json:"action_id"`
	ActionName  string `json:"action_name"`

	Status          AsyncStatus    `json:"status"`
	InitialRequest  map[string]any `json:"initial_request,omitempty"`
	InitialResponse map[string]any `json:"initial_response,omitempty"`

	PollingAttempts     int            `json:"polling_attempts"`
	LastPollingResponse map[string]any `json:"last_polling_response,omitempty"`

	FinalResponse map[string]any `json:"final_response,omitempty"`
	ErrorMessage  string         `json:"error_message,omitempty"`

	WebhookURL        string     `json:"webhook_url,omitempty"`
	WebhookIdentifier string     `json:"webhook_identifier,omitempty"`
	WebhookReceived   bool       `json:"webhook_received"`
	WebhookReceivedAt *time.Time `json:"webhook_received_at,omitempty"`

	// Back-reference to the sequence run whose rule initiated this
	// execution, together with the rule's response mappings. The completion
	// hook applies these mappings against FinalResponse.
	SequenceExecutionID string            `json:"sequence_execution_id,omitempty"`
	NodeID              string            `json:"node_id,omitempty"`
	ResponseMappings    []ResponseMapping `json:"response_mappings,omitempty"`

	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}

// ProgressStep classifies one AsyncActionProgress record.
type ProgressStep string

const (
	ProgressStepInitialCall ProgressStep = "initial_call"
	ProgressStepPolling     ProgressStep = "polling"
	ProgressStepWebhook     ProgressStep = "webhook"
	ProgressStepTerminal    ProgressStep = "terminal"
)

// AsyncActionProgress is one audit-trail record of an async execution:
// the initial call, each polling attempt, webhook receipt and the terminal
// event. Ordered by creation time and attempt number.
type AsyncActionProgress struct {
	ID          string         `json:"id"`
	ExecutionID string         `json:"execution_id"`
	Step        ProgressStep   `json:"step"`
	Attempt     int            `json:"attempt,omitempty"`
	Endpoint    string         `json:"endpoint,omitempty"`
	Method      string         `json:"method,omitempty"`
	StatusCode  int            `json:"status_code,omitempty"`
	Request     map[string]any `json:"request,omitempty"`
	Response    map[string]any `json:"response,omitempty"`
	Message     string         `json:"message,omitempty"`
	DurationMS  int64          `json:"duration_ms"`
	CreatedAt   time.Time      `json:"created_at"`
}
