package models

import "time"

// ExecutionStatus represents the lifecycle state of one sequence run.
type ExecutionStatus string

const (
	ExecutionStatusCreated   ExecutionStatus = "created"
	ExecutionStatusRunning   ExecutionStatus = "running"
	ExecutionStatusCompleted ExecutionStatus = "completed"
	ExecutionStatusFailed    ExecutionStatus = "failed"
)

// LogLevel classifies one ExecutionLog entry.
type LogLevel string

const (
	LogLevelInfo  LogLevel = "info"
	LogLevelError LogLevel = "error"
)

// ExecutionLog records one node execution within a sequence run. Every node
// execution produces exactly one entry, success or failure.
type ExecutionLog struct {
	ID          string         `json:"id"`
	ExecutionID string         `json:"execution_id"`
	NodeID      string         `json:"node_id"`
	NodeType    NodeType       `json:"node_type"`
	NodeName    string         `json:"node_name"`
	Level       LogLevel       `json:"level"`
	Status      string         `json:"status"`
	Message     string         `json:"message,omitempty"`
	Input       map[string]any `json:"input,omitempty"`
	Output      any            `json:"output,omitempty"`
	DurationMS  int64          `json:"duration_ms"`
	CreatedAt   time.Time      `json:"created_at"`
}

// SequenceExecution is one run of a sequence graph.
type SequenceExecution struct {
	ID             string          `json:"id"`
	SequenceID     string          `json:"sequence_id"`
	Status         ExecutionStatus `json:"status"`
	TriggerPayload map[string]any  `json:"trigger_payload,omitempty"`
	// VariablesState is the final context snapshot, persisted at completion.
	VariablesState map[string]any  `json:"variables_state,omitempty"`
	Output         any             `json:"output,omitempty"`
	ErrorMessage   string          `json:"error_message,omitempty"`
	StartedAt      time.Time       `json:"started_at"`
	FinishedAt     *time.Time      `json:"finished_at,omitempty"`
	DurationMS     int64           `json:"duration_ms"`
	Logs           []*ExecutionLog `json:"logs,omitempty"`
}
