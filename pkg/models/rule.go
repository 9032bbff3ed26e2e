package models

// ActionCallStatus classifies one action invocation attempt made by a rule.
type ActionCallStatus string

const (
	ActionCallSuccess         ActionCallStatus = "success"
	ActionCallFailed          ActionCallStatus = "failed"
	ActionCallNotFound        ActionCallStatus = "not_found"
	ActionCallValidationError ActionCallStatus = "validation_error"
)

// ActionLog records one action invocation attempt, ordered by invocation time.
type ActionLog struct {
	ActionName    string           `json:"action_name"`
	ConnectorName string           `json:"connector_name"`
	Async         bool             `json:"async"`
	Status        ActionCallStatus `json:"status"`
	Request       map[string]any   `json:"request,omitempty"`
	Response      map[string]any   `json:"response,omitempty"`
	Error         string           `json:"error,omitempty"`
	// APICalled is false when the invocation never reached the remote side
	// (unknown connector/action, validation failure).
	APICalled bool `json:"api_called"`
}

// AsyncRef is the handle a rule receives when it kicks off an async action.
type AsyncRef struct {
	ExecutionID   string      `json:"execution_id"`
	ActionName    string      `json:"action_name"`
	ConnectorName string      `json:"connector_name"`
	Status        AsyncStatus `json:"status"`
}

// RuleExecutionResult is produced once per rule interpretation and is
// immutable after return.
type RuleExecutionResult struct {
	Assignments     map[string]any `json:"assignments"`
	Errors          []string       `json:"errors"`
	Warnings        []string       `json:"warnings"`
	ActionLogs      []*ActionLog   `json:"action_logs"`
	AsyncExecutions []*AsyncRef    `json:"async_executions"`
}

// NewRuleExecutionResult returns an empty result ready to be filled.
func NewRuleExecutionResult() *RuleExecutionResult {
	return &RuleExecutionResult{
		Assignments: make(map[string]any),
		Errors:      []string{},
		Warnings:    []string{},
	}
}
