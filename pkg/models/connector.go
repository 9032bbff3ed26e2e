// Package models defines the core domain models for connector orchestration.
package models

import "time"

// Connector represents a named external HTTP API.
type Connector struct {
	ID           string             `json:"id"`
	Name         string             `json:"name"        validate:"required,min=1"`
	Description  string             `json:"description"`
	BaseURL      string             `json:"base_url"    validate:"required,url"`
	Headers      map[string]string  `json:"headers,omitempty"`
	TimeoutSecs  int                `json:"timeout_seconds,omitempty"`
	CredentialID string             `json:"credential_id,omitempty"`
	Actions      []*ConnectorAction `json:"actions,omitempty" validate:"omitempty,dive"`
	CreatedAt    time.Time          `json:"created_at"`
	UpdatedAt    time.Time          `json:"updated_at"`
}

// AsyncMode selects how an asynchronous action reaches its terminal state.
type AsyncMode string

const (
	AsyncModePolling AsyncMode = "polling"
	AsyncModeWebhook AsyncMode = "webhook"
)

// WebhookURLType selects how the callback URL for a webhook action is built.
type WebhookURLType string

const (
	WebhookURLDynamic WebhookURLType = "dynamic" // unique path per execution
	WebhookURLStatic  WebhookURLType = "static"  // shared endpoint, identifier matching
)

// InjectionMethod says where a generated value is placed in the outgoing request.
type InjectionMethod string

const (
	InjectPath   InjectionMethod = "path"
	InjectQuery  InjectionMethod = "query"
	InjectHeader InjectionMethod = "header"
	InjectBody   InjectionMethod = "body"
)

// ParamConfig describes one declared parameter of an action.
type ParamConfig struct {
	Mandatory   bool   `json:"mandatory"`
	Description string `json:"description,omitempty"`
	Default     any    `json:"default,omitempty"`
}

// PollingTarget maps a value extracted from the initial response into the
// polling request (path placeholder, query param, header or body field).
type PollingTarget struct {
	Type InjectionMethod `json:"type" validate:"required,oneof=path query header body"`
	Name string          `json:"name" validate:"required"`
}

// ConnectorAction represents one operation exposed by a connector.
type ConnectorAction struct {
	ID           string `json:"id"`
	ConnectorID  string `json:"connector_id"`
	Name         string `json:"name"          validate:"required,min=1"`
	Description  string `json:"description"`
	HTTPMethod   string `json:"http_method"   validate:"required,oneof=GET POST PUT PATCH DELETE"`
	EndpointPath string `json:"endpoint_path" validate:"required"`

	PathParams  map[string]ParamConfig `json:"path_params,omitempty"`
	QueryParams map[string]ParamConfig `json:"query_params,omitempty"`
	Headers     map[string]ParamConfig `json:"headers,omitempty"`
	BodyParams  map[string]ParamConfig `json:"body_params,omitempty"`

	// RequestBodyTemplate is deep-copied and overlaid with body params
	// before each invocation.
	RequestBodyTemplate map[string]any `json:"request_body_template,omitempty"`

	TimeoutSecs int `json:"timeout_seconds,omitempty"`

	IsAsync   bool      `json:"is_async"`
	AsyncMode AsyncMode `json:"async_mode,omitempty" validate:"omitempty,oneof=polling webhook"`

	// Polling configuration.
	PollingEndpointPath      string                   `json:"polling_endpoint_path,omitempty"`
	PollingHTTPMethod        string                   `json:"polling_http_method,omitempty"`
	PollingFrequencySecs     int                      `json:"polling_frequency_seconds,omitempty"`
	MaxPollingAttempts       int                      `json:"max_polling_attempts,omitempty"`
	ResponseToPollingMapping map[string]PollingTarget `json:"response_to_polling_mapping,omitempty"`
	AsyncSuccessCriteria     string                   `json:"async_success_criteria,omitempty"`
	AsyncFailureCriteria     string                   `json:"async_failure_criteria,omitempty"`

	// Webhook configuration.
	WebhookURLType            WebhookURLType  `json:"webhook_url_type,omitempty" validate:"omitempty,oneof=dynamic static"`
	WebhookURLInjectionMethod InjectionMethod `json:"webhook_url_injection_method,omitempty"`
	WebhookURLInjectionParam  string          `json:"webhook_url_injection_param,omitempty"`
	WebhookIdentifierMapping  string          `json:"webhook_identifier_mapping,omitempty"` // path into the initial response
	WebhookIdentifierPath     string          `json:"webhook_identifier_path,omitempty"`    // path into the inbound payload
	WebhookTimeoutSecs        int             `json:"webhook_timeout_seconds,omitempty"`
	WebhookSuccessCriteria    string          `json:"webhook_success_criteria,omitempty"`
	WebhookFailureCriteria    string          `json:"webhook_failure_criteria,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// PollingFrequency returns the configured inter-attempt delay with a floor
// of one second.
func (a *ConnectorAction) PollingFrequency() time.Duration {
	if a.PollingFrequencySecs <= 0 {
		return time.Second
	}

	return time.Duration(a.PollingFrequencySecs) * time.Second
}

// PollingAttempts returns the configured attempt budget, defaulting to 10.
func (a *ConnectorAction) PollingAttempts() int {
	if a.MaxPollingAttempts <= 0 {
		return 10
	}

	return a.MaxPollingAttempts
}

// WebhookTimeout returns the configured webhook watchdog duration,
// defaulting to five minutes.
func (a *ConnectorAction) WebhookTimeout() time.Duration {
	if a.WebhookTimeoutSecs <= 0 {
		return 5 * time.Minute
	}

	return time.Duration(a.WebhookTimeoutSecs) * time.Second
}
