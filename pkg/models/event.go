package models

import "time"

// AckConfig controls the synchronous acknowledgement returned to an event
// producer before any sequence runs.
type AckConfig struct {
	StatusCode int            `json:"status_code,omitempty"` // defaults to 202
	Payload    map[string]any `json:"payload,omitempty"`
}

// Event is a named inbound trigger definition. Inbound payloads are
// validated against Schema (JSON Schema) before any sequence is started.
type Event struct {
	ID          string         `json:"id"`
	Name        string         `json:"name" validate:"required,min=1"`
	Description string         `json:"description"`
	Schema      map[string]any `json:"schema,omitempty"`
	Ack         *AckConfig     `json:"ack,omitempty"`
	CreatedAt   time.Time      `json:"created_at"`
	UpdatedAt   time.Time      `json:"updated_at"`
}
