// Package web provides the HTTP API: connector, event and sequence
// management, manual runs, inbound event ingestion and async webhook
// receivers.
package web

import "github.com/weftworks/weft/pkg/models"

// RunSequenceRequest is the body of a manual sequence run. The payload is
// handed to the trigger node as if an event had delivered it.
type RunSequenceRequest struct {
	Payload map[string]any `json:"payload"`
}

// TestPayloadRequest stores a sample payload for an event.
type TestPayloadRequest struct {
	Payload map[string]any `json:"payload" validate:"required"`
}

// SaveCredentialRequest creates or updates a credential profile together
// with an optional initial secret set.
type SaveCredentialRequest struct {
	Credential models.Credential     `json:"credential" validate:"required"`
	Set        *models.CredentialSet `json:"set,omitempty"`
}

// WebhookAck is the response returned to async webhook producers.
type WebhookAck struct {
	ExecutionID string             `json:"execution_id"`
	Status      models.AsyncStatus `json:"status"`
}
