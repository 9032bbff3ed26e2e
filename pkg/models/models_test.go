package models

import (
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	requiredTag = "required"
	oneofTag    = "oneof"
	urlTag      = "url"
)

func fieldError(t *testing.T, err error, field, tag string) bool {
	t.Helper()

	var validationErrors validator.ValidationErrors

	require.True(t, errors.As(err, &validationErrors))

	for _, fieldErr := range validationErrors {
		if fieldErr.Field() == field && fieldErr.Tag() == tag {
			return true
		}
	}

	return false
}

func TestConnector_Validation_Valid(t *testing.T) {
	connector := &Connector{
		ID:      "conn-123",
		Name:    "Billing",
		BaseURL: "https://billing.example.com",
		Actions: []*ConnectorAction{
			{
				ID:           "act-1",
				ConnectorID:  "conn-123",
				Name:         "Create Invoice",
				HTTPMethod:   "POST",
				EndpointPath: "/invoices",
			},
		},
	}

	validate := validator.New()
	err := validate.Struct(connector)
	assert.NoError(t, err)
}

func TestConnector_Validation_MissingName(t *testing.T) {
	connector := &Connector{
		ID:      "conn-123",
		BaseURL: "https://billing.example.com",
	}

	validate := validator.New()
	err := validate.Struct(connector)
	require.Error(t, err)
	assert.True(t, fieldError(t, err, "Name", requiredTag))
}

func TestConnector_Validation_InvalidBaseURL(t *testing.T) {
	connector := &Connector{
		ID:      "conn-123",
		Name:    "Billing",
		BaseURL: "not a url",
	}

	validate := validator.New()
	err := validate.Struct(connector)
	require.Error(t, err)
	assert.True(t, fieldError(t, err, "BaseURL", urlTag))
}

func TestConnectorAction_Validation_BadMethod(t *testing.T) {
	connector := &Connector{
		ID:      "conn-123",
		Name:    "Billing",
		BaseURL: "https://billing.example.com",
		Actions: []*ConnectorAction{
			{
				ID:           "act-1",
				Name:         "Create Invoice",
				HTTPMethod:   "FETCH",
				EndpointPath: "/invoices",
			},
		},
	}

	validate := validator.New()
	err := validate.Struct(connector)
	require.Error(t, err)
	assert.True(t, fieldError(t, err, "HTTPMethod", oneofTag))
}

func TestConnectorAction_PollingDefaults(t *testing.T) {
	action := &ConnectorAction{}

	assert.Equal(t, time.Second, action.PollingFrequency())
	assert.Equal(t, 10, action.PollingAttempts())
	assert.Equal(t, 5*time.Minute, action.WebhookTimeout())

	action.PollingFrequencySecs = 30
	action.MaxPollingAttempts = 3
	action.WebhookTimeoutSecs = 60

	assert.Equal(t, 30*time.Second, action.PollingFrequency())
	assert.Equal(t, 3, action.PollingAttempts())
	assert.Equal(t, time.Minute, action.WebhookTimeout())
}

func TestSequence_TriggerNode(t *testing.T) {
	sequence := &Sequence{
		ID: "seq-1",
		Nodes: []*FlowNode{
			{ID: "n1", Type: NodeTypeAction},
			{ID: "n2", Type: NodeTypeTrigger},
		},
	}

	trigger, err := sequence.TriggerNode()
	require.NoError(t, err)
	assert.Equal(t, "n2", trigger.ID)
}

func TestSequence_TriggerNode_Missing(t *testing.T) {
	sequence := &Sequence{
		ID: "seq-1",
		Nodes: []*FlowNode{
			{ID: "n1", Type: NodeTypeAction},
		},
	}

	_, err := sequence.TriggerNode()
	assert.Error(t, err)
}

func TestSequence_OutgoingEdges_Order(t *testing.T) {
	sequence := &Sequence{
		Edges: []*FlowEdge{
			{ID: "e1", Source: "a", Target: "b"},
			{ID: "e2", Source: "b", Target: "c", SourceHandle: "set-0"},
			{ID: "e3", Source: "b", Target: "d", SourceHandle: "else"},
		},
	}

	edges := sequence.OutgoingEdges("b")
	require.Len(t, edges, 2)
	assert.Equal(t, "c", edges[0].Target)
	assert.Equal(t, "d", edges[1].Target)
	assert.Empty(t, sequence.OutgoingEdges("missing"))
}

func TestConnector_JSONSerialization(t *testing.T) {
	connector := &Connector{
		ID:      "conn-123",
		Name:    "Billing",
		BaseURL: "https://billing.example.com",
		Headers: map[string]string{"X-Env": "test"},
		Actions: []*ConnectorAction{
			{
				ID:                   "act-1",
				Name:                 "Render Report",
				HTTPMethod:           "POST",
				EndpointPath:         "/reports",
				IsAsync:              true,
				AsyncMode:            AsyncModePolling,
				PollingEndpointPath:  "/reports/{id}",
				AsyncSuccessCriteria: `status == "done"`,
				ResponseToPollingMapping: map[string]PollingTarget{
					"id": {Type: InjectPath, Name: "id"},
				},
			},
		},
	}

	data, err := json.Marshal(connector)
	require.NoError(t, err)

	var decoded Connector

	require.NoError(t, json.Unmarshal(data, &decoded))
	assert.Equal(t, connector.ID, decoded.ID)
	assert.Equal(t, connector.Headers, decoded.Headers)
	require.Len(t, decoded.Actions, 1)
	assert.Equal(t, AsyncModePolling, decoded.Actions[0].AsyncMode)
	assert.Equal(t, InjectPath, decoded.Actions[0].ResponseToPollingMapping["id"].Type)
}
