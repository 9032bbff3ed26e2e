package async

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/weftworks/weft/pkg/models"
)

func TestBuildPollingRequestInjectsAllTargets(t *testing.T) {
	action := &models.ConnectorAction{
		PollingEndpointPath: "/jobs/{jobId}",
		ResponseToPollingMapping: map[string]models.PollingTarget{
			"job.id":    {Type: models.InjectPath, Name: "jobId"},
			"job.token": {Type: models.InjectQuery, Name: "token"},
			"job.etag":  {Type: models.InjectHeader, Name: "If-Match"},
			"job.tag":   {Type: models.InjectBody, Name: "tag"},
			"missing":   {Type: models.InjectQuery, Name: "skipped"},
		},
	}

	request := buildPollingRequest(action, map[string]any{
		"job": map[string]any{"id": "j-9", "token": "tok-1", "etag": "v3", "tag": "nightly"},
	})

	assert.Equal(t, "/jobs/j-9", request.path)
	assert.Equal(t, "GET", request.method)
	assert.Equal(t, map[string]string{"token": "tok-1"}, request.query)
	assert.Equal(t, map[string]string{"If-Match": "v3"}, request.headers)
	assert.Equal(t, map[string]any{"tag": "nightly"}, request.body)
	assert.NotContains(t, request.query, "skipped")
}

// A mid-flight execution must survive serialization with enough fidelity
// that resuming its polling loop produces the same next request.
func TestPollingStateSurvivesSerialization(t *testing.T) {
	action := pollingAction()
	action.ResponseToPollingMapping["job.token"] = models.PollingTarget{
		Type: models.InjectQuery, Name: "token",
	}

	created := time.Date(2026, time.March, 2, 9, 30, 0, 0, time.UTC)
	execution := &models.AsyncActionExecution{
		ID:          "async-77",
		ConnectorID: "c1",
		ActionID:    action.ID,
		ActionName:  action.Name,
		Status:      models.AsyncStatusPolling,
		InitialRequest: map[string]any{
			"endpoint": "/jobs",
			"method":   "POST",
		},
		InitialResponse: map[string]any{
			"job": map[string]any{"id": "j-77", "token": "tok-77"},
		},
		PollingAttempts:     2,
		LastPollingResponse: map[string]any{"status": "pending"},
		SequenceExecutionID: "exec-5",
		NodeID:              "n-render",
		ResponseMappings: []models.ResponseMapping{
			{Source: "result.url", Target: "document_url"},
		},
		CreatedAt: created,
		UpdatedAt: created.Add(10 * time.Second),
	}

	data, err := json.Marshal(execution)
	require.NoError(t, err)

	restored := &models.AsyncActionExecution{}
	require.NoError(t, json.Unmarshal(data, restored))

	assert.Equal(t, execution.Status, restored.Status)
	assert.Equal(t, execution.PollingAttempts, restored.PollingAttempts)
	assert.Equal(t, execution.InitialResponse, restored.InitialResponse)
	assert.Equal(t, execution.LastPollingResponse, restored.LastPollingResponse)
	assert.Equal(t, execution.SequenceExecutionID, restored.SequenceExecutionID)
	assert.Equal(t, execution.NodeID, restored.NodeID)
	assert.Equal(t, execution.ResponseMappings, restored.ResponseMappings)
	assert.True(t, execution.CreatedAt.Equal(restored.CreatedAt))

	// The restored state rebuilds an identical polling request.
	assert.Equal(t,
		buildPollingRequest(action, execution.InitialResponse),
		buildPollingRequest(action, restored.InitialResponse))
}
