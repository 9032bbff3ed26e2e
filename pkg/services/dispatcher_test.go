package services_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/weftworks/weft/pkg/async"
	"github.com/weftworks/weft/pkg/auth"
	"github.com/weftworks/weft/pkg/connector"
	"github.com/weftworks/weft/pkg/dsl"
	"github.com/weftworks/weft/pkg/eventbus"
	"github.com/weftworks/weft/pkg/models"
	"github.com/weftworks/weft/pkg/persistence/memory"
	"github.com/weftworks/weft/pkg/services"
)

type nopPublisher struct {
	mu     sync.Mutex
	events []eventbus.Event
}

func (p *nopPublisher) Publish(_ context.Context, _ string, event eventbus.Event) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.events = append(p.events, event)

	return nil
}

func newDispatcher(t *testing.T) (*services.Dispatcher, *memory.Persistence) {
	t.Helper()

	store := memory.NewPersistence()
	invoker := connector.NewInvoker(connector.NewHTTPTransport(), auth.NewResolver(nil))
	manager := async.NewManager(store, invoker, &nopPublisher{}, async.Config{
		WebhookBaseURL: "http://localhost:9090",
	})

	t.Cleanup(manager.Close)

	return services.NewDispatcher(store, invoker, manager), store
}

func TestDispatchSyncCall(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/orders/ord-1", r.URL.Path)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"status":"shipped"}`))
	}))
	defer server.Close()

	dispatcher, store := newDispatcher(t)

	require.NoError(t, store.SaveConnector(context.Background(), &models.Connector{
		ID:      "c1",
		Name:    "Orders",
		BaseURL: server.URL,
		Actions: []*models.ConnectorAction{{
			ID:           "a1",
			Name:         "Get Order",
			HTTPMethod:   "GET",
			EndpointPath: "/orders/{orderId}",
			PathParams:   map[string]models.ParamConfig{"orderId": {Mandatory: true}},
		}},
	}))

	result := dispatcher.Dispatch(context.Background(), dsl.DispatchRequest{
		ConnectorName: "Orders",
		ActionName:    "Get Order",
		Params:        connector.CallParams{Path: map[string]any{"orderId": "ord-1"}},
	})

	require.Empty(t, result.Err)
	assert.Equal(t, models.ActionCallSuccess, result.Log.Status)
	assert.True(t, result.Log.APICalled)
	assert.False(t, result.Log.Async)
	assert.Equal(t, "shipped", result.Response["status"])
}

func TestDispatchConnectorNotFound(t *testing.T) {
	dispatcher, _ := newDispatcher(t)

	result := dispatcher.Dispatch(context.Background(), dsl.DispatchRequest{
		ConnectorName: "Nope",
		ActionName:    "Anything",
	})

	assert.Equal(t, models.ActionCallNotFound, result.Log.Status)
	assert.False(t, result.Log.APICalled)
	assert.Contains(t, result.Err, `connector "Nope" not found`)
}

func TestDispatchActionNotFound(t *testing.T) {
	dispatcher, store := newDispatcher(t)

	require.NoError(t, store.SaveConnector(context.Background(), &models.Connector{
		ID: "c1", Name: "Orders", BaseURL: "http://unused.invalid",
	}))

	result := dispatcher.Dispatch(context.Background(), dsl.DispatchRequest{
		ConnectorName: "Orders",
		ActionName:    "Missing",
	})

	assert.Equal(t, models.ActionCallNotFound, result.Log.Status)
	assert.Contains(t, result.Err, `action "Missing" not found`)
}

func TestDispatchSyncFailureSetsErr(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = w.Write([]byte(`{"message":"boom"}`))
	}))
	defer server.Close()

	dispatcher, store := newDispatcher(t)

	require.NoError(t, store.SaveConnector(context.Background(), &models.Connector{
		ID:      "c1",
		Name:    "Orders",
		BaseURL: server.URL,
		Actions: []*models.ConnectorAction{{
			ID: "a1", Name: "Get Order", HTTPMethod: "GET", EndpointPath: "/orders",
		}},
	}))

	result := dispatcher.Dispatch(context.Background(), dsl.DispatchRequest{
		ConnectorName: "Orders",
		ActionName:    "Get Order",
	})

	assert.Equal(t, models.ActionCallFailed, result.Log.Status)
	assert.True(t, result.Log.APICalled)
	assert.NotEmpty(t, result.Err)
}

func TestDispatchAsyncInitiation(t *testing.T) {
	var initialBody map[string]any

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewDecoder(r.Body).Decode(&initialBody)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"job":"j-7"}`))
	}))
	defer server.Close()

	dispatcher, store := newDispatcher(t)

	require.NoError(t, store.SaveConnector(context.Background(), &models.Connector{
		ID:      "c1",
		Name:    "Render",
		BaseURL: server.URL,
		Actions: []*models.ConnectorAction{{
			ID:             "a1",
			Name:           "Render Report",
			HTTPMethod:     "POST",
			EndpointPath:   "/render",
			IsAsync:        true,
			AsyncMode:      models.AsyncModeWebhook,
			WebhookURLType: models.WebhookURLDynamic,
		}},
	}))

	result := dispatcher.Dispatch(context.Background(), dsl.DispatchRequest{
		ConnectorName: "Render",
		ActionName:    "Render Report",
		Mappings:      []models.ResponseMapping{{Source: "result.url", Target: "report_url"}},
		Context: map[string]any{
			"sequence": map[string]any{"execution_id": "exec-11", "node_id": "n-render"},
		},
	})

	require.Empty(t, result.Err)
	require.NotNil(t, result.Async)
	assert.True(t, result.Log.Async)
	assert.Equal(t, models.AsyncStatusInitiated, result.Async.Status)
	assert.Equal(t, "j-7", result.Response["job"])

	execution, err := store.AsyncExecutionByID(context.Background(), result.Async.ExecutionID)
	require.NoError(t, err)
	assert.Equal(t, "exec-11", execution.SequenceExecutionID)
	assert.Equal(t, "n-render", execution.NodeID)
	assert.Len(t, execution.ResponseMappings, 1)

	callback, _ := initialBody["callback_url"].(string)
	assert.Contains(t, callback, "/webhooks/async/"+result.Async.ExecutionID)
}
