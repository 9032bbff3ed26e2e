package web_test

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/weftworks/weft/pkg/async"
	"github.com/weftworks/weft/pkg/auth"
	"github.com/weftworks/weft/pkg/cache"
	"github.com/weftworks/weft/pkg/connector"
	"github.com/weftworks/weft/pkg/eventbus"
	"github.com/weftworks/weft/pkg/models"
	"github.com/weftworks/weft/pkg/persistence/memory"
	"github.com/weftworks/weft/pkg/sequence"
	"github.com/weftworks/weft/pkg/services"
	"github.com/weftworks/weft/pkg/web"
)

type dropPublisher struct{}

func (dropPublisher) Publish(_ context.Context, _ string, _ eventbus.Event) error { return nil }

func setupTestApp(t *testing.T) (*fiber.App, *memory.Persistence) {
	t.Helper()

	store := memory.NewPersistence()
	publisher := dropPublisher{}
	invoker := connector.NewInvoker(connector.NewHTTPTransport(), auth.NewResolver(nil))

	asyncManager := async.NewManager(store, invoker, publisher, async.Config{
		WebhookBaseURL: "http://localhost:9090",
	})
	t.Cleanup(asyncManager.Close)

	dispatcher := services.NewDispatcher(store, invoker, asyncManager)
	executor := sequence.NewExecutor(store, dispatcher, publisher)
	eventService := services.NewEventService(store, publisher, cache.NewMemoryStore())
	sequenceService := services.NewSequenceService(store, executor)
	validate := validator.New(validator.WithRequiredStructEnabled())

	handlers := web.NewAPIHandlers(store, eventService, sequenceService, asyncManager, validate)

	app := fiber.New()

	connectors := app.Group("/connectors")
	connectors.Get("/", handlers.GetConnectors)
	connectors.Post("/", handlers.CreateConnector)
	connectors.Get("/:id", handlers.GetConnector)
	connectors.Put("/:id", handlers.UpdateConnector)
	connectors.Delete("/:id", handlers.DeleteConnector)

	events := app.Group("/events")
	events.Get("/", handlers.GetEvents)
	events.Post("/", handlers.CreateEvent)
	events.Get("/:id", handlers.GetEvent)
	events.Post("/name/:name/ingest", handlers.IngestEvent)
	events.Put("/:id/test-payload", handlers.SaveTestPayload)
	events.Get("/:id/test-payload", handlers.GetTestPayload)

	sequences := app.Group("/sequences")
	sequences.Post("/", handlers.CreateSequence)
	sequences.Get("/:id", handlers.GetSequence)
	sequences.Post("/:id/run", handlers.RunSequence)

	app.Get("/executions/:id", handlers.GetExecution)

	asyncGroup := app.Group("/async-executions")
	asyncGroup.Get("/:id", handlers.GetAsyncExecution)
	asyncGroup.Get("/:id/progress", handlers.GetAsyncProgress)
	asyncGroup.Post("/:id/cancel", handlers.CancelAsyncExecution)

	app.Post("/webhooks/async/static", handlers.StaticAsyncWebhook)
	app.Post("/webhooks/async/:executionId", handlers.AsyncWebhook)

	return app, store
}

func doJSON(t *testing.T, app *fiber.App, method, path string, body any) (*http.Response, []byte) {
	t.Helper()

	var reader io.Reader
	if body != nil {
		encoded, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(encoded)
	}

	req := httptest.NewRequest(method, path, reader)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := app.Test(req)
	require.NoError(t, err)

	payload, err := io.ReadAll(resp.Body)
	require.NoError(t, err)

	return resp, payload
}

func TestConnectorLifecycle(t *testing.T) {
	app, _ := setupTestApp(t)

	resp, body := doJSON(t, app, http.MethodPost, "/connectors/", models.Connector{
		Name:    "Orders",
		BaseURL: "https://api.example.com",
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	var created models.Connector
	require.NoError(t, json.Unmarshal(body, &created))
	require.NotEmpty(t, created.ID)

	resp, body = doJSON(t, app, http.MethodGet, "/connectors/"+created.ID, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var fetched models.Connector
	require.NoError(t, json.Unmarshal(body, &fetched))
	assert.Equal(t, "Orders", fetched.Name)

	resp, _ = doJSON(t, app, http.MethodDelete, "/connectors/"+created.ID, nil)
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)

	resp, _ = doJSON(t, app, http.MethodGet, "/connectors/"+created.ID, nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestCreateConnectorValidation(t *testing.T) {
	app, _ := setupTestApp(t)

	resp, body := doJSON(t, app, http.MethodPost, "/connectors/", models.Connector{Name: "No URL"})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Contains(t, string(body), "BaseURL")
}

func TestIngestEventReturnsConfiguredAck(t *testing.T) {
	app, store := setupTestApp(t)

	require.NoError(t, store.SaveEvent(context.Background(), &models.Event{
		ID:   "e1",
		Name: "order.created",
		Ack: &models.AckConfig{
			StatusCode: http.StatusOK,
			Payload:    map[string]any{"received": true},
		},
	}))

	resp, body := doJSON(t, app, http.MethodPost, "/events/name/order.created/ingest",
		map[string]any{"order_id": "ord-1"})

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.JSONEq(t, `{"received":true}`, string(body))
}

func TestIngestEventSchemaViolation(t *testing.T) {
	app, store := setupTestApp(t)

	require.NoError(t, store.SaveEvent(context.Background(), &models.Event{
		ID:   "e1",
		Name: "order.created",
		Schema: map[string]any{
			"type":     "object",
			"required": []any{"order_id"},
		},
	}))

	resp, body := doJSON(t, app, http.MethodPost, "/events/name/order.created/ingest",
		map[string]any{"other": 1})

	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Contains(t, string(body), "order_id")
}

func TestRunSequenceEndpoint(t *testing.T) {
	app, store := setupTestApp(t)

	require.NoError(t, store.SaveSequence(context.Background(), &models.Sequence{
		ID:     "s1",
		Name:   "Greeting",
		Active: true,
		Nodes: []*models.FlowNode{
			{ID: "start", Type: models.NodeTypeTrigger, Name: "Start"},
			{ID: "rule", Type: models.NodeTypeCustomRule, Name: "Assign", Data: map[string]any{
				"rule": `assign greeting = "hello"`,
			}},
		},
		Edges: []*models.FlowEdge{
			{ID: "edge-1", Source: "start", Target: "rule"},
		},
	}))

	resp, body := doJSON(t, app, http.MethodPost, "/sequences/s1/run",
		web.RunSequenceRequest{Payload: map[string]any{"customer": "acme"}})

	require.Equal(t, http.StatusOK, resp.StatusCode)

	var result services.RunResult
	require.NoError(t, json.Unmarshal(body, &result))
	assert.True(t, result.Success)
	assert.Equal(t, models.ExecutionStatusCompleted, result.Status)
	assert.NotEmpty(t, result.ExecutionID)

	resp, body = doJSON(t, app, http.MethodGet, "/executions/"+result.ExecutionID, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var execution models.SequenceExecution
	require.NoError(t, json.Unmarshal(body, &execution))
	assert.Equal(t, "hello", execution.VariablesState["greeting"])
	assert.Len(t, execution.Logs, 2)
}

func TestRunInactiveSequenceRejected(t *testing.T) {
	app, store := setupTestApp(t)

	require.NoError(t, store.SaveSequence(context.Background(), &models.Sequence{
		ID: "s1", Name: "Dormant", Active: false,
		Nodes: []*models.FlowNode{{ID: "start", Type: models.NodeTypeTrigger}},
	}))

	resp, _ := doJSON(t, app, http.MethodPost, "/sequences/s1/run", nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestAsyncWebhookUnknownExecution(t *testing.T) {
	app, _ := setupTestApp(t)

	resp, _ := doJSON(t, app, http.MethodPost, "/webhooks/async/nope",
		map[string]any{"status": "done"})

	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestCancelAsyncExecutionConflictWhenTerminal(t *testing.T) {
	app, store := setupTestApp(t)

	require.NoError(t, store.SaveAsyncExecution(context.Background(), &models.AsyncActionExecution{
		ID:     "async-1",
		Status: models.AsyncStatusCompleted,
	}))

	resp, _ := doJSON(t, app, http.MethodPost, "/async-executions/async-1/cancel", nil)
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
}

func TestTestPayloadEndpoints(t *testing.T) {
	app, _ := setupTestApp(t)

	resp, _ := doJSON(t, app, http.MethodGet, "/events/e1/test-payload", nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	resp, _ = doJSON(t, app, http.MethodPut, "/events/e1/test-payload",
		web.TestPayloadRequest{Payload: map[string]any{"order_id": "ord-1"}})
	require.Equal(t, http.StatusNoContent, resp.StatusCode)

	resp, body := doJSON(t, app, http.MethodGet, "/events/e1/test-payload", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.JSONEq(t, `{"order_id":"ord-1"}`, string(body))
}
