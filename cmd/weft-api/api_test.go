package main

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/gofiber/fiber/v3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/weftworks/weft/pkg/cache"
	"github.com/weftworks/weft/pkg/channels/gochannel"
	"github.com/weftworks/weft/pkg/config"
	"github.com/weftworks/weft/pkg/eventbus"
	"github.com/weftworks/weft/pkg/models"
	"github.com/weftworks/weft/pkg/persistence"
	"github.com/weftworks/weft/pkg/persistence/memory"
)

func setupTestAPI(t *testing.T) (*API, persistence.Persistence) {
	t.Helper()

	store := memory.NewPersistence()

	pub, sub, err := gochannel.CreateTestChannel(watermill.NopLogger{})
	require.NoError(t, err)

	cfg := config.Default()

	api := NewAPI(
		slog.Default(),
		store,
		eventbus.NewWatermillEventBus(pub, sub),
		cache.NewMemoryStore(),
		cfg,
	)
	t.Cleanup(api.Close)

	return api, store
}

func setupTestApp(t *testing.T) *fiber.App {
	t.Helper()

	api, _ := setupTestAPI(t)

	return api.App()
}

func TestAPI_RootEndpoint(t *testing.T) {
	app := setupTestApp(t)

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	resp, err := app.Test(req)
	require.NoError(t, err)

	defer func() {
		err := resp.Body.Close()
		if err != nil {
			t.Logf("Failed to close response body: %v", err)
		}
	}()

	assert.Equal(t, http.StatusOK, resp.StatusCode)

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Equal(t, "Weft API", string(body))
}

func TestAPI_HealthCheck(t *testing.T) {
	app := setupTestApp(t)

	req := httptest.NewRequest(http.MethodGet, "/livez", nil)
	resp, err := app.Test(req)
	require.NoError(t, err)

	defer func() {
		err := resp.Body.Close()
		if err != nil {
			t.Logf("Failed to close response body: %v", err)
		}
	}()

	assert.Equal(t, http.StatusOK, resp.StatusCode)

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Equal(t, "OK", string(body))
}

func TestAPI_GetConnectors_Empty(t *testing.T) {
	app := setupTestApp(t)

	req := httptest.NewRequest(http.MethodGet, "/connectors", nil)
	req.Header.Set("Accept", "application/json")
	resp, err := app.Test(req)
	require.NoError(t, err)

	defer func() {
		err := resp.Body.Close()
		if err != nil {
			t.Logf("Failed to close response body: %v", err)
		}
	}()

	assert.Equal(t, http.StatusOK, resp.StatusCode)

	var connectors []models.Connector

	err = json.NewDecoder(resp.Body).Decode(&connectors)
	require.NoError(t, err)
	assert.Empty(t, connectors)
}

func TestAPI_GetConnectors_WithData(t *testing.T) {
	api, store := setupTestAPI(t)

	err := store.SaveConnector(context.Background(), &models.Connector{
		ID:      "c1",
		Name:    "Billing",
		BaseURL: "https://billing.example.com",
		Actions: []*models.ConnectorAction{
			{
				ID:           "a1",
				ConnectorID:  "c1",
				Name:         "Create Invoice",
				HTTPMethod:   http.MethodPost,
				EndpointPath: "/invoices",
			},
		},
	})
	require.NoError(t, err)

	err = store.SaveConnector(context.Background(), &models.Connector{
		ID:      "c2",
		Name:    "Shipping",
		BaseURL: "https://shipping.example.com",
	})
	require.NoError(t, err)

	app := api.App()

	req := httptest.NewRequest(http.MethodGet, "/connectors", nil)
	req.Header.Set("Accept", "application/json")
	resp, err := app.Test(req)
	require.NoError(t, err)

	defer func() { _ = resp.Body.Close() }()

	assert.Equal(t, http.StatusOK, resp.StatusCode)

	var connectors []models.Connector

	err = json.NewDecoder(resp.Body).Decode(&connectors)
	require.NoError(t, err)
	assert.Len(t, connectors, 2)

	ids := []string{connectors[0].ID, connectors[1].ID}
	assert.Contains(t, ids, "c1")
	assert.Contains(t, ids, "c2")
}

func TestAPI_GetConnector_NotFound(t *testing.T) {
	app := setupTestApp(t)

	req := httptest.NewRequest(http.MethodGet, "/connectors/non-existent", nil)
	req.Header.Set("Accept", "application/json")
	resp, err := app.Test(req)
	require.NoError(t, err)

	defer func() {
		err := resp.Body.Close()
		if err != nil {
			t.Logf("Failed to close response body: %v", err)
		}
	}()

	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestAPI_GetSequence_Success(t *testing.T) {
	api, store := setupTestAPI(t)

	err := store.SaveSequence(context.Background(), &models.Sequence{
		ID:     "s1",
		Name:   "Order Flow",
		Active: true,
		Nodes: []*models.FlowNode{
			{ID: "start", Type: models.NodeTypeTrigger},
		},
	})
	require.NoError(t, err)

	app := api.App()

	req := httptest.NewRequest(http.MethodGet, "/sequences/s1", nil)
	req.Header.Set("Accept", "application/json")
	resp, err := app.Test(req)
	require.NoError(t, err)

	defer func() { _ = resp.Body.Close() }()

	assert.Equal(t, http.StatusOK, resp.StatusCode)

	var seq models.Sequence

	err = json.NewDecoder(resp.Body).Decode(&seq)
	require.NoError(t, err)
	assert.Equal(t, "s1", seq.ID)
	assert.Equal(t, "Order Flow", seq.Name)
	assert.True(t, seq.Active)
	assert.Len(t, seq.Nodes, 1)
}

func TestAPI_CORS_Headers(t *testing.T) {
	app := setupTestApp(t)

	req := httptest.NewRequest(http.MethodOptions, "/connectors", nil)
	req.Header.Set("Origin", "http://localhost:3000")
	req.Header.Set("Access-Control-Request-Method", "GET")
	resp, err := app.Test(req)
	require.NoError(t, err)

	defer func() {
		err := resp.Body.Close()
		if err != nil {
			t.Logf("Failed to close response body: %v", err)
		}
	}()

	assert.Equal(t, http.StatusNoContent, resp.StatusCode)
	assert.Equal(t, "*", resp.Header.Get("Access-Control-Allow-Origin"))
}

func TestAPI_ContentType_JSON(t *testing.T) {
	app := setupTestApp(t)

	req := httptest.NewRequest(http.MethodGet, "/connectors", nil)
	req.Header.Set("Accept", "application/json")
	resp, err := app.Test(req)
	require.NoError(t, err)

	defer func() {
		err := resp.Body.Close()
		if err != nil {
			t.Logf("Failed to close response body: %v", err)
		}
	}()

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, resp.Header.Get("Content-Type"), "application/json")
}
