package connector

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/weftworks/weft/pkg/auth"
	"github.com/weftworks/weft/pkg/models"
)

func testInvoker() *Invoker {
	return NewInvoker(NewHTTPTransport(), auth.NewResolver(nil))
}

func TestInvokeSuccess(t *testing.T) {
	var captured *http.Request

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		captured = r.Clone(r.Context())
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"data":{"document":{"name":"Contract.pdf"}}}`))
	}))
	defer server.Close()

	conn := &models.Connector{Name: "X", BaseURL: server.URL, Headers: map[string]string{"X-Tenant": "acme"}}
	action := &models.ConnectorAction{
		Name:         "Get Document",
		HTTPMethod:   "GET",
		EndpointPath: "/documents/{documentId}",
		PathParams:   map[string]models.ParamConfig{"documentId": {Mandatory: true}},
		QueryParams:  map[string]models.ParamConfig{"version": {Default: "latest"}},
	}

	result := testInvoker().Invoke(context.Background(), conn, action, nil, nil, CallParams{
		Path: map[string]any{"documentId": "TEST123"},
	})

	require.True(t, result.Succeeded())
	assert.True(t, result.APICalled)
	assert.Equal(t, http.StatusOK, result.StatusCode)
	assert.Equal(t, "/documents/TEST123", captured.URL.Path)
	assert.Equal(t, "latest", captured.URL.Query().Get("version"))
	assert.Equal(t, "acme", captured.Header.Get("X-Tenant"))
	assert.Equal(t, "Contract.pdf",
		result.Response["data"].(map[string]any)["document"].(map[string]any)["name"])
}

func TestInvokeBodyTemplateOverlay(t *testing.T) {
	var received map[string]any

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewDecoder(r.Body).Decode(&received)
		w.WriteHeader(http.StatusCreated)
		_, _ = w.Write([]byte(`{"id":"doc-1"}`))
	}))
	defer server.Close()

	conn := &models.Connector{Name: "X", BaseURL: server.URL}
	action := &models.ConnectorAction{
		Name:         "Create Document",
		HTTPMethod:   "POST",
		EndpointPath: "/documents",
		RequestBodyTemplate: map[string]any{
			"document": map[string]any{"source": "weft", "name": ""},
		},
		BodyParams: map[string]models.ParamConfig{
			"document.name": {Mandatory: true},
		},
	}

	result := testInvoker().Invoke(context.Background(), conn, action, nil, nil, CallParams{
		Body: map[string]any{"document.name": "Contract.pdf"},
	})

	require.True(t, result.Succeeded())
	assert.Equal(t, map[string]any{
		"document": map[string]any{"source": "weft", "name": "Contract.pdf"},
	}, received)

	// The stored template must not have been mutated by the overlay.
	assert.Equal(t, "", action.RequestBodyTemplate["document"].(map[string]any)["name"])
}

func TestInvokeMissingMandatoryParam(t *testing.T) {
	conn := &models.Connector{Name: "X", BaseURL: "http://unused.invalid"}
	action := &models.ConnectorAction{
		Name:         "Get Document",
		HTTPMethod:   "GET",
		EndpointPath: "/documents/{documentId}",
		PathParams:   map[string]models.ParamConfig{"documentId": {Mandatory: true}},
	}

	result := testInvoker().Invoke(context.Background(), conn, action, nil, nil, CallParams{})

	assert.Equal(t, models.ActionCallValidationError, result.Status)
	assert.False(t, result.APICalled)
	assert.Contains(t, result.Error, `path param "documentId"`)
}

func TestInvokeHTTPErrorKeepsBody(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
		_, _ = w.Write([]byte(`{"message":"upstream down"}`))
	}))
	defer server.Close()

	conn := &models.Connector{Name: "X", BaseURL: server.URL}
	action := &models.ConnectorAction{Name: "Ping", HTTPMethod: "GET", EndpointPath: "/ping"}

	result := testInvoker().Invoke(context.Background(), conn, action, nil, nil, CallParams{})

	assert.Equal(t, models.ActionCallFailed, result.Status)
	assert.Equal(t, ErrorHTTP, result.ErrorType)
	assert.True(t, result.APICalled)
	assert.Equal(t, http.StatusBadGateway, result.StatusCode)
	assert.Equal(t, "upstream down", result.Response["message"])
}

func TestInvokeTimeout(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		time.Sleep(200 * time.Millisecond)
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	conn := &models.Connector{Name: "X", BaseURL: server.URL}

	invoker := testInvoker()
	result := invoker.Do(context.Background(), conn, nil, nil, "GET", "/slow", nil, nil, nil, 50*time.Millisecond)

	assert.Equal(t, models.ActionCallFailed, result.Status)
	assert.Equal(t, ErrorTimeout, result.ErrorType)
}

type panickingTransport struct{}

func (panickingTransport) Request(_ context.Context, _, _ string, _ map[string]string, _ map[string]string, _ any, _ time.Duration) (*Response, error) {
	panic("transport exploded")
}

func TestInvokeRecoversFromPanic(t *testing.T) {
	conn := &models.Connector{Name: "X", BaseURL: "http://example.com"}
	action := &models.ConnectorAction{
		Name:         "Get Document",
		HTTPMethod:   "GET",
		EndpointPath: "/documents",
	}

	invoker := NewInvoker(panickingTransport{}, auth.NewResolver(nil))

	result := invoker.Invoke(context.Background(), conn, action, nil, nil, CallParams{})

	assert.Equal(t, models.ActionCallFailed, result.Status)
	assert.Contains(t, result.Error, "transport exploded")

	result = invoker.Do(context.Background(), conn, nil, nil, "GET", "/documents", nil, nil, nil, time.Second)

	assert.Equal(t, models.ActionCallFailed, result.Status)
	assert.Contains(t, result.Error, "transport exploded")
}

func TestSetPath(t *testing.T) {
	target := map[string]any{}
	SetPath(target, "a.b.c", 1)
	SetPath(target, "a.d", "x")

	assert.Equal(t, map[string]any{
		"a": map[string]any{
			"b": map[string]any{"c": 1},
			"d": "x",
		},
	}, target)
}
