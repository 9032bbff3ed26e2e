package services_test

import (
	"context"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/weftworks/weft/pkg/cache"
	"github.com/weftworks/weft/pkg/events"
	"github.com/weftworks/weft/pkg/models"
	"github.com/weftworks/weft/pkg/persistence/memory"
	"github.com/weftworks/weft/pkg/services"
)

func newEventService(t *testing.T) (*services.EventService, *memory.Persistence, *nopPublisher) {
	t.Helper()

	store := memory.NewPersistence()
	publisher := &nopPublisher{}

	return services.NewEventService(store, publisher, cache.NewMemoryStore()), store, publisher
}

func orderEvent() *models.Event {
	return &models.Event{
		ID:   "e1",
		Name: "order.created",
		Schema: map[string]any{
			"type":     "object",
			"required": []any{"order_id"},
			"properties": map[string]any{
				"order_id": map[string]any{"type": "string"},
			},
		},
	}
}

func TestIngestPublishesValidPayload(t *testing.T) {
	service, store, publisher := newEventService(t)
	require.NoError(t, store.SaveEvent(context.Background(), orderEvent()))

	ack, err := service.Ingest(context.Background(), "order.created", map[string]any{"order_id": "ord-1"})
	require.NoError(t, err)

	assert.Equal(t, http.StatusAccepted, ack.StatusCode)
	assert.Nil(t, ack.Payload)

	require.Len(t, publisher.events, 1)
	received, ok := publisher.events[0].(*events.EventReceived)
	require.True(t, ok)
	assert.Equal(t, "e1", received.EventID)
	assert.Equal(t, "order.created", received.EventName)
	assert.Equal(t, "ord-1", received.Payload["order_id"])
}

func TestIngestRejectsSchemaViolation(t *testing.T) {
	service, store, publisher := newEventService(t)
	require.NoError(t, store.SaveEvent(context.Background(), orderEvent()))

	_, err := service.Ingest(context.Background(), "order.created", map[string]any{"amount": 10})

	require.Error(t, err)
	assert.ErrorIs(t, err, services.ErrPayloadSchemaInvalid)
	assert.True(t, services.IsValidationError(err))
	assert.Contains(t, err.Error(), "order_id")
	assert.Empty(t, publisher.events)
}

func TestIngestCustomAck(t *testing.T) {
	service, store, _ := newEventService(t)

	event := orderEvent()
	event.Schema = nil
	event.Ack = &models.AckConfig{
		StatusCode: http.StatusOK,
		Payload:    map[string]any{"received": true},
	}
	require.NoError(t, store.SaveEvent(context.Background(), event))

	ack, err := service.Ingest(context.Background(), "order.created", map[string]any{"anything": 1})
	require.NoError(t, err)

	assert.Equal(t, http.StatusOK, ack.StatusCode)
	assert.Equal(t, map[string]any{"received": true}, ack.Payload)
}

func TestIngestRequiresEventName(t *testing.T) {
	service, _, _ := newEventService(t)

	_, err := service.Ingest(context.Background(), "  ", nil)

	assert.ErrorIs(t, err, services.ErrEventNameRequired)
}

func TestTestPayloadRoundTrip(t *testing.T) {
	service, _, _ := newEventService(t)

	_, err := service.TestPayload(context.Background(), "e1")
	assert.ErrorIs(t, err, cache.ErrNotFound)

	payload := map[string]any{"order_id": "ord-1", "amount": 12.5}
	require.NoError(t, service.SaveTestPayload(context.Background(), "e1", payload))

	loaded, err := service.TestPayload(context.Background(), "e1")
	require.NoError(t, err)
	assert.Equal(t, payload, loaded)
}
