package services

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/xeipuuv/gojsonschema"

	"github.com/weftworks/weft/pkg/cache"
	"github.com/weftworks/weft/pkg/eventbus"
	"github.com/weftworks/weft/pkg/events"
	"github.com/weftworks/weft/pkg/log"
	"github.com/weftworks/weft/pkg/models"
	"github.com/weftworks/weft/pkg/persistence"
)

const testPayloadTTL = 24 * time.Hour

// EventService ingests named inbound events: it validates payloads against
// the event's JSON Schema, publishes an EventReceived for the sequence
// runner and answers the producer with the event's acknowledgement config.
type EventService struct {
	persistence persistence.EventRepository
	publisher   eventbus.EventPublisher
	cache       cache.Store
	logger      *slog.Logger
}

func NewEventService(p persistence.EventRepository, publisher eventbus.EventPublisher, store cache.Store) *EventService {
	return &EventService{
		persistence: p,
		publisher:   publisher,
		cache:       store,
		logger:      log.WithModule("events"),
	}
}

// Ack is what the producer gets back synchronously, before any sequence runs.
type Ack struct {
	StatusCode int
	Payload    map[string]any
}

// Ingest accepts an inbound payload for the named event. The payload is
// validated against the event's schema when one is defined; a valid payload
// is published to the bus and the configured acknowledgement returned.
func (s *EventService) Ingest(ctx context.Context, eventName string, payload map[string]any) (*Ack, error) {
	if strings.TrimSpace(eventName) == "" {
		return nil, NewValidationError("Ingest", "event_name_required", "event name is required", ErrEventNameRequired)
	}

	event, err := s.persistence.EventByName(ctx, eventName)
	if err != nil {
		return nil, fmt.Errorf("failed to load event %q: %w", eventName, err)
	}

	if err := validatePayload(event, payload); err != nil {
		return nil, err
	}

	received := &events.EventReceived{
		BaseEvent: events.NewBaseEvent(events.EventReceivedEvent),
		EventID:   event.ID,
		EventName: event.Name,
		Payload:   payload,
	}

	if err := s.publisher.Publish(ctx, event.ID, received); err != nil {
		return nil, fmt.Errorf("failed to publish event %q: %w", event.Name, err)
	}

	s.logger.Info("event ingested", "event", event.Name, "event_id", event.ID)

	return ackFor(event), nil
}

func ackFor(event *models.Event) *Ack {
	ack := &Ack{StatusCode: http.StatusAccepted}
	if event.Ack != nil {
		if event.Ack.StatusCode != 0 {
			ack.StatusCode = event.Ack.StatusCode
		}

		ack.Payload = event.Ack.Payload
	}

	return ack
}

func validatePayload(event *models.Event, payload map[string]any) error {
	if len(event.Schema) == 0 {
		return nil
	}

	schema := gojsonschema.NewGoLoader(event.Schema)
	document := gojsonschema.NewGoLoader(payload)

	result, err := gojsonschema.Validate(schema, document)
	if err != nil {
		return fmt.Errorf("failed to validate payload for event %q: %w", event.Name, err)
	}

	if result.Valid() {
		return nil
	}

	details := make([]string, 0, len(result.Errors()))
	for _, issue := range result.Errors() {
		details = append(details, issue.String())
	}

	return NewValidationError("Ingest", "payload_schema_invalid",
		strings.Join(details, "; "), ErrPayloadSchemaInvalid)
}

// SaveTestPayload keeps a sample payload around so the UI can replay it
// while a sequence is being built. Samples expire after a day.
func (s *EventService) SaveTestPayload(ctx context.Context, eventID string, payload map[string]any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to serialize test payload: %w", err)
	}

	return s.cache.Set(ctx, testPayloadKey(eventID), data, testPayloadTTL)
}

// TestPayload returns the last sample payload saved for the event, or
// cache.ErrNotFound when none was saved or it expired.
func (s *EventService) TestPayload(ctx context.Context, eventID string) (map[string]any, error) {
	data, err := s.cache.Get(ctx, testPayloadKey(eventID))
	if err != nil {
		return nil, err
	}

	var payload map[string]any
	if err := json.Unmarshal(data, &payload); err != nil {
		return nil, fmt.Errorf("failed to deserialize test payload: %w", err)
	}

	return payload, nil
}

func testPayloadKey(eventID string) string {
	return "event:test-payload:" + eventID
}
