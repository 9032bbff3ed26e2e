package web

import (
	"errors"
	"net/http"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v3"

	"github.com/weftworks/weft/pkg/async"
	"github.com/weftworks/weft/pkg/cache"
	"github.com/weftworks/weft/pkg/models"
	"github.com/weftworks/weft/pkg/persistence"
	"github.com/weftworks/weft/pkg/services"
)

type APIHandlers struct {
	persistence     persistence.Persistence
	eventService    *services.EventService
	sequenceService *services.SequenceService
	asyncManager    *async.Manager
	validator       *validator.Validate
}

func NewAPIHandlers(
	p persistence.Persistence,
	eventService *services.EventService,
	sequenceService *services.SequenceService,
	asyncManager *async.Manager,
	validate *validator.Validate,
) *APIHandlers {
	return &APIHandlers{
		persistence:     p,
		eventService:    eventService,
		sequenceService: sequenceService,
		asyncManager:    asyncManager,
		validator:       validate,
	}
}

func (h *APIHandlers) HealthCheck(c fiber.Ctx) error {
	err := h.persistence.HealthCheck(c.Context())

	status := "healthy"
	httpStatus := http.StatusOK
	checkers := fiber.Map{"repository": "ok"}

	if err != nil {
		status = "unhealthy"
		httpStatus = http.StatusInternalServerError
		checkers["repository"] = err.Error()
	}

	return c.Status(httpStatus).JSON(fiber.Map{
		"status":    status,
		"checkers":  checkers,
		"timestamp": time.Now().UTC(),
	})
}

// Connectors

func (h *APIHandlers) GetConnectors(c fiber.Ctx) error {
	connectors, err := h.persistence.Connectors(c.Context())
	if err != nil {
		return internalError(c, err)
	}

	return c.JSON(connectors)
}

func (h *APIHandlers) GetConnector(c fiber.Ctx) error {
	conn, err := h.persistence.ConnectorByID(c.Context(), c.Params("id"))
	if err != nil {
		if persistence.IsNotFound(err) {
			return notFound(c, "Connector not found")
		}

		return internalError(c, err)
	}

	return c.JSON(conn)
}

func (h *APIHandlers) CreateConnector(c fiber.Ctx) error {
	var conn models.Connector
	if err := c.Bind().JSON(&conn); err != nil {
		return badRequest(c, "Invalid JSON format")
	}

	if err := h.validator.Struct(conn); err != nil {
		return badRequest(c, err.Error())
	}

	if err := h.persistence.SaveConnector(c.Context(), &conn); err != nil {
		return handleServiceError(c, err)
	}

	return c.Status(fiber.StatusCreated).JSON(conn)
}

func (h *APIHandlers) UpdateConnector(c fiber.Ctx) error {
	existing, err := h.persistence.ConnectorByID(c.Context(), c.Params("id"))
	if err != nil {
		if persistence.IsNotFound(err) {
			return notFound(c, "Connector not found")
		}

		return internalError(c, err)
	}

	var conn models.Connector
	if err := c.Bind().JSON(&conn); err != nil {
		return badRequest(c, "Invalid JSON format")
	}

	if err := h.validator.Struct(conn); err != nil {
		return badRequest(c, err.Error())
	}

	conn.ID = existing.ID
	conn.CreatedAt = existing.CreatedAt

	if err := h.persistence.SaveConnector(c.Context(), &conn); err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(conn)
}

func (h *APIHandlers) DeleteConnector(c fiber.Ctx) error {
	err := h.persistence.DeleteConnector(c.Context(), c.Params("id"))
	if err != nil {
		if persistence.IsNotFound(err) {
			return notFound(c, "Connector not found")
		}

		return internalError(c, err)
	}

	return c.SendStatus(fiber.StatusNoContent)
}

// Credentials

func (h *APIHandlers) SaveCredential(c fiber.Ctx) error {
	var req SaveCredentialRequest
	if err := c.Bind().JSON(&req); err != nil {
		return badRequest(c, "Invalid JSON format")
	}

	if err := h.validator.Struct(req.Credential); err != nil {
		return badRequest(c, err.Error())
	}

	if err := h.persistence.SaveCredential(c.Context(), &req.Credential); err != nil {
		return handleServiceError(c, err)
	}

	if req.Set != nil {
		req.Set.CredentialID = req.Credential.ID
		if err := h.validator.Struct(req.Set); err != nil {
			return badRequest(c, err.Error())
		}

		if err := h.persistence.SaveCredentialSet(c.Context(), req.Set); err != nil {
			return handleServiceError(c, err)
		}
	}

	return c.Status(fiber.StatusCreated).JSON(req.Credential)
}

// Events

func (h *APIHandlers) GetEvents(c fiber.Ctx) error {
	events, err := h.persistence.Events(c.Context())
	if err != nil {
		return internalError(c, err)
	}

	return c.JSON(events)
}

func (h *APIHandlers) GetEvent(c fiber.Ctx) error {
	event, err := h.persistence.EventByID(c.Context(), c.Params("id"))
	if err != nil {
		if persistence.IsNotFound(err) {
			return notFound(c, "Event not found")
		}

		return internalError(c, err)
	}

	return c.JSON(event)
}

func (h *APIHandlers) CreateEvent(c fiber.Ctx) error {
	var event models.Event
	if err := c.Bind().JSON(&event); err != nil {
		return badRequest(c, "Invalid JSON format")
	}

	if err := h.validator.Struct(event); err != nil {
		return badRequest(c, err.Error())
	}

	if err := h.persistence.SaveEvent(c.Context(), &event); err != nil {
		return handleServiceError(c, err)
	}

	return c.Status(fiber.StatusCreated).JSON(event)
}

// IngestEvent accepts an inbound payload for a named event and answers with
// the event's configured acknowledgement before any sequence runs.
func (h *APIHandlers) IngestEvent(c fiber.Ctx) error {
	payload := map[string]any{}
	if len(c.Body()) > 0 {
		if err := c.Bind().JSON(&payload); err != nil {
			return badRequest(c, "Invalid JSON format")
		}
	}

	ack, err := h.eventService.Ingest(c.Context(), c.Params("name"), payload)
	if err != nil {
		return handleServiceError(c, err)
	}

	body := ack.Payload
	if body == nil {
		body = map[string]any{"status": "accepted"}
	}

	return c.Status(ack.StatusCode).JSON(body)
}

func (h *APIHandlers) SaveTestPayload(c fiber.Ctx) error {
	var req TestPayloadRequest
	if err := c.Bind().JSON(&req); err != nil {
		return badRequest(c, "Invalid JSON format")
	}

	if err := h.validator.Struct(req); err != nil {
		return badRequest(c, err.Error())
	}

	if err := h.eventService.SaveTestPayload(c.Context(), c.Params("id"), req.Payload); err != nil {
		return internalError(c, err)
	}

	return c.SendStatus(fiber.StatusNoContent)
}

func (h *APIHandlers) GetTestPayload(c fiber.Ctx) error {
	payload, err := h.eventService.TestPayload(c.Context(), c.Params("id"))
	if err != nil {
		if errors.Is(err, cache.ErrNotFound) {
			return notFound(c, "No test payload saved")
		}

		return internalError(c, err)
	}

	return c.JSON(payload)
}

// Sequences

func (h *APIHandlers) GetSequences(c fiber.Ctx) error {
	sequences, err := h.persistence.Sequences(c.Context())
	if err != nil {
		return internalError(c, err)
	}

	return c.JSON(sequences)
}

func (h *APIHandlers) GetSequence(c fiber.Ctx) error {
	seq, err := h.persistence.SequenceByID(c.Context(), c.Params("id"))
	if err != nil {
		if persistence.IsNotFound(err) {
			return notFound(c, "Sequence not found")
		}

		return internalError(c, err)
	}

	return c.JSON(seq)
}

func (h *APIHandlers) CreateSequence(c fiber.Ctx) error {
	var seq models.Sequence
	if err := c.Bind().JSON(&seq); err != nil {
		return badRequest(c, "Invalid JSON format")
	}

	if err := h.validator.Struct(seq); err != nil {
		return badRequest(c, err.Error())
	}

	if err := h.persistence.SaveSequence(c.Context(), &seq); err != nil {
		return handleServiceError(c, err)
	}

	return c.Status(fiber.StatusCreated).JSON(seq)
}

func (h *APIHandlers) DeleteSequence(c fiber.Ctx) error {
	err := h.persistence.DeleteSequence(c.Context(), c.Params("id"))
	if err != nil {
		if persistence.IsNotFound(err) {
			return notFound(c, "Sequence not found")
		}

		return internalError(c, err)
	}

	return c.SendStatus(fiber.StatusNoContent)
}

// RunSequence starts one manual run and waits for it to finish.
func (h *APIHandlers) RunSequence(c fiber.Ctx) error {
	req := RunSequenceRequest{}
	if len(c.Body()) > 0 {
		if err := c.Bind().JSON(&req); err != nil {
			return badRequest(c, "Invalid JSON format")
		}
	}

	result, err := h.sequenceService.RunManual(c.Context(), c.Params("id"), req.Payload)
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(result)
}

// Executions

func (h *APIHandlers) GetExecution(c fiber.Ctx) error {
	execution, err := h.persistence.ExecutionByID(c.Context(), c.Params("id"))
	if err != nil {
		if persistence.IsNotFound(err) {
			return notFound(c, "Execution not found")
		}

		return internalError(c, err)
	}

	logs, err := h.persistence.ExecutionLogs(c.Context(), execution.ID)
	if err != nil {
		return internalError(c, err)
	}

	execution.Logs = logs

	return c.JSON(execution)
}

func (h *APIHandlers) GetExecutionLogs(c fiber.Ctx) error {
	logs, err := h.persistence.ExecutionLogs(c.Context(), c.Params("id"))
	if err != nil {
		return internalError(c, err)
	}

	return c.JSON(logs)
}

// Async executions

func (h *APIHandlers) GetAsyncExecution(c fiber.Ctx) error {
	execution, err := h.persistence.AsyncExecutionByID(c.Context(), c.Params("id"))
	if err != nil {
		if persistence.IsNotFound(err) {
			return notFound(c, "Async execution not found")
		}

		return internalError(c, err)
	}

	return c.JSON(execution)
}

func (h *APIHandlers) GetAsyncProgress(c fiber.Ctx) error {
	progress, err := h.persistence.AsyncProgress(c.Context(), c.Params("id"))
	if err != nil {
		return internalError(c, err)
	}

	return c.JSON(progress)
}

func (h *APIHandlers) CancelAsyncExecution(c fiber.Ctx) error {
	execution, err := h.asyncManager.Cancel(c.Context(), c.Params("id"))
	if err != nil {
		if errors.Is(err, async.ErrExecutionTerminal) {
			return conflict(c, "Async execution already terminal")
		}

		if persistence.IsNotFound(err) {
			return notFound(c, "Async execution not found")
		}

		return internalError(c, err)
	}

	return c.JSON(WebhookAck{ExecutionID: execution.ID, Status: execution.Status})
}
