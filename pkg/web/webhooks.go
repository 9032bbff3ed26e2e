package web

import (
	"errors"
	"time"

	"github.com/gofiber/fiber/v3"

	"github.com/weftworks/weft/pkg/async"
	"github.com/weftworks/weft/pkg/persistence"
)

// AsyncWebhook receives the callback for one execution on its dynamic URL.
func (h *APIHandlers) AsyncWebhook(c fiber.Ctx) error {
	delivery, err := webhookDelivery(c)
	if err != nil {
		return badRequest(c, "Invalid JSON format")
	}

	execution, err := h.asyncManager.HandleWebhook(c.Context(), c.Params("executionId"), delivery)
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

// StaticAsyncWebhook receives callbacks on the shared endpoint; the owning
// execution is found by the identifier embedded in the payload.
func (h *APIHandlers) StaticAsyncWebhook(c fiber.Ctx) error {
	delivery, err := webhookDelivery(c)
	if err != nil {
		return badRequest(c, "Invalid JSON format")
	}

	execution, err := h.asyncManager.HandleStaticWebhook(c.Context(), delivery)
	if err != nil {
		if errors.Is(err, async.ErrNoMatchingExecution) {
			return notFound(c, "No execution matches the webhook payload")
		}

		if errors.Is(err, async.ErrExecutionTerminal) {
			return conflict(c, "Async execution already terminal")
		}

		return internalError(c, err)
	}

	return c.JSON(WebhookAck{ExecutionID: execution.ID, Status: execution.Status})
}

func webhookDelivery(c fiber.Ctx) (async.WebhookDelivery, error) {
	payload := map[string]any{}
	if len(c.Body()) > 0 {
		if err := c.Bind().JSON(&payload); err != nil {
			return async.WebhookDelivery{}, err
		}
	}

	headers := make(map[string]string)
	for name, values := range c.GetReqHeaders() {
		if len(values) > 0 {
			headers[name] = values[0]
		}
	}

	return async.WebhookDelivery{
		Payload:    payload,
		Headers:    headers,
		Method:     c.Method(),
		ReceivedAt: time.Now().UTC(),
	}, nil
}
