package async

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/weftworks/weft/pkg/models"
	"github.com/weftworks/weft/pkg/persistence"
)

// MetaKey is the reserved key under which delivery metadata (headers,
// method, received-at) is merged into the webhook payload before criteria
// evaluation and storage.
const MetaKey = "_webhook_meta"

// ErrNoMatchingExecution is returned when a static webhook payload matches
// no waiting execution.
var ErrNoMatchingExecution = errors.New("no async execution matches webhook payload")

// WebhookDelivery is one inbound callback as received by the web layer.
type WebhookDelivery struct {
	Payload    map[string]any
	Headers    map[string]string
	Method     string
	ReceivedAt time.Time
}

func (d WebhookDelivery) merged() map[string]any {
	out := make(map[string]any, len(d.Payload)+1)
	for key, value := range d.Payload {
		out[key] = value
	}

	receivedAt := d.ReceivedAt
	if receivedAt.IsZero() {
		receivedAt = time.Now().UTC()
	}

	out[MetaKey] = map[string]any{
		"headers":     d.Headers,
		"method":      d.Method,
		"received_at": receivedAt.Format(time.RFC3339),
	}

	return out
}

// HandleWebhook processes a callback addressed to one execution by its
// dynamic URL. Deliveries after a terminal state are rejected with
// ErrExecutionTerminal; the already-terminal execution is still returned so
// the web layer can report its status.
func (m *Manager) HandleWebhook(ctx context.Context, executionID string, delivery WebhookDelivery) (*models.AsyncActionExecution, error) {
	execution, err := m.persistence.AsyncExecutionByID(ctx, executionID)
	if err != nil {
		return nil, err
	}

	if execution.Status.IsTerminal() {
		return execution, ErrExecutionTerminal
	}

	action, err := m.lookupAction(ctx, execution)
	if err != nil {
		return nil, err
	}

	return m.applyWebhook(ctx, execution, action, delivery)
}

// HandleStaticWebhook matches a callback on the shared endpoint to a waiting
// execution. Every static-webhook action contributes its identifier path;
// the first path that yields a value matching a non-terminal execution wins.
func (m *Manager) HandleStaticWebhook(ctx context.Context, delivery WebhookDelivery) (*models.AsyncActionExecution, error) {
	connectors, err := m.persistence.Connectors(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list connectors: %w", err)
	}

	for _, conn := range connectors {
		for _, action := range conn.Actions {
			if !action.IsAsync || action.AsyncMode != models.AsyncModeWebhook ||
				action.WebhookURLType != models.WebhookURLStatic || action.WebhookIdentifierPath == "" {
				continue
			}

			value := resolveResponsePath(action.WebhookIdentifierPath, delivery.Payload)
			if value == nil {
				continue
			}

			execution, err := m.persistence.AsyncExecutionByWebhookIdentifier(ctx, stringifyIdentifier(value))
			if err != nil {
				if persistence.IsNotFound(err) {
					continue
				}

				return nil, err
			}

			return m.applyWebhook(ctx, execution, action, delivery)
		}
	}

	return nil, ErrNoMatchingExecution
}

// applyWebhook records the receipt and evaluates the webhook criteria.
// Success is checked before failure; when neither matches the execution
// keeps waiting and a later delivery re-evaluates.
func (m *Manager) applyWebhook(ctx context.Context, execution *models.AsyncActionExecution, action *models.ConnectorAction, delivery WebhookDelivery) (*models.AsyncActionExecution, error) {
	merged := delivery.merged()
	now := time.Now().UTC()

	execution.WebhookReceived = true
	execution.WebhookReceivedAt = &now
	execution.FinalResponse = merged

	m.appendProgress(ctx, &models.AsyncActionProgress{
		ExecutionID: execution.ID,
		Step:        models.ProgressStepWebhook,
		Method:      delivery.Method,
		Response:    merged,
	})

	if m.criteriaMet(ctx, action.WebhookSuccessCriteria, merged) {
		if m.finalize(ctx, execution, models.AsyncStatusCompleted, "webhook success criteria met") {
			m.stopTask(execution.ID)
		}

		return execution, nil
	}

	if m.criteriaMet(ctx, action.WebhookFailureCriteria, merged) {
		execution.ErrorMessage = "webhook failure criteria met"
		if m.finalize(ctx, execution, models.AsyncStatusFailed, execution.ErrorMessage) {
			m.stopTask(execution.ID)
		}

		return execution, nil
	}

	// Neither criteria matched, keep waiting for the next delivery.
	err := m.persistence.UpdateAsyncExecution(ctx, execution)
	if err != nil {
		return nil, fmt.Errorf("failed to store webhook receipt: %w", err)
	}

	m.logger.InfoContext(ctx, "webhook received but criteria not met, still waiting",
		"execution_id", execution.ID)

	return execution, nil
}

func (m *Manager) lookupAction(ctx context.Context, execution *models.AsyncActionExecution) (*models.ConnectorAction, error) {
	conn, err := m.persistence.ConnectorByID(ctx, execution.ConnectorID)
	if err != nil {
		return nil, err
	}

	for _, action := range conn.Actions {
		if action.ID == execution.ActionID {
			return action, nil
		}
	}

	return nil, persistence.NewEntityError("lookupAction", "action", execution.ActionID, persistence.ErrActionNotFound)
}

func stringifyIdentifier(value any) string {
	return fmt.Sprintf("%v", value)
}
