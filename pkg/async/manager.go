// Package async implements the asynchronous action execution state machine:
// initiation, the background polling worker pool, webhook receipt and the
// watchdog timers. Terminal transitions go through the persistence layer's
// atomic check-and-set so racing finalizers produce exactly one winner.
package async

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/weftworks/weft/pkg/connector"
	"github.com/weftworks/weft/pkg/criteria"
	"github.com/weftworks/weft/pkg/eventbus"
	"github.com/weftworks/weft/pkg/events"
	"github.com/weftworks/weft/pkg/log"
	"github.com/weftworks/weft/pkg/models"
	"github.com/weftworks/weft/pkg/persistence"
)

// ErrExecutionTerminal is returned when a webhook delivery or cancellation
// targets an execution that already reached a terminal state.
var ErrExecutionTerminal = errors.New("async execution already terminal")

const defaultMaxWorkers = 64

// nonTerminalStates is the allowed-from set for every terminal transition.
var nonTerminalStates = []models.AsyncStatus{
	models.AsyncStatusInitiated,
	models.AsyncStatusPolling,
}

// Config carries the manager's tunables.
type Config struct {
	// WebhookBaseURL is the externally reachable prefix for generated
	// callback URLs, e.g. "https://api.example.com".
	WebhookBaseURL string
	// MaxWorkers bounds the number of concurrently polling executions.
	MaxWorkers int
}

// Manager owns the lifecycle of async action executions. One cancellable
// background task runs per polling execution; webhook executions are driven
// by inbound callbacks racing a watchdog timer.
type Manager struct {
	persistence persistence.Persistence
	invoker     *connector.Invoker
	publisher   eventbus.EventPublisher
	logger      *slog.Logger

	webhookBaseURL string
	workers        chan struct{}

	mu    sync.Mutex
	tasks map[string]context.CancelFunc
	wg    sync.WaitGroup

	// wait is stubbed in tests to skip real sleeps.
	wait func(ctx context.Context, d time.Duration) error
}

func NewManager(p persistence.Persistence, invoker *connector.Invoker, publisher eventbus.EventPublisher, config Config) *Manager {
	maxWorkers := config.MaxWorkers
	if maxWorkers <= 0 {
		maxWorkers = defaultMaxWorkers
	}

	return &Manager{
		persistence:    p,
		invoker:        invoker,
		publisher:      publisher,
		logger:         log.WithModule("async"),
		webhookBaseURL: strings.TrimSuffix(config.WebhookBaseURL, "/"),
		workers:        make(chan struct{}, maxWorkers),
		tasks:          make(map[string]context.CancelFunc),
		wait:           waitFor,
	}
}

func waitFor(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// InitiateRequest carries everything needed to start one async execution.
// Credential material is resolved by the caller.
type InitiateRequest struct {
	Connector     *models.Connector
	Action        *models.ConnectorAction
	Credential    *models.Credential
	CredentialSet *models.CredentialSet
	Params        connector.CallParams

	// Back-reference for the completion hook.
	SequenceExecutionID string
	NodeID              string
	ResponseMappings    []models.ResponseMapping
}

// Initiate creates the execution record, performs the initial API call and,
// on success, hands off to the polling worker or arms the webhook watchdog.
// It returns as soon as the initial call completes; polling and webhook
// completion happen in the background.
func (m *Manager) Initiate(ctx context.Context, req InitiateRequest) (*models.AsyncActionExecution, *connector.CallResult, error) {
	execution := &models.AsyncActionExecution{
		ConnectorID:         req.Connector.ID,
		ActionID:            req.Action.ID,
		ActionName:          req.Action.Name,
		Status:              models.AsyncStatusInitiated,
		SequenceExecutionID: req.SequenceExecutionID,
		NodeID:              req.NodeID,
		ResponseMappings:    req.ResponseMappings,
	}

	err := m.persistence.SaveAsyncExecution(ctx, execution)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create async execution: %w", err)
	}

	params := req.Params

	if req.Action.AsyncMode == models.AsyncModeWebhook {
		execution.WebhookURL = m.webhookURL(req.Action, execution.ID)
		params = injectWebhookURL(params, req.Action, execution.WebhookURL)
	}

	result := m.invoker.Invoke(ctx, req.Connector, req.Action, req.Credential, req.CredentialSet, params)

	execution.InitialRequest = result.Request
	execution.InitialResponse = result.Response

	m.appendProgress(ctx, &models.AsyncActionProgress{
		ExecutionID: execution.ID,
		Step:        models.ProgressStepInitialCall,
		Endpoint:    result.URL,
		Method:      result.Method,
		StatusCode:  result.StatusCode,
		Request:     result.Request,
		Response:    result.Response,
		Message:     result.Error,
		DurationMS:  result.DurationMS,
	})

	if !result.Succeeded() {
		execution.ErrorMessage = result.Error
		m.finalize(ctx, execution, models.AsyncStatusFailed, "initial call failed: "+result.Error)

		return execution, result, nil
	}

	err = m.persistence.UpdateAsyncExecution(ctx, execution)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to store initial response: %w", err)
	}

	switch req.Action.AsyncMode {
	case models.AsyncModeWebhook:
		m.armWebhook(ctx, execution, req.Action)
	default:
		m.startPolling(ctx, execution, req)
	}

	return execution, result, nil
}

func (m *Manager) webhookURL(action *models.ConnectorAction, executionID string) string {
	if action.WebhookURLType == models.WebhookURLStatic {
		return m.webhookBaseURL + "/webhooks/async/static"
	}

	return m.webhookBaseURL + "/webhooks/async/" + executionID
}

// injectWebhookURL places the callback URL into the initial request at the
// configured location.
func injectWebhookURL(params connector.CallParams, action *models.ConnectorAction, url string) connector.CallParams {
	name := action.WebhookURLInjectionParam
	if name == "" {
		name = "callback_url"
	}

	set := func(target map[string]any) map[string]any {
		out := make(map[string]any, len(target)+1)
		for key, value := range target {
			out[key] = value
		}

		out[name] = url

		return out
	}

	switch action.WebhookURLInjectionMethod {
	case models.InjectPath:
		params.Path = set(params.Path)
	case models.InjectQuery:
		params.Query = set(params.Query)
	case models.InjectHeader:
		params.Headers = set(params.Headers)
	default:
		params.Body = set(params.Body)
	}

	return params
}

// armWebhook extracts the static-matching identifier and starts the watchdog
// that times the execution out if no callback arrives.
func (m *Manager) armWebhook(ctx context.Context, execution *models.AsyncActionExecution, action *models.ConnectorAction) {
	if action.WebhookURLType == models.WebhookURLStatic && action.WebhookIdentifierMapping != "" {
		identifier := connector.Stringify(resolveResponsePath(action.WebhookIdentifierMapping, execution.InitialResponse))
		if identifier != "" && identifier != "<nil>" {
			execution.WebhookIdentifier = identifier

			err := m.persistence.UpdateAsyncExecution(ctx, execution)
			if err != nil {
				m.logger.ErrorContext(ctx, "failed to store webhook identifier",
					"execution_id", execution.ID, "error", err)
			}
		} else {
			m.logger.WarnContext(ctx, "webhook identifier not found in initial response",
				"execution_id", execution.ID, "mapping", action.WebhookIdentifierMapping)
		}
	}

	taskCtx := m.registerTask(ctx, execution.ID)

	m.wg.Add(1)

	go func() {
		defer m.wg.Done()
		defer m.unregisterTask(execution.ID)

		err := m.wait(taskCtx, action.WebhookTimeout())
		if err != nil {
			return
		}

		execution.ErrorMessage = "webhook not received before timeout"
		m.finalize(taskCtx, execution, models.AsyncStatusTimeout, execution.ErrorMessage)
	}()
}

// finalize performs the terminal check-and-set. On a win it records the
// terminal progress entry and publishes the completion notification exactly
// once; on a loss (another finalizer got there first) it does nothing.
func (m *Manager) finalize(ctx context.Context, execution *models.AsyncActionExecution, to models.AsyncStatus, message string) bool {
	won, err := m.persistence.TransitionStatus(ctx, execution, nonTerminalStates, to)
	if err != nil {
		m.logger.ErrorContext(ctx, "failed to transition async execution",
			"execution_id", execution.ID, "to", to, "error", err)

		return false
	}

	if !won {
		return false
	}

	m.appendProgress(ctx, &models.AsyncActionProgress{
		ExecutionID: execution.ID,
		Step:        models.ProgressStepTerminal,
		Message:     message,
	})

	m.logger.InfoContext(ctx, "async execution finished",
		"execution_id", execution.ID, "status", to)

	if m.publisher != nil {
		event := events.AsyncExecutionFinished{
			BaseEvent:   events.NewBaseEvent(events.AsyncExecutionFinishedEvent),
			ExecutionID: execution.ID,
			Status:      to,
		}

		err = m.publisher.Publish(ctx, execution.ID, event)
		if err != nil {
			m.logger.ErrorContext(ctx, "failed to publish completion event",
				"execution_id", execution.ID, "error", err)
		}
	}

	return true
}

// Cancel moves a non-terminal execution to cancelled and stops its
// background task. Cancelling an already terminal execution is an error.
func (m *Manager) Cancel(ctx context.Context, executionID string) (*models.AsyncActionExecution, error) {
	execution, err := m.persistence.AsyncExecutionByID(ctx, executionID)
	if err != nil {
		return nil, err
	}

	if execution.Status.IsTerminal() {
		return execution, ErrExecutionTerminal
	}

	if !m.finalize(ctx, execution, models.AsyncStatusCancelled, "cancelled by request") {
		return execution, ErrExecutionTerminal
	}

	m.stopTask(executionID)

	return execution, nil
}

// Close stops every background task and waits for them to drain.
func (m *Manager) Close() {
	m.mu.Lock()
	for _, cancel := range m.tasks {
		cancel()
	}
	m.mu.Unlock()

	m.wg.Wait()
}

func (m *Manager) registerTask(ctx context.Context, executionID string) context.Context {
	taskCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))

	m.mu.Lock()
	m.tasks[executionID] = cancel
	m.mu.Unlock()

	return taskCtx
}

func (m *Manager) unregisterTask(executionID string) {
	m.mu.Lock()
	cancel, ok := m.tasks[executionID]
	delete(m.tasks, executionID)
	m.mu.Unlock()

	if ok {
		cancel()
	}
}

func (m *Manager) stopTask(executionID string) {
	m.mu.Lock()
	cancel, ok := m.tasks[executionID]
	m.mu.Unlock()

	if ok {
		cancel()
	}
}

func (m *Manager) appendProgress(ctx context.Context, progress *models.AsyncActionProgress) {
	err := m.persistence.AppendAsyncProgress(ctx, progress)
	if err != nil {
		m.logger.ErrorContext(ctx, "failed to append async progress",
			"execution_id", progress.ExecutionID, "step", progress.Step, "error", err)
	}
}

// criteriaMet evaluates a user-supplied boolean expression against a
// response body. An empty expression never matches and evaluation errors
// count as "not met".
func (m *Manager) criteriaMet(ctx context.Context, expression string, body map[string]any) bool {
	if strings.TrimSpace(expression) == "" {
		return false
	}

	met, err := criteria.Evaluate(expression, body)
	if err != nil {
		m.logger.DebugContext(ctx, "criteria evaluation failed",
			"expression", expression, "error", err)

		return false
	}

	return met
}
