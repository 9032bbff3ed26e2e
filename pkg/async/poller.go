package async

import (
	"context"
	"strings"

	"github.com/weftworks/weft/pkg/connector"
	"github.com/weftworks/weft/pkg/expr"
	"github.com/weftworks/weft/pkg/models"
)

// pollingRequest is the prepared polling call, built once from the initial
// response via the action's response_to_polling_mapping.
type pollingRequest struct {
	path    string
	method  string
	query   map[string]string
	headers map[string]string
	body    map[string]any
}

func buildPollingRequest(action *models.ConnectorAction, initialResponse map[string]any) pollingRequest {
	request := pollingRequest{
		path:    action.PollingEndpointPath,
		method:  action.PollingHTTPMethod,
		query:   make(map[string]string),
		headers: make(map[string]string),
	}

	if request.method == "" {
		request.method = "GET"
	}

	for source, target := range action.ResponseToPollingMapping {
		value := resolveResponsePath(source, initialResponse)
		if value == nil {
			continue
		}

		switch target.Type {
		case models.InjectPath:
			request.path = strings.ReplaceAll(request.path, "{"+target.Name+"}", connector.Stringify(value))
		case models.InjectQuery:
			request.query[target.Name] = connector.Stringify(value)
		case models.InjectHeader:
			request.headers[target.Name] = connector.Stringify(value)
		case models.InjectBody:
			if request.body == nil {
				request.body = make(map[string]any)
			}

			request.body[target.Name] = value
		}
	}

	return request
}

func resolveResponsePath(path string, body map[string]any) any {
	return expr.Resolve(path, body)
}

// startPolling moves the execution to polling and spawns its worker. The
// worker slot bounds concurrent polling across the process.
func (m *Manager) startPolling(ctx context.Context, execution *models.AsyncActionExecution, req InitiateRequest) {
	won, err := m.persistence.TransitionStatus(ctx, execution,
		[]models.AsyncStatus{models.AsyncStatusInitiated}, models.AsyncStatusPolling)
	if err != nil || !won {
		m.logger.ErrorContext(ctx, "failed to enter polling state",
			"execution_id", execution.ID, "error", err)

		return
	}

	request := buildPollingRequest(req.Action, execution.InitialResponse)
	taskCtx := m.registerTask(ctx, execution.ID)

	m.wg.Add(1)

	go func() {
		defer m.wg.Done()
		defer m.unregisterTask(execution.ID)

		m.workers <- struct{}{}
		defer func() { <-m.workers }()

		m.poll(taskCtx, execution, req, request)
	}()
}

// poll runs the bounded attempt loop. There is no delay before the first
// attempt. Before every attempt the stored status is re-checked so an
// external cancellation aborts promptly.
func (m *Manager) poll(ctx context.Context, execution *models.AsyncActionExecution, req InitiateRequest, request pollingRequest) {
	action := req.Action
	maxAttempts := action.PollingAttempts()

	for attempt := 1; attempt <= maxAttempts; attempt++ {
		if attempt > 1 {
			err := m.wait(ctx, action.PollingFrequency())
			if err != nil {
				return
			}
		}

		stored, err := m.persistence.AsyncExecutionByID(ctx, execution.ID)
		if err == nil && stored.Status.IsTerminal() {
			return
		}

		result := m.invoker.Do(ctx, req.Connector, req.Credential, req.CredentialSet,
			request.method, request.path, request.headers, request.query, request.body,
			connector.ActionTimeout(req.Connector, action))

		execution.PollingAttempts = attempt
		execution.LastPollingResponse = result.Response

		m.appendProgress(ctx, &models.AsyncActionProgress{
			ExecutionID: execution.ID,
			Step:        models.ProgressStepPolling,
			Attempt:     attempt,
			Endpoint:    result.URL,
			Method:      result.Method,
			StatusCode:  result.StatusCode,
			Response:    result.Response,
			Message:     result.Error,
			DurationMS:  result.DurationMS,
		})

		if !result.Succeeded() {
			if attempt == maxAttempts {
				execution.ErrorMessage = "polling request failed: " + result.Error
				m.finalize(ctx, execution, models.AsyncStatusFailed, execution.ErrorMessage)

				return
			}

			m.persistAttempt(ctx, execution)

			continue
		}

		if m.criteriaMet(ctx, action.AsyncSuccessCriteria, result.Response) {
			execution.FinalResponse = result.Response
			m.finalize(ctx, execution, models.AsyncStatusCompleted, "success criteria met")

			return
		}

		if m.criteriaMet(ctx, action.AsyncFailureCriteria, result.Response) {
			execution.FinalResponse = result.Response
			execution.ErrorMessage = "failure criteria met"
			m.finalize(ctx, execution, models.AsyncStatusFailed, execution.ErrorMessage)

			return
		}

		m.persistAttempt(ctx, execution)
	}

	execution.ErrorMessage = "polling attempts exhausted"
	m.finalize(ctx, execution, models.AsyncStatusTimeout, execution.ErrorMessage)
}

// persistAttempt stores the attempt counter and last response between
// attempts. The polling-to-polling check-and-set cannot overwrite a
// concurrent terminal transition.
func (m *Manager) persistAttempt(ctx context.Context, execution *models.AsyncActionExecution) {
	_, err := m.persistence.TransitionStatus(ctx, execution,
		[]models.AsyncStatus{models.AsyncStatusPolling}, models.AsyncStatusPolling)
	if err != nil {
		m.logger.ErrorContext(ctx, "failed to persist polling attempt",
			"execution_id", execution.ID, "error", err)
	}
}
