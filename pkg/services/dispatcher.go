package services

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/weftworks/weft/pkg/async"
	"github.com/weftworks/weft/pkg/connector"
	"github.com/weftworks/weft/pkg/dsl"
	"github.com/weftworks/weft/pkg/expr"
	"github.com/weftworks/weft/pkg/log"
	"github.com/weftworks/weft/pkg/models"
	"github.com/weftworks/weft/pkg/persistence"
)

// Dispatcher resolves connector/action references for rules and flow nodes
// and executes them: synchronously through the invoker, asynchronously
// through the async manager. It implements dsl.Dispatcher.
type Dispatcher struct {
	persistence persistence.Persistence
	invoker     *connector.Invoker
	async       *async.Manager
	logger      *slog.Logger
}

func NewDispatcher(p persistence.Persistence, invoker *connector.Invoker, asyncManager *async.Manager) *Dispatcher {
	return &Dispatcher{
		persistence: p,
		invoker:     invoker,
		async:       asyncManager,
		logger:      log.WithModule("dispatcher"),
	}
}

var _ dsl.Dispatcher = (*Dispatcher)(nil)

func (d *Dispatcher) Dispatch(ctx context.Context, req dsl.DispatchRequest) *dsl.DispatchResult {
	conn, err := d.persistence.ConnectorByName(ctx, req.ConnectorName)
	if err != nil {
		d.logger.Warn("connector not found", "connector", req.ConnectorName)

		return notFoundResult(req, fmt.Sprintf("connector %q not found", req.ConnectorName))
	}

	action := findAction(conn, req.ActionName)
	if action == nil {
		d.logger.Warn("action not found", "connector", req.ConnectorName, "action", req.ActionName)

		return notFoundResult(req, fmt.Sprintf("action %q not found on connector %q", req.ActionName, req.ConnectorName))
	}

	credential, set, err := d.resolveCredential(ctx, conn)
	if err != nil {
		message := fmt.Sprintf("credential resolution failed for connector %q: %v", conn.Name, err)

		return &dsl.DispatchResult{
			Log: &models.ActionLog{
				ActionName:    req.ActionName,
				ConnectorName: req.ConnectorName,
				Status:        models.ActionCallFailed,
				Error:         message,
			},
			Err: message,
		}
	}

	if action.IsAsync {
		return d.dispatchAsync(ctx, conn, action, credential, set, req)
	}

	result := d.invoker.Invoke(ctx, conn, action, credential, set, req.Params)

	out := &dsl.DispatchResult{
		Log: &models.ActionLog{
			ActionName:    req.ActionName,
			ConnectorName: req.ConnectorName,
			Status:        result.Status,
			Request:       result.Request,
			Response:      result.Response,
			Error:         result.Error,
			APICalled:     result.APICalled,
		},
		Response: result.Response,
	}

	if !result.Succeeded() {
		out.Err = result.Error
	}

	return out
}

func (d *Dispatcher) dispatchAsync(ctx context.Context, conn *models.Connector, action *models.ConnectorAction, credential *models.Credential, set *models.CredentialSet, req dsl.DispatchRequest) *dsl.DispatchResult {
	execution, result, err := d.async.Initiate(ctx, async.InitiateRequest{
		Connector:           conn,
		Action:              action,
		Credential:          credential,
		CredentialSet:       set,
		Params:              req.Params,
		SequenceExecutionID: contextString(req.Context, "sequence.execution_id"),
		NodeID:              contextString(req.Context, "sequence.node_id"),
		ResponseMappings:    req.Mappings,
	})
	if err != nil {
		message := fmt.Sprintf("failed to initiate async execution: %v", err)

		return &dsl.DispatchResult{
			Log: &models.ActionLog{
				ActionName:    req.ActionName,
				ConnectorName: req.ConnectorName,
				Async:         true,
				Status:        models.ActionCallFailed,
				Error:         message,
			},
			Err: message,
		}
	}

	out := &dsl.DispatchResult{
		Log: &models.ActionLog{
			ActionName:    req.ActionName,
			ConnectorName: req.ConnectorName,
			Async:         true,
			Status:        result.Status,
			Request:       result.Request,
			Response:      result.Response,
			Error:         result.Error,
			APICalled:     result.APICalled,
		},
		Async: &models.AsyncRef{
			ExecutionID:   execution.ID,
			ActionName:    action.Name,
			ConnectorName: conn.Name,
			Status:        execution.Status,
		},
		Response: result.Response,
	}

	if !result.Succeeded() {
		out.Err = result.Error
	}

	return out
}

func (d *Dispatcher) resolveCredential(ctx context.Context, conn *models.Connector) (*models.Credential, *models.CredentialSet, error) {
	if conn.CredentialID == "" {
		return nil, nil, nil
	}

	credential, err := d.persistence.CredentialByID(ctx, conn.CredentialID)
	if err != nil {
		return nil, nil, err
	}

	set, err := d.persistence.CredentialSetFor(ctx, credential.ID)
	if err != nil {
		if persistence.IsNotFound(err) {
			return credential, nil, nil
		}

		return nil, nil, err
	}

	return credential, set, nil
}

func findAction(conn *models.Connector, name string) *models.ConnectorAction {
	for _, action := range conn.Actions {
		if action.Name == name {
			return action
		}
	}

	return nil
}

func notFoundResult(req dsl.DispatchRequest, message string) *dsl.DispatchResult {
	return &dsl.DispatchResult{
		Log: &models.ActionLog{
			ActionName:    req.ActionName,
			ConnectorName: req.ConnectorName,
			Status:        models.ActionCallNotFound,
			Error:         message,
		},
		Err: message,
	}
}

// contextString reads sequence metadata (execution id, current node id)
// out of the shared context so async completions can find their way back.
func contextString(execContext map[string]any, path string) string {
	value := expr.Resolve(path, execContext)
	if id, ok := value.(string); ok {
		return id
	}

	return ""
}
