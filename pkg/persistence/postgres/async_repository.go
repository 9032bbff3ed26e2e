package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"github.com/weftworks/weft/pkg/models"
	"github.com/weftworks/weft/pkg/persistence"
)

// AsyncRepository handles async action executions and their progress trails.
type AsyncRepository struct {
	db     *sql.DB
	logger *slog.Logger
}

func NewAsyncRepository(db *sql.DB, logger *slog.Logger) *AsyncRepository {
	return &AsyncRepository{db: db, logger: logger}
}

const asyncColumns = `
	id
  , connector_id
  , action_id
  , action_name
  , status
  , initial_request
  , initial_response
  , polling_attempts
  , last_polling_response
  , final_response
  , error_message
  , webhook_url
  , webhook_identifier
  , webhook_received
  , webhook_received_at
  , sequence_execution_id
  , node_id
  , response_mappings
  , created_at
  , updated_at
  , completed_at
`

func (r *AsyncRepository) Save(ctx context.Context, execution *models.AsyncActionExecution) error {
	if execution.ID == "" {
		execution.ID = uuid.New().String()
	}

	now := time.Now().UTC()
	if execution.CreatedAt.IsZero() {
		execution.CreatedAt = now
	}

	execution.UpdatedAt = now

	columns, err := asyncColumnValues(execution)
	if err != nil {
		return err
	}

	query := `
		INSERT INTO async_executions (id, connector_id, action_id, action_name,
			status, initial_request, initial_response, polling_attempts,
			last_polling_response, final_response, error_message, webhook_url,
			webhook_identifier, webhook_received, webhook_received_at,
			sequence_execution_id, node_id, response_mappings, created_at,
			updated_at, completed_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14,
			$15, $16, $17, $18, $19, $20, $21)
	`

	_, err = r.db.ExecContext(ctx, query, columns...)
	if err != nil {
		return fmt.Errorf("failed to save async execution: %w", err)
	}

	return nil
}

func (r *AsyncRepository) ByID(ctx context.Context, id string) (*models.AsyncActionExecution, error) {
	query := `SELECT ` + asyncColumns + ` FROM async_executions WHERE id = $1`

	execution, err := r.scanExecution(r.db.QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, persistence.NewEntityError("ByID", "async execution", id, persistence.ErrAsyncExecutionNotFound)
		}

		return nil, fmt.Errorf("failed to scan async execution: %w", err)
	}

	return execution, nil
}

// ByWebhookIdentifier returns the non-terminal execution waiting on the
// given identifier. Terminal executions never match, so a late duplicate
// callback cannot resurrect a finished run.
func (r *AsyncRepository) ByWebhookIdentifier(ctx context.Context, identifier string) (*models.AsyncActionExecution, error) {
	query := `
		SELECT ` + asyncColumns + `
		FROM async_executions
		WHERE webhook_identifier = $1
		  AND status NOT IN ('completed', 'failed', 'timeout', 'cancelled')
		ORDER BY created_at
		LIMIT 1
	`

	execution, err := r.scanExecution(r.db.QueryRowContext(ctx, query, identifier))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, persistence.NewEntityError("ByWebhookIdentifier", "async execution", identifier, persistence.ErrAsyncExecutionNotFound)
		}

		return nil, fmt.Errorf("failed to scan async execution: %w", err)
	}

	return execution, nil
}

func (r *AsyncRepository) Update(ctx context.Context, execution *models.AsyncActionExecution) error {
	execution.UpdatedAt = time.Now().UTC()

	columns, err := asyncColumnValues(execution)
	if err != nil {
		return err
	}

	query := `
		UPDATE async_executions SET
			connector_id = $2,
			action_id = $3,
			action_name = $4,
			status = $5,
			initial_request = $6,
			initial_response = $7,
			polling_attempts = $8,
			last_polling_response = $9,
			final_response = $10,
			error_message = $11,
			webhook_url = $12,
			webhook_identifier = $13,
			webhook_received = $14,
			webhook_received_at = $15,
			sequence_execution_id = $16,
			node_id = $17,
			response_mappings = $18,
			created_at = $19,
			updated_at = $20,
			completed_at = $21
		WHERE id = $1
	`

	result, err := r.db.ExecContext(ctx, query, columns...)
	if err != nil {
		return fmt.Errorf("failed to update async execution: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}

	if rowsAffected == 0 {
		return persistence.NewEntityError("Update", "async execution", execution.ID, persistence.ErrAsyncExecutionNotFound)
	}

	return nil
}

// TransitionStatus moves the execution to the target status only when the
// database row is still in one of the allowed states. The status guard in
// the WHERE clause makes the check-and-set a single atomic statement, so
// racing finalizers (poller, webhook, watchdog, cancel) get exactly one
// winner.
func (r *AsyncRepository) TransitionStatus(ctx context.Context, execution *models.AsyncActionExecution, allowedFrom []models.AsyncStatus, to models.AsyncStatus) (bool, error) {
	now := time.Now().UTC()

	execution.Status = to
	execution.UpdatedAt = now

	if to.IsTerminal() {
		execution.CompletedAt = &now
	}

	finalJSON, err := marshalJSON(execution.FinalResponse)
	if err != nil {
		return false, err
	}

	lastPollJSON, err := marshalJSON(execution.LastPollingResponse)
	if err != nil {
		return false, err
	}

	fromStates := make([]string, 0, len(allowedFrom))
	for _, status := range allowedFrom {
		fromStates = append(fromStates, string(status))
	}

	query := `
		UPDATE async_executions SET
			status = $2,
			polling_attempts = $3,
			last_polling_response = $4,
			final_response = $5,
			error_message = $6,
			webhook_received = $7,
			webhook_received_at = $8,
			updated_at = $9,
			completed_at = $10
		WHERE id = $1 AND status = ANY($11)
	`

	result, err := r.db.ExecContext(ctx, query,
		execution.ID,
		execution.Status,
		execution.PollingAttempts,
		lastPollJSON,
		finalJSON,
		execution.ErrorMessage,
		execution.WebhookReceived,
		execution.WebhookReceivedAt,
		execution.UpdatedAt,
		execution.CompletedAt,
		pq.Array(fromStates),
	)
	if err != nil {
		return false, fmt.Errorf("failed to transition async execution status: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to get rows affected: %w", err)
	}

	return rowsAffected == 1, nil
}

func (r *AsyncRepository) AppendProgress(ctx context.Context, progress *models.AsyncActionProgress) error {
	if progress.ID == "" {
		progress.ID = uuid.New().String()
	}

	if progress.CreatedAt.IsZero() {
		progress.CreatedAt = time.Now().UTC()
	}

	requestJSON, err := marshalJSON(progress.Request)
	if err != nil {
		return err
	}

	responseJSON, err := marshalJSON(progress.Response)
	if err != nil {
		return err
	}

	query := `
		INSERT INTO async_progress (id, execution_id, step, attempt, endpoint,
			method, status_code, request, response, message, duration_ms, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
	`

	_, err = r.db.ExecContext(ctx, query,
		progress.ID,
		progress.ExecutionID,
		progress.Step,
		progress.Attempt,
		progress.Endpoint,
		progress.Method,
		progress.StatusCode,
		requestJSON,
		responseJSON,
		progress.Message,
		progress.DurationMS,
		progress.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to append async progress: %w", err)
	}

	return nil
}

func (r *AsyncRepository) Progress(ctx context.Context, executionID string) ([]*models.AsyncActionProgress, error) {
	query := `
		SELECT id, execution_id, step, attempt, endpoint, method, status_code,
			request, response, message, duration_ms, created_at
		FROM async_progress
		WHERE execution_id = $1
		ORDER BY created_at, attempt
	`

	rows, err := r.db.QueryContext(ctx, query, executionID)
	if err != nil {
		return nil, fmt.Errorf("failed to query async progress: %w", err)
	}

	defer func() {
		err := rows.Close()
		if err != nil {
			r.logger.ErrorContext(ctx, "failed to close rows", "error", err)
		}
	}()

	records := make([]*models.AsyncActionProgress, 0)

	for rows.Next() {
		var (
			progress                  models.AsyncActionProgress
			requestJSON, responseJSON []byte
		)

		err := rows.Scan(
			&progress.ID,
			&progress.ExecutionID,
			&progress.Step,
			&progress.Attempt,
			&progress.Endpoint,
			&progress.Method,
			&progress.StatusCode,
			&requestJSON,
			&responseJSON,
			&progress.Message,
			&progress.DurationMS,
			&progress.CreatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan async progress: %w", err)
		}

		err = unmarshalJSON(requestJSON, &progress.Request)
		if err != nil {
			return nil, err
		}

		err = unmarshalJSON(responseJSON, &progress.Response)
		if err != nil {
			return nil, err
		}

		records = append(records, &progress)
	}

	err = rows.Err()
	if err != nil {
		return nil, fmt.Errorf("error iterating async progress: %w", err)
	}

	return records, nil
}

func (r *AsyncRepository) scanExecution(scanner interface {
	Scan(dest ...any) error
}) (*models.AsyncActionExecution, error) {
	var (
		execution    models.AsyncActionExecution
		initialReq   []byte
		initialResp  []byte
		lastPollJSON []byte
		finalJSON    []byte
		mappingsJSON []byte
	)

	err := scanner.Scan(
		&execution.ID,
		&execution.ConnectorID,
		&execution.ActionID,
		&execution.ActionName,
		&execution.Status,
		&initialReq,
		&initialResp,
		&execution.PollingAttempts,
		&lastPollJSON,
		&finalJSON,
		&execution.ErrorMessage,
		&execution.WebhookURL,
		&execution.WebhookIdentifier,
		&execution.WebhookReceived,
		&execution.WebhookReceivedAt,
		&execution.SequenceExecutionID,
		&execution.NodeID,
		&mappingsJSON,
		&execution.CreatedAt,
		&execution.UpdatedAt,
		&execution.CompletedAt,
	)
	if err != nil {
		return nil, err
	}

	err = unmarshalJSON(initialReq, &execution.InitialRequest)
	if err != nil {
		return nil, err
	}

	err = unmarshalJSON(initialResp, &execution.InitialResponse)
	if err != nil {
		return nil, err
	}

	err = unmarshalJSON(lastPollJSON, &execution.LastPollingResponse)
	if err != nil {
		return nil, err
	}

	err = unmarshalJSON(finalJSON, &execution.FinalResponse)
	if err != nil {
		return nil, err
	}

	err = unmarshalJSON(mappingsJSON, &execution.ResponseMappings)
	if err != nil {
		return nil, err
	}

	return &execution, nil
}

// asyncColumnValues flattens the execution into the ordered column values
// shared by Save and Update.
func asyncColumnValues(execution *models.AsyncActionExecution) ([]any, error) {
	initialReqJSON, err := marshalJSON(execution.InitialRequest)
	if err != nil {
		return nil, err
	}

	initialRespJSON, err := marshalJSON(execution.InitialResponse)
	if err != nil {
		return nil, err
	}

	lastPollJSON, err := marshalJSON(execution.LastPollingResponse)
	if err != nil {
		return nil, err
	}

	finalJSON, err := marshalJSON(execution.FinalResponse)
	if err != nil {
		return nil, err
	}

	mappingsJSON, err := marshalJSON(execution.ResponseMappings)
	if err != nil {
		return nil, err
	}

	return []any{
		execution.ID,
		execution.ConnectorID,
		execution.ActionID,
		execution.ActionName,
		execution.Status,
		initialReqJSON,
		initialRespJSON,
		execution.PollingAttempts,
		lastPollJSON,
		finalJSON,
		execution.ErrorMessage,
		execution.WebhookURL,
		execution.WebhookIdentifier,
		execution.WebhookReceived,
		execution.WebhookReceivedAt,
		execution.SequenceExecutionID,
		execution.NodeID,
		mappingsJSON,
		execution.CreatedAt,
		execution.UpdatedAt,
		execution.CompletedAt,
	}, nil
}
