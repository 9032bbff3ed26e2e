package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/weftworks/weft/pkg/models"
	"github.com/weftworks/weft/pkg/persistence"
)

// SequenceRepository handles sequence graphs, their runs and per-node logs.
// Nodes and edges are stored as JSONB on the sequence row.
type SequenceRepository struct {
	db     *sql.DB
	logger *slog.Logger
}

func NewSequenceRepository(db *sql.DB, logger *slog.Logger) *SequenceRepository {
	return &SequenceRepository{db: db, logger: logger}
}

const sequenceColumns = `
	id
  , name
  , description
  , event_id
  , nodes
  , edges
  , active
  , created_at
  , updated_at
`

func (r *SequenceRepository) All(ctx context.Context) ([]*models.Sequence, error) {
	query := `SELECT ` + sequenceColumns + ` FROM sequences ORDER BY name`

	return r.querySequences(ctx, query)
}

func (r *SequenceRepository) ByID(ctx context.Context, id string) (*models.Sequence, error) {
	query := `SELECT ` + sequenceColumns + ` FROM sequences WHERE id = $1`

	sequence, err := r.scanSequence(r.db.QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, persistence.NewEntityError("ByID", "sequence", id, persistence.ErrSequenceNotFound)
		}

		return nil, fmt.Errorf("failed to scan sequence: %w", err)
	}

	return sequence, nil
}

// ByEventID returns the active sequences wired to an inbound event.
func (r *SequenceRepository) ByEventID(ctx context.Context, eventID string) ([]*models.Sequence, error) {
	query := `SELECT ` + sequenceColumns + ` FROM sequences WHERE event_id = $1 AND active ORDER BY name`

	return r.querySequences(ctx, query, eventID)
}

func (r *SequenceRepository) Save(ctx context.Context, sequence *models.Sequence) error {
	stampEntity(&sequence.ID, &sequence.CreatedAt, &sequence.UpdatedAt)

	nodesJSON, err := marshalJSON(sequence.Nodes)
	if err != nil {
		return err
	}

	edgesJSON, err := marshalJSON(sequence.Edges)
	if err != nil {
		return err
	}

	query := `
		INSERT INTO sequences (id, name, description, event_id, nodes, edges,
			active, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (id) DO UPDATE SET
			name = EXCLUDED.name,
			description = EXCLUDED.description,
			event_id = EXCLUDED.event_id,
			nodes = EXCLUDED.nodes,
			edges = EXCLUDED.edges,
			active = EXCLUDED.active,
			updated_at = EXCLUDED.updated_at
	`

	_, err = r.db.ExecContext(ctx, query,
		sequence.ID,
		sequence.Name,
		sequence.Description,
		sequence.EventID,
		nodesJSON,
		edgesJSON,
		sequence.Active,
		sequence.CreatedAt,
		sequence.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to save sequence: %w", err)
	}

	return nil
}

func (r *SequenceRepository) Delete(ctx context.Context, id string) error {
	_, err := r.db.ExecContext(ctx, `DELETE FROM sequences WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("failed to delete sequence: %w", err)
	}

	return nil
}

func (r *SequenceRepository) querySequences(ctx context.Context, query string, args ...any) ([]*models.Sequence, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query sequences: %w", err)
	}

	defer r.closeRows(ctx, rows)

	sequences := make([]*models.Sequence, 0)

	for rows.Next() {
		sequence, err := r.scanSequence(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan sequence: %w", err)
		}

		sequences = append(sequences, sequence)
	}

	err = rows.Err()
	if err != nil {
		return nil, fmt.Errorf("error iterating sequences: %w", err)
	}

	return sequences, nil
}

func (r *SequenceRepository) scanSequence(scanner interface {
	Scan(dest ...any) error
}) (*models.Sequence, error) {
	var (
		sequence             models.Sequence
		nodesJSON, edgesJSON []byte
	)

	err := scanner.Scan(
		&sequence.ID,
		&sequence.Name,
		&sequence.Description,
		&sequence.EventID,
		&nodesJSON,
		&edgesJSON,
		&sequence.Active,
		&sequence.CreatedAt,
		&sequence.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	err = unmarshalJSON(nodesJSON, &sequence.Nodes)
	if err != nil {
		return nil, err
	}

	err = unmarshalJSON(edgesJSON, &sequence.Edges)
	if err != nil {
		return nil, err
	}

	return &sequence, nil
}

// executions

func (r *SequenceRepository) SaveExecution(ctx context.Context, execution *models.SequenceExecution) error {
	if execution.ID == "" {
		execution.ID = "exec-" + uuid.New().String()
	}

	if execution.StartedAt.IsZero() {
		execution.StartedAt = time.Now().UTC()
	}

	triggerJSON, err := marshalJSON(execution.TriggerPayload)
	if err != nil {
		return err
	}

	variablesJSON, err := marshalJSON(execution.VariablesState)
	if err != nil {
		return err
	}

	outputJSON, err := marshalJSON(execution.Output)
	if err != nil {
		return err
	}

	query := `
		INSERT INTO sequence_executions (id, sequence_id, status, trigger_payload,
			variables_state, output, error_message, started_at, finished_at, duration_ms)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		ON CONFLICT (id) DO UPDATE SET
			status = EXCLUDED.status,
			trigger_payload = EXCLUDED.trigger_payload,
			variables_state = EXCLUDED.variables_state,
			output = EXCLUDED.output,
			error_message = EXCLUDED.error_message,
			finished_at = EXCLUDED.finished_at,
			duration_ms = EXCLUDED.duration_ms
	`

	_, err = r.db.ExecContext(ctx, query,
		execution.ID,
		execution.SequenceID,
		execution.Status,
		triggerJSON,
		variablesJSON,
		outputJSON,
		execution.ErrorMessage,
		execution.StartedAt,
		execution.FinishedAt,
		execution.DurationMS,
	)
	if err != nil {
		return fmt.Errorf("failed to save execution: %w", err)
	}

	return nil
}

func (r *SequenceRepository) ExecutionByID(ctx context.Context, id string) (*models.SequenceExecution, error) {
	query := `
		SELECT id, sequence_id, status, trigger_payload, variables_state,
			output, error_message, started_at, finished_at, duration_ms
		FROM sequence_executions
		WHERE id = $1
	`

	var (
		execution                           models.SequenceExecution
		triggerJSON, variablesJSON, outJSON []byte
	)

	err := r.db.QueryRowContext(ctx, query, id).Scan(
		&execution.ID,
		&execution.SequenceID,
		&execution.Status,
		&triggerJSON,
		&variablesJSON,
		&outJSON,
		&execution.ErrorMessage,
		&execution.StartedAt,
		&execution.FinishedAt,
		&execution.DurationMS,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, persistence.NewEntityError("ExecutionByID", "execution", id, persistence.ErrExecutionNotFound)
		}

		return nil, fmt.Errorf("failed to scan execution: %w", err)
	}

	err = unmarshalJSON(triggerJSON, &execution.TriggerPayload)
	if err != nil {
		return nil, err
	}

	err = unmarshalJSON(variablesJSON, &execution.VariablesState)
	if err != nil {
		return nil, err
	}

	err = unmarshalJSON(outJSON, &execution.Output)
	if err != nil {
		return nil, err
	}

	return &execution, nil
}

func (r *SequenceRepository) AppendExecutionLog(ctx context.Context, entry *models.ExecutionLog) error {
	if entry.ID == "" {
		entry.ID = uuid.New().String()
	}

	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}

	inputJSON, err := marshalJSON(entry.Input)
	if err != nil {
		return err
	}

	outputJSON, err := marshalJSON(entry.Output)
	if err != nil {
		return err
	}

	query := `
		INSERT INTO execution_logs (id, execution_id, node_id, node_type,
			node_name, level, status, message, input, output, duration_ms, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
	`

	_, err = r.db.ExecContext(ctx, query,
		entry.ID,
		entry.ExecutionID,
		entry.NodeID,
		entry.NodeType,
		entry.NodeName,
		entry.Level,
		entry.Status,
		entry.Message,
		inputJSON,
		outputJSON,
		entry.DurationMS,
		entry.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to append execution log: %w", err)
	}

	return nil
}

func (r *SequenceRepository) ExecutionLogs(ctx context.Context, executionID string) ([]*models.ExecutionLog, error) {
	query := `
		SELECT id, execution_id, node_id, node_type, node_name, level, status,
			message, input, output, duration_ms, created_at
		FROM execution_logs
		WHERE execution_id = $1
		ORDER BY created_at
	`

	rows, err := r.db.QueryContext(ctx, query, executionID)
	if err != nil {
		return nil, fmt.Errorf("failed to query execution logs: %w", err)
	}

	defer r.closeRows(ctx, rows)

	logs := make([]*models.ExecutionLog, 0)

	for rows.Next() {
		var (
			entry                 models.ExecutionLog
			inputJSON, outputJSON []byte
		)

		err := rows.Scan(
			&entry.ID,
			&entry.ExecutionID,
			&entry.NodeID,
			&entry.NodeType,
			&entry.NodeName,
			&entry.Level,
			&entry.Status,
			&entry.Message,
			&inputJSON,
			&outputJSON,
			&entry.DurationMS,
			&entry.CreatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan execution log: %w", err)
		}

		err = unmarshalJSON(inputJSON, &entry.Input)
		if err != nil {
			return nil, err
		}

		err = unmarshalJSON(outputJSON, &entry.Output)
		if err != nil {
			return nil, err
		}

		logs = append(logs, &entry)
	}

	err = rows.Err()
	if err != nil {
		return nil, fmt.Errorf("error iterating execution logs: %w", err)
	}

	return logs, nil
}

func (r *SequenceRepository) closeRows(ctx context.Context, rows *sql.Rows) {
	err := rows.Close()
	if err != nil {
		r.logger.ErrorContext(ctx, "failed to close rows", "error", err)
	}
}
