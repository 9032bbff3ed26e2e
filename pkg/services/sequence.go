package services

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/weftworks/weft/pkg/log"
	"github.com/weftworks/weft/pkg/models"
	"github.com/weftworks/weft/pkg/persistence"
	"github.com/weftworks/weft/pkg/sequence"
)

// SequenceService starts sequence runs: manually from the API, or for every
// active sequence bound to an inbound event.
type SequenceService struct {
	persistence persistence.Persistence
	executor    *sequence.Executor
	logger      *slog.Logger
}

func NewSequenceService(p persistence.Persistence, executor *sequence.Executor) *SequenceService {
	return &SequenceService{
		persistence: p,
		executor:    executor,
		logger:      log.WithModule("sequences"),
	}
}

// RunResult summarizes one finished run for the caller that started it.
type RunResult struct {
	Success     bool                   `json:"success"`
	ExecutionID string                 `json:"execution_id"`
	Status      models.ExecutionStatus `json:"status"`
	DurationMS  int64                  `json:"duration_ms"`
	Output      any                    `json:"output,omitempty"`
	Error       string                 `json:"error,omitempty"`
}

// RunManual runs one sequence synchronously with the given payload as the
// trigger data. Inactive sequences are rejected.
func (s *SequenceService) RunManual(ctx context.Context, sequenceID string, payload map[string]any) (*RunResult, error) {
	seq, err := s.persistence.SequenceByID(ctx, sequenceID)
	if err != nil {
		return nil, fmt.Errorf("failed to load sequence %s: %w", sequenceID, err)
	}

	if !seq.Active {
		return nil, NewValidationError("RunManual", "sequence_inactive",
			fmt.Sprintf("sequence %q is not active", seq.Name), ErrSequenceInactive)
	}

	execution, err := s.executor.Execute(ctx, seq, payload)
	if err != nil {
		return nil, err
	}

	return resultFor(execution), nil
}

// RunForEvent runs every active sequence bound to the event, in order. One
// failing run does not stop the others.
func (s *SequenceService) RunForEvent(ctx context.Context, eventID string, payload map[string]any) ([]*RunResult, error) {
	sequences, err := s.persistence.SequencesByEventID(ctx, eventID)
	if err != nil {
		return nil, fmt.Errorf("failed to load sequences for event %s: %w", eventID, err)
	}

	results := make([]*RunResult, 0, len(sequences))

	for _, seq := range sequences {
		execution, err := s.executor.Execute(ctx, seq, payload)
		if err != nil {
			s.logger.Error("sequence run failed to start",
				"sequence_id", seq.ID, "event_id", eventID, "error", err)

			results = append(results, &RunResult{
				Success: false,
				Status:  models.ExecutionStatusFailed,
				Error:   err.Error(),
			})

			continue
		}

		results = append(results, resultFor(execution))
	}

	return results, nil
}

func resultFor(execution *models.SequenceExecution) *RunResult {
	result := &RunResult{
		Success:     execution.Status == models.ExecutionStatusCompleted,
		ExecutionID: execution.ID,
		Status:      execution.Status,
		DurationMS:  execution.DurationMS,
		Output:      execution.Output,
		Error:       execution.ErrorMessage,
	}

	return result
}
