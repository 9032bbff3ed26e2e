package services

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/weftworks/weft/pkg/dsl"
	"github.com/weftworks/weft/pkg/events"
	"github.com/weftworks/weft/pkg/log"
	"github.com/weftworks/weft/pkg/models"
	"github.com/weftworks/weft/pkg/persistence"
)

// CompletionService reacts to async executions reaching a terminal state.
// When the execution was initiated from a sequence run, the rule's response
// mappings are applied against the final response and the run's variables
// updated, so deferred results land where a synchronous call would have put
// them.
type CompletionService struct {
	persistence persistence.Persistence
	logger      *slog.Logger
}

func NewCompletionService(p persistence.Persistence) *CompletionService {
	return &CompletionService{
		persistence: p,
		logger:      log.WithModule("completion"),
	}
}

// Handle is the bus subscriber for AsyncExecutionFinished events.
func (s *CompletionService) Handle(ctx context.Context, event any) error {
	finished, ok := event.(*events.AsyncExecutionFinished)
	if !ok {
		return fmt.Errorf("unexpected event type %T", event)
	}

	execution, err := s.persistence.AsyncExecutionByID(ctx, finished.ExecutionID)
	if err != nil {
		return fmt.Errorf("failed to load async execution %s: %w", finished.ExecutionID, err)
	}

	logger := s.logger.With("execution_id", execution.ID, "status", execution.Status)

	if execution.SequenceExecutionID == "" || len(execution.ResponseMappings) == 0 {
		logger.Debug("no response mappings to apply")

		return nil
	}

	if execution.Status != models.AsyncStatusCompleted {
		logger.Info("async execution did not complete, skipping response mappings")

		return nil
	}

	return s.applyMappings(ctx, execution, logger)
}

func (s *CompletionService) applyMappings(ctx context.Context, execution *models.AsyncActionExecution, logger *slog.Logger) error {
	run, err := s.persistence.ExecutionByID(ctx, execution.SequenceExecutionID)
	if err != nil {
		return fmt.Errorf("failed to load sequence execution %s: %w", execution.SequenceExecutionID, err)
	}

	if run.VariablesState == nil {
		run.VariablesState = make(map[string]any)
	}

	assignments := dsl.ApplyMappings(execution.ResponseMappings, execution.FinalResponse, run.VariablesState)
	if len(assignments) == 0 {
		logger.Info("response mappings produced no assignments")

		return nil
	}

	if err := s.persistence.SaveExecution(ctx, run); err != nil {
		return fmt.Errorf("failed to persist sequence execution %s: %w", run.ID, err)
	}

	logger.Info("applied deferred response mappings",
		"sequence_execution_id", run.ID, "assignments", len(assignments))

	return nil
}
