// Package sequence walks flow graphs: trigger, action, condition and
// custom-rule nodes connected by labeled edges, sharing one mutable context
// across the run. Node failures abort the whole run; rule-statement
// failures inside a custom-rule node stay soft.
package sequence

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/weftworks/weft/pkg/dsl"
	"github.com/weftworks/weft/pkg/eventbus"
	"github.com/weftworks/weft/pkg/events"
	"github.com/weftworks/weft/pkg/expr"
	"github.com/weftworks/weft/pkg/log"
	"github.com/weftworks/weft/pkg/models"
	"github.com/weftworks/weft/pkg/otelhelper"
	"github.com/weftworks/weft/pkg/persistence"
)

// Executor runs sequences synchronously on the invoking goroutine. Async
// actions hand off to the async manager through the dispatcher and the run
// continues with the initial response.
type Executor struct {
	persistence persistence.Persistence
	dispatcher  dsl.Dispatcher
	interpreter *dsl.Interpreter
	publisher   eventbus.EventPublisher
	logger      *slog.Logger
	tracer      trace.Tracer
}

func NewExecutor(p persistence.Persistence, dispatcher dsl.Dispatcher, publisher eventbus.EventPublisher) *Executor {
	return &Executor{
		persistence: p,
		dispatcher:  dispatcher,
		interpreter: dsl.NewInterpreter(dispatcher),
		publisher:   publisher,
		logger:      log.WithModule("sequence"),
		tracer:      otel.Tracer("weft/sequence"),
	}
}

// Execute runs one sequence against a trigger payload and persists the run
// as a SequenceExecution with its per-node log trail. The returned execution
// is terminal: completed with the flow result as Output, or failed with the
// first node error.
func (e *Executor) Execute(ctx context.Context, seq *models.Sequence, triggerPayload map[string]any) (*models.SequenceExecution, error) {
	ctx, span := otelhelper.StartSpan(ctx, e.tracer, "sequence.execute",
		attribute.String(otelhelper.SequenceIDKey, seq.ID),
		attribute.String(otelhelper.SequenceNameKey, seq.Name))
	defer span.End()

	execution := &models.SequenceExecution{
		SequenceID:     seq.ID,
		Status:         models.ExecutionStatusCreated,
		TriggerPayload: triggerPayload,
		StartedAt:      time.Now().UTC(),
	}

	err := e.persistence.SaveExecution(ctx, execution)
	if err != nil {
		return nil, fmt.Errorf("failed to create sequence execution: %w", err)
	}

	span.SetAttributes(attribute.String(otelhelper.ExecutionIDKey, execution.ID))

	execContext := seedContext(seq, execution, triggerPayload)

	execution.Status = models.ExecutionStatusRunning
	if err := e.persistence.SaveExecution(ctx, execution); err != nil {
		return nil, fmt.Errorf("failed to mark execution running: %w", err)
	}

	e.publish(ctx, execution.ID, events.SequenceExecutionStarted{
		BaseEvent:   events.NewBaseEvent(events.SequenceExecutionStartedEvent),
		ExecutionID: execution.ID,
		SequenceID:  seq.ID,
	})

	e.logger.InfoContext(ctx, "sequence execution started",
		"sequence_id", seq.ID, "execution_id", execution.ID)

	output, runErr := e.runFromTrigger(ctx, seq, execution, execContext)

	now := time.Now().UTC()
	execution.FinishedAt = &now
	execution.DurationMS = now.Sub(execution.StartedAt).Milliseconds()
	execution.VariablesState = persistedVariables(execContext)

	if runErr != nil {
		execution.Status = models.ExecutionStatusFailed
		execution.ErrorMessage = runErr.Error()
	} else {
		execution.Status = models.ExecutionStatusCompleted
		execution.Output = output
	}

	if err := e.persistence.SaveExecution(ctx, execution); err != nil {
		return nil, fmt.Errorf("failed to persist execution result: %w", err)
	}

	if runErr != nil {
		otelhelper.SetError(span, runErr,
			attribute.String(otelhelper.SequenceIDKey, seq.ID),
			attribute.String(otelhelper.ExecutionIDKey, execution.ID))
		e.publish(ctx, execution.ID, events.SequenceExecutionFailed{
			BaseEvent:   events.NewBaseEvent(events.SequenceExecutionFailedEvent),
			ExecutionID: execution.ID,
			SequenceID:  seq.ID,
			Error:       runErr.Error(),
		})
		e.logger.ErrorContext(ctx, "sequence execution failed",
			"sequence_id", seq.ID, "execution_id", execution.ID, "error", runErr)
	} else {
		e.publish(ctx, execution.ID, events.SequenceExecutionCompleted{
			BaseEvent:   events.NewBaseEvent(events.SequenceExecutionCompletedEvent),
			ExecutionID: execution.ID,
			SequenceID:  seq.ID,
			DurationMS:  execution.DurationMS,
		})
		e.logger.InfoContext(ctx, "sequence execution completed",
			"sequence_id", seq.ID, "execution_id", execution.ID,
			"duration_ms", execution.DurationMS)
	}

	return execution, nil
}

// seedContext builds the shared run context: the trigger payload both under
// "trigger" and merged top-level, plus sequence metadata.
func seedContext(seq *models.Sequence, execution *models.SequenceExecution, triggerPayload map[string]any) map[string]any {
	execContext := make(map[string]any, len(triggerPayload)+2)

	for key, value := range triggerPayload {
		execContext[key] = value
	}

	execContext["trigger"] = triggerPayload
	execContext["sequence"] = map[string]any{
		"id":           seq.ID,
		"name":         seq.Name,
		"execution_id": execution.ID,
	}

	return execContext
}

// persistedVariables is the durable snapshot: temporaries ($-prefixed) stay
// context-only.
func persistedVariables(execContext map[string]any) map[string]any {
	out := make(map[string]any, len(execContext))

	for key, value := range execContext {
		if strings.HasPrefix(key, expr.TempPrefix) {
			continue
		}

		out[key] = value
	}

	return out
}

func (e *Executor) runFromTrigger(ctx context.Context, seq *models.Sequence, execution *models.SequenceExecution, execContext map[string]any) (any, error) {
	trigger, err := seq.TriggerNode()
	if err != nil {
		return nil, err
	}

	return e.run(ctx, seq, trigger, execution, execContext)
}

// run executes one node, records its log entry, stores its result in the
// context under the node id and recurses into the routed targets. The
// result of the deepest nodes is the flow result; parallel branches collect
// into a list.
func (e *Executor) run(ctx context.Context, seq *models.Sequence, node *models.FlowNode, execution *models.SequenceExecution, execContext map[string]any) (any, error) {
	ctx, span := otelhelper.StartSpan(ctx, e.tracer, "sequence.node",
		attribute.String(otelhelper.NodeIDKey, node.ID),
		attribute.String(otelhelper.NodeTypeKey, string(node.Type)))
	defer span.End()

	// Async initiations read the current node id back out of the context.
	if meta, ok := execContext["sequence"].(map[string]any); ok {
		meta["node_id"] = node.ID
	}

	started := time.Now()
	result, nodeErr := e.executeNode(ctx, node, execContext)
	duration := time.Since(started).Milliseconds()

	entry := &models.ExecutionLog{
		ExecutionID: execution.ID,
		NodeID:      node.ID,
		NodeType:    node.Type,
		NodeName:    node.Name,
		Level:       models.LogLevelInfo,
		Status:      "success",
		Input:       node.Data,
		Output:      result,
		DurationMS:  duration,
	}

	if nodeErr != nil {
		entry.Level = models.LogLevelError
		entry.Status = "failed"
		entry.Message = nodeErr.Error()
	}

	if err := e.persistence.AppendExecutionLog(ctx, entry); err != nil {
		e.logger.ErrorContext(ctx, "failed to append execution log",
			"execution_id", execution.ID, "node_id", node.ID, "error", err)
	}

	execution.Logs = append(execution.Logs, entry)

	if nodeErr != nil {
		otelhelper.SetError(span, nodeErr, attribute.String(otelhelper.NodeIDKey, node.ID))

		return nil, fmt.Errorf("node %s (%s) failed: %w", node.ID, node.Type, nodeErr)
	}

	execContext[node.ID] = result

	var edges []*models.FlowEdge

	if node.Type == models.NodeTypeCondition {
		outcome, _ := result.(bool)
		if edge := routeCondition(seq, node.ID, outcome); edge != nil {
			edges = []*models.FlowEdge{edge}
		}
	} else {
		edges = seq.OutgoingEdges(node.ID)
	}

	if len(edges) == 0 {
		return result, nil
	}

	var results []any

	for _, edge := range edges {
		target := seq.Node(edge.Target)
		if target == nil {
			return nil, fmt.Errorf("edge %s targets unknown node %s", edge.ID, edge.Target)
		}

		out, err := e.run(ctx, seq, target, execution, execContext)
		if err != nil {
			return nil, err
		}

		results = append(results, out)
	}

	if len(results) == 1 {
		return results[0], nil
	}

	return results, nil
}

// routeCondition picks the outgoing edge for a condition outcome: "set-N"
// edges carry the true branch and "else" the false one. A true outcome with
// no set-N edge falls back to the first edge; a false outcome with no else
// edge ends the branch.
func routeCondition(seq *models.Sequence, nodeID string, outcome bool) *models.FlowEdge {
	edges := seq.OutgoingEdges(nodeID)

	if outcome {
		for _, edge := range edges {
			if strings.HasPrefix(edge.SourceHandle, "set-") {
				return edge
			}
		}

		if len(edges) > 0 {
			return edges[0]
		}

		return nil
	}

	for _, edge := range edges {
		if edge.SourceHandle == "else" {
			return edge
		}
	}

	return nil
}

func (e *Executor) publish(ctx context.Context, key string, event eventbus.Event) {
	if e.publisher == nil {
		return
	}

	err := e.publisher.Publish(ctx, key, event)
	if err != nil {
		e.logger.ErrorContext(ctx, "failed to publish sequence event",
			"key", key, "error", err)
	}
}
