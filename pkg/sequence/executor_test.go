package sequence_test

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/weftworks/weft/pkg/dsl"
	"github.com/weftworks/weft/pkg/models"
	"github.com/weftworks/weft/pkg/persistence/memory"
	"github.com/weftworks/weft/pkg/sequence"
)

type fakeDispatcher struct {
	mu       sync.Mutex
	requests []dsl.DispatchRequest
	respond  func(req dsl.DispatchRequest) *dsl.DispatchResult
}

func (d *fakeDispatcher) Dispatch(_ context.Context, req dsl.DispatchRequest) *dsl.DispatchResult {
	d.mu.Lock()
	d.requests = append(d.requests, req)
	d.mu.Unlock()

	if d.respond != nil {
		return d.respond(req)
	}

	return &dsl.DispatchResult{
		Log:      &models.ActionLog{ActionName: req.ActionName, Status: models.ActionCallSuccess, APICalled: true},
		Response: map[string]any{"ok": true},
	}
}

func (d *fakeDispatcher) calledActions() []string {
	d.mu.Lock()
	defer d.mu.Unlock()

	var names []string
	for _, req := range d.requests {
		names = append(names, req.ActionName)
	}

	return names
}

func conditionSequence(left, right any, edges []*models.FlowEdge) *models.Sequence {
	return &models.Sequence{
		ID:   "seq-1",
		Name: "routing",
		Nodes: []*models.FlowNode{
			{ID: "t", Type: models.NodeTypeTrigger},
			{ID: "cond", Type: models.NodeTypeCondition, Data: map[string]any{
				"left": left, "operator": "equals", "right": right,
			}},
			{ID: "yes", Type: models.NodeTypeAction, Data: map[string]any{
				"connector": "X", "action": "true-action",
			}},
			{ID: "no", Type: models.NodeTypeAction, Data: map[string]any{
				"connector": "X", "action": "false-action",
			}},
		},
		Edges: edges,
	}
}

func TestConditionRoutesTrueBranch(t *testing.T) {
	dispatcher := &fakeDispatcher{}
	executor := sequence.NewExecutor(memory.NewPersistence(), dispatcher, nil)

	seq := conditionSequence("{{kind}}", "A", []*models.FlowEdge{
		{ID: "e1", Source: "t", Target: "cond"},
		{ID: "e2", Source: "cond", Target: "yes", SourceHandle: "set-1"},
		{ID: "e3", Source: "cond", Target: "no", SourceHandle: "else"},
	})

	execution, err := executor.Execute(context.Background(), seq, map[string]any{"kind": "A"})
	require.NoError(t, err)
	assert.Equal(t, models.ExecutionStatusCompleted, execution.Status)
	assert.Equal(t, []string{"true-action"}, dispatcher.calledActions())
}

func TestConditionRoutesElseBranch(t *testing.T) {
	dispatcher := &fakeDispatcher{}
	executor := sequence.NewExecutor(memory.NewPersistence(), dispatcher, nil)

	seq := conditionSequence("{{kind}}", "A", []*models.FlowEdge{
		{ID: "e1", Source: "t", Target: "cond"},
		{ID: "e2", Source: "cond", Target: "yes", SourceHandle: "set-1"},
		{ID: "e3", Source: "cond", Target: "no", SourceHandle: "else"},
	})

	execution, err := executor.Execute(context.Background(), seq, map[string]any{"kind": "B"})
	require.NoError(t, err)
	assert.Equal(t, models.ExecutionStatusCompleted, execution.Status)
	assert.Equal(t, []string{"false-action"}, dispatcher.calledActions())
}

func TestConditionTrueFallsBackToFirstEdge(t *testing.T) {
	dispatcher := &fakeDispatcher{}
	executor := sequence.NewExecutor(memory.NewPersistence(), dispatcher, nil)

	// No set-N edge present, the true branch takes the first outgoing edge.
	seq := conditionSequence("{{kind}}", "A", []*models.FlowEdge{
		{ID: "e1", Source: "t", Target: "cond"},
		{ID: "e2", Source: "cond", Target: "yes"},
	})

	execution, err := executor.Execute(context.Background(), seq, map[string]any{"kind": "A"})
	require.NoError(t, err)
	assert.Equal(t, models.ExecutionStatusCompleted, execution.Status)
	assert.Equal(t, []string{"true-action"}, dispatcher.calledActions())
}

func TestConditionFalseWithoutElseEndsFlow(t *testing.T) {
	dispatcher := &fakeDispatcher{}
	executor := sequence.NewExecutor(memory.NewPersistence(), dispatcher, nil)

	seq := conditionSequence("{{kind}}", "A", []*models.FlowEdge{
		{ID: "e1", Source: "t", Target: "cond"},
		{ID: "e2", Source: "cond", Target: "yes", SourceHandle: "set-1"},
	})

	execution, err := executor.Execute(context.Background(), seq, map[string]any{"kind": "B"})
	require.NoError(t, err)
	assert.Equal(t, models.ExecutionStatusCompleted, execution.Status)
	assert.Empty(t, dispatcher.calledActions())
}

func TestConditionSetsOrAcrossSets(t *testing.T) {
	dispatcher := &fakeDispatcher{}
	executor := sequence.NewExecutor(memory.NewPersistence(), dispatcher, nil)

	seq := &models.Sequence{
		ID:   "seq-2",
		Name: "multi-set",
		Nodes: []*models.FlowNode{
			{ID: "t", Type: models.NodeTypeTrigger},
			{ID: "cond", Type: models.NodeTypeCondition, Data: map[string]any{
				"conditionSets": []any{
					map[string]any{"conditions": []any{
						map[string]any{"left": "{{kind}}", "operator": "equals", "right": "A"},
						map[string]any{"left": "{{amount}}", "operator": "greater_than", "right": float64(100)},
					}},
					map[string]any{"conditions": []any{
						map[string]any{"left": "{{priority}}", "operator": "equals", "right": "urgent"},
					}},
				},
			}},
			{ID: "yes", Type: models.NodeTypeAction, Data: map[string]any{
				"connector": "X", "action": "true-action",
			}},
		},
		Edges: []*models.FlowEdge{
			{ID: "e1", Source: "t", Target: "cond"},
			{ID: "e2", Source: "cond", Target: "yes", SourceHandle: "set-1"},
		},
	}

	// First set fails (amount too low) but the second set matches.
	execution, err := executor.Execute(context.Background(), seq, map[string]any{
		"kind": "A", "amount": float64(50), "priority": "urgent",
	})
	require.NoError(t, err)
	assert.Equal(t, models.ExecutionStatusCompleted, execution.Status)
	assert.Equal(t, []string{"true-action"}, dispatcher.calledActions())
}

func TestMissingTriggerNodeFailsRun(t *testing.T) {
	executor := sequence.NewExecutor(memory.NewPersistence(), &fakeDispatcher{}, nil)

	seq := &models.Sequence{
		ID:    "seq-3",
		Name:  "broken",
		Nodes: []*models.FlowNode{{ID: "a", Type: models.NodeTypeAction}},
	}

	execution, err := executor.Execute(context.Background(), seq, nil)
	require.NoError(t, err)
	assert.Equal(t, models.ExecutionStatusFailed, execution.Status)
	assert.Contains(t, execution.ErrorMessage, "no trigger node")
}

func TestNodeFailureAbortsRun(t *testing.T) {
	dispatcher := &fakeDispatcher{
		respond: func(req dsl.DispatchRequest) *dsl.DispatchResult {
			if req.ActionName == "explode" {
				return &dsl.DispatchResult{Err: "connector exploded"}
			}

			return &dsl.DispatchResult{Response: map[string]any{"ok": true}}
		},
	}
	store := memory.NewPersistence()
	executor := sequence.NewExecutor(store, dispatcher, nil)

	seq := &models.Sequence{
		ID:   "seq-4",
		Name: "aborting",
		Nodes: []*models.FlowNode{
			{ID: "t", Type: models.NodeTypeTrigger},
			{ID: "boom", Type: models.NodeTypeAction, Name: "Boom", Data: map[string]any{
				"connector": "X", "action": "explode",
			}},
			{ID: "after", Type: models.NodeTypeAction, Data: map[string]any{
				"connector": "X", "action": "never-reached",
			}},
		},
		Edges: []*models.FlowEdge{
			{ID: "e1", Source: "t", Target: "boom"},
			{ID: "e2", Source: "boom", Target: "after"},
		},
	}

	execution, err := executor.Execute(context.Background(), seq, nil)
	require.NoError(t, err)
	assert.Equal(t, models.ExecutionStatusFailed, execution.Status)
	assert.Contains(t, execution.ErrorMessage, "connector exploded")
	assert.NotContains(t, dispatcher.calledActions(), "never-reached")

	logs, err := store.ExecutionLogs(context.Background(), execution.ID)
	require.NoError(t, err)

	var failed *models.ExecutionLog

	for _, entry := range logs {
		if entry.NodeID == "boom" {
			failed = entry
		}

		assert.NotEqual(t, "after", entry.NodeID)
	}

	require.NotNil(t, failed)
	assert.Equal(t, models.LogLevelError, failed.Level)
	assert.Equal(t, "failed", failed.Status)
}

func TestRuleNodeAssignmentsLandInVariables(t *testing.T) {
	executor := sequence.NewExecutor(memory.NewPersistence(), &fakeDispatcher{}, nil)

	seq := &models.Sequence{
		ID:   "seq-5",
		Name: "rules",
		Nodes: []*models.FlowNode{
			{ID: "t", Type: models.NodeTypeTrigger},
			{ID: "r", Type: models.NodeTypeCustomRule, Data: map[string]any{
				"rule": "assign customer_name = {{customer.name}}\nassign $scratch = \"tmp\"",
			}},
		},
		Edges: []*models.FlowEdge{{ID: "e1", Source: "t", Target: "r"}},
	}

	execution, err := executor.Execute(context.Background(), seq, map[string]any{
		"customer": map[string]any{"name": "Acme"},
	})
	require.NoError(t, err)
	assert.Equal(t, models.ExecutionStatusCompleted, execution.Status)
	assert.Equal(t, "Acme", execution.VariablesState["customer_name"])
	assert.NotContains(t, execution.VariablesState, "$scratch")
}

func TestActionNodeParameterMappings(t *testing.T) {
	dispatcher := &fakeDispatcher{
		respond: func(_ dsl.DispatchRequest) *dsl.DispatchResult {
			return &dsl.DispatchResult{Response: map[string]any{
				"data": map[string]any{"status": "shipped"},
			}}
		},
	}
	executor := sequence.NewExecutor(memory.NewPersistence(), dispatcher, nil)

	seq := &models.Sequence{
		ID:   "seq-6",
		Name: "params",
		Nodes: []*models.FlowNode{
			{ID: "t", Type: models.NodeTypeTrigger},
			{ID: "a", Type: models.NodeTypeAction, Data: map[string]any{
				"connector": "Orders",
				"action":    "Get Order",
				"parameterMappings": map[string]any{
					"path": map[string]any{
						"orderId": map[string]any{"type": "variable", "value": "@event.order_id"},
					},
				},
				"responseMappings": []any{
					map[string]any{"source": "data.status", "target": "order_status"},
				},
			}},
		},
		Edges: []*models.FlowEdge{{ID: "e1", Source: "t", Target: "a"}},
	}

	execution, err := executor.Execute(context.Background(), seq, map[string]any{"order_id": "ord-9"})
	require.NoError(t, err)
	assert.Equal(t, models.ExecutionStatusCompleted, execution.Status)

	require.Len(t, dispatcher.requests, 1)
	assert.Equal(t, "ord-9", dispatcher.requests[0].Params.Path["orderId"])
	assert.Equal(t, "shipped", execution.VariablesState["order_status"])
}
