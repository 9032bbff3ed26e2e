package sequence

import (
	"context"
	"errors"
	"fmt"

	"github.com/weftworks/weft/pkg/connector"
	"github.com/weftworks/weft/pkg/dsl"
	"github.com/weftworks/weft/pkg/expr"
	"github.com/weftworks/weft/pkg/models"
)

func (e *Executor) executeNode(ctx context.Context, node *models.FlowNode, execContext map[string]any) (any, error) {
	switch node.Type {
	case models.NodeTypeTrigger, models.NodeTypeEvent:
		return execContext["trigger"], nil
	case models.NodeTypeAction:
		return e.executeActionNode(ctx, node, execContext)
	case models.NodeTypeCondition:
		return evaluateConditionNode(node, execContext), nil
	case models.NodeTypeCustomRule:
		return e.executeRuleNode(ctx, node, execContext)
	default:
		return nil, fmt.Errorf("unknown node type %q", node.Type)
	}
}

// executeActionNode resolves the node's inputs and dispatches the action
// call. Two input shapes are supported: a structured parameterMappings
// object keyed by section, and legacy template-bearing inputData routed by
// the action's declared parameters.
func (e *Executor) executeActionNode(ctx context.Context, node *models.FlowNode, execContext map[string]any) (any, error) {
	connectorName := stringField(node.Data, "connector", "connectorName")
	actionName := stringField(node.Data, "action", "actionName")

	if connectorName == "" || actionName == "" {
		return nil, errors.New("action node requires connector and action names")
	}

	params := buildActionParams(node.Data, execContext)
	mappings := parseNodeMappings(node.Data)

	result := e.dispatcher.Dispatch(ctx, dsl.DispatchRequest{
		ConnectorName: connectorName,
		ActionName:    actionName,
		Params:        params,
		Mappings:      mappings,
		Context:       execContext,
	})

	if result.Err != "" {
		return nil, errors.New(result.Err)
	}

	if len(mappings) > 0 && result.Response != nil {
		dsl.ApplyMappings(mappings, result.Response, execContext)
	}

	if result.Async != nil {
		return map[string]any{
			"async":        true,
			"execution_id": result.Async.ExecutionID,
			"status":       string(result.Async.Status),
			"response":     result.Response,
		}, nil
	}

	return result.Response, nil
}

func buildActionParams(data, execContext map[string]any) connector.CallParams {
	var params connector.CallParams

	if raw, ok := data["parameterMappings"].(map[string]any); ok {
		params.Path = resolveParamSection(raw["path"], execContext)
		params.Query = resolveParamSection(raw["query"], execContext)
		params.Headers = resolveParamSection(raw["headers"], execContext)
		params.Body = resolveParamSection(raw["body"], execContext)

		return params
	}

	if raw, ok := data["inputData"].(map[string]any); ok {
		resolved, _ := expr.ResolveRef(raw, execContext).(map[string]any)
		params.Flat = resolved
	}

	return params
}

func resolveParamSection(section any, execContext map[string]any) map[string]any {
	raw, ok := section.(map[string]any)
	if !ok {
		return nil
	}

	out := make(map[string]any, len(raw))
	for name, value := range raw {
		out[name] = expr.ResolveRef(value, execContext)
	}

	return out
}

// parseNodeMappings reads the node's response mappings, a list of
// {source, target} objects.
func parseNodeMappings(data map[string]any) []models.ResponseMapping {
	raw, ok := data["responseMappings"].([]any)
	if !ok {
		return nil
	}

	var mappings []models.ResponseMapping

	for _, item := range raw {
		entry, ok := item.(map[string]any)
		if !ok {
			continue
		}

		source, _ := entry["source"].(string)
		target, _ := entry["target"].(string)

		if source == "" || target == "" {
			continue
		}

		mappings = append(mappings, models.ResponseMapping{Source: source, Target: target})
	}

	return mappings
}

// executeRuleNode runs the node's rule text through the interpreter. Rule
// statement failures are soft; the node itself succeeds and carries them in
// its result.
func (e *Executor) executeRuleNode(ctx context.Context, node *models.FlowNode, execContext map[string]any) (any, error) {
	rule := stringField(node.Data, "rule", "ruleDefinition")
	if rule == "" {
		return nil, errors.New("custom rule node has no rule definition")
	}

	result := e.interpreter.Execute(ctx, rule, execContext)

	if len(result.Errors) > 0 {
		e.logger.WarnContext(ctx, "rule completed with errors",
			"node_id", node.ID, "errors", result.Errors)
	}

	return result, nil
}

func stringField(data map[string]any, names ...string) string {
	for _, name := range names {
		if value, ok := data[name].(string); ok && value != "" {
			return value
		}
	}

	return ""
}
