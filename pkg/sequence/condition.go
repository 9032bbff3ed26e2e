package sequence

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/weftworks/weft/pkg/expr"
	"github.com/weftworks/weft/pkg/models"
)

// evaluateConditionNode handles both condition shapes: a legacy single
// {left, operator, right} on the node data, and a conditionSets list where
// conditions inside a set AND together and the sets OR together. An empty
// or unreadable configuration evaluates to false.
func evaluateConditionNode(node *models.FlowNode, execContext map[string]any) bool {
	if sets, ok := node.Data["conditionSets"].([]any); ok && len(sets) > 0 {
		for _, rawSet := range sets {
			set, ok := rawSet.(map[string]any)
			if !ok {
				continue
			}

			conditions, ok := set["conditions"].([]any)
			if !ok || len(conditions) == 0 {
				continue
			}

			if evaluateConditionSet(conditions, execContext) {
				return true
			}
		}

		return false
	}

	if _, ok := node.Data["operator"]; ok {
		return evaluateCondition(node.Data, execContext)
	}

	return false
}

func evaluateConditionSet(conditions []any, execContext map[string]any) bool {
	for _, raw := range conditions {
		condition, ok := raw.(map[string]any)
		if !ok {
			return false
		}

		if !evaluateCondition(condition, execContext) {
			return false
		}
	}

	return true
}

func evaluateCondition(condition map[string]any, execContext map[string]any) bool {
	left := expr.ResolveRef(condition["left"], execContext)
	right := expr.ResolveRef(condition["right"], execContext)
	operator, _ := condition["operator"].(string)

	switch operator {
	case "equals", "==":
		return conditionEqual(left, right)
	case "not_equals", "!=":
		return !conditionEqual(left, right)
	case "greater_than", ">":
		return conditionCompare(left, right, ">")
	case "less_than", "<":
		return conditionCompare(left, right, "<")
	case "greater_than_or_equal", ">=":
		return conditionCompare(left, right, ">=")
	case "less_than_or_equal", "<=":
		return conditionCompare(left, right, "<=")
	case "contains":
		return conditionContains(left, right, false)
	case "not_contains":
		return conditionContains(left, right, true)
	default:
		return false
	}
}

func conditionEqual(left, right any) bool {
	if left == nil || right == nil {
		return left == right
	}

	if leftNum, ok := conditionNumber(left); ok {
		if rightNum, ok := conditionNumber(right); ok {
			return leftNum == rightNum
		}
	}

	return fmt.Sprintf("%v", left) == fmt.Sprintf("%v", right)
}

func conditionCompare(left, right any, op string) bool {
	leftNum, leftOK := conditionNumber(left)
	rightNum, rightOK := conditionNumber(right)

	if leftOK && rightOK {
		switch op {
		case ">":
			return leftNum > rightNum
		case "<":
			return leftNum < rightNum
		case ">=":
			return leftNum >= rightNum
		default:
			return leftNum <= rightNum
		}
	}

	leftStr := fmt.Sprintf("%v", left)
	rightStr := fmt.Sprintf("%v", right)

	switch op {
	case ">":
		return leftStr > rightStr
	case "<":
		return leftStr < rightStr
	case ">=":
		return leftStr >= rightStr
	default:
		return leftStr <= rightStr
	}
}

// conditionContains requires a string or list left operand; any other shape
// defaults to false for contains and true for not_contains.
func conditionContains(left, right any, negate bool) bool {
	switch typed := left.(type) {
	case string:
		contained := strings.Contains(typed, fmt.Sprintf("%v", right))
		if negate {
			return !contained
		}

		return contained
	case []any:
		contained := false

		for _, item := range typed {
			if conditionEqual(item, right) {
				contained = true

				break
			}
		}

		if negate {
			return !contained
		}

		return contained
	default:
		return negate
	}
}

func conditionNumber(value any) (float64, bool) {
	switch typed := value.(type) {
	case float64:
		return typed, true
	case float32:
		return float64(typed), true
	case int:
		return float64(typed), true
	case int64:
		return float64(typed), true
	case string:
		parsed, err := strconv.ParseFloat(typed, 64)
		if err != nil {
			return 0, false
		}

		return parsed, true
	default:
		return 0, false
	}
}
