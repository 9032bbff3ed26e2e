package dsl

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"

	"github.com/weftworks/weft/pkg/connector"
	"github.com/weftworks/weft/pkg/expr"
	"github.com/weftworks/weft/pkg/log"
	"github.com/weftworks/weft/pkg/models"
)

// Dispatcher executes one action call on behalf of a rule: connector/action
// lookup, synchronous invocation or asynchronous initiation. It never
// returns an error; failures come back classified on the result.
type Dispatcher interface {
	Dispatch(ctx context.Context, req DispatchRequest) *DispatchResult
}

// DispatchRequest identifies the action to call and carries the resolved
// parameters plus the mappings the async completion hook will need.
type DispatchRequest struct {
	ConnectorName string
	ActionName    string
	Params        connector.CallParams
	Mappings      []models.ResponseMapping
	Context       map[string]any
}

// DispatchResult is the outcome of one dispatched action call. Response is
// the body response mappings apply against: the final response of a sync
// call, or the initial response of an async initiation.
type DispatchResult struct {
	Log      *models.ActionLog
	Async    *models.AsyncRef
	Response map[string]any
	Err      string
}

// Interpreter executes parsed rules against a context.
type Interpreter struct {
	dispatcher Dispatcher
	logger     *slog.Logger
}

func NewInterpreter(dispatcher Dispatcher) *Interpreter {
	return &Interpreter{
		dispatcher: dispatcher,
		logger:     log.WithModule("dsl"),
	}
}

// Execute runs one rule definition against the context. Statement-level
// failures are soft: they append to Errors and the remaining statements
// still run.
func (i *Interpreter) Execute(ctx context.Context, rule string, execContext map[string]any) *models.RuleExecutionResult {
	result := models.NewRuleExecutionResult()

	statements, parseErrors := Parse(rule)
	result.Errors = append(result.Errors, parseErrors...)

	for _, statement := range statements {
		i.exec(ctx, statement, execContext, result)
	}

	return result
}

func (i *Interpreter) exec(ctx context.Context, statement Statement, execContext map[string]any, result *models.RuleExecutionResult) {
	switch s := statement.(type) {
	case Assign:
		value := i.resolveValue(s.Expr, execContext)
		applyTarget(s.Target, value, execContext, result.Assignments)
	case ErrorStmt:
		result.Errors = append(result.Errors, s.Message)
	case IfBlock:
		if i.evalCondition(s.Cond, execContext) {
			for _, inner := range s.Body {
				i.exec(ctx, inner, execContext, result)
			}
		}
	case ForLoop:
		i.execFor(ctx, s, execContext, result)
	case ActionCall:
		i.execCall(ctx, s, execContext, result)
	}
}

func (i *Interpreter) execFor(ctx context.Context, loop ForLoop, execContext map[string]any, result *models.RuleExecutionResult) {
	collection := i.resolveValue(loop.Collection, execContext)

	list, ok := collection.([]any)
	if !ok {
		result.Errors = append(result.Errors,
			fmt.Sprintf("for loop: %s does not resolve to a list", loop.Collection))

		return
	}

	docMode := loop.Var == "@doc" && isDocumentsRef(loop.Collection, execContext, list)

	varKey := expr.NormalizePath(loop.Var)
	previous, hadPrevious := execContext[varKey]

	defer func() {
		if hadPrevious {
			execContext[varKey] = previous
		} else {
			delete(execContext, varKey)
		}
	}()

	for index, element := range list {
		execContext[varKey] = element

		for _, inner := range loop.Body {
			switch s := inner.(type) {
			case Assign:
				value := i.resolveValue(s.Expr, execContext)

				if docMode && strings.HasPrefix(s.Target, "@doc.") {
					field := strings.TrimPrefix(s.Target, "@doc.")

					if document, ok := element.(map[string]any); ok {
						document[field] = value
						result.Assignments[documentKey(index, field)] = value
					}

					continue
				}

				applyTarget(s.Target, value, execContext, result.Assignments)
			case ErrorStmt:
				result.Errors = append(result.Errors, s.Message)
			}
		}
	}
}

func (i *Interpreter) execCall(ctx context.Context, call ActionCall, execContext map[string]any, result *models.RuleExecutionResult) {
	params, err := ParseParams(call.RawParams, execContext)
	if err != nil {
		result.Errors = append(result.Errors,
			fmt.Sprintf("call action %q: %v", call.ActionName, err))
		result.ActionLogs = append(result.ActionLogs, &models.ActionLog{
			ActionName:    call.ActionName,
			ConnectorName: call.ConnectorName,
			Status:        models.ActionCallValidationError,
			Error:         err.Error(),
		})

		return
	}

	outcome := i.dispatcher.Dispatch(ctx, DispatchRequest{
		ConnectorName: call.ConnectorName,
		ActionName:    call.ActionName,
		Params:        params,
		Mappings:      call.Mappings,
		Context:       execContext,
	})

	if outcome.Log != nil {
		result.ActionLogs = append(result.ActionLogs, outcome.Log)
	}

	if outcome.Err != "" {
		result.Errors = append(result.Errors, outcome.Err)
	}

	if outcome.Async != nil {
		result.AsyncExecutions = append(result.AsyncExecutions, outcome.Async)
	}

	if outcome.Response != nil && len(call.Mappings) > 0 {
		for target, value := range ApplyMappings(call.Mappings, outcome.Response, execContext) {
			result.Assignments[target] = value
		}
	}
}

func (i *Interpreter) evalCondition(cond Condition, execContext map[string]any) bool {
	left := i.resolveValue(cond.Left, execContext)

	if cond.Op == "is_null" {
		return left == nil
	}

	right := i.resolveValue(cond.Right, execContext)

	switch cond.Op {
	case "==":
		return looseEqual(left, right)
	case "!=":
		return !looseEqual(left, right)
	case "<", ">", "<=", ">=":
		return orderedCompare(left, right, cond.Op)
	default:
		return false
	}
}

// resolveValue evaluates one expression: string/number/bool/null literals,
// concat(...), "{{path}}" templates and bare variable paths.
func (i *Interpreter) resolveValue(exprText string, execContext map[string]any) any {
	exprText = strings.TrimSpace(exprText)
	if exprText == "" {
		return nil
	}

	if len(exprText) >= 2 {
		first := exprText[0]
		last := exprText[len(exprText)-1]

		if (first == '"' && last == '"') || (first == '\'' && last == '\'') {
			return exprText[1 : len(exprText)-1]
		}
	}

	switch exprText {
	case "true":
		return true
	case "false":
		return false
	case "null":
		return nil
	}

	if number, err := strconv.ParseFloat(exprText, 64); err == nil {
		return number
	}

	if inner, ok := strings.CutPrefix(exprText, "concat("); ok && strings.HasSuffix(inner, ")") {
		return i.resolveConcat(strings.TrimSuffix(inner, ")"), execContext)
	}

	if expr.IsTemplate(exprText) {
		return expr.Resolve(expr.TemplatePath(exprText), execContext)
	}

	return expr.Resolve(exprText, execContext)
}

func (i *Interpreter) resolveConcat(args string, execContext map[string]any) string {
	var out strings.Builder

	for _, arg := range splitOutsideQuotes(args, ',') {
		value := i.resolveValue(strings.TrimSpace(arg), execContext)
		out.WriteString(connector.Stringify(value))
	}

	return out.String()
}

// isDocumentsRef reports whether the loop collection is the context's own
// documents list, which turns on in-place document mutation for
// `assign @doc.field` statements.
func isDocumentsRef(collectionExpr string, execContext map[string]any, list []any) bool {
	path := collectionExpr
	if expr.IsTemplate(path) {
		path = expr.TemplatePath(path)
	}

	if expr.NormalizePath(path) == "documents" {
		return true
	}

	documents, ok := execContext["documents"].([]any)
	if !ok || len(documents) != len(list) || len(list) == 0 {
		return false
	}

	return &documents[0] == &list[0]
}

func looseEqual(left, right any) bool {
	if ln, lok := asNumber(left); lok {
		if rn, rok := asNumber(right); rok {
			return ln == rn
		}
	}

	return fmt.Sprintf("%v", left) == fmt.Sprintf("%v", right) && (left == nil) == (right == nil)
}

func orderedCompare(left, right any, op string) bool {
	if ln, lok := asNumber(left); lok {
		if rn, rok := asNumber(right); rok {
			switch op {
			case "<":
				return ln < rn
			case ">":
				return ln > rn
			case "<=":
				return ln <= rn
			case ">=":
				return ln >= rn
			}
		}
	}

	ls, lok := left.(string)
	rs, rok := right.(string)

	if lok && rok {
		switch op {
		case "<":
			return ls < rs
		case ">":
			return ls > rs
		case "<=":
			return ls <= rs
		case ">=":
			return ls >= rs
		}
	}

	return false
}

func asNumber(value any) (float64, bool) {
	switch v := value.(type) {
	case float64:
		return v, true
	case int:
		return float64(v), true
	case int64:
		return float64(v), true
	default:
		return 0, false
	}
}
