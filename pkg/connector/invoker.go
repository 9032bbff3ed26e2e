package connector

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/weftworks/weft/pkg/auth"
	"github.com/weftworks/weft/pkg/log"
	"github.com/weftworks/weft/pkg/models"
)

const defaultTimeout = 30 * time.Second

// CallParams carries the resolved parameters of one action invocation,
// keyed by parameter name. RawBody, when set, is sent as-is and bypasses
// body templating. Flat holds parameters given without a subsection; they
// are distributed by the action's declared parameter configs before use.
type CallParams struct {
	Path    map[string]any
	Query   map[string]any
	Headers map[string]any
	Body    map[string]any
	RawBody any
	Flat    map[string]any
}

// Distribute sorts flat parameters into path/query/header/body buckets
// according to where the action declares each name. Undeclared names go to
// the query string for bodyless methods and to the body otherwise.
func (p CallParams) Distribute(action *models.ConnectorAction) CallParams {
	if len(p.Flat) == 0 {
		return p
	}

	out := p
	out.Path = copyParams(p.Path)
	out.Query = copyParams(p.Query)
	out.Headers = copyParams(p.Headers)
	out.Body = copyParams(p.Body)
	out.Flat = nil

	for name, value := range p.Flat {
		switch {
		case hasParam(action.PathParams, name):
			out.Path[name] = value
		case hasParam(action.QueryParams, name):
			out.Query[name] = value
		case hasParam(action.Headers, name):
			out.Headers[name] = value
		case hasParam(action.BodyParams, name):
			out.Body[name] = value
		case action.HTTPMethod == "GET" || action.HTTPMethod == "DELETE":
			out.Query[name] = value
		default:
			out.Body[name] = value
		}
	}

	return out
}

func copyParams(params map[string]any) map[string]any {
	copied := make(map[string]any, len(params))
	for name, value := range params {
		copied[name] = value
	}

	return copied
}

func hasParam(configs map[string]models.ParamConfig, name string) bool {
	_, ok := configs[name]

	return ok
}

// CallResult is the structured outcome of one invocation attempt. Transport
// failures never escape as errors; they land here classified.
type CallResult struct {
	Status     models.ActionCallStatus
	StatusCode int
	Response   map[string]any
	ErrorType  ErrorType
	Error      string
	APICalled  bool
	URL        string
	Method     string
	Request    map[string]any
	DurationMS int64
}

// Succeeded reports whether the remote call completed with a 2xx status.
func (r *CallResult) Succeeded() bool {
	return r.Status == models.ActionCallSuccess
}

// Invoker executes connector actions.
type Invoker struct {
	transport Transport
	auth      *auth.Resolver
	logger    *slog.Logger
}

func NewInvoker(transport Transport, authResolver *auth.Resolver) *Invoker {
	return &Invoker{
		transport: transport,
		auth:      authResolver,
		logger:    log.WithModule("connector"),
	}
}

// Invoke performs one synchronous action call: mandatory parameter
// validation, URL/body templating, auth resolution and the HTTP request.
// A panic anywhere below is converted into a failed result; callers never
// see one.
func (i *Invoker) Invoke(ctx context.Context, conn *models.Connector, action *models.ConnectorAction, credential *models.Credential, set *models.CredentialSet, params CallParams) (result *CallResult) {
	defer func() {
		if recovered := recover(); recovered != nil {
			i.logger.ErrorContext(ctx, "connector call panicked",
				"connector", conn.Name, "action", action.Name, "panic", recovered)

			result = &CallResult{
				Status: models.ActionCallFailed,
				Error:  fmt.Sprintf("internal error: %v", recovered),
				Method: action.HTTPMethod,
			}
		}
	}()

	params = params.Distribute(action)

	if missing := ValidateMandatory(action, params); len(missing) > 0 {
		return &CallResult{
			Status:    models.ActionCallValidationError,
			Error:     "missing mandatory parameters: " + strings.Join(missing, ", "),
			APICalled: false,
			Method:    action.HTTPMethod,
			Request:   params.snapshot(),
		}
	}

	path := substitutePathParams(action.EndpointPath, withDefaults(params.Path, action.PathParams))

	query := make(map[string]string)
	for name, value := range withDefaults(params.Query, action.QueryParams) {
		query[name] = Stringify(value)
	}

	headers := make(map[string]string)
	for name, value := range withDefaults(params.Headers, action.Headers) {
		headers[name] = Stringify(value)
	}

	body := buildRequestBody(action, params)

	result = i.Do(ctx, conn, credential, set, action.HTTPMethod, path, headers, query, body, ActionTimeout(conn, action))
	result.Request = params.snapshot()

	return result
}

// Do performs one prepared HTTP call against a connector: connector-level
// headers, auth resolution, base URL joining and error classification. The
// async poller uses it directly for polling attempts.
func (i *Invoker) Do(ctx context.Context, conn *models.Connector, credential *models.Credential, set *models.CredentialSet, method, path string, headers, query map[string]string, body any, timeout time.Duration) (result *CallResult) {
	defer func() {
		if recovered := recover(); recovered != nil {
			i.logger.ErrorContext(ctx, "connector call panicked",
				"connector", conn.Name, "method", method, "panic", recovered)

			result = &CallResult{
				Status: models.ActionCallFailed,
				Error:  fmt.Sprintf("internal error: %v", recovered),
				Method: method,
			}
		}
	}()

	merged := make(map[string]string, len(conn.Headers)+len(headers))
	for name, value := range conn.Headers {
		merged[name] = value
	}

	for name, value := range headers {
		merged[name] = value
	}

	authHeaders, err := i.auth.Resolve(ctx, credential, set)
	if err != nil {
		return &CallResult{
			Status:    models.ActionCallFailed,
			Error:     fmt.Sprintf("auth resolution failed: %v", err),
			APICalled: false,
			Method:    method,
		}
	}

	for name, value := range authHeaders {
		merged[name] = value
	}

	fullURL := joinURL(conn.BaseURL, path)

	started := time.Now()
	response, reqErr := i.transport.Request(ctx, method, fullURL, merged, query, body, timeout)
	duration := time.Since(started).Milliseconds()

	result = &CallResult{
		Method:     method,
		URL:        fullURL,
		APICalled:  true,
		DurationMS: duration,
	}

	if response != nil {
		result.StatusCode = response.StatusCode
		result.Response = response.Body
	}

	if reqErr != nil {
		result.Status = models.ActionCallFailed

		var transportErr *TransportError
		if errors.As(reqErr, &transportErr) {
			result.ErrorType = transportErr.Type
			result.Error = transportErr.Message
		} else {
			result.ErrorType = ErrorConnection
			result.Error = reqErr.Error()
		}

		i.logger.WarnContext(ctx, "connector call failed",
			"connector", conn.Name, "method", method, "url", fullURL,
			"error_type", result.ErrorType, "error", result.Error)

		return result
	}

	result.Status = models.ActionCallSuccess

	return result
}

// ValidateMandatory returns the sorted names of declared-mandatory
// parameters that were neither provided nor defaulted.
func ValidateMandatory(action *models.ConnectorAction, params CallParams) []string {
	var missing []string

	check := func(kind string, configs map[string]models.ParamConfig, provided map[string]any) {
		for name, config := range configs {
			if !config.Mandatory || config.Default != nil {
				continue
			}

			if value, ok := provided[name]; !ok || value == nil {
				missing = append(missing, fmt.Sprintf("%s param %q", kind, name))
			}
		}
	}

	check("path", action.PathParams, params.Path)
	check("query", action.QueryParams, params.Query)
	check("header", action.Headers, params.Headers)

	if params.RawBody == nil {
		check("body", action.BodyParams, params.Body)
	}

	sort.Strings(missing)

	return missing
}

func withDefaults(provided map[string]any, configs map[string]models.ParamConfig) map[string]any {
	merged := make(map[string]any, len(provided)+len(configs))

	for name, config := range configs {
		if config.Default != nil {
			merged[name] = config.Default
		}
	}

	for name, value := range provided {
		merged[name] = value
	}

	return merged
}

// buildRequestBody overlays body params onto a deep copy of the action's
// request body template. Param names are dot-paths into the template.
func buildRequestBody(action *models.ConnectorAction, params CallParams) any {
	if params.RawBody != nil {
		return params.RawBody
	}

	merged := withDefaults(params.Body, action.BodyParams)
	if len(merged) == 0 && action.RequestBodyTemplate == nil {
		return nil
	}

	body := DeepCopyMap(action.RequestBodyTemplate)
	if body == nil {
		body = make(map[string]any)
	}

	for name, value := range merged {
		SetPath(body, name, value)
	}

	return body
}

func substitutePathParams(path string, params map[string]any) string {
	for name, value := range params {
		path = strings.ReplaceAll(path, "{"+name+"}", Stringify(value))
	}

	return path
}

func joinURL(base, path string) string {
	return strings.TrimSuffix(base, "/") + "/" + strings.TrimPrefix(path, "/")
}

// ActionTimeout returns the effective request timeout for an action call:
// action-level, then connector-level, then the package default.
func ActionTimeout(conn *models.Connector, action *models.ConnectorAction) time.Duration {
	if action.TimeoutSecs > 0 {
		return time.Duration(action.TimeoutSecs) * time.Second
	}

	if conn.TimeoutSecs > 0 {
		return time.Duration(conn.TimeoutSecs) * time.Second
	}

	return defaultTimeout
}

func (p CallParams) snapshot() map[string]any {
	snapshot := make(map[string]any)

	if len(p.Path) > 0 {
		snapshot["path_params"] = p.Path
	}

	if len(p.Query) > 0 {
		snapshot["query_params"] = p.Query
	}

	if len(p.Headers) > 0 {
		snapshot["headers"] = p.Headers
	}

	if len(p.Body) > 0 {
		snapshot["body_params"] = p.Body
	}

	if p.RawBody != nil {
		snapshot["body"] = p.RawBody
	}

	return snapshot
}
