// Package connector executes connector actions over HTTP: URL and body
// templating, mandatory parameter validation, auth header resolution and a
// stable transport error taxonomy. Nothing in this package panics across
// its boundary; failures come back as structured results.
package connector

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"
)

// ErrorType classifies a failed transport call.
type ErrorType string

const (
	ErrorTimeout    ErrorType = "timeout"
	ErrorConnection ErrorType = "connection_error"
	ErrorHTTP       ErrorType = "http_error"
)

// TransportError is the classified failure of one HTTP call. For http_error
// the response body is still available on the accompanying Response.
type TransportError struct {
	Type       ErrorType
	StatusCode int
	Message    string
}

func (e *TransportError) Error() string {
	if e.StatusCode > 0 {
		return fmt.Sprintf("%s (HTTP %d): %s", e.Type, e.StatusCode, e.Message)
	}

	return fmt.Sprintf("%s: %s", e.Type, e.Message)
}

// Response is the decoded result of one HTTP call.
type Response struct {
	StatusCode int
	Headers    http.Header
	// Body is the JSON-decoded response body. Non-object payloads are
	// wrapped under the "body" key so dotted-path lookups stay uniform.
	Body    map[string]any
	RawBody string
}

// Transport performs one HTTP request. Errors are always *TransportError.
type Transport interface {
	Request(ctx context.Context, method, rawURL string, headers map[string]string, query map[string]string, body any, timeout time.Duration) (*Response, error)
}

// HTTPTransport is the net/http implementation of Transport.
type HTTPTransport struct {
	client *http.Client
}

func NewHTTPTransport() *HTTPTransport {
	return &HTTPTransport{client: &http.Client{}}
}

func (t *HTTPTransport) Request(ctx context.Context, method, rawURL string, headers map[string]string, query map[string]string, body any, timeout time.Duration) (*Response, error) {
	if timeout > 0 {
		var cancel context.CancelFunc

		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	var reqBody io.Reader

	if body != nil {
		encoded, err := json.Marshal(body)
		if err != nil {
			return nil, &TransportError{Type: ErrorConnection, Message: fmt.Sprintf("failed to encode request body: %v", err)}
		}

		reqBody = bytes.NewReader(encoded)
	}

	req, err := http.NewRequestWithContext(ctx, method, rawURL, reqBody)
	if err != nil {
		return nil, &TransportError{Type: ErrorConnection, Message: fmt.Sprintf("failed to create request: %v", err)}
	}

	if len(query) > 0 {
		values := req.URL.Query()
		for key, value := range query {
			values.Set(key, value)
		}

		req.URL.RawQuery = values.Encode()
	}

	for key, value := range headers {
		req.Header.Set(key, value)
	}

	if body != nil && req.Header.Get("Content-Type") == "" {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := t.client.Do(req)
	if err != nil {
		return nil, classify(err)
	}

	defer func() { _ = resp.Body.Close() }()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &TransportError{Type: ErrorConnection, Message: fmt.Sprintf("failed to read response: %v", err)}
	}

	response := &Response{
		StatusCode: resp.StatusCode,
		Headers:    resp.Header,
		Body:       decodeBody(raw),
		RawBody:    string(raw),
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return response, &TransportError{
			Type:       ErrorHTTP,
			StatusCode: resp.StatusCode,
			Message:    truncate(string(raw), 512),
		}
	}

	return response, nil
}

func classify(err error) *TransportError {
	var urlErr *url.Error
	if errors.As(err, &urlErr) && urlErr.Timeout() {
		return &TransportError{Type: ErrorTimeout, Message: err.Error()}
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return &TransportError{Type: ErrorTimeout, Message: err.Error()}
	}

	return &TransportError{Type: ErrorConnection, Message: err.Error()}
}

func decodeBody(raw []byte) map[string]any {
	if len(raw) == 0 {
		return map[string]any{}
	}

	var decoded any
	if err := json.Unmarshal(raw, &decoded); err != nil {
		return map[string]any{"body": string(raw)}
	}

	if object, ok := decoded.(map[string]any); ok {
		return object
	}

	return map[string]any{"body": decoded}
}

func truncate(s string, limit int) string {
	if len(s) <= limit {
		return s
	}

	return s[:limit]
}
