// Package httprequest invokes action node endpoints over HTTP.
package httprequest

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"github.com/dukex/convoflow/pkg/engine"
	"github.com/go-resty/resty/v2"
)

var (
	// ErrHTTPMethodInvalid is returned when the HTTP method is not supported.
	ErrHTTPMethodInvalid = errors.New("invalid HTTP method")
	// ErrHTTPStatus is returned for non-2xx responses.
	ErrHTTPStatus = errors.New("unexpected HTTP status")
)

var allowedMethods = map[string]bool{
	http.MethodGet:    true,
	http.MethodPost:   true,
	http.MethodPut:    true,
	http.MethodPatch:  true,
	http.MethodDelete: true,
}

// StatusError carries the status and body of a rejected request.
type StatusError struct {
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%s: %d %s", ErrHTTPStatus, e.StatusCode, e.Body)
}

func (e *StatusError) Is(target error) bool {
	return target == ErrHTTPStatus
}

// Caller implements engine.ActionCaller. Retries are the engine's concern,
// so the resty client never retries on its own.
type Caller struct {
	client *resty.Client
	logger *slog.Logger
}

func NewCaller(client *resty.Client, logger *slog.Logger) *Caller {
	if client == nil {
		client = resty.New()
	}

	client.SetRetryCount(0)

	return &Caller{
		client: client,
		logger: logger.With("module", "http_action"),
	}
}

// Invoke sends the request variables as query parameters for GET and DELETE
// and as a JSON body otherwise. A JSON object response is returned as is;
// any other JSON value is returned under "result" and non-JSON text under "body".
func (c *Caller) Invoke(ctx context.Context, request engine.ActionRequest) (map[string]any, error) {
	method := strings.ToUpper(request.Method)
	if method == "" {
		method = http.MethodPost
	}

	if !allowedMethods[method] {
		return nil, fmt.Errorf("%w: %s", ErrHTTPMethodInvalid, request.Method)
	}

	req := c.client.R().
		SetContext(ctx).
		SetHeader("Accept", "application/json").
		SetHeaders(request.Headers)

	if method == http.MethodGet || method == http.MethodDelete {
		for key, value := range request.Variables {
			req.SetQueryParam(key, fmt.Sprint(value))
		}
	} else if request.Variables != nil {
		req.SetBody(request.Variables)
	}

	c.logger.DebugContext(ctx, "Invoking action", "method", method, "endpoint", request.Endpoint)

	resp, err := req.Execute(method, request.Endpoint)
	if err != nil {
		return nil, fmt.Errorf("http request failed: %w", err)
	}

	if resp.IsError() || resp.StatusCode() >= http.StatusMultipleChoices {
		return nil, &StatusError{StatusCode: resp.StatusCode(), Body: truncate(resp.String(), 512)}
	}

	return decode(resp.Body()), nil
}

func decode(body []byte) map[string]any {
	if len(strings.TrimSpace(string(body))) == 0 {
		return map[string]any{}
	}

	var value any

	err := json.Unmarshal(body, &value)
	if err != nil {
		return map[string]any{"body": string(body)}
	}

	if object, ok := value.(map[string]any); ok {
		return object
	}

	return map[string]any{"result": value}
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}

	return s[:n]
}
