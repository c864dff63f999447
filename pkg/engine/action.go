package engine

import (
	"context"
	"log/slog"

	"github.com/Jeffail/gabs/v2"
	"github.com/dukex/convoflow/pkg/interpreter"
)

// runAction invokes the action with its retry policy and returns the
// variables to merge. Nothing is returned unless an attempt succeeds.
func (e *Engine) runAction(ctx context.Context, logger *slog.Logger, action interpreter.Action) (map[string]any, error) {
	if e.actions == nil {
		return nil, &ActionError{Endpoint: action.Endpoint, Attempts: 0, Err: errNoActionCaller}
	}

	timeout := action.Timeout
	if timeout <= 0 {
		timeout = e.config.ActionTimeout
	}

	// An attempt never outlives the lease renewed right before it.
	if heldLease(ctx) != nil && timeout >= e.config.LockTTL {
		timeout = e.config.LockTTL / 2
	}

	attempts := action.Retry.Attempts()

	var lastErr error

	for attempt := 1; attempt <= attempts; attempt++ {
		if attempt > 1 {
			if wait := action.Retry.Backoff(attempt - 1); wait > 0 {
				select {
				case <-e.clock.After(wait):
				case <-ctx.Done():
					return nil, ctx.Err()
				}
			}
		}

		err := e.renewLease(ctx)
		if err != nil {
			return nil, err
		}

		callCtx, cancel := context.WithTimeout(ctx, timeout)
		response, err := e.actions.Invoke(callCtx, ActionRequest{
			Endpoint:  action.Endpoint,
			Method:    action.Method,
			Headers:   action.Headers,
			Variables: action.Request,
			Timeout:   timeout,
		})
		cancel()

		if err == nil {
			return mapResponse(action, response), nil
		}

		if ctx.Err() != nil {
			return nil, ctx.Err()
		}

		lastErr = err

		logger.WarnContext(ctx, "Action attempt failed",
			"node_id", action.NodeID,
			"endpoint", action.Endpoint,
			"attempt", attempt,
			"max_attempts", attempts,
			"error", err,
		)
	}

	return nil, &ActionError{Endpoint: action.Endpoint, Attempts: attempts, Err: lastErr}
}

// mapResponse picks response values by dotted path into variables. Without a
// mapping or result key the response's top-level fields are merged as is.
func mapResponse(action interpreter.Action, response map[string]any) map[string]any {
	values := make(map[string]any)

	if len(action.Mapping) == 0 && action.ResultKey == "" {
		for key, value := range response {
			values[key] = value
		}

		return values
	}

	container := gabs.Wrap(response)

	for variable, path := range action.Mapping {
		if !container.ExistsP(path) {
			continue
		}

		values[variable] = container.Path(path).Data()
	}

	if action.ResultKey != "" {
		values[action.ResultKey] = response
	}

	return values
}
