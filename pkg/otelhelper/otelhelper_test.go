package otelhelper_test

import (
	"context"
	"errors"
	"testing"

	"github.com/dukex/convoflow/pkg/otelhelper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

func TestStartSpanAndSetError(t *testing.T) {
	recorder := tracetest.NewSpanRecorder()
	provider := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(recorder))
	tracer := provider.Tracer("test")

	_, span := otelhelper.StartSpan(context.Background(), tracer, "engine.step",
		attribute.String(otelhelper.NodeIDKey, "ask-name"),
	)
	otelhelper.SetError(span, errors.New("boom"), attribute.String(otelhelper.NodeKindKey, "ask"))
	span.End()

	spans := recorder.Ended()
	require.Len(t, spans, 1)

	ended := spans[0]
	assert.Equal(t, "engine.step", ended.Name())
	assert.Equal(t, codes.Error, ended.Status().Code)
	assert.Equal(t, "boom", ended.Status().Description)
	assert.Contains(t, ended.Attributes(), attribute.String(otelhelper.NodeIDKey, "ask-name"))
	assert.Contains(t, ended.Attributes(), attribute.String(otelhelper.ErrorTypeKey, "*errors.errorString"))

	var names []string
	for _, event := range ended.Events() {
		names = append(names, event.Name)
	}

	assert.Contains(t, names, "error_occurred")
}

func TestSetError_NilLeavesSpanUnset(t *testing.T) {
	recorder := tracetest.NewSpanRecorder()
	provider := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(recorder))

	_, span := otelhelper.StartSpan(context.Background(), provider.Tracer("test"), "dispatcher.dispatch")
	otelhelper.SetError(span, nil)
	span.End()

	spans := recorder.Ended()
	require.Len(t, spans, 1)
	assert.Equal(t, codes.Unset, spans[0].Status().Code)
	assert.Empty(t, spans[0].Events())
}
