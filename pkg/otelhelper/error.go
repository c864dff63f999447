package otelhelper

import (
	"fmt"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// ErrorTypeKey holds the Go type of the error that failed a span.
const ErrorTypeKey = "error.type"

// SetError marks span failed with err. A nil err leaves the span untouched.
func SetError(span trace.Span, err error, attrs ...attribute.KeyValue) {
	if err == nil {
		return
	}

	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
	span.SetAttributes(attribute.String(ErrorTypeKey, fmt.Sprintf("%T", err)))
	span.AddEvent("error_occurred", trace.WithAttributes(
		attrs...,
	))
}
