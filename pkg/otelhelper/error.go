package otelhelper

import (
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// SetError marks the span failed. attrs are attached to the recorded exception.
func SetError(span trace.Span, err error, attrs ...attribute.KeyValue) {
	if err == nil {
		return
	}

	span.RecordError(err, trace.WithAttributes(attrs...))
	span.SetStatus(codes.Error, err.Error())
}

// SetStepStatus records the terminal status of a step span, and its cause when the step failed.
func SetStepStatus(span trace.Span, status string, err error) {
	span.SetAttributes(attribute.String(StepStatusKey, status))
	SetError(span, err, attribute.String(StepStatusKey, status))
}
