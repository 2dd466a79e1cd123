package cmd

import (
	"context"
	"fmt"
	"io"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"
)

// newTracerProvider returns the global provider unless enabled, in which case
// spans are batched to w as JSON and the provider is installed globally.
func newTracerProvider(enabled bool, w io.Writer) (trace.TracerProvider, func(context.Context) error, error) {
	if !enabled {
		return otel.GetTracerProvider(), func(context.Context) error { return nil }, nil
	}

	exporter, err := stdouttrace.New(stdouttrace.WithWriter(w))
	if err != nil {
		return nil, nil, fmt.Errorf("create stdout exporter: %w", err)
	}

	tp := sdktrace.NewTracerProvider(sdktrace.WithBatcher(exporter))
	otel.SetTracerProvider(tp)
	return tp, tp.Shutdown, nil
}
