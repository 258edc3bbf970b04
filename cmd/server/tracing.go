package main

import (
	"context"
	"fmt"
	"io"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"

	"github.com/fenggwsx/PostBoard/internal/config"
)

const (
	traceOff    = "off"
	traceStdout = "stdout"
	serviceName = "postboard-server"
)

// setupTracing installs the global tracer provider selected by cfg.Trace.
// The returned func flushes and stops the provider.
func setupTracing(cfg config.ServerConfig, out io.Writer) (func(context.Context) error, error) {
	switch cfg.Trace {
	case "", traceOff:
		return func(context.Context) error { return nil }, nil
	case traceStdout:
		exporter, err := stdouttrace.New(stdouttrace.WithWriter(out))
		if err != nil {
			return nil, fmt.Errorf("stdout trace exporter: %w", err)
		}
		tp := sdktrace.NewTracerProvider(
			sdktrace.WithBatcher(exporter),
			sdktrace.WithResource(resource.NewSchemaless(
				attribute.String("service.name", serviceName),
			)),
		)
		otel.SetTracerProvider(tp)
		return tp.Shutdown, nil
	default:
		return nil, fmt.Errorf("unknown trace exporter %q", cfg.Trace)
	}
}
