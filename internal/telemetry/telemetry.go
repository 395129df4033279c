// Package telemetry wires the process-wide OpenTelemetry tracer provider.
// pkg/fn's Stage/Then composition calls the package-level
// otel.Tracer(...) helper directly, the same way
// the teacher's pipeline code does — this package is the one place that
// registers a concrete provider behind that global so spans actually
// leave the process instead of going to the no-op default.
package telemetry

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.24.0"
)

// Shutdown flushes and stops the tracer provider; call it on graceful exit.
type Shutdown func(context.Context) error

// Setup configures a batched OTLP/HTTP exporter and registers it as the
// global tracer provider under serviceName. An empty endpoint is a no-op
// (returns a no-op shutdown) — an ingestion worker must never crash-loop
// over a missing tracing collector.
func Setup(ctx context.Context, serviceName, endpoint string) (Shutdown, error) {
	if endpoint == "" {
		return func(context.Context) error { return nil }, nil
	}

	exporter, err := otlptracehttp.New(ctx, otlptracehttp.WithEndpoint(endpoint), otlptracehttp.WithInsecure())
	if err != nil {
		return nil, fmt.Errorf("telemetry: new otlp exporter: %w", err)
	}

	res, err := resource.New(ctx, resource.WithAttributes(
		semconv.ServiceName(serviceName),
	))
	if err != nil {
		return nil, fmt.Errorf("telemetry: build resource: %w", err)
	}

	provider := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
	)
	otel.SetTracerProvider(provider)

	return provider.Shutdown, nil
}
