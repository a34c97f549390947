package telemetry

import (
	"context"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/sdk/resource"
	"go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
)

type OtlpConfig struct {
	GrpcEndpoint string            `json:"grpc_endpoint" yaml:"grpc_endpoint"`
	HttpEndpoint string            `json:"http_endpoint" yaml:"http_endpoint"`
	Headers      map[string]string `json:"headers" yaml:"headers"`
}

type Config struct {
	Traces OtlpConfig `json:"traces" yaml:"traces"`
}

func (c Config) enabled() bool {
	return c.Traces.GrpcEndpoint != "" || c.Traces.HttpEndpoint != ""
}

// Shutdown flushes any pending spans, it is a no-op when tracing is disabled.
type Shutdown func(ctx context.Context) error

// SetupTracing installs a global tracer provider exporting over otlp. If no
// endpoint is configured the global no-op provider is left in place.
func SetupTracing(ctx context.Context, serviceName string, config Config) (Shutdown, error) {
	if !config.enabled() {
		return func(context.Context) error { return nil }, nil
	}

	r, err := resource.Merge(
		resource.Default(),
		resource.NewWithAttributes(
			semconv.SchemaURL,
			semconv.ServiceName(serviceName),
		),
	)
	if err != nil {
		return nil, err
	}

	exporter, err := otlpTracerExportFromConfig(ctx, config)
	if err != nil {
		return nil, err
	}
	provider := trace.NewTracerProvider(
		trace.WithBatcher(exporter),
		trace.WithResource(r),
	)
	otel.SetTracerProvider(provider)

	return provider.Shutdown, nil
}

func otlpTracerExportFromConfig(ctx context.Context, c Config) (trace.SpanExporter, error) {
	ctx, cancel := context.WithTimeout(ctx, time.Second*3)
	defer cancel()

	if c.Traces.GrpcEndpoint != "" {
		slog.Debug(
			"tracer export initialized",
			"type", "grpc",
			"endpoint", c.Traces.GrpcEndpoint,
			"headers", len(c.Traces.Headers) > 0,
		)
		return otlptracegrpc.New(
			ctx,
			otlptracegrpc.WithEndpointURL(c.Traces.GrpcEndpoint),
			otlptracegrpc.WithHeaders(c.Traces.Headers),
		)
	}

	slog.Debug(
		"tracer export initialized",
		"type", "http",
		"endpoint", c.Traces.HttpEndpoint,
		"headers", len(c.Traces.Headers) > 0,
	)
	return otlptracehttp.New(
		ctx,
		otlptracehttp.WithEndpointURL(c.Traces.HttpEndpoint),
		otlptracehttp.WithHeaders(c.Traces.Headers),
	)
}
