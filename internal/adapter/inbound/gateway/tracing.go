package gateway

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.opentelemetry.io/otel/trace"
)

func resourceFor(serviceName string) *resource.Resource {
	return resource.NewSchemaless(semconv.ServiceName(serviceName))
}

var tracer = otel.Tracer("agentdoor/gateway")

// SetupTracing installs a tracer provider that writes spans to stdout as
// newline-delimited JSON. This is the gateway's only span destination: it
// has no remote collector, by design a self-contained binary doesn't take
// on an OTLP endpoint dependency. Returned shutdown flushes the exporter
// and must be called before process exit.
func SetupTracing(ctx context.Context, serviceName string) (shutdown func(context.Context) error, err error) {
	exporter, err := stdouttrace.New(stdouttrace.WithoutTimestamps())
	if err != nil {
		return nil, fmt.Errorf("gateway: create trace exporter: %w", err)
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(resourceFor(serviceName)),
	)
	otel.SetTracerProvider(tp)

	return tp.Shutdown, nil
}

func (g *Gateway) traceRegistration(ctx context.Context, slug string) (context.Context, trace.Span) {
	return tracer.Start(ctx, "gateway.register",
		trace.WithAttributes(attribute.String("agentdoor.slug", slug)),
	)
}

func traceFetchSpec(ctx context.Context, specURL string) (context.Context, trace.Span) {
	return tracer.Start(ctx, "gateway.fetch_spec",
		trace.WithAttributes(attribute.String("agentdoor.spec_url", specURL)),
	)
}

func traceCompileCapabilities(ctx context.Context) (context.Context, trace.Span) {
	return tracer.Start(ctx, "gateway.compile_capabilities")
}
