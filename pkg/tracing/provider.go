package tracing

import (
	"context"

	"github.com/Ramsey-B/clover/pkg/tracing/exporters"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
)

// Setup installs a global tracer provider for serviceName. With an empty
// endpoint spans are created but discarded. The returned function flushes
// and shuts the provider down.
func Setup(ctx context.Context, serviceName string, otlp exporters.OTLPConfig) (func(context.Context) error, error) {
	var exporter sdktrace.SpanExporter = exporters.DiscardExporter{}
	if otlp.Endpoint != "" {
		exp, err := exporters.NewOTLPExporter(ctx, otlp)
		if err != nil {
			return nil, err
		}
		exporter = exp
	}

	provider := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(resource.NewSchemaless(attribute.String("service.name", serviceName))),
	)
	otel.SetTracerProvider(provider)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(propagation.TraceContext{}, propagation.Baggage{}))
	SetTracer(provider.Tracer(serviceName))

	return provider.Shutdown, nil
}
