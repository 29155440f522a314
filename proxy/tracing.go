package proxy

import (
	"context"
	"net/url"
	"os"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"
)

// NewTracerProvider builds a TracerProvider that exports spans over OTLP/HTTP
// when OTEL_EXPORTER_OTLP_ENDPOINT is set. With no endpoint configured it
// still returns a working provider; spans are created but never leave the
// process, which keeps Pipeline's tracing calls unconditional.
func NewTracerProvider(ctx context.Context) (*sdktrace.TracerProvider, error) {
	endpoint := os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT")
	if endpoint == "" {
		return sdktrace.NewTracerProvider(), nil
	}

	opts := []otlptracehttp.Option{otlptracehttp.WithEndpointURL(endpoint)}
	if u, err := url.Parse(endpoint); err == nil && u.Scheme == "http" {
		opts = append(opts, otlptracehttp.WithInsecure())
	}

	exporter, err := otlptracehttp.New(ctx, opts...)
	if err != nil {
		return nil, err
	}

	return sdktrace.NewTracerProvider(sdktrace.WithBatcher(exporter)), nil
}

// startPipelineSpan starts a span for one proxy request, tagged with enough
// to correlate a trace with the route and dialect it took through the
// pipeline. A nil tracer (tests, or Pipeline built without one) is a no-op.
func startPipelineSpan(ctx context.Context, tracer trace.Tracer, method, path string) (context.Context, trace.Span) {
	if tracer == nil {
		return ctx, nil
	}
	return tracer.Start(ctx, "proxy.handle", trace.WithAttributes(
		attribute.String("http.method", method),
		attribute.String("http.path", path),
	))
}

// annotatePipelineSpan records the routing decisions made for this request
// once they're known, so a trace viewer can filter by model or dialect.
func annotatePipelineSpan(span trace.Span, model, upstream string, useOpenAIDialect, stream bool) {
	if span == nil {
		return
	}
	span.SetAttributes(
		attribute.String("proxy.model", model),
		attribute.String("proxy.upstream", upstream),
		attribute.Bool("proxy.openai_dialect", useOpenAIDialect),
		attribute.Bool("proxy.stream", stream),
	)
}

func endPipelineSpan(span trace.Span, err error) {
	if span == nil {
		return
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	} else {
		span.SetStatus(codes.Ok, "")
	}
	span.End()
}
