// Package telemetry configures OpenTelemetry tracing for the broker.
package telemetry

import (
	"context"
	"io"
	"log/slog"
	"os"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.21.0"
)

// ServiceName identifies the broker in exported spans.
const ServiceName = "mme-broker"

// Shutdown flushes and stops the tracer provider.
type Shutdown func(context.Context) error

type options struct {
	writer  io.Writer
	batched bool
}

// Option configures InitTracer.
type Option func(*options)

// WithWriter sends spans to w instead of stdout.
func WithWriter(w io.Writer) Option {
	return func(o *options) { o.writer = w }
}

// WithSyncExport exports each span as it ends. Used in tests.
func WithSyncExport() Option {
	return func(o *options) { o.batched = false }
}

// InitTracer installs a global tracer provider exporting to stdout.
func InitTracer(serviceName string, logger *slog.Logger, opts ...Option) (Shutdown, error) {
	o := options{writer: os.Stdout, batched: true}
	for _, opt := range opts {
		opt(&o)
	}

	exporter, err := stdouttrace.New(stdouttrace.WithWriter(o.writer))
	if err != nil {
		return nil, err
	}

	res, err := resource.Merge(
		resource.Default(),
		resource.NewWithAttributes(
			"",
			semconv.ServiceName(serviceName),
		),
	)
	if err != nil {
		return nil, err
	}

	spanProcessor := sdktrace.NewBatchSpanProcessor(exporter)
	if !o.batched {
		spanProcessor = sdktrace.NewSimpleSpanProcessor(exporter)
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithSpanProcessor(spanProcessor),
		sdktrace.WithResource(res),
	)

	otel.SetTracerProvider(tp)
	otel.SetTextMapPropagator(propagation.TraceContext{})

	logger.Info("OpenTelemetry initialized", slog.String("service", serviceName))

	return tp.Shutdown, nil
}

// Noop is the Shutdown used when tracing is disabled.
func Noop(context.Context) error { return nil }
