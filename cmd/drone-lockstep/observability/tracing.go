package observability

import (
	"context"
	"fmt"
	"io"
	"os"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"

	"github.com/picogrid/drone-lockstep/pkg/logger"
)

// TracerName is the instrumentation scope used by the engine
const TracerName = "github.com/picogrid/drone-lockstep"

// TracingConfig governs how tracing is initialised
type TracingConfig struct {
	Enabled     bool
	ServiceName string
	Writer      io.Writer // defaults to stdout
}

// ShutdownFunc flushes and stops the tracer provider
type ShutdownFunc func(context.Context) error

// InitTracing installs a tracer provider. Disabled tracing installs a noop
// provider. The returned tracer is scoped to the engine.
func InitTracing(ctx context.Context, cfg TracingConfig) (trace.Tracer, ShutdownFunc, error) {
	if !cfg.Enabled {
		tp := noop.NewTracerProvider()
		otel.SetTracerProvider(tp)
		logger.Debug("Tracing disabled; using noop tracer provider")
		return tp.Tracer(TracerName), func(context.Context) error { return nil }, nil
	}

	w := cfg.Writer
	if w == nil {
		w = os.Stdout
	}
	exp, err := stdouttrace.New(
		stdouttrace.WithWriter(w),
		stdouttrace.WithPrettyPrint(),
	)
	if err != nil {
		return nil, nil, fmt.Errorf("create stdout exporter: %w", err)
	}

	tp, err := NewTracerProvider(ctx, cfg.ServiceName, exp)
	if err != nil {
		return nil, nil, err
	}
	otel.SetTracerProvider(tp)

	logger.Infof("Tracing enabled (service %s, stdout exporter)", cfg.ServiceName)
	return tp.Tracer(TracerName), tp.Shutdown, nil
}

// NewTracerProvider builds an SDK provider exporting spans synchronously to exp
func NewTracerProvider(ctx context.Context, serviceName string, exp sdktrace.SpanExporter) (*sdktrace.TracerProvider, error) {
	res, err := resource.New(ctx,
		resource.WithAttributes(
			attribute.String("service.name", serviceName),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("create resource: %w", err)
	}

	return sdktrace.NewTracerProvider(
		sdktrace.WithSyncer(exp),
		sdktrace.WithResource(res),
	), nil
}

// ShutdownWithTimeout invokes shutdown with a bounded timeout
func ShutdownWithTimeout(ctx context.Context, shutdown ShutdownFunc) error {
	if shutdown == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := shutdown(ctx); err != nil {
		return fmt.Errorf("tracing shutdown: %w", err)
	}
	return nil
}
