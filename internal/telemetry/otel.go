// Package telemetry configures OpenTelemetry tracing.
package telemetry

import (
	"context"
	"io"
	"os"
	"time"

	"github.com/pkg/errors"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	"go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"

	"github.com/fpt/kanoa/internal/config"
	pkgLogger "github.com/fpt/kanoa/pkg/logger"
)

const (
	ExporterNone   = "none"
	ExporterStdout = "stdout"
	ExporterOTLP   = "otlp"

	serviceVersion = "0.1.0"
)

var telemetryLogger = pkgLogger.NewComponentLogger("telemetry")

// Shutdown flushes and stops the tracer provider.
type Shutdown func()

// InitTracer installs a global tracer provider for the configured exporter
// and returns its shutdown function. The "none" exporter leaves the no-op
// provider in place.
func InitTracer(ctx context.Context, serviceName string, cfg config.TelemetrySettings) (Shutdown, error) {
	return initTracer(ctx, serviceName, cfg, os.Stderr)
}

func initTracer(ctx context.Context, serviceName string, cfg config.TelemetrySettings, stdout io.Writer) (Shutdown, error) {
	var exporter trace.SpanExporter
	var err error

	switch cfg.Exporter {
	case "", ExporterNone:
		return func() {}, nil
	case ExporterOTLP:
		opts := []otlptracegrpc.Option{otlptracegrpc.WithInsecure()}
		if cfg.Endpoint != "" {
			opts = append(opts, otlptracegrpc.WithEndpoint(cfg.Endpoint))
		}
		exporter, err = otlptracegrpc.New(ctx, opts...)
		if err != nil {
			return nil, errors.Wrap(err, "failed to create OTLP trace exporter")
		}
	case ExporterStdout:
		exporter, err = stdouttrace.New(stdouttrace.WithWriter(stdout), stdouttrace.WithPrettyPrint())
		if err != nil {
			return nil, errors.Wrap(err, "failed to create stdout trace exporter")
		}
	default:
		return nil, errors.Errorf("unknown telemetry exporter %q", cfg.Exporter)
	}

	res, err := resource.Merge(
		resource.Default(),
		resource.NewWithAttributes(
			"", // Use empty schema URL to avoid conflicts with Default()
			semconv.ServiceNameKey.String(serviceName),
			semconv.ServiceVersionKey.String(serviceVersion),
		),
	)
	if err != nil {
		return nil, errors.Wrap(err, "failed to create resource")
	}

	tp := trace.NewTracerProvider(
		trace.WithBatcher(exporter),
		trace.WithResource(res),
	)
	otel.SetTracerProvider(tp)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(propagation.TraceContext{}, propagation.Baggage{}))
	telemetryLogger.DebugWithIntention(pkgLogger.IntentionConfig, "Tracing enabled", "exporter", cfg.Exporter)

	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := tp.Shutdown(ctx); err != nil {
			telemetryLogger.WarnWithIntention(pkgLogger.IntentionWarning, "Failed to shutdown tracer provider", "error", err)
		}
	}, nil
}
