// Package telemetry configures OpenTelemetry tracing.
package telemetry

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.21.0"

	"github.com/rickgao/relaylink/internal/version"
)

// Exporter names accepted by InitTracer.
const (
	ExporterStdout = "stdout"
	ExporterNone   = "none"
)

// ShutdownFunc flushes and stops the tracer provider.
type ShutdownFunc func(context.Context) error

// InitTracer installs the global tracer provider. With ExporterNone (or an
// empty exporter) tracing stays on the no-op provider and the returned
// shutdown does nothing.
func InitTracer(serviceName, exporter string, logger *slog.Logger) (ShutdownFunc, error) {
	return initTracer(serviceName, exporter, os.Stdout, logger)
}

func initTracer(serviceName, exporter string, out io.Writer, logger *slog.Logger) (ShutdownFunc, error) {
	if logger == nil {
		logger = slog.Default()
	}

	var opts []stdouttrace.Option
	switch exporter {
	case "", ExporterNone:
		logger.Debug("tracing disabled")
		return func(context.Context) error { return nil }, nil
	case ExporterStdout:
		opts = append(opts, stdouttrace.WithWriter(out), stdouttrace.WithPrettyPrint())
	default:
		return nil, fmt.Errorf("unknown trace exporter %q", exporter)
	}

	exp, err := stdouttrace.New(opts...)
	if err != nil {
		return nil, fmt.Errorf("create trace exporter: %w", err)
	}

	res, err := resource.Merge(
		resource.Default(),
		resource.NewWithAttributes(
			"",
			semconv.ServiceName(serviceName),
			semconv.ServiceVersion(version.Version),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("build trace resource: %w", err)
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exp),
		sdktrace.WithResource(res),
	)
	otel.SetTracerProvider(tp)

	logger.Info("OpenTelemetry initialized", "service", serviceName, "exporter", exporter)
	return tp.Shutdown, nil
}
