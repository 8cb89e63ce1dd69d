// Package tracing bootstraps OpenTelemetry for the dispatch loop (C7) and
// storage gateway (C1): one span per handler invocation, one child span per
// storage operation. Grounded on the teacher's internal/observability/otel.go,
// trimmed to the stdout exporter since this system has no OTLP collector to
// send to (see SPEC_FULL.md §11).
package tracing

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.27.0"

	"github.com/gobflow/workflow-manager/internal/logger"
)

// Init wires a TracerProvider with the stdout exporter as the process-wide
// default and returns a shutdown func to flush on exit.
func Init(ctx context.Context, log *logger.Logger, serviceName string) (func(context.Context) error, error) {
	res, err := resource.New(ctx, resource.WithAttributes(semconv.ServiceNameKey.String(serviceName)))
	if err != nil {
		log.Warn("otel resource init failed, continuing without attributes", "error", err)
		res = resource.Default()
	}

	exp, err := stdouttrace.New(stdouttrace.WithPrettyPrint())
	if err != nil {
		return nil, err
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exp),
		sdktrace.WithResource(res),
	)
	otel.SetTracerProvider(tp)
	log.Info("otel tracing initialized", "exporter", "stdout", "service", serviceName)
	return tp.Shutdown, nil
}
