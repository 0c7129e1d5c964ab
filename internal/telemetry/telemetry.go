// Package telemetry bootstraps the optional OpenTelemetry MeterProvider
// that cmd/httpd installs globally when OTEL_METRICS_ENDPOINT is set
// (cmd/dnsd does not use it) — adapted from
// packages/go-core/telemetry/metrics.go, which did the same for the
// teacher's gRPC services. This repo defines no metric instruments of
// its own; the provider only exports what instrumented libraries record.
// Like tracing, this is wholly optional: nothing depends on metrics for
// correctness.
package telemetry

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetricgrpc"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	semconv "go.opentelemetry.io/otel/semconv/v1.17.0"
)

// InitMeterProvider bootstraps the OpenTelemetry MeterProvider with an
// OTLP/gRPC metric exporter targeting endpoint. Metrics are flushed
// periodically via a PeriodicReader. The caller must defer
// mp.Shutdown(ctx) to flush pending metrics on exit.
func InitMeterProvider(ctx context.Context, serviceName, endpoint string) (*sdkmetric.MeterProvider, error) {
	exporter, err := otlpmetricgrpc.New(ctx,
		otlpmetricgrpc.WithEndpoint(endpoint),
		otlpmetricgrpc.WithInsecure(),
	)
	if err != nil {
		return nil, err
	}

	mp := sdkmetric.NewMeterProvider(
		sdkmetric.WithReader(sdkmetric.NewPeriodicReader(exporter)),
		sdkmetric.WithResource(resource.NewWithAttributes(
			semconv.SchemaURL,
			semconv.ServiceName(serviceName),
		)),
	)

	otel.SetMeterProvider(mp)
	return mp, nil
}
