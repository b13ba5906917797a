package telemetry

import (
	"context"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetricgrpc"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetrichttp"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/trace"
)

const exporterDialTimeout = 3 * time.Second

// OtlpConnConfig points one signal at a collector. The grpc endpoint wins
// when both are set.
type OtlpConnConfig struct {
	GrpcEndpoint string            `json:"grpc_endpoint"`
	HttpEndpoint string            `json:"http_endpoint"`
	Headers      map[string]string `json:"headers"`
}

func (c OtlpConnConfig) configured() bool {
	return c.GrpcEndpoint != "" || c.HttpEndpoint != ""
}

// dial builds an exporter over whichever transport the config names.
func dial[T any](
	ctx context.Context,
	signal string,
	c OtlpConnConfig,
	grpc func(ctx context.Context) (T, error),
	http func(ctx context.Context) (T, error),
) (T, error) {
	ctx, cancel := context.WithTimeout(ctx, exporterDialTimeout)
	defer cancel()

	transport, endpoint, build := "http", c.HttpEndpoint, http
	if c.GrpcEndpoint != "" {
		transport, endpoint, build = "grpc", c.GrpcEndpoint, grpc
	}
	slog.Debug(
		"otlp exporter",
		"signal", signal,
		"transport", transport,
		"endpoint", endpoint,
		"headers", len(c.Headers) > 0,
	)
	return build(ctx)
}

func newTraceProvider(ctx context.Context, opts []trace.TracerProviderOption, c OtlpConnConfig) (*trace.TracerProvider, error) {
	exporter, err := dial[trace.SpanExporter](
		ctx, "traces", c,
		func(ctx context.Context) (trace.SpanExporter, error) {
			return otlptracegrpc.New(
				ctx,
				otlptracegrpc.WithEndpointURL(c.GrpcEndpoint),
				otlptracegrpc.WithHeaders(c.Headers),
			)
		},
		func(ctx context.Context) (trace.SpanExporter, error) {
			return otlptracehttp.New(
				ctx,
				otlptracehttp.WithEndpointURL(c.HttpEndpoint),
				otlptracehttp.WithHeaders(c.Headers),
			)
		},
	)
	if err != nil {
		return nil, err
	}
	return trace.NewTracerProvider(append(opts, trace.WithBatcher(exporter))...), nil
}

func newMetricProvider(ctx context.Context, opts []metric.Option, c OtlpConnConfig, interval time.Duration) (*metric.MeterProvider, error) {
	exporter, err := dial[metric.Exporter](
		ctx, "metrics", c,
		func(ctx context.Context) (metric.Exporter, error) {
			return otlpmetricgrpc.New(
				ctx,
				otlpmetricgrpc.WithEndpointURL(c.GrpcEndpoint),
				otlpmetricgrpc.WithHeaders(c.Headers),
			)
		},
		func(ctx context.Context) (metric.Exporter, error) {
			return otlpmetrichttp.New(
				ctx,
				otlpmetrichttp.WithEndpointURL(c.HttpEndpoint),
				otlpmetrichttp.WithHeaders(c.Headers),
			)
		},
	)
	if err != nil {
		return nil, err
	}
	reader := metric.NewPeriodicReader(exporter, metric.WithInterval(interval))
	return metric.NewMeterProvider(append(opts, metric.WithReader(reader))...), nil
}
