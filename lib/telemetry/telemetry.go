package telemetry

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	"go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
)

const defaultMetricInterval = 15 * time.Second

type OtlpConfig struct {
	Traces  OtlpConnConfig `json:"traces"`
	Metrics OtlpConnConfig `json:"metrics"`
}

type Config struct {
	Otlp OtlpConfig `json:"otlp"`
	// MetricInterval is how often metrics are pushed, a go duration string.
	MetricInterval string `json:"metric_interval"`
}

// Telemetry holds whatever providers Setup installed, a one shot run still
// has to call Shutdown so buffered spans are flushed before exit.
type Telemetry struct {
	shutdown []func(context.Context) error
}

func (t Telemetry) Enabled() bool {
	return len(t.shutdown) > 0
}

func (t Telemetry) Shutdown(ctx context.Context) error {
	var errs []error
	for _, fn := range t.shutdown {
		errs = append(errs, fn(ctx))
	}
	return errors.Join(errs...)
}

func newResource(serviceName string) (*resource.Resource, error) {
	hostname, _ := os.Hostname()
	return resource.Merge(
		resource.Default(),
		resource.NewWithAttributes(
			semconv.SchemaURL,
			semconv.ServiceName(serviceName),
			semconv.HostName(hostname),
			semconv.ProcessPID(os.Getpid()),
		),
	)
}

// Setup installs global trace and metric providers exporting over OTLP. A
// signal without an endpoint stays on the no-op provider, so with nothing
// configured Setup does nothing.
func Setup(ctx context.Context, serviceName string, config Config) (Telemetry, error) {
	out := Telemetry{}
	traces := config.Otlp.Traces
	metrics := config.Otlp.Metrics
	if !traces.configured() && !metrics.configured() {
		return out, nil
	}

	interval := defaultMetricInterval
	if config.MetricInterval != "" {
		parsed, err := time.ParseDuration(config.MetricInterval)
		if err != nil || parsed <= 0 {
			return out, fmt.Errorf("telemetry.metric_interval: invalid duration %q", config.MetricInterval)
		}
		interval = parsed
	}

	r, err := newResource(serviceName)
	if err != nil {
		return out, err
	}

	if traces.configured() {
		provider, err := newTraceProvider(ctx, []trace.TracerProviderOption{trace.WithResource(r)}, traces)
		if err != nil {
			return out, fmt.Errorf("trace exporter: %w", err)
		}
		otel.SetTracerProvider(provider)
		out.shutdown = append(out.shutdown, provider.Shutdown)
	}
	if metrics.configured() {
		provider, err := newMetricProvider(ctx, []metric.Option{metric.WithResource(r)}, metrics, interval)
		if err != nil {
			return out, errors.Join(fmt.Errorf("metric exporter: %w", err), out.Shutdown(ctx))
		}
		otel.SetMeterProvider(provider)
		out.shutdown = append(out.shutdown, provider.Shutdown)
	}
	return out, nil
}
