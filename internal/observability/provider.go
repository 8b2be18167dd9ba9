// Package observability wires OpenTelemetry tracing and metrics and decorates remote store calls.
package observability

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetrichttp"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/propagation"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
)

const defaultMetricInterval = 30 * time.Second

// TelemetryConfig controls span and metric export.
type TelemetryConfig struct {
	Enabled        bool
	Endpoint       string
	ServiceName    string
	SampleRatio    float64
	MetricInterval time.Duration
}

// Providers holds the SDK providers built from a TelemetryConfig.
type Providers struct {
	Tracer *sdktrace.TracerProvider
	Meter  *sdkmetric.MeterProvider
}

// Shutdown flushes spans and metrics.
func (p Providers) Shutdown(ctx context.Context) error {
	var errs []error
	if p.Tracer != nil {
		errs = append(errs, p.Tracer.Shutdown(ctx))
	}
	if p.Meter != nil {
		errs = append(errs, p.Meter.Shutdown(ctx))
	}
	return errors.Join(errs...)
}

// Setup installs the global tracer and meter providers when telemetry is enabled and an
// endpoint is set. The returned shutdown flushes pending data and should be deferred by the caller.
func Setup(ctx context.Context, cfg TelemetryConfig) (shutdown func(context.Context) error, err error) {
	noop := func(context.Context) error { return nil }

	if !cfg.Enabled || cfg.Endpoint == "" {
		return noop, nil
	}

	providers, err := NewProviders(ctx, cfg)
	if err != nil {
		return noop, err
	}

	otel.SetTracerProvider(providers.Tracer)
	otel.SetMeterProvider(providers.Meter)
	otel.SetTextMapPropagator(propagation.TraceContext{})

	return providers.Shutdown, nil
}

// NewProviders builds OTLP/HTTP exporting providers without touching the globals.
func NewProviders(ctx context.Context, cfg TelemetryConfig) (Providers, error) {
	traceURL, err := signalURL(cfg.Endpoint, "/v1/traces")
	if err != nil {
		return Providers{}, err
	}
	metricURL, err := signalURL(cfg.Endpoint, "/v1/metrics")
	if err != nil {
		return Providers{}, err
	}

	serviceName := cfg.ServiceName
	if serviceName == "" {
		serviceName = "articlespipeline"
	}
	res, err := resource.New(ctx, resource.WithAttributes(semconv.ServiceName(serviceName)))
	if err != nil {
		return Providers{}, fmt.Errorf("build otel resource: %w", err)
	}

	traceExporter, err := otlptracehttp.New(ctx, otlptracehttp.WithEndpointURL(traceURL))
	if err != nil {
		return Providers{}, fmt.Errorf("create otlp trace exporter: %w", err)
	}
	metricExporter, err := otlpmetrichttp.New(ctx, otlpmetrichttp.WithEndpointURL(metricURL))
	if err != nil {
		_ = traceExporter.Shutdown(ctx)
		return Providers{}, fmt.Errorf("create otlp metric exporter: %w", err)
	}

	sampler := sdktrace.AlwaysSample()
	if cfg.SampleRatio > 0 && cfg.SampleRatio < 1 {
		sampler = sdktrace.ParentBased(sdktrace.TraceIDRatioBased(cfg.SampleRatio))
	}
	interval := cfg.MetricInterval
	if interval <= 0 {
		interval = defaultMetricInterval
	}

	return Providers{
		Tracer: sdktrace.NewTracerProvider(
			sdktrace.WithBatcher(traceExporter),
			sdktrace.WithResource(res),
			sdktrace.WithSampler(sampler),
		),
		Meter: sdkmetric.NewMeterProvider(
			sdkmetric.WithReader(sdkmetric.NewPeriodicReader(metricExporter, sdkmetric.WithInterval(interval))),
			sdkmetric.WithResource(res),
		),
	}, nil
}

// signalURL appends the per-signal OTLP path when the endpoint is a bare collector address.
func signalURL(endpoint, path string) (string, error) {
	u, err := url.Parse(strings.TrimSpace(endpoint))
	if err != nil || u.Scheme == "" || u.Host == "" {
		return "", fmt.Errorf("invalid otlp endpoint %q", endpoint)
	}
	if strings.Trim(u.Path, "/") == "" {
		u.Path = path
	}
	return u.String(), nil
}
