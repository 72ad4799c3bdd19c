package observe

import (
	"context"
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/otel"
	otelprom "go.opentelemetry.io/otel/exporters/prometheus"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
)

// ProviderConfig configures the global metric and trace providers.
type ProviderConfig struct {
	// ServiceName identifies the service in exported telemetry. Defaults to
	// "ringline".
	ServiceName string

	// ServiceVersion is attached to the telemetry resource.
	ServiceVersion string

	// Registry receives the Prometheus metric bridge. Defaults to the
	// default registerer, which promhttp.Handler serves.
	Registry prometheus.Registerer

	// SpanExporter, when set, receives finished spans. Without one the
	// tracer provider still propagates context but exports nothing.
	SpanExporter sdktrace.SpanExporter
}

// InitProvider installs global OTel metric and trace providers backed by a
// Prometheus exporter. The returned shutdown flushes and closes both; call
// it when the process exits.
func InitProvider(ctx context.Context, cfg ProviderConfig) (func(context.Context) error, error) {
	if cfg.ServiceName == "" {
		cfg.ServiceName = "ringline"
	}
	if cfg.Registry == nil {
		cfg.Registry = prometheus.DefaultRegisterer
	}

	res, err := resource.Merge(resource.Default(), resource.NewWithAttributes(
		semconv.SchemaURL,
		semconv.ServiceName(cfg.ServiceName),
		semconv.ServiceVersion(cfg.ServiceVersion),
	))
	if err != nil {
		return nil, fmt.Errorf("observe: build resource: %w", err)
	}

	exporter, err := otelprom.New(otelprom.WithRegisterer(cfg.Registry))
	if err != nil {
		return nil, fmt.Errorf("observe: prometheus exporter: %w", err)
	}

	mp := sdkmetric.NewMeterProvider(
		sdkmetric.WithResource(res),
		sdkmetric.WithReader(exporter),
	)
	otel.SetMeterProvider(mp)

	traceOpts := []sdktrace.TracerProviderOption{sdktrace.WithResource(res)}
	if cfg.SpanExporter != nil {
		traceOpts = append(traceOpts, sdktrace.WithBatcher(cfg.SpanExporter))
	}
	tp := sdktrace.NewTracerProvider(traceOpts...)
	otel.SetTracerProvider(tp)

	shutdown := func(ctx context.Context) error {
		terr := tp.Shutdown(ctx)
		merr := mp.Shutdown(ctx)
		if terr != nil {
			return fmt.Errorf("observe: shutdown tracer provider: %w", terr)
		}
		if merr != nil {
			return fmt.Errorf("observe: shutdown meter provider: %w", merr)
		}
		return nil
	}
	return shutdown, nil
}
