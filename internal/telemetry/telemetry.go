// Package telemetry configures OpenTelemetry tracing. Spans are exported over
// OTLP/HTTP when an endpoint is configured; otherwise they are still created
// so trace context reaches the Pub/Sub notifications.
package telemetry

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.uber.org/zap"
)

const exporterTimeout = 3 * time.Second

// Config selects the service identity and trace destination.
type Config struct {
	ServiceName string
	Version     string
	// Endpoint is an OTLP/HTTP URL such as http://collector:4318. Empty disables export.
	Endpoint string
	Headers  map[string]string
	// SampleRatio is the fraction of root spans kept. Zero or less keeps every span.
	SampleRatio float64
}

// Telemetry owns the installed tracer provider.
type Telemetry struct {
	provider *sdktrace.TracerProvider
}

// Option customizes Setup.
type Option func(*[]sdktrace.TracerProviderOption)

// WithSpanProcessor adds a processor alongside the exporter.
func WithSpanProcessor(sp sdktrace.SpanProcessor) Option {
	return func(opts *[]sdktrace.TracerProviderOption) {
		*opts = append(*opts, sdktrace.WithSpanProcessor(sp))
	}
}

// Setup builds a tracer provider and installs it, with W3C trace context and
// baggage propagation, as the otel globals.
func Setup(ctx context.Context, cfg Config, logger *zap.Logger, opts ...Option) (*Telemetry, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.ServiceName == "" {
		cfg.ServiceName = "polmsg"
	}

	res, err := resource.Merge(
		resource.Default(),
		resource.NewWithAttributes(
			semconv.SchemaURL,
			semconv.ServiceName(cfg.ServiceName),
			semconv.ServiceVersion(cfg.Version),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("create resource: %w", err)
	}

	sampler := sdktrace.AlwaysSample()
	if cfg.SampleRatio > 0 && cfg.SampleRatio < 1 {
		sampler = sdktrace.ParentBased(sdktrace.TraceIDRatioBased(cfg.SampleRatio))
	}
	tpOpts := []sdktrace.TracerProviderOption{
		sdktrace.WithResource(res),
		sdktrace.WithSampler(sampler),
	}

	if cfg.Endpoint != "" {
		exportCtx, cancel := context.WithTimeout(ctx, exporterTimeout)
		defer cancel()
		exporter, err := otlptracehttp.New(exportCtx,
			otlptracehttp.WithEndpointURL(cfg.Endpoint),
			otlptracehttp.WithHeaders(cfg.Headers),
		)
		if err != nil {
			return nil, fmt.Errorf("create otlp trace exporter: %w", err)
		}
		tpOpts = append(tpOpts, sdktrace.WithBatcher(exporter))
		logger.Info("exporting traces", zap.String("endpoint", cfg.Endpoint))
	} else {
		logger.Info("trace export disabled; spans stay in process")
	}
	for _, opt := range opts {
		opt(&tpOpts)
	}

	tp := sdktrace.NewTracerProvider(tpOpts...)
	otel.SetTracerProvider(tp)
	otel.SetTextMapPropagator(
		propagation.NewCompositeTextMapPropagator(propagation.TraceContext{}, propagation.Baggage{}),
	)
	return &Telemetry{provider: tp}, nil
}

// Shutdown flushes pending spans and stops the provider.
func (t *Telemetry) Shutdown(ctx context.Context) error {
	if err := t.provider.Shutdown(ctx); err != nil {
		return fmt.Errorf("shutdown tracer provider: %w", err)
	}
	return nil
}
