// Package tracing wires the OTLP trace pipeline. Spans are produced by
// the HTTP middleware and the workflow engine; this package only owns
// exporter setup and shutdown.
package tracing

import (
	"context"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
)

const exporterTimeout = 5 * time.Second

// Config holds trace pipeline settings.
type Config struct {
	ServiceName    string
	ServiceVersion string

	// OTLPEndpoint is the gRPC collector address, host:port.
	OTLPEndpoint string

	Enabled bool

	// SampleRate keeps this fraction of traces, 0.0 to 1.0.
	SampleRate float64
}

// Provider owns the installed TracerProvider. A disabled provider is
// inert; Shutdown on it is a no-op.
type Provider struct {
	tp     *sdktrace.TracerProvider
	logger *slog.Logger
}

// Init builds the OTLP exporter, installs the global tracer provider
// and the W3C trace-context/baggage propagators.
func Init(ctx context.Context, cfg *Config, logger *slog.Logger) (*Provider, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg == nil || !cfg.Enabled {
		logger.Info("tracing disabled")
		return &Provider{logger: logger}, nil
	}

	exporter, err := otlptracegrpc.New(ctx,
		otlptracegrpc.WithEndpoint(cfg.OTLPEndpoint),
		otlptracegrpc.WithInsecure(), // Use TLS in production
		otlptracegrpc.WithTimeout(exporterTimeout),
	)
	if err != nil {
		return nil, err
	}

	res, err := resource.Merge(
		resource.Default(),
		resource.NewWithAttributes(
			semconv.SchemaURL,
			semconv.ServiceName(cfg.ServiceName),
			semconv.ServiceVersion(cfg.ServiceVersion),
		),
	)
	if err != nil {
		return nil, err
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
		sdktrace.WithSampler(samplerFor(cfg.SampleRate)),
	)

	otel.SetTracerProvider(tp)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))

	logger.Info("tracing initialized",
		slog.String("endpoint", cfg.OTLPEndpoint),
		slog.Float64("sample_rate", cfg.SampleRate),
	)
	return &Provider{tp: tp, logger: logger}, nil
}

// Enabled reports whether a real pipeline was installed.
func (p *Provider) Enabled() bool {
	return p.tp != nil
}

// Shutdown flushes pending spans and stops the exporter.
func (p *Provider) Shutdown(ctx context.Context) error {
	if p.tp == nil {
		return nil
	}
	p.logger.Info("shutting down tracer provider")
	return p.tp.Shutdown(ctx)
}

// TracerProvider returns the underlying provider, nil when disabled.
func (p *Provider) TracerProvider() *sdktrace.TracerProvider {
	return p.tp
}

func samplerFor(rate float64) sdktrace.Sampler {
	switch {
	case rate >= 1.0:
		return sdktrace.AlwaysSample()
	case rate <= 0.0:
		return sdktrace.NeverSample()
	default:
		return sdktrace.TraceIDRatioBased(rate)
	}
}
