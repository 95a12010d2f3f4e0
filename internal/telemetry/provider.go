package telemetry

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/stdout/stdoutmetric"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.opentelemetry.io/otel/trace"
)

// ProviderConfig configures the OpenTelemetry providers.
type ProviderConfig struct {
	ServiceName    string
	ServiceVersion string
	Enabled        bool
	// Writer receives the exported spans and metrics. Defaults to stdout.
	Writer io.Writer
	// ExportInterval is the periodic metric export interval.
	ExportInterval time.Duration
}

// DefaultProviderConfig returns sane defaults for local use.
func DefaultProviderConfig() *ProviderConfig {
	return &ProviderConfig{
		ServiceName:    "agentguard",
		ServiceVersion: "dev",
		Enabled:        true,
		ExportInterval: 15 * time.Second,
	}
}

// Provider manages the OpenTelemetry trace and metric providers. Spans and
// metric readings are exported to a writer (stdout by default), which is
// enough to observe a single embedded guard without standing up a collector.
type Provider struct {
	config         *ProviderConfig
	tracerProvider *sdktrace.TracerProvider
	meterProvider  *sdkmetric.MeterProvider
	tracer         trace.Tracer
	meter          metric.Meter
	logger         *slog.Logger
}

// NewProvider creates an observability provider. A disabled config returns a
// provider whose Tracer and Meter are no-ops.
func NewProvider(ctx context.Context, config *ProviderConfig, logger *slog.Logger) (*Provider, error) {
	if config == nil {
		config = DefaultProviderConfig()
	}
	if logger == nil {
		logger = slog.Default()
	}

	p := &Provider{
		config: config,
		logger: logger.With("component", "telemetry"),
	}
	if !config.Enabled {
		p.logger.InfoContext(ctx, "telemetry disabled")
		return p, nil
	}

	res, err := resource.Merge(
		resource.Default(),
		resource.NewWithAttributes(
			semconv.SchemaURL,
			semconv.ServiceName(config.ServiceName),
			semconv.ServiceVersion(config.ServiceVersion),
			attribute.String("agentguard.component", "guard"),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("create telemetry resource: %w", err)
	}

	if err := p.initTraceProvider(res); err != nil {
		return nil, fmt.Errorf("init trace provider: %w", err)
	}
	if err := p.initMetricProvider(res); err != nil {
		return nil, fmt.Errorf("init metric provider: %w", err)
	}

	p.tracer = p.tracerProvider.Tracer("agentguard",
		trace.WithInstrumentationVersion(config.ServiceVersion),
	)
	p.meter = p.meterProvider.Meter("agentguard",
		metric.WithInstrumentationVersion(config.ServiceVersion),
	)

	p.logger.InfoContext(ctx, "telemetry initialized",
		"service", config.ServiceName,
		"version", config.ServiceVersion,
	)
	return p, nil
}

func (p *Provider) initTraceProvider(res *resource.Resource) error {
	opts := []stdouttrace.Option{stdouttrace.WithPrettyPrint()}
	if p.config.Writer != nil {
		opts = append(opts, stdouttrace.WithWriter(p.config.Writer))
	}
	exporter, err := stdouttrace.New(opts...)
	if err != nil {
		return err
	}

	p.tracerProvider = sdktrace.NewTracerProvider(
		sdktrace.WithResource(res),
		sdktrace.WithBatcher(exporter),
	)
	return nil
}

func (p *Provider) initMetricProvider(res *resource.Resource) error {
	var opts []stdoutmetric.Option
	if p.config.Writer != nil {
		opts = append(opts, stdoutmetric.WithWriter(p.config.Writer))
	}
	exporter, err := stdoutmetric.New(opts...)
	if err != nil {
		return err
	}

	interval := p.config.ExportInterval
	if interval <= 0 {
		interval = 15 * time.Second
	}
	p.meterProvider = sdkmetric.NewMeterProvider(
		sdkmetric.WithResource(res),
		sdkmetric.WithReader(sdkmetric.NewPeriodicReader(exporter,
			sdkmetric.WithInterval(interval),
		)),
	)
	return nil
}

// Tracer returns the configured tracer, or a no-op tracer when disabled.
func (p *Provider) Tracer() trace.Tracer {
	if p.tracer == nil {
		return otel.GetTracerProvider().Tracer("agentguard")
	}
	return p.tracer
}

// Meter returns the configured meter, or a no-op meter when disabled.
func (p *Provider) Meter() metric.Meter {
	if p.meter == nil {
		return otel.GetMeterProvider().Meter("agentguard")
	}
	return p.meter
}

// StartSpan starts a span on the provider's tracer.
func (p *Provider) StartSpan(ctx context.Context, name string, opts ...trace.SpanStartOption) (context.Context, trace.Span) {
	return p.Tracer().Start(ctx, name, opts...)
}

// Shutdown flushes and stops both providers.
func (p *Provider) Shutdown(ctx context.Context) error {
	if p.tracerProvider != nil {
		if err := p.tracerProvider.Shutdown(ctx); err != nil {
			p.logger.ErrorContext(ctx, "trace provider shutdown failed", "error", err)
		}
	}
	if p.meterProvider != nil {
		if err := p.meterProvider.Shutdown(ctx); err != nil {
			p.logger.ErrorContext(ctx, "metric provider shutdown failed", "error", err)
		}
	}
	return nil
}
