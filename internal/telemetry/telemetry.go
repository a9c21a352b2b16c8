package telemetry

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
	"go.uber.org/zap"

	"github.com/wellgone/augment-token-manager-worker/internal/config"
)

// InstrumentationName names the tracer shared by the OAuth engine and the
// token validator.
const InstrumentationName = "github.com/wellgone/augment-token-manager-worker"

const exporterSetupTimeout = 10 * time.Second

// Provider owns the tracer provider. A Provider without an SDK provider means
// exporting is off and spans are dropped.
type Provider struct {
	tp *sdktrace.TracerProvider
}

// Enabled reports whether spans leave the process.
func (p *Provider) Enabled() bool {
	return p != nil && p.tp != nil
}

// Tracer returns the tracer handed to services.
func (p *Provider) Tracer() trace.Tracer {
	if !p.Enabled() {
		return otel.Tracer(InstrumentationName)
	}
	return p.tp.Tracer(InstrumentationName)
}

// Shutdown flushes pending spans.
func (p *Provider) Shutdown(ctx context.Context) error {
	if !p.Enabled() {
		return nil
	}
	return p.tp.Shutdown(ctx)
}

// New installs the global tracer provider and propagators. Without
// OTEL_EXPORTER_OTLP_ENDPOINT spans go to a noop provider.
func New(ctx context.Context, cfg config.Config, version string, logger *zap.Logger) (*Provider, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))

	if cfg.TelemetryEndpoint == "" {
		otel.SetTracerProvider(noop.NewTracerProvider())
		logger.Debug("tracing disabled")
		return &Provider{}, nil
	}

	ctx, cancel := context.WithTimeout(ctx, exporterSetupTimeout)
	defer cancel()

	exp, err := otlptracehttp.New(ctx, exporterOptions(cfg)...)
	if err != nil {
		return nil, fmt.Errorf("create otlp exporter: %w", err)
	}

	res, err := serviceResource(ctx, cfg, version)
	if err != nil {
		return nil, fmt.Errorf("build telemetry resource: %w", err)
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithResource(res),
		sdktrace.WithSampler(Sampler(cfg.TelemetrySampleRatio)),
		sdktrace.WithBatcher(exp),
	)
	otel.SetTracerProvider(tp)

	logger.Info("tracing enabled",
		zap.String("endpoint", cfg.TelemetryEndpoint),
		zap.Float64("sample_ratio", cfg.TelemetrySampleRatio),
	)
	return &Provider{tp: tp}, nil
}

// Sampler samples root spans at ratio and follows the parent decision
// otherwise. Ratios outside (0,1) collapse to always or never.
func Sampler(ratio float64) sdktrace.Sampler {
	switch {
	case ratio >= 1:
		return sdktrace.ParentBased(sdktrace.AlwaysSample())
	case ratio <= 0:
		return sdktrace.ParentBased(sdktrace.NeverSample())
	default:
		return sdktrace.ParentBased(sdktrace.TraceIDRatioBased(ratio))
	}
}

// Fail marks span as failed with err. A nil err leaves the span untouched.
func Fail(span trace.Span, err error) {
	if err == nil {
		return
	}
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
}

// exporterOptions accepts either host:port or a full collector URL; a URL
// carries its own scheme and path.
func exporterOptions(cfg config.Config) []otlptracehttp.Option {
	endpoint := cfg.TelemetryEndpoint
	if strings.HasPrefix(endpoint, "http://") || strings.HasPrefix(endpoint, "https://") {
		return []otlptracehttp.Option{otlptracehttp.WithEndpointURL(endpoint)}
	}
	opts := []otlptracehttp.Option{otlptracehttp.WithEndpoint(endpoint)}
	if cfg.TelemetryInsecure {
		opts = append(opts, otlptracehttp.WithInsecure())
	}
	return opts
}

func serviceResource(ctx context.Context, cfg config.Config, version string) (*resource.Resource, error) {
	attrs := []resource.Option{
		resource.WithFromEnv(),
		resource.WithTelemetrySDK(),
		resource.WithProcess(),
	}
	kv := semconv.ServiceName(cfg.ServiceName)
	env := semconv.DeploymentEnvironment(cfg.Environment)
	if version != "" {
		attrs = append(attrs, resource.WithAttributes(kv, env, semconv.ServiceVersion(version)))
	} else {
		attrs = append(attrs, resource.WithAttributes(kv, env))
	}
	return resource.New(ctx, attrs...)
}
