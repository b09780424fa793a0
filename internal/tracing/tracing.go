// Package tracing wires OpenTelemetry for uicase: an OTLP/gRPC exporter for
// run spans and W3C trace context on calls to the browser agent and the
// result webhook.
package tracing

import (
	"context"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"strings"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.24.0"
	"go.opentelemetry.io/otel/trace"
	"google.golang.org/grpc/credentials"
)

const defaultServiceName = "uicase"

// Config mirrors config.TracingConfig; OTEL_* environment variables fill blanks.
type Config struct {
	Enabled     bool
	ServiceName string
	Environment string

	OTLPEndpoint string
	OTLPInsecure bool

	SampleRatio float64
}

type ShutdownFunc func(context.Context) error

func noop(context.Context) error { return nil }

// resolved applies env fallbacks and defaults.
func (c Config) resolved() Config {
	out := c
	out.ServiceName = firstSet(c.ServiceName, os.Getenv("OTEL_SERVICE_NAME"), defaultServiceName)
	out.OTLPEndpoint = sanitizeEndpoint(firstSet(c.OTLPEndpoint, os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"), "localhost:4317"))
	if v := strings.TrimSpace(os.Getenv("OTEL_EXPORTER_OTLP_INSECURE")); v != "" {
		out.OTLPInsecure = parseBool(v)
	}
	if out.SampleRatio <= 0 || out.SampleRatio > 1 {
		out.SampleRatio = 1
	}
	out.Environment = strings.TrimSpace(out.Environment)
	return out
}

// Setup installs the global tracer provider and propagator. Exporter failures
// are logged and leave tracing off; they never stop the service.
func Setup(ctx context.Context, cfg Config, logger *slog.Logger) (ShutdownFunc, error) {
	if logger == nil {
		logger = slog.Default()
	}
	otel.SetTextMapPropagator(propagator())
	if !cfg.Enabled {
		return noop, nil
	}
	cfg = cfg.resolved()

	opts := []otlptracegrpc.Option{otlptracegrpc.WithEndpoint(cfg.OTLPEndpoint)}
	if cfg.OTLPInsecure {
		opts = append(opts, otlptracegrpc.WithInsecure())
	} else {
		opts = append(opts, otlptracegrpc.WithTLSCredentials(credentials.NewClientTLSFromCert(nil, "")))
	}
	exp, err := otlptracegrpc.New(ctx, opts...)
	if err != nil {
		logger.Warn("otlp exporter unavailable, tracing off", "endpoint", cfg.OTLPEndpoint, "err", err)
		return noop, nil
	}

	res, err := resource.Merge(resource.Default(), resource.NewWithAttributes(semconv.SchemaURL, resourceAttrs(cfg)...))
	if err != nil {
		logger.Warn("otel resource merge failed", "err", err)
		res = resource.Default()
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exp),
		sdktrace.WithResource(res),
		sdktrace.WithSampler(sdktrace.ParentBased(sdktrace.TraceIDRatioBased(cfg.SampleRatio))),
	)
	otel.SetTracerProvider(tp)
	logger.Info("tracing enabled", "service", cfg.ServiceName, "endpoint", cfg.OTLPEndpoint, "sample_ratio", cfg.SampleRatio)
	return tp.Shutdown, nil
}

func resourceAttrs(cfg Config) []attribute.KeyValue {
	attrs := []attribute.KeyValue{semconv.ServiceName(cfg.ServiceName)}
	if cfg.Environment != "" {
		attrs = append(attrs, semconv.DeploymentEnvironment(cfg.Environment))
	}
	return attrs
}

// Tracer returns a named tracer from the global provider.
func Tracer(name string) trace.Tracer {
	return otel.Tracer(defaultServiceName + "/" + name)
}

// propagator carries TraceContext only; baggage never leaves the process.
func propagator() propagation.TextMapPropagator {
	return propagation.TraceContext{}
}

// InjectHeaders writes traceparent/tracestate for the span in ctx into h.
func InjectHeaders(ctx context.Context, h http.Header) {
	if h == nil {
		return
	}
	propagator().Inject(ctx, propagation.HeaderCarrier(h))
}

// sanitizeEndpoint turns URL-style OTLP endpoints into the host:port the gRPC
// exporter dials.
func sanitizeEndpoint(raw string) string {
	raw = strings.TrimSpace(raw)
	if strings.HasPrefix(raw, "http://") || strings.HasPrefix(raw, "https://") {
		if u, err := url.Parse(raw); err == nil && u.Host != "" {
			return u.Host
		}
	}
	return strings.TrimSuffix(raw, "/")
}

func firstSet(vals ...string) string {
	for _, v := range vals {
		if v = strings.TrimSpace(v); v != "" {
			return v
		}
	}
	return ""
}

func parseBool(v string) bool {
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "1", "true", "yes", "y", "on":
		return true
	}
	return false
}

// ExtractHeaders continues the W3C trace carried by inbound headers, if any.
func ExtractHeaders(ctx context.Context, h http.Header) context.Context {
	return propagator().Extract(ctx, propagation.HeaderCarrier(h))
}
