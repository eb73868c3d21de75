package observe

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	promexporter "go.opentelemetry.io/otel/exporters/prometheus"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
)

// Resource attribute keys naming the configured backend chains.
const (
	AttrLLMBackends = attribute.Key("echoverse.llm.backends")
	AttrTTSBackends = attribute.Key("echoverse.tts.backends")
)

// ProviderConfig configures [InitProvider].
type ProviderConfig struct {
	// ServiceName defaults to "echoverse".
	ServiceName    string
	ServiceVersion string

	// LLMBackends and TTSBackends list the provider chains in failover
	// order. They are attached to every exported metric and span so a
	// dashboard can tell which services produced the numbers.
	LLMBackends []string
	TTSBackends []string

	// Registerer receives the Prometheus collector. Default:
	// [prometheus.DefaultRegisterer], which promhttp.Handler serves.
	Registerer prometheus.Registerer

	// TraceExporter receives finished spans. Without one spans are still
	// created, so trace IDs reach logs and response headers.
	TraceExporter sdktrace.SpanExporter
}

// newResource describes this process to telemetry backends.
func newResource(cfg ProviderConfig) (*resource.Resource, error) {
	name := cfg.ServiceName
	if name == "" {
		name = "echoverse"
	}
	attrs := []attribute.KeyValue{
		semconv.ServiceName(name),
		semconv.ServiceInstanceID(uuid.NewString()),
	}
	if cfg.ServiceVersion != "" {
		attrs = append(attrs, semconv.ServiceVersion(cfg.ServiceVersion))
	}
	if len(cfg.LLMBackends) > 0 {
		attrs = append(attrs, AttrLLMBackends.StringSlice(cfg.LLMBackends))
	}
	if len(cfg.TTSBackends) > 0 {
		attrs = append(attrs, AttrTTSBackends.StringSlice(cfg.TTSBackends))
	}
	// Schemaless so the merge never conflicts with the SDK default schema.
	return resource.Merge(resource.Default(), resource.NewSchemaless(attrs...))
}

// InitProvider installs global meter and tracer providers. Metrics are
// exported through a Prometheus collector; spans go to cfg.TraceExporter.
//
// The returned function flushes and closes both providers.
func InitProvider(ctx context.Context, cfg ProviderConfig) (func(context.Context) error, error) {
	res, err := newResource(cfg)
	if err != nil {
		return nil, fmt.Errorf("observe: build resource: %w", err)
	}

	var promOpts []promexporter.Option
	if cfg.Registerer != nil {
		promOpts = append(promOpts, promexporter.WithRegisterer(cfg.Registerer))
	}
	reader, err := promexporter.New(promOpts...)
	if err != nil {
		return nil, fmt.Errorf("observe: prometheus exporter: %w", err)
	}
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithResource(res), sdkmetric.WithReader(reader))

	tpOpts := []sdktrace.TracerProviderOption{sdktrace.WithResource(res)}
	if cfg.TraceExporter != nil {
		tpOpts = append(tpOpts, sdktrace.WithBatcher(cfg.TraceExporter))
	}
	tp := sdktrace.NewTracerProvider(tpOpts...)

	otel.SetMeterProvider(mp)
	otel.SetTracerProvider(tp)

	// Spans first so a batch in flight is flushed before the meters close.
	return func(ctx context.Context) error {
		return errors.Join(tp.Shutdown(ctx), mp.Shutdown(ctx))
	}, nil
}
