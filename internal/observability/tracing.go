package observability

import (
	"context"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/signalsfoundry/dfs-precac/internal/logging"
)

// TracerName is the instrumentation scope used for precac spans.
const TracerName = "github.com/signalsfoundry/dfs-precac"

// Span exporters.
const (
	ExporterStdout = "stdout"
	ExporterOTLP   = "otlp"
)

const (
	defaultServiceName  = "precacd"
	defaultOTLPEndpoint = "localhost:4317"
)

// Environment variables overlaid on the tracing block of the config file.
const (
	EnvTracingEnabled  = "PRECAC_TRACING_ENABLED"
	EnvTracingExporter = "PRECAC_TRACING_EXPORTER"
	EnvTracingEndpoint = "PRECAC_OTLP_ENDPOINT"
	EnvTracingRatio    = "PRECAC_TRACING_SAMPLE_RATIO"
	EnvTracingService  = "PRECAC_TRACING_SERVICE_NAME"
)

// TracingConfig is the "tracing" block of the precacd config.
type TracingConfig struct {
	Enabled  bool   `json:"enabled"`
	Exporter string `json:"exporter,omitempty"`
	// Endpoint is the OTLP/gRPC collector address.
	Endpoint string `json:"endpoint,omitempty"`
	// SampleRatio applies to root spans; zero keeps every trace.
	SampleRatio float64 `json:"sample_ratio,omitempty"`
	ServiceName string  `json:"service_name,omitempty"`

	// Output receives stdout spans; nil means os.Stdout.
	Output io.Writer `json:"-"`
}

// ApplyEnv overlays the PRECAC_TRACING_* variables reported by lookup.
// Unparseable values are ignored.
func (c *TracingConfig) ApplyEnv(lookup func(string) (string, bool)) {
	if v, ok := lookup(EnvTracingEnabled); ok {
		if b, err := strconv.ParseBool(v); err == nil {
			c.Enabled = b
		}
	}
	if v, ok := lookup(EnvTracingExporter); ok && v != "" {
		c.Exporter = strings.ToLower(v)
	}
	if v, ok := lookup(EnvTracingEndpoint); ok && v != "" {
		c.Endpoint = v
	}
	if v, ok := lookup(EnvTracingService); ok && v != "" {
		c.ServiceName = v
	}
	if v, ok := lookup(EnvTracingRatio); ok {
		if r, err := strconv.ParseFloat(v, 64); err == nil && r >= 0 && r <= 1 {
			c.SampleRatio = r
		}
	}
}

// Validate rejects exporters and ratios InitTracing cannot honour.
func (c TracingConfig) Validate() error {
	switch strings.ToLower(c.Exporter) {
	case "", ExporterStdout, ExporterOTLP:
	default:
		return fmt.Errorf("unsupported tracing exporter %q", c.Exporter)
	}
	if c.SampleRatio < 0 || c.SampleRatio > 1 {
		return fmt.Errorf("tracing sample_ratio must be within [0, 1], got %g", c.SampleRatio)
	}
	return nil
}

func (c TracingConfig) ratio() float64 {
	if c.SampleRatio == 0 {
		return 1
	}
	return c.SampleRatio
}

func (c TracingConfig) serviceName() string {
	if c.ServiceName == "" {
		return defaultServiceName
	}
	return c.ServiceName
}

// RadioAttributes describes the radios a precacd instance drives. They are
// attached to the tracing resource so spans from several access points can
// be told apart in one collector.
func RadioAttributes(names, domains []string) []attribute.KeyValue {
	return []attribute.KeyValue{
		attribute.Int("precac.radios", len(names)),
		attribute.StringSlice("precac.radio_names", names),
		attribute.StringSlice("precac.domains", domains),
	}
}

// InitTracing installs the global tracer provider for precac spans. extra
// is added to the resource. The returned function flushes and stops the
// exporter.
func InitTracing(ctx context.Context, cfg TracingConfig, log logging.Logger, extra ...attribute.KeyValue) (func(context.Context) error, error) {
	if log == nil {
		log = logging.Noop()
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	if !cfg.Enabled {
		otel.SetTracerProvider(noop.NewTracerProvider())
		otel.SetTextMapPropagator(propagation.TraceContext{})
		log.Debug(ctx, "tracing disabled")
		return func(context.Context) error { return nil }, nil
	}

	tp, err := newTracerProvider(ctx, cfg, extra...)
	if err != nil {
		return nil, err
	}
	otel.SetTracerProvider(tp)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))

	log.Info(ctx, "tracing enabled",
		logging.String("exporter", cfg.Exporter),
		logging.String("service_name", cfg.serviceName()),
		logging.Any("sample_ratio", cfg.ratio()),
	)
	return tp.Shutdown, nil
}

func newTracerProvider(ctx context.Context, cfg TracingConfig, extra ...attribute.KeyValue) (*sdktrace.TracerProvider, error) {
	exp, err := exporterFromConfig(ctx, cfg)
	if err != nil {
		return nil, err
	}

	attrs := append([]attribute.KeyValue{
		attribute.String("service.name", cfg.serviceName()),
		attribute.String("service.namespace", "dfs"),
	}, extra...)
	res, err := resource.New(ctx, resource.WithAttributes(attrs...))
	if err != nil {
		return nil, fmt.Errorf("create resource: %w", err)
	}

	return sdktrace.NewTracerProvider(
		sdktrace.WithSampler(sdktrace.ParentBased(sdktrace.TraceIDRatioBased(cfg.ratio()))),
		sdktrace.WithBatcher(exp),
		sdktrace.WithResource(res),
	), nil
}

// Tracer returns the precac tracer from the global provider.
func Tracer() trace.Tracer {
	return otel.Tracer(TracerName)
}

func exporterFromConfig(ctx context.Context, cfg TracingConfig) (sdktrace.SpanExporter, error) {
	switch strings.ToLower(cfg.Exporter) {
	case ExporterStdout, "":
		out := cfg.Output
		if out == nil {
			out = os.Stdout
		}
		return stdouttrace.New(
			stdouttrace.WithWriter(out),
			stdouttrace.WithoutTimestamps(),
		)
	case ExporterOTLP:
		endpoint := cfg.Endpoint
		if endpoint == "" {
			endpoint = defaultOTLPEndpoint
		}
		client := otlptracegrpc.NewClient(
			otlptracegrpc.WithEndpoint(endpoint),
			otlptracegrpc.WithDialOption(grpc.WithTransportCredentials(insecure.NewCredentials())),
		)
		return otlptrace.New(ctx, client)
	default:
		return nil, fmt.Errorf("unsupported tracing exporter %q", cfg.Exporter)
	}
}

// ShutdownWithTimeout flushes pending spans, giving up after five seconds.
func ShutdownWithTimeout(ctx context.Context, shutdown func(context.Context) error, log logging.Logger) {
	if shutdown == nil {
		return
	}
	if log == nil {
		log = logging.Noop()
	}

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := shutdown(ctx); err != nil {
		log.Warn(ctx, "tracing shutdown failed", logging.Err(err))
	}
}
