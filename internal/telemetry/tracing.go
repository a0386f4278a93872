package telemetry

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"os"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.21.0"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
	"google.golang.org/grpc/credentials"

	"github.com/moolen/hindsight/internal/logging"
)

// TracingConfig holds the OTLP exporter configuration.
type TracingConfig struct {
	Enabled     bool
	Endpoint    string // OTLP gRPC endpoint (e.g., "otel-collector:4317")
	TLSCAPath   string // CA certificate for TLS verification (optional)
	TLSInsecure bool   // Skip TLS certificate verification
}

// TracingProvider wraps the OpenTelemetry TracerProvider. Disabled
// tracing yields a provider whose tracers are no-ops.
type TracingProvider struct {
	tracerProvider *sdktrace.TracerProvider
	logger         *logging.Logger
	enabled        bool
}

// NewTracingProvider creates and initializes the tracing provider and
// installs it as the global otel provider when enabled.
func NewTracingProvider(cfg TracingConfig) (*TracingProvider, error) {
	logger := logging.GetLogger("telemetry")

	if !cfg.Enabled {
		logger.Debug("tracing disabled")
		return &TracingProvider{logger: logger}, nil
	}
	if cfg.Endpoint == "" {
		return nil, fmt.Errorf("tracing enabled but endpoint not configured")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	var otlpOptions []otlptracegrpc.Option
	switch {
	case cfg.TLSInsecure:
		creds := credentials.NewTLS(&tls.Config{
			InsecureSkipVerify: true,
			MinVersion:         tls.VersionTLS12,
		})
		otlpOptions = append(otlpOptions, otlptracegrpc.WithTLSCredentials(creds))
		logger.Info("TLS enabled for tracing with certificate verification disabled (insecure mode)")
	case cfg.TLSCAPath != "":
		caCert, err := os.ReadFile(cfg.TLSCAPath)
		if err != nil {
			return nil, fmt.Errorf("failed to read CA certificate: %w", err)
		}
		certPool := x509.NewCertPool()
		if !certPool.AppendCertsFromPEM(caCert) {
			return nil, fmt.Errorf("failed to append CA certificate to pool")
		}
		creds := credentials.NewTLS(&tls.Config{
			RootCAs:    certPool,
			MinVersion: tls.VersionTLS12,
		})
		otlpOptions = append(otlpOptions, otlptracegrpc.WithTLSCredentials(creds))
		logger.Info("TLS enabled for tracing with CA from: %s", cfg.TLSCAPath)
	default:
		otlpOptions = append(otlpOptions, otlptracegrpc.WithInsecure())
	}
	otlpOptions = append(otlpOptions, otlptracegrpc.WithEndpoint(cfg.Endpoint))

	exporter, err := otlptracegrpc.New(ctx, otlpOptions...)
	if err != nil {
		return nil, fmt.Errorf("failed to create OTLP exporter: %w", err)
	}

	res, err := resource.New(ctx, resource.WithAttributes(
		semconv.ServiceName("hindsight"),
	))
	if err != nil {
		return nil, fmt.Errorf("failed to create resource: %w", err)
	}

	tracerProvider := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
		sdktrace.WithSampler(sdktrace.AlwaysSample()),
	)
	otel.SetTracerProvider(tracerProvider)

	logger.Info("tracing initialized with endpoint %s", cfg.Endpoint)
	return &TracingProvider{
		tracerProvider: tracerProvider,
		logger:         logger,
		enabled:        true,
	}, nil
}

// Tracer returns a tracer for instrumenting code. Disabled providers
// hand out no-op tracers.
func (tp *TracingProvider) Tracer(name string) trace.Tracer {
	if !tp.enabled {
		return noop.NewTracerProvider().Tracer(name)
	}
	return otel.GetTracerProvider().Tracer(name)
}

// IsEnabled reports whether spans are exported.
func (tp *TracingProvider) IsEnabled() bool {
	return tp.enabled
}

// Shutdown flushes remaining spans.
func (tp *TracingProvider) Shutdown(ctx context.Context) error {
	if !tp.enabled {
		return nil
	}
	tp.logger.Debug("shutting down tracing provider")
	if err := tp.tracerProvider.Shutdown(ctx); err != nil {
		tp.logger.Error("error shutting down tracer provider: %v", err)
		return err
	}
	return nil
}
