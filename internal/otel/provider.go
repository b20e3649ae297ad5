// Package otel provides OpenTelemetry tracer provider initialization and management.
package otel

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.24.0"

	"github.com/mrzor/trace-clocksync/internal/config"
)

// logProxy reports the proxy the exporter's HTTP client will go through.
func logProxy(log zerolog.Logger) {
	httpProxy := os.Getenv("HTTP_PROXY")
	if httpProxy == "" {
		httpProxy = os.Getenv("http_proxy")
	}
	httpsProxy := os.Getenv("HTTPS_PROXY")
	if httpsProxy == "" {
		httpsProxy = os.Getenv("https_proxy")
	}

	if httpProxy == "" && httpsProxy == "" {
		log.Debug().Msg("no proxy configured (HTTP_PROXY/HTTPS_PROXY not set)")
		return
	}
	log.Info().Str("http_proxy", httpProxy).Str("https_proxy", httpsProxy).Msg("proxy configuration")
}

// Resource describes this process to the collector.
func Resource(ctx context.Context, cfg *config.OTELConfig, machineID uint32) (*resource.Resource, error) {
	// service.name plus an instance id derived from the machine
	opts := []resource.Option{
		resource.WithAttributes(
			semconv.ServiceName(cfg.ServiceName),
			semconv.ServiceInstanceID(fmt.Sprintf("machine-%d", machineID)),
		),
	}
	// Add custom resource attributes from OTEL_RESOURCE_ATTRIBUTES
	if customAttrs := cfg.ParseResourceAttributes(); len(customAttrs) > 0 {
		opts = append(opts, resource.WithAttributes(customAttrs...))
	}

	res, err := resource.New(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create resource: %w", err)
	}
	return res, nil
}

// InitProvider initializes the OpenTelemetry tracer provider exporting over
// OTLP/HTTP. The HTTP client honors HTTP_PROXY, HTTPS_PROXY and NO_PROXY.
func InitProvider(ctx context.Context, cfg *config.OTELConfig, machineID uint32, log zerolog.Logger) (*sdktrace.TracerProvider, error) {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	// Log OTEL configuration for debugging
	endpoint := cfg.Endpoint()
	log.Info().
		Str("service_name", cfg.ServiceName).
		Str("endpoint", endpoint).
		Bool("insecure", cfg.Insecure()).
		Str("resource_attributes", cfg.ResourceAttributes).
		Msg("OTEL configuration")
	logProxy(log)

	// Plain HTTP unless the endpoint scheme is https
	exporterOpts := []otlptracehttp.Option{
		otlptracehttp.WithEndpoint(endpoint),
		otlptracehttp.WithTimeout(10 * time.Second),
	}
	if cfg.Insecure() {
		exporterOpts = append(exporterOpts, otlptracehttp.WithInsecure())
	}
	exporter, err := otlptracehttp.New(ctx, exporterOpts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create OTLP trace exporter: %w", err)
	}

	res, err := Resource(ctx, cfg, machineID)
	if err != nil {
		return nil, err
	}

	// Batch span processor; spans flush on ShutdownProvider
	return sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
	), nil
}

// ShutdownProvider gracefully shuts down the tracer provider, flushing any remaining spans.
func ShutdownProvider(ctx context.Context, tp *sdktrace.TracerProvider) error {
	if tp == nil {
		return nil
	}

	if err := tp.Shutdown(ctx); err != nil {
		return fmt.Errorf("failed to shutdown tracer provider: %w", err)
	}

	return nil
}
