package telemetry

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlplog/otlploghttp"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetrichttp"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/exporters/stdout/stdoutlog"
	"go.opentelemetry.io/otel/exporters/stdout/stdoutmetric"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/log/global"
	"go.opentelemetry.io/otel/propagation"
	sdklog "go.opentelemetry.io/otel/sdk/log"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
)

// Exporter names accepted by Setup
const (
	ExporterNone   = "none"
	ExporterOTLP   = "otlp"
	ExporterStdout = "stdout"
)

// SDKConfig selects where spans, metrics and log records are exported
type SDKConfig struct {
	ServiceName string

	// Exporter is one of ExporterNone, ExporterOTLP or ExporterStdout. The
	// OTLP exporters read their endpoint and headers from the standard
	// OTEL_EXPORTER_OTLP_* environment variables.
	Exporter string

	// MetricInterval is how often metrics are pushed. Defaults to 30s.
	MetricInterval time.Duration

	// Writer receives stdout exporter output. Defaults to os.Stdout.
	Writer io.Writer
}

// ShutdownFunc flushes and stops the installed providers
type ShutdownFunc func(context.Context) error

// ValidExporter reports whether name is a known exporter
func ValidExporter(name string) bool {
	switch strings.ToLower(name) {
	case "", ExporterNone, ExporterOTLP, ExporterStdout:
		return true
	}
	return false
}

// Setup installs SDK tracer, meter and logger providers as the OTel globals.
// With ExporterNone nothing is installed and the returned shutdown is a no-op.
func Setup(ctx context.Context, cfg SDKConfig) (ShutdownFunc, error) {
	exporter := strings.ToLower(cfg.Exporter)
	if exporter == "" || exporter == ExporterNone {
		return func(context.Context) error { return nil }, nil
	}
	if !ValidExporter(exporter) {
		return nil, fmt.Errorf("unknown telemetry exporter %q", cfg.Exporter)
	}

	if cfg.ServiceName == "" {
		cfg.ServiceName = "whydah"
	}
	if cfg.MetricInterval <= 0 {
		cfg.MetricInterval = 30 * time.Second
	}
	if cfg.Writer == nil {
		cfg.Writer = os.Stdout
	}

	res, err := resource.Merge(resource.Default(),
		resource.NewSchemaless(attribute.String("service.name", cfg.ServiceName)))
	if err != nil {
		return nil, fmt.Errorf("failed to build resource: %w", err)
	}

	var shutdowns []ShutdownFunc
	shutdown := func(ctx context.Context) error {
		var errs error
		for i := len(shutdowns) - 1; i >= 0; i-- {
			errs = errors.Join(errs, shutdowns[i](ctx))
		}
		return errs
	}
	fail := func(err error) (ShutdownFunc, error) {
		return nil, errors.Join(err, shutdown(ctx))
	}

	spanExp, err := newSpanExporter(ctx, exporter, cfg.Writer)
	if err != nil {
		return fail(fmt.Errorf("failed to create span exporter: %w", err))
	}
	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(spanExp),
		sdktrace.WithResource(res),
	)
	shutdowns = append(shutdowns, tp.Shutdown)

	metricExp, err := newMetricExporter(ctx, exporter, cfg.Writer)
	if err != nil {
		return fail(fmt.Errorf("failed to create metric exporter: %w", err))
	}
	mp := sdkmetric.NewMeterProvider(
		sdkmetric.WithReader(sdkmetric.NewPeriodicReader(metricExp, sdkmetric.WithInterval(cfg.MetricInterval))),
		sdkmetric.WithResource(res),
	)
	shutdowns = append(shutdowns, mp.Shutdown)

	logExp, err := newLogExporter(ctx, exporter, cfg.Writer)
	if err != nil {
		return fail(fmt.Errorf("failed to create log exporter: %w", err))
	}
	lp := sdklog.NewLoggerProvider(
		sdklog.WithProcessor(sdklog.NewBatchProcessor(logExp)),
		sdklog.WithResource(res),
	)
	shutdowns = append(shutdowns, lp.Shutdown)

	otel.SetTracerProvider(tp)
	otel.SetMeterProvider(mp)
	global.SetLoggerProvider(lp)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))

	return shutdown, nil
}

func newSpanExporter(ctx context.Context, exporter string, w io.Writer) (sdktrace.SpanExporter, error) {
	if exporter == ExporterStdout {
		return stdouttrace.New(stdouttrace.WithWriter(w))
	}
	return otlptracehttp.New(ctx)
}

func newMetricExporter(ctx context.Context, exporter string, w io.Writer) (sdkmetric.Exporter, error) {
	if exporter == ExporterStdout {
		return stdoutmetric.New(stdoutmetric.WithWriter(w))
	}
	return otlpmetrichttp.New(ctx)
}

func newLogExporter(ctx context.Context, exporter string, w io.Writer) (sdklog.Exporter, error) {
	if exporter == ExporterStdout {
		return stdoutlog.New(stdoutlog.WithWriter(w))
	}
	return otlploghttp.New(ctx)
}
