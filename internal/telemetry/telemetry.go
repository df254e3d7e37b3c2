// Package telemetry records whydah metrics and traces through OpenTelemetry.
package telemetry

import (
	"context"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	metricnoop "go.opentelemetry.io/otel/metric/noop"
	"go.opentelemetry.io/otel/trace"
	tracenoop "go.opentelemetry.io/otel/trace/noop"
)

const instrumentationName = "github.com/OrlandoBitencourt/whydah"

// Refresh outcomes
const (
	OutcomeSuccess  = "success"
	OutcomeFailure  = "failure"
	OutcomeRejected = "rejected"
)

// Update outcomes
const (
	UpdateApplied  = "applied"
	UpdateRejected = "rejected"
)

// PropertyInvalid labels updates naming a property outside the settings schema
const PropertyInvalid = "invalid"

// Telemetry holds the instruments used across the service
type Telemetry struct {
	tracer trace.Tracer
	meter  metric.Meter

	refreshes       metric.Int64Counter
	refreshDuration metric.Float64Histogram
	loadErrors      metric.Int64Counter
	updates         metric.Int64Counter
	requests        metric.Int64Counter
	requestDuration metric.Float64Histogram
	services        metric.Int64ObservableGauge
	circuitState    metric.Int64ObservableGauge

	serviceCount atomic.Int64
	circuit      atomic.Int64
}

// Option configures Telemetry
type Option func(*options)

type options struct {
	meterProvider  metric.MeterProvider
	tracerProvider trace.TracerProvider
}

// WithMeterProvider overrides the global meter provider
func WithMeterProvider(mp metric.MeterProvider) Option {
	return func(o *options) {
		o.meterProvider = mp
	}
}

// WithTracerProvider overrides the global tracer provider
func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(o *options) {
		o.tracerProvider = tp
	}
}

// New creates the instruments, using the global OTel providers unless
// overridden.
func New(opts ...Option) (*Telemetry, error) {
	o := &options{
		meterProvider:  otel.GetMeterProvider(),
		tracerProvider: otel.GetTracerProvider(),
	}
	for _, opt := range opts {
		opt(o)
	}

	t := &Telemetry{
		tracer: o.tracerProvider.Tracer(instrumentationName),
		meter:  o.meterProvider.Meter(instrumentationName),
	}

	if err := t.initMetrics(); err != nil {
		return nil, err
	}

	return t, nil
}

// NewNoop returns telemetry that records nothing
func NewNoop() *Telemetry {
	t, err := New(
		WithMeterProvider(metricnoop.NewMeterProvider()),
		WithTracerProvider(tracenoop.NewTracerProvider()),
	)
	if err != nil {
		// noop instruments cannot fail to register
		panic(err)
	}
	return t
}

func (t *Telemetry) initMetrics() error {
	var err error

	t.refreshes, err = t.meter.Int64Counter(
		"whydah.refresh.total",
		metric.WithDescription("Number of config refreshes by outcome"),
		metric.WithUnit("{refresh}"),
	)
	if err != nil {
		return err
	}

	t.refreshDuration, err = t.meter.Float64Histogram(
		"whydah.refresh.duration",
		metric.WithDescription("Duration of fetch and reload during a refresh"),
		metric.WithUnit("ms"),
	)
	if err != nil {
		return err
	}

	t.loadErrors, err = t.meter.Int64Counter(
		"whydah.load.errors",
		metric.WithDescription("Service configs excluded during a load"),
		metric.WithUnit("{service}"),
	)
	if err != nil {
		return err
	}

	t.updates, err = t.meter.Int64Counter(
		"whydah.updates",
		metric.WithDescription("In-memory setting updates by outcome"),
		metric.WithUnit("{update}"),
	)
	if err != nil {
		return err
	}

	t.requests, err = t.meter.Int64Counter(
		"whydah.http.requests",
		metric.WithDescription("HTTP requests served"),
		metric.WithUnit("{request}"),
	)
	if err != nil {
		return err
	}

	t.requestDuration, err = t.meter.Float64Histogram(
		"whydah.http.duration",
		metric.WithDescription("HTTP request latency"),
		metric.WithUnit("ms"),
	)
	if err != nil {
		return err
	}

	t.services, err = t.meter.Int64ObservableGauge(
		"whydah.services",
		metric.WithDescription("Services currently cached"),
		metric.WithUnit("{service}"),
		metric.WithInt64Callback(func(_ context.Context, observer metric.Int64Observer) error {
			observer.Observe(t.serviceCount.Load())
			return nil
		}),
	)
	if err != nil {
		return err
	}

	t.circuitState, err = t.meter.Int64ObservableGauge(
		"whydah.circuit.state",
		metric.WithDescription("Refresh circuit breaker state (0=closed, 1=open, 2=half-open)"),
		metric.WithInt64Callback(func(_ context.Context, observer metric.Int64Observer) error {
			observer.Observe(t.circuit.Load())
			return nil
		}),
	)
	if err != nil {
		return err
	}

	return nil
}

// Tracer returns the service tracer
func (t *Telemetry) Tracer() trace.Tracer {
	return t.tracer
}

// RecordRefresh records one refresh attempt
func (t *Telemetry) RecordRefresh(ctx context.Context, outcome string, duration time.Duration) {
	attrs := metric.WithAttributes(attribute.String("outcome", outcome))
	t.refreshes.Add(ctx, 1, attrs)
	t.refreshDuration.Record(ctx, float64(duration.Milliseconds()), attrs)
}

// RecordLoadError records a service excluded from a load
func (t *Telemetry) RecordLoadError(ctx context.Context, reason string) {
	t.loadErrors.Add(ctx, 1, metric.WithAttributes(attribute.String("reason", reason)))
}

// RecordUpdate records an update attempt against the cache
func (t *Telemetry) RecordUpdate(ctx context.Context, property, outcome string) {
	t.updates.Add(ctx, 1, metric.WithAttributes(
		attribute.String("property", property),
		attribute.String("outcome", outcome),
	))
}

// RecordRequest records a served HTTP request. route is the matched pattern,
// never the raw path, to keep cardinality bounded.
func (t *Telemetry) RecordRequest(ctx context.Context, method, route string, status int, duration time.Duration) {
	attrs := metric.WithAttributes(
		attribute.String("http.method", method),
		attribute.String("http.route", route),
		attribute.Int("http.status_code", status),
	)
	t.requests.Add(ctx, 1, attrs)
	t.requestDuration.Record(ctx, float64(duration.Milliseconds()), attrs)
}

// SetServiceCount updates the cached-services gauge
func (t *Telemetry) SetServiceCount(n int) {
	t.serviceCount.Store(int64(n))
}

// SetCircuitState updates the breaker gauge. Values follow circuit.State.
func (t *Telemetry) SetCircuitState(state int) {
	t.circuit.Store(int64(state))
}
