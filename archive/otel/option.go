package otel

import (
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

type options struct {
	tracing     bool
	metrics     bool
	serviceName string
	backend     string
	objectKeys  bool

	tracerProvider trace.TracerProvider
	meterProvider  metric.MeterProvider
}

func newOptions(opts ...Option) *options {
	o := &options{
		tracing:        true,
		metrics:        true,
		serviceName:    "mailspool",
		objectKeys:     true,
		tracerProvider: otel.GetTracerProvider(),
		meterProvider:  otel.GetMeterProvider(),
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Option configures the instrumented store.
type Option func(*options)

// WithTracing turns archive spans on or off. On by default.
func WithTracing(enabled bool) Option {
	return func(o *options) {
		o.tracing = enabled
	}
}

// WithMetrics turns archive instruments on or off. On by default.
func WithMetrics(enabled bool) Option {
	return func(o *options) {
		o.metrics = enabled
	}
}

// WithDisabled makes the store a plain pass-through.
func WithDisabled() Option {
	return func(o *options) {
		o.tracing = false
		o.metrics = false
	}
}

// WithServiceName sets service.name on spans and measurements.
func WithServiceName(name string) Option {
	return func(o *options) {
		if name != "" {
			o.serviceName = name
		}
	}
}

// WithBackend labels spans and measurements with archive.backend, for
// example "s3" or "gcs". Unset by default.
func WithBackend(name string) Option {
	return func(o *options) {
		o.backend = name
	}
}

// WithObjectKeys controls whether object keys and URIs are recorded on
// spans. Keys are never recorded on metrics.
func WithObjectKeys(enabled bool) Option {
	return func(o *options) {
		o.objectKeys = enabled
	}
}

// WithTracerProvider overrides the global tracer provider.
func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(o *options) {
		if tp != nil {
			o.tracerProvider = tp
		}
	}
}

// WithMeterProvider overrides the global meter provider.
func WithMeterProvider(mp metric.MeterProvider) Option {
	return func(o *options) {
		if mp != nil {
			o.meterProvider = mp
		}
	}
}
