package mailspool

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

const (
	instrumentationName = "github.com/rbaliyan/mailspool"
)

// otelInstrumentation holds OpenTelemetry instrumentation for a transport.
type otelInstrumentation struct {
	serviceName string

	// Tracing
	tracingEnabled bool
	tracer         trace.Tracer

	// Metrics
	metricsEnabled bool

	sendLatency   metric.Float64Histogram
	sendCount     metric.Int64Counter
	sendErrors    metric.Int64Counter
	sendCancelled metric.Int64Counter
	sendBytes     metric.Int64Counter
	collisions    metric.Int64Counter
}

// newOtelInstrumentation creates new OTel instrumentation from options.
func newOtelInstrumentation(opts *options) (*otelInstrumentation, error) {
	o := &otelInstrumentation{
		serviceName:    opts.serviceName,
		tracingEnabled: opts.tracingEnabled,
		metricsEnabled: opts.metricsEnabled,
	}
	if o.serviceName == "" {
		o.serviceName = "mailspool"
	}

	if opts.tracingEnabled {
		tp := opts.tracerProvider
		if tp == nil {
			tp = otel.GetTracerProvider()
		}
		o.tracer = tp.Tracer(instrumentationName)
	}

	if opts.metricsEnabled {
		mp := opts.meterProvider
		if mp == nil {
			mp = otel.GetMeterProvider()
		}
		if err := o.initMetrics(mp); err != nil {
			return nil, err
		}
	}

	return o, nil
}

// initMetrics initializes all metric instruments.
func (o *otelInstrumentation) initMetrics(mp metric.MeterProvider) error {
	meter := mp.Meter(instrumentationName)

	var err error

	o.sendLatency, err = meter.Float64Histogram(
		"mailspool.send.duration",
		metric.WithDescription("Duration of send operations"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return err
	}

	o.sendCount, err = meter.Int64Counter(
		"mailspool.send.count",
		metric.WithDescription("Number of send operations"),
	)
	if err != nil {
		return err
	}

	o.sendErrors, err = meter.Int64Counter(
		"mailspool.send.errors",
		metric.WithDescription("Number of failed send operations"),
	)
	if err != nil {
		return err
	}

	o.sendCancelled, err = meter.Int64Counter(
		"mailspool.send.cancelled",
		metric.WithDescription("Number of sends cancelled by a listener"),
	)
	if err != nil {
		return err
	}

	o.sendBytes, err = meter.Int64Counter(
		"mailspool.send.bytes",
		metric.WithDescription("Total bytes spooled"),
		metric.WithUnit("By"),
	)
	if err != nil {
		return err
	}

	o.collisions, err = meter.Int64Counter(
		"mailspool.spool.collisions",
		metric.WithDescription("Number of exclusive-create name collisions"),
	)
	return err
}

// startSpan starts a new span if tracing is enabled.
// Returns the updated context and a function to end the span.
func (o *otelInstrumentation) startSpan(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, func(error)) {
	if !o.tracingEnabled || o.tracer == nil {
		return ctx, func(error) {}
	}
	attrs = append(attrs, attribute.String("service.name", o.serviceName))
	ctx, span := o.tracer.Start(ctx, name,
		trace.WithAttributes(attrs...),
		trace.WithSpanKind(trace.SpanKindInternal),
	)
	return ctx, func(err error) {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		} else {
			span.SetStatus(codes.Ok, "")
		}
		span.End()
	}
}

// recordSend records send operation metrics.
func (o *otelInstrumentation) recordSend(ctx context.Context, duration time.Duration, recipients, size int, err error) {
	if !o.metricsEnabled {
		return
	}

	attrs := metric.WithAttributes(
		attribute.Int("recipient_count", recipients),
	)

	o.sendLatency.Record(ctx, duration.Seconds(), attrs)
	o.sendCount.Add(ctx, 1, attrs)
	if err != nil {
		o.sendErrors.Add(ctx, 1, attrs)
		return
	}
	o.sendBytes.Add(ctx, int64(size))
}

// recordCancelled records a send short-circuited by a listener.
func (o *otelInstrumentation) recordCancelled(ctx context.Context) {
	if !o.metricsEnabled {
		return
	}
	o.sendCancelled.Add(ctx, 1)
}

// recordCollision records a single exclusive-create collision.
func (o *otelInstrumentation) recordCollision(ctx context.Context, attempt int) {
	if !o.metricsEnabled {
		return
	}
	o.collisions.Add(ctx, 1, metric.WithAttributes(attribute.Int("attempt", attempt)))
}
