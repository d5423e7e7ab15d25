// Package otel wraps an archive store with OpenTelemetry tracing and metrics.
package otel

import (
	"context"
	"fmt"
	"io"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/rbaliyan/mailspool/archive"
)

const instrumentationName = "github.com/rbaliyan/mailspool/archive/otel"

// Store decorates an archive.Store with spans and per-operation metrics.
type Store struct {
	backend archive.Store
	opts    *options
	tracer  trace.Tracer

	latency metric.Float64Histogram
	count   metric.Int64Counter
	errors  metric.Int64Counter
	bytes   metric.Int64Counter
}

var _ archive.Store = (*Store)(nil)

// New wraps backend.
func New(backend archive.Store, opts ...Option) (*Store, error) {
	o := newOptions(opts...)

	s := &Store{backend: backend, opts: o}
	if o.tracing {
		s.tracer = o.tracerProvider.Tracer(instrumentationName)
	}
	if o.metrics {
		if err := s.initMetrics(o.meterProvider); err != nil {
			return nil, fmt.Errorf("init metrics: %w", err)
		}
	}
	return s, nil
}

// initMetrics creates one instrument per measure; the operation is an attribute.
func (s *Store) initMetrics(mp metric.MeterProvider) error {
	meter := mp.Meter(instrumentationName)

	var err error
	s.latency, err = meter.Float64Histogram(
		"archive.operation.duration",
		metric.WithDescription("Duration of archive store operations"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return err
	}

	s.count, err = meter.Int64Counter(
		"archive.operation.count",
		metric.WithDescription("Number of archive store operations"),
	)
	if err != nil {
		return err
	}

	s.errors, err = meter.Int64Counter(
		"archive.operation.errors",
		metric.WithDescription("Number of failed archive store operations"),
	)
	if err != nil {
		return err
	}

	s.bytes, err = meter.Int64Counter(
		"archive.bytes",
		metric.WithDescription("Bytes transferred to and from the archive"),
		metric.WithUnit("By"),
	)
	return err
}

// start begins a client span for op and returns a func that ends it and
// records metrics. objectAttrs identify the object and only go on the span.
func (s *Store) start(ctx context.Context, op string, objectAttrs ...attribute.KeyValue) (context.Context, func(err error, n int64)) {
	attrs := []attribute.KeyValue{
		attribute.String("archive.operation", op),
		attribute.String("service.name", s.opts.serviceName),
	}
	if s.opts.backend != "" {
		attrs = append(attrs, attribute.String("archive.backend", s.opts.backend))
	}

	var span trace.Span
	if s.tracer != nil {
		spanAttrs := attrs
		if s.opts.objectKeys {
			spanAttrs = append(spanAttrs[:len(attrs):len(attrs)], objectAttrs...)
		}
		ctx, span = s.tracer.Start(ctx, "archive."+op,
			trace.WithAttributes(spanAttrs...),
			trace.WithSpanKind(trace.SpanKindClient),
		)
	}
	begin := time.Now()

	return ctx, func(err error, n int64) {
		if s.opts.metrics {
			metricAttrs := metric.WithAttributes(attrs...)
			s.latency.Record(ctx, time.Since(begin).Seconds(), metricAttrs)
			s.count.Add(ctx, 1, metricAttrs)
			if n > 0 {
				s.bytes.Add(ctx, n, metricAttrs)
			}
			if err != nil {
				s.errors.Add(ctx, 1, metricAttrs)
			}
		}
		if span != nil {
			if n > 0 {
				span.SetAttributes(attribute.Int64("archive.bytes", n))
			}
			if err != nil {
				span.RecordError(err)
				span.SetStatus(codes.Error, err.Error())
			} else {
				span.SetStatus(codes.Ok, "")
			}
			span.End()
		}
	}
}

// Upload uploads with tracing and metrics.
func (s *Store) Upload(ctx context.Context, key, contentType string, content io.Reader) (string, error) {
	ctx, end := s.start(ctx, "upload", attribute.String("archive.key", key))
	if span := trace.SpanFromContext(ctx); span.IsRecording() {
		span.SetAttributes(attribute.String("archive.content_type", contentType))
	}
	cr := &countingReader{reader: content}
	uri, err := s.backend.Upload(ctx, key, contentType, cr)
	end(err, cr.n)
	return uri, err
}

// Load opens the object. The span ends when the returned reader is closed.
func (s *Store) Load(ctx context.Context, uri string) (io.ReadCloser, error) {
	ctx, end := s.start(ctx, "load", attribute.String("archive.uri", uri))
	r, err := s.backend.Load(ctx, uri)
	if err != nil {
		end(err, 0)
		return nil, err
	}
	return &instrumentedReader{reader: r, end: end}, nil
}

// Delete deletes with tracing and metrics.
func (s *Store) Delete(ctx context.Context, uri string) error {
	ctx, end := s.start(ctx, "delete", attribute.String("archive.uri", uri))
	err := s.backend.Delete(ctx, uri)
	end(err, 0)
	return err
}

type countingReader struct {
	reader io.Reader
	n      int64
}

func (r *countingReader) Read(p []byte) (int, error) {
	n, err := r.reader.Read(p)
	r.n += int64(n)
	return n, err
}

type instrumentedReader struct {
	reader io.ReadCloser
	end    func(err error, n int64)
	n      int64
	closed bool
}

func (r *instrumentedReader) Read(p []byte) (int, error) {
	n, err := r.reader.Read(p)
	r.n += int64(n)
	return n, err
}

func (r *instrumentedReader) Close() error {
	if r.closed {
		return nil
	}
	r.closed = true
	err := r.reader.Close()
	r.end(err, r.n)
	return err
}
