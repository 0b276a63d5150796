package mailstore

import (
	"context"
	"errors"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

const instrumentationName = "github.com/rbaliyan/mailstore"

// timedOp is the duration, count and error instruments of one kind of work.
type timedOp struct {
	duration metric.Float64Histogram
	count    metric.Int64Counter
	errors   metric.Int64Counter
}

// newTimedOp creates the instruments name.duration, name.count and
// name.errors.
func newTimedOp(meter metric.Meter, name, what string) (timedOp, error) {
	var op timedOp
	var err, e error
	op.duration, e = meter.Float64Histogram(name+".duration",
		metric.WithDescription("Duration of "+what),
		metric.WithUnit("s"))
	err = errors.Join(err, e)
	op.count, e = meter.Int64Counter(name+".count",
		metric.WithDescription("Number of "+what))
	err = errors.Join(err, e)
	op.errors, e = meter.Int64Counter(name+".errors",
		metric.WithDescription("Number of failed "+what))
	err = errors.Join(err, e)
	return op, err
}

func (op timedOp) record(ctx context.Context, d time.Duration, err error, attrs metric.MeasurementOption) {
	op.duration.Record(ctx, d.Seconds(), attrs)
	op.count.Add(ctx, 1, attrs)
	if err != nil {
		op.errors.Add(ctx, 1, attrs)
	}
}

// otelInstrumentation traces mutations and measures mutations, sequence
// allocations and listener failures. Both halves are off by default.
type otelInstrumentation struct {
	tracer trace.Tracer // nil when tracing is off

	metricsEnabled bool
	mutations      timedOp
	allocations    timedOp
	listenerErrors metric.Int64Counter
}

func newOtelInstrumentation(opts *options) (*otelInstrumentation, error) {
	o := &otelInstrumentation{metricsEnabled: opts.telemetry.metrics}

	if opts.telemetry.tracing {
		tp := opts.telemetry.tracerProvider
		if tp == nil {
			tp = otel.GetTracerProvider()
		}
		o.tracer = tp.Tracer(instrumentationName)
	}

	if !opts.telemetry.metrics {
		return o, nil
	}
	mp := opts.telemetry.meterProvider
	if mp == nil {
		mp = otel.GetMeterProvider()
	}
	meter := mp.Meter(instrumentationName)

	var err error
	if o.mutations, err = newTimedOp(meter, "mailstore.mutation", "mailbox mutations"); err != nil {
		return nil, err
	}
	if o.allocations, err = newTimedOp(meter, "mailstore.allocation", "UID/ModSeq allocations"); err != nil {
		return nil, err
	}
	o.listenerErrors, err = meter.Int64Counter("mailstore.listener.errors",
		metric.WithDescription("Number of events a listener failed to handle"))
	if err != nil {
		return nil, err
	}
	return o, nil
}

// startSpan starts an internal span when tracing is on. The returned function
// ends it and records err.
func (o *otelInstrumentation) startSpan(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, func(error)) {
	if o.tracer == nil {
		return ctx, func(error) {}
	}
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

func (o *otelInstrumentation) recordMutation(ctx context.Context, op string, d time.Duration, err error) {
	if o.metricsEnabled {
		o.mutations.record(ctx, d, err, metric.WithAttributes(attribute.String("operation", op)))
	}
}

func (o *otelInstrumentation) recordAllocation(ctx context.Context, kind string, d time.Duration, err error) {
	if o.metricsEnabled {
		o.allocations.record(ctx, d, err, metric.WithAttributes(attribute.String("kind", kind)))
	}
}

func (o *otelInstrumentation) recordDispatchErrors(ctx context.Context, eventType string, n int) {
	if o.metricsEnabled && n > 0 {
		o.listenerErrors.Add(ctx, int64(n), metric.WithAttributes(attribute.String("event_type", eventType)))
	}
}
