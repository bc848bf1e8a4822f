package inbox

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
	instrumentationName = "github.com/rbaliyan/inbox"
)

// otelInstrumentation holds OpenTelemetry instrumentation for the inbox.
type otelInstrumentation struct {
	enabled bool

	// Tracing
	tracingEnabled bool
	tracer         trace.Tracer

	// Metrics
	metricsEnabled bool

	// Sync cycles
	syncLatency metric.Float64Histogram
	syncCount   metric.Int64Counter
	syncErrors  metric.Int64Counter

	// State flushes
	flushCount  metric.Int64Counter
	flushErrors metric.Int64Counter

	// Coordinator and local mutations
	refreshCoalesced metric.Int64Counter
	mutationCount    metric.Int64Counter
}

// newOtelInstrumentation creates new OTel instrumentation from options.
func newOtelInstrumentation(opts *options) (*otelInstrumentation, error) {
	o := &otelInstrumentation{
		enabled:        opts.tracingEnabled || opts.metricsEnabled,
		tracingEnabled: opts.tracingEnabled,
		metricsEnabled: opts.metricsEnabled,
	}

	if !o.enabled {
		return o, nil
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

	o.syncLatency, err = meter.Float64Histogram(
		"inbox.sync.duration",
		metric.WithDescription("Duration of sync cycles"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return err
	}

	o.syncCount, err = meter.Int64Counter(
		"inbox.sync.count",
		metric.WithDescription("Number of sync cycles"),
	)
	if err != nil {
		return err
	}

	o.syncErrors, err = meter.Int64Counter(
		"inbox.sync.errors",
		metric.WithDescription("Number of sync cycles that did not succeed"),
	)
	if err != nil {
		return err
	}

	o.flushCount, err = meter.Int64Counter(
		"inbox.flush.count",
		metric.WithDescription("Number of messages reported to the server"),
	)
	if err != nil {
		return err
	}

	o.flushErrors, err = meter.Int64Counter(
		"inbox.flush.errors",
		metric.WithDescription("Number of failed state reports"),
	)
	if err != nil {
		return err
	}

	o.refreshCoalesced, err = meter.Int64Counter(
		"inbox.refresh.coalesced",
		metric.WithDescription("Number of refresh requests absorbed by an in-flight refresh"),
	)
	if err != nil {
		return err
	}

	o.mutationCount, err = meter.Int64Counter(
		"inbox.mutation.count",
		metric.WithDescription("Number of messages changed locally"),
	)
	return err
}

// startSpan starts a span and returns a function that ends it.
func (o *otelInstrumentation) startSpan(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, func(error)) {
	if !o.tracingEnabled || o.tracer == nil {
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

func (o *otelInstrumentation) recordSync(ctx context.Context, duration time.Duration, verdict Verdict) {
	if !o.metricsEnabled {
		return
	}

	attrs := metric.WithAttributes(
		attribute.String("verdict", verdict.String()),
	)

	o.syncLatency.Record(ctx, duration.Seconds(), attrs)
	o.syncCount.Add(ctx, 1, attrs)
	if verdict != VerdictSuccess {
		o.syncErrors.Add(ctx, 1, attrs)
	}
}

func (o *otelInstrumentation) recordFlush(ctx context.Context, kind string, count int, err error) {
	if !o.metricsEnabled {
		return
	}

	attrs := metric.WithAttributes(attribute.String("kind", kind))
	if err != nil {
		o.flushErrors.Add(ctx, 1, attrs)
		return
	}
	o.flushCount.Add(ctx, int64(count), attrs)
}

func (o *otelInstrumentation) recordCoalesced(ctx context.Context) {
	if !o.metricsEnabled {
		return
	}
	o.refreshCoalesced.Add(ctx, 1)
}

func (o *otelInstrumentation) recordMutation(ctx context.Context, operation string, count int) {
	if !o.metricsEnabled || count == 0 {
		return
	}
	o.mutationCount.Add(ctx, int64(count), metric.WithAttributes(attribute.String("operation", operation)))
}
