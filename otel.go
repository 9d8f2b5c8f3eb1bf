package mailbus

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
	instrumentationName = "github.com/rbaliyan/mailbus"
)

// otelInstrumentation traces dispatch passes.
type otelInstrumentation struct {
	tracingEnabled bool
	tracer         trace.Tracer
}

func newOtelInstrumentation(opts *options) *otelInstrumentation {
	o := &otelInstrumentation{tracingEnabled: opts.tracingEnabled}
	if !o.tracingEnabled {
		return o
	}
	tp := opts.tracerProvider
	if tp == nil {
		tp = otel.GetTracerProvider()
	}
	o.tracer = tp.Tracer(instrumentationName)
	return o
}

// startSpan starts a new span if tracing is enabled.
// The returned function ends the span, recording err if non-nil.
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

// OtelMetricFactory records listener timings in an OpenTelemetry histogram.
type OtelMetricFactory struct {
	latency metric.Float64Histogram
}

// NewOtelMetricFactory creates the mailbus.listener.duration histogram on mp.
// If mp is nil the global meter provider is used.
func NewOtelMetricFactory(mp metric.MeterProvider) (*OtelMetricFactory, error) {
	if mp == nil {
		mp = otel.GetMeterProvider()
	}
	latency, err := mp.Meter(instrumentationName).Float64Histogram(
		"mailbus.listener.duration",
		metric.WithDescription("Duration of listener invocations"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, err
	}
	return &OtelMetricFactory{latency: latency}, nil
}

// Timer starts a timer reported under the "timer" attribute.
func (f *OtelMetricFactory) Timer(name string) TimeMetric {
	return &otelTimer{
		latency: f.latency,
		attrs:   metric.WithAttributes(attribute.String("timer", name)),
		start:   time.Now(),
	}
}

type otelTimer struct {
	latency metric.Float64Histogram
	attrs   metric.MeasurementOption
	start   time.Time
}

func (t *otelTimer) StopAndPublish() time.Duration {
	d := time.Since(t.start)
	t.latency.Record(context.Background(), d.Seconds(), t.attrs)
	return d
}
