package mailbus

import (
	"context"
	"testing"

	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

func TestOtelMetricFactory(t *testing.T) {
	ctx := context.Background()
	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	defer mp.Shutdown(ctx)

	metrics, err := NewOtelMetricFactory(mp)
	if err != nil {
		t.Fatalf("NewOtelMetricFactory: %v", err)
	}
	engine := NewSynchronousEngine(WithMetrics(metrics))
	l := newRecorder("indexer", TypeMailbox)
	_ = engine.Deliver(ctx, l, mustAdded(t, testInbox))
	_ = engine.Deliver(ctx, l, mustAdded(t, testInbox))

	var rm metricdata.ResourceMetrics
	if err := reader.Collect(ctx, &rm); err != nil {
		t.Fatalf("Collect: %v", err)
	}

	var count uint64
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			if m.Name != "mailbus.listener.duration" {
				continue
			}
			hist, ok := m.Data.(metricdata.Histogram[float64])
			if !ok {
				t.Fatalf("expected float64 histogram, got %T", m.Data)
			}
			for _, dp := range hist.DataPoints {
				if v, _ := dp.Attributes.Value("timer"); v.AsString() == "mailbox-listener-indexer" {
					count += dp.Count
				}
			}
		}
	}
	if count != 2 {
		t.Errorf("expected 2 recorded durations, got %d", count)
	}
}

func TestDispatcherTracing(t *testing.T) {
	sr := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(sr))
	defer tp.Shutdown(context.Background())

	d := NewDispatcher(WithTracing(true), WithTracerProvider(tp))
	defer d.Close()

	if err := d.Event(context.Background(), mustAdded(t, testInbox)); err != nil {
		t.Fatalf("Event: %v", err)
	}

	spans := sr.Ended()
	if len(spans) != 1 {
		t.Fatalf("expected 1 span, got %d", len(spans))
	}
	if spans[0].Name() != "mailbus.dispatch" {
		t.Errorf("unexpected span name %q", spans[0].Name())
	}
}
