package mailbus

import (
	"log/slog"

	"go.opentelemetry.io/otel/trace"
)

// Default configuration values.
const (
	DefaultPoolSize  = 8    // asynchronous delivery workers
	DefaultQueueSize = 1024 // pending asynchronous deliveries
)

// options holds the configuration shared by engines, factory and dispatcher.
type options struct {
	logger *slog.Logger

	// Delivery
	engine      DeliveryEngine
	poolSize    int
	queueSize   int
	metrics     MetricFactory
	deadLetters DeadLetters

	// Events
	factory     *EventFactory
	idGenerator func() EventID

	// OpenTelemetry
	tracingEnabled bool
	tracerProvider trace.TracerProvider
}

// Option configures mailbus components.
type Option func(*options)

func newOptions(opts ...Option) *options {
	o := &options{
		logger:      slog.Default(),
		poolSize:    DefaultPoolSize,
		queueSize:   DefaultQueueSize,
		metrics:     NoopMetricFactory{},
		idGenerator: newEventID,
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// WithLogger sets a custom logger.
func WithLogger(logger *slog.Logger) Option {
	return func(o *options) {
		if logger != nil {
			o.logger = logger
		}
	}
}

// WithEngine sets the delivery engine used by a Dispatcher. The dispatcher
// does not stop an engine it did not create.
func WithEngine(e DeliveryEngine) Option {
	return func(o *options) {
		if e != nil {
			o.engine = e
		}
	}
}

// WithPoolSize sets the number of asynchronous delivery workers.
// Values less than 1 are ignored.
func WithPoolSize(n int) Option {
	return func(o *options) {
		if n > 0 {
			o.poolSize = n
		}
	}
}

// WithQueueSize sets how many asynchronous deliveries may wait for a worker.
// Values less than 0 are ignored; 0 means deliveries wait for an idle worker.
func WithQueueSize(n int) Option {
	return func(o *options) {
		if n >= 0 {
			o.queueSize = n
		}
	}
}

// WithMetrics sets the factory used to time listener invocations.
func WithMetrics(m MetricFactory) Option {
	return func(o *options) {
		if m != nil {
			o.metrics = m
		}
	}
}

// WithDeadLetters records failed deliveries in d.
func WithDeadLetters(d DeadLetters) Option {
	return func(o *options) {
		if d != nil {
			o.deadLetters = d
		}
	}
}

// WithEventFactory sets the factory used by a Notifier.
func WithEventFactory(f *EventFactory) Option {
	return func(o *options) {
		if f != nil {
			o.factory = f
		}
	}
}

// WithIDGenerator sets the function generating event ids.
func WithIDGenerator(fn func() EventID) Option {
	return func(o *options) {
		if fn != nil {
			o.idGenerator = fn
		}
	}
}

// WithTracing enables OpenTelemetry tracing of dispatch.
func WithTracing(enabled bool) Option {
	return func(o *options) {
		o.tracingEnabled = enabled
	}
}

// WithTracerProvider sets a custom tracer provider.
// If not set, the global tracer provider is used.
func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(o *options) {
		if tp != nil {
			o.tracerProvider = tp
		}
	}
}
