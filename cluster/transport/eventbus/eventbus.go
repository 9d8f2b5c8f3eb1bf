// Package eventbus carries cluster payloads over a github.com/rbaliyan/event/v3
// Bus, so any of its transports (Redis Streams, NATS, Kafka, in-memory
// channel) can connect the nodes.
//
// Every topic maps to one typed event named "<prefix><topic>" registered on
// the bus on first use.
package eventbus

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/rbaliyan/event/v3"

	"github.com/rbaliyan/mailbus/cluster"
)

// DefaultPrefix is prepended to topics to form event names.
const DefaultPrefix = "mailbus.topic."

var (
	// ErrNilBus is returned by New without a bus.
	ErrNilBus = errors.New("eventbus: bus is required")
	// ErrNoReceiver is returned by Init when no receiver was set.
	ErrNoReceiver = errors.New("eventbus: no message receiver set")
)

// Compile-time checks
var (
	_ cluster.Publisher       = (*Transport)(nil)
	_ cluster.MessageConsumer = (*Transport)(nil)
)

// Envelope is the event data published for one payload.
type Envelope struct {
	Topic   string `json:"topic"`
	Payload []byte `json:"payload"`
}

// Option configures a Transport.
type Option func(*Transport)

// WithPrefix sets the event name prefix.
func WithPrefix(prefix string) Option {
	return func(t *Transport) {
		if prefix != "" {
			t.prefix = prefix
		}
	}
}

// WithLogger sets a custom logger.
func WithLogger(l *slog.Logger) Option {
	return func(t *Transport) {
		if l != nil {
			t.logger = l
		}
	}
}

// Transport publishes and consumes cluster payloads as bus events. The
// caller owns the bus.
type Transport struct {
	bus    *event.Bus
	prefix string
	logger *slog.Logger

	eventsMu sync.Mutex
	events   map[cluster.Topic]event.Event[Envelope]

	mu      sync.Mutex
	receive cluster.MessageReceiver
	topic   cluster.Topic
	closed  atomic.Bool
}

// New creates a transport over bus.
func New(bus *event.Bus, opts ...Option) (*Transport, error) {
	if bus == nil {
		return nil, ErrNilBus
	}
	t := &Transport{
		bus:    bus,
		prefix: DefaultPrefix,
		logger: slog.Default(),
		events: make(map[cluster.Topic]event.Event[Envelope]),
	}
	for _, opt := range opts {
		opt(t)
	}
	return t, nil
}

// event returns the registered event of topic.
func (t *Transport) event(ctx context.Context, topic cluster.Topic) (event.Event[Envelope], error) {
	t.eventsMu.Lock()
	defer t.eventsMu.Unlock()
	if ev, ok := t.events[topic]; ok {
		return ev, nil
	}
	ev := event.New[Envelope](t.prefix + string(topic))
	if err := event.Register(ctx, t.bus, ev); err != nil && !errors.Is(err, event.ErrAlreadyBound) {
		var zero event.Event[Envelope]
		return zero, fmt.Errorf("eventbus: register %s: %w", topic, err)
	}
	t.events[topic] = ev
	return ev, nil
}

// Publish implements cluster.Publisher.
func (t *Transport) Publish(ctx context.Context, topic cluster.Topic, payload []byte) error {
	ev, err := t.event(ctx, topic)
	if err != nil {
		return err
	}
	if err := ev.Publish(ctx, Envelope{Topic: string(topic), Payload: payload}); err != nil {
		return fmt.Errorf("eventbus: publish %s: %w", topic, err)
	}
	return nil
}

// SetMessageReceiver implements cluster.MessageConsumer.
func (t *Transport) SetMessageReceiver(r cluster.MessageReceiver) {
	t.mu.Lock()
	t.receive = r
	t.mu.Unlock()
}

// Init implements cluster.MessageConsumer.
func (t *Transport) Init(ctx context.Context, topic cluster.Topic) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.receive == nil {
		return ErrNoReceiver
	}
	if t.topic != "" {
		return cluster.ErrAlreadyStarted
	}

	ev, err := t.event(ctx, topic)
	if err != nil {
		return err
	}
	receive := t.receive
	if err := ev.Subscribe(ctx, func(ctx context.Context, _ event.Event[Envelope], env Envelope) error {
		if t.closed.Load() {
			return nil
		}
		receive(ctx, env.Payload)
		return nil
	}); err != nil {
		return fmt.Errorf("eventbus: subscribe %s: %w", topic, err)
	}
	t.topic = topic
	t.closed.Store(false)
	t.logger.Info("subscribed", "event", t.prefix+string(topic))
	return nil
}

// Close implements cluster.MessageConsumer. Payloads arriving afterwards are
// dropped; closing the bus is left to its owner.
func (t *Transport) Close(context.Context) error {
	t.closed.Store(true)
	return nil
}
