// Package amqp provides a RabbitMQ transport. Payloads are published to a
// direct exchange with the destination topic as routing key; each node
// consumes an exclusive, auto-deleted queue bound to its own topic.
package amqp

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/rabbitmq/amqp091-go"

	"github.com/rbaliyan/mailbus/cluster"
)

// DefaultExchange is the exchange used when none is configured.
const DefaultExchange = "mailbus-direct"

var (
	// ErrNilConnection is returned by New without a connection.
	ErrNilConnection = errors.New("amqp: connection is required")
	// ErrNoReceiver is returned by Init when no receiver was set.
	ErrNoReceiver = errors.New("amqp: no message receiver set")
)

// Compile-time checks
var (
	_ cluster.Publisher       = (*Transport)(nil)
	_ cluster.MessageConsumer = (*Transport)(nil)
)

// Option configures a Transport.
type Option func(*Transport)

// WithExchange sets the exchange name.
func WithExchange(name string) Option {
	return func(t *Transport) {
		if name != "" {
			t.exchange = name
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

// Transport publishes and consumes through one RabbitMQ connection. The
// caller owns the connection.
type Transport struct {
	conn     *amqp091.Connection
	exchange string
	logger   *slog.Logger

	publishMu sync.Mutex
	publishCh *amqp091.Channel

	mu        sync.Mutex
	receive   cluster.MessageReceiver
	consumeCh *amqp091.Channel
	done      chan struct{}
}

// New opens a publish channel on conn and declares the exchange.
func New(conn *amqp091.Connection, opts ...Option) (*Transport, error) {
	if conn == nil {
		return nil, ErrNilConnection
	}
	t := &Transport{
		conn:     conn,
		exchange: DefaultExchange,
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(t)
	}

	ch, err := conn.Channel()
	if err != nil {
		return nil, fmt.Errorf("amqp open channel: %w", err)
	}
	if err := ch.ExchangeDeclare(t.exchange, amqp091.ExchangeDirect, true, false, false, false, nil); err != nil {
		_ = ch.Close()
		return nil, fmt.Errorf("amqp declare exchange %s: %w", t.exchange, err)
	}
	t.publishCh = ch
	return t, nil
}

// Publish implements cluster.Publisher.
func (t *Transport) Publish(ctx context.Context, topic cluster.Topic, payload []byte) error {
	t.publishMu.Lock()
	defer t.publishMu.Unlock()
	err := t.publishCh.PublishWithContext(ctx, t.exchange, string(topic), false, false, amqp091.Publishing{
		ContentType:  "application/octet-stream",
		DeliveryMode: amqp091.Transient,
		Timestamp:    time.Now(),
		Body:         payload,
	})
	if err != nil {
		return fmt.Errorf("amqp publish: %w", err)
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
func (t *Transport) Init(_ context.Context, topic cluster.Topic) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.receive == nil {
		return ErrNoReceiver
	}
	if t.consumeCh != nil {
		return cluster.ErrAlreadyStarted
	}

	ch, err := t.conn.Channel()
	if err != nil {
		return fmt.Errorf("amqp open channel: %w", err)
	}
	q, err := ch.QueueDeclare("", false, true, true, false, nil)
	if err != nil {
		_ = ch.Close()
		return fmt.Errorf("amqp declare queue: %w", err)
	}
	if err := ch.QueueBind(q.Name, string(topic), t.exchange, false, nil); err != nil {
		_ = ch.Close()
		return fmt.Errorf("amqp bind %s: %w", topic, err)
	}
	deliveries, err := ch.Consume(q.Name, "", true, true, false, false, nil)
	if err != nil {
		_ = ch.Close()
		return fmt.Errorf("amqp consume: %w", err)
	}

	t.consumeCh = ch
	t.done = make(chan struct{})
	go t.consume(deliveries, t.receive, t.done)
	t.logger.Info("consuming topic", "exchange", t.exchange, "topic", string(topic), "queue", q.Name)
	return nil
}

func (t *Transport) consume(deliveries <-chan amqp091.Delivery, receive cluster.MessageReceiver, done chan struct{}) {
	defer close(done)
	ctx := context.Background()
	for d := range deliveries {
		receive(ctx, d.Body)
	}
}

// Close implements cluster.MessageConsumer. It closes the channels opened by
// the transport, not the connection.
func (t *Transport) Close(ctx context.Context) error {
	t.mu.Lock()
	ch, done := t.consumeCh, t.done
	t.consumeCh, t.done = nil, nil
	t.mu.Unlock()

	var errs []error
	if ch != nil {
		if err := ch.Close(); err != nil {
			errs = append(errs, fmt.Errorf("amqp close consume channel: %w", err))
		}
		select {
		case <-done:
		case <-ctx.Done():
			errs = append(errs, ctx.Err())
		}
	}

	t.publishMu.Lock()
	if t.publishCh != nil && !t.publishCh.IsClosed() {
		if err := t.publishCh.Close(); err != nil {
			errs = append(errs, fmt.Errorf("amqp close publish channel: %w", err))
		}
	}
	t.publishMu.Unlock()
	return errors.Join(errs...)
}
