// Package redis provides a Redis Pub/Sub transport: each node subscribes to
// the channel "<prefix><topic>" of its own topic.
package redis

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/redis/go-redis/v9"

	"github.com/rbaliyan/mailbus/cluster"
)

// DefaultPrefix is prepended to topics to form channel names.
const DefaultPrefix = "mailbus:topic:"

// ErrNoReceiver is returned by Init when no receiver was set.
var ErrNoReceiver = errors.New("redis: no message receiver set")

// Compile-time checks
var (
	_ cluster.Publisher       = (*Transport)(nil)
	_ cluster.MessageConsumer = (*Transport)(nil)
)

// Option configures a Transport.
type Option func(*Transport)

// WithPrefix sets the channel prefix.
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

// Transport publishes to and consumes from Redis Pub/Sub channels.
// Messages published while a node is not subscribed are lost; path
// registrations are expected to make up for it.
type Transport struct {
	client redis.UniversalClient
	prefix string
	logger *slog.Logger

	mu      sync.Mutex
	receive cluster.MessageReceiver
	pubsub  *redis.PubSub
	done    chan struct{}
}

// New creates a transport using client.
func New(client redis.UniversalClient, opts ...Option) *Transport {
	t := &Transport{
		client: client,
		prefix: DefaultPrefix,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

func (t *Transport) channel(topic cluster.Topic) string {
	return t.prefix + string(topic)
}

// Publish implements cluster.Publisher.
func (t *Transport) Publish(ctx context.Context, topic cluster.Topic, payload []byte) error {
	if err := t.client.Publish(ctx, t.channel(topic), payload).Err(); err != nil {
		return fmt.Errorf("redis publish: %w", err)
	}
	return nil
}

// SetMessageReceiver implements cluster.MessageConsumer.
func (t *Transport) SetMessageReceiver(r cluster.MessageReceiver) {
	t.mu.Lock()
	t.receive = r
	t.mu.Unlock()
}

// Init implements cluster.MessageConsumer. It returns once the subscription
// is confirmed by the server.
func (t *Transport) Init(ctx context.Context, topic cluster.Topic) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.receive == nil {
		return ErrNoReceiver
	}
	if t.pubsub != nil {
		return cluster.ErrAlreadyStarted
	}

	ps := t.client.Subscribe(ctx, t.channel(topic))
	if _, err := ps.Receive(ctx); err != nil {
		_ = ps.Close()
		return fmt.Errorf("redis subscribe: %w", err)
	}

	t.pubsub = ps
	t.done = make(chan struct{})
	go t.consume(ps.Channel(), t.receive, t.done)
	t.logger.Info("subscribed", "channel", t.channel(topic))
	return nil
}

func (t *Transport) consume(ch <-chan *redis.Message, receive cluster.MessageReceiver, done chan struct{}) {
	defer close(done)
	ctx := context.Background()
	for msg := range ch {
		receive(ctx, []byte(msg.Payload))
	}
}

// Close implements cluster.MessageConsumer. It waits for the message being
// handled to return.
func (t *Transport) Close(ctx context.Context) error {
	t.mu.Lock()
	ps, done := t.pubsub, t.done
	t.pubsub, t.done = nil, nil
	t.mu.Unlock()
	if ps == nil {
		return nil
	}

	err := ps.Close()
	select {
	case <-done:
	case <-ctx.Done():
		return errors.Join(err, ctx.Err())
	}
	if err != nil {
		return fmt.Errorf("redis unsubscribe: %w", err)
	}
	return nil
}
