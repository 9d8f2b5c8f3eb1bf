// Package memory provides an in-process transport connecting simulated
// cluster nodes. Publish delivers synchronously on the caller's goroutine.
package memory

import (
	"context"
	"errors"
	"slices"
	"sync"

	"github.com/rbaliyan/mailbus/cluster"
)

// ErrNoReceiver is returned by Init when no receiver was set.
var ErrNoReceiver = errors.New("memory: no message receiver set")

// Hub routes payloads to the consumers of each topic.
type Hub struct {
	mu        sync.RWMutex
	consumers map[cluster.Topic]cluster.MessageReceiver
}

var _ cluster.Publisher = (*Hub)(nil)

// NewHub returns a hub without consumers.
func NewHub() *Hub {
	return &Hub{consumers: make(map[cluster.Topic]cluster.MessageReceiver)}
}

// Publish delivers payload to the consumer of topic. Payloads for topics
// without a consumer are dropped.
func (h *Hub) Publish(ctx context.Context, topic cluster.Topic, payload []byte) error {
	h.mu.RLock()
	receive, ok := h.consumers[topic]
	h.mu.RUnlock()
	if !ok {
		return nil
	}
	receive(ctx, slices.Clone(payload))
	return nil
}

// Consumer returns a new consumer attached to the hub.
func (h *Hub) Consumer() *Consumer {
	return &Consumer{hub: h}
}

// Consumer receives the payloads published to one topic of a Hub.
type Consumer struct {
	hub *Hub

	mu      sync.Mutex
	receive cluster.MessageReceiver
	topic   cluster.Topic
}

var _ cluster.MessageConsumer = (*Consumer)(nil)

// SetMessageReceiver implements cluster.MessageConsumer.
func (c *Consumer) SetMessageReceiver(r cluster.MessageReceiver) {
	c.mu.Lock()
	c.receive = r
	c.mu.Unlock()
}

// Init implements cluster.MessageConsumer.
func (c *Consumer) Init(_ context.Context, topic cluster.Topic) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.receive == nil {
		return ErrNoReceiver
	}
	c.topic = topic
	c.hub.mu.Lock()
	c.hub.consumers[topic] = c.receive
	c.hub.mu.Unlock()
	return nil
}

// Close implements cluster.MessageConsumer.
func (c *Consumer) Close(context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.topic == "" {
		return nil
	}
	c.hub.mu.Lock()
	delete(c.hub.consumers, c.topic)
	c.hub.mu.Unlock()
	c.topic = ""
	return nil
}
