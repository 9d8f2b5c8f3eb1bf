// Package cluster extends mailbus dispatch across nodes.
//
// A PathRegister counts the local listeners of each mailbox path and
// advertises the node's topic for that path in a shared backing store the
// first time a path gains a listener. A Broadcaster dispatches events locally,
// publishes them to the topics of the other interested nodes, and feeds the
// events it receives from them back into the local dispatcher.
package cluster

import (
	"context"

	"github.com/rbaliyan/mailbus"
)

// Topic identifies the inbound channel of one node.
type Topic string

// MembershipPath is the reserved path under which every Broadcaster in
// ModeBroadcast registers its topic, so that EACH_NODE listeners on every
// node can be reached.
var MembershipPath = mailbus.MailboxPath{Namespace: "#cluster", Name: "members"}

// PathRegisterMapper is the backing store mapping mailbox paths to the
// topics of the nodes interested in them. Every method may fail on storage
// or network errors.
type PathRegisterMapper interface {
	Register(ctx context.Context, path mailbus.MailboxPath, topic Topic) error
	Unregister(ctx context.Context, path mailbus.MailboxPath, topic Topic) error
	Topics(ctx context.Context, path mailbus.MailboxPath) ([]Topic, error)
}

// BulkRegisterer may be implemented by a mapper able to register many paths
// in one round trip. It is used by reconciliation.
type BulkRegisterer interface {
	RegisterAll(ctx context.Context, paths []mailbus.MailboxPath, topic Topic) error
}

// Publisher sends serialized events to a topic.
type Publisher interface {
	Publish(ctx context.Context, topic Topic, payload []byte) error
}

// MessageReceiver handles one payload received from the transport.
type MessageReceiver func(ctx context.Context, payload []byte)

// MessageConsumer delivers the payloads published to a topic.
type MessageConsumer interface {
	// SetMessageReceiver sets the function called for every payload. It must
	// be called before Init.
	SetMessageReceiver(r MessageReceiver)
	// Init starts consuming topic.
	Init(ctx context.Context, topic Topic) error
	// Close stops consuming and releases the transport resources.
	Close(ctx context.Context) error
}

// EventSerializer converts events to and from bytes. Deserialize must accept
// every payload produced by Serialize.
type EventSerializer interface {
	Serialize(e mailbus.Event) ([]byte, error)
	Deserialize(data []byte) (mailbus.Event, error)
}
