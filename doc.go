// Package mailbus dispatches mailbox state-change events to listeners, within
// one process or across a cluster of nodes.
//
// Events (messages added or expunged, flags updated, mailboxes created,
// renamed or deleted, rights changed, messages moved) are built with an
// EventFactory and handed to a Dispatcher, which delivers them to the
// listeners registered for the event's mailbox path and to the global
// listeners of the node.
//
// # Basic Usage
//
//	d := mailbus.NewDispatcher(mailbus.WithLogger(logger))
//	defer d.Close()
//
//	inbox := mailbus.NewMailboxPath("alice", "INBOX")
//	l := mailbus.NewListener("indexer", mailbus.TypeMailbox, mailbus.Synchronous,
//	    func(ctx context.Context, e mailbus.Event) error {
//	        // ...
//	        return nil
//	    })
//	if err := d.AddListener(inbox, l); err != nil {
//	    log.Fatal(err)
//	}
//
//	n := mailbus.NewNotifier(d)
//	err := n.Added(ctx,
//	    mailbus.Session{ID: 42, User: "alice"},
//	    mailbus.Mailbox{ID: "mbx-1", Path: inbox},
//	    true, md)
//
// # Listener Types
//
//   - TypeMailbox: bound to one mailbox path with AddListener
//   - TypeEachNode: global, invoked on every node that sees the event
//   - TypeOnce: global, invoked only on the node where the event originated
//
// Registering a listener through the wrong call returns a
// *ConfigurationError matching ErrInvalidListenerType.
//
// # Delivery
//
// SynchronousEngine runs listeners on the dispatching goroutine,
// AsynchronousEngine on a bounded worker pool, and MixedEngine (the default)
// picks one per listener from its ExecutionMode. A failing or panicking
// listener is logged and, with WithDeadLetters, recorded; it never affects
// other listeners or the caller.
//
// # Clustering
//
// The cluster package tracks which nodes have listeners for which paths and
// forwards events between nodes through pluggable transports (Redis Pub/Sub,
// RabbitMQ, github.com/rbaliyan/event/v3 buses) and backing stores (Redis,
// MongoDB, PostgreSQL).
package mailbus
