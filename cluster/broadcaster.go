package cluster

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/rbaliyan/mailbus"
)

// Broadcaster dispatches events on the local node and forwards them to the
// other nodes of the cluster that need them.
//
// MAILBOX listeners registered through the Broadcaster are counted in the
// PathRegister, so the nodes holding listeners for a path receive its
// events. In ModeBroadcast every node also registers under MembershipPath
// and receives every event, which EACH_NODE listeners require. ONCE
// listeners only run on the node where the event originated.
type Broadcaster struct {
	dispatcher  *mailbus.Dispatcher
	register    *PathRegister
	publisher   Publisher
	consumer    MessageConsumer
	serializer  EventSerializer
	logger      *slog.Logger
	mode        Mode
	concurrency int

	mu      sync.Mutex
	started bool
}

var _ mailbus.EventTarget = (*Broadcaster)(nil)

// NewBroadcaster composes a dispatcher with a path register and a transport.
// WithLogger, WithMode and WithPublishConcurrency apply.
func NewBroadcaster(
	dispatcher *mailbus.Dispatcher,
	register *PathRegister,
	publisher Publisher,
	consumer MessageConsumer,
	serializer EventSerializer,
	opts ...Option,
) *Broadcaster {
	o := newOptions(opts...)
	return &Broadcaster{
		dispatcher:  dispatcher,
		register:    register,
		publisher:   publisher,
		consumer:    consumer,
		serializer:  serializer,
		logger:      o.logger,
		mode:        o.mode,
		concurrency: o.publishConcurrency,
	}
}

// Start consumes the local topic, joins the cluster membership and starts
// reconciliation. A membership registration failure is logged and left to
// reconciliation.
func (b *Broadcaster) Start(ctx context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.started {
		return ErrAlreadyStarted
	}

	topic := b.register.LocalTopic()
	b.consumer.SetMessageReceiver(b.Receive)
	if err := b.consumer.Init(ctx, topic); err != nil {
		return fmt.Errorf("cluster: consume %s: %w", topic, err)
	}
	if b.mode == ModeBroadcast {
		if err := b.register.Register(ctx, MembershipPath); err != nil {
			b.logger.Warn("failed to join cluster membership", "topic", string(topic), "error", err)
		}
	}
	if err := b.register.Start(ctx); err != nil {
		return errors.Join(err, b.consumer.Close(ctx))
	}
	b.started = true
	b.logger.Info("broadcaster started", "topic", string(topic), "mode", b.mode.String())
	return nil
}

// Close stops reconciliation, withdraws every local registration from the
// backing store, and closes the consumer and the dispatcher.
func (b *Broadcaster) Close(ctx context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.register.Stop()
	var errs []error
	for _, p := range b.register.Paths() {
		if err := b.register.CompleteUnregister(ctx, p); err != nil {
			errs = append(errs, err)
		}
	}
	if b.started {
		if err := b.consumer.Close(ctx); err != nil {
			errs = append(errs, fmt.Errorf("cluster: close consumer: %w", err))
		}
		b.started = false
	}
	if err := b.dispatcher.Close(); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

// AddListener registers a MAILBOX listener for path on this node and
// advertises the node's interest in path.
func (b *Broadcaster) AddListener(ctx context.Context, path mailbus.MailboxPath, l mailbus.Listener) error {
	added, err := b.dispatcher.Registry().AddListener(path, l)
	if err != nil || !added {
		return err
	}
	return b.register.Register(ctx, path)
}

// RemoveListener unregisters a MAILBOX listener from path.
func (b *Broadcaster) RemoveListener(ctx context.Context, path mailbus.MailboxPath, l mailbus.Listener) error {
	if !b.dispatcher.Registry().RemoveListener(path, l) {
		return nil
	}
	return b.register.Unregister(ctx, path)
}

// AddGlobalListener registers an EACH_NODE or ONCE listener. MAILBOX
// listeners are rejected.
func (b *Broadcaster) AddGlobalListener(l mailbus.Listener) error {
	return b.dispatcher.AddGlobalListener(l)
}

// RemoveGlobalListener unregisters a global listener.
func (b *Broadcaster) RemoveGlobalListener(l mailbus.Listener) {
	b.dispatcher.RemoveGlobalListener(l)
}

// Event dispatches an event produced on this node locally, then publishes it
// to the interested remote nodes. Only local delivery errors are returned;
// publication failures are logged.
func (b *Broadcaster) Event(ctx context.Context, e mailbus.Event) error {
	if e == nil {
		return mailbus.ErrNilEvent
	}
	shared := b.sharedOnRename(e)
	err := b.dispatcher.Dispatch(ctx, e, mailbus.OriginLocal)
	targets := b.targets(ctx, e)
	b.housekeeping(ctx, e, shared)
	b.publish(ctx, e, targets)
	return err
}

// Receive handles a payload published by another node. It dispatches the
// event locally without publishing it again.
func (b *Broadcaster) Receive(ctx context.Context, payload []byte) {
	e, err := b.serializer.Deserialize(payload)
	if err != nil {
		b.logger.Error("failed to deserialize event", "bytes", len(payload), "error", err)
		return
	}
	shared := b.sharedOnRename(e)
	if err := b.dispatcher.Dispatch(ctx, e, mailbus.OriginDistant); err != nil {
		b.logger.Warn("distant event not fully delivered",
			"event", e.Kind().String(),
			"event_id", e.EventHeader().EventID,
			"error", err)
	}
	b.housekeeping(ctx, e, shared)
}

// sharedOnRename returns, for a rename, the number of listeners registered
// under both the old and the new path. Dispatch keeps them once.
func (b *Broadcaster) sharedOnRename(e mailbus.Event) int {
	ev, ok := e.(*mailbus.MailboxRenamed)
	if !ok {
		return 0
	}
	return b.dispatcher.Registry().Shared(ev.EventHeader().Path, ev.NewPath)
}

// housekeeping keeps the path register in step with renames and deletions.
// Registrations of listeners that a rename merged into one are released.
func (b *Broadcaster) housekeeping(ctx context.Context, e mailbus.Event, shared int) {
	path := e.EventHeader().Path
	switch ev := e.(type) {
	case *mailbus.MailboxRenamed:
		if b.register.Count(path) == 0 {
			return
		}
		if err := b.register.Rename(ctx, path, ev.NewPath); err != nil {
			b.logger.Warn("failed to rename registration",
				"old_path", path.String(),
				"new_path", ev.NewPath.String(),
				"error", err)
		}
		if b.register.Count(path) > 0 {
			return
		}
		for range shared {
			if err := b.register.Unregister(ctx, ev.NewPath); err != nil {
				b.logger.Warn("failed to release merged registration", "path", ev.NewPath.String(), "error", err)
			}
		}
	case *mailbus.MailboxDeletion:
		if b.register.Count(path) == 0 {
			return
		}
		if err := b.register.CompleteUnregister(ctx, path); err != nil {
			b.logger.Warn("failed to remove registration", "path", path.String(), "error", err)
		}
	}
}

// targets returns the remote topics e must be published to.
func (b *Broadcaster) targets(ctx context.Context, e mailbus.Event) []Topic {
	paths := []mailbus.MailboxPath{e.EventHeader().Path}
	if b.mode == ModeBroadcast {
		paths = append(paths, MembershipPath)
	}

	local := b.register.LocalTopic()
	var out []Topic
	for _, p := range paths {
		topics, err := b.register.Topics(ctx, p)
		if err != nil {
			b.logger.Warn("failed to look up topics", "path", p.String(), "error", err)
			continue
		}
		for _, t := range topics {
			if t != local && !slices.Contains(out, t) {
				out = append(out, t)
			}
		}
	}
	slices.Sort(out)
	return out
}

func (b *Broadcaster) publish(ctx context.Context, e mailbus.Event, targets []Topic) {
	if len(targets) == 0 {
		return
	}
	payload, err := b.serializer.Serialize(e)
	if err != nil {
		b.logger.Error("failed to serialize event",
			"event", e.Kind().String(),
			"event_id", e.EventHeader().EventID,
			"error", err)
		return
	}

	var g errgroup.Group
	g.SetLimit(b.concurrency)
	for _, t := range targets {
		g.Go(func() error {
			if err := b.publisher.Publish(ctx, t, payload); err != nil {
				b.logger.Warn("failed to publish event",
					"topic", string(t),
					"event_id", e.EventHeader().EventID,
					"error", err)
			}
			return nil
		})
	}
	_ = g.Wait()
}

func (m Mode) String() string {
	if m == ModeRegistered {
		return "registered"
	}
	return "broadcast"
}
