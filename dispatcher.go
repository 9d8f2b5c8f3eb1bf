package mailbus

import (
	"context"
	"errors"
	"log/slog"

	"go.opentelemetry.io/otel/attribute"
)

// Origin tells a Dispatcher where an event comes from.
type Origin uint8

const (
	// OriginLocal events were produced by a mailbox operation on this node.
	OriginLocal Origin = iota
	// OriginDistant events were received from another node of the cluster.
	// ONCE listeners are not invoked for them.
	OriginDistant
)

func (o Origin) String() string {
	if o == OriginDistant {
		return "distant"
	}
	return "local"
}

// stopper is implemented by engines owning goroutines.
type stopper interface {
	Stop()
}

// Dispatcher is the per-node entry point for events. It looks up the
// interested listeners, keeps the registry in step with mailbox deletions
// and renames, and hands each delivery to its engine.
type Dispatcher struct {
	registry   *ListenerRegistry
	engine     DeliveryEngine
	ownsEngine bool
	logger     *slog.Logger
	otel       *otelInstrumentation
}

// NewDispatcher creates a dispatcher with its own registry. Unless WithEngine
// is given, a MixedEngine is created and stopped by Close.
func NewDispatcher(opts ...Option) *Dispatcher {
	o := newOptions(opts...)
	d := &Dispatcher{
		registry: NewListenerRegistry(),
		engine:   o.engine,
		logger:   o.logger,
		otel:     newOtelInstrumentation(o),
	}
	if d.engine == nil {
		d.engine = NewMixedEngine(opts...)
		d.ownsEngine = true
	}
	return d
}

// Registry returns the listener registry of the dispatcher.
func (d *Dispatcher) Registry() *ListenerRegistry {
	return d.registry
}

// AddListener registers a MAILBOX listener for path.
func (d *Dispatcher) AddListener(path MailboxPath, l Listener) error {
	_, err := d.registry.AddListener(path, l)
	return err
}

// RemoveListener unregisters a MAILBOX listener from path.
func (d *Dispatcher) RemoveListener(path MailboxPath, l Listener) {
	d.registry.RemoveListener(path, l)
}

// AddGlobalListener registers an EACH_NODE or ONCE listener.
func (d *Dispatcher) AddGlobalListener(l Listener) error {
	_, err := d.registry.AddGlobalListener(l)
	return err
}

// RemoveGlobalListener unregisters a global listener.
func (d *Dispatcher) RemoveGlobalListener(l Listener) {
	d.registry.RemoveGlobalListener(l)
}

// Event dispatches an event produced on this node.
func (d *Dispatcher) Event(ctx context.Context, e Event) error {
	return d.Dispatch(ctx, e, OriginLocal)
}

// Dispatch delivers e to the listeners of its path, then to the global
// listeners. Listeners registered when Dispatch starts receive the event
// even if it deletes or renames their mailbox. Listener failures are not
// returned; the error only reports deliveries the engine refused.
func (d *Dispatcher) Dispatch(ctx context.Context, e Event, origin Origin) (err error) {
	if e == nil {
		return ErrNilEvent
	}
	h := e.EventHeader()
	ctx, endSpan := d.otel.startSpan(ctx, "mailbus.dispatch",
		attribute.String("mailbus.event", e.Kind().String()),
		attribute.String("mailbus.event_id", string(h.EventID)),
		attribute.String("mailbus.origin", origin.String()),
	)
	defer func() { endSpan(err) }()

	local := d.registry.LocalListeners(h.Path)

	switch ev := e.(type) {
	case *MailboxDeletion:
		d.registry.DeleteRegistryFor(h.Path)
	case *MailboxRenamed:
		d.registry.HandleRename(h.Path, ev.NewPath)
	}

	d.logger.Debug("dispatching event",
		"event", e.Kind().String(),
		"event_id", h.EventID,
		"path", h.Path.String(),
		"origin", origin.String(),
		"listeners", len(local))

	var errs []error
	for _, l := range local {
		if derr := d.engine.Deliver(ctx, l, e); derr != nil {
			errs = append(errs, derr)
		}
	}
	for _, l := range d.registry.GlobalListeners() {
		if origin == OriginDistant && l.Type() == TypeOnce {
			continue
		}
		if derr := d.engine.Deliver(ctx, l, e); derr != nil {
			errs = append(errs, derr)
		}
	}
	return errors.Join(errs...)
}

// Close stops the engine if the dispatcher created it.
func (d *Dispatcher) Close() error {
	if !d.ownsEngine {
		return nil
	}
	if s, ok := d.engine.(stopper); ok {
		s.Stop()
	}
	return nil
}
