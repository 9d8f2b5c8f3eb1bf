package mailbus

import (
	"context"
	"log/slog"
	"sync"
)

// DeliveryEngine delivers one event to one listener. Listener failures are
// handled by the engine and never returned; only the inability to accept the
// delivery is.
type DeliveryEngine interface {
	Deliver(ctx context.Context, l Listener, e Event) error
}

// SynchronousEngine runs listeners on the calling goroutine.
type SynchronousEngine struct {
	logger      *slog.Logger
	metrics     MetricFactory
	deadLetters DeadLetters
}

var _ DeliveryEngine = (*SynchronousEngine)(nil)

// NewSynchronousEngine creates a synchronous engine. WithLogger, WithMetrics
// and WithDeadLetters apply.
func NewSynchronousEngine(opts ...Option) *SynchronousEngine {
	return newSynchronousEngine(newOptions(opts...))
}

func newSynchronousEngine(o *options) *SynchronousEngine {
	return &SynchronousEngine{
		logger:      o.logger,
		metrics:     o.metrics,
		deadLetters: o.deadLetters,
	}
}

// Deliver invokes l. Errors and panics raised by the listener are logged,
// recorded as dead letters and swallowed. It always returns nil.
func (s *SynchronousEngine) Deliver(ctx context.Context, l Listener, e Event) error {
	if !isHandling(l, e) {
		return nil
	}
	if err := s.invoke(ctx, l, e); err != nil {
		s.fail(ctx, l, e, err)
	}
	return nil
}

func (s *SynchronousEngine) invoke(ctx context.Context, l Listener, e Event) (err error) {
	timer := s.metrics.Timer(listenerTimerName(l))
	defer timer.StopAndPublish()
	defer func() {
		if r := recover(); r != nil {
			err = &PanicError{Listener: ListenerName(l), Value: r}
		}
	}()
	return l.Event(ctx, e)
}

func (s *SynchronousEngine) fail(ctx context.Context, l Listener, e Event, err error) {
	name := ListenerName(l)
	h := e.EventHeader()
	s.logger.Error("listener failed",
		"listener", name,
		"event", e.Kind().String(),
		"event_id", h.EventID,
		"path", h.Path.String(),
		"error", err)

	if s.deadLetters == nil {
		return
	}
	if dlErr := s.deadLetters.Store(context.WithoutCancel(ctx), name, e, err); dlErr != nil {
		s.logger.Warn("failed to record dead letter",
			"listener", name,
			"event_id", h.EventID,
			"error", dlErr)
	}
}

type deliveryTask struct {
	ctx      context.Context
	listener Listener
	event    Event
}

// AsynchronousEngine runs listeners on a fixed pool of worker goroutines.
type AsynchronousEngine struct {
	sync   *SynchronousEngine
	logger *slog.Logger

	tasks  chan deliveryTask
	ctx    context.Context
	cancel context.CancelFunc

	mu      sync.RWMutex
	stopped bool
}

var _ DeliveryEngine = (*AsynchronousEngine)(nil)

// NewAsynchronousEngine starts WithPoolSize workers fed by a queue of
// WithQueueSize pending deliveries.
func NewAsynchronousEngine(opts ...Option) *AsynchronousEngine {
	return newAsynchronousEngine(newOptions(opts...), nil)
}

func newAsynchronousEngine(o *options, syncEngine *SynchronousEngine) *AsynchronousEngine {
	if syncEngine == nil {
		syncEngine = newSynchronousEngine(o)
	}
	ctx, cancel := context.WithCancel(context.Background())
	a := &AsynchronousEngine{
		sync:   syncEngine,
		logger: o.logger,
		tasks:  make(chan deliveryTask, o.queueSize),
		ctx:    ctx,
		cancel: cancel,
	}
	for range o.poolSize {
		go a.worker()
	}
	return a
}

// Deliver queues the delivery and returns immediately. It returns
// ErrPoolSaturated when the queue is full and ErrEngineStopped after Stop.
// The listener receives a context carrying the values of ctx that is
// cancelled by Stop rather than by ctx.
func (a *AsynchronousEngine) Deliver(ctx context.Context, l Listener, e Event) error {
	a.mu.RLock()
	defer a.mu.RUnlock()
	if a.stopped {
		return ErrEngineStopped
	}
	select {
	case a.tasks <- deliveryTask{ctx: ctx, listener: l, event: e}:
		return nil
	default:
		a.logger.Warn("delivery pool saturated",
			"listener", ListenerName(l),
			"event", e.Kind().String())
		return ErrPoolSaturated
	}
}

// Stop cancels in-flight deliveries and discards queued ones. It does not
// wait for listeners to return. Stop is idempotent.
func (a *AsynchronousEngine) Stop() {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.stopped {
		return
	}
	a.stopped = true
	a.cancel()
	close(a.tasks)
}

func (a *AsynchronousEngine) worker() {
	for t := range a.tasks {
		if a.ctx.Err() != nil {
			continue
		}
		a.run(t)
	}
}

func (a *AsynchronousEngine) run(t deliveryTask) {
	ctx, cancel := context.WithCancel(context.WithoutCancel(t.ctx))
	defer cancel()
	stop := context.AfterFunc(a.ctx, cancel)
	defer stop()
	_ = a.sync.Deliver(ctx, t.listener, t.event)
}

// MixedEngine delivers synchronously or asynchronously according to each
// listener's ExecutionMode.
type MixedEngine struct {
	sync  *SynchronousEngine
	async *AsynchronousEngine
}

var _ DeliveryEngine = (*MixedEngine)(nil)

// NewMixedEngine creates a synchronous engine and an asynchronous pool
// sharing the same logger, metrics and dead letters.
func NewMixedEngine(opts ...Option) *MixedEngine {
	o := newOptions(opts...)
	s := newSynchronousEngine(o)
	return &MixedEngine{sync: s, async: newAsynchronousEngine(o, s)}
}

// Deliver routes the delivery by l.ExecutionMode().
func (m *MixedEngine) Deliver(ctx context.Context, l Listener, e Event) error {
	if l.ExecutionMode() == Asynchronous {
		return m.async.Deliver(ctx, l, e)
	}
	return m.sync.Deliver(ctx, l, e)
}

// Stop stops the asynchronous pool. Synchronous deliveries keep working.
func (m *MixedEngine) Stop() {
	m.async.Stop()
}
