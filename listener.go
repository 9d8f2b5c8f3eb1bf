package mailbus

import (
	"context"
	"fmt"
)

// ListenerType governs where a listener runs.
type ListenerType uint8

const (
	// TypeMailbox listeners are bound to a single mailbox path.
	TypeMailbox ListenerType = iota + 1
	// TypeEachNode listeners are global and run on every node that sees the event.
	TypeEachNode
	// TypeOnce listeners are global and run on exactly one node of the cluster,
	// the one where the event originated.
	TypeOnce
)

func (t ListenerType) String() string {
	switch t {
	case TypeMailbox:
		return "MAILBOX"
	case TypeEachNode:
		return "EACH_NODE"
	case TypeOnce:
		return "ONCE"
	default:
		return fmt.Sprintf("ListenerType(%d)", uint8(t))
	}
}

// IsGlobal reports whether t may be registered with AddGlobalListener.
func (t ListenerType) IsGlobal() bool {
	return t == TypeEachNode || t == TypeOnce
}

// ExecutionMode selects the delivery engine used by MixedEngine.
type ExecutionMode uint8

const (
	// Synchronous delivery runs on the dispatching goroutine.
	Synchronous ExecutionMode = iota
	// Asynchronous delivery runs on a worker pool.
	Asynchronous
)

func (m ExecutionMode) String() string {
	if m == Asynchronous {
		return "ASYNCHRONOUS"
	}
	return "SYNCHRONOUS"
}

// Listener consumes mailbox events. Implementations must be comparable
// (typically pointers) so they can be found again for removal.
type Listener interface {
	Event(ctx context.Context, e Event) error
	Type() ListenerType
	ExecutionMode() ExecutionMode
}

// Filter may be implemented by a listener to skip events it does not handle.
type Filter interface {
	IsHandling(e Event) bool
}

// Named may be implemented by a listener to provide the name used in logs,
// metrics and dead letters.
type Named interface {
	Name() string
}

// ListenerName returns the name of l, falling back to its dynamic type.
func ListenerName(l Listener) string {
	if n, ok := l.(Named); ok {
		if name := n.Name(); name != "" {
			return name
		}
	}
	return fmt.Sprintf("%T", l)
}

func isHandling(l Listener, e Event) bool {
	if f, ok := l.(Filter); ok {
		return f.IsHandling(e)
	}
	return true
}

// ListenerFunc adapts a function to the Listener interface.
type ListenerFunc struct {
	name string
	typ  ListenerType
	mode ExecutionMode
	fn   func(ctx context.Context, e Event) error
}

// NewListener returns a listener calling fn for each event.
func NewListener(name string, typ ListenerType, mode ExecutionMode, fn func(ctx context.Context, e Event) error) *ListenerFunc {
	return &ListenerFunc{name: name, typ: typ, mode: mode, fn: fn}
}

func (l *ListenerFunc) Event(ctx context.Context, e Event) error { return l.fn(ctx, e) }
func (l *ListenerFunc) Type() ListenerType                       { return l.typ }
func (l *ListenerFunc) ExecutionMode() ExecutionMode             { return l.mode }
func (l *ListenerFunc) Name() string                             { return l.name }
