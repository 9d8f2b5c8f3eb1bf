package mailbus

import (
	"errors"
	"fmt"
	"strings"
)

// Sentinel errors for the mailbus package.
// Use errors.Is() to check for these errors.
var (
	// ErrInvalidListenerType is returned when a listener is registered through
	// the wrong call for its type.
	ErrInvalidListenerType = errors.New("mailbus: invalid listener type")

	// ErrMissingField is returned by builders when a mandatory field is unset.
	ErrMissingField = errors.New("mailbus: missing mandatory field")

	// ErrPoolSaturated is returned by the asynchronous engine when its queue
	// is full.
	ErrPoolSaturated = errors.New("mailbus: delivery pool saturated")

	// ErrEngineStopped is returned when delivering through a stopped engine.
	ErrEngineStopped = errors.New("mailbus: delivery engine stopped")

	// ErrNilListener is returned when registering a nil listener.
	ErrNilListener = errors.New("mailbus: nil listener")

	// ErrNilEvent is returned when dispatching a nil event.
	ErrNilEvent = errors.New("mailbus: nil event")

	// ErrDeadLetterNotFound is returned when removing an unknown dead letter.
	ErrDeadLetterNotFound = errors.New("mailbus: dead letter not found")
)

// ConfigurationError reports a listener registered through a call that does
// not accept its type.
type ConfigurationError struct {
	Op      string
	Type    ListenerType
	Allowed []ListenerType
}

func (e *ConfigurationError) Error() string {
	allowed := make([]string, len(e.Allowed))
	for i, t := range e.Allowed {
		allowed[i] = t.String()
	}
	return fmt.Sprintf("mailbus: %s: listener type %s not allowed (want %s)",
		e.Op, e.Type, strings.Join(allowed, " or "))
}

func (e *ConfigurationError) Unwrap() error {
	return ErrInvalidListenerType
}

// MissingFieldError names the mandatory field an event builder lacks.
type MissingFieldError struct {
	Kind  Kind
	Field string
}

func (e *MissingFieldError) Error() string {
	return fmt.Sprintf("mailbus: %s: %s is required", e.Kind, e.Field)
}

func (e *MissingFieldError) Unwrap() error {
	return ErrMissingField
}

// PanicError wraps a value recovered from a panicking listener.
type PanicError struct {
	Listener string
	Value    any
}

func (e *PanicError) Error() string {
	return fmt.Sprintf("mailbus: listener %s panicked: %v", e.Listener, e.Value)
}
