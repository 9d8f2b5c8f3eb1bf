package cluster

import (
	"errors"
	"fmt"

	"github.com/rbaliyan/mailbus"
)

// Sentinel errors for the cluster package.
var (
	// ErrUnknownPath is returned when renaming a path without registrations.
	ErrUnknownPath = errors.New("cluster: unknown path")

	// ErrAlreadyStarted is returned by Start on a running component.
	ErrAlreadyStarted = errors.New("cluster: already started")
)

// StoreError wraps a backing-store failure. Local reference counts have
// already been updated when it is returned.
type StoreError struct {
	Op   string
	Path mailbus.MailboxPath
	Err  error
}

func (e *StoreError) Error() string {
	return fmt.Sprintf("cluster: %s %s: %v", e.Op, e.Path, e.Err)
}

func (e *StoreError) Unwrap() error {
	return e.Err
}
