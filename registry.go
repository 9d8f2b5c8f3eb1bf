package mailbus

import (
	"slices"
	"sync"
)

// ListenerRegistry tracks mailbox-scoped listeners by path and the global
// listeners of a node. It is safe for concurrent use; every lookup returns a
// snapshot that later mutations do not affect.
type ListenerRegistry struct {
	mu      sync.RWMutex
	byPath  map[MailboxPath][]Listener
	globals []Listener
}

// NewListenerRegistry returns an empty registry.
func NewListenerRegistry() *ListenerRegistry {
	return &ListenerRegistry{byPath: make(map[MailboxPath][]Listener)}
}

// AddListener registers a MAILBOX listener under path. It reports whether the
// listener was newly added; registering the same listener twice under the
// same path is a no-op.
func (r *ListenerRegistry) AddListener(path MailboxPath, l Listener) (bool, error) {
	if l == nil {
		return false, ErrNilListener
	}
	if l.Type() != TypeMailbox {
		return false, &ConfigurationError{Op: "AddListener", Type: l.Type(), Allowed: []ListenerType{TypeMailbox}}
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if slices.Contains(r.byPath[path], l) {
		return false, nil
	}
	r.byPath[path] = append(r.byPath[path], l)
	return true, nil
}

// RemoveListener unregisters l from path and reports whether it was present.
func (r *ListenerRegistry) RemoveListener(path MailboxPath, l Listener) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	ls := r.byPath[path]
	i := slices.Index(ls, l)
	if i < 0 {
		return false
	}
	ls = slices.Delete(slices.Clone(ls), i, i+1)
	if len(ls) == 0 {
		delete(r.byPath, path)
	} else {
		r.byPath[path] = ls
	}
	return true
}

// AddGlobalListener registers an EACH_NODE or ONCE listener.
func (r *ListenerRegistry) AddGlobalListener(l Listener) (bool, error) {
	if l == nil {
		return false, ErrNilListener
	}
	if !l.Type().IsGlobal() {
		return false, &ConfigurationError{Op: "AddGlobalListener", Type: l.Type(), Allowed: []ListenerType{TypeEachNode, TypeOnce}}
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if slices.Contains(r.globals, l) {
		return false, nil
	}
	r.globals = append(r.globals, l)
	return true, nil
}

// RemoveGlobalListener unregisters a global listener and reports whether it
// was present.
func (r *ListenerRegistry) RemoveGlobalListener(l Listener) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	i := slices.Index(r.globals, l)
	if i < 0 {
		return false
	}
	r.globals = slices.Delete(slices.Clone(r.globals), i, i+1)
	return true
}

// LocalListeners returns the listeners registered under path.
func (r *ListenerRegistry) LocalListeners(path MailboxPath) []Listener {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return slices.Clone(r.byPath[path])
}

// GlobalListeners returns the global listeners in registration order.
func (r *ListenerRegistry) GlobalListeners() []Listener {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return slices.Clone(r.globals)
}

// Paths returns every path with at least one listener.
func (r *ListenerRegistry) Paths() []MailboxPath {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]MailboxPath, 0, len(r.byPath))
	for p := range r.byPath {
		out = append(out, p)
	}
	return out
}

// DeleteRegistryFor drops every listener registered under path and returns
// them.
func (r *ListenerRegistry) DeleteRegistryFor(path MailboxPath) []Listener {
	r.mu.Lock()
	defer r.mu.Unlock()
	ls := r.byPath[path]
	delete(r.byPath, path)
	return ls
}

// HandleRename moves the listeners of oldPath under newPath, keeping those
// already registered there. It returns the number of moved listeners that
// were already registered under newPath and are now held once.
func (r *ListenerRegistry) HandleRename(oldPath, newPath MailboxPath) int {
	if oldPath == newPath {
		return 0
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	moved, ok := r.byPath[oldPath]
	if !ok {
		return 0
	}
	delete(r.byPath, oldPath)
	merged := slices.Clone(r.byPath[newPath])
	dropped := 0
	for _, l := range moved {
		if slices.Contains(merged, l) {
			dropped++
			continue
		}
		merged = append(merged, l)
	}
	r.byPath[newPath] = merged
	return dropped
}

// Shared returns the number of listeners registered under both a and b.
func (r *ListenerRegistry) Shared(a, b MailboxPath) int {
	if a == b {
		return 0
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	n := 0
	for _, l := range r.byPath[a] {
		if slices.Contains(r.byPath[b], l) {
			n++
		}
	}
	return n
}
