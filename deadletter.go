package mailbus

import (
	"context"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"
)

// DeadLetter is a delivery that failed.
type DeadLetter struct {
	ID       string
	Listener string
	Event    Event
	FailedAt time.Time
	Error    string
}

// DeadLetters records failed deliveries so they can be inspected and
// redelivered later.
type DeadLetters interface {
	// Store records that listener failed to handle e.
	Store(ctx context.Context, listener string, e Event, cause error) error
	// List returns the dead letters of listener, oldest first.
	List(ctx context.Context, listener string) ([]DeadLetter, error)
	// Remove deletes a dead letter. It returns ErrDeadLetterNotFound if the
	// letter does not exist.
	Remove(ctx context.Context, listener, id string) error
}

// MemoryDeadLetters keeps dead letters in memory.
type MemoryDeadLetters struct {
	mu      sync.Mutex
	letters map[string][]DeadLetter
	now     func() time.Time
}

var _ DeadLetters = (*MemoryDeadLetters)(nil)

// NewMemoryDeadLetters returns an empty in-memory dead letter store.
func NewMemoryDeadLetters() *MemoryDeadLetters {
	return &MemoryDeadLetters{
		letters: make(map[string][]DeadLetter),
		now:     time.Now,
	}
}

// Store implements DeadLetters.
func (m *MemoryDeadLetters) Store(_ context.Context, listener string, e Event, cause error) error {
	dl := DeadLetter{
		ID:       uuid.NewString(),
		Listener: listener,
		Event:    e,
		FailedAt: m.now(),
	}
	if cause != nil {
		dl.Error = cause.Error()
	}
	m.mu.Lock()
	m.letters[listener] = append(m.letters[listener], dl)
	m.mu.Unlock()
	return nil
}

// List implements DeadLetters.
func (m *MemoryDeadLetters) List(_ context.Context, listener string) ([]DeadLetter, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return slices.Clone(m.letters[listener]), nil
}

// Remove implements DeadLetters.
func (m *MemoryDeadLetters) Remove(_ context.Context, listener, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	ls := m.letters[listener]
	i := slices.IndexFunc(ls, func(dl DeadLetter) bool { return dl.ID == id })
	if i < 0 {
		return ErrDeadLetterNotFound
	}
	ls = slices.Delete(slices.Clone(ls), i, i+1)
	if len(ls) == 0 {
		delete(m.letters, listener)
	} else {
		m.letters[listener] = ls
	}
	return nil
}
