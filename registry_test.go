package mailbus

import (
	"errors"
	"fmt"
	"sync"
	"testing"
)

func TestListenerRegistryAddListener(t *testing.T) {
	t.Run("accepts mailbox listeners", func(t *testing.T) {
		r := NewListenerRegistry()
		l := newRecorder("l1", TypeMailbox)

		added, err := r.AddListener(testInbox.Path, l)
		if err != nil {
			t.Fatalf("AddListener: %v", err)
		}
		if !added {
			t.Error("expected listener to be added")
		}
		if got := r.LocalListeners(testInbox.Path); len(got) != 1 || got[0] != l {
			t.Errorf("expected [l1], got %v", got)
		}
	})

	t.Run("ignores duplicates", func(t *testing.T) {
		r := NewListenerRegistry()
		l := newRecorder("l1", TypeMailbox)
		_, _ = r.AddListener(testInbox.Path, l)

		added, err := r.AddListener(testInbox.Path, l)
		if err != nil {
			t.Fatalf("AddListener: %v", err)
		}
		if added {
			t.Error("expected duplicate not to be added")
		}
		if got := len(r.LocalListeners(testInbox.Path)); got != 1 {
			t.Errorf("expected 1 listener, got %d", got)
		}
	})

	t.Run("same listener on several paths", func(t *testing.T) {
		r := NewListenerRegistry()
		l := newRecorder("l1", TypeMailbox)
		_, _ = r.AddListener(testInbox.Path, l)
		_, _ = r.AddListener(testArchive.Path, l)

		if len(r.LocalListeners(testInbox.Path)) != 1 || len(r.LocalListeners(testArchive.Path)) != 1 {
			t.Error("expected listener under both paths")
		}
	})

	for _, typ := range []ListenerType{TypeEachNode, TypeOnce} {
		t.Run("rejects "+typ.String(), func(t *testing.T) {
			r := NewListenerRegistry()
			_, err := r.AddListener(testInbox.Path, newRecorder("g", typ))
			if !errors.Is(err, ErrInvalidListenerType) {
				t.Fatalf("expected ErrInvalidListenerType, got %v", err)
			}
			var cfgErr *ConfigurationError
			if !errors.As(err, &cfgErr) || cfgErr.Type != typ {
				t.Errorf("expected ConfigurationError for %s, got %v", typ, err)
			}
			if len(r.LocalListeners(testInbox.Path)) != 0 {
				t.Error("expected registration not to occur")
			}
		})
	}

	t.Run("rejects nil", func(t *testing.T) {
		r := NewListenerRegistry()
		if _, err := r.AddListener(testInbox.Path, nil); !errors.Is(err, ErrNilListener) {
			t.Errorf("expected ErrNilListener, got %v", err)
		}
	})
}

func TestListenerRegistryGlobal(t *testing.T) {
	r := NewListenerRegistry()
	each := newRecorder("each", TypeEachNode)
	once := newRecorder("once", TypeOnce)

	for _, l := range []Listener{each, once} {
		if _, err := r.AddGlobalListener(l); err != nil {
			t.Fatalf("AddGlobalListener(%s): %v", ListenerName(l), err)
		}
	}
	if _, err := r.AddGlobalListener(newRecorder("mbx", TypeMailbox)); !errors.Is(err, ErrInvalidListenerType) {
		t.Errorf("expected MAILBOX listener to be rejected, got %v", err)
	}

	got := r.GlobalListeners()
	if len(got) != 2 || got[0] != each || got[1] != once {
		t.Fatalf("expected [each once], got %v", got)
	}

	if !r.RemoveGlobalListener(each) {
		t.Error("expected removal to succeed")
	}
	if r.RemoveGlobalListener(each) {
		t.Error("expected second removal to be a no-op")
	}
	if got := r.GlobalListeners(); len(got) != 1 || got[0] != once {
		t.Errorf("expected [once], got %v", got)
	}
	if len(got) != 2 {
		t.Errorf("snapshot changed after removal: %v", got)
	}
}

func TestListenerRegistryRemoveListener(t *testing.T) {
	r := NewListenerRegistry()
	l1 := newRecorder("l1", TypeMailbox)
	l2 := newRecorder("l2", TypeMailbox)
	_, _ = r.AddListener(testInbox.Path, l1)
	_, _ = r.AddListener(testInbox.Path, l2)

	snapshot := r.LocalListeners(testInbox.Path)

	if !r.RemoveListener(testInbox.Path, l1) {
		t.Error("expected l1 to be removed")
	}
	if r.RemoveListener(testInbox.Path, l1) {
		t.Error("expected removing l1 twice to be a no-op")
	}
	if r.RemoveListener(testArchive.Path, l2) {
		t.Error("expected removal from an unknown path to be a no-op")
	}

	if len(snapshot) != 2 {
		t.Errorf("snapshot changed after removal: %v", snapshot)
	}
	if got := r.LocalListeners(testInbox.Path); len(got) != 1 || got[0] != l2 {
		t.Errorf("expected [l2], got %v", got)
	}

	r.RemoveListener(testInbox.Path, l2)
	if paths := r.Paths(); len(paths) != 0 {
		t.Errorf("expected no paths left, got %v", paths)
	}
}

func TestListenerRegistryDeleteRegistryFor(t *testing.T) {
	r := NewListenerRegistry()
	l := newRecorder("l1", TypeMailbox)
	_, _ = r.AddListener(testInbox.Path, l)
	_, _ = r.AddListener(testArchive.Path, l)

	removed := r.DeleteRegistryFor(testInbox.Path)
	if len(removed) != 1 {
		t.Errorf("expected 1 removed listener, got %d", len(removed))
	}
	if len(r.LocalListeners(testInbox.Path)) != 0 {
		t.Error("expected inbox listeners to be dropped")
	}
	if len(r.LocalListeners(testArchive.Path)) != 1 {
		t.Error("expected archive listeners to be kept")
	}
}

func TestListenerRegistryHandleRename(t *testing.T) {
	oldPath := NewMailboxPath("alice", "Old")
	newPath := NewMailboxPath("alice", "New")

	t.Run("moves listeners", func(t *testing.T) {
		r := NewListenerRegistry()
		l1 := newRecorder("l1", TypeMailbox)
		l2 := newRecorder("l2", TypeMailbox)
		_, _ = r.AddListener(oldPath, l1)
		_, _ = r.AddListener(oldPath, l2)

		if dropped := r.HandleRename(oldPath, newPath); dropped != 0 {
			t.Errorf("expected no duplicates, got %d", dropped)
		}

		if got := r.LocalListeners(newPath); len(got) != 2 || got[0] != l1 || got[1] != l2 {
			t.Errorf("expected [l1 l2] under new path, got %v", got)
		}
		if got := r.LocalListeners(oldPath); len(got) != 0 {
			t.Errorf("expected old path to be empty, got %v", got)
		}
	})

	t.Run("merges with existing listeners", func(t *testing.T) {
		r := NewListenerRegistry()
		shared := newRecorder("shared", TypeMailbox)
		existing := newRecorder("existing", TypeMailbox)
		_, _ = r.AddListener(oldPath, shared)
		_, _ = r.AddListener(newPath, existing)
		_, _ = r.AddListener(newPath, shared)

		if got := r.Shared(oldPath, newPath); got != 1 {
			t.Errorf("expected 1 shared listener, got %d", got)
		}
		if dropped := r.HandleRename(oldPath, newPath); dropped != 1 {
			t.Errorf("expected 1 duplicate, got %d", dropped)
		}
		if got := r.Shared(oldPath, newPath); got != 0 {
			t.Errorf("expected no shared listener after the rename, got %d", got)
		}

		got := r.LocalListeners(newPath)
		if len(got) != 2 || got[0] != existing || got[1] != shared {
			t.Errorf("expected [existing shared], got %v", got)
		}
	})

	t.Run("unknown path is a no-op", func(t *testing.T) {
		r := NewListenerRegistry()
		l := newRecorder("l", TypeMailbox)
		_, _ = r.AddListener(newPath, l)

		r.HandleRename(oldPath, newPath)

		if got := r.LocalListeners(newPath); len(got) != 1 {
			t.Errorf("expected new path untouched, got %v", got)
		}
	})
}

func TestListenerRegistryConcurrent(t *testing.T) {
	r := NewListenerRegistry()
	const workers = 16

	listeners := make([]*recorder, workers)
	for i := range listeners {
		listeners[i] = newRecorder(fmt.Sprintf("l%d", i), TypeMailbox)
	}

	var wg sync.WaitGroup
	for _, l := range listeners {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for range 100 {
				_, _ = r.AddListener(testInbox.Path, l)
				_ = r.LocalListeners(testInbox.Path)
				r.RemoveListener(testInbox.Path, l)
			}
			_, _ = r.AddListener(testInbox.Path, l)
		}()
	}
	wg.Wait()

	if got := len(r.LocalListeners(testInbox.Path)); got != workers {
		t.Errorf("expected %d listeners, got %d", workers, got)
	}
}
