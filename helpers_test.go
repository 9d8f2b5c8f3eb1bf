package mailbus

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

var (
	testSession = Session{ID: 42, User: "alice"}
	testInbox   = Mailbox{ID: "mbx-inbox", Path: NewMailboxPath("alice", "INBOX")}
	testArchive = Mailbox{ID: "mbx-archive", Path: NewMailboxPath("alice", "Archive")}
)

// recorder is a listener that remembers the events it received.
type recorder struct {
	name string
	typ  ListenerType
	mode ExecutionMode
	err  error

	mu     sync.Mutex
	events []Event
	calls  atomic.Int64
}

func newRecorder(name string, typ ListenerType) *recorder {
	return &recorder{name: name, typ: typ}
}

func (r *recorder) Event(_ context.Context, e Event) error {
	r.calls.Add(1)
	r.mu.Lock()
	r.events = append(r.events, e)
	r.mu.Unlock()
	return r.err
}

func (r *recorder) Type() ListenerType           { return r.typ }
func (r *recorder) ExecutionMode() ExecutionMode { return r.mode }
func (r *recorder) Name() string                 { return r.name }

func (r *recorder) received() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Event(nil), r.events...)
}

// panicker is a listener that panics on every event.
type panicker struct{}

func (panicker) Event(context.Context, Event) error { panic("boom") }
func (panicker) Type() ListenerType                 { return TypeMailbox }
func (panicker) ExecutionMode() ExecutionMode       { return Synchronous }

var errListener = errors.New("listener failure")

func mustAdded(t *testing.T, m Mailbox, mds ...MessageMetaData) *Added {
	t.Helper()
	e, err := NewEventFactory().Added().
		Session(testSession.ID).
		User(testSession.User).
		Mailbox(m).
		AddMetaDatas(mds...).
		Build()
	if err != nil {
		t.Fatalf("build Added: %v", err)
	}
	return e
}

func testMetaData(uid MessageUID) MessageMetaData {
	return MessageMetaData{
		UID:          uid,
		ModSeq:       uint64(uid) * 10,
		Size:         int64(uid) * 100,
		InternalDate: time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC),
		MessageID:    "msg-" + string(rune('a'+uid)),
	}
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatal("condition not met before deadline")
		}
		time.Sleep(5 * time.Millisecond)
	}
}
