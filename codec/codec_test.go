package codec

import (
	"bytes"
	"errors"
	"testing"
	"time"

	"github.com/rbaliyan/mailbus"
)

var (
	inbox   = mailbus.Mailbox{ID: "mbx-1", Path: mailbus.NewMailboxPath("alice", "INBOX")}
	archive = mailbus.NewMailboxPath("alice", "Archive")
)

func md(uid mailbus.MessageUID) mailbus.MessageMetaData {
	return mailbus.MessageMetaData{
		UID:          uid,
		ModSeq:       uint64(uid) + 100,
		Flags:        mailbus.Flags{Seen: true, Keywords: []string{"$Important"}},
		Size:         2048,
		InternalDate: time.Date(2024, 5, 6, 7, 8, 9, 123456789, time.UTC),
		MessageID:    "<m@example.com>",
	}
}

func allEvents(t *testing.T) []mailbus.Event {
	t.Helper()
	f := mailbus.NewEventFactory()
	var events []mailbus.Event
	add := func(e mailbus.Event, err error) {
		t.Helper()
		if err != nil {
			t.Fatalf("build: %v", err)
		}
		events = append(events, e)
	}

	add(f.Added().Session(7).User("alice").Mailbox(inbox).AddMetaDatas(md(2), md(1)).Delivery(true).Build())
	add(f.Expunged().Session(7).User("alice").Mailbox(inbox).AddMetaData(md(3)).Build())
	add(f.FlagsUpdated().Session(7).User("alice").Mailbox(inbox).
		AddUpdatedFlags(mailbus.UpdatedFlags{UID: 1, ModSeq: 5, OldFlags: mailbus.Flags{}, NewFlags: mailbus.Flags{Flagged: true}}).
		Build())
	add(f.MailboxAdded().Session(7).User("alice").Mailbox(inbox).Build())
	add(f.MailboxDeleted().Session(7).User("alice").Mailbox(inbox).QuotaRoot("#private&alice").DeletedMessages(4, 4096).Build())
	add(f.MailboxRenamed().Session(7).User("alice").Mailbox(inbox).NewPath(archive).Build())
	add(f.ACLUpdated().Session(7).User("alice").Mailbox(inbox).
		ACLDiff(mailbus.ACLDiff{Old: map[string]string{"bob": "l"}, New: map[string]string{"bob": "lrs", "carol": "l"}}).
		Build())
	add(f.MessageMoved().Session(7).User("alice").Mailbox(inbox).
		Moves(mailbus.MessageMoves{Added: []mailbus.MailboxID{"mbx-2"}, Removed: []mailbus.MailboxID{"mbx-1"}}).
		AddMessages(md(1), md(9)).
		Build())
	add(f.MailboxSubscribed().Session(7).User("alice").Mailbox(inbox).Build())
	add(f.MailboxUnsubscribed().Session(7).User("alice").Mailbox(inbox).Build())
	return events
}

func TestRoundTrip(t *testing.T) {
	for _, s := range []Serializer{JSON, CBOR} {
		t.Run(s.ContentType(), func(t *testing.T) {
			for _, e := range allEvents(t) {
				data, err := s.Serialize(e)
				if err != nil {
					t.Fatalf("Serialize %s: %v", e.Kind(), err)
				}
				got, err := s.Deserialize(data)
				if err != nil {
					t.Fatalf("Deserialize %s: %v", e.Kind(), err)
				}
				if got.Kind() != e.Kind() {
					t.Fatalf("expected kind %s, got %s", e.Kind(), got.Kind())
				}
				if got.EventHeader() != e.EventHeader() {
					t.Errorf("%s: header mismatch: %+v != %+v", e.Kind(), got.EventHeader(), e.EventHeader())
				}
				if got.IsNoop() != e.IsNoop() {
					t.Errorf("%s: IsNoop mismatch", e.Kind())
				}
				again, err := s.Serialize(got)
				if err != nil {
					t.Fatalf("Serialize again %s: %v", e.Kind(), err)
				}
				if !bytes.Equal(again, data) {
					t.Errorf("%s: round trip changed the payload", e.Kind())
				}
			}
		})
	}
}

func TestRoundTripVariantFields(t *testing.T) {
	events := allEvents(t)
	for _, s := range []Serializer{JSON, CBOR} {
		t.Run(s.ContentType(), func(t *testing.T) {
			data, _ := s.Serialize(events[0])
			got, err := s.Deserialize(data)
			if err != nil {
				t.Fatalf("Deserialize: %v", err)
			}
			added := got.(*mailbus.Added)
			if !added.IsDelivery {
				t.Error("expected IsDelivery to survive")
			}
			m, ok := added.Added.Get(2)
			if !ok {
				t.Fatal("expected UID 2")
			}
			if !m.InternalDate.Equal(md(2).InternalDate) {
				t.Errorf("expected nanosecond date, got %v", m.InternalDate)
			}
			if len(m.Flags.Keywords) != 1 || !m.Flags.Seen {
				t.Errorf("unexpected flags %+v", m.Flags)
			}

			data, _ = s.Serialize(events[5])
			got, _ = s.Deserialize(data)
			if got.(*mailbus.MailboxRenamed).NewPath != archive {
				t.Error("expected new path to survive")
			}

			data, _ = s.Serialize(events[7])
			got, _ = s.Deserialize(data)
			move := got.(*mailbus.MessageMoveEvent)
			if move.Messages.Len() != 2 || move.Moves.Added[0] != "mbx-2" {
				t.Errorf("unexpected move %+v", move)
			}
		})
	}
}

func TestDeserializeRejectsInvalidPayloads(t *testing.T) {
	tests := []struct {
		name string
		data string
	}{
		{"garbage", "not json"},
		{"unknown kind", `{"kind":"Bogus","eventId":"e","sessionId":1,"user":"u","path":{"namespace":"#private","name":"INBOX"},"mailboxId":"m"}`},
		{"missing user", `{"kind":"Added","eventId":"e","sessionId":1,"path":{"namespace":"#private","name":"INBOX"},"mailboxId":"m"}`},
		{"rename without new path", `{"kind":"MailboxRenamed","eventId":"e","sessionId":1,"user":"u","path":{"namespace":"#private","name":"INBOX"},"mailboxId":"m"}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := JSON.Deserialize([]byte(tt.data)); !errors.Is(err, ErrDecoding) {
				t.Errorf("expected ErrDecoding, got %v", err)
			}
		})
	}

	_, err := JSON.Deserialize([]byte(tests[2].data))
	if !errors.Is(err, mailbus.ErrMissingField) {
		t.Errorf("expected ErrMissingField, got %v", err)
	}
}

func TestCBORIsDeterministic(t *testing.T) {
	e := allEvents(t)[6]
	a, err := CBOR.Serialize(e)
	if err != nil {
		t.Fatalf("Serialize: %v", err)
	}
	for range 5 {
		b, _ := CBOR.Serialize(e)
		if !bytes.Equal(a, b) {
			t.Fatal("expected identical encodings")
		}
	}
}

func TestRegistry(t *testing.T) {
	r := DefaultRegistry()

	s, err := r.Lookup(ContentTypeCBOR)
	if err != nil || s.ContentType() != ContentTypeCBOR {
		t.Fatalf("expected CBOR serializer, got %v %v", s, err)
	}
	if _, err := r.Lookup("application/xml"); !errors.Is(err, ErrUnsupportedContentType) {
		t.Errorf("expected ErrUnsupportedContentType, got %v", err)
	}

	r = NewRegistry()
	r.Register(JSON)
	if _, err := r.Lookup(ContentTypeJSON); err != nil {
		t.Errorf("expected registered serializer, got %v", err)
	}
}

func TestSerializeNil(t *testing.T) {
	if _, err := JSON.Serialize(nil); !errors.Is(err, ErrEncoding) {
		t.Errorf("expected ErrEncoding, got %v", err)
	}
}
