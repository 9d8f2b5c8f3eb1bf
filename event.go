package mailbus

import (
	"fmt"
	"slices"
	"time"
)

// Kind identifies the variant of an Event.
type Kind uint8

// Event kinds.
const (
	KindAdded Kind = iota + 1
	KindExpunged
	KindFlagsUpdated
	KindMailboxAdded
	KindMailboxDeletion
	KindMailboxRenamed
	KindMailboxACLUpdated
	KindMessageMove
	KindMailboxSubscribed
	KindMailboxUnsubscribed
)

var kindNames = map[Kind]string{
	KindAdded:               "Added",
	KindExpunged:            "Expunged",
	KindFlagsUpdated:        "FlagsUpdated",
	KindMailboxAdded:        "MailboxAdded",
	KindMailboxDeletion:     "MailboxDeletion",
	KindMailboxRenamed:      "MailboxRenamed",
	KindMailboxACLUpdated:   "MailboxACLUpdated",
	KindMessageMove:         "MessageMoveEvent",
	KindMailboxSubscribed:   "MailboxSubscribed",
	KindMailboxUnsubscribed: "MailboxUnsubscribed",
}

func (k Kind) String() string {
	if s, ok := kindNames[k]; ok {
		return s
	}
	return fmt.Sprintf("Kind(%d)", uint8(k))
}

// ParseKind returns the Kind named s, as produced by Kind.String.
func ParseKind(s string) (Kind, error) {
	for k, name := range kindNames {
		if name == s {
			return k, nil
		}
	}
	return 0, fmt.Errorf("mailbus: unknown event kind %q", s)
}

// Identifiers carried by events.
type (
	MessageUID uint32
	MailboxID  string
	SessionID  int64
	EventID    string
	QuotaRoot  string
)

// Flags holds the system flags and keywords of a message.
type Flags struct {
	Seen     bool     `json:"seen,omitempty"`
	Answered bool     `json:"answered,omitempty"`
	Flagged  bool     `json:"flagged,omitempty"`
	Deleted  bool     `json:"deleted,omitempty"`
	Draft    bool     `json:"draft,omitempty"`
	Recent   bool     `json:"recent,omitempty"`
	Keywords []string `json:"keywords,omitempty"`
}

// MessageMetaData describes one message of a mailbox.
type MessageMetaData struct {
	UID          MessageUID `json:"uid"`
	ModSeq       uint64     `json:"modSeq"`
	Flags        Flags      `json:"flags"`
	Size         int64      `json:"size"`
	InternalDate time.Time  `json:"internalDate"`
	MessageID    string     `json:"messageId"`
}

// UpdatedFlags records a flag change on one message.
type UpdatedFlags struct {
	UID       MessageUID `json:"uid"`
	MessageID string     `json:"messageId,omitempty"`
	ModSeq    uint64     `json:"modSeq"`
	OldFlags  Flags      `json:"oldFlags"`
	NewFlags  Flags      `json:"newFlags"`
}

// ACLDiff holds the access control entries before and after an update.
// Keys are ACL entry keys, values are rights strings.
type ACLDiff struct {
	Old map[string]string `json:"old,omitempty"`
	New map[string]string `json:"new,omitempty"`
}

// MessageMoves describes the mailboxes a set of messages was added to and
// removed from.
type MessageMoves struct {
	Added   []MailboxID `json:"added,omitempty"`
	Removed []MailboxID `json:"removed,omitempty"`
}

// UIDMap is a read-only mapping keyed by message UID that iterates in
// ascending UID order.
type UIDMap[T any] struct {
	uids   []MessageUID
	values map[MessageUID]T
}

// NewUIDMap copies entries into a UIDMap.
func NewUIDMap[T any](entries map[MessageUID]T) UIDMap[T] {
	m := UIDMap[T]{
		uids:   make([]MessageUID, 0, len(entries)),
		values: make(map[MessageUID]T, len(entries)),
	}
	for uid, v := range entries {
		m.uids = append(m.uids, uid)
		m.values[uid] = v
	}
	slices.Sort(m.uids)
	return m
}

// MetaDataMap builds a UIDMap from metadata keyed by their UID. Later
// entries win over earlier ones with the same UID.
func MetaDataMap(metas ...MessageMetaData) UIDMap[MessageMetaData] {
	entries := make(map[MessageUID]MessageMetaData, len(metas))
	for _, md := range metas {
		entries[md.UID] = md
	}
	return NewUIDMap(entries)
}

// Len returns the number of entries.
func (m UIDMap[T]) Len() int { return len(m.uids) }

// UIDs returns the keys in ascending order.
func (m UIDMap[T]) UIDs() []MessageUID { return slices.Clone(m.uids) }

// Get returns the value stored for uid.
func (m UIDMap[T]) Get(uid MessageUID) (T, bool) {
	v, ok := m.values[uid]
	return v, ok
}

// Values returns the values in ascending UID order.
func (m UIDMap[T]) Values() []T {
	out := make([]T, 0, len(m.uids))
	for _, uid := range m.uids {
		out = append(out, m.values[uid])
	}
	return out
}

// Header holds the fields common to every event.
type Header struct {
	EventID   EventID
	SessionID SessionID
	User      string
	Path      MailboxPath
	MailboxID MailboxID
}

// EventHeader returns the header itself, so that every variant embedding a
// Header exposes it through the Event interface.
func (h Header) EventHeader() Header { return h }

// Event is a mailbox state change. The set of variants is closed: Added,
// Expunged, FlagsUpdated, MailboxAdded, MailboxDeletion, MailboxRenamed,
// MailboxACLUpdated, MessageMoveEvent, MailboxSubscribed and
// MailboxUnsubscribed. Events are shared between listeners and must not be
// modified once built.
type Event interface {
	Kind() Kind
	EventHeader() Header
	// IsNoop reports whether the event carries no actual change.
	IsNoop() bool

	isEvent()
}

// Added is emitted when messages are appended or delivered to a mailbox.
type Added struct {
	Header
	Added      UIDMap[MessageMetaData]
	IsDelivery bool
	IsAppended bool
}

// Expunged is emitted when messages are removed from a mailbox.
type Expunged struct {
	Header
	Expunged UIDMap[MessageMetaData]
}

// FlagsUpdated is emitted when message flags change.
type FlagsUpdated struct {
	Header
	UpdatedFlags []UpdatedFlags
}

// MailboxAdded is emitted when a mailbox is created.
type MailboxAdded struct {
	Header
}

// MailboxDeletion is emitted when a mailbox is deleted.
type MailboxDeletion struct {
	Header
	QuotaRoot           QuotaRoot
	DeletedMessageCount int64
	TotalDeletedSize    int64
}

// MailboxRenamed is emitted when a mailbox moves from Path to NewPath.
type MailboxRenamed struct {
	Header
	NewPath MailboxPath
}

// MailboxACLUpdated is emitted when the rights on a mailbox change.
type MailboxACLUpdated struct {
	Header
	ACLDiff ACLDiff
}

// MessageMoveEvent is emitted when messages move between mailboxes. The
// header path is the mailbox the move was performed from.
type MessageMoveEvent struct {
	Header
	Moves    MessageMoves
	Messages UIDMap[MessageMetaData]
}

// MailboxSubscribed is emitted when a user subscribes to a mailbox.
type MailboxSubscribed struct {
	Header
}

// MailboxUnsubscribed is emitted when a user unsubscribes from a mailbox.
type MailboxUnsubscribed struct {
	Header
}

func (*Added) Kind() Kind               { return KindAdded }
func (*Expunged) Kind() Kind            { return KindExpunged }
func (*FlagsUpdated) Kind() Kind        { return KindFlagsUpdated }
func (*MailboxAdded) Kind() Kind        { return KindMailboxAdded }
func (*MailboxDeletion) Kind() Kind     { return KindMailboxDeletion }
func (*MailboxRenamed) Kind() Kind      { return KindMailboxRenamed }
func (*MailboxACLUpdated) Kind() Kind   { return KindMailboxACLUpdated }
func (*MessageMoveEvent) Kind() Kind    { return KindMessageMove }
func (*MailboxSubscribed) Kind() Kind   { return KindMailboxSubscribed }
func (*MailboxUnsubscribed) Kind() Kind { return KindMailboxUnsubscribed }

func (e *Added) IsNoop() bool             { return e.Added.Len() == 0 }
func (e *Expunged) IsNoop() bool          { return e.Expunged.Len() == 0 }
func (e *FlagsUpdated) IsNoop() bool      { return len(e.UpdatedFlags) == 0 }
func (*MailboxAdded) IsNoop() bool        { return false }
func (*MailboxDeletion) IsNoop() bool     { return false }
func (*MailboxRenamed) IsNoop() bool      { return false }
func (*MailboxACLUpdated) IsNoop() bool   { return false }
func (e *MessageMoveEvent) IsNoop() bool  { return e.Messages.Len() == 0 }
func (*MailboxSubscribed) IsNoop() bool   { return false }
func (*MailboxUnsubscribed) IsNoop() bool { return false }

func (*Added) isEvent()               {}
func (*Expunged) isEvent()            {}
func (*FlagsUpdated) isEvent()        {}
func (*MailboxAdded) isEvent()        {}
func (*MailboxDeletion) isEvent()     {}
func (*MailboxRenamed) isEvent()      {}
func (*MailboxACLUpdated) isEvent()   {}
func (*MessageMoveEvent) isEvent()    {}
func (*MailboxSubscribed) isEvent()   {}
func (*MailboxUnsubscribed) isEvent() {}

// UIDs returns the UIDs of the messages touched by a FlagsUpdated event.
func (e *FlagsUpdated) UIDs() []MessageUID {
	uids := make([]MessageUID, 0, len(e.UpdatedFlags))
	for _, u := range e.UpdatedFlags {
		uids = append(uids, u.UID)
	}
	return uids
}
