package mailbus

import (
	"maps"
	"slices"

	"github.com/google/uuid"
)

// EventFactory creates builders for every event variant. The zero value is
// not usable; call NewEventFactory.
type EventFactory struct {
	newID func() EventID
}

// NewEventFactory returns a factory. Only WithIDGenerator is consulted.
func NewEventFactory(opts ...Option) *EventFactory {
	o := newOptions(opts...)
	return &EventFactory{newID: o.idGenerator}
}

func newEventID() EventID {
	return EventID(uuid.NewString())
}

// ValidateHeader checks that the mandatory header fields of an event of the
// given kind are set. A zero session id counts as unset.
func ValidateHeader(kind Kind, h Header) error {
	switch {
	case h.SessionID == 0:
		return &MissingFieldError{Kind: kind, Field: "sessionId"}
	case h.User == "":
		return &MissingFieldError{Kind: kind, Field: "user"}
	case h.Path.IsZero():
		return &MissingFieldError{Kind: kind, Field: "path"}
	case h.MailboxID == "":
		return &MissingFieldError{Kind: kind, Field: "mailboxId"}
	}
	return nil
}

// base holds the header setters shared by all builders. B is the concrete
// builder type so that chained calls keep their static type.
type base[B any] struct {
	self    B
	factory *EventFactory
	header  Header
}

// Session sets the session id.
func (b *base[B]) Session(id SessionID) B {
	b.header.SessionID = id
	return b.self
}

// User sets the owner of the session.
func (b *base[B]) User(user string) B {
	b.header.User = user
	return b.self
}

// Path sets the mailbox path.
func (b *base[B]) Path(p MailboxPath) B {
	b.header.Path = p
	return b.self
}

// MailboxID sets the mailbox id.
func (b *base[B]) MailboxID(id MailboxID) B {
	b.header.MailboxID = id
	return b.self
}

// EventID overrides the generated event id.
func (b *base[B]) EventID(id EventID) B {
	b.header.EventID = id
	return b.self
}

// Header replaces all header fields at once.
func (b *base[B]) Header(h Header) B {
	b.header = h
	return b.self
}

// Mailbox sets both the path and the id of the mailbox.
func (b *base[B]) Mailbox(m Mailbox) B {
	b.header.Path = m.Path
	b.header.MailboxID = m.ID
	return b.self
}

func (b *base[B]) build(kind Kind) (Header, error) {
	if err := ValidateHeader(kind, b.header); err != nil {
		return Header{}, err
	}
	h := b.header
	if h.EventID == "" {
		h.EventID = b.factory.newID()
	}
	return h, nil
}

// metaData accumulates message metadata keyed by UID.
type metaData struct {
	entries map[MessageUID]MessageMetaData
}

func (m *metaData) add(mds ...MessageMetaData) {
	if m.entries == nil {
		m.entries = make(map[MessageUID]MessageMetaData, len(mds))
	}
	for _, md := range mds {
		m.entries[md.UID] = md
	}
}

func (m *metaData) uidMap() UIDMap[MessageMetaData] {
	return NewUIDMap(m.entries)
}

// AddedBuilder builds Added events.
type AddedBuilder struct {
	base[*AddedBuilder]
	metas      metaData
	isDelivery bool
	isAppended bool
}

// Added starts an Added event.
func (f *EventFactory) Added() *AddedBuilder {
	b := &AddedBuilder{}
	b.self, b.factory = b, f
	return b
}

// AddMetaData adds one message.
func (b *AddedBuilder) AddMetaData(md MessageMetaData) *AddedBuilder {
	b.metas.add(md)
	return b
}

// AddMetaDatas adds several messages.
func (b *AddedBuilder) AddMetaDatas(mds ...MessageMetaData) *AddedBuilder {
	b.metas.add(mds...)
	return b
}

// Delivery marks the messages as delivered by the MTA.
func (b *AddedBuilder) Delivery(v bool) *AddedBuilder {
	b.isDelivery = v
	return b
}

// Appended marks the messages as appended by a client.
func (b *AddedBuilder) Appended(v bool) *AddedBuilder {
	b.isAppended = v
	return b
}

// Build validates the builder and returns the event.
func (b *AddedBuilder) Build() (*Added, error) {
	h, err := b.build(KindAdded)
	if err != nil {
		return nil, err
	}
	return &Added{
		Header:     h,
		Added:      b.metas.uidMap(),
		IsDelivery: b.isDelivery,
		IsAppended: b.isAppended,
	}, nil
}

// ExpungedBuilder builds Expunged events.
type ExpungedBuilder struct {
	base[*ExpungedBuilder]
	metas metaData
}

// Expunged starts an Expunged event.
func (f *EventFactory) Expunged() *ExpungedBuilder {
	b := &ExpungedBuilder{}
	b.self, b.factory = b, f
	return b
}

// AddMetaData adds one expunged message.
func (b *ExpungedBuilder) AddMetaData(md MessageMetaData) *ExpungedBuilder {
	b.metas.add(md)
	return b
}

// AddMetaDatas adds several expunged messages.
func (b *ExpungedBuilder) AddMetaDatas(mds ...MessageMetaData) *ExpungedBuilder {
	b.metas.add(mds...)
	return b
}

// Build validates the builder and returns the event.
func (b *ExpungedBuilder) Build() (*Expunged, error) {
	h, err := b.build(KindExpunged)
	if err != nil {
		return nil, err
	}
	return &Expunged{Header: h, Expunged: b.metas.uidMap()}, nil
}

// FlagsUpdatedBuilder builds FlagsUpdated events.
type FlagsUpdatedBuilder struct {
	base[*FlagsUpdatedBuilder]
	updates []UpdatedFlags
}

// FlagsUpdated starts a FlagsUpdated event.
func (f *EventFactory) FlagsUpdated() *FlagsUpdatedBuilder {
	b := &FlagsUpdatedBuilder{}
	b.self, b.factory = b, f
	return b
}

// AddUpdatedFlags appends flag updates in order.
func (b *FlagsUpdatedBuilder) AddUpdatedFlags(u ...UpdatedFlags) *FlagsUpdatedBuilder {
	b.updates = append(b.updates, u...)
	return b
}

// Build validates the builder and returns the event.
func (b *FlagsUpdatedBuilder) Build() (*FlagsUpdated, error) {
	h, err := b.build(KindFlagsUpdated)
	if err != nil {
		return nil, err
	}
	return &FlagsUpdated{Header: h, UpdatedFlags: slices.Clone(b.updates)}, nil
}

// MailboxAddedBuilder builds MailboxAdded events.
type MailboxAddedBuilder struct {
	base[*MailboxAddedBuilder]
}

// MailboxAdded starts a MailboxAdded event.
func (f *EventFactory) MailboxAdded() *MailboxAddedBuilder {
	b := &MailboxAddedBuilder{}
	b.self, b.factory = b, f
	return b
}

// Build validates the builder and returns the event.
func (b *MailboxAddedBuilder) Build() (*MailboxAdded, error) {
	h, err := b.build(KindMailboxAdded)
	if err != nil {
		return nil, err
	}
	return &MailboxAdded{Header: h}, nil
}

// MailboxDeletionBuilder builds MailboxDeletion events.
type MailboxDeletionBuilder struct {
	base[*MailboxDeletionBuilder]
	quotaRoot    QuotaRoot
	deletedCount int64
	deletedSize  int64
}

// MailboxDeleted starts a MailboxDeletion event.
func (f *EventFactory) MailboxDeleted() *MailboxDeletionBuilder {
	b := &MailboxDeletionBuilder{}
	b.self, b.factory = b, f
	return b
}

// QuotaRoot sets the quota root the mailbox belonged to.
func (b *MailboxDeletionBuilder) QuotaRoot(root QuotaRoot) *MailboxDeletionBuilder {
	b.quotaRoot = root
	return b
}

// DeletedMessages sets how many messages were removed and their total size.
func (b *MailboxDeletionBuilder) DeletedMessages(count, size int64) *MailboxDeletionBuilder {
	b.deletedCount, b.deletedSize = count, size
	return b
}

// Build validates the builder and returns the event.
func (b *MailboxDeletionBuilder) Build() (*MailboxDeletion, error) {
	h, err := b.build(KindMailboxDeletion)
	if err != nil {
		return nil, err
	}
	return &MailboxDeletion{
		Header:              h,
		QuotaRoot:           b.quotaRoot,
		DeletedMessageCount: b.deletedCount,
		TotalDeletedSize:    b.deletedSize,
	}, nil
}

// MailboxRenamedBuilder builds MailboxRenamed events.
type MailboxRenamedBuilder struct {
	base[*MailboxRenamedBuilder]
	newPath MailboxPath
}

// MailboxRenamed starts a MailboxRenamed event.
func (f *EventFactory) MailboxRenamed() *MailboxRenamedBuilder {
	b := &MailboxRenamedBuilder{}
	b.self, b.factory = b, f
	return b
}

// NewPath sets the destination path.
func (b *MailboxRenamedBuilder) NewPath(p MailboxPath) *MailboxRenamedBuilder {
	b.newPath = p
	return b
}

// Build validates the builder and returns the event.
func (b *MailboxRenamedBuilder) Build() (*MailboxRenamed, error) {
	h, err := b.build(KindMailboxRenamed)
	if err != nil {
		return nil, err
	}
	if b.newPath.IsZero() {
		return nil, &MissingFieldError{Kind: KindMailboxRenamed, Field: "newPath"}
	}
	return &MailboxRenamed{Header: h, NewPath: b.newPath}, nil
}

// ACLUpdatedBuilder builds MailboxACLUpdated events.
type ACLUpdatedBuilder struct {
	base[*ACLUpdatedBuilder]
	diff *ACLDiff
}

// ACLUpdated starts a MailboxACLUpdated event.
func (f *EventFactory) ACLUpdated() *ACLUpdatedBuilder {
	b := &ACLUpdatedBuilder{}
	b.self, b.factory = b, f
	return b
}

// ACLDiff sets the rights before and after the update.
func (b *ACLUpdatedBuilder) ACLDiff(d ACLDiff) *ACLUpdatedBuilder {
	b.diff = &ACLDiff{Old: maps.Clone(d.Old), New: maps.Clone(d.New)}
	return b
}

// Build validates the builder and returns the event.
func (b *ACLUpdatedBuilder) Build() (*MailboxACLUpdated, error) {
	h, err := b.build(KindMailboxACLUpdated)
	if err != nil {
		return nil, err
	}
	if b.diff == nil {
		return nil, &MissingFieldError{Kind: KindMailboxACLUpdated, Field: "aclDiff"}
	}
	return &MailboxACLUpdated{Header: h, ACLDiff: *b.diff}, nil
}

// MessageMoveBuilder builds MessageMoveEvent events.
type MessageMoveBuilder struct {
	base[*MessageMoveBuilder]
	moves    *MessageMoves
	messages metaData
}

// MessageMoved starts a MessageMoveEvent.
func (f *EventFactory) MessageMoved() *MessageMoveBuilder {
	b := &MessageMoveBuilder{}
	b.self, b.factory = b, f
	return b
}

// Moves sets the source and destination mailboxes.
func (b *MessageMoveBuilder) Moves(m MessageMoves) *MessageMoveBuilder {
	b.moves = &MessageMoves{Added: slices.Clone(m.Added), Removed: slices.Clone(m.Removed)}
	return b
}

// AddMessage adds one moved message.
func (b *MessageMoveBuilder) AddMessage(md MessageMetaData) *MessageMoveBuilder {
	b.messages.add(md)
	return b
}

// AddMessages adds several moved messages.
func (b *MessageMoveBuilder) AddMessages(mds ...MessageMetaData) *MessageMoveBuilder {
	b.messages.add(mds...)
	return b
}

// Build validates the builder and returns the event.
func (b *MessageMoveBuilder) Build() (*MessageMoveEvent, error) {
	h, err := b.build(KindMessageMove)
	if err != nil {
		return nil, err
	}
	if b.moves == nil {
		return nil, &MissingFieldError{Kind: KindMessageMove, Field: "moves"}
	}
	return &MessageMoveEvent{Header: h, Moves: *b.moves, Messages: b.messages.uidMap()}, nil
}

// MailboxSubscribedBuilder builds MailboxSubscribed events.
type MailboxSubscribedBuilder struct {
	base[*MailboxSubscribedBuilder]
}

// MailboxSubscribed starts a MailboxSubscribed event.
func (f *EventFactory) MailboxSubscribed() *MailboxSubscribedBuilder {
	b := &MailboxSubscribedBuilder{}
	b.self, b.factory = b, f
	return b
}

// Build validates the builder and returns the event.
func (b *MailboxSubscribedBuilder) Build() (*MailboxSubscribed, error) {
	h, err := b.build(KindMailboxSubscribed)
	if err != nil {
		return nil, err
	}
	return &MailboxSubscribed{Header: h}, nil
}

// MailboxUnsubscribedBuilder builds MailboxUnsubscribed events.
type MailboxUnsubscribedBuilder struct {
	base[*MailboxUnsubscribedBuilder]
}

// MailboxUnsubscribed starts a MailboxUnsubscribed event.
func (f *EventFactory) MailboxUnsubscribed() *MailboxUnsubscribedBuilder {
	b := &MailboxUnsubscribedBuilder{}
	b.self, b.factory = b, f
	return b
}

// Build validates the builder and returns the event.
func (b *MailboxUnsubscribedBuilder) Build() (*MailboxUnsubscribed, error) {
	h, err := b.build(KindMailboxUnsubscribed)
	if err != nil {
		return nil, err
	}
	return &MailboxUnsubscribed{Header: h}, nil
}
